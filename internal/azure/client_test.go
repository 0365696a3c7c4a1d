package azure

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// setupMockAzure создаёт mock token endpoint. handler == nil — выдаёт токен на 300 секунд.
func setupMockAzure(t *testing.T, handler http.HandlerFunc) (*Client, *atomic.Int32) {
	t.Helper()

	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if handler != nil {
			handler(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(TokenResponse{
			AccessToken: "obo-" + r.FormValue("scope"),
			TokenType:   "Bearer",
			ExpiresIn:   300,
		})
	}))
	t.Cleanup(server.Close)

	client := New(Options{
		TokenEndpoint: server.URL,
		ClientID:      "archiver-module",
		ClientSecret:  "test-secret",
		CacheSize:     10,
	}, server.Client(), testLogger())

	return client, &requests
}

func TestOnBehalfOf_RequestForm(t *testing.T) {
	client, _ := setupMockAzure(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
			return
		}
		want := map[string]string{
			"grant_type":          grantTypeJWTBearer,
			"client_id":           "archiver-module",
			"client_secret":       "test-secret",
			"assertion":           "incoming-token",
			"scope":               "api://dokarkiv/.default",
			"requested_token_use": "on_behalf_of",
		}
		for k, v := range want {
			if got := r.PostForm.Get(k); got != v {
				t.Errorf("%s = %q, ожидалось %q", k, got, v)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(TokenResponse{AccessToken: "downstream", ExpiresIn: 300})
	})

	token, err := client.OnBehalfOf(context.Background(), "incoming-token", "api://dokarkiv/.default")
	if err != nil {
		t.Fatalf("OnBehalfOf() ошибка: %v", err)
	}
	if token != "downstream" {
		t.Errorf("token = %q, ожидался downstream", token)
	}
}

func TestOnBehalfOf_Caching(t *testing.T) {
	client, requests := setupMockAzure(t, nil)
	ctx := context.Background()

	for range 3 {
		if _, err := client.OnBehalfOf(ctx, "incoming", "scope-a"); err != nil {
			t.Fatalf("OnBehalfOf() ошибка: %v", err)
		}
	}
	if n := requests.Load(); n != 1 {
		t.Errorf("ожидался 1 запрос токена, было %d", n)
	}

	// Другой scope и другой входящий токен — отдельные записи кэша
	if _, err := client.OnBehalfOf(ctx, "incoming", "scope-b"); err != nil {
		t.Fatal(err)
	}
	if _, err := client.OnBehalfOf(ctx, "другой-токен", "scope-a"); err != nil {
		t.Fatal(err)
	}
	if n := requests.Load(); n != 3 {
		t.Errorf("ожидалось 3 запроса токена, было %d", n)
	}
}

func TestOnBehalfOf_RefreshBeforeExpiry(t *testing.T) {
	client, requests := setupMockAzure(t, nil)
	ctx := context.Background()

	now := time.Now()
	client.now = func() time.Time { return now }

	if _, err := client.OnBehalfOf(ctx, "incoming", "scope"); err != nil {
		t.Fatal(err)
	}

	// За 20 секунд до истечения (меньше refreshMargin) — новый запрос
	now = now.Add(280 * time.Second)
	if _, err := client.OnBehalfOf(ctx, "incoming", "scope"); err != nil {
		t.Fatal(err)
	}
	if n := requests.Load(); n != 2 {
		t.Errorf("ожидалось 2 запроса токена, было %d", n)
	}
}

func TestOnBehalfOf_ConcurrentSingleRequest(t *testing.T) {
	client, requests := setupMockAzure(t, func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(TokenResponse{AccessToken: "shared", ExpiresIn: 300})
	})

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := client.OnBehalfOf(context.Background(), "incoming", "scope")
			if err != nil || token != "shared" {
				t.Errorf("OnBehalfOf() = %q, %v", token, err)
			}
		}()
	}
	wg.Wait()

	if n := requests.Load(); n != 1 {
		t.Errorf("параллельные обмены должны объединяться: запросов %d", n)
	}
}

func TestOnBehalfOf_Errors(t *testing.T) {
	t.Run("пустой входящий токен", func(t *testing.T) {
		client, requests := setupMockAzure(t, nil)
		_, err := client.OnBehalfOf(context.Background(), "", "scope")
		if !errors.Is(err, ErrEmptyAssertion) {
			t.Errorf("ожидалась ErrEmptyAssertion, получено %v", err)
		}
		if requests.Load() != 0 {
			t.Error("запрос к token endpoint не должен выполняться")
		}
	})

	t.Run("invalid_grant", func(t *testing.T) {
		client, _ := setupMockAzure(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(TokenResponse{Error: "invalid_grant", ErrorDescription: "AADSTS50013"})
		})
		_, err := client.OnBehalfOf(context.Background(), "expired", "scope")
		if !errors.Is(err, ErrTokenRejected) {
			t.Errorf("ожидалась ErrTokenRejected, получено %v", err)
		}
	})

	t.Run("ошибка не кэшируется", func(t *testing.T) {
		var fail atomic.Bool
		fail.Store(true)
		client, requests := setupMockAzure(t, func(w http.ResponseWriter, _ *http.Request) {
			if fail.Load() {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_ = json.NewEncoder(w).Encode(TokenResponse{AccessToken: "ok", ExpiresIn: 300})
		})
		if _, err := client.OnBehalfOf(context.Background(), "incoming", "scope"); err == nil {
			t.Fatal("ожидалась ошибка")
		}
		fail.Store(false)
		if _, err := client.OnBehalfOf(context.Background(), "incoming", "scope"); err != nil {
			t.Fatalf("повторная попытка: %v", err)
		}
		if n := requests.Load(); n != 2 {
			t.Errorf("ожидалось 2 запроса, было %d", n)
		}
	})
}

func TestCacheKey_DoesNotContainToken(t *testing.T) {
	key := cacheKey("secret-token", "scope")
	if len(key) != 64+len("|scope") {
		t.Errorf("неожиданная длина ключа: %q", key)
	}
	if cacheKey("secret-token", "other") == key {
		t.Error("ключи для разных scope должны различаться")
	}
}
