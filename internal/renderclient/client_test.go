package renderclient

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/archiver-module/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// setupMockPdfgen создаёт mock pdfgen и клиент к нему.
func setupMockPdfgen(t *testing.T, maxRetries int, handler http.HandlerFunc) (*Client, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	client := New(Options{
		BaseURL:        server.URL + "/",
		Timeout:        2 * time.Second,
		ConnectTimeout: time.Second,
		MaxRetries:     maxRetries,
		RetryDelay:     time.Millisecond,
	}, testLogger())

	return client, &calls
}

func testPayload() Payload {
	return NewPayload(model.PlanMetadata{
		Fnr:         "01015450300",
		Name:        "Kari Nordmann",
		PeriodStart: "19 oktober 2021",
		PeriodID:    "7a1f3a0e-3d1b-4f9c-9c1e-5a5b2d1c0f11",
	}, model.PlanContent{
		Activities: map[string][]model.Activity{},
	}, time.Date(2024, time.March, 5, 13, 31, 0, 0, time.UTC))
}

func TestRender_Success(t *testing.T) {
	client, calls := setupMockPdfgen(t, 2, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("метод = %s, ожидался POST", r.Method)
		}
		if r.URL.Path != renderPath {
			t.Errorf("путь = %s, ожидался %s", r.URL.Path, renderPath)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.7"))
	})

	res := client.Render(context.Background(), testPayload())
	success, ok := res.(Success)
	if !ok {
		t.Fatalf("ожидался Success, получено %#v", res)
	}
	if string(success.PDF) != "%PDF-1.7" {
		t.Errorf("PDF = %q", success.PDF)
	}
	if success.Attempts != 1 || calls.Load() != 1 {
		t.Errorf("attempts = %d, calls = %d; ожидалась одна попытка", success.Attempts, calls.Load())
	}
	if want := time.Date(2024, time.March, 5, 13, 31, 0, 0, time.UTC); !success.RenderedAt.Equal(want) {
		t.Errorf("RenderedAt = %v, ожидался момент из документа %v", success.RenderedAt, want)
	}
}

func TestRender_PayloadFields(t *testing.T) {
	client, _ := setupMockPdfgen(t, 0, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("декодирование тела: %v", err)
			return
		}
		want := map[string]any{
			"navn":                     "Kari Nordmann",
			"fnr":                      "01015450300",
			"oppfølgingsperiodeStart":  "19 oktober 2021",
			"journalfoeringstidspunkt": "5. mars 2024 kl. 14:31",
		}
		for k, v := range want {
			if body[k] != v {
				t.Errorf("%s = %v, ожидалось %v", k, body[k], v)
			}
		}
		for _, k := range []string{"oppfølgingsperiodeSlutt", "aktiviteter", "dialogtråder", "mål"} {
			if _, ok := body[k]; !ok {
				t.Errorf("поле %s отсутствует в запросе", k)
			}
		}
		_, _ = w.Write([]byte("pdf"))
	})

	if _, ok := client.Render(context.Background(), testPayload()).(Success); !ok {
		t.Fatal("ожидался Success")
	}
}

func TestRender_DocumentTooLarge(t *testing.T) {
	client, calls := setupMockPdfgen(t, 2, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("%PDF-1.7 больше лимита"))
	})
	client.maxPDFSize = 8

	res := client.Render(context.Background(), testPayload())
	failure, ok := res.(Failure)
	if !ok {
		t.Fatalf("усечённый документ не должен считаться Success, получено %#v", res)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("вызовов pdfgen = %d, превышение размера не повторяется", n)
	}
	if !strings.Contains(failure.Reason, "больше 8 байт") {
		t.Errorf("Reason = %q", failure.Reason)
	}
}

func TestRender_DocumentAtLimit(t *testing.T) {
	client, _ := setupMockPdfgen(t, 0, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("%PDF-1.7"))
	})
	client.maxPDFSize = int64(len("%PDF-1.7"))

	success, ok := client.Render(context.Background(), testPayload()).(Success)
	if !ok || string(success.PDF) != "%PDF-1.7" {
		t.Fatalf("документ ровно на границе должен пройти целиком: %#v", success)
	}
}

func TestRender_RetriesServerErrors(t *testing.T) {
	client, calls := setupMockPdfgen(t, 2, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	})

	res := client.Render(context.Background(), testPayload())
	failure, ok := res.(Failure)
	if !ok {
		t.Fatalf("ожидался Failure, получено %#v", res)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("вызовов pdfgen = %d, ожидалось 3 (1 + 2 повтора)", n)
	}
	if failure.Attempts != 3 {
		t.Errorf("Attempts = %d, ожидалось 3", failure.Attempts)
	}
	if failure.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, ожидался 502", failure.StatusCode)
	}
	if !strings.Contains(failure.Reason, "502") || !strings.Contains(failure.Reason, "upstream down") {
		t.Errorf("Reason = %q, ожидались статус и тело", failure.Reason)
	}
}

func TestRender_RecoversAfterRetry(t *testing.T) {
	var n atomic.Int32
	client, calls := setupMockPdfgen(t, 2, func(w http.ResponseWriter, _ *http.Request) {
		if n.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("pdf"))
	})

	res, ok := client.Render(context.Background(), testPayload()).(Success)
	if !ok {
		t.Fatal("ожидался Success после повтора")
	}
	if res.Attempts != 2 || calls.Load() != 2 {
		t.Errorf("attempts = %d, calls = %d; ожидалось 2", res.Attempts, calls.Load())
	}
}

func TestRender_ClientErrorNotRetried(t *testing.T) {
	client, calls := setupMockPdfgen(t, 5, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(strings.Repeat("x", 2048)))
	})

	res := client.Render(context.Background(), testPayload())
	failure, ok := res.(Failure)
	if !ok {
		t.Fatalf("ожидался Failure, получено %#v", res)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("4xx не должен повторяться: вызовов %d", n)
	}
	if failure.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, ожидался 400", failure.StatusCode)
	}
	if len(failure.Reason) > maxReasonBody+64 {
		t.Errorf("Reason не усечён: длина %d", len(failure.Reason))
	}
}

func TestRender_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := New(Options{
		BaseURL:        url,
		Timeout:        time.Second,
		ConnectTimeout: 200 * time.Millisecond,
		MaxRetries:     1,
		RetryDelay:     time.Millisecond,
	}, testLogger())

	res := client.Render(context.Background(), testPayload())
	failure, ok := res.(Failure)
	if !ok {
		t.Fatalf("ожидался Failure, получено %#v", res)
	}
	if failure.StatusCode != 0 {
		t.Errorf("StatusCode = %d, ожидался 0 для сетевой ошибки", failure.StatusCode)
	}
	if failure.Attempts != 2 {
		t.Errorf("Attempts = %d, ожидалось 2", failure.Attempts)
	}
}

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{"зимнее время", time.Date(2024, time.February, 5, 1, 31, 0, 0, time.UTC), "5. februar 2024 kl. 02:31"},
		{"летнее время", time.Date(2024, time.July, 15, 6, 0, 0, 0, time.UTC), "15. juli 2024 kl. 08:00"},
		{"смена года", time.Date(2023, time.December, 31, 23, 5, 0, 0, time.UTC), "1. januar 2024 kl. 00:05"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatTimestamp(tt.in); got != tt.want {
				t.Errorf("FormatTimestamp() = %q, ожидалось %q", got, tt.want)
			}
		})
	}
}
