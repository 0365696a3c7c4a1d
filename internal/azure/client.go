// client.go — HTTP-клиент к token endpoint Azure AD.
// Обменивает входящий токен пользователя на токен для downstream API
// (grant_type=jwt-bearer, requested_token_use=on_behalf_of).
//
// Выпущенные токены кэшируются в LRU (ключ — sha256(входящий токен) + scope)
// и обновляются за 30s до истечения. Параллельные обмены одного и того же
// токена на один scope объединяются через singleflight.
package azure

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

const (
	grantTypeJWTBearer = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	// refreshMargin — токен считается истёкшим за это время до exp.
	refreshMargin = 30 * time.Second
	// maxCacheTTL — верхняя граница жизни записи в кэше.
	maxCacheTTL = time.Hour
)

var (
	// ErrEmptyAssertion — входящий токен пуст.
	ErrEmptyAssertion = errors.New("входящий токен не задан")
	// ErrTokenRejected — token endpoint отказал в выпуске токена.
	ErrTokenRejected = errors.New("Azure AD отказал в выпуске токена")
)

var tokenRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "archiver_token_requests_total",
		Help: "Количество запросов on-behalf-of токенов по результату (cache_hit, issued, error)",
	},
	[]string{"outcome"},
)

// Options — параметры клиента.
type Options struct {
	// TokenEndpoint — URL token endpoint (…/oauth2/v2.0/token)
	TokenEndpoint string
	// ClientID — client_id приложения
	ClientID string
	// ClientSecret — client_secret приложения
	ClientSecret string
	// CacheSize — максимальное число токенов в кэше
	CacheSize int
}

// Client — клиент выпуска токенов Azure AD.
type Client struct {
	tokenEndpoint string
	clientID      string
	clientSecret  string

	httpClient *http.Client
	logger     *slog.Logger

	cache *expirable.LRU[string, cachedToken]
	group singleflight.Group
	now   func() time.Time
}

// New создаёт клиент Azure AD.
// httpClient может быть nil — используется клиент с таймаутом 10s.
func New(opts Options, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	size := opts.CacheSize
	if size <= 0 {
		size = 1000
	}

	return &Client{
		tokenEndpoint: opts.TokenEndpoint,
		clientID:      opts.ClientID,
		clientSecret:  opts.ClientSecret,
		httpClient:    httpClient,
		logger:        logger.With(slog.String("component", "azure_client")),
		cache:         expirable.NewLRU[string, cachedToken](size, nil, maxCacheTTL),
		now:           time.Now,
	}
}

// OnBehalfOf возвращает токен для scope, выпущенный от имени владельца assertion.
func (c *Client) OnBehalfOf(ctx context.Context, assertion, scope string) (string, error) {
	if assertion == "" {
		return "", ErrEmptyAssertion
	}

	key := cacheKey(assertion, scope)
	if tok, ok := c.cache.Get(key); ok && c.now().Add(refreshMargin).Before(tok.expiresAt) {
		tokenRequestsTotal.WithLabelValues("cache_hit").Inc()
		return tok.accessToken, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		form := url.Values{
			"grant_type":          {grantTypeJWTBearer},
			"client_id":           {c.clientID},
			"client_secret":       {c.clientSecret},
			"assertion":           {assertion},
			"scope":               {scope},
			"requested_token_use": {"on_behalf_of"},
		}

		token, err := c.requestToken(ctx, form)
		if err != nil {
			return "", err
		}

		expiresAt := c.now().Add(time.Duration(token.ExpiresIn) * time.Second)
		c.cache.Add(key, cachedToken{accessToken: token.AccessToken, expiresAt: expiresAt})

		c.logger.Debug("On-behalf-of токен выпущен",
			slog.String("scope", scope),
			slog.Time("expires_at", expiresAt),
		)
		return token.AccessToken, nil
	})
	if err != nil {
		tokenRequestsTotal.WithLabelValues("error").Inc()
		return "", err
	}

	tokenRequestsTotal.WithLabelValues("issued").Inc()
	return v.(string), nil
}

// requestToken выполняет POST на token endpoint.
func (c *Client) requestToken(ctx context.Context, form url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("создание запроса токена: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос токена Azure AD: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var tr TokenResponse
		if json.Unmarshal(body, &tr) == nil && tr.Error != "" {
			return nil, fmt.Errorf("%w: статус %d, %s: %s", ErrTokenRejected, resp.StatusCode, tr.Error, tr.ErrorDescription)
		}
		return nil, fmt.Errorf("%w: статус %d: %s", ErrTokenRejected, resp.StatusCode, string(body))
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("декодирование токена Azure AD: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: пустой access_token", ErrTokenRejected)
	}

	return &token, nil
}

// cacheKey — ключ кэша. Сам входящий токен в памяти не хранится.
func cacheKey(assertion, scope string) string {
	sum := sha256.Sum256([]byte(assertion))
	return hex.EncodeToString(sum[:]) + "|" + scope
}
