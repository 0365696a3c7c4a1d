// Пакет azure — клиент выпуска токенов Azure AD (on-behalf-of flow).
// models.go — модели ответов token endpoint.
package azure

import "time"

// TokenResponse — ответ token endpoint (RFC 6749, 5.1 / 5.2).
type TokenResponse struct {
	AccessToken string `json:"access_token"` //nolint:gosec // G117: структура токена OAuth2
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`

	// Поля ошибки (заполняются при статусе 4xx)
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// cachedToken — токен в LRU-кэше вместе с моментом истечения.
type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}
