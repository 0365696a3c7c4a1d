// Пакет distclient — HTTP-клиент распределения записей архива пользователю.
// Операция: Distribute (POST /rest/v1/distribuerjournalpost).
//
// Вызывается только для уже созданной записи. Ответ 409 означает, что заказ
// на доставку этой записи уже существует, и считается успехом.
package distclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	distributePath = "/rest/v1/distribuerjournalpost"
	producerApp    = "orkivar"
	scopePrefix    = "openid profile "
	maxReasonBody  = 512
)

// TokenSource выпускает токен для downstream API от имени владельца входящего токена.
type TokenSource interface {
	OnBehalfOf(ctx context.Context, assertion, scope string) (string, error)
}

// Result — результат заказа доставки: Ordered или Failed.
type Result interface {
	isResult()
}

// Ordered — доставка заказана.
type Ordered struct {
	// OrderID — bestillingsId
	OrderID string
	// AlreadyOrdered — заказ существовал ранее (ответ 409)
	AlreadyOrdered bool
}

// Failed — доставку заказать не удалось.
type Failed struct {
	Reason string
}

func (Ordered) isResult() {}
func (Failed) isResult()  {}

// distributeRequest — тело POST /distribuerjournalpost.
type distributeRequest struct {
	JournalpostID          string  `json:"journalpostId"`
	BestillendeFagsystem   string  `json:"bestillendeFagsystem"`
	DokumentProdApp        string  `json:"dokumentProdApp"`
	Distribusjonstype      string  `json:"distribusjonstype"`
	Distribusjonstidspunkt string  `json:"distribusjonstidspunkt"`
	TvingKanal             *string `json:"tvingKanal,omitempty"`
}

// distributeResponse — ответ POST /distribuerjournalpost (в том числе 409).
type distributeResponse struct {
	BestillingsID string `json:"bestillingsId"`
}

// Options — параметры клиента.
type Options struct {
	// BaseURL — адрес API распределения
	BaseURL string
	// Scope — scope токена без префикса "openid profile"
	Scope string
	// Timeout — таймаут запроса
	Timeout time.Duration
}

// Client — клиент API распределения.
type Client struct {
	baseURL    string
	scope      string
	tokens     TokenSource
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент распределения.
func New(opts Options, tokens TokenSource, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		scope:      scopePrefix + opts.Scope,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     logger.With(slog.String("component", "distribution_client")),
	}
}

// Distribute заказывает доставку записи recordID пользователю.
// forcePrint — доставить бумажным письмом независимо от цифрового канала.
func (c *Client) Distribute(ctx context.Context, incomingToken, recordID, caseSystem string, forcePrint bool) Result {
	token, err := c.tokens.OnBehalfOf(ctx, incomingToken, c.scope)
	if err != nil {
		return Failed{Reason: fmt.Sprintf("получение токена для распределения: %v", err)}
	}

	payload := distributeRequest{
		JournalpostID:          recordID,
		BestillendeFagsystem:   caseSystem,
		DokumentProdApp:        producerApp,
		Distribusjonstype:      "ANNET",
		Distribusjonstidspunkt: "UMIDDELBART",
	}
	if forcePrint {
		channel := "PRINT"
		payload.TvingKanal = &channel
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Failed{Reason: fmt.Sprintf("сериализация запроса: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+distributePath, bytes.NewReader(body))
	if err != nil {
		return Failed{Reason: fmt.Sprintf("создание запроса распределения: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Failed{Reason: fmt.Sprintf("запрос распределения: %v", err)}
	}
	defer resp.Body.Close()

	conflict := resp.StatusCode == http.StatusConflict
	if !conflict && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxReasonBody))
		c.logger.Warn("Распределение записи не удалось",
			slog.String("record_id", recordID),
			slog.Int("status", resp.StatusCode),
		)
		return Failed{Reason: fmt.Sprintf("распределение вернуло статус %d: %s", resp.StatusCode, string(msg))}
	}

	var out distributeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Failed{Reason: fmt.Sprintf("декодирование ответа распределения: %v", err)}
	}
	if out.BestillingsID == "" {
		return Failed{Reason: "распределение не вернуло bestillingsId"}
	}

	if conflict {
		c.logger.Info("Доставка записи уже заказана",
			slog.String("record_id", recordID),
			slog.String("order_id", out.BestillingsID),
		)
	}

	return Ordered{OrderID: out.BestillingsID, AlreadyOrdered: conflict}
}
