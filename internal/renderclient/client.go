// Пакет renderclient — HTTP-клиент сервиса рендеринга PDF (pdfgen).
// Операция: Render (POST /api/v1/genpdf/dab/aktivitetsplan).
//
// Сетевые ошибки и ответы 5xx повторяются фиксированное число раз
// с постоянной паузой; ответы 4xx не повторяются.
package renderclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/archiver-module/internal/domain/model"
)

const (
	renderPath = "/api/v1/genpdf/dab/aktivitetsplan"
	// maxReasonBody — сколько байт тела ответа попадает в Failure.Reason.
	maxReasonBody = 512
	// maxPDFSize — верхняя граница размера документа, больший ответ — Failure.
	maxPDFSize = 64 << 20
)

var (
	renderAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archiver_render_attempts_total",
			Help: "Количество попыток рендеринга по результату (success, server_error, client_error, network_error, too_large)",
		},
		[]string{"outcome"},
	)

	renderDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "archiver_render_duration_seconds",
			Help:    "Длительность рендеринга документа с учётом повторов",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Payload — тело запроса к pdfgen.
type Payload struct {
	Name          string                      `json:"navn"`
	Fnr           string                      `json:"fnr"`
	PeriodStart   string                      `json:"oppfølgingsperiodeStart"`
	PeriodEnd     *string                     `json:"oppfølgingsperiodeSlutt"`
	ArchivedAt    string                      `json:"journalfoeringstidspunkt"`
	Activities    map[string][]model.Activity `json:"aktiviteter"`
	DialogThreads []model.DialogThread        `json:"dialogtråder"`
	Goal          *string                     `json:"mål"`

	renderedAt time.Time
}

// NewPayload собирает тело запроса из метаданных, содержимого плана
// и момента архивирования.
func NewPayload(meta model.PlanMetadata, content model.PlanContent, at time.Time) Payload {
	return Payload{
		Name:          meta.Name,
		Fnr:           meta.Fnr,
		PeriodStart:   meta.PeriodStart,
		PeriodEnd:     meta.PeriodEnd,
		ArchivedAt:    FormatTimestamp(at),
		Activities:    content.Activities,
		DialogThreads: content.DialogThreads,
		Goal:          content.Goal,
		renderedAt:    at,
	}
}

// Options — параметры клиента.
type Options struct {
	// BaseURL — адрес pdfgen без завершающего слеша
	BaseURL string
	// Timeout — таймаут одной попытки
	Timeout time.Duration
	// ConnectTimeout — таймаут установки TCP-соединения
	ConnectTimeout time.Duration
	// MaxRetries — число повторов после первой попытки
	MaxRetries int
	// RetryDelay — пауза между попытками
	RetryDelay time.Duration
}

// Client — клиент pdfgen.
type Client struct {
	baseURL    string
	maxRetries int
	retryDelay time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	maxPDFSize int64
}

// New создаёт клиент pdfgen с собственным транспортом.
func New(opts Options, logger *slog.Logger) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		logger:     logger.With(slog.String("component", "render_client")),
		maxPDFSize: maxPDFSize,
	}
}

// attemptError — неуспешная попытка рендеринга.
type attemptError struct {
	statusCode int
	reason     string
}

func (e *attemptError) Error() string { return e.reason }

// Render отправляет содержимое плана в pdfgen и возвращает Success или Failure.
// Никогда не паникует и не возвращает ошибку: все сбои — Failure.
func (c *Client) Render(ctx context.Context, payload Payload) Result {
	start := time.Now()
	defer func() { renderDuration.Observe(time.Since(start).Seconds()) }()

	body, err := json.Marshal(payload)
	if err != nil {
		return Failure{Reason: fmt.Sprintf("сериализация запроса: %v", err)}
	}

	var (
		attempts int
		pdf      []byte
	)
	operation := func() error {
		attempts++
		data, err := c.attempt(ctx, body)
		if err != nil {
			var ae *attemptError
			if errors.As(err, &ae) && ae.statusCode >= 400 && ae.statusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
		pdf = data
		return nil
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(c.retryDelay)
	b = backoff.WithMaxRetries(b, uint64(max(c.maxRetries, 0)))
	b = backoff.WithContext(b, ctx)

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("Попытка рендеринга не удалась, повтор",
			slog.Int("attempt", attempts),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}

	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		failure := Failure{Reason: err.Error(), Attempts: attempts}
		var ae *attemptError
		if errors.As(err, &ae) {
			failure.StatusCode = ae.statusCode
		}
		c.logger.Error("Рендеринг документа не удался",
			slog.Int("attempts", attempts),
			slog.Int("status", failure.StatusCode),
			slog.String("reason", failure.Reason),
		)
		return failure
	}

	return Success{PDF: pdf, RenderedAt: payload.renderedAt, Attempts: attempts}
}

// attempt выполняет одну попытку POST и классифицирует ответ.
func (c *Client) attempt(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+renderPath, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("создание запроса рендеринга: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/pdf")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		renderAttemptsTotal.WithLabelValues("network_error").Inc()
		return nil, fmt.Errorf("запрос к pdfgen: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxReasonBody))
		outcome := "server_error"
		if resp.StatusCode < 500 {
			outcome = "client_error"
		}
		renderAttemptsTotal.WithLabelValues(outcome).Inc()
		return nil, &attemptError{
			statusCode: resp.StatusCode,
			reason:     fmt.Sprintf("pdfgen вернул статус %d: %s", resp.StatusCode, string(data)),
		}
	}

	pdf, err := io.ReadAll(io.LimitReader(resp.Body, c.maxPDFSize+1))
	if err != nil {
		renderAttemptsTotal.WithLabelValues("network_error").Inc()
		return nil, fmt.Errorf("чтение ответа pdfgen: %w", err)
	}
	if int64(len(pdf)) > c.maxPDFSize {
		renderAttemptsTotal.WithLabelValues("too_large").Inc()
		return nil, backoff.Permanent(&attemptError{
			statusCode: resp.StatusCode,
			reason:     fmt.Sprintf("документ pdfgen больше %d байт", c.maxPDFSize),
		})
	}

	renderAttemptsTotal.WithLabelValues("success").Inc()
	return pdf, nil
}
