// Пакет archiveclient — HTTP-клиент API записей архива (journalpost).
// Операция: CreateRecord (POST /rest/journalpostapi/v1/journalpost?forsoekFerdigstill=true).
//
// Запросы не повторяются: повтор после таймаута может создать дубликат записи.
// Авторизация — on-behalf-of токен, полученный обменом входящего токена сотрудника.
package archiveclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	journalpostPath = "/rest/journalpostapi/v1/journalpost?forsoekFerdigstill=true"

	documentTitle        = "Aktivitetsplan og dialog"
	formCode             = "NAV 04-01.04"
	defaultTopic         = "OPP"
	subjectTopic         = "ab0001"
	accessRulesOverride  = "VISES_MASKINELT_GODKJENT"
	supplementaryInfoKey = "orkivar"
	maxReasonBody        = 512
)

// TokenSource выпускает токен для downstream API от имени владельца входящего токена.
type TokenSource interface {
	OnBehalfOf(ctx context.Context, assertion, scope string) (string, error)
}

// Options — параметры клиента.
type Options struct {
	// BaseURL — адрес API архива
	BaseURL string
	// Scope — scope токена для API архива
	Scope string
	// Timeout — таймаут запроса
	Timeout time.Duration
}

// Client — клиент API записей архива.
type Client struct {
	baseURL    string
	scope      string
	tokens     TokenSource
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент архива.
func New(opts Options, tokens TokenSource, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		scope:      opts.Scope,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     logger.With(slog.String("component", "archive_client")),
	}
}

// CreateRecord создаёт запись вида kind с документом из data.
// Любой сбой (обмен токена, сеть, не-2xx, некорректный ответ) — RecordFailed.
func (c *Client) CreateRecord(ctx context.Context, incomingToken string, kind Kind, data RecordData) Result {
	token, err := c.tokens.OnBehalfOf(ctx, incomingToken, c.scope)
	if err != nil {
		return RecordFailed{Reason: fmt.Sprintf("получение токена для архива: %v", err)}
	}

	body, err := json.Marshal(buildRequest(kind, data))
	if err != nil {
		return RecordFailed{Reason: fmt.Sprintf("сериализация записи: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+journalpostPath, bytes.NewReader(body))
	if err != nil {
		return RecordFailed{Reason: fmt.Sprintf("создание запроса к архиву: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return RecordFailed{Reason: fmt.Sprintf("запрос к архиву: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxReasonBody))
		return RecordFailed{Reason: fmt.Sprintf("архив вернул статус %d: %s", resp.StatusCode, string(msg))}
	}

	var out journalpostResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return RecordFailed{Reason: fmt.Sprintf("декодирование ответа архива: %v", err)}
	}
	if out.JournalpostID == "" {
		return RecordFailed{Reason: "архив не вернул journalpostId"}
	}

	if !out.JournalpostFerdigstilt {
		attrs := []any{
			slog.String("record_id", out.JournalpostID),
			slog.String("correlation_ref", data.CorrelationRef.String()),
			slog.String("kind", string(kind)),
		}
		if out.Melding != nil {
			attrs = append(attrs, slog.String("message", *out.Melding))
		}
		c.logger.Warn("Запись создана, но не завершена архивом", attrs...)
	}

	return RecordCreated{
		RecordID:       out.JournalpostID,
		Finalized:      out.JournalpostFerdigstilt,
		CorrelationRef: data.CorrelationRef,
		ArchivedAt:     data.ArchivedAt,
	}
}

// buildRequest собирает тело запроса journalpost.
func buildRequest(kind Kind, data RecordData) journalpostRequest {
	topic := data.Topic
	if topic == "" {
		topic = defaultTopic
	}
	periodEnd := ""
	if data.PeriodEnd != nil {
		periodEnd = *data.PeriodEnd
	}

	req := journalpostRequest{
		Tittel:               documentTitle,
		Journalposttype:      string(kind),
		Tema:                 topic,
		Behandlingstema:      subjectTopic,
		JournalfoerendeEnhet: data.ResponsibleUnit,
		EksternReferanseID:   data.CorrelationRef.String(),
		Bruker:               bruker{ID: data.Fnr, IDType: "FNR"},
		Sak: sak{
			FagsakID:     strconv.FormatInt(data.CaseID, 10),
			Fagsaksystem: data.CaseSystem,
			Sakstype:     "FAGSAK",
		},
		OverstyrInnsynsregler: accessRulesOverride,
		DatoDokument:          data.ArchivedAt.UTC().Format(time.RFC3339),
		Dokumenter: []dokument{{
			Tittel:   fmt.Sprintf("%s %s - %s", documentTitle, data.PeriodStart, periodEnd),
			Brevkode: formCode,
			Dokumentvarianter: []dokumentvariant{{
				Filtype:        "PDFA",
				Variantformat:  "ARKIV",
				FysiskDokument: data.PDF,
			}},
		}},
		Tilleggsopplysninger: []tilleggsopplysning{{
			Nokkel: supplementaryInfoKey,
			Verdi:  data.PeriodID.String(),
		}},
	}
	if kind == KindOutboundLetter {
		req.AvsenderMottaker = &avsenderMottaker{ID: data.Fnr, IDType: "FNR", Navn: data.Name}
	}
	return req
}
