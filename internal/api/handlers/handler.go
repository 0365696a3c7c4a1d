// handler.go — основной обработчик API Archiver Module.
// Декодирует и валидирует входящие запросы, делегирует их в сервисный слой
// и переводит ошибки конвейера в HTTP-ответы.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	apierrors "github.com/bigkaa/goartstore/archiver-module/internal/api/errors"
	"github.com/bigkaa/goartstore/archiver-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/archiver-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archiver-module/internal/service"
)

// maxBodySize — ограничение тела запроса (план с диалогами за несколько лет).
const maxBodySize = 20 << 20

// ArchivalService — операции конвейера, используемые обработчиками.
// Реализуется *service.ArchivalService.
type ArchivalService interface {
	Archive(ctx context.Context, p *model.ArchivalPayload, principal service.Principal) (*service.ArchiveResult, error)
	SendToUser(ctx context.Context, p *model.SendToUserPayload, principal service.Principal) (*service.SendToUserResult, error)
	Preview(ctx context.Context, p *model.PreviewPayload, principal service.Principal) (*service.PreviewResult, error)
	PreviewSendToUser(ctx context.Context, p *model.PreviewPayload, principal service.Principal) (*service.PreviewResult, error)
	TakePreview(ctx context.Context, retrievalID uuid.UUID, principal service.Principal) ([]byte, error)
	DeletePreview(ctx context.Context, retrievalID uuid.UUID, principal service.Principal) error
	LastArchived(ctx context.Context, periodID uuid.UUID) (time.Time, error)
}

// APIHandler — основной обработчик API Archiver Module.
type APIHandler struct {
	health   *HealthHandler
	archival ArchivalService
	validate *validator.Validate
	logger   *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(health *HealthHandler, archival ArchivalService, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		health:   health,
		archival: archival,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeBody читает JSON-тело строго: неизвестные поля, лишние данные
// после объекта и нарушения правил валидации — ошибка.
func (h *APIHandler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("некорректный JSON: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("некорректный JSON: лишние данные после объекта")
	}

	if err := h.validate.Struct(dst); err != nil {
		return validationMessage(err)
	}
	return nil
}

// validationMessage превращает ошибки validator в одно сообщение с именами полей.
func validationMessage(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("ошибка валидации: %s", strings.Join(fields, ", "))
}

// principalFromContext собирает Principal из claims входящего токена.
func principalFromContext(ctx context.Context) (service.Principal, bool) {
	claims := middleware.ClaimsFromContext(ctx)
	if claims == nil {
		return service.Principal{}, false
	}
	return service.Principal{Token: claims.Token, CaseWorkerIdent: claims.CaseWorkerIdent}, true
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
// Внутренние подробности (адреса, ответы внешних систем) не раскрываются.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
		return
	case errors.Is(err, service.ErrUnauthorized):
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return
	case errors.Is(err, service.ErrMissingIdentity):
		apierrors.Forbidden(w, "В токене нет идентификатора сотрудника")
		return
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Ресурс не найден")
		return
	}

	attrs := []any{slog.String("operation", op), slog.String("error", err.Error())}
	var se *service.StageError
	if errors.As(err, &se) {
		attrs = append(attrs, slog.String("stage", string(se.Stage)))
		if se.RecordID != "" {
			attrs = append(attrs, slog.String("record_id", se.RecordID))
		}
	}

	if errors.Is(err, service.ErrDistributionFailed) {
		h.logger.Error("Доставка пользователю не заказана", attrs...)
		msg := "Документ заархивирован, но доставка пользователю не заказана"
		if se != nil && se.RecordID != "" {
			msg = fmt.Sprintf("Документ заархивирован (journalpostId %s), но доставка пользователю не заказана", se.RecordID)
		}
		apierrors.DistributionFailed(w, msg)
		return
	}

	h.logger.Error("Ошибка обработки запроса", attrs...)
	apierrors.InternalError(w, internalMessage(se))
}

// internalMessage — обобщённое сообщение по этапу, на котором остановился конвейер.
func internalMessage(se *service.StageError) string {
	if se == nil {
		return "Внутренняя ошибка"
	}
	switch se.Stage {
	case service.StageRendering:
		return "Не удалось сформировать документ"
	case service.StageArchiving:
		return "Не удалось создать запись в архиве"
	case service.StageLogging:
		return "Запись в архиве создана, но не сохранена в журнале"
	default:
		return "Внутренняя ошибка"
	}
}
