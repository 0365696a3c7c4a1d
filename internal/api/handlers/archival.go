// archival.go — обработчики архивирования, доставки и превью плана.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/bigkaa/goartstore/archiver-module/internal/api/errors"
	"github.com/bigkaa/goartstore/archiver-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archiver-module/internal/service"
)

// archiveResponse — ответ POST /api/v1/arkiver.
type archiveResponse struct {
	ArchivedAt     time.Time `json:"sistJournalført"`
	RecordID       string    `json:"journalpostId"`
	CorrelationRef uuid.UUID `json:"referanse"`
	Finalized      bool      `json:"ferdigstilt"`
}

// sendToUserResponse — ответ POST /api/v1/send-til-bruker.
type sendToUserResponse struct {
	ArchivedAt     time.Time `json:"sistJournalført"`
	RecordID       string    `json:"journalpostId"`
	CorrelationRef uuid.UUID `json:"referanse"`
	OrderID        string    `json:"bestillingsId"`
}

// previewResponse — ответ POST /api/v1/forhaandsvisning*. PDF кодируется в base64.
type previewResponse struct {
	PDF            []byte     `json:"pdf"`
	LastArchivedAt *time.Time `json:"sistJournalført"`
	RetrievalID    *uuid.UUID `json:"uuidCachetPdf"`
}

// lastArchivedResponse — ответ GET /api/v1/sistJournalfort/{id}.
type lastArchivedResponse struct {
	PeriodID   uuid.UUID `json:"oppfølgingsperiodeId"`
	ArchivedAt time.Time `json:"sistJournalført"`
}

// Archive — POST /api/v1/arkiver.
// Архивирует план как внутреннюю заметку.
func (h *APIHandler) Archive(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, "Отсутствуют claims")
		return
	}

	var req model.ArchivalPayload
	if err := h.decodeBody(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	result, err := h.archival.Archive(r.Context(), &req, principal)
	if err != nil {
		h.writeServiceError(w, "archive", err)
		return
	}

	writeJSON(w, http.StatusOK, archiveResponse{
		ArchivedAt:     result.ArchivedAt,
		RecordID:       result.RecordID,
		CorrelationRef: result.CorrelationRef,
		Finalized:      result.Finalized,
	})
}

// SendToUser — POST /api/v1/send-til-bruker.
// Архивирует план как исходящее письмо и заказывает доставку пользователю.
func (h *APIHandler) SendToUser(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, "Отсутствуют claims")
		return
	}

	var req model.SendToUserPayload
	if err := h.decodeBody(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	result, err := h.archival.SendToUser(r.Context(), &req, principal)
	if err != nil {
		h.writeServiceError(w, "send_to_user", err)
		return
	}

	writeJSON(w, http.StatusOK, sendToUserResponse{
		ArchivedAt:     result.ArchivedAt,
		RecordID:       result.RecordID,
		CorrelationRef: result.CorrelationRef,
		OrderID:        result.OrderID,
	})
}

// Preview — POST /api/v1/forhaandsvisning.
func (h *APIHandler) Preview(w http.ResponseWriter, r *http.Request) {
	h.preview(w, r, false)
}

// PreviewSendToUser — POST /api/v1/forhaandsvisning-send-til-bruker.
func (h *APIHandler) PreviewSendToUser(w http.ResponseWriter, r *http.Request) {
	h.preview(w, r, true)
}

func (h *APIHandler) preview(w http.ResponseWriter, r *http.Request, sendToUser bool) {
	principal, ok := principalFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, "Отсутствуют claims")
		return
	}

	var req model.PreviewPayload
	if err := h.decodeBody(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	preview, op := h.archival.Preview, "preview"
	if sendToUser {
		preview, op = h.archival.PreviewSendToUser, "preview_send_to_user"
	}

	result, err := preview(r.Context(), &req, principal)
	if err != nil {
		h.writeServiceError(w, op, err)
		return
	}

	writeJSON(w, http.StatusOK, previewResponse{
		PDF:            result.PDF,
		LastArchivedAt: result.LastArchivedAt,
		RetrievalID:    result.RetrievalID,
	})
}

// GetCachedPreview — GET /api/v1/forhaandsvisning/{id}/pdf.
// Однократная выдача кэшированного превью сотруднику, который его запросил.
func (h *APIHandler) GetCachedPreview(w http.ResponseWriter, r *http.Request) {
	retrievalID, principal, ok := h.previewTarget(w, r)
	if !ok {
		return
	}

	pdf, err := h.archival.TakePreview(r.Context(), retrievalID, principal)
	if err != nil {
		h.writeServiceError(w, "take_preview", err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

// DeleteCachedPreview — DELETE /api/v1/forhaandsvisning/{id}.
// Отказ от превью без выдачи; отсутствующее превью тоже даёт 204.
func (h *APIHandler) DeleteCachedPreview(w http.ResponseWriter, r *http.Request) {
	retrievalID, principal, ok := h.previewTarget(w, r)
	if !ok {
		return
	}

	if err := h.archival.DeletePreview(r.Context(), retrievalID, principal); err != nil {
		h.writeServiceError(w, "delete_preview", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// previewTarget разбирает {id} превью и вызывающего сотрудника.
func (h *APIHandler) previewTarget(w http.ResponseWriter, r *http.Request) (uuid.UUID, service.Principal, bool) {
	principal, ok := principalFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, "Отсутствуют claims")
		return uuid.Nil, service.Principal{}, false
	}
	retrievalID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.ValidationError(w, "Некорректный идентификатор превью")
		return uuid.Nil, service.Principal{}, false
	}
	return retrievalID, principal, true
}

// GetLastArchived — GET /api/v1/sistJournalfort/{id}.
// Момент последнего архивирования в периоде сопровождения.
func (h *APIHandler) GetLastArchived(w http.ResponseWriter, r *http.Request) {
	periodID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.ValidationError(w, "Некорректный идентификатор периода")
		return
	}

	archivedAt, err := h.archival.LastArchived(r.Context(), periodID)
	if err != nil {
		h.writeServiceError(w, "last_archived", err)
		return
	}

	writeJSON(w, http.StatusOK, lastArchivedResponse{PeriodID: periodID, ArchivedAt: archivedAt})
}
