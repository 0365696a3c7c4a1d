package model

import (
	"time"

	"github.com/google/uuid"
)

// CachedPreview — превью PDF, ожидающее однократной выдачи (таблица cachet_pdf).
// На пару (CaseWorkerIdent, SubjectFnr) существует не более одной записи,
// RetrievalID перевыпускается при каждой перезаписи.
type CachedPreview struct {
	CaseWorkerIdent string
	SubjectFnr      string
	RetrievalID     uuid.UUID
	PDF             []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
