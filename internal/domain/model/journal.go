package model

import (
	"time"

	"github.com/google/uuid"
)

// EntryKind — тип записи журнала архивирования.
type EntryKind string

const (
	// EntryKindArchiving — документ заархивирован как внутренняя заметка.
	EntryKindArchiving EntryKind = "JOURNALFORING"
	// EntryKindSentToUser — документ заархивирован как исходящее письмо
	// и передан на доставку пользователю.
	EntryKindSentToUser EntryKind = "SENDING_TIL_BRUKER"
)

// Valid проверяет, что тип записи известен.
func (k EntryKind) Valid() bool {
	return k == EntryKindArchiving || k == EntryKindSentToUser
}

// JournalEntry — запись журнала архивирования (таблица journalfoeringer).
// Создаётся только после подтверждённого успешного создания записи в архиве,
// никогда не изменяется и не удаляется.
type JournalEntry struct {
	// ID — суррогатный ключ (BIGSERIAL)
	ID int64
	// CaseWorkerIdent — идентификатор сотрудника (claim NAVident)
	CaseWorkerIdent string
	// SubjectFnr — национальный идентификатор субъекта (11 цифр)
	SubjectFnr string
	// CreatedAt — момент архивирования (тот же, что передан в архив)
	CreatedAt time.Time
	// CorrelationRef — внешняя ссылка (eksternReferanseId), отправленная в архив
	CorrelationRef uuid.UUID
	// RecordID — идентификатор записи в архиве (journalpostId)
	RecordID string
	// PeriodID — идентификатор периода сопровождения
	PeriodID uuid.UUID
	// Kind — тип события
	Kind EntryKind
}
