// errors.go — ошибки сервисного слоя и этапы конвейера архивирования.
package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrRenderFailed — документ не отрендерен.
	ErrRenderFailed = errors.New("рендеринг документа не удался")
	// ErrRecordFailed — запись в архиве не создана.
	ErrRecordFailed = errors.New("создание записи в архиве не удалось")
	// ErrDistributionFailed — запись создана, но доставка пользователю не заказана.
	ErrDistributionFailed = errors.New("доставка записи пользователю не удалась")
	// ErrStorage — ошибка локального хранилища (журнал, кэш превью).
	ErrStorage = errors.New("ошибка хранилища")
	// ErrUnauthorized — нет входящего токена.
	ErrUnauthorized = errors.New("требуется аутентификация")
	// ErrMissingIdentity — в токене нет идентификатора сотрудника.
	ErrMissingIdentity = errors.New("в токене нет идентификатора сотрудника")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
)

// Stage — этап конвейера архивирования.
type Stage string

const (
	StageRendering    Stage = "rendering"
	StageArchiving    Stage = "archiving"
	StageLogging      Stage = "logging"
	StageDistributing Stage = "distributing"
	StageLookup       Stage = "lookup"
	StageCaching      Stage = "caching"
)

// StageError — конвейер остановился на этапе Stage.
// Err — одна из ошибок-сентинелей пакета, Cause — исходная ошибка (если есть).
// RecordID и CorrelationRef заполнены, если запись в архиве уже создана.
type StageError struct {
	Stage          Stage
	Err            error
	Reason         string
	Cause          error
	RecordID       string
	CorrelationRef uuid.UUID
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("этап %s: %v", e.Stage, e.Err)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap позволяет errors.Is/As проверять и сентинель, и исходную ошибку.
func (e *StageError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}
