// archival.go — конвейер архивирования плана активностей и диалогов.
//
// Операции архивирования: рендеринг → запись в архиве → (доставка) → журнал.
// Операции превью: рендеринг → последняя запись журнала → кэш превью.
//
// Конвейер только движется вперёд: созданная в архиве запись никогда не
// откатывается. Первая неустранимая ошибка завершает запрос с *StageError.
// После старта запрос не отменяется отменой входящего HTTP-запроса:
// обращения к внешним системам ограничены только их таймаутами.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/archiver-module/internal/archiveclient"
	"github.com/bigkaa/goartstore/archiver-module/internal/distclient"
	"github.com/bigkaa/goartstore/archiver-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archiver-module/internal/renderclient"
	"github.com/bigkaa/goartstore/archiver-module/internal/repository"
)

// Имена операций для метрик и логов.
const (
	opArchive           = "archive"
	opSendToUser        = "send_to_user"
	opPreview           = "preview"
	opPreviewSendToUser = "preview_send_to_user"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archiver_operations_total",
			Help: "Количество операций конвейера по результату (success, partial, error)",
		},
		[]string{"operation", "outcome"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archiver_operation_duration_seconds",
			Help:    "Длительность операций конвейера",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms … ~25s
		},
		[]string{"operation"},
	)
)

// Renderer — рендеринг документа.
type Renderer interface {
	Render(ctx context.Context, payload renderclient.Payload) renderclient.Result
}

// RecordCreator — создание записи в архиве.
type RecordCreator interface {
	CreateRecord(ctx context.Context, incomingToken string, kind archiveclient.Kind, data archiveclient.RecordData) archiveclient.Result
}

// Distributor — заказ доставки записи пользователю.
type Distributor interface {
	Distribute(ctx context.Context, incomingToken, recordID, caseSystem string, forcePrint bool) distclient.Result
}

// Principal — вызывающий сотрудник.
type Principal struct {
	// Token — входящий bearer-токен (для on-behalf-of обмена)
	Token string
	// CaseWorkerIdent — claim NAVident, пусто если claim отсутствует
	CaseWorkerIdent string
}

// ArchiveResult — результат архивирования.
type ArchiveResult struct {
	ArchivedAt     time.Time
	RecordID       string
	CorrelationRef uuid.UUID
	Finalized      bool
}

// SendToUserResult — результат архивирования с доставкой.
// При ошибке доставки заполнена только часть ArchiveResult.
type SendToUserResult struct {
	ArchiveResult
	OrderID string
}

// PreviewResult — результат превью.
type PreviewResult struct {
	PDF []byte
	// LastArchivedAt — момент последней записи журнала нужного типа, nil если записей нет
	LastArchivedAt *time.Time
	// RetrievalID — идентификатор выдачи из кэша, nil если превью не кэшировалось
	RetrievalID *uuid.UUID
}

// ArchivalService — контроллер конвейера архивирования.
type ArchivalService struct {
	renderer    Renderer
	archive     RecordCreator
	distributor Distributor
	journal     repository.JournalRepository
	previews    repository.PreviewCacheRepository
	logger      *slog.Logger
	now         func() time.Time
}

// NewArchivalService создаёт сервис архивирования.
func NewArchivalService(
	renderer Renderer,
	archive RecordCreator,
	distributor Distributor,
	journal repository.JournalRepository,
	previews repository.PreviewCacheRepository,
	logger *slog.Logger,
) *ArchivalService {
	return &ArchivalService{
		renderer:    renderer,
		archive:     archive,
		distributor: distributor,
		journal:     journal,
		previews:    previews,
		logger:      logger.With(slog.String("component", "archival_service")),
		now:         time.Now,
	}
}

// Archive архивирует план как внутреннюю заметку и пишет запись журнала ARCHIVING.
func (s *ArchivalService) Archive(ctx context.Context, p *model.ArchivalPayload, principal Principal) (result *ArchiveResult, err error) {
	defer s.observe(opArchive, time.Now(), &err)

	return s.archiveAndLog(context.WithoutCancel(ctx), opArchive, p, principal,
		archiveclient.KindInternalNote, model.EntryKindArchiving)
}

// SendToUser архивирует план как исходящее письмо, пишет запись журнала
// SENT_TO_USER и заказывает доставку. Если доставка не удалась, возвращаются
// и результат архивирования, и ошибка с ErrDistributionFailed.
func (s *ArchivalService) SendToUser(ctx context.Context, p *model.SendToUserPayload, principal Principal) (result *SendToUserResult, err error) {
	defer s.observe(opSendToUser, time.Now(), &err)
	ctx = context.WithoutCancel(ctx)

	archived, err := s.archiveAndLog(ctx, opSendToUser, &p.ArchivalPayload, principal,
		archiveclient.KindOutboundLetter, model.EntryKindSentToUser)
	if err != nil {
		return nil, err
	}
	result = &SendToUserResult{ArchiveResult: *archived}

	res, panicErr := guard(s.logger, StageDistributing, func() distclient.Result {
		return s.distributor.Distribute(ctx, principal.Token, archived.RecordID, p.CaseMetadata.CaseSystem, p.ForcePrint)
	})
	stageErr := &StageError{
		Stage:          StageDistributing,
		Err:            ErrDistributionFailed,
		Cause:          panicErr,
		RecordID:       archived.RecordID,
		CorrelationRef: archived.CorrelationRef,
	}
	if panicErr == nil {
		switch r := res.(type) {
		case distclient.Ordered:
			result.OrderID = r.OrderID
			return result, nil
		case distclient.Failed:
			stageErr.Reason = r.Reason
		default:
			stageErr.Reason = fmt.Sprintf("неизвестный результат %T", res)
		}
	}

	s.logger.Warn("Запись создана и записана в журнал, но доставка не заказана",
		slog.String("record_id", archived.RecordID),
		slog.String("correlation_ref", archived.CorrelationRef.String()),
		slog.String("reason", stageErr.Error()),
	)
	return result, stageErr
}

// Preview рендерит план и возвращает его вместе с моментом последнего
// архивирования (ARCHIVING) в периоде.
func (s *ArchivalService) Preview(ctx context.Context, p *model.PreviewPayload, principal Principal) (result *PreviewResult, err error) {
	defer s.observe(opPreview, time.Now(), &err)
	return s.preview(context.WithoutCancel(ctx), p, principal, model.EntryKindArchiving)
}

// PreviewSendToUser — как Preview, но момент берётся из последней доставки (SENT_TO_USER).
func (s *ArchivalService) PreviewSendToUser(ctx context.Context, p *model.PreviewPayload, principal Principal) (result *PreviewResult, err error) {
	defer s.observe(opPreviewSendToUser, time.Now(), &err)
	return s.preview(context.WithoutCancel(ctx), p, principal, model.EntryKindSentToUser)
}

// TakePreview однократно выдаёт кэшированное превью сотруднику, который его
// запросил. Повторная выдача и чужое превью — ErrNotFound.
func (s *ArchivalService) TakePreview(ctx context.Context, retrievalID uuid.UUID, principal Principal) ([]byte, error) {
	if principal.CaseWorkerIdent == "" {
		return nil, ErrMissingIdentity
	}
	pdf, err := s.previews.Take(ctx, retrievalID, principal.CaseWorkerIdent)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: выдача превью: %w", ErrStorage, err)
	}
	return pdf, nil
}

// DeletePreview удаляет кэшированное превью сотрудника без выдачи.
// Отсутствующее превью ошибкой не считается.
func (s *ArchivalService) DeletePreview(ctx context.Context, retrievalID uuid.UUID, principal Principal) error {
	if principal.CaseWorkerIdent == "" {
		return ErrMissingIdentity
	}
	if err := s.previews.Delete(ctx, retrievalID, principal.CaseWorkerIdent); err != nil {
		return fmt.Errorf("%w: удаление превью: %w", ErrStorage, err)
	}
	return nil
}

// LastArchived возвращает момент последнего архивирования в периоде.
func (s *ArchivalService) LastArchived(ctx context.Context, periodID uuid.UUID) (time.Time, error) {
	entry, err := s.journal.LatestByPeriod(ctx, periodID, model.EntryKindArchiving)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, fmt.Errorf("%w: поиск в журнале: %w", ErrStorage, err)
	}
	return entry.CreatedAt, nil
}

// archiveAndLog — общая часть Archive и SendToUser: рендеринг, запись в архиве, журнал.
func (s *ArchivalService) archiveAndLog(
	ctx context.Context,
	op string,
	p *model.ArchivalPayload,
	principal Principal,
	recordKind archiveclient.Kind,
	entryKind model.EntryKind,
) (*ArchiveResult, error) {
	if principal.Token == "" {
		return nil, ErrUnauthorized
	}
	if principal.CaseWorkerIdent == "" {
		return nil, ErrMissingIdentity
	}
	periodID, err := uuid.Parse(p.Metadata.PeriodID)
	if err != nil {
		return nil, fmt.Errorf("%w: oppfølgingsperiodeId: %w", ErrValidation, err)
	}

	// Момент и ссылка фиксируются до вызовов и совпадают в архиве и журнале.
	archivedAt := s.now().UTC().Truncate(time.Microsecond)
	correlationRef := uuid.New()

	logger := s.logger.With(
		slog.String("operation", op),
		slog.String("correlation_ref", correlationRef.String()),
		slog.String("fnr", maskFnr(p.Metadata.Fnr)),
	)

	pdf, err := s.render(ctx, renderclient.NewPayload(p.Metadata, p.Content, archivedAt))
	if err != nil {
		logger.Error("Рендеринг не удался", slog.String("error", err.Error()))
		return nil, err
	}

	data := archiveclient.RecordData{
		PDF:             pdf,
		Name:            p.Metadata.Name,
		Fnr:             p.Metadata.Fnr,
		PeriodStart:     p.Metadata.PeriodStart,
		PeriodEnd:       p.Metadata.PeriodEnd,
		PeriodID:        periodID,
		CaseID:          p.CaseMetadata.CaseID,
		CaseSystem:      p.CaseMetadata.CaseSystem,
		ResponsibleUnit: p.CaseMetadata.ResponsibleUnit,
		Topic:           p.CaseMetadata.Topic,
		CorrelationRef:  correlationRef,
		ArchivedAt:      archivedAt,
	}
	created, err := s.createRecord(ctx, principal.Token, recordKind, data)
	if err != nil {
		logger.Error("Создание записи в архиве не удалось", slog.String("error", err.Error()))
		return nil, err
	}
	if !created.Finalized {
		logger.Warn("Запись в архиве не завершена, считается успешной",
			slog.String("record_id", created.RecordID),
		)
	}

	entry := &model.JournalEntry{
		CaseWorkerIdent: principal.CaseWorkerIdent,
		SubjectFnr:      p.Metadata.Fnr,
		CreatedAt:       archivedAt,
		CorrelationRef:  correlationRef,
		RecordID:        created.RecordID,
		PeriodID:        periodID,
		Kind:            entryKind,
	}
	if err := s.journal.Append(ctx, entry); err != nil {
		logger.Error("Запись создана в архиве, но не записана в журнал",
			slog.String("record_id", created.RecordID),
			slog.String("error", err.Error()),
		)
		return nil, &StageError{
			Stage:          StageLogging,
			Err:            ErrStorage,
			Cause:          err,
			RecordID:       created.RecordID,
			CorrelationRef: correlationRef,
		}
	}

	logger.Info("План заархивирован",
		slog.String("record_id", created.RecordID),
		slog.String("kind", string(entryKind)),
		slog.Bool("finalized", created.Finalized),
	)

	return &ArchiveResult{
		ArchivedAt:     archivedAt,
		RecordID:       created.RecordID,
		CorrelationRef: correlationRef,
		Finalized:      created.Finalized,
	}, nil
}

// preview — общая часть Preview и PreviewSendToUser.
func (s *ArchivalService) preview(ctx context.Context, p *model.PreviewPayload, principal Principal, lastKind model.EntryKind) (*PreviewResult, error) {
	if principal.Token == "" {
		return nil, ErrUnauthorized
	}
	periodID, err := uuid.Parse(p.Metadata.PeriodID)
	if err != nil {
		return nil, fmt.Errorf("%w: oppfølgingsperiodeId: %w", ErrValidation, err)
	}

	pdf, err := s.render(ctx, renderclient.NewPayload(p.Metadata, p.Content, s.now()))
	if err != nil {
		s.logger.Error("Рендеринг превью не удался", slog.String("error", err.Error()))
		return nil, err
	}

	result := &PreviewResult{PDF: pdf}

	last, err := s.journal.LatestByPeriod(ctx, periodID, lastKind)
	switch {
	case err == nil:
		result.LastArchivedAt = &last.CreatedAt
	case errors.Is(err, repository.ErrNotFound):
	default:
		return nil, &StageError{Stage: StageLookup, Err: ErrStorage, Cause: err}
	}

	if principal.CaseWorkerIdent != "" {
		id, err := s.previews.Put(ctx, principal.CaseWorkerIdent, p.Metadata.Fnr, pdf)
		if err != nil {
			return nil, &StageError{Stage: StageCaching, Err: ErrStorage, Cause: err}
		}
		result.RetrievalID = &id
	}

	return result, nil
}

// render вызывает Renderer и разбирает результат.
func (s *ArchivalService) render(ctx context.Context, payload renderclient.Payload) ([]byte, error) {
	res, panicErr := guard(s.logger, StageRendering, func() renderclient.Result {
		return s.renderer.Render(ctx, payload)
	})
	stageErr := &StageError{Stage: StageRendering, Err: ErrRenderFailed, Cause: panicErr}
	if panicErr != nil {
		return nil, stageErr
	}

	switch r := res.(type) {
	case renderclient.Success:
		return r.PDF, nil
	case renderclient.Failure:
		stageErr.Reason = r.Reason
	default:
		stageErr.Reason = fmt.Sprintf("неизвестный результат %T", res)
	}
	return nil, stageErr
}

// createRecord вызывает RecordCreator и разбирает результат.
func (s *ArchivalService) createRecord(ctx context.Context, token string, kind archiveclient.Kind, data archiveclient.RecordData) (archiveclient.RecordCreated, error) {
	res, panicErr := guard(s.logger, StageArchiving, func() archiveclient.Result {
		return s.archive.CreateRecord(ctx, token, kind, data)
	})
	stageErr := &StageError{
		Stage:          StageArchiving,
		Err:            ErrRecordFailed,
		Cause:          panicErr,
		CorrelationRef: data.CorrelationRef,
	}
	if panicErr != nil {
		return archiveclient.RecordCreated{}, stageErr
	}

	switch r := res.(type) {
	case archiveclient.RecordCreated:
		return r, nil
	case archiveclient.RecordFailed:
		stageErr.Reason = r.Reason
	default:
		stageErr.Reason = fmt.Sprintf("неизвестный результат %T", res)
	}
	return archiveclient.RecordCreated{}, stageErr
}

// observe записывает метрики операции.
func (s *ArchivalService) observe(op string, start time.Time, err *error) {
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	outcome := "success"
	switch {
	case *err == nil:
	case errors.Is(*err, ErrDistributionFailed):
		outcome = "partial"
	default:
		outcome = "error"
	}
	operationsTotal.WithLabelValues(op, outcome).Inc()
}

// guard вызывает fn и превращает панику в ошибку.
func guard[T any](logger *slog.Logger, stage Stage, fn func() T) (res T, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Паника во внешнем вызове",
				slog.String("stage", string(stage)),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("паника: %v", r)
		}
	}()
	return fn(), nil
}

// maskFnr скрывает национальный идентификатор в логах (остаётся дата рождения).
func maskFnr(fnr string) string {
	if len(fnr) <= 6 {
		return fnr
	}
	return fnr[:6] + "*****"
}
