package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/archiver-module/internal/domain/model"
)

// JournalRepository — журнал архивирования (таблица journalfoeringer).
// Только добавление и чтение: методов изменения и удаления нет.
type JournalRepository interface {
	// Append сохраняет запись и заполняет entry.ID.
	Append(ctx context.Context, entry *model.JournalEntry) error
	// FindBySubject возвращает записи субъекта, новые первыми.
	// kind == nil — без фильтра по типу.
	FindBySubject(ctx context.Context, fnr string, kind *model.EntryKind) ([]*model.JournalEntry, error)
	// FindByPeriod возвращает записи периода сопровождения, новые первыми.
	FindByPeriod(ctx context.Context, periodID uuid.UUID, kind *model.EntryKind) ([]*model.JournalEntry, error)
	// LatestByPeriod возвращает самую свежую запись периода указанного типа.
	// Если записей нет — ErrNotFound.
	LatestByPeriod(ctx context.Context, periodID uuid.UUID, kind model.EntryKind) (*model.JournalEntry, error)
}

type journalRepo struct {
	db DBTX
}

// NewJournalRepository создаёт репозиторий журнала архивирования.
func NewJournalRepository(db DBTX) JournalRepository {
	return &journalRepo{db: db}
}

const journalColumns = `id, nav_ident, fnr, opprettet_tidspunkt, referanse,
		journalpost_id, oppfolgingsperiode_id, type`

func (r *journalRepo) Append(ctx context.Context, entry *model.JournalEntry) error {
	if !entry.Kind.Valid() {
		return fmt.Errorf("неизвестный тип записи журнала: %q", entry.Kind)
	}

	query := `
		INSERT INTO journalfoeringer (nav_ident, fnr, opprettet_tidspunkt, referanse,
			journalpost_id, oppfolgingsperiode_id, type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		entry.CaseWorkerIdent, entry.SubjectFnr, entry.CreatedAt, entry.CorrelationRef,
		entry.RecordID, entry.PeriodID, string(entry.Kind),
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("ошибка записи в журнал (journalpost %s): %w", entry.RecordID, err)
	}
	return nil
}

func (r *journalRepo) FindBySubject(ctx context.Context, fnr string, kind *model.EntryKind) ([]*model.JournalEntry, error) {
	query, args := buildJournalQuery("fnr", fnr, kind, 0)
	return r.queryEntries(ctx, query, args)
}

func (r *journalRepo) FindByPeriod(ctx context.Context, periodID uuid.UUID, kind *model.EntryKind) ([]*model.JournalEntry, error) {
	query, args := buildJournalQuery("oppfolgingsperiode_id", periodID, kind, 0)
	return r.queryEntries(ctx, query, args)
}

func (r *journalRepo) LatestByPeriod(ctx context.Context, periodID uuid.UUID, kind model.EntryKind) (*model.JournalEntry, error) {
	query, args := buildJournalQuery("oppfolgingsperiode_id", periodID, &kind, 1)

	e, err := scanEntry(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения последней записи журнала (период %s): %w", periodID, err)
	}
	return e, nil
}

// buildJournalQuery строит SELECT по одному ключевому столбцу
// с необязательным фильтром по типу и лимитом (0 — без лимита).
func buildJournalQuery(keyColumn string, key any, kind *model.EntryKind, limit int) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(journalColumns)
	b.WriteString("\n\t\tFROM journalfoeringer\n\t\tWHERE ")
	b.WriteString(keyColumn)
	b.WriteString(" = $1")

	args := []any{key}
	if kind != nil {
		args = append(args, string(*kind))
		b.WriteString(" AND type = $" + strconv.Itoa(len(args)))
	}
	b.WriteString("\n\t\tORDER BY opprettet_tidspunkt DESC, id DESC")
	if limit > 0 {
		b.WriteString("\n\t\tLIMIT " + strconv.Itoa(limit))
	}
	return b.String(), args
}

func (r *journalRepo) queryEntries(ctx context.Context, query string, args []any) ([]*model.JournalEntry, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения журнала: %w", err)
	}
	defer rows.Close()

	var result []*model.JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи журнала: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации журнала: %w", err)
	}
	return result, nil
}

// scanEntry сканирует строку в JournalEntry (порядок — journalColumns).
func scanEntry(row pgx.Row) (*model.JournalEntry, error) {
	e := &model.JournalEntry{}
	var kind string
	if err := row.Scan(
		&e.ID, &e.CaseWorkerIdent, &e.SubjectFnr, &e.CreatedAt, &e.CorrelationRef,
		&e.RecordID, &e.PeriodID, &kind,
	); err != nil {
		return nil, err
	}
	e.Kind = model.EntryKind(kind)
	return e, nil
}
