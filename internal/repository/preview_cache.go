package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PreviewCacheRepository — кэш превью PDF (таблица cachet_pdf).
type PreviewCacheRepository interface {
	// Put сохраняет превью для пары (сотрудник, субъект), перезаписывая
	// предыдущее, и возвращает новый идентификатор выдачи.
	Put(ctx context.Context, caseWorkerIdent, fnr string, pdf []byte) (uuid.UUID, error)
	// Take атомарно читает и удаляет превью сотрудника caseWorkerIdent.
	// Если записи нет или она принадлежит другому сотруднику — ErrNotFound.
	Take(ctx context.Context, retrievalID uuid.UUID, caseWorkerIdent string) ([]byte, error)
	// Delete удаляет превью сотрудника. Отсутствие записи ошибкой не считается.
	Delete(ctx context.Context, retrievalID uuid.UUID, caseWorkerIdent string) error
	// DeleteNotUpdatedWithin удаляет превью, не обновлявшиеся дольше ttl
	// (порог вычисляется часами БД). Возвращает число удалённых строк.
	DeleteNotUpdatedWithin(ctx context.Context, ttl time.Duration) (int64, error)
}

type previewCacheRepo struct {
	db DBTX
}

// NewPreviewCacheRepository создаёт репозиторий кэша превью.
func NewPreviewCacheRepository(db DBTX) PreviewCacheRepository {
	return &previewCacheRepo{db: db}
}

// Put — INSERT ... ON CONFLICT DO UPDATE одной командой, uuid генерирует БД.
func (r *previewCacheRepo) Put(ctx context.Context, caseWorkerIdent, fnr string, pdf []byte) (uuid.UUID, error) {
	query := `
		INSERT INTO cachet_pdf (veileder_ident, fnr, pdf)
		VALUES ($1, $2, $3)
		ON CONFLICT (veileder_ident, fnr) DO UPDATE
		SET pdf = EXCLUDED.pdf,
			uuid = gen_random_uuid(),
			updated_at = NOW()
		RETURNING uuid`

	var id uuid.UUID
	if err := r.db.QueryRow(ctx, query, caseWorkerIdent, fnr, pdf).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("ошибка сохранения превью: %w", err)
	}
	return id, nil
}

func (r *previewCacheRepo) Take(ctx context.Context, retrievalID uuid.UUID, caseWorkerIdent string) ([]byte, error) {
	query := `DELETE FROM cachet_pdf WHERE uuid = $1 AND veileder_ident = $2 RETURNING pdf`

	var pdf []byte
	err := r.db.QueryRow(ctx, query, retrievalID, caseWorkerIdent).Scan(&pdf)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка выдачи превью %s: %w", retrievalID, err)
	}
	return pdf, nil
}

func (r *previewCacheRepo) Delete(ctx context.Context, retrievalID uuid.UUID, caseWorkerIdent string) error {
	query := `DELETE FROM cachet_pdf WHERE uuid = $1 AND veileder_ident = $2`
	if _, err := r.db.Exec(ctx, query, retrievalID, caseWorkerIdent); err != nil {
		return fmt.Errorf("ошибка удаления превью %s: %w", retrievalID, err)
	}
	return nil
}

func (r *previewCacheRepo) DeleteNotUpdatedWithin(ctx context.Context, ttl time.Duration) (int64, error) {
	query := `DELETE FROM cachet_pdf WHERE updated_at < NOW() - $1::interval`

	tag, err := r.db.Exec(ctx, query, ttl)
	if err != nil {
		return 0, fmt.Errorf("ошибка очистки устаревших превью: %w", err)
	}
	return tag.RowsAffected(), nil
}
