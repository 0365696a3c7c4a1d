// preview_sweeper.go — фоновая очистка кэша превью.
//
// PreviewSweeper запускает горутину с ticker (AR_PREVIEW_SWEEP_INTERVAL),
// которая удаляет превью, не обновлявшиеся дольше AR_PREVIEW_TTL.
// Порог вычисляется часами PostgreSQL. Ошибка или паника одной итерации
// логируется, следующая итерация выполняется по расписанию.
//
// Prometheus-метрики:
//   - archiver_preview_sweep_runs_total — количество итераций
//   - archiver_preview_sweep_deleted_total — количество удалённых превью
//   - archiver_preview_sweep_errors_total — количество неудачных итераций
//   - archiver_preview_sweep_duration_seconds — длительность итерации
package service

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/archiver-module/internal/repository"
)

var (
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archiver_preview_sweep_runs_total",
		Help: "Количество итераций очистки кэша превью",
	})
	sweepDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archiver_preview_sweep_deleted_total",
		Help: "Количество превью, удалённых очисткой",
	})
	sweepErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archiver_preview_sweep_errors_total",
		Help: "Количество неудачных итераций очистки кэша превью",
	})
	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "archiver_preview_sweep_duration_seconds",
		Help:    "Длительность итерации очистки кэша превью",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms … ~16s
	})
)

// PreviewSweeper — фоновая очистка устаревших превью.
type PreviewSweeper struct {
	previews repository.PreviewCacheRepository
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPreviewSweeper создаёт сервис очистки кэша превью.
func NewPreviewSweeper(
	previews repository.PreviewCacheRepository,
	ttl time.Duration,
	interval time.Duration,
	logger *slog.Logger,
) *PreviewSweeper {
	return &PreviewSweeper{
		previews: previews,
		ttl:      ttl,
		interval: interval,
		logger:   logger.With(slog.String("component", "preview_sweeper")),
	}
}

// Start запускает фоновую горутину очистки.
func (s *PreviewSweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Очистка кэша превью запущена",
			slog.String("interval", s.interval.String()),
			slog.String("ttl", s.ttl.String()),
		)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Очистка кэша превью остановлена")
				return
			case <-ticker.C:
				deleted, err := s.RunOnce(ctx)
				if err != nil {
					s.logger.Error("Ошибка очистки кэша превью",
						slog.String("error", err.Error()),
					)
					continue
				}
				if deleted > 0 {
					s.logger.Info("Устаревшие превью удалены",
						slog.Int64("deleted", deleted),
					)
				}
			}
		}
	}()
}

// Stop останавливает фоновую горутину и ждёт завершения.
func (s *PreviewSweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// RunOnce выполняет одну итерацию очистки. Паника превращается в ошибку.
func (s *PreviewSweeper) RunOnce(ctx context.Context) (deleted int64, err error) {
	start := time.Now()
	sweepRunsTotal.Inc()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Паника при очистке кэша превью",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("паника при очистке кэша превью: %v", r)
		}
		if err != nil {
			sweepErrorsTotal.Inc()
		}
		sweepDuration.Observe(time.Since(start).Seconds())
	}()

	deleted, err = s.previews.DeleteNotUpdatedWithin(ctx, s.ttl)
	if err != nil {
		return 0, fmt.Errorf("удаление устаревших превью: %w", err)
	}
	sweepDeletedTotal.Add(float64(deleted))
	return deleted, nil
}
