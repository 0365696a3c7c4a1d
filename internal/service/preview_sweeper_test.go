package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPreviewSweeper_RunOnce_RemovesStale(t *testing.T) {
	previews := newMemPreviews()
	ctx := context.Background()

	stale, err := previews.Put(ctx, "Z123456", "01015450300", []byte("%PDF-old"))
	if err != nil {
		t.Fatal(err)
	}
	previews.advance(45 * time.Minute)
	fresh, err := previews.Put(ctx, "Z654321", "01015450300", []byte("%PDF-new"))
	if err != nil {
		t.Fatal(err)
	}
	previews.advance(20 * time.Minute)

	sweeper := NewPreviewSweeper(previews, time.Hour, time.Minute, testLogger())
	deleted, err := sweeper.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() ошибка: %v", err)
	}
	if deleted != 1 {
		t.Errorf("удалено %d, ожидалось 1", deleted)
	}

	if _, err := previews.Take(ctx, stale, "Z123456"); err == nil {
		t.Error("устаревшее превью должно быть удалено")
	}
	if _, err := previews.Take(ctx, fresh, "Z654321"); err != nil {
		t.Errorf("свежее превью должно остаться: %v", err)
	}
}

func TestPreviewSweeper_TakeBeforeSweep(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	result, err := env.svc.Preview(ctx, testPreviewPayload(), testPrincipal)
	if err != nil {
		t.Fatal(err)
	}
	env.previews.advance(30 * time.Minute)

	if _, err := env.svc.TakePreview(ctx, *result.RetrievalID, testPrincipal); err != nil {
		t.Fatalf("выдача до очистки: %v", err)
	}

	env.previews.advance(2 * time.Hour)
	sweeper := NewPreviewSweeper(env.previews, time.Hour, time.Minute, testLogger())
	deleted, err := sweeper.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 0 {
		t.Errorf("удалено %d, выданное превью уже удалено из кэша", deleted)
	}
}

func TestPreviewSweeper_RunOnce_Errors(t *testing.T) {
	t.Run("ошибка хранилища", func(t *testing.T) {
		previews := newMemPreviews()
		previews.deleteFn = func() (int64, error) { return 0, errors.New("db down") }

		sweeper := NewPreviewSweeper(previews, time.Hour, time.Minute, testLogger())
		if _, err := sweeper.RunOnce(context.Background()); err == nil {
			t.Error("ожидалась ошибка")
		}
	})

	t.Run("паника", func(t *testing.T) {
		previews := newMemPreviews()
		previews.deleteFn = func() (int64, error) { panic("nil pointer") }

		sweeper := NewPreviewSweeper(previews, time.Hour, time.Minute, testLogger())
		_, err := sweeper.RunOnce(context.Background())
		if err == nil {
			t.Error("паника должна превращаться в ошибку")
		}
	})
}

func TestPreviewSweeper_LoopContinuesAfterError(t *testing.T) {
	previews := newMemPreviews()
	var attempts atomic.Int32
	previews.deleteFn = func() (int64, error) {
		if attempts.Add(1) == 1 {
			return 0, errors.New("db down")
		}
		return 0, nil
	}

	sweeper := NewPreviewSweeper(previews, time.Hour, 20*time.Millisecond, testLogger())
	sweeper.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for previews.sweepCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	sweeper.Stop()

	if n := previews.sweepCount(); n < 3 {
		t.Errorf("итераций очистки = %d, ожидалось не меньше 3", n)
	}
}

func TestPreviewSweeper_StopWithoutStart(t *testing.T) {
	sweeper := NewPreviewSweeper(newMemPreviews(), time.Hour, time.Minute, testLogger())
	sweeper.Stop()
}
