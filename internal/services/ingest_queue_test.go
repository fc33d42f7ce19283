package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"tgflix/internal/models"
)

func TestIngestQueue_FIFOAndStop(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []int
	)
	q := NewIngestQueue(10, 0, clockwork.NewFakeClock(), func(_ context.Context, item *models.MediaItem) error {
		mu.Lock()
		seen = append(seen, item.MessageID)
		mu.Unlock()
		if item.MessageID == 2 {
			return errors.New("publish failed")
		}
		return nil
	}, zap.NewNop())

	ctx := context.Background()
	for i := 1; i <= 4; i++ {
		if err := q.Enqueue(ctx, &models.MediaItem{MessageID: i}); err != nil {
			t.Fatal(err)
		}
	}
	if q.Len() != 4 {
		t.Fatalf("Len = %d, ожидалось 4", q.Len())
	}

	runErr := make(chan error, 1)
	go func() { runErr <- q.Run(ctx) }()
	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := q.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := <-runErr; err != nil {
		t.Fatalf("Run: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	want := []int{1, 2, 3, 4}
	if len(seen) != len(want) {
		t.Fatalf("обработано %v, ожидалось %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("порядок %v, ожидалось %v", seen, want)
		}
	}
}

func TestIngestQueue_RecoversFromPanic(t *testing.T) {
	var processed []int
	q := NewIngestQueue(4, 0, nil, func(_ context.Context, item *models.MediaItem) error {
		if item.MessageID == 1 {
			panic("broken item")
		}
		processed = append(processed, item.MessageID)
		return nil
	}, zap.NewNop())

	ctx := context.Background()
	_ = q.Enqueue(ctx, &models.MediaItem{MessageID: 1})
	_ = q.Enqueue(ctx, &models.MediaItem{MessageID: 2})
	runErr := make(chan error, 1)
	go func() { runErr <- q.Run(ctx) }()
	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := q.Stop(stopCtx); err != nil {
		t.Fatal(err)
	}
	if err := <-runErr; err != nil {
		t.Fatal(err)
	}
	if len(processed) != 1 || processed[0] != 2 {
		t.Errorf("после паники обработано %v, ожидалось [2]", processed)
	}
}

func TestIngestQueue_EnqueueRejectsNilAndHonoursContext(t *testing.T) {
	q := NewIngestQueue(1, 0, nil, func(context.Context, *models.MediaItem) error { return nil }, zap.NewNop())
	if err := q.Enqueue(context.Background(), nil); err == nil {
		t.Error("nil должен отвергаться: он зарезервирован под стоп")
	}
	if err := q.Enqueue(context.Background(), &models.MediaItem{MessageID: 1}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(ctx, &models.MediaItem{MessageID: 2}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("полная очередь: %v", err)
	}
}

func TestIngestQueue_RunStopsOnCancel(t *testing.T) {
	q := NewIngestQueue(1, 0, nil, func(context.Context, *models.MediaItem) error { return nil }, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, ожидался context.Canceled", err)
	}
}

func TestIngestQueue_StopAfterWorkerExit(t *testing.T) {
	q := NewIngestQueue(1, 0, nil, func(context.Context, *models.MediaItem) error { return nil }, zap.NewNop())
	if err := q.Enqueue(context.Background(), &models.MediaItem{MessageID: 1}); err != nil {
		t.Fatal(err)
	}
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_ = q.Run(cancelled)

	// буфер полон, обработчика нет: Stop всё равно должен вернуться
	ctx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	if err := q.Stop(ctx); err != nil {
		t.Errorf("Stop после выхода Run: %v", err)
	}
}

func TestIngestQueue_StopHonoursContextWithoutWorker(t *testing.T) {
	q := NewIngestQueue(1, 0, nil, func(context.Context, *models.MediaItem) error { return nil }, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Stop без обработчика = %v, ожидался DeadlineExceeded", err)
	}
}
