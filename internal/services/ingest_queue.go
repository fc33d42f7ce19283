package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"tgflix/internal/metrics"
	"tgflix/internal/models"
)

// IngestHandler обрабатывает один элемент очереди.
type IngestHandler func(ctx context.Context, item *models.MediaItem) error

// IngestQueue — строго последовательная FIFO-очередь с одним обработчиком.
// nil в канале — сигнал остановки.
type IngestQueue struct {
	items    chan *models.MediaItem
	done     chan struct{}
	doneOnce sync.Once
	handler  IngestHandler
	throttle time.Duration
	clock    clockwork.Clock
	log      *zap.Logger
}

func NewIngestQueue(size int, throttle time.Duration, clock clockwork.Clock, handler IngestHandler, log *zap.Logger) *IngestQueue {
	if size <= 0 {
		size = 1000
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &IngestQueue{
		items:    make(chan *models.MediaItem, size),
		done:     make(chan struct{}),
		handler:  handler,
		throttle: throttle,
		clock:    clock,
		log:      log,
	}
}

// Enqueue ждёт место в очереди или отмены ctx.
func (q *IngestQueue) Enqueue(ctx context.Context, item *models.MediaItem) error {
	if item == nil {
		return fmt.Errorf("enqueue: nil item")
	}
	select {
	case q.items <- item:
		metrics.QueueDepth.Set(float64(len(q.items)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ставит сигнал остановки за уже поставленными элементами и ждёт,
// пока обработчик их разберёт. Не блокируется после выхода Run.
func (q *IngestQueue) Stop(ctx context.Context) error {
	select {
	case q.items <- nil:
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *IngestQueue) Len() int { return len(q.items) }

// Run обрабатывает элементы по одному до nil или отмены ctx.
func (q *IngestQueue) Run(ctx context.Context) error {
	defer q.doneOnce.Do(func() { close(q.done) })
	q.log.Info("[ingest][queue] worker started")
	for {
		var item *models.MediaItem
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item = <-q.items:
		}
		metrics.QueueDepth.Set(float64(len(q.items)))
		if item == nil {
			q.log.Info("[ingest][queue] worker stopped")
			return nil
		}
		q.process(ctx, item)
		if err := sleepCtx(ctx, q.clock, q.throttle); err != nil {
			return err
		}
	}
}

func (q *IngestQueue) process(ctx context.Context, item *models.MediaItem) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IngestResults.WithLabelValues("failed").Inc()
			q.log.Error("[ingest][queue] panic", zap.Int("message_id", item.MessageID), zap.Any("panic", r))
		}
	}()
	if err := q.handler(ctx, item); err != nil {
		metrics.IngestResults.WithLabelValues("failed").Inc()
		q.log.Error("[ingest][queue] item failed", zap.Int("message_id", item.MessageID), zap.Error(err))
	}
}
