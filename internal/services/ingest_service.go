package services

import (
	"context"
	"errors"
	"fmt"
	"html"

	"go.uber.org/zap"

	"tgflix/internal/metrics"
	"tgflix/internal/models"
)

// Publisher — публикация карточки в каталог.
type Publisher interface {
	Publish(ctx context.Context, item *models.MediaItem) (int, error)
}

// IngestService: проверка на дубликат → удаление дубликата или публикация.
type IngestService struct {
	dedup     *DedupService
	publisher Publisher
	messenger Messenger
	ops       Notifier
	log       *zap.Logger
}

func NewIngestService(dedup *DedupService, publisher Publisher, messenger Messenger, ops Notifier, log *zap.Logger) *IngestService {
	return &IngestService{dedup: dedup, publisher: publisher, messenger: messenger, ops: ops, log: log}
}

func (s *IngestService) notify(ctx context.Context, text string) {
	if s.ops != nil {
		s.ops.Notify(ctx, text)
	}
}

// Process — обработчик для IngestQueue.
func (s *IngestService) Process(ctx context.Context, item *models.MediaItem) error {
	res, err := s.dedup.Check(ctx, item)
	if err != nil {
		return fmt.Errorf("duplicate check: %w", err)
	}
	switch {
	case res.HashFailed && errors.Is(res.HashErr, ErrContentSourceNotReady):
		// файл больше лимита getFile: ожидаемо без локального Bot API, владельца не дёргаем
		s.log.Info("[ingest][hash] content not downloadable, admitted without hashes",
			zap.Int("message_id", item.MessageID), zap.Int64("size", item.FileSize))
	case res.HashFailed:
		s.notify(ctx, fmt.Sprintf("⚠️ <b>Hashing failed</b> for message <code>%d</code>: %s",
			item.MessageID, html.EscapeString(res.HashErr.Error())))
	}

	if res.Duplicate {
		metrics.IngestResults.WithLabelValues("duplicate").Inc()
		s.log.Info("[ingest][dedup] duplicate removed",
			zap.Int("message_id", item.MessageID),
			zap.String("reason", string(res.Reason)),
			zap.Int("original", res.Existing.MessageID),
		)
		s.notify(ctx, fmt.Sprintf("♻️ <b>Duplicate removed</b>\n<b>File:</b> %s\n<b>Reason:</b> %s\n<b>Original message:</b> <code>%d</code>",
			html.EscapeString(DisplayName(item)), res.Reason, res.Existing.MessageID))
		if err := s.messenger.Delete(ctx, item.ChatID, item.MessageID); err != nil {
			s.log.Warn("[ingest][dedup] delete source failed", zap.Int("message_id", item.MessageID), zap.Error(err))
		}
		return nil
	}

	if _, err := s.publisher.Publish(ctx, item); err != nil {
		return fmt.Errorf("publish message %d: %w", item.MessageID, err)
	}
	metrics.IngestResults.WithLabelValues("admitted").Inc()
	s.log.Info("[ingest][publish] admitted", zap.Int("message_id", item.MessageID))
	return nil
}
