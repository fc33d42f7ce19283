package services

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// BroadcastAudience — получатели рассылки и чистка недоступных.
type BroadcastAudience interface {
	UserIDs(ctx context.Context) ([]int64, error)
	DeleteUser(ctx context.Context, id int64) error
}

type BroadcastSummary struct {
	Total   int
	Success int
	Blocked int
	Deleted int
	Failed  int
}

type BroadcastService struct {
	messenger Messenger
	audience  BroadcastAudience
	clock     clockwork.Clock
	pause     time.Duration
	log       *zap.Logger
}

func NewBroadcastService(m Messenger, audience BroadcastAudience, clock clockwork.Clock, pause time.Duration, log *zap.Logger) *BroadcastService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &BroadcastService{messenger: m, audience: audience, clock: clock, pause: pause, log: log}
}

// Run копирует сообщение всем пользователям по очереди. Рассылка не прерывается
// отменой ctx и ошибкой отдельного получателя.
func (b *BroadcastService) Run(ctx context.Context, fromChatID int64, messageID int, progress func(BroadcastSummary)) (BroadcastSummary, error) {
	ctx = context.WithoutCancel(ctx)
	var sum BroadcastSummary
	ids, err := b.audience.UserIDs(ctx)
	if err != nil {
		return sum, err
	}
	sum.Total = len(ids)

	for i, id := range ids {
		err := b.copyTo(ctx, id, fromChatID, messageID)
		switch {
		case err == nil:
			sum.Success++
		case IsRecipientGone(err):
			if IsUserDeactivated(err) {
				sum.Deleted++
			} else {
				sum.Blocked++
			}
			if derr := b.audience.DeleteUser(ctx, id); derr != nil {
				b.log.Warn("[broadcast] delete unreachable user failed", zap.Int64("user", id), zap.Error(derr))
			}
		default:
			sum.Failed++
			b.log.Debug("[broadcast] send failed", zap.Int64("user", id), zap.Error(err))
		}
		if progress != nil {
			progress(sum)
		}
		if i < len(ids)-1 {
			_ = sleepCtx(ctx, b.clock, b.pause)
		}
	}
	b.log.Info("[broadcast] done",
		zap.Int("total", sum.Total), zap.Int("success", sum.Success),
		zap.Int("blocked", sum.Blocked), zap.Int("deleted", sum.Deleted), zap.Int("failed", sum.Failed))
	return sum, nil
}

// copyTo: при flood wait ждём и пробуем ещё один раз.
func (b *BroadcastService) copyTo(ctx context.Context, userID, fromChatID int64, messageID int) error {
	return retryOnFlood(ctx, b.clock, 2, 0, func() error {
		_, err := b.messenger.Copy(ctx, userID, fromChatID, messageID, CopyOptions{})
		return err
	})
}
