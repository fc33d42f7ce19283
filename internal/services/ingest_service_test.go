package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"

	"tgflix/internal/models"
)

type fakePublisher struct {
	published []int
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, item *models.MediaItem) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	p.published = append(p.published, item.MessageID)
	return 1000 + item.MessageID, nil
}

func TestIngestService_Process(t *testing.T) {
	ctx := context.Background()
	dedup, _ := newDedupFixture(nil)
	pub := &fakePublisher{}
	msgr := &fakeMessenger{}
	ops := &fakeNotifier{}
	svc := NewIngestService(dedup, pub, msgr, ops, zap.NewNop())

	first := &models.MediaItem{ChatID: -100, MessageID: 1, Kind: models.MediaAudio, UniqueID: "u1", FileName: "song.mp3"}
	if err := svc.Process(ctx, first); err != nil {
		t.Fatal(err)
	}
	dup := &models.MediaItem{ChatID: -100, MessageID: 2, Kind: models.MediaAudio, UniqueID: "u1", FileName: "song copy.mp3"}
	if err := svc.Process(ctx, dup); err != nil {
		t.Fatal(err)
	}

	if len(pub.published) != 1 || pub.published[0] != 1 {
		t.Errorf("опубликовано %v, ожидалось [1]", pub.published)
	}
	if len(msgr.deleted) != 1 || msgr.deleted[0] != 2 {
		t.Errorf("удалено %v, ожидалось [2]", msgr.deleted)
	}
	texts := ops.all()
	if len(texts) != 1 || !strings.Contains(texts[0], "Duplicate removed") || !strings.Contains(texts[0], "unique_id") {
		t.Errorf("уведомления: %q", texts)
	}
}

func TestIngestService_HashFailureNotifiesAndPublishes(t *testing.T) {
	ctx := context.Background()
	dedup, _ := newDedupFixture(&fakeSource{fail: errors.New("timeout")})
	pub := &fakePublisher{}
	ops := &fakeNotifier{}
	svc := NewIngestService(dedup, pub, &fakeMessenger{}, ops, zap.NewNop())

	if err := svc.Process(ctx, video(5, "u5", "f5", "film.mkv", 3*ChunkSize)); err != nil {
		t.Fatal(err)
	}
	if len(pub.published) != 1 {
		t.Fatal("элемент без хэшей всё равно публикуется")
	}
	texts := ops.all()
	if len(texts) != 1 || !strings.Contains(texts[0], "Hashing failed") {
		t.Errorf("уведомления: %q", texts)
	}
}

func TestIngestService_OversizedFileIsQuiet(t *testing.T) {
	ctx := context.Background()
	tooBig := fmt.Errorf("%w: Bad Request: file is too big", ErrContentSourceNotReady)
	dedup, _ := newDedupFixture(&fakeSource{fail: tooBig})
	pub := &fakePublisher{}
	ops := &fakeNotifier{}
	svc := NewIngestService(dedup, pub, &fakeMessenger{}, ops, zap.NewNop())

	if err := svc.Process(ctx, video(6, "u6", "f6", "big.mkv", 3*ChunkSize)); err != nil {
		t.Fatal(err)
	}
	if len(pub.published) != 1 {
		t.Fatal("большой файл публикуется без хэшей")
	}
	if texts := ops.all(); len(texts) != 0 {
		t.Errorf("лимит getFile не повод для оповещения: %q", texts)
	}
}

func TestIngestService_PublishError(t *testing.T) {
	dedup, _ := newDedupFixture(nil)
	svc := NewIngestService(dedup, &fakePublisher{err: errors.New("chat not found")}, &fakeMessenger{}, nil, zap.NewNop())
	err := svc.Process(context.Background(), &models.MediaItem{MessageID: 9, Kind: models.MediaAudio, UniqueID: "u9"})
	if err == nil || !strings.Contains(err.Error(), "publish message 9") {
		t.Errorf("err = %v", err)
	}
}
