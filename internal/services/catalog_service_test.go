package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"tgflix/internal/models"
	"tgflix/internal/utils"
)

type fakeMeta struct {
	poster string
	asked  []string
}

func (m *fakeMeta) Lookup(_ context.Context, title, year string) (*utils.MovieMeta, error) {
	m.asked = append(m.asked, title+"|"+year)
	if m.poster == "" {
		return nil, nil
	}
	return &utils.MovieMeta{PosterURL: m.poster}, nil
}

func newCatalog(m Messenger, src ContentSource, meta MetadataLookup) *CatalogService {
	return NewCatalogService(m, src, meta, clockwork.NewFakeClock(), CatalogOptions{
		ChannelID:   -1009,
		BotUsername: "tgflix_bot",
		Attempts:    3,
	}, zap.NewNop())
}

func TestDisplayName(t *testing.T) {
	cases := []struct {
		item *models.MediaItem
		want string
	}{
		{&models.MediaItem{Caption: "Dune.2021.1080p.mkv", FileName: "x.mp4"}, "Dune.2021.1080p"},
		{&models.MediaItem{FileName: "clip.MP4"}, "clip"},
		{&models.MediaItem{Kind: models.MediaAudio, Performer: "Artist", Title: "Song"}, "Artist - Song"},
		{&models.MediaItem{Kind: models.MediaAudio, Title: "Solo"}, "Solo"},
	}
	for _, c := range cases {
		if got := DisplayName(c.item); got != c.want {
			t.Errorf("DisplayName(%+v) = %q, ожидалось %q", c.item, got, c.want)
		}
	}
}

func TestCatalog_PublishPosterFromMetadata(t *testing.T) {
	msgr := &fakeMessenger{}
	meta := &fakeMeta{poster: "https://image.tmdb.org/t/p/w500/dune.jpg"}
	c := newCatalog(msgr, nil, meta)

	item := &models.MediaItem{MessageID: 15, Kind: models.MediaVideo, FileName: "Dune 2021 1080p.mkv", FileSize: 3 << 30, Duration: 9300, ThumbFileID: "thumb"}
	if _, err := c.Publish(context.Background(), item); err != nil {
		t.Fatal(err)
	}
	sent := msgr.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("отправлено %d", len(sent))
	}
	post := sent[0]
	if post.ChatID != -1009 || post.PhotoURL != meta.poster {
		t.Errorf("пост: chat=%d photo=%q", post.ChatID, post.PhotoURL)
	}
	if !strings.Contains(post.Text, "<b>Dune 2021 1080p</b>") || !strings.Contains(post.Text, "3.0 GiB") {
		t.Errorf("текст поста: %q", post.Text)
	}
	if got := post.Buttons[0][0].URL; got != "https://telegram.dog/tgflix_bot?start=15" {
		t.Errorf("кнопка: %q", got)
	}
	if len(meta.asked) != 1 || meta.asked[0] != "Dune|2021" {
		t.Errorf("запросы метаданных: %v", meta.asked)
	}
}

func TestCatalog_WebpageMediaFallsBackToText(t *testing.T) {
	msgr := &fakeMessenger{sendErrs: []error{&tgbotapi.Error{Code: 400, Message: "Bad Request: WEBPAGE_MEDIA_EMPTY"}}}
	c := newCatalog(msgr, nil, nil)

	item := &models.MediaItem{MessageID: 3, Kind: models.MediaDocument, FileName: "book.pdf", FileSize: 1024, ThumbFileID: "thumb"}
	if _, err := c.Publish(context.Background(), item); err != nil {
		t.Fatal(err)
	}
	sent := msgr.sentMessages()
	if len(sent) != 1 || sent[0].HasPhoto() {
		t.Fatalf("ожидался один текстовый пост, получено %+v", sent)
	}
}

func TestCatalog_FloodWaitRetries(t *testing.T) {
	msgr := &fakeMessenger{sendErrs: []error{&RetryAfterError{After: 0, Err: errors.New("Too Many Requests")}}}
	c := newCatalog(msgr, nil, nil)
	if _, err := c.Publish(context.Background(), &models.MediaItem{MessageID: 4, Kind: models.MediaDocument, FileName: "a.zip"}); err != nil {
		t.Fatal(err)
	}
	if len(msgr.sentMessages()) != 1 {
		t.Error("после flood wait пост должен уйти со второй попытки")
	}
}

func TestCatalog_OtherErrorsPropagate(t *testing.T) {
	msgr := &fakeMessenger{sendErrs: []error{errors.New("chat not found")}}
	c := newCatalog(msgr, nil, nil)
	if _, err := c.Publish(context.Background(), &models.MediaItem{MessageID: 4, Kind: models.MediaDocument}); err == nil {
		t.Error("ошибка публикации должна вернуться")
	}
}

func TestCatalog_StickerIsCopied(t *testing.T) {
	msgr := &fakeMessenger{}
	c := newCatalog(msgr, nil, nil)
	if _, err := c.Publish(context.Background(), &models.MediaItem{ChatID: -100, MessageID: 8, Kind: models.MediaSticker}); err != nil {
		t.Fatal(err)
	}
	if len(msgr.copies) != 1 || len(msgr.sentMessages()) != 0 {
		t.Fatalf("copies=%d sent=%d", len(msgr.copies), len(msgr.sentMessages()))
	}
	cp := msgr.copies[0]
	if cp.To != -1009 || cp.From != -100 || cp.MessageID != 8 {
		t.Errorf("копия %+v", cp)
	}
}

func TestCatalog_AudioWithoutTagsUsesThumb(t *testing.T) {
	msgr := &fakeMessenger{}
	src := &fakeSource{seeds: map[string]byte{"a1": 0}}
	c := newCatalog(msgr, src, nil)

	item := &models.MediaItem{MessageID: 6, Kind: models.MediaAudio, FileID: "a1", FileSize: 4096, Performer: "Band", Title: "Track", ThumbFileID: "cover-thumb"}
	if _, err := c.Publish(context.Background(), item); err != nil {
		t.Fatal(err)
	}
	sent := msgr.sentMessages()
	if len(sent) != 1 || sent[0].PhotoFileID != "cover-thumb" {
		t.Fatalf("пост %+v", sent)
	}
	if !strings.Contains(sent[0].Text, "Band - Track") {
		t.Errorf("текст %q", sent[0].Text)
	}
	if src.calls != 1 {
		t.Errorf("чтений %d", src.calls)
	}
}
