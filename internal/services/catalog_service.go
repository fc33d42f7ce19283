package services

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"tgflix/internal/models"
	"tgflix/internal/utils"
)

// audioTagBytes — сколько байт начала аудиофайла читать ради тегов с обложкой.
const audioTagBytes int64 = 2 << 20

type MetadataLookup interface {
	Lookup(ctx context.Context, title, year string) (*utils.MovieMeta, error)
}

type CatalogOptions struct {
	ChannelID   int64
	BotUsername string
	Attempts    int
}

// CatalogService публикует посты о новых файлах в публичный индекс-канал.
type CatalogService struct {
	messenger Messenger
	source    ContentSource
	meta      MetadataLookup
	clock     clockwork.Clock
	log       *zap.Logger
	opts      CatalogOptions
}

func NewCatalogService(m Messenger, source ContentSource, meta MetadataLookup, clock clockwork.Clock, opts CatalogOptions, log *zap.Logger) *CatalogService {
	if opts.Attempts <= 0 {
		opts.Attempts = 5
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CatalogService{messenger: m, source: source, meta: meta, clock: clock, log: log, opts: opts}
}

// DisplayName — имя для поста: подпись или имя файла без контейнерного расширения.
func DisplayName(item *models.MediaItem) string {
	name := item.Caption
	if name == "" {
		name = item.FileName
	}
	if name == "" && item.Kind == models.MediaAudio {
		name = strings.TrimSpace(strings.Join([]string{item.Performer, item.Title}, " - "))
		name = strings.Trim(name, " -")
	}
	return strings.TrimSpace(utils.RemoveExtension(name))
}

func (c *CatalogService) DeepLink(messageID int) string {
	return fmt.Sprintf("https://telegram.dog/%s?start=%d", c.opts.BotUsername, messageID)
}

// BuildPost собирает пост без картинки.
func (c *CatalogService) BuildPost(item *models.MediaItem) OutMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n\n", html.EscapeString(DisplayName(item)))
	fmt.Fprintf(&b, "📁 <b>Size:</b> %s", utils.HumanBytes(item.FileSize))
	if d := utils.MediaDuration(item.Duration); d != "" {
		fmt.Fprintf(&b, "\n⏱ <b>Duration:</b> %s", d)
	}
	return OutMessage{
		ChatID:         c.opts.ChannelID,
		Text:           b.String(),
		DisablePreview: true,
		Buttons:        [][]Button{{{Text: "📥 Send in DM", URL: c.DeepLink(item.MessageID)}}},
	}
}

// audioTags читает теги из начала аудиофайла; nil — прочитать не удалось.
func (c *CatalogService) audioTags(ctx context.Context, item *models.MediaItem) *utils.AudioTags {
	if c.source == nil {
		return nil
	}
	size := audioTagBytes
	if item.FileSize > 0 && item.FileSize < size {
		size = item.FileSize
	}
	data, err := c.source.ReadRange(ctx, item, 0, size)
	if err != nil {
		c.log.Debug("[catalog][audio] read failed", zap.Int("message_id", item.MessageID), zap.Error(err))
		return nil
	}
	tags, ok := utils.ReadAudioTags(data)
	if !ok {
		return nil
	}
	return tags
}

// attachPicture: постер из метаданных, обложка из тегов, миниатюра — в этом порядке.
func (c *CatalogService) attachPicture(ctx context.Context, item *models.MediaItem, tags *utils.AudioTags, post *OutMessage) {
	if item.Kind == models.MediaAudio {
		if tags != nil && len(tags.Cover) > 0 {
			post.PhotoBytes = tags.Cover
			return
		}
	} else if c.meta != nil {
		name := item.FileName
		if name == "" {
			name = item.Caption
		}
		if title, year, ok := utils.MovieInfo(name); ok {
			meta, err := c.meta.Lookup(ctx, title, year)
			if err != nil {
				c.log.Debug("[catalog][meta] lookup failed", zap.String("title", title), zap.Error(err))
			} else if meta != nil && meta.PosterURL != "" {
				post.PhotoURL = meta.PosterURL
				return
			}
		}
	}
	if item.ThumbFileID != "" {
		post.PhotoFileID = item.ThumbFileID
	}
}

// Publish отправляет пост в индекс-канал. Стикеры копируются как есть.
// Ошибки загрузки картинки по URL переводят пост в текст, flood wait — ожидание и повтор.
func (c *CatalogService) Publish(ctx context.Context, item *models.MediaItem) (int, error) {
	if item.Kind == models.MediaSticker {
		return c.withFloodRetry(ctx, func() (int, error) {
			return c.messenger.Copy(ctx, c.opts.ChannelID, item.ChatID, item.MessageID, CopyOptions{})
		})
	}
	var tags *utils.AudioTags
	if item.Kind == models.MediaAudio {
		tags = c.audioTags(ctx, item)
		// у сообщения нет исполнителя и названия: берём их из тегов
		if tags != nil && item.Title == "" && item.Performer == "" {
			named := *item
			named.Title, named.Performer = tags.Title, tags.Artist
			item = &named
		}
	}
	post := c.BuildPost(item)
	c.attachPicture(ctx, item, tags, &post)

	return c.withFloodRetry(ctx, func() (int, error) {
		id, err := c.messenger.Send(ctx, post)
		if err != nil && post.HasPhoto() && IsWebpageMediaError(err) {
			c.log.Info("[catalog][publish] picture rejected, sending text", zap.Int("message_id", item.MessageID))
			post = post.WithoutPhoto()
			return c.messenger.Send(ctx, post)
		}
		return id, err
	})
}

func (c *CatalogService) withFloodRetry(ctx context.Context, fn func() (int, error)) (int, error) {
	var id int
	err := retryOnFlood(ctx, c.clock, c.opts.Attempts, 0, func() error {
		var err error
		id, err = fn()
		return err
	})
	return id, err
}
