package models

type MediaKind string

const (
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
	MediaAudio    MediaKind = "audio"
	MediaSticker  MediaKind = "sticker"
)

// MediaItem — сообщение архивного канала в виде, не зависящем от клиента Telegram.
type MediaItem struct {
	ChatID      int64
	MessageID   int
	Kind        MediaKind
	FileID      string
	UniqueID    string
	FileName    string
	FileSize    int64
	Duration    int
	Caption     string
	MimeType    string
	ThumbFileID string
	Title       string
	Performer   string
}

// Hashable — контент хэшируем только для видео и документов.
func (m *MediaItem) Hashable() bool {
	return m.Kind == MediaVideo || m.Kind == MediaDocument
}

func (m *MediaItem) Fingerprint() *Fingerprint {
	return &Fingerprint{
		UniqueID:  m.UniqueID,
		MessageID: m.MessageID,
		Caption:   m.Caption,
		FileSize:  m.FileSize,
		FileName:  m.FileName,
		Duration:  m.Duration,
	}
}
