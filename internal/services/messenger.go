package services

import "context"

type Button struct {
	Text string
	URL  string
	Data string
}

// OutMessage — исходящее сообщение. Фото берётся из первого заполненного поля:
// PhotoBytes, PhotoFileID, PhotoURL; без фото уходит текст.
type OutMessage struct {
	ChatID         int64
	Text           string
	PhotoURL       string
	PhotoFileID    string
	PhotoBytes     []byte
	Buttons        [][]Button
	ReplyTo        int
	ProtectContent bool
	DisablePreview bool
}

func (m OutMessage) HasPhoto() bool {
	return len(m.PhotoBytes) > 0 || m.PhotoFileID != "" || m.PhotoURL != ""
}

// WithoutPhoto — текстовый вариант того же поста.
func (m OutMessage) WithoutPhoto() OutMessage {
	m.PhotoURL, m.PhotoFileID, m.PhotoBytes = "", "", nil
	return m
}

type CopyOptions struct {
	Caption        string
	Buttons        [][]Button
	ProtectContent bool
}

// Messenger — исходящие действия в Telegram.
type Messenger interface {
	Send(ctx context.Context, msg OutMessage) (int, error)
	Copy(ctx context.Context, toChatID, fromChatID int64, messageID int, opts CopyOptions) (int, error)
	Delete(ctx context.Context, chatID int64, messageID int) error
}

// Notifier — служебные уведомления (лог-канал, почта).
type Notifier interface {
	Notify(ctx context.Context, text string)
}
