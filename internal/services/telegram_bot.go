package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tgflix/internal/models"
)

// TelegramBot — обёртка над Bot API: лимит запросов, Messenger, ContentSource.
type TelegramBot struct {
	api          *tgbotapi.BotAPI
	token        string
	fileEndpoint string
	limiter      *rate.Limiter
	client       *http.Client
	log          *zap.Logger
}

type BotOptions struct {
	// APIEndpoint / FileEndpoint — для локального Bot API сервера, формат как у tgbotapi.
	APIEndpoint   string
	FileEndpoint  string
	RatePerSecond float64
	Debug         bool
}

// NewTelegramBot: RatePerSecond — общий лимит вызовов API в секунду.
func NewTelegramBot(token string, opts BotOptions, log *zap.Logger) (*TelegramBot, error) {
	apiEndpoint := opts.APIEndpoint
	if apiEndpoint == "" {
		apiEndpoint = tgbotapi.APIEndpoint
	}
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, apiEndpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	api.Debug = opts.Debug
	rps := opts.RatePerSecond
	if rps <= 0 {
		rps = 25
	}
	fileEndpoint := opts.FileEndpoint
	if fileEndpoint == "" {
		fileEndpoint = tgbotapi.FileEndpoint
	}
	return &TelegramBot{
		api:          api,
		token:        token,
		fileEndpoint: fileEndpoint,
		limiter:      rate.NewLimiter(rate.Limit(rps), int(rps)),
		client:       &http.Client{Timeout: 60 * time.Second},
		log:          log,
	}, nil
}

func (t *TelegramBot) API() *tgbotapi.BotAPI { return t.api }

func (t *TelegramBot) Username() string { return t.api.Self.UserName }

func (t *TelegramBot) request(ctx context.Context, c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.api.Request(c)
}

func (t *TelegramBot) send(ctx context.Context, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return tgbotapi.Message{}, err
	}
	return t.api.Send(c)
}

func inlineKeyboard(rows [][]Button) *tgbotapi.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	var kb [][]tgbotapi.InlineKeyboardButton
	for _, row := range rows {
		var r []tgbotapi.InlineKeyboardButton
		for _, b := range row {
			if b.URL != "" {
				r = append(r, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
			} else {
				r = append(r, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
			}
		}
		kb = append(kb, r)
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(kb...)
	return &markup
}

// call — прямой вызов метода Bot API с готовыми параметрами.
func (t *TelegramBot) call(ctx context.Context, endpoint string, params tgbotapi.Params, files []tgbotapi.RequestFile) (*tgbotapi.APIResponse, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if len(files) > 0 {
		return t.api.UploadFiles(endpoint, params, files)
	}
	return t.api.MakeRequest(endpoint, params)
}

// messageParams собирает sendMessage/sendPhoto вручную: в конфигах tgbotapi нет protect_content.
func messageParams(m OutMessage) (string, tgbotapi.Params, []tgbotapi.RequestFile, error) {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", m.ChatID)
	params.AddNonEmpty("parse_mode", tgbotapi.ModeHTML)
	params.AddNonZero("reply_to_message_id", m.ReplyTo)
	params.AddBool("protect_content", m.ProtectContent)
	if kb := inlineKeyboard(m.Buttons); kb != nil {
		if err := params.AddInterface("reply_markup", kb); err != nil {
			return "", nil, nil, fmt.Errorf("reply markup: %w", err)
		}
	}
	if !m.HasPhoto() {
		params.AddNonEmpty("text", m.Text)
		params.AddBool("disable_web_page_preview", m.DisablePreview)
		return "sendMessage", params, nil, nil
	}

	params.AddNonEmpty("caption", m.Text)
	var file tgbotapi.RequestFileData
	switch {
	case len(m.PhotoBytes) > 0:
		file = tgbotapi.FileBytes{Name: "cover.jpg", Bytes: m.PhotoBytes}
	case m.PhotoFileID != "":
		file = tgbotapi.FileID(m.PhotoFileID)
	default:
		file = tgbotapi.FileURL(m.PhotoURL)
	}
	if file.NeedsUpload() {
		return "sendPhoto", params, []tgbotapi.RequestFile{{Name: "photo", Data: file}}, nil
	}
	params["photo"] = file.SendData()
	return "sendPhoto", params, nil, nil
}

func copyParams(toChatID, fromChatID int64, messageID int, opts CopyOptions) (tgbotapi.Params, error) {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", toChatID)
	params.AddNonZero64("from_chat_id", fromChatID)
	params.AddNonZero("message_id", messageID)
	if opts.Caption != "" {
		params.AddNonEmpty("caption", opts.Caption)
		params.AddNonEmpty("parse_mode", tgbotapi.ModeHTML)
	}
	params.AddBool("protect_content", opts.ProtectContent)
	if kb := inlineKeyboard(opts.Buttons); kb != nil {
		if err := params.AddInterface("reply_markup", kb); err != nil {
			return nil, fmt.Errorf("reply markup: %w", err)
		}
	}
	return params, nil
}

func (t *TelegramBot) Send(ctx context.Context, m OutMessage) (int, error) {
	if m.ChatID == 0 {
		t.log.Debug("[tg][skip] empty chat id")
		return 0, nil
	}
	endpoint, params, files, err := messageParams(m)
	if err != nil {
		return 0, err
	}
	resp, err := t.call(ctx, endpoint, params, files)
	if err != nil {
		t.log.Warn("[tg][send] failed", zap.Int64("chat", m.ChatID), zap.Error(err))
		return 0, err
	}
	var sent tgbotapi.Message
	if err := json.Unmarshal(resp.Result, &sent); err != nil {
		return 0, fmt.Errorf("decode %s result: %w", endpoint, err)
	}
	return sent.MessageID, nil
}

func (t *TelegramBot) Copy(ctx context.Context, toChatID, fromChatID int64, messageID int, opts CopyOptions) (int, error) {
	params, err := copyParams(toChatID, fromChatID, messageID, opts)
	if err != nil {
		return 0, err
	}
	resp, err := t.call(ctx, "copyMessage", params, nil)
	if err != nil {
		t.log.Warn("[tg][copy] failed", zap.Int64("to", toChatID), zap.Int("message", messageID), zap.Error(err))
		return 0, err
	}
	var id tgbotapi.MessageID
	if err := json.Unmarshal(resp.Result, &id); err != nil {
		return 0, fmt.Errorf("decode copyMessage result: %w", err)
	}
	return id.MessageID, nil
}

func (t *TelegramBot) Delete(ctx context.Context, chatID int64, messageID int) error {
	_, err := t.request(ctx, tgbotapi.NewDeleteMessage(chatID, messageID))
	return err
}

// readLocalRange: локальный Bot API сервер в режиме --local отдаёт абсолютный путь
// на своём диске и не ограничивает размер файла.
func readLocalRange(path string, offset, length int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open local file: %w", err)
	}
	defer f.Close()
	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read local file: %w", err)
	}
	return buf[:n], nil
}

// ReadRange читает байты файла через getFile + HTTP Range.
// Облачный Bot API отдаёт только файлы до 20 МБ, для больших нужен локальный сервер.
func (t *TelegramBot) ReadRange(ctx context.Context, item *models.MediaItem, offset, length int64) ([]byte, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	f, err := t.api.GetFile(tgbotapi.FileConfig{FileID: item.FileID})
	if err != nil {
		// Bot API не отдаёт файлы больше 20 МБ
		if strings.Contains(strings.ToLower(err.Error()), "file is too big") {
			return nil, fmt.Errorf("%w: %v", ErrContentSourceNotReady, err)
		}
		return nil, fmt.Errorf("get file: %w", err)
	}
	if f.FilePath == "" {
		return nil, ErrContentSourceNotReady
	}
	if filepath.IsAbs(f.FilePath) {
		return readLocalRange(f.FilePath, offset, length)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(t.fileEndpoint, t.token, f.FilePath), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download range: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
	case http.StatusTooManyRequests:
		after, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return nil, &RetryAfterError{After: time.Duration(after) * time.Second, Err: errors.New("file download throttled")}
	default:
		return nil, fmt.Errorf("download range: status %d", resp.StatusCode)
	}
	// сервер мог проигнорировать Range и отдать файл целиком
	if resp.StatusCode == http.StatusOK && offset > 0 {
		if _, err := io.CopyN(io.Discard, resp.Body, offset); err != nil {
			return nil, fmt.Errorf("skip to offset: %w", err)
		}
	}
	return io.ReadAll(io.LimitReader(resp.Body, length))
}

// IsMember — состоит ли пользователь в канале (id или @username).
func (t *TelegramBot) IsMember(ctx context.Context, channel string, userID int64) (bool, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return false, err
	}
	cfg := tgbotapi.GetChatMemberConfig{ChatConfigWithUser: tgbotapi.ChatConfigWithUser{UserID: userID}}
	if strings.HasPrefix(channel, "@") {
		cfg.SuperGroupUsername = channel
	} else {
		id, err := strconv.ParseInt(channel, 10, 64)
		if err != nil {
			return false, fmt.Errorf("bad channel %q: %w", channel, err)
		}
		cfg.ChatID = id
	}
	m, err := t.api.GetChatMember(cfg)
	if err != nil {
		var tgErr *tgbotapi.Error
		if errors.As(err, &tgErr) && strings.Contains(strings.ToLower(tgErr.Message), "user not found") {
			return false, nil
		}
		return false, err
	}
	return !m.HasLeft() && !m.WasKicked(), nil
}

// InviteLink — ссылка для кнопки «вступить»; для публичных каналов t.me/<name>.
func (t *TelegramBot) InviteLink(ctx context.Context, channel string) (string, error) {
	if strings.HasPrefix(channel, "@") {
		return "https://t.me/" + strings.TrimPrefix(channel, "@"), nil
	}
	id, err := strconv.ParseInt(channel, 10, 64)
	if err != nil {
		return "", fmt.Errorf("bad channel %q: %w", channel, err)
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return t.api.GetInviteLink(tgbotapi.ChatInviteLinkConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: id}})
}

// ChatTitle — название канала для /channel.
func (t *TelegramBot) ChatTitle(ctx context.Context, chatID int64, username string) (int64, string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return 0, "", err
	}
	chat, err := t.api.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: chatID, SuperGroupUsername: username}})
	if err != nil {
		return 0, "", err
	}
	return chat.ID, chat.Title, nil
}

// Ping — время ответа getMe для /stats.
func (t *TelegramBot) Ping(ctx context.Context) (time.Duration, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	start := time.Now()
	if _, err := t.api.GetMe(); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func (t *TelegramBot) SetWebhook(url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return err
	}
	_, err = t.api.Request(wh)
	t.log.Info("[tg][setWebhook] registered", zap.String("url", url), zap.Error(err))
	return err
}

func (t *TelegramBot) DeleteWebhook() error {
	_, err := t.api.Request(tgbotapi.DeleteWebhookConfig{})
	return err
}

func (t *TelegramBot) AnswerCallback(ctx context.Context, id, text string) {
	if _, err := t.request(ctx, tgbotapi.NewCallback(id, text)); err != nil {
		t.log.Debug("[tg][callback] answer failed", zap.Error(err))
	}
}

// SendDocument — отправка файла с диска (текущий лог для /log).
func (t *TelegramBot) SendDocument(ctx context.Context, chatID int64, path, caption string) error {
	d := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
	d.Caption = caption
	_, err := t.send(ctx, d)
	return err
}
