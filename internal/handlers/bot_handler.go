package handlers

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"tgflix/internal/authz"
	"tgflix/internal/models"
	"tgflix/internal/services"
	"tgflix/internal/utils"
)

const (
	msgTryAgain      = "⚠️ Something went wrong, please try again later."
	settingPromptTTL = 60 * time.Second
	maxParallel      = 64
)

// TelegramClient — то, что обработчику нужно от Bot API.
type TelegramClient interface {
	services.Messenger
	IsMember(ctx context.Context, channel string, userID int64) (bool, error)
	InviteLink(ctx context.Context, channel string) (string, error)
	ChatTitle(ctx context.Context, chatID int64, username string) (int64, string, error)
	Ping(ctx context.Context) (time.Duration, error)
	AnswerCallback(ctx context.Context, id, text string)
	SendDocument(ctx context.Context, chatID int64, path, caption string) error
}

// Enqueuer — приём новых файлов архива в очередь индексации.
type Enqueuer interface {
	Enqueue(ctx context.Context, item *models.MediaItem) error
}

type BotDeps struct {
	Access      *services.AccessService
	Settings    *services.SettingsService
	Dedup       *services.DedupService
	Queue       Enqueuer
	Broadcast   *services.BroadcastService
	Ops         services.Notifier
	TG          TelegramClient
	Roles       *authz.Roles
	Clock       clockwork.Clock
	Log         *zap.Logger
	DBChannelID int64
	BotUsername string
	LogFile     func() string
}

type pendingSetting struct {
	key      string
	deadline time.Time
}

type BotHandler struct {
	access    *services.AccessService
	settings  *services.SettingsService
	dedup     *services.DedupService
	queue     Enqueuer
	broadcast *services.BroadcastService
	ops       services.Notifier
	tg        TelegramClient
	roles     *authz.Roles
	clock     clockwork.Clock
	log       *zap.Logger
	dbChannel int64
	botName   string
	logFile   func() string
	startedAt time.Time
	sem       *semaphore.Weighted

	mu      sync.Mutex
	pending map[int64]pendingSetting
}

func NewBotHandler(d BotDeps) *BotHandler {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	return &BotHandler{
		access:    d.Access,
		settings:  d.Settings,
		dedup:     d.Dedup,
		queue:     d.Queue,
		broadcast: d.Broadcast,
		ops:       d.Ops,
		tg:        d.TG,
		roles:     d.Roles,
		clock:     d.Clock,
		log:       d.Log,
		dbChannel: d.DBChannelID,
		botName:   d.BotUsername,
		logFile:   d.LogFile,
		startedAt: d.Clock.Now(),
		sem:       semaphore.NewWeighted(maxParallel),
		pending:   make(map[int64]pendingSetting),
	}
}

// Serve разбирает апдейты long polling до закрытия канала или отмены ctx.
func (h *BotHandler) Serve(ctx context.Context, updates <-chan tgbotapi.Update) error {
	h.log.Info("[bot] polling started", zap.String("bot", h.botName))
	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			h.dispatch(ctx, upd)
		}
	}
}

func (h *BotHandler) dispatch(ctx context.Context, upd tgbotapi.Update) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return
	}
	go func() {
		defer h.sem.Release(1)
		h.HandleUpdate(ctx, upd)
	}()
}

// Webhook — POST /telegram/webhook/:secret.
func (h *BotHandler) Webhook(c *gin.Context) {
	var upd tgbotapi.Update
	if err := c.ShouldBindJSON(&upd); err != nil {
		h.log.Warn("[tg][webhook] bind json error", zap.Error(err))
		c.Status(200)
		return
	}
	h.dispatch(context.WithoutCancel(c.Request.Context()), upd)
	c.Status(200)
}

// HandleUpdate никогда не паникует наружу.
func (h *BotHandler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("[bot] update panic", zap.Int("update_id", upd.UpdateID), zap.Any("panic", r))
		}
	}()
	switch {
	case upd.ChannelPost != nil:
		h.handleChannelPost(ctx, upd.ChannelPost)
	case upd.CallbackQuery != nil:
		h.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil && upd.Message.From != nil:
		h.handleMessage(ctx, upd.Message)
	}
}

func (h *BotHandler) reply(ctx context.Context, chatID int64, text string, buttons ...[]services.Button) int {
	id, err := h.tg.Send(ctx, services.OutMessage{ChatID: chatID, Text: text, Buttons: buttons, DisablePreview: true})
	if err != nil {
		h.log.Debug("[bot][reply] failed", zap.Int64("chat", chatID), zap.Error(err))
	}
	return id
}

func (h *BotHandler) startLink(arg string) string {
	return fmt.Sprintf("https://telegram.dog/%s?start=%s", h.botName, arg)
}

func (h *BotHandler) handleChannelPost(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil || msg.Chat.ID != h.dbChannel {
		return
	}
	item := MediaItemFromMessage(msg)
	if item == nil {
		return
	}
	if err := h.queue.Enqueue(ctx, item); err != nil {
		h.log.Warn("[bot][ingest] enqueue failed", zap.Int("message_id", msg.MessageID), zap.Error(err))
	}
}

// MediaItemFromMessage переводит сообщение архива в MediaItem; nil — не файл.
func MediaItemFromMessage(msg *tgbotapi.Message) *models.MediaItem {
	item := &models.MediaItem{MessageID: msg.MessageID, Caption: msg.Caption}
	if msg.Chat != nil {
		item.ChatID = msg.Chat.ID
	}
	switch {
	case msg.Video != nil:
		v := msg.Video
		item.Kind = models.MediaVideo
		item.FileID, item.UniqueID = v.FileID, v.FileUniqueID
		item.FileName, item.MimeType = v.FileName, v.MimeType
		item.FileSize, item.Duration = int64(v.FileSize), v.Duration
		if v.Thumbnail != nil {
			item.ThumbFileID = v.Thumbnail.FileID
		}
	case msg.Document != nil:
		d := msg.Document
		item.Kind = models.MediaDocument
		item.FileID, item.UniqueID = d.FileID, d.FileUniqueID
		item.FileName, item.MimeType = d.FileName, d.MimeType
		item.FileSize = int64(d.FileSize)
		if d.Thumbnail != nil {
			item.ThumbFileID = d.Thumbnail.FileID
		}
	case msg.Audio != nil:
		a := msg.Audio
		item.Kind = models.MediaAudio
		item.FileID, item.UniqueID = a.FileID, a.FileUniqueID
		item.FileName, item.MimeType = a.FileName, a.MimeType
		item.FileSize, item.Duration = int64(a.FileSize), a.Duration
		item.Title, item.Performer = a.Title, a.Performer
		if a.Thumbnail != nil {
			item.ThumbFileID = a.Thumbnail.FileID
		}
	case msg.Sticker != nil:
		s := msg.Sticker
		item.Kind = models.MediaSticker
		item.FileID, item.UniqueID = s.FileID, s.FileUniqueID
		item.FileSize = int64(s.FileSize)
	default:
		return nil
	}
	return item
}

func (h *BotHandler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil || !msg.Chat.IsPrivate() {
		return
	}
	uid := msg.From.ID
	if !msg.IsCommand() {
		if h.roles.IsAdmin(uid) {
			h.consumeSettingPrompt(ctx, msg)
		}
		return
	}

	cmd, args := msg.Command(), strings.TrimSpace(msg.CommandArguments())
	switch cmd {
	case "start":
		h.handleStart(ctx, msg, args)
		return
	case "me":
		h.handleMe(ctx, msg)
		return
	case "channel":
		h.handleChannel(ctx, msg, args)
		return
	}

	if !adminCommands[cmd] {
		return
	}
	if !h.roles.IsAdmin(uid) {
		h.reply(ctx, msg.Chat.ID, "⛔ This command is for admins only.")
		return
	}
	h.handleAdmin(ctx, msg, cmd, args)
}

// gate — общие проверки перед обслуживанием: запись, бан, подписка.
func (h *BotHandler) gate(ctx context.Context, msg *tgbotapi.Message, startArg string) bool {
	uid, chatID := msg.From.ID, msg.Chat.ID
	if _, err := h.access.EnsureUser(ctx, uid); err != nil {
		h.log.Error("[bot][start] ensure user failed", zap.Int64("user", uid), zap.Error(err))
		h.reply(ctx, chatID, msgTryAgain)
		return false
	}
	ban, err := h.access.IsBanned(ctx, uid)
	if err != nil {
		h.reply(ctx, chatID, msgTryAgain)
		return false
	}
	if ban != nil {
		h.reply(ctx, chatID, bannedText(ban.BannedUntil, h.clock.Now()))
		return false
	}

	channel := h.settings.Snapshot().ForceSubChannel
	if channel == "" || h.roles.IsAdmin(uid) {
		return true
	}
	member, err := h.tg.IsMember(ctx, channel, uid)
	if err != nil {
		// канал недоступен боту — не блокируем пользователя
		h.log.Warn("[bot][forcesub] member check failed", zap.String("channel", channel), zap.Error(err))
		return true
	}
	if member {
		return true
	}
	link, err := h.tg.InviteLink(ctx, channel)
	if err != nil {
		h.log.Warn("[bot][forcesub] invite link failed", zap.String("channel", channel), zap.Error(err))
		return true
	}
	h.reply(ctx, chatID, "📢 Please join our channel to use this bot, then tap <b>Try Again</b>.",
		[]services.Button{{Text: "📢 Join Channel", URL: link}},
		[]services.Button{{Text: "🔄 Try Again", URL: h.startLink(startArg)}},
	)
	return false
}

func bannedText(until, now time.Time) string {
	left := until.Sub(now)
	if left < time.Second {
		left = time.Second
	}
	return fmt.Sprintf("🚫 You are banned. Try again in %s.", utils.ReadableTime(int64(left.Seconds())))
}

func (h *BotHandler) handleStart(ctx context.Context, msg *tgbotapi.Message, arg string) {
	if !h.gate(ctx, msg, arg) {
		return
	}
	switch {
	case arg == "":
		h.greet(ctx, msg)
	case arg == "token":
		h.sendTutorial(ctx, msg.Chat.ID)
	case arg == "help_extension":
		h.offerExtension(ctx, msg.Chat.ID, msg.From.ID)
	case strings.HasPrefix(arg, "token_ext_"):
		h.redeem(ctx, msg, strings.TrimPrefix(arg, "token_ext_"), true)
	case strings.HasPrefix(arg, "token_"):
		h.redeem(ctx, msg, strings.TrimPrefix(arg, "token_"), false)
	default:
		id, err := strconv.Atoi(arg)
		if err != nil || id <= 0 {
			h.greet(ctx, msg)
			return
		}
		h.deliver(ctx, msg.Chat.ID, msg.From.ID, id)
	}
}

func (h *BotHandler) greet(ctx context.Context, msg *tgbotapi.Message) {
	name := html.EscapeString(msg.From.FirstName)
	h.reply(ctx, msg.Chat.ID, fmt.Sprintf(
		"👋 Hello <b>%s</b>!\n\nI deliver files from our catalog. Open a file link from the channel and I will send it here.\n\nUse /me to see your access status.",
		name))
}

func (h *BotHandler) sendTutorial(ctx context.Context, chatID int64) {
	id := h.settings.Snapshot().TutorialMessageID
	if id <= 0 {
		h.reply(ctx, chatID, "ℹ️ Open the verification link, wait for the page to load and tap the button. You will be sent back here automatically.")
		return
	}
	if _, err := h.tg.Copy(ctx, chatID, h.dbChannel, id, services.CopyOptions{}); err != nil {
		h.log.Warn("[bot][tutorial] copy failed", zap.Int("message_id", id), zap.Error(err))
		h.reply(ctx, chatID, msgTryAgain)
	}
}

func (h *BotHandler) redeem(ctx context.Context, msg *tgbotapi.Message, token string, extension bool) {
	uid, chatID := msg.From.ID, msg.Chat.ID
	var (
		res *services.RedeemResult
		err error
	)
	if extension {
		res, err = h.access.ExtendQuota(ctx, uid, token)
	} else {
		res, err = h.access.RedeemToken(ctx, uid, token)
	}
	switch {
	case errors.Is(err, services.ErrNotVerified):
		h.reply(ctx, chatID, "⌛ Your token has expired. Please verify again.")
		h.SendChallenge(ctx, chatID, uid, services.ReasonExpired)
		return
	case errors.Is(err, services.ErrExtensionCap):
		h.reply(ctx, chatID, "⛔ You have already used all extensions for this verification.")
		return
	case err != nil:
		h.log.Error("[bot][redeem] failed", zap.Int64("user", uid), zap.Bool("extension", extension), zap.Error(err))
		h.reply(ctx, chatID, msgTryAgain)
		return
	}
	if res.Outcome == services.RedeemBanned {
		h.reply(ctx, chatID, bannedText(res.BannedUntil, h.clock.Now()))
		return
	}
	h.reply(ctx, chatID, res.Message)
}

// SendChallenge выдаёт новый токен и отправляет кнопку верификации.
func (h *BotHandler) SendChallenge(ctx context.Context, chatID, uid int64, reason services.ChallengeReason) error {
	ch, err := h.access.IssueChallenge(ctx, uid)
	if errors.Is(err, services.ErrUserBanned) {
		ban, _ := h.access.IsBanned(ctx, uid)
		if ban != nil {
			h.reply(ctx, chatID, bannedText(ban.BannedUntil, h.clock.Now()))
		}
		return nil
	}
	if err != nil {
		h.log.Error("[bot][challenge] issue failed", zap.Int64("user", uid), zap.Error(err))
		h.reply(ctx, chatID, msgTryAgain)
		return err
	}
	snap := h.settings.Snapshot()
	head := "🔐 You need to verify before getting files."
	if reason == services.ReasonExpired {
		head = "⌛ Your token has expired. Refresh it to keep getting files."
	}
	text := fmt.Sprintf("%s\n\n<b>Token validity:</b> %s\n<b>Files per token:</b> %d",
		head, utils.ReadableTime(int64(snap.TokenTimeout.Seconds())), snap.DailyLimit)
	rows := [][]services.Button{{{Text: "✅ Verify", URL: ch.GateURL}}}
	if snap.TutorialMessageID > 0 {
		rows = append(rows, []services.Button{{Text: "❓ How to verify", URL: h.startLink("token")}})
	}
	_, err = h.tg.Send(ctx, services.OutMessage{ChatID: chatID, Text: text, Buttons: rows, DisablePreview: true})
	return err
}

// NotifyExpired — хук истечения токена: сообщение со свежей кнопкой.
// Недоступных пользователей удаляем.
func (h *BotHandler) NotifyExpired(ctx context.Context, uid int64) {
	err := h.SendChallenge(ctx, uid, uid, services.ReasonExpired)
	if err != nil && services.IsRecipientGone(err) {
		if derr := h.access.DeleteUser(ctx, uid); derr != nil {
			h.log.Warn("[bot][expire] delete unreachable user failed", zap.Int64("user", uid), zap.Error(derr))
		}
	}
}

func (h *BotHandler) offerExtension(ctx context.Context, chatID, uid int64) {
	ch, err := h.access.IssueExtensionChallenge(ctx, uid)
	switch {
	case errors.Is(err, services.ErrExtensionCap):
		h.reply(ctx, chatID, "⛔ You have used all extensions. Wait for your token to expire.")
		return
	case errors.Is(err, services.ErrExtensionUnavailable):
		h.reply(ctx, chatID, "ℹ️ Limit extension is not available right now.")
		return
	case errors.Is(err, services.ErrNotVerified), errors.Is(err, services.ErrUserNotFound):
		h.SendChallenge(ctx, chatID, uid, services.ReasonUnverified)
		return
	case errors.Is(err, services.ErrUserBanned):
		h.reply(ctx, chatID, "🚫 You are banned.")
		return
	case err != nil:
		h.log.Error("[bot][extension] issue failed", zap.Int64("user", uid), zap.Error(err))
		h.reply(ctx, chatID, msgTryAgain)
		return
	}
	h.reply(ctx, chatID, "🚀 Complete one more verification to reset your file count.",
		[]services.Button{{Text: "🚀 Extend Limit", URL: ch.GateURL}})
}

// deliver — выдача файла архива messageID после проверки доступа.
func (h *BotHandler) deliver(ctx context.Context, chatID, uid int64, messageID int) {
	d, err := h.access.CheckAccess(ctx, uid)
	if err != nil {
		h.log.Error("[bot][deliver] check access failed", zap.Int64("user", uid), zap.Error(err))
		h.reply(ctx, chatID, msgTryAgain)
		return
	}
	switch d.Kind {
	case services.Denied:
		h.reply(ctx, chatID, bannedText(d.BannedUntil, h.clock.Now()))
		return
	case services.NeedsChallenge:
		h.SendChallenge(ctx, chatID, uid, d.Reason)
		return
	case services.QuotaExceeded:
		h.replyQuota(ctx, chatID, d)
		return
	}

	// слот берётся до отправки: параллельные запросы не пробьют лимит
	rec, err := h.access.RecordDelivery(ctx, uid)
	switch {
	case errors.Is(err, services.ErrQuotaExceeded):
		d.CanExtend = d.ExtensionStage < 2 && h.settings.Snapshot().ExtensionConfigured()
		h.replyQuota(ctx, chatID, d)
		return
	case errors.Is(err, services.ErrNotVerified):
		h.SendChallenge(ctx, chatID, uid, services.ReasonExpired)
		return
	case err != nil:
		h.log.Error("[bot][deliver] reserve failed", zap.Int64("user", uid), zap.Error(err))
		h.reply(ctx, chatID, msgTryAgain)
		return
	}

	snap := h.settings.Snapshot()
	opts := services.CopyOptions{ProtectContent: snap.ProtectContent}
	if fp, err := h.dedup.ByMessage(ctx, messageID); err == nil && fp != nil {
		if name := services.DisplayName(&models.MediaItem{Caption: fp.Caption, FileName: fp.FileName}); name != "" {
			opts.Caption = "<b>" + html.EscapeString(name) + "</b>"
		}
	}

	target := chatID
	u, _ := h.access.User(ctx, uid)
	if u != nil && u.TargetChannelID != 0 {
		target = u.TargetChannelID
	}
	sentID, err := h.tg.Copy(ctx, target, h.dbChannel, messageID, opts)
	if err != nil && target != chatID {
		h.log.Warn("[bot][deliver] target channel failed, falling back to DM", zap.Int64("target", target), zap.Error(err))
		target = chatID
		sentID, err = h.tg.Copy(ctx, target, h.dbChannel, messageID, opts)
	}
	if err != nil {
		h.log.Warn("[bot][deliver] copy failed", zap.Int("message_id", messageID), zap.Error(err))
		if rerr := h.access.ReleaseDelivery(ctx, uid, rec); rerr != nil {
			h.log.Error("[bot][deliver] release failed", zap.Int64("user", uid), zap.Error(rerr))
		}
		h.reply(ctx, chatID, "❌ File not found or unavailable.")
		return
	}

	if rec.LowQuota {
		h.reply(ctx, chatID, fmt.Sprintf("⚠️ You have used <b>%d/%d</b> files. Only %d left for this token.",
			rec.FileCount, snap.DailyLimit, rec.Remaining))
	}

	if snap.AutoDeleteTime > 0 {
		noteID := h.reply(ctx, target, fmt.Sprintf(
			"❗ This file will be deleted in <b>%s</b>. Save or forward it before then.",
			utils.ReadableTime(int64(snap.AutoDeleteTime.Seconds()))))
		h.scheduleDelete(target, snap.AutoDeleteTime, sentID, noteID)
	}
}

func (h *BotHandler) replyQuota(ctx context.Context, chatID int64, d services.Decision) {
	text := fmt.Sprintf("📦 You have reached the limit of <b>%d</b> files for this token.", d.DailyLimit)
	if d.CanExtend {
		h.reply(ctx, chatID, text+fmt.Sprintf("\n\nYou can extend it (%d/2 used).", d.ExtensionStage),
			[]services.Button{{Text: "🚀 Extend Limit", URL: h.startLink("help_extension")}})
		return
	}
	h.reply(ctx, chatID, text+"\n\nPlease wait until your token expires.")
}

func (h *BotHandler) scheduleDelete(chatID int64, after time.Duration, messageIDs ...int) {
	h.clock.AfterFunc(after, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for _, id := range messageIDs {
			if id == 0 {
				continue
			}
			if err := h.tg.Delete(ctx, chatID, id); err != nil {
				h.log.Debug("[bot][autodelete] delete failed", zap.Int64("chat", chatID), zap.Int("message", id), zap.Error(err))
			}
		}
	})
}

func (h *BotHandler) handleMe(ctx context.Context, msg *tgbotapi.Message) {
	uid, chatID := msg.From.ID, msg.Chat.ID
	u, err := h.access.EnsureUser(ctx, uid)
	if err != nil {
		h.reply(ctx, chatID, msgTryAgain)
		return
	}
	st, err := h.access.State(ctx, uid)
	if err != nil {
		h.reply(ctx, chatID, msgTryAgain)
		return
	}
	snap := h.settings.Snapshot()
	now := h.clock.Now()
	var b strings.Builder
	fmt.Fprintf(&b, "👤 <b>User:</b> <code>%d</code>\n", uid)
	switch st.Kind {
	case models.StateBanned:
		fmt.Fprintf(&b, "🚫 <b>Status:</b> banned for %s\n", utils.ReadableTime(int64(st.Until.Sub(now).Seconds())))
	case models.StateVerified:
		fmt.Fprintf(&b, "✅ <b>Status:</b> verified, expires in %s\n", utils.ReadableTime(int64(st.ExpiresAt.Sub(now).Seconds())))
		fmt.Fprintf(&b, "📦 <b>Files:</b> %d/%d\n", u.FileCount, snap.DailyLimit)
		fmt.Fprintf(&b, "🚀 <b>Extensions:</b> %d/2\n", u.ExtensionStage)
	default:
		b.WriteString("❌ <b>Status:</b> not verified\n")
	}
	if u.TargetChannelID != 0 {
		fmt.Fprintf(&b, "📢 <b>Delivery channel:</b> %s (<code>%d</code>)", html.EscapeString(u.TargetChannelName), u.TargetChannelID)
	} else {
		b.WriteString("📢 <b>Delivery channel:</b> this chat")
	}
	h.reply(ctx, chatID, b.String())
}

func (h *BotHandler) handleChannel(ctx context.Context, msg *tgbotapi.Message, arg string) {
	uid, chatID := msg.From.ID, msg.Chat.ID
	if arg == "" {
		h.reply(ctx, chatID, "Usage: <code>/channel -100123456789</code>, <code>/channel @name</code> or <code>/channel off</code>")
		return
	}
	if strings.EqualFold(arg, "off") {
		if err := h.access.SetTargetChannel(ctx, uid, 0, ""); err != nil {
			h.reply(ctx, chatID, msgTryAgain)
			return
		}
		h.reply(ctx, chatID, "✅ Files will be sent to this chat.")
		return
	}
	var (
		id       int64
		username string
	)
	if strings.HasPrefix(arg, "@") {
		username = arg
	} else {
		n, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			h.reply(ctx, chatID, "❌ Invalid channel id.")
			return
		}
		id = n
	}
	resolved, title, err := h.tg.ChatTitle(ctx, id, username)
	if err != nil {
		h.reply(ctx, chatID, "❌ I can't access that channel. Add me as an admin there first.")
		return
	}
	if err := h.access.SetTargetChannel(ctx, uid, resolved, title); err != nil {
		h.reply(ctx, chatID, msgTryAgain)
		return
	}
	h.reply(ctx, chatID, fmt.Sprintf("✅ Files will be sent to <b>%s</b>.", html.EscapeString(title)))
}
