package handlers

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"tgflix/internal/services"
	"tgflix/internal/utils"
)

const (
	callbackSetPrefix = "set:"
	defaultBanMinutes = 24 * 60
)

var adminCommands = map[string]bool{
	"broadcast":        true,
	"ban":              true,
	"unban":            true,
	"verify":           true,
	"reset_limit":      true,
	"expire_token":     true,
	"cleandb":          true,
	"settings":         true,
	"set":              true,
	"stats":            true,
	"remove_duplicate": true,
	"delete":           true,
	"log":              true,
}

func (h *BotHandler) handleAdmin(ctx context.Context, msg *tgbotapi.Message, cmd, args string) {
	chatID := msg.Chat.ID
	switch cmd {
	case "broadcast":
		h.cmdBroadcast(ctx, msg)
	case "ban":
		h.cmdBan(ctx, chatID, args)
	case "unban", "verify", "reset_limit", "expire_token":
		uid, ok := parseUserID(args)
		if !ok {
			h.reply(ctx, chatID, fmt.Sprintf("Usage: <code>/%s &lt;user_id&gt;</code>", cmd))
			return
		}
		h.cmdUserAction(ctx, chatID, cmd, uid)
	case "cleandb":
		h.cmdCleanDB(ctx, chatID, args)
	case "settings":
		h.cmdSettings(ctx, chatID)
	case "set":
		key, value, _ := strings.Cut(args, " ")
		if key == "" {
			h.reply(ctx, chatID, "Usage: <code>/set &lt;key&gt; &lt;value&gt;</code>\nKeys: "+strings.Join(services.SettingKeys(), ", "))
			return
		}
		h.applySetting(ctx, chatID, key, value)
	case "stats":
		h.cmdStats(ctx, chatID)
	case "remove_duplicate":
		h.cmdRemoveDuplicate(ctx, msg, args)
	case "delete":
		h.cmdDeleteRange(ctx, chatID, args)
	case "log":
		h.cmdLog(ctx, chatID)
	}
}

func parseUserID(arg string) (int64, bool) {
	arg = strings.TrimSpace(arg)
	if f := strings.Fields(arg); len(f) > 0 {
		arg = f[0]
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	return id, err == nil && id > 0
}

func (h *BotHandler) cmdBroadcast(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if msg.ReplyToMessage == nil {
		h.reply(ctx, chatID, "Reply to the message you want to broadcast with <code>/broadcast</code>.")
		return
	}
	src := msg.ReplyToMessage
	h.reply(ctx, chatID, "📣 Broadcast started…")
	go func() {
		bctx := context.WithoutCancel(ctx)
		sum, err := h.broadcast.Run(bctx, src.Chat.ID, src.MessageID, nil)
		if err != nil {
			h.log.Error("[bot][broadcast] failed", zap.Error(err))
			h.reply(bctx, chatID, msgTryAgain)
			return
		}
		h.reply(bctx, chatID, fmt.Sprintf(
			"<b>Broadcast completed</b>\n\n<b>Total:</b> %d\n<b>Successful:</b> %d\n<b>Blocked:</b> %d\n<b>Deleted:</b> %d\n<b>Unsuccessful:</b> %d",
			sum.Total, sum.Success, sum.Blocked, sum.Deleted, sum.Failed))
	}()
}

func (h *BotHandler) cmdBan(ctx context.Context, chatID int64, args string) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		h.reply(ctx, chatID, "Usage: <code>/ban &lt;user_id&gt; [minutes]</code>")
		return
	}
	uid, ok := parseUserID(fields[0])
	if !ok {
		h.reply(ctx, chatID, "❌ Invalid user id.")
		return
	}
	minutes := defaultBanMinutes
	if len(fields) > 1 {
		n, err := strconv.Atoi(fields[1])
		if err != nil || n <= 0 {
			h.reply(ctx, chatID, "❌ Minutes must be a positive number.")
			return
		}
		minutes = n
	}
	d := time.Duration(minutes) * time.Minute
	until, err := h.access.Ban(ctx, uid, d, "admin")
	if err != nil {
		h.log.Error("[bot][ban] failed", zap.Int64("user", uid), zap.Error(err))
		h.reply(ctx, chatID, msgTryAgain)
		return
	}
	h.reply(ctx, chatID, fmt.Sprintf("🚫 User <code>%d</code> banned for %s (until %s).",
		uid, utils.ReadableTime(int64(d.Seconds())), until.Format("2006-01-02 15:04 MST")))
}

func (h *BotHandler) cmdUserAction(ctx context.Context, chatID int64, cmd string, uid int64) {
	var (
		text string
		err  error
	)
	switch cmd {
	case "unban":
		var had bool
		had, err = h.access.Unban(ctx, uid)
		text = fmt.Sprintf("✅ User <code>%d</code> unbanned.", uid)
		if err == nil && !had {
			text = fmt.Sprintf("ℹ️ User <code>%d</code> is not banned.", uid)
		}
	case "verify":
		var exp time.Time
		exp, err = h.access.AdminVerify(ctx, uid)
		text = fmt.Sprintf("✅ User <code>%d</code> verified until %s.", uid, exp.Format("2006-01-02 15:04 MST"))
	case "reset_limit":
		err = h.access.ResetLimit(ctx, uid)
		text = fmt.Sprintf("✅ File limit reset for <code>%d</code>.", uid)
	case "expire_token":
		err = h.access.ExpireToken(ctx, uid)
		text = fmt.Sprintf("✅ Token expired for <code>%d</code>.", uid)
	}
	switch {
	case errors.Is(err, services.ErrUserNotFound):
		h.reply(ctx, chatID, fmt.Sprintf("❌ User <code>%d</code> not found.", uid))
	case errors.Is(err, services.ErrUserBanned):
		h.reply(ctx, chatID, fmt.Sprintf("❌ User <code>%d</code> is banned. Unban first.", uid))
	case err != nil:
		h.log.Error("[bot][admin] action failed", zap.String("cmd", cmd), zap.Int64("user", uid), zap.Error(err))
		h.reply(ctx, chatID, msgTryAgain)
	default:
		h.reply(ctx, chatID, text)
	}
}

func (h *BotHandler) cmdCleanDB(ctx context.Context, chatID int64, target string) {
	var parts []string
	target = strings.ToLower(strings.TrimSpace(target))
	switch target {
	case "files", "all":
		n, err := h.dedup.Purge(ctx)
		if err != nil {
			h.log.Error("[bot][cleandb] files failed", zap.Error(err))
			h.reply(ctx, chatID, msgTryAgain)
			return
		}
		parts = append(parts, fmt.Sprintf("%d fingerprints", n))
		if target != "all" {
			break
		}
		fallthrough
	case "users":
		n, err := h.access.DeleteAllUsers(ctx)
		if err != nil {
			h.log.Error("[bot][cleandb] users failed", zap.Error(err))
			h.reply(ctx, chatID, msgTryAgain)
			return
		}
		parts = append(parts, fmt.Sprintf("%d users", n))
	default:
		h.reply(ctx, chatID, "Usage: <code>/cleandb files|users|all</code>")
		return
	}
	h.reply(ctx, chatID, "🧹 Removed "+strings.Join(parts, " and ")+".")
}

func (h *BotHandler) cmdSettings(ctx context.Context, chatID int64) {
	var (
		b    strings.Builder
		rows [][]services.Button
	)
	b.WriteString("⚙️ <b>Settings</b>\n\n")
	for _, v := range h.settings.Describe() {
		val := v.Value
		if val == "" {
			val = "-"
		}
		fmt.Fprintf(&b, "<b>%s</b>: <code>%s</code>\n<i>%s</i>\n", v.Key, html.EscapeString(val), v.Help)
		rows = append(rows, []services.Button{{Text: v.Key, Data: callbackSetPrefix + v.Key}})
	}
	h.reply(ctx, chatID, b.String(), rows...)
}

func (h *BotHandler) applySetting(ctx context.Context, chatID int64, key, raw string) {
	shown, err := h.settings.Set(ctx, key, raw)
	switch {
	case errors.Is(err, services.ErrInvalidSettingKey):
		h.reply(ctx, chatID, "❌ Unknown setting. Keys: "+strings.Join(services.SettingKeys(), ", "))
	case errors.Is(err, services.ErrInvalidSettingValue):
		h.reply(ctx, chatID, "❌ "+html.EscapeString(err.Error()))
	case err != nil:
		h.log.Error("[bot][settings] save failed", zap.String("key", key), zap.Error(err))
		h.reply(ctx, chatID, msgTryAgain)
	default:
		h.reply(ctx, chatID, fmt.Sprintf("✅ <b>%s</b> = <code>%s</code>", key, html.EscapeString(shown)))
	}
}

func (h *BotHandler) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if q.From == nil {
		return
	}
	h.tg.AnswerCallback(ctx, q.ID, "")
	key, ok := strings.CutPrefix(q.Data, callbackSetPrefix)
	if !ok || !h.roles.IsAdmin(q.From.ID) || !services.IsSettingKey(key) {
		return
	}
	chatID := q.From.ID
	if q.Message != nil && q.Message.Chat != nil {
		chatID = q.Message.Chat.ID
	}
	h.promptSetting(ctx, chatID, q.From.ID, key)
}

// promptSetting ждёт следующее сообщение админа settingPromptTTL, потом сдаётся.
func (h *BotHandler) promptSetting(ctx context.Context, chatID, adminID int64, key string) {
	deadline := h.clock.Now().Add(settingPromptTTL)
	h.mu.Lock()
	h.pending[adminID] = pendingSetting{key: key, deadline: deadline}
	h.mu.Unlock()

	h.reply(ctx, chatID, fmt.Sprintf("✏️ Send the new value for <b>%s</b> within %d seconds.", key, int(settingPromptTTL.Seconds())))
	h.clock.AfterFunc(settingPromptTTL, func() {
		h.mu.Lock()
		p, ok := h.pending[adminID]
		expired := ok && p.key == key && p.deadline.Equal(deadline)
		if expired {
			delete(h.pending, adminID)
		}
		h.mu.Unlock()
		if expired {
			h.reply(context.Background(), chatID, fmt.Sprintf("⏱ Timed out. <b>%s</b> was not changed.", key))
		}
	})
}

// consumeSettingPrompt применяет ответ админа к ожидающему ключу. false — ожидания нет.
func (h *BotHandler) consumeSettingPrompt(ctx context.Context, msg *tgbotapi.Message) bool {
	h.mu.Lock()
	p, ok := h.pending[msg.From.ID]
	if ok {
		delete(h.pending, msg.From.ID)
	}
	h.mu.Unlock()
	if !ok || !h.clock.Now().Before(p.deadline) {
		return false
	}
	h.applySetting(ctx, msg.Chat.ID, p.key, msg.Text)
	return true
}

func (h *BotHandler) cmdStats(ctx context.Context, chatID int64) {
	ov, err := h.access.Overview(ctx)
	if err != nil {
		h.log.Error("[bot][stats] failed", zap.Error(err))
		h.reply(ctx, chatID, msgTryAgain)
		return
	}
	files, err := h.dedup.Count(ctx)
	if err != nil {
		h.log.Warn("[bot][stats] fingerprint count failed", zap.Error(err))
	}
	ping, err := h.tg.Ping(ctx)
	pingText := fmt.Sprintf("%d ms", ping.Milliseconds())
	if err != nil {
		pingText = "n/a"
	}
	snap := h.settings.Snapshot()
	uptime := h.clock.Since(h.startedAt)
	h.reply(ctx, chatID, fmt.Sprintf(
		"📊 <b>Bot stats</b>\n\n"+
			"👥 <b>Users:</b> %d\n"+
			"✅ <b>Verified today:</b> %d\n"+
			"📦 <b>Files shared today:</b> %d\n"+
			"🗂 <b>Indexed files:</b> %d\n"+
			"⏳ <b>Token timeout:</b> %s\n"+
			"📈 <b>Daily limit:</b> %d\n"+
			"⏱ <b>Uptime:</b> %s\n"+
			"🏓 <b>Ping:</b> %s",
		ov.TotalUsers, ov.Daily.VerifiedToday, ov.Daily.FilesSharedToday, files,
		utils.ReadableTime(int64(snap.TokenTimeout.Seconds())), snap.DailyLimit,
		utils.ReadableTime(int64(uptime.Seconds())), pingText))
}

func (h *BotHandler) cmdRemoveDuplicate(ctx context.Context, msg *tgbotapi.Message, arg string) {
	chatID := msg.Chat.ID
	if r := msg.ReplyToMessage; r != nil && arg == "" {
		if r.ForwardFromChat != nil && r.ForwardFromChat.ID == h.dbChannel && r.ForwardFromMessageID != 0 {
			h.removeByMessage(ctx, chatID, r.ForwardFromMessageID)
			return
		}
		// файл прислан заново: ищем по file_unique_id
		item := MediaItemFromMessage(r)
		if item == nil || item.UniqueID == "" {
			h.reply(ctx, chatID, "❌ Reply to an archive message or to the media file itself.")
			return
		}
		h.removeExact(ctx, chatID, item.UniqueID)
		return
	}
	if arg == "" {
		h.reply(ctx, chatID, "Usage: <code>/remove_duplicate &lt;id|hash|file name|caption|link&gt;</code> or reply to an archive message or media file.")
		return
	}
	if id, ok := utils.MessageIDFromLink(arg); ok {
		h.removeByMessage(ctx, chatID, id)
		return
	}
	field, n, err := h.dedup.RemoveAny(ctx, arg)
	if err != nil {
		h.log.Error("[bot][dedup] remove failed", zap.Error(err))
		h.reply(ctx, chatID, msgTryAgain)
		return
	}
	if n == 0 {
		h.reply(ctx, chatID, "ℹ️ No matching records.")
		return
	}
	h.reply(ctx, chatID, fmt.Sprintf("🗑 Removed %d record(s) matched by <b>%s</b>.", n, field))
}

func (h *BotHandler) removeExact(ctx context.Context, chatID int64, uniqueID string) {
	n, err := h.dedup.RemoveExact(ctx, uniqueID)
	if err != nil {
		h.log.Error("[bot][dedup] exact remove failed", zap.String("unique_id", uniqueID), zap.Error(err))
		h.reply(ctx, chatID, msgTryAgain)
		return
	}
	if n == 0 {
		h.reply(ctx, chatID, "ℹ️ This file is not indexed.")
		return
	}
	h.reply(ctx, chatID, fmt.Sprintf("🗑 Removed %d record(s) for this file.", n))
}

func (h *BotHandler) removeByMessage(ctx context.Context, chatID int64, messageID int) {
	n, err := h.dedup.RemoveByMessage(ctx, messageID)
	if err != nil {
		h.log.Error("[bot][dedup] remove by message failed", zap.Int("message_id", messageID), zap.Error(err))
		h.reply(ctx, chatID, msgTryAgain)
		return
	}
	if n == 0 {
		h.reply(ctx, chatID, "ℹ️ No record for that message.")
		return
	}
	h.reply(ctx, chatID, fmt.Sprintf("🗑 Removed %d record(s) for message <code>%d</code>.", n, messageID))
}

func parseMessageRef(s string) (int, bool) {
	if id, ok := utils.MessageIDFromLink(s); ok {
		return id, true
	}
	id, err := strconv.Atoi(strings.TrimSpace(s))
	return id, err == nil && id > 0
}

// cmdDeleteRange удаляет сообщения архива first..last вместе с их отпечатками.
func (h *BotHandler) cmdDeleteRange(ctx context.Context, chatID int64, args string) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		h.reply(ctx, chatID, "Usage: <code>/delete &lt;first&gt; &lt;last&gt;</code> (message ids or links)")
		return
	}
	first, ok1 := parseMessageRef(fields[0])
	last, ok2 := parseMessageRef(fields[1])
	if !ok1 || !ok2 || first > last {
		h.reply(ctx, chatID, "❌ Invalid range.")
		return
	}
	h.reply(ctx, chatID, fmt.Sprintf("🗑 Deleting messages %d–%d…", first, last))
	go func() {
		dctx := context.WithoutCancel(ctx)
		var deleted, failed int
		for id := first; id <= last; id++ {
			if err := h.tg.Delete(dctx, h.dbChannel, id); err != nil {
				failed++
			} else {
				deleted++
			}
			if _, err := h.dedup.RemoveByMessage(dctx, id); err != nil {
				h.log.Warn("[bot][delete] fingerprint cleanup failed", zap.Int("message_id", id), zap.Error(err))
			}
		}
		h.reply(dctx, chatID, fmt.Sprintf("✅ Deleted %d message(s), %d failed.", deleted, failed))
	}()
}

func (h *BotHandler) cmdLog(ctx context.Context, chatID int64) {
	path := ""
	if h.logFile != nil {
		path = h.logFile()
	}
	if path == "" {
		h.reply(ctx, chatID, "ℹ️ File logging is disabled.")
		return
	}
	if err := h.tg.SendDocument(ctx, chatID, path, "📄 Current log"); err != nil {
		h.log.Warn("[bot][log] send failed", zap.String("path", path), zap.Error(err))
		h.reply(ctx, chatID, "❌ Could not send the log file.")
	}
}
