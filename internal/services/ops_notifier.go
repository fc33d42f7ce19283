package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

type MailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       string
}

// OpsNotifier пишет служебные события в лог-канал и, для важных, на почту.
type OpsNotifier struct {
	messenger  Messenger
	logChannel int64
	dialer     *gomail.Dialer
	from       string
	to         string
	log        *zap.Logger
}

func NewOpsNotifier(m Messenger, logChannel int64, mail MailConfig, log *zap.Logger) *OpsNotifier {
	n := &OpsNotifier{messenger: m, logChannel: logChannel, log: log}
	if mail.Host != "" && mail.To != "" {
		n.dialer = gomail.NewDialer(mail.Host, mail.Port, mail.User, mail.Password)
		n.from = mail.From
		n.to = mail.To
	}
	return n
}

func (n *OpsNotifier) Notify(ctx context.Context, text string) {
	if n.messenger == nil || n.logChannel == 0 {
		n.log.Info("[ops] " + text)
		return
	}
	if _, err := n.messenger.Send(ctx, OutMessage{ChatID: n.logChannel, Text: text, DisablePreview: true}); err != nil {
		n.log.Warn("[ops][notify] log channel send failed", zap.Error(err))
	}
}

// Alert — Notify плюс письмо на ops.email_to.
func (n *OpsNotifier) Alert(ctx context.Context, subject, text string) {
	n.Notify(ctx, text)
	if err := n.SendEmail(subject, text); err != nil {
		n.log.Warn("[ops][email] send failed", zap.String("subject", subject), zap.Error(err))
	}
}

func (n *OpsNotifier) SendEmail(subject, body string) error {
	if n.dialer == nil {
		return nil
	}
	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", n.to)
	m.SetHeader("Subject", "[tgflix] "+subject)
	m.SetBody("text/html", "<p>"+strings.ReplaceAll(body, "\n", "<br>")+"</p>")

	if err := n.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send ops email: %w", err)
	}
	return nil
}

// BypassDetected — хук AccessService: предупреждения в канал, баны ещё и на почту.
func (n *OpsNotifier) BypassDetected(ctx context.Context, userID int64, res RedeemResult) {
	text := fmt.Sprintf("🚨 <b>Bypass detected</b>\n<b>User:</b> <code>%d</code>\n<b>Attempt:</b> %d\n<b>Elapsed:</b> %ds",
		userID, res.Attempts, int(res.Elapsed.Seconds()))
	if res.Outcome != RedeemBypassBanned {
		n.Notify(ctx, text+"\n<b>Action:</b> warning")
		return
	}
	text += fmt.Sprintf("\n<b>Action:</b> banned until %s", res.BannedUntil.Format("2006-01-02 15:04:05 MST"))
	n.Alert(ctx, fmt.Sprintf("user %d banned for bypass", userID), text)
}
