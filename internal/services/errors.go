package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jonboulle/clockwork"
)

var (
	ErrUserNotFound          = errors.New("user not found")
	ErrUserBanned            = errors.New("user is banned")
	ErrNotVerified           = errors.New("user is not verified")
	ErrExtensionCap          = errors.New("extension limit reached")
	ErrQuotaExceeded         = errors.New("file quota exhausted")
	ErrExtensionUnavailable  = errors.New("extension is not available")
	ErrInvalidSettingKey     = errors.New("unknown setting key")
	ErrInvalidSettingValue   = errors.New("invalid setting value")
	ErrContentSourceNotReady = errors.New("content source unavailable")
)

// RetryAfterError — платформа попросила подождать (flood wait / 429).
type RetryAfterError struct {
	After time.Duration
	Err   error
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %s: %v", e.After, e.Err)
}

func (e *RetryAfterError) Unwrap() error { return e.Err }

// RetryAfter достаёт запрошенное ожидание из ошибки Telegram или RetryAfterError.
func RetryAfter(err error) (time.Duration, bool) {
	var ra *RetryAfterError
	if errors.As(err, &ra) {
		return ra.After, true
	}
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && (tgErr.RetryAfter > 0 || tgErr.Code == http.StatusTooManyRequests) {
		return time.Duration(tgErr.RetryAfter) * time.Second, true
	}
	return 0, false
}

// IsRecipientGone — пользователь заблокировал бота или удалён.
func IsRecipientGone(err error) bool {
	var tgErr *tgbotapi.Error
	if !errors.As(err, &tgErr) {
		return false
	}
	if tgErr.Code == http.StatusForbidden {
		return true
	}
	msg := strings.ToLower(tgErr.Message)
	return strings.Contains(msg, "user is deactivated") || strings.Contains(msg, "bot was blocked")
}

// IsUserDeactivated — аккаунт удалён (в отличие от блокировки бота).
func IsUserDeactivated(err error) bool {
	var tgErr *tgbotapi.Error
	return errors.As(err, &tgErr) && strings.Contains(strings.ToLower(tgErr.Message), "deactivated")
}

// IsWebpageMediaError — Telegram не смог забрать картинку по URL.
func IsWebpageMediaError(err error) bool {
	var tgErr *tgbotapi.Error
	if !errors.As(err, &tgErr) {
		return false
	}
	msg := strings.ToUpper(tgErr.Message)
	for _, marker := range []string{
		"WEBPAGE_MEDIA_EMPTY",
		"WEBPAGE_CURL_FAILED",
		"WRONG FILE IDENTIFIER/HTTP URL SPECIFIED",
		"FAILED TO GET HTTP URL CONTENT",
		"WRONG TYPE OF THE WEB PAGE CONTENT",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// retryOnFlood выполняет fn до attempts раз, засыпая на запрошенное платформой время + buffer.
// Другие ошибки возвращаются сразу.
func retryOnFlood(ctx context.Context, clock clockwork.Clock, attempts int, buffer time.Duration, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		wait, ok := RetryAfter(err)
		if !ok {
			return err
		}
		if i == attempts-1 {
			break
		}
		if err := sleepCtx(ctx, clock, wait+buffer); err != nil {
			return err
		}
	}
	return err
}

func sleepCtx(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}
