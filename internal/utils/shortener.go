package utils

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Shortener — клиент сокращателя ссылок вида https://{site}/api?api=..&url=..&format=text.
// При любой ошибке возвращает исходную ссылку.
type Shortener struct {
	Site     string
	APIToken string
	Scheme   string // по умолчанию https
	Client   *http.Client
	Retries  uint64
	Log      *zap.Logger
}

func NewShortener(site, apiToken string, timeout time.Duration, log *zap.Logger) *Shortener {
	return &Shortener{
		Site:     site,
		APIToken: apiToken,
		Scheme:   "https",
		Client:   &http.Client{Timeout: timeout},
		Retries:  2,
		Log:      log,
	}
}

func (s *Shortener) Configured() bool {
	return s != nil && s.Site != "" && s.APIToken != ""
}

func (s *Shortener) Shorten(ctx context.Context, longURL string) string {
	if !s.Configured() {
		return longURL
	}
	scheme := s.Scheme
	if scheme == "" {
		scheme = "https"
	}
	q := url.Values{
		"api":    {s.APIToken},
		"url":    {longURL},
		"format": {"text"},
	}
	apiURL := fmt.Sprintf("%s://%s/api?%s", scheme, s.Site, q.Encode())

	var short string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := s.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode >= 500 {
			return fmt.Errorf("shortener status=%d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("shortener status=%d body=%s", resp.StatusCode, body))
		}
		short = strings.TrimSpace(string(body))
		if !strings.HasPrefix(short, "http") {
			return backoff.Permanent(fmt.Errorf("shortener returned %q", short))
		}
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.Retries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		if s.Log != nil {
			s.Log.Warn("[shortener] failed, using original url", zap.String("site", s.Site), zap.Error(err))
		}
		return longURL
	}
	return short
}
