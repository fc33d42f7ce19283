package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tgflix/internal/repositories"
)

// RuntimeSettings — типизированный снимок динамической конфигурации.
type RuntimeSettings struct {
	MinimumDuration    time.Duration
	ShortenerURL       string
	ShortenerAPIToken  string
	ShortenerURL2      string
	ShortenerAPIToken2 string
	TutorialMessageID  int
	DailyLimit         int
	TokenTimeout       time.Duration
	ForceSubChannel    string
	AutoDeleteTime     time.Duration
	ProtectContent     bool
}

// ExtensionConfigured — задан ли второй сокращатель для продления лимита.
func (s RuntimeSettings) ExtensionConfigured() bool {
	return s.ShortenerURL2 != "" && s.ShortenerAPIToken2 != ""
}

// LowQuotaThreshold — 80% от дневного лимита, целая часть.
func (s RuntimeSettings) LowQuotaThreshold() int {
	return int(float64(s.DailyLimit) * 0.8)
}

type settingSpec struct {
	Key   string
	Help  string
	apply func(*RuntimeSettings, string) error
	show  func(RuntimeSettings) string
}

const (
	SettingMinimumDuration    = "minimum_duration"
	SettingShortenerURL       = "shortener_url"
	SettingShortenerAPIToken  = "shortener_api_token"
	SettingShortenerURL2      = "shortener_url_2"
	SettingShortenerAPIToken2 = "shortener_api_token_2"
	SettingTutorialMessageID  = "tutorial_message_id"
	SettingDailyLimit         = "daily_limit"
	SettingTokenTimeout       = "token_timeout"
	SettingForceSubChannel    = "force_sub_channel"
	SettingAutoDeleteTime     = "auto_delete_time"
	SettingProtectContent     = "protect_content"
)

func parseSeconds(raw string, min int) (time.Duration, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < min {
		return 0, fmt.Errorf("%w: need integer seconds >= %d", ErrInvalidSettingValue, min)
	}
	return time.Duration(n) * time.Second, nil
}

func parseInt(raw string, min int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < min {
		return 0, fmt.Errorf("%w: need integer >= %d", ErrInvalidSettingValue, min)
	}
	return n, nil
}

// parseOptionalString: "none", "-" и пустая строка очищают значение.
func parseOptionalString(raw string) string {
	v := strings.TrimSpace(raw)
	switch strings.ToLower(v) {
	case "", "none", "-", "null":
		return ""
	}
	return v
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "t", "yes", "y", "on":
		return true, nil
	case "false", "0", "f", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("%w: need true/false", ErrInvalidSettingValue)
}

func parseChannel(raw string) (string, error) {
	v := parseOptionalString(raw)
	if v == "" || strings.HasPrefix(v, "@") {
		return v, nil
	}
	if _, err := strconv.ParseInt(v, 10, 64); err != nil {
		return "", fmt.Errorf("%w: need channel id or @username", ErrInvalidSettingValue)
	}
	return v, nil
}

func secondsString(d time.Duration) string { return strconv.Itoa(int(d / time.Second)) }

func maskSecret(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return "****"
	}
	return v[:2] + strings.Repeat("*", len(v)-4) + v[len(v)-2:]
}

var settingRegistry = []settingSpec{
	{
		Key:  SettingMinimumDuration,
		Help: "minimum seconds between challenge and redemption",
		apply: func(s *RuntimeSettings, raw string) (err error) {
			s.MinimumDuration, err = parseSeconds(raw, 0)
			return
		},
		show: func(s RuntimeSettings) string { return secondsString(s.MinimumDuration) },
	},
	{
		Key:   SettingShortenerURL,
		Help:  "primary shortener host",
		apply: func(s *RuntimeSettings, raw string) error { s.ShortenerURL = parseOptionalString(raw); return nil },
		show:  func(s RuntimeSettings) string { return s.ShortenerURL },
	},
	{
		Key:   SettingShortenerAPIToken,
		Help:  "primary shortener api token",
		apply: func(s *RuntimeSettings, raw string) error { s.ShortenerAPIToken = parseOptionalString(raw); return nil },
		show:  func(s RuntimeSettings) string { return maskSecret(s.ShortenerAPIToken) },
	},
	{
		Key:   SettingShortenerURL2,
		Help:  "extension shortener host",
		apply: func(s *RuntimeSettings, raw string) error { s.ShortenerURL2 = parseOptionalString(raw); return nil },
		show:  func(s RuntimeSettings) string { return s.ShortenerURL2 },
	},
	{
		Key:   SettingShortenerAPIToken2,
		Help:  "extension shortener api token",
		apply: func(s *RuntimeSettings, raw string) error { s.ShortenerAPIToken2 = parseOptionalString(raw); return nil },
		show:  func(s RuntimeSettings) string { return maskSecret(s.ShortenerAPIToken2) },
	},
	{
		Key:  SettingTutorialMessageID,
		Help: "archive message id with the how-to video",
		apply: func(s *RuntimeSettings, raw string) (err error) {
			s.TutorialMessageID, err = parseInt(raw, 0)
			return
		},
		show: func(s RuntimeSettings) string { return strconv.Itoa(s.TutorialMessageID) },
	},
	{
		Key:  SettingDailyLimit,
		Help: "files per verification",
		apply: func(s *RuntimeSettings, raw string) (err error) {
			s.DailyLimit, err = parseInt(raw, 1)
			return
		},
		show: func(s RuntimeSettings) string { return strconv.Itoa(s.DailyLimit) },
	},
	{
		Key:  SettingTokenTimeout,
		Help: "token validity in seconds",
		apply: func(s *RuntimeSettings, raw string) (err error) {
			s.TokenTimeout, err = parseSeconds(raw, 60)
			return
		},
		show: func(s RuntimeSettings) string { return secondsString(s.TokenTimeout) },
	},
	{
		Key:  SettingForceSubChannel,
		Help: "channel users must join (id or @name)",
		apply: func(s *RuntimeSettings, raw string) (err error) {
			s.ForceSubChannel, err = parseChannel(raw)
			return
		},
		show: func(s RuntimeSettings) string { return s.ForceSubChannel },
	},
	{
		Key:  SettingAutoDeleteTime,
		Help: "seconds before delivered files are deleted, 0 disables",
		apply: func(s *RuntimeSettings, raw string) (err error) {
			s.AutoDeleteTime, err = parseSeconds(raw, 0)
			return
		},
		show: func(s RuntimeSettings) string { return secondsString(s.AutoDeleteTime) },
	},
	{
		Key:  SettingProtectContent,
		Help: "forbid forwarding and saving delivered files",
		apply: func(s *RuntimeSettings, raw string) (err error) {
			s.ProtectContent, err = parseBool(raw)
			return
		},
		show: func(s RuntimeSettings) string { return strconv.FormatBool(s.ProtectContent) },
	},
}

func lookupSetting(key string) (settingSpec, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, spec := range settingRegistry {
		if spec.Key == key {
			return spec, true
		}
	}
	return settingSpec{}, false
}

func SettingKeys() []string {
	keys := make([]string, 0, len(settingRegistry))
	for _, spec := range settingRegistry {
		keys = append(keys, spec.Key)
	}
	return keys
}

type SettingView struct {
	Key   string
	Value string
	Help  string
}

type SettingsService struct {
	repo    repositories.SettingsRepository
	log     *zap.Logger
	mu      sync.RWMutex
	current RuntimeSettings
}

func NewSettingsService(repo repositories.SettingsRepository, defaults RuntimeSettings, log *zap.Logger) *SettingsService {
	return &SettingsService{repo: repo, log: log, current: defaults}
}

// Load накладывает сохранённые значения на статические; битые значения пропускаются.
func (s *SettingsService) Load(ctx context.Context) error {
	stored, err := s.repo.All(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.current
	for key, raw := range stored {
		spec, ok := lookupSetting(key)
		if !ok {
			s.log.Warn("[settings][load] unknown key skipped", zap.String("key", key))
			continue
		}
		// применяем к копии: при ошибке значение по умолчанию остаётся
		cand := next
		if err := spec.apply(&cand, raw); err != nil {
			s.log.Warn("[settings][load] invalid value skipped", zap.String("key", key), zap.Error(err))
			continue
		}
		next = cand
	}
	s.current = next
	return nil
}

func (s *SettingsService) Snapshot() RuntimeSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set проверяет значение валидатором ключа, сохраняет и подменяет снимок.
func (s *SettingsService) Set(ctx context.Context, key, raw string) (string, error) {
	spec, ok := lookupSetting(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrInvalidSettingKey, key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	if err := spec.apply(&next, raw); err != nil {
		return "", err
	}
	if err := s.repo.Set(ctx, spec.Key, strings.TrimSpace(raw)); err != nil {
		return "", fmt.Errorf("save setting %s: %w", spec.Key, err)
	}
	s.current = next
	s.log.Info("[settings][set] updated", zap.String("key", spec.Key))
	return spec.show(next), nil
}

func (s *SettingsService) Describe() []SettingView {
	snap := s.Snapshot()
	out := make([]SettingView, 0, len(settingRegistry))
	for _, spec := range settingRegistry {
		out = append(out, SettingView{Key: spec.Key, Value: spec.show(snap), Help: spec.Help})
	}
	return out
}

func IsSettingKey(key string) bool {
	_, ok := lookupSetting(key)
	return ok
}
