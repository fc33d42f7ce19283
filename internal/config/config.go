package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultPath = "config/config.yaml"

type TelegramConfig struct {
	Token         string  `yaml:"token"`
	APIEndpoint   string  `yaml:"api_endpoint"`
	FileEndpoint  string  `yaml:"file_endpoint"`
	Mode          string  `yaml:"mode"` // polling | webhook
	WebhookURL    string  `yaml:"webhook_url"` // базовый URL гейта, без пути
	WebhookSecret string  `yaml:"webhook_secret"`
	OwnerID       int64   `yaml:"owner_id"`
	Admins        []int64 `yaml:"admins"`
	DBChannelID   int64   `yaml:"db_channel_id"`
	LogChannelID  int64   `yaml:"log_channel_id"`
	IndexChannel  int64   `yaml:"update_channel_id"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Debug         bool    `yaml:"debug"`
}

// AccessConfig — статические значения по умолчанию; в рантайме их перекрывают settings.
type AccessConfig struct {
	DailyLimit        int    `yaml:"daily_limit"`
	TokenTimeout      int    `yaml:"token_timeout"`    // сек
	MinimumDuration   int    `yaml:"minimum_duration"` // сек
	AutoDeleteTime    int    `yaml:"auto_delete_time"` // сек
	PruneAfterDays    int    `yaml:"prune_after_days"`
	ProtectContent    bool   `yaml:"protect_content"`
	TutorialMessageID int    `yaml:"tutorial_message_id"`
	ForceSubChannel   string `yaml:"force_sub_channel"`
	TokenHashCost     int    `yaml:"token_hash_cost"`
	Timezone          string `yaml:"timezone"`
}

type ShortenerConfig struct {
	URL       string `yaml:"url"`
	APIToken  string `yaml:"api_token"`
	URL2      string `yaml:"url_2"`
	APIToken2 string `yaml:"api_token_2"`
	Timeout   int    `yaml:"timeout"` // сек
}

type GateConfig struct {
	Port          int    `yaml:"port"`
	BaseURL       string `yaml:"base_url"`
	Secret        string `yaml:"secret"`
	PassTTL       int    `yaml:"pass_ttl"`   // сек
	TicketTTL     int    `yaml:"ticket_ttl"` // сек
	HCaptchaSite  string `yaml:"hcaptcha_site_key"`
	HCaptchaKey   string `yaml:"hcaptcha_secret"`
	HCaptchaURL   string `yaml:"hcaptcha_verify_url"`
	EnableSwagger bool   `yaml:"enable_swagger"`
}

type StorageConfig struct {
	Driver   string   `yaml:"driver"` // postgres | memory
	URLs     []string `yaml:"urls"`   // по порядку: первый — основной
	RedisURL string   `yaml:"redis_url"`
	Migrate  bool     `yaml:"migrate"`
	MaxOpen  int      `yaml:"max_open_conns"`
	MaxIdle  int      `yaml:"max_idle_conns"`
}

type CacheConfig struct {
	Size int `yaml:"size"`
	TTL  int `yaml:"ttl"` // сек
}

type IngestConfig struct {
	Throttle    int `yaml:"throttle"`    // сек между элементами
	ChunkDelay  int `yaml:"chunk_delay"` // сек между чанками
	QueueSize   int `yaml:"queue_size"`
	MaxAttempts int `yaml:"max_attempts"`
}

type TMDBConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Dev   bool   `yaml:"dev"`
	File  string `yaml:"file"` // шаблон для rotatelogs, пусто — только stdout
}

type OpsConfig struct {
	EmailTo string `yaml:"email_to"`
}

type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Access    AccessConfig    `yaml:"access"`
	Shortener ShortenerConfig `yaml:"shortener"`
	Gate      GateConfig      `yaml:"gate"`
	Storage   StorageConfig   `yaml:"storage"`
	Cache     CacheConfig     `yaml:"cache"`
	Ingest    IngestConfig    `yaml:"ingest"`
	TMDB      TMDBConfig      `yaml:"tmdb"`
	Log       LogConfig       `yaml:"log"`
	Ops       OpsConfig       `yaml:"ops"`
	Email     struct {
		SMTPHost     string `yaml:"smtp_host"`
		SMTPPort     int    `yaml:"smtp_port"`
		SMTPUser     string `yaml:"smtp_user"`
		SMTPPassword string `yaml:"smtp_password"`
		FromEmail    string `yaml:"from_email"`
	} `yaml:"email"`
}

// LoadConfig читает .env (если есть), yaml и env-переопределения.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	path := os.Getenv("TGFLIX_CONFIG")
	if path == "" {
		path = defaultPath
	}
	cfg := &Config{}
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// без файла работаем только на env
	default:
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Telegram.Token, "BOT_TOKEN")
	setInt64(&cfg.Telegram.OwnerID, "OWNER_ID")
	setInt64(&cfg.Telegram.DBChannelID, "DB_CHANNEL_ID")
	setInt64(&cfg.Telegram.LogChannelID, "LOG_CHANNEL_ID")
	setInt64(&cfg.Telegram.IndexChannel, "UPDATE_CHANNEL_ID")
	setString(&cfg.Telegram.WebhookURL, "WEBHOOK_URL")
	setString(&cfg.Telegram.WebhookSecret, "WEBHOOK_SECRET")
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.URLs = strings.Split(v, ",")
	}
	setString(&cfg.Storage.RedisURL, "REDIS_URL")
	setString(&cfg.TMDB.APIKey, "TMDB_API_KEY")
	setString(&cfg.Gate.Secret, "GATE_SECRET")
	setString(&cfg.Gate.BaseURL, "GATE_BASE_URL")
	setString(&cfg.Gate.HCaptchaKey, "HCAPTCHA_SECRET")
	setString(&cfg.Shortener.APIToken, "SHORTENER_API_TOKEN")
	setString(&cfg.Shortener.APIToken2, "SHORTENER_API_TOKEN_2")
	setString(&cfg.Email.SMTPPassword, "SMTP_PASSWORD")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	if v := os.Getenv("LOG_DEV"); v != "" {
		cfg.Log.Dev = v == "1" || strings.EqualFold(v, "true")
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Telegram.Mode == "" {
		cfg.Telegram.Mode = "polling"
	}
	if cfg.Telegram.RatePerSecond <= 0 {
		cfg.Telegram.RatePerSecond = 20
	}
	if cfg.Access.DailyLimit <= 0 {
		cfg.Access.DailyLimit = 10
	}
	if cfg.Access.TokenTimeout <= 0 {
		cfg.Access.TokenTimeout = 86400
	}
	if cfg.Access.AutoDeleteTime < 0 {
		cfg.Access.AutoDeleteTime = 0
	}
	if cfg.Access.PruneAfterDays <= 0 {
		cfg.Access.PruneAfterDays = 40
	}
	if cfg.Access.Timezone == "" {
		cfg.Access.Timezone = "Asia/Kolkata"
	}
	if cfg.Shortener.Timeout <= 0 {
		cfg.Shortener.Timeout = 10
	}
	if cfg.Gate.Port == 0 {
		cfg.Gate.Port = 8080
	}
	if cfg.Gate.PassTTL <= 0 {
		cfg.Gate.PassTTL = 300
	}
	if cfg.Gate.TicketTTL <= 0 {
		cfg.Gate.TicketTTL = 3600
	}
	if cfg.Gate.HCaptchaURL == "" {
		cfg.Gate.HCaptchaURL = "https://api.hcaptcha.com/siteverify"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "postgres"
	}
	if cfg.Storage.MaxOpen <= 0 {
		cfg.Storage.MaxOpen = 10
	}
	if cfg.Storage.MaxIdle <= 0 {
		cfg.Storage.MaxIdle = 5
	}
	if cfg.Cache.Size <= 0 {
		cfg.Cache.Size = 10000
	}
	if cfg.Cache.TTL <= 0 {
		cfg.Cache.TTL = 600
	}
	if cfg.Ingest.Throttle < 0 {
		cfg.Ingest.Throttle = 0
	}
	if cfg.Ingest.QueueSize <= 0 {
		cfg.Ingest.QueueSize = 1024
	}
	if cfg.Ingest.MaxAttempts <= 0 {
		cfg.Ingest.MaxAttempts = 5
	}
	if cfg.TMDB.BaseURL == "" {
		cfg.TMDB.BaseURL = "https://api.themoviedb.org/3"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate проверяет обязательные поля для выбранного набора компонентов.
func (c *Config) Validate(needBot, needGate bool) error {
	var missing []string
	if needBot {
		if c.Telegram.Token == "" {
			missing = append(missing, "telegram.token")
		}
		if c.Telegram.OwnerID == 0 {
			missing = append(missing, "telegram.owner_id")
		}
		if c.Telegram.DBChannelID == 0 {
			missing = append(missing, "telegram.db_channel_id")
		}
	}
	if needBot && c.Telegram.Mode == "webhook" && (c.Telegram.WebhookURL == "" || c.Telegram.WebhookSecret == "") {
		missing = append(missing, "telegram.webhook_url/webhook_secret")
	}
	if needGate && c.Gate.Secret == "" {
		missing = append(missing, "gate.secret")
	}
	if c.Storage.Driver == "postgres" && len(c.Storage.URLs) == 0 {
		missing = append(missing, "storage.urls")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Access.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt64(dst *int64, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		*dst = n
	}
}
