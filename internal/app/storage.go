package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tgflix/internal/config"
	"tgflix/internal/database"
	"tgflix/internal/repositories"
)

// Storage — все репозитории процесса и то, что нужно закрыть при выходе.
type Storage struct {
	Users        repositories.UserRepository
	Bans         repositories.BanRepository
	Stats        repositories.StatsRepository
	Settings     repositories.SettingsRepository
	Tickets      repositories.TicketRepository
	Fingerprints repositories.FingerprintRepository

	dbs   []*sqlx.DB
	redis *redis.Client
}

// OpenStorage: первый URL — основной (баны, счётчики, настройки, тикеты);
// пользователи и отпечатки раскладываются по всем URL через fallback-репозитории.
func OpenStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Storage, error) {
	ticketTTL := config.Seconds(cfg.Gate.TicketTTL)
	st := &Storage{}

	switch cfg.Storage.Driver {
	case "memory":
		log.Warn("[storage] memory driver: data is lost on restart")
		st.Users = repositories.NewMemoryUserRepository()
		st.Bans = repositories.NewMemoryBanRepository()
		st.Stats = repositories.NewMemoryStatsRepository()
		st.Settings = repositories.NewMemorySettingsRepository()
		st.Tickets = repositories.NewMemoryTicketRepository(ticketTTL)
		st.Fingerprints = repositories.NewMemoryFingerprintRepository()
	case "postgres":
		var (
			users []repositories.UserRepository
			fps   []repositories.FingerprintRepository
		)
		for i, dsn := range cfg.Storage.URLs {
			if cfg.Storage.Migrate {
				if err := database.Migrate(dsn, log); err != nil {
					st.Close()
					return nil, fmt.Errorf("storage #%d: %w", i, err)
				}
			}
			db, err := database.Connect(ctx, dsn, database.PoolOptions{MaxOpen: cfg.Storage.MaxOpen, MaxIdle: cfg.Storage.MaxIdle})
			if err != nil {
				st.Close()
				return nil, fmt.Errorf("storage #%d: %w", i, err)
			}
			st.dbs = append(st.dbs, db)
			users = append(users, repositories.NewUserRepository(db))
			fps = append(fps, repositories.NewFingerprintRepository(db))
		}
		primary := st.dbs[0]
		st.Users = repositories.NewFallbackUserRepository(log, users...)
		st.Fingerprints = repositories.NewFallbackFingerprintRepository(log, fps...)
		st.Bans = repositories.NewBanRepository(primary)
		st.Stats = repositories.NewStatsRepository(primary)
		st.Settings = repositories.NewSettingsRepository(primary)
		st.Tickets = repositories.NewTicketRepository(primary, ticketTTL)
		log.Info("[storage] postgres ready", zap.Int("backends", len(st.dbs)))
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	if cfg.Storage.RedisURL != "" {
		client, err := repositories.ConnectRedis(ctx, cfg.Storage.RedisURL)
		if err != nil {
			st.Close()
			return nil, err
		}
		st.redis = client
		st.Tickets = repositories.NewRedisTicketRepository(client, ticketTTL)
		log.Info("[storage] tickets in redis")
	}
	return st, nil
}

func (s *Storage) Close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	for _, db := range s.dbs {
		_ = db.Close()
	}
}

// MigrateAll — для команды migrate: только схема, без подключения сервисов.
func MigrateAll(cfg *config.Config, log *zap.Logger) error {
	if cfg.Storage.Driver != "postgres" {
		return fmt.Errorf("migrate: storage driver is %q", cfg.Storage.Driver)
	}
	for i, dsn := range cfg.Storage.URLs {
		start := time.Now()
		if err := database.Migrate(dsn, log); err != nil {
			return fmt.Errorf("storage #%d: %w", i, err)
		}
		log.Info("[db][migrate] done", zap.Int("backend", i), zap.Duration("took", time.Since(start)))
	}
	return nil
}
