package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "tgflix/docs"
	"tgflix/internal/authz"
	"tgflix/internal/cache"
	"tgflix/internal/config"
	"tgflix/internal/handlers"
	"tgflix/internal/logger"
	"tgflix/internal/routes"
	"tgflix/internal/services"
	"tgflix/internal/utils"
)

// Components — какие части процесса запускать.
type Components struct {
	Bot  bool
	Gate bool
}

const (
	broadcastPause    = 3 * time.Second
	queueDrainTimeout = 30 * time.Second
	sweepRetry        = time.Minute
	floodBuffer       = 5 * time.Second
	shutdownGrace     = 10 * time.Second
)

// Run поднимает выбранные компоненты и блокируется до отмены ctx или первой ошибки.
func Run(ctx context.Context, comps Components) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(comps.Bot, comps.Gate); err != nil {
		return err
	}
	lg, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer lg.Close()
	log := lg.Logger

	if !cfg.Log.Dev {
		gin.SetMode(gin.ReleaseMode)
	}

	st, err := OpenStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	clock := clockwork.NewRealClock()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	var (
		gateHandler *handlers.GateHandler
		botHandler  *handlers.BotHandler
	)
	if comps.Gate {
		gateHandler = handlers.NewGateHandler(handlers.GateDeps{
			Tickets: st.Tickets,
			Secret:  []byte(cfg.Gate.Secret),
			PassTTL: config.Seconds(cfg.Gate.PassTTL),
			Captcha: utils.NewHCaptcha(cfg.Gate.HCaptchaSite, cfg.Gate.HCaptchaKey, cfg.Gate.HCaptchaURL),
			Clock:   clock,
			Log:     log,
		})
	}
	if comps.Bot {
		botHandler, err = startBot(ctx, g, cfg, st, clock, lg)
		if err != nil {
			return err
		}
	}

	webhook := comps.Bot && cfg.Telegram.Mode == "webhook"
	if comps.Gate || webhook {
		router := gin.New()
		router.Use(gin.Logger())
		router.Use(gin.Recovery())
		opts := routes.Options{Swagger: cfg.Gate.EnableSwagger}
		if webhook {
			opts.WebhookSecret = cfg.Telegram.WebhookSecret
		}
		routes.SetupRoutes(router, gateHandler, botHandler, opts)
		serveHTTP(ctx, g, fmt.Sprintf(":%d", cfg.Gate.Port), router, log)
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("[app] stopped", zap.Error(err))
	return err
}

func serveHTTP(ctx context.Context, g *errgroup.Group, addr string, h http.Handler, log *zap.Logger) {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	g.Go(func() error {
		log.Info("[http] listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(sctx)
	})
}

func startBot(ctx context.Context, g *errgroup.Group, cfg *config.Config, st *Storage, clock clockwork.Clock, lg *logger.Logger) (*handlers.BotHandler, error) {
	log := lg.Logger
	tg, err := services.NewTelegramBot(cfg.Telegram.Token, services.BotOptions{
		APIEndpoint:   cfg.Telegram.APIEndpoint,
		FileEndpoint:  cfg.Telegram.FileEndpoint,
		RatePerSecond: cfg.Telegram.RatePerSecond,
		Debug:         cfg.Telegram.Debug,
	}, log)
	if err != nil {
		return nil, err
	}
	botName := tg.Username()
	log.Info("[bot] authorized", zap.String("bot", botName))

	settings := services.NewSettingsService(st.Settings, services.RuntimeSettings{
		MinimumDuration:    config.Seconds(cfg.Access.MinimumDuration),
		ShortenerURL:       cfg.Shortener.URL,
		ShortenerAPIToken:  cfg.Shortener.APIToken,
		ShortenerURL2:      cfg.Shortener.URL2,
		ShortenerAPIToken2: cfg.Shortener.APIToken2,
		TutorialMessageID:  cfg.Access.TutorialMessageID,
		DailyLimit:         cfg.Access.DailyLimit,
		TokenTimeout:       config.Seconds(cfg.Access.TokenTimeout),
		ForceSubChannel:    cfg.Access.ForceSubChannel,
		AutoDeleteTime:     config.Seconds(cfg.Access.AutoDeleteTime),
		ProtectContent:     cfg.Access.ProtectContent,
	}, log)
	if err := settings.Load(ctx); err != nil {
		return nil, err
	}

	shortenTimeout := config.Seconds(cfg.Shortener.Timeout)
	gateBase := ""
	if cfg.Gate.Secret != "" {
		gateBase = cfg.Gate.BaseURL
	}
	access := services.NewAccessService(services.AccessDeps{
		Users:    st.Users,
		Bans:     st.Bans,
		Stats:    st.Stats,
		Tickets:  st.Tickets,
		Cache:    cache.NewUserCache(cfg.Cache.Size, config.Seconds(cfg.Cache.TTL)),
		Settings: settings,
		Clock:    clock,
		Log:      log,
		Shorten: func(ctx context.Context, site, apiToken, longURL string) string {
			return utils.NewShortener(site, apiToken, shortenTimeout, log).Shorten(ctx, longURL)
		},
		BotUsername: botName,
		GateBaseURL: gateBase,
		HashCost:    cfg.Access.TokenHashCost,
		Location:    cfg.Location(),
	})

	ops := services.NewOpsNotifier(tg, cfg.Telegram.LogChannelID, services.MailConfig{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		User:     cfg.Email.SMTPUser,
		Password: cfg.Email.SMTPPassword,
		From:     cfg.Email.FromEmail,
		To:       cfg.Ops.EmailTo,
	}, log)

	dedup := services.NewDedupService(st.Fingerprints, tg, clock, services.DedupOptions{
		ChunkDelay:  config.Seconds(cfg.Ingest.ChunkDelay),
		Attempts:    3,
		RetryBuffer: floodBuffer,
	}, log)

	var meta services.MetadataLookup
	if cfg.TMDB.APIKey != "" {
		meta = utils.NewTMDBClient(cfg.TMDB.APIKey, cfg.TMDB.BaseURL)
	}
	catalog := services.NewCatalogService(tg, tg, meta, clock, services.CatalogOptions{
		ChannelID:   cfg.Telegram.IndexChannel,
		BotUsername: botName,
		Attempts:    cfg.Ingest.MaxAttempts,
	}, log)
	ingest := services.NewIngestService(dedup, catalog, tg, ops, log)
	queue := services.NewIngestQueue(cfg.Ingest.QueueSize, config.Seconds(cfg.Ingest.Throttle), clock, ingest.Process, log)

	bot := handlers.NewBotHandler(handlers.BotDeps{
		Access:      access,
		Settings:    settings,
		Dedup:       dedup,
		Queue:       queue,
		Broadcast:   services.NewBroadcastService(tg, access, clock, broadcastPause, log),
		Ops:         ops,
		TG:          tg,
		Roles:       authz.NewRoles(cfg.Telegram.OwnerID, cfg.Telegram.Admins),
		Clock:       clock,
		Log:         log,
		DBChannelID: cfg.Telegram.DBChannelID,
		BotUsername: botName,
		LogFile:     lg.CurrentFile,
	})
	access.SetHooks(services.AccessHooks{
		OnExpired: bot.NotifyExpired,
		OnBypass:  ops.BypassDetected,
	})

	sched := services.NewScheduler(cfg.Location(), sweepRetry, clock, log)
	for _, job := range services.AccessJobs(access, ops, time.Duration(cfg.Access.PruneAfterDays)*24*time.Hour, config.Seconds(cfg.Gate.TicketTTL)) {
		if err := sched.Add(job); err != nil {
			return nil, err
		}
	}

	// очередь живёт дольше ctx: при остановке дорабатываем поставленное
	queueCtx, queueCancel := context.WithCancel(context.Background())
	g.Go(func() error { return queue.Run(queueCtx) })
	g.Go(func() error {
		<-ctx.Done()
		defer queueCancel()
		drainCtx, cancel := context.WithTimeout(context.Background(), queueDrainTimeout)
		defer cancel()
		if err := queue.Stop(drainCtx); err != nil {
			log.Warn("[ingest][queue] drain interrupted", zap.Int("left", queue.Len()), zap.Error(err))
		}
		return nil
	})
	g.Go(func() error { return sched.Run(ctx) })

	if cfg.Telegram.Mode == "webhook" {
		hook := cfg.Telegram.WebhookURL + "/telegram/webhook/" + cfg.Telegram.WebhookSecret
		if err := tg.SetWebhook(hook); err != nil {
			return nil, fmt.Errorf("set webhook: %w", err)
		}
	} else {
		if err := tg.DeleteWebhook(); err != nil {
			log.Warn("[bot] delete webhook failed", zap.Error(err))
		}
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := tg.API().GetUpdatesChan(u)
		g.Go(func() error { return bot.Serve(ctx, updates) })
		g.Go(func() error {
			<-ctx.Done()
			tg.API().StopReceivingUpdates()
			return nil
		})
	}
	ops.Notify(ctx, fmt.Sprintf("🟢 <b>@%s started</b>", botName))
	return bot, nil
}

// Migrate применяет миграции ко всем хранилищам из конфига и выходит.
func Migrate() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	lg, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer lg.Close()
	return MigrateAll(cfg, lg.Logger)
}
