// Package bootstrap assembles the storage, cache, notifier and application services
// from configuration. Shared by the server and the admin CLI.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"reward_verification_service/internal/app"
	"reward_verification_service/internal/domain/business"
	"reward_verification_service/internal/domain/payment"
	"reward_verification_service/internal/domain/security"
	"reward_verification_service/internal/domain/verification"
	"reward_verification_service/internal/infra/cache"
	"reward_verification_service/internal/infra/config"
	idb "reward_verification_service/internal/infra/database"
	"reward_verification_service/internal/infra/export"
	"reward_verification_service/internal/infra/memstore"
	"reward_verification_service/internal/infra/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const (
	cacheKeyPrefix     = "rewards:"
	cacheSweepInterval = time.Minute
)

// Options controls the parts only a long-running process needs.
type Options struct {
	// StartBot polls Telegram for admin commands. The CLI only sends.
	StartBot bool
	// Migrate applies pending SQL migrations on connect.
	Migrate bool
}

type Container struct {
	Config *config.AppConfig
	DB     *sql.DB // nil with the memory driver

	Cycles      *app.CycleService
	Preparation *app.PreparationService
	Exports     *app.ExportService
	Payments    *app.PaymentService
	Rewards     *app.RewardService
	Outbox      *app.OutboxProcessor
	Security    *app.SecurityService
	Admin       *app.AdminService
	Directory   *cache.Directory

	Bot *telebot.Bot // nil without a token

	closers []func() error
	logger  *logrus.Entry
}

type repositories struct {
	verification verification.Repository
	payment      payment.Repository
	business     business.Repository
	security     security.Repository
}

// Build wires everything. ctx bounds background work such as preparation jobs and
// the cache sweeper.
func Build(ctx context.Context, cfg *config.AppConfig, opts Options, log *logrus.Logger) (*Container, error) {
	c := &Container{Config: cfg, logger: log.WithField("component", "bootstrap")}
	base := logrus.NewEntry(log)

	repos, err := c.openStorage(ctx, opts)
	if err != nil {
		c.Close()
		return nil, err
	}

	businessCache, err := c.openCache(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Directory = cache.NewDirectory(repos.business, businessCache, cfg.BusinessCacheTTL, base)

	notifier, err := c.openNotifier(opts, base)
	if err != nil {
		c.Close()
		return nil, err
	}

	signer := export.NewSigner(cfg.DownloadSigningSecret)
	c.Exports = app.NewExportService(repos.verification, repos.business, signer, cfg.PublicBaseURL, base)
	c.Cycles = app.NewCycleService(repos.verification, c.Directory, notifier, c.Exports, base)
	c.Preparation = app.NewPreparationService(ctx, repos.verification, repos.business, c.Cycles, base)
	c.Payments = app.NewPaymentService(repos.payment, repos.verification, c.Cycles, c.Directory, notifier, app.PaymentSettings{
		ServiceFeeRate:   cfg.ServiceFeeRate,
		PaymentTermsDays: cfg.PaymentTermsDays,
	}, base)
	c.Rewards = app.NewRewardService(repos.payment, repos.verification, c.Exports, c.Directory, notifier, cfg.WorkerID, cfg.BatchLeaseTTL, base)
	c.Outbox = app.NewOutboxProcessor(repos.payment, c.Rewards, cfg.OutboxMaxAttempts, base)
	c.Security = app.NewSecurityService(repos.security, base)
	c.Admin = app.NewAdminService(c.Cycles, c.Payments, cfg.AdminTelegramIDs)

	if c.Bot != nil && opts.StartBot {
		telegram.RegisterBotCommands(c.Bot, c.Admin, base)
		telegram.RegisterAdminHandlers(ctx, c.Bot, c.Admin, base)
	}
	return c, nil
}

func (c *Container) openStorage(ctx context.Context, opts Options) (*repositories, error) {
	if c.Config.StorageDriver == config.StorageDriverMemory {
		c.logger.Warn("Using in-memory storage; data is lost on restart")
		store := memstore.New()
		return &repositories{verification: store, payment: store, business: store, security: store}, nil
	}

	db, err := idb.NewPostgresConnection(c.Config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}
	c.DB = db
	c.closers = append(c.closers, db.Close)
	c.logger.Info("Database connection established successfully.")

	if opts.Migrate {
		applied, err := idb.Migrate(ctx, db)
		if err != nil {
			return nil, err
		}
		c.logger.WithField("applied", applied).Info("Database migrations up to date")
	}

	return &repositories{
		verification: idb.NewPostgresVerificationRepository(db),
		payment:      idb.NewPostgresPaymentRepository(db),
		business:     idb.NewPostgresBusinessRepository(db),
		security:     idb.NewPostgresSecurityRepository(db),
	}, nil
}

func (c *Container) openCache(ctx context.Context) (cache.Cache, error) {
	if c.Config.RedisURL == "" {
		mc := cache.NewMemoryCache()
		go mc.RunSweeper(ctx, cacheSweepInterval)
		c.logger.Info("Business cache: in-process")
		return mc, nil
	}
	client, err := cache.NewRedisClient(c.Config.RedisURL)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, client.Close)
	rc := cache.NewRedisCache(client, cacheKeyPrefix)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("could not reach redis: %w", err)
	}
	c.logger.Info("Business cache: redis")
	return rc, nil
}

func (c *Container) openNotifier(opts Options, base *logrus.Entry) (app.Notifier, error) {
	if c.Config.TelegramToken == "" {
		c.logger.Warn("TELEGRAM_TOKEN is not set; business notices will only be logged")
		return telegram.NewLogNotifier(base), nil
	}
	pref := telebot.Settings{
		Token:   c.Config.TelegramToken,
		Offline: !opts.StartBot,
		OnError: func(err error, tc telebot.Context) {
			entry := c.logger.WithError(err)
			if tc != nil && tc.Sender() != nil && tc.Chat() != nil {
				entry = entry.WithFields(logrus.Fields{
					"sender_id": tc.Sender().ID,
					"chat_id":   tc.Chat().ID,
					"text":      tc.Text(),
				})
			}
			entry.Error("Telegram bot error")
		},
	}
	if opts.StartBot {
		pref.Poller = &telebot.LongPoller{Timeout: 10 * time.Second}
	}
	bot, err := telebot.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("could not create Telegram bot: %w", err)
	}
	c.Bot = bot
	return telegram.NewBusinessNotifier(telegram.NewTelebotAdapter(bot), base), nil
}

// Ping checks the storage backend. Always healthy with the memory driver.
func (c *Container) Ping(ctx context.Context) error {
	if c.DB == nil {
		return nil
	}
	return c.DB.PingContext(ctx)
}

// Close releases connections in reverse order of opening.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.logger.WithError(err).Warn("Error while closing resource")
		}
	}
	c.closers = nil
}
