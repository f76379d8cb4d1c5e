package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arcade-backend/config"
	"arcade-backend/logger"
	"arcade-backend/models"
	"arcade-backend/services"
	"arcade-backend/store"
	"arcade-backend/utils"
	"arcade-backend/workers"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// app holds the wired services. This process runs only the scheduled jobs; no API layer
// is wired here, so payments, games and leaderboard are built for an embedding server.
type app struct {
	db          *gorm.DB
	games       *services.GameService
	sessions    *services.SessionService
	leaderboard *services.LeaderboardService
	pools       *services.PrizePoolService
	audit       *services.PaymentAuditService
	payments    *services.PaymentService
	payouts     *services.PayoutService
	facilitator *workers.FacilitatorClient
	sender      *workers.ChainPayoutSender
}

func main() {
	cfg, warning, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration: ", err)
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		logger.Fatal("failed to initialize logger: ", err)
	}
	if warning != "" {
		logger.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to start: ", err)
	}
	defer func() {
		if a.sender != nil {
			a.sender.Close()
		}
		if err := store.Close(a.db); err != nil {
			logger.Error("failed to close database: ", err)
		}
	}()

	if err := a.facilitator.Health(ctx); err != nil {
		logger.WithFields(logrus.Fields{"error": err.Error()}).Warn("facilitator unreachable, payments degraded")
	}

	sched, err := newScheduler(ctx, cfg, a)
	if err != nil {
		logger.Fatal("failed to create scheduler: ", err)
	}
	sched.Start(ctx)

	logger.WithFields(logrus.Fields{
		"games":       cfg.Game.GameTypes,
		"price":       a.payments.Price.String(),
		"share_bps":   cfg.Game.PrizeShareBps,
		"strict_mode": cfg.Game.StrictSingleSession,
		"payouts":     a.payouts != nil,
	}).Info("arcade backend running")

	<-ctx.Done()
	logger.Info("shutting down")
	if err := sched.Shutdown(); err != nil {
		logger.Error("scheduler shutdown: ", err)
	}
}

func build(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(db, store.MigrateOptions{StrictSingleSession: cfg.Game.StrictSingleSession}); err != nil {
		return nil, err
	}

	catalog, err := models.NewGameCatalog(cfg.Game.GameTypes)
	if err != nil {
		return nil, err
	}
	price, err := models.ParseMoney(cfg.Game.PriceUSDC)
	if err != nil {
		return nil, err
	}
	maxScores := make(map[string]int64, len(cfg.Game.MaxScores))
	for game, max := range cfg.Game.MaxScores {
		maxScores[models.NormalizeGameType(game)] = max
	}

	a := &app{db: db}
	a.games = services.NewGameService(catalog, price, maxScores)
	a.leaderboard = services.NewLeaderboardService(db, cfg.Game.TieBreak)
	a.sessions = services.NewSessionService(db, catalog, services.NewMaxScoreValidator(maxScores), a.leaderboard,
		time.Duration(cfg.Game.SessionTimeoutMinutes)*time.Minute)
	a.pools = services.NewPrizePoolService(db, catalog, a.leaderboard, cfg.Game.PrizeShareBps)
	a.audit = services.NewPaymentAuditService(db)

	a.facilitator, err = workers.NewFacilitatorClient(cfg.Facilitator, cfg.Payout.TokenContract)
	if err != nil {
		return nil, err
	}
	a.payments = services.NewPaymentService(a.sessions, a.pools, a.audit, a.facilitator, price, cfg.Facilitator.PayTo)

	if cfg.Payout.Enabled {
		a.sender, err = workers.DialPayoutSender(ctx, cfg.Payout)
		if err != nil {
			return nil, err
		}
		a.payouts = services.NewPayoutService(a.pools, a.audit, a.sender)
		logger.WithFields(logrus.Fields{"treasury": a.sender.Address()}).Info("prize payouts enabled")
	}
	return a, nil
}

func newScheduler(ctx context.Context, cfg *config.Config, a *app) (*services.Scheduler, error) {
	sched, err := services.NewScheduler(a.sessions, a.pools, services.SchedulerConfig{
		SweepInterval:      time.Duration(cfg.Scheduler.SessionSweepIntervalMinutes) * time.Minute,
		DailyFinalizeCron:  cfg.Scheduler.DailyFinalizeCron,
		WeeklyFinalizeCron: cfg.Scheduler.WeeklyFinalizeCron,
	})
	if err != nil {
		return nil, err
	}

	if a.payouts != nil {
		batch := cfg.Payout.BatchSize
		if err := sched.AddCronJob("payout-winners", cfg.Payout.Cron, func(ctx context.Context) error {
			_, err := a.payouts.PayOutPending(ctx, batch)
			return err
		}); err != nil {
			return nil, err
		}
	}

	if cfg.Archive.Enabled {
		r2, err := utils.NewR2Client(ctx, cfg.Archive.AccountID, cfg.Archive.AccessKeyID, cfg.Archive.AccessKeySecret, cfg.Archive.Bucket)
		if err != nil {
			return nil, err
		}
		archiver := workers.NewAuditArchiver(a.audit, r2)
		if err := sched.AddCronJob("archive-audit", cfg.Archive.Cron, archiver.ArchivePreviousDay); err != nil {
			return nil, err
		}
	}

	if err := sched.AddCronJob("facilitator-health", "*/5 * * * *", a.facilitator.Health); err != nil {
		return nil, err
	}
	return sched, nil
}
