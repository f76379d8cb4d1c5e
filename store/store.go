package store

import (
	"fmt"
	"strings"
	"time"

	"arcade-backend/config"
	"arcade-backend/logger"
	"arcade-backend/models"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SQLitePrefix selects the embedded SQLite engine instead of PostgreSQL,
// e.g. "sqlite://file::memory:?_pragma=foreign_keys(1)".
const SQLitePrefix = "sqlite://"

// OneActiveSessionIndex enforces a single active session per player and game when strict mode is on.
const OneActiveSessionIndex = "ux_sessions_one_active"

// PayoutClaimIndex allows one payout_out audit row per pool unless earlier attempts failed.
// Inserting the pending row claims the pool before any transfer is sent.
const PayoutClaimIndex = "ux_payment_audit_payout_claim"

// Open connects to the relational store named by cfg.URL.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	gormCfg := &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger: gormlogger.New(logger.Log, gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}

	var (
		db     *gorm.DB
		err    error
		single bool
	)
	if dsn, ok := strings.CutPrefix(cfg.URL, SQLitePrefix); ok {
		db, err = gorm.Open(sqlite.Open(dsn), gormCfg)
		// SQLite has a single writer; an in-memory database also lives on one connection.
		single = true
	} else {
		db, err = gorm.Open(postgres.Open(cfg.URL), gormCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if single {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeSec) * time.Second)
	}
	return db, nil
}

type MigrateOptions struct {
	StrictSingleSession bool
}

// Migrate creates or updates the four tables with their constraints and indexes.
func Migrate(db *gorm.DB, opts MigrateOptions) error {
	if err := db.AutoMigrate(
		&models.GameSession{},
		&models.LeaderboardEntry{},
		&models.PrizePool{},
		&models.PaymentAuditRecord{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	claim := fmt.Sprintf(
		"CREATE UNIQUE INDEX IF NOT EXISTS %s ON payment_audit (pool_id) WHERE direction = 'payout_out' AND status <> 'failed'",
		PayoutClaimIndex,
	)
	if err := db.Exec(claim).Error; err != nil {
		return fmt.Errorf("failed to create %s: %w", PayoutClaimIndex, err)
	}

	if opts.StrictSingleSession {
		stmt := fmt.Sprintf(
			"CREATE UNIQUE INDEX IF NOT EXISTS %s ON game_sessions (player_address, game_type) WHERE status = 'active'",
			OneActiveSessionIndex,
		)
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create %s: %w", OneActiveSessionIndex, err)
		}
	} else if err := db.Exec("DROP INDEX IF EXISTS " + OneActiveSessionIndex).Error; err != nil {
		return fmt.Errorf("failed to drop %s: %w", OneActiveSessionIndex, err)
	}

	logger.WithFields(map[string]interface{}{
		"strict_single_session": opts.StrictSingleSession,
	}).Info("database migrated")
	return nil
}

// Ping checks the connection is alive.
func Ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
