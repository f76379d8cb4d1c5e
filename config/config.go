// config/config.go
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Database    DatabaseConfig
	Game        GameConfig
	Facilitator FacilitatorConfig
	Scheduler   SchedulerConfig
	Payout      PayoutConfig
	Archive     ArchiveConfig
	Logging     LoggingConfig
}

type DatabaseConfig struct {
	URL                string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeSec int
}

type GameConfig struct {
	// GameTypes is the closed set of playable games, as configured (normalized later by models.NewGameCatalog).
	GameTypes []string
	// MaxScores holds optional per-game plausibility ceilings for the default score validator.
	MaxScores map[string]int64
	// PrizeShareBps is the share of every payment credited to prize pools, in basis points.
	PrizeShareBps int64
	// PriceUSDC is the expected price per play as a decimal string, e.g. "0.01".
	PriceUSDC             string
	SessionTimeoutMinutes int
	StrictSingleSession   bool
	TieBreak              string
}

type FacilitatorConfig struct {
	URL        string
	Token      string
	TimeoutSec int
	PayTo      string
	Network    string
}

type SchedulerConfig struct {
	SessionSweepIntervalMinutes int
	DailyFinalizeCron           string
	WeeklyFinalizeCron          string
}

// PayoutConfig drives on-chain prize transfers of finalized pools.
type PayoutConfig struct {
	Enabled       bool
	Cron          string
	BatchSize     int
	RPCURL        string
	PrivateKey    string
	TokenContract string
	ChainID       int64
}

type ArchiveConfig struct {
	Enabled         bool
	Cron            string
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
}

type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

const (
	TieBreakEarliest  = "earliest"
	TieBreakInsertion = "insertion"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME_SEC", 300)

	v.SetDefault("GAME_TYPES", "snake,tetris,pong,breakout,space-invaders")
	v.SetDefault("GAME_MAX_SCORES", "")
	v.SetDefault("PRIZE_POOL_SHARE", "0.70")
	v.SetDefault("GAME_PRICE_USDC", "0.01")
	v.SetDefault("SESSION_TIMEOUT_MINUTES", 30)
	v.SetDefault("STRICT_SINGLE_ACTIVE_SESSION", false)
	v.SetDefault("LEADERBOARD_TIE_BREAK", TieBreakEarliest)

	v.SetDefault("FACILITATOR_TIMEOUT_SEC", 30)
	v.SetDefault("PAYMENT_NETWORK", "base-sepolia")

	v.SetDefault("SESSION_SWEEP_INTERVAL_MINUTES", 5)
	v.SetDefault("DAILY_FINALIZE_CRON", "5 0 * * *")
	v.SetDefault("WEEKLY_FINALIZE_CRON", "10 0 * * 1")

	v.SetDefault("PAYOUT_ENABLED", false)
	v.SetDefault("PAYOUT_CRON", "0 1 * * *")
	v.SetDefault("PAYOUT_BATCH_SIZE", 20)
	v.SetDefault("CHAIN_ID", 84532)

	v.SetDefault("AUDIT_ARCHIVE_ENABLED", false)
	v.SetDefault("AUDIT_ARCHIVE_CRON", "30 0 * * *")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("LOG_OUTPUT", "stdout")
}

// Load reads an optional .env file, then the process environment.
// The returned warning is non-empty when no .env file was found.
func Load() (*Config, string, error) {
	var warning string
	if err := godotenv.Load(); err != nil {
		warning = "no .env file found, reading environment variables directly"
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg, err := FromViper(v)
	return cfg, warning, err
}

// FromViper builds and validates a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	shareBps, err := shareToBps(v.GetString("PRIZE_POOL_SHARE"))
	if err != nil {
		return nil, err
	}

	maxScores, err := parseMaxScores(v.GetString("GAME_MAX_SCORES"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			URL:                v.GetString("DATABASE_URL"),
			MaxOpenConns:       v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:       v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetimeSec: v.GetInt("DB_CONN_MAX_LIFETIME_SEC"),
		},
		Game: GameConfig{
			GameTypes:             splitList(v.GetString("GAME_TYPES")),
			MaxScores:             maxScores,
			PrizeShareBps:         shareBps,
			PriceUSDC:             v.GetString("GAME_PRICE_USDC"),
			SessionTimeoutMinutes: v.GetInt("SESSION_TIMEOUT_MINUTES"),
			StrictSingleSession:   v.GetBool("STRICT_SINGLE_ACTIVE_SESSION"),
			TieBreak:              strings.ToLower(v.GetString("LEADERBOARD_TIE_BREAK")),
		},
		Facilitator: FacilitatorConfig{
			URL:        strings.TrimRight(v.GetString("FACILITATOR_URL"), "/"),
			Token:      v.GetString("FACILITATOR_TOKEN"),
			TimeoutSec: v.GetInt("FACILITATOR_TIMEOUT_SEC"),
			PayTo:      v.GetString("PAY_TO_ADDRESS"),
			Network:    v.GetString("PAYMENT_NETWORK"),
		},
		Scheduler: SchedulerConfig{
			SessionSweepIntervalMinutes: v.GetInt("SESSION_SWEEP_INTERVAL_MINUTES"),
			DailyFinalizeCron:           v.GetString("DAILY_FINALIZE_CRON"),
			WeeklyFinalizeCron:          v.GetString("WEEKLY_FINALIZE_CRON"),
		},
		Payout: PayoutConfig{
			Enabled:       v.GetBool("PAYOUT_ENABLED"),
			Cron:          v.GetString("PAYOUT_CRON"),
			BatchSize:     v.GetInt("PAYOUT_BATCH_SIZE"),
			RPCURL:        v.GetString("PAYOUT_RPC_URL"),
			PrivateKey:    strings.TrimPrefix(v.GetString("PAYOUT_PRIVATE_KEY"), "0x"),
			TokenContract: v.GetString("USDC_CONTRACT_ADDRESS"),
			ChainID:       v.GetInt64("CHAIN_ID"),
		},
		Archive: ArchiveConfig{
			Enabled:         v.GetBool("AUDIT_ARCHIVE_ENABLED"),
			Cron:            v.GetString("AUDIT_ARCHIVE_CRON"),
			AccountID:       v.GetString("CLOUDFLARE_ACCOUNT_ID"),
			AccessKeyID:     v.GetString("R2_ACCESS_KEY_ID"),
			AccessKeySecret: v.GetString("R2_ACCESS_KEY_SECRET"),
			Bucket:          v.GetString("R2_BUCKET_NAME"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
			Output: v.GetString("LOG_OUTPUT"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Game.SessionTimeoutMinutes <= 0 {
		return fmt.Errorf("SESSION_TIMEOUT_MINUTES must be positive, got %d", c.Game.SessionTimeoutMinutes)
	}
	if len(c.Game.GameTypes) == 0 {
		return fmt.Errorf("GAME_TYPES must list at least one game")
	}
	switch c.Game.TieBreak {
	case TieBreakEarliest, TieBreakInsertion:
	default:
		return fmt.Errorf("LEADERBOARD_TIE_BREAK must be %q or %q, got %q", TieBreakEarliest, TieBreakInsertion, c.Game.TieBreak)
	}
	if c.Scheduler.SessionSweepIntervalMinutes <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL_MINUTES must be positive")
	}
	if c.Payout.Enabled && (c.Payout.RPCURL == "" || c.Payout.PrivateKey == "" || c.Payout.TokenContract == "") {
		return fmt.Errorf("payouts enabled but PAYOUT_RPC_URL, PAYOUT_PRIVATE_KEY or USDC_CONTRACT_ADDRESS is missing")
	}
	if c.Payout.Enabled && c.Payout.ChainID <= 0 {
		return fmt.Errorf("CHAIN_ID must be positive, got %d", c.Payout.ChainID)
	}
	if c.Archive.Enabled && (c.Archive.AccountID == "" || c.Archive.Bucket == "") {
		return fmt.Errorf("audit archive enabled but CLOUDFLARE_ACCOUNT_ID or R2_BUCKET_NAME is missing")
	}
	return nil
}

// shareToBps converts a fraction such as "0.70" to basis points (7000).
func shareToBps(raw string) (int64, error) {
	share, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid PRIZE_POOL_SHARE %q: %w", raw, err)
	}
	if share.IsNegative() || share.GreaterThan(decimal.NewFromInt(1)) {
		return 0, fmt.Errorf("PRIZE_POOL_SHARE must be within [0,1], got %s", share)
	}
	bps := share.Mul(decimal.NewFromInt(10000))
	if !bps.Equal(bps.Truncate(0)) {
		return 0, fmt.Errorf("PRIZE_POOL_SHARE %s is finer than one basis point", share)
	}
	return bps.IntPart(), nil
}

// parseMaxScores parses "snake=50000,tetris=999999".
func parseMaxScores(raw string) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, pair := range splitList(raw) {
		game, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid GAME_MAX_SCORES entry %q, want game=max", pair)
		}
		max, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil || max < 0 {
			return nil, fmt.Errorf("invalid max score for %q: %q", game, value)
		}
		out[strings.TrimSpace(game)] = max
	}
	return out, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
