package models

import "time"

type PoolStatus string

const (
	PoolActive    PoolStatus = "active"
	PoolFinalized PoolStatus = "finalized"
	PoolPaid      PoolStatus = "paid"
)

// PrizePool accumulates the prize share of every payment for one game and period.
// Totals are frozen once the pool leaves the active state.
type PrizePool struct {
	ID              string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	GameType        string     `gorm:"type:varchar(32);not null;uniqueIndex:ux_prize_pools_period,priority:1" json:"game_type"`
	PeriodType      PeriodType `gorm:"type:varchar(16);not null;uniqueIndex:ux_prize_pools_period,priority:2;check:period_type IN ('daily','weekly')" json:"period_type"`
	PeriodKey       string     `gorm:"type:varchar(16);not null;uniqueIndex:ux_prize_pools_period,priority:3" json:"period_key"`
	TotalAmount     Money      `gorm:"type:bigint;not null;default:0;check:total_amount >= 0" json:"total_amount"`
	TotalGames      int64      `gorm:"not null;default:0;check:total_games >= 0" json:"total_games"`
	Status          PoolStatus `gorm:"type:varchar(16);not null;default:'active';index;check:status IN ('active','finalized','paid')" json:"status"`
	WinnerAddress   *string    `gorm:"type:varchar(42);check:(status = 'active') = (winner_address IS NULL)" json:"winner_address"`
	PayoutReference *string    `gorm:"type:varchar(66);check:(status = 'paid') = (payout_reference IS NOT NULL)" json:"payout_reference"`
	CreatedAt       time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"not null" json:"updated_at"`
	FinalizedAt     *time.Time `gorm:"check:(status = 'active') = (finalized_at IS NULL)" json:"finalized_at"`
}

func (PrizePool) TableName() string {
	return "prize_pools"
}

// PoolTotals is the result of crediting a payment to the current pools.
// Uncredited names the periods whose pool was already closed and took nothing.
type PoolTotals struct {
	Contribution Money        `json:"contribution"`
	DailyTotal   Money        `json:"daily_total"`
	WeeklyTotal  Money        `json:"weekly_total"`
	DailyGames   int64        `json:"daily_games"`
	WeeklyGames  int64        `json:"weekly_games"`
	Uncredited   []PeriodType `json:"uncredited,omitempty"`
}

// TopContributor is the player who paid the most for completed sessions in a period.
type TopContributor struct {
	PlayerAddress     string `json:"player_address"`
	TotalContribution Money  `json:"total_contribution"`
	GamesPlayed       int64  `json:"games_played"`
}

// GameStats is one game's share of a period's activity.
type GameStats struct {
	GameType    string `json:"game_type"`
	DisplayName string `json:"display_name"`
	TotalGames  int64  `json:"total_games"`
	PrizePool   Money  `json:"prize_pool"`
	Status      string `json:"status"`
}

// PeriodStats aggregates all games' pools for one period instance. ActiveGames counts
// the games whose pool is still open.
type PeriodStats struct {
	PeriodType     PeriodType  `json:"period_type"`
	PeriodKey      string      `json:"period_key"`
	TotalGames     int64       `json:"total_games"`
	TotalPrizePool Money       `json:"total_prize_pool"`
	ActiveGames    int         `json:"active_games"`
	GameBreakdown  []GameStats `json:"game_breakdown,omitempty"`
}
