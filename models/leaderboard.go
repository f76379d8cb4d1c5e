package models

import "time"

// LeaderboardEntry is a player's best score for one game in one period instance.
type LeaderboardEntry struct {
	ID            string       `gorm:"primaryKey;type:varchar(36)" json:"id"`
	SessionID     string       `gorm:"type:varchar(36);not null;index" json:"session_id"`
	Session       *GameSession `gorm:"foreignKey:SessionID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
	GameType      string       `gorm:"type:varchar(32);not null;uniqueIndex:ux_leaderboard_period,priority:1;index:idx_leaderboard_ranking,priority:1" json:"game_type"`
	PlayerAddress string       `gorm:"type:varchar(42);not null;uniqueIndex:ux_leaderboard_period,priority:2;check:length(player_address) = 42" json:"player_address"`
	PeriodType    PeriodType   `gorm:"type:varchar(16);not null;uniqueIndex:ux_leaderboard_period,priority:3;index:idx_leaderboard_ranking,priority:2;check:period_type IN ('daily','weekly','alltime')" json:"period_type"`
	PeriodKey     string       `gorm:"type:varchar(16);not null;uniqueIndex:ux_leaderboard_period,priority:4;index:idx_leaderboard_ranking,priority:3" json:"period_key"`
	Score         int64        `gorm:"not null;index:idx_leaderboard_ranking,priority:4,sort:desc;check:score >= 0" json:"score"`
	CreatedAt     time.Time    `gorm:"not null" json:"created_at"`
	// UpdatedAt is when the current score was achieved.
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`

	// Computed per query, never stored.
	Rank int `gorm:"-" json:"rank,omitempty"`
}

func (LeaderboardEntry) TableName() string {
	return "leaderboard_entries"
}

// PlayerRanking is a single player's standing within one period.
type PlayerRanking struct {
	GameType      string     `json:"game_type"`
	PlayerAddress string     `json:"player_address"`
	PeriodType    PeriodType `json:"period_type"`
	PeriodKey     string     `json:"period_key"`
	Rank          int64      `json:"rank"`
	Score         int64      `json:"score"`
	TotalPlayers  int64      `json:"total_players"`
	Percentile    float64    `json:"percentile"`
}
