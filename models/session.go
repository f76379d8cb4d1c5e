package models

import "time"

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionExpired   SessionStatus = "expired"
)

func (s SessionStatus) Valid() bool {
	return s == SessionActive || s == SessionCompleted || s == SessionExpired
}

// GameSession is one paid attempt at one game.
// Status moves active -> completed or active -> expired and never again.
type GameSession struct {
	ID               string        `gorm:"primaryKey;type:varchar(36)" json:"id"`
	GameType         string        `gorm:"type:varchar(32);not null;index:idx_sessions_game_created,priority:1;index:idx_sessions_player_game,priority:2" json:"game_type"`
	PlayerAddress    string        `gorm:"type:varchar(42);not null;index:idx_sessions_player_game,priority:1;check:length(player_address) = 42" json:"player_address"`
	PaymentReference string        `gorm:"type:varchar(66);not null;uniqueIndex:ux_sessions_payment_reference" json:"payment_reference"`
	AmountPaid       Money         `gorm:"type:bigint;not null;check:amount_paid > 0" json:"amount_paid"`
	Score            *int64        `gorm:"check:(status = 'completed') = (score IS NOT NULL) AND COALESCE(score, 0) >= 0" json:"score"`
	Status           SessionStatus `gorm:"type:varchar(16);not null;default:'active';index:idx_sessions_status_created,priority:1;check:status IN ('active','completed','expired')" json:"status"`
	CreatedAt        time.Time     `gorm:"not null;index:idx_sessions_game_created,priority:2;index:idx_sessions_status_created,priority:2" json:"created_at"`
	CompletedAt      *time.Time    `gorm:"check:(status = 'active') = (completed_at IS NULL)" json:"completed_at"`
	DurationMs       *int64        `gorm:"check:COALESCE(duration_ms, 0) >= 0" json:"duration_ms"`
}

func (GameSession) TableName() string {
	return "game_sessions"
}

func (s *GameSession) IsActive() bool {
	return s.Status == SessionActive
}

// PlayerStats summarizes a player's sessions across games.
type PlayerStats struct {
	PlayerAddress  string            `json:"player_address"`
	GamesPlayed    int64             `json:"games_played"`
	GamesCompleted int64             `json:"games_completed"`
	TotalSpent     Money             `json:"total_spent"`
	Games          []PlayerGameStats `json:"games"`
}

type PlayerGameStats struct {
	GameType       string `json:"game_type"`
	GamesPlayed    int64  `json:"games_played"`
	GamesCompleted int64  `json:"games_completed"`
	BestScore      *int64 `json:"best_score"`
	TotalSpent     Money  `json:"total_spent"`
}
