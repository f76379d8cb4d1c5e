package services

import (
	"context"
	"errors"
	"math"
	"time"

	"arcade-backend/apperrors"
	"arcade-backend/config"
	"arcade-backend/logger"
	"arcade-backend/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

// LeaderboardService keeps each player's best score per game and period
// and answers ranked queries over them.
type LeaderboardService struct {
	DB       *gorm.DB
	TieBreak string
	Now      func() time.Time
}

func NewLeaderboardService(db *gorm.DB, tieBreak string) *LeaderboardService {
	if tieBreak == "" {
		tieBreak = config.TieBreakEarliest
	}
	return &LeaderboardService{DB: db, TieBreak: tieBreak, Now: time.Now}
}

func (s *LeaderboardService) now() time.Time {
	return s.Now().UTC()
}

// rankOrder is the total order used for ranking. Ties on score go to whoever
// reached it first, or to whoever entered the period first.
func (s *LeaderboardService) rankOrder() string {
	if s.TieBreak == config.TieBreakInsertion {
		return "score DESC, created_at ASC, id ASC"
	}
	return "score DESC, updated_at ASC, id ASC"
}

// AddEntry records score for the current daily, weekly and all-time periods.
// Each period is one upsert that only overwrites a strictly lower stored score.
func (s *LeaderboardService) AddEntry(ctx context.Context, sessionID, gameType, playerAddress string, score int64) error {
	if _, err := uuid.Parse(sessionID); err != nil {
		return apperrors.Validation("invalid session id %q", sessionID)
	}
	game := models.NormalizeGameType(gameType)
	if game == "" {
		return apperrors.Validation("invalid game type %q", gameType)
	}
	player, err := models.NormalizeAddress(playerAddress)
	if err != nil {
		return apperrors.Validation("%v", err)
	}
	return s.addEntry(s.DB.WithContext(ctx), sessionID, game, player, score)
}

func (s *LeaderboardService) addEntry(tx *gorm.DB, sessionID, gameType, playerAddress string, score int64) error {
	if score < 0 {
		return apperrors.Validation("score %d is negative", score)
	}
	now := s.now()

	for _, period := range models.RankingPeriods {
		entry := models.LeaderboardEntry{
			ID:            uuid.NewString(),
			SessionID:     sessionID,
			GameType:      gameType,
			PlayerAddress: playerAddress,
			PeriodType:    period,
			PeriodKey:     models.PeriodKey(period, now),
			Score:         score,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "game_type"},
				{Name: "player_address"},
				{Name: "period_type"},
				{Name: "period_key"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"score", "session_id", "updated_at"}),
			Where: clause.Where{Exprs: []clause.Expression{
				gorm.Expr("excluded.score > leaderboard_entries.score"),
			}},
		}).Create(&entry).Error
		if err != nil {
			return apperrors.FromDB(err, "failed to record leaderboard entry")
		}
	}

	logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"game_type":  gameType,
		"player":     playerAddress,
		"score":      score,
	}).Debug("leaderboard entries submitted")
	return nil
}

// GetTopScores returns the best entries of the current period instance, ranked 1..n.
func (s *LeaderboardService) GetTopScores(ctx context.Context, gameType string, periodType models.PeriodType, limit int) ([]models.LeaderboardEntry, error) {
	if !periodType.Valid() {
		return nil, apperrors.Validation("unknown period type %q", periodType)
	}
	return s.GetTopScoresForPeriod(ctx, gameType, periodType, models.PeriodKey(periodType, s.now()), limit)
}

// GetTopScoresForPeriod is GetTopScores for an explicit period key.
func (s *LeaderboardService) GetTopScoresForPeriod(ctx context.Context, gameType string, periodType models.PeriodType, periodKey string, limit int) ([]models.LeaderboardEntry, error) {
	if !periodType.Valid() {
		return nil, apperrors.Validation("unknown period type %q", periodType)
	}
	gameType = models.NormalizeGameType(gameType)
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	if limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}

	var entries []models.LeaderboardEntry
	err := s.DB.WithContext(ctx).
		Where("game_type = ? AND period_type = ? AND period_key = ?", gameType, periodType, periodKey).
		Order(s.rankOrder()).
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, apperrors.FromDB(err, "failed to load leaderboard")
	}

	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

func (s *LeaderboardService) GetDailyLeaderboard(ctx context.Context, gameType string, limit int) ([]models.LeaderboardEntry, error) {
	return s.GetTopScores(ctx, gameType, models.PeriodDaily, limit)
}

func (s *LeaderboardService) GetWeeklyLeaderboard(ctx context.Context, gameType string, limit int) ([]models.LeaderboardEntry, error) {
	return s.GetTopScores(ctx, gameType, models.PeriodWeekly, limit)
}

func (s *LeaderboardService) GetAllTimeLeaderboard(ctx context.Context, gameType string, limit int) ([]models.LeaderboardEntry, error) {
	return s.GetTopScores(ctx, gameType, models.PeriodAllTime, limit)
}

// GetPlayerRanking returns the player's standing in the current period instance,
// or nil when the player has no entry there.
func (s *LeaderboardService) GetPlayerRanking(ctx context.Context, gameType, playerAddress string, periodType models.PeriodType) (*models.PlayerRanking, error) {
	if !periodType.Valid() {
		return nil, apperrors.Validation("unknown period type %q", periodType)
	}
	player, err := models.NormalizeAddress(playerAddress)
	if err != nil {
		return nil, apperrors.Validation("%v", err)
	}
	gameType = models.NormalizeGameType(gameType)
	periodKey := models.PeriodKey(periodType, s.now())
	db := s.DB.WithContext(ctx)

	var entry models.LeaderboardEntry
	err = db.Where("game_type = ? AND player_address = ? AND period_type = ? AND period_key = ?",
		gameType, player, periodType, periodKey).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.FromDB(err, "failed to load leaderboard entry")
	}

	period := db.Model(&models.LeaderboardEntry{}).
		Where("game_type = ? AND period_type = ? AND period_key = ?", gameType, periodType, periodKey)

	var better, total int64
	if err := period.Session(&gorm.Session{}).Where("score > ?", entry.Score).Count(&better).Error; err != nil {
		return nil, apperrors.FromDB(err, "failed to count higher scores")
	}
	if err := period.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, apperrors.FromDB(err, "failed to count players")
	}

	rank := better + 1
	return &models.PlayerRanking{
		GameType:      gameType,
		PlayerAddress: player,
		PeriodType:    periodType,
		PeriodKey:     periodKey,
		Rank:          rank,
		Score:         entry.Score,
		TotalPlayers:  total,
		Percentile:    percentile(rank, total),
	}, nil
}

// percentile is the share of players at or below rank, rounded to one decimal.
func percentile(rank, total int64) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(total-rank+1) / float64(total) * 100
	return math.Round(p*10) / 10
}

// TopEntry returns the winning entry of an exact period instance, or nil if it has none.
func (s *LeaderboardService) TopEntry(ctx context.Context, gameType string, periodType models.PeriodType, periodKey string) (*models.LeaderboardEntry, error) {
	return s.topEntry(s.DB.WithContext(ctx), models.NormalizeGameType(gameType), periodType, periodKey)
}

func (s *LeaderboardService) topEntry(tx *gorm.DB, gameType string, periodType models.PeriodType, periodKey string) (*models.LeaderboardEntry, error) {
	var entry models.LeaderboardEntry
	err := tx.Where("game_type = ? AND period_type = ? AND period_key = ?", gameType, periodType, periodKey).
		Order(s.rankOrder()).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.FromDB(err, "failed to load top leaderboard entry")
	}
	entry.Rank = 1
	return &entry, nil
}
