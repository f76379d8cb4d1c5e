package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"arcade-backend/apperrors"
	"arcade-backend/logger"
	"arcade-backend/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultPoolHistoryLimit = 10
	maxPoolHistoryLimit     = 100
)

// PrizePoolService credits a share of every payment to the current daily and weekly
// pools and drives each pool through active -> finalized -> paid.
type PrizePoolService struct {
	DB      *gorm.DB
	Games   *models.GameCatalog
	Ranking *LeaderboardService
	// ShareBps is the share of each payment credited to the pools, in basis points.
	ShareBps int64
	Now      func() time.Time
}

func NewPrizePoolService(db *gorm.DB, games *models.GameCatalog, ranking *LeaderboardService, shareBps int64) *PrizePoolService {
	return &PrizePoolService{
		DB:       db,
		Games:    games,
		Ranking:  ranking,
		ShareBps: shareBps,
		Now:      time.Now,
	}
}

func (s *PrizePoolService) now() time.Time {
	return s.Now().UTC()
}

func (s *PrizePoolService) lookupGame(gameType string) (string, error) {
	game, ok := s.Games.Lookup(gameType)
	if !ok {
		return "", apperrors.Validation("unknown game type %q", gameType)
	}
	return game, nil
}

func checkPoolPeriod(periodType models.PeriodType) error {
	if !periodType.HasPool() {
		return apperrors.Validation("prize pools exist only for daily and weekly periods, got %q", periodType)
	}
	return nil
}

// Contribution is the part of amountPaid that goes to each pool.
func (s *PrizePoolService) Contribution(amountPaid models.Money) models.Money {
	return amountPaid.Share(s.ShareBps)
}

// AddToPrizePool credits amountPaid's prize share to the current daily and weekly pools
// of gameType, creating them if needed, and returns the resulting totals.
func (s *PrizePoolService) AddToPrizePool(ctx context.Context, gameType string, amountPaid models.Money) (*models.PoolTotals, error) {
	game, err := s.lookupGame(gameType)
	if err != nil {
		return nil, err
	}
	if amountPaid <= 0 {
		return nil, apperrors.Validation("amount paid must be positive, got %s", amountPaid)
	}
	return s.addToPrizePool(s.DB.WithContext(ctx), game, amountPaid)
}

func (s *PrizePoolService) addToPrizePool(tx *gorm.DB, gameType string, amountPaid models.Money) (*models.PoolTotals, error) {
	contribution := s.Contribution(amountPaid)
	now := s.now()
	totals := &models.PoolTotals{Contribution: contribution}

	for _, period := range models.PoolPeriods {
		key := models.PeriodKey(period, now)
		pool := models.PrizePool{
			ID:          uuid.NewString(),
			GameType:    gameType,
			PeriodType:  period,
			PeriodKey:   key,
			TotalAmount: contribution,
			TotalGames:  1,
			Status:      models.PoolActive,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		// One additive upsert per pool; a pool that already left the active state is not touched.
		res := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "game_type"}, {Name: "period_type"}, {Name: "period_key"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"total_amount": gorm.Expr("prize_pools.total_amount + ?", int64(contribution)),
				"total_games":  gorm.Expr("prize_pools.total_games + 1"),
				"updated_at":   now,
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				gorm.Expr("prize_pools.status = ?", models.PoolActive),
			}},
		}).Create(&pool)
		if res.Error != nil {
			return nil, apperrors.FromDB(res.Error, "failed to credit prize pool")
		}

		current, err := s.findPool(tx, gameType, period, key)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, apperrors.New(apperrors.CodeDatabase, fmt.Sprintf("prize pool %s/%s/%s missing after upsert", gameType, period, key), nil)
		}
		if res.RowsAffected == 0 {
			totals.Uncredited = append(totals.Uncredited, period)
			logger.WithFields(logrus.Fields{
				"game_type":   gameType,
				"period_type": period,
				"period_key":  key,
				"status":      current.Status,
			}).Warn("prize pool is closed, contribution not credited")
		}

		switch period {
		case models.PeriodDaily:
			totals.DailyTotal = current.TotalAmount
			totals.DailyGames = current.TotalGames
		case models.PeriodWeekly:
			totals.WeeklyTotal = current.TotalAmount
			totals.WeeklyGames = current.TotalGames
		}
	}

	logger.WithFields(logrus.Fields{
		"game_type":    gameType,
		"amount":       int64(amountPaid),
		"contribution": int64(contribution),
		"daily_total":  int64(totals.DailyTotal),
		"weekly_total": int64(totals.WeeklyTotal),
	}).Info("prize pools credited")
	return totals, nil
}

func (s *PrizePoolService) findPool(tx *gorm.DB, gameType string, periodType models.PeriodType, periodKey string) (*models.PrizePool, error) {
	var pool models.PrizePool
	err := tx.Where("game_type = ? AND period_type = ? AND period_key = ?", gameType, periodType, periodKey).
		Take(&pool).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.FromDB(err, "failed to load prize pool")
	}
	return &pool, nil
}

// GetPool returns the pool with id, or nil.
func (s *PrizePoolService) GetPool(ctx context.Context, id string) (*models.PrizePool, error) {
	var pool models.PrizePool
	err := s.DB.WithContext(ctx).Where("id = ?", id).Take(&pool).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.FromDB(err, "failed to load prize pool")
	}
	return &pool, nil
}

// GetCurrentPool returns the pool of the period instance containing now, without creating it.
func (s *PrizePoolService) GetCurrentPool(ctx context.Context, gameType string, periodType models.PeriodType) (*models.PrizePool, error) {
	return s.GetPoolForPeriod(ctx, gameType, periodType, models.PeriodKey(periodType, s.now()))
}

func (s *PrizePoolService) GetPoolForPeriod(ctx context.Context, gameType string, periodType models.PeriodType, periodKey string) (*models.PrizePool, error) {
	game, err := s.lookupGame(gameType)
	if err != nil {
		return nil, err
	}
	if err := checkPoolPeriod(periodType); err != nil {
		return nil, err
	}
	return s.findPool(s.DB.WithContext(ctx), game, periodType, periodKey)
}

// GetPoolHistory lists a game's pools of past periods, most recent first. The pool of
// the current period is not included.
func (s *PrizePoolService) GetPoolHistory(ctx context.Context, gameType string, periodType models.PeriodType, limit, offset int) ([]models.PrizePool, error) {
	game, err := s.lookupGame(gameType)
	if err != nil {
		return nil, err
	}
	if err := checkPoolPeriod(periodType); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPoolHistoryLimit
	}
	if limit > maxPoolHistoryLimit {
		limit = maxPoolHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	var pools []models.PrizePool
	err = s.DB.WithContext(ctx).
		Where("game_type = ? AND period_type = ? AND period_key < ?", game, periodType, models.PeriodKey(periodType, s.now())).
		Order("period_key DESC").
		Limit(limit).
		Offset(offset).
		Find(&pools).Error
	if err != nil {
		return nil, apperrors.FromDB(err, "failed to load pool history")
	}
	return pools, nil
}

// GetTopContributor returns the player who paid the most for completed sessions
// of gameType within the period, or nil if nobody completed a session there.
func (s *PrizePoolService) GetTopContributor(ctx context.Context, gameType string, periodType models.PeriodType, periodKey string) (*models.TopContributor, error) {
	game, err := s.lookupGame(gameType)
	if err != nil {
		return nil, err
	}
	start, end, err := models.PeriodWindow(periodType, periodKey)
	if err != nil {
		return nil, apperrors.Validation("%v", err)
	}

	q := s.DB.WithContext(ctx).Model(&models.GameSession{}).
		Select(`player_address,
			CAST(COALESCE(SUM(amount_paid), 0) AS BIGINT) AS total_contribution,
			COUNT(*) AS games_played`).
		Where("game_type = ? AND status = ?", game, models.SessionCompleted)
	if !end.IsZero() {
		q = q.Where("created_at >= ? AND created_at < ?", start, end)
	}

	var rows []models.TopContributor
	err = q.Group("player_address").
		Order("total_contribution DESC, games_played DESC, player_address ASC").
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return nil, apperrors.FromDB(err, "failed to aggregate contributions")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// FinalizePool freezes the pool of an exact period instance and records its winner,
// the top entry of the matching leaderboard. It returns nil when the pool does not
// exist or nobody ranked in that period. Finalizing twice returns the same winner.
func (s *PrizePoolService) FinalizePool(ctx context.Context, gameType string, periodType models.PeriodType, periodKey string) (*models.PrizePool, error) {
	game, err := s.lookupGame(gameType)
	if err != nil {
		return nil, err
	}
	if err := checkPoolPeriod(periodType); err != nil {
		return nil, err
	}
	db := s.DB.WithContext(ctx)

	pool, err := s.findPool(db, game, periodType, periodKey)
	if err != nil || pool == nil {
		return nil, err
	}
	switch pool.Status {
	case models.PoolPaid:
		return nil, apperrors.InvalidState(apperrors.ReasonAlreadyPaid, "pool %s is already paid", pool.ID)
	case models.PoolFinalized:
		return pool, nil
	}

	top, err := s.Ranking.topEntry(db, game, periodType, periodKey)
	if err != nil || top == nil {
		return nil, err
	}

	now := s.now()
	res := db.Model(&models.PrizePool{}).
		Where("id = ? AND status = ?", pool.ID, models.PoolActive).
		Updates(map[string]interface{}{
			"status":         models.PoolFinalized,
			"winner_address": top.PlayerAddress,
			"finalized_at":   now,
			"updated_at":     now,
		})
	if res.Error != nil {
		return nil, apperrors.FromDB(res.Error, "failed to finalize pool")
	}

	current, err := s.findPool(db, game, periodType, periodKey)
	if err != nil || current == nil {
		return nil, err
	}
	if res.RowsAffected == 0 && current.Status == models.PoolPaid {
		return nil, apperrors.InvalidState(apperrors.ReasonAlreadyPaid, "pool %s is already paid", pool.ID)
	}

	if res.RowsAffected == 1 {
		logger.WithFields(logrus.Fields{
			"pool_id":     current.ID,
			"game_type":   game,
			"period_type": periodType,
			"period_key":  periodKey,
			"winner":      top.PlayerAddress,
			"score":       top.Score,
			"total":       int64(current.TotalAmount),
		}).Info("prize pool finalized")
	}
	return current, nil
}

// RecordPayout marks a finalized pool as paid with the payout transaction reference.
// It returns nil when the pool does not exist.
func (s *PrizePoolService) RecordPayout(ctx context.Context, poolID, payoutReference string) (*models.PrizePool, error) {
	ref, err := models.NormalizeTxReference(payoutReference)
	if err != nil {
		return nil, apperrors.Validation("%v", err)
	}
	db := s.DB.WithContext(ctx)

	res := db.Model(&models.PrizePool{}).
		Where("id = ? AND status = ?", poolID, models.PoolFinalized).
		Updates(map[string]interface{}{
			"status":           models.PoolPaid,
			"payout_reference": ref,
			"updated_at":       s.now(),
		})
	if res.Error != nil {
		return nil, apperrors.FromDB(res.Error, "failed to record payout")
	}

	pool, err := s.GetPool(ctx, poolID)
	if err != nil || pool == nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		switch pool.Status {
		case models.PoolPaid:
			return nil, apperrors.InvalidState(apperrors.ReasonAlreadyPaid, "pool %s is already paid", poolID)
		default:
			return nil, apperrors.InvalidState(apperrors.ReasonNotFinalized, "pool %s is %s", poolID, pool.Status)
		}
	}

	logger.WithFields(logrus.Fields{
		"pool_id":          pool.ID,
		"payout_reference": ref,
		"amount":           int64(pool.TotalAmount),
	}).Info("prize pool paid")
	return pool, nil
}

// CalculatePrizeAmount is the payout owed for pool: everything it accumulated.
func (s *PrizePoolService) CalculatePrizeAmount(pool *models.PrizePool) models.Money {
	if pool == nil {
		return 0
	}
	return pool.TotalAmount
}

func (s *PrizePoolService) CalculatePrizeAmountByID(ctx context.Context, poolID string) (models.Money, error) {
	pool, err := s.GetPool(ctx, poolID)
	if err != nil {
		return 0, err
	}
	if pool == nil {
		return 0, apperrors.NotFound("pool %s not found", poolID)
	}
	return s.CalculatePrizeAmount(pool), nil
}

// GetDailyStats aggregates every game's daily pool for the day of date (today if zero).
func (s *PrizePoolService) GetDailyStats(ctx context.Context, date time.Time) (*models.PeriodStats, error) {
	if date.IsZero() {
		date = s.now()
	}
	return s.periodStats(ctx, models.PeriodDaily, models.DayKey(date))
}

// GetWeeklyStats aggregates every game's weekly pool for the week containing weekStart (this week if zero).
func (s *PrizePoolService) GetWeeklyStats(ctx context.Context, weekStart time.Time) (*models.PeriodStats, error) {
	if weekStart.IsZero() {
		weekStart = s.now()
	}
	return s.periodStats(ctx, models.PeriodWeekly, models.WeekKey(weekStart))
}

func (s *PrizePoolService) periodStats(ctx context.Context, periodType models.PeriodType, periodKey string) (*models.PeriodStats, error) {
	var pools []models.PrizePool
	err := s.DB.WithContext(ctx).
		Where("period_type = ? AND period_key = ?", periodType, periodKey).
		Order("game_type").
		Find(&pools).Error
	if err != nil {
		return nil, apperrors.FromDB(err, "failed to load period pools")
	}

	stats := &models.PeriodStats{PeriodType: periodType, PeriodKey: periodKey}
	for _, p := range pools {
		stats.TotalGames += p.TotalGames
		stats.TotalPrizePool += p.TotalAmount
		stats.GameBreakdown = append(stats.GameBreakdown, models.GameStats{
			GameType:    p.GameType,
			DisplayName: models.GameDisplayName(p.GameType),
			TotalGames:  p.TotalGames,
			PrizePool:   p.TotalAmount,
			Status:      string(p.Status),
		})
		if p.Status == models.PoolActive {
			stats.ActiveGames++
		}
	}
	return stats, nil
}

// GetPoolsAwaitingPayout lists finalized pools that have not been paid, oldest period first.
// Pools with a pending or confirmed payout record are left out; they are already claimed.
func (s *PrizePoolService) GetPoolsAwaitingPayout(ctx context.Context, limit int) ([]models.PrizePool, error) {
	if limit <= 0 {
		limit = defaultPoolHistoryLimit
	}
	var pools []models.PrizePool
	err := s.DB.WithContext(ctx).
		Where("status = ?", models.PoolFinalized).
		Where("NOT EXISTS (SELECT 1 FROM payment_audit a WHERE a.pool_id = prize_pools.id AND a.direction = ? AND a.status <> ?)",
			models.AuditPayoutOut, models.AuditFailed).
		Order("period_key ASC, game_type ASC").
		Limit(limit).
		Find(&pools).Error
	if err != nil {
		return nil, apperrors.FromDB(err, "failed to load finalized pools")
	}
	return pools, nil
}

// FinalizePreviousPeriod finalizes, for every configured game, the pool of the
// period instance that ended most recently. Paid pools are skipped.
func (s *PrizePoolService) FinalizePreviousPeriod(ctx context.Context, periodType models.PeriodType) (int, error) {
	if err := checkPoolPeriod(periodType); err != nil {
		return 0, err
	}
	key := models.PreviousPeriodKey(periodType, s.now())

	var (
		finalized int
		errs      []error
	)
	for _, game := range s.Games.Types() {
		pool, err := s.FinalizePool(ctx, game, periodType, key)
		switch {
		case apperrors.ReasonOf(err) == apperrors.ReasonAlreadyPaid:
			continue
		case err != nil:
			errs = append(errs, fmt.Errorf("%s/%s/%s: %w", game, periodType, key, err))
		case pool != nil:
			finalized++
		}
	}

	logger.WithFields(logrus.Fields{
		"period_type": periodType,
		"period_key":  key,
		"finalized":   finalized,
		"errors":      len(errs),
	}).Info("previous period finalization finished")
	return finalized, errors.Join(errs...)
}
