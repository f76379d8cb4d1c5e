package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"arcade-backend/apperrors"
	"arcade-backend/logger"
	"arcade-backend/models"
	"arcade-backend/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultSessionPageSize = 20
	maxSessionPageSize     = 100
)

// SessionService owns the GameSession lifecycle: creation after a settled payment,
// completion with a validated score, and expiry of stale sessions.
type SessionService struct {
	DB        *gorm.DB
	Games     *models.GameCatalog
	Validator ScoreValidator
	Ranking   *LeaderboardService
	// Timeout is the staleness window shared by lazy expiry and the sweep.
	Timeout time.Duration
	Now     func() time.Time
}

func NewSessionService(db *gorm.DB, games *models.GameCatalog, validator ScoreValidator, ranking *LeaderboardService, timeout time.Duration) *SessionService {
	return &SessionService{
		DB:        db,
		Games:     games,
		Validator: validator,
		Ranking:   ranking,
		Timeout:   timeout,
		Now:       time.Now,
	}
}

func (s *SessionService) now() time.Time {
	return s.Now().UTC()
}

// SessionFilter narrows GetPlayerSessions. Zero values mean "any".
type SessionFilter struct {
	GameType string
	Status   models.SessionStatus
	Limit    int
	Offset   int
}

type sessionInput struct {
	gameType string
	player   string
	ref      string
	amount   models.Money
}

func (s *SessionService) validateInput(gameType, playerAddress, paymentReference string, amountPaid models.Money) (sessionInput, error) {
	game, ok := s.Games.Lookup(gameType)
	if !ok {
		return sessionInput{}, apperrors.Validation("unknown game type %q", gameType)
	}
	player, err := models.NormalizeAddress(playerAddress)
	if err != nil {
		return sessionInput{}, apperrors.Validation("%v", err)
	}
	ref, err := models.NormalizeTxReference(paymentReference)
	if err != nil {
		return sessionInput{}, apperrors.Validation("%v", err)
	}
	if amountPaid <= 0 {
		return sessionInput{}, apperrors.Validation("amount paid must be positive, got %s", amountPaid)
	}
	return sessionInput{gameType: game, player: player, ref: ref, amount: amountPaid}, nil
}

// CreateSession starts an active session paid for by paymentReference.
// A reference that was already consumed fails with DUPLICATE_PAYMENT.
func (s *SessionService) CreateSession(ctx context.Context, gameType, playerAddress, paymentReference string, amountPaid models.Money) (*models.GameSession, error) {
	in, err := s.validateInput(gameType, playerAddress, paymentReference, amountPaid)
	if err != nil {
		return nil, err
	}
	return s.createSession(s.DB.WithContext(ctx), in)
}

func (s *SessionService) createSession(tx *gorm.DB, in sessionInput) (*models.GameSession, error) {
	session := &models.GameSession{
		ID:               uuid.NewString(),
		GameType:         in.gameType,
		PlayerAddress:    in.player,
		PaymentReference: in.ref,
		AmountPaid:       in.amount,
		Status:           models.SessionActive,
		CreatedAt:        s.now(),
	}

	// The unique index on payment_reference is the only duplicate check.
	if err := tx.Create(session).Error; err != nil {
		return nil, translateCreateError(err, in.ref)
	}

	logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"game_type":  session.GameType,
		"player":     session.PlayerAddress,
		"amount":     int64(session.AmountPaid),
	}).Info("session created")
	return session, nil
}

func translateCreateError(err error, ref string) error {
	ok, target := apperrors.UniqueViolation(err)
	if !ok {
		return apperrors.FromDB(err, "failed to create session")
	}
	if strings.Contains(target, store.OneActiveSessionIndex) || strings.Contains(target, "player_address") {
		return apperrors.New(apperrors.CodeConflict, "player already has an active session for this game", err)
	}
	return apperrors.New(apperrors.CodeDuplicatePayment, fmt.Sprintf("payment reference %s has already been used", ref), err)
}

// GetSession returns the session with id, or nil if there is none.
func (s *SessionService) GetSession(ctx context.Context, id string) (*models.GameSession, error) {
	return s.getSession(s.DB.WithContext(ctx), id)
}

func (s *SessionService) getSession(tx *gorm.DB, id string) (*models.GameSession, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.Validation("invalid session id %q", id)
	}
	var session models.GameSession
	err := tx.Where("id = ?", id).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.FromDB(err, "failed to load session")
	}
	return &session, nil
}

// GetActiveSession returns the player's most recent active session for gameType.
// Active sessions older than the timeout are expired first and never returned.
func (s *SessionService) GetActiveSession(ctx context.Context, playerAddress, gameType string) (*models.GameSession, error) {
	player, err := models.NormalizeAddress(playerAddress)
	if err != nil {
		return nil, apperrors.Validation("%v", err)
	}
	game := models.NormalizeGameType(gameType)
	db := s.DB.WithContext(ctx)
	now := s.now()

	res := db.Model(&models.GameSession{}).
		Where("player_address = ? AND game_type = ? AND status = ? AND created_at < ?",
			player, game, models.SessionActive, now.Add(-s.Timeout)).
		Updates(map[string]interface{}{
			"status":       models.SessionExpired,
			"completed_at": now,
		})
	if res.Error != nil {
		return nil, apperrors.FromDB(res.Error, "failed to expire stale session")
	}
	if res.RowsAffected > 0 {
		logger.WithFields(logrus.Fields{
			"player":    player,
			"game_type": game,
			"expired":   res.RowsAffected,
		}).Info("expired stale session on lookup")
	}

	var session models.GameSession
	err = db.Where("player_address = ? AND game_type = ? AND status = ?", player, game, models.SessionActive).
		Order("created_at DESC, id DESC").
		Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.FromDB(err, "failed to load active session")
	}
	return &session, nil
}

// prepareCompletion checks the session can be completed and runs the score validator.
func (s *SessionService) prepareCompletion(ctx context.Context, id string, score int64) (*models.GameSession, int64, error) {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	if session == nil {
		return nil, 0, apperrors.NotFound("session %s not found", id)
	}
	if session.Status != models.SessionActive {
		return nil, 0, apperrors.InvalidState(apperrors.ReasonNotActive, "session %s is %s", id, session.Status)
	}

	validated, err := s.Validator.Validate(ctx, session.GameType, score)
	if err != nil {
		if apperrors.CodeOf(err) == "" {
			return nil, 0, apperrors.New(apperrors.CodeInvalidScore, "score rejected", err)
		}
		return nil, 0, err
	}
	return session, validated, nil
}

// markCompleted moves session to completed with a single update guarded by status = active.
// The loser of a concurrent completion sees no affected rows and gets INVALID_STATE.
func (s *SessionService) markCompleted(tx *gorm.DB, session *models.GameSession, score int64) (*models.GameSession, error) {
	now := s.now()
	duration := now.Sub(session.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	res := tx.Model(&models.GameSession{}).
		Where("id = ? AND status = ?", session.ID, models.SessionActive).
		Updates(map[string]interface{}{
			"status":       models.SessionCompleted,
			"score":        score,
			"completed_at": now,
			"duration_ms":  duration,
		})
	if res.Error != nil {
		return nil, apperrors.FromDB(res.Error, "failed to complete session")
	}
	if res.RowsAffected == 0 {
		current, err := s.getSession(tx, session.ID)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, apperrors.NotFound("session %s not found", session.ID)
		}
		return nil, apperrors.InvalidState(apperrors.ReasonNotActive, "session %s is %s", session.ID, current.Status)
	}

	done := *session
	done.Status = models.SessionCompleted
	done.Score = &score
	done.CompletedAt = &now
	done.DurationMs = &duration

	logger.WithFields(logrus.Fields{
		"session_id":  done.ID,
		"game_type":   done.GameType,
		"player":      done.PlayerAddress,
		"score":       score,
		"duration_ms": duration,
	}).Info("session completed")
	return &done, nil
}

// CompleteSession records the final score of an active session.
func (s *SessionService) CompleteSession(ctx context.Context, id string, score int64) (*models.GameSession, error) {
	session, validated, err := s.prepareCompletion(ctx, id, score)
	if err != nil {
		return nil, err
	}
	return s.markCompleted(s.DB.WithContext(ctx), session, validated)
}

// SubmitScore completes the session and records the score on the daily, weekly
// and all-time leaderboards in one transaction.
func (s *SessionService) SubmitScore(ctx context.Context, id string, score int64) (*models.GameSession, error) {
	session, validated, err := s.prepareCompletion(ctx, id, score)
	if err != nil {
		return nil, err
	}

	var done *models.GameSession
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		done, err = s.markCompleted(tx, session, validated)
		if err != nil {
			return err
		}
		return s.Ranking.addEntry(tx, done.ID, done.GameType, done.PlayerAddress, validated)
	})
	if err != nil {
		return nil, err
	}
	return done, nil
}

// ExpireSession expires an active session. It reports whether the session changed.
func (s *SessionService) ExpireSession(ctx context.Context, id string) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&models.GameSession{}).
		Where("id = ? AND status = ?", id, models.SessionActive).
		Updates(map[string]interface{}{
			"status":       models.SessionExpired,
			"completed_at": s.now(),
		})
	if res.Error != nil {
		return false, apperrors.FromDB(res.Error, "failed to expire session")
	}
	return res.RowsAffected == 1, nil
}

// ExpireOldSessions expires every active session older than maxAgeMinutes in one statement.
// A non-positive maxAgeMinutes uses the configured timeout.
func (s *SessionService) ExpireOldSessions(ctx context.Context, maxAgeMinutes int) (int64, error) {
	maxAge := s.Timeout
	if maxAgeMinutes > 0 {
		maxAge = time.Duration(maxAgeMinutes) * time.Minute
	}
	now := s.now()

	res := s.DB.WithContext(ctx).Model(&models.GameSession{}).
		Where("status = ? AND created_at < ?", models.SessionActive, now.Add(-maxAge)).
		Updates(map[string]interface{}{
			"status":       models.SessionExpired,
			"completed_at": now,
		})
	if res.Error != nil {
		return 0, apperrors.FromDB(res.Error, "failed to expire old sessions")
	}
	if res.RowsAffected > 0 {
		logger.WithFields(logrus.Fields{
			"expired":     res.RowsAffected,
			"max_age_min": maxAge.Minutes(),
		}).Info("expired stale sessions")
	}
	return res.RowsAffected, nil
}

// GetPlayerSessions lists a player's sessions, most recent first.
func (s *SessionService) GetPlayerSessions(ctx context.Context, playerAddress string, filter SessionFilter) ([]models.GameSession, error) {
	player, err := models.NormalizeAddress(playerAddress)
	if err != nil {
		return nil, apperrors.Validation("%v", err)
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperrors.Validation("unknown session status %q", filter.Status)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultSessionPageSize
	}
	if filter.Limit > maxSessionPageSize {
		filter.Limit = maxSessionPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	q := s.DB.WithContext(ctx).Where("player_address = ?", player)
	if filter.GameType != "" {
		q = q.Where("game_type = ?", models.NormalizeGameType(filter.GameType))
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	var sessions []models.GameSession
	err = q.Order("created_at DESC, id DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&sessions).Error
	if err != nil {
		return nil, apperrors.FromDB(err, "failed to list sessions")
	}
	return sessions, nil
}

// GetPlayerStats aggregates a player's sessions per game.
func (s *SessionService) GetPlayerStats(ctx context.Context, playerAddress string) (*models.PlayerStats, error) {
	player, err := models.NormalizeAddress(playerAddress)
	if err != nil {
		return nil, apperrors.Validation("%v", err)
	}

	var rows []models.PlayerGameStats
	err = s.DB.WithContext(ctx).Model(&models.GameSession{}).
		Select(`game_type,
			COUNT(*) AS games_played,
			SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS games_completed,
			MAX(score) AS best_score,
			CAST(COALESCE(SUM(amount_paid), 0) AS BIGINT) AS total_spent`, models.SessionCompleted).
		Where("player_address = ?", player).
		Group("game_type").
		Order("game_type").
		Scan(&rows).Error
	if err != nil {
		return nil, apperrors.FromDB(err, "failed to aggregate player stats")
	}

	stats := &models.PlayerStats{PlayerAddress: player, Games: rows}
	for _, r := range rows {
		stats.GamesPlayed += r.GamesPlayed
		stats.GamesCompleted += r.GamesCompleted
		stats.TotalSpent += r.TotalSpent
	}
	return stats, nil
}
