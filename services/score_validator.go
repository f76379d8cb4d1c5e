package services

import (
	"context"

	"arcade-backend/apperrors"
)

// ScoreValidator decides whether a submitted score is plausible for a game.
// It returns the score unchanged or an INVALID_SCORE error.
type ScoreValidator interface {
	Validate(ctx context.Context, gameType string, score int64) (int64, error)
}

// ScoreValidatorFunc adapts a function to ScoreValidator.
type ScoreValidatorFunc func(ctx context.Context, gameType string, score int64) (int64, error)

func (f ScoreValidatorFunc) Validate(ctx context.Context, gameType string, score int64) (int64, error) {
	return f(ctx, gameType, score)
}

// MaxScoreValidator rejects negative scores and scores above a per-game ceiling.
// Games without a configured ceiling accept any non-negative score.
type MaxScoreValidator struct {
	MaxScores map[string]int64
}

func NewMaxScoreValidator(maxScores map[string]int64) *MaxScoreValidator {
	return &MaxScoreValidator{MaxScores: maxScores}
}

func (v *MaxScoreValidator) Validate(_ context.Context, gameType string, score int64) (int64, error) {
	if score < 0 {
		return 0, apperrors.InvalidScore("score %d is negative", score)
	}
	if max, ok := v.MaxScores[gameType]; ok && score > max {
		return 0, apperrors.InvalidScore("score %d exceeds the maximum of %d for %s", score, max, gameType)
	}
	return score, nil
}
