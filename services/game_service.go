package services

import (
	"arcade-backend/apperrors"
	"arcade-backend/models"
)

// GameService exposes the configured game catalog.
type GameService struct {
	Games     *models.GameCatalog
	Price     models.Money
	MaxScores map[string]int64
}

func NewGameService(games *models.GameCatalog, price models.Money, maxScores map[string]int64) *GameService {
	return &GameService{Games: games, Price: price, MaxScores: maxScores}
}

// ListGames returns every playable game in configuration order.
func (s *GameService) ListGames() []models.GameInfo {
	types := s.Games.Types()
	games := make([]models.GameInfo, 0, len(types))
	for _, t := range types {
		games = append(games, s.info(t))
	}
	return games
}

func (s *GameService) GetGame(gameType string) (*models.GameInfo, error) {
	t, ok := s.Games.Lookup(gameType)
	if !ok {
		return nil, apperrors.NotFound("game %q not found", gameType)
	}
	info := s.info(t)
	return &info, nil
}

func (s *GameService) info(gameType string) models.GameInfo {
	info := models.GameInfo{
		Type:        gameType,
		DisplayName: models.GameDisplayName(gameType),
		Price:       s.Price,
	}
	if max, ok := s.MaxScores[gameType]; ok {
		info.MaxScore = &max
	}
	return info
}
