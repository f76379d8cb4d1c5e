package models

import (
	"fmt"
	"strings"

	"github.com/gosimple/slug"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// GameInfo describes one playable game as exposed to clients.
type GameInfo struct {
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
	Price       Money  `json:"price"`
	MaxScore    *int64 `json:"max_score,omitempty"`
}

// GameCatalog is the closed set of game types the backend accepts.
type GameCatalog struct {
	types []string
	set   map[string]struct{}
}

// NormalizeGameType turns "Space Invaders" or "space_invaders" into "space-invaders".
func NormalizeGameType(raw string) string {
	return slug.Make(strings.TrimSpace(raw))
}

func GameDisplayName(gameType string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(gameType, "-", " "))
}

func NewGameCatalog(raw []string) (*GameCatalog, error) {
	c := &GameCatalog{set: make(map[string]struct{})}
	for _, r := range raw {
		t := NormalizeGameType(r)
		if t == "" {
			return nil, fmt.Errorf("invalid game type %q", r)
		}
		if _, dup := c.set[t]; dup {
			continue
		}
		c.set[t] = struct{}{}
		c.types = append(c.types, t)
	}
	if len(c.types) == 0 {
		return nil, fmt.Errorf("game catalog is empty")
	}
	return c, nil
}

// Lookup normalizes raw and reports whether it names a configured game.
func (c *GameCatalog) Lookup(raw string) (string, bool) {
	t := NormalizeGameType(raw)
	_, ok := c.set[t]
	return t, ok
}

// Types returns the configured games in configuration order.
func (c *GameCatalog) Types() []string {
	out := make([]string, len(c.types))
	copy(out, c.types)
	return out
}
