package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"arcade-backend/config"
	"arcade-backend/models"
	"arcade-backend/store"

	"gorm.io/gorm"
)

var testGames = []string{"snake", "tetris", "pong"}

// testClock is a settable clock shared by every service in a test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now.UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.UTC()
	c.mu.Unlock()
}

func newTestDB(t *testing.T, strict bool) *gorm.DB {
	t.Helper()
	db, err := store.Open(config.DatabaseConfig{URL: store.SQLitePrefix + "file::memory:?_pragma=foreign_keys(1)"})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := store.Migrate(db, store.MigrateOptions{StrictSingleSession: strict}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(db) })
	return db
}

func newTestCatalog(t *testing.T) *models.GameCatalog {
	t.Helper()
	catalog, err := models.NewGameCatalog(testGames)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return catalog
}

// testEnv wires every service against one in-memory database and one clock.
type testEnv struct {
	db          *gorm.DB
	clock       *testClock
	games       *models.GameCatalog
	sessions    *SessionService
	leaderboard *LeaderboardService
	pools       *PrizePoolService
	audit       *PaymentAuditService
}

type envOption func(*envOptions)

type envOptions struct {
	strict    bool
	tieBreak  string
	validator ScoreValidator
}

func withStrictSessions() envOption {
	return func(o *envOptions) { o.strict = true }
}

func withTieBreak(rule string) envOption {
	return func(o *envOptions) { o.tieBreak = rule }
}

func withValidator(v ScoreValidator) envOption {
	return func(o *envOptions) { o.validator = v }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	o := envOptions{tieBreak: config.TieBreakEarliest, validator: NewMaxScoreValidator(nil)}
	for _, opt := range opts {
		opt(&o)
	}

	db := newTestDB(t, o.strict)
	clock := newTestClock(time.Date(2025, 3, 12, 15, 0, 0, 0, time.UTC)) // a Wednesday
	games := newTestCatalog(t)

	leaderboard := NewLeaderboardService(db, o.tieBreak)
	leaderboard.Now = clock.Now
	sessions := NewSessionService(db, games, o.validator, leaderboard, 30*time.Minute)
	sessions.Now = clock.Now
	pools := NewPrizePoolService(db, games, leaderboard, 7000)
	pools.Now = clock.Now
	audit := NewPaymentAuditService(db)
	audit.Now = clock.Now

	return &testEnv{
		db:          db,
		clock:       clock,
		games:       games,
		sessions:    sessions,
		leaderboard: leaderboard,
		pools:       pools,
		audit:       audit,
	}
}

// addr returns a distinct valid lowercase address for n.
func addr(n int) string {
	return fmt.Sprintf("0x%040x", n)
}

// txRef returns a distinct valid lowercase transaction hash for n.
func txRef(n int) string {
	return fmt.Sprintf("0x%064x", n)
}

func (e *testEnv) mustCreate(t *testing.T, game string, player, ref int) *models.GameSession {
	t.Helper()
	s, err := e.sessions.CreateSession(context.Background(), game, addr(player), txRef(ref), 10000)
	if err != nil {
		t.Fatalf("CreateSession(%s, %d, %d): %v", game, player, ref, err)
	}
	return s
}

// play creates a session, advances the clock and completes it with score.
func (e *testEnv) play(t *testing.T, game string, player, ref int, score int64) *models.GameSession {
	t.Helper()
	s := e.mustCreate(t, game, player, ref)
	e.clock.Advance(time.Second)
	done, err := e.sessions.SubmitScore(context.Background(), s.ID, score)
	if err != nil {
		t.Fatalf("SubmitScore(%s, %d): %v", s.ID, score, err)
	}
	return done
}
