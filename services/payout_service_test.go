package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"arcade-backend/apperrors"
	"arcade-backend/models"

	"github.com/google/uuid"
)

type sentPrize struct {
	to     string
	amount models.Money
}

type fakeSender struct {
	next int
	err  error
	sent []sentPrize
}

func (s *fakeSender) SendPrize(_ context.Context, to string, amount models.Money) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.next++
	s.sent = append(s.sent, sentPrize{to: to, amount: amount})
	return txRef(1000 + s.next), nil
}

// finalizedPool leaves a finalized daily snake pool of 0.014 won by addr(2).
func finalizedPool(t *testing.T, env *testEnv) *models.PrizePool {
	t.Helper()
	ctx := context.Background()
	for p := 1; p <= 2; p++ {
		if _, err := env.pools.AddToPrizePool(ctx, "snake", 10000); err != nil {
			t.Fatalf("AddToPrizePool: %v", err)
		}
		env.play(t, "snake", p, p, int64(p*1000))
	}
	pool, err := env.pools.FinalizePool(ctx, "snake", models.PeriodDaily, "2025-03-12")
	if err != nil || pool == nil {
		t.Fatalf("FinalizePool = %+v, %v", pool, err)
	}
	return pool
}

func TestPayOut(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pool := finalizedPool(t, env)
	sender := &fakeSender{}
	payouts := NewPayoutService(env.pools, env.audit, sender)

	paid, err := payouts.PayOut(ctx, pool.ID)
	if err != nil {
		t.Fatalf("PayOut: %v", err)
	}
	if paid.Status != models.PoolPaid || *paid.PayoutReference != txRef(1001) {
		t.Fatalf("paid pool = %+v", paid)
	}
	if len(sender.sent) != 1 || sender.sent[0].to != addr(2) || sender.sent[0].amount != 14000 {
		t.Fatalf("sent = %+v", sender.sent)
	}

	records, _ := env.audit.GetByReference(ctx, txRef(1001))
	if len(records) != 1 || records[0].Direction != models.AuditPayoutOut || records[0].Status != models.AuditConfirmed || *records[0].PoolID != pool.ID {
		t.Fatalf("payout audit = %+v", records)
	}

	if _, err := payouts.PayOut(ctx, pool.ID); apperrors.ReasonOf(err) != apperrors.ReasonAlreadyPaid {
		t.Fatalf("second payout: got %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("prize sent %d times", len(sender.sent))
	}
}

func TestPayOutRejectsUnfinalizedPools(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.pools.AddToPrizePool(ctx, "pong", 10000)
	active, _ := env.pools.GetCurrentPool(ctx, "pong", models.PeriodDaily)
	sender := &fakeSender{}
	payouts := NewPayoutService(env.pools, env.audit, sender)

	if _, err := payouts.PayOut(ctx, active.ID); apperrors.ReasonOf(err) != apperrors.ReasonNotFinalized {
		t.Fatalf("active pool: got %v", err)
	}
	if _, err := payouts.PayOut(ctx, uuid.NewString()); !apperrors.Is(err, apperrors.CodeNotFound) {
		t.Fatalf("missing pool: got %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("sent = %+v", sender.sent)
	}
}

func TestPayOutTransferFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pool := finalizedPool(t, env)
	payouts := NewPayoutService(env.pools, env.audit, &fakeSender{err: errors.New("nonce too low")})

	_, err := payouts.PayOut(ctx, pool.ID)
	if !apperrors.Is(err, apperrors.CodeSettlementFailure) {
		t.Fatalf("got %v, want SETTLEMENT_FAILURE", err)
	}

	current, _ := env.pools.GetPool(ctx, pool.ID)
	if current.Status != models.PoolFinalized {
		t.Fatalf("pool status = %s after failed transfer", current.Status)
	}
	history, _ := env.audit.GetPlayerHistory(ctx, addr(2), 10, 0)
	if len(history) != 1 || history[0].Status != models.AuditFailed || history[0].Direction != models.AuditPayoutOut {
		t.Fatalf("winner audit history = %+v", history)
	}

	// A failed attempt releases the pool for the next one.
	payouts.Sender = &fakeSender{}
	if _, err := payouts.PayOut(ctx, pool.ID); err != nil {
		t.Fatalf("retry after failed transfer: %v", err)
	}
}

func TestPayOutPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	finalizedPool(t, env)
	sender := &fakeSender{}
	payouts := NewPayoutService(env.pools, env.audit, sender)

	n, err := payouts.PayOutPending(ctx, 10)
	if err != nil || n != 1 {
		t.Fatalf("PayOutPending = %d, %v; want 1", n, err)
	}
	n, err = payouts.PayOutPending(ctx, 10)
	if err != nil || n != 0 {
		t.Fatalf("second PayOutPending = %d, %v; want 0", n, err)
	}
}

// gatedSender holds every transfer until release is closed.
type gatedSender struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
}

func (s *gatedSender) SendPrize(ctx context.Context, _ string, _ models.Money) (string, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()
	s.started <- struct{}{}
	<-s.release
	return txRef(2000 + n), nil
}

func TestPayOutOverlappingCallsSendOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pool := finalizedPool(t, env)
	sender := &gatedSender{started: make(chan struct{}, 2), release: make(chan struct{})}
	payouts := NewPayoutService(env.pools, env.audit, sender)

	type result struct {
		pool *models.PrizePool
		err  error
	}
	first := make(chan result, 1)
	go func() {
		p, err := payouts.PayOut(ctx, pool.ID)
		first <- result{p, err}
	}()
	<-sender.started

	if _, err := payouts.PayOut(ctx, pool.ID); apperrors.ReasonOf(err) != apperrors.ReasonPayoutClaimed {
		t.Fatalf("overlapping payout: got %v, want %s", err, apperrors.ReasonPayoutClaimed)
	}
	if n, err := payouts.PayOutPending(ctx, 10); n != 0 || err != nil {
		t.Fatalf("PayOutPending during a payout = %d, %v", n, err)
	}

	close(sender.release)
	res := <-first
	if res.err != nil || res.pool.Status != models.PoolPaid {
		t.Fatalf("first payout = %+v, %v", res.pool, res.err)
	}
	if sender.calls != 1 {
		t.Fatalf("prize sent %d times", sender.calls)
	}
}

func TestPayOutUnrecordedTransferIsNotResent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pool := finalizedPool(t, env)
	sender := &badRefSender{}
	payouts := NewPayoutService(env.pools, env.audit, sender)

	if _, err := payouts.PayOut(ctx, pool.ID); !apperrors.Is(err, apperrors.CodeValidation) {
		t.Fatalf("PayOut with unusable reference: got %v", err)
	}
	for i := 0; i < 3; i++ {
		if n, err := payouts.PayOutPending(ctx, 10); n != 0 || err != nil {
			t.Fatalf("PayOutPending #%d = %d, %v", i, n, err)
		}
	}
	if _, err := payouts.PayOut(ctx, pool.ID); err == nil {
		t.Fatal("pool with an unrecorded transfer marked paid")
	}
	if sender.calls != 1 {
		t.Fatalf("prize sent %d times, want 1", sender.calls)
	}

	claim, err := env.audit.PayoutClaim(ctx, pool.ID)
	if err != nil || claim == nil || claim.Status != models.AuditConfirmed || claim.FailureReason == "" {
		t.Fatalf("payout claim = %+v, %v", claim, err)
	}
}

type badRefSender struct{ calls int }

func (s *badRefSender) SendPrize(context.Context, string, models.Money) (string, error) {
	s.calls++
	return "0xnot-a-hash", nil
}

func TestPayOutCompletesConfirmedClaim(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pool := finalizedPool(t, env)

	// A transfer that went out but was never written to the pool.
	claim, err := env.audit.RecordPending(ctx, AuditEntry{
		Direction:     models.AuditPayoutOut,
		PlayerAddress: addr(2),
		GameType:      "snake",
		Amount:        pool.TotalAmount,
		PoolID:        pool.ID,
	})
	if err != nil {
		t.Fatalf("RecordPending: %v", err)
	}
	if _, err := env.audit.Confirm(ctx, claim.ID, Resolution{TransactionReference: txRef(55)}); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	sender := &fakeSender{}
	payouts := NewPayoutService(env.pools, env.audit, sender)
	paid, err := payouts.PayOut(ctx, pool.ID)
	if err != nil {
		t.Fatalf("PayOut: %v", err)
	}
	if paid.Status != models.PoolPaid || *paid.PayoutReference != txRef(55) || len(sender.sent) != 0 {
		t.Fatalf("paid = %+v, sent = %+v", paid, sender.sent)
	}
}
