package services

import (
	"context"
	"errors"
	"strings"

	"arcade-backend/apperrors"
	"arcade-backend/logger"
	"arcade-backend/models"
	"arcade-backend/store"

	"github.com/sirupsen/logrus"
)

// PayoutSender transfers a prize to the winner and returns the transaction reference.
type PayoutSender interface {
	SendPrize(ctx context.Context, to string, amount models.Money) (string, error)
}

// PayoutService pays finalized pools to their winners.
type PayoutService struct {
	Pools  *PrizePoolService
	Audit  *PaymentAuditService
	Sender PayoutSender
}

func NewPayoutService(pools *PrizePoolService, audit *PaymentAuditService, sender PayoutSender) *PayoutService {
	return &PayoutService{Pools: pools, Audit: audit, Sender: sender}
}

// PayOut sends a finalized pool's full amount to its winner and records the payout.
// The pending payout_out audit record is the claim on the pool: it is written before
// the transfer and only one non-failed claim may exist per pool, so a pool is sent at
// most once even when calls overlap or recording the payout on the pool fails.
func (s *PayoutService) PayOut(ctx context.Context, poolID string) (*models.PrizePool, error) {
	pool, err := s.Pools.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, apperrors.NotFound("pool %s not found", poolID)
	}
	switch pool.Status {
	case models.PoolPaid:
		return nil, apperrors.InvalidState(apperrors.ReasonAlreadyPaid, "pool %s is already paid", poolID)
	case models.PoolActive:
		return nil, apperrors.InvalidState(apperrors.ReasonNotFinalized, "pool %s is active", poolID)
	}
	if pool.WinnerAddress == nil {
		return nil, apperrors.InvalidState(apperrors.ReasonNotFinalized, "pool %s has no winner", poolID)
	}

	amount := s.Pools.CalculatePrizeAmount(pool)
	winner := *pool.WinnerAddress
	record, err := s.Audit.RecordPending(ctx, AuditEntry{
		Direction:     models.AuditPayoutOut,
		PlayerAddress: winner,
		GameType:      pool.GameType,
		Amount:        amount,
		PoolID:        pool.ID,
		Metadata: map[string]interface{}{
			"period_type": pool.PeriodType,
			"period_key":  pool.PeriodKey,
		},
	})
	if err != nil {
		if ok, target := apperrors.UniqueViolation(err); ok && isPayoutClaim(target) {
			return s.resume(ctx, pool)
		}
		return nil, err
	}
	log := logger.WithFields(logrus.Fields{
		"audit_id": record.ID,
		"pool_id":  pool.ID,
		"winner":   winner,
		"amount":   int64(amount),
	})

	ref, err := s.Sender.SendPrize(ctx, winner, amount)
	if err != nil {
		if _, auditErr := s.Audit.Fail(ctx, record.ID, err.Error()); auditErr != nil {
			log.WithError(auditErr).Error("failed to mark payout audit failed")
		}
		log.WithError(err).Error("prize transfer failed")
		return nil, asSettlementError(err)
	}

	paid, err := s.Pools.RecordPayout(ctx, pool.ID, ref)
	resolution := Resolution{TransactionReference: ref, PoolID: pool.ID}
	if err != nil {
		resolution.FailureReason = "payout not recorded on pool: " + err.Error()
	}
	if _, auditErr := s.Audit.Confirm(ctx, record.ID, resolution); auditErr != nil {
		log.WithError(auditErr).Error("failed to confirm payout audit")
	}
	if err != nil {
		return nil, err
	}
	if paid == nil {
		return nil, apperrors.NotFound("pool %s not found", poolID)
	}

	log.WithField("reference", ref).Info("prize paid out")
	return paid, nil
}

func isPayoutClaim(target string) bool {
	return strings.Contains(target, store.PayoutClaimIndex) || strings.Contains(target, "pool_id")
}

// resume handles a pool that is already claimed. A confirmed claim means the transfer
// went out, so only the pool record is completed; nothing is sent again.
func (s *PayoutService) resume(ctx context.Context, pool *models.PrizePool) (*models.PrizePool, error) {
	claim, err := s.Audit.PayoutClaim(ctx, pool.ID)
	if err != nil {
		return nil, err
	}
	if claim == nil || claim.Status != models.AuditConfirmed || claim.TransactionReference == nil {
		return nil, apperrors.InvalidState(apperrors.ReasonPayoutClaimed, "pool %s has a payout in progress", pool.ID)
	}

	paid, err := s.Pools.RecordPayout(ctx, pool.ID, *claim.TransactionReference)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"audit_id":  claim.ID,
			"pool_id":   pool.ID,
			"reference": *claim.TransactionReference,
		}).WithError(err).Error("prize was sent but the pool cannot be marked paid")
		return nil, err
	}
	if paid == nil {
		return nil, apperrors.NotFound("pool %s not found", pool.ID)
	}
	return paid, nil
}

// PayOutPending pays up to limit finalized pools and reports how many were paid.
func (s *PayoutService) PayOutPending(ctx context.Context, limit int) (int, error) {
	pools, err := s.Pools.GetPoolsAwaitingPayout(ctx, limit)
	if err != nil {
		return 0, err
	}

	var (
		paid int
		errs []error
	)
	for _, p := range pools {
		if _, err := s.PayOut(ctx, p.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		paid++
	}
	return paid, errors.Join(errs...)
}
