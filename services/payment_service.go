package services

import (
	"context"
	"encoding/json"
	"errors"

	"arcade-backend/apperrors"
	"arcade-backend/logger"
	"arcade-backend/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Settlement failure reasons produced on this side of the gateway.
const (
	SettlementReasonGatewayError      = "gateway_error"
	SettlementReasonMalformedResponse = "malformed_response"
)

// SettlementRequest asks the gateway to verify and execute a signed payment.
type SettlementRequest struct {
	// Payment is the signed payment instruction, passed through untouched.
	Payment  json.RawMessage
	Payer    string
	PayTo    string
	Amount   models.Money
	GameType string
}

// SettlementResult is a successful on-chain settlement.
type SettlementResult struct {
	TransactionReference string
	Payer                string
	Network              string
}

// SettlementGateway verifies and settles payments. Failures are SETTLEMENT_FAILURE
// AppErrors carrying the gateway's reason code.
type SettlementGateway interface {
	Settle(ctx context.Context, req SettlementRequest) (*SettlementResult, error)
}

// PaymentService turns a signed payment into a playable session.
type PaymentService struct {
	Sessions *SessionService
	Pools    *PrizePoolService
	Audit    *PaymentAuditService
	Gateway  SettlementGateway
	// Price is what one play costs.
	Price models.Money
	PayTo string
}

func NewPaymentService(sessions *SessionService, pools *PrizePoolService, audit *PaymentAuditService, gateway SettlementGateway, price models.Money, payTo string) *PaymentService {
	return &PaymentService{
		Sessions: sessions,
		Pools:    pools,
		Audit:    audit,
		Gateway:  gateway,
		Price:    price,
		PayTo:    payTo,
	}
}

type PlayRequest struct {
	GameType      string
	PlayerAddress string
	Payment       json.RawMessage
}

type PlayResult struct {
	Session *models.GameSession `json:"session"`
	Pools   *models.PoolTotals  `json:"pools"`
	AuditID string              `json:"audit_id"`
}

// PayAndStart settles the payment, then creates the session and credits the prize
// pools in one transaction. Every attempt leaves a payment_in audit record.
func (s *PaymentService) PayAndStart(ctx context.Context, req PlayRequest) (*PlayResult, error) {
	game, ok := s.Sessions.Games.Lookup(req.GameType)
	if !ok {
		return nil, apperrors.Validation("unknown game type %q", req.GameType)
	}
	player, err := models.NormalizeAddress(req.PlayerAddress)
	if err != nil {
		return nil, apperrors.Validation("%v", err)
	}
	if len(req.Payment) == 0 {
		return nil, apperrors.Validation("payment payload is required")
	}

	record, err := s.Audit.RecordPending(ctx, AuditEntry{
		Direction:     models.AuditPaymentIn,
		PlayerAddress: player,
		GameType:      game,
		Amount:        s.Price,
		Metadata:      map[string]interface{}{"pay_to": s.PayTo},
	})
	if err != nil {
		return nil, err
	}
	log := logger.WithFields(logrus.Fields{
		"audit_id":  record.ID,
		"game_type": game,
		"player":    player,
	})

	settled, err := s.Gateway.Settle(ctx, SettlementRequest{
		Payment:  req.Payment,
		Payer:    player,
		PayTo:    s.PayTo,
		Amount:   s.Price,
		GameType: game,
	})
	if err != nil {
		settleErr := asSettlementError(err)
		s.failAudit(ctx, record.ID, settleErr.Error())
		log.WithError(err).Warn("payment settlement failed")
		return nil, settleErr
	}

	in, err := s.Sessions.validateInput(game, player, settled.TransactionReference, s.Price)
	if err != nil {
		settleErr := apperrors.Settlement(SettlementReasonMalformedResponse, err.Error())
		s.failAudit(ctx, record.ID, settleErr.Error())
		return nil, settleErr
	}
	if settled.Payer != "" && !sameAddress(settled.Payer, player) {
		log.WithField("payer", settled.Payer).Warn("settled payer differs from requesting player")
	}

	var (
		session *models.GameSession
		totals  *models.PoolTotals
	)
	err = s.Sessions.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if session, err = s.Sessions.createSession(tx, in); err != nil {
			return err
		}
		totals, err = s.Pools.addToPrizePool(tx, in.gameType, in.amount)
		return err
	})
	if err != nil {
		if apperrors.Is(err, apperrors.CodeDuplicatePayment) {
			// The reference was consumed before; this attempt moved no new money.
			s.failAudit(ctx, record.ID, err.Error())
		} else if _, auditErr := s.Audit.Confirm(ctx, record.ID, Resolution{
			TransactionReference: in.ref,
			FailureReason:        "session not created: " + err.Error(),
		}); auditErr != nil {
			log.WithError(auditErr).Error("failed to confirm audit record")
		}
		return nil, err
	}

	resolution := Resolution{TransactionReference: in.ref, SessionID: session.ID}
	if len(totals.Uncredited) > 0 {
		// Closed pools took nothing; keep the share on the record.
		resolution.Metadata = map[string]interface{}{
			"uncredited_contribution": int64(totals.Contribution),
			"uncredited_periods":      totals.Uncredited,
		}
		log.WithField("uncredited_periods", totals.Uncredited).Warn("prize share not credited to closed pools")
	}
	if _, err := s.Audit.Confirm(ctx, record.ID, resolution); err != nil {
		log.WithError(err).Error("failed to confirm audit record")
	}

	log.WithFields(logrus.Fields{
		"session_id": session.ID,
		"reference":  in.ref,
	}).Info("payment settled, session started")
	return &PlayResult{Session: session, Pools: totals, AuditID: record.ID}, nil
}

func (s *PaymentService) failAudit(ctx context.Context, id, reason string) {
	if _, err := s.Audit.Fail(ctx, id, reason); err != nil {
		logger.WithFields(logrus.Fields{"audit_id": id}).WithError(err).Error("failed to mark audit record failed")
	}
}

// asSettlementError keeps gateway failures as they are and wraps anything else.
func asSettlementError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Code == apperrors.CodeSettlementFailure {
		return appErr
	}
	return &apperrors.AppError{
		Code:    apperrors.CodeSettlementFailure,
		Reason:  SettlementReasonGatewayError,
		Message: "settlement gateway call failed",
		Err:     err,
	}
}

func sameAddress(a, b string) bool {
	na, errA := models.NormalizeAddress(a)
	nb, errB := models.NormalizeAddress(b)
	return errA == nil && errB == nil && na == nb
}
