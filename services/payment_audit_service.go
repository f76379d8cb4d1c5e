package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"arcade-backend/apperrors"
	"arcade-backend/logger"
	"arcade-backend/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PaymentAuditService is the append-only ledger of money movements. Records are
// inserted as pending and resolved once to confirmed or failed.
type PaymentAuditService struct {
	DB  *gorm.DB
	Now func() time.Time
}

func NewPaymentAuditService(db *gorm.DB) *PaymentAuditService {
	return &PaymentAuditService{DB: db, Now: time.Now}
}

func (s *PaymentAuditService) now() time.Time {
	return s.Now().UTC()
}

// AuditEntry describes a money movement about to happen.
type AuditEntry struct {
	Direction            models.AuditDirection
	PlayerAddress        string
	GameType             string
	Amount               models.Money
	TransactionReference string
	SessionID            string
	PoolID               string
	Metadata             map[string]interface{}
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// RecordPending appends a pending record for entry.
func (s *PaymentAuditService) RecordPending(ctx context.Context, entry AuditEntry) (*models.PaymentAuditRecord, error) {
	if entry.Direction != models.AuditPaymentIn && entry.Direction != models.AuditPayoutOut {
		return nil, apperrors.Validation("unknown audit direction %q", entry.Direction)
	}
	player, err := models.NormalizeAddress(entry.PlayerAddress)
	if err != nil {
		return nil, apperrors.Validation("%v", err)
	}
	if entry.Amount < 0 {
		return nil, apperrors.Validation("audit amount must not be negative, got %s", entry.Amount)
	}

	var metadata datatypes.JSON
	if len(entry.Metadata) > 0 {
		b, err := json.Marshal(entry.Metadata)
		if err != nil {
			return nil, apperrors.Validation("invalid audit metadata: %v", err)
		}
		metadata = datatypes.JSON(b)
	}

	record := &models.PaymentAuditRecord{
		ID:                   uuid.NewString(),
		Direction:            entry.Direction,
		Status:               models.AuditPending,
		PlayerAddress:        player,
		GameType:             entry.GameType,
		Amount:               entry.Amount,
		TransactionReference: optional(entry.TransactionReference),
		SessionID:            optional(entry.SessionID),
		PoolID:               optional(entry.PoolID),
		Metadata:             metadata,
		CreatedAt:            s.now(),
	}
	if err := s.DB.WithContext(ctx).Create(record).Error; err != nil {
		return nil, apperrors.FromDB(err, "failed to write audit record")
	}
	return record, nil
}

// Resolution carries the outcome fields written when a pending record is resolved.
type Resolution struct {
	TransactionReference string
	SessionID            string
	PoolID               string
	FailureReason        string
	// Metadata is merged into the metadata recorded at insert.
	Metadata map[string]interface{}
}

// Confirm resolves a pending record as confirmed.
func (s *PaymentAuditService) Confirm(ctx context.Context, id string, res Resolution) (*models.PaymentAuditRecord, error) {
	return s.resolve(ctx, id, models.AuditConfirmed, res)
}

// Fail resolves a pending record as failed with reason.
func (s *PaymentAuditService) Fail(ctx context.Context, id, reason string) (*models.PaymentAuditRecord, error) {
	return s.resolve(ctx, id, models.AuditFailed, Resolution{FailureReason: reason})
}

func (s *PaymentAuditService) resolve(ctx context.Context, id string, status models.AuditStatus, res Resolution) (*models.PaymentAuditRecord, error) {
	updates := map[string]interface{}{
		"status":      status,
		"resolved_at": s.now(),
	}
	if res.TransactionReference != "" {
		updates["transaction_reference"] = res.TransactionReference
	}
	if res.SessionID != "" {
		updates["session_id"] = res.SessionID
	}
	if res.PoolID != "" {
		updates["pool_id"] = res.PoolID
	}
	if res.FailureReason != "" {
		updates["failure_reason"] = res.FailureReason
	}

	if len(res.Metadata) > 0 {
		metadata, err := s.mergeMetadata(ctx, id, res.Metadata)
		if err != nil {
			return nil, err
		}
		updates["metadata"] = metadata
	}

	db := s.DB.WithContext(ctx)
	result := db.Model(&models.PaymentAuditRecord{}).
		Where("id = ? AND status = ?", id, models.AuditPending).
		Updates(updates)
	if result.Error != nil {
		return nil, apperrors.FromDB(result.Error, "failed to resolve audit record")
	}

	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, apperrors.NotFound("audit record %s not found", id)
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.InvalidState(apperrors.ReasonResolved, "audit record %s is already %s", id, record.Status)
	}

	logger.WithFields(logrus.Fields{
		"audit_id":  record.ID,
		"direction": record.Direction,
		"status":    record.Status,
		"amount":    int64(record.Amount),
		"reference": res.TransactionReference,
	}).Info("audit record resolved")
	return record, nil
}

func (s *PaymentAuditService) mergeMetadata(ctx context.Context, id string, extra map[string]interface{}) (datatypes.JSON, error) {
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, apperrors.NotFound("audit record %s not found", id)
	}
	merged := map[string]interface{}{}
	if len(record.Metadata) > 0 {
		if err := json.Unmarshal(record.Metadata, &merged); err != nil {
			return nil, apperrors.New(apperrors.CodeDatabase, "stored audit metadata is not an object", err)
		}
	}
	for k, v := range extra {
		merged[k] = v
	}
	b, err := json.Marshal(merged)
	if err != nil {
		return nil, apperrors.Validation("invalid audit metadata: %v", err)
	}
	return datatypes.JSON(b), nil
}

func (s *PaymentAuditService) Get(ctx context.Context, id string) (*models.PaymentAuditRecord, error) {
	var record models.PaymentAuditRecord
	err := s.DB.WithContext(ctx).Where("id = ?", id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.FromDB(err, "failed to load audit record")
	}
	return &record, nil
}

// PayoutClaim returns the pending or confirmed payout record of poolID, or nil when
// every earlier attempt failed or none was made.
func (s *PaymentAuditService) PayoutClaim(ctx context.Context, poolID string) (*models.PaymentAuditRecord, error) {
	var record models.PaymentAuditRecord
	err := s.DB.WithContext(ctx).
		Where("pool_id = ? AND direction = ? AND status <> ?", poolID, models.AuditPayoutOut, models.AuditFailed).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.FromDB(err, "failed to load payout record")
	}
	return &record, nil
}

// GetByReference returns every record carrying the transaction reference, oldest first.
func (s *PaymentAuditService) GetByReference(ctx context.Context, reference string) ([]models.PaymentAuditRecord, error) {
	ref, err := models.NormalizeTxReference(reference)
	if err != nil {
		return nil, apperrors.Validation("%v", err)
	}
	var records []models.PaymentAuditRecord
	err = s.DB.WithContext(ctx).
		Where("transaction_reference = ?", ref).
		Order("created_at ASC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, apperrors.FromDB(err, "failed to load audit records")
	}
	return records, nil
}

// GetPlayerHistory lists a player's money movements, most recent first.
func (s *PaymentAuditService) GetPlayerHistory(ctx context.Context, playerAddress string, limit, offset int) ([]models.PaymentAuditRecord, error) {
	player, err := models.NormalizeAddress(playerAddress)
	if err != nil {
		return nil, apperrors.Validation("%v", err)
	}
	if limit <= 0 {
		limit = defaultSessionPageSize
	}
	if offset < 0 {
		offset = 0
	}
	var records []models.PaymentAuditRecord
	err = s.DB.WithContext(ctx).
		Where("player_address = ?", player).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&records).Error
	if err != nil {
		return nil, apperrors.FromDB(err, "failed to load audit history")
	}
	return records, nil
}

// ListBetween returns every record created in [from, to), oldest first.
func (s *PaymentAuditService) ListBetween(ctx context.Context, from, to time.Time) ([]models.PaymentAuditRecord, error) {
	var records []models.PaymentAuditRecord
	err := s.DB.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from.UTC(), to.UTC()).
		Order("created_at ASC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, apperrors.FromDB(err, "failed to list audit records")
	}
	return records, nil
}

// SumConfirmed totals the movements created in [from, to) for reconciliation.
func (s *PaymentAuditService) SumConfirmed(ctx context.Context, from, to time.Time) (*models.AuditTotals, error) {
	type row struct {
		Direction models.AuditDirection
		Status    models.AuditStatus
		Total     models.Money
		Cnt       int64
	}
	var rows []row
	err := s.DB.WithContext(ctx).Model(&models.PaymentAuditRecord{}).
		Select("direction, status, CAST(COALESCE(SUM(amount), 0) AS BIGINT) AS total, COUNT(*) AS cnt").
		Where("created_at >= ? AND created_at < ?", from.UTC(), to.UTC()).
		Group("direction, status").
		Scan(&rows).Error
	if err != nil {
		return nil, apperrors.FromDB(err, "failed to sum audit records")
	}

	totals := &models.AuditTotals{}
	for _, r := range rows {
		switch {
		case r.Status == models.AuditFailed:
			totals.FailedCount += r.Cnt
		case r.Status == models.AuditPending:
			totals.PendingCount += r.Cnt
		case r.Direction == models.AuditPaymentIn:
			totals.PaymentsIn += r.Total
			totals.PaymentsCnt += r.Cnt
		case r.Direction == models.AuditPayoutOut:
			totals.PayoutsOut += r.Total
			totals.PayoutsCnt += r.Cnt
		}
	}
	return totals, nil
}
