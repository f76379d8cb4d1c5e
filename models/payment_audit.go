package models

import (
	"time"

	"gorm.io/datatypes"
)

type AuditDirection string

const (
	AuditPaymentIn AuditDirection = "payment_in"
	AuditPayoutOut AuditDirection = "payout_out"
)

type AuditStatus string

const (
	AuditPending   AuditStatus = "pending"
	AuditConfirmed AuditStatus = "confirmed"
	AuditFailed    AuditStatus = "failed"
)

// PaymentAuditRecord is an append-only ledger line for one money movement.
// Only Status (pending -> confirmed|failed) and the fields resolved with it change after insert.
type PaymentAuditRecord struct {
	ID                   string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Direction            AuditDirection `gorm:"type:varchar(16);not null;index:idx_audit_direction_created,priority:1;check:direction IN ('payment_in','payout_out')" json:"direction"`
	Status               AuditStatus    `gorm:"type:varchar(16);not null;default:'pending';check:status IN ('pending','confirmed','failed')" json:"status"`
	PlayerAddress        string         `gorm:"type:varchar(42);not null;index;check:length(player_address) = 42" json:"player_address"`
	GameType             string         `gorm:"type:varchar(32);not null;index" json:"game_type"`
	Amount               Money          `gorm:"type:bigint;not null;check:amount >= 0" json:"amount"`
	TransactionReference *string        `gorm:"type:varchar(66);index" json:"transaction_reference,omitempty"`
	SessionID            *string        `gorm:"type:varchar(36);index" json:"session_id,omitempty"`
	PoolID               *string        `gorm:"type:varchar(36);index" json:"pool_id,omitempty"`
	FailureReason        string         `gorm:"type:text" json:"failure_reason,omitempty"`
	Metadata             datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt            time.Time      `gorm:"not null;index:idx_audit_direction_created,priority:2" json:"created_at"`
	ResolvedAt           *time.Time     `json:"resolved_at,omitempty"`
}

func (PaymentAuditRecord) TableName() string {
	return "payment_audit"
}

// AuditTotals sums confirmed movements over a time range for reconciliation.
type AuditTotals struct {
	PaymentsIn   Money `json:"payments_in"`
	PaymentsCnt  int64 `json:"payments_count"`
	PayoutsOut   Money `json:"payouts_out"`
	PayoutsCnt   int64 `json:"payouts_count"`
	FailedCount  int64 `json:"failed_count"`
	PendingCount int64 `json:"pending_count"`
}
