package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"arcade-backend/apperrors"
	"arcade-backend/models"

	"github.com/google/uuid"
)

func TestAuditRecordLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record, err := env.audit.RecordPending(ctx, AuditEntry{
		Direction:     models.AuditPaymentIn,
		PlayerAddress: "0xABCDEFABCDEFABCDEFABCDEFABCDEFABCDEFABCD",
		GameType:      "snake",
		Amount:        10000,
		Metadata:      map[string]interface{}{"network": "base-sepolia"},
	})
	if err != nil {
		t.Fatalf("RecordPending: %v", err)
	}
	if record.Status != models.AuditPending || record.PlayerAddress != "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd" {
		t.Fatalf("pending record = %+v", record)
	}

	env.clock.Advance(time.Second)
	confirmed, err := env.audit.Confirm(ctx, record.ID, Resolution{TransactionReference: txRef(3), SessionID: uuid.NewString()})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if confirmed.Status != models.AuditConfirmed || confirmed.ResolvedAt == nil || *confirmed.TransactionReference != txRef(3) {
		t.Fatalf("confirmed record = %+v", confirmed)
	}
	var meta map[string]string
	if err := json.Unmarshal(confirmed.Metadata, &meta); err != nil || meta["network"] != "base-sepolia" {
		t.Fatalf("metadata = %s, %v", confirmed.Metadata, err)
	}

	if _, err := env.audit.Fail(ctx, record.ID, "late failure"); apperrors.ReasonOf(err) != apperrors.ReasonResolved {
		t.Fatalf("resolving twice: got %v", err)
	}
	if _, err := env.audit.Confirm(ctx, uuid.NewString(), Resolution{}); !apperrors.Is(err, apperrors.CodeNotFound) {
		t.Fatalf("missing record: got %v", err)
	}
}

func TestAuditRecordValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cases := []AuditEntry{
		{Direction: "refund", PlayerAddress: addr(1), GameType: "snake", Amount: 1},
		{Direction: models.AuditPaymentIn, PlayerAddress: "nope", GameType: "snake", Amount: 1},
		{Direction: models.AuditPaymentIn, PlayerAddress: addr(1), GameType: "snake", Amount: -1},
	}
	for _, entry := range cases {
		if _, err := env.audit.RecordPending(ctx, entry); !apperrors.Is(err, apperrors.CodeValidation) {
			t.Errorf("RecordPending(%+v): got %v", entry, err)
		}
	}
}

func TestAuditSumConfirmed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	from := env.clock.Now()

	record := func(dir models.AuditDirection, amount models.Money) string {
		r, err := env.audit.RecordPending(ctx, AuditEntry{Direction: dir, PlayerAddress: addr(1), GameType: "pong", Amount: amount})
		if err != nil {
			t.Fatalf("RecordPending: %v", err)
		}
		env.clock.Advance(time.Second)
		return r.ID
	}

	env.audit.Confirm(ctx, record(models.AuditPaymentIn, 10000), Resolution{})
	env.audit.Confirm(ctx, record(models.AuditPaymentIn, 10000), Resolution{})
	env.audit.Fail(ctx, record(models.AuditPaymentIn, 10000), "declined")
	env.audit.Confirm(ctx, record(models.AuditPayoutOut, 14000), Resolution{})
	record(models.AuditPaymentIn, 10000)

	totals, err := env.audit.SumConfirmed(ctx, from, env.clock.Now())
	if err != nil {
		t.Fatalf("SumConfirmed: %v", err)
	}
	want := models.AuditTotals{PaymentsIn: 20000, PaymentsCnt: 2, PayoutsOut: 14000, PayoutsCnt: 1, FailedCount: 1, PendingCount: 1}
	if *totals != want {
		t.Fatalf("totals = %+v, want %+v", *totals, want)
	}

	listed, _ := env.audit.ListBetween(ctx, from, from.Add(2*time.Second))
	if len(listed) != 2 {
		t.Fatalf("ListBetween returned %d records, want 2", len(listed))
	}

	page, _ := env.audit.GetPlayerHistory(ctx, addr(1), 2, 0)
	if len(page) != 2 || page[0].Status != models.AuditPending {
		t.Fatalf("history page = %+v", page)
	}
}
