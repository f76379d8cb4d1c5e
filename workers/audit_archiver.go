package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"arcade-backend/logger"
	"arcade-backend/models"
	"arcade-backend/services"

	"github.com/sirupsen/logrus"
)

const auditArchivePrefix = "payment-audit"

// ObjectPutter stores a blob under a key.
type ObjectPutter interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
}

// AuditArchiver exports each day's payment audit records to object storage as JSON lines,
// with a reconciliation summary next to them.
type AuditArchiver struct {
	Audit *services.PaymentAuditService
	Store ObjectPutter
	Now   func() time.Time
}

func NewAuditArchiver(audit *services.PaymentAuditService, store ObjectPutter) *AuditArchiver {
	return &AuditArchiver{Audit: audit, Store: store, Now: time.Now}
}

func archiveKey(day time.Time, suffix string) string {
	return fmt.Sprintf("%s/%s%s", auditArchivePrefix, day.Format("2006/01/02"), suffix)
}

type archiveSummary struct {
	Day         string             `json:"day"`
	Records     int                `json:"records"`
	Totals      models.AuditTotals `json:"totals"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// ArchiveDay uploads the records created on the UTC day containing day and
// returns how many were written. Days without records upload nothing.
func (a *AuditArchiver) ArchiveDay(ctx context.Context, day time.Time) (int, error) {
	start, end, err := models.PeriodWindow(models.PeriodDaily, models.DayKey(day))
	if err != nil {
		return 0, err
	}

	records, err := a.Audit.ListBetween(ctx, start, end)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return 0, fmt.Errorf("failed to encode audit record %s: %w", records[i].ID, err)
		}
	}
	if err := a.Store.PutObject(ctx, archiveKey(start, ".jsonl"), buf.Bytes(), "application/x-ndjson"); err != nil {
		return 0, err
	}

	totals, err := a.Audit.SumConfirmed(ctx, start, end)
	if err != nil {
		return 0, err
	}
	summary, err := json.Marshal(archiveSummary{
		Day:         models.DayKey(start),
		Records:     len(records),
		Totals:      *totals,
		GeneratedAt: a.Now().UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to encode archive summary: %w", err)
	}
	if err := a.Store.PutObject(ctx, archiveKey(start, ".summary.json"), summary, "application/json"); err != nil {
		return 0, err
	}

	logger.WithFields(logrus.Fields{
		"day":         models.DayKey(start),
		"records":     len(records),
		"payments_in": int64(totals.PaymentsIn),
		"payouts_out": int64(totals.PayoutsOut),
	}).Info("payment audit archived")
	return len(records), nil
}

// ArchivePreviousDay archives yesterday (UTC).
func (a *AuditArchiver) ArchivePreviousDay(ctx context.Context) error {
	_, err := a.ArchiveDay(ctx, a.Now().UTC().AddDate(0, 0, -1))
	return err
}
