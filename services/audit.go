package services

import (
	"context"
	"fmt"
	"time"

	"pickup-notify/db"
)

// Dispatch outcomes recorded in the audit log.
const (
	DispatchOutcomeSent   = "sent"
	DispatchOutcomeFailed = "failed"
)

// DispatchAudit records every dispatch attempt and answers duplicate-window
// queries so manual re-sends stay idempotent against double clicks.
type DispatchAudit interface {
	RecordDispatch(ctx context.Context, orderID int64, outcome, detail string) error
	RecentlySent(ctx context.Context, orderID int64, window time.Duration) (bool, error)
}

// PGAudit keeps the audit trail in the dispatch_log table.
type PGAudit struct{}

func (PGAudit) RecordDispatch(ctx context.Context, orderID int64, outcome, detail string) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO dispatch_log (order_id, outcome, detail)
		VALUES ($1, $2, $3)`,
		orderID, outcome, detail,
	)
	if err != nil {
		return fmt.Errorf("record dispatch for order %d: %w", orderID, err)
	}
	return nil
}

// RecentlySent returns true if the order was already dispatched successfully
// within the window.
func (PGAudit) RecentlySent(ctx context.Context, orderID int64, window time.Duration) (bool, error) {
	var count int
	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM dispatch_log
		WHERE order_id = $1 AND outcome = $2
		  AND created_at > now() - $3::interval`,
		orderID, DispatchOutcomeSent, fmt.Sprintf("%d seconds", int(window.Seconds())),
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
