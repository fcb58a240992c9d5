package services

import (
	"context"
	"errors"
	"fmt"

	"pickup-notify/db"
	"pickup-notify/models"

	"github.com/jackc/pgx/v5"
)

// OrderStore is the record store the pipeline, coordinator and bulk operations
// share. PGStore is the production implementation; tests use an in-memory one.
type OrderStore interface {
	Insert(ctx context.Context, input models.CreateOrderInput) (int64, error)
	Get(ctx context.Context, id int64) (*models.Order, error)
	SetTrigger(ctx context.Context, id int64, ref string) error
	ClearTrigger(ctx context.Context, id int64) error
	// MarkSent moves the order from pending to sent and clears the trigger
	// reference. It only succeeds if the order is still pending; the boolean
	// reports whether this caller won the transition.
	MarkSent(ctx context.Context, id int64) (bool, error)
	Delete(ctx context.Context, id int64) error
	ListPending(ctx context.Context) ([]models.Order, error)
	List(ctx context.Context) ([]models.Order, error)
}

// PGStore stores orders in Postgres through the shared db.Pool.
type PGStore struct{}

const orderColumns = `
	id, variant, recipient, display_name, reference_number, description,
	raw_pickup_text, send_at, status, trigger_ref, subject_override,
	body_override, amount, document_url`

func (PGStore) Insert(ctx context.Context, in models.CreateOrderInput) (int64, error) {
	var id int64
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO orders (
			variant, recipient, display_name, reference_number, description,
			raw_pickup_text, send_at, status, trigger_ref, subject_override,
			body_override, amount, document_url
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '', $9, $10, $11, $12)
		RETURNING id`,
		in.Variant, in.Recipient, in.DisplayName, in.ReferenceNumber, in.Description,
		in.RawPickupText, in.SendAt, in.Status, in.SubjectOverride,
		in.BodyOverride, in.Amount, in.DocumentURL,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}
	return id, nil
}

func (PGStore) Get(ctx context.Context, id int64) (*models.Order, error) {
	var o models.Order
	err := db.Pool.QueryRow(ctx, `
		SELECT`+orderColumns+`
		FROM orders WHERE id = $1`, id,
	).Scan(
		&o.ID, &o.Variant, &o.Recipient, &o.DisplayName, &o.ReferenceNumber,
		&o.Description, &o.RawPickupText, &o.SendAt, &o.Status, &o.TriggerRef,
		&o.SubjectOverride, &o.BodyOverride, &o.Amount, &o.DocumentURL,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}
	return &o, nil
}

// SetTrigger attaches the trigger reference to a still-pending order. A sent
// or deleted order is not schedulable anymore and reports ErrNotFound.
func (PGStore) SetTrigger(ctx context.Context, id int64, ref string) error {
	res, err := db.Pool.Exec(ctx, `
		UPDATE orders SET trigger_ref = $1
		WHERE id = $2 AND status = $3`,
		ref, id, models.StatusPending)
	if err != nil {
		return fmt.Errorf("set trigger for order %d: %w", id, err)
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (PGStore) ClearTrigger(ctx context.Context, id int64) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE orders SET trigger_ref = '' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("clear trigger for order %d: %w", id, err)
	}
	return nil
}

func (PGStore) MarkSent(ctx context.Context, id int64) (bool, error) {
	res, err := db.Pool.Exec(ctx, `
		UPDATE orders SET status = $1, trigger_ref = ''
		WHERE id = $2 AND status = $3`,
		models.StatusSent, id, models.StatusPending)
	if err != nil {
		return false, fmt.Errorf("mark order %d sent: %w", id, err)
	}
	return res.RowsAffected() == 1, nil
}

func (PGStore) Delete(ctx context.Context, id int64) error {
	res, err := db.Pool.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order %d: %w", id, err)
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (PGStore) ListPending(ctx context.Context) ([]models.Order, error) {
	return scanOrders(ctx, `
		SELECT`+orderColumns+`
		FROM orders WHERE status = $1 ORDER BY send_at ASC`, models.StatusPending)
}

func (PGStore) List(ctx context.Context) ([]models.Order, error) {
	return scanOrders(ctx, `
		SELECT`+orderColumns+`
		FROM orders ORDER BY send_at DESC`)
}

func scanOrders(ctx context.Context, sql string, args ...any) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	var list []models.Order
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(
			&o.ID, &o.Variant, &o.Recipient, &o.DisplayName, &o.ReferenceNumber,
			&o.Description, &o.RawPickupText, &o.SendAt, &o.Status, &o.TriggerRef,
			&o.SubjectOverride, &o.BodyOverride, &o.Amount, &o.DocumentURL,
		); err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	return list, rows.Err()
}
