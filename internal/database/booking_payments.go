package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bookflow/internal/models"
)

const bookingPaymentColumns = `id, intent_id, client_id, type, amount, status, amount_received, payment_method,
       receipt_ref, transaction_id, due, due_at, paid_at, created_at, updated_at`

// CreateBookingPayment keeps at most one payment per (intent, type).
func (db *DB) CreateBookingPayment(ctx context.Context, bp *models.BookingPayment) (bool, error) {
	if bp.Status == "" {
		bp.Status = models.BookingPaymentUnpaid
	}

	ts := now()
	query := `INSERT OR IGNORE INTO booking_payments (intent_id, client_id, type, amount, status, amount_received,
              due, due_at, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := db.ExecContext(ctx, query,
		bp.IntentID, bp.ClientID, bp.Type, money(bp.Amount), bp.Status, money(bp.AmountReceived),
		bp.Due, bp.DueAt, ts, ts,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create booking payment: %w", err)
	}

	created, err := rowsChanged(res)
	if err != nil {
		return false, err
	}
	if !created {
		existing, err := db.queryBookingPayment(ctx,
			`SELECT `+bookingPaymentColumns+` FROM booking_payments WHERE intent_id = ? AND type = ?`,
			bp.IntentID, bp.Type)
		if err != nil {
			return false, err
		}
		*bp = *existing
		return false, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("failed to get last insert id: %w", err)
	}
	bp.ID = id
	bp.CreatedAt = ts
	bp.UpdatedAt = ts
	return true, nil
}

func (db *DB) GetBookingPayment(ctx context.Context, id int64) (*models.BookingPayment, error) {
	return db.queryBookingPayment(ctx, `SELECT `+bookingPaymentColumns+` FROM booking_payments WHERE id = ?`, id)
}

func (db *DB) GetBookingPaymentsByIntent(ctx context.Context, intentID int64) ([]*models.BookingPayment, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+bookingPaymentColumns+` FROM booking_payments WHERE intent_id = ? ORDER BY id ASC`, intentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking payments: %w", err)
	}
	defer rows.Close()

	var out []*models.BookingPayment
	for rows.Next() {
		bp, err := scanBookingPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking payment: %w", err)
		}
		out = append(out, bp)
	}
	return out, rows.Err()
}

func (db *DB) queryBookingPayment(ctx context.Context, query string, args ...interface{}) (*models.BookingPayment, error) {
	bp, err := scanBookingPayment(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking payment: %w", err)
	}
	return bp, nil
}

func scanBookingPayment(row interface{ Scan(...interface{}) error }) (*models.BookingPayment, error) {
	var (
		bp          models.BookingPayment
		dueAt, paid sql.NullTime
	)
	err := row.Scan(
		&bp.ID, &bp.IntentID, &bp.ClientID, &bp.Type, &bp.Amount, &bp.Status, &bp.AmountReceived, &bp.PaymentMethod,
		&bp.ReceiptRef, &bp.TransactionID, &bp.Due, &dueAt, &paid, &bp.CreatedAt, &bp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	bp.DueAt = timePtr(dueAt)
	bp.PaidAt = timePtr(paid)
	return &bp, nil
}

func (db *DB) SetBookingPaymentTransaction(ctx context.Context, id int64, transactionID string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE booking_payments SET transaction_id = ?, updated_at = ? WHERE id = ? AND status = ?`,
		transactionID, now(), id, models.BookingPaymentUnpaid)
	if err != nil {
		return fmt.Errorf("failed to store transaction id: %w", err)
	}
	if ok, _ := rowsChanged(res); !ok {
		return ErrNotFound
	}
	return nil
}

func (db *DB) MarkBookingPaymentDue(ctx context.Context, id int64, at time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE booking_payments SET due = 1, due_at = COALESCE(due_at, ?), updated_at = ? WHERE id = ?`,
		at, now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark booking payment due: %w", err)
	}
	if ok, _ := rowsChanged(res); !ok {
		return ErrNotFound
	}
	return nil
}

// SettleBookingPayment records the processor result. The update is applied
// only while the stored transaction id equals transactionID and the payment
// is still unpaid, so stale or repeated webhooks change nothing.
func (db *DB) SettleBookingPayment(ctx context.Context, id int64, transactionID string, tx *models.Transaction, paidAt time.Time) (bool, error) {
	query := `UPDATE booking_payments
              SET status = ?, amount_received = ?, payment_method = ?, receipt_ref = ?, paid_at = ?, updated_at = ?
              WHERE id = ? AND transaction_id = ? AND transaction_id != '' AND status = ?`
	res, err := db.ExecContext(ctx, query,
		models.BookingPaymentPaid, money(tx.AmountReceived), tx.PaymentMethod, tx.ReceiptURL, paidAt, now(),
		id, transactionID, models.BookingPaymentUnpaid,
	)
	if err != nil {
		return false, fmt.Errorf("failed to settle booking payment: %w", err)
	}
	return rowsChanged(res)
}
