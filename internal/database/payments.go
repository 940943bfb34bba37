package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bookflow/internal/models"
)

const paymentColumns = `id, type, payee_id, booked_service_id, intent_id, client_id, project_id, amount, status,
       memo, paid_date, eligible_at, created_at, updated_at`

// CreatePayment inserts a commission payment. The (intent, type, booked
// service) triple is unique; a duplicate leaves p filled from the stored row
// and reports created=false.
func (db *DB) CreatePayment(ctx context.Context, p *models.Payment) (bool, error) {
	if p.Status == "" {
		p.Status = models.PaymentPending
	}

	ts := now()
	query := `INSERT OR IGNORE INTO payments (type, payee_id, booked_service_id, intent_id, client_id, project_id,
              amount, status, memo, eligible_at, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := db.ExecContext(ctx, query,
		p.Type, p.PayeeID, p.BookedServiceID, p.IntentID, p.ClientID, p.ProjectID,
		money(p.Amount), p.Status, p.Memo, p.EligibleAt, ts, ts,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create payment: %w", err)
	}

	created, err := rowsChanged(res)
	if err != nil {
		return false, err
	}
	if !created {
		existing, err := db.queryPayment(ctx,
			`SELECT `+paymentColumns+` FROM payments WHERE intent_id = ? AND type = ? AND booked_service_id = ?`,
			p.IntentID, p.Type, p.BookedServiceID)
		if err != nil {
			return false, err
		}
		*p = *existing
		return false, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("failed to get last insert id: %w", err)
	}
	p.ID = id
	p.CreatedAt = ts
	p.UpdatedAt = ts
	return true, nil
}

func (db *DB) GetPayment(ctx context.Context, id int64) (*models.Payment, error) {
	return db.queryPayment(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
}

func (db *DB) GetPaymentsByIntent(ctx context.Context, intentID int64) ([]*models.Payment, error) {
	return db.queryPayments(ctx, `SELECT `+paymentColumns+` FROM payments WHERE intent_id = ? ORDER BY id ASC`, intentID)
}

func (db *DB) GetPaymentsByBookedService(ctx context.Context, bookedServiceID int64) ([]*models.Payment, error) {
	return db.queryPayments(ctx, `SELECT `+paymentColumns+` FROM payments WHERE booked_service_id = ? ORDER BY id ASC`, bookedServiceID)
}

func (db *DB) GetPaymentsByStatus(ctx context.Context, status string) ([]*models.Payment, error) {
	return db.queryPayments(ctx, `SELECT `+paymentColumns+` FROM payments WHERE status = ? ORDER BY payee_id ASC, id ASC`, status)
}

func (db *DB) queryPayment(ctx context.Context, query string, args ...interface{}) (*models.Payment, error) {
	p, err := scanPayment(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

func (db *DB) queryPayments(ctx context.Context, query string, args ...interface{}) ([]*models.Payment, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get payments: %w", err)
	}
	defer rows.Close()

	var out []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPayment(row interface{ Scan(...interface{}) error }) (*models.Payment, error) {
	var (
		p                models.Payment
		paid, eligibleAt sql.NullTime
	)
	err := row.Scan(
		&p.ID, &p.Type, &p.PayeeID, &p.BookedServiceID, &p.IntentID, &p.ClientID, &p.ProjectID, &p.Amount, &p.Status,
		&p.Memo, &paid, &eligibleAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.PaidDate = timePtr(paid)
	p.EligibleAt = timePtr(eligibleAt)
	return &p, nil
}

// UpdatePaymentStatus moves a payment from one status to another and reports
// whether this call did it. A payment no longer in fromStatus is left as is.
func (db *DB) UpdatePaymentStatus(ctx context.Context, id int64, fromStatus, status string, paidDate *time.Time) (bool, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE payments SET status = ?, paid_date = ?, updated_at = ? WHERE id = ? AND status = ?`,
		status, paidDate, now(), id, fromStatus)
	if err != nil {
		return false, fmt.Errorf("failed to update payment status: %w", err)
	}
	return rowsChanged(res)
}

// PromotePaymentEligible only moves pending payments, so an admin override
// made before the delay elapsed is never clobbered.
func (db *DB) PromotePaymentEligible(ctx context.Context, id int64) (bool, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE payments SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.PaymentEligible, now(), id, models.PaymentPending)
	if err != nil {
		return false, fmt.Errorf("failed to promote payment: %w", err)
	}
	return rowsChanged(res)
}

func (db *DB) UpdatePaymentEligibleAt(ctx context.Context, id int64, at *time.Time) error {
	_, err := db.ExecContext(ctx, `UPDATE payments SET eligible_at = ?, updated_at = ? WHERE id = ?`, at, now(), id)
	if err != nil {
		return fmt.Errorf("failed to update payment eligibility: %w", err)
	}
	return nil
}
