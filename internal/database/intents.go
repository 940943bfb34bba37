package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"bookflow/internal/models"
)

const intentColumns = `id, status, client_id, client_email, project_id, affiliate_id, sales_rep_id,
       line_items, total_fee, net_fee, previously_paid, terms_version, terms_doc_ref,
       checkout_link, created_at, updated_at`

func (db *DB) CreateIntent(ctx context.Context, intent *models.BookingIntent) error {
	items, err := json.Marshal(intent.LineItems)
	if err != nil {
		return fmt.Errorf("failed to encode line items: %w", err)
	}
	if intent.Status == "" {
		intent.Status = models.IntentIncomplete
	}

	ts := now()
	query := `INSERT INTO booking_intents (status, client_id, client_email, project_id, affiliate_id, sales_rep_id,
              line_items, total_fee, previously_paid, terms_version, terms_doc_ref, checkout_link, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query,
		intent.Status,
		intent.ClientID,
		intent.ClientEmail,
		nullInt64(intent.ProjectID),
		nullInt64(intent.AffiliateID),
		nullInt64(intent.SalesRepID),
		string(items),
		money(intent.TotalFee),
		intent.PreviouslyPaid,
		intent.TermsVersion,
		intent.TermsDocRef,
		intent.CheckoutLink,
		ts,
		ts,
	)
	if err != nil {
		return fmt.Errorf("failed to create intent: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	intent.ID = id
	intent.CreatedAt = ts
	intent.UpdatedAt = ts
	return nil
}

func (db *DB) GetIntent(ctx context.Context, id int64) (*models.BookingIntent, error) {
	row := db.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM booking_intents WHERE id = ?`, id)
	intent, err := scanIntent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get intent: %w", err)
	}
	return intent, nil
}

func scanIntent(row interface{ Scan(...interface{}) error }) (*models.BookingIntent, error) {
	var (
		i                         models.BookingIntent
		projectID, affID, salesID sql.NullInt64
		items, total              string
		net                       decimal.NullDecimal
	)
	err := row.Scan(
		&i.ID, &i.Status, &i.ClientID, &i.ClientEmail, &projectID, &affID, &salesID,
		&items, &total, &net, &i.PreviouslyPaid, &i.TermsVersion, &i.TermsDocRef,
		&i.CheckoutLink, &i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	i.ProjectID = int64Ptr(projectID)
	i.AffiliateID = int64Ptr(affID)
	i.SalesRepID = int64Ptr(salesID)
	i.NetFee = net
	if i.TotalFee, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("invalid total fee %q: %w", total, err)
	}
	if err := json.Unmarshal([]byte(items), &i.LineItems); err != nil {
		return nil, fmt.Errorf("invalid line items: %w", err)
	}
	return &i, nil
}

// MarkIntentSucceeded is the compare-and-set behind the one-way transition.
// Only the caller that observes a changed row owns the fan-out.
func (db *DB) MarkIntentSucceeded(ctx context.Context, id int64) (bool, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE booking_intents SET status = ?, updated_at = ? WHERE id = ? AND status != ?`,
		models.IntentSucceeded, now(), id, models.IntentSucceeded)
	if err != nil {
		return false, fmt.Errorf("failed to mark intent succeeded: %w", err)
	}
	changed, err := rowsChanged(res)
	if err != nil {
		return false, err
	}
	if !changed {
		if _, err := db.GetIntent(ctx, id); err != nil {
			return false, err
		}
	}
	return changed, nil
}

func (db *DB) UpdateIntentProject(ctx context.Context, id int64, projectID int64) error {
	_, err := db.ExecContext(ctx, `UPDATE booking_intents SET project_id = ?, updated_at = ? WHERE id = ?`, projectID, now(), id)
	if err != nil {
		return fmt.Errorf("failed to update intent project: %w", err)
	}
	return nil
}

func (db *DB) UpdateIntentLineItems(ctx context.Context, id int64, items []models.LineItem) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode line items: %w", err)
	}
	_, err = db.ExecContext(ctx, `UPDATE booking_intents SET line_items = ?, updated_at = ? WHERE id = ?`, string(raw), now(), id)
	if err != nil {
		return fmt.Errorf("failed to update intent line items: %w", err)
	}
	return nil
}

func (db *DB) UpdateIntentCheckoutLink(ctx context.Context, id int64, link string) error {
	_, err := db.ExecContext(ctx, `UPDATE booking_intents SET checkout_link = ?, updated_at = ? WHERE id = ?`, link, now(), id)
	if err != nil {
		return fmt.Errorf("failed to update checkout link: %w", err)
	}
	return nil
}

// AdjustIntentNetFee subtracts delta from the running net fee, seeding it
// from the total fee the first time. A negative delta adds the amount back.
func (db *DB) AdjustIntentNetFee(ctx context.Context, id int64, delta decimal.Decimal) (decimal.Decimal, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var total string
	var net sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT total_fee, net_fee FROM booking_intents WHERE id = ?`, id).Scan(&total, &net)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read net fee: %w", err)
	}

	current := total
	if net.Valid {
		current = net.String
	}
	base, err := decimal.NewFromString(current)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid stored fee %q: %w", current, err)
	}
	updated := base.Sub(delta).Round(models.MoneyPlaces)

	if _, err := tx.ExecContext(ctx, `UPDATE booking_intents SET net_fee = ?, updated_at = ? WHERE id = ?`, money(updated), now(), id); err != nil {
		return decimal.Zero, fmt.Errorf("failed to update net fee: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return decimal.Zero, fmt.Errorf("failed to commit net fee: %w", err)
	}
	return updated, nil
}

// DeleteIntentCascade removes the intent together with its booked services,
// commission payments, booking payments and briefs in one transaction.
func (db *DB) DeleteIntentCascade(ctx context.Context, id int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	steps := []struct {
		name  string
		query string
	}{
		{"briefs", `DELETE FROM briefs WHERE booked_service_id IN (SELECT id FROM booked_services WHERE intent_id = ?)`},
		{"payments", `DELETE FROM payments WHERE intent_id = ?`},
		{"booked services", `DELETE FROM booked_services WHERE intent_id = ?`},
		{"booking payments", `DELETE FROM booking_payments WHERE intent_id = ?`},
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step.query, id); err != nil {
			return fmt.Errorf("failed to delete %s: %w", step.name, err)
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM booking_intents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete intent: %w", err)
	}
	if ok, _ := rowsChanged(res); !ok {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}
