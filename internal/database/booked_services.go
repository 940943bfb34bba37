package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"bookflow/internal/models"
)

const bookedServiceColumns = `id, intent_id, line_index, status, service_id, name, client_id, team_id, project_id,
       client_fee, team_fee, files, cancellation_reason, created_at, updated_at, completed_at`

// CreateBookedService inserts the service for one line of an intent. When
// the line already has a record, svc is filled from it and created is false.
func (db *DB) CreateBookedService(ctx context.Context, svc *models.BookedService) (bool, error) {
	files, err := json.Marshal(svc.Files)
	if err != nil {
		return false, fmt.Errorf("failed to encode files: %w", err)
	}
	if svc.Status == "" {
		svc.Status = models.ServicePending
	}

	ts := now()
	query := `INSERT OR IGNORE INTO booked_services (intent_id, line_index, status, service_id, name, client_id, team_id,
              project_id, client_fee, team_fee, files, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := db.ExecContext(ctx, query,
		svc.IntentID, svc.LineIndex, svc.Status, svc.ServiceID, svc.Name, svc.ClientID, svc.TeamID,
		svc.ProjectID, money(svc.ClientFee), money(svc.TeamFee), string(files), ts, ts,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create booked service: %w", err)
	}

	created, err := rowsChanged(res)
	if err != nil {
		return false, err
	}
	if !created {
		existing, err := db.queryBookedService(ctx,
			`SELECT `+bookedServiceColumns+` FROM booked_services WHERE intent_id = ? AND line_index = ?`,
			svc.IntentID, svc.LineIndex)
		if err != nil {
			return false, err
		}
		*svc = *existing
		return false, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("failed to get last insert id: %w", err)
	}
	svc.ID = id
	svc.CreatedAt = ts
	svc.UpdatedAt = ts
	return true, nil
}

func (db *DB) GetBookedService(ctx context.Context, id int64) (*models.BookedService, error) {
	return db.queryBookedService(ctx, `SELECT `+bookedServiceColumns+` FROM booked_services WHERE id = ?`, id)
}

func (db *DB) queryBookedService(ctx context.Context, query string, args ...interface{}) (*models.BookedService, error) {
	svc, err := scanBookedService(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booked service: %w", err)
	}
	return svc, nil
}

func (db *DB) GetBookedServicesByIntent(ctx context.Context, intentID int64) ([]*models.BookedService, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+bookedServiceColumns+` FROM booked_services WHERE intent_id = ? ORDER BY line_index ASC`, intentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get booked services: %w", err)
	}
	defer rows.Close()

	var out []*models.BookedService
	for rows.Next() {
		svc, err := scanBookedService(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booked service: %w", err)
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

func scanBookedService(row interface{ Scan(...interface{}) error }) (*models.BookedService, error) {
	var (
		s         models.BookedService
		files     string
		completed sql.NullTime
	)
	err := row.Scan(
		&s.ID, &s.IntentID, &s.LineIndex, &s.Status, &s.ServiceID, &s.Name, &s.ClientID, &s.TeamID, &s.ProjectID,
		&s.ClientFee, &s.TeamFee, &files, &s.CancellationReason, &s.CreatedAt, &s.UpdatedAt, &completed,
	)
	if err != nil {
		return nil, err
	}
	s.CompletedAt = timePtr(completed)
	if err := json.Unmarshal([]byte(files), &s.Files); err != nil {
		return nil, fmt.Errorf("invalid files: %w", err)
	}
	return &s, nil
}

// UpdateBookedServiceStatus stores the new status. Moving to complete stamps
// completed_at; a non-empty reason replaces the cancellation reason.
func (db *DB) UpdateBookedServiceStatus(ctx context.Context, id int64, status string, reason string) error {
	ts := now()
	var completed interface{}
	if status == models.ServiceComplete {
		completed = ts
	}

	query := `UPDATE booked_services
              SET status = ?, updated_at = ?, completed_at = ?,
                  cancellation_reason = CASE WHEN ? != '' THEN ? ELSE cancellation_reason END
              WHERE id = ?`
	res, err := db.ExecContext(ctx, query, status, ts, completed, reason, reason, id)
	if err != nil {
		return fmt.Errorf("failed to update booked service status: %w", err)
	}
	if ok, _ := rowsChanged(res); !ok {
		return ErrNotFound
	}
	return nil
}

func (db *DB) UpdateBookedServiceTeam(ctx context.Context, id int64, teamID int64) error {
	res, err := db.ExecContext(ctx, `UPDATE booked_services SET team_id = ?, updated_at = ? WHERE id = ?`, teamID, now(), id)
	if err != nil {
		return fmt.Errorf("failed to update booked service team: %w", err)
	}
	if ok, _ := rowsChanged(res); !ok {
		return ErrNotFound
	}
	return nil
}
