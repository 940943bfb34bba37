package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bookflow/internal/models"
)

func (db *DB) FindProjectByClient(ctx context.Context, clientID string) (*models.Project, error) {
	var p models.Project
	err := db.QueryRowContext(ctx,
		`SELECT id, client_id, name, created_at FROM projects WHERE client_id = ? ORDER BY id ASC LIMIT 1`, clientID,
	).Scan(&p.ID, &p.ClientID, &p.Name, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find project: %w", err)
	}
	return &p, nil
}

// CreateProject inserts a project. Registered clients own a single project;
// when one already exists p is filled from it instead.
func (db *DB) CreateProject(ctx context.Context, p *models.Project) error {
	ts := now()
	res, err := db.ExecContext(ctx,
		`INSERT INTO projects (client_id, name, created_at) VALUES (?, ?, ?)`, p.ClientID, p.Name, ts)
	if isUniqueViolation(err) {
		existing, ferr := db.FindProjectByClient(ctx, p.ClientID)
		if ferr != nil {
			return ferr
		}
		*p = *existing
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	p.ID = id
	p.CreatedAt = ts
	return nil
}

// CreateBrief stores at most one brief per project and brief type.
func (db *DB) CreateBrief(ctx context.Context, b *models.Brief) (bool, error) {
	ts := now()
	res, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO briefs (project_id, booked_service_id, brief_type, created_at) VALUES (?, ?, ?, ?)`,
		b.ProjectID, b.BookedServiceID, b.BriefType, ts)
	if err != nil {
		return false, fmt.Errorf("failed to create brief: %w", err)
	}
	created, err := rowsChanged(res)
	if err != nil || !created {
		return false, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("failed to get last insert id: %w", err)
	}
	b.ID = id
	b.CreatedAt = ts
	return true, nil
}

func (db *DB) GetBriefsByProject(ctx context.Context, projectID int64) ([]*models.Brief, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, project_id, booked_service_id, brief_type, created_at FROM briefs WHERE project_id = ? ORDER BY id ASC`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to get briefs: %w", err)
	}
	defer rows.Close()

	var out []*models.Brief
	for rows.Next() {
		var b models.Brief
		if err := rows.Scan(&b.ID, &b.ProjectID, &b.BookedServiceID, &b.BriefType, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan brief: %w", err)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}
