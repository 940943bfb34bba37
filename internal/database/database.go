package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bookflow/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
)

// DB is the sqlite backed object store for every booking entity.
type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := path
	if path != ":memory:" {
		dsn = path + "?_busy_timeout=5000&_journal_mode=WAL"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers; a single connection keeps the
	// compare-and-set updates below free of SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{DB: sqlDB, logger: logger}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return db, nil
}

func (db *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS booking_intents (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            status TEXT NOT NULL DEFAULT 'incomplete',
            client_id TEXT NOT NULL,
            client_email TEXT NOT NULL,
            project_id INTEGER,
            affiliate_id INTEGER,
            sales_rep_id INTEGER,
            line_items TEXT NOT NULL DEFAULT '[]',
            total_fee TEXT NOT NULL DEFAULT '0.00',
            net_fee TEXT,
            previously_paid BOOLEAN NOT NULL DEFAULT 0,
            terms_version TEXT NOT NULL DEFAULT '',
            terms_doc_ref TEXT NOT NULL DEFAULT '',
            checkout_link TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS booked_services (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            intent_id INTEGER NOT NULL,
            line_index INTEGER NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            service_id INTEGER NOT NULL,
            name TEXT NOT NULL,
            client_id TEXT NOT NULL,
            team_id INTEGER NOT NULL DEFAULT 0,
            project_id INTEGER NOT NULL DEFAULT 0,
            client_fee TEXT NOT NULL,
            team_fee TEXT NOT NULL,
            files TEXT NOT NULL DEFAULT '[]',
            cancellation_reason TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            completed_at DATETIME
        )`,
		`CREATE TABLE IF NOT EXISTS payments (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            type TEXT NOT NULL,
            payee_id INTEGER NOT NULL,
            booked_service_id INTEGER NOT NULL DEFAULT 0,
            intent_id INTEGER NOT NULL,
            client_id TEXT NOT NULL,
            project_id INTEGER NOT NULL DEFAULT 0,
            amount TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            memo TEXT NOT NULL DEFAULT '',
            paid_date DATETIME,
            eligible_at DATETIME,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS booking_payments (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            intent_id INTEGER NOT NULL,
            client_id TEXT NOT NULL,
            type TEXT NOT NULL,
            amount TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'unpaid',
            amount_received TEXT NOT NULL DEFAULT '0.00',
            payment_method TEXT NOT NULL DEFAULT '',
            receipt_ref TEXT NOT NULL DEFAULT '',
            transaction_id TEXT NOT NULL DEFAULT '',
            due BOOLEAN NOT NULL DEFAULT 0,
            due_at DATETIME,
            paid_at DATETIME,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS projects (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            client_id TEXT NOT NULL,
            name TEXT NOT NULL,
            created_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS briefs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            project_id INTEGER NOT NULL,
            booked_service_id INTEGER NOT NULL,
            brief_type TEXT NOT NULL,
            created_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS jobs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            job_type TEXT NOT NULL,
            ref TEXT NOT NULL,
            payload TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            run_at DATETIME NOT NULL,
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		`CREATE UNIQUE INDEX IF NOT EXISTS ux_booked_services_line ON booked_services(intent_id, line_index)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_group ON payments(intent_id, type, booked_service_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_booking_payments_type ON booking_payments(intent_id, type)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_briefs_project_type ON briefs(project_id, brief_type)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_projects_client ON projects(client_id) WHERE client_id != 'guest'`,

		`CREATE INDEX IF NOT EXISTS idx_intents_status ON booking_intents(status)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_status ON payments(status)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_booked_service ON payments(booked_service_id)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_due ON jobs(status, run_at)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_ref ON jobs(job_type, ref)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}

func money(d decimal.Decimal) string {
	return d.StringFixed(models.MoneyPlaces)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func rowsChanged(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	v := n.Time
	return &v
}
