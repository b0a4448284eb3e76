package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/voicebrief/backend/internal/auth"
	"github.com/voicebrief/backend/internal/db/models"
)

var (
	// ErrNotFound means no record exists for the given identifier.
	// Pollers may see this transiently right after a job is created.
	ErrNotFound = errors.New("db: record not found")
	// ErrAmbiguousName means more than one job shares an original
	// name; the caller must disambiguate with a job id.
	ErrAmbiguousName = errors.New("db: original name matches multiple jobs")
)

// Fields is a partial job update. Keys are column names; only the
// fields a caller owns are touched, so concurrent workers updating
// different fields of the same job never clobber each other's data.
type Fields map[string]any

// jobColumns whitelists the columns UpdateJob may set.
var jobColumns = map[string]bool{
	"original_name":   true,
	"source_key":      true,
	"stage":           true,
	"total_parts":     true,
	"completed_parts": true,
	"last_completed":  true,
	"error_for":       true,
	"error":           true,
	"errors":          true,
	"manifest_key":    true,
	"merged_key":      true,
	"summary_key":     true,
}

type Database struct {
	db *sql.DB
}

func NewSQLite(path string) (*Database, error) {
	sqlDB, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	d := &Database{db: sqlDB}
	if err := d.migrate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Database) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		password TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'viewer',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		original_name TEXT NOT NULL DEFAULT '',
		source_key TEXT NOT NULL DEFAULT '',
		stage TEXT NOT NULL DEFAULT 'uploaded',
		total_parts INTEGER NOT NULL DEFAULT 0,
		completed_parts INTEGER NOT NULL DEFAULT 0,
		last_completed TEXT NOT NULL DEFAULT '',
		error_for TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		errors TEXT,
		manifest_key TEXT NOT NULL DEFAULT '',
		merged_key TEXT NOT NULL DEFAULT '',
		summary_key TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_original_name ON jobs(original_name);
	CREATE INDEX IF NOT EXISTS idx_jobs_source_key ON jobs(source_key);
	`
	_, err := d.db.Exec(schema)
	return err
}

// UpdateJob merges partial fields into a job record, creating the
// record if it does not exist yet. updated_at is refreshed on every
// call and the write is durable before return.
func (d *Database) UpdateJob(id string, fields Fields) error {
	now := time.Now().UTC()
	if _, err := d.db.Exec(
		`INSERT INTO jobs (id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, now, now,
	); err != nil {
		return fmt.Errorf("ensure job row: %w", err)
	}

	sets := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+2)
	for col, val := range fields {
		if !jobColumns[col] {
			return fmt.Errorf("update job: unknown field %q", col)
		}
		if col == "errors" {
			data, err := json.Marshal(val)
			if err != nil {
				return fmt.Errorf("marshal errors: %w", err)
			}
			val = string(data)
		}
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, now, id)

	_, err := d.db.Exec(
		"UPDATE jobs SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	return nil
}

func (d *Database) GetJob(id string) (*models.JobRecord, error) {
	row := d.db.QueryRow(`
		SELECT id, original_name, source_key, stage, total_parts, completed_parts,
		       last_completed, error_for, error, errors, manifest_key, merged_key, summary_key,
		       created_at, updated_at
		FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

func scanJob(row *sql.Row) (*models.JobRecord, error) {
	j := &models.JobRecord{}
	var errorsJSON sql.NullString
	err := row.Scan(&j.ID, &j.OriginalName, &j.SourceKey, &j.Stage, &j.TotalParts,
		&j.CompletedParts, &j.LastCompleted, &j.ErrorFor, &j.Error, &errorsJSON,
		&j.ManifestKey, &j.MergedKey, &j.SummaryKey, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if errorsJSON.Valid && errorsJSON.String != "" {
		if err := json.Unmarshal([]byte(errorsJSON.String), &j.Errors); err != nil {
			return nil, fmt.Errorf("decode errors for job %s: %w", j.ID, err)
		}
	}
	return j, nil
}

// FindJobIDByOriginalName resolves an original file name to a job id.
// The scan is O(jobs), which is fine at this scale. When several jobs
// share the name the lookup is ambiguous and refused; callers must
// use the job id instead.
func (d *Database) FindJobIDByOriginalName(name string) (string, error) {
	rows, err := d.db.Query("SELECT id FROM jobs WHERE original_name = ?", name)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	switch len(ids) {
	case 0:
		return "", ErrNotFound
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("%w: %q has %d jobs", ErrAmbiguousName, name, len(ids))
	}
}

// FindActiveJobBySourceKey returns the id of a non-failed job for the
// given source object, if any. Used for best-effort dedup of
// re-delivered upload triggers.
func (d *Database) FindActiveJobBySourceKey(key string) (string, error) {
	var id string
	err := d.db.QueryRow(`
		SELECT id FROM jobs
		WHERE source_key = ? AND stage != ? AND (errors IS NULL OR errors = '' OR errors = 'null')
		ORDER BY created_at DESC LIMIT 1`,
		key, models.StageTranscribeFailed,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return id, err
}

// ListJobs returns all jobs ordered by creation time (newest first).
func (d *Database) ListJobs() ([]*models.JobRecord, error) {
	rows, err := d.db.Query(`
		SELECT id, original_name, source_key, stage, total_parts, completed_parts,
		       last_completed, error_for, error, errors, manifest_key, merged_key, summary_key,
		       created_at, updated_at
		FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.JobRecord
	for rows.Next() {
		j := &models.JobRecord{}
		var errorsJSON sql.NullString
		if err := rows.Scan(&j.ID, &j.OriginalName, &j.SourceKey, &j.Stage, &j.TotalParts,
			&j.CompletedParts, &j.LastCompleted, &j.ErrorFor, &j.Error, &errorsJSON,
			&j.ManifestKey, &j.MergedKey, &j.SummaryKey, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		if errorsJSON.Valid && errorsJSON.String != "" {
			if err := json.Unmarshal([]byte(errorsJSON.String), &j.Errors); err != nil {
				return nil, fmt.Errorf("decode errors for job %s: %w", j.ID, err)
			}
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (d *Database) EnsureAdmin(username, password string) error {
	var count int
	err := d.db.QueryRow("SELECT COUNT(*) FROM users WHERE role = 'admin'").Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(
		"INSERT INTO users (username, password, role) VALUES (?, ?, 'admin')",
		username, hash,
	)
	return err
}

func (d *Database) GetUserByUsername(username string) (*models.User, error) {
	u := &models.User{}
	err := d.db.QueryRow(
		"SELECT id, username, password, role, created_at, updated_at FROM users WHERE username = ?",
		username,
	).Scan(&u.ID, &u.Username, &u.Password, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}
