// Package store persists triage reports in a SQLite case database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ilexum-group/imgtriage/pkg/models"
)

// ErrReportNotFound is returned by LoadReport for an unknown report ID
var ErrReportNotFound = errors.New("report not found")

const schema = `
CREATE TABLE IF NOT EXISTS reports (
	id              TEXT PRIMARY KEY,
	image_path      TEXT NOT NULL,
	tool_version    TEXT NOT NULL,
	examiner_host   TEXT NOT NULL,
	start_timestamp TEXT NOT NULL,
	end_timestamp   TEXT NOT NULL,
	duration        TEXT NOT NULL,
	collector       TEXT NOT NULL,
	hostname        TEXT NOT NULL,
	os_type         TEXT NOT NULL,
	os_version      TEXT,
	ip_address      TEXT,
	domain          TEXT,
	install_date    TEXT,
	timezone        TEXT,
	log_entries     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS users (
	report_id       TEXT NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
	position        INTEGER NOT NULL,
	username        TEXT NOT NULL,
	sid             TEXT,
	profile_path    TEXT NOT NULL,
	last_login      TEXT,
	account_created TEXT,
	PRIMARY KEY (report_id, position)
);
CREATE TABLE IF NOT EXISTS artifacts (
	report_id    TEXT NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
	position     INTEGER NOT NULL,
	name         TEXT NOT NULL,
	path         TEXT NOT NULL,
	size         INTEGER NOT NULL,
	created      TEXT,
	modified     TEXT,
	accessed     TEXT,
	mft_modified TEXT,
	allocated    INTEGER NOT NULL,
	is_directory INTEGER NOT NULL,
	attributes   INTEGER NOT NULL,
	PRIMARY KEY (report_id, position)
);
`

// Store is a SQLite case database
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and ensures the schema exists
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open case database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func zeroableTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// SaveReport writes the report with its users and artifacts in one
// transaction, replacing any report with the same ID.
func (s *Store) SaveReport(ctx context.Context, r *models.TriageReport) error {
	entries, err := json.Marshal(r.LogEntries)
	if err != nil {
		return fmt.Errorf("failed to marshal log entries: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, r.ID); err != nil {
		return fmt.Errorf("failed to replace report: %w", err)
	}

	sys := r.System
	_, err = tx.ExecContext(ctx, `INSERT INTO reports (
		id, image_path, tool_version, examiner_host, start_timestamp, end_timestamp,
		duration, collector, hostname, os_type, os_version, ip_address, domain,
		install_date, timezone, log_entries
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ImagePath, r.ToolVersion, r.ExaminerHost,
		formatTime(r.StartTimestamp), formatTime(r.EndTimestamp), r.Duration, r.Collector,
		sys.Hostname, string(sys.OsType), nullString(sys.OsVersion), nullString(sys.IPAddress),
		nullString(sys.Domain), nullTime(sys.InstallDate), nullString(sys.Timezone), string(entries),
	)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}

	for i, u := range sys.Users {
		_, err := tx.ExecContext(ctx, `INSERT INTO users (
			report_id, position, username, sid, profile_path, last_login, account_created
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, i, u.Username, nullString(u.SID), u.ProfilePath, nullTime(u.LastLogin), nullTime(u.AccountCreated),
		)
		if err != nil {
			return fmt.Errorf("failed to insert user %s: %w", u.Username, err)
		}
	}

	for i, a := range sys.Artifacts {
		m := a.Metadata
		_, err := tx.ExecContext(ctx, `INSERT INTO artifacts (
			report_id, position, name, path, size, created, modified, accessed,
			mft_modified, allocated, is_directory, attributes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, i, a.Name, a.Path, int64(a.Size),
			zeroableTime(m.Created), zeroableTime(m.Modified), zeroableTime(m.Accessed), zeroableTime(m.MFTModified),
			m.Allocated, m.IsDirectory, int64(m.Attributes),
		)
		if err != nil {
			return fmt.Errorf("failed to insert artifact %s: %w", a.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit report: %w", err)
	}
	return nil
}

// ReportIDs lists stored report IDs, oldest first
func (s *Store) ReportIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM reports ORDER BY start_timestamp, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LoadReport reads a report back
func (s *Store) LoadReport(ctx context.Context, id string) (*models.TriageReport, error) {
	r := &models.TriageReport{}
	var (
		start, end, osType, entries                   string
		osVersion, ip, domain, installDate, timezone sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT
		id, image_path, tool_version, examiner_host, start_timestamp, end_timestamp,
		duration, collector, hostname, os_type, os_version, ip_address, domain,
		install_date, timezone, log_entries
	FROM reports WHERE id = ?`, id).Scan(
		&r.ID, &r.ImagePath, &r.ToolVersion, &r.ExaminerHost, &start, &end,
		&r.Duration, &r.Collector, &r.System.Hostname, &osType, &osVersion, &ip, &domain,
		&installDate, &timezone, &entries,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrReportNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load report: %w", err)
	}

	if r.StartTimestamp, err = parseTime(start); err != nil {
		return nil, err
	}
	if r.EndTimestamp, err = parseTime(end); err != nil {
		return nil, err
	}
	r.System.OsType = models.OsType(osType)
	r.System.OsVersion = stringPtr(osVersion)
	r.System.IPAddress = stringPtr(ip)
	r.System.Domain = stringPtr(domain)
	r.System.Timezone = stringPtr(timezone)
	if r.System.InstallDate, err = timePtr(installDate); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(entries), &r.LogEntries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal log entries: %w", err)
	}

	if r.System.Users, err = s.loadUsers(ctx, id); err != nil {
		return nil, err
	}
	if r.System.Artifacts, err = s.loadArtifacts(ctx, id); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) loadUsers(ctx context.Context, id string) ([]models.UserInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username, sid, profile_path, last_login, account_created
		FROM users WHERE report_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	users := make([]models.UserInfo, 0)
	for rows.Next() {
		var (
			u                    models.UserInfo
			sid, login, created sql.NullString
		)
		if err := rows.Scan(&u.Username, &sid, &u.ProfilePath, &login, &created); err != nil {
			return nil, err
		}
		u.SID = stringPtr(sid)
		if u.LastLogin, err = timePtr(login); err != nil {
			return nil, err
		}
		if u.AccountCreated, err = timePtr(created); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) loadArtifacts(ctx context.Context, id string) ([]models.ArtifactInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, path, size, created, modified, accessed,
		mft_modified, allocated, is_directory, attributes
		FROM artifacts WHERE report_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	artifacts := make([]models.ArtifactInfo, 0)
	for rows.Next() {
		var (
			a                                   models.ArtifactInfo
			size, attrs                         int64
			created, modified, accessed, mftMod sql.NullString
		)
		if err := rows.Scan(&a.Name, &a.Path, &size, &created, &modified, &accessed,
			&mftMod, &a.Metadata.Allocated, &a.Metadata.IsDirectory, &attrs); err != nil {
			return nil, err
		}
		a.Size = uint64(size)
		a.Metadata.Size = uint64(size)
		a.Metadata.Attributes = uint32(attrs)
		for _, f := range []struct {
			src sql.NullString
			dst *time.Time
		}{
			{created, &a.Metadata.Created},
			{modified, &a.Metadata.Modified},
			{accessed, &a.Metadata.Accessed},
			{mftMod, &a.Metadata.MFTModified},
		} {
			if !f.src.Valid {
				continue
			}
			t, err := parseTime(f.src.String)
			if err != nil {
				return nil, err
			}
			*f.dst = t
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func timePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
