// Package journal persists configured applications and invocation outcomes
// to SQLite. A Journal is a registry.Recorder.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/owinhost/internal/log"
	"github.com/mattjoyce/owinhost/internal/registry"
)

const writeTimeout = 5 * time.Second

// Entry is one journaled invocation.
type Entry struct {
	ID         string
	RunID      string
	AppID      int
	RequestID  string
	Method     string
	Path       string
	StatusCode int
	Outcome    registry.Outcome
	Error      string
	Duration   time.Duration
	CreatedAt  time.Time
}

// Journal writes registry events for one host run. Every process start gets
// a fresh run id because application ids restart at zero.
type Journal struct {
	db     *sql.DB
	runID  string
	logger *slog.Logger
	now    func() time.Time
}

// New creates a journal over an already bootstrapped database.
func New(db *sql.DB) *Journal {
	return &Journal{
		db:     db,
		runID:  uuid.NewString(),
		logger: log.WithComponent("journal"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RunID identifies the current host run.
func (j *Journal) RunID() string {
	return j.runID
}

// RecordConfigured implements registry.Recorder. Write failures are logged.
func (j *Journal) RecordConfigured(info registry.AppInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := j.SaveApp(ctx, info); err != nil {
		j.logger.Warn("failed to journal application", "app_id", info.ID, "error", err)
	}
}

// RecordInvocation implements registry.Recorder. Write failures are logged.
func (j *Journal) RecordInvocation(inv registry.Invocation) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if _, err := j.SaveInvocation(ctx, inv); err != nil {
		j.logger.Warn("failed to journal invocation", "app_id", inv.AppID, "error", err)
	}
}

// SaveApp stores a configured application.
func (j *Journal) SaveApp(ctx context.Context, info registry.AppInfo) error {
	configuredAt := info.ConfiguredAt
	if configuredAt.IsZero() {
		configuredAt = j.now()
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO app_registration(run_id, app_id, name, module, type_name, method, source, fingerprint, configured_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, j.runID, info.ID, info.Name, info.Module, info.TypeName, info.Method, string(info.Source), info.Fingerprint,
		configuredAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert app registration: %w", err)
	}
	return nil
}

// SaveInvocation stores an invocation and returns its journal id.
func (j *Journal) SaveInvocation(ctx context.Context, inv registry.Invocation) (string, error) {
	id := uuid.NewString()
	var errText sql.NullString
	if inv.Err != nil {
		errText = sql.NullString{String: inv.Err.Error(), Valid: true}
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO invocation_log(id, run_id, app_id, request_id, method, path, status_code, outcome, error, duration_ms, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, id, j.runID, inv.AppID, inv.RequestID, inv.Method, inv.Path, inv.StatusCode, string(inv.Outcome), errText,
		float64(inv.Duration)/float64(time.Millisecond), j.now().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("insert invocation: %w", err)
	}
	return id, nil
}

// Apps lists the applications configured during the current run.
func (j *Journal) Apps(ctx context.Context) ([]registry.AppInfo, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT app_id, name, COALESCE(module, ''), COALESCE(type_name, ''), COALESCE(method, ''), source, COALESCE(fingerprint, ''), configured_at
FROM app_registration WHERE run_id = ? ORDER BY app_id;
`, j.runID)
	if err != nil {
		return nil, fmt.Errorf("query app registrations: %w", err)
	}
	defer rows.Close()

	var out []registry.AppInfo
	for rows.Next() {
		var (
			info         registry.AppInfo
			source, when string
		)
		if err := rows.Scan(&info.ID, &info.Name, &info.Module, &info.TypeName, &info.Method, &source, &info.Fingerprint, &when); err != nil {
			return nil, fmt.Errorf("scan app registration: %w", err)
		}
		info.Source = registry.Source(source)
		info.ConfiguredAt, _ = time.Parse(time.RFC3339Nano, when)
		out = append(out, info)
	}
	return out, rows.Err()
}

// Recent returns the latest invocations of the current run, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, run_id, app_id, COALESCE(request_id, ''), COALESCE(method, ''), COALESCE(path, ''),
       COALESCE(status_code, 0), outcome, COALESCE(error, ''), duration_ms, created_at
FROM invocation_log WHERE run_id = ? ORDER BY rowid DESC LIMIT ?;
`, j.runID, limit)
	if err != nil {
		return nil, fmt.Errorf("query invocations: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			outcome    string
			durationMS float64
			created    string
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.AppID, &e.RequestID, &e.Method, &e.Path,
			&e.StatusCode, &outcome, &e.Error, &durationMS, &created); err != nil {
			return nil, fmt.Errorf("scan invocation: %w", err)
		}
		e.Outcome = registry.Outcome(outcome)
		e.Duration = time.Duration(durationMS * float64(time.Millisecond))
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Outcomes counts the current run's invocations by outcome.
func (j *Journal) Outcomes(ctx context.Context) (map[registry.Outcome]int, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT outcome, COUNT(*) FROM invocation_log WHERE run_id = ? GROUP BY outcome;", j.runID)
	if err != nil {
		return nil, fmt.Errorf("count outcomes: %w", err)
	}
	defer rows.Close()

	out := make(map[registry.Outcome]int)
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan outcome count: %w", err)
		}
		out[registry.Outcome(outcome)] = n
	}
	return out, rows.Err()
}
