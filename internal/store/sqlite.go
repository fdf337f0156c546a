package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/example/docpipe/api-go/internal/model"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// SQLite keeps the ledger in a single table with the stage map stored as a
// JSON object. Stage writes use json_set inside an upsert so only the
// targeted key changes.
type SQLite struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

func OpenSQLite(path, table string) (*SQLite, error) {
	if table == "" {
		table = DefaultCollection
	}
	if !model.ValidStageName(table) || strings.Contains(table, "-") {
		return nil, fmt.Errorf("invalid ledger table name %q", table)
	}

	// pragmas go in the DSN so every pooled connection gets them
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
  id TEXT PRIMARY KEY,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  states TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS %[1]s_updated_at ON %[1]s (updated_at);
`, table)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLite{db: db, table: table, now: time.Now}, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) UpsertInitial(ctx context.Context, id string, extra map[string]any, initialStatus string) error {
	return s.SetStageStatus(ctx, model.StageIngestion, id, initialStatus, extra)
}

func (s *SQLite) SetStageStatus(ctx context.Context, stage, id, status string, extra map[string]any) error {
	w, err := newStageWrite(stage, id, status, extra, s.now())
	if err != nil {
		return err
	}
	entryJSON, err := json.Marshal(w.entry)
	if err != nil {
		return fmt.Errorf("marshal stage entry: %w", err)
	}

	// stage names are validated, so quoting the path segment is safe
	path := `$."` + w.stage + `"`
	query := fmt.Sprintf(`
INSERT INTO %[1]s (id, created_at, updated_at, states)
VALUES (?, ?, ?, json_object(?, json(?)))
ON CONFLICT(id) DO UPDATE SET
  updated_at = excluded.updated_at,
  states = json_set(%[1]s.states, ?, json(?))`, s.table)

	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query,
			w.id, w.now, w.now, w.stage, string(entryJSON),
			path, string(entryJSON),
		)
		if err != nil {
			return fmt.Errorf("upsert %s stage for %s: %w", w.stage, w.id, err)
		}
		return nil
	})
}

func (s *SQLite) GetStatus(ctx context.Context, id string) (model.StatusRecord, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, created_at, updated_at, states FROM %s WHERE id = ?`, s.table), id,
	)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.StatusRecord{}, model.ErrNotFound
		}
		return model.StatusRecord{}, err
	}
	return rec, nil
}

func (s *SQLite) ListAll(ctx context.Context) ([]model.StatusRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, created_at, updated_at, states FROM %s ORDER BY updated_at DESC`, s.table),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.StatusRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (model.StatusRecord, error) {
	var (
		rec        model.StatusRecord
		statesJSON string
	)
	if err := scanner.Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt, &statesJSON); err != nil {
		return model.StatusRecord{}, err
	}
	states, err := model.UnmarshalStates([]byte(statesJSON))
	if err != nil {
		return model.StatusRecord{}, fmt.Errorf("decode states for %s: %w", rec.ID, err)
	}
	rec.States = states
	normalizeRecord(&rec)
	return rec, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
