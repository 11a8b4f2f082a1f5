package activity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Store persists events in their own SQLite database.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the activity database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open activity db: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			visitor_hash TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			ts INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
		CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);

		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	return err
}

// currentSchemaVersion is the latest schema version. Increment when adding migrations.
const currentSchemaVersion = 1

func (s *Store) migrate() error {
	verStr, err := s.GetSetting("schema_version")
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	version := 0
	if verStr != "" {
		version, err = strconv.Atoi(verStr)
		if err != nil {
			return fmt.Errorf("parse schema version %q: %w", verStr, err)
		}
	}
	if version < currentSchemaVersion {
		version = currentSchemaVersion
	}
	return s.SetSetting("schema_version", strconv.Itoa(version))
}

// GetSetting returns a setting value, or "" if it is not set.
func (s *Store) GetSetting(key string) (string, error) {
	var val string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return val, err
}

// SetSetting upserts a setting value.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// Record stores e. A zero Timestamp is set to now.
func (s *Store) Record(ctx context.Context, e Event) error {
	if e.Kind == "" {
		return errors.New("activity: event kind is required")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (kind, visitor_hash, detail, ts) VALUES (?, ?, ?, ?)`,
		string(e.Kind), e.VisitorHash, e.Detail, e.Timestamp.UTC().Unix())
	return err
}

// Stats aggregates events in [from, to]. Timestamps are stored in whole
// seconds, so an event recorded at to is counted.
func (s *Store) Stats(ctx context.Context, from, to time.Time) (*Stats, error) {
	st := &Stats{From: from.UTC(), To: to.UTC()}
	lo, hi := from.UTC().Unix(), to.UTC().Unix()

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT visitor_hash) FROM events WHERE ts >= ? AND ts <= ?`, lo, hi).
		Scan(&st.Total, &st.Visitors)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, COUNT(*), COUNT(DISTINCT visitor_hash)
		FROM events WHERE ts >= ? AND ts <= ?
		GROUP BY kind ORDER BY COUNT(*) DESC, kind`, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("events by kind: %w", err)
	}
	for rows.Next() {
		var ks KindStat
		var kind string
		if err := rows.Scan(&kind, &ks.Count, &ks.Visitors); err != nil {
			rows.Close()
			return nil, err
		}
		ks.Kind = Kind(kind)
		st.ByKind = append(st.ByKind, ks)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT date(ts, 'unixepoch') AS day, COUNT(*)
		FROM events WHERE ts >= ? AND ts <= ?
		GROUP BY day ORDER BY day`, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("daily events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var dc DailyCount
		if err := rows.Scan(&dc.Date, &dc.Count); err != nil {
			return nil, err
		}
		st.Daily = append(st.Daily, dc)
	}
	return st, rows.Err()
}

// CleanupOldEvents removes events older than the retention period.
func (s *Store) CleanupOldEvents(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup events: %w", err)
	}
	return res.RowsAffected()
}

// StartCleanupScheduler runs CleanupOldEvents every interval until ctx is
// cancelled. The returned channel is closed once the goroutine has exited.
func (s *Store) StartCleanupScheduler(ctx context.Context, retentionDays int, interval time.Duration, log *zap.Logger) <-chan struct{} {
	if log == nil {
		log = zap.NewNop()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n, err := s.CleanupOldEvents(ctx, retentionDays)
				if err != nil {
					log.Error("activity cleanup failed", zap.Error(err))
					continue
				}
				if n > 0 {
					log.Info("activity cleanup", zap.Int64("removed", n))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return done
}
