// Package store is the relational persistence layer: users, watched
// products, price history, alerts, collected deals, deal filters and
// reports, all on SQLite. The store is the source of truth for the
// pipeline; the event log and search index are best-effort sinks.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SystemUserID is the reserved identifier owning auto-tracked products.
var SystemUserID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// Watch statuses.
const (
	StatusActive   = "ACTIVE"
	StatusPaused   = "PAUSED"
	StatusInactive = "INACTIVE"
)

// Alert statuses.
const (
	AlertPending = "PENDING"
	AlertSent    = "SENT"
	AlertFailed  = "FAILED"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000Z"

var (
	// ErrInvalidInput covers call-site validation failures: bad product
	// codes, non-positive prices or targets. Never retried.
	ErrInvalidInput = errors.New("store: invalid input")

	// ErrNotFound means the referenced row does not exist.
	ErrNotFound = errors.New("store: not found")
)

// targetTolerance is the slack applied to target comparisons: an alert
// fires when current <= target * 1.01.
const targetTolerance = 1.01

// TargetCrossed reports whether a current price is at or under the target
// within the 1% tolerance. This is the single place the tolerance lives.
func TargetCrossed(current, target float64) bool {
	return target > 0 && current > 0 && current <= target*targetTolerance
}

// Store wraps the SQLite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at the given DSN and applies the
// schema. The DSN is a SQLite file URL, e.g. "file:keeper.db".
func Open(dsn string, logger *slog.Logger) (*Store, error) {
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	s := &Store{db: db, logger: logger.With("component", "store")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	version := 0
	s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS users (
				id                TEXT PRIMARY KEY,
				email             TEXT NOT NULL DEFAULT '',
				messaging_address TEXT NOT NULL DEFAULT '',
				webhook_url       TEXT NOT NULL DEFAULT '',
				primary_channel   TEXT NOT NULL DEFAULT 'email',
				deleted           INTEGER NOT NULL DEFAULT 0,
				created_at        TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS watched_products (
				id                TEXT PRIMARY KEY,
				user_id           TEXT NOT NULL REFERENCES users(id),
				asin              TEXT NOT NULL,
				title             TEXT NOT NULL DEFAULT '',
				current_price     REAL NOT NULL DEFAULT 0,
				target_price      REAL NOT NULL DEFAULT 0,
				volatility        REAL NOT NULL DEFAULT 0,
				domain_id         INTEGER NOT NULL DEFAULT 3,
				status            TEXT NOT NULL DEFAULT 'ACTIVE',
				last_checked      TEXT,
				last_price_change TEXT,
				created_at        TEXT NOT NULL,
				UNIQUE (user_id, asin)
			);

			CREATE TABLE IF NOT EXISTS price_history (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				watch_id    TEXT NOT NULL REFERENCES watched_products(id),
				price       REAL NOT NULL,
				source      TEXT,
				recorded_at TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_history_watch_time
				ON price_history (watch_id, recorded_at);

			CREATE TABLE IF NOT EXISTS price_alerts (
				id               TEXT PRIMARY KEY,
				watch_id         TEXT NOT NULL REFERENCES watched_products(id),
				triggered_price  REAL NOT NULL,
				target_price     REAL NOT NULL,
				old_price        REAL NOT NULL DEFAULT 0,
				new_price        REAL NOT NULL DEFAULT 0,
				discount_percent REAL NOT NULL DEFAULT 0,
				status           TEXT NOT NULL DEFAULT 'PENDING',
				channel          TEXT NOT NULL DEFAULT '',
				triggered_at     TEXT NOT NULL,
				sent_at          TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_alerts_watch_time
				ON price_alerts (watch_id, triggered_at);

			CREATE TABLE IF NOT EXISTS collected_deals (
				id               INTEGER PRIMARY KEY AUTOINCREMENT,
				asin             TEXT NOT NULL,
				title            TEXT NOT NULL DEFAULT '',
				current_price    REAL NOT NULL,
				original_price   REAL NOT NULL DEFAULT 0,
				discount_percent REAL NOT NULL DEFAULT 0,
				rating           REAL NOT NULL DEFAULT 0,
				review_count     INTEGER NOT NULL DEFAULT 0,
				sales_rank       INTEGER NOT NULL DEFAULT 0,
				domain_id        INTEGER NOT NULL DEFAULT 3,
				market           TEXT NOT NULL DEFAULT 'DE',
				category         TEXT NOT NULL DEFAULT '',
				layout           TEXT NOT NULL DEFAULT '',
				deal_score       REAL NOT NULL DEFAULT 0,
				url              TEXT NOT NULL DEFAULT '',
				prime_eligible   INTEGER NOT NULL DEFAULT 0,
				source           TEXT NOT NULL DEFAULT '',
				collected_at     TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_deals_asin_time
				ON collected_deals (asin, collected_at);
			CREATE INDEX IF NOT EXISTS idx_deals_discount
				ON collected_deals (discount_percent);
			CREATE INDEX IF NOT EXISTS idx_deals_price
				ON collected_deals (current_price);

			CREATE TABLE IF NOT EXISTS deal_filters (
				id           TEXT PRIMARY KEY,
				user_id      TEXT NOT NULL REFERENCES users(id),
				name         TEXT NOT NULL DEFAULT '',
				categories   TEXT NOT NULL DEFAULT '[]',
				min_price    REAL NOT NULL DEFAULT 0,
				max_price    REAL NOT NULL DEFAULT 0,
				min_discount REAL NOT NULL DEFAULT 0,
				max_discount REAL NOT NULL DEFAULT 100,
				min_rating   REAL NOT NULL DEFAULT 0,
				active       INTEGER NOT NULL DEFAULT 1,
				created_at   TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS deal_reports (
				id           TEXT PRIMARY KEY,
				filter_id    TEXT NOT NULL REFERENCES deal_filters(id),
				payload      TEXT NOT NULL DEFAULT '[]',
				generated_at TEXT NOT NULL,
				sent_at      TEXT
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return err
		}
	}
	return nil
}

// GetOrCreateSystemUser makes sure the reserved system user row exists.
func (s *Store) GetOrCreateSystemUser(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO users (id, email, created_at) VALUES (?, '', ?)`,
		SystemUserID.String(), now())
	if err != nil {
		return fmt.Errorf("ensure system user: %w", err)
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(timeLayout)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, _ := time.Parse(timeLayout, s.String)
	return t
}

// transient reports whether a database error is worth retrying.
func transient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "busy") ||
		strings.Contains(msg, "interrupted")
}

// withRetry runs fn up to three times with jittered backoff on transient
// failures. Constraint violations and other fatal errors surface at once.
func (s *Store) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = fn(); err == nil || !transient(err) {
			return err
		}
		backoff := time.Duration(50+rand.Intn(100)) * time.Millisecond << attempt
		s.logger.Warn("transient db error, retrying", "op", op, "attempt", attempt+1, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}
