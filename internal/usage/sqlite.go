package usage

import (
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/tributary-ai/intent-dispatch/internal/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS usage_records (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	target      TEXT NOT NULL,
	tokens      INTEGER NOT NULL,
	cost        REAL NOT NULL,
	latency_ms  INTEGER NOT NULL,
	outcome     TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_session ON usage_records(session_id);

CREATE TABLE IF NOT EXISTS routing_decisions (
	fingerprint TEXT NOT NULL,
	intent      TEXT NOT NULL,
	confidence  REAL NOT NULL,
	tier        TEXT NOT NULL,
	cache_hit   INTEGER NOT NULL,
	degraded    INTEGER NOT NULL,
	cost        REAL NOT NULL,
	created_at  TEXT NOT NULL
);
`

// SQLiteSink persists usage records and routing decisions to a local
// sqlite file for offline audit. Best-effort like every sink: errors
// propagate to the tracker, which logs and moves on.
type SQLiteSink struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewSQLiteSink opens (or creates) the audit database at path.
func NewSQLiteSink(path string, logger *logrus.Logger) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	logger.WithField("path", path).Info("SQLite audit sink ready")
	return &SQLiteSink{db: db, logger: logger}, nil
}

// Record inserts one usage row.
func (s *SQLiteSink) Record(rec types.UsageRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO usage_records (id, session_id, target, tokens, cost, latency_ms, outcome, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.Target, rec.Tokens, rec.Cost,
		rec.Latency.Milliseconds(), string(rec.Outcome), rec.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
	)
	if err != nil {
		return fmt.Errorf("failed to persist usage record %s: %w", rec.ID, err)
	}
	return nil
}

// RecordDecision inserts one decision row.
func (s *SQLiteSink) RecordDecision(d types.RoutingDecision) error {
	_, err := s.db.Exec(
		`INSERT INTO routing_decisions (fingerprint, intent, confidence, tier, cache_hit, degraded, cost, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Fingerprint, d.Intent, d.Confidence, d.Tier, boolToInt(d.CacheHit), boolToInt(d.Degraded),
		d.Cost, d.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
	)
	if err != nil {
		return fmt.Errorf("failed to persist routing decision: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Sink = (*SQLiteSink)(nil)
