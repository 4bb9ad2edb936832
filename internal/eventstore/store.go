// Package eventstore mirrors recorded metric events into SQLite so they can be
// queried and pruned independently of the append logs.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/metrics"
)

// Event is one mirrored metric record.
type Event struct {
	ID          int64
	MetricID    string
	Kind        metrics.Kind
	TemplateKey string
	Payload     []byte
	RecordedAt  time.Time
}

// Store wraps the SQLite metric mirror. In ephemeral mode it holds no
// database and every operation is a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the event store according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "eventstore"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS metric_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    metric_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    template_key TEXT,
    payload BLOB,
    recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_metric_events_kind_recorded ON metric_events(kind, recorded_at);
CREATE INDEX IF NOT EXISTS idx_metric_events_metric_id ON metric_events(metric_id);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record implements metrics.Sink.
func (s *Store) Record(ctx context.Context, ev metrics.Event) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	payload, err := json.Marshal(ev.Payload())
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Kind, err)
	}
	at := ev.Timestamp()
	if at.IsZero() {
		at = s.clock()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO metric_events(metric_id, kind, template_key, payload, recorded_at)
		 VALUES(?, ?, ?, ?, ?)`,
		ev.ID(), string(ev.Kind), templateKey(ev), payload, at.UTC().UnixNano())
	return err
}

// ListEvents returns up to limit events of kind, oldest first. An empty kind
// lists every kind.
func (s *Store) ListEvents(ctx context.Context, kind metrics.Kind, limit int) ([]Event, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, metric_id, kind, template_key, payload, recorded_at
		 FROM metric_events WHERE (? = '' OR kind = ?) ORDER BY recorded_at ASC, id ASC LIMIT ?`,
		string(kind), string(kind), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e        Event
			k        string
			key      sql.NullString
			recorded int64
		)
		if err := rows.Scan(&e.ID, &e.MetricID, &k, &key, &e.Payload, &recorded); err != nil {
			return nil, err
		}
		e.Kind = metrics.Kind(k)
		e.TemplateKey = key.String
		e.RecordedAt = time.Unix(0, recorded).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune deletes events older than the configured retention. It runs on open
// and on the maintenance schedule.
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil || s.cfg.RetentionDays <= 0 {
		return nil
	}
	cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
	res, err := s.db.ExecContext(ctx, `DELETE FROM metric_events WHERE recorded_at < ?`, cutoff.UTC().UnixNano())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.log.Info("pruned metric events", slog.Int64("deleted", n), slog.Int("retention_days", s.cfg.RetentionDays))
	}
	return nil
}

// Ensure checks the store matches its retention mode.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" && s.db != nil {
		return errors.New("ephemeral store should not have database connection")
	}
	return nil
}

func templateKey(ev metrics.Event) string {
	switch {
	case ev.Template != nil:
		return ev.Template.TemplateKey
	case ev.Correction != nil:
		return ev.Correction.TemplateKey
	}
	return ""
}
