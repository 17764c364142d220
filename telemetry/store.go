package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	_ "github.com/marcboeker/go-duckdb"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("yarvil.telemetry")

// ErrRunNotFound indicates the requested run has no saved counters.
var ErrRunNotFound = errors.New("run not found")

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverDuckDB = "duckdb"
)

// Store persists counter snapshots keyed by run ID.
type Store struct {
	db     *sql.DB
	driver string
	mu     sync.Mutex
}

// Open opens (creating if needed) a counter store. driver is "sqlite" or
// "duckdb".
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite, DriverDuckDB:
	default:
		return nil, fmt.Errorf("unsupported telemetry driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s := &Store{db: db, driver: driver}

	if driver == DriverSQLite {
		// Set busy timeout for concurrent access
		if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting busy timeout: %w", err)
		}
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started TIMESTAMP NOT NULL
	)`)
	if err == nil {
		_, err = db.Exec(`CREATE TABLE IF NOT EXISTS counters (
			run_id TEXT NOT NULL,
			name TEXT NOT NULL,
			value BIGINT NOT NULL,
			PRIMARY KEY (run_id, name)
		)`)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	log.Debugf("opened %s counter store %s", driver, dsn)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.New().String()
}

// Save persists snap under runID, replacing any counters saved for it.
func (s *Store) Save(ctx context.Context, runID string, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM counters WHERE run_id = ?", runID); err != nil {
		return fmt.Errorf("clearing run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", runID); err != nil {
		return fmt.Errorf("clearing run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO runs (id, started) VALUES (?, ?)", runID, time.Now().UTC()); err != nil {
		return fmt.Errorf("saving run: %w", err)
	}
	for _, name := range snap.Names() {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO counters (run_id, name, value) VALUES (?, ?, ?)",
			runID, name, int64(snap[name]),
		); err != nil {
			return fmt.Errorf("saving counter %s: %w", name, err)
		}
	}
	return tx.Commit()
}

// Load returns the counters saved under runID.
func (s *Store) Load(ctx context.Context, runID string) (Snapshot, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs WHERE id = ?", runID).Scan(&n); err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	if n == 0 {
		return nil, ErrRunNotFound
	}

	rows, err := s.db.QueryContext(ctx, "SELECT name, value FROM counters WHERE run_id = ?", runID)
	if err != nil {
		return nil, fmt.Errorf("querying counters: %w", err)
	}
	return scanSnapshot(rows)
}

// Totals sums every counter across all saved runs.
func (s *Store) Totals(ctx context.Context) (Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, CAST(SUM(value) AS BIGINT) FROM counters GROUP BY name")
	if err != nil {
		return nil, fmt.Errorf("querying totals: %w", err)
	}
	return scanSnapshot(rows)
}

// Runs returns every saved run ID, oldest first.
func (s *Store) Runs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM runs ORDER BY started, id")
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

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

func scanSnapshot(rows *sql.Rows) (Snapshot, error) {
	defer rows.Close()
	snap := make(Snapshot)
	for rows.Next() {
		var name string
		var value int64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scanning counter: %w", err)
		}
		snap[name] = uint64(value)
	}
	return snap, rows.Err()
}
