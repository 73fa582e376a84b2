// Package thresholds persists parameter thresholds between runs, so
// values tuned at runtime survive a restart.
package thresholds

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"codeberg.org/mutker/sensord/internal/errors"
	"codeberg.org/mutker/sensord/internal/logger"
	"codeberg.org/mutker/sensord/internal/monitor"
)

const (
	defaultDirPerm = 0o755
	defaultDBPath  = "/var/lib/sensord/thresholds.db"

	createTableSQL = `
        CREATE TABLE IF NOT EXISTS thresholds (
            name            TEXT PRIMARY KEY,
            ok_min          REAL NOT NULL,
            ok_max          REAL NOT NULL,
            warning_percent REAL NOT NULL,
            flipped         INTEGER NOT NULL CHECK (flipped IN (0, 1)),
            updated_at      TEXT NOT NULL
        )`

	upsertThresholdsSQL = `
        INSERT INTO thresholds (
            name, ok_min, ok_max, warning_percent, flipped, updated_at
        ) VALUES (?, ?, ?, ?, ?, datetime('now'))
        ON CONFLICT(name) DO UPDATE SET
            ok_min = excluded.ok_min,
            ok_max = excluded.ok_max,
            warning_percent = excluded.warning_percent,
            flipped = excluded.flipped,
            updated_at = excluded.updated_at`

	selectThresholdsSQL = `
        SELECT name, ok_min, ok_max, warning_percent, flipped
        FROM thresholds`
)

type Config struct {
	DBPath string
}

func DefaultConfig() Config {
	return Config{
		DBPath: defaultDBPath,
	}
}

func (c Config) Validate() error {
	if c.DBPath == "" {
		return errors.New(ErrInvalidDBPath)
	}
	return nil
}

// Store is a sqlite-backed implementation of monitor.Store.
type Store struct {
	db     *sql.DB
	logger logger.Logger
	mu     sync.Mutex
}

// Open opens the database file and initializes the schema.
func Open(cfg Config, log logger.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errors.Wrap(ErrStorageInit, err)
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, errors.Wrap(ErrStorageInit, err)
	}

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, errors.Wrap(ErrSchemaInitFailed, err)
	}

	log.Debug().
		Str("path", cfg.DBPath).
		Msg("Thresholds store opened")

	return NewStoreWithDB(db, log), nil
}

// NewStoreWithDB wraps an existing database handle, which is how tests
// inject a mock. The caller keeps ownership of schema setup.
func NewStoreWithDB(db *sql.DB, log logger.Logger) *Store {
	return &Store{
		db:     db,
		logger: log,
	}
}

// Load returns all persisted thresholds keyed by parameter name.
func (s *Store) Load(ctx context.Context) (map[string]monitor.Thresholds, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, selectThresholdsSQL)
	if err != nil {
		return nil, errors.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	out := make(map[string]monitor.Thresholds)
	for rows.Next() {
		var (
			name    string
			t       monitor.Thresholds
			flipped int
		)
		if err := rows.Scan(&name, &t.OkMin, &t.OkMax, &t.WarningPercent, &flipped); err != nil {
			return nil, errors.Wrap(ErrStorageAccess, err)
		}
		t.Flipped = flipped != 0
		out[name] = t
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(ErrStorageAccess, err)
	}

	s.logger.Debug().
		Int("parameters", len(out)).
		Msg("Loaded persisted thresholds")

	return out, nil
}

// Save upserts the given thresholds in one transaction. Rows for
// parameters not present in the map are left alone.
func (s *Store) Save(ctx context.Context, thresholds map[string]monitor.Thresholds) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(ErrStorageAccess, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				if !errors.Is(err, sql.ErrTxDone) {
					s.logger.Debug().Err(err).Msg("Failed to rollback transaction")
				}
			}
		}
	}()

	for name, t := range thresholds {
		if _, err := tx.ExecContext(ctx, upsertThresholdsSQL,
			name,
			t.OkMin,
			t.OkMax,
			t.WarningPercent,
			boolToInt(t.Flipped),
		); err != nil {
			return errors.Wrap(ErrStorageAccess, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(ErrStorageAccess, err)
	}
	committed = true

	s.logger.Debug().
		Int("parameters", len(thresholds)).
		Msg("Saved thresholds")

	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return errors.Wrap(ErrStorageClose, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
