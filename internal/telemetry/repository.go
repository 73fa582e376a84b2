package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"codeberg.org/mutker/sensord/internal/errors"
	"codeberg.org/mutker/sensord/internal/logger"
)

// Repository defines the interface for telemetry event storage
type Repository interface {
	RecordTransition(ctx context.Context, transition *Transition) error
	RecordFault(ctx context.Context, fault *Fault) error
	Close() error
}

type repository struct {
	db            *sql.DB
	logger        logger.Logger
	cfg           Config
	mu            sync.Mutex
	transitions   []*Transition
	faults        []*Fault
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
	batching      bool
}

// NewRepository opens the database file, brings the schema up to date
// and starts the flusher when batching is configured.
func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	if cfg.DBPath == "" {
		return nil, errors.New(ErrInvalidDBPath)
	}

	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errors.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	// Open database with specific pragmas for better performance and safety
	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	// Validate if schema is current, with backup if needed
	if err := ValidateAndUpdateSchema(db, log); err != nil {
		db.Close()
		return nil, errors.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Int("batch_timeout", cfg.BatchTimeout).
		Msg("Telemetry repository initialized")

	return NewRepositoryWithDB(db, cfg, log), nil
}

// NewRepositoryWithDB wraps an existing database handle, which is how
// tests inject a mock. The caller keeps ownership of schema setup.
func NewRepositoryWithDB(db *sql.DB, cfg Config, log logger.Logger) Repository {
	repo := &repository{
		db:            db,
		logger:        log,
		cfg:           cfg,
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
		batching:      cfg.BatchSize > 1 && cfg.BatchTimeout > 0,
	}

	if repo.batching {
		repo.transitions = make([]*Transition, 0, cfg.BatchSize)
		repo.faults = make([]*Fault, 0, cfg.BatchSize)
		repo.flushTicker = time.NewTicker(time.Duration(cfg.BatchTimeout) * time.Second)
		go repo.flusher()
	}

	return repo
}

func (r *repository) RecordTransition(ctx context.Context, transition *Transition) error {
	stampEvent(&transition.ID, &transition.Timestamp)

	if r.batching {
		r.mu.Lock()
		defer r.mu.Unlock()

		r.transitions = append(r.transitions, transition)
		if r.pendingLocked() >= r.cfg.BatchSize {
			return r.flushLocked()
		}

		return nil
	}

	zones, err := encodeZones(transition.Zones)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.ExecContext(ctx, GetInsertTransitionSQL(),
		transition.ID,
		transition.Timestamp.Unix(),
		transition.State,
		zones,
	); err != nil {
		return errors.Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (r *repository) RecordFault(ctx context.Context, fault *Fault) error {
	stampEvent(&fault.ID, &fault.Timestamp)

	if r.batching {
		r.mu.Lock()
		defer r.mu.Unlock()

		r.faults = append(r.faults, fault)
		if r.pendingLocked() >= r.cfg.BatchSize {
			return r.flushLocked()
		}

		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.ExecContext(ctx, GetInsertFaultSQL(),
		fault.ID,
		fault.Timestamp.Unix(),
		fault.Code,
		fault.Message,
	); err != nil {
		return errors.Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (r *repository) Close() error {
	if r.batching {
		// Signal the flusher goroutine to stop and wait for its final flush
		close(r.shutdownChan)
		r.flushTicker.Stop()
		<-r.flushDoneChan
	}

	// Checkpoint WAL and cleanup on close
	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := r.db.Close(); err != nil {
		return errors.WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.logger.Info().Msg("Telemetry repository closed gracefully")

	return nil
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			if err := r.flushLocked(); err != nil {
				r.logger.Error().Err(err).Msg("Periodic flush failed")
			}
			r.mu.Unlock()
		case <-r.shutdownChan:
			r.mu.Lock()
			if err := r.flushLocked(); err != nil {
				r.logger.Error().Err(err).Msg("Final flush failed")
			}
			r.mu.Unlock()
			return
		}
	}
}

func (r *repository) pendingLocked() int {
	return len(r.transitions) + len(r.faults)
}

func (r *repository) flushLocked() error {
	if r.pendingLocked() == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to begin transaction")
		return errors.Wrap(ErrTransactionFailed, err)
	}

	rollback := func() {
		if err := tx.Rollback(); err != nil {
			r.logger.Error().Err(err).Msg("Failed to roll back transaction")
		}
	}

	for _, transition := range r.transitions {
		zones, err := encodeZones(transition.Zones)
		if err != nil {
			rollback()
			return err
		}

		if _, err := tx.Exec(GetInsertTransitionSQL(),
			transition.ID,
			transition.Timestamp.Unix(),
			transition.State,
			zones,
		); err != nil {
			r.logger.Error().Err(err).Msg("Failed to insert transition")
			rollback()
			return errors.Wrap(ErrTransactionFailed, err)
		}
	}

	for _, fault := range r.faults {
		if _, err := tx.Exec(GetInsertFaultSQL(),
			fault.ID,
			fault.Timestamp.Unix(),
			fault.Code,
			fault.Message,
		); err != nil {
			r.logger.Error().Err(err).Msg("Failed to insert fault")
			rollback()
			return errors.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to commit transaction")
		return errors.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Debug().
		Int("transitions", len(r.transitions)).
		Int("faults", len(r.faults)).
		Msg("Flushed telemetry to database")

	r.transitions = r.transitions[:0]
	r.faults = r.faults[:0]

	return nil
}

// stampEvent fills in the identity and time of an event unless the
// caller already did.
func stampEvent(id *string, ts *time.Time) {
	if *id == "" {
		*id = uuid.NewString()
	}
	if ts.IsZero() {
		*ts = time.Now()
	}
}

func encodeZones(zones map[string]string) (string, error) {
	if zones == nil {
		zones = map[string]string{}
	}

	raw, err := json.Marshal(zones)
	if err != nil {
		return "", errors.Wrap(ErrInvalidEvent, err)
	}

	return string(raw), nil
}
