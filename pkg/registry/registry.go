// Package registry is the durable table of known runs: one row per run
// folder holding its directory and current workflow state.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/demuxmgr/pkg/run"
	"github.com/3leaps/demuxmgr/pkg/state"
)

// ErrRunNotFound is returned when no row matches a run id.
var ErrRunNotFound = errors.New("run not found")

// DuplicateRunError is returned by Add when the id is already registered.
type DuplicateRunError struct {
	ID string
}

func (e *DuplicateRunError) Error() string {
	return fmt.Sprintf("run %s is already registered", e.ID)
}

// Record is one registry row.
type Record struct {
	ID        string      `json:"id" yaml:"id"`
	Directory string      `json:"directory" yaml:"directory"`
	State     state.State `json:"state" yaml:"state"`
}

// Run converts the row into a Run entity.
func (r Record) Run() *run.Run {
	rn := run.New(r.ID, r.Directory)
	rn.State = r.State
	return rn
}

// Store is an open registry.
type Store struct {
	db     *sql.DB
	cfg    Config
	logger *zap.Logger
}

// Exists reports whether the registry database already exists with its
// run table. Remote registries are assumed to exist.
func Exists(ctx context.Context, cfg Config) (bool, error) {
	if strings.TrimSpace(cfg.URL) != "" {
		return true, nil
	}
	path := cfg.file()
	if path == "" {
		return false, nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat registry: %w", err)
	}

	s, err := open(ctx, cfg, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = s.Close() }()
	return tableExists(ctx, s.db)
}

// Open opens the registry, creating the database and schema if absent.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	s, err := open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, s.db); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dsn, err := cfg.dsn()
	if err != nil {
		return nil, err
	}
	db, err := openDB(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := tuneLocal(ctx, db, dsn); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, cfg: cfg, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Add inserts a new run. It returns *DuplicateRunError if the id is known.
func (s *Store) Add(ctx context.Context, r *run.Run) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO run (id, directory, state) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		r.ID, r.Dir, r.State.String())
	if err != nil {
		return fmt.Errorf("add run %s: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("add run %s: %w", r.ID, err)
	}
	if n == 0 {
		return &DuplicateRunError{ID: r.ID}
	}
	return nil
}

// UpdateState writes the run's current state and commits before returning.
func (s *Store) UpdateState(ctx context.Context, r *run.Run) error {
	return s.SetState(ctx, r.ID, r.State)
}

// SetState sets the state of the run with the given id.
func (s *Store) SetState(ctx context.Context, id string, st state.State) error {
	if !st.Valid() {
		return fmt.Errorf("update run %s: %w", id, state.ErrUnknownState)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE run SET state = ? WHERE id = ?`, st.String(), id)
	if err != nil {
		return fmt.Errorf("update run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("update run %s: %w", id, ErrRunNotFound)
	}
	return nil
}

// Get returns the row for id.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	var rec Record
	var st string
	err := s.db.QueryRowContext(ctx, `SELECT id, directory, state FROM run WHERE id = ?`, id).
		Scan(&rec.ID, &rec.Directory, &st)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("get run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get run %s: %w", id, err)
	}
	if rec.State, err = state.Parse(st); err != nil {
		return Record{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return rec, nil
}

// ListAll returns every row ordered by id.
func (s *Store) ListAll(ctx context.Context) ([]Record, error) {
	return s.list(ctx, false)
}

// ListActive returns rows whose state is not terminal.
func (s *Store) ListActive(ctx context.Context) ([]Record, error) {
	return s.list(ctx, true)
}

func (s *Store) list(ctx context.Context, activeOnly bool) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, directory, state FROM run ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var rec Record
		var st string
		if err := rows.Scan(&rec.ID, &rec.Directory, &st); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		parsed, err := state.Parse(st)
		if err != nil {
			s.logger.Warn("skipping run with unknown state",
				zap.String("run_id", rec.ID), zap.String("state", st))
			continue
		}
		rec.State = parsed
		if activeOnly && rec.State.Terminal() {
			continue
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// Delete removes the row for id. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM run WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	return nil
}

// DeleteIfMissing removes every row whose directory no longer exists and
// returns the removed ids. Rows are kept when the directory exists,
// whatever their state.
func (s *Store) DeleteIfMissing(ctx context.Context) ([]string, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	var removed []string
	var errs []error
	for _, rec := range all {
		_, statErr := os.Stat(rec.Directory)
		if statErr == nil || !errors.Is(statErr, os.ErrNotExist) {
			continue
		}
		if err := s.Delete(ctx, rec.ID); err != nil {
			s.logger.Error("failed to remove run from registry",
				zap.String("run_id", rec.ID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		s.logger.Info("removed run from registry",
			zap.String("run_id", rec.ID), zap.String("directory", rec.Directory))
		removed = append(removed, rec.ID)
	}
	return removed, errors.Join(errs...)
}
