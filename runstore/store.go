// Package runstore keeps a history of fitting runs in SQLite: the statistics and
// model parameters of every run, never the correspondences themselves.
package runstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/kwv/gcransac/ransac"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned by Get for an unknown run ID
var ErrNotFound = errors.New("runstore: run not found")

// Run is one stored fitting run
type Run struct {
	ID         string            `json:"id"`
	Scene      string            `json:"scene"`
	Problem    ransac.Problem    `json:"problem"`
	Points     int               `json:"points"`
	Model      []float64         `json:"model"`
	Statistics ransac.Statistics `json:"statistics"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Store is a SQLite-backed run history
type Store struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

// Open opens (or creates) the database at path and applies pending migrations
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening run store %s: %w", path, err)
	}
	// A single connection keeps SQLite writes serialized
	db.SetMaxOpenConns(1)

	s := &Store{db: db, log: log.With().Str("component", "runstore").Logger(), now: time.Now}
	if err := s.migrateUp(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("loading embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("creating sqlite migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("creating migrate instance: %w", err)
	}
	m.Log = migrateLogger{log: s.log}
	return m, nil
}

// migrateUp runs all pending migrations. The migrate instance is not closed
// because that would close the shared database handle.
func (s *Store) migrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Version returns the applied schema version
func (s *Store) Version() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Record stores a finished fit under a fresh run ID
func (s *Store) Record(ctx context.Context, scene string, fit ransac.Fit) (Run, error) {
	run := Run{
		ID:         uuid.New().String(),
		Scene:      scene,
		Problem:    fit.Problem,
		Points:     fit.Points,
		Model:      fit.Model,
		Statistics: fit.Statistics,
		CreatedAt:  s.now().UTC(),
	}
	if run.Model == nil {
		run.Model = []float64{}
	}
	modelJSON, err := json.Marshal(run.Model)
	if err != nil {
		return Run{}, fmt.Errorf("marshaling model: %w", err)
	}
	statsJSON, err := json.Marshal(run.Statistics)
	if err != nil {
		return Run{}, fmt.Errorf("marshaling statistics: %w", err)
	}

	st := run.Statistics
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, scene, problem, points, inliers, iterations, local_optimizations,
			graph_cuts, elapsed_ns, termination_reason, partial, model_json, statistics_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Scene, string(run.Problem), run.Points, st.InlierCount, st.Iterations,
		st.LocalOptimizations, st.GraphCuts, int64(st.Elapsed), string(st.TerminationReason),
		st.Partial, string(modelJSON), string(statsJSON), run.CreatedAt.UnixNano(),
	)
	if err != nil {
		return Run{}, fmt.Errorf("inserting run: %w", err)
	}
	s.log.Debug().Str("run_id", run.ID).Str("scene", scene).Int("inliers", st.InlierCount).Msg("run recorded")
	return run, nil
}

const selectRuns = `SELECT run_id, scene, problem, points, model_json, statistics_json, created_at FROM runs`

// Get returns one run by ID
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, selectRuns+` WHERE run_id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, err
}

// List returns the most recent runs first; limit <= 0 returns all. A non-empty
// scene restricts the list to that scene.
func (s *Store) List(ctx context.Context, scene string, limit int) ([]Run, error) {
	query := selectRuns
	var args []any
	if scene != "" {
		query += ` WHERE scene = ?`
		args = append(args, scene)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		run       Run
		problem   string
		modelJSON string
		statsJSON string
		created   int64
	)
	if err := sc.Scan(&run.ID, &run.Scene, &problem, &run.Points, &modelJSON, &statsJSON, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scanning run: %w", err)
	}
	run.Problem = ransac.Problem(problem)
	run.CreatedAt = time.Unix(0, created).UTC()
	if err := json.Unmarshal([]byte(modelJSON), &run.Model); err != nil {
		return Run{}, fmt.Errorf("parsing model of run %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(statsJSON), &run.Statistics); err != nil {
		return Run{}, fmt.Errorf("parsing statistics of run %s: %w", run.ID, err)
	}
	return run, nil
}

// migrateLogger implements migrate.Logger on top of zerolog
type migrateLogger struct {
	log zerolog.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.log.Debug().Msgf("[migrate] "+format, v...)
}

func (l migrateLogger) Verbose() bool {
	return false
}
