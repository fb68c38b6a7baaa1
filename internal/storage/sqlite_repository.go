package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite" // registers "sqlite"

	"github.com/canonica-labs/groundsql/internal/errors"
	"github.com/canonica-labs/groundsql/internal/pipeline"
)

// DefaultSQLiteDSN is used when pipeline.state_dsn is empty.
const DefaultSQLiteDSN = "groundsql.db"

// SQLiteRepository stores each state as a JSON document in the
// pipeline_states table, next to the step and timestamps used for lookups.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository wraps an already migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// OpenSQLite opens dsn with the pure-Go SQLite driver and applies pending
// migrations. ":memory:" is pinned to a single connection so every query
// sees the same database.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteRepository, error) {
	if dsn == "" {
		dsn = DefaultSQLiteDSN
	}
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, errors.Wrap(err, "storage: open sqlite")
	}
	if strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "storage: connect sqlite")
	}
	if err := NewMigrationRunner(db).Run(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewSQLiteRepository(db), nil
}

// sqliteDSN adds a busy timeout so the CLI and the gateway can share a file.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") || strings.Contains(dsn, ":memory:") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)"
}

// DB exposes the connection, e.g. for the persistent audit log.
func (r *SQLiteRepository) DB() *sql.DB {
	return r.db
}

// Save implements StateRepository.
func (r *SQLiteRepository) Save(ctx context.Context, s pipeline.State) error {
	data, err := encodeState(s)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO pipeline_states (id, question, step, state_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			step = excluded.step,
			state_json = excluded.state_json,
			updated_at = excluded.updated_at`,
		s.ID, s.Question, string(s.Step), string(data),
		s.CreatedAt.UnixNano(), s.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return errors.Wrapf(err, "storage: save state %s", s.ID)
	}
	return nil
}

// Get implements StateRepository.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (pipeline.State, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT state_json FROM pipeline_states WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return pipeline.State{}, errors.NewStateNotFound(id)
	}
	if err != nil {
		return pipeline.State{}, errors.Wrapf(err, "storage: load state %s", id)
	}
	return decodeState(id, []byte(data))
}

// List implements StateRepository.
func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]pipeline.State, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, state_json FROM pipeline_states
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, listLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "storage: list states")
	}
	defer rows.Close()

	states := []pipeline.State{}
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, errors.Wrap(err, "storage: list states")
		}
		s, err := decodeState(id, []byte(data))
		if err != nil {
			return nil, err
		}
		states = append(states, s)
	}
	return states, errors.Wrap(rows.Err(), "storage: list states")
}

// CheckConnectivity implements StateRepository.
func (r *SQLiteRepository) CheckConnectivity(ctx context.Context) error {
	return errors.Wrap(r.db.PingContext(ctx), "storage: sqlite unreachable")
}

// Close implements StateRepository.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
