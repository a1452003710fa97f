package store

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/monad-tools/activeset-monitor/pkg/lifecycle"
)

const TableLifecycleStates = "lifecycle_states"

var schema = `
CREATE TABLE IF NOT EXISTS ` + TableLifecycleStates + ` (
	validator_name   text PRIMARY KEY,
	current_state    text NOT NULL,
	state_entered_at double precision NOT NULL,
	transition_count integer NOT NULL DEFAULT 0,
	updated_at       timestamp NOT NULL DEFAULT now()
);
`

type snapshotEntry struct {
	ValidatorName   string  `db:"validator_name"`
	CurrentState    string  `db:"current_state"`
	StateEnteredAt  float64 `db:"state_entered_at"`
	TransitionCount int     `db:"transition_count"`
}

type PostgresStore struct {
	DB *sqlx.DB

	nstmtUpsertSnapshot *sqlx.NamedStmt

	logger *zap.SugaredLogger
}

func NewPostgresStore(dsn string, zapLogger *zap.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, err
	}

	db.DB.SetMaxOpenConns(10)
	db.DB.SetMaxIdleConns(5)

	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}

	store := &PostgresStore{DB: db, logger: zapLogger.Sugar()}
	err = store.prepareNamedQueries()
	return store, err
}

func (store *PostgresStore) prepareNamedQueries() (err error) {
	query := `INSERT INTO ` + TableLifecycleStates + `
	(validator_name, current_state, state_entered_at, transition_count) VALUES
	(:validator_name, :current_state, :state_entered_at, :transition_count)
	ON CONFLICT (validator_name) DO UPDATE SET
		current_state = EXCLUDED.current_state,
		state_entered_at = EXCLUDED.state_entered_at,
		transition_count = EXCLUDED.transition_count,
		updated_at = now()`
	store.nstmtUpsertSnapshot, err = store.DB.PrepareNamed(query)
	return err
}

func (store *PostgresStore) PutSnapshot(ctx context.Context, snapshot lifecycle.Snapshot) error {
	entry := snapshotEntry{
		ValidatorName:   snapshot.ValidatorName,
		CurrentState:    snapshot.CurrentState,
		StateEnteredAt:  snapshot.StateEnteredAt,
		TransitionCount: snapshot.TransitionCount,
	}
	if _, err := store.nstmtUpsertSnapshot.ExecContext(ctx, entry); err != nil {
		return errors.Wrap(err, "could not save lifecycle snapshot")
	}
	store.logger.Debugw("saved lifecycle snapshot to db",
		"validator", snapshot.ValidatorName, "state", snapshot.CurrentState)
	return nil
}

func (store *PostgresStore) GetSnapshot(ctx context.Context, validatorName string) (lifecycle.Snapshot, bool, error) {
	query := `SELECT validator_name, current_state, state_entered_at, transition_count
	FROM ` + TableLifecycleStates + `
	WHERE validator_name=$1`

	var entry snapshotEntry
	err := store.DB.GetContext(ctx, &entry, query, validatorName)
	if errors.Cause(err) == sql.ErrNoRows {
		return lifecycle.Snapshot{}, false, nil
	}
	if err != nil {
		return lifecycle.Snapshot{}, false, errors.Wrap(err, "could not load lifecycle snapshot")
	}
	return entry.toSnapshot(), true, nil
}

func (store *PostgresStore) ListSnapshots(ctx context.Context) ([]lifecycle.Snapshot, error) {
	query := `SELECT validator_name, current_state, state_entered_at, transition_count
	FROM ` + TableLifecycleStates + `
	ORDER BY validator_name`

	var entries []snapshotEntry
	if err := store.DB.SelectContext(ctx, &entries, query); err != nil {
		return nil, errors.Wrap(err, "could not list lifecycle snapshots")
	}
	snapshots := make([]lifecycle.Snapshot, 0, len(entries))
	for _, entry := range entries {
		snapshots = append(snapshots, entry.toSnapshot())
	}
	return snapshots, nil
}

func (store *PostgresStore) Close() error {
	return store.DB.Close()
}

func (entry snapshotEntry) toSnapshot() lifecycle.Snapshot {
	return lifecycle.Snapshot{
		ValidatorName:   entry.ValidatorName,
		CurrentState:    entry.CurrentState,
		StateEnteredAt:  entry.StateEnteredAt,
		TransitionCount: entry.TransitionCount,
	}
}
