// Package store persists validator lifecycle snapshots across restarts. The
// file-backed store is the default; the Postgres store serves deployments
// that already run a database.
package store

import (
	"context"

	"github.com/monad-tools/activeset-monitor/pkg/lifecycle"
)

// Storer is the durable snapshot store. Implementations must treat a missing
// snapshot as (zero, false, nil), not an error.
type Storer interface {
	PutSnapshot(ctx context.Context, snapshot lifecycle.Snapshot) error
	GetSnapshot(ctx context.Context, validatorName string) (lifecycle.Snapshot, bool, error)
	ListSnapshots(ctx context.Context) ([]lifecycle.Snapshot, error)
	Close() error
}
