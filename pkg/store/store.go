// Package store defines the consistent-store contract the cluster state
// controller watches and writes through. A ConsistentStore is a replicated
// key-value store with watch semantics; it guarantees eventual delivery of
// the latest value for a key but not delivery of every intermediate value,
// so callers must be correct against a latest-state-only model.
package store

import (
	"context"

	"github.com/ctlogs/cluster-state-controller/pkg/ctsth"
)

// Update describes one observed change to a watched value. Exists is false
// when the value was removed; Value then carries whatever the caller needs
// to identify what was removed (e.g. just the key).
type Update[T any] struct {
	Exists bool
	Value  T
}

// ConsistentStore is the external collaborator the controller watches and
// writes through. Implementations must deliver the current value(s) on
// first call (so a late-starting watcher is not missing state) and then
// stream subsequent changes until ctx is done.
type ConsistentStore interface {
	// WatchClusterNodeStates delivers batches of per-node updates until
	// ctx is done. It returns when ctx is done, or on an unrecoverable
	// watch error.
	WatchClusterNodeStates(ctx context.Context, cb func([]Update[ctsth.ClusterNodeState])) error
	// WatchClusterConfig delivers the singleton cluster config until ctx
	// is done.
	WatchClusterConfig(ctx context.Context, cb func(Update[ctsth.ClusterConfig])) error
	// WatchServingSTH delivers the singleton serving STH until ctx is done.
	WatchServingSTH(ctx context.Context, cb func(Update[ctsth.SignedTreeHead])) error

	// SetClusterNodeState upserts this node's published state, keyed by
	// its NodeID.
	SetClusterNodeState(ctx context.Context, state ctsth.ClusterNodeState) error
	// SetServingSTH upserts the cluster-wide serving STH.
	SetServingSTH(ctx context.Context, sth ctsth.SignedTreeHead) error
}
