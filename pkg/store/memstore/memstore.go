// Package memstore is an in-process store.ConsistentStore backed by plain
// maps guarded by a mutex. It is meant for tests and the bundled demo; it
// does not persist anything, and any number of watchers of each kind may
// be registered, each receiving every change.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/ctlogs/cluster-state-controller/pkg/ctsth"
	"github.com/ctlogs/cluster-state-controller/pkg/store"
)

// Store is an in-memory store.ConsistentStore for tests.
type Store struct {
	mu sync.Mutex

	nodeStates map[string]ctsth.ClusterNodeState
	config     *ctsth.ClusterConfig
	servingSTH *ctsth.SignedTreeHead

	nodeWatchers   []func([]store.Update[ctsth.ClusterNodeState])
	configWatchers []func(store.Update[ctsth.ClusterConfig])
	sthWatchers    []func(store.Update[ctsth.SignedTreeHead])
}

// New returns an empty Store.
func New() *Store {
	return &Store{nodeStates: make(map[string]ctsth.ClusterNodeState)}
}

var _ store.ConsistentStore = (*Store)(nil)

func (s *Store) WatchClusterNodeStates(ctx context.Context, cb func([]store.Update[ctsth.ClusterNodeState])) error {
	s.mu.Lock()
	updates := make([]store.Update[ctsth.ClusterNodeState], 0, len(s.nodeStates))
	for _, v := range s.nodeStates {
		updates = append(updates, store.Update[ctsth.ClusterNodeState]{Exists: true, Value: v})
	}
	s.nodeWatchers = append(s.nodeWatchers, cb)
	s.mu.Unlock()

	if len(updates) > 0 {
		cb(updates)
	}
	<-ctx.Done()
	return nil
}

func (s *Store) WatchClusterConfig(ctx context.Context, cb func(store.Update[ctsth.ClusterConfig])) error {
	s.mu.Lock()
	cfg := s.config
	s.configWatchers = append(s.configWatchers, cb)
	s.mu.Unlock()

	if cfg != nil {
		cb(store.Update[ctsth.ClusterConfig]{Exists: true, Value: *cfg})
	}
	<-ctx.Done()
	return nil
}

func (s *Store) WatchServingSTH(ctx context.Context, cb func(store.Update[ctsth.SignedTreeHead])) error {
	s.mu.Lock()
	sth := s.servingSTH
	s.sthWatchers = append(s.sthWatchers, cb)
	s.mu.Unlock()

	if sth != nil {
		cb(store.Update[ctsth.SignedTreeHead]{Exists: true, Value: *sth})
	}
	<-ctx.Done()
	return nil
}

// SetClusterNodeState upserts the node state and notifies watchers
// asynchronously, same as a real store's watch stream would: the write
// call itself never blocks on watcher dispatch, and a watcher callback is
// never invoked on the writer's goroutine or while it holds any lock.
func (s *Store) SetClusterNodeState(ctx context.Context, state ctsth.ClusterNodeState) error {
	s.mu.Lock()
	s.nodeStates[state.NodeID] = state
	watchers := append([]func([]store.Update[ctsth.ClusterNodeState]){}, s.nodeWatchers...)
	s.mu.Unlock()

	update := []store.Update[ctsth.ClusterNodeState]{{Exists: true, Value: state}}
	for _, w := range watchers {
		go w(update)
	}
	return nil
}

func (s *Store) SetServingSTH(ctx context.Context, sth ctsth.SignedTreeHead) error {
	s.mu.Lock()
	s.servingSTH = &sth
	watchers := append([]func(store.Update[ctsth.SignedTreeHead]){}, s.sthWatchers...)
	s.mu.Unlock()

	for _, w := range watchers {
		go w(store.Update[ctsth.SignedTreeHead]{Exists: true, Value: sth})
	}
	return nil
}

// SetClusterConfig is a test hook: production config comes from the store
// out of band, so the controller never writes it itself.
func (s *Store) SetClusterConfig(cfg ctsth.ClusterConfig) {
	s.mu.Lock()
	s.config = &cfg
	watchers := append([]func(store.Update[ctsth.ClusterConfig]){}, s.configWatchers...)
	s.mu.Unlock()

	for _, w := range watchers {
		go w(store.Update[ctsth.ClusterConfig]{Exists: true, Value: cfg})
	}
}

// DeleteClusterNodeState is a test hook simulating a peer disappearing
// from the store (e.g. its key expiring).
func (s *Store) DeleteClusterNodeState(nodeID string) {
	s.mu.Lock()
	state, ok := s.nodeStates[nodeID]
	if !ok {
		s.mu.Unlock()
		panic(fmt.Sprintf("memstore: delete of unknown node_id %q", nodeID))
	}
	delete(s.nodeStates, nodeID)
	watchers := append([]func([]store.Update[ctsth.ClusterNodeState]){}, s.nodeWatchers...)
	s.mu.Unlock()

	update := []store.Update[ctsth.ClusterNodeState]{{Exists: false, Value: state}}
	for _, w := range watchers {
		go w(update)
	}
}

// ClearServingSTH is a test hook simulating the serving STH key vanishing.
func (s *Store) ClearServingSTH() {
	s.mu.Lock()
	s.servingSTH = nil
	watchers := append([]func(store.Update[ctsth.SignedTreeHead]){}, s.sthWatchers...)
	s.mu.Unlock()

	for _, w := range watchers {
		go w(store.Update[ctsth.SignedTreeHead]{Exists: false})
	}
}

// NodeState returns the last known state for nodeID, for assertions.
func (s *Store) NodeState(nodeID string) (ctsth.ClusterNodeState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.nodeStates[nodeID]
	return v, ok
}

// ServingSTH returns the last published serving STH, for assertions.
func (s *Store) ServingSTH() (ctsth.SignedTreeHead, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.servingSTH == nil {
		return ctsth.SignedTreeHead{}, false
	}
	return *s.servingSTH, true
}
