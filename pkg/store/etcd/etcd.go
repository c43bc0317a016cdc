// Package etcd is a store.ConsistentStore backed by etcd v3. Node states
// live under a per-node key below a shared prefix; cluster config and the
// serving STH are each a single key. All watches replay the current
// revision's contents before streaming subsequent changes, matching how
// the controller expects state delivery to behave.
package etcd

import (
	"context"
	"encoding/json"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ctlogs/cluster-state-controller/pkg/ctsth"
	"github.com/ctlogs/cluster-state-controller/pkg/store"
)

// Store is a store.ConsistentStore backed by an etcd cluster. All keys
// live under "/<prefix>/...".
type Store struct {
	client *clientv3.Client
	prefix string
}

// New returns a Store rooted at prefix, e.g. "/ct/example-log".
func New(client *clientv3.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

var _ store.ConsistentStore = (*Store)(nil)

func (s *Store) nodeStatesPrefix() string { return s.prefix + "/node-states/" }
func (s *Store) nodeStateKey(nodeID string) string {
	return s.nodeStatesPrefix() + nodeID
}
func (s *Store) clusterConfigKey() string { return s.prefix + "/cluster-config" }
func (s *Store) servingSTHKey() string    { return s.prefix + "/serving-sth" }

// WatchClusterNodeStates delivers the current set of node states, then
// streams per-key puts and deletes, one batch per etcd watch response,
// until ctx is done.
func (s *Store) WatchClusterNodeStates(ctx context.Context, cb func([]store.Update[ctsth.ClusterNodeState])) error {
	getResp, err := s.client.Get(ctx, s.nodeStatesPrefix(), clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("etcdstore: initial get of node states: %w", err)
	}

	initial := make([]store.Update[ctsth.ClusterNodeState], 0, len(getResp.Kvs))
	for _, kv := range getResp.Kvs {
		var state ctsth.ClusterNodeState
		if err := json.Unmarshal(kv.Value, &state); err != nil {
			return fmt.Errorf("etcdstore: unmarshal node state %q: %w", kv.Key, err)
		}
		initial = append(initial, store.Update[ctsth.ClusterNodeState]{Exists: true, Value: state})
	}
	if len(initial) > 0 {
		cb(initial)
	}

	watchCh := s.client.Watch(ctx, s.nodeStatesPrefix(), clientv3.WithPrefix(), clientv3.WithRev(getResp.Header.Revision+1))
	for wresp := range watchCh {
		if err := wresp.Err(); err != nil {
			return fmt.Errorf("etcdstore: node states watch: %w", err)
		}
		batch := make([]store.Update[ctsth.ClusterNodeState], 0, len(wresp.Events))
		for _, ev := range wresp.Events {
			if ev.Type == clientv3.EventTypeDelete {
				nodeID := string(ev.Kv.Key[len(s.nodeStatesPrefix()):])
				batch = append(batch, store.Update[ctsth.ClusterNodeState]{Exists: false, Value: ctsth.ClusterNodeState{NodeID: nodeID}})
				continue
			}
			var state ctsth.ClusterNodeState
			if err := json.Unmarshal(ev.Kv.Value, &state); err != nil {
				return fmt.Errorf("etcdstore: unmarshal node state %q: %w", ev.Kv.Key, err)
			}
			batch = append(batch, store.Update[ctsth.ClusterNodeState]{Exists: true, Value: state})
		}
		if len(batch) > 0 {
			cb(batch)
		}
	}
	return ctx.Err()
}

// WatchClusterConfig delivers the current cluster config, then streams
// subsequent changes until ctx is done.
func (s *Store) WatchClusterConfig(ctx context.Context, cb func(store.Update[ctsth.ClusterConfig])) error {
	getResp, err := s.client.Get(ctx, s.clusterConfigKey())
	if err != nil {
		return fmt.Errorf("etcdstore: initial get of cluster config: %w", err)
	}
	if len(getResp.Kvs) > 0 {
		var cfg ctsth.ClusterConfig
		if err := json.Unmarshal(getResp.Kvs[0].Value, &cfg); err != nil {
			return fmt.Errorf("etcdstore: unmarshal cluster config: %w", err)
		}
		cb(store.Update[ctsth.ClusterConfig]{Exists: true, Value: cfg})
	}

	watchCh := s.client.Watch(ctx, s.clusterConfigKey(), clientv3.WithRev(getResp.Header.Revision+1))
	for wresp := range watchCh {
		if err := wresp.Err(); err != nil {
			return fmt.Errorf("etcdstore: cluster config watch: %w", err)
		}
		for _, ev := range wresp.Events {
			if ev.Type == clientv3.EventTypeDelete {
				cb(store.Update[ctsth.ClusterConfig]{Exists: false})
				continue
			}
			var cfg ctsth.ClusterConfig
			if err := json.Unmarshal(ev.Kv.Value, &cfg); err != nil {
				return fmt.Errorf("etcdstore: unmarshal cluster config: %w", err)
			}
			cb(store.Update[ctsth.ClusterConfig]{Exists: true, Value: cfg})
		}
	}
	return ctx.Err()
}

// WatchServingSTH delivers the current serving STH, then streams
// subsequent changes until ctx is done.
func (s *Store) WatchServingSTH(ctx context.Context, cb func(store.Update[ctsth.SignedTreeHead])) error {
	getResp, err := s.client.Get(ctx, s.servingSTHKey())
	if err != nil {
		return fmt.Errorf("etcdstore: initial get of serving STH: %w", err)
	}
	if len(getResp.Kvs) > 0 {
		var sth ctsth.SignedTreeHead
		if err := json.Unmarshal(getResp.Kvs[0].Value, &sth); err != nil {
			return fmt.Errorf("etcdstore: unmarshal serving STH: %w", err)
		}
		cb(store.Update[ctsth.SignedTreeHead]{Exists: true, Value: sth})
	}

	watchCh := s.client.Watch(ctx, s.servingSTHKey(), clientv3.WithRev(getResp.Header.Revision+1))
	for wresp := range watchCh {
		if err := wresp.Err(); err != nil {
			return fmt.Errorf("etcdstore: serving STH watch: %w", err)
		}
		for _, ev := range wresp.Events {
			if ev.Type == clientv3.EventTypeDelete {
				cb(store.Update[ctsth.SignedTreeHead]{Exists: false})
				continue
			}
			var sth ctsth.SignedTreeHead
			if err := json.Unmarshal(ev.Kv.Value, &sth); err != nil {
				return fmt.Errorf("etcdstore: unmarshal serving STH: %w", err)
			}
			cb(store.Update[ctsth.SignedTreeHead]{Exists: true, Value: sth})
		}
	}
	return ctx.Err()
}

// SetClusterNodeState upserts state under its own key, keyed by NodeID.
func (s *Store) SetClusterNodeState(ctx context.Context, state ctsth.ClusterNodeState) error {
	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("etcdstore: marshal node state: %w", err)
	}
	if _, err := s.client.Put(ctx, s.nodeStateKey(state.NodeID), string(b)); err != nil {
		return fmt.Errorf("etcdstore: put node state: %w", err)
	}
	return nil
}

// SetServingSTH upserts the cluster-wide serving STH key.
func (s *Store) SetServingSTH(ctx context.Context, sth ctsth.SignedTreeHead) error {
	b, err := json.Marshal(sth)
	if err != nil {
		return fmt.Errorf("etcdstore: marshal serving STH: %w", err)
	}
	if _, err := s.client.Put(ctx, s.servingSTHKey(), string(b)); err != nil {
		return fmt.Errorf("etcdstore: put serving STH: %w", err)
	}
	return nil
}

// SetClusterConfig upserts the cluster-wide config key. Operators (or a
// provisioning tool) call this out of band; the controller itself only
// ever reads it.
func (s *Store) SetClusterConfig(ctx context.Context, cfg ctsth.ClusterConfig) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("etcdstore: marshal cluster config: %w", err)
	}
	if _, err := s.client.Put(ctx, s.clusterConfigKey(), string(b)); err != nil {
		return fmt.Errorf("etcdstore: put cluster config: %w", err)
	}
	return nil
}

// RemoveClusterNodeState deletes a node's key, e.g. on planned decommission.
func (s *Store) RemoveClusterNodeState(ctx context.Context, nodeID string) error {
	if _, err := s.client.Delete(ctx, s.nodeStateKey(nodeID)); err != nil {
		return fmt.Errorf("etcdstore: delete node state: %w", err)
	}
	return nil
}
