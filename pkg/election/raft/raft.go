// Package raftelect is an election.Election backed by HashiCorp Raft.
// Unlike the etcd backend, this one runs its own consensus group purely
// to decide leadership; it replicates nothing but no-op log entries.
// StopElection transfers leadership before shutting down so a healthy
// remaining peer takes over without waiting out an election timeout.
package raftelect

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/ctlogs/cluster-state-controller/pkg/election"
)

// Election is an election.Election backed by a raft consensus group.
type Election struct {
	opts Options
	log  *log.Logger

	mu      sync.Mutex
	r       *raft.Raft
	started bool

	leaderCh chan struct{}
	stopObs  chan struct{}
}

// New validates opts and returns an unstarted Election.
func New(opts Options) (*Election, error) {
	if opts.NodeID == "" {
		return nil, fmt.Errorf("raftelect: empty NodeID")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Election{opts: opts, log: opts.Logger}, nil
}

var _ election.Election = (*Election)(nil)

// StartElection brings up the raft group (idempotent) and begins
// participating in leader election. Unlike StopElection it does not
// demote this node if it already holds leadership.
func (e *Election) StartElection() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	if err := e.start(); err != nil {
		e.log.Printf("raftelect: failed to start: %v", err)
		return
	}
	e.started = true
}

// StopElection transfers leadership away (if held), shuts the raft group
// down, and leaves it ready to be started again. Idempotent.
func (e *Election) StopElection() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return
	}
	if e.r.State() == raft.Leader {
		if err := e.r.LeadershipTransfer().Error(); err != nil {
			e.log.Printf("raftelect: leadership transfer failed, shutting down anyway: %v", err)
		}
	}
	if err := e.r.Shutdown().Error(); err != nil {
		e.log.Printf("raftelect: shutdown failed: %v", err)
	}
	e.r = nil
	e.started = false
}

func (e *Election) IsMaster() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started && e.r != nil && e.r.State() == raft.Leader
}

func (e *Election) start() error {
	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(e.opts.NodeID)
	if e.opts.HeartbeatTimeout > 0 {
		cfg.HeartbeatTimeout = e.opts.HeartbeatTimeout
	}
	if e.opts.ElectionTimeout > 0 {
		cfg.ElectionTimeout = e.opts.ElectionTimeout
	}
	if e.opts.CommitTimeout > 0 {
		cfg.CommitTimeout = e.opts.CommitTimeout
	}

	var (
		logs   raft.LogStore
		stable raft.StableStore
		snaps  raft.SnapshotStore
		addr   raft.ServerAddress
		trans  raft.Transport
	)

	if e.opts.DataDir != "" {
		retained := e.opts.SnapshotsRetained
		if retained == 0 {
			retained = 2
		}
		if err := os.MkdirAll(e.opts.DataDir, 0o755); err != nil {
			return err
		}
		bstore, err := raftboltdb.NewBoltStore(filepath.Join(e.opts.DataDir, "raft.db"))
		if err != nil {
			return err
		}
		logs, stable = bstore, bstore
		snaps, err = raft.NewFileSnapshotStore(e.opts.DataDir, retained, os.Stderr)
		if err != nil {
			return err
		}
	} else {
		logs = raft.NewInmemStore()
		stable = raft.NewInmemStore()
		snaps = raft.NewInmemSnapshotStore()
	}

	if e.opts.BindAddr != "" {
		nt, err := raft.NewTCPTransport(e.opts.BindAddr, nil, 3, 1*time.Second, os.Stderr)
		if err != nil {
			return err
		}
		trans, addr = nt, nt.LocalAddr()
	} else {
		addr, trans = raft.NewInmemTransport(raft.ServerAddress(e.opts.NodeID))
	}

	r, err := raft.NewRaft(cfg, noopFSM{}, logs, stable, snaps, trans)
	if err != nil {
		return err
	}
	e.r = r

	if e.opts.Bootstrap {
		servers := []raft.Server{{ID: cfg.LocalID, Address: addr}}
		for _, p := range e.opts.Peers {
			if p.ID == e.opts.NodeID {
				continue
			}
			servers = append(servers, raft.Server{ID: raft.ServerID(p.ID), Address: raft.ServerAddress(p.Addr)})
		}
		if err := r.BootstrapCluster(raft.Configuration{Servers: servers}).Error(); err != nil {
			return err
		}
	}

	return nil
}

// LeadershipCh exposes raft's native leadership-change notifications, for
// callers that want a push signal rather than polling IsMaster.
func (e *Election) LeadershipCh() <-chan bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.r == nil {
		ch := make(chan bool)
		close(ch)
		return ch
	}
	return e.r.LeaderCh()
}

// AddVoter admits a new voting peer to the raft group. Only meaningful on
// the current leader; call through to completion before relying on the
// new peer's participation.
func (e *Election) AddVoter(ctx context.Context, id, addr string, timeout time.Duration) error {
	e.mu.Lock()
	r := e.r
	e.mu.Unlock()
	if r == nil {
		return fmt.Errorf("raftelect: not started")
	}
	return r.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, timeout).Error()
}
