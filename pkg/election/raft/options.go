package raftelect

import (
	"log"
	"time"
)

// Options configure the Raft-based Election.
type Options struct {
	NodeID string
	Logger *log.Logger

	// Bootstrap forms the initial cluster (this node plus Peers) on
	// StartElection when true. Set this on exactly one node when bringing
	// up a fresh cluster.
	Bootstrap bool

	// Peers lists every voter's (ID, address) pair, including this node,
	// for the bootstrap configuration. Ignored unless Bootstrap is set.
	Peers []Peer

	HeartbeatTimeout time.Duration
	ElectionTimeout  time.Duration
	CommitTimeout    time.Duration

	// BindAddr selects a TCP transport bound to this address when
	// non-empty (e.g. "0.0.0.0:7400"). Otherwise an in-memory loopback
	// transport is used, suitable only for single-node demos and tests.
	BindAddr string

	// DataDir selects on-disk log/stable/snapshot stores when non-empty.
	// Empty uses in-memory stores, which lose all raft state on restart.
	DataDir string

	SnapshotsRetained int
}

// Peer is one voting member of the raft group.
type Peer struct {
	ID   string
	Addr string
}
