// Package election defines the master-election contract the cluster state
// controller coordinates with. The election primitive is a blackbox: the
// controller only ever starts, stops, and queries it.
package election

// Election is the external collaborator that decides, cluster-wide, which
// single node may publish the serving STH at any moment. StartElection and
// StopElection are idempotent: calling either repeatedly with the same
// intent must not change behavior or return an error.
type Election interface {
	// StartElection joins this node's candidacy for master. Idempotent.
	StartElection()
	// StopElection withdraws this node's candidacy for master, stepping
	// down first if this node currently holds mastership. Idempotent.
	StopElection()
	// IsMaster reports whether this node currently holds mastership. The
	// result is a snapshot and may change immediately after it returns.
	IsMaster() bool
}
