// Package ctsth defines the data types shared by the cluster state
// controller, the consistent store contract, and the master election
// contract: signed tree heads, per-node state, and cluster policy.
package ctsth

import "bytes"

// SignedTreeHead is a signed commitment to the contents of a Merkle tree
// at a given size and timestamp. Equality is by full byte content.
type SignedTreeHead struct {
	TreeSize       int64  `json:"tree_size"`
	Timestamp      int64  `json:"timestamp"`
	SHA256RootHash []byte `json:"sha256_root_hash"`
	Signature      []byte `json:"signature"`
}

// Equal reports whether two STHs carry identical content.
func (s SignedTreeHead) Equal(o SignedTreeHead) bool {
	return s.TreeSize == o.TreeSize &&
		s.Timestamp == o.Timestamp &&
		bytes.Equal(s.SHA256RootHash, o.SHA256RootHash) &&
		bytes.Equal(s.Signature, o.Signature)
}

// ClusterNodeState is one node's published view, keyed by NodeID when
// stored in the consistent store. It is used both for this node's local
// state and for every observed peer.
type ClusterNodeState struct {
	// NodeID is opaque and immutable once assigned.
	NodeID string `json:"node_id"`
	// Hostname and LogPort identify where this node serves its log.
	Hostname string `json:"hostname"`
	LogPort  int    `json:"log_port"`
	// NewestSTH is the last STH this node has signed, if any.
	NewestSTH *SignedTreeHead `json:"newest_sth,omitempty"`
	// ContiguousTreeSize is the largest prefix size this node has fully
	// replicated and can serve inclusion/consistency proofs against.
	ContiguousTreeSize int64 `json:"contiguous_tree_size"`
}

// ClusterConfig is cluster-wide policy governing serving-STH quorum.
type ClusterConfig struct {
	// MinimumServingNodes is an absolute floor on the count of peers
	// that must be at least as far along as a candidate serving size.
	MinimumServingNodes int `json:"minimum_serving_nodes"`
	// MinimumServingFraction is the floor expressed as a fraction of
	// the cluster, in [0, 1].
	MinimumServingFraction float64 `json:"minimum_serving_fraction"`
}
