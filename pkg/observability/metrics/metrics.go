// Package metrics holds the Prometheus collectors exported by the cluster
// state controller and its store/election backends.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var once sync.Once

var (
	CalculatedServingTreeSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ct_cluster_state",
		Name:      "calculated_serving_tree_size",
		Help:      "tree_size of this node's calculated serving STH",
	})

	ActualServingTreeSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ct_cluster_state",
		Name:      "actual_serving_tree_size",
		Help:      "tree_size of the cluster-wide serving STH as last observed from the store",
	})

	KnownPeerNodes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ct_cluster_state",
		Name:      "known_peer_nodes",
		Help:      "number of peer node states currently held",
	})

	ElectionParticipating = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ct_cluster_state",
		Name:      "election_participating",
		Help:      "1 if this node is currently participating in master election, else 0",
	})

	IsMaster = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ct_cluster_state",
		Name:      "is_master",
		Help:      "1 if this node was master at the publisher's most recent wakeup, else 0",
	})

	ServingSTHPublishedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ct_cluster_state",
		Name:      "serving_sth_published_total",
		Help:      "total number of times this node wrote a serving STH to the store",
	})

	ServingSTHPublishSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ct_cluster_state",
		Name:      "serving_sth_publish_skipped_total",
		Help:      "total number of publisher wakeups that dropped the write because mastership was lost",
	})

	QuorumUnavailableTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ct_cluster_state",
		Name:      "quorum_unavailable_total",
		Help:      "total number of serving-STH recomputations that found no qualifying size",
	})

	StoreWriteFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ct_cluster_state",
		Name:      "store_write_failures_total",
		Help:      "total number of failed writes to the consistent store, by operation",
	}, []string{"op"})
)

// Register registers all collectors into the default Prometheus registry.
// Safe to call more than once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			CalculatedServingTreeSize,
			ActualServingTreeSize,
			KnownPeerNodes,
			ElectionParticipating,
			IsMaster,
			ServingSTHPublishedTotal,
			ServingSTHPublishSkippedTotal,
			QuorumUnavailableTotal,
			StoreWriteFailuresTotal,
		)
	})
}
