// Package clusterstate implements the cluster state controller: the
// per-node component that watches distributed peer state, decides which
// signed tree head the cluster should serve, and governs whether this node
// participates in master election.
//
// A Controller owns exactly five pieces of state (local node state, all
// observed peer states, cluster config, the actual serving STH mirrored
// from the store, and this node's calculated candidate serving STH), all
// mutated only while holding its mutex. It registers three long-lived
// watches against a store.ConsistentStore at construction and runs a
// dedicated publisher goroutine for the lifetime of the controller.
package clusterstate

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/ctlogs/cluster-state-controller/pkg/ctsth"
	"github.com/ctlogs/cluster-state-controller/pkg/election"
	"github.com/ctlogs/cluster-state-controller/pkg/internal/logutil"
	"github.com/ctlogs/cluster-state-controller/pkg/observability/metrics"
	"github.com/ctlogs/cluster-state-controller/pkg/observability/tracing"
	"github.com/ctlogs/cluster-state-controller/pkg/store"
)

// Controller is the cluster state controller for a single node. Construct
// with New; call Close to unwind watches and the publisher.
type Controller struct {
	store    store.ConsistentStore
	election election.Election
	logger   *log.Logger

	mu   sync.Mutex
	cond *sync.Cond

	localNodeState       ctsth.ClusterNodeState
	allNodeStates        map[string]ctsth.ClusterNodeState
	clusterConfig        *ctsth.ClusterConfig
	actualServingSTH     *ctsth.SignedTreeHead
	calculatedServingSTH *ctsth.SignedTreeHead

	updateRequired bool
	exiting        bool

	watchCancel context.CancelFunc
	watchWG     sync.WaitGroup
	pubDone     chan struct{}
}

// New constructs a Controller, registers its three watches against store,
// and starts the publisher goroutine. Each watch is registered with the
// store from its own goroutine, so New returns once those goroutines are
// started; registration and the first deliveries may or may not have
// happened by then.
func New(st store.ConsistentStore, el election.Election, opts Options) (*Controller, error) {
	if st == nil {
		return nil, errNilStore
	}
	if el == nil {
		return nil, errNilElection
	}
	if opts.NodeID == "" {
		return nil, errEmptyNodeID
	}
	opts.setDefaults()

	c := &Controller{
		store:         st,
		election:      el,
		logger:        opts.Logger,
		allNodeStates: make(map[string]ctsth.ClusterNodeState),
		localNodeState: ctsth.ClusterNodeState{
			NodeID:   opts.NodeID,
			Hostname: opts.Hostname,
			LogPort:  opts.LogPort,
		},
		pubDone: make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)

	watchCtx, cancel := context.WithCancel(context.Background())
	c.watchCancel = cancel

	c.watchWG.Add(3)
	go c.runNodeStatesWatch(watchCtx)
	go c.runClusterConfigWatch(watchCtx)
	go c.runServingSTHWatch(watchCtx)

	go c.publishLoop()

	metrics.Register()

	return c, nil
}

// Close cancels all watches, signals the publisher to exit, joins it, then
// waits for every watch goroutine to drain. Cancelling watches first
// prevents new state mutations during teardown; exiting is set under the
// mutex so the publisher observes it on its next wake.
func (c *Controller) Close() {
	c.watchCancel()

	c.mu.Lock()
	c.exiting = true
	c.cond.Broadcast()
	c.mu.Unlock()

	<-c.pubDone
	c.watchWG.Wait()
}

// -----------------------------------------------------------------------
// §4.1 Watch registration and update intake
// -----------------------------------------------------------------------

func (c *Controller) runNodeStatesWatch(ctx context.Context) {
	defer c.watchWG.Done()
	if err := c.store.WatchClusterNodeStates(ctx, c.onClusterStateUpdated); err != nil && ctx.Err() == nil {
		logutil.Errorf(c.logger, "clusterstate: node states watch ended: %v", err)
	}
}

func (c *Controller) runClusterConfigWatch(ctx context.Context) {
	defer c.watchWG.Done()
	if err := c.store.WatchClusterConfig(ctx, c.onClusterConfigUpdated); err != nil && ctx.Err() == nil {
		logutil.Errorf(c.logger, "clusterstate: cluster config watch ended: %v", err)
	}
}

func (c *Controller) runServingSTHWatch(ctx context.Context) {
	defer c.watchWG.Done()
	if err := c.store.WatchServingSTH(ctx, c.onServingSthUpdated); err != nil && ctx.Err() == nil {
		logutil.Errorf(c.logger, "clusterstate: serving STH watch ended: %v", err)
	}
}

// onClusterStateUpdated merges a batch of per-peer updates into
// allNodeStates and recomputes the calculated serving STH.
func (c *Controller) onClusterStateUpdated(updates []store.Update[ctsth.ClusterNodeState]) {
	_, end := tracing.StartSpan(context.Background(), "clusterstate.OnClusterStateUpdated")
	defer end()

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, u := range updates {
		if u.Exists {
			c.allNodeStates[u.Value.NodeID] = u.Value
			continue
		}
		if _, ok := c.allNodeStates[u.Value.NodeID]; !ok {
			panic(fmt.Sprintf("clusterstate: removal of unknown node_id %q", u.Value.NodeID))
		}
		delete(c.allNodeStates, u.Value.NodeID)
	}
	metrics.KnownPeerNodes.Set(float64(len(c.allNodeStates)))

	c.calculateServingSTH()
}

// onClusterConfigUpdated replaces the cluster config (unless the update
// reports non-existence) and recomputes the calculated serving STH.
func (c *Controller) onClusterConfigUpdated(u store.Update[ctsth.ClusterConfig]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !u.Exists {
		logutil.Warnf(c.logger, "clusterstate: no ClusterConfig exists")
		return
	}
	cfg := u.Value
	c.clusterConfig = &cfg
	logutil.Infof(c.logger, "clusterstate: received new ClusterConfig: %+v", cfg)

	c.calculateServingSTH()
}

// onServingSthUpdated replaces (or clears) the mirrored actual serving STH
// and reassesses election participation.
func (c *Controller) onServingSthUpdated(u store.Update[ctsth.SignedTreeHead]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !u.Exists {
		logutil.Warnf(c.logger, "clusterstate: cluster has no serving STH")
		c.actualServingSTH = nil
		metrics.ActualServingTreeSize.Set(0)
	} else {
		sth := u.Value
		c.actualServingSTH = &sth
		metrics.ActualServingTreeSize.Set(float64(sth.TreeSize))
		logutil.Infof(c.logger, "clusterstate: received new serving STH: size=%d ts=%d", sth.TreeSize, sth.Timestamp)
	}

	c.determineElectionParticipation()
}

// -----------------------------------------------------------------------
// §4.2 Local state mutation API
// -----------------------------------------------------------------------

// NewTreeHead records the newest STH this node has signed. sth.Timestamp
// must be >= the previously recorded newest_sth's timestamp, if any;
// violating that is a programming error by the caller and is fatal.
func (c *Controller) NewTreeHead(sth ctsth.SignedTreeHead) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prior := c.localNodeState.NewestSTH; prior != nil && sth.Timestamp < prior.Timestamp {
		panic(fmt.Sprintf("clusterstate: new STH timestamp %d < prior newest_sth timestamp %d", sth.Timestamp, prior.Timestamp))
	}
	c.localNodeState.NewestSTH = &sth
	c.pushLocalNodeState()
}

// ContiguousTreeSizeUpdated records the largest prefix size this node has
// fully replicated. n must be >= 0 and >= the prior value; violating that
// is a programming error by the caller and is fatal.
func (c *Controller) ContiguousTreeSizeUpdated(n int64) {
	if n < 0 {
		panic(fmt.Sprintf("clusterstate: negative contiguous tree size %d", n))
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if n < c.localNodeState.ContiguousTreeSize {
		panic(fmt.Sprintf("clusterstate: contiguous tree size regression %d < %d", n, c.localNodeState.ContiguousTreeSize))
	}
	c.localNodeState.ContiguousTreeSize = n
	c.pushLocalNodeState()
}

// SetNodeHostPort unconditionally replaces the published hostname and port.
func (c *Controller) SetNodeHostPort(host string, port int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.localNodeState.Hostname = host
	c.localNodeState.LogPort = port
	c.pushLocalNodeState()
}

// pushLocalNodeState must be called with c.mu held. It reassesses election
// participation (a change in replication progress may newly qualify or
// disqualify this node as master) and then writes local state to the
// store. A write failure is logged and swallowed; the next push retries.
func (c *Controller) pushLocalNodeState() {
	c.determineElectionParticipation()

	if err := c.store.SetClusterNodeState(context.Background(), c.localNodeState); err != nil {
		metrics.StoreWriteFailuresTotal.WithLabelValues("SetClusterNodeState").Inc()
		logutil.Warnf(c.logger, "clusterstate: SetClusterNodeState failed: %v", err)
	}
}

// -----------------------------------------------------------------------
// §4.3 Serving-STH calculation
// -----------------------------------------------------------------------

// calculateServingSTH must be called with c.mu held. See spec §4.3 for the
// algorithm; the summary is: walk observed tree sizes from largest to
// smallest, accumulating node counts, stopping once below the current
// calculated size (monotonic floor), and take the first size whose
// accumulated count clears both the absolute and fractional quorum floors.
func (c *Controller) calculateServingSTH() {
	if c.clusterConfig == nil {
		logutil.Warnf(c.logger, "clusterstate: no ClusterConfig yet, skipping serving STH recalculation")
		return
	}

	countBySize := make(map[int64]int)
	bestBySize := make(map[int64]ctsth.SignedTreeHead)
	// Visit nodes in node_id order so equal-timestamp ties resolve the
	// same way on every recomputation.
	nodeIDs := make([]string, 0, len(c.allNodeStates))
	for id := range c.allNodeStates {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)
	for _, id := range nodeIDs {
		node := c.allNodeStates[id]
		if node.NewestSTH == nil {
			continue
		}
		size := node.NewestSTH.TreeSize
		if size < 0 {
			panic(fmt.Sprintf("clusterstate: negative tree_size %d observed for node %q", size, node.NodeID))
		}
		countBySize[size]++
		if node.NewestSTH.Timestamp > bestBySize[size].Timestamp {
			bestBySize[size] = *node.NewestSTH
		}
	}

	sizes := make([]int64, 0, len(countBySize))
	for size := range countBySize {
		sizes = append(sizes, size)
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i] > sizes[j] })

	var currentSize int64
	if c.calculatedServingSTH != nil {
		currentSize = c.calculatedServingSTH.TreeSize
	}

	total := len(c.allNodeStates)
	var seen int
	for _, size := range sizes {
		if size < currentSize {
			break
		}
		seen += countBySize[size]
		fraction := 0.0
		if total > 0 {
			fraction = float64(seen) / float64(total)
		}
		if fraction >= c.clusterConfig.MinimumServingFraction && seen >= c.clusterConfig.MinimumServingNodes {
			sth := bestBySize[size]
			c.calculatedServingSTH = &sth
			metrics.CalculatedServingTreeSize.Set(float64(size))
			logutil.Infof(c.logger, "clusterstate: can serve @%d with %d nodes (%.1f%% of cluster)", size, seen, fraction*100)

			if c.election.IsMaster() {
				c.updateRequired = true
				c.cond.Broadcast()
			}
			return
		}
	}

	metrics.QuorumUnavailableTotal.Inc()
	logutil.Warnf(c.logger, "clusterstate: failed to determine suitable serving STH")
}

// -----------------------------------------------------------------------
// §4.4 Election participation decision
// -----------------------------------------------------------------------

// determineElectionParticipation must be called with c.mu held.
func (c *Controller) determineElectionParticipation() {
	defer func() {
		participating := c.actualServingSTH != nil && c.actualServingSTH.TreeSize <= c.localNodeState.ContiguousTreeSize
		if participating {
			metrics.ElectionParticipating.Set(1)
		} else {
			metrics.ElectionParticipating.Set(0)
		}
	}()

	if c.actualServingSTH == nil {
		logutil.Warnf(c.logger, "clusterstate: cluster has no serving STH - leaving election")
		c.election.StopElection()
		return
	}
	if c.actualServingSTH.TreeSize > c.localNodeState.ContiguousTreeSize {
		logutil.Infof(c.logger, "clusterstate: serving STH tree_size (%d) > local contiguous_tree_size (%d), leaving election",
			c.actualServingSTH.TreeSize, c.localNodeState.ContiguousTreeSize)
		c.election.StopElection()
		return
	}
	c.election.StartElection()
}

// -----------------------------------------------------------------------
// §4.5 Publisher task
// -----------------------------------------------------------------------

// publishLoop owns the write path from calculatedServingSTH to the store.
// It releases the mutex before performing the (potentially slow) store
// write so concurrent watch callbacks can keep mutating state, and
// re-checks mastership immediately before writing to tolerate losing
// election mid-flight without a spurious publication race.
func (c *Controller) publishLoop() {
	defer close(c.pubDone)

	for {
		c.mu.Lock()
		for !c.updateRequired && !c.exiting {
			c.cond.Wait()
		}
		if c.exiting {
			c.mu.Unlock()
			return
		}
		if c.calculatedServingSTH == nil {
			panic("clusterstate: update_required set without a calculated serving STH")
		}
		sth := *c.calculatedServingSTH
		c.updateRequired = false
		c.mu.Unlock()

		if !c.election.IsMaster() {
			metrics.ServingSTHPublishSkippedTotal.Inc()
			metrics.IsMaster.Set(0)
			continue
		}
		ctx, end := tracing.StartSpan(context.Background(), "clusterstate.PublishServingSTH")
		err := c.store.SetServingSTH(ctx, sth)
		end()
		if err != nil {
			metrics.StoreWriteFailuresTotal.WithLabelValues("SetServingSTH").Inc()
			logutil.Warnf(c.logger, "clusterstate: SetServingSTH failed: %v", err)
			continue
		}
		metrics.ServingSTHPublishedTotal.Inc()
		metrics.IsMaster.Set(1)
	}
}

// -----------------------------------------------------------------------
// §6 Controller public API
// -----------------------------------------------------------------------

// GetCalculatedServingSTH returns this node's current candidate serving
// STH, or ErrNoCalculatedSTH if none has ever been successfully computed.
func (c *Controller) GetCalculatedServingSTH() (ctsth.SignedTreeHead, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calculatedServingSTH == nil {
		return ctsth.SignedTreeHead{}, ErrNoCalculatedSTH
	}
	return *c.calculatedServingSTH, nil
}

// GetLocalNodeState returns a copy of this node's current published state.
func (c *Controller) GetLocalNodeState() ctsth.ClusterNodeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localNodeState
}
