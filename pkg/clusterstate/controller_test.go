package clusterstate

import (
	"context"
	"testing"
	"time"

	"github.com/ctlogs/cluster-state-controller/pkg/ctsth"
	"github.com/ctlogs/cluster-state-controller/pkg/election/memelection"
	"github.com/ctlogs/cluster-state-controller/pkg/store/memstore"
)

const pollTimeout = 2 * time.Second

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(pollTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", pollTimeout)
}

func newTestController(t *testing.T, nodeID string) (*Controller, *memstore.Store, *memelection.Election) {
	t.Helper()
	st := memstore.New()
	el := memelection.New()
	c, err := New(st, el, Options{NodeID: nodeID, Hostname: "localhost", LogPort: 8080})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c, st, el
}

func sth(size, ts int64) ctsth.SignedTreeHead {
	return ctsth.SignedTreeHead{TreeSize: size, Timestamp: ts}
}

// Scenario: with no config yet, a node's own STH update does not crash and
// produces no calculated serving STH.
func TestCalculateServingSTH_NoConfigYet(t *testing.T) {
	c, _, _ := newTestController(t, "n1")

	c.NewTreeHead(sth(10, 100))
	c.ContiguousTreeSizeUpdated(10)

	if _, err := c.GetCalculatedServingSTH(); err != ErrNoCalculatedSTH {
		t.Fatalf("expected ErrNoCalculatedSTH, got %v", err)
	}
}

// Scenario A: a single-node cluster with a lenient quorum calculates its
// own STH as the serving STH.
func TestCalculateServingSTH_SingleNodeQuorum(t *testing.T) {
	c, st, _ := newTestController(t, "n1")
	st.SetClusterConfig(ctsth.ClusterConfig{MinimumServingNodes: 1, MinimumServingFraction: 1.0})

	c.NewTreeHead(sth(42, 1000))
	c.ContiguousTreeSizeUpdated(42)

	eventually(t, func() bool {
		got, err := c.GetCalculatedServingSTH()
		return err == nil && got.TreeSize == 42
	})
}

// Scenario B: quorum requires a majority; with 3 nodes and a 2-node floor,
// the calculated STH lands on the largest size at least 2 nodes have
// reached, not the single most-advanced node's size.
func TestCalculateServingSTH_MajorityQuorum(t *testing.T) {
	c, st, _ := newTestController(t, "n1")
	st.SetClusterConfig(ctsth.ClusterConfig{MinimumServingNodes: 2, MinimumServingFraction: 0})

	c.NewTreeHead(sth(100, 500))
	c.ContiguousTreeSizeUpdated(100)

	if err := st.SetClusterNodeState(context.Background(), ctsth.ClusterNodeState{NodeID: "n2", NewestSTH: ptrSTH(sth(90, 400)), ContiguousTreeSize: 90}); err != nil {
		t.Fatalf("seed n2: %v", err)
	}
	if err := st.SetClusterNodeState(context.Background(), ctsth.ClusterNodeState{NodeID: "n3", NewestSTH: ptrSTH(sth(50, 300)), ContiguousTreeSize: 50}); err != nil {
		t.Fatalf("seed n3: %v", err)
	}

	eventually(t, func() bool {
		got, err := c.GetCalculatedServingSTH()
		return err == nil && got.TreeSize == 90
	})
}

// Scenario: the calculated serving STH is monotonic even as a faster peer
// later falls behind or leaves; it never regresses below its current size.
func TestCalculateServingSTH_Monotonic(t *testing.T) {
	c, st, _ := newTestController(t, "n1")
	st.SetClusterConfig(ctsth.ClusterConfig{MinimumServingNodes: 1, MinimumServingFraction: 0})

	c.NewTreeHead(sth(100, 500))
	c.ContiguousTreeSizeUpdated(100)
	eventually(t, func() bool {
		got, err := c.GetCalculatedServingSTH()
		return err == nil && got.TreeSize == 100
	})

	st.DeleteClusterNodeState("n1")
	// n1 reappearing at a smaller size must not regress the calculated
	// serving STH below 100.
	if err := st.SetClusterNodeState(context.Background(), ctsth.ClusterNodeState{NodeID: "n1", NewestSTH: ptrSTH(sth(40, 600)), ContiguousTreeSize: 40}); err != nil {
		t.Fatalf("re-seed n1: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	got, err := c.GetCalculatedServingSTH()
	if err != nil || got.TreeSize != 100 {
		t.Fatalf("expected monotonic floor at 100, got %+v err=%v", got, err)
	}
}

// Scenario: with no quorum reachable, no serving STH is calculated.
func TestCalculateServingSTH_NoQuorum(t *testing.T) {
	c, st, _ := newTestController(t, "n1")
	st.SetClusterConfig(ctsth.ClusterConfig{MinimumServingNodes: 5, MinimumServingFraction: 0})

	c.NewTreeHead(sth(10, 100))
	c.ContiguousTreeSizeUpdated(10)

	time.Sleep(50 * time.Millisecond)
	if _, err := c.GetCalculatedServingSTH(); err != ErrNoCalculatedSTH {
		t.Fatalf("expected ErrNoCalculatedSTH, got %v", err)
	}
}

// Scenario C: election participation requires a serving STH no larger
// than this node's contiguous tree size.
func TestElectionParticipation_RequiresCaughtUp(t *testing.T) {
	c, st, el := newTestController(t, "n1")
	st.SetClusterConfig(ctsth.ClusterConfig{MinimumServingNodes: 1, MinimumServingFraction: 0})

	c.ContiguousTreeSizeUpdated(5)
	eventually(t, func() bool { return !el.Started() })

	if err := st.SetServingSTH(context.Background(), sth(10, 1000)); err != nil {
		t.Fatalf("SetServingSTH: %v", err)
	}
	eventually(t, func() bool { return !el.Started() })

	c.ContiguousTreeSizeUpdated(10)
	eventually(t, func() bool { return el.Started() })
}

// Scenario: with no serving STH known at all, a node must not participate
// in election.
func TestElectionParticipation_NoServingSTH(t *testing.T) {
	c, _, el := newTestController(t, "n1")
	c.ContiguousTreeSizeUpdated(100)
	time.Sleep(50 * time.Millisecond)
	if el.Started() {
		t.Fatalf("expected election not started with no serving STH known")
	}
}

// Scenario D/E: a serving STH calculated while the node is not master is
// not published; once a serving STH is known (so the node joins the
// election) and mastership is granted, the next calculation is published.
func TestPublishLoop_OnlyWhenMaster(t *testing.T) {
	c, st, el := newTestController(t, "n1")
	st.SetClusterConfig(ctsth.ClusterConfig{MinimumServingNodes: 1, MinimumServingFraction: 0})

	c.NewTreeHead(sth(7, 100))
	c.ContiguousTreeSizeUpdated(7)

	time.Sleep(50 * time.Millisecond)
	if _, ok := st.ServingSTH(); ok {
		t.Fatalf("serving STH published while not master")
	}

	// With no serving STH in the store the controller stays out of the
	// election; seed one it has caught up to so it joins.
	if err := st.SetServingSTH(context.Background(), sth(7, 100)); err != nil {
		t.Fatalf("SetServingSTH: %v", err)
	}
	eventually(t, func() bool { return el.Started() })
	el.GrantMastership()

	c.NewTreeHead(sth(8, 200))
	c.ContiguousTreeSizeUpdated(8)

	eventually(t, func() bool {
		got, ok := st.ServingSTH()
		return ok && got.TreeSize == 8
	})
}

// Local-state invariants: decreasing contiguous tree size is fatal.
func TestContiguousTreeSizeUpdated_RegressionPanics(t *testing.T) {
	c, _, _ := newTestController(t, "n1")
	c.ContiguousTreeSizeUpdated(10)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on contiguous tree size regression")
		}
	}()
	c.ContiguousTreeSizeUpdated(5)
}

// Local-state invariants: a negative contiguous tree size is fatal.
func TestContiguousTreeSizeUpdated_NegativePanics(t *testing.T) {
	c, _, _ := newTestController(t, "n1")

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on negative contiguous tree size")
		}
	}()
	c.ContiguousTreeSizeUpdated(-1)
}

// Local-state invariants: an out-of-order STH timestamp is fatal.
func TestNewTreeHead_TimestampRegressionPanics(t *testing.T) {
	c, _, _ := newTestController(t, "n1")
	c.NewTreeHead(sth(1, 1000))

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on STH timestamp regression")
		}
	}()
	c.NewTreeHead(sth(2, 500))
}

// SetNodeHostPort updates local state without disturbing the rest of it.
func TestSetNodeHostPort(t *testing.T) {
	c, _, _ := newTestController(t, "n1")
	c.NewTreeHead(sth(3, 100))
	c.SetNodeHostPort("example.com", 9090)

	got := c.GetLocalNodeState()
	if got.Hostname != "example.com" || got.LogPort != 9090 {
		t.Fatalf("unexpected local node state: %+v", got)
	}
	if got.NewestSTH == nil || got.NewestSTH.TreeSize != 3 {
		t.Fatalf("SetNodeHostPort clobbered newest STH: %+v", got)
	}
}

func TestNew_RejectsNilCollaboratorsAndEmptyNodeID(t *testing.T) {
	st := memstore.New()
	el := memelection.New()

	if _, err := New(nil, el, Options{NodeID: "n1"}); err != errNilStore {
		t.Fatalf("expected errNilStore, got %v", err)
	}
	if _, err := New(st, nil, Options{NodeID: "n1"}); err != errNilElection {
		t.Fatalf("expected errNilElection, got %v", err)
	}
	if _, err := New(st, el, Options{}); err != errEmptyNodeID {
		t.Fatalf("expected errEmptyNodeID, got %v", err)
	}
}

func ptrSTH(s ctsth.SignedTreeHead) *ctsth.SignedTreeHead { return &s }
