package raftelect

import (
	"testing"
	"time"
)

func TestElection_SingleNodeBootstrapBecomesMaster(t *testing.T) {
	e, err := New(Options{NodeID: "n1", Bootstrap: true})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	e.StartElection()
	defer e.StopElection()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if e.IsMaster() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("node did not become master in time")
}

func TestElection_StopElectionDemotes(t *testing.T) {
	e, err := New(Options{NodeID: "n1", Bootstrap: true})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	e.StartElection()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && !e.IsMaster() {
		time.Sleep(20 * time.Millisecond)
	}
	if !e.IsMaster() {
		t.Fatalf("node did not become master in time")
	}

	e.StopElection()
	if e.IsMaster() {
		t.Fatalf("expected IsMaster false after StopElection")
	}
}

func TestElection_New_RejectsEmptyNodeID(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error for empty NodeID")
	}
}
