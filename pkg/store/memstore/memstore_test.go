package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/ctlogs/cluster-state-controller/pkg/ctsth"
	"github.com/ctlogs/cluster-state-controller/pkg/store"
)

func TestStore_WatchDeliversExistingStateBeforeUpdates(t *testing.T) {
	s := New()
	if err := s.SetClusterNodeState(context.Background(), ctsth.ClusterNodeState{NodeID: "n1"}); err != nil {
		t.Fatalf("SetClusterNodeState: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	received := make(chan []store.Update[ctsth.ClusterNodeState], 1)
	go func() {
		_ = s.WatchClusterNodeStates(ctx, func(u []store.Update[ctsth.ClusterNodeState]) {
			select {
			case received <- u:
			default:
			}
		})
	}()

	select {
	case got := <-received:
		if len(got) != 1 || got[0].Value.NodeID != "n1" {
			t.Fatalf("unexpected initial delivery: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for initial delivery")
	}
}

func TestStore_DeleteClusterNodeState_UnknownPanics(t *testing.T) {
	s := New()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic deleting unknown node")
		}
	}()
	s.DeleteClusterNodeState("does-not-exist")
}

func TestStore_ServingSTHRoundTrip(t *testing.T) {
	s := New()
	if _, ok := s.ServingSTH(); ok {
		t.Fatalf("expected no serving STH initially")
	}

	want := ctsth.SignedTreeHead{TreeSize: 5, Timestamp: 100}
	if err := s.SetServingSTH(context.Background(), want); err != nil {
		t.Fatalf("SetServingSTH: %v", err)
	}
	got, ok := s.ServingSTH()
	if !ok || got.TreeSize != want.TreeSize {
		t.Fatalf("got %+v ok=%v, want %+v", got, ok, want)
	}

	s.ClearServingSTH()
	if _, ok := s.ServingSTH(); ok {
		t.Fatalf("expected no serving STH after clear")
	}
}
