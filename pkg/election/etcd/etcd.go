// Package etcd is an election.Election backed by etcd's concurrency
// primitives: a Session provides the lease, and concurrency.Election
// layers campaign/resign semantics on top of it. Campaigning runs on a
// background goroutine so StartElection returns immediately, matching
// the controller's expectation that election calls never block.
package etcd

import (
	"context"
	"log"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/ctlogs/cluster-state-controller/pkg/election"
)

// Election is an election.Election backed by etcd.
type Election struct {
	client     *clientv3.Client
	prefix     string
	nodeID     string
	sessionTTL int
	logger     *log.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	isMaster bool
	wg       sync.WaitGroup
}

// New returns an Election that will campaign under prefix when started.
// sessionTTLSeconds controls how long etcd retains this node's lease
// after a crash before another candidate can win; 0 selects etcd's
// default (60s).
func New(client *clientv3.Client, prefix, nodeID string, sessionTTLSeconds int, logger *log.Logger) *Election {
	if logger == nil {
		logger = log.Default()
	}
	return &Election{client: client, prefix: prefix, nodeID: nodeID, sessionTTL: sessionTTLSeconds, logger: logger}
}

var _ election.Election = (*Election)(nil)

// StartElection is idempotent: calling it while already campaigning has
// no effect.
func (e *Election) StartElection() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.wg.Add(1)
	go e.campaignLoop(ctx)
}

// StopElection resigns any held mastership and withdraws this node's
// candidacy. Idempotent.
func (e *Election) StopElection() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	e.wg.Wait()

	e.mu.Lock()
	e.isMaster = false
	e.mu.Unlock()
}

func (e *Election) IsMaster() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isMaster
}

func (e *Election) campaignLoop(ctx context.Context) {
	defer e.wg.Done()

	opts := []concurrency.SessionOption{concurrency.WithContext(ctx)}
	if e.sessionTTL > 0 {
		opts = append(opts, concurrency.WithTTL(e.sessionTTL))
	}
	session, err := concurrency.NewSession(e.client, opts...)
	if err != nil {
		e.logger.Printf("election: failed to create etcd session: %v", err)
		return
	}
	defer session.Close()

	elec := concurrency.NewElection(session, e.prefix)
	if err := elec.Campaign(ctx, e.nodeID); err != nil {
		if ctx.Err() == nil {
			e.logger.Printf("election: campaign failed: %v", err)
		}
		return
	}

	e.mu.Lock()
	e.isMaster = true
	e.mu.Unlock()
	e.logger.Printf("election: %s won campaign at %s", e.nodeID, e.prefix)

	var resigning bool
	select {
	case <-ctx.Done():
		resigning = true
	case <-session.Done():
		e.logger.Printf("election: session lost, %s is no longer master", e.nodeID)
	}

	e.mu.Lock()
	e.isMaster = false
	e.mu.Unlock()

	if resigning {
		if err := elec.Resign(context.Background()); err != nil {
			e.logger.Printf("election: resign failed: %v", err)
		}
	}
}
