// Package bootstrap assembles a runnable cluster state controller node
// from a flat Config: it wires up an etcd client, picks an election
// backend, constructs the controller, and starts the debug status server.
package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ctlogs/cluster-state-controller/pkg/clusterstate"
	"github.com/ctlogs/cluster-state-controller/pkg/election"
	electionetcd "github.com/ctlogs/cluster-state-controller/pkg/election/etcd"
	raftelect "github.com/ctlogs/cluster-state-controller/pkg/election/raft"
	"github.com/ctlogs/cluster-state-controller/pkg/httpstatus"
	tlsx "github.com/ctlogs/cluster-state-controller/pkg/security/tlsconfig"
	storeetcd "github.com/ctlogs/cluster-state-controller/pkg/store/etcd"
)

// Config defines high-level inputs to assemble a cluster state controller
// node with sensible defaults.
type Config struct {
	// NodeID is this node's opaque identity. Defaults to a generated
	// UUID if empty.
	NodeID   string
	Hostname string
	LogPort  int

	// EtcdEndpoints is the etcd v3 client endpoint list backing both the
	// consistent store and (when ElectionBackend is "etcd") election.
	EtcdEndpoints []string
	EtcdKeyPrefix string
	DialTimeout   time.Duration

	// ElectionBackend selects "etcd" (default) or "raft".
	ElectionBackend    string
	ElectionTTLSeconds int

	// RaftBindAddr, RaftDataDir, RaftBootstrap, RaftPeers configure the
	// raft election backend. Ignored unless ElectionBackend == "raft".
	RaftBindAddr  string
	RaftDataDir   string
	RaftBootstrap bool
	RaftPeers     []raftelect.Peer

	// StatusAddr binds the debug status HTTP server, e.g. ":8081".
	// Leave empty to disable it.
	StatusAddr string

	// TLS configures mTLS for the etcd client and the status server.
	TLSEnable     bool
	TLSCA         string
	TLSCert       string
	TLSKey        string
	TLSServerName string
	TLSSkipVerify bool

	Logger *log.Logger
}

// Node is an assembled, running cluster state controller node. Close
// unwinds every component it started.
type Node struct {
	Controller *clusterstate.Controller

	etcdClient   *clientv3.Client
	statusServer *httpstatus.Server
	cancel       context.CancelFunc
}

// Build assembles a Node from cfg. The controller is already watching
// and publishing once Build returns, since that is how clusterstate.New
// behaves; the status server (if configured) is not yet listening until
// Run is called.
func Build(cfg Config) (*Node, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}
	if cfg.EtcdKeyPrefix == "" {
		cfg.EtcdKeyPrefix = "/ct-cluster-state"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	var tlsCfg *tls.Config
	if cfg.TLSEnable {
		topts := tlsx.Options{
			Enable:             true,
			CAFile:             cfg.TLSCA,
			CertFile:           cfg.TLSCert,
			KeyFile:            cfg.TLSKey,
			InsecureSkipVerify: cfg.TLSSkipVerify,
			ServerName:         cfg.TLSServerName,
		}
		clientTLS, err := topts.ClientHotReload()
		if err != nil {
			return nil, fmt.Errorf("bootstrap: tls client config: %w", err)
		}
		tlsCfg = clientTLS
	}

	etcdClient, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.EtcdEndpoints,
		DialTimeout: cfg.DialTimeout,
		TLS:         tlsCfg,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: etcd client: %w", err)
	}

	st := storeetcd.New(etcdClient, cfg.EtcdKeyPrefix)

	el, err := buildElection(cfg, etcdClient)
	if err != nil {
		_ = etcdClient.Close()
		return nil, err
	}

	controller, err := clusterstate.New(st, el, clusterstate.Options{
		NodeID:   cfg.NodeID,
		Hostname: cfg.Hostname,
		LogPort:  cfg.LogPort,
		Logger:   cfg.Logger,
	})
	if err != nil {
		_ = etcdClient.Close()
		return nil, fmt.Errorf("bootstrap: controller: %w", err)
	}

	node := &Node{Controller: controller, etcdClient: etcdClient}

	if cfg.StatusAddr != "" {
		var statusTLS *tls.Config
		if cfg.TLSEnable {
			topts := tlsx.Options{Enable: true, CertFile: cfg.TLSCert, KeyFile: cfg.TLSKey, CAFile: cfg.TLSCA}
			if statusTLS, err = topts.ServerHotReload(); err != nil {
				controller.Close()
				_ = etcdClient.Close()
				return nil, fmt.Errorf("bootstrap: tls server config: %w", err)
			}
		}
		srv := httpstatus.NewServer(cfg.StatusAddr, controller, cfg.Logger)
		if statusTLS != nil {
			srv.UseTLS(statusTLS)
		}
		node.statusServer = srv
	}

	return node, nil
}

// buildElection constructs the election.Election backend named by
// cfg.ElectionBackend. "etcd" (the default) shares the store's etcd
// client; "raft" runs its own standalone consensus group.
func buildElection(cfg Config, etcdClient *clientv3.Client) (election.Election, error) {
	switch cfg.ElectionBackend {
	case "raft":
		el, err := raftelect.New(raftelect.Options{
			NodeID:    cfg.NodeID,
			Bootstrap: cfg.RaftBootstrap,
			Peers:     cfg.RaftPeers,
			BindAddr:  cfg.RaftBindAddr,
			DataDir:   cfg.RaftDataDir,
			Logger:    cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("bootstrap: raft election: %w", err)
		}
		return el, nil
	case "", "etcd":
		return electionetcd.New(etcdClient, cfg.EtcdKeyPrefix+"/election", cfg.NodeID, cfg.ElectionTTLSeconds, cfg.Logger), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown election backend %q", cfg.ElectionBackend)
	}
}

// Run builds a Node and starts its status server (if configured). The
// returned Node keeps running until Close is called; Run does not block.
func Run(ctx context.Context, cfg Config) (*Node, error) {
	node, err := Build(cfg)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	node.cancel = cancel

	if node.statusServer != nil {
		if err := node.statusServer.Start(runCtx); err != nil {
			node.Close()
			return nil, fmt.Errorf("bootstrap: status server: %w", err)
		}
	}

	return node, nil
}

// Close tears down every component Build/Run started, in reverse order,
// aggregating any errors.
func (n *Node) Close() error {
	var merr *multierror.Error

	if n.cancel != nil {
		n.cancel()
	}
	if n.statusServer != nil {
		if err := n.statusServer.Stop(context.Background()); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("status server: %w", err))
		}
	}
	if n.Controller != nil {
		n.Controller.Close()
	}
	if n.etcdClient != nil {
		if err := n.etcdClient.Close(); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("etcd client: %w", err))
		}
	}
	return merr.ErrorOrNil()
}
