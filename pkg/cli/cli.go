// Package cli wires the cluster state controller into cobra subcommands:
// "run" starts a node, "status" fetches another node's debug status.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ctlogs/cluster-state-controller/pkg/bootstrap"
	electionraft "github.com/ctlogs/cluster-state-controller/pkg/election/raft"
	"github.com/ctlogs/cluster-state-controller/pkg/observability/tracing"
)

// AddAll attaches the controller subcommands to root.
func AddAll(root *cobra.Command) {
	root.AddCommand(NewRunCmd())
	root.AddCommand(NewStatusCmd())
}

// NewRunCmd returns the "run" command used to start a controller node.
func NewRunCmd() *cobra.Command {
	var (
		id, hostname, etcdEndpointsCSV, etcdPrefix, electionBackend string
		statusAddr, raftBindAddr, raftDataDir, raftPeersCSV         string
		logPort, electionTTL                                        int
		raftBootstrap, traceEnable                                  bool
		tlsEnable, tlsSkip                                          bool
		tlsCA, tlsCert, tlsKey, tlsServerName                       string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a cluster state controller node",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(etcdEndpointsCSV) == 0 {
				return fmt.Errorf("missing --etcd-endpoints")
			}
			ctx, cancel := signalContext()
			defer cancel()

			if traceEnable {
				shutdown, err := tracing.Setup(true)
				if err != nil {
					log.Printf("tracing setup error: %v", err)
				} else {
					defer func() { _ = shutdown(context.Background()) }()
				}
			}

			cfg := bootstrap.Config{
				NodeID:             id,
				Hostname:           hostname,
				LogPort:            logPort,
				EtcdEndpoints:      splitCSV(etcdEndpointsCSV),
				EtcdKeyPrefix:      etcdPrefix,
				ElectionBackend:    electionBackend,
				ElectionTTLSeconds: electionTTL,
				RaftBindAddr:       raftBindAddr,
				RaftDataDir:        raftDataDir,
				RaftBootstrap:      raftBootstrap,
				RaftPeers:          parseRaftPeers(raftPeersCSV),
				StatusAddr:         statusAddr,
				TLSEnable:          tlsEnable,
				TLSCA:              tlsCA,
				TLSCert:            tlsCert,
				TLSKey:             tlsKey,
				TLSServerName:      tlsServerName,
				TLSSkipVerify:      tlsSkip,
				Logger:             log.Default(),
			}
			node, err := bootstrap.Run(ctx, cfg)
			if err != nil {
				return err
			}
			defer node.Close()

			fmt.Println("cluster state controller running. Press Ctrl+C to exit.")
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "node id (defaults to a generated UUID)")
	cmd.Flags().StringVar(&hostname, "hostname", "", "hostname this node serves its log on")
	cmd.Flags().IntVar(&logPort, "log-port", 0, "port this node serves its log on")
	cmd.Flags().StringVar(&etcdEndpointsCSV, "etcd-endpoints", "", "comma-separated etcd client endpoints (required)")
	cmd.Flags().StringVar(&etcdPrefix, "etcd-prefix", "/ct-cluster-state", "etcd key prefix for this cluster")
	cmd.Flags().StringVar(&electionBackend, "election-backend", "etcd", "master election backend: etcd|raft")
	cmd.Flags().IntVar(&electionTTL, "election-ttl", 0, "etcd election session TTL in seconds (0 = etcd default)")
	cmd.Flags().StringVar(&raftBindAddr, "raft-bind-addr", "", "raft election backend TCP bind addr (empty = in-memory loopback)")
	cmd.Flags().StringVar(&raftDataDir, "raft-data-dir", "", "raft election backend data dir (empty = in-memory)")
	cmd.Flags().BoolVar(&raftBootstrap, "raft-bootstrap", false, "bootstrap the raft election group (this node plus --raft-peers)")
	cmd.Flags().StringVar(&raftPeersCSV, "raft-peers", "", "comma-separated id=addr pairs for raft bootstrap")
	cmd.Flags().StringVar(&statusAddr, "status-addr", ":8081", "debug status HTTP bind addr (empty disables it)")
	cmd.Flags().BoolVar(&tlsEnable, "tls-enable", false, "enable mTLS for the etcd client and status server")
	cmd.Flags().StringVar(&tlsCA, "tls-ca", "", "path to CA cert (PEM)")
	cmd.Flags().StringVar(&tlsCert, "tls-cert", "", "path to node certificate (PEM)")
	cmd.Flags().StringVar(&tlsKey, "tls-key", "", "path to node private key (PEM)")
	cmd.Flags().BoolVar(&tlsSkip, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
	cmd.Flags().StringVar(&tlsServerName, "tls-server-name", "", "expected server name (for TLS validation)")
	cmd.Flags().BoolVar(&traceEnable, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
	return cmd
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Fetch a node's debug status as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/status", nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("status error: %w", err)
			}
			defer resp.Body.Close()

			var out map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}
			return json.NewEncoder(os.Stdout).Encode(out)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8081", "status HTTP address of a node (host:port)")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
	return cmd
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseRaftPeers(csv string) []electionraft.Peer {
	var peers []electionraft.Peer
	for _, pair := range splitCSV(csv) {
		id, addr, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		peers = append(peers, electionraft.Peer{ID: id, Addr: addr})
	}
	return peers
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()
	return ctx, cancel
}
