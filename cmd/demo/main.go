// demo runs a single cluster state controller node against in-memory
// store and election backends, feeding it a sequence of tree heads so its
// published serving STH can be observed on stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ctlogs/cluster-state-controller/pkg/clusterstate"
	"github.com/ctlogs/cluster-state-controller/pkg/ctsth"
	"github.com/ctlogs/cluster-state-controller/pkg/election/memelection"
	"github.com/ctlogs/cluster-state-controller/pkg/store/memstore"
)

func main() {
	var (
		id = flag.String("id", "node-1", "node id")
	)
	flag.Parse()

	ctx, cancel := signalContext()
	defer cancel()

	st := memstore.New()
	st.SetClusterConfig(ctsth.ClusterConfig{MinimumServingNodes: 1, MinimumServingFraction: 1.0})
	// A node only stays in the election while a serving STH exists, so seed
	// an empty one for the controller to start from.
	_ = st.SetServingSTH(ctx, ctsth.SignedTreeHead{})

	el := memelection.New()
	el.StartElection()
	el.GrantMastership()

	c, err := clusterstate.New(st, el, clusterstate.Options{NodeID: *id, Logger: log.Default()})
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	fmt.Println("demo started. Press Ctrl+C to exit.")
	// Let the watches deliver the seeded serving STH before the first push.
	time.Sleep(100 * time.Millisecond)

	var size int64
	for i := 0; i < 5; i++ {
		size += 10
		c.ContiguousTreeSizeUpdated(size)
		c.NewTreeHead(ctsth.SignedTreeHead{TreeSize: size, Timestamp: time.Now().UnixNano()})

		time.Sleep(200 * time.Millisecond)
		if sth, ok := st.ServingSTH(); ok {
			fmt.Printf("serving STH: size=%d\n", sth.TreeSize)
		}
	}

	<-ctx.Done()
	os.Exit(0)
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
