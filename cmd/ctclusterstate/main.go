package main

import (
	"log"

	"github.com/spf13/cobra"

	clustercli "github.com/ctlogs/cluster-state-controller/pkg/cli"
)

func main() {
	if err := newRoot().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "ctclusterstate",
		Short:         "certificate transparency cluster state controller",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	clustercli.AddAll(root)
	return root
}
