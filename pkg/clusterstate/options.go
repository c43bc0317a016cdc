package clusterstate

import "log"

// Options carries the construction-time parameters for a Controller. NodeID
// is the only required field; the store and election are arguments of New.
type Options struct {
	// NodeID is this node's opaque, immutable identifier.
	NodeID string
	// Hostname and LogPort seed the local node state; both can be
	// changed later via SetNodeHostPort.
	Hostname string
	LogPort  int

	// Logger receives operational messages. Defaults to log.Default().
	Logger *log.Logger
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Default()
	}
}
