package clusterstate

import "errors"

var (
	// ErrNoCalculatedSTH is returned by GetCalculatedServingSTH when this
	// node has never successfully computed a serving STH.
	ErrNoCalculatedSTH = errors.New("clusterstate: no calculated serving STH")

	errNilStore    = errors.New("clusterstate: nil store")
	errNilElection = errors.New("clusterstate: nil election")
	errEmptyNodeID = errors.New("clusterstate: empty NodeID")
)
