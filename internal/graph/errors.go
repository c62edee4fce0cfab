package graph

import "errors"

var (
	// ErrNodeNotFound is returned when an edge references a missing node.
	ErrNodeNotFound = errors.New("graph: node not found")

	// ErrEdgeNotFound is returned when deleting a nonexistent edge.
	ErrEdgeNotFound = errors.New("graph: edge not found")

	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("graph: store closed")
)
