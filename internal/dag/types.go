package dag

import (
	"cmp"
	"sync"
)

// Graph is a set of nodes keyed by K and the edges between them. Safe for
// concurrent use.
type Graph[K cmp.Ordered] struct {
	mutex sync.RWMutex
	nodes map[K]*node[K]
}

// node keeps both edge directions so cycle detection and the topological
// order can walk either way without rebuilding an index.
type node[K cmp.Ordered] struct {
	id K
	// deps are the predecessors: an edge from each of them points here.
	deps map[K]*node[K]
	// dependents are the successors.
	dependents map[K]*node[K]
}
