package partition

import (
	"bytes"
	"sort"

	"github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"recstore/pkg/core/structure"
	"recstore/pkg/metrics"
)

// ErrPartitionMisroute is returned when a routing callback yields an index
// outside of the configured partitions.
var ErrPartitionMisroute = errors.New("partition misroute")

// DefaultCacheSize bounds the route cache of callback Routers.
const DefaultCacheSize = 4096

// Router maps keys onto partition indexes. Routing is deterministic for
// the lifetime of a Router.
type Router struct {
	partitions int
	boundaries [][]byte
	callback   func(key []byte) int
	cache      *lru.Cache
}

// NewBoundaryRouter builds a Router of len(boundaries)+1 partitions. Keys
// less than or equal to boundaries[i], and greater than every earlier
// boundary, route to partition i. Remaining keys route to the last one.
func NewBoundaryRouter(boundaries ...[]byte) (*Router, error) {
	for i := 1; i < len(boundaries); i++ {
		if bytes.Compare(boundaries[i-1], boundaries[i]) >= 0 {
			return nil, errors.Errorf("boundaries must be strictly increasing (%q >= %q)",
				boundaries[i-1], boundaries[i])
		}
	}
	var own = make([][]byte, len(boundaries))
	for i, b := range boundaries {
		own[i] = append([]byte(nil), b...)
	}
	return &Router{partitions: len(own) + 1, boundaries: own}, nil
}

// NewCallbackRouter builds a Router of |partitions| partitions which routes
// through fn. Results are cached in an LRU of cacheSize entries, or
// DefaultCacheSize if cacheSize <= 0, so fn must be pure.
func NewCallbackRouter(partitions int, fn func(key []byte) int, cacheSize int) (*Router, error) {
	if partitions <= 0 {
		return nil, errors.Errorf("partition count must be positive (%d)", partitions)
	} else if fn == nil {
		return nil, errors.New("nil routing callback")
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	var cache, err = lru.New(cacheSize)
	if err != nil {
		panic(err.Error()) // Only errors on size <= 0.
	}
	return &Router{partitions: partitions, callback: fn, cache: cache}, nil
}

// NewHashRouter spreads keys over |partitions| partitions by key hash.
func NewHashRouter(partitions int) (*Router, error) {
	return NewCallbackRouter(partitions, func(key []byte) int {
		return int(structure.Hash32(key) % uint32(partitions))
	}, 0)
}

// Partitions is the number of partitions routed to.
func (r *Router) Partitions() int { return r.partitions }

// Boundaries of a boundary Router, or nil.
func (r *Router) Boundaries() [][]byte { return r.boundaries }

// Route returns the partition index of key.
func (r *Router) Route(key []byte) (int, error) {
	if r.callback == nil {
		return sort.Search(len(r.boundaries), func(i int) bool {
			return bytes.Compare(key, r.boundaries[i]) <= 0
		}), nil
	}

	if v, ok := r.cache.Get(string(key)); ok {
		return v.(int), nil
	}
	var p = r.callback(key)
	if p < 0 || p >= r.partitions {
		metrics.MisroutesTotal.Inc()
		return 0, errors.WithMessagef(ErrPartitionMisroute, "key %x routed to %d of %d partitions", key, p, r.partitions)
	}
	r.cache.Add(string(key), p)
	return p, nil
}
