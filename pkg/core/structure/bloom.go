package structure

import (
	"hash/fnv"
	"math"
	"sync"
)

// BloomFilter answers "definitely absent" for byte keys. Deleted keys stay set
// until Reset, so a positive answer always needs confirming.
type BloomFilter struct {
	bitset []bool
	k      uint
	m      uint
	count  uint
	lock   sync.RWMutex
}

func NewBloomFilter(n uint, p float64) *BloomFilter {
	// m = - (n * ln(p)) / (ln(2)^2)
	// k = (m / n) * ln(2)
	if n == 0 {
		n = 1
	}
	m := uint(math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)))
	if m == 0 {
		m = 1
	}
	k := uint(math.Ceil((float64(m) / float64(n)) * math.Ln2))
	if k == 0 {
		k = 1
	}

	return &BloomFilter{
		bitset: make([]bool, m),
		k:      k,
		m:      m,
	}
}

func (bf *BloomFilter) Add(key []byte) {
	bf.lock.Lock()
	defer bf.lock.Unlock()

	h1, h2 := hashes(key)
	for i := uint(0); i < bf.k; i++ {
		pos := (h1 + uint32(i)*h2) % uint32(bf.m)
		bf.bitset[pos] = true
	}
	bf.count++
}

func (bf *BloomFilter) Contains(key []byte) bool {
	bf.lock.RLock()
	defer bf.lock.RUnlock()

	h1, h2 := hashes(key)
	for i := uint(0); i < bf.k; i++ {
		pos := (h1 + uint32(i)*h2) % uint32(bf.m)
		if !bf.bitset[pos] {
			return false
		}
	}
	return true
}

// Reset clears every bit.
func (bf *BloomFilter) Reset() {
	bf.lock.Lock()
	defer bf.lock.Unlock()
	for i := range bf.bitset {
		bf.bitset[i] = false
	}
	bf.count = 0
}

// Hash32 is the FNV-1a hash used for both filter probing and hash-order buckets.
func Hash32(key []byte) uint32 {
	h := fnv.New32a()
	h.Write(key)
	return h.Sum32()
}

func hashes(key []byte) (uint32, uint32) {
	h1 := Hash32(key)
	h := fnv.New32()
	h.Write(key)
	// An odd step visits distinct positions for every probe.
	return h1, h.Sum32() | 1
}

func (bf *BloomFilter) Stats() map[string]interface{} {
	bf.lock.RLock()
	defer bf.lock.RUnlock()
	return map[string]interface{}{
		"bloom_bits_size": bf.m,
		"bloom_hashes":    bf.k,
		"bloom_count":     bf.count,
	}
}
