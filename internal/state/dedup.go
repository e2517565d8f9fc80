package state

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// VisitedSet records URLs a discovery pass has already attempted. A Bloom
// filter answers most misses without touching the exact set.
type VisitedSet struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	exact  map[string]struct{}
	order  []string
	fpRate float64
}

// NewVisitedSet creates a visited set sized for about estimatedItems URLs.
func NewVisitedSet(estimatedItems int) *VisitedSet {
	if estimatedItems < 1000 {
		estimatedItems = 1000
	}

	fpRate := 0.001

	return &VisitedSet{
		filter: bloom.NewWithEstimates(uint(estimatedItems), fpRate),
		exact:  make(map[string]struct{}),
		fpRate: fpRate,
	}
}

// Add marks url as visited and reports whether it was new.
func (v *VisitedSet) Add(url string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.exact[url]; exists {
		return false
	}
	v.filter.AddString(url)
	v.exact[url] = struct{}{}
	v.order = append(v.order, url)
	return true
}

// Has reports whether url was visited.
func (v *VisitedSet) Has(url string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if !v.filter.TestString(url) {
		return false
	}
	_, exists := v.exact[url]
	return exists
}

// Len returns the number of visited URLs.
func (v *VisitedSet) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.exact)
}

// URLs returns visited URLs in the order they were added.
func (v *VisitedSet) URLs() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]string, len(v.order))
	copy(out, v.order)
	return out
}

// FalsePositiveRate returns the filter's configured false positive rate.
func (v *VisitedSet) FalsePositiveRate() float64 {
	return v.fpRate
}
