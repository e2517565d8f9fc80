package queue

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrQueueEmpty  = errors.New("queue is empty")
	ErrQueueClosed = errors.New("queue is closed")
	ErrQueueFull   = errors.New("queue at capacity")
)

// MemoryQueue is a thread-safe in-memory FIFO queue. Popping in insertion
// order makes a crawl breadth-first.
type MemoryQueue struct {
	mu       sync.RWMutex
	items    []*Entry
	head     int
	urlSet   map[string]struct{}
	closed   bool
	capacity int
}

// NewMemoryQueue creates a new in-memory queue. A capacity of zero means
// unbounded.
func NewMemoryQueue(capacity int) *MemoryQueue {
	return &MemoryQueue{
		items:    make([]*Entry, 0, 64),
		urlSet:   make(map[string]struct{}),
		capacity: capacity,
	}
}

// Push appends an entry at the tail.
func (mq *MemoryQueue) Push(entry *Entry) error {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	if mq.closed {
		return ErrQueueClosed
	}

	if _, exists := mq.urlSet[entry.URL]; exists {
		return nil
	}

	if mq.capacity > 0 && len(mq.items)-mq.head >= mq.capacity {
		return ErrQueueFull
	}

	if entry.QueuedAt.IsZero() {
		entry.QueuedAt = time.Now()
	}

	mq.urlSet[entry.URL] = struct{}{}
	mq.items = append(mq.items, entry)
	return nil
}

// Pop removes and returns the head entry.
func (mq *MemoryQueue) Pop() (*Entry, error) {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	if mq.closed {
		return nil, ErrQueueClosed
	}

	if mq.head >= len(mq.items) {
		return nil, ErrQueueEmpty
	}

	entry := mq.items[mq.head]
	mq.items[mq.head] = nil
	mq.head++
	delete(mq.urlSet, entry.URL)

	// Reclaim the consumed prefix once it dominates the backing array.
	if mq.head > 32 && mq.head*2 >= len(mq.items) {
		mq.items = append(mq.items[:0], mq.items[mq.head:]...)
		mq.head = 0
	}

	return entry, nil
}

// Len returns the number of queued entries.
func (mq *MemoryQueue) Len() int {
	mq.mu.RLock()
	defer mq.mu.RUnlock()
	return len(mq.items) - mq.head
}

// IsEmpty returns true if the queue is empty.
func (mq *MemoryQueue) IsEmpty() bool {
	return mq.Len() == 0
}

// Contains checks if a URL is queued.
func (mq *MemoryQueue) Contains(url string) bool {
	mq.mu.RLock()
	defer mq.mu.RUnlock()
	_, exists := mq.urlSet[url]
	return exists
}

// URLs returns the queued URLs in pop order.
func (mq *MemoryQueue) URLs() []string {
	mq.mu.RLock()
	defer mq.mu.RUnlock()

	urls := make([]string, 0, len(mq.items)-mq.head)
	for _, e := range mq.items[mq.head:] {
		urls = append(urls, e.URL)
	}
	return urls
}

// Close closes the queue and drops its contents.
func (mq *MemoryQueue) Close() error {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	mq.closed = true
	mq.items = nil
	mq.head = 0
	mq.urlSet = nil
	return nil
}
