// Package queue provides the URL frontier used during discovery.
package queue

// Queue defines the interface for URL frontiers.
type Queue interface {
	// Push appends an entry. Entries already queued are ignored.
	Push(entry *Entry) error

	// Pop removes and returns the oldest entry.
	Pop() (*Entry, error)

	// Len returns the number of queued entries.
	Len() int

	// IsEmpty returns true if nothing is queued.
	IsEmpty() bool

	// Contains reports whether a URL is currently queued.
	Contains(url string) bool

	// Close releases the queue. Further calls fail with ErrQueueClosed.
	Close() error
}
