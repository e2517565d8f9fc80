package queue

import "time"

// Entry is a candidate URL awaiting a visit.
type Entry struct {
	URL       string    // Absolute, normalized URL
	Depth     int       // Link distance from the seed
	ParentURL string    // Page the link was found on; empty for the seed
	QueuedAt  time.Time // When the entry was pushed
}
