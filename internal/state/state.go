// Package state holds per-scan crawl state and the store for finished
// reports.
package state

// ReportStore persists finished scan reports.
type ReportStore interface {
	Save(r *StoredReport) error
	Load(id string) (*StoredReport, error)
	List(limit int) ([]ReportSummary, error)
	Delete(id string) error
	Close() error
}

// OpenStore returns a BoltDB store at path, or an in-memory store when path
// is empty.
func OpenStore(path string) (ReportStore, error) {
	if path == "" {
		return NewMemoryStore(), nil
	}
	return NewBoltStore(path)
}

var (
	_ ReportStore = (*BoltStore)(nil)
	_ ReportStore = (*MemoryStore)(nil)
)
