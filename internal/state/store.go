package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/PentesterFlow/SiteAudit/internal/errors"
)

var bucketReports = []byte("reports")

// NewReportID returns a time-ordered identifier, so byte order of IDs is
// creation order.
func NewReportID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// prepare fills ID and CreatedAt when unset.
func prepare(r *StoredReport) {
	if r.ID == "" {
		r.ID = NewReportID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
}

// BoltStore implements ReportStore using BoltDB.
type BoltStore struct {
	db   *bolt.DB
	path string
}

// NewBoltStore opens or creates a report database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketReports)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltStore{db: db, path: path}, nil
}

// Save stores r, assigning an ID if it has none.
func (s *BoltStore) Save(r *StoredReport) error {
	prepare(r)

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReports).Put([]byte(r.ID), data)
	})
}

// Load returns the report stored under id.
func (s *BoltStore) Load(id string) (*StoredReport, error) {
	var r StoredReport

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketReports).Get([]byte(id))
		if data == nil {
			return errors.ErrReportNotFound
		}
		return json.Unmarshal(data, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// List returns up to limit summaries, newest first. A limit of zero or
// less returns everything.
func (s *BoltStore) List(limit int) ([]ReportSummary, error) {
	out := make([]ReportSummary, 0)

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketReports).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var r StoredReport
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("corrupt report %s: %w", k, err)
			}
			out = append(out, r.Summary())
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// Delete removes the report stored under id.
func (s *BoltStore) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReports)
		if b.Get([]byte(id)) == nil {
			return errors.ErrReportNotFound
		}
		return b.Delete([]byte(id))
	})
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// MemoryStore implements ReportStore in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[string]*StoredReport
}

// NewMemoryStore creates a new in-memory report store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reports: make(map[string]*StoredReport)}
}

// Save stores r.
func (s *MemoryStore) Save(r *StoredReport) error {
	prepare(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.reports[r.ID] = &cp
	return nil
}

// Load returns the report stored under id.
func (s *MemoryStore) Load(id string) (*StoredReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[id]
	if !ok {
		return nil, errors.ErrReportNotFound
	}
	cp := *r
	return &cp, nil
}

// List returns up to limit summaries, newest first.
func (s *MemoryStore) List(limit int) ([]ReportSummary, error) {
	s.mu.RLock()
	out := make([]ReportSummary, 0, len(s.reports))
	for _, r := range s.reports {
		out = append(out, r.Summary())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes the report stored under id.
func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reports[id]; !ok {
		return errors.ErrReportNotFound
	}
	delete(s.reports, id)
	return nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}
