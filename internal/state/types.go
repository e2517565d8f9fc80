package state

import (
	"encoding/json"
	"time"
)

// StoredReport is a finished scan kept for later retrieval.
type StoredReport struct {
	ID           string          `json:"id"`
	URL          string          `json:"url"`
	CreatedAt    time.Time       `json:"created_at"`
	PagesScanned int             `json:"pages_scanned"`
	TotalPages   int             `json:"total_pages"`
	Payload      json.RawMessage `json:"payload"`
}

// ReportSummary is the listing view of a StoredReport.
type ReportSummary struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	CreatedAt    time.Time `json:"created_at"`
	PagesScanned int       `json:"pages_scanned"`
	TotalPages   int       `json:"total_pages"`
}

// Summary returns the listing view of r.
func (r *StoredReport) Summary() ReportSummary {
	return ReportSummary{
		ID:           r.ID,
		URL:          r.URL,
		CreatedAt:    r.CreatedAt,
		PagesScanned: r.PagesScanned,
		TotalPages:   r.TotalPages,
	}
}
