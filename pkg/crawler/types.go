// Package crawler discovers the pages of a site and audits them one at a
// time, reporting progress after every audited page.
package crawler

import (
	"time"

	"github.com/PentesterFlow/SiteAudit/internal/audit"
)

// ScanStats is the progress snapshot pushed after every audited page.
type ScanStats struct {
	PagesScanned int      `json:"pagesScanned"`
	TotalPages   int      `json:"totalPages"`
	ScannedURLs  []string `json:"scannedUrls"`
}

// clone returns a copy that later appends cannot modify.
func (s ScanStats) clone() ScanStats {
	urls := make([]string, len(s.ScannedURLs))
	copy(urls, s.ScannedURLs)
	s.ScannedURLs = urls
	return s
}

// PageResult is one successfully audited page. It is never modified after
// it is appended to a ScanResult.
type PageResult struct {
	URL    string        `json:"url"`
	Report *audit.Report `json:"scores"`
}

// ScanResult is the outcome of a scan.
type ScanResult struct {
	ID          string        `json:"id,omitempty"`
	Seed        string        `json:"seed"`
	Discovered  []string      `json:"discovered"`
	Results     []PageResult  `json:"results"`
	Stats       ScanStats     `json:"stats"`
	Skipped     []SkippedPage `json:"skipped,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
}

// First returns the report of the first audited page, or nil.
func (r *ScanResult) First() *audit.Report {
	if r == nil || len(r.Results) == 0 {
		return nil
	}
	return r.Results[0].Report
}

// Duration returns how long the scan took.
func (r *ScanResult) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// SkippedPage records a page that yielded no result.
type SkippedPage struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

// Observer receives progress snapshots. Calls happen on the scanning
// goroutine, in order, one per audited page.
type Observer interface {
	OnProgress(stats ScanStats)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(stats ScanStats)

// OnProgress calls f.
func (f ObserverFunc) OnProgress(stats ScanStats) {
	f(stats)
}
