// Package audittest provides a scripted Auditor for tests.
package audittest

import (
	"context"
	"sync"
	"time"

	"github.com/PentesterFlow/SiteAudit/internal/audit"
	"github.com/PentesterFlow/SiteAudit/internal/browser"
)

// Auditor navigates the session like a real engine and then returns
// scripted outcomes per URL.
type Auditor struct {
	// Score is used for every category of a successful report.
	Score float64

	// SkipNavigate audits without touching the session.
	SkipNavigate bool

	mu      sync.Mutex
	fail    map[string][]error
	invalid map[string]bool
	panics  map[string]bool
	calls   []string
}

// New creates an auditor scoring every page 80.
func New() *Auditor {
	return &Auditor{
		Score:   80,
		fail:    make(map[string][]error),
		invalid: make(map[string]bool),
		panics:  make(map[string]bool),
	}
}

// FailOn makes audits of url return errs in turn. Once the list is used up
// the audit succeeds.
func (a *Auditor) FailOn(url string, errs ...error) *Auditor {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fail[url] = append(a.fail[url], errs...)
	return a
}

// InvalidOn makes audits of url return a report that fails Validate.
func (a *Auditor) InvalidOn(url string) *Auditor {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.invalid[url] = true
	return a
}

// PanicOn makes audits of url panic.
func (a *Auditor) PanicOn(url string) *Auditor {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.panics[url] = true
	return a
}

// Calls returns every audited URL, in order, including retries.
func (a *Auditor) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.calls))
	copy(out, a.calls)
	return out
}

// Audit implements audit.Auditor.
func (a *Auditor) Audit(ctx context.Context, url string, session browser.Session) (*audit.Report, error) {
	a.mu.Lock()
	a.calls = append(a.calls, url)
	var err error
	if errs := a.fail[url]; len(errs) > 0 {
		err, a.fail[url] = errs[0], errs[1:]
	}
	invalid := a.invalid[url]
	panics := a.panics[url]
	a.mu.Unlock()

	if panics {
		panic("audittest: scripted panic for " + url)
	}

	if !a.SkipNavigate && session != nil {
		if _, navErr := session.Navigate(ctx, url, browser.NavigateOptions{Timeout: time.Second, WaitUntil: browser.WaitLoad}); navErr != nil {
			return nil, navErr
		}
	}

	if err != nil {
		return nil, err
	}
	if invalid {
		return &audit.Report{URL: url, Engine: "scripted"}, nil
	}

	cat := func() *audit.Category {
		return &audit.Category{Score: a.Score, Issues: []audit.Issue{}}
	}
	r := &audit.Report{
		URL:           url,
		Engine:        "scripted",
		FetchedAt:     time.Now().UTC(),
		Performance:   cat(),
		Accessibility: cat(),
		BestPractices: cat(),
		SEO:           cat(),
	}
	r.Performance.Metrics = map[string]audit.Metric{"fcp": {DisplayValue: "1.0 s", NumericValue: 1000, Score: 93}}
	return r, nil
}
