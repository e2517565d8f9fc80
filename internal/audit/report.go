package audit

import (
	"fmt"
	"math"
	"time"

	"github.com/PentesterFlow/SiteAudit/internal/errors"
)

// Category keys used in issues and logs.
const (
	CategoryPerformance   = "performance"
	CategoryAccessibility = "accessibility"
	CategoryBestPractices = "best-practices"
	CategorySEO           = "seo"
)

// Issue is one failed or partially passed check.
type Issue struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Score        float64 `json:"score"`  // 0-100 for this check
	Impact       float64 `json:"impact"` // Category points lost, 0-100
	DisplayValue string  `json:"displayValue,omitempty"`
}

// Metric is a measured performance value.
type Metric struct {
	DisplayValue string  `json:"displayValue"`
	NumericValue float64 `json:"numericValue"`
	Score        float64 `json:"score"`
}

// Category holds the score of one audit category.
type Category struct {
	Score   float64           `json:"score"`
	Issues  []Issue           `json:"issues"`
	Metrics map[string]Metric `json:"metrics,omitempty"`
}

// Report is the audit result for one page.
type Report struct {
	URL           string    `json:"url"`
	FinalURL      string    `json:"finalUrl,omitempty"`
	StatusCode    int       `json:"statusCode,omitempty"`
	Engine        string    `json:"engine"`
	FetchedAt     time.Time `json:"fetchedAt"`
	Performance   *Category `json:"performance"`
	Accessibility *Category `json:"accessibility"`
	BestPractices *Category `json:"bestPractices"`
	SEO           *Category `json:"seo"`
	ConsoleErrors []string  `json:"consoleErrors,omitempty"`
}

// Categories returns the categories keyed by their issue type.
func (r *Report) Categories() map[string]*Category {
	return map[string]*Category{
		CategoryPerformance:   r.Performance,
		CategoryAccessibility: r.Accessibility,
		CategoryBestPractices: r.BestPractices,
		CategorySEO:           r.SEO,
	}
}

// Validate rejects reports that are missing a category or carry scores
// outside 0-100. Such reports are skipped, never partially recorded.
func (r *Report) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: empty report", errors.ErrMalformedReport)
	}
	for name, c := range r.Categories() {
		if c == nil {
			return fmt.Errorf("%w: missing %s category", errors.ErrMalformedReport, name)
		}
		if math.IsNaN(c.Score) || c.Score < 0 || c.Score > 100 {
			return fmt.Errorf("%w: %s score %v out of range", errors.ErrMalformedReport, name, c.Score)
		}
	}
	return nil
}

// Placeholder returns a zero-score report with every category present.
// It stands in for the first result when a scan audited nothing.
func Placeholder() *Report {
	return &Report{
		Performance:   &Category{Issues: []Issue{}, Metrics: map[string]Metric{}},
		Accessibility: &Category{Issues: []Issue{}},
		BestPractices: &Category{Issues: []Issue{}},
		SEO:           &Category{Issues: []Issue{}},
	}
}

// round rounds v to the given number of decimals.
func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
