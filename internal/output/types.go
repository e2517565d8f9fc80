package output

import (
	"time"

	"github.com/PentesterFlow/SiteAudit/pkg/crawler"
)

// Summary condenses a scan result into per-page category scores.
type Summary struct {
	Seed       string        `json:"seed"`
	Discovered int           `json:"discovered"`
	Audited    int           `json:"audited"`
	Skipped    int           `json:"skipped"`
	Duration   time.Duration `json:"duration"`
	Pages      []PageScores  `json:"pages"`
	Average    Scores        `json:"average"`
}

// PageScores holds the category scores of one audited page.
type PageScores struct {
	URL string `json:"url"`
	Scores
}

// Scores are the four category scores, 0-100.
type Scores struct {
	Performance   float64 `json:"performance"`
	Accessibility float64 `json:"accessibility"`
	BestPractices float64 `json:"bestPractices"`
	SEO           float64 `json:"seo"`
}

// Summarize builds the summary of result. Averages are rounded to whole
// points and are zero when nothing was audited.
func Summarize(result *crawler.ScanResult) *Summary {
	s := &Summary{
		Seed:       result.Seed,
		Discovered: len(result.Discovered),
		Audited:    len(result.Results),
		Skipped:    len(result.Skipped),
		Duration:   result.Duration(),
		Pages:      make([]PageScores, 0, len(result.Results)),
	}

	var sum Scores
	for _, page := range result.Results {
		r := page.Report
		if r == nil {
			continue
		}
		ps := PageScores{URL: page.URL}
		if r.Performance != nil {
			ps.Performance = r.Performance.Score
		}
		if r.Accessibility != nil {
			ps.Accessibility = r.Accessibility.Score
		}
		if r.BestPractices != nil {
			ps.BestPractices = r.BestPractices.Score
		}
		if r.SEO != nil {
			ps.SEO = r.SEO.Score
		}
		s.Pages = append(s.Pages, ps)

		sum.Performance += ps.Performance
		sum.Accessibility += ps.Accessibility
		sum.BestPractices += ps.BestPractices
		sum.SEO += ps.SEO
	}

	if n := float64(len(s.Pages)); n > 0 {
		s.Average = Scores{
			Performance:   roundScore(sum.Performance / n),
			Accessibility: roundScore(sum.Accessibility / n),
			BestPractices: roundScore(sum.BestPractices / n),
			SEO:           roundScore(sum.SEO / n),
		}
	}
	return s
}

func roundScore(v float64) float64 {
	return float64(int64(v + 0.5))
}
