package audit

import (
	"fmt"
	"sort"
)

// check is one pass/fail rule inside a category.
type check struct {
	id          string
	title       string
	description string
	weight      float64
	run         func() (passed bool, display string)
}

// scoreChecks runs checks and weights the passed ones into a 0-100 score.
// Failed checks become issues whose impact is their share of the weight.
func scoreChecks(category string, checks []check) *Category {
	c := &Category{Issues: []Issue{}}

	var total, passed float64
	for _, ch := range checks {
		total += ch.weight
	}
	if total == 0 {
		c.Score = 100
		return c
	}

	for _, ch := range checks {
		ok, display := ch.run()
		if ok {
			passed += ch.weight
			continue
		}
		c.Issues = append(c.Issues, Issue{
			ID:           ch.id,
			Type:         category,
			Title:        ch.title,
			Description:  ch.description,
			Score:        0,
			Impact:       round(ch.weight/total*100, 1),
			DisplayValue: display,
		})
	}

	c.Score = round(passed/total*100, 0)
	sortIssues(c.Issues)
	return c
}

// sortIssues orders issues by impact, largest first.
func sortIssues(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Impact > issues[j].Impact
	})
}

// metricSpec describes how a timing maps to a score.
type metricSpec struct {
	key    string
	id     string
	title  string
	weight float64
	good   float64
	poor   float64
	unit   string
}

// performanceMetrics follow the lab thresholds of the usual web vitals.
// Weights add up to 100; tti is reported but not weighted.
var performanceMetrics = []metricSpec{
	{key: "fcp", id: "first-contentful-paint", title: "First Contentful Paint", weight: 10, good: 1800, poor: 3000, unit: "ms"},
	{key: "si", id: "speed-index", title: "Speed Index", weight: 10, good: 3400, poor: 5800, unit: "ms"},
	{key: "lcp", id: "largest-contentful-paint", title: "Largest Contentful Paint", weight: 25, good: 2500, poor: 4000, unit: "ms"},
	{key: "tbt", id: "total-blocking-time", title: "Total Blocking Time", weight: 30, good: 200, poor: 600, unit: "ms"},
	{key: "cls", id: "cumulative-layout-shift", title: "Cumulative Layout Shift", weight: 25, good: 0.1, poor: 0.25},
	{key: "tti", id: "interactive", title: "Time to Interactive", weight: 0, good: 3800, poor: 7300, unit: "ms"},
}

// metricScore maps a value to 0-100: 90 at good, 50 at poor, 0 at twice
// poor.
func metricScore(v, good, poor float64) float64 {
	switch {
	case v <= 0:
		return 100
	case v <= good:
		return 100 - 10*v/good
	case v <= poor:
		return 90 - 40*(v-good)/(poor-good)
	case v >= 2*poor:
		return 0
	default:
		return 50 * (2*poor - v) / poor
	}
}

// scoreMetrics builds the performance category from measured values
// keyed like performanceMetrics.
func scoreMetrics(values map[string]float64) *Category {
	c := &Category{Issues: []Issue{}, Metrics: make(map[string]Metric, len(performanceMetrics))}

	var total, weighted float64
	for _, m := range performanceMetrics {
		v := values[m.key]
		score := round(metricScore(v, m.good, m.poor), 0)
		display := formatMetric(v, m.unit)

		c.Metrics[m.key] = Metric{DisplayValue: display, NumericValue: round(v, 3), Score: score}

		if m.weight == 0 {
			continue
		}
		total += m.weight
		weighted += score * m.weight

		if score < 90 {
			c.Issues = append(c.Issues, Issue{
				ID:           m.id,
				Type:         CategoryPerformance,
				Title:        m.title,
				Description:  fmt.Sprintf("%s is %s; aim for under %s.", m.title, display, formatMetric(m.good, m.unit)),
				Score:        score,
				Impact:       round(m.weight*(100-score)/100, 1),
				DisplayValue: display,
			})
		}
	}

	if total > 0 {
		c.Score = round(weighted/total, 0)
	}
	sortIssues(c.Issues)
	return c
}

// formatMetric renders milliseconds as "850 ms" or "1.9 s" and unitless
// values with three decimals.
func formatMetric(v float64, unit string) string {
	if unit != "ms" {
		return fmt.Sprintf("%.3f", v)
	}
	if v < 1000 {
		return fmt.Sprintf("%.0f ms", v)
	}
	return fmt.Sprintf("%.1f s", v/1000)
}
