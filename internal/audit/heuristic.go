package audit

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/PentesterFlow/SiteAudit/internal/browser"
	"github.com/PentesterFlow/SiteAudit/internal/errors"
	"github.com/PentesterFlow/SiteAudit/internal/logger"
)

// timingScript gathers navigation timing, paint entries and buffered
// web-vitals observations. It resolves after a short settle delay so the
// buffered observers have reported.
const timingScript = `new Promise(resolve => {
	const nav = performance.getEntriesByType('navigation')[0] || {};
	const paint = performance.getEntriesByType('paint').find(e => e.name === 'first-contentful-paint');
	let lcp = 0, cls = 0, tbt = 0;
	const observe = (type, fn) => {
		try { new PerformanceObserver(list => list.getEntries().forEach(fn)).observe({type, buffered: true}); } catch (e) {}
	};
	observe('largest-contentful-paint', e => { lcp = Math.max(lcp, e.renderTime || e.loadTime || e.startTime); });
	observe('layout-shift', e => { if (!e.hadRecentInput) cls += e.value; });
	observe('longtask', e => { tbt += Math.max(0, e.duration - 50); });
	setTimeout(() => resolve({
		fcp: paint ? paint.startTime : 0,
		lcp: lcp,
		cls: cls,
		tbt: tbt,
		ttfb: nav.responseStart || 0,
		domContentLoaded: nav.domContentLoadedEventEnd || 0,
		load: nav.loadEventEnd || 0,
		transferSize: nav.transferSize || 0,
		resources: performance.getEntriesByType('resource').length,
		doctype: document.doctype !== null,
		https: location.protocol === 'https:'
	}), 250);
})`

// PageTimings is what timingScript reports.
type PageTimings struct {
	FCP              float64 `json:"fcp"`
	LCP              float64 `json:"lcp"`
	CLS              float64 `json:"cls"`
	TBT              float64 `json:"tbt"`
	TTFB             float64 `json:"ttfb"`
	DOMContentLoaded float64 `json:"domContentLoaded"`
	Load             float64 `json:"load"`
	TransferSize     float64 `json:"transferSize"`
	Resources        int     `json:"resources"`
	Doctype          bool    `json:"doctype"`
	HTTPS            bool    `json:"https"`
}

// metricValues maps timings onto the performance metric keys. Speed index
// and time to interactive are approximated by DOMContentLoaded and the load
// event.
func (t PageTimings) metricValues() map[string]float64 {
	return map[string]float64{
		"fcp": t.FCP,
		"si":  t.DOMContentLoaded,
		"lcp": t.LCP,
		"tbt": t.TBT,
		"cls": t.CLS,
		"tti": t.Load,
	}
}

// HeuristicAuditor scores a page from browser timings and a static pass
// over the rendered DOM. It needs nothing but the session.
type HeuristicAuditor struct {
	config Config
	log    *logger.Logger
}

// NewHeuristicAuditor creates a heuristic auditor.
func NewHeuristicAuditor(cfg Config, log *logger.Logger) *HeuristicAuditor {
	if log == nil {
		log = logger.Nop()
	}
	return &HeuristicAuditor{config: cfg, log: log}
}

// Audit navigates to pageURL and scores the loaded document.
func (a *HeuristicAuditor) Audit(ctx context.Context, pageURL string, session browser.Session) (*Report, error) {
	start := time.Now()

	waitUntil := a.config.WaitUntil
	if waitUntil == "" {
		waitUntil = browser.WaitLoad
	}
	nav, err := session.Navigate(ctx, pageURL, browser.NavigateOptions{
		Timeout:   a.config.NavigationTimeout,
		WaitUntil: waitUntil,
	})
	if err != nil {
		return nil, err
	}
	if err := checkNavigation(pageURL, nav); err != nil {
		return nil, err
	}

	var timings PageTimings
	if err := session.Evaluate(ctx, timingScript, &timings); err != nil {
		return nil, err
	}

	document, err := session.HTML(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
	if err != nil {
		return nil, errors.NewParseError(pageURL, "parse_html", err)
	}

	console := session.ConsoleErrors()
	if nav.URL != "" && !timings.HTTPS {
		timings.HTTPS = strings.HasPrefix(nav.URL, "https://")
	}

	report := &Report{
		URL:           pageURL,
		FinalURL:      nav.URL,
		StatusCode:    nav.StatusCode,
		Engine:        EngineHeuristic,
		FetchedAt:     time.Now().UTC(),
		Performance:   scoreMetrics(timings.metricValues()),
		Accessibility: scoreAccessibility(doc),
		BestPractices: scoreBestPractices(doc, timings, console),
		SEO:           scoreSEO(doc, nav),
		ConsoleErrors: console,
	}

	a.log.WithURL(pageURL).WithDuration(time.Since(start)).Debugf(
		"Audited (perf=%.0f a11y=%.0f bp=%.0f seo=%.0f)",
		report.Performance.Score, report.Accessibility.Score,
		report.BestPractices.Score, report.SEO.Score)

	return report, nil
}

// =============================================================================
// Accessibility
// =============================================================================

// scoreAccessibility walks the parsed DOM.
func scoreAccessibility(doc *goquery.Document) *Category {
	var root *html.Node
	if len(doc.Nodes) > 0 {
		root = doc.Nodes[0]
	}
	w := walkDocument(root)

	return scoreChecks(CategoryAccessibility, []check{
		{
			id: "image-alt", title: "Image elements have [alt] attributes", weight: 10,
			description: "Informative images need a text alternative for screen readers.",
			run:         countCheck(w.imagesWithoutAlt, "image"),
		},
		{
			id: "label", title: "Form elements have associated labels", weight: 10,
			description: "Labels let assistive technology announce form controls.",
			run:         countCheck(w.unlabeledControls(), "control"),
		},
		{
			id: "button-name", title: "Buttons have an accessible name", weight: 10,
			description: "A button without text, aria-label or title is announced as just \"button\".",
			run:         countCheck(w.unnamedButtons, "button"),
		},
		{
			id: "meta-viewport", title: "Zooming and scaling are not disabled", weight: 10,
			description: "user-scalable=no or a maximum-scale below 2 blocks users who need to zoom.",
			run:         func() (bool, string) { return !w.zoomDisabled, "" },
		},
		{
			id: "html-has-lang", title: "<html> element has a [lang] attribute", weight: 7,
			description: "Screen readers use the page language to pick a pronunciation.",
			run:         func() (bool, string) { return w.hasLang, "" },
		},
		{
			id: "link-name", title: "Links have a discernible name", weight: 7,
			description: "Link text tells users where a link goes.",
			run:         countCheck(w.unnamedLinks, "link"),
		},
		{
			id: "heading-order", title: "Heading elements appear in sequentially-descending order", weight: 3,
			description: "Skipping heading levels makes the page structure hard to navigate.",
			run:         func() (bool, string) { return !w.headingSkip, "" },
		},
		{
			id: "duplicate-id", title: "[id] attributes are unique", weight: 3,
			description: "Duplicate ids break label and aria references.",
			run:         countCheck(w.duplicateIDs, "duplicate"),
		},
	})
}

// countCheck passes when n is zero and otherwise shows the count.
func countCheck(n int, noun string) func() (bool, string) {
	return func() (bool, string) {
		if n == 0 {
			return true, ""
		}
		if n == 1 {
			return false, "1 " + noun
		}
		return false, fmt.Sprintf("%d %ss", n, noun)
	}
}

// domWalk is the result of one pass over the document tree.
type domWalk struct {
	hasLang          bool
	zoomDisabled     bool
	headingSkip      bool
	imagesWithoutAlt int
	unnamedButtons   int
	unnamedLinks     int
	duplicateIDs     int

	ids       map[string]int
	labelFor  map[string]bool
	controls  []*html.Node
	labelled  map[*html.Node]bool
	lastLevel int
}

func walkDocument(root *html.Node) *domWalk {
	w := &domWalk{
		ids:      make(map[string]int),
		labelFor: make(map[string]bool),
		labelled: make(map[*html.Node]bool),
	}
	if root != nil {
		w.visit(root, false)
	}
	for _, n := range w.ids {
		if n > 1 {
			w.duplicateIDs++
		}
	}
	return w
}

func (w *domWalk) visit(n *html.Node, inLabel bool) {
	if n.Type == html.ElementNode {
		if id := attr(n, "id"); id != "" {
			w.ids[id]++
		}

		switch n.Data {
		case "html":
			w.hasLang = strings.TrimSpace(attr(n, "lang")) != ""
		case "meta":
			if strings.EqualFold(attr(n, "name"), "viewport") {
				w.zoomDisabled = viewportBlocksZoom(attr(n, "content"))
			}
		case "img":
			if !hasAttr(n, "alt") && !strings.EqualFold(attr(n, "role"), "presentation") {
				w.imagesWithoutAlt++
			}
		case "label":
			if f := attr(n, "for"); f != "" {
				w.labelFor[f] = true
			}
			inLabel = true
		case "input", "select", "textarea":
			if isLabelable(n) {
				w.controls = append(w.controls, n)
				if inLabel || hasAccessibleAttr(n) {
					w.labelled[n] = true
				}
			}
			if n.Data == "input" {
				switch strings.ToLower(attr(n, "type")) {
				case "submit", "button", "reset":
					if strings.TrimSpace(attr(n, "value")) == "" && !hasAccessibleAttr(n) {
						w.unnamedButtons++
					}
				}
			}
		case "button":
			if strings.TrimSpace(textContent(n)) == "" && !hasAccessibleAttr(n) {
				w.unnamedButtons++
			}
		case "a":
			if hasAttr(n, "href") && strings.TrimSpace(textContent(n)) == "" && !hasAccessibleAttr(n) && !hasImageWithAlt(n) {
				w.unnamedLinks++
			}
		case "h1", "h2", "h3", "h4", "h5", "h6":
			level, _ := strconv.Atoi(n.Data[1:])
			if w.lastLevel > 0 && level > w.lastLevel+1 {
				w.headingSkip = true
			}
			w.lastLevel = level
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.visit(c, inLabel)
	}
}

// unlabeledControls counts form controls with no label of any kind.
func (w *domWalk) unlabeledControls() int {
	n := 0
	for _, c := range w.controls {
		if w.labelled[c] {
			continue
		}
		if id := attr(c, "id"); id != "" && w.labelFor[id] {
			continue
		}
		n++
	}
	return n
}

var maxScaleRe = regexp.MustCompile(`maximum-scale\s*=\s*([0-9.]+)`)

func viewportBlocksZoom(content string) bool {
	content = strings.ToLower(content)
	if strings.Contains(strings.ReplaceAll(content, " ", ""), "user-scalable=no") {
		return true
	}
	if m := maxScaleRe.FindStringSubmatch(content); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v < 2 {
			return true
		}
	}
	return false
}

func isLabelable(n *html.Node) bool {
	if n.Data != "input" {
		return true
	}
	switch strings.ToLower(attr(n, "type")) {
	case "hidden", "submit", "button", "reset", "image":
		return false
	}
	return true
}

func hasAccessibleAttr(n *html.Node) bool {
	return strings.TrimSpace(attr(n, "aria-label")) != "" ||
		strings.TrimSpace(attr(n, "aria-labelledby")) != "" ||
		strings.TrimSpace(attr(n, "title")) != ""
}

func hasImageWithAlt(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "img" && strings.TrimSpace(attr(c, "alt")) != "" {
			return true
		}
		if hasImageWithAlt(c) {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

// =============================================================================
// Best practices
// =============================================================================

var deprecatedTags = "font, center, marquee, blink, frameset, frame"

func scoreBestPractices(doc *goquery.Document, t PageTimings, console []string) *Category {
	return scoreChecks(CategoryBestPractices, []check{
		{
			id: "is-on-https", title: "Uses HTTPS", weight: 5,
			description: "Pages served over plain HTTP can be read and altered in transit.",
			run:         func() (bool, string) { return t.HTTPS, "" },
		},
		{
			id: "errors-in-console", title: "No browser errors logged to the console", weight: 2,
			description: "Console errors point at failed requests or broken scripts.",
			run:         countCheck(len(console), "error"),
		},
		{
			id: "doctype", title: "Page has the HTML doctype", weight: 1,
			description: "Without a doctype the browser renders in quirks mode.",
			run:         func() (bool, string) { return t.Doctype, "" },
		},
		{
			id: "charset", title: "Properly defines charset", weight: 1,
			description: "Declare the character encoding with <meta charset>.",
			run: func() (bool, string) {
				ok := doc.Find("meta[charset]").Length() > 0 ||
					doc.Find(`meta[http-equiv]`).FilterFunction(func(_ int, s *goquery.Selection) bool {
						v, _ := s.Attr("http-equiv")
						return strings.EqualFold(v, "content-type")
					}).Length() > 0
				return ok, ""
			},
		},
		{
			id: "external-anchors-use-rel-noopener", title: "Links to cross-origin destinations are safe", weight: 1,
			description: "target=_blank links without rel=noopener give the new page access to window.opener.",
			run: func() (bool, string) {
				n := doc.Find(`a[target="_blank"]`).FilterFunction(func(_ int, s *goquery.Selection) bool {
					rel := strings.ToLower(s.AttrOr("rel", ""))
					return !strings.Contains(rel, "noopener") && !strings.Contains(rel, "noreferrer")
				}).Length()
				return countCheck(n, "link")()
			},
		},
		{
			id: "deprecations", title: "Avoids deprecated HTML elements", weight: 1,
			description: "Presentational and frame elements are obsolete.",
			run:         countCheck(doc.Find(deprecatedTags).Length(), "element"),
		},
	})
}

// =============================================================================
// SEO
// =============================================================================

var genericLinkText = map[string]bool{
	"click here": true, "click this": true, "here": true, "more": true,
	"read more": true, "learn more": true, "go": true, "start": true, "this": true,
}

func scoreSEO(doc *goquery.Document, nav *browser.Navigation) *Category {
	meta := func(name string) (string, bool) {
		var content string
		found := false
		doc.Find("meta[name]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if strings.EqualFold(s.AttrOr("name", ""), name) {
				content, found = s.AttrOr("content", ""), true
				return false
			}
			return true
		})
		return content, found
	}

	return scoreChecks(CategorySEO, []check{
		{
			id: "http-status-code", title: "Page has successful HTTP status code", weight: 1,
			description: "Pages with unsuccessful status codes may not be indexed.",
			run:         func() (bool, string) { return nav == nil || nav.StatusCode == 0 || nav.OK, "" },
		},
		{
			id: "document-title", title: "Document has a <title> element", weight: 1,
			description: "The title is the headline shown in search results.",
			run:         func() (bool, string) { return strings.TrimSpace(doc.Find("title").First().Text()) != "", "" },
		},
		{
			id: "meta-description", title: "Document has a meta description", weight: 1,
			description: "Search engines show the description under the title.",
			run: func() (bool, string) {
				content, ok := meta("description")
				return ok && strings.TrimSpace(content) != "", ""
			},
		},
		{
			id: "viewport", title: "Has a <meta name=\"viewport\"> tag", weight: 1,
			description: "Without a viewport the page is not treated as mobile friendly.",
			run: func() (bool, string) {
				_, ok := meta("viewport")
				return ok, ""
			},
		},
		{
			id: "is-crawlable", title: "Page isn't blocked from indexing", weight: 1,
			description: "A robots meta tag with noindex keeps the page out of search results.",
			run: func() (bool, string) {
				content, _ := meta("robots")
				return !strings.Contains(strings.ToLower(content), "noindex"), ""
			},
		},
		{
			id: "link-text", title: "Links have descriptive text", weight: 1,
			description: "Text like \"click here\" tells search engines nothing about the target.",
			run: func() (bool, string) {
				n := doc.Find("a[href]").FilterFunction(func(_ int, s *goquery.Selection) bool {
					return genericLinkText[strings.ToLower(strings.TrimSpace(s.Text()))]
				}).Length()
				return countCheck(n, "link")()
			},
		},
		{
			id: "canonical", title: "Document has a valid rel=canonical", weight: 1,
			description: "A canonical link must be an absolute URL.",
			run: func() (bool, string) {
				href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href")
				if !ok {
					return true, ""
				}
				u, err := url.Parse(strings.TrimSpace(href))
				return err == nil && u.IsAbs() && u.Host != "", ""
			},
		},
		{
			id: "heading", title: "Document has a top-level heading", weight: 1,
			description: "An <h1> tells search engines what the page is about.",
			run:         func() (bool, string) { return doc.Find("h1").Length() > 0, "" },
		},
	})
}
