package crawler

import (
	"context"
	"time"

	"github.com/PentesterFlow/SiteAudit/internal/browser"
	"github.com/PentesterFlow/SiteAudit/internal/errors"
	"github.com/PentesterFlow/SiteAudit/internal/logger"
	"github.com/PentesterFlow/SiteAudit/internal/metrics"
	"github.com/PentesterFlow/SiteAudit/internal/queue"
	"github.com/PentesterFlow/SiteAudit/internal/ratelimit"
	"github.com/PentesterFlow/SiteAudit/internal/scope"
	"github.com/PentesterFlow/SiteAudit/internal/state"
)

// Crawler runs breadth-first discovery passes over one origin.
type Crawler struct {
	config   DiscoveryConfig
	rules    scope.Rules
	launcher browser.Launcher
	limiter  *ratelimit.Limiter
	logger   *logger.Logger
	metrics  *metrics.Collector
}

// frontier is the state of one discovery pass. Nothing in it outlives the
// pass, so concurrent scans never share it.
type frontier struct {
	queue      *queue.MemoryQueue
	visited    *state.VisitedSet
	discovered []string
	maxPages   int
}

func newFrontier(seed string, maxPages int) *frontier {
	f := &frontier{
		queue:      queue.NewMemoryQueue(0),
		visited:    state.NewVisitedSet(maxPages * 16),
		discovered: make([]string, 0, maxPages),
		maxPages:   maxPages,
	}
	_ = f.queue.Push(&queue.Entry{URL: seed})
	return f
}

// full reports whether the page cap is reached.
func (f *frontier) full() bool {
	return len(f.discovered) >= f.maxPages
}

// next pops the next unvisited entry.
func (f *frontier) next() (*queue.Entry, bool) {
	for {
		entry, err := f.queue.Pop()
		if err != nil {
			return nil, false
		}
		if !f.visited.Has(entry.URL) {
			return entry, true
		}
	}
}

// enqueue appends url at the tail unless it was already visited or queued.
func (f *frontier) enqueue(url, parent string, depth int) bool {
	if f.visited.Has(url) || f.queue.Contains(url) {
		return false
	}
	return f.queue.Push(&queue.Entry{URL: url, ParentURL: parent, Depth: depth}) == nil
}

// Discover crawls same-origin pages from seed, breadth first, and returns
// the reachable ones in first-seen order, capped at MaxPages. Unreachable
// pages are skipped without aborting the pass. An empty list is not an
// error; launch failures and cancellation are.
func (c *Crawler) Discover(ctx context.Context, seed string) ([]string, error) {
	seedURL, err := scope.ValidateSeed(seed)
	if err != nil {
		return nil, err
	}
	checker, err := scope.NewChecker(seedURL, c.rules)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	log := c.logger.WithURL(seedURL)

	session, err := c.launcher.Launch(ctx, browser.LaunchOptions{BlockResources: c.config.BlockResources})
	if err != nil {
		return nil, err
	}
	defer c.release(session, log)

	f := newFrontier(seedURL, c.config.MaxPages)
	defer f.queue.Close()

	opts := browser.NavigateOptions{
		Timeout:   c.config.NavigationTimeout,
		WaitUntil: c.config.WaitUntil,
	}

	for !f.full() {
		if ctx.Err() != nil {
			return f.discovered, errors.NewCancelledError(seedURL, "discover")
		}

		entry, ok := f.next()
		if !ok {
			break
		}
		f.visited.Add(entry.URL)

		if err := c.limiter.Wait(ctx, checker.Origin()); err != nil {
			return f.discovered, errors.NewCancelledError(seedURL, "discover")
		}

		nav, err := session.Navigate(ctx, entry.URL, opts)
		if err == nil {
			err = reachable(entry.URL, nav)
		}
		if err != nil {
			if ctx.Err() != nil {
				return f.discovered, errors.NewCancelledError(seedURL, "discover")
			}
			if errors.IsSessionFatal(err) {
				log.WithError(err).Warn("Discovery session lost, ending pass early")
				break
			}
			c.logSkip(entry.URL, err)
			continue
		}

		f.discovered = append(f.discovered, entry.URL)
		c.logger.PageEvent(logger.DebugLevel, entry.URL, len(f.discovered), f.maxPages).
			Int("status", nav.StatusCode).
			Int("depth", entry.Depth).
			Msg("Page discovered")

		if f.full() {
			break
		}

		hrefs, err := session.ExtractLinks(ctx)
		if err != nil {
			if errors.IsSessionFatal(err) {
				log.WithError(err).Warn("Discovery session lost, ending pass early")
				break
			}
			c.logger.WithURL(entry.URL).WithError(err).Debug("Link extraction failed")
			continue
		}

		queued := 0
		for _, href := range hrefs {
			link, reason := checker.Check(entry.URL, href)
			if reason != scope.Accepted {
				continue
			}
			if f.enqueue(link, entry.URL, entry.Depth+1) {
				queued++
			}
		}
		c.logger.WithURL(entry.URL).WithFields(map[string]interface{}{
			"links":  len(hrefs),
			"queued": queued,
		}).Debug("Links extracted")
	}

	c.metrics.RecordDiscovery(len(f.discovered), time.Since(start))
	log.WithDuration(time.Since(start)).WithFields(map[string]interface{}{
		"pages":   len(f.discovered),
		"visited": f.visited.Len(),
	}).Info("Discovery finished")

	return f.discovered, nil
}

// reachable turns a non-2xx document status into a page error. A missing
// status counts as reachable.
func reachable(url string, nav *browser.Navigation) error {
	if nav == nil || nav.OK || nav.StatusCode == 0 {
		return nil
	}
	if err := errors.CategorizeHTTPStatus(nav.StatusCode, url); err != nil {
		return err
	}
	return errors.NewClientError(url, nav.StatusCode, "unexpected status")
}

// logSkip logs a page discovery could not reach. Timeouts are expected.
func (c *Crawler) logSkip(url string, err error) {
	log := c.logger.WithURL(url).WithError(err)
	if errors.IsTimeout(err) {
		log.Debug("Navigation timed out, skipping page")
		return
	}
	log.Debug("Page unreachable, skipping")
}

// release records blocking stats and closes the discovery session.
func (c *Crawler) release(session browser.Session, log *logger.Logger) {
	if s, ok := session.(interface {
		Stats() (browser.PolicyStats, bool)
	}); ok {
		if stats, ok := s.Stats(); ok {
			c.metrics.RecordBlocked(stats.Blocked)
			log.WithField("blocked", stats.TotalBlocked()).Debug("Discovery request policy")
		}
	}
	if err := session.Close(); err != nil {
		log.WithError(err).Warn("Closing discovery session")
	}
}
