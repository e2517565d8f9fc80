package crawler

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/PentesterFlow/SiteAudit/internal/audit"
	"github.com/PentesterFlow/SiteAudit/internal/browser"
	"github.com/PentesterFlow/SiteAudit/internal/errors"
	"github.com/PentesterFlow/SiteAudit/internal/logger"
	"github.com/PentesterFlow/SiteAudit/internal/metrics"
	"github.com/PentesterFlow/SiteAudit/internal/ratelimit"
	"github.com/PentesterFlow/SiteAudit/internal/scope"
)

// Scanner discovers a site's pages and audits them sequentially with one
// shared browser session. A Scanner may run several scans at once; each
// scan owns its sessions.
type Scanner struct {
	config   *Config
	launcher browser.Launcher
	auditor  audit.Auditor
	limiter  *ratelimit.Limiter
	retrier  *errors.Retrier
	crawler  *Crawler
	logger   *logger.Logger
	metrics  *metrics.Collector
}

// New creates a scanner with the given options.
func New(opts ...Option) (*Scanner, error) {
	s := &Scanner{
		config: DefaultConfig(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	// Validate config
	if err := s.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if s.logger == nil {
		s.logger = logger.Global()
	}
	s.logger = s.logger.WithComponent("scanner")

	if s.metrics == nil {
		s.metrics = metrics.New()
	}

	if s.launcher == nil {
		l, err := browser.NewLauncher(s.config.Browser, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create browser launcher: %w", err)
		}
		s.launcher = l
	}

	if s.auditor == nil {
		a, err := audit.New(s.config.Audit, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create auditor: %w", err)
		}
		s.auditor = a
	}

	if s.limiter == nil && s.config.Discovery.RequestsPerSecond > 0 {
		s.limiter = ratelimit.NewLimiter(s.config.Discovery.RequestsPerSecond, s.config.Discovery.Burst)
	}

	retryConfig := errors.DefaultRetryConfig()
	retryConfig.MaxRetries = s.config.Audit.Retries
	s.retrier = errors.NewRetrier(retryConfig)

	s.crawler = &Crawler{
		config:   s.config.Discovery,
		rules:    s.config.ScopeRules(),
		launcher: s.launcher,
		limiter:  s.limiter,
		logger:   s.logger.WithComponent("crawler"),
		metrics:  s.metrics,
	}

	return s, nil
}

// Config returns a copy of the scanner configuration.
func (s *Scanner) Config() *Config {
	return s.config.Clone()
}

// Crawler returns the discovery crawler.
func (s *Scanner) Crawler() *Crawler {
	return s.crawler
}

// Metrics returns the metrics collector.
func (s *Scanner) Metrics() *metrics.Collector {
	return s.metrics
}

// Discover runs a discovery pass only.
func (s *Scanner) Discover(ctx context.Context, seed string) ([]string, error) {
	return s.crawler.Discover(ctx, seed)
}

// Scan discovers the pages of seed and audits each one in discovery order.
// obs, when not nil, is called after every successful audit. Per-page
// failures are skipped; session failures, launch failures and cancellation
// end the scan with an error. The returned result is never nil once the
// seed is valid and holds whatever was audited before an error.
func (s *Scanner) Scan(ctx context.Context, seed string, obs Observer) (result *ScanResult, err error) {
	seedURL, err := scope.ValidateSeed(seed)
	if err != nil {
		return nil, err
	}

	parent := ctx
	if s.config.ScanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ScanTimeout)
		defer cancel()
	}

	log := s.logger.WithURL(seedURL)
	stats := ScanStats{ScannedURLs: []string{}}
	result = &ScanResult{
		Seed:      seedURL,
		Results:   []PageResult{},
		StartedAt: time.Now(),
	}

	s.metrics.ScanStarted()
	defer func() {
		result.Stats = stats.clone()
		result.CompletedAt = time.Now()
		if err != nil {
			err = s.scanError(parent, ctx, seedURL, err)
		}
		s.metrics.ScanFinished(outcome(err))
	}()

	log.Info("Scan started")

	pages, err := s.crawler.Discover(ctx, seedURL)
	if err != nil {
		return result, err
	}

	if len(pages) == 0 {
		log.Warn("Discovery found no pages, auditing the seed alone")
		pages = []string{seedURL}
		s.notify(obs, ScanStats{TotalPages: 1, ScannedURLs: []string{seedURL}})
	}
	result.Discovered = pages
	stats.TotalPages = len(pages)

	session, err := s.launcher.Launch(ctx, browser.LaunchOptions{})
	if err != nil {
		return result, err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			log.WithError(cerr).Warn("Closing audit session")
		}
	}()

	for i, pageURL := range pages {
		if ctx.Err() != nil {
			return result, errors.NewCancelledError(seedURL, "scan")
		}

		start := time.Now()
		report, err := s.auditPage(ctx, session, pageURL)
		if err != nil {
			if errors.IsSessionFatal(err) {
				log.WithError(err).Error("Audit session lost, aborting scan")
				return result, err
			}
			if ctx.Err() != nil {
				return result, errors.NewCancelledError(seedURL, "scan")
			}
			s.skip(result, pageURL, metrics.SkipAuditError, err)
			continue
		}
		if err := report.Validate(); err != nil {
			s.skip(result, pageURL, metrics.SkipInvalidReport, err)
			continue
		}

		result.Results = append(result.Results, PageResult{URL: pageURL, Report: report})
		stats.PagesScanned++
		stats.ScannedURLs = append(stats.ScannedURLs, pageURL)

		s.metrics.RecordAudit(time.Since(start))
		s.logger.PageEvent(logger.InfoLevel, pageURL, i+1, len(pages)).
			Float64("performance", report.Performance.Score).
			Dur("duration", time.Since(start)).
			Msg("Page audited")

		s.notify(obs, stats.clone())
	}

	log.WithFields(map[string]interface{}{
		"audited": stats.PagesScanned,
		"total":   stats.TotalPages,
		"skipped": len(result.Skipped),
	}).WithDuration(time.Since(result.StartedAt)).Info("Scan finished")

	return result, nil
}

// auditPage audits one page, retrying transient failures.
func (s *Scanner) auditPage(ctx context.Context, session browser.Session, pageURL string) (*audit.Report, error) {
	report, res := errors.DoWithResult(ctx, s.retrier, "audit", pageURL, func(ctx context.Context) (*audit.Report, error) {
		return s.safeAudit(ctx, session, pageURL)
	})
	for i := 1; i < res.Attempts; i++ {
		s.metrics.RecordRetry()
	}
	if !res.Success {
		return nil, res.LastError
	}
	return report, nil
}

// safeAudit runs the auditor once, turning a panic into a page-level audit
// error.
func (s *Scanner) safeAudit(ctx context.Context, session browser.Session, pageURL string) (report *audit.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			report = nil
			err = errors.New(errors.Audit, pageURL, "audit", fmt.Sprintf("auditor panic: %v", r), nil)
		}
	}()
	return s.auditor.Audit(ctx, pageURL, session)
}

// skip records a page that yielded no result.
func (s *Scanner) skip(result *ScanResult, pageURL, reason string, err error) {
	result.Skipped = append(result.Skipped, SkippedPage{
		URL:    pageURL,
		Reason: reason,
		Error:  err.Error(),
	})
	s.metrics.RecordSkip(reason)
	s.logger.WithURL(pageURL).WithError(err).WithField("reason", reason).Warn("Skipping page")
}

// notify delivers a snapshot to obs.
func (s *Scanner) notify(obs Observer, stats ScanStats) {
	if obs != nil {
		obs.OnProgress(stats)
	}
}

// scanError reports an expired scan deadline as a timeout rather than a
// cancellation.
func (s *Scanner) scanError(parent, ctx context.Context, seedURL string, err error) error {
	if parent.Err() == nil && stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.NewTimeoutError(seedURL, "scan", fmt.Errorf("scan exceeded %s: %w", s.config.ScanTimeout, ctx.Err()))
	}
	return err
}

// outcome maps a scan error to its metrics label.
func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeCompleted
	case errors.GetErrorType(err) == errors.Cancelled:
		return metrics.OutcomeCancelled
	default:
		return metrics.OutcomeFailed
	}
}
