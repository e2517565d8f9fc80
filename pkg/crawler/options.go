package crawler

import (
	"fmt"
	"time"

	"github.com/PentesterFlow/SiteAudit/internal/audit"
	"github.com/PentesterFlow/SiteAudit/internal/browser"
	"github.com/PentesterFlow/SiteAudit/internal/logger"
	"github.com/PentesterFlow/SiteAudit/internal/metrics"
	"github.com/PentesterFlow/SiteAudit/internal/ratelimit"
)

// Option is a functional option for configuring the Scanner.
type Option func(*Scanner) error

// WithConfig sets the entire configuration.
func WithConfig(config *Config) Option {
	return func(s *Scanner) error {
		if config == nil {
			return fmt.Errorf("config is nil")
		}
		s.config = config.Clone()
		return nil
	}
}

// WithMaxPages sets the discovery page cap.
func WithMaxPages(n int) Option {
	return func(s *Scanner) error {
		if n < 1 {
			n = 1
		}
		s.config.Discovery.MaxPages = n
		return nil
	}
}

// WithDiscoveryTimeout sets the timeout of one discovery navigation.
func WithDiscoveryTimeout(timeout time.Duration) Option {
	return func(s *Scanner) error {
		s.config.Discovery.NavigationTimeout = timeout
		return nil
	}
}

// WithAuditTimeout sets the timeout of one audit navigation.
func WithAuditTimeout(timeout time.Duration) Option {
	return func(s *Scanner) error {
		s.config.Audit.NavigationTimeout = timeout
		return nil
	}
}

// WithScanTimeout sets an overall deadline for each scan.
func WithScanTimeout(timeout time.Duration) Option {
	return func(s *Scanner) error {
		s.config.ScanTimeout = timeout
		return nil
	}
}

// WithExcludeExtensions replaces the excluded link extensions.
func WithExcludeExtensions(exts ...string) Option {
	return func(s *Scanner) error {
		s.config.Discovery.ExcludeExtensions = append([]string(nil), exts...)
		return nil
	}
}

// WithBlockResources enables or disables resource blocking during
// discovery.
func WithBlockResources(block bool) Option {
	return func(s *Scanner) error {
		s.config.Discovery.BlockResources = block
		return nil
	}
}

// WithRateLimit paces discovery navigations per origin.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Scanner) error {
		s.config.Discovery.RequestsPerSecond = rps
		s.config.Discovery.Burst = burst
		return nil
	}
}

// WithLimiter shares a limiter between scanners.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *Scanner) error {
		s.limiter = l
		return nil
	}
}

// WithRetries sets how often a transient page audit failure is retried.
func WithRetries(n int) Option {
	return func(s *Scanner) error {
		if n < 0 {
			n = 0
		}
		s.config.Audit.Retries = n
		return nil
	}
}

// WithLauncher sets the browser launcher.
func WithLauncher(l browser.Launcher) Option {
	return func(s *Scanner) error {
		s.launcher = l
		return nil
	}
}

// WithAuditor sets the page auditor.
func WithAuditor(a audit.Auditor) Option {
	return func(s *Scanner) error {
		s.auditor = a
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Scanner) error {
		s.logger = l
		return nil
	}
}

// WithMetrics sets a custom metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Scanner) error {
		s.metrics = m
		return nil
	}
}
