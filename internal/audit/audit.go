// Package audit scores a page loaded in a browser session for performance,
// accessibility, best practices and SEO.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/PentesterFlow/SiteAudit/internal/browser"
	"github.com/PentesterFlow/SiteAudit/internal/errors"
	"github.com/PentesterFlow/SiteAudit/internal/logger"
)

// Engine names.
const (
	EngineHeuristic  = "heuristic"
	EngineLighthouse = "lighthouse"
)

// Auditor audits one page with a live session. Implementations navigate
// the session themselves and must not use it concurrently.
type Auditor interface {
	Audit(ctx context.Context, url string, session browser.Session) (*Report, error)
}

// Config defines audit configuration.
type Config struct {
	Engine            string            `json:"engine" yaml:"engine"`
	NavigationTimeout time.Duration     `json:"navigation_timeout" yaml:"navigation_timeout"`
	WaitUntil         browser.WaitUntil `json:"wait_until" yaml:"wait_until"`
	LighthouseBin     string            `json:"lighthouse_bin" yaml:"lighthouse_bin"`
	Retries           int               `json:"retries" yaml:"retries"`
}

// DefaultConfig returns default audit configuration.
func DefaultConfig() Config {
	return Config{
		Engine:            EngineHeuristic,
		NavigationTimeout: 30 * time.Second,
		WaitUntil:         browser.WaitLoad,
		LighthouseBin:     "lighthouse",
		Retries:           1,
	}
}

// New returns the auditor for cfg.Engine.
func New(cfg Config, log *logger.Logger) (Auditor, error) {
	if log == nil {
		log = logger.Global()
	}
	log = log.WithComponent("audit")

	switch cfg.Engine {
	case "", EngineHeuristic:
		return NewHeuristicAuditor(cfg, log), nil
	case EngineLighthouse:
		return NewLighthouseAuditor(cfg, log), nil
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnsupportedEngine, cfg.Engine)
	}
}

// checkNavigation turns a non-2xx document response into a page error.
func checkNavigation(url string, nav *browser.Navigation) error {
	if nav == nil || nav.OK || nav.StatusCode == 0 {
		return nil
	}
	if err := errors.CategorizeHTTPStatus(nav.StatusCode, url); err != nil {
		return err
	}
	return errors.NewClientError(url, nav.StatusCode, fmt.Sprintf("unexpected status %d", nav.StatusCode))
}
