// Package browser drives headless Chrome for page discovery and audits.
//
// A Launcher starts one browser process and returns a Session bound to a
// single tab. Sessions are not safe for concurrent use: a scan owns its
// session and issues one call at a time.
package browser

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/PentesterFlow/SiteAudit/internal/errors"
	"github.com/PentesterFlow/SiteAudit/internal/logger"
	"github.com/PentesterFlow/SiteAudit/internal/scope"
)

// Config defines browser configuration.
type Config struct {
	Backend           string            `json:"backend" yaml:"backend"`
	Headless          bool              `json:"headless" yaml:"headless"`
	Bin               string            `json:"bin" yaml:"bin"`
	NoSandbox         bool              `json:"no_sandbox" yaml:"no_sandbox"`
	UserAgent         string            `json:"user_agent" yaml:"user_agent"`
	ViewportWidth     int               `json:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int               `json:"viewport_height" yaml:"viewport_height"`
	IgnoreHTTPSErrors bool              `json:"ignore_https_errors" yaml:"ignore_https_errors"`
	Headers           map[string]string `json:"headers" yaml:"headers"`
	ConsoleNoise      []string          `json:"console_noise" yaml:"console_noise"`
}

// DefaultConfig returns default browser configuration.
func DefaultConfig() Config {
	return Config{
		Backend:           BackendRod,
		Headless:          true,
		UserAgent:         "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) SiteAudit/1.0",
		ViewportWidth:     1350,
		ViewportHeight:    940,
		IgnoreHTTPSErrors: true,
		ConsoleNoise:      append([]string(nil), DefaultConsoleNoise...),
	}
}

// WaitUntil names the page lifecycle event a navigation waits for.
type WaitUntil string

const (
	WaitDOMContentLoaded WaitUntil = "DOMContentLoaded"
	WaitLoad             WaitUntil = "load"
	WaitNetworkIdle      WaitUntil = "networkIdle"
)

// NavigateOptions controls a single navigation.
type NavigateOptions struct {
	Timeout   time.Duration
	WaitUntil WaitUntil
}

// Navigation is the outcome of a navigation that reached its lifecycle
// event.
type Navigation struct {
	URL        string // Final document URL after redirects
	StatusCode int    // Document response status; 0 when none was seen
	OK         bool   // StatusCode is 2xx
}

// newNavigation builds a Navigation from the document response.
func newNavigation(requested, final string, status int) *Navigation {
	if final == "" {
		final = requested
	}
	return &Navigation{
		URL:        final,
		StatusCode: status,
		OK:         status >= 200 && status < 300,
	}
}

// LaunchOptions controls how a session is started.
type LaunchOptions struct {
	// BlockResources aborts every request whose resource type the policy
	// does not allow.
	BlockResources bool

	// Policy overrides DefaultRequestPolicy when BlockResources is set.
	Policy *RequestPolicy
}

// Launcher starts browser sessions.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Session, error)
}

// Session is one live browser tab.
type Session interface {
	// Navigate loads url and waits for the requested lifecycle event.
	// Per-page failures come back as categorized errors; a broken browser
	// comes back as a session error.
	Navigate(ctx context.Context, url string, opts NavigateOptions) (*Navigation, error)

	// ExtractLinks returns the href of every anchor in the current document.
	ExtractLinks(ctx context.Context) ([]string, error)

	// HTML returns the serialized current document.
	HTML(ctx context.Context) (string, error)

	// Evaluate runs a JavaScript expression, awaits a returned promise and
	// decodes the JSON result into out.
	Evaluate(ctx context.Context, expression string, out interface{}) error

	// ConsoleErrors returns console errors logged since the last Navigate,
	// with configured noise removed.
	ConsoleErrors() []string

	// DebuggerURL returns the browser's remote debugging endpoint.
	DebuggerURL() string

	// Ping checks that the browser process still answers.
	Ping(ctx context.Context) error

	// Close releases the tab and the browser process. It is idempotent.
	Close() error
}

// Backend names.
const (
	BackendRod      = "rod"
	BackendChromedp = "chromedp"
)

// Factory builds a Launcher for a backend.
type Factory func(cfg Config, log *logger.Logger) Launcher

var (
	backendsMu sync.RWMutex
	backends   = map[string]Factory{
		BackendRod:      func(cfg Config, log *logger.Logger) Launcher { return NewRodLauncher(cfg, log) },
		BackendChromedp: func(cfg Config, log *logger.Logger) Launcher { return NewChromedpLauncher(cfg, log) },
	}
)

// Register makes a backend available to NewLauncher.
func Register(name string, f Factory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = f
}

// HasBackend reports whether name was registered.
func HasBackend(name string) bool {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewLauncher returns the launcher for cfg.Backend. An empty backend means
// rod.
func NewLauncher(cfg Config, log *logger.Logger) (Launcher, error) {
	name := cfg.Backend
	if name == "" {
		name = BackendRod
	}
	if log == nil {
		log = logger.Global()
	}

	backendsMu.RLock()
	f, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown browser backend %q (available: %s)", name, strings.Join(Backends(), ", "))
	}
	return f(cfg, log.WithComponent("browser")), nil
}

// pingTimeout bounds the liveness probe used to classify failures.
const pingTimeout = 5 * time.Second

// classify turns a raw driver error into a categorized one. When the
// cause is unclear the browser is probed: if it no longer answers the
// error is a session error.
func classify(url, operation string, err error, ping func(context.Context) error) error {
	if err == nil {
		return nil
	}

	var auditErr *errors.AuditError
	if stderrors.As(err, &auditErr) {
		return err
	}

	switch {
	case stderrors.Is(err, errors.ErrSessionClosed):
		return errors.NewSessionError(operation, err)
	case stderrors.Is(err, context.Canceled):
		return errors.NewCancelledError(url, operation)
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewTimeoutError(url, operation, err)
	}

	if strings.Contains(err.Error(), "net::ERR_") {
		return errors.NewNetworkError(url, operation, err)
	}

	if ping != nil {
		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		if perr := ping(ctx); perr != nil {
			return errors.NewSessionError(operation, err)
		}
	}

	return errors.NewBrowserError(url, operation, err)
}

// LinksFromHTML returns the absolute href of every anchor in document,
// resolved against the document's <base href> when present and pageURL
// otherwise.
func LinksFromHTML(pageURL, document string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
	if err != nil {
		return nil, errors.NewParseError(pageURL, "extract_links", err)
	}

	base := pageURL
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, err := scope.ResolveURL(pageURL, strings.TrimSpace(href)); err == nil {
			base = resolved
		}
	}

	links := make([]string, 0)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		lower := strings.ToLower(href)
		if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
			links = append(links, href)
			return
		}
		if resolved, err := scope.ResolveURL(base, href); err == nil {
			links = append(links, resolved)
		}
	})
	return links, nil
}
