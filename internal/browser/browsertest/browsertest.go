// Package browsertest provides a scripted, in-memory browser for tests.
//
// A Site maps URLs to Pages. Navigations to unknown URLs answer 404. A page
// can be slow, time out, fail with a network error or crash the whole
// session, so crawl and scan logic can be exercised without Chrome.
package browsertest

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PentesterFlow/SiteAudit/internal/browser"
	"github.com/PentesterFlow/SiteAudit/internal/errors"
)

// Page is one scripted document.
type Page struct {
	Status  int           // Document status; 0 means 200
	Links   []string      // Hrefs returned by ExtractLinks, as written in the page
	HTML    string        // Document returned by HTML; generated from Links when empty
	Delay   time.Duration // Time a navigation takes
	Timeout bool          // Navigation never reaches its lifecycle event
	Err     error         // Navigation fails with this error
	Crash   bool          // Navigating here kills the browser
	Console []string      // Console errors logged by the page
	Eval    interface{}   // Value every Evaluate call returns
}

// Site is a set of scripted pages keyed by absolute URL.
type Site struct {
	mu    sync.RWMutex
	pages map[string]*Page
}

// NewSite creates an empty site.
func NewSite() *Site {
	return &Site{pages: make(map[string]*Page)}
}

// Add registers a page and returns the site for chaining.
func (s *Site) Add(url string, p *Page) *Site {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[url] = p
	return s
}

// Link registers a 200 page linking to hrefs.
func (s *Site) Link(url string, hrefs ...string) *Site {
	return s.Add(url, &Page{Links: hrefs})
}

func (s *Site) page(url string) (*Page, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pages[url]
	return p, ok
}

// Launcher hands out Sessions over a Site.
type Launcher struct {
	Site *Site

	// LaunchErr makes every Launch fail.
	LaunchErr error

	// CloseErr is returned by every Session.Close.
	CloseErr error

	mu       sync.Mutex
	sessions []*Session
}

// NewLauncher creates a launcher serving site.
func NewLauncher(site *Site) *Launcher {
	return &Launcher{Site: site}
}

// Launch opens a new session.
func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelledError("", "launch")
	}
	if l.LaunchErr != nil {
		return nil, errors.NewSessionError("launch", l.LaunchErr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	s := &Session{
		site:     l.Site,
		opts:     opts,
		closeErr: l.CloseErr,
		id:       len(l.sessions) + 1,
	}
	l.sessions = append(l.sessions, s)
	return s, nil
}

// Sessions returns every session launched so far, in launch order.
func (l *Launcher) Sessions() []*Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Session, len(l.sessions))
	copy(out, l.sessions)
	return out
}

// Launches returns the number of sessions launched.
func (l *Launcher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

// Open returns the number of sessions not yet closed.
func (l *Launcher) Open() int {
	n := 0
	for _, s := range l.Sessions() {
		if !s.Closed() {
			n++
		}
	}
	return n
}

// Session is a fake browser tab.
type Session struct {
	site     *Site
	opts     browser.LaunchOptions
	closeErr error
	id       int

	mu      sync.Mutex
	current string
	page    *Page
	visits  []string
	closed  bool
	crashed bool
}

// Options returns the options the session was launched with.
func (s *Session) Options() browser.LaunchOptions {
	return s.opts
}

// Visits returns every URL passed to Navigate, in order.
func (s *Session) Visits() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.visits))
	copy(out, s.visits)
	return out
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Crash makes every later call fail as if the browser process died.
func (s *Session) Crash() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crashed = true
}

// usable returns a session error once the session is closed or crashed.
func (s *Session) usable(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return errors.NewSessionError(op, errors.ErrSessionClosed)
	case s.crashed:
		return errors.NewSessionError(op, fmt.Errorf("browser %d crashed", s.id))
	}
	return nil
}

// Navigate loads a scripted page.
func (s *Session) Navigate(ctx context.Context, url string, opts browser.NavigateOptions) (*browser.Navigation, error) {
	if err := s.usable("navigate"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.visits = append(s.visits, url)
	s.current = url
	s.page = nil
	s.mu.Unlock()

	p, ok := s.site.page(url)
	if !ok {
		p = &Page{Status: 404}
	}

	if p.Crash {
		s.Crash()
		return nil, errors.NewSessionError("navigate", fmt.Errorf("browser %d crashed loading %s", s.id, url))
	}

	if p.Timeout {
		wait := opts.Timeout
		if wait <= 0 {
			wait = time.Second
		}
		if err := sleep(ctx, wait); err != nil {
			return nil, errors.NewCancelledError(url, "navigate")
		}
		return nil, errors.NewTimeoutError(url, "navigate", context.DeadlineExceeded)
	}

	if p.Delay > 0 {
		if err := sleep(ctx, p.Delay); err != nil {
			return nil, errors.NewCancelledError(url, "navigate")
		}
	}

	if p.Err != nil {
		var auditErr *errors.AuditError
		if stderrors.As(p.Err, &auditErr) {
			return nil, p.Err
		}
		return nil, errors.NewNetworkError(url, "navigate", p.Err)
	}

	status := p.Status
	if status == 0 {
		status = 200
	}

	s.mu.Lock()
	s.page = p
	s.mu.Unlock()

	return &browser.Navigation{
		URL:        url,
		StatusCode: status,
		OK:         status >= 200 && status < 300,
	}, nil
}

func (s *Session) loaded(op string) (string, *Page, error) {
	if err := s.usable(op); err != nil {
		return "", nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return s.current, &Page{}, nil
	}
	return s.current, s.page, nil
}

// ExtractLinks resolves the current page's hrefs the way a browser does.
func (s *Session) ExtractLinks(ctx context.Context) ([]string, error) {
	current, p, err := s.loaded("extract_links")
	if err != nil {
		return nil, err
	}
	if len(p.Links) == 0 && p.HTML != "" {
		return browser.LinksFromHTML(current, p.HTML)
	}
	return browser.LinksFromHTML(current, renderLinks(p.Links))
}

// HTML returns the current document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	_, p, err := s.loaded("html")
	if err != nil {
		return "", err
	}
	if p.HTML != "" {
		return p.HTML, nil
	}
	return renderLinks(p.Links), nil
}

// Evaluate decodes the page's scripted Eval value into out.
func (s *Session) Evaluate(ctx context.Context, expression string, out interface{}) error {
	_, p, err := s.loaded("evaluate")
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	data, err := json.Marshal(p.Eval)
	if err != nil {
		return errors.NewParseError("", "evaluate", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.NewParseError("", "evaluate", err)
	}
	return nil
}

// ConsoleErrors returns the current page's scripted console errors.
func (s *Session) ConsoleErrors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return nil
	}
	return append([]string(nil), s.page.Console...)
}

// DebuggerURL returns a fake endpoint unique to the session.
func (s *Session) DebuggerURL() string {
	return fmt.Sprintf("ws://127.0.0.1:9222/devtools/browser/fake-%d", s.id)
}

// Ping fails once the session crashed or closed.
func (s *Session) Ping(ctx context.Context) error {
	if err := s.usable("ping"); err != nil {
		return err
	}
	return ctx.Err()
}

// Close marks the session closed. Only the first call returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.closeErr
}

func renderLinks(hrefs []string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, h := range hrefs {
		fmt.Fprintf(&b, `<a href="%s">link</a>`, strings.ReplaceAll(h, `"`, "&quot;"))
	}
	b.WriteString("</body></html>")
	return b.String()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
