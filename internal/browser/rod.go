package browser

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/PentesterFlow/SiteAudit/internal/errors"
	"github.com/PentesterFlow/SiteAudit/internal/logger"
)

// linksScript collects anchor hrefs resolved against document.baseURI.
const linksScript = `() => Array.from(document.querySelectorAll('a[href]'), a => {
	const href = a.getAttribute('href') || '';
	try { return new URL(href, document.baseURI).href; } catch (e) { return href; }
})`

// RodLauncher starts Chrome through go-rod.
type RodLauncher struct {
	config Config
	log    *logger.Logger
}

// NewRodLauncher creates a rod-backed launcher.
func NewRodLauncher(cfg Config, log *logger.Logger) *RodLauncher {
	if log == nil {
		log = logger.Nop()
	}
	return &RodLauncher{config: cfg, log: log}
}

// Launch starts a browser process and opens one tab. Failures are session
// errors: without a browser there is nothing to scan with.
func (l *RodLauncher) Launch(ctx context.Context, opts LaunchOptions) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelledError("", "launch")
	}

	ln := launcher.New().
		Headless(l.config.Headless).
		NoSandbox(l.config.NoSandbox)

	if l.config.Bin != "" {
		ln = ln.Bin(l.config.Bin)
	}

	if l.config.IgnoreHTTPSErrors {
		ln = ln.Set("ignore-certificate-errors", "true")
	}

	controlURL, err := ln.Launch()
	if err != nil {
		return nil, errors.NewSessionError("launch", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		ln.Kill()
		return nil, errors.NewSessionError("connect", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		ln.Kill()
		return nil, errors.NewSessionError("create_page", err)
	}

	s := &rodSession{
		launcher:   ln,
		browser:    b,
		page:       page,
		controlURL: controlURL,
		console:    NewConsoleFilter(l.config.ConsoleNoise, l.log),
		log:        l.log,
	}

	if err := s.setup(l.config, opts); err != nil {
		_ = s.Close()
		return nil, errors.NewSessionError("setup", err)
	}

	l.log.Debugf("Browser started (rod, blocking=%v)", opts.BlockResources)
	return s, nil
}

// rodSession implements Session on a single rod page.
type rodSession struct {
	launcher   *launcher.Launcher
	browser    *rod.Browser
	page       *rod.Page
	router     *rod.HijackRouter
	policy     *RequestPolicy
	controlURL string
	console    *ConsoleFilter
	log        *logger.Logger

	stopConsole context.CancelFunc
	closeOnce   sync.Once
	closed      atomic.Bool
}

// setup applies emulation, request blocking and console capture.
func (s *rodSession) setup(cfg Config, opts LaunchOptions) error {
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		_ = s.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             cfg.ViewportWidth,
			Height:            cfg.ViewportHeight,
			DeviceScaleFactor: 1,
		})
	}

	if cfg.UserAgent != "" {
		_ = s.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: cfg.UserAgent})
	}

	if len(cfg.Headers) > 0 {
		headers := make(proto.NetworkHeaders, len(cfg.Headers))
		for k, v := range cfg.Headers {
			headers[k] = gson.New(v)
		}
		_ = proto.NetworkSetExtraHTTPHeaders{Headers: headers}.Call(s.page)
	}

	// Navigate waits on lifecycle events, which are off by default.
	if err := (proto.PageSetLifecycleEventsEnabled{Enabled: true}).Call(s.page); err != nil {
		return err
	}

	if opts.BlockResources {
		s.policy = opts.Policy
		if s.policy == nil {
			s.policy = DefaultRequestPolicy()
		}
		s.router = s.page.HijackRequests()
		err := s.router.Add("*", "", func(h *rod.Hijack) {
			if s.policy.Allow(string(h.Request.Type())) {
				h.ContinueRequest(&proto.FetchContinueRequest{})
				return
			}
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		})
		if err != nil {
			return err
		}
		go s.router.Run()
	}

	consoleCtx, cancel := context.WithCancel(context.Background())
	s.stopConsole = cancel
	go s.page.Context(consoleCtx).EachEvent(
		func(e *proto.RuntimeConsoleAPICalled) {
			if e.Type == proto.RuntimeConsoleAPICalledTypeError {
				s.console.Record(rodConsoleText(e.Args), "")
			}
		},
		func(e *proto.LogEntryAdded) {
			if e.Entry != nil && e.Entry.Level == proto.LogLogEntryLevelError {
				s.console.Record(e.Entry.Text, e.Entry.URL)
			}
		},
	)()

	return nil
}

// rodConsoleText joins console.error arguments into one line.
func rodConsoleText(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		if a.Description != "" {
			parts = append(parts, a.Description)
			continue
		}
		if s := a.Value.Str(); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

func (s *rodSession) Navigate(ctx context.Context, url string, opts NavigateOptions) (*Navigation, error) {
	if s.closed.Load() {
		return nil, errors.NewSessionError("navigate", errors.ErrSessionClosed)
	}
	if opts.WaitUntil == "" {
		opts.WaitUntil = WaitLoad
	}

	navCtx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	s.console.Reset(url)
	page := s.page.Context(navCtx)
	mainFrame := s.page.FrameID

	// Events are matched on the loader of this navigation so that late
	// lifecycle events from the previous page are ignored.
	var (
		loaderID proto.NetworkLoaderID
		status   int
		finalURL string
		reached  bool
	)
	wait := page.EachEvent(
		func(e *proto.NetworkRequestWillBeSent) {
			if loaderID == "" && e.Type == proto.NetworkResourceTypeDocument && e.FrameID == mainFrame {
				loaderID = e.LoaderID
			}
		},
		func(e *proto.NetworkResponseReceived) {
			if loaderID != "" && e.LoaderID == loaderID && e.Type == proto.NetworkResourceTypeDocument && e.Response != nil {
				status = e.Response.Status
				finalURL = e.Response.URL
			}
		},
		func(e *proto.PageLifecycleEvent) bool {
			reached = loaderID != "" && e.FrameID == mainFrame && e.LoaderID == loaderID &&
				string(e.Name) == string(opts.WaitUntil)
			return reached
		},
	)

	if err := page.Navigate(url); err != nil {
		cancel()
		wait()
		return nil, classify(url, "navigate", err, s.Ping)
	}

	wait()

	if !reached {
		err := navCtx.Err()
		if err == nil {
			err = errors.ErrSessionClosed
		}
		return nil, classify(url, "navigate", err, s.Ping)
	}

	return newNavigation(url, finalURL, status), nil
}

func (s *rodSession) ExtractLinks(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, errors.NewSessionError("extract_links", errors.ErrSessionClosed)
	}

	res, err := s.page.Context(ctx).Eval(linksScript)
	if err != nil {
		return nil, classify("", "extract_links", err, s.Ping)
	}

	arr := res.Value.Arr()
	links := make([]string, 0, len(arr))
	for _, v := range arr {
		if href := v.Str(); href != "" {
			links = append(links, href)
		}
	}
	return links, nil
}

func (s *rodSession) HTML(ctx context.Context) (string, error) {
	if s.closed.Load() {
		return "", errors.NewSessionError("html", errors.ErrSessionClosed)
	}

	html, err := s.page.Context(ctx).HTML()
	if err != nil {
		return "", classify("", "html", err, s.Ping)
	}
	return html, nil
}

func (s *rodSession) Evaluate(ctx context.Context, expression string, out interface{}) error {
	if s.closed.Load() {
		return errors.NewSessionError("evaluate", errors.ErrSessionClosed)
	}

	res, err := s.page.Context(ctx).Eval("() => (" + expression + ")")
	if err != nil {
		return classify("", "evaluate", err, s.Ping)
	}
	if out == nil {
		return nil
	}
	if err := res.Value.Unmarshal(out); err != nil {
		return errors.NewParseError("", "evaluate", err)
	}
	return nil
}

func (s *rodSession) ConsoleErrors() []string {
	return s.console.Errors()
}

func (s *rodSession) DebuggerURL() string {
	return s.controlURL
}

func (s *rodSession) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return errors.ErrSessionClosed
	}
	_, err := s.browser.Context(ctx).Version()
	return err
}

// Stats returns the request policy counters, if blocking is on.
func (s *rodSession) Stats() (PolicyStats, bool) {
	if s.policy == nil {
		return PolicyStats{}, false
	}
	return s.policy.Stats(), true
}

func (s *rodSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		if s.stopConsole != nil {
			s.stopConsole()
		}
		if s.router != nil {
			_ = s.router.Stop()
		}

		err = s.browser.Close()
		if err != nil {
			s.launcher.Kill()
		}

		done := make(chan struct{})
		go func() {
			s.launcher.Cleanup()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			s.log.Warn("Browser process did not exit after close")
		}
	})
	return err
}

// withTimeout derives a context bounded by d when d is positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}
