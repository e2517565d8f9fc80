package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	cdplog "github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/PentesterFlow/SiteAudit/internal/errors"
	"github.com/PentesterFlow/SiteAudit/internal/logger"
)

// ChromedpLauncher starts Chrome through chromedp. Navigations always wait
// for the load event: chromedp has no per-call lifecycle selection.
type ChromedpLauncher struct {
	config Config
	log    *logger.Logger
}

// NewChromedpLauncher creates a chromedp-backed launcher.
func NewChromedpLauncher(cfg Config, log *logger.Logger) *ChromedpLauncher {
	if log == nil {
		log = logger.Nop()
	}
	return &ChromedpLauncher{config: cfg, log: log}
}

// Launch starts a browser process and opens one tab.
func (l *ChromedpLauncher) Launch(ctx context.Context, opts LaunchOptions) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelledError("", "launch")
	}

	port, err := freePort()
	if err != nil {
		return nil, errors.NewSessionError("launch", err)
	}

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts,
		chromedp.Flag("headless", l.config.Headless),
		chromedp.Flag("remote-debugging-port", fmt.Sprint(port)),
	)
	if l.config.Bin != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(l.config.Bin))
	}
	if l.config.NoSandbox {
		allocOpts = append(allocOpts, chromedp.NoSandbox)
	}
	if l.config.IgnoreHTTPSErrors {
		allocOpts = append(allocOpts, chromedp.IgnoreCertErrors)
	}
	if l.config.ViewportWidth > 0 && l.config.ViewportHeight > 0 {
		allocOpts = append(allocOpts, chromedp.WindowSize(l.config.ViewportWidth, l.config.ViewportHeight))
	}
	if l.config.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(l.config.UserAgent))
	}

	// The browser outlives the launching request; it is torn down by Close.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &chromedpSession{
		ctx:         tabCtx,
		cancel:      func() { tabCancel(); allocCancel() },
		debuggerURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		console:     NewConsoleFilter(l.config.ConsoleNoise, l.log),
		log:         l.log,
	}

	if opts.BlockResources {
		s.policy = opts.Policy
		if s.policy == nil {
			s.policy = DefaultRequestPolicy()
		}
	}

	chromedp.ListenTarget(tabCtx, s.handleEvent)

	actions := []chromedp.Action{runtime.Enable(), cdplog.Enable(), network.Enable()}
	if len(l.config.Headers) > 0 {
		headers := make(network.Headers, len(l.config.Headers))
		for k, v := range l.config.Headers {
			headers[k] = v
		}
		actions = append(actions, network.SetExtraHTTPHeaders(headers))
	}
	if s.policy != nil {
		actions = append(actions, fetch.Enable())
	}

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		s.cancel()
		return nil, errors.NewSessionError("launch", err)
	}

	l.log.Debugf("Browser started (chromedp, blocking=%v)", opts.BlockResources)
	return s, nil
}

// freePort asks the kernel for an unused TCP port.
func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// chromedpSession implements Session on a chromedp tab context.
type chromedpSession struct {
	ctx         context.Context
	cancel      context.CancelFunc
	policy      *RequestPolicy
	debuggerURL string
	console     *ConsoleFilter
	log         *logger.Logger

	closeOnce sync.Once
	closed    atomic.Bool
}

// handleEvent runs on chromedp's event loop and must not block on commands.
func (s *chromedpSession) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case *fetch.EventRequestPaused:
		if s.policy == nil {
			return
		}
		allow := s.policy.Allow(string(e.ResourceType))
		go func() {
			c := chromedp.FromContext(s.ctx)
			if c == nil || c.Target == nil {
				return
			}
			ctx := cdp.WithExecutor(s.ctx, c.Target)
			var err error
			if allow {
				err = fetch.ContinueRequest(e.RequestID).Do(ctx)
			} else {
				err = fetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient).Do(ctx)
			}
			if err != nil && !s.closed.Load() {
				s.log.Debugf("Request interception failed: %v", err)
			}
		}()

	case *runtime.EventConsoleAPICalled:
		if e.Type == runtime.APITypeError {
			s.console.Record(chromedpConsoleText(e.Args), "")
		}

	case *cdplog.EventEntryAdded:
		if e.Entry != nil && e.Entry.Level == cdplog.LevelError {
			s.console.Record(e.Entry.Text, e.Entry.URL)
		}
	}
}

// chromedpConsoleText joins console.error arguments into one line.
func chromedpConsoleText(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		if a.Description != "" {
			parts = append(parts, a.Description)
			continue
		}
		if len(a.Value) == 0 {
			continue
		}
		var str string
		if err := json.Unmarshal([]byte(a.Value), &str); err == nil {
			parts = append(parts, str)
		} else {
			parts = append(parts, string(a.Value))
		}
	}
	return strings.Join(parts, " ")
}

// bind derives a context that runs on the tab and ends with the caller's.
func (s *chromedpSession) bind(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := withTimeout(s.ctx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (s *chromedpSession) Navigate(ctx context.Context, url string, opts NavigateOptions) (*Navigation, error) {
	if s.closed.Load() {
		return nil, errors.NewSessionError("navigate", errors.ErrSessionClosed)
	}

	runCtx, cancel := s.bind(ctx, opts.Timeout)
	defer cancel()

	s.console.Reset(url)
	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(url))
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, classify(url, "navigate", err, s.Ping)
	}
	if resp == nil {
		return newNavigation(url, "", 0), nil
	}
	return newNavigation(url, resp.URL, int(resp.Status)), nil
}

func (s *chromedpSession) ExtractLinks(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, errors.NewSessionError("extract_links", errors.ErrSessionClosed)
	}

	var links []string
	runCtx, cancel := s.bind(ctx, 0)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Evaluate("("+linksScript+")()", &links)); err != nil {
		return nil, classify("", "extract_links", err, s.Ping)
	}
	return links, nil
}

func (s *chromedpSession) HTML(ctx context.Context) (string, error) {
	if s.closed.Load() {
		return "", errors.NewSessionError("html", errors.ErrSessionClosed)
	}

	var html string
	runCtx, cancel := s.bind(ctx, 0)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", classify("", "html", err, s.Ping)
	}
	return html, nil
}

func (s *chromedpSession) Evaluate(ctx context.Context, expression string, out interface{}) error {
	if s.closed.Load() {
		return errors.NewSessionError("evaluate", errors.ErrSessionClosed)
	}

	var raw json.RawMessage
	runCtx, cancel := s.bind(ctx, 0)
	defer cancel()

	awaitPromise := func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}
	if err := chromedp.Run(runCtx, chromedp.Evaluate("("+expression+")", &raw, awaitPromise)); err != nil {
		return classify("", "evaluate", err, s.Ping)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.NewParseError("", "evaluate", err)
	}
	return nil
}

func (s *chromedpSession) ConsoleErrors() []string {
	return s.console.Errors()
}

func (s *chromedpSession) DebuggerURL() string {
	return s.debuggerURL
}

func (s *chromedpSession) Ping(ctx context.Context) error {
	if s.closed.Load() || s.ctx.Err() != nil {
		return errors.ErrSessionClosed
	}

	runCtx, cancel := s.bind(ctx, 0)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, _, _, _, err := cdpbrowser.GetVersion().Do(ctx)
		return err
	}))
}

// Stats returns the request policy counters, if blocking is on.
func (s *chromedpSession) Stats() (PolicyStats, bool) {
	if s.policy == nil {
		return PolicyStats{}, false
	}
	return s.policy.Stats(), true
}

func (s *chromedpSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		// Cancel closes the tab and waits for the browser to exit.
		err = chromedp.Cancel(s.ctx)
		s.cancel()
	})
	return err
}
