package crawler

import (
	"context"
	stderrors "errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/PentesterFlow/SiteAudit/internal/audit/audittest"
	"github.com/PentesterFlow/SiteAudit/internal/browser/browsertest"
	"github.com/PentesterFlow/SiteAudit/internal/errors"
	"github.com/PentesterFlow/SiteAudit/internal/metrics"
)

// recorder collects progress snapshots.
type recorder struct {
	mu     sync.Mutex
	frames []ScanStats
}

func (r *recorder) OnProgress(stats ScanStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, stats)
}

func (r *recorder) snapshots() []ScanStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ScanStats(nil), r.frames...)
}

func fivePageSite() *browsertest.Site {
	return browsertest.NewSite().
		Link("https://x.test/", "/a", "/b", "/c", "/d").
		Link("https://x.test/a").
		Link("https://x.test/b").
		Link("https://x.test/c").
		Link("https://x.test/d")
}

func resultURLs(r *ScanResult) []string {
	urls := make([]string, 0, len(r.Results))
	for _, p := range r.Results {
		urls = append(urls, p.URL)
	}
	return urls
}

// =============================================================================
// Scan Tests
// =============================================================================

func TestScan_AuditsInDiscoveryOrder(t *testing.T) {
	auditor := audittest.New()
	s, launcher := newTestScanner(t, fivePageSite(), auditor)
	rec := &recorder{}

	result, err := s.Scan(context.Background(), "https://x.test/", rec)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	want := []string{"https://x.test/", "https://x.test/a", "https://x.test/b", "https://x.test/c", "https://x.test/d"}
	if !reflect.DeepEqual(result.Discovered, want) {
		t.Errorf("Discovered = %v, want %v", result.Discovered, want)
	}
	if got := resultURLs(result); !reflect.DeepEqual(got, want) {
		t.Errorf("Results = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(auditor.Calls(), want) {
		t.Errorf("audits = %v, want %v", auditor.Calls(), want)
	}
	if result.First() == nil || result.First().URL != "https://x.test/" {
		t.Errorf("First() = %+v, want the seed report", result.First())
	}
	if result.Stats.PagesScanned != 5 || result.Stats.TotalPages != 5 {
		t.Errorf("Stats = %+v", result.Stats)
	}
	if len(rec.snapshots()) != 5 {
		t.Errorf("progress frames = %d, want 5", len(rec.snapshots()))
	}
	if launcher.Launches() != 2 {
		t.Errorf("launches = %d, want one discovery and one audit session", launcher.Launches())
	}
	if result.CompletedAt.Before(result.StartedAt) || result.Duration() < 0 {
		t.Error("timestamps out of order")
	}
}

func TestScan_ProgressMonotonic(t *testing.T) {
	s, _ := newTestScanner(t, fivePageSite(), nil)
	rec := &recorder{}

	if _, err := s.Scan(context.Background(), "https://x.test/", rec); err != nil {
		t.Fatal(err)
	}

	frames := rec.snapshots()
	for i, f := range frames {
		if f.PagesScanned != i+1 {
			t.Errorf("frame %d PagesScanned = %d, want %d", i, f.PagesScanned, i+1)
		}
		if f.TotalPages != 5 {
			t.Errorf("frame %d TotalPages = %d, want 5", i, f.TotalPages)
		}
		if len(f.ScannedURLs) != f.PagesScanned {
			t.Errorf("frame %d has %d urls for %d pages", i, len(f.ScannedURLs), f.PagesScanned)
		}
		if i > 0 {
			prev := frames[i-1].ScannedURLs
			if !reflect.DeepEqual(f.ScannedURLs[:len(prev)], prev) {
				t.Errorf("frame %d does not extend frame %d", i, i-1)
			}
		}
	}
}

func TestScan_SnapshotsAreIndependent(t *testing.T) {
	s, _ := newTestScanner(t, fivePageSite(), nil)
	var first ScanStats
	obs := ObserverFunc(func(stats ScanStats) {
		if stats.PagesScanned == 1 {
			first = stats
		}
	})

	if _, err := s.Scan(context.Background(), "https://x.test/", obs); err != nil {
		t.Fatal(err)
	}
	if len(first.ScannedURLs) != 1 || first.ScannedURLs[0] != "https://x.test/" {
		t.Errorf("first snapshot changed after delivery: %v", first.ScannedURLs)
	}
}

func TestScan_NilObserver(t *testing.T) {
	s, _ := newTestScanner(t, fivePageSite(), nil)

	result, err := s.Scan(context.Background(), "https://x.test/", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Results) != 5 {
		t.Errorf("Results = %d, want 5", len(result.Results))
	}
}

func TestScan_FallbackToSeed(t *testing.T) {
	site := browsertest.NewSite().
		Add("https://x.test/", &browsertest.Page{Status: 503})
	auditor := audittest.New()
	s, _ := newTestScanner(t, site, auditor)
	rec := &recorder{}

	result, err := s.Scan(context.Background(), "https://x.test/", rec)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	want := []ScanStats{
		{PagesScanned: 0, TotalPages: 1, ScannedURLs: []string{"https://x.test/"}},
		{PagesScanned: 1, TotalPages: 1, ScannedURLs: []string{"https://x.test/"}},
	}
	if got := rec.snapshots(); !reflect.DeepEqual(got, want) {
		t.Errorf("frames = %+v, want %+v", got, want)
	}
	if calls := auditor.Calls(); len(calls) != 1 {
		t.Errorf("audits = %v, want the seed once", calls)
	}
	if len(result.Results) != 1 {
		t.Errorf("Results = %d, want 1", len(result.Results))
	}
}

// =============================================================================
// Failure Isolation Tests
// =============================================================================

func TestScan_PageFailuresAreIsolated(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason string
	}{
		{"audit failure", errors.NewAuditFailure("https://x.test/c", stderrors.New("engine exited 1")), metrics.SkipAuditError},
		{"server error", errors.NewServerError("https://x.test/c", 500, "internal error"), metrics.SkipAuditError},
		{"plain error", stderrors.New("boom"), metrics.SkipAuditError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor := audittest.New().FailOn("https://x.test/c", tt.err)
			s, _ := newTestScanner(t, fivePageSite(), auditor)
			rec := &recorder{}

			result, err := s.Scan(context.Background(), "https://x.test/", rec)
			if err != nil {
				t.Fatalf("Scan() error = %v", err)
			}

			want := []string{"https://x.test/", "https://x.test/a", "https://x.test/b", "https://x.test/d"}
			if got := resultURLs(result); !reflect.DeepEqual(got, want) {
				t.Errorf("Results = %v, want %v", got, want)
			}
			if len(result.Skipped) != 1 || result.Skipped[0].Reason != tt.reason {
				t.Errorf("Skipped = %+v", result.Skipped)
			}
			frames := rec.snapshots()
			if len(frames) != 4 {
				t.Fatalf("frames = %d, want 4", len(frames))
			}
			if last := frames[3]; last.PagesScanned != 4 || last.TotalPages != 5 {
				t.Errorf("last frame = %+v, want 4 of 5", last)
			}
			if got := s.Metrics().Snapshot().PagesSkipped; got != 1 {
				t.Errorf("PagesSkipped = %d, want 1", got)
			}
		})
	}
}

func TestScan_InvalidReportSkipped(t *testing.T) {
	auditor := audittest.New().InvalidOn("https://x.test/b")
	s, _ := newTestScanner(t, fivePageSite(), auditor)

	result, err := s.Scan(context.Background(), "https://x.test/", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Results) != 4 {
		t.Errorf("Results = %d, want 4", len(result.Results))
	}
	if len(result.Skipped) != 1 || result.Skipped[0].Reason != metrics.SkipInvalidReport {
		t.Errorf("Skipped = %+v", result.Skipped)
	}
	for _, p := range result.Results {
		if p.URL == "https://x.test/b" {
			t.Error("invalid report should not be a result")
		}
	}
}

func TestScan_AuditorPanicSkipsPage(t *testing.T) {
	auditor := audittest.New().PanicOn("https://x.test/a")
	s, _ := newTestScanner(t, fivePageSite(), auditor)
	rec := &recorder{}

	result, err := s.Scan(context.Background(), "https://x.test/", rec)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	want := []string{"https://x.test/", "https://x.test/b", "https://x.test/c", "https://x.test/d"}
	if got := resultURLs(result); !reflect.DeepEqual(got, want) {
		t.Errorf("Results = %v, want %v", got, want)
	}
	if len(result.Skipped) != 1 || result.Skipped[0].URL != "https://x.test/a" || result.Skipped[0].Reason != metrics.SkipAuditError {
		t.Errorf("Skipped = %+v", result.Skipped)
	}
	if len(rec.snapshots()) != 4 {
		t.Errorf("frames = %d, want 4", len(rec.snapshots()))
	}

	calls := 0
	for _, u := range auditor.Calls() {
		if u == "https://x.test/a" {
			calls++
		}
	}
	if calls != 1 {
		t.Errorf("panicking page audited %d times, want 1", calls)
	}
}

func TestScan_RetriesTransientFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("retry backoff takes about a second")
	}

	auditor := audittest.New().FailOn("https://x.test/a", errors.NewNetworkError("https://x.test/a", "audit", stderrors.New("connection reset")))
	site := browsertest.NewSite().
		Link("https://x.test/", "/a").
		Link("https://x.test/a")
	s, _ := newTestScanner(t, site, auditor, WithRetries(1))

	result, err := s.Scan(context.Background(), "https://x.test/", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Results) != 2 {
		t.Errorf("Results = %d, want 2", len(result.Results))
	}
	want := []string{"https://x.test/", "https://x.test/a", "https://x.test/a"}
	if !reflect.DeepEqual(auditor.Calls(), want) {
		t.Errorf("audits = %v, want %v", auditor.Calls(), want)
	}
	if got := s.Metrics().Snapshot().RetriesTotal; got != 1 {
		t.Errorf("RetriesTotal = %d, want 1", got)
	}
}

func TestScan_NoRetries(t *testing.T) {
	auditor := audittest.New().FailOn("https://x.test/a", errors.NewNetworkError("https://x.test/a", "audit", stderrors.New("connection reset")))
	site := browsertest.NewSite().
		Link("https://x.test/", "/a").
		Link("https://x.test/a")
	s, _ := newTestScanner(t, site, auditor, WithRetries(0))

	result, err := s.Scan(context.Background(), "https://x.test/", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Results) != 1 || len(result.Skipped) != 1 {
		t.Errorf("Results = %d Skipped = %d, want 1 and 1", len(result.Results), len(result.Skipped))
	}
	if n := len(auditor.Calls()); n != 2 {
		t.Errorf("audits = %d, want 2", n)
	}
}

// =============================================================================
// Fatal Error Tests
// =============================================================================

func TestScan_SessionLost(t *testing.T) {
	auditor := audittest.New().FailOn("https://x.test/b", errors.NewSessionError("audit", stderrors.New("target closed")))
	s, launcher := newTestScanner(t, fivePageSite(), auditor)
	rec := &recorder{}

	result, err := s.Scan(context.Background(), "https://x.test/", rec)
	if !errors.IsSessionFatal(err) {
		t.Fatalf("Scan() error = %v, want session error", err)
	}
	if result == nil {
		t.Fatal("Scan() should return the partial result")
	}
	if got := resultURLs(result); !reflect.DeepEqual(got, []string{"https://x.test/", "https://x.test/a"}) {
		t.Errorf("partial Results = %v", got)
	}
	if len(rec.snapshots()) != 2 {
		t.Errorf("frames = %d, want 2", len(rec.snapshots()))
	}
	if n := len(auditor.Calls()); n != 3 {
		t.Errorf("audits = %d, a lost session must not be retried or continued", n)
	}
	if launcher.Open() != 0 {
		t.Errorf("open sessions = %d, want 0", launcher.Open())
	}
}

func TestScan_LaunchFailure(t *testing.T) {
	s, launcher := newTestScanner(t, fivePageSite(), nil)
	launcher.LaunchErr = stderrors.New("no chrome binary")
	rec := &recorder{}

	_, err := s.Scan(context.Background(), "https://x.test/", rec)
	if !errors.IsSessionFatal(err) {
		t.Errorf("Scan() error = %v, want session error", err)
	}
	if len(rec.snapshots()) != 0 {
		t.Error("no progress expected after a launch failure")
	}
}

func TestScan_InvalidSeed(t *testing.T) {
	s, launcher := newTestScanner(t, fivePageSite(), nil)

	result, err := s.Scan(context.Background(), "ftp://x.test/", nil)
	if errors.GetErrorType(err) != errors.Validation {
		t.Errorf("Scan() error = %v, want validation error", err)
	}
	if result != nil {
		t.Error("invalid seed should return no result")
	}
	if launcher.Launches() != 0 {
		t.Error("invalid seed should not launch a browser")
	}
}

func TestScan_Timeout(t *testing.T) {
	site := browsertest.NewSite().
		Add("https://x.test/", &browsertest.Page{Delay: 2 * time.Second})
	s, launcher := newTestScanner(t, site, nil, WithScanTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := s.Scan(context.Background(), "https://x.test/", nil)
	if !errors.IsTimeout(err) {
		t.Errorf("Scan() error = %v, want timeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Scan() took %v, deadline not honored", elapsed)
	}
	if launcher.Open() != 0 {
		t.Error("sessions should be closed after a timeout")
	}
}

func TestScan_Cancelled(t *testing.T) {
	s, _ := newTestScanner(t, fivePageSite(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Scan(ctx, "https://x.test/", nil)
	if errors.GetErrorType(err) != errors.Cancelled {
		t.Errorf("Scan() error = %v, want cancelled", err)
	}

	snap := s.Metrics().Snapshot()
	if snap.ScansFinished != 1 || snap.ActiveScans != 0 {
		t.Errorf("scans finished = %d active = %d", snap.ScansFinished, snap.ActiveScans)
	}
}

// =============================================================================
// Session Lifecycle Tests
// =============================================================================

func TestScan_SessionLifecycle(t *testing.T) {
	s, launcher := newTestScanner(t, fivePageSite(), nil, WithBlockResources(true))

	if _, err := s.Scan(context.Background(), "https://x.test/", nil); err != nil {
		t.Fatal(err)
	}

	sessions := launcher.Sessions()
	if len(sessions) != 2 {
		t.Fatalf("launches = %d, want 2", len(sessions))
	}
	if !sessions[0].Options().BlockResources {
		t.Error("discovery session should block resources")
	}
	if sessions[1].Options().BlockResources {
		t.Error("audit session must load every resource")
	}
	if launcher.Open() != 0 {
		t.Errorf("open sessions = %d, want 0", launcher.Open())
	}
}

func TestScan_CloseErrorNotReturned(t *testing.T) {
	s, launcher := newTestScanner(t, fivePageSite(), nil)
	launcher.CloseErr = stderrors.New("kill failed")

	result, err := s.Scan(context.Background(), "https://x.test/", nil)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(result.Results) != 5 {
		t.Errorf("Results = %d, want 5", len(result.Results))
	}
}

func TestScan_Concurrent(t *testing.T) {
	site := fivePageSite().
		Link("https://y.test/", "/only").
		Link("https://y.test/only")
	s, launcher := newTestScanner(t, site, nil)

	seeds := []string{"https://x.test/", "https://y.test/", "https://x.test/", "https://y.test/"}
	results := make([]*ScanResult, len(seeds))
	errs := make([]error, len(seeds))

	var wg sync.WaitGroup
	for i, seed := range seeds {
		wg.Add(1)
		go func(i int, seed string) {
			defer wg.Done()
			results[i], errs[i] = s.Scan(context.Background(), seed, nil)
		}(i, seed)
	}
	wg.Wait()

	for i, seed := range seeds {
		if errs[i] != nil {
			t.Errorf("Scan(%s) error = %v", seed, errs[i])
			continue
		}
		want := 5
		if seed == "https://y.test/" {
			want = 2
		}
		if len(results[i].Results) != want {
			t.Errorf("Scan(%s) results = %d, want %d", seed, len(results[i].Results), want)
		}
	}
	if launcher.Launches() != 8 {
		t.Errorf("launches = %d, want two per scan", launcher.Launches())
	}
	if launcher.Open() != 0 {
		t.Errorf("open sessions = %d, want 0", launcher.Open())
	}

	snap := s.Metrics().Snapshot()
	if snap.ScansStarted != 4 || snap.ScansFinished != 4 {
		t.Errorf("scans started = %d finished = %d", snap.ScansStarted, snap.ScansFinished)
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, metrics.OutcomeCompleted},
		{errors.NewCancelledError("https://x.test/", "scan"), metrics.OutcomeCancelled},
		{errors.NewTimeoutError("https://x.test/", "scan", context.DeadlineExceeded), metrics.OutcomeFailed},
		{errors.NewSessionError("launch", stderrors.New("x")), metrics.OutcomeFailed},
	}

	for _, tt := range tests {
		if got := outcome(tt.err); got != tt.want {
			t.Errorf("outcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
