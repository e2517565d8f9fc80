package server_test

import (
	"bufio"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PentesterFlow/SiteAudit/internal/audit/audittest"
	"github.com/PentesterFlow/SiteAudit/internal/browser/browsertest"
	"github.com/PentesterFlow/SiteAudit/internal/errors"
	"github.com/PentesterFlow/SiteAudit/internal/logger"
	"github.com/PentesterFlow/SiteAudit/internal/metrics"
	"github.com/PentesterFlow/SiteAudit/internal/server"
	"github.com/PentesterFlow/SiteAudit/internal/state"
	"github.com/PentesterFlow/SiteAudit/pkg/crawler"
)

type testEnv struct {
	server   *server.Server
	launcher *browsertest.Launcher
	auditor  *audittest.Auditor
	store    state.ReportStore
}

func testSite() *browsertest.Site {
	return browsertest.NewSite().
		Link("https://x.test/", "/a", "/b").
		Link("https://x.test/a").
		Link("https://x.test/b")
}

func newTestEnv(t *testing.T, site *browsertest.Site, store state.ReportStore, origins ...string) *testEnv {
	t.Helper()

	env := &testEnv{
		launcher: browsertest.NewLauncher(site),
		auditor:  audittest.New(),
		store:    store,
	}
	if env.store == nil {
		env.store = state.NewMemoryStore()
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	scanner, err := crawler.New(
		crawler.WithLauncher(env.launcher),
		crawler.WithAuditor(env.auditor),
		crawler.WithLogger(logger.Nop()),
		crawler.WithMetrics(metrics.New()),
		crawler.WithDiscoveryTimeout(50*time.Millisecond),
		crawler.WithRetries(0),
	)
	if err != nil {
		t.Fatalf("crawler.New: %v", err)
	}

	cfg := crawler.DefaultConfig().Server
	cfg.AllowedOrigins = origins
	env.server = server.New(server.Config{
		HTTP:    cfg,
		Scanner: scanner,
		Store:   env.store,
		Logger:  logger.Nop(),
	})
	t.Cleanup(func() { env.server.Close() })
	return env
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON response: %v (body: %s)", err, rec.Body.String())
	}
}

// sseFrames splits an event-stream body into decoded data frames.
func sseFrames(t *testing.T, body string) []map[string]any {
	t.Helper()
	var frames []map[string]any
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var f map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f); err != nil {
			t.Fatalf("frame %q is not JSON: %v", line, err)
		}
		frames = append(frames, f)
	}
	return frames
}

// =============================================================================
// Analyze Tests
// =============================================================================

func TestServer_Analyze_Streams(t *testing.T) {
	env := newTestEnv(t, testSite(), nil)

	rec := do(t, env.server, "POST", "/analyze", `{"url":"https://x.test/"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	frames := sseFrames(t, rec.Body.String())
	if len(frames) != 4 {
		t.Fatalf("expected 3 progress frames and 1 terminal, got %d: %s", len(frames), rec.Body.String())
	}
	for i, f := range frames[:3] {
		if f["pagesScanned"] != float64(i+1) || f["totalPages"] != float64(3) {
			t.Errorf("frame %d = %v", i, f)
		}
		if _, done := f["done"]; done {
			t.Errorf("frame %d should not be terminal", i)
		}
	}

	terminal := frames[3]
	if terminal["done"] != true {
		t.Errorf("terminal frame missing done: %v", terminal)
	}
	if terminal["url"] != "https://x.test/" {
		t.Errorf("terminal url = %v, want the first page", terminal["url"])
	}
	stats, ok := terminal["scanStats"].(map[string]any)
	if !ok || stats["pagesScanned"] != float64(3) {
		t.Errorf("scanStats = %v", terminal["scanStats"])
	}
	for _, cat := range []string{"performance", "accessibility", "bestPractices", "seo"} {
		if _, ok := terminal[cat].(map[string]any); !ok {
			t.Errorf("terminal frame missing %s", cat)
		}
	}

	id, _ := terminal["id"].(string)
	if id == "" {
		t.Fatal("terminal frame should carry the stored report id")
	}
	stored := do(t, env.server, "GET", "/reports/"+id, "")
	if stored.Code != http.StatusOK {
		t.Fatalf("GET /reports/%s = %d", id, stored.Code)
	}
	var report state.StoredReport
	decodeJSON(t, stored, &report)
	if report.URL != "https://x.test/" || report.PagesScanned != 3 {
		t.Errorf("stored report = %+v", report)
	}
}

func TestServer_Analyze_BadRequest(t *testing.T) {
	env := newTestEnv(t, testSite(), nil)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid JSON", `{invalid}`, "invalid JSON"},
		{"missing url", `{}`, "url is required"},
		{"blank url", `{"url":"  "}`, "url is required"},
		{"relative url", `{"url":"/about"}`, "invalid url"},
		{"unsupported scheme", `{"url":"ftp://x.test/"}`, "invalid url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, env.server, "POST", "/analyze", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			var resp server.ErrorResponse
			decodeJSON(t, rec, &resp)
			if !strings.HasPrefix(resp.Error, tt.want) {
				t.Errorf("error = %q, want prefix %q", resp.Error, tt.want)
			}
		})
	}

	if env.launcher.Launches() != 0 {
		t.Error("bad requests must not launch a browser")
	}
}

func TestServer_Analyze_Fallback(t *testing.T) {
	site := browsertest.NewSite().
		Add("https://x.test/", &browsertest.Page{Status: 503})
	env := newTestEnv(t, site, nil)

	rec := do(t, env.server, "POST", "/analyze", `{"url":"https://x.test/"}`)
	frames := sseFrames(t, rec.Body.String())

	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d: %s", len(frames), rec.Body.String())
	}
	if frames[0]["pagesScanned"] != float64(0) || frames[0]["totalPages"] != float64(1) {
		t.Errorf("fallback frame = %v", frames[0])
	}
	if frames[1]["pagesScanned"] != float64(1) {
		t.Errorf("audit frame = %v", frames[1])
	}
	if frames[2]["done"] != true {
		t.Errorf("terminal = %v", frames[2])
	}
}

func TestServer_Analyze_NothingAudited(t *testing.T) {
	env := newTestEnv(t, testSite(), nil)
	env.auditor.FailOn("https://x.test/", errors.NewAuditFailure("https://x.test/", stderrors.New("engine crashed")))
	env.auditor.FailOn("https://x.test/a", errors.NewAuditFailure("https://x.test/a", stderrors.New("engine crashed")))
	env.auditor.FailOn("https://x.test/b", errors.NewAuditFailure("https://x.test/b", stderrors.New("engine crashed")))

	rec := do(t, env.server, "POST", "/analyze", `{"url":"https://x.test/"}`)
	frames := sseFrames(t, rec.Body.String())

	if len(frames) != 1 {
		t.Fatalf("expected only the terminal frame, got %d", len(frames))
	}
	terminal := frames[0]
	if terminal["done"] != true {
		t.Fatalf("terminal = %v", terminal)
	}
	perf, _ := terminal["performance"].(map[string]any)
	if perf == nil || perf["score"] != float64(0) {
		t.Errorf("placeholder performance = %v", terminal["performance"])
	}
}

func TestServer_Analyze_SessionFailure(t *testing.T) {
	env := newTestEnv(t, testSite(), nil)
	env.auditor.FailOn("https://x.test/a", errors.NewSessionError("audit", stderrors.New("target closed")))

	rec := do(t, env.server, "POST", "/analyze", `{"url":"https://x.test/"}`)
	frames := sseFrames(t, rec.Body.String())

	if len(frames) != 2 {
		t.Fatalf("expected 1 progress and 1 error frame, got %d: %s", len(frames), rec.Body.String())
	}
	last := frames[1]
	msg, _ := last["error"].(string)
	if msg == "" {
		t.Fatalf("terminal frame = %v, want {error}", last)
	}
	if _, done := last["done"]; done {
		t.Error("error frame should not carry done")
	}
	if env.launcher.Open() != 0 {
		t.Error("sessions should be closed")
	}

	list := do(t, env.server, "GET", "/reports", "")
	var reports []state.ReportSummary
	decodeJSON(t, list, &reports)
	if len(reports) != 0 {
		t.Errorf("failed scan should not be stored, got %d", len(reports))
	}
}

func TestServer_Analyze_LaunchFailure(t *testing.T) {
	env := newTestEnv(t, testSite(), nil)
	env.launcher.LaunchErr = stderrors.New("chrome not installed")

	rec := do(t, env.server, "POST", "/analyze", `{"url":"https://x.test/"}`)
	frames := sseFrames(t, rec.Body.String())

	if len(frames) != 1 {
		t.Fatalf("expected exactly one frame, got %d", len(frames))
	}
	if _, ok := frames[0]["error"]; !ok {
		t.Errorf("frame = %v, want {error}", frames[0])
	}
}

func TestServer_Analyze_AuditorPanic(t *testing.T) {
	env := newTestEnv(t, testSite(), nil)
	env.auditor.PanicOn("https://x.test/a")

	rec := do(t, env.server, "POST", "/analyze", `{"url":"https://x.test/"}`)
	frames := sseFrames(t, rec.Body.String())

	if len(frames) != 3 {
		t.Fatalf("expected 2 progress frames and 1 terminal, got %d: %s", len(frames), rec.Body.String())
	}
	if frames[1]["pagesScanned"] != float64(2) || frames[1]["totalPages"] != float64(3) {
		t.Errorf("frame 1 = %v", frames[1])
	}
	terminal := frames[2]
	if terminal["done"] != true {
		t.Fatalf("terminal = %v", terminal)
	}
	stats, _ := terminal["scanStats"].(map[string]any)
	if stats == nil || stats["pagesScanned"] != float64(2) {
		t.Errorf("scanStats = %v", terminal["scanStats"])
	}
	if env.launcher.Open() != 0 {
		t.Error("sessions should be closed")
	}
}

// panickingStore panics on Save.
type panickingStore struct {
	*state.MemoryStore
}

func (panickingStore) Save(*state.StoredReport) error {
	panic("store corrupted")
}

func TestServer_Analyze_PanicAfterScan(t *testing.T) {
	env := newTestEnv(t, testSite(), panickingStore{state.NewMemoryStore()})

	rec := do(t, env.server, "POST", "/analyze", `{"url":"https://x.test/"}`)
	frames := sseFrames(t, rec.Body.String())

	if len(frames) != 4 {
		t.Fatalf("expected 3 progress frames and 1 error frame, got %d: %s", len(frames), rec.Body.String())
	}
	last := frames[3]
	if msg, _ := last["error"].(string); !strings.Contains(msg, "internal error") {
		t.Errorf("terminal frame = %v, want {error}", last)
	}
	if _, done := last["done"]; done {
		t.Error("error frame should not carry done")
	}
}

// failingStore rejects every Save.
type failingStore struct {
	*state.MemoryStore
}

func (failingStore) Save(*state.StoredReport) error {
	return stderrors.New("disk full")
}

func TestServer_Analyze_StoreFailure(t *testing.T) {
	env := newTestEnv(t, testSite(), failingStore{state.NewMemoryStore()})

	rec := do(t, env.server, "POST", "/analyze", `{"url":"https://x.test/"}`)
	frames := sseFrames(t, rec.Body.String())

	terminal := frames[len(frames)-1]
	if terminal["done"] != true {
		t.Fatalf("terminal = %v", terminal)
	}
	if _, ok := terminal["id"]; ok {
		t.Error("terminal frame should not carry an id that was never stored")
	}
}

// =============================================================================
// WebSocket Tests
// =============================================================================

func TestServer_AnalyzeWS(t *testing.T) {
	env := newTestEnv(t, testSite(), nil)
	ts := httptest.NewServer(env.server)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/analyze?url=https://x.test/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var frames []map[string]any
	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("read: %v", err)
			}
			break
		}
		var f map[string]any
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("frame is not JSON: %v", err)
		}
		frames = append(frames, f)
	}

	if len(frames) != 4 {
		t.Fatalf("expected 4 frames, got %d", len(frames))
	}
	if frames[3]["done"] != true {
		t.Errorf("terminal = %v", frames[3])
	}
}

func TestServer_AnalyzeWS_MissingURL(t *testing.T) {
	env := newTestEnv(t, testSite(), nil)

	rec := do(t, env.server, "GET", "/ws/analyze", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

// =============================================================================
// Report Tests
// =============================================================================

func TestServer_Reports(t *testing.T) {
	env := newTestEnv(t, testSite(), nil)

	rec := do(t, env.server, "GET", "/reports", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var empty []state.ReportSummary
	decodeJSON(t, rec, &empty)
	if len(empty) != 0 {
		t.Errorf("expected no reports, got %d", len(empty))
	}

	for _, id := range []string{"r1", "r2", "r3"} {
		if err := env.store.Save(&state.StoredReport{ID: id, URL: "https://x.test/", Payload: json.RawMessage(`{}`)}); err != nil {
			t.Fatal(err)
		}
	}

	rec = do(t, env.server, "GET", "/reports?limit=2", "")
	var limited []state.ReportSummary
	decodeJSON(t, rec, &limited)
	if len(limited) != 2 {
		t.Errorf("expected 2 reports, got %d", len(limited))
	}

	rec = do(t, env.server, "DELETE", "/reports/r1", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("DELETE expected 204, got %d", rec.Code)
	}
	rec = do(t, env.server, "GET", "/reports/r1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET deleted report expected 404, got %d", rec.Code)
	}
	rec = do(t, env.server, "DELETE", "/reports/r1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("second DELETE expected 404, got %d", rec.Code)
	}
}

func TestServer_GetReport_NotFound(t *testing.T) {
	env := newTestEnv(t, testSite(), nil)

	rec := do(t, env.server, "GET", "/reports/nonexistent", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

// =============================================================================
// Minify Tests
// =============================================================================

func TestServer_Minify(t *testing.T) {
	env := newTestEnv(t, testSite(), nil)

	rec := do(t, env.server, "POST", "/minify", `{"code":"body {  color : red ; }","type":"css"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp server.MinifyResponse
	decodeJSON(t, rec, &resp)
	if resp.Minified != "body{color:red}" {
		t.Errorf("minified = %q", resp.Minified)
	}
	if resp.OriginalSize != 23 || resp.MinifiedSize != 15 || resp.Savings != 34.78 {
		t.Errorf("sizes = %d/%d savings %v", resp.OriginalSize, resp.MinifiedSize, resp.Savings)
	}
}

func TestServer_Minify_BadRequest(t *testing.T) {
	env := newTestEnv(t, testSite(), nil)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"invalid JSON", `nope`, http.StatusBadRequest},
		{"missing code", `{"type":"css"}`, http.StatusBadRequest},
		{"unknown type", `{"code":"x","type":"cobol"}`, http.StatusBadRequest},
		{"unparsable", `{"code":"{\"a\" 1}","type":"json"}`, http.StatusUnprocessableEntity},
		{"batch unknown type", `{"files":[{"name":"a","code":"x","type":"cobol"}]}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, env.server, "POST", "/minify", tt.body)
			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestServer_Minify_Batch(t *testing.T) {
	env := newTestEnv(t, testSite(), nil)

	body := `{"files":[
		{"name":"a.css","code":"a { color : blue ; }","type":"css"},
		{"name":"b.json","code":"{ \"b\" : 1 }","type":"json"}
	]}`
	rec := do(t, env.server, "POST", "/minify", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp server.MinifyBatchResponse
	decodeJSON(t, rec, &resp)
	if len(resp.Files) != 2 || resp.Files[0].Name != "a.css" || resp.Files[1].Name != "b.json" {
		t.Fatalf("files = %+v", resp.Files)
	}
	if resp.MinifiedSize >= resp.OriginalSize || resp.Savings <= 0 {
		t.Errorf("totals = %d/%d savings %v", resp.OriginalSize, resp.MinifiedSize, resp.Savings)
	}
}

// =============================================================================
// Health and Metrics Tests
// =============================================================================

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t, testSite(), nil)

	rec := do(t, env.server, "GET", "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp server.HealthResponse
	decodeJSON(t, rec, &resp)
	if resp.Status != "ok" || resp.ActiveScans != 0 {
		t.Errorf("health = %+v", resp)
	}
}

func TestServer_Metrics(t *testing.T) {
	env := newTestEnv(t, testSite(), nil)

	do(t, env.server, "POST", "/analyze", `{"url":"https://x.test/"}`)
	rec := do(t, env.server, "GET", "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	for _, name := range []string{
		"siteaudit_scans_started_total",
		"siteaudit_pages_audited_total",
		`siteaudit_http_requests_total{method="POST",route="/analyze"`,
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

// =============================================================================
// CORS Tests
// =============================================================================

func TestServer_CORS(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"wildcard", []string{"*"}, "https://app.test", "*"},
		{"listed origin", []string{"https://app.test"}, "https://app.test", "https://app.test"},
		{"unlisted origin", []string{"https://app.test"}, "https://evil.test", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, testSite(), nil, tt.allowed...)
			req := httptest.NewRequest("GET", "/healthz", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			env.server.ServeHTTP(rec, req)

			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestServer_OptionsPreflight(t *testing.T) {
	env := newTestEnv(t, testSite(), nil)

	rec := do(t, env.server, "OPTIONS", "/analyze", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 for OPTIONS, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("expected Allow-Methods header on OPTIONS")
	}
}
