package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/PentesterFlow/SiteAudit/internal/browser"
	"github.com/PentesterFlow/SiteAudit/internal/errors"
	"github.com/PentesterFlow/SiteAudit/internal/logger"
)

// LighthouseAuditor runs the lighthouse CLI against the session's browser
// through its remote debugging port.
type LighthouseAuditor struct {
	config Config
	log    *logger.Logger
}

// NewLighthouseAuditor creates a lighthouse-backed auditor.
func NewLighthouseAuditor(cfg Config, log *logger.Logger) *LighthouseAuditor {
	if cfg.LighthouseBin == "" {
		cfg.LighthouseBin = "lighthouse"
	}
	if log == nil {
		log = logger.Nop()
	}
	return &LighthouseAuditor{config: cfg, log: log}
}

// Audit runs lighthouse for pageURL. The session is pinged first so a dead
// browser surfaces as a session error rather than a lighthouse failure.
func (a *LighthouseAuditor) Audit(ctx context.Context, pageURL string, session browser.Session) (*Report, error) {
	if err := session.Ping(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewCancelledError(pageURL, "lighthouse")
		}
		return nil, errors.NewSessionError("ping", err)
	}

	port, err := debuggerPort(session.DebuggerURL())
	if err != nil {
		return nil, errors.NewSessionError("lighthouse", err)
	}

	runCtx := ctx
	if a.config.NavigationTimeout > 0 {
		// Lighthouse loads the page several times; allow for that.
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, 3*a.config.NavigationTimeout)
		defer cancel()
	}

	start := time.Now()
	cmd := exec.CommandContext(runCtx, a.config.LighthouseBin, pageURL,
		"--port="+port,
		"--output=json",
		"--output-path=stdout",
		"--quiet",
		"--only-categories=performance,accessibility,best-practices,seo",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewCancelledError(pageURL, "lighthouse")
		}
		if runCtx.Err() != nil {
			return nil, errors.NewTimeoutError(pageURL, "lighthouse", runCtx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return nil, errors.New(errors.Audit, pageURL, "lighthouse", msg, err)
	}

	report, err := ParseLighthouse(stdout.Bytes())
	if err != nil {
		return nil, errors.NewParseError(pageURL, "lighthouse", err)
	}
	report.URL = pageURL
	report.ConsoleErrors = session.ConsoleErrors()

	a.log.WithURL(pageURL).WithDuration(time.Since(start)).Debug("Lighthouse run finished")
	return report, nil
}

// debuggerPort extracts the port from a ws:// or http:// debugger URL.
func debuggerPort(debuggerURL string) (string, error) {
	u, err := url.Parse(debuggerURL)
	if err != nil {
		return "", err
	}
	if u.Port() == "" {
		return "", fmt.Errorf("no port in debugger url %q", debuggerURL)
	}
	return u.Port(), nil
}

// lhr is the subset of the lighthouse JSON result that is mapped.
type lhr struct {
	FinalURL     string `json:"finalUrl"`
	FinalDisplay string `json:"finalDisplayedUrl"`
	FetchTime    string `json:"fetchTime"`
	RuntimeError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"runtimeError"`
	Categories map[string]struct {
		Score     *float64 `json:"score"`
		AuditRefs []struct {
			ID     string  `json:"id"`
			Weight float64 `json:"weight"`
		} `json:"auditRefs"`
	} `json:"categories"`
	Audits map[string]struct {
		Title        string   `json:"title"`
		Description  string   `json:"description"`
		Score        *float64 `json:"score"`
		DisplayValue string   `json:"displayValue"`
		NumericValue float64  `json:"numericValue"`
	} `json:"audits"`
}

// lighthouseMetrics maps audit ids to metric keys.
var lighthouseMetrics = map[string]string{
	"first-contentful-paint":   "fcp",
	"largest-contentful-paint": "lcp",
	"total-blocking-time":      "tbt",
	"cumulative-layout-shift":  "cls",
	"speed-index":              "si",
	"interactive":              "tti",
}

// ParseLighthouse converts lighthouse JSON output into a Report. Scores are
// rescaled from 0-1 to 0-100; a category lighthouse could not score makes
// the report invalid.
func ParseLighthouse(data []byte) (*Report, error) {
	var result lhr
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	if result.RuntimeError != nil && result.RuntimeError.Code != "" && result.RuntimeError.Code != "NO_ERROR" {
		return nil, fmt.Errorf("lighthouse runtime error %s: %s", result.RuntimeError.Code, result.RuntimeError.Message)
	}

	report := &Report{
		FinalURL:  result.FinalURL,
		Engine:    EngineLighthouse,
		FetchedAt: time.Now().UTC(),
	}
	if report.FinalURL == "" {
		report.FinalURL = result.FinalDisplay
	}
	if t, err := time.Parse(time.RFC3339, result.FetchTime); err == nil {
		report.FetchedAt = t.UTC()
	}

	category := func(key string) *Category {
		cat, ok := result.Categories[key]
		if !ok || cat.Score == nil {
			return nil
		}
		c := &Category{Score: round(*cat.Score*100, 0), Issues: []Issue{}}

		var total float64
		for _, ref := range cat.AuditRefs {
			total += ref.Weight
		}
		for _, ref := range cat.AuditRefs {
			audit, ok := result.Audits[ref.ID]
			if !ok || audit.Score == nil || ref.Weight == 0 || *audit.Score >= 0.9 {
				continue
			}
			c.Issues = append(c.Issues, Issue{
				ID:           ref.ID,
				Type:         key,
				Title:        audit.Title,
				Description:  audit.Description,
				Score:        round(*audit.Score*100, 0),
				Impact:       round(ref.Weight/total*100*(1-*audit.Score), 1),
				DisplayValue: audit.DisplayValue,
			})
		}
		sortIssues(c.Issues)
		return c
	}

	report.Performance = category(CategoryPerformance)
	report.Accessibility = category(CategoryAccessibility)
	report.BestPractices = category(CategoryBestPractices)
	report.SEO = category(CategorySEO)

	if report.Performance != nil {
		report.Performance.Metrics = make(map[string]Metric, len(lighthouseMetrics))
		for id, key := range lighthouseMetrics {
			audit, ok := result.Audits[id]
			if !ok {
				continue
			}
			m := Metric{DisplayValue: audit.DisplayValue, NumericValue: audit.NumericValue}
			if audit.Score != nil {
				m.Score = round(*audit.Score*100, 0)
			}
			report.Performance.Metrics[key] = m
		}
	}

	return report, nil
}
