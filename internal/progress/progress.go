// Package progress reports scan progress: a framed Stream for HTTP clients
// and a terminal Bar for the CLI.
package progress

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Bar renders scan progress on a terminal.
type Bar struct {
	mu      sync.Mutex
	out     io.Writer
	started bool
	stopped bool

	p   *mpb.Progress
	bar *mpb.Bar

	scanned atomic.Int64
	total   atomic.Int64

	startTime time.Time
	target    string
}

// NewBar creates a bar writing to out.
func NewBar(out io.Writer) *Bar {
	return &Bar{out: out}
}

// Start begins rendering.
func (b *Bar) Start(target string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return
	}

	b.started = true
	b.startTime = time.Now()
	b.target = target

	b.p = mpb.New(mpb.WithOutput(b.out), mpb.WithWidth(64))
	b.bar = b.p.AddBar(0,
		mpb.PrependDecorators(
			decor.Name(truncateURL(target, 40), decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.CountersNoUnit("[%d / %d]", decor.WCSyncWidth),
			decor.Percentage(decor.WCSyncSpace),
			decor.OnComplete(
				decor.Elapsed(decor.ET_STYLE_GO, decor.WCSyncSpace), "done",
			),
		),
	)
}

// Update moves the bar to scanned of total pages.
func (b *Bar) Update(scanned, total int) {
	b.scanned.Store(int64(scanned))
	b.total.Store(int64(total))

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started || b.stopped {
		return
	}
	b.bar.SetTotal(int64(total), false)
	b.bar.SetCurrent(int64(scanned))
}

// Stop completes the bar, or aborts it when the scan failed, and waits for
// the last render.
func (b *Bar) Stop(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped || !b.started {
		return
	}

	b.stopped = true
	if failed {
		b.bar.Abort(false)
	} else {
		b.bar.SetTotal(-1, true)
	}
	b.p.Wait()
}

// PrintSummary writes a short summary after the scan.
func (b *Bar) PrintSummary(w io.Writer, skipped int) {
	duration := time.Since(b.startTime)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Target:         %s\n", truncateURL(b.target, 60))
	fmt.Fprintf(w, "  Duration:       %s\n", formatDuration(duration))
	fmt.Fprintf(w, "  Pages found:    %d\n", b.total.Load())
	fmt.Fprintf(w, "  Pages audited:  %d\n", b.scanned.Load())
	fmt.Fprintf(w, "  Pages skipped:  %d\n", skipped)
	fmt.Fprintln(w)
}

// Stats returns the last reported counts.
func (b *Bar) Stats() (scanned, total int64) {
	return b.scanned.Load(), b.total.Load()
}

// truncateURL truncates a URL to maxLen characters.
func truncateURL(url string, maxLen int) string {
	if len(url) <= maxLen {
		return url
	}
	return url[:maxLen-3] + "..."
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
