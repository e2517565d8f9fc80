package output

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/PentesterFlow/SiteAudit/pkg/crawler"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#999999"))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B"))

	// Lighthouse colour bands.
	goodStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#0CCE6B"))
	averageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFA400"))
	poorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4E42"))

	cellStyle = lipgloss.NewStyle().Width(6).Align(lipgloss.Right)
)

// TextWriter renders a human readable score table. Progress is left to
// the terminal progress bar and is ignored here.
type TextWriter struct {
	mu     sync.Mutex
	writer io.Writer
	closed bool
}

// NewTextWriter creates a text writer on w.
func NewTextWriter(w io.Writer) *TextWriter {
	return &TextWriter{writer: w}
}

// WriteProgress is a no-op.
func (t *TextWriter) WriteProgress(crawler.ScanStats) error {
	return nil
}

// WriteResult writes the score table of result.
func (t *TextWriter) WriteResult(result *crawler.ScanResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	_, err := io.WriteString(t.writer, RenderSummary(Summarize(result)))
	return err
}

// WriteError writes the failure message.
func (t *TextWriter) WriteError(err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || err == nil {
		return nil
	}
	_, werr := fmt.Fprintln(t.writer, errorStyle.Render("Scan failed:"), err.Error())
	return werr
}

// Flush is a no-op.
func (t *TextWriter) Flush() error {
	return nil
}

// Close closes the underlying writer when it is an io.Closer.
func (t *TextWriter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if closer, ok := t.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// RenderSummary formats s as a table with one row per page and an
// average row.
func RenderSummary(s *Summary) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Audit of " + s.Seed))
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(fmt.Sprintf("%d discovered, %d audited, %d skipped in %s",
		s.Discovered, s.Audited, s.Skipped, s.Duration.Round(time.Millisecond))))
	b.WriteString("\n\n")

	header := lipgloss.JoinHorizontal(lipgloss.Top,
		cellStyle.Render("PERF"),
		cellStyle.Render("A11Y"),
		cellStyle.Render("BP"),
		cellStyle.Render("SEO"),
		"  URL",
	)
	b.WriteString(header)
	b.WriteString("\n")

	for _, p := range s.Pages {
		b.WriteString(scoreRow(p.Scores, p.URL))
		b.WriteString("\n")
	}
	if len(s.Pages) > 1 {
		b.WriteString(scoreRow(s.Average, mutedStyle.Render("average")))
		b.WriteString("\n")
	}
	return b.String()
}

func scoreRow(s Scores, label string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top,
		scoreCell(s.Performance),
		scoreCell(s.Accessibility),
		scoreCell(s.BestPractices),
		scoreCell(s.SEO),
		"  "+label,
	)
}

func scoreCell(score float64) string {
	text := fmt.Sprintf("%.0f", score)
	switch {
	case score >= 90:
		text = goodStyle.Render(text)
	case score >= 50:
		text = averageStyle.Render(text)
	default:
		text = poorStyle.Render(text)
	}
	return cellStyle.Render(text)
}
