package browser

import (
	"strings"
	"sync"

	"github.com/PentesterFlow/SiteAudit/internal/logger"
)

// DefaultConsoleNoise lists substrings of console errors that are expected
// and not worth logging.
var DefaultConsoleNoise = []string{"favicon.ico", "favicon"}

// maxConsoleErrors caps how many errors are kept per page.
const maxConsoleErrors = 100

// ConsoleFilter collects console errors for the current page and drops
// known noise. Errors are logged for diagnostics only.
type ConsoleFilter struct {
	noise []string
	log   *logger.Logger

	mu      sync.Mutex
	pageURL string
	errors  []string
}

// NewConsoleFilter creates a filter ignoring messages that contain any of
// the noise substrings.
func NewConsoleFilter(noise []string, log *logger.Logger) *ConsoleFilter {
	lowered := make([]string, 0, len(noise))
	for _, n := range noise {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			lowered = append(lowered, n)
		}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ConsoleFilter{noise: lowered, log: log}
}

// IsNoise reports whether a message matches the noise list.
func (f *ConsoleFilter) IsNoise(text, source string) bool {
	text = strings.ToLower(text)
	source = strings.ToLower(source)
	for _, n := range f.noise {
		if strings.Contains(text, n) || strings.Contains(source, n) {
			return true
		}
	}
	return false
}

// Reset starts a new page.
func (f *ConsoleFilter) Reset(pageURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageURL = pageURL
	f.errors = nil
}

// Record keeps a console error unless it is noise.
func (f *ConsoleFilter) Record(text, source string) {
	text = strings.TrimSpace(text)
	if text == "" || f.IsNoise(text, source) {
		return
	}

	f.mu.Lock()
	pageURL := f.pageURL
	if len(f.errors) < maxConsoleErrors {
		f.errors = append(f.errors, text)
	}
	f.mu.Unlock()

	f.log.ConsoleEvent(pageURL, text)
}

// Errors returns the errors recorded since the last Reset.
func (f *ConsoleFilter) Errors() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, len(f.errors))
	copy(out, f.errors)
	return out
}
