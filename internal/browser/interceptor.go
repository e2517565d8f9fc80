package browser

import (
	"sort"
	"strings"
	"sync"
)

// Resource types as reported by the DevTools protocol.
const (
	ResourceDocument   = "Document"
	ResourceScript     = "Script"
	ResourceXHR        = "XHR"
	ResourceFetch      = "Fetch"
	ResourceImage      = "Image"
	ResourceStylesheet = "Stylesheet"
	ResourceFont       = "Font"
	ResourceMedia      = "Media"
)

// RequestPolicy decides which requests a blocking session lets through
// and counts the decisions.
type RequestPolicy struct {
	allowed map[string]struct{}

	mu      sync.Mutex
	passed  map[string]int
	blocked map[string]int
}

// NewRequestPolicy creates a policy allowing only the given resource types.
// Matching is case-insensitive.
func NewRequestPolicy(allowed ...string) *RequestPolicy {
	p := &RequestPolicy{
		allowed: make(map[string]struct{}, len(allowed)),
		passed:  make(map[string]int),
		blocked: make(map[string]int),
	}
	for _, t := range allowed {
		p.allowed[strings.ToLower(t)] = struct{}{}
	}
	return p
}

// DefaultRequestPolicy lets documents, scripts and XHR/fetch calls through.
// Images, stylesheets, fonts, media and everything else are aborted.
func DefaultRequestPolicy() *RequestPolicy {
	return NewRequestPolicy(ResourceDocument, ResourceScript, ResourceXHR, ResourceFetch)
}

// Allow records and returns the decision for a request of resourceType.
func (p *RequestPolicy) Allow(resourceType string) bool {
	_, ok := p.allowed[strings.ToLower(resourceType)]

	p.mu.Lock()
	if ok {
		p.passed[resourceType]++
	} else {
		p.blocked[resourceType]++
	}
	p.mu.Unlock()

	return ok
}

// PolicyStats summarizes the decisions a policy made.
type PolicyStats struct {
	Passed  map[string]int `json:"passed"`
	Blocked map[string]int `json:"blocked"`
}

// TotalBlocked returns the number of aborted requests.
func (s PolicyStats) TotalBlocked() int {
	n := 0
	for _, c := range s.Blocked {
		n += c
	}
	return n
}

// Stats returns a copy of the counters.
func (p *RequestPolicy) Stats() PolicyStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := PolicyStats{
		Passed:  make(map[string]int, len(p.passed)),
		Blocked: make(map[string]int, len(p.blocked)),
	}
	for k, v := range p.passed {
		s.Passed[k] = v
	}
	for k, v := range p.blocked {
		s.Blocked[k] = v
	}
	return s
}

// AllowedTypes returns the allowed resource types, lowercased and sorted.
func (p *RequestPolicy) AllowedTypes() []string {
	out := make([]string, 0, len(p.allowed))
	for t := range p.allowed {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
