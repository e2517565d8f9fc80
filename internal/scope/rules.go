package scope

import (
	"strings"
)

// DefaultExcludeExtensions contains binary and asset extensions that are
// never pages worth auditing.
var DefaultExcludeExtensions = []string{
	"pdf", "jpg", "jpeg", "png", "gif", "svg", "webp", "ico",
	"css", "js", "woff", "woff2", "ttf",
	"zip", "gz", "tar",
	"mp3", "mp4", "webm", "avi", "mov",
	"doc", "docx", "xls", "xlsx",
}

// pseudoProtocols never lead to a document.
var pseudoProtocols = []string{"tel:", "mailto:", "javascript:", "data:", "sms:"}

// Reason explains why a link was rejected.
type Reason int

const (
	// Accepted means the link may be enqueued.
	Accepted Reason = iota
	// RejectInvalid means the href could not be parsed or resolved.
	RejectInvalid
	// RejectPseudoProtocol means tel:, mailto:, javascript: and similar.
	RejectPseudoProtocol
	// RejectScheme means a scheme other than http or https.
	RejectScheme
	// RejectFragment means the href carried a fragment.
	RejectFragment
	// RejectExtension means the path ends in an excluded extension.
	RejectExtension
	// RejectPattern means an exclude pattern matched.
	RejectPattern
	// RejectCrossOrigin means scheme, host or port differ from the seed.
	RejectCrossOrigin
)

// String returns the label used in logs and metrics.
func (r Reason) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case RejectInvalid:
		return "invalid"
	case RejectPseudoProtocol:
		return "pseudo_protocol"
	case RejectScheme:
		return "scheme"
	case RejectFragment:
		return "fragment"
	case RejectExtension:
		return "extension"
	case RejectPattern:
		return "pattern"
	case RejectCrossOrigin:
		return "cross_origin"
	default:
		return "unknown"
	}
}

// hasPseudoProtocol reports whether href starts with a non-navigable scheme.
func hasPseudoProtocol(href string) bool {
	lower := strings.ToLower(strings.TrimSpace(href))
	for _, p := range pseudoProtocols {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// hasExcludedExtension reports whether the path ends in one of exts.
func hasExcludedExtension(path string, exts map[string]struct{}) bool {
	if len(exts) == 0 {
		return false
	}
	path = strings.ToLower(path)
	dot := strings.LastIndex(path, ".")
	if dot < 0 || dot < strings.LastIndex(path, "/") {
		return false
	}
	_, ok := exts[path[dot+1:]]
	return ok
}
