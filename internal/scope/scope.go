// Package scope decides which links a site crawl may follow.
package scope

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PentesterFlow/SiteAudit/internal/errors"
)

// Checker validates discovered links against the seed's origin and the
// configured exclude rules. It is safe for concurrent use once built.
type Checker struct {
	rules          Rules
	origin         string
	excludeExts    map[string]struct{}
	excludeRegexps []*regexp.Regexp
}

// NewChecker creates a checker bound to the origin of seedURL.
func NewChecker(seedURL string, rules Rules) (*Checker, error) {
	seed, err := Normalize(seedURL)
	if err != nil {
		return nil, err
	}
	origin, err := Origin(seed)
	if err != nil {
		return nil, err
	}

	c := &Checker{
		rules:       rules,
		origin:      origin,
		excludeExts: make(map[string]struct{}, len(rules.ExcludeExtensions)),
	}

	for _, ext := range rules.ExcludeExtensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			c.excludeExts[ext] = struct{}{}
		}
	}

	for _, pattern := range rules.ExcludePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
		c.excludeRegexps = append(c.excludeRegexps, re)
	}

	return c, nil
}

// Origin returns the origin the checker is bound to.
func (c *Checker) Origin() string {
	return c.origin
}

// Check resolves href against the page it was found on and reports whether
// the result may be enqueued. The returned URL is normalized.
func (c *Checker) Check(pageURL, href string) (string, Reason) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", RejectInvalid
	}
	if hasPseudoProtocol(href) {
		return "", RejectPseudoProtocol
	}

	resolved, err := ResolveURL(pageURL, href)
	if err != nil {
		return "", RejectInvalid
	}

	parsed, err := url.Parse(resolved)
	if err != nil {
		return "", RejectInvalid
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", RejectScheme
	}
	if parsed.Host == "" {
		return "", RejectInvalid
	}

	// In-page anchors would only produce near-duplicates of their page.
	if strings.Contains(href, "#") {
		return "", RejectFragment
	}

	if hasExcludedExtension(parsed.Path, c.excludeExts) {
		return "", RejectExtension
	}

	normalized, err := Normalize(resolved)
	if err != nil {
		return "", RejectInvalid
	}

	for _, re := range c.excludeRegexps {
		if re.MatchString(normalized) {
			return "", RejectPattern
		}
	}

	if !c.SameOrigin(normalized) {
		return "", RejectCrossOrigin
	}

	return normalized, Accepted
}

// SameOrigin reports whether rawURL shares scheme, host and port with the
// checker's seed.
func (c *Checker) SameOrigin(rawURL string) bool {
	o, err := Origin(rawURL)
	return err == nil && o == c.origin
}

// Normalize parses and re-serializes an absolute URL. Scheme and host are
// lowercased, default ports and the fragment dropped, and an empty path
// becomes "/". Query strings and trailing slashes are kept as they are, so
// "/a" and "/a/" remain distinct.
func Normalize(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", errors.NewValidationError(rawURL, err.Error())
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", errors.NewValidationError(rawURL, "absolute URL required")
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)

	if (parsed.Scheme == "http" && strings.HasSuffix(parsed.Host, ":80")) ||
		(parsed.Scheme == "https" && strings.HasSuffix(parsed.Host, ":443")) {
		parsed.Host = parsed.Host[:strings.LastIndex(parsed.Host, ":")]
	}

	parsed.Fragment = ""
	parsed.RawFragment = ""

	if parsed.Path == "" && parsed.Opaque == "" {
		parsed.Path = "/"
	}

	return parsed.String(), nil
}

// Origin returns scheme://host[:port] for rawURL with default ports removed.
func Origin(rawURL string) (string, error) {
	normalized, err := Normalize(rawURL)
	if err != nil {
		return "", err
	}
	parsed, err := url.Parse(normalized)
	if err != nil {
		return "", err
	}
	return parsed.Scheme + "://" + parsed.Host, nil
}

// ResolveURL resolves a relative URL against a base URL.
func ResolveURL(baseURL, relativeURL string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}

	ref, err := url.Parse(relativeURL)
	if err != nil {
		return "", err
	}

	return base.ResolveReference(ref).String(), nil
}

// ValidateSeed checks that rawURL can start a scan and returns it
// normalized.
func ValidateSeed(rawURL string) (string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", errors.NewValidationError("", "url is required")
	}
	normalized, err := Normalize(rawURL)
	if err != nil {
		return "", err
	}
	parsed, _ := url.Parse(normalized)
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.NewValidationError(rawURL, "only http and https URLs can be audited")
	}
	return normalized, nil
}
