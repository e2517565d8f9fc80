package scope

import (
	"errors"
	"testing"

	auditerr "github.com/PentesterFlow/SiteAudit/internal/errors"
)

// =============================================================================
// Checker Tests
// =============================================================================

func TestNewChecker(t *testing.T) {
	tests := []struct {
		name    string
		seed    string
		rules   Rules
		origin  string
		wantErr bool
	}{
		{"plain", "https://x.test/", DefaultRules(), "https://x.test", false},
		{"default port dropped", "https://X.test:443/app", DefaultRules(), "https://x.test", false},
		{"explicit port kept", "http://x.test:8080", DefaultRules(), "http://x.test:8080", false},
		{"relative seed", "/relative", DefaultRules(), "", true},
		{"bad pattern", "https://x.test", Rules{ExcludePatterns: []string{`[invalid`}}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewChecker(tt.seed, tt.rules)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewChecker() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && c.Origin() != tt.origin {
				t.Errorf("Origin() = %s, want %s", c.Origin(), tt.origin)
			}
		})
	}
}

func TestChecker_Check(t *testing.T) {
	c, err := NewChecker("https://x.test/", DefaultRules())
	if err != nil {
		t.Fatalf("NewChecker() error = %v", err)
	}

	tests := []struct {
		name   string
		page   string
		href   string
		want   string
		reason Reason
	}{
		{"relative path", "https://x.test/", "/a", "https://x.test/a", Accepted},
		{"relative to nested page", "https://x.test/docs/intro", "next", "https://x.test/docs/next", Accepted},
		{"absolute same origin", "https://x.test/", "https://x.test/b?q=1", "https://x.test/b?q=1", Accepted},
		{"trailing slash kept", "https://x.test/", "/a/", "https://x.test/a/", Accepted},
		{"default port is same origin", "https://x.test/", "https://x.test:443/c", "https://x.test/c", Accepted},
		{"uppercase host", "https://x.test/", "HTTPS://X.TEST/d", "https://x.test/d", Accepted},
		{"cross origin", "https://x.test/", "https://other.test/b", "", RejectCrossOrigin},
		{"other port", "https://x.test/", "https://x.test:8443/", "", RejectCrossOrigin},
		{"other scheme same host", "https://x.test/", "http://x.test/", "", RejectCrossOrigin},
		{"fragment", "https://x.test/", "/a#section", "", RejectFragment},
		{"bare fragment", "https://x.test/", "#top", "", RejectFragment},
		{"mailto", "https://x.test/", "mailto:a@x.test", "", RejectPseudoProtocol},
		{"tel", "https://x.test/", "tel:+123", "", RejectPseudoProtocol},
		{"javascript", "https://x.test/", " JavaScript:void(0)", "", RejectPseudoProtocol},
		{"ftp", "https://x.test/", "ftp://x.test/file", "", RejectScheme},
		{"pdf", "https://x.test/", "/report.pdf", "", RejectExtension},
		{"jpg uppercase", "https://x.test/", "/photo.JPG", "", RejectExtension},
		{"png with query", "https://x.test/", "/logo.png?v=2", "", RejectExtension},
		{"dot in directory", "https://x.test/", "/v1.2/page", "https://x.test/v1.2/page", Accepted},
		{"empty", "https://x.test/", "   ", "", RejectInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := c.Check(tt.page, tt.href)
			if reason != tt.reason {
				t.Errorf("Check(%q) reason = %v, want %v", tt.href, reason, tt.reason)
			}
			if got != tt.want {
				t.Errorf("Check(%q) = %q, want %q", tt.href, got, tt.want)
			}
		})
	}
}

func TestChecker_ExcludePatterns(t *testing.T) {
	c, err := NewChecker("https://x.test/", Rules{ExcludePatterns: []string{`/logout`}})
	if err != nil {
		t.Fatalf("NewChecker() error = %v", err)
	}

	if _, reason := c.Check("https://x.test/", "/logout?next=/"); reason != RejectPattern {
		t.Errorf("reason = %v, want pattern", reason)
	}
	// No extension rules configured, so assets pass.
	if _, reason := c.Check("https://x.test/", "/brochure.pdf"); reason != Accepted {
		t.Errorf("reason = %v, want accepted", reason)
	}
}

func TestChecker_ExtensionNormalization(t *testing.T) {
	c, err := NewChecker("https://x.test/", Rules{ExcludeExtensions: []string{".PDF", " svg "}})
	if err != nil {
		t.Fatalf("NewChecker() error = %v", err)
	}

	for _, href := range []string{"/a.pdf", "/b.svg"} {
		if _, reason := c.Check("https://x.test/", href); reason != RejectExtension {
			t.Errorf("Check(%q) reason = %v, want extension", href, reason)
		}
	}
}

// =============================================================================
// URL Helper Tests
// =============================================================================

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://x.test", "https://x.test/"},
		{"https://x.test/a#frag", "https://x.test/a"},
		{"HTTP://X.test:80/a/", "http://x.test/a/"},
		{"https://x.test/a?b=2&a=1", "https://x.test/a?b=2&a=1"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Normalize() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestValidateSeed(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"https://x.test", "https://x.test/", false},
		{"", "", true},
		{"x.test", "", true},
		{"ftp://x.test/", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ValidateSeed(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateSeed() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, auditerr.ErrInvalidURL) {
					t.Errorf("error %v should wrap ErrInvalidURL", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("ValidateSeed() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestReason_String(t *testing.T) {
	if Accepted.String() != "accepted" || RejectCrossOrigin.String() != "cross_origin" {
		t.Error("unexpected reason labels")
	}
	if Reason(99).String() != "unknown" {
		t.Error("out of range reason should be unknown")
	}
}
