package minify

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

// =============================================================================
// Savings Tests
// =============================================================================

func TestSavings(t *testing.T) {
	tests := []struct {
		original int
		minified int
		want     float64
	}{
		{100, 50, 50},
		{3, 2, 33.33},
		{3, 1, 66.67},
		{100, 100, 0},
		{0, 0, 0},
		{10, 12, -20},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%d", tt.original, tt.minified), func(t *testing.T) {
			if got := Savings(tt.original, tt.minified); got != tt.want {
				t.Errorf("Savings(%d, %d) = %v, want %v", tt.original, tt.minified, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Minify Tests
// =============================================================================

func TestMinify(t *testing.T) {
	m := New()

	tests := []struct {
		name string
		typ  string
		code string
		want string
	}{
		{"css", "css", "body {\n  color : red ;\n}\n", "body{color:red}"},
		{"json", "json", "{ \"a\" : [1, 2] }", `{"a":[1,2]}`},
		{"type is case insensitive", " CSS ", "a { margin : 0 ; }", "a{margin:0}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := m.Minify(tt.typ, tt.code)
			if err != nil {
				t.Fatalf("Minify() error = %v", err)
			}
			if res.Minified != tt.want {
				t.Errorf("Minified = %q, want %q", res.Minified, tt.want)
			}
			if res.OriginalSize != len(tt.code) || res.MinifiedSize != len(tt.want) {
				t.Errorf("sizes = %d/%d, want %d/%d", res.OriginalSize, res.MinifiedSize, len(tt.code), len(tt.want))
			}
			if res.Savings != Savings(len(tt.code), len(tt.want)) {
				t.Errorf("Savings = %v", res.Savings)
			}
		})
	}
}

func TestMinify_ShrinksScriptsAndMarkup(t *testing.T) {
	m := New()

	tests := []struct {
		typ  string
		code string
	}{
		{"js", "function add ( first , second ) {\n    // sum\n    return first + second ;\n}\n"},
		{"javascript", "var   total   =   1  +  2 ;\n"},
		{"html", "<html>\n  <body>\n    <p>  hello   world  </p>\n  </body>\n</html>\n"},
		{"svg", "<svg xmlns=\"http://www.w3.org/2000/svg\">\n  <rect width=\"10\"   height=\"10\" />\n</svg>\n"},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			res, err := m.Minify(tt.typ, tt.code)
			if err != nil {
				t.Fatalf("Minify() error = %v", err)
			}
			if res.MinifiedSize >= res.OriginalSize {
				t.Errorf("MinifiedSize = %d, want less than %d", res.MinifiedSize, res.OriginalSize)
			}
			if res.Savings <= 0 {
				t.Errorf("Savings = %v, want positive", res.Savings)
			}
		})
	}
}

func TestMinify_UnsupportedType(t *testing.T) {
	m := New()

	for _, typ := range []string{"", "php", "markdown"} {
		_, err := m.Minify(typ, "x")
		if !stderrors.Is(err, ErrUnsupportedType) {
			t.Errorf("Minify(%q) error = %v, want ErrUnsupportedType", typ, err)
		}
	}
}

func TestMinify_ParseError(t *testing.T) {
	m := New()

	if _, err := m.Minify("json", `{"a" 1}`); err == nil {
		t.Error("Minify() should fail on malformed JSON")
	}
}

func TestSupported(t *testing.T) {
	for _, typ := range []string{"html", "css", "js", "JavaScript", "json", "svg"} {
		if !Supported(typ) {
			t.Errorf("Supported(%q) = false", typ)
		}
	}
	if Supported("xml") {
		t.Error("Supported(xml) = true")
	}
}

// =============================================================================
// Batch Tests
// =============================================================================

func TestMinifyBatch(t *testing.T) {
	m := New()
	m.SetBatchLimit(2)

	files := []File{
		{Name: "a.css", Code: "a { color : blue ; }", Type: "css"},
		{Name: "b.json", Code: `{ "b" : true }`, Type: "json"},
		{Name: "broken.json", Code: `{"c" 1}`, Type: "json"},
		{Name: "c.css", Code: "c { margin : 0 ; }", Type: "css"},
	}

	results, err := m.MinifyBatch(context.Background(), files)
	if err != nil {
		t.Fatalf("MinifyBatch() error = %v", err)
	}
	if len(results) != len(files) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(files))
	}

	for i, f := range files {
		if results[i].Name != f.Name {
			t.Errorf("results[%d].Name = %s, want %s (order lost)", i, results[i].Name, f.Name)
		}
	}
	if results[0].Minified != "a{color:blue}" {
		t.Errorf("a.css = %q", results[0].Minified)
	}
	if results[1].Minified != `{"b":true}` {
		t.Errorf("b.json = %q", results[1].Minified)
	}

	broken := results[2]
	if broken.Error == "" {
		t.Error("broken.json should carry an error")
	}
	if broken.Minified != files[2].Code || broken.Savings != 0 {
		t.Errorf("broken.json = %+v, want original code and zero savings", broken)
	}
}

func TestMinifyBatch_RejectsUnknownTypeUpFront(t *testing.T) {
	m := New()
	files := []File{
		{Name: "ok.css", Code: "a{}", Type: "css"},
		{Name: "x.rb", Code: "puts 1", Type: "ruby"},
	}

	_, err := m.MinifyBatch(context.Background(), files)
	if !stderrors.Is(err, ErrUnsupportedType) {
		t.Fatalf("MinifyBatch() error = %v, want ErrUnsupportedType", err)
	}
	if !strings.Contains(err.Error(), "x.rb") {
		t.Errorf("error %q should name the file", err)
	}
}

func TestMinifyBatch_Cancelled(t *testing.T) {
	m := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.MinifyBatch(ctx, []File{{Name: "a.css", Code: "a{}", Type: "css"}})
	if !stderrors.Is(err, context.Canceled) {
		t.Errorf("MinifyBatch() error = %v, want context.Canceled", err)
	}
}

func TestMinifyBatch_Empty(t *testing.T) {
	results, err := New().MinifyBatch(context.Background(), nil)
	if err != nil || len(results) != 0 {
		t.Errorf("MinifyBatch(nil) = %v, %v", results, err)
	}
}
