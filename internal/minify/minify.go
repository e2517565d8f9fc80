// Package minify shrinks HTML, CSS, JavaScript, JSON and SVG assets and
// reports how much was saved.
package minify

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	tdminify "github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/json"
	"github.com/tdewolff/minify/v2/svg"
	"golang.org/x/sync/errgroup"
)

// Asset types accepted by Minify.
const (
	TypeHTML = "html"
	TypeCSS  = "css"
	TypeJS   = "js"
	TypeJSON = "json"
	TypeSVG  = "svg"
)

// DefaultBatchLimit bounds concurrent minifications in one batch.
const DefaultBatchLimit = 4

// ErrUnsupportedType is returned for an asset type with no minifier.
var ErrUnsupportedType = stderrors.New("unsupported asset type")

var mediaTypes = map[string]string{
	TypeHTML: "text/html",
	TypeCSS:  "text/css",
	TypeJS:   "application/javascript",
	TypeJSON: "application/json",
	TypeSVG:  "image/svg+xml",
}

// Result is one minified asset.
type Result struct {
	Name         string  `json:"name,omitempty"`
	Type         string  `json:"type"`
	Minified     string  `json:"minified"`
	OriginalSize int     `json:"originalSize"`
	MinifiedSize int     `json:"minifiedSize"`
	Savings      float64 `json:"savings"`
	Error        string  `json:"error,omitempty"`
}

// File is one entry of a batch.
type File struct {
	Name string `json:"name"`
	Code string `json:"code"`
	Type string `json:"type"`
}

// Minifier wraps a configured tdewolff minifier. It is safe for concurrent
// use.
type Minifier struct {
	m     *tdminify.M
	limit int
}

// New creates a minifier for every supported type.
func New() *Minifier {
	m := tdminify.New()
	m.Add("text/html", &html.Minifier{
		KeepDocumentTags: true,
		KeepEndTags:      true,
		KeepQuotes:       true,
	})
	m.AddFunc("text/css", css.Minify)
	m.AddFuncRegexp(regexp.MustCompile(`^(application|text)/(x-)?(java|ecma)script$`), js.Minify)
	m.AddFuncRegexp(regexp.MustCompile(`[/+]json$`), json.Minify)
	m.AddFunc("image/svg+xml", svg.Minify)

	return &Minifier{m: m, limit: DefaultBatchLimit}
}

// SetBatchLimit changes how many files of a batch are minified at once.
func (mn *Minifier) SetBatchLimit(n int) {
	if n < 1 {
		n = 1
	}
	mn.limit = n
}

// Supported reports whether typ can be minified.
func Supported(typ string) bool {
	_, ok := mediaTypes[normalizeType(typ)]
	return ok
}

// Minify minifies code of the given type.
func (mn *Minifier) Minify(typ, code string) (*Result, error) {
	typ = normalizeType(typ)
	mediaType, ok := mediaTypes[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, typ)
	}

	out, err := mn.m.String(mediaType, code)
	if err != nil {
		return nil, fmt.Errorf("minify %s: %w", typ, err)
	}

	return &Result{
		Type:         typ,
		Minified:     out,
		OriginalSize: len(code),
		MinifiedSize: len(out),
		Savings:      Savings(len(code), len(out)),
	}, nil
}

// MinifyBatch minifies files concurrently and returns results in input
// order. Every type is checked before any work starts. A file that fails
// to parse keeps its original code, zero savings and the error message.
func (mn *Minifier) MinifyBatch(ctx context.Context, files []File) ([]Result, error) {
	for _, f := range files {
		if !Supported(f.Type) {
			return nil, fmt.Errorf("%w: %q (file %q)", ErrUnsupportedType, f.Type, f.Name)
		}
	}

	results := make([]Result, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(mn.limit)

	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := mn.Minify(f.Type, f.Code)
			if err != nil {
				results[i] = Result{
					Name:         f.Name,
					Type:         normalizeType(f.Type),
					Minified:     f.Code,
					OriginalSize: len(f.Code),
					MinifiedSize: len(f.Code),
					Error:        err.Error(),
				}
				return nil
			}
			res.Name = f.Name
			results[i] = *res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Savings returns the size reduction as a percentage rounded to two
// decimals.
func Savings(original, minified int) float64 {
	if original <= 0 {
		return 0
	}
	pct := float64(original-minified) / float64(original) * 100
	return math.Round(pct*100) / 100
}

func normalizeType(typ string) string {
	typ = strings.ToLower(strings.TrimSpace(typ))
	switch typ {
	case "javascript", "ecmascript":
		return TypeJS
	}
	return typ
}
