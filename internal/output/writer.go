// Package output writes scan results for the command line.
package output

import (
	"fmt"
	"io"
	"os"

	"github.com/PentesterFlow/SiteAudit/pkg/crawler"
)

// Writer defines the interface for output writers.
type Writer interface {
	// WriteProgress writes one progress snapshot (for streaming)
	WriteProgress(stats crawler.ScanStats) error

	// WriteResult writes the finished scan
	WriteResult(result *crawler.ScanResult) error

	// WriteError writes a scan failure
	WriteError(err error) error

	// Flush flushes any buffered output
	Flush() error

	// Close closes the writer
	Close() error
}

// Output formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Config holds output configuration.
type Config struct {
	Format   string
	Pretty   bool
	Stream   bool
	FilePath string
}

// NewWriter creates a writer for config.Format on w.
func NewWriter(w io.Writer, config Config) (Writer, error) {
	switch config.Format {
	case "", FormatJSON:
		return NewJSONWriter(w, config.Pretty, config.Stream), nil
	case FormatText:
		return NewTextWriter(w), nil
	default:
		return nil, fmt.Errorf("unknown output format %q", config.Format)
	}
}

// Open returns the destination for config: the file at FilePath, created
// or truncated, or stdout when FilePath is empty. Closing the stdout
// destination is a no-op.
func Open(config Config) (io.WriteCloser, error) {
	if config.FilePath == "" {
		return nopCloser{os.Stdout}, nil
	}
	f, err := os.Create(config.FilePath)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	return f, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
