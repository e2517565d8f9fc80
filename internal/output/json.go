package output

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/PentesterFlow/SiteAudit/pkg/crawler"
)

// JSONWriter writes output in JSON format. In stream mode every call
// writes one event line; otherwise only the final result is written.
type JSONWriter struct {
	mu     sync.Mutex
	writer io.Writer
	pretty bool
	stream bool
	closed bool
}

// NewJSONWriter creates a new JSON writer.
func NewJSONWriter(w io.Writer, pretty, stream bool) *JSONWriter {
	return &JSONWriter{
		writer: w,
		pretty: pretty,
		stream: stream,
	}
}

// WriteProgress writes a progress event in streaming mode.
func (j *JSONWriter) WriteProgress(stats crawler.ScanStats) error {
	if !j.stream {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	return j.write(StreamEvent{Type: EventProgress, Data: stats})
}

// WriteResult writes the complete scan result, wrapped in a result event
// in streaming mode.
func (j *JSONWriter) WriteResult(result *crawler.ScanResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	if j.stream {
		return j.write(StreamEvent{Type: EventResult, Data: result})
	}
	return j.write(result)
}

// WriteError writes an error event in streaming mode, or a bare
// {"error": ...} object otherwise.
func (j *JSONWriter) WriteError(err error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed || err == nil {
		return nil
	}
	payload := map[string]string{"error": err.Error()}
	if j.stream {
		return j.write(StreamEvent{Type: EventError, Data: payload})
	}
	return j.write(payload)
}

func (j *JSONWriter) write(v interface{}) error {
	var data []byte
	var err error

	if j.pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}

	if err != nil {
		return err
	}

	if _, err := j.writer.Write(data); err != nil {
		return err
	}

	_, err = j.writer.Write([]byte("\n"))
	return err
}

// Flush flushes the writer.
func (j *JSONWriter) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if flusher, ok := j.writer.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

// Close closes the writer.
func (j *JSONWriter) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	if closer, ok := j.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Stream event types.
const (
	EventProgress = "progress"
	EventResult   = "result"
	EventError    = "error"
)

// StreamEvent represents a streaming output event.
type StreamEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}
