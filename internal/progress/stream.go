package progress

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/PentesterFlow/SiteAudit/internal/audit"
	"github.com/PentesterFlow/SiteAudit/internal/errors"
	"github.com/PentesterFlow/SiteAudit/internal/logger"
)

// State is the lifecycle state of a Stream.
type State int

const (
	StateOpen State = iota
	StateStreaming
	StateTerminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateStreaming:
		return "streaming"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Sink delivers encoded frames to one client.
type Sink interface {
	// Send writes one JSON frame and pushes it to the client.
	Send(frame []byte) error

	// Close ends the transport after the terminal frame.
	Close() error
}

// Stream frames scan progress for one request: any number of progress
// frames followed by exactly one terminal frame.
type Stream struct {
	mu     sync.Mutex
	sink   Sink
	state  State
	frames int
	log    *logger.Logger
}

// NewStream creates an open stream writing to sink.
func NewStream(sink Sink, log *logger.Logger) *Stream {
	if log == nil {
		log = logger.Nop()
	}
	return &Stream{sink: sink, log: log}
}

// State returns the current state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Frames returns the number of frames handed to the sink.
func (s *Stream) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Progress sends a non-terminal frame.
func (s *Stream) Progress(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateTerminated {
		return errors.ErrStreamTerminated
	}
	s.state = StateStreaming
	return s.send(v)
}

// TerminateResult sends the terminal result frame and closes the sink.
func (s *Stream) TerminateResult(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateTerminated {
		return errors.ErrStreamTerminated
	}
	return s.terminate(v)
}

// TerminateError sends the terminal {error} frame and closes the sink.
func (s *Stream) TerminateError(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateTerminated {
		return errors.ErrStreamTerminated
	}
	msg := "scan failed"
	if err != nil {
		msg = err.Error()
	}
	return s.terminate(map[string]string{"error": msg})
}

func (s *Stream) terminate(v interface{}) error {
	s.state = StateTerminated
	sendErr := s.send(v)
	if err := s.sink.Close(); err != nil {
		s.log.WithError(err).Debug("Closing progress sink")
	}
	return sendErr
}

func (s *Stream) send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	s.frames++
	if err := s.sink.Send(data); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

// Terminal builds the terminal result frame: the first page's report, or a
// zero placeholder when nothing was audited, with scanStats and done set.
// id is added when the result was stored.
func Terminal(first *audit.Report, scanStats interface{}, id string) (map[string]interface{}, error) {
	if first == nil {
		first = audit.Placeholder()
	}

	data, err := json.Marshal(first)
	if err != nil {
		return nil, err
	}
	frame := make(map[string]interface{})
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, err
	}

	frame["scanStats"] = scanStats
	frame["done"] = true
	if id != "" {
		frame["id"] = id
	}
	return frame, nil
}
