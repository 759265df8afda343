package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"stream-analyst/models"
)

// ErrStreamCancelled is returned by Next once the caller has cancelled the stream
var ErrStreamCancelled = errors.New("analysis stream cancelled")

// FrameKind classifies one line of the event stream
type FrameKind int

const (
	// FrameIgnored is a blank line, comment, or any line without the data prefix
	FrameIgnored FrameKind = iota
	// FrameMalformed carries the data prefix but no decodable event
	FrameMalformed
	// FrameHeartbeat is a keep-alive with no state meaning
	FrameHeartbeat
	// FrameEvent is a decoded event
	FrameEvent
)

const (
	framePrefix       = "data:"
	initialFrameBytes = 64 * 1024
)

// DecodeFrame decodes one line of the stream. It never fails; lines that are
// not frames or do not decode are reported through the kind.
func DecodeFrame(line []byte) (models.Event, FrameKind) {
	line = bytes.TrimRight(line, "\r")

	payload, ok := bytes.CutPrefix(line, []byte(framePrefix))
	if !ok {
		return models.Event{}, FrameIgnored
	}
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return models.Event{}, FrameIgnored
	}

	var e models.Event
	if err := json.Unmarshal(payload, &e); err != nil || e.Type == "" {
		return models.Event{}, FrameMalformed
	}
	if e.Type == models.EventHeartbeat {
		return models.Event{}, FrameHeartbeat
	}
	return e, FrameEvent
}

// EventSource is a lazy, single-use sequence of events read from one stream
// connection. Every event is stamped with the generation the stream was
// opened for. Next must be called from one goroutine; Close may be called
// from any.
type EventSource struct {
	ctx        context.Context
	cancel     context.CancelFunc
	stop       func() bool
	body       io.ReadCloser
	reader     *bufio.Reader
	line       []byte
	maxFrame   int
	generation uint64

	dropped    atomic.Int64
	heartbeats atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// NewEventSource reads frames from body until it ends or ctx is cancelled
func NewEventSource(ctx context.Context, body io.ReadCloser, generation uint64, maxFrameBytes int) *EventSource {
	ctx, cancel := context.WithCancel(ctx)
	return newEventSource(ctx, cancel, body, generation, maxFrameBytes)
}

func newEventSource(ctx context.Context, cancel context.CancelFunc, body io.ReadCloser, generation uint64, maxFrameBytes int) *EventSource {
	if maxFrameBytes < initialFrameBytes {
		maxFrameBytes = initialFrameBytes
	}

	s := &EventSource{
		ctx:        ctx,
		cancel:     cancel,
		body:       body,
		reader:     bufio.NewReaderSize(body, initialFrameBytes),
		line:       make([]byte, 0, initialFrameBytes),
		maxFrame:   maxFrameBytes,
		generation: generation,
	}
	// Unblocks a pending read when the caller's context goes away
	s.stop = context.AfterFunc(ctx, func() { body.Close() })
	return s
}

// Next returns the next event. It returns io.EOF when the server closed the
// stream cleanly and ErrStreamCancelled after cancellation. Malformed frames,
// frames longer than the size limit, and heartbeats are skipped.
func (s *EventSource) Next() (models.Event, error) {
	for {
		if s.ctx.Err() != nil {
			return models.Event{}, ErrStreamCancelled
		}

		line, oversized, err := s.readLine()
		if err != nil {
			if s.ctx.Err() != nil {
				return models.Event{}, ErrStreamCancelled
			}
			if errors.Is(err, io.EOF) {
				return models.Event{}, io.EOF
			}
			return models.Event{}, fmt.Errorf("failed to read analysis stream: %w", err)
		}
		if oversized {
			s.dropped.Add(1)
			continue
		}

		e, kind := DecodeFrame(line)
		switch kind {
		case FrameEvent:
			e.Generation = s.generation
			return e, nil
		case FrameMalformed:
			s.dropped.Add(1)
		case FrameHeartbeat:
			s.heartbeats.Add(1)
		}
	}
}

// readLine returns the next line without its newline. A line longer than the
// frame limit is consumed up to its newline and reported as oversized, so
// one huge frame never ends the stream. The returned slice is only valid
// until the next call.
func (s *EventSource) readLine() ([]byte, bool, error) {
	s.line = s.line[:0]
	oversized := false

	for {
		chunk, err := s.reader.ReadSlice('\n')
		if !oversized {
			if len(s.line)+len(bytes.TrimSuffix(chunk, []byte("\n"))) > s.maxFrame {
				oversized = true
				s.line = s.line[:0]
			} else {
				s.line = append(s.line, chunk...)
			}
		}

		switch {
		case err == nil:
			return bytes.TrimSuffix(s.line, []byte("\n")), oversized, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && (len(s.line) > 0 || oversized):
			// Last line without a newline; the next call reports io.EOF
			return s.line, oversized, nil
		default:
			return nil, false, err
		}
	}
}

// Close cancels the stream and closes the connection. Safe to call more than once.
func (s *EventSource) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.stop()
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

// Generation returns the generation every event from this source is tagged with
func (s *EventSource) Generation() uint64 {
	return s.generation
}

// Dropped returns the number of malformed frames skipped so far
func (s *EventSource) Dropped() int {
	return int(s.dropped.Load())
}

// Heartbeats returns the number of keep-alive frames skipped so far
func (s *EventSource) Heartbeats() int {
	return int(s.heartbeats.Load())
}
