package upstream

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"sync"

	log "github.com/oa2a/oa2a/internal/logging"
)

// maxSSELineSize bounds a single upstream SSE line. Chunks are small;
// this only guards against a misbehaving backend.
const maxSSELineSize = 10 * 1024 * 1024

var dataPrefix = []byte("data: ")
var doneMarker = []byte("[DONE]")

// Stream is one live upstream SSE response. Recv returns data payloads
// until the terminator or EOF; Close must always be called and reports
// the outcome to the circuit breaker.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner

	closeOnce sync.Once
	stop      chan struct{}
	done      func(success bool)
	success   bool
}

func newStream(ctx context.Context, body io.ReadCloser, done func(success bool)) *Stream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxSSELineSize)
	s := &Stream{
		body:    body,
		scanner: scanner,
		stop:    make(chan struct{}),
		done:    done,
	}
	// Close the body on cancellation to unblock a pending read.
	go func() {
		select {
		case <-ctx.Done():
			log.Debugf("closing upstream stream: %v", ctx.Err())
			s.body.Close()
		case <-s.stop:
		}
	}()
	return s
}

// Recv returns the next SSE data payload. It reports io.EOF when the
// upstream sends the [DONE] terminator or ends the response cleanly; any
// other error means the stream broke mid-flight.
func (s *Stream) Recv() ([]byte, error) {
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := bytes.TrimSpace(line[len(dataPrefix):])
		if bytes.Equal(payload, doneMarker) {
			s.success = true
			return nil, io.EOF
		}
		return payload, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	s.success = true
	return nil, io.EOF
}

// Close releases the stream and settles the circuit breaker outcome.
// Safe to call multiple times.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.body.Close()
		if s.done != nil {
			s.done(s.success)
		}
	})
}
