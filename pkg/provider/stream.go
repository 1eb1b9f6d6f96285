package provider

import (
	"bufio"
	"bytes"
	"io"
	"sync"
	"time"
)

// ParseLineFunc parses one non-empty line of a streaming response body and
// returns the text it carries. ok=false skips the line (keep-alives,
// comments, non-content events); done=true ends the stream.
type ParseLineFunc func(line []byte) (text string, ok bool, done bool)

// LineStream reads a line-oriented streaming body (SSE or NDJSON) and turns
// it into a StreamReader using a provider-supplied line parser.
type LineStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	parse   ParseLineFunc

	closed     bool
	firstChunk bool
	startTime  time.Time
	ttft       time.Duration

	mu sync.Mutex
}

// NewLineStream wraps body in a LineStream. The scanner buffer is enlarged
// to tolerate large chunks.
func NewLineStream(body io.ReadCloser, parse ParseLineFunc) *LineStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 4096), 4096*4)

	return &LineStream{
		body:       body,
		scanner:    scanner,
		parse:      parse,
		firstChunk: true,
		startTime:  time.Now(),
	}
}

// Recv returns the next text chunk from the stream.
// Returns io.EOF when the stream is complete.
func (s *LineStream) Recv() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", io.EOF
	}

	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		text, ok, done := s.parse(line)
		if done {
			s.close()
			return "", io.EOF
		}
		if !ok || text == "" {
			continue
		}

		if s.firstChunk {
			s.ttft = time.Since(s.startTime)
			s.firstChunk = false
		}
		return text, nil
	}

	if err := s.scanner.Err(); err != nil {
		s.close()
		return "", err
	}

	s.close()
	return "", io.EOF
}

// Close releases resources associated with the stream.
// It's safe to call Close multiple times.
func (s *LineStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.close()
}

// TTFT returns the time to first token, or 0 before any chunk arrived.
func (s *LineStream) TTFT() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttft
}

// close releases resources (must be called with lock held).
func (s *LineStream) close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}
