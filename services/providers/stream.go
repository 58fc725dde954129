package providers

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"sync"
)

// LineParser turns one line of a streaming body into a chunk. skip drops
// the line, done ends the stream.
type LineParser func(line []byte) (chunk string, skip bool, done bool, err error)

// LineStream reads a newline-delimited response body lazily
type LineStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	parse   LineParser
	cancel  context.CancelFunc
	done    bool
}

// NewLineStream wraps body. cancel, when non-nil, is called on Close.
func NewLineStream(body io.ReadCloser, parse LineParser, cancel context.CancelFunc) *LineStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &LineStream{
		body:    body,
		scanner: scanner,
		parse:   parse,
		cancel:  cancel,
	}
}

// Recv returns the next non-empty chunk
func (s *LineStream) Recv() (string, error) {
	for !s.done {
		if !s.scanner.Scan() {
			s.done = true
			if err := s.scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}

		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		chunk, skip, done, err := s.parse(line)
		if err != nil {
			return "", err
		}
		if done {
			s.done = true
			break
		}
		if skip || chunk == "" {
			continue
		}
		return chunk, nil
	}
	return "", io.EOF
}

// Close releases the response body
func (s *LineStream) Close() error {
	s.done = true
	err := s.body.Close()
	if s.cancel != nil {
		s.cancel()
	}
	return err
}

var sseDataPrefix = []byte("data:")

// SSEData extracts the payload of a server-sent event data line. ok is
// false for comments and other fields.
func SSEData(line []byte) (payload []byte, ok bool) {
	if !bytes.HasPrefix(line, sseDataPrefix) {
		return nil, false
	}
	return bytes.TrimSpace(line[len(sseDataPrefix):]), true
}

// IsSSEDone reports the OpenAI-style end-of-stream marker
func IsSSEDone(payload []byte) bool {
	return bytes.Equal(payload, []byte("[DONE]"))
}

// SliceStream replays fixed chunks
type SliceStream struct {
	mu     sync.Mutex
	chunks []string
	err    error
	closed bool
}

// NewSliceStream returns a stream over chunks. If err is non-nil it is
// returned after the chunks instead of io.EOF.
func NewSliceStream(err error, chunks ...string) *SliceStream {
	return &SliceStream{chunks: chunks, err: err}
}

// Recv returns the next chunk
func (s *SliceStream) Recv() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", io.EOF
	}
	if len(s.chunks) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	chunk := s.chunks[0]
	s.chunks = s.chunks[1:]
	return chunk, nil
}

// Close marks the stream closed
func (s *SliceStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// Closed reports whether Close was called
func (s *SliceStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// ChanStream bridges a producer goroutine to the pull-based Stream
// contract. The producer calls Send for each chunk and Finish once.
type ChanStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	chunks chan string
	errc   chan error
	err    error
	once   sync.Once
}

// NewChanStream creates a stream bound to ctx
func NewChanStream(ctx context.Context) *ChanStream {
	ctx, cancel := context.WithCancel(ctx)
	return &ChanStream{
		ctx:    ctx,
		cancel: cancel,
		chunks: make(chan string),
		errc:   make(chan error, 1),
	}
}

// Context is cancelled when the consumer closes the stream
func (s *ChanStream) Context() context.Context {
	return s.ctx
}

// Send delivers one chunk and reports false once the consumer is gone
func (s *ChanStream) Send(chunk string) bool {
	select {
	case s.chunks <- chunk:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Finish ends the stream with err, or io.EOF when err is nil
func (s *ChanStream) Finish(err error) {
	if err == nil {
		err = io.EOF
	}
	s.errc <- err
	close(s.chunks)
}

// Recv returns the next chunk
func (s *ChanStream) Recv() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	chunk, ok := <-s.chunks
	if ok {
		return chunk, nil
	}
	s.err = <-s.errc
	return "", s.err
}

// Close stops the producer
func (s *ChanStream) Close() error {
	s.once.Do(s.cancel)
	return nil
}
