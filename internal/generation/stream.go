package generation

import (
	"errors"
	"io"
	"strings"
	"sync"
)

// Delta is one piece of a streamed completion. Tokens is set on the
// usage-only chunk some providers send before the end of the stream.
type Delta struct {
	Text   string
	Tokens *TokenCount
}

// Stream is a forward-only iterator over completion text.
//
//	for s.Next() {
//		fmt.Print(s.Current())
//	}
//	if err := s.Err(); err != nil { ... }
//
// A Stream is not safe for concurrent use.
type Stream struct {
	recv   func() (Delta, error)
	closer func() error

	current   string
	text      strings.Builder
	err       error
	done      bool
	observers []func(TokenCount)

	closeOnce sync.Once
	closeErr  error
}

// NewStream builds a Stream over recv, which returns io.EOF after the last
// delta. closer may be nil.
func NewStream(recv func() (Delta, error), closer func() error) *Stream {
	return &Stream{recv: recv, closer: closer}
}

// Next advances to the next non-empty chunk. It returns false at the end
// of the stream or on failure; Err distinguishes the two. The stream is
// closed once Next returns false.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}
	for {
		d, err := s.recv()
		if errors.Is(err, io.EOF) {
			s.finish(nil)
			return false
		}
		if err != nil {
			s.finish(wrapErr(err))
			return false
		}
		if d.Tokens != nil {
			for _, fn := range s.observers {
				fn(*d.Tokens)
			}
		}
		if d.Text == "" {
			continue
		}
		s.current = d.Text
		s.text.WriteString(d.Text)
		return true
	}
}

func (s *Stream) finish(err error) {
	s.done = true
	s.current = ""
	s.err = err
	if cerr := s.Close(); s.err == nil && cerr != nil {
		s.err = wrapErr(cerr)
	}
}

// Current returns the chunk produced by the last successful Next.
func (s *Stream) Current() string { return s.current }

// Text returns everything received so far.
func (s *Stream) Text() string { return s.text.String() }

// Err returns the failure that ended the stream, or nil after a clean end.
func (s *Stream) Err() error { return s.err }

// Close releases the underlying connection. It is safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		if s.closer != nil {
			s.closeErr = s.closer()
		}
	})
	return s.closeErr
}

// observe registers fn to receive token counts reported by the stream.
func (s *Stream) observe(fn func(TokenCount)) {
	s.observers = append(s.observers, fn)
}
