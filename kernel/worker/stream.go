package worker

import "github.com/lesleslie/mahavishnu/kernel/streamframe"

// chanStream is a finite, single-producer/single-consumer frame stream
// backed by a buffered channel — the worker's output stream is
// single-producer (the child) / single-consumer (the worker manager), per
// the concurrency model this kernel follows.
type chanStream struct {
	frames chan streamframe.Frame
	err    error
}

func newChanStream(buffer int) *chanStream {
	return &chanStream{frames: make(chan streamframe.Frame, buffer)}
}

// Push implements frameSink. Push must not be called after Close.
func (s *chanStream) Push(f streamframe.Frame) {
	s.frames <- f
}

// Close signals that no more frames will be produced.
func (s *chanStream) Close() {
	close(s.frames)
}

// Next implements streamframe.Stream.
func (s *chanStream) Next() (streamframe.Frame, bool) {
	f, ok := <-s.frames
	return f, ok
}

// Err implements streamframe.Stream.
func (s *chanStream) Err() error { return s.err }

var (
	_ frameSink          = (*chanStream)(nil)
	_ streamframe.Stream = (*chanStream)(nil)
)
