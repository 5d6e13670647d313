package event

import "sync"

// Stream is a single-producer ordered event stream. The producer pushes with
// Send and finishes with Close; the consumer ranges over C. Events arrive in
// submission order. There is no replay: a consumer only sees what was pushed
// after it started receiving, and pushes after Close are dropped.
type Stream struct {
	ch     chan Event
	once   sync.Once
	closed chan struct{}
}

// NewStream returns a stream with the given buffer size. A buffer of zero
// makes Send rendezvous with the receiver.
func NewStream(buffer int) *Stream {
	return &Stream{
		ch:     make(chan Event, buffer),
		closed: make(chan struct{}),
	}
}

// C is the receive side of the stream. It is closed once the producer calls
// Close, so plain `for ev := range s.C()` terminates cleanly.
func (s *Stream) C() <-chan Event {
	return s.ch
}

// Send pushes an event. It reports false if the stream is already closed,
// in which case the event is dropped.
func (s *Stream) Send(ev Event) bool {
	select {
	case <-s.closed:
		return false
	default:
	}

	select {
	case s.ch <- ev:
		return true
	case <-s.closed:
		return false
	}
}

// Close ends the stream. Safe to call more than once.
func (s *Stream) Close() {
	s.once.Do(func() {
		close(s.closed)
		close(s.ch)
	})
}
