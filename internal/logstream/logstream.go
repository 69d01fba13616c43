package logstream

import (
	"context"
	"sync"
)

const (
	// maxLines bounds the replay buffer per stream.
	maxLines = 2000
	// subChanCap must exceed maxLines so a fresh subscriber can always take
	// the full replay without blocking the producer.
	subChanCap = maxLines + 256
)

// Stream is an append-only, line-oriented log for one pipeline execution.
// Single producer, any number of passive consumers. The producer never
// blocks: a consumer that stops draining its channel is disconnected.
type Stream struct {
	mu     sync.Mutex
	lines  []string
	subs   map[chan string]struct{}
	closed bool
}

// NewStream returns an open stream.
func NewStream() *Stream {
	return &Stream{subs: make(map[chan string]struct{})}
}

// Append publishes one line to the replay buffer and all live subscribers.
func (s *Stream) Append(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.lines = append(s.lines, line)
	if len(s.lines) > maxLines {
		s.lines = s.lines[len(s.lines)-maxLines:]
	}

	for ch := range s.subs {
		select {
		case ch <- line:
		default:
			// Slow consumer: drop it rather than stall the pipeline.
			delete(s.subs, ch)
			close(ch)
		}
	}
}

// Subscribe returns a channel that replays the buffered lines and then
// follows the stream live. The channel is closed when the stream closes,
// the subscriber falls behind, or ctx is cancelled.
func (s *Stream) Subscribe(ctx context.Context) <-chan string {
	ch := make(chan string, subChanCap)

	s.mu.Lock()
	for _, line := range s.lines {
		ch <- line
	}
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch
	}
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			s.unsubscribe(ch)
		}()
	}

	return ch
}

// Lines returns a snapshot of the buffered lines.
func (s *Stream) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}

// Close ends the stream and releases all subscribers. Buffered lines stay
// readable via Lines and post-close Subscribe calls (replay only).
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
}

func (s *Stream) unsubscribe(ch chan string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
	}
}

// Broker keys live streams by execution id.
type Broker struct {
	mu      sync.Mutex
	streams map[string]*Stream
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{streams: make(map[string]*Stream)}
}

// Open creates (or returns) the stream for an execution id.
func (b *Broker) Open(id string) *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.streams[id]; ok {
		return st
	}
	st := NewStream()
	b.streams[id] = st
	return st
}

// Get returns the stream for id, or nil when unknown.
func (b *Broker) Get(id string) *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streams[id]
}

// Close closes the stream for id but keeps it retrievable for replay.
func (b *Broker) Close(id string) {
	b.mu.Lock()
	st := b.streams[id]
	b.mu.Unlock()
	if st != nil {
		st.Close()
	}
}

// Drop closes and forgets the stream for id.
func (b *Broker) Drop(id string) {
	b.mu.Lock()
	st := b.streams[id]
	delete(b.streams, id)
	b.mu.Unlock()
	if st != nil {
		st.Close()
	}
}
