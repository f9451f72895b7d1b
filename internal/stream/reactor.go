package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/danmuck/stanzactl/internal/client"
	"github.com/danmuck/stanzactl/internal/stanza"
	"github.com/rs/zerolog/log"
)

var ErrReactorRunning = errors.New("stream: reactor already running")

type inbound struct {
	s   *stanza.Stanza
	err error
}

type call struct {
	fn     func(c *client.Client) error
	result chan error
}

// Reactor owns one Stream and one Client. Every client method runs on the
// goroutine executing Run; a reader goroutine feeds it inbound stanzas and
// a writer goroutine drains the outbound queue in order.
//
// Reactor is the client's Transport.
type Reactor struct {
	stream *Stream
	client *client.Client

	out   chan *stanza.Stanza
	calls chan call
	done  chan struct{}

	mu      sync.Mutex
	closed  bool
	closing atomic.Bool
	started atomic.Bool
}

func NewReactor(s *Stream, c *client.Client, queueSize int) *Reactor {
	if queueSize <= 0 {
		queueSize = DefaultConfig().QueueSize
	}
	return &Reactor{
		stream: s,
		client: c,
		out:    make(chan *stanza.Stanza, queueSize),
		calls:  make(chan call),
		done:   make(chan struct{}),
	}
}

// Run notifies the client that the stream is up and dispatches inbound
// stanzas until the stream ends, a handler fails or ctx is cancelled.
// A clean close from either side returns nil.
func (r *Reactor) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrReactorRunning
	}
	in := make(chan inbound, 1)
	writerDone := make(chan struct{})
	go r.readLoop(in)
	go r.writeLoop(writerDone)
	defer func() {
		close(r.done)
		_ = r.CloseAfterFlush()
		<-writerDone
	}()

	remote := r.stream.wire.remote()
	log.Info().Str("remote", remote).Str("stream_id", r.stream.StreamID).Msg("stream.Reactor running")

	if err := r.client.Connected(r.stream.Peer, r); err != nil {
		r.client.Closed(err)
		return err
	}

	for {
		select {
		case msg := <-in:
			if msg.err != nil {
				if errors.Is(msg.err, io.EOF) || r.closing.Load() {
					r.client.Closed(nil)
					return nil
				}
				log.Warn().Err(msg.err).Str("remote", remote).Msg("stream.Reactor read failed")
				r.client.Closed(msg.err)
				return msg.err
			}
			if err := r.client.Dispatch(msg.s); err != nil {
				_ = r.CloseAfterFlush()
				r.client.Closed(err)
				return err
			}
		case c := <-r.calls:
			c.result <- c.fn(r.client)
		case <-ctx.Done():
			_ = r.CloseAfterFlush()
			r.client.Closed(nil)
			return ctx.Err()
		}
	}
}

func (r *Reactor) readLoop(in chan<- inbound) {
	for {
		s, err := r.stream.wire.read()
		select {
		case in <- inbound{s: s, err: err}:
		case <-r.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// writeLoop keeps draining after a write failure so Write never blocks on
// a dead connection; the read side reports the failure.
func (r *Reactor) writeLoop(done chan<- struct{}) {
	defer close(done)
	var failed error
	for s := range r.out {
		if failed != nil {
			continue
		}
		if err := r.stream.wire.write(s); err != nil {
			failed = err
			log.Warn().Err(err).Str("stanza", s.String()).Msg("stream.Reactor write failed")
		}
	}
	r.closing.Store(true)
	if err := r.stream.wire.close(); err != nil {
		log.Debug().Err(err).Msg("stream.Reactor close")
	}
}

// Write queues s for the writer goroutine. It blocks while the queue is
// full.
func (r *Reactor) Write(s *stanza.Stanza) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrQueueClosed
	}
	r.out <- s
	return nil
}

// CloseAfterFlush stops accepting writes. The connection closes once the
// queued stanzas are written.
func (r *Reactor) CloseAfterFlush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.closing.Store(true)
	close(r.out)
	return nil
}

// Do runs fn with the client on the reactor goroutine and returns its
// error. It is the only safe way to touch the client from elsewhere.
func (r *Reactor) Do(ctx context.Context, fn func(c *client.Client) error) error {
	c := call{fn: fn, result: make(chan error, 1)}
	select {
	case r.calls <- c:
	case <-r.done:
		return ErrReactorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-c.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when Run returns.
func (r *Reactor) Done() <-chan struct{} {
	return r.done
}
