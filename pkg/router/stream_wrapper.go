package router

import (
	"context"
	"io"
	"sync"

	"github.com/inferencegw/core/pkg/adapter"
	"github.com/inferencegw/core/pkg/cache"
	"github.com/inferencegw/core/pkg/gwerrors"
	"github.com/inferencegw/core/pkg/gwtelemetry"
	"github.com/inferencegw/core/pkg/gwtypes"
)

// StreamWrapper is the Stream Wrapper of spec.md §4.8: a pull-based
// handle over an unbounded in-memory buffer that a background task
// (owned by the router's Tracker) keeps filling from the provider
// stream regardless of whether the caller keeps calling Next. This is
// the "unbounded forwarding channel" spec.md §4.8/§5 describes,
// implemented as a growable slice instead of a Go channel so the
// forwarder's writes never block on a slow or absent reader (§5
// "Backpressure": memory is bounded only by the provider's own pacing).
type StreamWrapper struct {
	mu     sync.Mutex
	buffer []streamItem
	closed bool
	wake   chan struct{}
}

type streamItem struct {
	chunk *gwtypes.StreamChunk
	err   error
}

func newStreamWrapper() *StreamWrapper {
	return &StreamWrapper{wake: make(chan struct{}, 1)}
}

func (w *StreamWrapper) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *StreamWrapper) push(item streamItem) {
	w.mu.Lock()
	w.buffer = append(w.buffer, item)
	w.mu.Unlock()
	w.signal()
}

func (w *StreamWrapper) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.signal()
}

// Next returns the next chunk in provider order, blocking until one is
// available, the stream ends (io.EOF), or ctx is cancelled. It is safe
// to stop calling Next at any point — e.g. the HTTP caller disconnected
// — the background forwarder keeps draining the provider stream either
// way (spec.md §4.8 guarantee 1).
func (w *StreamWrapper) Next(ctx context.Context) (*gwtypes.StreamChunk, error) {
	for {
		w.mu.Lock()
		if len(w.buffer) > 0 {
			item := w.buffer[0]
			w.buffer = w.buffer[1:]
			w.mu.Unlock()
			return item.chunk, item.err
		}
		closed := w.closed
		w.mu.Unlock()
		if closed {
			return nil, io.EOF
		}

		select {
		case <-w.wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// newReplayWrapper wraps a precomputed cached chunk sequence (spec.md
// §4.6's streaming reconstruction already applied by cache.Port): no
// forwarder, ticket, or cache write is needed since nothing new was
// consumed from a provider.
func newReplayWrapper(chunks []gwtypes.StreamChunk) *StreamWrapper {
	w := newStreamWrapper()
	for i := range chunks {
		c := chunks[i]
		w.buffer = append(w.buffer, streamItem{chunk: &c})
	}
	w.closed = true
	return w
}

// newLiveWrapper starts the background forwarder for a freshly peeked
// provider stream (spec.md §4.8). first is the chunk InferStream/the
// router already read off the decoder to decide this provider attempt
// succeeded; it is pushed before the forwarder begins reading further
// chunks so no chunk is lost or reordered.
func newLiveWrapper(tracker Tracker, clients adapter.Clients, handle *adapter.StreamHandle, attempt gwtelemetry.Attempt, first *gwtypes.StreamChunk, cacheMode cache.Mode) *StreamWrapper {
	w := newStreamWrapper()
	attempt.MarkOpenInferenceChain()

	tracker.Go("router.streamForward."+handle.ProviderName, func() error {
		defer handle.Body.Close()
		defer attempt.End()

		var chunkBuffer []gwtypes.StreamChunk
		var usage gwtypes.Usage
		accumulate := func(c *gwtypes.StreamChunk) {
			chunkBuffer = append(chunkBuffer, *c)
			if c.Usage != nil {
				if c.Usage.InputTokens != nil {
					usage.InputTokens = c.Usage.InputTokens
				}
				if c.Usage.OutputTokens != nil {
					usage.OutputTokens = c.Usage.OutputTokens
				}
			}
		}

		accumulate(first)
		w.push(streamItem{chunk: first})

		for {
			chunk, err := handle.Decoder.Next()
			if err == io.EOF {
				attempt.RecordUsage(usage)
				adapter.ReturnTicket(tracker, handle.Ticket, usage.OutputTokens)
				clients.Cache.WriteStreaming(tracker, handle.Fingerprint, chunkBuffer, handle.RawRequest, usage, nil, cacheMode)
				w.close()
				return nil
			}
			if err != nil {
				// spec.md §4.8 guarantee 3: emit the error, stop, skip
				// the cache write, but still return the ticket with
				// whatever usage was actually observed (nil if none).
				attempt.RecordError(err)
				attempt.RecordUsage(usage)
				adapter.ReturnTicket(tracker, handle.Ticket, usage.OutputTokens)
				w.push(streamItem{err: wrapFatal(handle.ProviderName, err)})
				w.close()
				return err
			}
			accumulate(chunk)
			w.push(streamItem{chunk: chunk})
		}
	})

	return w
}

// wrapFatal normalizes a decoder error that isn't already a tagged
// FatalStreamError (e.g. a raw io error from a dropped connection) so
// every mid-stream failure the caller observes has the same shape.
func wrapFatal(provider string, err error) error {
	if gwerrors.IsFatalStreamError(err) {
		return err
	}
	return gwerrors.NewFatalStreamError(provider, "stream terminated unexpectedly", err)
}
