// Package router is the Router (spec.md §4.7): ordered failover across a
// ModelConfig's provider bindings for both the unary and streaming
// paths, plus the terminal/advisory timeout layering spec.md §5
// describes. Grounded on the teacher's pkg/registry/registry.go (map-based
// provider resolution, generalized here from "resolve one provider" to
// "try providers in order until one succeeds") and pkg/ai/timeout.go's
// TimeoutConfig.CreateTimeoutContext for the advisory-vs-terminal timeout
// split (§4.7 Open Question, resolved in DESIGN.md: a simultaneously
// firing top-level timeout always wins over a per-provider one).
package router

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/inferencegw/core/pkg/adapter"
	"github.com/inferencegw/core/pkg/cache"
	"github.com/inferencegw/core/pkg/gwerrors"
	"github.com/inferencegw/core/pkg/gwtypes"
)

// Tracker is the subset of pkg/tasktracker.Tracker the router and its
// Stream Wrapper need, kept narrow so this package does not import
// tasktracker's concrete type into its own exported signatures.
type Tracker interface {
	Go(name string, fn func() error)
}

// Router runs spec.md §4.7's ordered failover against one Adapter.
type Router struct {
	adapter *adapter.Adapter
	clients adapter.Clients
	tracker Tracker
}

// New returns a Router backed by ad, sharing clients across every
// attempt it makes, and spawning deferred work (ticket returns, stream
// forwarders, cache writes) on tracker.
func New(ad *adapter.Adapter, clients adapter.Clients, tracker Tracker) *Router {
	return &Router{adapter: ad, clients: clients, tracker: tracker}
}

// RouteOptions carries the per-call policy the router needs beyond the
// ModelConfig/CanonicalRequest pair: cache mode and the discard-unknown-
// chunks default are resolved by the caller (the endpoint layer, out of
// scope here) from whatever configuration store holds them.
type RouteOptions struct {
	CacheMode                   cache.Mode
	DiscardUnknownChunksDefault bool
}

// Route implements spec.md §4.7's unary ordered-failover pseudocode.
func (r *Router) Route(ctx context.Context, model gwtypes.ModelConfig, req *gwtypes.CanonicalRequest, opts RouteOptions) (*gwtypes.ProviderResponse, error) {
	if err := model.Validate(); err != nil {
		return nil, gwerrors.NewInvalidRequestError(err.Error(), err)
	}

	topCtx, topCancel := applyTimeout(ctx, modelTopLevelMS(model))
	defer topCancel()

	exhausted := gwerrors.NewModelProvidersExhaustedError(model.Name)

	for _, binding := range model.Providers {
		if topCtx.Err() != nil {
			return nil, gwerrors.NewModelTimeoutError(model.Name)
		}

		attemptCtx, attemptCancel := applyTimeout(topCtx, binding.Timeouts.PerProvider)
		result, err := r.adapter.Infer(attemptCtx, r.tracker, req, r.clients, adapter.Me{
			ModelName:                   model.Name,
			Binding:                     binding,
			CacheMode:                   opts.CacheMode,
			DiscardUnknownChunksDefault: opts.DiscardUnknownChunksDefault,
		})
		attemptTimedOut := attemptCtx.Err() == context.DeadlineExceeded
		attemptCancel()

		if err != nil {
			if topCtx.Err() != nil {
				return nil, gwerrors.NewModelTimeoutError(model.Name)
			}
			if attemptTimedOut {
				err = gwerrors.NewModelProviderTimeoutError(binding.Name, err)
			}
			exhausted.Add(binding.Name, err)
			if !gwerrors.IsFailoverTriggering(err) {
				return nil, err
			}
			continue
		}

		return result.Response, nil
	}

	return nil, exhausted
}

// RouteStream implements spec.md §4.7's streaming ordered-failover: each
// provider attempt's budget is its StreamingTTFT timeout and includes
// peeking the first chunk, so a slow or failing provider fails over
// before anything is forwarded to the caller. Once a provider's first
// chunk is peeked successfully, the returned *StreamWrapper owns the
// rest of the stream and no further failover happens for this request
// (spec.md §4.7 "Once the first chunk is peeked... later mid-stream
// errors do not failover").
func (r *Router) RouteStream(ctx context.Context, model gwtypes.ModelConfig, req *gwtypes.CanonicalRequest, opts RouteOptions) (*StreamWrapper, error) {
	if err := model.Validate(); err != nil {
		return nil, gwerrors.NewInvalidRequestError(err.Error(), err)
	}

	topCtx, topCancel := applyTimeout(ctx, modelTopLevelMS(model))

	exhausted := gwerrors.NewModelProvidersExhaustedError(model.Name)

	for _, binding := range model.Providers {
		if topCtx.Err() != nil {
			topCancel()
			return nil, gwerrors.NewModelTimeoutError(model.Name)
		}

		attemptCtx, attemptCancel := applyTimeout(topCtx, binding.Timeouts.StreamingTTFT)
		handle, cachedHit, cachedChunks, err := r.adapter.InferStream(attemptCtx, req, r.clients, adapter.Me{
			ModelName:                   model.Name,
			Binding:                     binding,
			CacheMode:                   opts.CacheMode,
			DiscardUnknownChunksDefault: opts.DiscardUnknownChunksDefault,
		})

		if err == nil && cachedHit {
			attemptCancel()
			topCancel()
			return newReplayWrapper(cachedChunks), nil
		}

		if err == nil {
			first, peekErr := handle.Decoder.Next()
			if peekErr == nil {
				_, attempt := r.clients.Telemetry.StartAttempt(ctx, model.Name, binding.Name)
				wrapper := newLiveWrapper(r.tracker, r.clients, handle, attempt, first, opts.CacheMode)
				// attemptCtx/topCtx are no longer needed by the router
				// once the stream is handed off: the forwarder below
				// reads from handle.Body directly, not through either
				// context, so cancelling them here would not interrupt
				// an in-flight stream it no longer owns.
				attemptCancel()
				topCancel()
				return wrapper, nil
			}
			err = peekErr
			handle.Body.Close()
			adapter.ReturnTicket(r.tracker, handle.Ticket, nil)
		}

		attemptTimedOut := attemptCtx.Err() == context.DeadlineExceeded
		attemptCancel()

		if topCtx.Err() != nil {
			topCancel()
			return nil, gwerrors.NewModelTimeoutError(model.Name)
		}
		if attemptTimedOut {
			err = gwerrors.NewModelProviderTimeoutError(binding.Name, err)
		}
		exhausted.Add(binding.Name, err)
		if !gwerrors.IsFailoverTriggering(err) {
			topCancel()
			return nil, err
		}
	}

	topCancel()
	return nil, exhausted
}

func applyTimeout(ctx context.Context, ms *int64) (context.Context, context.CancelFunc) {
	if ms == nil {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, time.Duration(*ms)*time.Millisecond)
}

// modelTopLevelMS reads the model-level terminal timeout off the first
// provider binding — see gwtypes.ProviderTimeouts.TopLevel's doc comment
// for why the model-level concept is denormalized onto every binding
// rather than given its own ModelConfig field.
func modelTopLevelMS(model gwtypes.ModelConfig) *int64 {
	if len(model.Providers) == 0 {
		return nil
	}
	return model.Providers[0].Timeouts.TopLevel
}

// NewCorrelationID is used by callers (cmd/gatewaydemo) that need one
// correlation ID per inbound request for logging/tracing, independent
// of whichever provider binding ultimately serves it.
func NewCorrelationID() string {
	return uuid.NewString()
}
