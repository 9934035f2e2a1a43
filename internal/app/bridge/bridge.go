// Package bridge meters all traffic to the external completion service:
// a bounded FIFO queue in front of a fixed worker pool, a shared rate
// limiter, and bounded retries with exponential backoff.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/covenantmedia/pulpit/internal/core"
	"github.com/covenantmedia/pulpit/internal/domain"
	"github.com/covenantmedia/pulpit/internal/metrics"
)

// Request is one queued prompt; IssuedAt is set on submit.
type Request struct {
	ID        domain.RequestID
	SessionID domain.SessionID
	Prompt    core.Prompt
	IssuedAt  time.Time
}

// Result is delivered to the owner's callback from a worker goroutine.
// Err is nil on success and wraps core.ErrFatal otherwise; retryable
// failures never leave the bridge.
type Result struct {
	ID        domain.RequestID
	SessionID domain.SessionID
	Text      string
	Err       error
}

type Options struct {
	QueueCapacity       int
	MaxInFlight         int
	RequestsPerInterval int
	Interval            time.Duration
	RetryMax            int
	BackoffBase         time.Duration
	BackoffMultiplier   float64
	RequestTimeout      time.Duration
}

func (o *Options) fillDefaults() {
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 64
	}
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = 4
	}
	if o.Interval <= 0 {
		o.Interval = time.Minute
	}
	if o.RetryMax < 0 {
		o.RetryMax = 0
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 200 * time.Millisecond
	}
	if o.BackoffMultiplier < 1 {
		o.BackoffMultiplier = 2
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
}

// Bridge owns the queue and the worker pool. The pool size is the
// in-flight ceiling: a worker can run at most one dispatch at a time.
type Bridge struct {
	completer core.Completer
	onResult  func(Result)
	opts      Options
	limiter   *rate.Limiter

	queue    chan Request
	inFlight atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(completer core.Completer, onResult func(Result), opts Options) *Bridge {
	opts.fillDefaults()
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerInterval > 0 {
		limiter = rate.NewLimiter(
			rate.Limit(float64(opts.RequestsPerInterval)/opts.Interval.Seconds()),
			opts.RequestsPerInterval,
		)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		completer: completer,
		onResult:  onResult,
		opts:      opts,
		limiter:   limiter,
		queue:     make(chan Request, opts.QueueCapacity),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start spawns the worker pool.
func (b *Bridge) Start() {
	for i := 0; i < b.opts.MaxInFlight; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}
	log.Info().Str("module", "app.bridge").
		Int("workers", b.opts.MaxInFlight).Int("capacity", b.opts.QueueCapacity).
		Msg("bridge started")
}

// Submit never blocks: a full queue fails fast with ErrQueueFull so the
// caller can drop or defer the prompt. The caller supplies rid so it can
// record the id before a worker could possibly complete the request.
func (b *Bridge) Submit(sid domain.SessionID, rid domain.RequestID, p core.Prompt) error {
	req := Request{
		ID:        rid,
		SessionID: sid,
		Prompt:    p,
		IssuedAt:  time.Now(),
	}
	select {
	case b.queue <- req:
		metrics.SetBridgeQueueDepth(len(b.queue))
		log.Debug().Str("module", "app.bridge").Str("sid", string(sid)).
			Str("rid", string(rid)).Msg("queued request")
		return nil
	default:
		return fmt.Errorf("capacity %d: %w", b.opts.QueueCapacity, core.ErrQueueFull)
	}
}

// InFlight reports workers currently dispatching, for health output.
func (b *Bridge) InFlight() int {
	return int(b.inFlight.Load())
}

// QueueDepth reports requests waiting in the queue.
func (b *Bridge) QueueDepth() int {
	return len(b.queue)
}

func (b *Bridge) worker(id int) {
	defer b.wg.Done()
	logger := log.With().
		Str("module", "app.bridge").
		Int("worker", id).
		Logger()
	for {
		select {
		case <-b.ctx.Done():
			return
		case req := <-b.queue:
			metrics.SetBridgeQueueDepth(len(b.queue))
			b.inFlight.Add(1)
			metrics.BridgeDispatchStarted()
			b.dispatch(&logger, req)
			b.inFlight.Add(-1)
		}
	}
}

// dispatch runs one request to completion: rate-limit wait, external
// call, bounded retries. Exactly one Result is emitted unless the bridge
// shuts down mid-flight.
func (b *Bridge) dispatch(logger *zerolog.Logger, req Request) {
	start := time.Now()
	failures := 0
	for {
		if err := b.limiter.Wait(b.ctx); err != nil {
			logger.Warn().Str("rid", string(req.ID)).Msg("dropping request, bridge shutting down")
			metrics.BridgeDispatchDone("dropped", time.Since(start))
			return
		}
		callCtx, cancel := context.WithTimeout(b.ctx, b.opts.RequestTimeout)
		text, err := b.completer.Complete(callCtx, req.Prompt)
		cancel()

		if err == nil {
			metrics.BridgeDispatchDone("ok", time.Since(start))
			b.onResult(Result{ID: req.ID, SessionID: req.SessionID, Text: text})
			return
		}
		if b.ctx.Err() != nil {
			logger.Warn().Str("rid", string(req.ID)).Msg("dropping request, bridge shutting down")
			metrics.BridgeDispatchDone("dropped", time.Since(start))
			return
		}

		failures++
		if errors.Is(err, core.ErrRetryable) && failures <= b.opts.RetryMax {
			delay := Delay(failures, b.opts.BackoffBase, b.opts.BackoffMultiplier)
			logger.Warn().Err(err).Str("rid", string(req.ID)).
				Int("failures", failures).Dur("delay", delay).
				Msg("retryable completion failure, backing off")
			metrics.RecordBridgeRetry()
			select {
			case <-b.ctx.Done():
				metrics.BridgeDispatchDone("dropped", time.Since(start))
				return
			case <-time.After(delay):
			}
			continue
		}

		switch {
		case errors.Is(err, core.ErrRetryable):
			err = fmt.Errorf("retry budget exhausted after %d attempts: %w", failures, core.ErrFatal)
		case !errors.Is(err, core.ErrFatal):
			// Unclassified failures are not retried.
			err = fmt.Errorf("%w: %v", core.ErrFatal, err)
		}
		logger.Error().Err(err).Str("rid", string(req.ID)).
			Str("sid", string(req.SessionID)).Msg("completion failed")
		metrics.BridgeDispatchDone("fatal", time.Since(start))
		b.onResult(Result{ID: req.ID, SessionID: req.SessionID, Err: err})
		return
	}
}

// Shutdown stops the pool and drops whatever is still queued.
func (b *Bridge) Shutdown(ctx context.Context) {
	b.cancel()
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Str("module", "app.bridge").Msg("bridge shutdown timed out")
	}
	if n := len(b.queue); n > 0 {
		log.Warn().Str("module", "app.bridge").Int("dropped", n).Msg("dropped queued requests on shutdown")
	}
}
