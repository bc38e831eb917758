package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/grimoire/internal/domain"
	"github.com/phrazzld/grimoire/internal/platform/metrics"
	"github.com/phrazzld/grimoire/internal/store"
)

// DispatcherConfig holds configuration for the dispatcher.
type DispatcherConfig struct {
	// BufferSize is the per-subscriber delivery channel capacity.
	BufferSize int

	// BatchSize is how many events a subscriber reads from the log per scan.
	BatchSize int

	// PollInterval bounds staleness if a commit notification is missed;
	// each caught-up subscriber rescans at least this often.
	PollInterval time.Duration
}

// DefaultDispatcherConfig returns a DispatcherConfig with reasonable defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		BufferSize:   64,
		BatchSize:    256,
		PollInterval: 5 * time.Second,
	}
}

// Dispatcher fans newly committed events out to independent subscribers.
// It implements service.CommitNotifier: the append coordinator calls Notify
// after each commit, and the call never blocks.
type Dispatcher struct {
	events  store.EventStore
	cursors store.CursorStore
	config  DispatcherConfig
	metrics *metrics.StoreMetrics
	logger  *slog.Logger

	mu   sync.Mutex
	subs map[string]*Subscription

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewDispatcher creates a dispatcher over the given event store. cursors
// may be nil when no durable subscriber names are used; m may be nil to
// disable instrumentation.
func NewDispatcher(
	events store.EventStore,
	cursors store.CursorStore,
	config DispatcherConfig,
	m *metrics.StoreMetrics,
	log *slog.Logger,
) *Dispatcher {
	if events == nil {
		panic("events store cannot be nil")
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultDispatcherConfig().BufferSize
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultDispatcherConfig().BatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultDispatcherConfig().PollInterval
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		events:     events,
		cursors:    cursors,
		config:     config,
		metrics:    m,
		logger:     log.With(slog.String("component", "dispatcher")),
		subs:       make(map[string]*Subscription),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Notify wakes all live subscribers after a commit. It never blocks and
// never fails; a missed wake-up is covered by the poll interval.
func (d *Dispatcher) Notify(lastPosition int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sub := range d.subs {
		sub.signal()
	}
}

// SubscribeToAll opens a feed over every stream, ordered by global
// position, starting strictly after opts.FromPosition.
func (d *Dispatcher) SubscribeToAll(ctx context.Context, opts Options) (*Subscription, error) {
	opts.StreamType = ""
	return d.subscribe(ctx, opts)
}

// SubscribeToStream opens a feed restricted to one stream type. Start
// precedence: an explicit opts.FromPosition, then a named subscriber's
// stored cursor, then the current end of the log (or position 0 when
// opts.IncludeExisting asks for a history replay).
func (d *Dispatcher) SubscribeToStream(
	ctx context.Context,
	streamType string,
	opts Options,
) (*Subscription, error) {
	if streamType == "" {
		return nil, fmt.Errorf("%w: stream type cannot be empty", store.ErrValidation)
	}
	opts.StreamType = streamType

	if opts.FromPosition < 0 {
		stored, ok, err := d.storedCursor(ctx, opts.Name)
		if err != nil {
			return nil, err
		}
		switch {
		case ok:
			// A resuming consumer never skips ahead; dropping the events
			// between its cursor and the head would break delivery.
			opts.FromPosition = stored
		case opts.IncludeExisting:
			opts.FromPosition = 0
		default:
			head, err := d.events.HighestPosition(ctx)
			if err != nil {
				return nil, err
			}
			opts.FromPosition = head
		}
	}

	return d.subscribe(ctx, opts)
}

// storedCursor looks up the durable cursor of a named subscriber. The
// second return reports whether a cursor exists.
func (d *Dispatcher) storedCursor(ctx context.Context, name string) (int64, bool, error) {
	if name == "" || d.cursors == nil {
		return 0, false, nil
	}
	stored, err := d.cursors.GetCursor(ctx, name)
	if err != nil {
		if store.IsNotFoundError(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return stored, true, nil
}

func (d *Dispatcher) subscribe(ctx context.Context, opts Options) (*Subscription, error) {
	if err := d.ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: dispatcher stopped", ErrSubscriptionBroken)
	}

	if opts.FromPosition < 0 {
		stored, _, err := d.storedCursor(ctx, opts.Name)
		if err != nil {
			return nil, err
		}
		opts.FromPosition = stored
	}

	subCtx, cancel := context.WithCancel(d.ctx)
	sub := newSubscription(opts, d.config.BufferSize, cancel)

	// Cancelling the caller's context cancels only this subscription.
	context.AfterFunc(ctx, sub.Cancel)

	d.mu.Lock()
	d.subs[sub.id] = sub
	d.mu.Unlock()

	d.metrics.SubscriberStarted()
	d.wg.Add(1)
	go d.run(subCtx, sub)

	d.logger.Debug("subscription opened",
		"subscription_id", sub.id,
		"subscriber", opts.Name,
		"stream_type", opts.StreamType,
		"from_position", opts.FromPosition)

	return sub, nil
}

// Stop cancels all subscriptions and waits for their goroutines to finish.
func (d *Dispatcher) Stop() {
	d.cancelFunc()
	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
}

// run is the per-subscriber delivery loop: scan the log from the cursor,
// deliver, and when caught up wait for a commit signal or the poll tick.
// Failures are isolated to this subscriber.
func (d *Dispatcher) run(ctx context.Context, sub *Subscription) {
	defer d.wg.Done()
	defer d.remove(sub)

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		delivered, err := d.deliverBatch(ctx, sub)
		if err != nil {
			if ctx.Err() == nil {
				sub.setErr(fmt.Errorf("%w: %v", ErrSubscriptionBroken, err))
				d.logger.Warn("subscription broken",
					"subscription_id", sub.id,
					"subscriber", sub.opts.Name,
					"error", err)
			}
			return
		}

		// A full batch means there is likely more to read; scan again
		// before going idle.
		if delivered >= d.config.BatchSize {
			continue
		}

		d.observeLag(ctx, sub)

		select {
		case <-ctx.Done():
			return
		case <-sub.wake:
		case <-ticker.C:
		}
	}
}

// deliverBatch reads one batch past the subscriber's cursor and pushes it
// into the delivery channel. Sends block only this subscriber's goroutine,
// never the append path.
func (d *Dispatcher) deliverBatch(ctx context.Context, sub *Subscription) (int, error) {
	from := sub.position.Load()

	var (
		events []domain.Event
		err    error
	)
	if sub.opts.StreamType == "" {
		events, err = d.events.GetAllEvents(ctx, from, d.config.BatchSize)
	} else {
		events, err = d.events.GetEventsByStreamType(ctx, sub.opts.StreamType, from, d.config.BatchSize)
	}
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, event := range events {
		// A typed subscription can suppress an aggregate's early history;
		// the cursor still advances past suppressed events.
		if sub.opts.StreamType != "" && event.Version <= sub.opts.FromVersion {
			sub.position.Store(event.Position)
			continue
		}

		select {
		case sub.ch <- event:
			sub.position.Store(event.Position)
			delivered++
		case <-ctx.Done():
			return delivered, ctx.Err()
		}
	}

	if delivered > 0 {
		d.metrics.EventsDispatched(sub.opts.StreamType, delivered)
		d.persistCursor(ctx, sub)
	}

	return len(events), nil
}

// persistCursor advances the durable cursor of a named subscriber.
// Best-effort: a failed save only widens the at-least-once redelivery
// window after a restart.
func (d *Dispatcher) persistCursor(ctx context.Context, sub *Subscription) {
	if sub.opts.Name == "" || d.cursors == nil {
		return
	}
	if err := d.cursors.SaveCursor(ctx, sub.opts.Name, sub.position.Load()); err != nil {
		d.logger.Warn("failed to persist subscriber cursor",
			"subscriber", sub.opts.Name,
			"position", sub.position.Load(),
			"error", err)
	}
}

func (d *Dispatcher) observeLag(ctx context.Context, sub *Subscription) {
	if sub.opts.Name == "" {
		return
	}
	head, err := d.events.HighestPosition(ctx)
	if err != nil {
		return
	}
	lag := head - sub.position.Load()
	if lag < 0 {
		lag = 0
	}
	d.metrics.SetSubscriberLag(sub.opts.Name, lag)
}

func (d *Dispatcher) remove(sub *Subscription) {
	d.mu.Lock()
	delete(d.subs, sub.id)
	d.mu.Unlock()

	sub.closeOnce.Do(func() {
		close(sub.ch)
		close(sub.done)
	})
	d.metrics.SubscriberStopped()
}
