package subscription

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/phrazzld/grimoire/internal/domain"
)

// ErrSubscriptionBroken is returned by Subscription.Err after a transport
// or storage failure ended delivery. No data is lost: the log is durable,
// and the consumer resumes from its last acknowledged position.
var ErrSubscriptionBroken = errors.New("subscription broken")

// Options configures a subscription.
type Options struct {
	// FromPosition is the last position the consumer has already seen;
	// delivery starts strictly after it. A negative value means "resume
	// from the stored cursor of Name"; when none exists, an untyped
	// subscription starts from 0 and a typed one honors IncludeExisting.
	FromPosition int64

	// Name optionally identifies a durable subscriber. When set, the
	// dispatcher persists the cursor on the subscriber's behalf as
	// batches are delivered.
	Name string

	// StreamType restricts delivery to one stream type. Empty means all
	// streams.
	StreamType string

	// FromVersion suppresses events of a typed subscription at or below
	// this per-stream version. Only meaningful with StreamType.
	FromVersion int64

	// IncludeExisting controls whether a typed subscription replays
	// already-committed events or starts at the current end of the log.
	// It applies only when neither FromPosition nor a stored cursor
	// determines the start.
	IncludeExisting bool
}

// Subscription is one consumer's ordered, at-least-once feed.
// Events are received from Events(); when the channel closes, Err reports
// why (nil for a clean cancellation) and Position is the resume cursor.
type Subscription struct {
	id   string
	opts Options

	ch   chan domain.Event
	wake chan struct{}

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	position atomic.Int64

	errMu sync.Mutex
	err   error
}

func newSubscription(opts Options, buffer int, cancel context.CancelFunc) *Subscription {
	sub := &Subscription{
		id:     uuid.NewString(),
		opts:   opts,
		ch:     make(chan domain.Event, buffer),
		wake:   make(chan struct{}, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	sub.position.Store(opts.FromPosition)
	return sub
}

// Events returns the delivery channel. It is closed when the subscription
// ends, either by cancellation or by a broken feed (see Err).
func (s *Subscription) Events() <-chan domain.Event {
	return s.ch
}

// Cancel stops delivery. Safe to call multiple times; has no effect on
// other subscribers or on writers.
func (s *Subscription) Cancel() {
	s.cancel()
}

// Done is closed once the delivery goroutine has fully stopped.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Position returns the global position of the last delivered event; a
// reconnecting consumer passes it back as FromPosition to resume without
// gaps.
func (s *Subscription) Position() int64 {
	return s.position.Load()
}

// Err reports why the subscription ended. nil until the Events channel is
// closed, and nil afterwards for a clean cancellation.
func (s *Subscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Subscription) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// signal wakes the delivery goroutine without blocking the caller.
func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
