// Package stream provides the multicast observable used between components.
//
// Publishing never blocks: every subscriber owns an unbounded queue drained
// by its own goroutine, so a slow consumer delays only itself. Values reach
// each subscriber in publish order. Complete closes every subscriber channel
// after its queue is drained.
package stream

import (
	"context"
	"sync"
)

type Subject[T any] struct {
	mu        sync.Mutex
	subs      map[*subscription[T]]struct{}
	completed bool

	replay  bool
	last    T
	hasLast bool
}

// NewSubject returns a subject that only delivers values published after
// Subscribe.
func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{subs: make(map[*subscription[T]]struct{})}
}

// NewBehaviorSubject returns a subject that hands the latest value to every
// new subscriber first.
func NewBehaviorSubject[T any](initial T) *Subject[T] {
	s := NewSubject[T]()
	s.replay = true
	s.last = initial
	s.hasLast = true
	return s
}

// NewReplayLatest is NewBehaviorSubject without an initial value.
func NewReplayLatest[T any]() *Subject[T] {
	s := NewSubject[T]()
	s.replay = true
	return s
}

// Publish delivers v to all current subscribers. No-op after Complete.
func (s *Subject[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed {
		return
	}
	if s.replay {
		s.last = v
		s.hasLast = true
	}
	for sub := range s.subs {
		if sub.keep == nil || sub.keep(v) {
			sub.push(v)
		}
	}
}

// Subscribe returns a channel that yields published values until ctx is
// cancelled or the subject completes. The channel is always closed
// eventually.
func (s *Subject[T]) Subscribe(ctx context.Context) <-chan T {
	return s.SubscribeFunc(ctx, nil)
}

// SubscribeFunc is Subscribe restricted to the values keep accepts. A nil
// keep accepts everything.
func (s *Subject[T]) SubscribeFunc(ctx context.Context, keep func(T) bool) <-chan T {
	sub := &subscription[T]{
		keep: keep,
		wake: make(chan struct{}, 1),
		out:  make(chan T),
	}

	s.mu.Lock()
	if s.replay && s.hasLast && (keep == nil || keep(s.last)) {
		sub.push(s.last)
	}
	if s.completed {
		sub.finish()
	} else {
		s.subs[sub] = struct{}{}
	}
	s.mu.Unlock()

	go func() {
		sub.run(ctx)
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
	}()
	return sub.out
}

// Value returns the latest value of a replaying subject.
func (s *Subject[T]) Value() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}

// Complete closes all subscriber channels once their queues drain. Later
// subscribers receive only the replayed value, if any. Idempotent.
func (s *Subject[T]) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed {
		return
	}
	s.completed = true
	for sub := range s.subs {
		sub.finish()
	}
	clear(s.subs)
}

func (s *Subject[T]) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

type subscription[T any] struct {
	keep   func(T) bool
	mu     sync.Mutex
	queue  []T
	closed bool
	wake   chan struct{}
	out    chan T
}

func (sub *subscription[T]) push(v T) {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.queue = append(sub.queue, v)
	sub.mu.Unlock()
	sub.signal()
}

func (sub *subscription[T]) finish() {
	sub.mu.Lock()
	sub.closed = true
	sub.mu.Unlock()
	sub.signal()
}

func (sub *subscription[T]) signal() {
	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *subscription[T]) run(ctx context.Context) {
	defer close(sub.out)
	for {
		sub.mu.Lock()
		if len(sub.queue) == 0 {
			closed := sub.closed
			sub.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-sub.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		v := sub.queue[0]
		var zero T
		sub.queue[0] = zero
		sub.queue = sub.queue[1:]
		sub.mu.Unlock()

		select {
		case sub.out <- v:
		case <-ctx.Done():
			return
		}
	}
}
