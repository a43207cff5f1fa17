// Package timerqueue holds distinct items that expire a fixed duration after
// they were added or last reset. Expired items are passed to a callback, one
// at a time, in expiry order.
package timerqueue

import (
	"errors"
	"sync"
	"time"
)

// ErrExists is returned by Add when the item is already queued.
var ErrExists = errors.New("timerqueue: item already exists")

type entry[T comparable] struct {
	v      T
	expire time.Time
	prev   *entry[T]
	next   *entry[T]
}

// Queue is a list of items ordered by expiry time. Since every item gets the
// same duration and is always appended at the tail, the list stays sorted.
// Only one timer is armed at a time, for the head of the list.
type Queue[T comparable] struct {
	mu       sync.Mutex
	first    *entry[T]
	last     *entry[T]
	items    map[T]*entry[T]
	duration time.Duration
	callback func(T)

	timer *time.Timer
	gen   uint64
	now   func() time.Time
}

// New creates a queue calling callback for every item that expires duration
// after it was added or reset.
func New[T comparable](callback func(T), duration time.Duration) *Queue[T] {
	return &Queue[T]{
		items:    make(map[T]*entry[T]),
		duration: duration,
		callback: callback,
		now:      time.Now,
	}
}

// Add queues v. It returns ErrExists if v is already queued.
func (q *Queue[T]) Add(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.items[v]; ok {
		return ErrExists
	}
	q.push(v)
	return nil
}

// Remove drops v without calling the callback. It returns false if v was not
// queued.
func (q *Queue[T]) Remove(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.items[v]
	if !ok {
		return false
	}
	wasFirst := e == q.first
	q.unlink(e)
	if wasFirst {
		q.arm()
	}
	return true
}

// Reset restarts the expiry of v as if it was removed and added again. If v
// was not queued it is added. The return value reports whether v was queued.
func (q *Queue[T]) Reset(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.items[v]
	if ok {
		wasFirst := e == q.first
		q.unlink(e)
		if wasFirst && q.first != nil {
			q.arm()
		}
	}
	q.push(v)
	return ok
}

// Clear drops all items without calling the callback.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reset()
}

// Flush drops all items and calls the callback for each of them, in expiry
// order, before returning. Items added by the callback during the flush stay
// queued.
func (q *Queue[T]) Flush() {
	q.mu.Lock()
	var flushed []T
	for e := q.first; e != nil; e = e.next {
		flushed = append(flushed, e.v)
	}
	q.reset()
	q.mu.Unlock()

	for _, v := range flushed {
		q.callback(v)
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) reset() {
	q.first = nil
	q.last = nil
	q.items = make(map[T]*entry[T])
	q.disarm()
}

func (q *Queue[T]) push(v T) {
	e := &entry[T]{v: v, expire: q.now().Add(q.duration)}
	q.items[v] = e
	if q.last == nil {
		q.first = e
		q.last = e
		q.arm()
		return
	}
	e.prev = q.last
	q.last.next = e
	q.last = e
}

func (q *Queue[T]) unlink(e *entry[T]) {
	delete(q.items, e.v)
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		q.first = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		q.last = e.prev
	}
	e.prev = nil
	e.next = nil
}

// disarm invalidates any outstanding timer. A timer that already fired and
// is waiting for the lock sees a stale generation and does nothing.
func (q *Queue[T]) disarm() {
	q.gen++
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

// arm points the single timer at the current head.
func (q *Queue[T]) arm() {
	q.disarm()
	if q.first == nil {
		return
	}
	gen := q.gen
	q.timer = time.AfterFunc(q.first.expire.Sub(q.now()), func() {
		q.fire(gen)
	})
}

func (q *Queue[T]) fire(gen uint64) {
	q.mu.Lock()
	if gen != q.gen || q.first == nil {
		q.mu.Unlock()
		return
	}
	e := q.first
	q.unlink(e)
	q.timer = nil
	q.arm()
	q.mu.Unlock()

	q.callback(e.v)
}
