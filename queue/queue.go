// Package queue implements the bounded single-producer/single-consumer
// ring buffers that carry command.Record values across the RT/NRT
// boundary (spec §4.2). TryEnqueue never blocks: a full queue returns
// ErrFull and the caller (a synth's process callback, or the request
// dispatcher) is responsible for accounting the drop. This generalizes
// the teacher's channel-backed mutation Queue (engine/queue/queue.go)
// into the spec's non-blocking bounded-array ring, since a buffered Go
// channel still blocks a producer once full and still allocates from the
// runtime scheduler on send/receive — both disallowed on the RT thread.
package queue

import (
	"errors"
	"sync/atomic"

	"github.com/shaban/sonicore/command"
)

// ErrFull is returned by TryEnqueue when the ring buffer has no free slot.
var ErrFull = errors.New("queue: full")

// Queue is a bounded SPSC ring buffer of command.Record. The zero value is
// not usable; construct with New. A single goroutine must call
// TryEnqueue, and a single (possibly different) goroutine must call
// TryDequeue/Drain — mixing producers or consumers breaks the lock-free
// invariant.
type Queue struct {
	buf  []command.Record
	mask uint64
	head atomic.Uint64 // next slot to write (producer-owned)
	tail atomic.Uint64 // next slot to read (consumer-owned)
	drop atomic.Uint64 // overflow tally, spec §5 "overflow tally"
}

// New creates a ring buffer whose capacity is the next power of two >=
// capacity (minimum 8).
func New(capacity int) *Queue {
	if capacity < 8 {
		capacity = 8
	}
	size := nextPow2(capacity)
	return &Queue{
		buf:  make([]command.Record, size),
		mask: uint64(size - 1),
	}
}

// TryEnqueue adds rec to the queue. It never blocks: on a full queue it
// increments the overflow tally and returns ErrFull.
func (q *Queue) TryEnqueue(rec command.Record) error {
	head := q.head.Load()
	tail := q.tail.Load()
	if head-tail >= uint64(len(q.buf)) {
		q.drop.Add(1)
		return ErrFull
	}
	q.buf[head&q.mask] = rec
	q.head.Store(head + 1)
	return nil
}

// TryDequeue removes and returns the oldest record, or ok==false if the
// queue is empty.
func (q *Queue) TryDequeue() (rec command.Record, ok bool) {
	tail := q.tail.Load()
	head := q.head.Load()
	if tail >= head {
		return command.Record{}, false
	}
	rec = q.buf[tail&q.mask]
	q.buf[tail&q.mask] = command.Record{}
	q.tail.Store(tail + 1)
	return rec, true
}

// Len returns the number of records currently queued.
func (q *Queue) Len() int {
	return int(q.head.Load() - q.tail.Load())
}

// Cap returns the ring buffer's fixed capacity.
func (q *Queue) Cap() int {
	return len(q.buf)
}

// Overflows returns the running count of TryEnqueue calls that failed
// because the queue was full. Spec §5: "records an error marker (reported
// on next successful enqueue)" — callers surface this however they log
// RT-side faults; the counter itself never resets.
func (q *Queue) Overflows() uint64 {
	return q.drop.Load()
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
