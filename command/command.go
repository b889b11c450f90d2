// Package command defines the tagged record carried on the RT<->NRT
// queues, replacing a class hierarchy of command subclasses (spec §9,
// "Cyclic & exception-heavy C++-style inheritance -> tagged variants")
// with a single record holding a target Context and a Perform closure.
package command

import "context"

// Context identifies which side of the RT/NRT boundary a Record is meant
// to run on.
type Context int

const (
	// RT marks a command that must be performed on the real-time audio
	// thread, during the scheduler's drain step.
	RT Context = iota
	// NRT marks a command that must be performed on the non-real-time
	// worker thread.
	NRT
)

func (c Context) String() string {
	switch c {
	case RT:
		return "RT"
	case NRT:
		return "NRT"
	default:
		return "unknown"
	}
}

// Record is a POD-like command carried on a queue.Queue. Perform is called
// exactly once, on the thread matching Context. Payload is an opaque
// pointer to data the closure captured; it exists so callers can account
// for payload size/ownership without the queue needing to know the
// concrete type.
type Record struct {
	Context Context
	Perform func(ctx context.Context) error
	Payload any
}

// Func adapts a plain function into a Record's Perform field.
func Func(c Context, f func(ctx context.Context) error) Record {
	return Record{Context: c, Perform: f}
}

// Free builds a Record that calls release when performed: a deferred-free
// command for handing a free to the side that owns the memory instead of
// freeing cross-context. No package in this module currently builds one.
func Free(c Context, release func()) Record {
	return Record{
		Context: c,
		Perform: func(context.Context) error {
			release()
			return nil
		},
	}
}
