// Package dispatcher is the NRT-side request pipeline (spec §6): it
// decodes request.Message values into RT commands, enqueues them on the
// NRT→RT queue, and drains the RT→NRT queue to deliver responses back to
// callers by correlation token. Grounded on the teacher's dispatcher.go
// (DispatcherOperation/OperationType/Dispatcher.dispatchLoop/
// executeOperation), generalized from "topology change operation" to
// "decoded structural/control request" and from a buffered Go channel to
// the bounded lock-free queue pair the RT thread requires.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/shaban/sonicore/command"
	"github.com/shaban/sonicore/node"
	"github.com/shaban/sonicore/queue"
	"github.com/shaban/sonicore/request"
)

// ErrNotRunning is returned by Submit when the dispatcher's worker has
// not been started.
var ErrNotRunning = errors.New("dispatcher: not running")

// ErrQueueFull is returned by Submit when the NRT→RT queue has no room
// (spec §7 kQueueFull; the producer never blocks, matching the RT-side
// contract even though Submit itself runs on NRT).
var ErrQueueFull = errors.New("dispatcher: queue full")

// Response is delivered once a submitted request has been applied on the
// RT thread (or failed validation before ever reaching it).
type Response struct {
	Token  uuid.UUID
	NodeId node.NodeId
	Err    error
}

// Apply executes a single decoded request against engine state. It runs
// on the RT thread, during the scheduler's command-drain step (spec
// §4.7 step 2) — never directly from Submit.
type Apply func(ctx context.Context, d request.Decoded) (node.NodeId, error)

// Dispatcher serializes structural/control requests the way the
// teacher's Dispatcher serializes topology changes, but across the
// RT/NRT boundary via two bounded queues instead of one buffered channel
// and a single goroutine.
type Dispatcher struct {
	toRT  *queue.Queue // NRT -> RT: requests waiting to be applied
	toNRT *queue.Queue // RT -> NRT: responses waiting to be delivered

	apply     Apply
	validator request.Validator
	log       *log.Logger

	// wake is a level-triggered, coalescing signal: a non-blocking send on
	// every toNRT enqueue, drained by workLoop before it goes back to
	// waiting. Buffered at 1 so a burst of enqueues between two wakeups
	// collapses into a single pending wakeup instead of piling up.
	wake chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}

	pendingMu sync.Mutex
	pending   map[uuid.UUID]chan Response

	// Performance tracking, matching the teacher's
	// lastOperationDuration/maxOperationDuration fields.
	perfMu                sync.RWMutex
	lastOperationDuration time.Duration
	maxOperationDuration  time.Duration
}

// New builds a Dispatcher wired to the given queue pair, apply function,
// and validator. logger may be nil, in which case a discarding logger is
// used.
func New(toRT, toNRT *queue.Queue, apply Apply, validator request.Validator, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Dispatcher{
		toRT:      toRT,
		toNRT:     toNRT,
		apply:     apply,
		validator: validator,
		log:       logger,
		wake:      make(chan struct{}, 1),
		pending:   make(map[uuid.UUID]chan Response),
	}
}

// Start begins the NRT worker loop that drains toNRT and delivers
// responses.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("dispatcher: already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.running = true
	d.cancel = cancel
	d.doneCh = make(chan struct{})
	go d.workLoop(ctx)
	return nil
}

// Stop halts the worker loop and blocks until it exits. Canceling the
// worker's context (rather than only closing a stop channel) is what lets
// Stop return even if the worker is parked waiting on wake with nothing
// left to drain — workLoop selects on ctx.Done() alongside wake.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.cancel()
	d.mu.Unlock()
	<-d.doneCh
	return nil
}

// IsRunning reports whether the worker loop is active.
func (d *Dispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Stats returns the most recent and worst-case response-delivery
// durations, matching the teacher's GetPerformanceStats.
func (d *Dispatcher) Stats() (last, max time.Duration) {
	d.perfMu.RLock()
	defer d.perfMu.RUnlock()
	return d.lastOperationDuration, d.maxOperationDuration
}

// Submit decodes msg, validates it, and enqueues the resulting RT command
// onto toRT. It returns a channel that receives exactly one Response once
// the command has been applied (or immediately, if validation failed
// before reaching the queue).
func (d *Dispatcher) Submit(msg request.Message) (<-chan Response, error) {
	d.mu.Lock()
	running := d.running
	d.mu.Unlock()
	if !running {
		return nil, ErrNotRunning
	}

	respCh := make(chan Response, 1)

	decoded, err := request.Decode(msg, d.validator)
	if err != nil {
		respCh <- Response{Token: msg.Token, Err: err}
		close(respCh)
		return respCh, nil
	}

	d.pendingMu.Lock()
	d.pending[msg.Token] = respCh
	d.pendingMu.Unlock()

	rec := command.Func(command.RT, func(ctx context.Context) error {
		start := time.Now()
		id, applyErr := d.apply(ctx, decoded)
		d.recordDuration(time.Since(start))
		return d.postResponse(Response{Token: msg.Token, NodeId: id, Err: applyErr})
	})

	if err := d.toRT.TryEnqueue(rec); err != nil {
		d.pendingMu.Lock()
		delete(d.pending, msg.Token)
		d.pendingMu.Unlock()
		return nil, ErrQueueFull
	}
	return respCh, nil
}

// postResponse is called from the RT thread (inside the command's
// Perform closure) to hand a Response to the NRT worker. It never
// blocks: it enqueues a small NRT-context command onto toNRT and signals
// wake without blocking, even if a signal is already pending.
func (d *Dispatcher) postResponse(resp Response) error {
	rec := command.Func(command.NRT, func(ctx context.Context) error {
		d.deliver(resp)
		return nil
	})
	if err := d.toNRT.TryEnqueue(rec); err != nil {
		d.log.Error("response queue full, dropping response", "token", resp.Token)
		return err
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

func (d *Dispatcher) deliver(resp Response) {
	d.pendingMu.Lock()
	ch, ok := d.pending[resp.Token]
	if ok {
		delete(d.pending, resp.Token)
	}
	d.pendingMu.Unlock()
	if !ok {
		return
	}
	ch <- resp
	close(ch)
}

func (d *Dispatcher) recordDuration(dur time.Duration) {
	d.perfMu.Lock()
	defer d.perfMu.Unlock()
	d.lastOperationDuration = dur
	if dur > d.maxOperationDuration {
		d.maxOperationDuration = dur
	}
}

// workLoop sleeps on wake until a response is available, then drains
// every response currently queued before sleeping again (spec §5 "sleeps
// on a semaphore when empty" — the NRT worker's condition-variable
// substitute).
func (d *Dispatcher) workLoop(ctx context.Context) {
	defer close(d.doneCh)
	perform := context.Background()
	for {
		select {
		case <-d.wake:
		case <-ctx.Done():
			return
		}
		for {
			rec, ok := d.toNRT.TryDequeue()
			if !ok {
				break
			}
			if err := rec.Perform(perform); err != nil {
				d.log.Warn("response delivery failed", "err", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
