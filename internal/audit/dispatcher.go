package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull sheds Info and Warning events when the buffer is full. Critical
	// events always wait for room.
	DropIfFull bool
}

// Dispatcher stamps events with a severity and relays them to a sink on its own
// goroutine.
type Dispatcher struct {
	cfg       Config
	sink      Sink
	queue     chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   [severityCount]atomic.Uint64
	emitted   [severityCount]atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher returns nil when audit is disabled; a nil Dispatcher is a valid no-op.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:   cfg,
		sink:  sink,
		queue: make(chan Event, cfg.BufferSize),
		done:  make(chan struct{}),
	}

	d.wg.Add(1)
	go d.deliver()

	return d
}

// deliver forwards queued events until Close, then drains what is left.
func (d *Dispatcher) deliver() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.queue:
			d.forward(event)
		case <-d.done:
			for {
				select {
				case event := <-d.queue:
					d.forward(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) forward(event Event) {
	d.sink.Emit(context.Background(), event)
	d.emitted[event.Severity.index()].Add(1)
}

// Emit queues event. An empty Severity is filled from the event type.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.Severity == "" {
		event.Severity = Classify(event.EventType, event.Success)
	}

	if d.cfg.DropIfFull && event.Severity != SeverityCritical {
		select {
		case d.queue <- event:
		case <-d.done:
		default:
			d.dropped[event.Severity.index()].Add(1)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.dropped[event.Severity.index()].Add(1)
	case <-d.done:
	}
}

// Close stops accepting events and blocks until the queue is drained.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports events lost to a full buffer or an expired context.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	var total uint64
	for i := range d.dropped {
		total += d.dropped[i].Load()
	}
	return total
}

// Stats returns per-severity delivery and drop counts.
func (d *Dispatcher) Stats() Stats {
	s := Stats{
		Emitted: make(map[Severity]uint64, severityCount),
		Dropped: make(map[Severity]uint64, severityCount),
	}
	if d == nil {
		return s
	}
	for i, sev := range severities {
		s.Emitted[sev] = d.emitted[i].Load()
		s.Dropped[sev] = d.dropped[i].Load()
	}
	return s
}
