package progress

import "sync"

// Kind distinguishes routine progress updates from terminal outcomes.
type Kind int

const (
	KindProgress Kind = iota
	KindSuccess
	KindFailure
)

// Event is one progress update from a run. Fraction is in [0, 1] and only
// meaningful for KindProgress events within a phase that reports it; Err is
// set only on KindFailure.
type Event struct {
	Kind     Kind
	Phase    string
	Message  string
	Fraction float64
	Err      error
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Kind == KindSuccess || e.Kind == KindFailure
}

// Emitter delivers events to a single consumer without ever blocking the
// producer. Events are queued in arrival order and pumped to the channel by
// a dedicated goroutine; exactly one terminal event ends the stream, after
// which the channel closes and further emissions are dropped.
type Emitter struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Event
	finished bool
	out      chan Event
}

// NewEmitter starts the pump goroutine and returns a ready Emitter.
func NewEmitter() *Emitter {
	e := &Emitter{out: make(chan Event)}
	e.cond = sync.NewCond(&e.mu)
	go e.pump()
	return e
}

// Events returns the channel the consumer reads. It closes after the
// terminal event has been delivered.
func (e *Emitter) Events() <-chan Event {
	return e.out
}

// Emit queues a routine progress event. Terminal kinds are coerced to
// KindProgress; use Done or Fail to end the stream.
func (e *Emitter) Emit(phase, message string, fraction float64) {
	e.enqueue(Event{Kind: KindProgress, Phase: phase, Message: message, Fraction: fraction})
}

// Done ends the stream with a success event.
func (e *Emitter) Done(phase, message string) {
	e.enqueue(Event{Kind: KindSuccess, Phase: phase, Message: message, Fraction: 1})
}

// Fail ends the stream with a failure event carrying err.
func (e *Emitter) Fail(phase string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	e.enqueue(Event{Kind: KindFailure, Phase: phase, Message: message, Err: err})
}

func (e *Emitter) enqueue(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finished {
		return
	}
	if ev.Terminal() {
		e.finished = true
	}
	e.queue = append(e.queue, ev)
	e.cond.Signal()
}

func (e *Emitter) pump() {
	for {
		e.mu.Lock()
		for len(e.queue) == 0 {
			e.cond.Wait()
		}
		ev := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		e.out <- ev
		if ev.Terminal() {
			close(e.out)
			return
		}
	}
}
