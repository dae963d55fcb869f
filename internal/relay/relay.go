// Package relay bridges a blocking agent computation onto a live SSE
// stream. Each request owns one Relay: the agent goroutine pushes typed
// events through the producer hooks, the HTTP handler drains them into
// "data: <json>\n\n" frames. The relay guarantees exactly one terminal
// done frame per stream, delivered last, no matter how the computation
// ends.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"datachat-agent/internal/utils"
)

// EventType discriminates stream event payloads.
type EventType string

const (
	EventDelta  EventType = "delta"
	EventStatus EventType = "status"
	EventError  EventType = "error"
	EventDone   EventType = "done"
)

// Event is one frame payload on the stream.
type Event struct {
	Type    EventType `json:"type"`
	Text    string    `json:"text,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Relay states. Transitions: Idle -> Streaming on the first hook call or
// Start, Streaming -> Draining when the producer signals completion,
// Draining -> Closed when the consumer observes the sentinel (or its
// context is cancelled).
const (
	stateIdle int32 = iota
	stateStreaming
	stateDraining
	stateClosed
)

const (
	defaultBuffer   = 256
	defaultJoinWait = 30 * time.Second
)

// Relay is a single-producer/single-consumer event queue for one request.
type Relay struct {
	queue  chan Event
	closed chan struct{} // closed when the consumer stops reading
	result chan error    // producer outcome, buffered

	doneOnce  sync.Once
	closeOnce sync.Once

	state    atomic.Int32
	dropped  atomic.Int64
	joinWait time.Duration

	logger utils.ExtendedLogger
}

// New creates an idle relay.
func New(logger utils.ExtendedLogger) *Relay {
	return &Relay{
		queue:    make(chan Event, defaultBuffer),
		closed:   make(chan struct{}),
		result:   make(chan error, 1),
		joinWait: defaultJoinWait,
		logger:   logger,
	}
}

// OnToken forwards one generated token to the stream.
func (r *Relay) OnToken(text string) {
	r.push(Event{Type: EventDelta, Text: text})
}

// OnToolStart announces a tool invocation as a status message.
func (r *Relay) OnToolStart(tool string) {
	r.push(Event{Type: EventStatus, Message: StatusFor(tool)})
}

// OnCompletion signals that the computation produced its final answer.
// Idempotent: the sentinel is enqueued at most once even if the signal
// fires again.
func (r *Relay) OnCompletion() {
	r.complete()
}

// push enqueues without ever blocking the producer: when the buffer is
// full the event is dropped (delivery is best effort, at most once).
func (r *Relay) push(ev Event) {
	r.state.CompareAndSwap(stateIdle, stateStreaming)
	select {
	case <-r.closed:
	case r.queue <- ev:
	default:
		if n := r.dropped.Add(1); n == 1 {
			r.logger.Warnf("[RELAY] queue full, dropping %s events", ev.Type)
		}
	}
}

// complete enqueues the done sentinel exactly once. The send may block
// briefly until the consumer drains, but never past consumer shutdown.
func (r *Relay) complete() {
	r.doneOnce.Do(func() {
		r.state.Store(stateDraining)
		select {
		case r.queue <- Event{Type: EventDone}:
		case <-r.closed:
		}
	})
}

// Start runs the blocking computation on its own goroutine. A panic is
// converted into an ordinary producer error; the completion sentinel is
// enqueued even when the computation never signalled it.
func (r *Relay) Start(invoke func() error) {
	r.state.CompareAndSwap(stateIdle, stateStreaming)
	go func() {
		err := func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("agent session panicked: %v", p)
				}
			}()
			return invoke()
		}()
		r.complete()
		r.result <- err
	}()
}

// Stream drains the relay into w as SSE frames until the sentinel is
// observed or ctx ends. It then joins the producer goroutine (bounded by
// the join wait), surfaces a producer fault as one error frame, and
// finishes with the terminal done frame. A client disconnect suppresses
// both: the outcome of a computation nobody will read is only logged.
func (r *Relay) Stream(ctx context.Context, w io.Writer) error {
	flusher, _ := w.(http.Flusher)

drain:
	for {
		select {
		case ev := <-r.queue:
			if ev.Type == EventDone {
				break drain
			}
			r.writeFrame(w, flusher, ev)
		case <-ctx.Done():
			break drain
		}
	}

	r.closeOnce.Do(func() { close(r.closed) })
	r.state.Store(stateClosed)

	var producerErr error
	select {
	case producerErr = <-r.result:
	case <-time.After(r.joinWait):
		producerErr = fmt.Errorf("agent session still running %s after stream ended", r.joinWait)
	}

	if dropped := r.dropped.Load(); dropped > 0 {
		r.logger.Warnf("[RELAY] dropped %d events on a full queue", dropped)
	}

	ctxErr := ctx.Err()
	if ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
		// Client went away. The producer was still joined above so its
		// goroutine does not leak, but its outcome has no reader.
		if producerErr != nil {
			r.logger.Warnf("[RELAY] discarding error from abandoned session: %v", producerErr)
		}
		return ctxErr
	}

	switch {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		r.writeFrame(w, flusher, Event{Type: EventError, Message: "Stream exceeded the maximum allowed duration."})
	case producerErr != nil:
		r.writeFrame(w, flusher, Event{Type: EventError, Message: producerErr.Error()})
	}

	r.writeFrame(w, flusher, Event{Type: EventDone})
	return nil
}

// writeFrame emits one SSE frame and flushes it so the client sees the
// event as it happens, not when the response ends.
func (r *Relay) writeFrame(w io.Writer, flusher http.Flusher, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.Errorf("[RELAY] failed to encode %s event: %v", ev.Type, err)
		return
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		r.logger.Debugf("[RELAY] client write failed: %v", err)
		return
	}
	if flusher != nil {
		flusher.Flush()
	}
}
