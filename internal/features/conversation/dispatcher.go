// Package conversation — dispatcher.go routes free input to the handler
// registered for the user's current step.
package conversation

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/filegate-bot/internal/events"
)

// Handler processes input for one step. payload is the value stored with
// the step (a token, a user id, a purchase id...).
type Handler func(ctx context.Context, ev events.Event, payload string) Outcome

type nextKind uint8

const (
	nextStay nextKind = iota
	nextAdvance
	nextDone
)

// Outcome is the reply plus what happens to the slot.
type Outcome struct {
	Result  events.Result
	next    nextKind
	step    Step
	payload string
}

// Advance replies and moves the user to step.
func Advance(r events.Result, step Step, payload string) Outcome {
	return Outcome{Result: r, next: nextAdvance, step: step, payload: payload}
}

// Stay replies and keeps the slot unchanged, e.g. to re-prompt after
// invalid input.
func Stay(r events.Result) Outcome {
	return Outcome{Result: r, next: nextStay}
}

// Done replies and clears the slot.
func Done(r events.Result) Outcome {
	return Outcome{Result: r, next: nextDone}
}

// Guard may veto a step before its handler runs.
type Guard func(ctx context.Context, userID int64, step Step) error

// Dispatcher maps steps to handlers.
type Dispatcher struct {
	store    *Store
	handlers map[Step]Handler
	guard    Guard
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(store *Store) *Dispatcher {
	return &Dispatcher{store: store, handlers: make(map[Step]Handler)}
}

// Store returns the underlying state store.
func (d *Dispatcher) Store() *Store { return d.store }

// Register binds h to step. Registering StepNone or a step twice is a
// programming error and panics.
func (d *Dispatcher) Register(step Step, h Handler) {
	if step == StepNone || step >= stepCount {
		panic(fmt.Sprintf("conversation: cannot register step %d", step))
	}
	if _, dup := d.handlers[step]; dup {
		panic(fmt.Sprintf("conversation: step %s registered twice", step))
	}
	d.handlers[step] = h
}

// SetGuard installs g. A step vetoed by g is cleared and the error is
// shown to the user.
func (d *Dispatcher) SetGuard(g Guard) { d.guard = g }

// Unhandled returns steps that have no handler.
func (d *Dispatcher) Unhandled() []Step {
	var out []Step
	for _, s := range AllSteps() {
		if _, ok := d.handlers[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}

// Dispatch runs the handler of the sender's current step. handled is false
// when the user is not in a flow.
func (d *Dispatcher) Dispatch(ctx context.Context, ev events.Event) (res events.Result, handled bool, err error) {
	st, err := d.store.Get(ctx, ev.SenderID)
	if err != nil {
		return events.Result{}, false, err
	}
	if !st.Active() {
		return events.Result{}, false, nil
	}

	h, ok := d.handlers[st.Awaiting]
	if !ok {
		log.WithField("step", st.Awaiting).Warn("no handler for conversation step, clearing")
		return events.Result{}, false, d.store.Clear(ctx, ev.SenderID)
	}

	if d.guard != nil {
		if gerr := d.guard(ctx, ev.SenderID, st.Awaiting); gerr != nil {
			if err := d.store.Clear(ctx, ev.SenderID); err != nil {
				log.WithError(err).WithField("user_id", ev.SenderID).Warn("conversation state clear failed")
			}
			return events.Fail(ev, gerr), true, nil
		}
	}

	out := h(ctx, ev, st.Payload)
	switch out.next {
	case nextAdvance:
		err = d.store.Set(ctx, ev.SenderID, out.step, out.payload)
	case nextDone:
		err = d.store.Clear(ctx, ev.SenderID)
	}
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"user_id": ev.SenderID,
			"step":    st.Awaiting,
		}).Warn("conversation state write failed")
	}
	return out.Result, true, nil
}
