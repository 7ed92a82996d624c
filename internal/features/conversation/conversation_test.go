package conversation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/events"
	"serotonyl.ru/filegate-bot/internal/store"
)

func TestStepTextRoundTrip(t *testing.T) {
	for _, s := range AllSteps() {
		b, err := json.Marshal(State{Awaiting: s})
		require.NoError(t, err)
		var got State
		require.NoError(t, json.Unmarshal(b, &got))
		assert.Equal(t, s, got.Awaiting, s.String())
	}

	var st State
	require.NoError(t, json.Unmarshal([]byte(`{"awaiting":"set_mood"}`), &st))
	assert.Equal(t, StepNone, st.Awaiting)
	assert.Equal(t, "none", Step(200).String())
}

func TestSetReplacesAndClear(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewMemory(), time.Hour)

	require.NoError(t, s.Set(ctx, 1, StepGiftCode, ""))
	require.NoError(t, s.Set(ctx, 1, StepAdminSetPrice, "tok"))

	st, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StepAdminSetPrice, st.Awaiting)
	assert.Equal(t, "tok", st.Payload)

	require.NoError(t, s.Clear(ctx, 1))
	require.NoError(t, s.Clear(ctx, 1))
	st, err = s.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, st.Active())
}

func TestStaleStateIsCancelled(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	s := NewStore(kv, time.Hour)
	require.NoError(t, s.Set(ctx, 1, StepTicketText, ""))
	require.NoError(t, s.Set(ctx, 2, StepTicketText, ""))

	s.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	st, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, st.Active())

	n, err := s.SweepStale(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, kv.Len())
}

func TestDispatcher(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewMemory(), time.Hour)
	d := NewDispatcher(s)

	d.Register(StepGiftCode, func(_ context.Context, ev events.Event, _ string) Outcome {
		if ev.Text == "" {
			return Stay(events.Reply("send a code"))
		}
		return Advance(events.Reply("amount?"), StepAdminGiftAmount, ev.Text)
	})
	d.Register(StepAdminGiftAmount, func(_ context.Context, _ events.Event, payload string) Outcome {
		return Done(events.Reply("created " + payload))
	})

	_, handled, err := d.Dispatch(ctx, events.Event{SenderID: 1, Text: "x"})
	require.NoError(t, err)
	assert.False(t, handled, "no active step")

	require.NoError(t, s.Set(ctx, 1, StepGiftCode, ""))

	res, handled, err := d.Dispatch(ctx, events.Event{SenderID: 1})
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, "send a code", res.Messages[0].Text)
	st, _ := s.Get(ctx, 1)
	assert.Equal(t, StepGiftCode, st.Awaiting)

	_, _, err = d.Dispatch(ctx, events.Event{SenderID: 1, Text: "WELCOME"})
	require.NoError(t, err)
	st, _ = s.Get(ctx, 1)
	assert.Equal(t, StepAdminGiftAmount, st.Awaiting)
	assert.Equal(t, "WELCOME", st.Payload)

	res, _, err = d.Dispatch(ctx, events.Event{SenderID: 1, Text: "10"})
	require.NoError(t, err)
	assert.Equal(t, "created WELCOME", res.Messages[0].Text)
	st, _ = s.Get(ctx, 1)
	assert.False(t, st.Active())
}

func TestDispatcherUnregisteredStepClears(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewMemory(), time.Hour)
	d := NewDispatcher(s)
	require.NoError(t, s.Set(ctx, 1, StepTicketText, ""))

	_, handled, err := d.Dispatch(ctx, events.Event{SenderID: 1, Text: "hi"})
	require.NoError(t, err)
	assert.False(t, handled)
	st, _ := s.Get(ctx, 1)
	assert.False(t, st.Active())
}

func TestRegisterPanics(t *testing.T) {
	d := NewDispatcher(NewStore(store.NewMemory(), time.Hour))
	h := func(context.Context, events.Event, string) Outcome { return Done(events.Result{}) }

	assert.Panics(t, func() { d.Register(StepNone, h) })
	d.Register(StepGiftCode, h)
	assert.Panics(t, func() { d.Register(StepGiftCode, h) })

	assert.Len(t, d.Unhandled(), len(AllSteps())-1)
}

func TestGuardVetoClearsStep(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewMemory(), time.Hour)
	d := NewDispatcher(s)
	called := false
	d.Register(StepAdminCoinPrice, func(context.Context, events.Event, string) Outcome {
		called = true
		return Done(events.Result{})
	})
	d.SetGuard(func(_ context.Context, _ int64, step Step) error {
		if step.AdminOnly() {
			return common.ErrNotAdmin
		}
		return nil
	})
	require.NoError(t, s.Set(ctx, 1, StepAdminCoinPrice, ""))

	res, handled, err := d.Dispatch(ctx, events.Event{SenderID: 1, Text: "5"})
	require.NoError(t, err)
	assert.True(t, handled)
	assert.False(t, called)
	assert.Equal(t, common.UserMessage(common.ErrNotAdmin), res.Messages[0].Text)
	st, _ := s.Get(ctx, 1)
	assert.False(t, st.Active())
}
