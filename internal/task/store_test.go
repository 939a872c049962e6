package task

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsnebula/converter-api/internal/broker"
)

func newTestStore() (*broker.Memory, *Store, *fakeClock) {
	m := broker.NewMemory()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := NewStore(m)
	s.Now = clock.Now
	return m, s, clock
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestStoreTicketsAreStrictlyIncreasing(t *testing.T) {
	t.Parallel()

	_, s, _ := newTestStore()
	ctx := context.Background()

	a, err := s.NextTicket(ctx)
	require.NoError(t, err)
	b, err := s.NextTicket(ctx)
	require.NoError(t, err)
	assert.Greater(t, b, a)
}

func TestStoreLifecycleHappyPath(t *testing.T) {
	t.Parallel()

	_, s, clock := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.CreateWaiting(ctx, 1))
	st, err := s.Status(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, st.State)
	assert.Equal(t, st.CreatedAt, st.UpdatedAt)

	clock.Advance(2 * time.Second)
	require.NoError(t, s.MarkWorking(ctx, 1))

	clock.Advance(5 * time.Second)
	require.NoError(t, s.MarkDone(ctx, 1))

	st, err = s.Status(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StateDone, st.State)
	assert.InDelta(t, 5, st.Runtime, 0.01, "runtime counts from the start of work")
}

func TestStoreRejectsIllegalTransitions(t *testing.T) {
	t.Parallel()

	_, s, _ := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.CreateWaiting(ctx, 1))

	// Cannot finish without working first.
	assert.ErrorIs(t, s.MarkDone(ctx, 1), ErrInvalidTransition)

	require.NoError(t, s.MarkWorking(ctx, 1))
	assert.ErrorIs(t, s.MarkWorking(ctx, 1), ErrInvalidTransition)

	require.NoError(t, s.MarkFailed(ctx, 1))
	// Terminal states never regress.
	assert.ErrorIs(t, s.MarkWorking(ctx, 1), ErrInvalidTransition)
	assert.ErrorIs(t, s.MarkDone(ctx, 1), ErrInvalidTransition)
}

func TestStoreUnknownTicket(t *testing.T) {
	t.Parallel()

	_, s, _ := newTestStore()
	ctx := context.Background()

	_, err := s.Status(ctx, 999)
	assert.ErrorIs(t, err, ErrTicketNotFound)
	assert.ErrorIs(t, s.MarkWorking(ctx, 999), ErrTicketNotFound)
}

func TestStoreCorruptStatusRecord(t *testing.T) {
	t.Parallel()

	m, s, _ := newTestStore()
	ctx := context.Background()

	require.NoError(t, m.HSet(ctx, "task:status", "13", []byte("{broken")))
	require.NoError(t, m.HSet(ctx, "task:status", "14", []byte(`{"state":"WAITING"}`)))

	_, err := s.Status(ctx, 13)
	assert.ErrorIs(t, err, ErrCorruptStatus)
	_, err = s.Status(ctx, 14)
	assert.ErrorIs(t, err, ErrCorruptStatus, "missing timestamps count as corrupt")
}

func TestStoreResultRoundTrip(t *testing.T) {
	t.Parallel()

	_, s, _ := newTestStore()
	ctx := context.Background()

	ok, err := s.HasResult(ctx, 5)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = s.Result(ctx, 5)
	assert.ErrorIs(t, err, ErrNoResult)

	want := Result{Payload: json.RawMessage(`{"mods":[]}`), Success: true, Token: "tok"}
	require.NoError(t, s.SaveResult(ctx, 5, want))

	ok, err = s.HasResult(ctx, 5)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Result(ctx, 5)
	require.NoError(t, err)
	assert.JSONEq(t, string(want.Payload), string(got.Payload))
	assert.True(t, got.Success)
	assert.Equal(t, "tok", got.Token)
}

func TestStoreRemoveDropsAllTicketState(t *testing.T) {
	t.Parallel()

	m, s, _ := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.CreateWaiting(ctx, 8))
	require.NoError(t, s.SaveResult(ctx, 8, Result{Token: "t"}))
	require.NoError(t, m.RPush(ctx, "task:8:log", []byte(`["log_message","x"]`)))

	require.NoError(t, s.Remove(ctx, 8))

	_, err := s.Status(ctx, 8)
	assert.ErrorIs(t, err, ErrTicketNotFound)
	ok, err := s.HasResult(ctx, 8)
	require.NoError(t, err)
	assert.False(t, ok)

	entries, err := m.LRange(ctx, "task:8:log", 0, -1)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStoreAllStatusesSkipsCorruptRecords(t *testing.T) {
	t.Parallel()

	m, s, _ := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.CreateWaiting(ctx, 1))
	require.NoError(t, s.CreateWaiting(ctx, 2))
	require.NoError(t, m.HSet(ctx, "task:status", "3", []byte("junk")))

	all, err := s.AllStatuses(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Contains(t, all, int64(1))
	assert.Contains(t, all, int64(2))
}
