package cracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterDeliversToAllSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	first := b.Subscribe()
	second := b.Subscribe()

	ev := Event{SessionID: "night_job", AttackName: "Common passwords", ProgressPct: 12.5}
	b.Publish(ev)

	select {
	case got := <-first:
		assert.Equal(t, ev.SessionID, got.SessionID)
		assert.Equal(t, ev.AttackName, got.AttackName)
	default:
		t.Fatal("first subscriber got nothing")
	}

	select {
	case got := <-second:
		assert.InDelta(t, 12.5, got.ProgressPct, 0.001)
	default:
		t.Fatal("second subscriber got nothing")
	}
}

func TestBroadcasterNeverBlocksOnFullSubscriber(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	slow := b.Subscribe()

	done := make(chan struct{})

	go func() {
		defer close(done)

		// Well past the subscriber buffer; must not stall.
		for i := 0; i < 3*subscriberBuffer; i++ {
			b.Publish(Event{Recovered: i})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	// The slow subscriber kept only what its buffer could hold.
	require.Len(t, slow, subscriberBuffer)

	// History kept everything regardless.
	require.Len(t, b.History(), 3*subscriberBuffer)
}

func TestBroadcasterHistoryIsACopy(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	b.Publish(Event{SessionID: "a"})

	hist := b.History()
	require.Len(t, hist, 1)

	hist[0].SessionID = "mutated"

	require.Equal(t, "a", b.History()[0].SessionID)
}
