package controlbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextReturnsEventsInFIFOOrder(t *testing.T) {
	b := New()
	b.Publish(Event{Kind: KindIntervention, Intervention: &Intervention{Requirement: "first"}})
	b.Publish(Event{Kind: KindIntervention, Intervention: &Intervention{Requirement: "second"}})

	ctx := context.Background()
	ev1, ok := b.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, "first", ev1.Intervention.Requirement)

	ev2, ok := b.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, "second", ev2.Intervention.Requirement)
}

func TestNextBlocksUntilPublish(t *testing.T) {
	b := New()
	ctx := context.Background()

	type result struct {
		ev Event
		ok bool
	}
	done := make(chan result, 1)
	go func() {
		ev, ok := b.Next(ctx)
		done <- result{ev, ok}
	}()

	time.Sleep(20 * time.Millisecond)
	b.Publish(Event{Kind: KindStop})

	select {
	case r := <-done:
		assert.True(t, r.ok)
		assert.Equal(t, KindStop, r.ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("Next did not unblock after Publish")
	}
}

func TestNextRespectsContextCancellation(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := b.Next(ctx)
	assert.False(t, ok)
}

func TestStopDrainsInterventionsBeforePublishingStop(t *testing.T) {
	b := New()
	b.Publish(Event{Kind: KindIntervention, Intervention: &Intervention{Requirement: "queued before stop"}})

	stopped := false
	b.Stop(func() { stopped = true })

	assert.True(t, stopped)

	ev, ok := b.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, KindStop, ev.Kind, "the only surviving event must be stop, not the drained intervention")
}

func TestDrainInterventionsPreservesOtherKinds(t *testing.T) {
	b := New()
	b.Publish(Event{Kind: KindIntervention, Intervention: &Intervention{Requirement: "drop me"}})
	b.Publish(Event{Kind: KindConfigUpdate, ConfigUpdate: &ConfigUpdate{MaxParallel: 5}})

	drained := b.DrainInterventions()
	assert.Equal(t, 1, drained)

	ev, ok := b.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, KindConfigUpdate, ev.Kind)
}
