package relay

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDispatcherRoutesToSubscriber(t *testing.T) {
	d := NewDispatcher(zap.NewNop())

	sub := d.Subscribe("op-1")
	defer sub.Cancel()

	d.Publish(Event{Kind: EventProgress, OperationID: "op-1", Uploaded: 10, Total: 100})

	select {
	case event := <-sub.C:
		assert.Equal(t, EventProgress, event.Kind)
		assert.Equal(t, int64(10), event.Uploaded)
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}

func TestDispatcherIsolatesOperations(t *testing.T) {
	d := NewDispatcher(zap.NewNop())

	subA := d.Subscribe("op-a")
	defer subA.Cancel()
	subB := d.Subscribe("op-b")
	defer subB.Cancel()

	d.Publish(Event{Kind: EventProgress, OperationID: "op-b"})

	select {
	case <-subA.C:
		t.Fatal("event leaked to the wrong operation")
	case <-time.After(20 * time.Millisecond):
	}

	select {
	case <-subB.C:
	case <-time.After(time.Second):
		t.Fatal("event never delivered to its operation")
	}
}

func TestDispatcherCancelIsIdempotent(t *testing.T) {
	d := NewDispatcher(zap.NewNop())

	sub := d.Subscribe("op-1")
	sub.Cancel()
	sub.Cancel()

	assert.Equal(t, 0, d.SubscriberCount())

	// Progress after cancellation is dropped, not stashed.
	d.Publish(Event{Kind: EventProgress, OperationID: "op-1"})
}

func TestDispatcherStashesEarlyTerminal(t *testing.T) {
	d := NewDispatcher(zap.NewNop())

	// Terminal lands before anyone subscribes.
	d.Publish(Event{Kind: EventSucceeded, OperationID: "op-1", Record: &RemoteFileRecord{RemoteFileID: "remote"}})

	sub := d.Subscribe("op-1")
	defer sub.Cancel()

	select {
	case event := <-sub.C:
		require.Equal(t, EventSucceeded, event.Kind)
		assert.Equal(t, "remote", event.Record.RemoteFileID)
	case <-time.After(time.Second):
		t.Fatal("stashed terminal never delivered")
	}
}

func TestDispatcherDropsEarlyProgress(t *testing.T) {
	d := NewDispatcher(zap.NewNop())

	d.Publish(Event{Kind: EventProgress, OperationID: "op-1"})

	sub := d.Subscribe("op-1")
	defer sub.Cancel()

	select {
	case <-sub.C:
		t.Fatal("progress without a subscriber should be dropped")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestDispatcherPumpForwardsUntilClose(t *testing.T) {
	d := NewDispatcher(zap.NewNop())

	sub := d.Subscribe("op-1")
	defer sub.Cancel()

	updates := make(chan Event, 2)
	updates <- Event{Kind: EventFailed, OperationID: "op-1", Err: errors.New("boom")}
	close(updates)

	d.Pump(updates)

	select {
	case event := <-sub.C:
		assert.Equal(t, EventFailed, event.Kind)
		assert.EqualError(t, event.Err, "boom")
	case <-time.After(time.Second):
		t.Fatal("pumped event never delivered")
	}
}
