package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	id, ch := bus.Subscribe(4)
	defer bus.Unsubscribe(id)

	bus.PublishNew(TypeTaskApproved, "task-1", "", map[string]string{"worker": "W1"})

	select {
	case ev := <-ch:
		require.NotNil(t, ev)
		assert.Equal(t, TypeTaskApproved, ev.Type)
		assert.Equal(t, "task-1", ev.ResourceID)
		assert.Equal(t, "W1", ev.Metadata["worker"])
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.CreatedAt.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event was not delivered within timeout")
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := New()
	id1, ch1 := bus.Subscribe(1)
	id2, ch2 := bus.Subscribe(1)
	defer bus.Unsubscribe(id1)
	defer bus.Unsubscribe(id2)

	bus.PublishNew(TypeTaskSynced, "task-2", "", nil)

	for _, ch := range []<-chan *Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, "task-2", ev.ResourceID)
		case <-time.After(time.Second):
			t.Fatal("event was not delivered to all subscribers")
		}
	}
}

func TestBus_FullBufferDropsEvent(t *testing.T) {
	bus := New()
	id, ch := bus.Subscribe(1)
	defer bus.Unsubscribe(id)

	bus.PublishNew(TypeTaskSynced, "task-3", "", nil)
	bus.PublishNew(TypeTaskSynced, "task-4", "", nil)

	ev := <-ch
	assert.Equal(t, "task-3", ev.ResourceID)
	select {
	case ev := <-ch:
		t.Fatalf("expected second event to be dropped, got %s", ev.ResourceID)
	default:
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := New()
	id, ch := bus.Subscribe(1)
	bus.Unsubscribe(id)

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	bus.PublishNew(TypeTaskSynced, "task-5", "", nil)
}
