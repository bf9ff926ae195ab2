package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubPublishSubscribe(t *testing.T) {
	t.Parallel()

	h := NewHub(10)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(ProcessStarted, Scope{SessionID: "s1"}, map[string]int{"pid": 42})

	ev := <-ch
	assert.Equal(t, ProcessStarted, ev.Type)
	assert.Equal(t, "s1", ev.SessionID)
	assert.JSONEq(t, `{"pid":42}`, string(ev.Data))
}

func TestHubRingOverwritesOldest(t *testing.T) {
	t.Parallel()

	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish(TaskEnqueued, Scope{TaskID: "t"}, nil)
	}

	snap := h.SnapshotSince(0)
	require.Len(t, snap, 3)
	assert.Equal(t, int64(3), snap[0].ID)
	assert.Equal(t, int64(5), snap[2].ID)
}

func TestHubSnapshotSince(t *testing.T) {
	t.Parallel()

	h := NewHub(10)
	for i := 0; i < 4; i++ {
		h.Publish(TaskCompleted, Scope{}, nil)
	}

	snap := h.SnapshotSince(2)
	require.Len(t, snap, 2)
	assert.Equal(t, int64(3), snap[0].ID)
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	t.Parallel()

	h := NewHub(10)
	_, cancel := h.Subscribe()
	defer cancel()

	// Over-fill the unread subscriber channel; Publish must not block.
	for i := 0; i < 300; i++ {
		h.Publish(SessionStarted, Scope{}, nil)
	}
}
