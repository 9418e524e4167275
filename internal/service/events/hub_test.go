package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-recorder/backend/internal/service/ingest"
)

func TestPublishFansOut(t *testing.T) {
	hub := NewHub()
	a, cancelA := hub.Subscribe()
	b, cancelB := hub.Subscribe()
	defer cancelB()
	require.Equal(t, 2, hub.Subscribers())

	hub.Publish(ingest.Event{Type: ingest.EventFinalizing, SessionID: "s1"})

	assert.Equal(t, "s1", (<-a).SessionID)
	assert.Equal(t, "s1", (<-b).SessionID)

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, hub.Subscribers())
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+5; i++ {
		hub.Publish(ingest.Event{Type: ingest.EventSession})
	}
	assert.Equal(t, uint64(5), hub.Dropped())
}
