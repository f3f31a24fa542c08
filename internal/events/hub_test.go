package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHubPublishSubscribe(t *testing.T) {
	hub := NewHub()

	var got []Event
	unsub := hub.Subscribe(TopicCredentialChanged, func(_ context.Context, e Event) {
		got = append(got, e)
	})

	hub.Publish(context.Background(), TopicCredentialChanged, "payload", map[string]string{"credential_id": "c1"})
	assert.Len(t, got, 1)
	assert.Equal(t, TopicCredentialChanged, got[0].Topic)
	assert.Equal(t, "payload", got[0].Payload)
	assert.Equal(t, "c1", got[0].Metadata["credential_id"])

	// Other topics do not reach this subscriber.
	hub.Publish(context.Background(), TopicHealthChecked, nil, nil)
	assert.Len(t, got, 1)

	unsub()
	hub.Publish(context.Background(), TopicCredentialChanged, nil, nil)
	assert.Len(t, got, 1)
}

func TestHubMultipleSubscribers(t *testing.T) {
	hub := NewHub()

	count := 0
	hub.Subscribe(TopicCredentialsSynced, func(context.Context, Event) { count++ })
	hub.Subscribe(TopicCredentialsSynced, func(context.Context, Event) { count++ })

	hub.Publish(context.Background(), TopicCredentialsSynced, nil, nil)
	assert.Equal(t, 2, count)
}
