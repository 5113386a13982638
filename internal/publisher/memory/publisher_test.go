package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "sweep.finished", map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "sweep.failed", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "sweep.finished", msgs[0].Event)
	assert.JSONEq(t, `{"k":"v"}`, string(msgs[0].Data))
	assert.Equal(t, `"payload"`, string(msgs[1].Data))

	msgs[0].Event = "modified"
	assert.Equal(t, "sweep.finished", pub.Messages()[0].Event)
}

func TestPublisherRejectsUnmarshalable(t *testing.T) {
	t.Parallel()

	_, err := New().Publish(context.Background(), "e", func() {})
	require.Error(t, err)
	assert.Empty(t, New().Messages())
}
