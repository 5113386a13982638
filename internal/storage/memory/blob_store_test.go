package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "bugs/2002.jsonl", "application/x-ndjson", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "memory://bugs/2002.jsonl", uri)

	payload[0] = 'C'
	obj, ok := store.Get("bugs/2002.jsonl")
	require.True(t, ok)
	assert.Equal(t, "content", string(obj.Data))
	assert.Equal(t, "application/x-ndjson", obj.ContentType)

	obj.Data[0] = 'X'
	again, _ := store.Get("bugs/2002.jsonl")
	assert.Equal(t, "content", string(again.Data))
}

func TestBlobStorePaths(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	for _, p := range []string{"b", "a", "c"} {
		_, err := store.PutObject(context.Background(), p, "", bytes.NewReader(nil))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "c"}, store.Paths())
	_, ok := store.Get("missing")
	assert.False(t, ok)
}
