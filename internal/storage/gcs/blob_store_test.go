package gcs

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	bytes.Buffer
	bucket      string
	object      string
	contentType string
	closed      bool
	closeErr    error
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return w.closeErr
}

type recorder struct {
	writers  []*fakeWriter
	closeErr error
}

func (r *recorder) factory(_ context.Context, bucket, object, contentType string) objectWriter {
	w := &fakeWriter{bucket: bucket, object: object, contentType: contentType, closeErr: r.closeErr}
	r.writers = append(r.writers, w)
	return w
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
	_, err = newWithFactory((&recorder{}).factory, Config{Bucket: " "})
	require.Error(t, err)
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	store, err := newWithFactory(rec.factory, Config{Bucket: "bug-archive"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "kernel/2002.jsonl", "application/x-ndjson", strings.NewReader("{}\n"))
	require.NoError(t, err)
	assert.Equal(t, "gs://bug-archive/kernel/2002.jsonl", uri)

	require.Len(t, rec.writers, 1)
	w := rec.writers[0]
	assert.Equal(t, "bug-archive", w.bucket)
	assert.Equal(t, "kernel/2002.jsonl", w.object)
	assert.Equal(t, "application/x-ndjson", w.contentType)
	assert.Equal(t, "{}\n", w.String())
	assert.True(t, w.closed)
}

func TestPutObjectErrors(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	store, err := newWithFactory(rec.factory, Config{Bucket: "b"})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "", "", strings.NewReader("x"))
	require.Error(t, err)

	_, err = store.PutObject(context.Background(), "p", "", failingReader{})
	require.ErrorContains(t, err, "copy object")
	assert.True(t, rec.writers[0].closed, "writer is closed after a failed copy")

	failing := &recorder{closeErr: errors.New("precondition failed")}
	store, err = newWithFactory(failing.factory, Config{Bucket: "b"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "p", "", strings.NewReader("x"))
	require.ErrorContains(t, err, "close writer")
}
