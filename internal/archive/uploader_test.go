package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikigenius/bugscraper/internal/storage/memory"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	return dir
}

func TestUploadDir(t *testing.T) {
	t.Parallel()

	dir := writeFiles(t, map[string]string{
		"2002.jsonl":          `{"id":1}` + "\n",
		"2003.jsonl":          `{"id":2}` + "\n",
		"2002_comments.jsonl": `{"1":[]}` + "\n",
		"bug_metadata.jsonl": `{"bug_id":"1"}` + "\n",
		"notes.txt":           "skip me",
	})
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.jsonl"), 0o750))

	blobs := memory.NewBlobStore()
	u, err := NewUploader(blobs, "/kernel/", nil)
	require.NoError(t, err)

	uris, err := u.UploadDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"memory://kernel/2002.jsonl",
		"memory://kernel/2002_comments.jsonl",
		"memory://kernel/2003.jsonl",
		"memory://kernel/bug_metadata.jsonl",
	}, uris)

	obj, ok := blobs.Get("kernel/2003.jsonl")
	require.True(t, ok)
	assert.Equal(t, ContentType, obj.ContentType)
	assert.Equal(t, `{"id":2}`+"\n", string(obj.Data))
}

func TestKeyWithoutPrefix(t *testing.T) {
	t.Parallel()

	u, err := NewUploader(memory.NewBlobStore(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, "2002.jsonl", u.Key("2002.jsonl"))
}

type failingStore struct{ calls int }

func (f *failingStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	f.calls++
	return "", errors.New("bucket unavailable")
}

func TestUploadDirStopsOnFailure(t *testing.T) {
	t.Parallel()

	dir := writeFiles(t, map[string]string{"2002.jsonl": "", "2003.jsonl": ""})
	fs := &failingStore{}
	u, err := NewUploader(fs, "p", nil)
	require.NoError(t, err)

	uris, err := u.UploadDir(context.Background(), dir)
	require.ErrorContains(t, err, "bucket unavailable")
	assert.Empty(t, uris)
	assert.Equal(t, 1, fs.calls)
}

func TestUploadDirErrors(t *testing.T) {
	t.Parallel()

	_, err := NewUploader(nil, "", nil)
	require.Error(t, err)

	u, err := NewUploader(memory.NewBlobStore(), "", nil)
	require.NoError(t, err)
	_, err = u.UploadDir(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = u.UploadDir(ctx, writeFiles(t, map[string]string{"2002.jsonl": ""}))
	require.ErrorIs(t, err, context.Canceled)
}
