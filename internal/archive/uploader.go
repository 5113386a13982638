// Package archive copies a partition directory to a blob store.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/vikigenius/bugscraper/internal/store"
)

// ContentType is attached to every uploaded partition and ledger.
const ContentType = "application/x-ndjson"

// Uploader pushes *.jsonl files to a BlobStore under a key prefix.
type Uploader struct {
	blobs  store.BlobStore
	prefix string
	logger *zap.Logger
}

// NewUploader builds an Uploader. prefix may be empty.
func NewUploader(blobs store.BlobStore, prefix string, logger *zap.Logger) (*Uploader, error) {
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{blobs: blobs, prefix: strings.Trim(prefix, "/"), logger: logger}, nil
}

// Key returns the object key for a file name.
func (u *Uploader) Key(name string) string {
	if u.prefix == "" {
		return name
	}
	return path.Join(u.prefix, name)
}

// UploadDir uploads every *.jsonl file directly inside dir, in name order,
// and returns the stored URIs. It stops at the first failure.
func (u *Uploader) UploadDir(ctx context.Context, dir string) ([]string, error) {
	names, err := jsonlFiles(dir)
	if err != nil {
		return nil, err
	}
	uris := make([]string, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return uris, err
		}
		uri, err := u.uploadFile(ctx, filepath.Join(dir, name), u.Key(name))
		if err != nil {
			return uris, err
		}
		u.logger.Info("Uploaded partition", zap.String("file", name), zap.String("uri", uri))
		uris = append(uris, uri)
	}
	return uris, nil
}

func (u *Uploader) uploadFile(ctx context.Context, src, key string) (string, error) {
	f, err := os.Open(src) // #nosec G304 -- src comes from a directory listing
	if err != nil {
		return "", fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = f.Close() }()
	uri, err := u.blobs.PutObject(ctx, key, ContentType, f)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return uri, nil
}

func jsonlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".jsonl") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
