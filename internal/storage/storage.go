package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const defaultUploadConcurrency = 4

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// Object is a named, content-typed payload to upload.
type Object struct {
	FileName    string
	ContentType string
	Content     []byte
}

// Uploaded describes an object that is now live in storage.
type Uploaded struct {
	Location string
	Key      string
	Size     int64
}

// Gateway uploads and deletes objects on an ObjectStorage backend and
// builds their public locations.
type Gateway struct {
	backend     ObjectStorage
	baseURL     string
	prefix      string
	concurrency int
	now         func() time.Time
}

// NewGateway constructs a Gateway. Keys are created under prefix and
// locations are baseURL/bucket/key.
func NewGateway(backend ObjectStorage, baseURL, prefix string) *Gateway {
	return &Gateway{
		backend:     backend,
		baseURL:     strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		prefix:      strings.Trim(prefix, "/"),
		concurrency: defaultUploadConcurrency,
		now:         time.Now,
	}
}

// EnsureBucket ensures the configured bucket exists.
func (g *Gateway) EnsureBucket(ctx context.Context) error {
	return g.backend.EnsureBucket(ctx)
}

// UploadMany uploads objects as one batch. On success the result holds one
// entry per object in submission order. On failure the error is returned
// together with every object that did reach storage, so the caller can
// remove them.
func (g *Gateway) UploadMany(ctx context.Context, objects []Object) ([]Uploaded, error) {
	if len(objects) == 0 {
		return nil, nil
	}

	results := make([]Uploaded, len(objects))
	done := make([]bool, len(objects))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(g.concurrency)
	for i, obj := range objects {
		group.Go(func() error {
			key := g.newKey(obj.FileName)
			size := int64(len(obj.Content))
			if err := g.backend.Put(gctx, key, bytes.NewReader(obj.Content), size, obj.ContentType); err != nil {
				return fmt.Errorf("upload %q: %w", obj.FileName, err)
			}
			results[i] = Uploaded{Location: g.Location(key), Key: key, Size: size}
			done[i] = true
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		uploaded := make([]Uploaded, 0, len(objects))
		for i, ok := range done {
			if ok {
				uploaded = append(uploaded, results[i])
			}
		}
		return uploaded, err
	}
	return results, nil
}

// DeleteMany attempts to delete every key and returns the joined errors of
// the deletions that failed. Keys the gateway does not own are skipped.
func (g *Gateway) DeleteMany(ctx context.Context, keys []string) error {
	var errs []error
	for _, key := range keys {
		if !g.Owns(key) {
			continue
		}
		if err := g.backend.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("delete %q: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// Owns reports whether key lies under the prefix new objects are created
// in. Keys that are not in clean relative form never match.
func (g *Gateway) Owns(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || path.Clean(key) != key {
		return false
	}
	if g.prefix == "" {
		return true
	}
	return strings.HasPrefix(key, g.prefix+"/")
}

// Location returns the public URL of key.
func (g *Gateway) Location(key string) string {
	return fmt.Sprintf("%s/%s/%s", g.baseURL, g.backend.Bucket(), key)
}

// Bucket returns the configured bucket name.
func (g *Gateway) Bucket() string {
	return g.backend.Bucket()
}

// Close releases the backend when it holds resources.
func (g *Gateway) Close() error {
	if closer, ok := g.backend.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (g *Gateway) newKey(fileName string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(fileName, `\`, "/"))))
	if len(ext) > 10 || strings.ContainsAny(ext, " ?#%") {
		ext = ""
	}
	datePrefix := g.now().UTC().Format("2006/01/02")
	return path.Join(g.prefix, datePrefix, uuid.NewString()+ext)
}
