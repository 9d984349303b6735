package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/davidahmann/xarf/core/fsx"
)

// Cache holds schema text keyed by schema location. Entries are write-once:
// Put returns whatever content ends up stored, which may be another writer's.
type Cache interface {
	Get(ctx context.Context, location string) ([]byte, bool, error)
	Put(ctx context.Context, location string, content []byte) ([]byte, error)
}

// OpenCache picks a cache implementation from a location: empty disables the
// cache, "memory:" is process local, "gs://bucket/prefix" is a GCS bucket and
// anything else is a directory. A GCS cache owns a storage client: callers
// close it through io.Closer when done. The other caches hold nothing to close.
func OpenCache(ctx context.Context, location string) (Cache, error) {
	trimmed := strings.TrimSpace(location)
	switch {
	case trimmed == "":
		return nil, nil
	case trimmed == "memory:":
		return NewMemoryCache(), nil
	case strings.HasPrefix(trimmed, "gs://"):
		bucket, prefix, err := parseGCSLocation(trimmed)
		if err != nil {
			return nil, err
		}
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		return NewGCSCache(client, bucket, prefix), nil
	default:
		return NewDirCache(trimmed)
	}
}

type MemoryCache struct {
	entries sync.Map
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

func (c *MemoryCache) Get(_ context.Context, location string) ([]byte, bool, error) {
	value, ok := c.entries.Load(location)
	if !ok {
		return nil, false, nil
	}
	return value.([]byte), true, nil
}

func (c *MemoryCache) Put(_ context.Context, location string, content []byte) ([]byte, error) {
	stored, _ := c.entries.LoadOrStore(location, append([]byte(nil), content...))
	return stored.([]byte), nil
}

// DirCache stores one file per schema, named by the last segment of the
// schema url path.
type DirCache struct {
	dir string
}

func NewDirCache(dir string) (*DirCache, error) {
	cleaned := filepath.Clean(dir)
	if err := os.MkdirAll(cleaned, 0o750); err != nil {
		return nil, fmt.Errorf("create schema cache dir: %w", err)
	}
	return &DirCache{dir: cleaned}, nil
}

func (c *DirCache) Dir() string {
	return c.dir
}

func (c *DirCache) Get(_ context.Context, location string) ([]byte, bool, error) {
	// #nosec G304 -- cache file name is derived from a sanitized url segment.
	raw, err := os.ReadFile(filepath.Join(c.dir, cacheName(location)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (c *DirCache) Put(ctx context.Context, location string, content []byte) ([]byte, error) {
	written, err := fsx.WriteFileOnce(filepath.Join(c.dir, cacheName(location)), content, 0o600)
	if err != nil {
		return nil, err
	}
	if written {
		return content, nil
	}
	existing, ok, err := c.Get(ctx, location)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("cache entry for %s vanished", location)
	}
	return existing, nil
}

type GCSCache struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

func NewGCSCache(client *storage.Client, bucket, prefix string) *GCSCache {
	return &GCSCache{client: client, bucket: client.Bucket(bucket), prefix: strings.Trim(prefix, "/")}
}

func (c *GCSCache) Close() error {
	return c.client.Close()
}

func (c *GCSCache) Get(ctx context.Context, location string) ([]byte, bool, error) {
	reader, err := c.bucket.Object(c.objectName(location)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("open cached schema object: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()
	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, false, fmt.Errorf("read cached schema object: %w", err)
	}
	return raw, true, nil
}

func (c *GCSCache) Put(ctx context.Context, location string, content []byte) ([]byte, error) {
	objectName := c.objectName(location)
	writer := c.bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = "application/schema+json"
	if _, err := writer.Write(content); err != nil {
		_ = writer.Close()
		if !isPreconditionFailed(err) {
			return nil, fmt.Errorf("write cached schema object: %w", err)
		}
		return c.existing(ctx, location)
	}
	if err := writer.Close(); err != nil {
		if !isPreconditionFailed(err) {
			return nil, fmt.Errorf("finalize cached schema object: %w", err)
		}
		return c.existing(ctx, location)
	}
	return content, nil
}

func (c *GCSCache) existing(ctx context.Context, location string) ([]byte, error) {
	raw, ok, err := c.Get(ctx, location)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("cached schema object for %s vanished", location)
	}
	return raw, nil
}

func (c *GCSCache) objectName(location string) string {
	if c.prefix == "" {
		return cacheName(location)
	}
	return c.prefix + "/" + cacheName(location)
}

// isPreconditionFailed reports a lost DoesNotExist race: the object is already there.
func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}

func parseGCSLocation(location string) (string, string, error) {
	parsed, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("parse gcs cache location: %w", err)
	}
	if parsed.Host == "" {
		return "", "", fmt.Errorf("gcs cache location needs a bucket: %s", location)
	}
	return parsed.Host, strings.Trim(parsed.Path, "/"), nil
}

// cacheName is the last url path segment, or a digest of the location when
// the segment is unusable as a file name.
func cacheName(location string) string {
	segment := ""
	if parsed, err := url.Parse(location); err == nil {
		segment = path.Base(parsed.Path)
	}
	switch segment {
	case "", ".", "/", "..":
		sum := sha256.Sum256([]byte(location))
		return hex.EncodeToString(sum[:]) + ".json"
	}
	return segment
}
