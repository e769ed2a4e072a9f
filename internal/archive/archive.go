// Package archive defines the blob store abstraction used to keep raw copies
// of fetched pages. Backends exist for memory, the local filesystem and GCS;
// archiving is best-effort and never fails a monitoring run.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"time"
)

// BlobStore persists one raw page body and returns a backend-specific URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Nop is a blob store that discards everything. Used when archiving is
// disabled.
type Nop struct{}

// PutObject does nothing and reports an empty URI.
func (Nop) PutObject(_ context.Context, _ string, _ string, _ io.Reader) (string, error) {
	return "", nil
}

// ObjectPath builds a stable object key for a fetched page: date-partitioned
// by fetch time, grouped by host, deduplicated by URL hash.
func ObjectPath(rawURL string, fetchedAt time.Time) string {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}
	sum := sha256.Sum256([]byte(rawURL))
	return fmt.Sprintf("%s/%s/%s.html",
		fetchedAt.UTC().Format("2006/01/02"), host, hex.EncodeToString(sum[:8]))
}
