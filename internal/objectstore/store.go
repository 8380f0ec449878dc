// Package objectstore abstracts the blob store holding input documents and
// pipeline artifacts. Implementations are addressed by bucket and key so
// callers stay independent of the backing service.
package objectstore

import (
	"context"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned by GetBytes for a missing object. Check with
// eris.Is.
var ErrNotFound = eris.New("objectstore: object not found")

// Store reads and writes immutable blobs.
type Store interface {
	// GetBytes fetches an object in full. Missing objects return ErrNotFound.
	GetBytes(ctx context.Context, bucket, key string) ([]byte, error)
	// PutBytes writes an object, replacing any previous version.
	PutBytes(ctx context.Context, bucket, key string, data []byte, contentType string) error
	// Exists reports whether the object is present without fetching it.
	Exists(ctx context.Context, bucket, key string) (bool, error)
	// List returns keys under the prefix in lexicographic order.
	List(ctx context.Context, bucket, prefix string) ([]string, error)
}

// URI renders the canonical object URI recorded in phase artifacts.
func URI(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}
