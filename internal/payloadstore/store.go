// Package payloadstore implements the content-addressed blob store of
// spec §4.2: store/retrieve/exists/delete, keyed by the canonical hash of
// the content. The default (and only shipped) backend is the local
// filesystem with hash-prefixed directory fanout.
package payloadstore

import "context"

// Store is the content-addressed blob store contract (spec §6).
// Implementations must be safe for concurrent use and idempotent: storing
// content that already exists under its hash is a no-op that returns the
// same hash.
type Store interface {
	// Store writes data and returns its canonical hash.
	Store(ctx context.Context, data []byte) (hash string, err error)
	// Retrieve returns the bytes for hash, or (nil, false, nil) if absent.
	Retrieve(ctx context.Context, hash string) (data []byte, found bool, err error)
	// Exists reports whether hash is present without reading its bytes.
	Exists(ctx context.Context, hash string) (bool, error)
	// Delete removes the blob for hash and reports its size in bytes before
	// removal (for PurgeResult.bytes_freed). Used only by retention/purge
	// (§4.14); Landscape rows referencing hash are never deleted. Returns
	// (false, 0, nil) if the blob was already absent (idempotent).
	Delete(ctx context.Context, hash string) (existed bool, sizeBytes int64, err error)
}
