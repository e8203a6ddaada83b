package chunkcache

import (
	"context"

	"github.com/kenneth/bae-engine/internal/errs"
	"github.com/kenneth/bae-engine/internal/ids"
)

// Policy governs whether a fetched chunk is admitted to the on-disk cache
// (spec.md §4.7).
type Policy int

const (
	// PolicyCache admits the blob into the on-disk cache on miss.
	PolicyCache Policy = iota
	// PolicyBypass is used for prefetched chunks of future tracks: bytes
	// are returned to the caller but never written to disk. Graduate is
	// called later if the track actually starts playing.
	PolicyBypass
)

// Decryptor is the narrow capability FetchDecrypted needs from the chunk
// codec: turn an on-wire blob back into plaintext.
type Decryptor interface {
	DecryptBlob(blob []byte) ([]byte, error)
}

// ObjectGetter is the narrow object-store read capability FetchDecrypted
// needs.
type ObjectGetter interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// FetchDecrypted implements the read path of spec.md §4.7: cache lookup,
// object-store fallback, optional cache admission, then decryption.
func (c *Cache) FetchDecrypted(ctx context.Context, id ids.ID, storageKey string, policy Policy, store ObjectGetter, codec Decryptor) ([]byte, error) {
	if blob, ok := c.Get(id); ok {
		plaintext, err := codec.DecryptBlob(blob)
		if err != nil {
			return nil, errs.Wrap(errs.KindCrypto, "chunkcache", "decrypt failed for cached chunk", err)
		}
		return plaintext, nil
	}

	blob, err := store.Get(ctx, storageKey)
	if err != nil {
		return nil, err // already classified by objectstore
	}

	if policy == PolicyCache {
		c.Put(id, blob)
	}

	plaintext, err := codec.DecryptBlob(blob)
	if err != nil {
		return nil, errs.Wrap(errs.KindCrypto, "chunkcache", "decrypt failed for fetched chunk", err)
	}
	return plaintext, nil
}
