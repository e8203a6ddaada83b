package objectstore

import "github.com/kenneth/bae-engine/internal/ids"

// ChunkKey computes the storage key for a chunk's encrypted blob, sharded
// by the first four hex characters of its id so that no single S3 prefix
// receives a disproportionate share of traffic (spec.md §4.2).
func ChunkKey(chunkID ids.ID) string {
	s := chunkID.String()
	// UUIDs are hyphenated (8-4-4-4-12); the first two octets are always
	// plain hex characters at positions 0-1 and 2-3.
	shard1 := s[0:2]
	shard2 := s[2:4]
	return "chunks/" + shard1 + "/" + shard2 + "/" + s + ".enc"
}
