// Package shard provides partition key generation for the single-table DynamoDB layout.
package shard

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"strings"
)

// MaxShards is the largest supported shard count.
const MaxShards = 256

// PartitionKey computes the sharded partition key for an entity.
// With numShards=1, all entities of a type go to shard "00".
// With numShards>1, entities are distributed across shards based on the id hash.
func PartitionKey(entityType, id string, numShards int) string {
	if numShards <= 1 {
		return fmt.Sprintf("%s#00", entityType)
	}
	h := fnv.New32a()
	h.Write([]byte(id))
	shard := h.Sum32() % uint32(min(numShards, MaxShards))
	return fmt.Sprintf("%s#%02x", entityType, shard)
}

// PartitionKeys returns every partition key of an entity type, in shard order.
// A type query fans out over these.
func PartitionKeys(entityType string, numShards int) []string {
	n := min(max(numShards, 1), MaxShards)
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s#%02x", entityType, i)
	}
	return keys
}

// Digest computes a 128-bit hex digest of parts. Equal parts always give the
// same digest, which makes it usable as an idempotency token.
func Digest(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "#")))
	return hex.EncodeToString(h[:16])
}
