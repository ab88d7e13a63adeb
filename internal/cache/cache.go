package cache

import (
	"context"
	"encoding/binary"
	"math"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"grounded-query/internal/grounding"
)

// Cache provides query result caching
type Cache interface {
	// Get retrieves a cached query result by key
	// Returns nil if not found
	Get(ctx context.Context, key string) (*grounding.QueryResult, error)

	// Set stores a query result with TTL
	Set(ctx context.Context, key string, result *grounding.QueryResult, ttl time.Duration) error

	// Close closes the cache connection
	Close() error
}

// GenerateCacheKey hashes every field that can change the upstream answer.
func GenerateCacheKey(model string, req grounding.QueryRequest) string {
	d := xxhash.New()
	writeField(d, model)
	writeField(d, req.Query)
	writeField(d, req.SystemInstruction)
	if req.GroundingEnabled {
		_, _ = d.Write([]byte{1})
	} else {
		_, _ = d.Write([]byte{0})
	}
	if req.Temperature != nil {
		var buf [9]byte
		buf[0] = 1
		binary.BigEndian.PutUint64(buf[1:], math.Float64bits(*req.Temperature))
		_, _ = d.Write(buf[:])
	} else {
		_, _ = d.Write([]byte{0})
	}
	return strconv.FormatUint(d.Sum64(), 16)
}

// writeField length-prefixes s so adjacent fields cannot collide.
func writeField(d *xxhash.Digest, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	_, _ = d.Write(n[:])
	_, _ = d.WriteString(s)
}
