// Package cache implements the read-result cache. Entries are keyed by a
// deterministic hash of the command payload plus the caller's user context,
// so results can never leak between identities, applications, or roles.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/panelflow/panelflow/pkg/session"
)

// DefaultTTL applies to entries stored without an explicit TTL.
const DefaultTTL = 5 * time.Minute

// readVerbPrefixes are the command-identifier prefixes recognized as
// read-only. Only read-only commands are eligible for caching.
var readVerbPrefixes = []string{"List", "Get", "Search"}

// Stats reports cache usage counters.
type Stats struct {
	Size       int           `json:"size"`
	Hits       int64         `json:"hits"`
	Misses     int64         `json:"misses"`
	Evictions  int64         `json:"evictions"`
	DefaultTTL time.Duration `json:"default_ttl"`
}

// Cache is the result cache contract. Implementations must serialize
// concurrent access per key; no cross-key ordering is guaranteed.
type Cache interface {
	Get(ctx context.Context, key string) (any, bool, error)
	Put(ctx context.Context, key string, value any, ttl time.Duration) error
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
	SetDefaultTTL(d time.Duration)
}

// Key derives the cache key for a command payload executed under a user
// context. Two requests with identical payloads but different
// identity/application/role tuples always map to different keys. A nil
// context yields no key: callers must not cache unauthenticated requests.
func Key(commandPayload []byte, uc *session.UserContext) string {
	if uc == nil {
		return ""
	}
	h := sha256.New()
	h.Write(commandPayload)
	h.Write([]byte{0})
	h.Write([]byte(uc.Identity))
	h.Write([]byte{0})
	h.Write([]byte(uc.Application))
	h.Write([]byte{0})
	h.Write([]byte(uc.Role))
	return hex.EncodeToString(h.Sum(nil))
}

// Cacheable reports whether a command may be served from cache. A command
// qualifies via an explicit read-only marker or a recognized read-verb
// prefix on its identifier. noCache forces a bypass regardless.
func Cacheable(commandID string, readOnly, noCache bool) bool {
	if noCache {
		return false
	}
	if readOnly {
		return true
	}
	for _, p := range readVerbPrefixes {
		if strings.HasPrefix(commandID, p) {
			return true
		}
	}
	return false
}
