// Package cache provides the byte caches used in front of the master store
// (normalized key to master id) and in front of the validation oracle.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// CacheKey builds a stable, filesystem-safe key from its parts
func CacheKey(namespace string, parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return "placemaster:v1:" + namespace + ":" + hex.EncodeToString(hash[:])
}

// MasterKey is the cache key mapping a normalized name to its master id
func MasterKey(normalizedName string) string {
	return CacheKey("master", normalizedName)
}
