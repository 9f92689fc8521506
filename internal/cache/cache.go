// Package cache stores validated generation results keyed by the
// normalized query, dialect, and schema version. A schema change rotates
// the version and the old entries are dropped wholesale.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/querymesh/querymesh/internal/generate"
)

// Entry is one cached generation result.
type Entry struct {
	SQL        string          `json:"sql"`
	Method     generate.Method `json:"method"`
	Confidence float64         `json:"confidence"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Store is the cache backend. Keys carry the schema version as a prefix
// so InvalidateSchema can drop a whole generation of entries.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry) error
	InvalidateSchema(ctx context.Context, schemaVersion string) error
	Len(ctx context.Context) (int, error)
}

// Key derives the cache key. Normalization makes trivially different
// phrasings of the same query share an entry; the schema version prefix
// keeps entries from surviving a schema change.
func Key(query, dialect, schemaVersion string) string {
	digest := sha256.Sum256([]byte(Normalize(query) + "|" + strings.ToLower(dialect)))
	return schemaVersion + ":" + hex.EncodeToString(digest[:16])
}

// Normalize lowercases and collapses whitespace. Literal values stay
// intact; "count users" and "Count  Users" are the same query, but
// "count users in berlin" is not "count users in paris".
func Normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

func schemaPrefix(schemaVersion string) string {
	return schemaVersion + ":"
}
