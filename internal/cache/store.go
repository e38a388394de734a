package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/passbi/splitticket/internal/models"
)

// Entry is a cached pricing outcome. A nil Quote records that the source
// had no connection for the key.
type Entry struct {
	Quote    *models.SegmentQuote `json:"quote,omitempty"`
	StoredAt time.Time            `json:"stored_at"`
}

// Store is a TTL-bounded quote cache. Get returns (nil, nil) on a miss.
// Entries are replaced as a whole, never mutated in place.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, entry Entry) error
	Clear(ctx context.Context) error
	Stats() Stats
}

// Stats holds cache lookup counters. Entries is nil for shared stores,
// whose size is not known to this process.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Sets    int64 `json:"sets"`
	Entries *int  `json:"entries,omitempty"`
}

// QuoteKey generates the cache key for a segment quote
func QuoteKey(originID, destinationID string, travelDate time.Time, traveler models.TravelerConfig) string {
	data := fmt.Sprintf("%s|%s|%s|%s", originID, destinationID, travelDate.Format("2006-01-02"), traveler.Fingerprint())
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("quote:%x", hash[:16])
}
