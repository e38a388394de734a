package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/passbi/splitticket/internal/models"
)

// ErrFrozen is returned when writing to a matrix the optimizer already reads
var ErrFrozen = errors.New("segment matrix is frozen")

type segmentKey struct {
	from int
	to   int
}

// SegmentMatrix holds the priced sub-routes of an itinerary of Size stops.
// An absent (from, to) entry means no priced connection, which is not the
// same as a zero price. Writes are safe from concurrent workers until Freeze.
type SegmentMatrix struct {
	mu     sync.RWMutex
	size   int
	quotes map[segmentKey]models.SegmentQuote
	frozen bool
}

// NewSegmentMatrix creates an empty matrix for size stops
func NewSegmentMatrix(size int) *SegmentMatrix {
	return &SegmentMatrix{
		size:   size,
		quotes: make(map[segmentKey]models.SegmentQuote),
	}
}

// Size returns the number of stops
func (m *SegmentMatrix) Size() int {
	return m.size
}

// Set stores a quote at (quote.From, quote.To), replacing any previous one
func (m *SegmentMatrix) Set(quote models.SegmentQuote) error {
	if quote.From < 0 || quote.To >= m.size || quote.From >= quote.To {
		return fmt.Errorf("invalid segment %d->%d for %d stops", quote.From, quote.To, m.size)
	}
	if quote.Price < 0 {
		return fmt.Errorf("negative price for segment %d->%d", quote.From, quote.To)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frozen {
		return ErrFrozen
	}
	m.quotes[segmentKey{quote.From, quote.To}] = quote
	return nil
}

// Get returns the quote for from -> to
func (m *SegmentMatrix) Get(from, to int) (models.SegmentQuote, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	quote, ok := m.quotes[segmentKey{from, to}]
	return quote, ok
}

// Len returns the number of priced segments
func (m *SegmentMatrix) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.quotes)
}

// Freeze makes the matrix read-only
func (m *SegmentMatrix) Freeze() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frozen = true
}

// IsFrozen returns true once Freeze was called
func (m *SegmentMatrix) IsFrozen() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frozen
}

// Quotes returns all priced segments ordered by (From, To)
func (m *SegmentMatrix) Quotes() []models.SegmentQuote {
	m.mu.RLock()
	quotes := make([]models.SegmentQuote, 0, len(m.quotes))
	for _, quote := range m.quotes {
		quotes = append(quotes, quote)
	}
	m.mu.RUnlock()

	sort.Slice(quotes, func(i, j int) bool {
		if quotes[i].From != quotes[j].From {
			return quotes[i].From < quotes[j].From
		}
		return quotes[i].To < quotes[j].To
	})
	return quotes
}
