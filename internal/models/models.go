package models

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Cents is an amount of money in euro cents
type Cents int64

// CentsFromEuros converts a decimal euro amount, rounding half away from zero
func CentsFromEuros(euros float64) Cents {
	return Cents(math.Round(euros * 100))
}

// Euros returns the amount as a decimal euro value
func (c Cents) Euros() float64 {
	return float64(c) / 100
}

func (c Cents) String() string {
	return strconv.FormatFloat(c.Euros(), 'f', 2, 64)
}

// DiscountCard is a traveler-held discount card code (closed set)
type DiscountCard string

const (
	DiscountNone     DiscountCard = ""
	Discount25Class1 DiscountCard = "BC25_1"
	Discount25Class2 DiscountCard = "BC25_2"
	Discount50Class1 DiscountCard = "BC50_1"
	Discount50Class2 DiscountCard = "BC50_2"
)

// Stop represents one position in an itinerary
type Stop struct {
	Index              int        `json:"index" yaml:"-"`
	StationID          string     `json:"station_id" yaml:"id"`
	Name               string     `json:"name" yaml:"name"`
	ScheduledDeparture *time.Time `json:"scheduled_departure,omitempty" yaml:"departure,omitempty"`
	ScheduledArrival   *time.Time `json:"scheduled_arrival,omitempty" yaml:"arrival,omitempty"`
}

// CanDepart reports whether the stop can be used as the origin of a segment
func (s Stop) CanDepart() bool {
	return s.ScheduledDeparture != nil && !s.ScheduledDeparture.IsZero()
}

// TravelerConfig describes who is traveling. It is created once per analysis
// and never mutated afterwards.
type TravelerConfig struct {
	Age            int          `json:"age"`
	DiscountCard   DiscountCard `json:"discount_card,omitempty"`
	HasTransitPass bool         `json:"has_transit_pass"`
}

// Fingerprint returns a stable representation used in cache keys
func (t TravelerConfig) Fingerprint() string {
	return fmt.Sprintf("age=%d;card=%s;pass=%t", t.Age, t.DiscountCard, t.HasTransitPass)
}

// Offer is a raw priced connection as returned by a pricing source, before
// any traveler-specific overlay is applied
type Offer struct {
	Price              Cents
	Currency           string
	Departure          time.Time
	TransitPassCovered bool
}

// SegmentQuote is the priced result for the sub-route From -> To
type SegmentQuote struct {
	From                int       `json:"from"`
	To                  int       `json:"to"`
	Price               Cents     `json:"price_cents"`
	OriginalPrice       Cents     `json:"original_price_cents"`
	Currency            string    `json:"currency"`
	TransitPassEligible bool      `json:"transit_pass_eligible"`
	Departure           time.Time `json:"departure"`
}

// Ticket is one ticket of a plan, covering stops From..To
type Ticket struct {
	From     int          `json:"from"`
	To       int          `json:"to"`
	FromStop Stop         `json:"from_stop"`
	ToStop   Stop         `json:"to_stop"`
	Quote    SegmentQuote `json:"quote"`
	Direct   bool         `json:"direct"`
}

// TicketPlan is the optimizer output. Tickets always partition [0, N-1]:
// the first starts at 0, the last ends at N-1 and each ticket ends where
// the next one starts.
type TicketPlan struct {
	Tickets     []Ticket `json:"tickets"`
	Total       Cents    `json:"total_cents"`
	DirectPrice Cents    `json:"direct_price_cents"`
	Savings     Cents    `json:"savings_cents"`
	Recommended bool     `json:"recommended"`
	PathFound   bool     `json:"path_found"`
	BestSplit   Cents    `json:"best_split_cents"`
}

// BuildReport summarises a segment matrix build
type BuildReport struct {
	Total        int           `json:"total"`
	Priced       int           `json:"priced"`
	NoConnection int           `json:"no_connection"`
	Failed       int           `json:"failed"`
	Skipped      int           `json:"skipped"`
	Duration     time.Duration `json:"duration_ns"`
}

// Analysis is the full outcome of one split-ticket analysis run
type Analysis struct {
	ID         string         `json:"id"`
	CreatedAt  time.Time      `json:"created_at"`
	TravelDate time.Time      `json:"travel_date"`
	Traveler   TravelerConfig `json:"traveler"`
	Stops      []Stop         `json:"stops"`
	Plan       TicketPlan     `json:"plan"`
	Report     BuildReport    `json:"report"`
	Cancelled  bool           `json:"cancelled"`
}
