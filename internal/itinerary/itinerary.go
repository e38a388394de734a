package itinerary

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/passbi/splitticket/internal/discount"
	"github.com/passbi/splitticket/internal/models"
	"gopkg.in/yaml.v3"
)

// DefaultTimezone is used when an itinerary does not name one
const DefaultTimezone = "Europe/Berlin"

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid itinerary")

// File is the on-disk (YAML) and on-the-wire (JSON) itinerary format.
// Stop times are "HH:MM", "HH:MM:SS" or RFC3339.
type File struct {
	Date        string        `yaml:"date" json:"date"`
	Timezone    string        `yaml:"timezone,omitempty" json:"timezone,omitempty"`
	DirectPrice *float64      `yaml:"direct_price,omitempty" json:"direct_price,omitempty"`
	Traveler    *TravelerFile `yaml:"traveler,omitempty" json:"traveler,omitempty"`
	Stops       []StopFile    `yaml:"stops" json:"stops"`
}

// TravelerFile overrides the default traveler
type TravelerFile struct {
	Age          *int   `yaml:"age,omitempty" json:"age,omitempty"`
	DiscountCard string `yaml:"discount_card,omitempty" json:"discount_card,omitempty"`
	TransitPass  *bool  `yaml:"transit_pass,omitempty" json:"transit_pass,omitempty"`
}

// StopFile is one stop as written by hand
type StopFile struct {
	ID        string `yaml:"id" json:"id"`
	Name      string `yaml:"name" json:"name"`
	Departure string `yaml:"departure,omitempty" json:"departure,omitempty"`
	Arrival   string `yaml:"arrival,omitempty" json:"arrival,omitempty"`
}

// Itinerary is a resolved, validated itinerary
type Itinerary struct {
	TravelDate  time.Time
	DirectPrice *models.Cents
	Traveler    models.TravelerConfig
	Stops       []models.Stop
}

// Load reads an itinerary YAML file
func Load(filePath string, defaults models.TravelerConfig) (*Itinerary, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file, defaults)
}

// Parse decodes a YAML itinerary and resolves it
func Parse(reader io.Reader, defaults models.TravelerConfig) (*Itinerary, error) {
	var f File
	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode itinerary: %w", err)
	}

	return f.Resolve(defaults)
}

// Resolve turns the file format into stops with absolute times
func (f File) Resolve(defaults models.TravelerConfig) (*Itinerary, error) {
	tz := f.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalid, tz)
	}

	date, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(f.Date), loc)
	if err != nil {
		return nil, fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalid, f.Date)
	}

	traveler, err := f.traveler(defaults)
	if err != nil {
		return nil, err
	}

	it := &Itinerary{
		TravelDate: date,
		Traveler:   traveler,
		Stops:      make([]models.Stop, 0, len(f.Stops)),
	}

	if f.DirectPrice != nil {
		if *f.DirectPrice < 0 {
			return nil, fmt.Errorf("%w: negative direct price", ErrInvalid)
		}
		price := models.CentsFromEuros(*f.DirectPrice)
		it.DirectPrice = &price
	}

	// Times only move forward; an earlier clock time means the train
	// passed midnight
	var last time.Time
	resolve := func(value string) (*time.Time, error) {
		if value == "" {
			return nil, nil
		}
		t, err := parseStopTime(value, date, loc)
		if err != nil {
			return nil, err
		}
		for !last.IsZero() && t.Before(last) && !isAbsolute(value) {
			t = t.AddDate(0, 0, 1)
		}
		last = t
		return &t, nil
	}

	for i, s := range f.Stops {
		stop := models.Stop{
			Index:     i,
			StationID: strings.TrimSpace(s.ID),
			Name:      s.Name,
		}

		if stop.ScheduledArrival, err = resolve(s.Arrival); err != nil {
			return nil, fmt.Errorf("%w: stop %d arrival: %v", ErrInvalid, i, err)
		}
		if stop.ScheduledDeparture, err = resolve(s.Departure); err != nil {
			return nil, fmt.Errorf("%w: stop %d departure: %v", ErrInvalid, i, err)
		}

		it.Stops = append(it.Stops, stop)
	}

	if err := Validate(it.Stops); err != nil {
		return nil, err
	}

	return it, nil
}

func (f File) traveler(defaults models.TravelerConfig) (models.TravelerConfig, error) {
	traveler := defaults
	if f.Traveler == nil {
		return traveler, nil
	}

	if f.Traveler.Age != nil {
		if *f.Traveler.Age < 0 {
			return traveler, fmt.Errorf("%w: negative age", ErrInvalid)
		}
		traveler.Age = *f.Traveler.Age
	}
	if f.Traveler.DiscountCard != "" {
		card, err := discount.ParseDiscountCard(f.Traveler.DiscountCard)
		if err != nil {
			return traveler, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		traveler.DiscountCard = card
	}
	if f.Traveler.TransitPass != nil {
		traveler.HasTransitPass = *f.Traveler.TransitPass
	}

	return traveler, nil
}

// Validate checks the invariants the engine relies on: at least two
// stops, dense indices starting at 0, station IDs present and a departure
// at the first stop.
func Validate(stops []models.Stop) error {
	if len(stops) < 2 {
		return fmt.Errorf("%w: need at least 2 stops, got %d", ErrInvalid, len(stops))
	}

	for i, stop := range stops {
		if stop.Index != i {
			return fmt.Errorf("%w: stop %d has index %d", ErrInvalid, i, stop.Index)
		}
		if stop.StationID == "" {
			return fmt.Errorf("%w: stop %d has no station id", ErrInvalid, i)
		}
	}

	if !stops[0].CanDepart() {
		return fmt.Errorf("%w: first stop %q has no departure time", ErrInvalid, stops[0].Name)
	}

	return nil
}

func parseStopTime(value string, date time.Time, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)

	if isAbsolute(value) {
		t, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return time.Time{}, err
		}
		return t.In(loc), nil
	}

	for _, layout := range []string{"15:04", "15:04:05"} {
		clock, err := time.Parse(layout, value)
		if err != nil {
			continue
		}
		return time.Date(date.Year(), date.Month(), date.Day(), clock.Hour(), clock.Minute(), clock.Second(), 0, loc), nil
	}

	return time.Time{}, fmt.Errorf("time %q is neither HH:MM nor RFC3339", value)
}

func isAbsolute(value string) bool {
	return strings.Contains(value, "T")
}
