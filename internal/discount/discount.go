package discount

import (
	"fmt"
	"strings"

	"github.com/passbi/splitticket/internal/models"
)

// Program and fare class values understood by the pricing source
const (
	ProgramNone       = "KEINE_ERMAESSIGUNG"
	ProgramBahnCard25 = "BAHNCARD25"
	ProgramBahnCard50 = "BAHNCARD50"

	FareClassNone   = "KLASSENLOS"
	FareClassFirst  = "KLASSE_1"
	FareClassSecond = "KLASSE_2"

	travelerTypeAdult = "ERWACHSENER"
)

// Class is the (program, fare class) pair a discount card maps to
type Class struct {
	Program   string `json:"art"`
	FareClass string `json:"klasse"`
}

var classes = map[models.DiscountCard]Class{
	models.DiscountNone:     {Program: ProgramNone, FareClass: FareClassNone},
	models.Discount25Class1: {Program: ProgramBahnCard25, FareClass: FareClassFirst},
	models.Discount25Class2: {Program: ProgramBahnCard25, FareClass: FareClassSecond},
	models.Discount50Class1: {Program: ProgramBahnCard50, FareClass: FareClassFirst},
	models.Discount50Class2: {Program: ProgramBahnCard50, FareClass: FareClassSecond},
}

var aliases = map[string]models.DiscountCard{
	"":                  models.DiscountNone,
	"NONE":              models.DiscountNone,
	"BC25_1":            models.Discount25Class1,
	"BC25_2":            models.Discount25Class2,
	"BC50_1":            models.Discount50Class1,
	"BC50_2":            models.Discount50Class2,
	"DISCOUNT25_CLASS1": models.Discount25Class1,
	"DISCOUNT25_CLASS2": models.Discount25Class2,
	"DISCOUNT50_CLASS1": models.Discount50Class1,
	"DISCOUNT50_CLASS2": models.Discount50Class2,
}

// ParseDiscountCard parses a user supplied discount card code.
// Unknown codes are rejected.
func ParseDiscountCard(code string) (models.DiscountCard, error) {
	card, ok := aliases[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return models.DiscountNone, fmt.Errorf("unknown discount card %q", code)
	}
	return card, nil
}

// ClassFor returns the discount class encoded for a card
func ClassFor(card models.DiscountCard) (Class, error) {
	class, ok := classes[card]
	if !ok {
		return Class{}, fmt.Errorf("unknown discount card %q", card)
	}
	return class, nil
}

// Cards lists the supported discount cards, excluding "no discount"
func Cards() []models.DiscountCard {
	return []models.DiscountCard{
		models.Discount25Class1,
		models.Discount25Class2,
		models.Discount50Class1,
		models.Discount50Class2,
	}
}

// Traveler is one entry of the outgoing "reisende" request array
type Traveler struct {
	Type      string  `json:"typ"`
	Discounts []Class `json:"ermaessigungen"`
	Count     int     `json:"anzahl"`
	Ages      []int   `json:"alter"`
}

// TravelerPayload encodes the traveler configuration into the request payload
// sent to the pricing source
func TravelerPayload(t models.TravelerConfig) ([]Traveler, error) {
	class, err := ClassFor(t.DiscountCard)
	if err != nil {
		return nil, err
	}

	ages := []int{}
	if t.Age > 0 {
		ages = append(ages, t.Age)
	}

	return []Traveler{
		{
			Type:      travelerTypeAdult,
			Discounts: []Class{class},
			Count:     1,
			Ages:      ages,
		},
	}, nil
}
