package discount

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/passbi/splitticket/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDiscountCard(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		expected models.DiscountCard
		wantErr  bool
	}{
		{name: "Empty means no discount", code: "", expected: models.DiscountNone},
		{name: "Short code", code: "BC25_2", expected: models.Discount25Class2},
		{name: "Lower case", code: "bc50_1", expected: models.Discount50Class1},
		{name: "Long alias", code: "DISCOUNT50_CLASS2", expected: models.Discount50Class2},
		{name: "Unknown code", code: "BC100_1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card, err := ParseDiscountCard(tt.code)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, card)
		})
	}
}

func TestClassFor(t *testing.T) {
	tests := []struct {
		card     models.DiscountCard
		expected Class
	}{
		{models.DiscountNone, Class{Program: ProgramNone, FareClass: FareClassNone}},
		{models.Discount25Class1, Class{Program: ProgramBahnCard25, FareClass: FareClassFirst}},
		{models.Discount25Class2, Class{Program: ProgramBahnCard25, FareClass: FareClassSecond}},
		{models.Discount50Class1, Class{Program: ProgramBahnCard50, FareClass: FareClassFirst}},
		{models.Discount50Class2, Class{Program: ProgramBahnCard50, FareClass: FareClassSecond}},
	}

	for _, tt := range tests {
		t.Run(string(tt.card), func(t *testing.T) {
			class, err := ClassFor(tt.card)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, class)
		})
	}

	_, err := ClassFor("BOGUS")
	assert.Error(t, err)
}

func TestTravelerPayload(t *testing.T) {
	t.Run("Encodes discount class and age", func(t *testing.T) {
		payload, err := TravelerPayload(models.TravelerConfig{Age: 30, DiscountCard: models.Discount50Class2})
		require.NoError(t, err)

		data, err := json.Marshal(payload)
		require.NoError(t, err)
		assert.JSONEq(t, `[{"typ":"ERWACHSENER","ermaessigungen":[{"art":"BAHNCARD50","klasse":"KLASSE_2"}],"anzahl":1,"alter":[30]}]`, string(data))
	})

	t.Run("No discount and unknown age", func(t *testing.T) {
		payload, err := TravelerPayload(models.TravelerConfig{})
		require.NoError(t, err)
		require.Len(t, payload, 1)
		assert.Equal(t, []Class{{Program: ProgramNone, FareClass: FareClassNone}}, payload[0].Discounts)
		assert.Empty(t, payload[0].Ages)
		assert.NotNil(t, payload[0].Ages)
	})
}

func TestApply(t *testing.T) {
	departure := time.Date(2026, 10, 20, 8, 4, 0, 0, time.UTC)
	offer := models.Offer{
		Price:              models.CentsFromEuros(12.50),
		Currency:           "EUR",
		Departure:          departure,
		TransitPassCovered: true,
	}

	t.Run("Pass eligible segment is free", func(t *testing.T) {
		quote := Apply(offer, models.TravelerConfig{HasTransitPass: true}, 1, 3)
		assert.Equal(t, models.Cents(0), quote.Price)
		assert.Equal(t, models.Cents(1250), quote.OriginalPrice)
		assert.True(t, quote.TransitPassEligible)
		assert.Equal(t, 1, quote.From)
		assert.Equal(t, 3, quote.To)
		assert.Equal(t, departure, quote.Departure)
	})

	t.Run("Traveler without pass pays", func(t *testing.T) {
		quote := Apply(offer, models.TravelerConfig{}, 1, 3)
		assert.Equal(t, models.Cents(1250), quote.Price)
		assert.False(t, quote.TransitPassEligible)
	})

	t.Run("Uncovered connection pays even with pass", func(t *testing.T) {
		uncovered := offer
		uncovered.TransitPassCovered = false
		quote := Apply(uncovered, models.TravelerConfig{HasTransitPass: true}, 0, 1)
		assert.Equal(t, models.Cents(1250), quote.Price)
		assert.False(t, quote.TransitPassEligible)
	})
}
