package discount

import "github.com/passbi/splitticket/internal/models"

// Apply turns a raw offer from the pricing source into the segment quote kept
// in the matrix. A connection the source flags as covered by the transit pass
// is priced at zero whenever the traveler holds one, whatever the quoted amount.
func Apply(offer models.Offer, traveler models.TravelerConfig, from, to int) models.SegmentQuote {
	quote := models.SegmentQuote{
		From:          from,
		To:            to,
		Price:         offer.Price,
		OriginalPrice: offer.Price,
		Currency:      offer.Currency,
		Departure:     offer.Departure,
	}

	if traveler.HasTransitPass && offer.TransitPassCovered {
		quote.Price = 0
		quote.TransitPassEligible = true
	}

	return quote
}
