package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/passbi/splitticket/internal/discount"
	"github.com/passbi/splitticket/internal/models"
)

const (
	// DefaultBahnURL is the bahn.de connection search endpoint
	DefaultBahnURL = "https://www.bahn.de/web/api/angebote/fahrplan"

	defaultUserAgent = "Mozilla/5.0"

	// transitPassAttribute marks a train section valid with the Deutschland-Ticket
	transitPassAttribute = "9G"

	bahnTimeLayout = "2006-01-02T15:04:05"
)

var productClasses = []string{
	"ICE",
	"EC_IC",
	"IR",
	"REGIONAL",
	"SBAHN",
	"BUS",
	"SCHIFF",
	"UBAHN",
	"TRAM",
	"ANRUFPFLICHTIG",
}

// BahnAdapter prices segments against the bahn.de connection search
type BahnAdapter struct {
	url        string
	userAgent  string
	httpClient *http.Client
}

// NewBahnAdapter creates an adapter. Empty url and userAgent fall back to
// the defaults, a nil httpClient to http.DefaultClient.
func NewBahnAdapter(url, userAgent string, httpClient *http.Client) *BahnAdapter {
	if url == "" {
		url = DefaultBahnURL
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &BahnAdapter{
		url:        url,
		userAgent:  userAgent,
		httpClient: httpClient,
	}
}

type bahnRequest struct {
	DepartureStop     string              `json:"abfahrtsHalt"`
	RequestTime       string              `json:"anfrageZeitpunkt"`
	ArrivalStop       string              `json:"ankunftsHalt"`
	SearchMode        string              `json:"ankunftSuche"`
	Class             string              `json:"klasse"`
	ProductClasses    []string            `json:"produktgattungen"`
	Travelers         []discount.Traveler `json:"reisende"`
	FastConnections   bool                `json:"schnelleVerbindungen"`
	TransitPassHolder bool                `json:"deutschlandTicketVorhanden"`
}

type bahnResponse struct {
	Connections []bahnConnection `json:"verbindungen"`
}

type bahnConnection struct {
	OfferPrice *struct {
		Amount   *float64 `json:"betrag"`
		Currency string   `json:"waehrung"`
	} `json:"angebotsPreis"`
	Sections []bahnSection `json:"verbindungsAbschnitte"`
}

type bahnSection struct {
	Halts []struct {
		Departure string `json:"abfahrtsZeitpunkt"`
	} `json:"halte"`
	Vehicle struct {
		Attributes []struct {
			Key string `json:"key"`
		} `json:"zugattribute"`
	} `json:"verkehrsmittel"`
}

// PriceSegment implements Adapter
func (a *BahnAdapter) PriceSegment(ctx context.Context, req SegmentRequest) (models.Offer, error) {
	if !req.Origin.CanDepart() {
		return models.Offer{}, fmt.Errorf("stop %d has no scheduled departure", req.Origin.Index)
	}

	travelers, err := discount.TravelerPayload(req.Traveler)
	if err != nil {
		return models.Offer{}, err
	}

	// The stop's own date, which is past TravelDate after a midnight rollover
	departure := req.Origin.ScheduledDeparture
	payload := bahnRequest{
		DepartureStop:     req.Origin.StationID,
		RequestTime:       departure.Format(bahnTimeLayout),
		ArrivalStop:       req.Destination.StationID,
		SearchMode:        "ABFAHRT",
		Class:             discount.FareClassSecond,
		ProductClasses:    productClasses,
		Travelers:         travelers,
		FastConnections:   true,
		TransitPassHolder: req.Traveler.HasTransitPass,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return models.Offer{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return models.Offer{}, err
	}
	httpReq.Header.Set("User-Agent", a.userAgent)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return models.Offer{}, ctx.Err()
		}
		return models.Offer{}, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return models.Offer{}, &RateLimitedError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())}
	case resp.StatusCode >= 500:
		return models.Offer{}, &TransientError{StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
	case resp.StatusCode >= 400:
		return models.Offer{}, fmt.Errorf("pricing source rejected request: %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) {
			return models.Offer{}, &TransientError{Err: err}
		}
		return models.Offer{}, err
	}

	var parsed bahnResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return models.Offer{}, fmt.Errorf("failed to decode pricing response: %w", err)
	}

	return parseOffer(parsed, req)
}

func parseOffer(resp bahnResponse, req SegmentRequest) (models.Offer, error) {
	if len(resp.Connections) == 0 {
		return models.Offer{}, ErrNoConnectionFound
	}
	connection := resp.Connections[0]

	offer := models.Offer{
		Currency:           "EUR",
		TransitPassCovered: coveredByTransitPass(connection),
	}

	if connection.OfferPrice != nil && connection.OfferPrice.Amount != nil {
		offer.Price = models.CentsFromEuros(*connection.OfferPrice.Amount)
		if connection.OfferPrice.Currency != "" {
			offer.Currency = connection.OfferPrice.Currency
		}
	} else if !(offer.TransitPassCovered && req.Traveler.HasTransitPass) {
		// Unpriced connections are only usable when the pass makes them free
		return models.Offer{}, ErrNoConnectionFound
	}

	departure, ok := firstDeparture(connection, req.Origin.ScheduledDeparture.Location())
	if !ok {
		return models.Offer{}, ErrNoConnectionFound
	}
	offer.Departure = departure

	return offer, nil
}

func coveredByTransitPass(connection bahnConnection) bool {
	for _, section := range connection.Sections {
		for _, attribute := range section.Vehicle.Attributes {
			if attribute.Key == transitPassAttribute {
				return true
			}
		}
	}
	return false
}

func firstDeparture(connection bahnConnection, loc *time.Location) (time.Time, bool) {
	if len(connection.Sections) == 0 || len(connection.Sections[0].Halts) == 0 {
		return time.Time{}, false
	}

	raw := connection.Sections[0].Halts[0].Departure
	if t, err := time.ParseInLocation(bahnTimeLayout, raw, loc); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP date
func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
