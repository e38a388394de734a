package analysis

import (
	"fmt"
	"io"

	"github.com/passbi/splitticket/internal/models"
)

// TicketSummary is one ticket in display form
type TicketSummary struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Departure   string `json:"departure,omitempty"`
	Price       string `json:"price"`
	TransitPass bool   `json:"transit_pass"`
}

// Summary is the human-facing view of an analysis: amounts are in euros
type Summary struct {
	ID          string          `json:"id"`
	DirectPrice string          `json:"direct_price"`
	BestSplit   string          `json:"best_split,omitempty"`
	Total       string          `json:"total"`
	Savings     string          `json:"savings"`
	Recommended bool            `json:"recommended"`
	Cancelled   bool            `json:"cancelled"`
	Tickets     []TicketSummary `json:"tickets"`
	Report      BuildSummary    `json:"report"`
}

// BuildSummary counts the segments of the matrix build
type BuildSummary struct {
	Segments     int    `json:"segments"`
	Priced       int    `json:"priced"`
	NoConnection int    `json:"no_connection"`
	Failed       int    `json:"failed"`
	Skipped      int    `json:"skipped"`
	Duration     string `json:"duration"`
}

// Summarize converts an analysis for display
func Summarize(a *models.Analysis) Summary {
	s := Summary{
		ID:          a.ID,
		DirectPrice: a.Plan.DirectPrice.String(),
		Total:       a.Plan.Total.String(),
		Savings:     a.Plan.Savings.String(),
		Recommended: a.Plan.Recommended,
		Cancelled:   a.Cancelled,
		Tickets:     make([]TicketSummary, 0, len(a.Plan.Tickets)),
		Report: BuildSummary{
			Segments:     a.Report.Total,
			Priced:       a.Report.Priced,
			NoConnection: a.Report.NoConnection,
			Failed:       a.Report.Failed,
			Skipped:      a.Report.Skipped,
			Duration:     a.Report.Duration.String(),
		},
	}
	if a.Plan.PathFound {
		s.BestSplit = a.Plan.BestSplit.String()
	}

	for _, ticket := range a.Plan.Tickets {
		t := TicketSummary{
			From:        stationName(ticket.FromStop),
			To:          stationName(ticket.ToStop),
			Price:       ticket.Quote.Price.String(),
			TransitPass: ticket.Quote.TransitPassEligible,
		}
		if !ticket.Quote.Departure.IsZero() {
			t.Departure = ticket.Quote.Departure.Format("15:04")
		}
		s.Tickets = append(s.Tickets, t)
	}

	return s
}

// Print writes the summary as plain text
func (s Summary) Print(w io.Writer) {
	fmt.Fprintf(w, "Direct ticket:   %s EUR\n", s.DirectPrice)
	if s.BestSplit != "" {
		fmt.Fprintf(w, "Best split:      %s EUR\n", s.BestSplit)
	} else {
		fmt.Fprintln(w, "Best split:      no complete split found")
	}

	if s.Recommended {
		fmt.Fprintf(w, "Savings:         %s EUR with %d tickets\n", s.Savings, len(s.Tickets))
	} else {
		fmt.Fprintln(w, "Savings:         none, buy the direct ticket")
	}
	if s.Cancelled {
		fmt.Fprintln(w, "Note:            analysis was cancelled, not every segment was priced")
	}

	fmt.Fprintln(w)
	for i, t := range s.Tickets {
		marker := ""
		if t.TransitPass {
			marker = "  (transit pass)"
		}
		departure := t.Departure
		if departure == "" {
			departure = "--:--"
		}
		fmt.Fprintf(w, "%2d. %s  %s -> %s  %s EUR%s\n", i+1, departure, t.From, t.To, t.Price, marker)
	}

	fmt.Fprintf(w, "\n%d of %d segments priced (%d without connection, %d failed, %d skipped) in %s\n",
		s.Report.Priced, s.Report.Segments, s.Report.NoConnection, s.Report.Failed, s.Report.Skipped, s.Report.Duration)
}

func stationName(stop models.Stop) string {
	if stop.Name != "" {
		return stop.Name
	}
	return stop.StationID
}
