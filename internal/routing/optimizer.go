package routing

import (
	"math"

	"github.com/passbi/splitticket/internal/graph"
	"github.com/passbi/splitticket/internal/models"
)

const unreachable = models.Cents(math.MaxInt64)

// Optimize finds the cheapest sequence of tickets from the first to the last
// stop using the priced segments of matrix, and compares it with directPrice.
//
// The matrix is a DAG over stop indices, so a single pass in index order is
// enough: bestCost[k] is the cheapest way to reach stop k and predecessor[k]
// the stop the last ticket starts from. Equal costs keep the lowest
// predecessor index.
//
// The split is recommended only when it is strictly cheaper than the direct
// ticket. Otherwise the plan holds the direct ticket alone. Optimize freezes
// the matrix and never fails.
func Optimize(stops []models.Stop, matrix *graph.SegmentMatrix, directPrice models.Cents) models.TicketPlan {
	n := len(stops)
	plan := models.TicketPlan{
		Tickets:     []models.Ticket{},
		Total:       directPrice,
		DirectPrice: directPrice,
	}
	if n < 2 {
		return plan
	}
	if matrix == nil {
		matrix = graph.NewSegmentMatrix(n)
	}
	matrix.Freeze()

	bestCost := make([]models.Cents, n)
	predecessor := make([]int, n)
	for k := range bestCost {
		bestCost[k] = unreachable
		predecessor[k] = -1
	}
	bestCost[0] = 0

	for k := 1; k < n; k++ {
		for i := 0; i < k; i++ {
			if bestCost[i] == unreachable {
				continue
			}
			quote, ok := matrix.Get(i, k)
			if !ok {
				continue
			}
			if cost := bestCost[i] + quote.Price; cost < bestCost[k] {
				bestCost[k] = cost
				predecessor[k] = i
			}
		}
	}

	if bestCost[n-1] != unreachable {
		plan.PathFound = true
		plan.BestSplit = bestCost[n-1]
	}

	if plan.PathFound && plan.BestSplit < directPrice {
		plan.Tickets = reconstruct(stops, matrix, predecessor)
		plan.Total = plan.BestSplit
		plan.Savings = directPrice - plan.BestSplit
		plan.Recommended = true
		return plan
	}

	plan.Tickets = []models.Ticket{directTicket(stops, matrix, directPrice)}
	return plan
}

// reconstruct walks the predecessors back from the last stop
func reconstruct(stops []models.Stop, matrix *graph.SegmentMatrix, predecessor []int) []models.Ticket {
	var tickets []models.Ticket
	for to := len(stops) - 1; to > 0; to = predecessor[to] {
		from := predecessor[to]
		quote, _ := matrix.Get(from, to)
		tickets = append(tickets, models.Ticket{
			From:     from,
			To:       to,
			FromStop: stops[from],
			ToStop:   stops[to],
			Quote:    quote,
		})
	}

	for i, j := 0, len(tickets)-1; i < j; i, j = i+1, j-1 {
		tickets[i], tickets[j] = tickets[j], tickets[i]
	}
	return tickets
}

func directTicket(stops []models.Stop, matrix *graph.SegmentMatrix, directPrice models.Cents) models.Ticket {
	last := len(stops) - 1

	quote, ok := matrix.Get(0, last)
	if !ok {
		quote = models.SegmentQuote{
			From:          0,
			To:            last,
			OriginalPrice: directPrice,
			Currency:      "EUR",
		}
		if stops[0].ScheduledDeparture != nil {
			quote.Departure = *stops[0].ScheduledDeparture
		}
	}
	quote.Price = directPrice

	return models.Ticket{
		From:     0,
		To:       last,
		FromStop: stops[0],
		ToStop:   stops[last],
		Quote:    quote,
		Direct:   true,
	}
}
