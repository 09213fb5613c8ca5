package blotter

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Stats are the blotter-wide aggregates served by GET /stats.
type Stats struct {
	TotalOrders     int `json:"totalOrders"`
	PendingOrders   int `json:"pendingOrders"`
	AckedOrders     int `json:"ackedOrders"`
	PartialOrders   int `json:"partialOrders"`
	FilledOrders    int `json:"filledOrders"`
	CancelledOrders int `json:"cancelledOrders"`
	RejectedOrders  int `json:"rejectedOrders"`

	TotalNotional  decimal.Decimal `json:"totalNotional"`
	FilledNotional decimal.Decimal `json:"filledNotional"`

	AvgLatencyUs int64 `json:"avgLatencyUs"`
	MinLatencyUs int64 `json:"minLatencyUs"`
	MaxLatencyUs int64 `json:"maxLatencyUs"`
	P99LatencyUs int64 `json:"p99LatencyUs"`

	OrphanEvents        uint64 `json:"orphanEvents"`
	DuplicateExecutions uint64 `json:"duplicateExecutions"`
}

// Stats computes aggregates over a consistent read of the order map.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := Stats{
		TotalNotional:       decimal.Zero,
		FilledNotional:      decimal.Zero,
		OrphanEvents:        e.orphans,
		DuplicateExecutions: e.duplicates,
	}

	latencies := make([]int64, 0, len(e.orders))
	for _, o := range e.orders {
		s.TotalOrders++
		switch o.Status {
		case StatusPending:
			s.PendingOrders++
		case StatusAcknowledged:
			s.AckedOrders++
		case StatusPartiallyFilled:
			s.PartialOrders++
		case StatusFilled:
			s.FilledOrders++
		case StatusCancelled:
			s.CancelledOrders++
		case StatusRejected:
			s.RejectedOrders++
		}

		s.TotalNotional = s.TotalNotional.Add(o.Price.Mul(o.Qty))
		if o.CumQty.IsPositive() {
			s.FilledNotional = s.FilledNotional.Add(o.AvgPx.Mul(o.CumQty))
		}
		if o.LatencyUs > 0 {
			latencies = append(latencies, o.LatencyUs)
		}
	}

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum int64
		for _, l := range latencies {
			sum += l
		}
		s.AvgLatencyUs = sum / int64(len(latencies))
		s.MinLatencyUs = latencies[0]
		s.MaxLatencyUs = latencies[len(latencies)-1]
		p99 := (len(latencies) * 99) / 100
		if p99 >= len(latencies) {
			p99 = len(latencies) - 1
		}
		s.P99LatencyUs = latencies[p99]
	}

	return s
}
