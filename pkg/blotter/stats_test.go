package blotter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mdeadwiler/pf-blotter-fix/pkg/util"
)

func TestStatsAggregates(t *testing.T) {
	out := newFakeOutbound()
	clock := util.NewManualClock(time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC))
	e := NewEngine(EngineOpts{Outbound: out, Clock: clock, ReassociateOnLogon: true})

	// One filled, one acknowledged, one rejected by the counterparty.
	a := mustSubmit(t, e, limitOrder("A"))
	b := mustSubmit(t, e, limitOrder("B"))
	c := mustSubmit(t, e, limitOrder("C"))

	clock.Advance(250 * time.Microsecond)
	e.Apply(ack(a, "ORD1", 1))
	clock.Advance(500 * time.Microsecond)
	e.Apply(ack(b, "ORD2", 2))
	e.Apply(Event{Type: EvReject, SessionID: "S1", SeqNum: 3, ClOrdID: c, Reason: "no"})
	e.Apply(fill(a, "E1", 4, "100", "150.00"))

	s := e.Stats()
	require.Equal(t, 3, s.TotalOrders)
	require.Equal(t, 1, s.FilledOrders)
	require.Equal(t, 1, s.AckedOrders)
	require.Equal(t, 1, s.RejectedOrders)
	require.Equal(t, 0, s.PendingOrders)

	// 3 limit orders at 100 x 150.00 each.
	require.True(t, s.TotalNotional.Equal(dec("45000")), "totalNotional = %s", s.TotalNotional)
	require.True(t, s.FilledNotional.Equal(dec("15000")), "filledNotional = %s", s.FilledNotional)

	// Ack latencies: 250us for A, 750us for B.
	require.EqualValues(t, 250, s.MinLatencyUs)
	require.EqualValues(t, 750, s.MaxLatencyUs)
	require.EqualValues(t, 500, s.AvgLatencyUs)
}

func TestStatsOnEmptyBlotter(t *testing.T) {
	e := newTestEngine(t, newFakeOutbound())
	s := e.Stats()
	require.Zero(t, s.TotalOrders)
	require.Zero(t, s.MinLatencyUs)
	require.True(t, s.TotalNotional.IsZero())
}
