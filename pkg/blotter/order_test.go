package blotter

import "testing"

func TestLifecycleTable(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusAcknowledged, true},
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusFilled, false},
		{StatusPending, StatusCancelled, false},
		{StatusAcknowledged, StatusPartiallyFilled, true},
		{StatusAcknowledged, StatusFilled, true},
		{StatusAcknowledged, StatusCancelled, true},
		{StatusAcknowledged, StatusRejected, true},
		{StatusPartiallyFilled, StatusPartiallyFilled, true},
		{StatusPartiallyFilled, StatusFilled, true},
		{StatusPartiallyFilled, StatusCancelled, true},
		{StatusPartiallyFilled, StatusRejected, false},
		{StatusFilled, StatusCancelled, false},
		{StatusCancelled, StatusAcknowledged, false},
		{StatusRejected, StatusAcknowledged, false},
	}
	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("canTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestTerminalAndOpen(t *testing.T) {
	for _, s := range []Status{StatusFilled, StatusCancelled, StatusRejected} {
		if !s.Terminal() || s.Open() {
			t.Errorf("%s: terminal=%v open=%v", s, s.Terminal(), s.Open())
		}
	}
	for _, s := range []Status{StatusAcknowledged, StatusPartiallyFilled} {
		if s.Terminal() || !s.Open() {
			t.Errorf("%s: terminal=%v open=%v", s, s.Terminal(), s.Open())
		}
	}
	if StatusPending.Terminal() || StatusPending.Open() {
		t.Error("PENDING must be neither terminal nor open")
	}
}

func TestParseHelpers(t *testing.T) {
	if s, ok := ParseSide("1"); !ok || s != Buy {
		t.Errorf("ParseSide(1) = %v/%v", s, ok)
	}
	if s, ok := ParseSide("sell"); !ok || s != Sell {
		t.Errorf("ParseSide(sell) = %v/%v", s, ok)
	}
	if _, ok := ParseSide("LONG"); ok {
		t.Error("ParseSide accepted LONG")
	}
	if ot, ok := ParseOrdType("MARKET"); !ok || ot != Market {
		t.Errorf("ParseOrdType(MARKET) = %v/%v", ot, ok)
	}
	if tif, ok := ParseTimeInForce(""); !ok || tif != Day {
		t.Errorf("empty TIF should default to DAY, got %v/%v", tif, ok)
	}
	if _, ok := ParseTimeInForce("GTD"); ok {
		t.Error("ParseTimeInForce accepted GTD")
	}
}
