package blotter

import (
	"time"

	"github.com/shopspring/decimal"
)

// Commands flow HTTP -> engine -> translator -> session. They are transient;
// nothing here is persisted.

type NewOrder struct {
	ClOrdID   string // optional; engine allocates when empty
	SessionID string
	Symbol    string
	Side      Side
	OrdType   OrdType
	TIF       TimeInForce
	Qty       decimal.Decimal
	Price     decimal.Decimal // ignored for market orders
}

type CancelOrder struct {
	OrigClOrdID string
	ClOrdID     string // cancel request's own ID; engine derives when empty
}

type ReplaceOrder struct {
	OrigClOrdID string
	ClOrdID     string
	NewQty      decimal.Decimal // zero means keep
	NewPrice    decimal.Decimal // zero means keep
}

// EventType tags the inbound domain event variants.
type EventType int8

const (
	EvAck EventType = iota
	EvFill
	EvReject
	EvCancelConfirm
	EvCancelReject
	EvReplaceConfirm
)

func (t EventType) String() string {
	switch t {
	case EvAck:
		return "ACK"
	case EvFill:
		return "FILL"
	case EvReject:
		return "REJECT"
	case EvCancelConfirm:
		return "CANCEL_CONFIRM"
	case EvCancelReject:
		return "CANCEL_REJECT"
	case EvReplaceConfirm:
		return "REPLACE_CONFIRM"
	}
	return "UNKNOWN"
}

// Event is one translated inbound FIX application message. SeqNum is the
// session-level MsgSeqNum and is the ordering marker the engine re-sequences
// by; arrival order at the engine is not trusted.
type Event struct {
	Type      EventType
	SessionID string
	SeqNum    int

	ClOrdID string // primary order reference
	OrderID string // counterparty order ID, when present

	ExecID   string          // fills only; idempotency key
	LastQty  decimal.Decimal // fills only
	LastPx   decimal.Decimal // fills only
	NewQty   decimal.Decimal // replace confirms only
	NewPrice decimal.Decimal // replace confirms only
	Reason   string          // rejects only

	TransactTime time.Time
}
