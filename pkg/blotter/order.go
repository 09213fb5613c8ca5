package blotter

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = 2
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	}
	return "UNKNOWN"
}

// ParseSide accepts both the JSON spelling and the raw FIX char.
func ParseSide(s string) (Side, bool) {
	switch s {
	case "BUY", "Buy", "buy", "1":
		return Buy, true
	case "SELL", "Sell", "sell", "2":
		return Sell, true
	}
	return 0, false
}

type OrdType int8

const (
	Limit OrdType = iota
	Market
)

func (t OrdType) String() string {
	if t == Market {
		return "MARKET"
	}
	return "LIMIT"
}

func ParseOrdType(s string) (OrdType, bool) {
	switch s {
	case "LIMIT", "Limit", "limit", "2":
		return Limit, true
	case "MARKET", "Market", "market", "1":
		return Market, true
	}
	return 0, false
}

type TimeInForce int8

const (
	Day TimeInForce = iota
	GTC
	IOC
	FOK
)

func (t TimeInForce) String() string {
	switch t {
	case GTC:
		return "GTC"
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	}
	return "DAY"
}

func ParseTimeInForce(s string) (TimeInForce, bool) {
	switch s {
	case "DAY", "", "0":
		return Day, true
	case "GTC", "1":
		return GTC, true
	case "IOC", "3":
		return IOC, true
	case "FOK", "4":
		return FOK, true
	}
	return 0, false
}

// Status is the order lifecycle state. Pending means the NewOrderSingle has
// been handed to the session but no ExecutionReport has come back yet.
type Status int8

const (
	StatusPending Status = iota
	StatusAcknowledged
	StatusPartiallyFilled
	StatusFilled
	StatusCancelled
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusAcknowledged:
		return "ACKNOWLEDGED"
	case StatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case StatusFilled:
		return "FILLED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusRejected:
		return "REJECTED"
	}
	return "UNKNOWN"
}

// Terminal reports whether no further lifecycle transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// Open reports whether the order can still accept cancel/replace commands.
func (s Status) Open() bool {
	return s == StatusAcknowledged || s == StatusPartiallyFilled
}

// Execution is a single immutable fill against an order.
type Execution struct {
	ExecID    string          `json:"execId"`
	ClOrdID   string          `json:"clOrdId"`
	Qty       decimal.Decimal `json:"qty"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Order is the blotter record for one client order. The engine owns all
// instances; everything handed out crosses the boundary as a copy.
type Order struct {
	ClOrdID      string          `json:"clOrdId"`
	OrderID      string          `json:"orderId,omitempty"` // counterparty-assigned, absent until ack
	Symbol       string          `json:"symbol"`
	Side         Side            `json:"-"`
	OrdType      OrdType         `json:"-"`
	TIF          TimeInForce     `json:"-"`
	Qty          decimal.Decimal `json:"quantity"`
	LeavesQty    decimal.Decimal `json:"leavesQty"`
	CumQty       decimal.Decimal `json:"cumQty"`
	Price        decimal.Decimal `json:"price"`
	AvgPx        decimal.Decimal `json:"avgPx"`
	Status       Status          `json:"-"`
	RejectReason string          `json:"rejectReason,omitempty"`
	SessionID    string          `json:"sessionId"`
	Epoch        uint64          `json:"-"` // registry logon epoch at submit time
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	LatencyUs    int64           `json:"latencyUs,omitempty"` // submit -> first ack
	Executions   []Execution     `json:"executions"`
}

// clone deep-copies the order so callers never alias engine-owned state.
func (o *Order) clone() Order {
	cp := *o
	cp.Executions = append([]Execution(nil), o.Executions...)
	return cp
}

// canTransition encodes the lifecycle table. Replace confirmations are
// allowed from the same pair of open states as fills.
func canTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusAcknowledged || to == StatusRejected
	case StatusAcknowledged:
		return to == StatusPartiallyFilled || to == StatusFilled ||
			to == StatusCancelled || to == StatusRejected
	case StatusPartiallyFilled:
		return to == StatusPartiallyFilled || to == StatusFilled ||
			to == StatusCancelled
	}
	return false
}
