package api

import (
	"github.com/shopspring/decimal"

	"github.com/mdeadwiler/pf-blotter-fix/pkg/blotter"
)

// SubmitOrderRequest is the POST /orders body.
type SubmitOrderRequest struct {
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	OrderType   string          `json:"order_type"`
	TimeInForce string          `json:"time_in_force"`
	SessionID   string          `json:"session_id"`
	ClOrdID     string          `json:"client_order_id,omitempty"`
}

// SubmitOrderResponse acknowledges command acceptance, not execution.
type SubmitOrderResponse struct {
	ClOrdID string `json:"client_order_id"`
	Status  string `json:"status"`
}

// ReplaceOrderRequest is the PUT /orders/{client_order_id} body.
type ReplaceOrderRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type ExecutionView struct {
	ExecID    string          `json:"exec_id"`
	ClOrdID   string          `json:"client_order_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Timestamp string          `json:"timestamp"`
}

type OrderView struct {
	ClOrdID      string          `json:"client_order_id"`
	OrderID      string          `json:"order_id,omitempty"`
	Symbol       string          `json:"symbol"`
	Side         string          `json:"side"`
	OrderType    string          `json:"order_type"`
	TimeInForce  string          `json:"time_in_force"`
	Quantity     decimal.Decimal `json:"quantity"`
	LeavesQty    decimal.Decimal `json:"leaves_qty"`
	CumQty       decimal.Decimal `json:"cum_qty"`
	Price        decimal.Decimal `json:"price"`
	AvgPx        decimal.Decimal `json:"avg_px"`
	Status       string          `json:"status"`
	RejectReason string          `json:"reject_reason,omitempty"`
	SessionID    string          `json:"session_id"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
	LatencyUs    int64           `json:"ack_latency_us,omitempty"`
	Executions   []ExecutionView `json:"executions"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// OrderUpdate is pushed to websocket subscribers of the "orders" channel.
type OrderUpdate struct {
	Type  string    `json:"type"`
	Order OrderView `json:"order"`
}

// WSSubscribeRequest is the client -> server subscription message.
type WSSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

func toOrderView(ord blotter.Order) OrderView {
	execs := make([]ExecutionView, len(ord.Executions))
	for i, ex := range ord.Executions {
		execs[i] = ExecutionView{
			ExecID:    ex.ExecID,
			ClOrdID:   ex.ClOrdID,
			Quantity:  ex.Qty,
			Price:     ex.Price,
			Timestamp: ex.Timestamp.UTC().Format(timeLayout),
		}
	}
	return OrderView{
		ClOrdID:      ord.ClOrdID,
		OrderID:      ord.OrderID,
		Symbol:       ord.Symbol,
		Side:         ord.Side.String(),
		OrderType:    ord.OrdType.String(),
		TimeInForce:  ord.TIF.String(),
		Quantity:     ord.Qty,
		LeavesQty:    ord.LeavesQty,
		CumQty:       ord.CumQty,
		Price:        ord.Price,
		AvgPx:        ord.AvgPx,
		Status:       ord.Status.String(),
		RejectReason: ord.RejectReason,
		SessionID:    ord.SessionID,
		CreatedAt:    ord.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:    ord.UpdatedAt.UTC().Format(timeLayout),
		LatencyUs:    ord.LatencyUs,
		Executions:   execs,
	}
}
