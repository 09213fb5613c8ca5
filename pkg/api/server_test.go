package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/quickfixgo/quickfix"
	"github.com/shopspring/decimal"

	"github.com/mdeadwiler/pf-blotter-fix/pkg/blotter"
	"github.com/mdeadwiler/pf-blotter-fix/pkg/fix"
)

type nullTransport struct{}

func (nullTransport) Send(m quickfix.Messagable, sid quickfix.SessionID) error { return nil }

type env struct {
	engine  *blotter.Engine
	handler http.Handler
}

// newEnv wires a real engine through the real bridge and registry onto a
// transport that swallows messages, so handlers run the full command path.
func newEnv(t *testing.T) *env {
	t.Helper()
	registry := fix.NewRegistry(nullTransport{}, nil)
	registry.Register("S1", quickfix.SessionID{
		BeginString: "FIX.4.4", SenderCompID: "BLOTTER", TargetCompID: "S1",
	})
	engine := blotter.NewEngine(blotter.EngineOpts{
		Outbound:           fix.NewBridge(registry),
		ReassociateOnLogon: true,
	})
	server := NewServer(ServerOpts{Engine: engine, Registry: registry})
	return &env{engine: engine, handler: server.Handler()}
}

func (e *env) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body == "" {
		rdr = bytes.NewReader(nil)
	} else {
		rdr = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeErr(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&er); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return er
}

const aaplOrder = `{"symbol":"AAPL","side":"BUY","quantity":100,"order_type":"LIMIT","price":150.00,"time_in_force":"DAY","session_id":"S1"}`

func TestSubmitAndFetchOrder(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, "POST", "/orders", aaplOrder)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /orders = %d, body %s", rec.Code, rec.Body)
	}
	var resp SubmitOrderResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ClOrdID == "" {
		t.Fatal("no client_order_id assigned")
	}

	rec = e.do(t, "GET", "/orders/"+resp.ClOrdID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET = %d", rec.Code)
	}
	var view OrderView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Status != "PENDING" || view.Symbol != "AAPL" || view.Side != "BUY" {
		t.Fatalf("view = %+v", view)
	}
}

func TestEndToEndFillScenario(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, "POST", "/orders", aaplOrder)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST = %d", rec.Code)
	}
	var resp SubmitOrderResponse
	json.NewDecoder(rec.Body).Decode(&resp)

	// The counterparty acks then fills the whole order.
	e.engine.Apply(blotter.Event{
		Type: blotter.EvAck, SessionID: "S1", SeqNum: 1,
		ClOrdID: resp.ClOrdID, OrderID: "ORD1",
	})
	e.engine.Apply(blotter.Event{
		Type: blotter.EvFill, SessionID: "S1", SeqNum: 2,
		ClOrdID: resp.ClOrdID, ExecID: "E1",
		LastQty: decimal.NewFromInt(100), LastPx: decimal.RequireFromString("150.00"),
	})

	rec = e.do(t, "GET", "/orders/"+resp.ClOrdID, "")
	var view OrderView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Status != "FILLED" {
		t.Fatalf("status = %s, want FILLED", view.Status)
	}
	if len(view.Executions) != 1 || !view.Executions[0].Quantity.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("executions = %+v", view.Executions)
	}
}

func TestListOrders(t *testing.T) {
	e := newEnv(t)
	e.do(t, "POST", "/orders", aaplOrder)
	e.do(t, "POST", "/orders", strings.Replace(aaplOrder, "AAPL", "MSFT", 1))

	rec := e.do(t, "GET", "/orders", "")
	var views []OrderView
	if err := json.NewDecoder(rec.Body).Decode(&views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("orders = %d, want 2", len(views))
	}
	if views[0].Symbol != "AAPL" || views[1].Symbol != "MSFT" {
		t.Fatalf("order of orders wrong: %s, %s", views[0].Symbol, views[1].Symbol)
	}
}

func TestGetUnknownOrder(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, "GET", "/orders/NOPE", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", rec.Code)
	}
	if er := decodeErr(t, rec); er.ErrorCode != "UnknownOrder" {
		t.Fatalf("error_code = %s", er.ErrorCode)
	}
}

func TestSubmitValidationErrors(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"bad side", `{"symbol":"AAPL","side":"LONG","quantity":1,"order_type":"LIMIT","price":1,"session_id":"S1"}`, "ValidationError"},
		{"bad type", `{"symbol":"AAPL","side":"BUY","quantity":1,"order_type":"STOP","price":1,"session_id":"S1"}`, "ValidationError"},
		{"zero qty", `{"symbol":"AAPL","side":"BUY","quantity":0,"order_type":"LIMIT","price":1,"time_in_force":"DAY","session_id":"S1"}`, "ValidationError"},
		{"not json", `{{{`, "ValidationError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, "POST", "/orders", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("code = %d, want 400", rec.Code)
			}
			if er := decodeErr(t, rec); er.ErrorCode != tt.code {
				t.Fatalf("error_code = %s, want %s", er.ErrorCode, tt.code)
			}
		})
	}
}

func TestSubmitToDownSession(t *testing.T) {
	e := newEnv(t)
	body := strings.Replace(aaplOrder, `"S1"`, `"S2"`, 1)
	rec := e.do(t, "POST", "/orders", body)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503", rec.Code)
	}
	if er := decodeErr(t, rec); er.ErrorCode != "SessionUnavailable" {
		t.Fatalf("error_code = %s", er.ErrorCode)
	}
}

func TestDuplicateClientOrderID(t *testing.T) {
	e := newEnv(t)
	body := strings.Replace(aaplOrder, `"session_id"`, `"client_order_id":"X1","session_id"`, 1)
	if rec := e.do(t, "POST", "/orders", body); rec.Code != http.StatusAccepted {
		t.Fatalf("first submit = %d", rec.Code)
	}
	rec := e.do(t, "POST", "/orders", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("code = %d, want 409", rec.Code)
	}
	if er := decodeErr(t, rec); er.ErrorCode != "DuplicateClientOrderId" {
		t.Fatalf("error_code = %s", er.ErrorCode)
	}
}

func TestCancelEndpoint(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, "POST", "/orders", aaplOrder)
	var resp SubmitOrderResponse
	json.NewDecoder(rec.Body).Decode(&resp)

	// Still pending: not cancellable yet.
	rec = e.do(t, "DELETE", "/orders/"+resp.ClOrdID, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("cancel pending = %d, want 409", rec.Code)
	}

	e.engine.Apply(blotter.Event{Type: blotter.EvAck, SessionID: "S1", SeqNum: 1, ClOrdID: resp.ClOrdID})
	rec = e.do(t, "DELETE", "/orders/"+resp.ClOrdID, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("cancel acked = %d, want 202", rec.Code)
	}

	rec = e.do(t, "DELETE", "/orders/NOPE", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cancel unknown = %d, want 404", rec.Code)
	}
}

func TestReplaceEndpoint(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, "POST", "/orders", aaplOrder)
	var resp SubmitOrderResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	e.engine.Apply(blotter.Event{Type: blotter.EvAck, SessionID: "S1", SeqNum: 1, ClOrdID: resp.ClOrdID})

	rec = e.do(t, "PUT", "/orders/"+resp.ClOrdID, `{"quantity":120,"price":149.50}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("replace = %d, body %s", rec.Code, rec.Body)
	}

	rec = e.do(t, "PUT", "/orders/"+resp.ClOrdID, `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty replace = %d, want 400", rec.Code)
	}
}

func TestStatsAndSessions(t *testing.T) {
	e := newEnv(t)
	e.do(t, "POST", "/orders", aaplOrder)

	rec := e.do(t, "GET", "/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats = %d", rec.Code)
	}
	var stats blotter.Stats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.TotalOrders != 1 {
		t.Fatalf("totalOrders = %d, want 1", stats.TotalOrders)
	}

	rec = e.do(t, "GET", "/sessions", "")
	var sessions []fix.Handle
	if err := json.NewDecoder(rec.Body).Decode(&sessions); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sessions) != 1 || sessions[0].LogicalID != "S1" || !sessions[0].Up {
		t.Fatalf("sessions = %+v", sessions)
	}
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, "GET", "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}
}

func TestOrderRateLimit(t *testing.T) {
	registry := fix.NewRegistry(nullTransport{}, nil)
	registry.Register("S1", quickfix.SessionID{BeginString: "FIX.4.4", SenderCompID: "BLOTTER", TargetCompID: "S1"})
	engine := blotter.NewEngine(blotter.EngineOpts{Outbound: fix.NewBridge(registry)})
	server := NewServer(ServerOpts{Engine: engine, Registry: registry, OrdersPerMin: 2, CancelsPerMin: 2})
	e := &env{engine: engine, handler: server.Handler()}

	for i := 0; i < 2; i++ {
		if rec := e.do(t, "POST", "/orders", aaplOrder); rec.Code != http.StatusAccepted {
			t.Fatalf("submit %d = %d", i, rec.Code)
		}
	}
	rec := e.do(t, "POST", "/orders", aaplOrder)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("code = %d, want 429", rec.Code)
	}
	if er := decodeErr(t, rec); er.ErrorCode != "RateLimited" {
		t.Fatalf("error_code = %s", er.ErrorCode)
	}
}

// Spoofed X-Forwarded-For headers must not reset the budget when the server
// is not configured behind a trusted proxy.
func TestRateLimitIgnoresForwardedHeader(t *testing.T) {
	registry := fix.NewRegistry(nullTransport{}, nil)
	registry.Register("S1", quickfix.SessionID{BeginString: "FIX.4.4", SenderCompID: "BLOTTER", TargetCompID: "S1"})
	engine := blotter.NewEngine(blotter.EngineOpts{Outbound: fix.NewBridge(registry)})
	server := NewServer(ServerOpts{Engine: engine, Registry: registry, OrdersPerMin: 2, CancelsPerMin: 2})
	handler := server.Handler()

	submit := func(forwardedFor string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/orders", strings.NewReader(aaplOrder))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", forwardedFor)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := submit(fmt.Sprintf("10.0.0.%d", i)); rec.Code != http.StatusAccepted {
			t.Fatalf("submit %d = %d", i, rec.Code)
		}
	}
	rec := submit("10.0.0.99")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("code = %d, want 429", rec.Code)
	}
}

func TestTrustedProxyHonorsForwardedHeader(t *testing.T) {
	server := NewServer(ServerOpts{TrustProxy: true})
	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := server.clientIP(req); got != "203.0.113.7" {
		t.Fatalf("clientIP = %s, want first forwarded hop", got)
	}
	req.Header.Del("X-Forwarded-For")
	if got := server.clientIP(req); got != "192.0.2.1" {
		t.Fatalf("clientIP = %s, want peer host", got)
	}
}
