package api

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/mdeadwiler/pf-blotter-fix/pkg/audit"
	"github.com/mdeadwiler/pf-blotter-fix/pkg/blotter"
	"github.com/mdeadwiler/pf-blotter-fix/pkg/fix"
)

const maxBodyBytes = 64 << 10

// Server is the HTTP face of the blotter. It holds no order state of its
// own; every handler is a thin adapter over the engine, registry or journal.
type Server struct {
	engine   *blotter.Engine
	registry *fix.Registry
	journal  *audit.Journal
	router   *mux.Router
	hub      *Hub
	limits   *ipLimits

	trustProxy bool
}

type ServerOpts struct {
	Engine   *blotter.Engine
	Registry *fix.Registry
	Journal  *audit.Journal // optional

	// Per-IP command budgets, per minute. Zero disables limiting.
	OrdersPerMin  int
	CancelsPerMin int

	// TrustProxy keys rate limits on X-Forwarded-For instead of the peer
	// address. Leave false unless a trusted proxy fronts the server.
	TrustProxy bool
}

func NewServer(opts ServerOpts) *Server {
	s := &Server{
		engine:   opts.Engine,
		registry: opts.Registry,
		journal:  opts.Journal,
		router:   mux.NewRouter(),
		hub:      NewHub(),
		limits:   newIPLimits(opts.OrdersPerMin, opts.CancelsPerMin),

		trustProxy: opts.TrustProxy,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/orders", s.handleListOrders).Methods("GET")
	s.router.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	s.router.HandleFunc("/orders/{client_order_id}", s.handleGetOrder).Methods("GET")
	s.router.HandleFunc("/orders/{client_order_id}", s.handleCancelOrder).Methods("DELETE")
	s.router.HandleFunc("/orders/{client_order_id}", s.handleReplaceOrder).Methods("PUT")

	s.router.HandleFunc("/stats", s.handleStats).Methods("GET")
	s.router.HandleFunc("/sessions", s.handleSessions).Methods("GET")
	s.router.HandleFunc("/audit/recent", s.handleAuditRecent).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the fully wrapped route tree. Split from Start so tests
// can drive it through httptest.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

func (s *Server) Start(addr string) error {
	log.Printf("[api] server starting on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// BroadcastOrder pushes an order update to websocket subscribers. Wired as
// the engine's OnUpdate callback.
func (s *Server) BroadcastOrder(ord blotter.Order) {
	s.hub.Publish("orders", OrderUpdate{Type: "order", Order: toOrderView(ord)})
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.engine.Snapshot()
	views := make([]OrderView, len(orders))
	for i, ord := range orders {
		views[i] = toOrderView(ord)
	}
	respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	clOrdID := mux.Vars(r)["client_order_id"]
	ord, ok := s.engine.Get(clOrdID)
	if !ok {
		respondError(w, http.StatusNotFound, string(blotter.CodeUnknownOrder), "no order "+clOrdID)
		return
	}
	respondJSON(w, http.StatusOK, toOrderView(ord))
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	if !s.limits.allowOrder(s.clientIP(r)) {
		respondError(w, http.StatusTooManyRequests, "RateLimited", "order rate limit exceeded")
		return
	}

	var req SubmitOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, string(blotter.CodeValidation), err.Error())
		return
	}

	side, ok := blotter.ParseSide(req.Side)
	if !ok {
		respondError(w, http.StatusBadRequest, string(blotter.CodeValidation), "bad side "+req.Side)
		return
	}
	ordType, ok := blotter.ParseOrdType(req.OrderType)
	if !ok {
		respondError(w, http.StatusBadRequest, string(blotter.CodeValidation), "bad order_type "+req.OrderType)
		return
	}
	tif, ok := blotter.ParseTimeInForce(req.TimeInForce)
	if !ok {
		respondError(w, http.StatusBadRequest, string(blotter.CodeValidation), "bad time_in_force "+req.TimeInForce)
		return
	}

	clOrdID, err := s.engine.Submit(blotter.NewOrder{
		ClOrdID:   req.ClOrdID,
		SessionID: req.SessionID,
		Symbol:    req.Symbol,
		Side:      side,
		OrdType:   ordType,
		TIF:       tif,
		Qty:       req.Quantity,
		Price:     req.Price,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	s.auditLog("ORDER_SUBMIT", clOrdID, req.Symbol+" "+req.Side+" "+req.Quantity.String())
	log.Printf("[api] order submitted: id=%s symbol=%s", clOrdID, req.Symbol)
	respondJSON(w, http.StatusAccepted, SubmitOrderResponse{ClOrdID: clOrdID, Status: "accepted"})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	if !s.limits.allowCancel(s.clientIP(r)) {
		respondError(w, http.StatusTooManyRequests, "RateLimited", "cancel rate limit exceeded")
		return
	}

	clOrdID := mux.Vars(r)["client_order_id"]
	if err := s.engine.Cancel(blotter.CancelOrder{OrigClOrdID: clOrdID}); err != nil {
		respondDomainError(w, err)
		return
	}

	s.auditLog("ORDER_CANCEL", clOrdID, "")
	log.Printf("[api] cancel submitted: id=%s", clOrdID)
	respondJSON(w, http.StatusAccepted, map[string]string{"client_order_id": clOrdID, "status": "accepted"})
}

func (s *Server) handleReplaceOrder(w http.ResponseWriter, r *http.Request) {
	if !s.limits.allowCancel(s.clientIP(r)) {
		respondError(w, http.StatusTooManyRequests, "RateLimited", "replace rate limit exceeded")
		return
	}

	clOrdID := mux.Vars(r)["client_order_id"]
	var req ReplaceOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, string(blotter.CodeValidation), err.Error())
		return
	}
	if req.Quantity.IsZero() && req.Price.IsZero() {
		respondError(w, http.StatusBadRequest, string(blotter.CodeValidation), "replace needs quantity or price")
		return
	}

	if err := s.engine.Replace(blotter.ReplaceOrder{
		OrigClOrdID: clOrdID,
		NewQty:      req.Quantity,
		NewPrice:    req.Price,
	}); err != nil {
		respondDomainError(w, err)
		return
	}

	s.auditLog("ORDER_REPLACE", clOrdID, "")
	log.Printf("[api] replace submitted: id=%s", clOrdID)
	respondJSON(w, http.StatusAccepted, map[string]string{"client_order_id": clOrdID, "status": "accepted"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.registry.Sessions())
}

func (s *Server) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		respondJSON(w, http.StatusOK, []audit.Record{})
		return
	}
	records, err := s.journal.Recent(100)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "AuditUnavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

// clientIP is the rate-limit key. X-Forwarded-For is client-controlled, so
// it is only honored when the server is configured as sitting behind a
// trusted proxy; otherwise the peer address wins.
func (s *Server) clientIP(r *http.Request) string {
	if s.trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			if i := strings.IndexByte(fwd, ','); i >= 0 {
				fwd = fwd[:i]
			}
			return strings.TrimSpace(fwd)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{ErrorCode: code, Message: message})
}

// respondDomainError maps taxonomy codes onto HTTP statuses.
func respondDomainError(w http.ResponseWriter, err error) {
	code := blotter.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case blotter.CodeValidation, blotter.CodeMalformedField, blotter.CodeUnsupportedMsgType:
		status = http.StatusBadRequest
	case blotter.CodeUnknownOrder:
		status = http.StatusNotFound
	case blotter.CodeDuplicateClOrdID, blotter.CodeNotCancellable, blotter.CodeNotReplaceable, blotter.CodeInvalidTransition:
		status = http.StatusConflict
	case blotter.CodeSessionUnavailable:
		status = http.StatusServiceUnavailable
	}
	respondError(w, status, string(code), err.Error())
}

func (s *Server) auditLog(event, clOrdID, details string) {
	if s.journal == nil {
		return
	}
	s.journal.Log(event, clOrdID, details)
}
