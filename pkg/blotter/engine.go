package blotter

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mdeadwiler/pf-blotter-fix/pkg/metrics"
	"github.com/mdeadwiler/pf-blotter-fix/pkg/util"
)

// Outbound is the engine's one-way door to the FIX side: session liveness
// checks and message sends. Implemented by pkg/fix.Bridge. Cancel/replace
// sends need fields from the original order (symbol, side, type), so the
// engine hands over a copy.
type Outbound interface {
	SessionState(sessionID string) (epoch uint64, up bool)
	SendNewOrder(cmd NewOrder) error
	SendCancel(cmd CancelOrder, orig Order) error
	SendReplace(cmd ReplaceOrder, orig Order) error
}

// maxParked bounds the per-session re-sequencing buffer. When the gap never
// closes (engine-level resend weirdness), parked events are force-drained in
// marker order rather than held forever.
const maxParked = 64

// Engine owns the order and execution maps. All mutation goes through one
// writer-exclusive critical section over the whole map; snapshots take the
// read side. Nothing does I/O while holding the lock.
type Engine struct {
	mu       sync.RWMutex
	orders   map[string]*Order // clOrdID -> record
	byExchID map[string]string // counterparty OrderID -> clOrdID
	index    []string          // clOrdIDs in creation order
	seen     map[string]struct{} // clOrdID+"|"+execID fill dedup

	cursors map[string]int           // session -> last applied seq marker
	parked  map[string]map[int]Event // session -> seq -> waiting event

	nextID uint64

	out         Outbound
	clock       util.Clock
	log         *zap.SugaredLogger
	reassociate bool

	orphans    uint64
	duplicates uint64

	// OnUpdate fires after every state mutation with a copy of the changed
	// order, outside the critical section. Wired to the websocket hub and
	// audit journal in main.
	OnUpdate func(Order)
}

type EngineOpts struct {
	Outbound Outbound
	Clock    util.Clock
	Logger   *zap.SugaredLogger
	// ReassociateOnLogon controls whether orders submitted before a session
	// bounce accept commands again after re-logon.
	ReassociateOnLogon bool
}

func NewEngine(opts EngineOpts) *Engine {
	clock := opts.Clock
	if clock == nil {
		clock = util.RealClock{}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{
		orders:      make(map[string]*Order),
		byExchID:    make(map[string]string),
		seen:        make(map[string]struct{}),
		cursors:     make(map[string]int),
		parked:      make(map[string]map[int]Event),
		out:         opts.Outbound,
		clock:       clock,
		log:         log,
		reassociate: opts.ReassociateOnLogon,
	}
}

// ==============================
// Commands
// ==============================

// Submit validates a new order command, records it as Pending and routes the
// NewOrderSingle. The Pending record is created before the send so a snapshot
// immediately after Submit always sees the order; if the send then fails the
// record is rolled to Rejected rather than left stuck.
func (e *Engine) Submit(cmd NewOrder) (string, error) {
	if err := validateNewOrder(cmd); err != nil {
		metrics.CommandsRejected.WithLabelValues(string(CodeOf(err))).Inc()
		return "", err
	}

	epoch, up := e.out.SessionState(cmd.SessionID)
	if !up {
		metrics.CommandsRejected.WithLabelValues(string(CodeSessionUnavailable)).Inc()
		return "", Errf(CodeSessionUnavailable, "session %s is not logged on", cmd.SessionID)
	}

	now := e.clock.Now()

	e.mu.Lock()
	if cmd.ClOrdID != "" {
		if _, exists := e.orders[cmd.ClOrdID]; exists {
			e.mu.Unlock()
			metrics.CommandsRejected.WithLabelValues(string(CodeDuplicateClOrdID)).Inc()
			return "", Errf(CodeDuplicateClOrdID, "client order id %s already in use", cmd.ClOrdID)
		}
	} else {
		e.nextID++
		cmd.ClOrdID = fmt.Sprintf("C%d", e.nextID)
	}

	ord := &Order{
		ClOrdID:   cmd.ClOrdID,
		Symbol:    cmd.Symbol,
		Side:      cmd.Side,
		OrdType:   cmd.OrdType,
		TIF:       cmd.TIF,
		Qty:       cmd.Qty,
		LeavesQty: cmd.Qty,
		Price:     cmd.Price,
		Status:    StatusPending,
		SessionID: cmd.SessionID,
		Epoch:     epoch,
		CreatedAt: now,
		UpdatedAt: now,
	}
	e.orders[ord.ClOrdID] = ord
	e.index = append(e.index, ord.ClOrdID)
	pending := ord.clone()
	e.mu.Unlock()

	metrics.OrdersSubmitted.Inc()
	e.notify(pending)

	if err := e.out.SendNewOrder(cmd); err != nil {
		// Send failed after the Pending record exists: roll back to a
		// terminal Rejected state, never leave the order stuck.
		e.mu.Lock()
		ord.Status = StatusRejected
		ord.LeavesQty = decimal.Zero
		ord.RejectReason = "send failed: " + err.Error()
		ord.UpdatedAt = e.clock.Now()
		rejected := ord.clone()
		e.mu.Unlock()

		e.log.Warnw("order_send_failed", "cl_ord_id", cmd.ClOrdID, "session", cmd.SessionID, "err", err)
		metrics.CommandsRejected.WithLabelValues(string(CodeSessionUnavailable)).Inc()
		e.notify(rejected)
		return "", Errf(CodeSessionUnavailable, "send to session %s failed: %v", cmd.SessionID, err)
	}

	return cmd.ClOrdID, nil
}

// Cancel routes an OrderCancelRequest for an open order. Blotter state does
// not change here; the cancel takes effect when the confirmation event comes
// back through Apply.
func (e *Engine) Cancel(cmd CancelOrder) error {
	orig, err := e.commandTarget(cmd.OrigClOrdID, CodeNotCancellable, "cancelled")
	if err != nil {
		return err
	}
	if cmd.ClOrdID == "" {
		cmd.ClOrdID = cmd.OrigClOrdID + "-CXL"
	}
	if err := e.out.SendCancel(cmd, orig); err != nil {
		metrics.CommandsRejected.WithLabelValues(string(CodeSessionUnavailable)).Inc()
		return Errf(CodeSessionUnavailable, "send to session %s failed: %v", orig.SessionID, err)
	}
	return nil
}

// Replace routes an OrderCancelReplaceRequest. Zero quantity/price fields
// mean "keep current". Like Cancel, state moves only on the confirm event.
func (e *Engine) Replace(cmd ReplaceOrder) error {
	orig, err := e.commandTarget(cmd.OrigClOrdID, CodeNotReplaceable, "replaced")
	if err != nil {
		return err
	}
	if cmd.NewQty.IsZero() && cmd.NewPrice.IsZero() {
		return Errf(CodeValidation, "replace must change quantity or price")
	}
	if !cmd.NewQty.IsZero() && cmd.NewQty.LessThanOrEqual(orig.CumQty) {
		return Errf(CodeValidation, "new quantity %s not above cumulative executed %s",
			cmd.NewQty, orig.CumQty)
	}
	if cmd.ClOrdID == "" {
		cmd.ClOrdID = cmd.OrigClOrdID + "-RPL"
	}
	if err := e.out.SendReplace(cmd, orig); err != nil {
		metrics.CommandsRejected.WithLabelValues(string(CodeSessionUnavailable)).Inc()
		return Errf(CodeSessionUnavailable, "send to session %s failed: %v", orig.SessionID, err)
	}
	return nil
}

// commandTarget resolves and vets the target order of a cancel/replace.
func (e *Engine) commandTarget(origClOrdID string, notOpenCode Code, verb string) (Order, error) {
	e.mu.RLock()
	ord, ok := e.orders[origClOrdID]
	if !ok {
		e.mu.RUnlock()
		return Order{}, Errf(CodeUnknownOrder, "unknown order %s", origClOrdID)
	}
	cp := ord.clone()
	e.mu.RUnlock()

	if !cp.Status.Open() {
		metrics.CommandsRejected.WithLabelValues(string(notOpenCode)).Inc()
		return Order{}, Errf(notOpenCode, "order %s in state %s cannot be %s", origClOrdID, cp.Status, verb)
	}

	epoch, up := e.out.SessionState(cp.SessionID)
	if !up {
		metrics.CommandsRejected.WithLabelValues(string(CodeSessionUnavailable)).Inc()
		return Order{}, Errf(CodeSessionUnavailable, "session %s is not logged on", cp.SessionID)
	}
	if !e.reassociate && cp.Epoch != epoch {
		metrics.CommandsRejected.WithLabelValues(string(CodeSessionUnavailable)).Inc()
		return Order{}, Errf(CodeSessionUnavailable,
			"order %s predates current logon of session %s", origClOrdID, cp.SessionID)
	}
	return cp, nil
}

// ==============================
// Events
// ==============================

// Apply folds one translated inbound event into order state, re-sequencing by
// the event's session sequence marker. All failures are recovered locally.
func (e *Engine) Apply(ev Event) {
	e.mu.Lock()
	updates := e.sequenceLocked(ev)
	e.mu.Unlock()

	for _, u := range updates {
		e.notify(u)
	}
}

// sequenceLocked decides whether ev runs now or parks, then drains any parked
// successors. Returns copies of every order that changed.
func (e *Engine) sequenceLocked(ev Event) []Order {
	var updates []Order

	cursor, known := e.cursors[ev.SessionID]
	if known && ev.SeqNum > cursor+1 {
		park := e.parked[ev.SessionID]
		if park == nil {
			park = make(map[int]Event)
			e.parked[ev.SessionID] = park
		}
		park[ev.SeqNum] = ev
		metrics.EventsParked.Set(float64(e.parkedCount()))
		if len(park) <= maxParked {
			e.log.Debugw("event_parked", "session", ev.SessionID, "seq", ev.SeqNum, "cursor", cursor)
			return nil
		}
		// Buffer overflow: give up on the gap and drain in marker order.
		e.log.Warnw("resequence_buffer_full", "session", ev.SessionID, "parked", len(park))
		updates = append(updates, e.drainLocked(ev.SessionID, true)...)
		return updates
	}

	// In order (or a late/duplicate marker, which the state checks absorb).
	if upd, changed := e.applyLocked(ev); changed {
		updates = append(updates, upd)
	}
	if !known || ev.SeqNum > cursor {
		e.cursors[ev.SessionID] = ev.SeqNum
	}
	updates = append(updates, e.drainLocked(ev.SessionID, false)...)
	return updates
}

// drainLocked replays parked events for a session. When force is false only
// consecutive markers run; when true everything runs in ascending order.
func (e *Engine) drainLocked(sessionID string, force bool) []Order {
	park := e.parked[sessionID]
	if len(park) == 0 {
		return nil
	}

	var updates []Order
	if force {
		seqs := make([]int, 0, len(park))
		for s := range park {
			seqs = append(seqs, s)
		}
		sort.Ints(seqs)
		for _, s := range seqs {
			if upd, changed := e.applyLocked(park[s]); changed {
				updates = append(updates, upd)
			}
			e.cursors[sessionID] = s
		}
		delete(e.parked, sessionID)
	} else {
		for {
			next, ok := park[e.cursors[sessionID]+1]
			if !ok {
				break
			}
			delete(park, next.SeqNum)
			if upd, changed := e.applyLocked(next); changed {
				updates = append(updates, upd)
			}
			e.cursors[sessionID] = next.SeqNum
		}
		if len(park) == 0 {
			delete(e.parked, sessionID)
		}
	}
	metrics.EventsParked.Set(float64(e.parkedCount()))
	return updates
}

func (e *Engine) parkedCount() int {
	n := 0
	for _, p := range e.parked {
		n += len(p)
	}
	return n
}

// FlushSession force-drains the re-sequencing buffer for a session. Called
// from the session glue on logon and logout so parked events never outlive
// the connection that produced them.
func (e *Engine) FlushSession(sessionID string) {
	e.mu.Lock()
	updates := e.drainLocked(sessionID, true)
	e.mu.Unlock()
	for _, u := range updates {
		e.notify(u)
	}
}

// applyLocked runs one event against the state machine. Returns a copy of
// the changed order and whether anything changed. Must hold e.mu.
func (e *Engine) applyLocked(ev Event) (Order, bool) {
	ord := e.lookupLocked(ev)
	if ord == nil {
		e.orphans++
		metrics.EventsDiscarded.WithLabelValues(string(CodeOrphanEvent)).Inc()
		e.log.Warnw("orphan_event", "type", ev.Type.String(), "session", ev.SessionID,
			"seq", ev.SeqNum, "cl_ord_id", ev.ClOrdID, "order_id", ev.OrderID)
		return Order{}, false
	}

	switch ev.Type {
	case EvAck:
		return e.transition(ord, ev, StatusAcknowledged, func() {
			if ev.OrderID != "" {
				ord.OrderID = ev.OrderID
				e.byExchID[ev.OrderID] = ord.ClOrdID
			}
			ord.LatencyUs = e.clock.Now().Sub(ord.CreatedAt).Microseconds()
		})

	case EvReject:
		return e.transition(ord, ev, StatusRejected, func() {
			ord.LeavesQty = decimal.Zero
			ord.RejectReason = ev.Reason
		})

	case EvCancelConfirm:
		return e.transition(ord, ev, StatusCancelled, func() {
			ord.LeavesQty = decimal.Zero
		})

	case EvFill:
		return e.applyFillLocked(ord, ev)

	case EvReplaceConfirm:
		return e.applyReplaceLocked(ord, ev)

	case EvCancelReject:
		// The counterparty refused a cancel/replace; the order stands as-is.
		metrics.EventsApplied.WithLabelValues(ev.Type.String()).Inc()
		e.log.Infow("cancel_rejected_by_counterparty", "cl_ord_id", ord.ClOrdID, "reason", ev.Reason)
		return Order{}, false
	}

	metrics.EventsDiscarded.WithLabelValues(string(CodeUnsupportedMsgType)).Inc()
	return Order{}, false
}

// transition applies a plain single-state move, rejecting anything outside
// the lifecycle table. mutate runs only when the move is legal.
func (e *Engine) transition(ord *Order, ev Event, to Status, mutate func()) (Order, bool) {
	if !canTransition(ord.Status, to) {
		metrics.EventsDiscarded.WithLabelValues(string(CodeInvalidTransition)).Inc()
		e.log.Warnw("invalid_state_transition", "cl_ord_id", ord.ClOrdID,
			"from", ord.Status.String(), "to", to.String(), "event", ev.Type.String())
		return Order{}, false
	}
	mutate()
	ord.Status = to
	ord.UpdatedAt = e.clock.Now()
	metrics.EventsApplied.WithLabelValues(ev.Type.String()).Inc()
	return ord.clone(), true
}

func (e *Engine) applyFillLocked(ord *Order, ev Event) (Order, bool) {
	dedupKey := ord.ClOrdID + "|" + ev.ExecID
	if _, dup := e.seen[dedupKey]; dup {
		e.duplicates++
		metrics.EventsDiscarded.WithLabelValues("DuplicateExecution").Inc()
		e.log.Infow("duplicate_execution_discarded", "cl_ord_id", ord.ClOrdID, "exec_id", ev.ExecID)
		return Order{}, false
	}

	if ev.LastQty.GreaterThan(ord.LeavesQty) {
		metrics.EventsDiscarded.WithLabelValues(string(CodeExecutionOverrun)).Inc()
		e.log.Errorw("execution_quantity_overrun", "cl_ord_id", ord.ClOrdID,
			"exec_id", ev.ExecID, "last_qty", ev.LastQty, "leaves", ord.LeavesQty)
		return Order{}, false
	}

	newCum := ord.CumQty.Add(ev.LastQty)
	to := StatusPartiallyFilled
	if newCum.Equal(ord.Qty) {
		to = StatusFilled
	}
	return e.transition(ord, ev, to, func() {
		// VWAP across all fills.
		notional := ord.AvgPx.Mul(ord.CumQty).Add(ev.LastPx.Mul(ev.LastQty))
		ord.AvgPx = notional.Div(newCum)
		ord.CumQty = newCum
		ord.LeavesQty = ord.Qty.Sub(newCum)
		ord.Executions = append(ord.Executions, Execution{
			ExecID:    ev.ExecID,
			ClOrdID:   ord.ClOrdID,
			Qty:       ev.LastQty,
			Price:     ev.LastPx,
			Timestamp: ev.TransactTime,
		})
		e.seen[dedupKey] = struct{}{}
	})
}

func (e *Engine) applyReplaceLocked(ord *Order, ev Event) (Order, bool) {
	if !ord.Status.Open() {
		metrics.EventsDiscarded.WithLabelValues(string(CodeInvalidTransition)).Inc()
		e.log.Warnw("invalid_state_transition", "cl_ord_id", ord.ClOrdID,
			"from", ord.Status.String(), "to", "REPLACE_ACCEPTED")
		return Order{}, false
	}

	if !ev.NewQty.IsZero() {
		ord.Qty = ev.NewQty
	}
	if !ev.NewPrice.IsZero() {
		ord.Price = ev.NewPrice
	}
	ord.LeavesQty = ord.Qty.Sub(ord.CumQty)
	switch {
	case ord.LeavesQty.LessThanOrEqual(decimal.Zero):
		ord.LeavesQty = decimal.Zero
		ord.Status = StatusFilled
	case ord.CumQty.IsPositive():
		ord.Status = StatusPartiallyFilled
	default:
		ord.Status = StatusAcknowledged
	}
	ord.UpdatedAt = e.clock.Now()
	metrics.EventsApplied.WithLabelValues(ev.Type.String()).Inc()
	return ord.clone(), true
}

// lookupLocked resolves an event's order by client then counterparty ID.
func (e *Engine) lookupLocked(ev Event) *Order {
	if ev.ClOrdID != "" {
		if ord, ok := e.orders[ev.ClOrdID]; ok {
			return ord
		}
	}
	if ev.OrderID != "" {
		if cl, ok := e.byExchID[ev.OrderID]; ok {
			return e.orders[cl]
		}
	}
	return nil
}

// ==============================
// Queries
// ==============================

// Get returns a copy of one order.
func (e *Engine) Get(clOrdID string) (Order, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ord, ok := e.orders[clOrdID]
	if !ok {
		return Order{}, false
	}
	return ord.clone(), true
}

// Snapshot returns a point-in-time copy of all orders in creation order.
// Takes only the read lock for the duration of the copy.
func (e *Engine) Snapshot() []Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Order, 0, len(e.index))
	for _, id := range e.index {
		out = append(out, e.orders[id].clone())
	}
	return out
}

func (e *Engine) notify(ord Order) {
	if e.OnUpdate != nil {
		e.OnUpdate(ord)
	}
}

func validateNewOrder(cmd NewOrder) error {
	switch {
	case cmd.SessionID == "":
		return Errf(CodeValidation, "session_id is required")
	case cmd.Symbol == "":
		return Errf(CodeValidation, "symbol is required")
	case len(cmd.Symbol) > 16:
		return Errf(CodeValidation, "symbol longer than 16 characters")
	case cmd.Side != Buy && cmd.Side != Sell:
		return Errf(CodeValidation, "side must be BUY or SELL")
	case !cmd.Qty.IsPositive():
		return Errf(CodeValidation, "quantity must be positive")
	case cmd.OrdType == Limit && !cmd.Price.IsPositive():
		return Errf(CodeValidation, "price must be positive for limit orders")
	case len(cmd.ClOrdID) > 64:
		return Errf(CodeValidation, "client order id longer than 64 characters")
	}
	return nil
}
