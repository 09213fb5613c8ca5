package marketsim

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/field"
	"github.com/quickfixgo/fix44/executionreport"
	"github.com/quickfixgo/fix44/newordersingle"
	"github.com/quickfixgo/fix44/ordercancelreject"
	"github.com/quickfixgo/fix44/ordercancelreplacerequest"
	"github.com/quickfixgo/fix44/ordercancelrequest"
	"github.com/quickfixgo/quickfix"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Pre-trade risk limits applied to every inbound order.
const (
	MaxOrderQty = 10000
	MaxNotional = 1_000_000.0
)

const (
	statusNew      = "NEW"
	statusPartial  = "PARTIAL"
	statusFilled   = "FILLED"
	statusCanceled = "CANCELED"
	statusRejected = "REJECTED"
)

type simOrder struct {
	clOrdID  string
	orderID  string
	symbol   string
	side     enum.Side
	qty      int64
	leaves   int64
	cum      int64
	price    float64
	hasPrice bool
	avgPx    float64
	status   string
	session  quickfix.SessionID
}

func (o *simOrder) open() bool {
	return o.status == statusNew || o.status == statusPartial
}

// App is the exchange side of the wire: a quickfix acceptor that validates
// inbound orders, acks or rejects them, and feeds resting orders to the
// random-walk fill loop.
type App struct {
	*quickfix.MessageRouter

	market *MarketSim
	log    *zap.SugaredLogger

	mu     sync.Mutex
	orders map[string]*simOrder

	orderSeq atomic.Uint64
	execSeq  atomic.Uint64

	// sendFn defaults to quickfix.SendToTarget; tests swap it out.
	sendFn func(quickfix.Messagable, quickfix.SessionID) error

	stop chan struct{}
	done chan struct{}
}

var _ quickfix.Application = (*App)(nil)

func NewApp(market *MarketSim, log *zap.SugaredLogger) *App {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	a := &App{
		MessageRouter: quickfix.NewMessageRouter(),
		market:        market,
		log:           log,
		orders:        make(map[string]*simOrder),
		sendFn:        quickfix.SendToTarget,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	a.AddRoute(newordersingle.Route(a.onNewOrderSingle))
	a.AddRoute(ordercancelrequest.Route(a.onCancelRequest))
	a.AddRoute(ordercancelreplacerequest.Route(a.onReplaceRequest))
	return a
}

func (a *App) OnCreate(sessionID quickfix.SessionID) {}

func (a *App) OnLogon(sessionID quickfix.SessionID) {
	a.log.Infow("client logon", "session", sessionID.String())
}

func (a *App) OnLogout(sessionID quickfix.SessionID) {
	a.log.Infow("client logout", "session", sessionID.String())
}

func (a *App) ToAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) {}

func (a *App) FromAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	return nil
}

func (a *App) ToApp(msg *quickfix.Message, sessionID quickfix.SessionID) error {
	return nil
}

func (a *App) FromApp(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	return a.Route(msg, sessionID)
}

func (a *App) nextOrderID() string {
	return fmt.Sprintf("ORD%d", a.orderSeq.Add(1))
}

func (a *App) nextExecID() string {
	return fmt.Sprintf("EXEC%d", a.execSeq.Add(1))
}

func (a *App) onNewOrderSingle(msg newordersingle.NewOrderSingle, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	clOrdID, err := msg.GetClOrdID()
	if err != nil {
		return err
	}
	symbol, err := msg.GetSymbol()
	if err != nil {
		return err
	}
	side, err := msg.GetSide()
	if err != nil {
		return err
	}
	orderQty, err := msg.GetOrderQty()
	if err != nil {
		return err
	}

	var px float64
	hasPrice := msg.HasPrice()
	if hasPrice {
		priceDec, err := msg.GetPrice()
		if err != nil {
			return err
		}
		px, _ = priceDec.Float64()
	}
	qty := orderQty.IntPart()

	reason, code := a.validate(symbol, side, qty, px, hasPrice)

	a.mu.Lock()
	defer a.mu.Unlock()

	// The duplicate check shares the critical section with the insert, and
	// a duplicate never displaces the resting order.
	if _, dup := a.orders[clOrdID]; dup {
		rej := &simOrder{
			clOrdID:  clOrdID,
			orderID:  a.nextOrderID(),
			symbol:   symbol,
			side:     side,
			qty:      qty,
			price:    px,
			hasPrice: hasPrice,
			status:   statusRejected,
			session:  sessionID,
		}
		a.sendReject(rej, "Duplicate ClOrdID", enum.OrdRejReason_DUPLICATE_ORDER)
		a.log.Infow("order rejected", "clOrdId", clOrdID, "reason", "Duplicate ClOrdID")
		return nil
	}

	ord := &simOrder{
		clOrdID:  clOrdID,
		orderID:  a.nextOrderID(),
		symbol:   symbol,
		side:     side,
		qty:      qty,
		leaves:   qty,
		price:    px,
		hasPrice: hasPrice,
		status:   statusNew,
		session:  sessionID,
	}

	if reason != "" {
		ord.status = statusRejected
		ord.leaves = 0
		a.orders[clOrdID] = ord
		a.sendReject(ord, reason, code)
		a.log.Infow("order rejected", "clOrdId", clOrdID, "reason", reason)
		return nil
	}

	a.orders[clOrdID] = ord
	a.sendAck(ord)
	a.log.Infow("order accepted", "clOrdId", clOrdID, "symbol", symbol, "qty", qty)

	// Marketable limit orders can fill on arrival.
	if hasPrice && a.market.ShouldFill(symbol, side == enum.Side_BUY, px) {
		a.fillLocked(ord, FillResult{FillQty: ord.leaves, FillPx: px, Complete: true})
	}
	return nil
}

// validate applies the stateless pre-trade checks. Duplicate ClOrdID
// detection lives in onNewOrderSingle, under the book lock.
func (a *App) validate(symbol string, side enum.Side, qty int64, px float64, hasPrice bool) (string, enum.OrdRejReason) {
	switch {
	case symbol == "":
		return "Symbol is required", enum.OrdRejReason_UNKNOWN_SYMBOL
	case side != enum.Side_BUY && side != enum.Side_SELL:
		return "Invalid side (must be 1=Buy or 2=Sell)", enum.OrdRejReason_OTHER
	case qty <= 0:
		return "OrderQty must be positive", enum.OrdRejReason_OTHER
	case hasPrice && px <= 0:
		return "Price must be positive for limit orders", enum.OrdRejReason_OTHER
	case qty > MaxOrderQty:
		return fmt.Sprintf("Order quantity exceeds limit (%d)", MaxOrderQty), enum.OrdRejReason_ORDER_EXCEEDS_LIMIT
	case hasPrice && float64(qty)*px > MaxNotional:
		return fmt.Sprintf("Notional exceeds limit ($%d)", int(MaxNotional)), enum.OrdRejReason_ORDER_EXCEEDS_LIMIT
	}
	return "", ""
}

func (a *App) onCancelRequest(msg ordercancelrequest.OrderCancelRequest, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	origClOrdID, err := msg.GetOrigClOrdID()
	if err != nil {
		return err
	}
	clOrdID, err := msg.GetClOrdID()
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ord, ok := a.orders[origClOrdID]
	switch {
	case !ok:
		a.sendCancelReject(sessionID, "UNKNOWN", clOrdID, origClOrdID,
			enum.OrdStatus_REJECTED, enum.CxlRejReason_UNKNOWN_ORDER)
	case ord.status == statusFilled:
		a.sendCancelReject(sessionID, ord.orderID, clOrdID, origClOrdID,
			enum.OrdStatus_FILLED, enum.CxlRejReason_TOO_LATE_TO_CANCEL)
	case !ord.open():
		status := enum.OrdStatus_CANCELED
		if ord.status == statusRejected {
			status = enum.OrdStatus_REJECTED
		}
		a.sendCancelReject(sessionID, ord.orderID, clOrdID, origClOrdID,
			status, enum.CxlRejReason_TOO_LATE_TO_CANCEL)
	default:
		ord.status = statusCanceled
		ord.leaves = 0
		a.sendCancelConfirm(ord, clOrdID, origClOrdID)
		a.log.Infow("order canceled", "clOrdId", origClOrdID)
	}
	return nil
}

func (a *App) onReplaceRequest(msg ordercancelreplacerequest.OrderCancelReplaceRequest, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	origClOrdID, err := msg.GetOrigClOrdID()
	if err != nil {
		return err
	}
	clOrdID, err := msg.GetClOrdID()
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ord, ok := a.orders[origClOrdID]
	if !ok || !ord.open() {
		status := enum.OrdStatus_REJECTED
		orderID := "UNKNOWN"
		if ok {
			orderID = ord.orderID
			switch ord.status {
			case statusFilled:
				status = enum.OrdStatus_FILLED
			case statusCanceled:
				status = enum.OrdStatus_CANCELED
			}
		}
		a.sendReplaceReject(sessionID, orderID, clOrdID, origClOrdID, status)
		return nil
	}

	if qtyDec, qerr := msg.GetOrderQty(); qerr == nil {
		newQty := qtyDec.IntPart()
		if newQty > ord.cum {
			ord.qty = newQty
			ord.leaves = newQty - ord.cum
		}
	}
	if pxDec, perr := msg.GetPrice(); perr == nil {
		if px, _ := pxDec.Float64(); px > 0 {
			ord.price = px
			ord.hasPrice = true
		}
	}
	if ord.leaves == 0 {
		ord.status = statusFilled
	} else if ord.cum > 0 {
		ord.status = statusPartial
	} else {
		ord.status = statusNew
	}
	a.sendReplaceConfirm(ord, clOrdID, origClOrdID)
	a.log.Infow("order replaced", "clOrdId", origClOrdID, "qty", ord.qty, "px", ord.price)
	return nil
}

// ==============================
// Outbound execution reports
// ==============================

func (a *App) baseReport(ord *simOrder, execType enum.ExecType, ordStatus enum.OrdStatus) executionreport.ExecutionReport {
	report := executionreport.New(
		field.NewOrderID(ord.orderID),
		field.NewExecID(a.nextExecID()),
		field.NewExecType(execType),
		field.NewOrdStatus(ordStatus),
		field.NewSide(ord.side),
		field.NewLeavesQty(decimal.NewFromInt(ord.leaves), 0),
		field.NewCumQty(decimal.NewFromInt(ord.cum), 0),
		field.NewAvgPx(decimal.NewFromFloat(ord.avgPx), 2),
	)
	report.SetClOrdID(ord.clOrdID)
	report.SetSymbol(ord.symbol)
	report.SetOrderQty(decimal.NewFromInt(ord.qty), 0)
	report.SetTransactTime(time.Now().UTC())
	return report
}

func (a *App) send(msg quickfix.Messagable, sessionID quickfix.SessionID) {
	if err := a.sendFn(msg, sessionID); err != nil {
		a.log.Errorw("send failed", "session", sessionID.String(), "err", err)
	}
}

func (a *App) sendAck(ord *simOrder) {
	report := a.baseReport(ord, enum.ExecType_NEW, enum.OrdStatus_NEW)
	if ord.hasPrice {
		report.SetPrice(decimal.NewFromFloat(ord.price), 2)
	}
	a.send(report, ord.session)
}

func (a *App) sendReject(ord *simOrder, reason string, code enum.OrdRejReason) {
	report := a.baseReport(ord, enum.ExecType_REJECTED, enum.OrdStatus_REJECTED)
	report.SetOrdRejReason(code)
	report.SetText(reason)
	a.send(report, ord.session)
}

func (a *App) sendCancelConfirm(ord *simOrder, clOrdID, origClOrdID string) {
	report := a.baseReport(ord, enum.ExecType_CANCELED, enum.OrdStatus_CANCELED)
	report.SetClOrdID(clOrdID)
	report.SetOrigClOrdID(origClOrdID)
	a.send(report, ord.session)
}

func (a *App) sendReplaceConfirm(ord *simOrder, clOrdID, origClOrdID string) {
	status := enum.OrdStatus_NEW
	if ord.status == statusPartial {
		status = enum.OrdStatus_PARTIALLY_FILLED
	} else if ord.status == statusFilled {
		status = enum.OrdStatus_FILLED
	}
	report := a.baseReport(ord, enum.ExecType_REPLACED, status)
	report.SetClOrdID(clOrdID)
	report.SetOrigClOrdID(origClOrdID)
	if ord.hasPrice {
		report.SetPrice(decimal.NewFromFloat(ord.price), 2)
	}
	a.send(report, ord.session)
}

func (a *App) sendCancelReject(sessionID quickfix.SessionID, orderID, clOrdID, origClOrdID string, status enum.OrdStatus, reason enum.CxlRejReason) {
	reject := ordercancelreject.New(
		field.NewOrderID(orderID),
		field.NewClOrdID(clOrdID),
		field.NewOrigClOrdID(origClOrdID),
		field.NewOrdStatus(status),
		field.NewCxlRejResponseTo(enum.CxlRejResponseTo_ORDER_CANCEL_REQUEST),
	)
	reject.SetCxlRejReason(reason)
	a.send(reject, sessionID)
}

func (a *App) sendReplaceReject(sessionID quickfix.SessionID, orderID, clOrdID, origClOrdID string, status enum.OrdStatus) {
	reject := ordercancelreject.New(
		field.NewOrderID(orderID),
		field.NewClOrdID(clOrdID),
		field.NewOrigClOrdID(origClOrdID),
		field.NewOrdStatus(status),
		field.NewCxlRejResponseTo(enum.CxlRejResponseTo_ORDER_CANCEL_REPLACE_REQUEST),
	)
	reject.SetCxlRejReason(enum.CxlRejReason_UNKNOWN_ORDER)
	a.send(reject, sessionID)
}

// ==============================
// Fill loop
// ==============================

// fillLocked books a fill and sends the trade report. Caller holds a.mu.
func (a *App) fillLocked(ord *simOrder, fill FillResult) {
	newCum := ord.cum + fill.FillQty
	ord.avgPx = (ord.avgPx*float64(ord.cum) + fill.FillPx*float64(fill.FillQty)) / float64(newCum)
	ord.cum = newCum
	ord.leaves = ord.qty - newCum

	status := enum.OrdStatus_PARTIALLY_FILLED
	ord.status = statusPartial
	if ord.leaves <= 0 {
		ord.leaves = 0
		status = enum.OrdStatus_FILLED
		ord.status = statusFilled
	}

	report := a.baseReport(ord, enum.ExecType_TRADE, status)
	report.SetLastQty(decimal.NewFromInt(fill.FillQty), 0)
	report.SetLastPx(decimal.NewFromFloat(fill.FillPx), 2)
	if ord.hasPrice {
		report.SetPrice(decimal.NewFromFloat(ord.price), 2)
	}
	a.send(report, ord.session)
	a.log.Infow("fill", "clOrdId", ord.clOrdID, "qty", fill.FillQty, "px", fill.FillPx, "status", ord.status)
}

// StartFillLoop launches the background fill pass. Stop with StopFillLoop.
func (a *App) StartFillLoop(interval time.Duration) {
	go func() {
		defer close(a.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-a.stop:
				return
			case <-ticker.C:
				a.fillPass()
			}
		}
	}()
}

func (a *App) StopFillLoop() {
	close(a.stop)
	<-a.done
}

func (a *App) fillPass() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ord := range a.orders {
		if !ord.open() || !ord.hasPrice {
			continue
		}
		fill := a.market.AttemptFill(ord.symbol, ord.side == enum.Side_BUY, ord.price, ord.leaves)
		if fill.FillQty > 0 {
			a.fillLocked(ord, fill)
		}
	}
}
