package fix

import (
	"time"

	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/field"
	"github.com/quickfixgo/fix44/newordersingle"
	"github.com/quickfixgo/fix44/ordercancelreplacerequest"
	"github.com/quickfixgo/fix44/ordercancelrequest"
	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/tag"
	"github.com/shopspring/decimal"

	"github.com/mdeadwiler/pf-blotter-fix/pkg/blotter"
)

// Pure translation between decoded FIX 4.4 messages and domain events or
// commands. No stored state, deterministic.

const (
	qtyScale   = 0
	priceScale = 2
)

// FIX UTCTimestamp layouts, with and without milliseconds.
var transactTimeLayouts = []string{"20060102-15:04:05.000", "20060102-15:04:05"}

// ToDomainEvent maps an inbound application message to a domain event.
// Unsupported message types and missing/unparsable required fields come back
// as taxonomy errors; the caller reports and discards, never rejects the
// session-level message.
func ToDomainEvent(msg *quickfix.Message, sessionID string) (blotter.Event, error) {
	msgType, ferr := msg.Header.GetString(tag.MsgType)
	if ferr != nil {
		return blotter.Event{}, blotter.Errf(blotter.CodeMalformedField, "missing MsgType")
	}

	seq, ferr := msg.Header.GetInt(tag.MsgSeqNum)
	if ferr != nil {
		return blotter.Event{}, blotter.Errf(blotter.CodeMalformedField, "missing MsgSeqNum")
	}

	switch enum.MsgType(msgType) {
	case enum.MsgType_EXECUTION_REPORT:
		return executionReportToEvent(msg, sessionID, seq)
	case enum.MsgType_ORDER_CANCEL_REJECT:
		return cancelRejectToEvent(msg, sessionID, seq)
	}
	return blotter.Event{}, blotter.Errf(blotter.CodeUnsupportedMsgType, "msg type %q", msgType)
}

func executionReportToEvent(msg *quickfix.Message, sessionID string, seq int) (blotter.Event, error) {
	execType, ferr := msg.Body.GetString(tag.ExecType)
	if ferr != nil {
		return blotter.Event{}, blotter.Errf(blotter.CodeMalformedField, "execution report missing ExecType")
	}

	ev := blotter.Event{
		SessionID:    sessionID,
		SeqNum:       seq,
		TransactTime: transactTime(msg),
	}
	ev.ClOrdID, _ = msg.Body.GetString(tag.ClOrdID)
	ev.OrderID, _ = msg.Body.GetString(tag.OrderID)
	if ev.ClOrdID == "" && ev.OrderID == "" {
		return blotter.Event{}, blotter.Errf(blotter.CodeMalformedField, "execution report carries no order reference")
	}

	switch enum.ExecType(execType) {
	case enum.ExecType_NEW:
		ev.Type = blotter.EvAck

	case enum.ExecType_TRADE, enum.ExecType_PARTIAL_FILL, enum.ExecType_FILL:
		ev.Type = blotter.EvFill
		var err error
		if ev.ExecID, err = requireString(msg, tag.ExecID, "ExecID"); err != nil {
			return blotter.Event{}, err
		}
		if ev.LastQty, err = requireDecimal(msg, tag.LastQty, "LastQty"); err != nil {
			return blotter.Event{}, err
		}
		if ev.LastPx, err = requireDecimal(msg, tag.LastPx, "LastPx"); err != nil {
			return blotter.Event{}, err
		}

	case enum.ExecType_REJECTED:
		ev.Type = blotter.EvReject
		ev.Reason, _ = msg.Body.GetString(tag.Text)

	case enum.ExecType_CANCELED:
		ev.Type = blotter.EvCancelConfirm
		// Cancel confirms reference the original order in OrigClOrdID.
		if orig, ferr := msg.Body.GetString(tag.OrigClOrdID); ferr == nil && orig != "" {
			ev.ClOrdID = orig
		}

	case enum.ExecType_REPLACED:
		ev.Type = blotter.EvReplaceConfirm
		if orig, ferr := msg.Body.GetString(tag.OrigClOrdID); ferr == nil && orig != "" {
			ev.ClOrdID = orig
		}
		if s, ferr := msg.Body.GetString(tag.OrderQty); ferr == nil {
			if d, err := decimal.NewFromString(s); err == nil {
				ev.NewQty = d
			}
		}
		if s, ferr := msg.Body.GetString(tag.Price); ferr == nil {
			if d, err := decimal.NewFromString(s); err == nil {
				ev.NewPrice = d
			}
		}

	default:
		return blotter.Event{}, blotter.Errf(blotter.CodeUnsupportedMsgType, "exec type %q", execType)
	}

	return ev, nil
}

func cancelRejectToEvent(msg *quickfix.Message, sessionID string, seq int) (blotter.Event, error) {
	ev := blotter.Event{
		Type:         blotter.EvCancelReject,
		SessionID:    sessionID,
		SeqNum:       seq,
		TransactTime: transactTime(msg),
	}
	orig, err := requireString(msg, tag.OrigClOrdID, "OrigClOrdID")
	if err != nil {
		return blotter.Event{}, err
	}
	ev.ClOrdID = orig
	ev.Reason, _ = msg.Body.GetString(tag.Text)
	return ev, nil
}

func requireString(msg *quickfix.Message, t quickfix.Tag, name string) (string, error) {
	v, ferr := msg.Body.GetString(t)
	if ferr != nil || v == "" {
		return "", blotter.Errf(blotter.CodeMalformedField, "missing %s", name)
	}
	return v, nil
}

func requireDecimal(msg *quickfix.Message, t quickfix.Tag, name string) (decimal.Decimal, error) {
	s, ferr := msg.Body.GetString(t)
	if ferr != nil {
		return decimal.Zero, blotter.Errf(blotter.CodeMalformedField, "missing %s", name)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, blotter.Errf(blotter.CodeMalformedField, "unparsable %s %q", name, s)
	}
	return d, nil
}

func transactTime(msg *quickfix.Message) time.Time {
	s, ferr := msg.Body.GetString(tag.TransactTime)
	if ferr == nil {
		for _, layout := range transactTimeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
	}
	return time.Now().UTC()
}

// ==============================
// Outbound command translation
// ==============================

// BuildNewOrderSingle is total over valid NewOrder commands; validation
// happened in the engine.
func BuildNewOrderSingle(cmd blotter.NewOrder) quickfix.Messagable {
	order := newordersingle.New(
		field.NewClOrdID(cmd.ClOrdID),
		field.NewSide(sideToFIX(cmd.Side)),
		field.NewTransactTime(time.Now().UTC()),
		field.NewOrdType(ordTypeToFIX(cmd.OrdType)),
	)
	order.Set(field.NewHandlInst(enum.HandlInst_AUTOMATED_EXECUTION_ORDER_PRIVATE_NO_BROKER_INTERVENTION))
	order.Set(field.NewSymbol(cmd.Symbol))
	order.Set(field.NewOrderQty(cmd.Qty, qtyScale))
	order.Set(field.NewTimeInForce(tifToFIX(cmd.TIF)))
	if cmd.OrdType == blotter.Limit {
		order.Set(field.NewPrice(cmd.Price, priceScale))
	}
	return order
}

func BuildCancelRequest(cmd blotter.CancelOrder, orig blotter.Order) quickfix.Messagable {
	cancel := ordercancelrequest.New(
		field.NewOrigClOrdID(cmd.OrigClOrdID),
		field.NewClOrdID(cmd.ClOrdID),
		field.NewSide(sideToFIX(orig.Side)),
		field.NewTransactTime(time.Now().UTC()),
	)
	cancel.Set(field.NewSymbol(orig.Symbol))
	return cancel
}

func BuildReplaceRequest(cmd blotter.ReplaceOrder, orig blotter.Order) quickfix.Messagable {
	replace := ordercancelreplacerequest.New(
		field.NewOrigClOrdID(cmd.OrigClOrdID),
		field.NewClOrdID(cmd.ClOrdID),
		field.NewSide(sideToFIX(orig.Side)),
		field.NewTransactTime(time.Now().UTC()),
		field.NewOrdType(ordTypeToFIX(orig.OrdType)),
	)
	replace.Set(field.NewSymbol(orig.Symbol))
	qty := cmd.NewQty
	if qty.IsZero() {
		qty = orig.Qty
	}
	replace.Set(field.NewOrderQty(qty, qtyScale))
	if orig.OrdType == blotter.Limit {
		px := cmd.NewPrice
		if px.IsZero() {
			px = orig.Price
		}
		replace.Set(field.NewPrice(px, priceScale))
	}
	return replace
}

func sideToFIX(s blotter.Side) enum.Side {
	if s == blotter.Sell {
		return enum.Side_SELL
	}
	return enum.Side_BUY
}

func ordTypeToFIX(t blotter.OrdType) enum.OrdType {
	if t == blotter.Market {
		return enum.OrdType_MARKET
	}
	return enum.OrdType_LIMIT
}

func tifToFIX(t blotter.TimeInForce) enum.TimeInForce {
	switch t {
	case blotter.GTC:
		return enum.TimeInForce_GOOD_TILL_CANCEL
	case blotter.IOC:
		return enum.TimeInForce_IMMEDIATE_OR_CANCEL
	case blotter.FOK:
		return enum.TimeInForce_FILL_OR_KILL
	}
	return enum.TimeInForce_DAY
}
