package fix

import (
	"github.com/mdeadwiler/pf-blotter-fix/pkg/blotter"
	"github.com/mdeadwiler/pf-blotter-fix/pkg/metrics"
)

// Bridge adapts the session registry into the engine's outbound port.
// It is the only place commands cross from domain types to wire messages.
type Bridge struct {
	registry *Registry
}

func NewBridge(registry *Registry) *Bridge {
	return &Bridge{registry: registry}
}

func (b *Bridge) SessionState(sessionID string) (uint64, bool) {
	return b.registry.State(sessionID)
}

func (b *Bridge) SendNewOrder(cmd blotter.NewOrder) error {
	if err := b.registry.Route(cmd.SessionID, BuildNewOrderSingle(cmd)); err != nil {
		return err
	}
	metrics.OutboundSent.WithLabelValues("new_order_single").Inc()
	return nil
}

func (b *Bridge) SendCancel(cmd blotter.CancelOrder, orig blotter.Order) error {
	if err := b.registry.Route(orig.SessionID, BuildCancelRequest(cmd, orig)); err != nil {
		return err
	}
	metrics.OutboundSent.WithLabelValues("order_cancel_request").Inc()
	return nil
}

func (b *Bridge) SendReplace(cmd blotter.ReplaceOrder, orig blotter.Order) error {
	if err := b.registry.Route(orig.SessionID, BuildReplaceRequest(cmd, orig)); err != nil {
		return err
	}
	metrics.OutboundSent.WithLabelValues("order_cancel_replace").Inc()
	return nil
}
