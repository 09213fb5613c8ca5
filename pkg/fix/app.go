package fix

import (
	"github.com/quickfixgo/quickfix"
	"go.uber.org/zap"

	"github.com/mdeadwiler/pf-blotter-fix/pkg/blotter"
	"github.com/mdeadwiler/pf-blotter-fix/pkg/metrics"
)

// EventSink is the slice of the state engine the FIX application needs.
type EventSink interface {
	Apply(ev blotter.Event)
	FlushSession(sessionID string)
}

// App is the initiator-side quickfix application. It owns nothing but
// routing glue: session lifecycle goes to the registry, application
// messages are translated and handed to the engine.
type App struct {
	registry *Registry
	engine   EventSink
	log      *zap.SugaredLogger
}

var _ quickfix.Application = (*App)(nil)

func NewApp(registry *Registry, engine EventSink, log *zap.SugaredLogger) *App {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &App{registry: registry, engine: engine, log: log}
}

// logicalID names the counterparty. One counterparty per FIX session.
func logicalID(sessionID quickfix.SessionID) string {
	return sessionID.TargetCompID
}

func (a *App) OnCreate(sessionID quickfix.SessionID) {
	a.log.Infow("fix session created", "session", sessionID.String())
}

func (a *App) OnLogon(sessionID quickfix.SessionID) {
	id := logicalID(sessionID)
	a.registry.Register(id, sessionID)
	// A fresh logon restarts the counterparty's sequence stream; anything
	// still parked from the previous epoch will never see its gap filled.
	a.engine.FlushSession(id)
	a.log.Infow("fix session logon", "session", id)
}

func (a *App) OnLogout(sessionID quickfix.SessionID) {
	id := logicalID(sessionID)
	a.engine.FlushSession(id)
	a.registry.Deregister(id)
	a.log.Infow("fix session logout", "session", id)
}

func (a *App) ToAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) {}

func (a *App) FromAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	return nil
}

func (a *App) ToApp(msg *quickfix.Message, sessionID quickfix.SessionID) error {
	return nil
}

// FromApp translates and applies inbound application messages. Translation
// failures are logged and dropped; rejecting them back at the FIX layer
// would only bounce counterparty traffic we cannot act on anyway.
func (a *App) FromApp(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	id := logicalID(sessionID)
	ev, err := ToDomainEvent(msg, id)
	if err != nil {
		code := string(blotter.CodeOf(err))
		metrics.TranslationErrors.WithLabelValues(code).Inc()
		a.log.Warnw("inbound message discarded", "session", id, "code", code, "err", err)
		return nil
	}
	a.engine.Apply(ev)
	return nil
}
