package fix

import (
	"sync"
	"time"

	"github.com/quickfixgo/quickfix"
	"go.uber.org/zap"

	"github.com/mdeadwiler/pf-blotter-fix/pkg/blotter"
	"github.com/mdeadwiler/pf-blotter-fix/pkg/metrics"
)

// Transport hands a built message to the underlying FIX engine. The default
// implementation wraps quickfix.SendToTarget; tests plug in fakes.
type Transport interface {
	Send(m quickfix.Messagable, sid quickfix.SessionID) error
}

type quickfixTransport struct{}

func (quickfixTransport) Send(m quickfix.Messagable, sid quickfix.SessionID) error {
	return quickfix.SendToTarget(m, sid)
}

// Handle is the registry's view of one logical counterparty session.
type Handle struct {
	LogicalID  string             `json:"sessionId"`
	SessionID  quickfix.SessionID `json:"-"`
	Up         bool               `json:"up"`
	Epoch      uint64             `json:"logonCount"`
	LoggedOnAt time.Time          `json:"loggedOnAt,omitempty"`
}

// Registry maps logical counterparty identity (TargetCompID) to a session
// handle and is the only component allowed to address a session for sending.
// Handles survive logout with Up=false so epoch history is preserved.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*Handle
	transport Transport
	log       *zap.SugaredLogger
}

func NewRegistry(transport Transport, log *zap.SugaredLogger) *Registry {
	if transport == nil {
		transport = quickfixTransport{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Registry{
		sessions:  make(map[string]*Handle),
		transport: transport,
		log:       log,
	}
}

// Register marks a session up, bumping its logon epoch.
func (r *Registry) Register(logicalID string, sid quickfix.SessionID) {
	r.mu.Lock()
	h, ok := r.sessions[logicalID]
	if !ok {
		h = &Handle{LogicalID: logicalID}
		r.sessions[logicalID] = h
	}
	h.SessionID = sid
	h.Up = true
	h.Epoch++
	h.LoggedOnAt = time.Now()
	epoch := h.Epoch
	r.mu.Unlock()

	metrics.SessionsUp.Inc()
	r.log.Infow("session_up", "session", logicalID, "epoch", epoch)
}

// Deregister marks a session down. The handle stays so order epoch checks
// keep working while the counterparty is away.
func (r *Registry) Deregister(logicalID string) {
	r.mu.Lock()
	h, ok := r.sessions[logicalID]
	if ok && h.Up {
		h.Up = false
		metrics.SessionsUp.Dec()
	}
	r.mu.Unlock()

	if ok {
		r.log.Infow("session_down", "session", logicalID)
	}
}

// State returns the current logon epoch and liveness of a session.
func (r *Registry) State(logicalID string) (epoch uint64, up bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.sessions[logicalID]
	if !ok {
		return 0, false
	}
	return h.Epoch, h.Up
}

// Route hands a message fully to the transport or fails synchronously with
// SessionUnavailable. No silent drops.
func (r *Registry) Route(logicalID string, m quickfix.Messagable) error {
	r.mu.RLock()
	h, ok := r.sessions[logicalID]
	var sid quickfix.SessionID
	up := false
	if ok {
		sid = h.SessionID
		up = h.Up
	}
	r.mu.RUnlock()

	if !up {
		return blotter.Errf(blotter.CodeSessionUnavailable, "session %s is not logged on", logicalID)
	}
	if err := r.transport.Send(m, sid); err != nil {
		return blotter.Errf(blotter.CodeSessionUnavailable, "send via session %s: %v", logicalID, err)
	}
	return nil
}

// Sessions lists all known handles for the API.
func (r *Registry) Sessions() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handle, 0, len(r.sessions))
	for _, h := range r.sessions {
		out = append(out, *h)
	}
	return out
}
