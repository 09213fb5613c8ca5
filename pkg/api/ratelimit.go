package api

import (
	"sync"

	"golang.org/x/time/rate"
)

// ipLimits holds per-client-IP token buckets, one set for order entry and a
// tighter one for cancels/replaces. A zero budget disables that limiter.
type ipLimits struct {
	mu      sync.Mutex
	orders  map[string]*rate.Limiter
	cancels map[string]*rate.Limiter

	orderLimit  rate.Limit
	orderBurst  int
	cancelLimit rate.Limit
	cancelBurst int
}

func newIPLimits(ordersPerMin, cancelsPerMin int) *ipLimits {
	return &ipLimits{
		orders:      make(map[string]*rate.Limiter),
		cancels:     make(map[string]*rate.Limiter),
		orderLimit:  rate.Limit(float64(ordersPerMin) / 60.0),
		orderBurst:  ordersPerMin,
		cancelLimit: rate.Limit(float64(cancelsPerMin) / 60.0),
		cancelBurst: cancelsPerMin,
	}
}

func (l *ipLimits) allowOrder(ip string) bool {
	if l.orderBurst <= 0 {
		return true
	}
	return l.limiter(l.orders, ip, l.orderLimit, l.orderBurst).Allow()
}

func (l *ipLimits) allowCancel(ip string) bool {
	if l.cancelBurst <= 0 {
		return true
	}
	return l.limiter(l.cancels, ip, l.cancelLimit, l.cancelBurst).Allow()
}

func (l *ipLimits) limiter(m map[string]*rate.Limiter, ip string, limit rate.Limit, burst int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := m[ip]
	if !ok {
		lim = rate.NewLimiter(limit, burst)
		m[ip] = lim
	}
	return lim
}
