package marketsim

import (
	"math/rand"
	"sync"
)

// MarketSim is a seeded random-walk price process per symbol. All methods
// are safe for concurrent use.
type MarketSim struct {
	mu         sync.Mutex
	rng        *rand.Rand
	startPrice float64
	step       float64
	last       map[string]float64
}

// FillResult is the outcome of one fill attempt against the walk.
type FillResult struct {
	FillQty  int64
	FillPx   float64
	Complete bool
}

func New(seed int64, startPrice, step float64) *MarketSim {
	return &MarketSim{
		rng:        rand.New(rand.NewSource(seed)),
		startPrice: startPrice,
		step:       step,
		last:       make(map[string]float64),
	}
}

// Mark returns the current price without advancing the walk.
func (m *MarketSim) Mark(symbol string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	px, ok := m.last[symbol]
	if !ok {
		m.last[symbol] = m.startPrice
		return m.startPrice
	}
	return px
}

// NextTick advances the walk for symbol and returns the new price.
func (m *MarketSim) NextTick(symbol string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextTickLocked(symbol)
}

func (m *MarketSim) nextTickLocked(symbol string) float64 {
	px, ok := m.last[symbol]
	if !ok || px == 0 {
		px = m.startPrice
	}
	px += m.rng.NormFloat64() * m.step
	if px < 0.01 {
		px = 0.01
	}
	m.last[symbol] = px
	return px
}

// ShouldFill advances the walk once and reports whether the new price
// crosses the limit for the given side.
func (m *MarketSim) ShouldFill(symbol string, buy bool, limitPx float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	px := m.nextTickLocked(symbol)
	if buy {
		return px <= limitPx
	}
	return px >= limitPx
}

// AttemptFill advances the walk and, when the price crosses the limit,
// returns a fill. Orders at or under 100 shares fill whole; larger orders
// fill a random 20 to 100 percent of what remains.
func (m *MarketSim) AttemptFill(symbol string, buy bool, limitPx float64, leavesQty int64) FillResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result FillResult
	if leavesQty <= 0 {
		return result
	}

	px := m.nextTickLocked(symbol)
	crossed := (buy && px <= limitPx) || (!buy && px >= limitPx)
	if !crossed {
		return result
	}

	if leavesQty <= 100 {
		result.FillQty = leavesQty
	} else {
		ratio := 0.2 + 0.8*m.rng.Float64()
		result.FillQty = int64(float64(leavesQty) * ratio)
		if result.FillQty < 1 {
			result.FillQty = 1
		}
	}
	if result.FillQty > leavesQty {
		result.FillQty = leavesQty
	}
	result.FillPx = px
	result.Complete = result.FillQty >= leavesQty
	return result
}
