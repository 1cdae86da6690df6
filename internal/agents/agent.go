// Package agents holds the trading strategies that drive the simulated
// market. Agents are collaborators of the matching engine, never part
// of it: each holds the engine handle and its own id, and acts only
// when the discrete clock says its next Poisson-scheduled event is due.
package agents

import (
	"math"
	"math/rand"

	"auctionsim/internal/engine"
)

// Actor is what the scheduler drives. NextAction is the logical
// millisecond of the agent's next pending event; Act runs every event
// due at or before now and reschedules.
type Actor interface {
	engine.Agent
	ID() int64
	NextAction() int64
	Act(now int64)
}

// noCancel marks an agent without a cancellation process.
const noCancel = math.MaxInt64

// Base carries the bookkeeping all agents share: identity, the engine
// handle, a private seeded rng, inventory tracking, and the two
// exponential event clocks (orders and cancellations) the original
// model schedules agents with.
type Base struct {
	id   int64
	typ  string
	eng  *engine.MatchingEngine
	rng  *rand.Rand
	tick int64

	inventory       int64
	lastOrderTraded bool

	meanOrderGap  float64 // ms between order decisions
	meanCancelGap float64 // ms between cancel decisions, 0 = none
	nextOrder     int64
	nextCancel    int64
}

func newBase(id int64, typ string, eng *engine.MatchingEngine, rng *rand.Rand, tick int64, meanOrderGap, meanCancelGap float64) Base {
	b := Base{
		id:            id,
		typ:           typ,
		eng:           eng,
		rng:           rng,
		tick:          tick,
		meanOrderGap:  meanOrderGap,
		meanCancelGap: meanCancelGap,
		nextCancel:    noCancel,
	}
	b.nextOrder = b.gap(meanOrderGap)
	if meanCancelGap > 0 {
		b.nextCancel = b.gap(meanCancelGap)
	}
	return b
}

func (b *Base) ID() int64 {
	return b.id
}

func (b *Base) Type() string {
	return b.typ
}

// Inventory is the agent's net signed position.
func (b *Base) Inventory() int64 {
	return b.inventory
}

// OrderTraded implements engine.Agent: the engine pushes signed fill
// volume here on every execution touching one of this agent's orders.
func (b *Base) OrderTraded(isBuy bool, volume int64) {
	b.lastOrderTraded = true
	b.inventory += volume
}

func (b *Base) NextAction() int64 {
	return min(b.nextOrder, b.nextCancel)
}

// gap draws an exponential interarrival time, at least one tick of the
// clock so an agent can never act twice in the same millisecond.
func (b *Base) gap(mean float64) int64 {
	return 1 + int64(b.rng.ExpFloat64()*mean)
}

// cancelRandomOrder cancels one of the agent's resting orders, if any.
func (b *Base) cancelRandomOrder() {
	if o := b.eng.RandomOrder(b.id); o != nil {
		b.eng.CancelOrder(o)
	}
}

// cancelOldestOrder cancels the agent's earliest surviving order.
func (b *Base) cancelOldestOrder() {
	if o := b.eng.OldestOrder(b.id); o != nil {
		b.eng.CancelOrder(o)
	}
}

// skipIlliquid swallows the engine's insufficient-liquidity result: for
// an agent a failed market order is simply a skipped action.
func skipIlliquid(err error) {
	_ = err
}
