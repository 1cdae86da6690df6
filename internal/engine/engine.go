// Package engine implements the matching core of the simulated market:
// order lifecycle, same-price matching, market-order sweeps, and the
// audit/visualization event stream. The engine is the sole owner of the
// order book and the per-agent index; collaborators interact only
// through its methods and the callbacks it makes on registered agent
// handles.
package engine

import (
	"fmt"
	"math/rand"

	"auctionsim/internal/audit"
	"auctionsim/internal/orderbook"
)

// Agent is the handle the engine calls back on when an agent's order
// trades. Type is used for audit rows only.
type Agent interface {
	Type() string
	// OrderTraded reports a fill on one of the agent's orders. isBuy is
	// the side of the agent's own leg; volume is signed: positive for
	// the buy side, negative for the sell side.
	OrderTraded(isBuy bool, volume int64)
}

// Informed is an optional capability on an Agent. Handles that expose
// it are alerted on every fill touching one of their orders, with the
// leg's price, the logical time, the traded volume and the leg's side.
// The engine checks for the capability once, at registration.
type Informed interface {
	TradeAlert(price, time, volume int64, isBuy bool)
}

// VisualizationSink receives one-way depth and trade events. Calls must
// not feed back into the engine.
type VisualizationSink interface {
	AddOrder(isBuy bool, volumeDelta, price int64)
	AddTrade(seconds float64, price int64)
}

// DefaultSweepDepth bounds how many resting contra orders a market
// order may examine. Inherited from the original model as a liquidity
// depth limit; configurable via Config.SweepDepth.
const DefaultSweepDepth = 10

type Config struct {
	// StartPrice seeds the last-trade price before any trade occurs,
	// in cents.
	StartPrice int64
	// SweepDepth caps the candidate window of a market-order sweep.
	SweepDepth int
}

func DefaultConfig() Config {
	return Config{
		StartPrice: 127000,
		SweepDepth: DefaultSweepDepth,
	}
}

// InsufficientLiquidityError reports a market-order sweep whose bounded
// candidate window could not cover the requested quantity. The book is
// left untouched.
type InsufficientLiquidityError struct {
	Side      orderbook.Side // side that was swept
	Requested int64
	Available int64
}

func (e *InsufficientLiquidityError) Error() string {
	return fmt.Sprintf("insufficient liquidity: %s side has %d of %d requested",
		e.Side, e.Available, e.Requested)
}

// MatchingEngine orchestrates the order lifecycle for one instrument.
// It is single-threaded by design: every operation runs to completion
// before the driver issues the next call, so book, per-agent index and
// audit buffer are mutated atomically with respect to all observers.
type MatchingEngine struct {
	book     *orderbook.Book
	agents   map[int64]Agent
	informed map[int64]Informed
	log      *audit.Logger
	viz      VisualizationSink
	rng      *rand.Rand

	clock          int64 // logical ms, audit timestamp only
	nextOrderID    int64
	nextMatchID    int64
	lastTradePrice int64
	startingPeriod bool
	sweepDepth     int
}

// New creates an engine over an empty book. The engine starts inside
// the starting period; the driver ends it when the warm-up window
// elapses. rng may be nil, in which case a fixed-seed source is used.
func New(cfg Config, log *audit.Logger, rng *rand.Rand) *MatchingEngine {
	if cfg.SweepDepth <= 0 {
		cfg.SweepDepth = DefaultSweepDepth
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &MatchingEngine{
		book:           orderbook.NewBook(),
		agents:         make(map[int64]Agent),
		informed:       make(map[int64]Informed),
		log:            log,
		rng:            rng,
		lastTradePrice: cfg.StartPrice,
		startingPeriod: true,
		sweepDepth:     cfg.SweepDepth,
	}
}

// SetVisualization attaches an optional one-way event sink.
func (e *MatchingEngine) SetVisualization(v VisualizationSink) {
	e.viz = v
}

// AddAgent registers an agent handle under its id. Handles exposing the
// Informed capability are noted here so the hot path never repeats the
// check.
func (e *MatchingEngine) AddAgent(id int64, a Agent) {
	e.agents[id] = a
	if in, ok := a.(Informed); ok {
		e.informed[id] = in
	}
}

// NewOrder allocates the next monotonic order id and builds an order
// around it. The order is not yet in the book.
func (e *MatchingEngine) NewOrder(agentID, price, quantity int64, side orderbook.Side, kind orderbook.Kind) *orderbook.Order {
	e.nextOrderID++
	return orderbook.NewOrder(e.nextOrderID, agentID, price, quantity, side, kind)
}

// SubmitLimitOrder creates and books a limit order for the agent.
// Returns the order and whether at least one trade executed.
func (e *MatchingEngine) SubmitLimitOrder(agentID, price, quantity int64, side orderbook.Side) (*orderbook.Order, bool) {
	o := e.NewOrder(agentID, price, quantity, side, orderbook.Limit)
	return o, e.CreateOrder(o)
}

// CreateOrder inserts the order into its side and the per-agent index,
// logs the new-order event, then attempts matching. Returns whether at
// least one trade executed.
func (e *MatchingEngine) CreateOrder(o *orderbook.Order) bool {
	e.book.Insert(o)
	e.logOrder(o, audit.MsgNew, 0, 0)
	return e.Trade(o, e.WillTrade(o))
}

// ModifyOrder reprices and resizes a resting order, then attempts
// matching. The book sort key is never mutated in place: the order is
// removed, changed, and reinserted. The audit deltas are relative to
// the order's pre-modification state.
func (e *MatchingEngine) ModifyOrder(o *orderbook.Order, newPrice, newQuantity int64) bool {
	quantityDelta := newQuantity - o.CurrentQuantity
	priceDelta := newPrice - o.Price

	e.book.Remove(o)
	o.SetPrice(newPrice)
	o.SetQuantity(newQuantity)
	e.book.Insert(o)

	e.logOrder(o, audit.MsgModify, quantityDelta, priceDelta)
	return e.Trade(o, e.WillTrade(o))
}

// CancelOrder removes the order from its side and the per-agent index
// and logs the cancellation with the full remaining quantity as the
// delta.
func (e *MatchingEngine) CancelOrder(o *orderbook.Order) {
	e.book.Remove(o)
	e.logOrder(o, audit.MsgCancel, -o.CurrentQuantity, 0)
}

// CancelOrdersAtPrice cancels every resting order the agent has at the
// given price.
func (e *MatchingEngine) CancelOrdersAtPrice(agentID, price int64) {
	for _, o := range e.book.AgentOrders(agentID) {
		if o.Price == price {
			e.CancelOrder(o)
		}
	}
}

// CancelAllBuyOrders cancels every resting buy order of the agent.
func (e *MatchingEngine) CancelAllBuyOrders(agentID int64) {
	e.cancelAllOnSide(agentID, orderbook.Buy)
}

// CancelAllSellOrders cancels every resting sell order of the agent.
func (e *MatchingEngine) CancelAllSellOrders(agentID int64) {
	e.cancelAllOnSide(agentID, orderbook.Sell)
}

func (e *MatchingEngine) cancelAllOnSide(agentID int64, side orderbook.Side) {
	for _, o := range e.book.AgentOrders(agentID) {
		if o.Side == side {
			e.CancelOrder(o)
		}
	}
}

// WillTrade scans the contra side for resting orders priced exactly at
// the incoming order's price. Candidates come back oldest-first (time
// priority); nil means the order rests unmatched. The list may carry
// more cumulative quantity than the incoming order needs — Trade
// consumes it sequentially.
//
// A limit order never crosses into a better contra price level; only
// market-order sweeps walk levels. That asymmetry is inherited from the
// model on purpose.
func (e *MatchingEngine) WillTrade(o *orderbook.Order) []*orderbook.Order {
	var contra []*orderbook.Order
	if o.IsBuy() {
		contra = e.book.Asks()
	} else {
		contra = e.book.Bids()
	}
	var candidates []*orderbook.Order
	for _, resting := range contra {
		if resting.Price == o.Price {
			candidates = append(candidates, resting)
		}
	}
	// The contra side is price-then-id sorted, so the equal-price run
	// is already in submission order.
	return candidates
}

// Trade executes the aggressor against the candidate list. During the
// starting period any order that would trade is cancelled instead and
// no trade is recorded. All legs of one call share a trade-match id.
// Returns whether at least one trade executed.
func (e *MatchingEngine) Trade(aggressor *orderbook.Order, candidates []*orderbook.Order) bool {
	if len(candidates) == 0 {
		return false
	}
	if e.startingPeriod {
		e.CancelOrder(aggressor)
		return false
	}

	price := aggressor.Price
	e.lastTradePrice = candidates[0].Price
	matchID := e.nextMatchID
	e.nextMatchID++

	for _, passive := range candidates {
		if aggressor.Filled() {
			break
		}
		e.tradeLeg(aggressor, passive, matchID)
	}

	if e.viz != nil {
		e.viz.AddTrade(float64(e.clock)/1000, price)
	}
	return true
}

// tradeLeg fills the aggressor against one passive order. The traded
// volume is the smaller remaining quantity, so at least one leg zeroes
// out; any zeroed leg leaves the book and the per-agent index before
// its quantity is touched, keeping the sort-key contract intact.
func (e *MatchingEngine) tradeLeg(aggressor, passive *orderbook.Order, matchID int64) int64 {
	price := passive.Price
	e.lastTradePrice = price

	volume := min(aggressor.CurrentQuantity, passive.CurrentQuantity)
	if volume == aggressor.CurrentQuantity {
		e.book.Remove(aggressor)
	}
	if volume == passive.CurrentQuantity {
		e.book.Remove(passive)
	}
	aggressor.SetQuantity(aggressor.CurrentQuantity - volume)
	passive.SetQuantity(passive.CurrentQuantity - volume)

	e.logTrade(aggressor, aggressor.Kind == orderbook.Market, price, volume, true, matchID)
	e.logTrade(passive, false, price, volume, false, matchID)

	delta := volume
	if !aggressor.IsBuy() {
		delta = -volume
	}
	e.notifyTraded(aggressor.AgentID, aggressor.IsBuy(), delta)
	e.notifyTraded(passive.AgentID, passive.IsBuy(), -delta)
	e.alertInformed(aggressor, volume)
	e.alertInformed(passive, volume)

	return volume
}

// TradeMarketOrder sweeps the contra side for the requested quantity.
// It examines at most SweepDepth resting orders, accumulates the
// (price, quantity) pairs needed, and submits them best-price-first as
// ordinary limit orders that match immediately. If the window cannot
// cover the request, a typed error is returned and the book is left
// untouched. A no-op during the starting period.
func (e *MatchingEngine) TradeMarketOrder(agentID, quantity int64, buy bool) error {
	if e.startingPeriod {
		return nil
	}

	contra := orderbook.Sell
	if !buy {
		contra = orderbook.Buy
	}
	window := e.book.Top(contra, e.sweepDepth)

	type fill struct {
		price    int64
		quantity int64
	}
	var fills []fill
	remaining := quantity
	for _, o := range window {
		take := min(remaining, o.CurrentQuantity)
		if n := len(fills); n > 0 && fills[n-1].price == o.Price {
			fills[n-1].quantity += take
		} else {
			fills = append(fills, fill{price: o.Price, quantity: take})
		}
		remaining -= take
		if remaining == 0 {
			break
		}
	}
	if remaining > 0 {
		return &InsufficientLiquidityError{
			Side:      contra,
			Requested: quantity,
			Available: quantity - remaining,
		}
	}

	side := orderbook.Buy
	if !buy {
		side = orderbook.Sell
	}
	for _, f := range fills {
		e.CreateOrder(e.NewOrder(agentID, f.price, f.quantity, side, orderbook.Market))
	}
	return nil
}

// Query surface.

// BestBid returns the highest-priority resting buy order, or nil.
func (e *MatchingEngine) BestBid() *orderbook.Order { return e.book.BestBid() }

// BestAsk returns the highest-priority resting sell order, or nil.
func (e *MatchingEngine) BestAsk() *orderbook.Order { return e.book.BestAsk() }

// BestBidQuantity sums remaining quantity across all bids at the best
// bid price.
func (e *MatchingEngine) BestBidQuantity() int64 { return e.book.BestBidQuantity() }

// BestAskQuantity sums remaining quantity across all asks at the best
// ask price.
func (e *MatchingEngine) BestAskQuantity() int64 { return e.book.BestAskQuantity() }

// LastTradePrice is the price of the most recent trade, seeded from
// Config.StartPrice before any trade occurs.
func (e *MatchingEngine) LastTradePrice() int64 { return e.lastTradePrice }

// BuyOrders returns a snapshot copy of the bid side, best first.
func (e *MatchingEngine) BuyOrders() []*orderbook.Order { return e.book.Bids() }

// SellOrders returns a snapshot copy of the ask side, best first.
func (e *MatchingEngine) SellOrders() []*orderbook.Order { return e.book.Asks() }

// RandomOrder returns one of the agent's resting orders, or nil. The
// draw uses the engine's seeded rng so runs stay reproducible.
func (e *MatchingEngine) RandomOrder(agentID int64) *orderbook.Order {
	return e.book.RandomOrder(agentID, e.rng)
}

// OldestOrder returns the agent's earliest-submitted resting order, or
// nil.
func (e *MatchingEngine) OldestOrder(agentID int64) *orderbook.Order {
	return e.book.OldestOrder(agentID)
}

// AgentHasOrders reports whether the agent has any resting orders.
func (e *MatchingEngine) AgentHasOrders(agentID int64) bool {
	return e.book.HasOrders(agentID)
}

// SetStartingPeriod toggles the no-trade warm-up window.
func (e *MatchingEngine) SetStartingPeriod(on bool) { e.startingPeriod = on }

// IsStartingPeriod reports whether the warm-up window is active.
func (e *MatchingEngine) IsStartingPeriod() bool { return e.startingPeriod }

// IncrementTime advances the logical millisecond clock. Driven by the
// external scheduler; used only as the audit timestamp.
func (e *MatchingEngine) IncrementTime() { e.clock++ }

// Time returns the current logical millisecond.
func (e *MatchingEngine) Time() int64 { return e.clock }

// MatchCount returns the number of trade batches executed so far.
func (e *MatchingEngine) MatchCount() int64 { return e.nextMatchID }

func (e *MatchingEngine) notifyTraded(agentID int64, isBuy bool, volume int64) {
	if a, ok := e.agents[agentID]; ok {
		a.OrderTraded(isBuy, volume)
	}
}

func (e *MatchingEngine) alertInformed(o *orderbook.Order, volume int64) {
	if in, ok := e.informed[o.AgentID]; ok {
		in.TradeAlert(o.Price, e.clock, volume, o.IsBuy())
	}
}

func (e *MatchingEngine) agentType(agentID int64) string {
	if a, ok := e.agents[agentID]; ok {
		return a.Type()
	}
	return "unknown"
}

func (e *MatchingEngine) bestBidPrice() int64 {
	if o := e.book.BestBid(); o != nil {
		return o.Price
	}
	return 0
}

func (e *MatchingEngine) bestAskPrice() int64 {
	if o := e.book.BestAsk(); o != nil {
		return o.Price
	}
	return 0
}

// logOrder records a book event (new/modify/cancel) in the audit
// buffer and mirrors the depth change to the visualization sink. For a
// reprice, the old level is drained and the new one credited.
func (e *MatchingEngine) logOrder(o *orderbook.Order, kind int, quantityDelta, priceDelta int64) {
	if e.viz != nil {
		switch kind {
		case audit.MsgNew:
			e.viz.AddOrder(o.IsBuy(), o.CurrentQuantity, o.Price)
		case audit.MsgModify:
			if priceDelta != 0 {
				e.viz.AddOrder(o.IsBuy(), -(o.CurrentQuantity - quantityDelta), o.Price-priceDelta)
				e.viz.AddOrder(o.IsBuy(), o.CurrentQuantity, o.Price)
			} else {
				e.viz.AddOrder(o.IsBuy(), quantityDelta, o.Price)
			}
		case audit.MsgCancel:
			e.viz.AddOrder(o.IsBuy(), quantityDelta, o.Price)
		}
	}
	e.log.Append(audit.Event{
		Time:             e.clock,
		BestBid:          e.bestBidPrice(),
		BestAsk:          e.bestAskPrice(),
		AgentID:          o.AgentID,
		AgentType:        e.agentType(o.AgentID),
		Kind:             kind,
		Buy:              o.IsBuy(),
		OrderID:          o.ID,
		OriginalQuantity: o.OriginalQuantity,
		Price:            o.Price,
		Market:           o.Kind == orderbook.Market,
		LeavesQuantity:   o.CurrentQuantity,
	})
}

// logTrade records one leg of an execution and mirrors the consumed
// volume to the visualization sink.
func (e *MatchingEngine) logTrade(o *orderbook.Order, market bool, tradePrice, volume int64, aggressor bool, matchID int64) {
	if e.viz != nil {
		e.viz.AddOrder(o.IsBuy(), -volume, tradePrice)
	}
	e.log.Append(audit.Event{
		Time:             e.clock,
		BestBid:          e.bestBidPrice(),
		BestAsk:          e.bestAskPrice(),
		AgentID:          o.AgentID,
		AgentType:        e.agentType(o.AgentID),
		Kind:             audit.MsgTrade,
		Buy:              o.IsBuy(),
		OrderID:          o.ID,
		OriginalQuantity: o.OriginalQuantity,
		Price:            o.Price,
		Market:           market,
		LeavesQuantity:   o.CurrentQuantity,
		TradePrice:       tradePrice,
		Volume:           volume,
		Aggressor:        aggressor,
		MatchID:          matchID,
	})
}
