package agents

import (
	"math/rand"

	"auctionsim/internal/engine"
	"auctionsim/internal/orderbook"
)

// fundamentalLadder is the cumulative probability ladder for how many
// ticks away from the last trade price a fundamental agent quotes.
// First edge not listed: below 0.14 the agent sends a market order
// instead. Offsets run 1..10 ticks.
var fundamentalLadder = []float64{0.41, 0.52, 0.61, 0.68, 0.75, 0.82, 0.87, 0.92, 0.97}

func ladderOffset(p float64) int64 {
	for i, edge := range fundamentalLadder {
		if p < edge {
			return int64(i + 1)
		}
	}
	return 10
}

// Fundamental is a one-directional agent: a buyer only ever bids below
// the last trade price, a seller only ever offers above it. Order and
// cancel arrivals are independent Poisson processes.
type Fundamental struct {
	Base
	side orderbook.Side
}

func NewFundamentalBuyer(id int64, eng *engine.MatchingEngine, rng *rand.Rand, tick int64, meanOrderGap, meanCancelGap float64) *Fundamental {
	return &Fundamental{
		Base: newBase(id, "FundBuyer", eng, rng, tick, meanOrderGap, meanCancelGap),
		side: orderbook.Buy,
	}
}

func NewFundamentalSeller(id int64, eng *engine.MatchingEngine, rng *rand.Rand, tick int64, meanOrderGap, meanCancelGap float64) *Fundamental {
	return &Fundamental{
		Base: newBase(id, "FundSeller", eng, rng, tick, meanOrderGap, meanCancelGap),
		side: orderbook.Sell,
	}
}

func (f *Fundamental) Act(now int64) {
	if now >= f.nextCancel {
		f.cancelRandomOrder()
		f.nextCancel = now + f.gap(f.meanCancelGap)
	}
	if now >= f.nextOrder {
		f.makeOrder()
		f.nextOrder = now + f.gap(f.meanOrderGap)
	}
}

func (f *Fundamental) makeOrder() {
	p := f.rng.Float64()
	if p < 0.14 {
		skipIlliquid(f.eng.TradeMarketOrder(f.id, 1, f.side == orderbook.Buy))
		return
	}
	offset := ladderOffset(p) * f.tick
	price := f.eng.LastTradePrice()
	if f.side == orderbook.Buy {
		price -= offset
	} else {
		price += offset
	}
	f.eng.SubmitLimitOrder(f.id, price, 1, f.side)
}

// fastLadder is the cumulative tick-offset ladder a fast trader quotes
// inside of: offsets 1..8 from the touch with probabilities
// 2/15/20/15/15/15/13/5%.
var fastLadder = []float64{0.02, 0.17, 0.37, 0.52, 0.67, 0.82, 0.95}

func fastOffset(p float64) int64 {
	for i, edge := range fastLadder {
		if p < edge {
			return int64(i + 1)
		}
	}
	return 8
}

// FastTrader leans with the book imbalance and keeps its inventory
// inside a hard band, dumping a whole side of its resting orders when
// the band is breached. Cancels work oldest-first, so its quotes churn.
type FastTrader struct {
	Base
	maxInventory int64
}

func NewFastTrader(id int64, eng *engine.MatchingEngine, rng *rand.Rand, tick int64, meanOrderGap, meanCancelGap float64) *FastTrader {
	return &FastTrader{
		Base:         newBase(id, "FastTrader", eng, rng, tick, meanOrderGap, meanCancelGap),
		maxInventory: 20,
	}
}

func (t *FastTrader) Act(now int64) {
	if now >= t.nextCancel {
		t.cancelOldestOrder()
		t.nextCancel = now + t.gap(t.meanCancelGap)
	}
	if now >= t.nextOrder {
		t.makeOrder()
		t.nextOrder = now + t.gap(t.meanOrderGap)
	}
}

func (t *FastTrader) makeOrder() {
	bid := t.eng.BestBid()
	ask := t.eng.BestAsk()
	if bid == nil || ask == nil {
		return
	}

	// Buy probability tracks the bid's share of the touch prices,
	// bucketed to tenths.
	factor := float64(bid.Price) / float64(bid.Price+ask.Price)
	bucket := min(int(factor*10)+1, 9)
	willBuy := t.rng.Float64() < float64(bucket)/10

	// The inventory band overrides the trend.
	if t.inventory >= t.maxInventory {
		t.eng.CancelAllBuyOrders(t.id)
		willBuy = false
	}
	if t.inventory <= -t.maxInventory {
		t.eng.CancelAllSellOrders(t.id)
		willBuy = true
	}

	offset := (fastOffset(t.rng.Float64()) - 1) * t.tick
	if willBuy {
		t.eng.SubmitLimitOrder(t.id, bid.Price-offset, 1, orderbook.Buy)
	} else {
		t.eng.SubmitLimitOrder(t.id, ask.Price+offset, 1, orderbook.Sell)
	}
}

// MarketMaker keeps a two-sided quote a fixed number of ticks around
// the most recent trade it has seen, requoting by cancelling the stale
// price level. It exposes the Informed capability, so the engine pushes
// every fill on its orders straight to TradeAlert.
type MarketMaker struct {
	Base
	spreadTicks int64
	quoteSize   int64
	bidQuote    int64 // currently quoted prices, 0 = none
	askQuote    int64
	lastSeen    int64 // last traded price pushed via TradeAlert
}

func NewMarketMaker(id int64, eng *engine.MatchingEngine, rng *rand.Rand, tick int64, meanOrderGap float64) *MarketMaker {
	return &MarketMaker{
		Base:        newBase(id, "MarketMaker", eng, rng, tick, meanOrderGap, 0),
		spreadTicks: 2,
		quoteSize:   3,
	}
}

// TradeAlert implements engine.Informed.
func (m *MarketMaker) TradeAlert(price, time, volume int64, isBuy bool) {
	m.lastSeen = price
}

func (m *MarketMaker) Act(now int64) {
	if now < m.nextOrder {
		return
	}
	m.requote()
	m.nextOrder = now + m.gap(m.meanOrderGap)
}

func (m *MarketMaker) requote() {
	center := m.eng.LastTradePrice()
	if m.lastSeen != 0 {
		center = m.lastSeen
	}
	newBid := center - m.spreadTicks*m.tick
	newAsk := center + m.spreadTicks*m.tick

	if m.bidQuote != 0 && m.bidQuote != newBid {
		m.eng.CancelOrdersAtPrice(m.id, m.bidQuote)
		m.bidQuote = 0
	}
	if m.askQuote != 0 && m.askQuote != newAsk {
		m.eng.CancelOrdersAtPrice(m.id, m.askQuote)
		m.askQuote = 0
	}

	if m.bidQuote == 0 {
		m.eng.SubmitLimitOrder(m.id, newBid, m.quoteSize, orderbook.Buy)
		m.bidQuote = newBid
	}
	if m.askQuote == 0 {
		m.eng.SubmitLimitOrder(m.id, newAsk, m.quoteSize, orderbook.Sell)
		m.askQuote = newAsk
	}
}

// PopulationConfig sizes the standard agent mix.
type PopulationConfig struct {
	FundBuyers   int
	FundSellers  int
	FastTraders  int
	MarketMakers int
	Tick         int64
}

func DefaultPopulation() PopulationConfig {
	return PopulationConfig{
		FundBuyers:   40,
		FundSellers:  40,
		FastTraders:  4,
		MarketMakers: 2,
		Tick:         25,
	}
}

// NewPopulation builds the agent mix, registers every agent with the
// engine, and returns them in id order. Each agent gets its own rng
// seeded from the parent source so runs replay exactly.
func NewPopulation(eng *engine.MatchingEngine, rng *rand.Rand, cfg PopulationConfig) []Actor {
	var actors []Actor
	var nextID int64

	add := func(build func(id int64, agentRNG *rand.Rand) Actor) {
		nextID++
		a := build(nextID, rand.New(rand.NewSource(rng.Int63())))
		eng.AddAgent(a.ID(), a)
		actors = append(actors, a)
	}

	for i := 0; i < cfg.FundBuyers; i++ {
		add(func(id int64, r *rand.Rand) Actor {
			return NewFundamentalBuyer(id, eng, r, cfg.Tick, 3000, 6000)
		})
	}
	for i := 0; i < cfg.FundSellers; i++ {
		add(func(id int64, r *rand.Rand) Actor {
			return NewFundamentalSeller(id, eng, r, cfg.Tick, 3000, 6000)
		})
	}
	for i := 0; i < cfg.FastTraders; i++ {
		add(func(id int64, r *rand.Rand) Actor {
			return NewFastTrader(id, eng, r, cfg.Tick, 300, 700)
		})
	}
	for i := 0; i < cfg.MarketMakers; i++ {
		add(func(id int64, r *rand.Rand) Actor {
			return NewMarketMaker(id, eng, r, cfg.Tick, 1000)
		})
	}
	return actors
}
