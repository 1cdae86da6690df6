package engine

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"strings"
	"testing"

	"auctionsim/internal/audit"
	"auctionsim/internal/orderbook"
)

const (
	testPrice = 127000
	testTick  = 25
)

type stubAgent struct {
	inventory int64
	fills     int
}

func (a *stubAgent) Type() string { return "stub" }

func (a *stubAgent) OrderTraded(isBuy bool, volume int64) {
	a.inventory += volume
	a.fills++
}

type informedAgent struct {
	stubAgent
	alerts []int64 // prices
}

func (a *informedAgent) TradeAlert(price, time, volume int64, isBuy bool) {
	a.alerts = append(a.alerts, price)
}

func newTestEngine(t *testing.T, w io.Writer) (*MatchingEngine, *stubAgent, *stubAgent) {
	t.Helper()
	if w == nil {
		w = io.Discard
	}
	logger, err := audit.NewLogger(w, 16)
	if err != nil {
		t.Fatalf("audit logger: %v", err)
	}
	e := New(Config{StartPrice: testPrice, SweepDepth: DefaultSweepDepth}, logger, rand.New(rand.NewSource(1)))
	buyer := &stubAgent{}
	seller := &stubAgent{}
	e.AddAgent(1, buyer)
	e.AddAgent(2, seller)
	e.SetStartingPeriod(false)
	return e, buyer, seller
}

func restSells(e *MatchingEngine, agentID, price int64, quantities ...int64) {
	for _, q := range quantities {
		e.SubmitLimitOrder(agentID, price, q, orderbook.Sell)
	}
}

func TestWillTradeReturnsOldestFirstCandidates(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	restSells(e, 2, testPrice, 1, 2, 1)

	incoming := e.NewOrder(1, testPrice, 4, orderbook.Buy, orderbook.Limit)
	candidates := e.WillTrade(incoming)
	if len(candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(candidates))
	}
	wantQuantities := []int64{1, 2, 1}
	for i, c := range candidates {
		if c.CurrentQuantity != wantQuantities[i] {
			t.Errorf("candidate %d: quantity %d, want %d", i, c.CurrentQuantity, wantQuantities[i])
		}
		if i > 0 && c.ID <= candidates[i-1].ID {
			t.Errorf("candidates not oldest-first at %d", i)
		}
	}
}

func TestWillTradeIgnoresOtherPriceLevels(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	// A better-priced ask exists, but a limit order never crosses into
	// it: only the exact price level matches.
	restSells(e, 2, testPrice-testTick, 5)

	incoming := e.NewOrder(1, testPrice, 4, orderbook.Buy, orderbook.Limit)
	if candidates := e.WillTrade(incoming); candidates != nil {
		t.Fatalf("expected no candidates at a different price level, got %d", len(candidates))
	}
}

func TestWillTradeIsIdempotent(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	restSells(e, 2, testPrice, 2, 3)

	incoming := e.NewOrder(1, testPrice, 4, orderbook.Buy, orderbook.Limit)
	first := e.WillTrade(incoming)
	second := e.WillTrade(incoming)
	if len(first) != len(second) {
		t.Fatalf("candidate counts diverged: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("candidate %d diverged: id %d vs %d", i, first[i].ID, second[i].ID)
		}
	}
}

// Scenario: resting sells [1,2,1] at P; an incoming buy for 4 at P
// consumes all three in submission order.
func TestTradeExactConsumption(t *testing.T) {
	e, buyer, seller := newTestEngine(t, nil)
	restSells(e, 2, testPrice, 1, 2, 1)

	_, traded := e.SubmitLimitOrder(1, testPrice, 4, orderbook.Buy)
	if !traded {
		t.Fatal("expected the buy to trade")
	}
	if n := len(e.SellOrders()); n != 0 {
		t.Errorf("expected empty sell side, got %d orders", n)
	}
	if n := len(e.BuyOrders()); n != 0 {
		t.Errorf("expected empty buy side, got %d orders", n)
	}
	if buyer.inventory != 4 || seller.inventory != -4 {
		t.Errorf("inventories = %d, %d; want 4, -4", buyer.inventory, seller.inventory)
	}
	if e.LastTradePrice() != testPrice {
		t.Errorf("last trade price %d, want %d", e.LastTradePrice(), testPrice)
	}
}

// Scenario: resting sells [2,2,1] at P; an incoming buy for 4 consumes
// the first two and leaves the third resting.
func TestTradeOverSupplyLeavesRemainder(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	restSells(e, 2, testPrice, 2, 2, 1)

	e.SubmitLimitOrder(1, testPrice, 4, orderbook.Buy)

	asks := e.SellOrders()
	if len(asks) != 1 {
		t.Fatalf("expected 1 resting sell, got %d", len(asks))
	}
	if asks[0].CurrentQuantity != 1 {
		t.Errorf("expected untouched remainder quantity 1, got %d", asks[0].CurrentQuantity)
	}
}

// Scenario: resting sells [1,2] at P; an incoming buy for 4 fills from
// both and rests with remaining quantity 1.
func TestTradePartialFillAggressorRests(t *testing.T) {
	e, buyer, _ := newTestEngine(t, nil)
	restSells(e, 2, testPrice, 1, 2)

	buy, traded := e.SubmitLimitOrder(1, testPrice, 4, orderbook.Buy)
	if !traded {
		t.Fatal("expected the buy to trade")
	}
	if n := len(e.SellOrders()); n != 0 {
		t.Errorf("expected empty sell side, got %d", n)
	}
	bids := e.BuyOrders()
	if len(bids) != 1 || bids[0] != buy {
		t.Fatalf("expected the aggressor to rest, got %d bids", len(bids))
	}
	if buy.CurrentQuantity != 1 {
		t.Errorf("aggressor remaining %d, want 1", buy.CurrentQuantity)
	}
	if buyer.inventory != 3 {
		t.Errorf("buyer inventory %d, want 3", buyer.inventory)
	}
}

// Scenario: resting buys of 3 at P and 2 at P-tick; a market sell for 4
// depletes the P level and takes 1 from P-tick.
func TestMarketOrderSweepsLevels(t *testing.T) {
	e, buyer, seller := newTestEngine(t, nil)
	e.SubmitLimitOrder(1, testPrice, 3, orderbook.Buy)
	e.SubmitLimitOrder(1, testPrice-testTick, 2, orderbook.Buy)

	if err := e.TradeMarketOrder(2, 4, false); err != nil {
		t.Fatalf("market order failed: %v", err)
	}
	if got := e.BestBidQuantity(); got != 1 {
		t.Errorf("best bid quantity %d, want 1", got)
	}
	if best := e.BestBid(); best == nil || best.Price != testPrice-testTick {
		t.Errorf("best bid %+v, want price %d", best, testPrice-testTick)
	}
	if seller.inventory != -4 || buyer.inventory != 4 {
		t.Errorf("inventories = %d, %d; want 4, -4", buyer.inventory, seller.inventory)
	}
	if e.LastTradePrice() != testPrice-testTick {
		t.Errorf("last trade price %d, want %d", e.LastTradePrice(), testPrice-testTick)
	}
}

func TestMarketOrderInsufficientLiquidity(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	restSells(e, 2, testPrice, 1, 2)

	err := e.TradeMarketOrder(1, 5, true)
	var insufficient *InsufficientLiquidityError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientLiquidityError, got %v", err)
	}
	if insufficient.Requested != 5 || insufficient.Available != 3 {
		t.Errorf("error = %+v; want requested 5, available 3", insufficient)
	}

	// The failed sweep must leave the book untouched.
	asks := e.SellOrders()
	if len(asks) != 2 || asks[0].CurrentQuantity != 1 || asks[1].CurrentQuantity != 2 {
		t.Errorf("book mutated by failed sweep: %d asks", len(asks))
	}
}

func TestMarketOrderEmptyContraSide(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	err := e.TradeMarketOrder(1, 1, true)
	var insufficient *InsufficientLiquidityError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientLiquidityError, got %v", err)
	}
	if insufficient.Available != 0 {
		t.Errorf("available %d, want 0", insufficient.Available)
	}
}

func TestMarketOrderRespectsSweepDepth(t *testing.T) {
	logger, err := audit.NewLogger(io.Discard, 16)
	if err != nil {
		t.Fatalf("audit logger: %v", err)
	}
	e := New(Config{StartPrice: testPrice, SweepDepth: 2}, logger, nil)
	e.AddAgent(1, &stubAgent{})
	e.AddAgent(2, &stubAgent{})
	e.SetStartingPeriod(false)

	for i := int64(0); i < 3; i++ {
		e.SubmitLimitOrder(2, testPrice+i*testTick, 1, orderbook.Sell)
	}

	// Three units rest, but the window only reaches two of them.
	var insufficient *InsufficientLiquidityError
	if err := e.TradeMarketOrder(1, 3, true); !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientLiquidityError under depth cap, got %v", err)
	}
	if insufficient.Available != 2 {
		t.Errorf("available %d, want 2", insufficient.Available)
	}
}

func TestStartingPeriodCancelsCrossingOrder(t *testing.T) {
	e, buyer, seller := newTestEngine(t, nil)
	e.SetStartingPeriod(true)

	restSells(e, 2, testPrice, 5)
	buy, traded := e.SubmitLimitOrder(1, testPrice, 5, orderbook.Buy)
	if traded {
		t.Fatal("no trade may execute during the starting period")
	}
	if len(e.BuyOrders()) != 0 {
		t.Error("crossing buy must be cancelled, not rest")
	}
	if len(e.SellOrders()) != 1 {
		t.Error("passive sell must survive the cancelled aggressor")
	}
	if buy.CurrentQuantity != 5 {
		t.Errorf("cancelled order retained quantity %d, want 5", buy.CurrentQuantity)
	}
	if buyer.inventory != 0 || seller.inventory != 0 {
		t.Error("inventories must be unchanged during the starting period")
	}

	// Market orders are a no-op while the period is active.
	if err := e.TradeMarketOrder(1, 1, true); err != nil {
		t.Errorf("market order during starting period: %v", err)
	}
}

func TestModifyOrderRepricesAndMatches(t *testing.T) {
	e, buyer, seller := newTestEngine(t, nil)
	restSells(e, 2, testPrice+2*testTick, 2)

	bid, traded := e.SubmitLimitOrder(1, testPrice, 2, orderbook.Buy)
	if traded {
		t.Fatal("bid should rest unmatched")
	}

	if !e.ModifyOrder(bid, testPrice+2*testTick, 2) {
		t.Fatal("expected the repriced bid to trade")
	}
	if len(e.BuyOrders()) != 0 || len(e.SellOrders()) != 0 {
		t.Error("expected both sides empty after the repriced match")
	}
	if buyer.inventory != 2 || seller.inventory != -2 {
		t.Errorf("inventories = %d, %d; want 2, -2", buyer.inventory, seller.inventory)
	}
}

func TestModifyOrderReordersBook(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	low, _ := e.SubmitLimitOrder(1, testPrice-testTick, 1, orderbook.Buy)
	e.SubmitLimitOrder(1, testPrice, 1, orderbook.Buy)

	e.ModifyOrder(low, testPrice+testTick, 1)
	if best := e.BestBid(); best != low {
		t.Errorf("expected repriced order to become best bid, got id %d", best.ID)
	}
}

func TestCancelOrdersAtPrice(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	e.SubmitLimitOrder(1, testPrice, 1, orderbook.Buy)
	e.SubmitLimitOrder(1, testPrice, 2, orderbook.Buy)
	keep, _ := e.SubmitLimitOrder(1, testPrice-testTick, 3, orderbook.Buy)

	e.CancelOrdersAtPrice(1, testPrice)

	bids := e.BuyOrders()
	if len(bids) != 1 || bids[0] != keep {
		t.Fatalf("expected only the off-price order to survive, got %d bids", len(bids))
	}
}

func TestCancelAllOnOneSide(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	e.SubmitLimitOrder(1, testPrice-testTick, 1, orderbook.Buy)
	e.SubmitLimitOrder(1, testPrice-2*testTick, 1, orderbook.Buy)
	e.SubmitLimitOrder(1, testPrice+testTick, 1, orderbook.Sell)

	e.CancelAllBuyOrders(1)
	if len(e.BuyOrders()) != 0 {
		t.Error("expected all buys cancelled")
	}
	if len(e.SellOrders()) != 1 {
		t.Error("sells must survive CancelAllBuyOrders")
	}

	e.CancelAllSellOrders(1)
	if e.AgentHasOrders(1) {
		t.Error("expected agent 1 to have no resting orders")
	}
}

func TestInformedAgentReceivesTradeAlerts(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	informed := &informedAgent{}
	e.AddAgent(3, informed)

	e.SubmitLimitOrder(3, testPrice, 2, orderbook.Sell)
	e.SubmitLimitOrder(1, testPrice, 2, orderbook.Buy)

	if len(informed.alerts) != 1 {
		t.Fatalf("expected 1 trade alert, got %d", len(informed.alerts))
	}
	if informed.alerts[0] != testPrice {
		t.Errorf("alert price %d, want %d", informed.alerts[0], testPrice)
	}
	if informed.inventory != -2 {
		t.Errorf("informed inventory %d, want -2", informed.inventory)
	}
}

func TestTradeBatchSharesMatchID(t *testing.T) {
	var buf bytes.Buffer
	e, _, _ := newTestEngine(t, &buf)
	restSells(e, 2, testPrice, 1, 2, 1)
	e.SubmitLimitOrder(1, testPrice, 4, orderbook.Buy)

	// Flush and pick out the trade rows; all six legs of the batch
	// must carry the same trade-match id.
	if err := e.log.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	var matchIDs []string
	for _, line := range strings.Split(buf.String(), "\n") {
		fields := strings.Split(line, ",")
		if len(fields) == 16 && fields[5] == "105" {
			matchIDs = append(matchIDs, fields[15])
		}
	}
	if len(matchIDs) != 6 {
		t.Fatalf("expected 6 trade rows (3 pairings x 2 legs), got %d", len(matchIDs))
	}
	for _, id := range matchIDs[1:] {
		if id != matchIDs[0] {
			t.Errorf("trade rows carry different match ids: %v", matchIDs)
		}
	}
}

func TestNetInventoryIsConserved(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	agents := make([]*stubAgent, 6)
	for i := range agents {
		agents[i] = &stubAgent{}
		e.AddAgent(int64(10+i), agents[i])
	}

	rng := rand.New(rand.NewSource(99))
	for i := 0; i < 500; i++ {
		id := int64(10 + rng.Intn(len(agents)))
		price := testPrice + int64(rng.Intn(5)-2)*testTick
		side := orderbook.Buy
		if rng.Intn(2) == 0 {
			side = orderbook.Sell
		}
		e.SubmitLimitOrder(id, price, int64(1+rng.Intn(4)), side)
	}

	var net int64
	for _, a := range agents {
		net += a.inventory
	}
	if net != 0 {
		t.Errorf("net inventory %d, want 0", net)
	}

	// After every completed operation no price level may be resting on
	// both sides at once: same-priced contras always match.
	askPrices := make(map[int64]bool)
	for _, o := range e.SellOrders() {
		askPrices[o.Price] = true
	}
	for _, o := range e.BuyOrders() {
		if askPrices[o.Price] {
			t.Errorf("price %d resting on both sides", o.Price)
		}
	}
}

func TestQueryHelpers(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	if e.AgentHasOrders(1) {
		t.Error("fresh book should have no orders")
	}
	first, _ := e.SubmitLimitOrder(1, testPrice-testTick, 1, orderbook.Buy)
	e.SubmitLimitOrder(1, testPrice-2*testTick, 1, orderbook.Buy)

	if o := e.OldestOrder(1); o != first {
		t.Errorf("expected oldest order id %d, got %d", first.ID, o.ID)
	}
	if o := e.RandomOrder(1); o == nil {
		t.Error("expected a random order draw")
	}
	if !e.AgentHasOrders(1) {
		t.Error("expected agent 1 to have orders")
	}

	e.IncrementTime()
	e.IncrementTime()
	if e.Time() != 2 {
		t.Errorf("clock %d, want 2", e.Time())
	}
}
