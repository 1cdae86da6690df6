package orderbook

import (
	"math/rand"
	"sort"
)

// Book holds the resting orders for a single instrument: one sorted
// side for bids (highest first), one for asks (lowest first), and a
// per-agent index over both. Every mutation keeps the three structures
// consistent within the call; an order is either in its side and the
// index, or in neither.
//
// The book is not safe for concurrent use. The matching engine is its
// sole owner and drives it from a single caller.
type Book struct {
	bids    []*Order // HighestFirst order
	asks    []*Order // LowestFirst order
	byAgent map[int64][]*Order
}

func NewBook() *Book {
	return &Book{
		bids:    make([]*Order, 0),
		asks:    make([]*Order, 0),
		byAgent: make(map[int64][]*Order),
	}
}

func (b *Book) side(s Side) *[]*Order {
	if s == Buy {
		return &b.bids
	}
	return &b.asks
}

func less(s Side) func(a, b *Order) bool {
	if s == Buy {
		return HighestFirst
	}
	return LowestFirst
}

// Insert adds the order to its side and to the per-agent index.
func (b *Book) Insert(o *Order) {
	side := b.side(o.Side)
	cmp := less(o.Side)
	i := sort.Search(len(*side), func(i int) bool {
		return cmp(o, (*side)[i])
	})
	*side = append(*side, nil)
	copy((*side)[i+1:], (*side)[i:])
	(*side)[i] = o

	b.byAgent[o.AgentID] = append(b.byAgent[o.AgentID], o)
}

// Remove takes the order out of its side and the per-agent index.
// Returns false if the order was not resting.
func (b *Book) Remove(o *Order) bool {
	side := b.side(o.Side)
	i, ok := b.find(o)
	if !ok {
		return false
	}
	*side = append((*side)[:i], (*side)[i+1:]...)

	agentOrders := b.byAgent[o.AgentID]
	for j, other := range agentOrders {
		if other == o {
			b.byAgent[o.AgentID] = append(agentOrders[:j], agentOrders[j+1:]...)
			break
		}
	}
	if len(b.byAgent[o.AgentID]) == 0 {
		delete(b.byAgent, o.AgentID)
	}
	return true
}

// find locates a resting order by binary search on its side. The sort
// key must not have been mutated since insertion.
func (b *Book) find(o *Order) (int, bool) {
	side := *b.side(o.Side)
	cmp := less(o.Side)
	i := sort.Search(len(side), func(i int) bool {
		return !cmp(side[i], o)
	})
	if i < len(side) && side[i] == o {
		return i, true
	}
	return 0, false
}

// BestBid returns the highest-priority resting buy order, or nil.
func (b *Book) BestBid() *Order {
	if len(b.bids) == 0 {
		return nil
	}
	return b.bids[0]
}

// BestAsk returns the highest-priority resting sell order, or nil.
func (b *Book) BestAsk() *Order {
	if len(b.asks) == 0 {
		return nil
	}
	return b.asks[0]
}

// BestBidQuantity sums the remaining quantity of every bid at the best
// bid price. Zero if the side is empty.
func (b *Book) BestBidQuantity() int64 {
	return quantityAtBest(b.bids)
}

// BestAskQuantity sums the remaining quantity of every ask at the best
// ask price.
func (b *Book) BestAskQuantity() int64 {
	return quantityAtBest(b.asks)
}

func quantityAtBest(side []*Order) int64 {
	if len(side) == 0 {
		return 0
	}
	best := side[0].Price
	var quantity int64
	for _, o := range side {
		if o.Price != best {
			break
		}
		quantity += o.CurrentQuantity
	}
	return quantity
}

// Top returns up to n of the highest-priority orders on the given side.
// The returned slice shares the resting *Order values but not the
// side's backing array.
func (b *Book) Top(s Side, n int) []*Order {
	side := *b.side(s)
	if n > len(side) {
		n = len(side)
	}
	top := make([]*Order, n)
	copy(top, side[:n])
	return top
}

// Bids returns a snapshot copy of the bid side, best first.
func (b *Book) Bids() []*Order {
	out := make([]*Order, len(b.bids))
	copy(out, b.bids)
	return out
}

// Asks returns a snapshot copy of the ask side, best first.
func (b *Book) Asks() []*Order {
	out := make([]*Order, len(b.asks))
	copy(out, b.asks)
	return out
}

// AgentOrders returns a snapshot of one agent's resting orders, in
// insertion order.
func (b *Book) AgentOrders(agentID int64) []*Order {
	orders := b.byAgent[agentID]
	out := make([]*Order, len(orders))
	copy(out, orders)
	return out
}

// HasOrders reports whether the agent has at least one resting order.
func (b *Book) HasOrders(agentID int64) bool {
	return len(b.byAgent[agentID]) > 0
}

// OldestOrder returns the agent's earliest-submitted resting order
// (lowest id), or nil.
func (b *Book) OldestOrder(agentID int64) *Order {
	var oldest *Order
	for _, o := range b.byAgent[agentID] {
		if oldest == nil || o.ID < oldest.ID {
			oldest = o
		}
	}
	return oldest
}

// RandomOrder returns one of the agent's resting orders drawn from rng,
// or nil if the agent has none. Taking the caller's rng keeps runs
// reproducible under a fixed seed.
func (b *Book) RandomOrder(agentID int64, rng *rand.Rand) *Order {
	orders := b.byAgent[agentID]
	if len(orders) == 0 {
		return nil
	}
	return orders[rng.Intn(len(orders))]
}

// Len returns the total number of resting orders on both sides.
func (b *Book) Len() int {
	return len(b.bids) + len(b.asks)
}
