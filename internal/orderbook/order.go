package orderbook

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Opposite returns the contra side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type Kind int

const (
	Limit Kind = iota
	// Market orders never rest as-is: the engine materializes them into
	// immediately-matching limit orders before they reach the book. The
	// kind survives on those synthetic orders so the audit trail can
	// tell the two apart.
	Market
)

func (k Kind) String() string {
	if k == Market {
		return "Market"
	}
	return "Limit"
}

// Order is a single resting or incoming order. ID is assigned once at
// creation, monotonically, and doubles as the time-priority tie-break:
// a lower id was submitted earlier and wins at equal price.
type Order struct {
	ID               int64
	AgentID          int64
	Price            int64 // cents
	OriginalQuantity int64
	CurrentQuantity  int64
	Side             Side
	Kind             Kind
}

func NewOrder(id, agentID, price, quantity int64, side Side, kind Kind) *Order {
	return &Order{
		ID:               id,
		AgentID:          agentID,
		Price:            price,
		OriginalQuantity: quantity,
		CurrentQuantity:  quantity,
		Side:             side,
		Kind:             kind,
	}
}

func (o *Order) IsBuy() bool {
	return o.Side == Buy
}

// Filled reports whether the order has no unfilled quantity left.
func (o *Order) Filled() bool {
	return o.CurrentQuantity == 0
}

// SetPrice mutates the book sort key. The order must not be resident in
// a book side when this is called: remove first, mutate, reinsert.
func (o *Order) SetPrice(price int64) {
	o.Price = price
}

// SetQuantity replaces the remaining quantity. Same residency rule as
// SetPrice: a side that has already ranked the order is never mutated
// underneath.
func (o *Order) SetQuantity(quantity int64) {
	o.CurrentQuantity = quantity
}

// HighestFirst ranks a before b when scanning for the best bid: higher
// price wins, then the lower (earlier) id. Because the tie-break is on
// id, no two distinct orders ever compare equal, which keeps them
// distinct keys in a sorted side.
func HighestFirst(a, b *Order) bool {
	if a.Price != b.Price {
		return a.Price > b.Price
	}
	return a.ID < b.ID
}

// LowestFirst ranks a before b when scanning for the best ask: lower
// price wins, then the lower id.
func LowestFirst(a, b *Order) bool {
	if a.Price != b.Price {
		return a.Price < b.Price
	}
	return a.ID < b.ID
}
