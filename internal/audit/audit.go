// Package audit accumulates the simulation's event trail in memory and
// appends it to a durable sink as comma-separated rows. The buffer is
// flushed when it reaches capacity, and again at close, so a run's full
// history always lands in the sink.
package audit

import (
	"fmt"
	"io"
	"strings"
)

// Message kinds. Book events share a row prefix with trade events; the
// kind column tells the two shapes apart.
const (
	MsgNew    = 1
	MsgModify = 2
	MsgCancel = 3
	MsgTrade  = 105
)

// DefaultCapacity is the number of buffered rows that triggers a flush.
const DefaultCapacity = 1 << 19

const header = "Time, Best Bid Price, Best Ask Price, Agent ID, Agent Type," +
	" Message, Buy/Sell, Order ID, Original Quantity, Price, Type," +
	" Leaves Quantity, Trade Price, Quantity Filled, Aggressor, Trade Match ID\n"

// Event is one audit record. Every event carries the book-event fields;
// the trade fields are meaningful only when Kind is MsgTrade.
type Event struct {
	Time      int64
	BestBid   int64 // cents; 0 means no resting bid
	BestAsk   int64 // cents; 0 means no resting ask
	AgentID   int64
	AgentType string
	Kind      int
	Buy       bool
	OrderID   int64
	// OriginalQuantity and LeavesQuantity bracket the order's fill
	// state at the time of the event.
	OriginalQuantity int64
	Price            int64 // cents
	Market           bool
	LeavesQuantity   int64

	// Trade-only fields.
	TradePrice int64 // cents
	Volume     int64
	Aggressor  bool
	MatchID    int64
}

// Logger is the in-memory event buffer in front of the durable sink.
// Not safe for concurrent use; the engine appends from the single
// simulation thread.
type Logger struct {
	w        io.Writer
	capacity int
	rows     []string
	err      error // first write failure, sticky
}

// NewLogger writes the header to w and returns a buffer that flushes
// every capacity rows. A failure to write the header is an environment
// fault and is returned to the caller.
func NewLogger(w io.Writer, capacity int) (*Logger, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if _, err := io.WriteString(w, header); err != nil {
		return nil, fmt.Errorf("audit: write header: %w", err)
	}
	return &Logger{
		w:        w,
		capacity: capacity,
		rows:     make([]string, 0, capacity),
	}, nil
}

// Append buffers one event, flushing first if the buffer is full so no
// event is ever dropped. An unknown message kind is a programming
// error, not an input condition, and panics.
func (l *Logger) Append(ev Event) {
	switch ev.Kind {
	case MsgNew, MsgModify, MsgCancel, MsgTrade:
	default:
		panic(fmt.Sprintf("audit: invalid message kind %d", ev.Kind))
	}

	if len(l.rows) == l.capacity {
		l.flush()
	}
	l.rows = append(l.rows, formatRow(ev))
}

func formatRow(ev Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d,%s,%s,%d,%s,%d,%s,%d,%d,%s,%s,%d",
		ev.Time,
		priceOrNone(ev.BestBid),
		priceOrNone(ev.BestAsk),
		ev.AgentID,
		ev.AgentType,
		ev.Kind,
		sideColumn(ev.Buy),
		ev.OrderID,
		ev.OriginalQuantity,
		dollars(ev.Price),
		kindColumn(ev.Market),
		ev.LeavesQuantity,
	)
	if ev.Kind == MsgTrade {
		fmt.Fprintf(&b, ",%s,%d,%s,%d",
			dollars(ev.TradePrice),
			ev.Volume,
			aggressorColumn(ev.Aggressor),
			ev.MatchID,
		)
	}
	b.WriteByte('\n')
	return b.String()
}

// dollars renders a cent price as dollars, the unit the sink's
// consumers expect.
func dollars(cents int64) string {
	return fmt.Sprintf("%.2f", float64(cents)/100)
}

func priceOrNone(cents int64) string {
	if cents == 0 {
		return "None"
	}
	return dollars(cents)
}

func sideColumn(buy bool) string {
	if buy {
		return "1"
	}
	return "2"
}

func kindColumn(market bool) string {
	if market {
		return "Market"
	}
	return "Limit"
}

func aggressorColumn(aggressor bool) string {
	if aggressor {
		return "Y"
	}
	return "N"
}

func (l *Logger) flush() {
	if len(l.rows) == 0 {
		return
	}
	if l.err == nil {
		_, err := io.WriteString(l.w, strings.Join(l.rows, ""))
		if err != nil {
			l.err = fmt.Errorf("audit: write rows: %w", err)
		}
	}
	l.rows = l.rows[:0]
}

// Flush writes all buffered rows to the sink and reports the first
// write failure seen so far.
func (l *Logger) Flush() error {
	l.flush()
	return l.err
}

// Close flushes the remaining rows. The sink itself is owned by the
// caller and is closed there.
func (l *Logger) Close() error {
	return l.Flush()
}

// Err reports the first write failure, if any. Once a write fails the
// logger stops writing but keeps accepting events, so the engine's
// call path stays error-free; the driver checks Err at shutdown.
func (l *Logger) Err() error {
	return l.err
}

// Buffered returns the number of rows waiting for the next flush.
func (l *Logger) Buffered() int {
	return len(l.rows)
}
