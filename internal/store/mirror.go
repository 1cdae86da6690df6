package store

// EventMirror adapts a Store to the engine's visualization sink so a
// run's full depth/trade stream lands in SQLite alongside the CSV
// audit trail. Calls are one-way; a failed insert is remembered and
// surfaced through Err, never propagated back into the engine.
type EventMirror struct {
	store *Store
	runID string
	err   error
}

func NewEventMirror(s *Store, runID string) *EventMirror {
	return &EventMirror{store: s, runID: runID}
}

// AddOrder implements engine.VisualizationSink.
func (m *EventMirror) AddOrder(isBuy bool, volumeDelta, price int64) {
	if m.err != nil {
		return
	}
	m.err = m.store.RecordBookEvent(m.runID, isBuy, volumeDelta, price)
}

// AddTrade implements engine.VisualizationSink.
func (m *EventMirror) AddTrade(seconds float64, price int64) {
	if m.err != nil {
		return
	}
	m.err = m.store.RecordTrade(m.runID, seconds, price)
}

// Err reports the first insert failure, if any.
func (m *EventMirror) Err() error {
	return m.err
}
