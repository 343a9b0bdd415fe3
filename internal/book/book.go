// Package book maintains the local level-one quote book fed by streaming
// market data, with per-symbol delta merging and pub/sub fan-out to
// consumers.
package book

import (
	"sync"

	"schwabbridge/internal/domain"
)

// Book holds the latest level-one quote per wire symbol. The streamer sends
// delta updates after the initial snapshot, so Apply merges field-by-field
// into the stored quote.
type Book struct {
	mu     sync.RWMutex
	quotes map[string]domain.QuoteTick

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan domain.QuoteTick
}

// NewBook creates an empty quote book.
func NewBook() *Book {
	return &Book{
		quotes: make(map[string]domain.QuoteTick),
		subs:   make(map[int]chan domain.QuoteTick),
	}
}

// Apply merges one inbound tick into the book and notifies subscribers with
// the merged quote. Zero-valued fields in a delta keep the previously known
// value.
func (b *Book) Apply(tick domain.QuoteTick) {
	b.mu.Lock()
	merged := b.quotes[tick.Symbol]
	merged.Symbol = tick.Symbol
	merged.Time = tick.Time
	if tick.BidPrice != 0 {
		merged.BidPrice = tick.BidPrice
	}
	if tick.AskPrice != 0 {
		merged.AskPrice = tick.AskPrice
	}
	if tick.LastPrice != 0 {
		merged.LastPrice = tick.LastPrice
	}
	if tick.BidSize != 0 {
		merged.BidSize = tick.BidSize
	}
	if tick.AskSize != 0 {
		merged.AskSize = tick.AskSize
	}
	if tick.LastSize != 0 {
		merged.LastSize = tick.LastSize
	}
	b.quotes[tick.Symbol] = merged
	b.mu.Unlock()

	// Notify subscribers (non-blocking send).
	b.subsMu.Lock()
	for _, ch := range b.subs {
		select {
		case ch <- merged:
		default:
			// Slow subscriber, drop event.
		}
	}
	b.subsMu.Unlock()
}

// Quote returns the latest merged quote for a wire symbol.
func (b *Book) Quote(symbol string) (domain.QuoteTick, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.quotes[symbol]
	return q, ok
}

// Snapshot returns a copy of the current book keyed by wire symbol.
func (b *Book) Snapshot() map[string]domain.QuoteTick {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]domain.QuoteTick, len(b.quotes))
	for k, v := range b.quotes {
		out[k] = v
	}
	return out
}

// Forget drops a symbol from the book after its subscription ends.
func (b *Book) Forget(symbol string) {
	b.mu.Lock()
	delete(b.quotes, symbol)
	b.mu.Unlock()
}

// Subscribe creates a new subscription channel for merged quote updates.
func (b *Book) Subscribe(bufSize int) (id int, ch <-chan domain.QuoteTick) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	id = b.nextSubID
	b.nextSubID++
	c := make(chan domain.QuoteTick, bufSize)
	b.subs[id] = c
	return id, c
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Book) Unsubscribe(id int) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}
