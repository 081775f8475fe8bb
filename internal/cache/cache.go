// Package cache keeps the most recent price and order book per symbol.
// Writes are last-value-wins; readers always get copies.
package cache

import (
	"sync"
	"time"

	"marketmux/internal/event"
)

// PriceEntry is the cached last price with its movement relative to the
// previous observation.
type PriceEntry struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Timestamp     time.Time `json:"timestamp"`
}

// Book is the cached order book for one symbol.
type Book struct {
	Symbol    string            `json:"symbol"`
	Bids      []event.BookLevel `json:"bids"`
	Asks      []event.BookLevel `json:"asks"`
	Sequence  int64             `json:"sequence"`
	Timestamp time.Time         `json:"timestamp"`
}

type Cache struct {
	mu     sync.RWMutex
	prices map[string]PriceEntry
	books  map[string]Book
}

func New() *Cache {
	return &Cache{
		prices: make(map[string]PriceEntry),
		books:  make(map[string]Book),
	}
}

// SetPrice records the latest price for symbol and returns the resulting
// entry with change and change-percent computed against the previous one.
func (c *Cache) SetPrice(symbol string, price float64, ts time.Time) PriceEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := PriceEntry{Symbol: symbol, Price: price, Timestamp: ts}
	if prev, ok := c.prices[symbol]; ok {
		entry.Change = price - prev.Price
		if prev.Price != 0 {
			entry.ChangePercent = entry.Change / prev.Price * 100
		}
	}
	c.prices[symbol] = entry
	return entry
}

// Price returns the last cached price for symbol.
func (c *Cache) Price(symbol string) (PriceEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.prices[symbol]
	return entry, ok
}

// AllPrices returns a copy of every cached price entry.
func (c *Cache) AllPrices() map[string]PriceEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]PriceEntry, len(c.prices))
	for symbol, entry := range c.prices {
		out[symbol] = entry
	}
	return out
}

// SetBook replaces the cached book for the delta's symbol wholesale.
func (c *Cache) SetBook(delta event.OrderBookDelta, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.books[delta.Symbol] = Book{
		Symbol:    delta.Symbol,
		Bids:      append([]event.BookLevel(nil), delta.Bids...),
		Asks:      append([]event.BookLevel(nil), delta.Asks...),
		Sequence:  delta.Sequence,
		Timestamp: ts,
	}
}

// Book returns a copy of the cached book for symbol.
func (c *Cache) Book(symbol string) (Book, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	book, ok := c.books[symbol]
	if !ok {
		return Book{}, false
	}
	book.Bids = append([]event.BookLevel(nil), book.Bids...)
	book.Asks = append([]event.BookLevel(nil), book.Asks...)
	return book, true
}

// Symbols returns how many symbols have a cached price.
func (c *Cache) Symbols() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.prices)
}
