package event

import (
	"time"

	"github.com/google/uuid"
)

// Type names the kinds of events the multiplexer emits. Handlers register
// per type; payload types below correspond one to one.
type Type string

const (
	TypeConnected    Type = "connected"
	TypeDisconnected Type = "disconnected"
	TypeError        Type = "error"
	TypeTrade        Type = "trade"
	TypeQuote        Type = "quote"
	TypeCandle       Type = "candle"
	TypeOrderBook    Type = "orderbook"
	TypePriceUpdate  Type = "price-update"
	TypeParseError   Type = "parse-error"
)

// Event is the envelope delivered to bus handlers. Payload holds one of the
// value types below depending on Type.
type Event struct {
	ID      string
	Type    Type
	ConnID  string
	Venue   string
	At      time.Time
	Payload interface{}
}

// New stamps an envelope with a fresh id and timestamp.
func New(t Type, connID, venue string, payload interface{}) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    t,
		ConnID:  connID,
		Venue:   venue,
		At:      time.Now().UTC(),
		Payload: payload,
	}
}

// Trade is a single executed trade.
type Trade struct {
	Symbol    string
	Price     float64
	Quantity  float64
	Timestamp time.Time
}

// Quote is a top-of-book bid/ask pair.
type Quote struct {
	Symbol    string
	BidPrice  float64
	BidSize   float64
	AskPrice  float64
	AskSize   float64
	Timestamp time.Time
}

// Candle is an OHLCV bar. Closed reports whether the interval has ended.
type Candle struct {
	Symbol    string
	Interval  string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Timestamp time.Time
	Closed    bool
}

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price    float64
	Quantity float64
}

// OrderBookDelta carries the venue's book update. Bids and asks replace the
// cached book wholesale; sequence numbers come straight from the venue.
type OrderBookDelta struct {
	Symbol   string
	Bids     []BookLevel
	Asks     []BookLevel
	Sequence int64
}

// ConnEvent accompanies connected/disconnected/error envelopes.
type ConnEvent struct {
	ConnID string
	Venue  string
	Err    error
}

// ParseError accompanies parse-error envelopes and carries the raw payload
// for diagnostics.
type ParseError struct {
	ConnID string
	Venue  string
	Raw    []byte
	Err    error
}

// PriceUpdate accompanies price-update envelopes; the cache is already
// updated when handlers observe it.
type PriceUpdate struct {
	Symbol    string
	Price     float64
	Timestamp time.Time
}
