// Package venue holds the codec boundary: the only place in the module
// where venue-specific wire knowledge is allowed to live. Everything else
// operates on normalized events.
package venue

import (
	"errors"
	"fmt"

	"marketmux/internal/event"
)

// Canonical channel names accepted by every codec. Codecs translate these
// into their venue's topic/stream naming.
const (
	ChannelTrade     = "trade"
	ChannelTicker    = "ticker"
	ChannelCandle    = "candle"
	ChannelOrderBook = "orderbook"
)

var (
	// ErrUnknownVenue is returned by New for unregistered families.
	ErrUnknownVenue = errors.New("unknown venue family")
	// ErrUnsupportedChannel is returned by Encode* when the venue has no
	// stream for the requested canonical channel.
	ErrUnsupportedChannel = errors.New("channel not supported by venue")
)

// Message is one normalized payload decoded from a wire frame. The
// multiplexer wraps it in an event envelope with connection identity.
type Message struct {
	Type    event.Type
	Payload interface{}
}

// Result is the outcome of decoding one wire frame. Control is true for
// acknowledgements, pongs and welcome frames, which carry no events.
type Result struct {
	Events  []Message
	Control bool
}

// Codec translates between one venue family's wire format and normalized
// events. Implementations must be safe for concurrent use and must never
// panic on malformed input; malformed frames come back as *DecodeError.
type Codec interface {
	Family() string
	Decode(raw []byte) (Result, error)
	EncodeSubscribe(channels, symbols []string) ([][]byte, error)
	EncodeUnsubscribe(channels, symbols []string) ([][]byte, error)
	// EncodePing returns an application-level heartbeat frame. The second
	// return is false when the venue relies on websocket control pings
	// instead, in which case the connection layer sends those.
	EncodePing() ([]byte, bool)
}

// DecodeError wraps a malformed wire frame together with the raw payload
// so callers can log it for diagnostics.
type DecodeError struct {
	Family string
	Raw    []byte
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: decode failed: %v", e.Family, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
