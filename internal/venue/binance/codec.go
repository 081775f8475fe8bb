// Package binance implements the codec for the Binance websocket family.
// Streams are batched into a single SUBSCRIBE request with a shared id
// counter; event payloads decode through the go-binance SDK structs.
package binance

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	gobinance "github.com/adshao/go-binance/v2"

	"marketmux/internal/event"
	"marketmux/internal/venue"
)

const family = "binance"

// candleInterval is the kline interval requested for the canonical candle
// channel.
const candleInterval = "1m"

func init() {
	venue.Register(family, func() venue.Codec { return &Codec{} })
}

type Codec struct {
	requestID uint64
}

func (c *Codec) Family() string { return family }

func (c *Codec) nextID() uint64 {
	return atomic.AddUint64(&c.requestID, 1)
}

// streamName maps a canonical channel and symbol onto a Binance stream.
func streamName(channel, symbol string) (string, error) {
	sym := strings.ToLower(symbol)
	switch channel {
	case venue.ChannelTrade:
		return sym + "@trade", nil
	case venue.ChannelTicker:
		return sym + "@bookTicker", nil
	case venue.ChannelCandle:
		return sym + "@kline_" + candleInterval, nil
	case venue.ChannelOrderBook:
		return sym + "@depth@100ms", nil
	default:
		return "", fmt.Errorf("%w: %q", venue.ErrUnsupportedChannel, channel)
	}
}

func (c *Codec) encodeRequest(method string, channels, symbols []string) ([][]byte, error) {
	params := make([]string, 0, len(channels)*len(symbols))
	for _, channel := range channels {
		for _, symbol := range symbols {
			stream, err := streamName(channel, symbol)
			if err != nil {
				return nil, err
			}
			params = append(params, stream)
		}
	}
	if len(params) == 0 {
		return nil, nil
	}

	frame, err := json.Marshal(map[string]interface{}{
		"method": method,
		"params": params,
		"id":     c.nextID(),
	})
	if err != nil {
		return nil, err
	}
	return [][]byte{frame}, nil
}

func (c *Codec) EncodeSubscribe(channels, symbols []string) ([][]byte, error) {
	return c.encodeRequest("SUBSCRIBE", channels, symbols)
}

func (c *Codec) EncodeUnsubscribe(channels, symbols []string) ([][]byte, error) {
	return c.encodeRequest("UNSUBSCRIBE", channels, symbols)
}

// EncodePing returns no frame: Binance heartbeats at the websocket control
// layer, so the connection sends protocol pings instead.
func (c *Codec) EncodePing() ([]byte, bool) { return nil, false }

// probe carries just enough of a frame to classify it.
type probe struct {
	Event  string          `json:"e"`
	ID     json.RawMessage `json:"id"`
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

func (c *Codec) Decode(raw []byte) (venue.Result, error) {
	var p probe
	if err := json.Unmarshal(raw, &p); err != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: err}
	}

	// Combined-stream endpoints wrap the event in {stream, data}.
	if p.Stream != "" && len(p.Data) > 0 {
		return c.Decode(p.Data)
	}

	// Frames with an id are SUBSCRIBE/UNSUBSCRIBE acknowledgements.
	if len(p.ID) > 0 {
		return venue.Result{Control: true}, nil
	}

	switch p.Event {
	case "trade":
		return c.decodeTrade(raw)
	case "kline":
		return c.decodeKline(raw)
	case "depthUpdate":
		return c.decodeDepth(raw)
	case "":
		// bookTicker events carry no "e" discriminator.
		return c.decodeBookTicker(raw)
	default:
		// Unrecognized event types are venue noise, not errors.
		return venue.Result{Control: true}, nil
	}
}

func parseFloat(s string, err *error) float64 {
	v, perr := strconv.ParseFloat(s, 64)
	if perr != nil && *err == nil {
		*err = perr
	}
	return v
}

func (c *Codec) decodeTrade(raw []byte) (venue.Result, error) {
	var evt gobinance.WsTradeEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: err}
	}

	var perr error
	trade := event.Trade{
		Symbol:    evt.Symbol,
		Price:     parseFloat(evt.Price, &perr),
		Quantity:  parseFloat(evt.Quantity, &perr),
		Timestamp: time.UnixMilli(evt.TradeTime).UTC(),
	}
	if perr != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: perr}
	}

	return venue.Result{Events: []venue.Message{{Type: event.TypeTrade, Payload: trade}}}, nil
}

func (c *Codec) decodeKline(raw []byte) (venue.Result, error) {
	var evt gobinance.WsKlineEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: err}
	}

	var perr error
	candle := event.Candle{
		Symbol:    evt.Symbol,
		Interval:  evt.Kline.Interval,
		Open:      parseFloat(evt.Kline.Open, &perr),
		High:      parseFloat(evt.Kline.High, &perr),
		Low:       parseFloat(evt.Kline.Low, &perr),
		Close:     parseFloat(evt.Kline.Close, &perr),
		Volume:    parseFloat(evt.Kline.Volume, &perr),
		Timestamp: time.UnixMilli(evt.Kline.StartTime).UTC(),
		Closed:    evt.Kline.IsFinal,
	}
	if perr != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: perr}
	}

	return venue.Result{Events: []venue.Message{{Type: event.TypeCandle, Payload: candle}}}, nil
}

func (c *Codec) decodeDepth(raw []byte) (venue.Result, error) {
	var evt gobinance.WsDepthEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: err}
	}

	var perr error
	delta := event.OrderBookDelta{
		Symbol:   evt.Symbol,
		Sequence: evt.LastUpdateID,
		Bids:     make([]event.BookLevel, 0, len(evt.Bids)),
		Asks:     make([]event.BookLevel, 0, len(evt.Asks)),
	}
	for _, lvl := range evt.Bids {
		delta.Bids = append(delta.Bids, event.BookLevel{
			Price:    parseFloat(lvl.Price, &perr),
			Quantity: parseFloat(lvl.Quantity, &perr),
		})
	}
	for _, lvl := range evt.Asks {
		delta.Asks = append(delta.Asks, event.BookLevel{
			Price:    parseFloat(lvl.Price, &perr),
			Quantity: parseFloat(lvl.Quantity, &perr),
		})
	}
	if perr != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: perr}
	}

	return venue.Result{Events: []venue.Message{{Type: event.TypeOrderBook, Payload: delta}}}, nil
}

func (c *Codec) decodeBookTicker(raw []byte) (venue.Result, error) {
	var evt gobinance.WsBookTickerEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: err}
	}
	if evt.Symbol == "" {
		// Not a bookTicker frame; treat as venue noise.
		return venue.Result{Control: true}, nil
	}

	var perr error
	quote := event.Quote{
		Symbol:    evt.Symbol,
		BidPrice:  parseFloat(evt.BestBidPrice, &perr),
		BidSize:   parseFloat(evt.BestBidQty, &perr),
		AskPrice:  parseFloat(evt.BestAskPrice, &perr),
		AskSize:   parseFloat(evt.BestAskQty, &perr),
		Timestamp: time.Now().UTC(),
	}
	if perr != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: perr}
	}

	return venue.Result{Events: []venue.Message{{Type: event.TypeQuote, Payload: quote}}}, nil
}
