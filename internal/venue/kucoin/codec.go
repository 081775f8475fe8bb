// Package kucoin implements the codec for the KuCoin futures websocket
// family. Frames use the id/type/topic envelope; level2 increments decode
// through the universal SDK model.
package kucoin

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	futurespublic "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/futures/futurespublic"

	"marketmux/internal/event"
	"marketmux/internal/venue"
)

const family = "kucoin"

const (
	topicExecution = "/contractMarket/execution"
	topicTickerV2  = "/contractMarket/tickerV2"
	topicCandle    = "/contractMarket/candle"
	topicLevel2    = "/contractMarket/level2"

	candleGranularity = "1min"
)

func init() {
	venue.Register(family, func() venue.Codec { return &Codec{} })
}

type Codec struct {
	requestID uint64
}

func (c *Codec) Family() string { return family }

func (c *Codec) nextID() string {
	return strconv.FormatUint(atomic.AddUint64(&c.requestID, 1), 10)
}

type request struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Topic          string `json:"topic,omitempty"`
	PrivateChannel bool   `json:"privateChannel,omitempty"`
	Response       bool   `json:"response,omitempty"`
}

// topics expands canonical channels into venue topics. Most channels accept
// comma-joined symbol lists; candle topics carry the granularity per symbol.
func topics(channel string, symbols []string) ([]string, error) {
	switch channel {
	case venue.ChannelTrade:
		return []string{topicExecution + ":" + strings.Join(symbols, ",")}, nil
	case venue.ChannelTicker:
		return []string{topicTickerV2 + ":" + strings.Join(symbols, ",")}, nil
	case venue.ChannelOrderBook:
		return []string{topicLevel2 + ":" + strings.Join(symbols, ",")}, nil
	case venue.ChannelCandle:
		out := make([]string, 0, len(symbols))
		for _, symbol := range symbols {
			out = append(out, fmt.Sprintf("%s:%s_%s", topicCandle, symbol, candleGranularity))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %q", venue.ErrUnsupportedChannel, channel)
	}
}

func (c *Codec) encodeRequests(typ string, channels, symbols []string) ([][]byte, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	var frames [][]byte
	for _, channel := range channels {
		tps, err := topics(channel, symbols)
		if err != nil {
			return nil, err
		}
		for _, topic := range tps {
			frame, err := json.Marshal(request{
				ID:       c.nextID(),
				Type:     typ,
				Topic:    topic,
				Response: true,
			})
			if err != nil {
				return nil, err
			}
			frames = append(frames, frame)
		}
	}
	return frames, nil
}

func (c *Codec) EncodeSubscribe(channels, symbols []string) ([][]byte, error) {
	return c.encodeRequests("subscribe", channels, symbols)
}

func (c *Codec) EncodeUnsubscribe(channels, symbols []string) ([][]byte, error) {
	return c.encodeRequests("unsubscribe", channels, symbols)
}

func (c *Codec) EncodePing() ([]byte, bool) {
	frame, err := json.Marshal(request{ID: c.nextID(), Type: "ping"})
	if err != nil {
		return nil, false
	}
	return frame, true
}

type envelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
}

func (c *Codec) Decode(raw []byte) (venue.Result, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: err}
	}

	switch env.Type {
	case "welcome", "ack", "pong":
		return venue.Result{Control: true}, nil
	case "error":
		return venue.Result{}, &venue.DecodeError{
			Family: family,
			Raw:    raw,
			Err:    fmt.Errorf("venue error frame: %s", env.Data),
		}
	case "message":
	default:
		return venue.Result{Control: true}, nil
	}

	switch {
	case strings.HasPrefix(env.Topic, topicExecution):
		return c.decodeExecution(env, raw)
	case strings.HasPrefix(env.Topic, topicTickerV2):
		return c.decodeTicker(env, raw)
	case strings.HasPrefix(env.Topic, topicCandle):
		return c.decodeCandle(env, raw)
	case strings.HasPrefix(env.Topic, topicLevel2):
		return c.decodeLevel2(env, raw)
	default:
		return venue.Result{Control: true}, nil
	}
}

// topicSymbol extracts the symbol from a topic of the form prefix:SYMBOL.
func topicSymbol(topic string) string {
	if i := strings.IndexByte(topic, ':'); i >= 0 {
		return topic[i+1:]
	}
	return ""
}

func (c *Codec) decodeExecution(env envelope, raw []byte) (venue.Result, error) {
	var data struct {
		Symbol string  `json:"symbol"`
		Side   string  `json:"side"`
		Size   float64 `json:"matchSize"`
		Price  float64 `json:"price"`
		Ts     int64   `json:"ts"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: err}
	}

	trade := event.Trade{
		Symbol:    data.Symbol,
		Price:     data.Price,
		Quantity:  data.Size,
		Timestamp: time.Unix(0, data.Ts).UTC(),
	}
	if trade.Symbol == "" {
		trade.Symbol = topicSymbol(env.Topic)
	}
	return venue.Result{Events: []venue.Message{{Type: event.TypeTrade, Payload: trade}}}, nil
}

func (c *Codec) decodeTicker(env envelope, raw []byte) (venue.Result, error) {
	// tickerV2 mixes string prices with numeric sizes.
	var data struct {
		Symbol       string  `json:"symbol"`
		BestBidPrice string  `json:"bestBidPrice"`
		BestBidSize  float64 `json:"bestBidSize"`
		BestAskPrice string  `json:"bestAskPrice"`
		BestAskSize  float64 `json:"bestAskSize"`
		Ts           int64   `json:"ts"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: err}
	}

	bid, err := strconv.ParseFloat(data.BestBidPrice, 64)
	if err != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: err}
	}
	ask, err := strconv.ParseFloat(data.BestAskPrice, 64)
	if err != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: err}
	}

	quote := event.Quote{
		Symbol:    data.Symbol,
		BidPrice:  bid,
		BidSize:   data.BestBidSize,
		AskPrice:  ask,
		AskSize:   data.BestAskSize,
		Timestamp: time.Unix(0, data.Ts).UTC(),
	}
	return venue.Result{Events: []venue.Message{{Type: event.TypeQuote, Payload: quote}}}, nil
}

func (c *Codec) decodeCandle(env envelope, raw []byte) (venue.Result, error) {
	var data struct {
		Symbol  string   `json:"symbol"`
		Candles []string `json:"candles"`
		Time    int64    `json:"time"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: err}
	}
	if len(data.Candles) < 6 {
		return venue.Result{}, &venue.DecodeError{
			Family: family,
			Raw:    raw,
			Err:    fmt.Errorf("candle array too short: %d entries", len(data.Candles)),
		}
	}

	// Candle entries arrive as [start, open, close, high, low, volume].
	var perr error
	parse := func(s string) float64 {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil && perr == nil {
			perr = err
		}
		return v
	}
	start, err := strconv.ParseInt(data.Candles[0], 10, 64)
	if err != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: err}
	}

	candle := event.Candle{
		Symbol:    data.Symbol,
		Interval:  candleGranularity,
		Open:      parse(data.Candles[1]),
		Close:     parse(data.Candles[2]),
		High:      parse(data.Candles[3]),
		Low:       parse(data.Candles[4]),
		Volume:    parse(data.Candles[5]),
		Timestamp: time.Unix(start, 0).UTC(),
	}
	if perr != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: perr}
	}
	if candle.Symbol == "" {
		candle.Symbol = strings.TrimSuffix(topicSymbol(env.Topic), "_"+candleGranularity)
	}
	return venue.Result{Events: []venue.Message{{Type: event.TypeCandle, Payload: candle}}}, nil
}

func (c *Codec) decodeLevel2(env envelope, raw []byte) (venue.Result, error) {
	var data futurespublic.OrderbookIncrementEvent
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: err}
	}

	side, price, quantity := parseChange(data.Change)
	if side == "" || price == "" {
		return venue.Result{}, &venue.DecodeError{
			Family: family,
			Raw:    raw,
			Err:    fmt.Errorf("malformed level2 change %q", data.Change),
		}
	}

	p, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: err}
	}
	q, err := strconv.ParseFloat(quantity, 64)
	if err != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: err}
	}

	delta := event.OrderBookDelta{
		Symbol:   topicSymbol(env.Topic),
		Sequence: data.Sequence,
	}
	level := event.BookLevel{Price: p, Quantity: q}
	switch side {
	case "buy":
		delta.Bids = []event.BookLevel{level}
	case "sell":
		delta.Asks = []event.BookLevel{level}
	}
	return venue.Result{Events: []venue.Message{{Type: event.TypeOrderBook, Payload: delta}}}, nil
}

// parseChange splits a level2 change of the form "price,side,quantity". The
// venue has shuffled field order between versions, so match by value instead
// of position.
func parseChange(change string) (side, price, quantity string) {
	parts := strings.Split(change, ",")
	if len(parts) < 3 {
		return
	}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		switch p {
		case "buy", "sell":
			side = p
		default:
			if price == "" {
				price = p
			} else if quantity == "" {
				quantity = p
			}
		}
	}
	return
}
