// Package bybit implements the codec for the Bybit v5 public websocket
// family. Requests use the op/args envelope; topics follow the
// "publicTrade.SYMBOL" naming with dotted segments.
package bybit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"marketmux/internal/event"
	"marketmux/internal/venue"
)

const family = "bybit"

// bookDepth selects the orderbook stream depth level.
const bookDepth = "50"

// candleInterval is the kline interval in minutes.
const candleInterval = "1"

func init() {
	venue.Register(family, func() venue.Codec { return &Codec{} })
}

type Codec struct{}

func (c *Codec) Family() string { return family }

func topicName(channel, symbol string) (string, error) {
	switch channel {
	case venue.ChannelTrade:
		return "publicTrade." + symbol, nil
	case venue.ChannelTicker:
		return "tickers." + symbol, nil
	case venue.ChannelCandle:
		return "kline." + candleInterval + "." + symbol, nil
	case venue.ChannelOrderBook:
		return "orderbook." + bookDepth + "." + symbol, nil
	default:
		return "", fmt.Errorf("%w: %q", venue.ErrUnsupportedChannel, channel)
	}
}

func encodeOp(op string, channels, symbols []string) ([][]byte, error) {
	args := make([]string, 0, len(channels)*len(symbols))
	for _, channel := range channels {
		for _, symbol := range symbols {
			topic, err := topicName(channel, symbol)
			if err != nil {
				return nil, err
			}
			args = append(args, topic)
		}
	}
	if len(args) == 0 {
		return nil, nil
	}

	frame, err := json.Marshal(map[string]interface{}{"op": op, "args": args})
	if err != nil {
		return nil, err
	}
	return [][]byte{frame}, nil
}

func (c *Codec) EncodeSubscribe(channels, symbols []string) ([][]byte, error) {
	return encodeOp("subscribe", channels, symbols)
}

func (c *Codec) EncodeUnsubscribe(channels, symbols []string) ([][]byte, error) {
	return encodeOp("unsubscribe", channels, symbols)
}

func (c *Codec) EncodePing() ([]byte, bool) {
	return []byte(`{"op":"ping"}`), true
}

type envelope struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Op      string          `json:"op"`
	Success *bool           `json:"success"`
	RetMsg  string          `json:"ret_msg"`
	Ts      int64           `json:"ts"`
	Data    json.RawMessage `json:"data"`
}

func (c *Codec) Decode(raw []byte) (venue.Result, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: err}
	}

	if env.Topic == "" {
		// Command responses and pong frames carry op/success instead of a
		// topic.
		if env.Success != nil && !*env.Success {
			return venue.Result{}, &venue.DecodeError{
				Family: family,
				Raw:    raw,
				Err:    fmt.Errorf("venue rejected %s: %s", env.Op, env.RetMsg),
			}
		}
		return venue.Result{Control: true}, nil
	}

	switch {
	case strings.HasPrefix(env.Topic, "publicTrade."):
		return c.decodeTrades(env, raw)
	case strings.HasPrefix(env.Topic, "tickers."):
		return c.decodeTicker(env, raw)
	case strings.HasPrefix(env.Topic, "kline."):
		return c.decodeKline(env, raw)
	case strings.HasPrefix(env.Topic, "orderbook."):
		return c.decodeOrderbook(env, raw)
	default:
		return venue.Result{Control: true}, nil
	}
}

// topicTail returns the last dot-separated segment, which is the symbol for
// every public topic.
func topicTail(topic string) string {
	parts := strings.Split(topic, ".")
	return parts[len(parts)-1]
}

func parseFloat(s string, err *error) float64 {
	if s == "" {
		return 0
	}
	v, perr := strconv.ParseFloat(s, 64)
	if perr != nil && *err == nil {
		*err = perr
	}
	return v
}

func (c *Codec) decodeTrades(env envelope, raw []byte) (venue.Result, error) {
	var trades []struct {
		Time   int64  `json:"T"`
		Symbol string `json:"s"`
		Side   string `json:"S"`
		Size   string `json:"v"`
		Price  string `json:"p"`
	}
	if err := json.Unmarshal(env.Data, &trades); err != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: err}
	}

	var perr error
	msgs := make([]venue.Message, 0, len(trades))
	for _, t := range trades {
		trade := event.Trade{
			Symbol:    t.Symbol,
			Price:     parseFloat(t.Price, &perr),
			Quantity:  parseFloat(t.Size, &perr),
			Timestamp: time.UnixMilli(t.Time).UTC(),
		}
		msgs = append(msgs, venue.Message{Type: event.TypeTrade, Payload: trade})
	}
	if perr != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: perr}
	}
	return venue.Result{Events: msgs}, nil
}

func (c *Codec) decodeTicker(env envelope, raw []byte) (venue.Result, error) {
	// Ticker deltas omit unchanged fields; empty strings parse to zero and
	// the cache layer keeps the previous quote side.
	var data struct {
		Symbol    string `json:"symbol"`
		Bid1Price string `json:"bid1Price"`
		Bid1Size  string `json:"bid1Size"`
		Ask1Price string `json:"ask1Price"`
		Ask1Size  string `json:"ask1Size"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: err}
	}

	var perr error
	quote := event.Quote{
		Symbol:    data.Symbol,
		BidPrice:  parseFloat(data.Bid1Price, &perr),
		BidSize:   parseFloat(data.Bid1Size, &perr),
		AskPrice:  parseFloat(data.Ask1Price, &perr),
		AskSize:   parseFloat(data.Ask1Size, &perr),
		Timestamp: time.UnixMilli(env.Ts).UTC(),
	}
	if perr != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: perr}
	}
	if quote.Symbol == "" {
		quote.Symbol = topicTail(env.Topic)
	}
	return venue.Result{Events: []venue.Message{{Type: event.TypeQuote, Payload: quote}}}, nil
}

func (c *Codec) decodeKline(env envelope, raw []byte) (venue.Result, error) {
	var bars []struct {
		Start    int64  `json:"start"`
		Interval string `json:"interval"`
		Open     string `json:"open"`
		Close    string `json:"close"`
		High     string `json:"high"`
		Low      string `json:"low"`
		Volume   string `json:"volume"`
		Confirm  bool   `json:"confirm"`
	}
	if err := json.Unmarshal(env.Data, &bars); err != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: err}
	}

	symbol := topicTail(env.Topic)
	var perr error
	msgs := make([]venue.Message, 0, len(bars))
	for _, b := range bars {
		candle := event.Candle{
			Symbol:    symbol,
			Interval:  b.Interval,
			Open:      parseFloat(b.Open, &perr),
			High:      parseFloat(b.High, &perr),
			Low:       parseFloat(b.Low, &perr),
			Close:     parseFloat(b.Close, &perr),
			Volume:    parseFloat(b.Volume, &perr),
			Timestamp: time.UnixMilli(b.Start).UTC(),
			Closed:    b.Confirm,
		}
		msgs = append(msgs, venue.Message{Type: event.TypeCandle, Payload: candle})
	}
	if perr != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: perr}
	}
	return venue.Result{Events: msgs}, nil
}

func (c *Codec) decodeOrderbook(env envelope, raw []byte) (venue.Result, error) {
	var data struct {
		Symbol string     `json:"s"`
		Bids   [][]string `json:"b"`
		Asks   [][]string `json:"a"`
		Seq    int64      `json:"seq"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: err}
	}

	var perr error
	levels := func(side [][]string) []event.BookLevel {
		out := make([]event.BookLevel, 0, len(side))
		for _, lvl := range side {
			if len(lvl) < 2 {
				continue
			}
			out = append(out, event.BookLevel{
				Price:    parseFloat(lvl[0], &perr),
				Quantity: parseFloat(lvl[1], &perr),
			})
		}
		return out
	}

	delta := event.OrderBookDelta{
		Symbol:   data.Symbol,
		Bids:     levels(data.Bids),
		Asks:     levels(data.Asks),
		Sequence: data.Seq,
	}
	if perr != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: perr}
	}
	if delta.Symbol == "" {
		delta.Symbol = topicTail(env.Topic)
	}
	return venue.Result{Events: []venue.Message{{Type: event.TypeOrderBook, Payload: delta}}}, nil
}
