// Package okx implements the codec for the OKX v5 public websocket family.
// Requests use the op/args envelope with per-instrument channel objects.
package okx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"marketmux/internal/event"
	"marketmux/internal/venue"
)

const family = "okx"

const (
	channelTrades  = "trades"
	channelTickers = "tickers"
	channelCandle  = "candle1m"
	channelBooks   = "books"
)

func init() {
	venue.Register(family, func() venue.Codec { return &Codec{} })
}

type Codec struct{}

func (c *Codec) Family() string { return family }

func channelName(channel string) (string, error) {
	switch channel {
	case venue.ChannelTrade:
		return channelTrades, nil
	case venue.ChannelTicker:
		return channelTickers, nil
	case venue.ChannelCandle:
		return channelCandle, nil
	case venue.ChannelOrderBook:
		return channelBooks, nil
	default:
		return "", fmt.Errorf("%w: %q", venue.ErrUnsupportedChannel, channel)
	}
}

type arg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

func encodeOp(op string, channels, symbols []string) ([][]byte, error) {
	args := make([]arg, 0, len(channels)*len(symbols))
	for _, channel := range channels {
		name, err := channelName(channel)
		if err != nil {
			return nil, err
		}
		for _, symbol := range symbols {
			args = append(args, arg{Channel: name, InstID: symbol})
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
	Event  string          `json:"event"`
	Code   string          `json:"code"`
	Msg    string          `json:"msg"`
	Arg    arg             `json:"arg"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

func (c *Codec) Decode(raw []byte) (venue.Result, error) {
	// The venue answers application pings with a bare pong token.
	if bytes.Equal(bytes.TrimSpace(raw), []byte("pong")) {
		return venue.Result{Control: true}, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: err}
	}

	switch env.Event {
	case "":
	case "error":
		return venue.Result{}, &venue.DecodeError{
			Family: family,
			Raw:    raw,
			Err:    fmt.Errorf("venue error %s: %s", env.Code, env.Msg),
		}
	default:
		// subscribe/unsubscribe acknowledgements and pongs.
		return venue.Result{Control: true}, nil
	}

	switch env.Arg.Channel {
	case channelTrades:
		return c.decodeTrades(env, raw)
	case channelTickers:
		return c.decodeTickers(env, raw)
	case channelCandle:
		return c.decodeCandles(env, raw)
	case channelBooks:
		return c.decodeBooks(env, raw)
	default:
		return venue.Result{Control: true}, nil
	}
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

func parseMilli(s string, err *error) time.Time {
	ms, perr := strconv.ParseInt(s, 10, 64)
	if perr != nil {
		if *err == nil {
			*err = perr
		}
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func (c *Codec) decodeTrades(env envelope, raw []byte) (venue.Result, error) {
	var rows []struct {
		InstID string `json:"instId"`
		Px     string `json:"px"`
		Sz     string `json:"sz"`
		Ts     string `json:"ts"`
	}
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: err}
	}

	var perr error
	msgs := make([]venue.Message, 0, len(rows))
	for _, row := range rows {
		trade := event.Trade{
			Symbol:    row.InstID,
			Price:     parseFloat(row.Px, &perr),
			Quantity:  parseFloat(row.Sz, &perr),
			Timestamp: parseMilli(row.Ts, &perr),
		}
		msgs = append(msgs, venue.Message{Type: event.TypeTrade, Payload: trade})
	}
	if perr != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: perr}
	}
	return venue.Result{Events: msgs}, nil
}

func (c *Codec) decodeTickers(env envelope, raw []byte) (venue.Result, error) {
	var rows []struct {
		InstID string `json:"instId"`
		BidPx  string `json:"bidPx"`
		BidSz  string `json:"bidSz"`
		AskPx  string `json:"askPx"`
		AskSz  string `json:"askSz"`
		Ts     string `json:"ts"`
	}
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: err}
	}

	var perr error
	msgs := make([]venue.Message, 0, len(rows))
	for _, row := range rows {
		quote := event.Quote{
			Symbol:    row.InstID,
			BidPrice:  parseFloat(row.BidPx, &perr),
			BidSize:   parseFloat(row.BidSz, &perr),
			AskPrice:  parseFloat(row.AskPx, &perr),
			AskSize:   parseFloat(row.AskSz, &perr),
			Timestamp: parseMilli(row.Ts, &perr),
		}
		msgs = append(msgs, venue.Message{Type: event.TypeQuote, Payload: quote})
	}
	if perr != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: perr}
	}
	return venue.Result{Events: msgs}, nil
}

func (c *Codec) decodeCandles(env envelope, raw []byte) (venue.Result, error) {
	// Candle rows are positional string arrays:
	// [ts, open, high, low, close, volume, ..., confirm].
	var rows [][]string
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: err}
	}

	var perr error
	msgs := make([]venue.Message, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			return venue.Result{}, &venue.DecodeError{
				Family: family,
				Raw:    raw,
				Err:    fmt.Errorf("candle row too short: %d entries", len(row)),
			}
		}
		candle := event.Candle{
			Symbol:    env.Arg.InstID,
			Interval:  "1m",
			Open:      parseFloat(row[1], &perr),
			High:      parseFloat(row[2], &perr),
			Low:       parseFloat(row[3], &perr),
			Close:     parseFloat(row[4], &perr),
			Volume:    parseFloat(row[5], &perr),
			Timestamp: parseMilli(row[0], &perr),
		}
		if len(row) >= 9 {
			candle.Closed = row[len(row)-1] == "1"
		}
		msgs = append(msgs, venue.Message{Type: event.TypeCandle, Payload: candle})
	}
	if perr != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: perr}
	}
	return venue.Result{Events: msgs}, nil
}

func (c *Codec) decodeBooks(env envelope, raw []byte) (venue.Result, error) {
	var rows []struct {
		Asks  [][]string `json:"asks"`
		Bids  [][]string `json:"bids"`
		SeqID int64      `json:"seqId"`
	}
	if err := json.Unmarshal(env.Data, &rows); err != nil {
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

	msgs := make([]venue.Message, 0, len(rows))
	for _, row := range rows {
		delta := event.OrderBookDelta{
			Symbol:   env.Arg.InstID,
			Bids:     levels(row.Bids),
			Asks:     levels(row.Asks),
			Sequence: row.SeqID,
		}
		msgs = append(msgs, venue.Message{Type: event.TypeOrderBook, Payload: delta})
	}
	if perr != nil {
		return venue.Result{}, &venue.DecodeError{Family: family, Raw: raw, Err: perr}
	}
	return venue.Result{Events: msgs}, nil
}
