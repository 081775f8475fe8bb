package binance

import (
	"encoding/json"
	"errors"
	"testing"

	"marketmux/internal/event"
	"marketmux/internal/venue"
)

func TestEncodeSubscribeBatchesStreams(t *testing.T) {
	c := &Codec{}
	frames, err := c.EncodeSubscribe(
		[]string{venue.ChannelTrade, venue.ChannelTicker},
		[]string{"BTCUSDT", "ETHUSDT"},
	)
	if err != nil {
		t.Fatalf("EncodeSubscribe failed: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected one batched frame, got %d", len(frames))
	}

	var req struct {
		Method string   `json:"method"`
		Params []string `json:"params"`
		ID     uint64   `json:"id"`
	}
	if err := json.Unmarshal(frames[0], &req); err != nil {
		t.Fatalf("invalid frame: %v", err)
	}
	if req.Method != "SUBSCRIBE" {
		t.Fatalf("expected SUBSCRIBE, got %q", req.Method)
	}
	if req.ID == 0 {
		t.Fatal("expected non-zero request id")
	}
	want := []string{"btcusdt@trade", "ethusdt@trade", "btcusdt@bookTicker", "ethusdt@bookTicker"}
	if len(req.Params) != len(want) {
		t.Fatalf("expected %d streams, got %v", len(want), req.Params)
	}
	for i, stream := range want {
		if req.Params[i] != stream {
			t.Fatalf("stream %d: expected %q, got %q", i, stream, req.Params[i])
		}
	}
}

func TestEncodeSubscribeRejectsUnknownChannel(t *testing.T) {
	c := &Codec{}
	if _, err := c.EncodeSubscribe([]string{"funding"}, []string{"BTCUSDT"}); err == nil {
		t.Fatal("expected error for unsupported channel")
	}
}

func TestDecodeTrade(t *testing.T) {
	raw := []byte(`{"e":"trade","E":1700000000123,"s":"BTCUSDT","t":12345,"p":"42000.50","q":"0.250","T":1700000000120,"m":true,"M":true}`)

	c := &Codec{}
	res, err := c.Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(res.Events) != 1 || res.Events[0].Type != event.TypeTrade {
		t.Fatalf("expected one trade event, got %+v", res)
	}
	trade := res.Events[0].Payload.(event.Trade)
	if trade.Symbol != "BTCUSDT" || trade.Price != 42000.50 || trade.Quantity != 0.25 {
		t.Fatalf("unexpected trade: %+v", trade)
	}
	if trade.Timestamp.UnixMilli() != 1700000000120 {
		t.Fatalf("unexpected trade time: %v", trade.Timestamp)
	}
}

func TestDecodeKline(t *testing.T) {
	raw := []byte(`{"e":"kline","E":1700000060000,"s":"ETHUSDT","k":{"t":1700000000000,"T":1700000059999,"s":"ETHUSDT","i":"1m","o":"2200.0","c":"2210.5","h":"2212.0","l":"2198.0","v":"150.5","x":true}}`)

	c := &Codec{}
	res, err := c.Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	candle := res.Events[0].Payload.(event.Candle)
	if candle.Interval != "1m" || !candle.Closed {
		t.Fatalf("unexpected candle: %+v", candle)
	}
	if candle.Open != 2200.0 || candle.Close != 2210.5 || candle.Volume != 150.5 {
		t.Fatalf("unexpected candle values: %+v", candle)
	}
}

func TestDecodeBookTicker(t *testing.T) {
	raw := []byte(`{"u":400900217,"s":"BNBUSDT","b":"25.35","B":"31.21","a":"25.36","A":"40.66"}`)

	c := &Codec{}
	res, err := c.Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	quote := res.Events[0].Payload.(event.Quote)
	if quote.BidPrice != 25.35 || quote.AskSize != 40.66 {
		t.Fatalf("unexpected quote: %+v", quote)
	}
}

func TestDecodeDepthUpdate(t *testing.T) {
	raw := []byte(`{"e":"depthUpdate","E":1700000000500,"s":"BTCUSDT","U":157,"u":160,"b":[["41999.00","0.5"],["41998.00","0"]],"a":[["42001.00","1.2"]]}`)

	c := &Codec{}
	res, err := c.Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	delta := res.Events[0].Payload.(event.OrderBookDelta)
	if delta.Sequence != 160 {
		t.Fatalf("expected sequence 160, got %d", delta.Sequence)
	}
	if len(delta.Bids) != 2 || len(delta.Asks) != 1 {
		t.Fatalf("unexpected depth sides: %+v", delta)
	}
	if delta.Bids[1].Quantity != 0 {
		t.Fatalf("expected zero-quantity bid preserved, got %+v", delta.Bids[1])
	}
}

func TestDecodeAckIsControl(t *testing.T) {
	c := &Codec{}
	res, err := c.Decode([]byte(`{"result":null,"id":1}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !res.Control || len(res.Events) != 0 {
		t.Fatalf("expected control frame, got %+v", res)
	}
}

func TestDecodeCombinedStreamUnwraps(t *testing.T) {
	raw := []byte(`{"stream":"btcusdt@trade","data":{"e":"trade","E":1,"s":"BTCUSDT","t":1,"p":"1.0","q":"2.0","T":1}}`)

	c := &Codec{}
	res, err := c.Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(res.Events) != 1 || res.Events[0].Type != event.TypeTrade {
		t.Fatalf("expected trade event, got %+v", res)
	}
}

func TestDecodeMalformedReturnsDecodeError(t *testing.T) {
	c := &Codec{}
	_, err := c.Decode([]byte(`{"e":"trade","p":`))
	if err == nil {
		t.Fatal("expected error for malformed frame")
	}
	var derr *venue.DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DecodeError, got %T", err)
	}
}
