package bybit

import (
	"encoding/json"
	"testing"

	"marketmux/internal/event"
	"marketmux/internal/venue"
)

func TestEncodeSubscribeTopics(t *testing.T) {
	c := &Codec{}
	frames, err := c.EncodeSubscribe(
		[]string{venue.ChannelTrade, venue.ChannelOrderBook},
		[]string{"BTCUSDT"},
	)
	if err != nil {
		t.Fatalf("EncodeSubscribe failed: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected one frame, got %d", len(frames))
	}

	var req struct {
		Op   string   `json:"op"`
		Args []string `json:"args"`
	}
	if err := json.Unmarshal(frames[0], &req); err != nil {
		t.Fatalf("invalid frame: %v", err)
	}
	if req.Op != "subscribe" {
		t.Fatalf("expected subscribe op, got %q", req.Op)
	}
	want := []string{"publicTrade.BTCUSDT", "orderbook.50.BTCUSDT"}
	if len(req.Args) != len(want) || req.Args[0] != want[0] || req.Args[1] != want[1] {
		t.Fatalf("unexpected args: %v", req.Args)
	}
}

func TestDecodeSubscribeAck(t *testing.T) {
	c := &Codec{}
	res, err := c.Decode([]byte(`{"success":true,"ret_msg":"","op":"subscribe","conn_id":"abc"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !res.Control {
		t.Fatalf("expected control frame, got %+v", res)
	}
}

func TestDecodeRejectedSubscribe(t *testing.T) {
	c := &Codec{}
	_, err := c.Decode([]byte(`{"success":false,"ret_msg":"invalid topic","op":"subscribe"}`))
	if err == nil {
		t.Fatal("expected error for rejected subscribe")
	}
}

func TestDecodePublicTradeBatch(t *testing.T) {
	raw := []byte(`{"topic":"publicTrade.BTCUSDT","type":"snapshot","ts":1700000001000,"data":[{"T":1700000000500,"s":"BTCUSDT","S":"Buy","v":"0.5","p":"42000.1"},{"T":1700000000600,"s":"BTCUSDT","S":"Sell","v":"0.2","p":"42000.0"}]}`)

	c := &Codec{}
	res, err := c.Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(res.Events) != 2 {
		t.Fatalf("expected two trades, got %d", len(res.Events))
	}
	first := res.Events[0].Payload.(event.Trade)
	if first.Price != 42000.1 || first.Quantity != 0.5 {
		t.Fatalf("unexpected trade: %+v", first)
	}
}

func TestDecodeTicker(t *testing.T) {
	raw := []byte(`{"topic":"tickers.BTCUSDT","type":"snapshot","ts":1700000002000,"data":{"symbol":"BTCUSDT","bid1Price":"41999.9","bid1Size":"2.5","ask1Price":"42000.1","ask1Size":"1.1"}}`)

	c := &Codec{}
	res, err := c.Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	quote := res.Events[0].Payload.(event.Quote)
	if quote.BidPrice != 41999.9 || quote.AskPrice != 42000.1 {
		t.Fatalf("unexpected quote: %+v", quote)
	}
	if quote.Timestamp.UnixMilli() != 1700000002000 {
		t.Fatalf("unexpected timestamp: %v", quote.Timestamp)
	}
}

func TestDecodeKline(t *testing.T) {
	raw := []byte(`{"topic":"kline.1.BTCUSDT","type":"snapshot","ts":1700000060000,"data":[{"start":1700000000000,"interval":"1","open":"42000","close":"42010","high":"42020","low":"41995","volume":"88.5","confirm":true}]}`)

	c := &Codec{}
	res, err := c.Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	candle := res.Events[0].Payload.(event.Candle)
	if candle.Symbol != "BTCUSDT" || !candle.Closed || candle.Volume != 88.5 {
		t.Fatalf("unexpected candle: %+v", candle)
	}
}

func TestDecodeOrderbookDelta(t *testing.T) {
	raw := []byte(`{"topic":"orderbook.50.BTCUSDT","type":"delta","ts":1700000003000,"data":{"s":"BTCUSDT","b":[["41999.0","0"],["41998.5","3.0"]],"a":[["42001.0","2.0"]],"u":99,"seq":1024}}`)

	c := &Codec{}
	res, err := c.Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	delta := res.Events[0].Payload.(event.OrderBookDelta)
	if delta.Sequence != 1024 || len(delta.Bids) != 2 || len(delta.Asks) != 1 {
		t.Fatalf("unexpected delta: %+v", delta)
	}
}

func TestDecodeUnknownTopicIsControl(t *testing.T) {
	c := &Codec{}
	res, err := c.Decode([]byte(`{"topic":"liquidation.BTCUSDT","data":{}}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !res.Control {
		t.Fatalf("expected control, got %+v", res)
	}
}
