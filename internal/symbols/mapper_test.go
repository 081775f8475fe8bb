package symbols

import "testing"

func TestCanonical(t *testing.T) {
	cases := []struct {
		family string
		in     string
		want   string
	}{
		{"binance", "BTCUSDT", "BTCUSDT"},
		{"binance", "1000PEPEUSDT", "PEPEUSDT"},
		{"bybit", "SHIB1000USDT", "SHIBUSDT"},
		{"kucoin", "XBTUSDTM", "BTCUSDT"},
		{"kucoin", "ETHUSDTM", "ETHUSDT"},
		{"okx", "BTC-USDT", "BTCUSDT"},
		{"okx", "BTC-USDT-SWAP", "BTCUSDT"},
		{"unknown", "btcusdt", "BTCUSDT"},
	}
	for _, tc := range cases {
		if got := Canonical(tc.family, tc.in); got != tc.want {
			t.Errorf("Canonical(%q, %q) = %q, want %q", tc.family, tc.in, got, tc.want)
		}
	}
}

func TestNative(t *testing.T) {
	cases := []struct {
		family string
		in     string
		want   string
	}{
		{"binance", "BTCUSDT", "BTCUSDT"},
		{"bybit", "ETHUSDT", "ETHUSDT"},
		{"kucoin", "BTCUSDT", "XBTUSDTM"},
		{"kucoin", "ETHUSDT", "ETHUSDTM"},
		{"okx", "BTCUSDT", "BTC-USDT"},
		{"okx", "SOLUSDC", "SOL-USDC"},
		{"okx", "WEIRD", "WEIRD"},
	}
	for _, tc := range cases {
		if got := Native(tc.family, tc.in); got != tc.want {
			t.Errorf("Native(%q, %q) = %q, want %q", tc.family, tc.in, got, tc.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, family := range []string{"kucoin", "okx"} {
		for _, sym := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"} {
			if got := Canonical(family, Native(family, sym)); got != sym {
				t.Errorf("%s: round trip of %q produced %q", family, sym, got)
			}
		}
	}
}
