// Package symbols converts venue-native instrument names to one canonical
// format so the price cache keys line up across venues. Canonical symbols
// are uppercase with no separators and use BTC instead of XBT.
package symbols

import "strings"

// Canonical converts a venue-native symbol to the canonical format.
// Supported families: binance, bybit, kucoin, okx.
func Canonical(family, sym string) string {
	switch strings.ToLower(family) {
	case "binance":
		switch sym {
		case "1000BONKUSDT":
			sym = "BONKUSDT"
		case "1000PEPEUSDT":
			sym = "PEPEUSDT"
		case "1000SHIBUSDT":
			sym = "SHIBUSDT"
		}
	case "bybit":
		switch sym {
		case "1000BONKUSDT":
			sym = "BONKUSDT"
		case "1000PEPEUSDT":
			sym = "PEPEUSDT"
		case "SHIB1000USDT":
			sym = "SHIBUSDT"
		}
	case "kucoin":
		sym = strings.ReplaceAll(sym, "-", "")
		sym = strings.TrimSuffix(sym, "M")
		if strings.HasPrefix(sym, "XBT") {
			sym = "BTC" + sym[3:]
		}
	case "okx":
		sym = strings.TrimSuffix(sym, "-SWAP")
		sym = strings.ReplaceAll(sym, "-", "")
	default:
		// other families already use the canonical format
	}
	return strings.ToUpper(sym)
}

// quotes lists the quote currencies recognised when splitting a canonical
// symbol back into base and quote, longest first.
var quotes = []string{"USDT", "USDC", "BUSD", "USD", "BTC", "ETH", "EUR"}

func split(sym string) (base, quote string, ok bool) {
	for _, q := range quotes {
		if strings.HasSuffix(sym, q) && len(sym) > len(q) {
			return sym[:len(sym)-len(q)], q, true
		}
	}
	return "", "", false
}

// Native converts a canonical symbol to the family's native spelling.
// Symbols that cannot be split into base and quote pass through unchanged.
func Native(family, sym string) string {
	sym = strings.ToUpper(sym)
	switch strings.ToLower(family) {
	case "kucoin":
		if strings.HasPrefix(sym, "BTC") {
			sym = "XBT" + sym[3:]
		}
		return sym + "M"
	case "okx":
		base, quote, ok := split(sym)
		if !ok {
			return sym
		}
		return base + "-" + quote
	default:
		return sym
	}
}
