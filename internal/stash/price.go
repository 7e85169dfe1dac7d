package stash

import (
	"strconv"
	"strings"
)

// ParsePrice extracts a ListingPrice from a free-text note or stash label.
// Recognized forms: "~price <qty> <currency>" and "~b/o <qty> <currency>".
// Any other shape, or an unrecognized currency token, reports ok=false.
func ParsePrice(text string) (price ListingPrice, ok bool) {
	text = strings.TrimSpace(text)

	rest, matched := cutPrefix(text, "~price")
	if !matched {
		rest, matched = cutPrefix(text, "~b/o")
	}
	if !matched {
		return ListingPrice{}, false
	}

	fields := strings.Fields(rest)
	if len(fields) < 2 {
		return ListingPrice{}, false
	}

	qty, err := strconv.ParseFloat(fields[0], 32)
	if err != nil {
		return ListingPrice{}, false
	}

	currency, known := knownCurrencies[strings.ToLower(fields[1])]
	if !known {
		return ListingPrice{}, false
	}

	return ListingPrice{Quantity: float32(qty), Currency: currency}, true
}

// cutPrefix reports whether text begins with prefix followed by whitespace
// (or end of string) and returns the remainder with leading space trimmed.
func cutPrefix(text, prefix string) (string, bool) {
	if !strings.HasPrefix(text, prefix) {
		return "", false
	}
	rest := text[len(prefix):]
	if rest != "" && !strings.HasPrefix(rest, " ") && !strings.HasPrefix(rest, "\t") {
		return "", false
	}
	return strings.TrimSpace(rest), true
}
