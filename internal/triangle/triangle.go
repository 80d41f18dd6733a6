// Package triangle enumerates three-symbol trading cycles over a symbol
// universe. Symbols use the canonical BASE/QUOTE form, e.g. "BTC/USDT".
package triangle

import (
	"sort"
	"strings"
)

// Triangle is a cycle of three symbols: starting from Base, buy Quote via
// Symbols[0] (Quote/Base), convert Quote to Bridge via Symbols[1]
// (Quote/Bridge), and sell Bridge back via Symbols[2] (Bridge/Base). The
// opposite cycle is a different triangle: it needs the inverted cross
// symbol, which an exchange lists separately if at all.
type Triangle struct {
	Symbols [3]string
	Base    string
	Quote   string
	Bridge  string
}

// ID is the cooldown identity: the sorted-and-joined symbol triple, so two
// triangles over the same symbol multiset collapse to one entry regardless
// of source ordering.
func (t Triangle) ID() string {
	legs := []string{t.Symbols[0], t.Symbols[1], t.Symbols[2]}
	sort.Strings(legs)
	return strings.Join(legs, "|")
}

// Contains reports whether the triangle trades the given symbol.
func (t Triangle) Contains(symbol string) bool {
	return t.Symbols[0] == symbol || t.Symbols[1] == symbol || t.Symbols[2] == symbol
}

// Discover enumerates every valid triangle over the universe. For each base
// asset a with listed pairs q/a and br/a, a triangle exists when the cross
// pair q/br is also listed. Symbols that do not parse as BASE/QUOTE are
// skipped.
func Discover(symbols []string) []Triangle {
	listed := make(map[string]struct{}, len(symbols))
	// byQuote maps a quote asset to the base assets traded against it, in
	// first-seen order so discovery output is deterministic.
	byQuote := make(map[string][]string)

	for _, s := range symbols {
		base, quote, ok := split(s)
		if !ok {
			continue
		}
		key := base + "/" + quote
		if _, dup := listed[key]; dup {
			continue
		}
		listed[key] = struct{}{}
		byQuote[quote] = append(byQuote[quote], base)
	}

	var out []Triangle
	seen := make(map[string]struct{})

	for a, bases := range byQuote {
		for _, q := range bases {
			for _, br := range bases {
				if q == br {
					continue
				}
				cross := q + "/" + br
				if _, ok := listed[cross]; !ok {
					continue
				}
				t := Triangle{
					Symbols: [3]string{q + "/" + a, cross, br + "/" + a},
					Base:    a,
					Quote:   q,
					Bridge:  br,
				}
				id := t.ID()
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				out = append(out, t)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// FilterByBaseAsset keeps only triangles whose cycle starts and ends in the
// given asset. Direction cannot be inverted after the fact: each leg's
// symbol encodes a fixed base/quote relationship.
func FilterByBaseAsset(triangles []Triangle, asset string) []Triangle {
	out := make([]Triangle, 0, len(triangles))
	for _, t := range triangles {
		if t.Base == asset {
			out = append(out, t)
		}
	}
	return out
}

// UniqueSymbols returns the deduplicated symbols spanned by the triangles,
// in first-seen order.
func UniqueSymbols(triangles []Triangle) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range triangles {
		for _, s := range t.Symbols {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// split parses a canonical symbol into base and quote assets.
func split(symbol string) (base, quote string, ok bool) {
	i := strings.IndexByte(symbol, '/')
	if i <= 0 || i == len(symbol)-1 || strings.Count(symbol, "/") != 1 {
		return "", "", false
	}
	return symbol[:i], symbol[i+1:], true
}
