package kraken

import (
	"fmt"

	"github.com/raykavin/trailbot/core"
)

// symbols maps logical pair names to their Kraken aliases. Kraken reports
// the same market under up to three spellings: the classic name used by
// price and order endpoints (XXBTZEUR), the altname used in order
// descriptions (XBTEUR), and the websocket name (XBT/EUR).
var symbols = map[string]core.Pair{
	"XBTEUR": {Name: "XBTEUR", Primary: "XXBTZEUR", Display: "XBT/EUR", Base: "XXBT", Quote: "ZEUR", PriceDecimals: 1, VolumeDecimals: 8},
	"XBTUSD": {Name: "XBTUSD", Primary: "XXBTZUSD", Display: "XBT/USD", Base: "XXBT", Quote: "ZUSD", PriceDecimals: 1, VolumeDecimals: 8},
	"ETHEUR": {Name: "ETHEUR", Primary: "XETHZEUR", Display: "ETH/EUR", Base: "XETH", Quote: "ZEUR", PriceDecimals: 2, VolumeDecimals: 8},
	"ETHUSD": {Name: "ETHUSD", Primary: "XETHZUSD", Display: "ETH/USD", Base: "XETH", Quote: "ZUSD", PriceDecimals: 2, VolumeDecimals: 8},
	"SOLEUR": {Name: "SOLEUR", Primary: "SOLEUR", Display: "SOL/EUR", Base: "SOL", Quote: "ZEUR", PriceDecimals: 2, VolumeDecimals: 8},
	"SOLUSD": {Name: "SOLUSD", Primary: "SOLUSD", Display: "SOL/USD", Base: "SOL", Quote: "ZUSD", PriceDecimals: 2, VolumeDecimals: 8},
	"ADAEUR": {Name: "ADAEUR", Primary: "ADAEUR", Display: "ADA/EUR", Base: "ADA", Quote: "ZEUR", PriceDecimals: 6, VolumeDecimals: 8},
	"XRPEUR": {Name: "XRPEUR", Primary: "XXRPZEUR", Display: "XRP/EUR", Base: "XXRP", Quote: "ZEUR", PriceDecimals: 5, VolumeDecimals: 8},
}

// Resolve returns the pair definition for a logical name.
func Resolve(name string) (core.Pair, error) {
	pair, ok := symbols[name]
	if !ok {
		return core.Pair{}, fmt.Errorf("%w: %s", core.ErrUnknownPair, name)
	}
	return pair, nil
}

// ResolvePairs resolves a configured pair list, failing on the first
// unknown name so misconfiguration is caught at startup.
func ResolvePairs(names []string) ([]core.Pair, error) {
	pairs := make([]core.Pair, 0, len(names))
	for _, name := range names {
		pair, err := Resolve(name)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}
