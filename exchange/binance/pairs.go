package binance

import (
	"fmt"
	"strings"

	"github.com/raykavin/trailbot/core"
)

// quoteAssets are the quote currencies recognized when splitting a symbol,
// longest suffixes first.
var quoteAssets = []string{"USDT", "BUSD", "USDC", "TUSD", "EUR", "GBP", "USD", "BTC", "ETH", "BNB"}

// SplitAssetQuote separates a concatenated symbol into base and quote.
func SplitAssetQuote(symbol string) (base, quote string, err error) {
	symbol = strings.ToUpper(symbol)
	for _, q := range quoteAssets {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) {
			return strings.TrimSuffix(symbol, q), q, nil
		}
	}
	return "", "", fmt.Errorf("%w: %s", core.ErrUnknownPair, symbol)
}

// ResolvePairs builds pair definitions for Binance symbols. The symbol is
// its own wire name, so only the asset split can fail.
func ResolvePairs(names []string) ([]core.Pair, error) {
	pairs := make([]core.Pair, 0, len(names))
	for _, name := range names {
		base, quote, err := SplitAssetQuote(name)
		if err != nil {
			return nil, err
		}

		pairs = append(pairs, core.Pair{
			Name:           name,
			Primary:        name,
			Display:        base + "/" + quote,
			Base:           base,
			Quote:          quote,
			PriceDecimals:  2,
			VolumeDecimals: 5,
		})
	}
	return pairs, nil
}
