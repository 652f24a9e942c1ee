// Package strategy implements the pluggable trailing policies. A strategy
// turns (fill, price, ATR) samples into activation and stop geometry; the
// engine freezes the chosen strategy on each position at creation.
package strategy

import (
	"fmt"

	"github.com/raykavin/trailbot/config"
	"github.com/raykavin/trailbot/core"
)

// ForMode returns the strategy registered under the given mode.
func ForMode(mode string, params map[string]config.PairParams) (core.Strategy, error) {
	strategies := All(params)
	s, ok := strategies[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownMode, mode)
	}
	return s, nil
}

// All returns every available strategy keyed by mode. The engine uses it to
// dispatch ticks for positions created under an earlier mode setting.
func All(params map[string]config.PairParams) map[string]core.Strategy {
	return map[string]core.Strategy{
		config.ModeMultipliers: NewMultipliers(params),
		config.ModeRebuy:       NewRebuy(params),
	}
}
