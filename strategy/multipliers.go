package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/raykavin/trailbot/config"
	"github.com/raykavin/trailbot/core"
)

// Multipliers is the symmetric ATR-multiplier policy. Activation sits
// K_ACT ATRs away from entry, the stop trails K_STOP ATRs behind the best
// price, and the stop never crosses the minimum profit margin over entry.
type Multipliers struct {
	params map[string]config.PairParams
}

func NewMultipliers(params map[string]config.PairParams) *Multipliers {
	return &Multipliers{params: params}
}

// Name implements core.Strategy.
func (s *Multipliers) Name() string { return config.ModeMultipliers }

// OnFill implements core.Strategy.
func (s *Multipliers) OnFill(fillSide core.SideType, entryPrice, currentATR decimal.Decimal, pair core.Pair) (core.SideType, decimal.Decimal, decimal.Decimal) {
	newSide := fillSide.Inverse()
	atr := s.ATRValue(entryPrice, currentATR, pair)
	distance := s.ActivationDistance(newSide, atr, entryPrice, pair)

	activation := entryPrice.Sub(distance)
	if newSide == core.SideTypeSell {
		activation = entryPrice.Add(distance)
	}

	return newSide, atr, activation
}

// ATRValue implements core.Strategy. An unavailable or below-floor ATR is
// replaced by entry * ATR_MIN_PCT so the activation distance always covers
// the minimum margin.
func (s *Multipliers) ATRValue(entryPrice, currentATR decimal.Decimal, pair core.Pair) decimal.Decimal {
	floor := entryPrice.Mul(s.pairParams(pair).ATRMinPct)
	if !currentATR.IsPositive() {
		return floor
	}
	if currentATR.LessThan(floor) {
		return floor
	}
	return currentATR
}

// ActivationDistance implements core.Strategy. Symmetric for both sides.
func (s *Multipliers) ActivationDistance(_ core.SideType, atr, _ decimal.Decimal, pair core.Pair) decimal.Decimal {
	return s.pairParams(pair).KAct.Mul(atr)
}

// StopPrice implements core.Strategy. The raw K_STOP distance is clamped so
// the stop stays at least MIN_MARGIN of entry on the profitable side; when
// the trailing reference has not yet cleared the floor the distance shrinks
// towards zero instead of crossing it.
func (s *Multipliers) StopPrice(side core.SideType, entryPrice, trailingRef, atr decimal.Decimal, pair core.Pair) decimal.Decimal {
	p := s.pairParams(pair)
	raw := p.KStopSell.Mul(atr)
	if side == core.SideTypeBuy {
		raw = p.KStopBuy.Mul(atr)
	}
	margin := entryPrice.Mul(p.MinMargin)

	var maxSpace decimal.Decimal
	if side == core.SideTypeSell {
		maxSpace = trailingRef.Sub(entryPrice).Sub(margin)
	} else {
		maxSpace = entryPrice.Sub(trailingRef).Sub(margin)
	}

	distance := decimal.Min(raw, decimal.Max(decimal.Zero, maxSpace))
	if side == core.SideTypeSell {
		return trailingRef.Sub(distance)
	}
	return trailingRef.Add(distance)
}

func (s *Multipliers) pairParams(pair core.Pair) config.PairParams {
	return s.params[pair.Name]
}
