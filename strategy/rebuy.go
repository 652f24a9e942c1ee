package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/raykavin/trailbot/config"
	"github.com/raykavin/trailbot/core"
)

// Entry-proportional padding added to the activation distance. The sell
// padding covers the round-trip fees plus the minimum margin, so no explicit
// stop clamp is needed; the buy padding only covers the rebuy fee.
var (
	rebuySellPad = decimal.NewFromFloat(0.0106)
	rebuyBuyPad  = decimal.NewFromFloat(0.001)

	// Fallback ATR fraction of entry when the ATR feed is unavailable.
	rebuyATRFloorPct = decimal.NewFromFloat(0.005)
)

// Rebuy is the asymmetric rebuy-cycle policy: it sells into strength and
// re-arms a buy below, trailing with the raw ATR on both legs.
type Rebuy struct {
	params map[string]config.PairParams
}

func NewRebuy(params map[string]config.PairParams) *Rebuy {
	return &Rebuy{params: params}
}

// Name implements core.Strategy.
func (s *Rebuy) Name() string { return config.ModeRebuy }

// OnFill implements core.Strategy.
func (s *Rebuy) OnFill(fillSide core.SideType, entryPrice, currentATR decimal.Decimal, pair core.Pair) (core.SideType, decimal.Decimal, decimal.Decimal) {
	newSide := fillSide.Inverse()
	atr := s.ATRValue(entryPrice, currentATR, pair)
	distance := s.ActivationDistance(newSide, atr, entryPrice, pair)

	activation := entryPrice.Sub(distance)
	if newSide == core.SideTypeSell {
		activation = entryPrice.Add(distance)
	}

	return newSide, atr, activation
}

// ATRValue implements core.Strategy. The rebuy policy trails with the raw
// ATR; only a missing feed is substituted.
func (s *Rebuy) ATRValue(entryPrice, currentATR decimal.Decimal, _ core.Pair) decimal.Decimal {
	if currentATR.IsPositive() {
		return currentATR
	}
	return entryPrice.Mul(rebuyATRFloorPct)
}

// ActivationDistance implements core.Strategy.
func (s *Rebuy) ActivationDistance(side core.SideType, atr, entryPrice decimal.Decimal, pair core.Pair) decimal.Decimal {
	p := s.pairParams(pair)
	if side == core.SideTypeSell {
		return p.KStopSell.Mul(atr).Add(entryPrice.Mul(rebuySellPad))
	}
	return p.KStopBuy.Mul(atr).Add(entryPrice.Mul(rebuyBuyPad))
}

// StopPrice implements core.Strategy. No margin clamp: the activation
// padding already places the trail on the profitable side of entry.
func (s *Rebuy) StopPrice(side core.SideType, _, trailingRef, atr decimal.Decimal, pair core.Pair) decimal.Decimal {
	p := s.pairParams(pair)
	if side == core.SideTypeSell {
		return trailingRef.Sub(p.KStopSell.Mul(atr))
	}
	return trailingRef.Add(p.KStopBuy.Mul(atr))
}

func (s *Rebuy) pairParams(pair core.Pair) config.PairParams {
	return s.params[pair.Name]
}
