// Package trailing contains the per-pair trailing-position engine and the
// session scheduler that drives it.
package trailing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/raykavin/trailbot/config"
	"github.com/raykavin/trailbot/core"
	"github.com/raykavin/trailbot/logger"
)

// ATR drift band. Distances are recalibrated only when the fresh ATR leaves
// [0.8, 1.2] times the snapshot they were derived from.
var (
	atrBandLower = decimal.NewFromFloat(0.8)
	atrBandUpper = decimal.NewFromFloat(1.2)

	// Armed positions within this entry-price proximity absorb new fills of
	// the same side instead of spawning competing positions.
	mergeProximity = decimal.NewFromFloat(0.01)

	hundred = decimal.NewFromInt(100)
)

// Engine advances the trailing positions of each pair: it ingests newly
// closed exchange fills into Armed positions, walks every position through
// the Armed -> Active -> Closed transitions given the session's market
// sample, and submits the closing limit order when a stop triggers.
type Engine struct {
	exchange   core.Exchange
	closed     core.ClosedLog
	strategies map[string]core.Strategy
	mode       string
	params     map[string]config.PairParams
	notifier   core.Notifier
	log        logger.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier attaches an operator notifier for position lifecycle events.
func WithNotifier(n core.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// NewEngine creates the engine. mode selects the strategy frozen onto newly
// created positions; strategies must contain every mode that may appear in
// the persisted state.
func NewEngine(
	exchange core.Exchange,
	closed core.ClosedLog,
	strategies map[string]core.Strategy,
	mode string,
	params map[string]config.PairParams,
	log logger.Logger,
	options ...Option,
) *Engine {
	engine := &Engine{
		exchange:   exchange,
		closed:     closed,
		strategies: strategies,
		mode:       mode,
		params:     params,
		log:        log,
	}

	for _, option := range options {
		option(engine)
	}

	return engine
}

// IngestFills converts the pair's newly closed fills into Armed positions,
// merging into an existing Armed sibling when one is close enough. Fills
// already represented in the live state or in the closed log are skipped, so
// ingestion is idempotent across sessions.
func (e *Engine) IngestFills(pair core.Pair, state core.State, fills map[string]core.Fill, currentATR decimal.Decimal) {
	pairState := state.Pair(pair.Name)

	for _, id := range sortedFillIDs(fills) {
		fill := fills[id]
		if fill.Pair != pair.Name || !fill.Side.Valid() {
			continue
		}
		if fill.Status != core.OrderStatusTypeClosed {
			continue
		}
		if state.IsProcessed(pair.Name, id) {
			continue
		}
		if e.alreadyClosed(pair.Name, id) {
			continue
		}

		e.processFill(pair, pairState, id, fill, currentATR)
	}
}

// alreadyClosed consults the closed log so a fill whose position has already
// completed its cycle is not re-armed. A log error defers the fill to the
// next session rather than risking a duplicate position.
func (e *Engine) alreadyClosed(pair, fillID string) bool {
	if e.closed == nil {
		return false
	}

	seen, err := e.closed.Contains(pair, fillID)
	if err != nil {
		e.log.WithError(err).Errorf("closed-log lookup failed for fill %s, deferring", fillID)
		return true
	}
	return seen
}

func (e *Engine) processFill(pair core.Pair, pairState core.PairState, id string, fill core.Fill, currentATR decimal.Decimal) {
	strategy, ok := e.strategies[e.mode]
	if !ok {
		e.log.Errorf("no strategy registered for mode %q", e.mode)
		return
	}

	newSide, atr, activationPrice := strategy.OnFill(fill.Side, fill.Price, currentATR, pair)

	if sibling := e.mergeCandidate(pairState, newSide, fill.Price); sibling != nil {
		e.merge(pair, sibling, id, fill)
		return
	}

	position := &core.TrailingPosition{
		ID:              id,
		Mode:            e.mode,
		CreatedTime:     time.Now().Format(core.TimeLayout),
		OpeningOrder:    []string{id},
		Side:            newSide,
		EntryPrice:      fill.Price,
		Volume:          fill.Volume,
		Cost:            fill.Cost,
		ActivationATR:   atr,
		ActivationPrice: activationPrice,
	}
	pairState[id] = position

	e.log.Infof("[CREATE] %s: new %s trailing position %s, activation at %s",
		pair.Name, newSide, id, activationPrice)
	e.notify("🆕 %s: new %s position %s\nEntry: %s | Activation: %s",
		pair.Name, newSide, id, fill.Price, activationPrice)
}

// mergeCandidate finds an Armed position of the same mode and side whose
// entry price is within the merge proximity of the fill price.
func (e *Engine) mergeCandidate(pairState core.PairState, side core.SideType, fillPrice decimal.Decimal) *core.TrailingPosition {
	ids := lo.Keys(pairState)
	sort.Strings(ids)

	for _, id := range ids {
		position := pairState[id]
		if position.Active() || position.Mode != e.mode || position.Side != side {
			continue
		}
		if position.EntryPrice.IsZero() {
			continue
		}

		drift := position.EntryPrice.Sub(fillPrice).Abs().Div(position.EntryPrice)
		if drift.LessThanOrEqual(mergeProximity) {
			return position
		}
	}

	return nil
}

// merge folds the fill into the sibling. Entry price and activation price
// stay untouched; volume and cost aggregate by the side's accounting rule.
func (e *Engine) merge(pair core.Pair, position *core.TrailingPosition, fillID string, fill core.Fill) {
	if position.Side == core.SideTypeSell {
		position.Volume = position.Volume.Add(fill.Volume)
		position.Cost = position.Volume.Mul(position.EntryPrice)
	} else {
		position.Cost = position.Cost.Add(fill.Cost)
		position.Volume = position.Cost.Div(position.EntryPrice)
	}
	position.OpeningOrder = append(position.OpeningOrder, fillID)

	e.log.Infof("[MERGE] %s: fill %s merged into position %s, volume %s, cost %s",
		pair.Name, fillID, position.ID, position.Volume, position.Cost)
	e.notify("➕ %s: fill %s merged into %s position %s\nVolume: %s | Cost: %s",
		pair.Name, fillID, position.Side, position.ID, position.Volume, position.Cost)
}

// Tick advances every position of the pair one step with the session's
// (price, ATR) sample. Within the tick each position sees recalibration
// first, then the stop check, then the trailing update.
func (e *Engine) Tick(ctx context.Context, pair core.Pair, state core.State, price, currentATR decimal.Decimal, balance map[string]decimal.Decimal) {
	pairState := state.Pair(pair.Name)

	ids := lo.Keys(pairState)
	sort.Strings(ids)

	for _, id := range ids {
		position, ok := pairState[id]
		if !ok {
			continue
		}

		strategy, ok := e.strategies[position.Mode]
		if !ok {
			e.log.Errorf("position %s has unknown mode %q, skipping", id, position.Mode)
			continue
		}

		atrNow := strategy.ATRValue(position.EntryPrice, currentATR, pair)

		if !position.Active() {
			e.tickArmed(pair, position, strategy, price, atrNow)
			continue
		}
		e.tickActive(ctx, pair, pairState, position, strategy, price, atrNow, balance)
	}
}

// tickArmed recalibrates the activation distance on material ATR drift and
// performs the Armed -> Active transition when the market crosses the
// activation price in the expected direction.
func (e *Engine) tickArmed(pair core.Pair, position *core.TrailingPosition, strategy core.Strategy, price, atrNow decimal.Decimal) {
	if outsideBand(atrNow, position.ActivationATR) {
		distance := strategy.ActivationDistance(position.Side, atrNow, position.EntryPrice, pair)
		if position.Side == core.SideTypeSell {
			position.ActivationPrice = position.EntryPrice.Add(distance)
		} else {
			position.ActivationPrice = position.EntryPrice.Sub(distance)
		}
		position.ActivationATR = atrNow

		e.log.Infof("[ATR] %s: position %s activation recalibrated to %s",
			pair.Name, position.ID, position.ActivationPrice)
	}

	crossed := position.Side == core.SideTypeSell && price.GreaterThanOrEqual(position.ActivationPrice) ||
		position.Side == core.SideTypeBuy && price.LessThanOrEqual(position.ActivationPrice)
	if !crossed {
		return
	}

	stopATR := position.ActivationATR
	trailing := price
	stop := strategy.StopPrice(position.Side, position.EntryPrice, trailing, stopATR, pair)

	position.ActivationTime = time.Now().Format(core.TimeLayout)
	position.TrailingPrice = &trailing
	position.StopPrice = &stop
	position.StopATR = &stopATR

	e.log.Infof("[ACTIVE] %s: position %s activated, trailing %s, stop %s",
		pair.Name, position.ID, trailing, stop)
	e.notify("⚡ %s: position %s activated\nTrailing: %s | Stop: %s",
		pair.Name, position.ID, trailing, stop)
}

// tickActive applies, in order: stop-ATR recalibration, the stop trigger,
// and the trailing update. A close removes the position from the pair map.
func (e *Engine) tickActive(
	ctx context.Context,
	pair core.Pair,
	pairState core.PairState,
	position *core.TrailingPosition,
	strategy core.Strategy,
	price, atrNow decimal.Decimal,
	balance map[string]decimal.Decimal,
) {
	if outsideBand(atrNow, *position.StopATR) {
		candidate := strategy.StopPrice(position.Side, position.EntryPrice, *position.TrailingPrice, atrNow, pair)
		if favorable(position.Side, candidate, *position.StopPrice) {
			atr := atrNow
			position.StopPrice = &candidate
			position.StopATR = &atr

			e.log.Infof("[ATR] %s: position %s stop recalibrated to %s",
				pair.Name, position.ID, candidate)
		}
	}

	triggered := position.Side == core.SideTypeSell && price.LessThanOrEqual(*position.StopPrice) ||
		position.Side == core.SideTypeBuy && price.GreaterThanOrEqual(*position.StopPrice)
	if triggered && e.close(ctx, pair, pairState, position, price, balance) {
		return
	}

	improved := position.Side == core.SideTypeSell && price.GreaterThan(*position.TrailingPrice) ||
		position.Side == core.SideTypeBuy && price.LessThan(*position.TrailingPrice)
	if !improved {
		return
	}

	trailing := price
	position.TrailingPrice = &trailing

	candidate := strategy.StopPrice(position.Side, position.EntryPrice, trailing, *position.StopATR, pair)
	if favorable(position.Side, candidate, *position.StopPrice) {
		position.StopPrice = &candidate
	}

	e.log.Infof("[UPDATE] %s: position %s trailing %s, stop %s",
		pair.Name, position.ID, trailing, *position.StopPrice)
}

// close submits the closing limit order at the stop price. Sells pass the
// inventory-allocation guard first; a veto leaves the position untouched so
// the trigger is re-evaluated next tick. Returns true when the position was
// closed and removed.
func (e *Engine) close(
	ctx context.Context,
	pair core.Pair,
	pairState core.PairState,
	position *core.TrailingPosition,
	price decimal.Decimal,
	balance map[string]decimal.Decimal,
) bool {
	stop := *position.StopPrice

	volume := position.Volume
	cost := position.Cost
	if position.Side == core.SideTypeSell {
		if !e.allocationOK(pair, balance, price, volume) {
			e.log.Warnf("[BLOCKED] %s: sell %s vetoed by inventory allocation guard",
				pair.Name, position.ID)
			e.notify("🛡 %s: sell %s blocked by inventory allocation floor", pair.Name, position.ID)
			return false
		}
		cost = volume.Mul(stop)
	} else {
		volume = cost.Div(stop)
	}

	orderID, err := e.exchange.PlaceLimit(ctx, pair, position.Side, stop, volume)
	if err != nil {
		e.log.WithError(err).Errorf("[CLOSE] %s: failed to close position %s, will retry",
			pair.Name, position.ID)
		e.notify("🛑 %s: failed to close position %s: %v", pair.Name, position.ID, err)
		return false
	}

	var pnl decimal.Decimal
	if position.Side == core.SideTypeSell {
		pnl = stop.Sub(position.EntryPrice).Div(position.EntryPrice).Mul(hundred)
	} else {
		pnl = position.EntryPrice.Sub(stop).Div(position.EntryPrice).Mul(hundred)
	}

	position.Volume = volume
	position.Cost = cost
	position.ClosingTime = time.Now().Format(core.TimeLayout)
	position.ClosingOrder = orderID
	position.PNL = pnl.Round(2)

	if e.closed != nil {
		if err := e.closed.Append(pair.Name, position); err != nil {
			e.log.WithError(err).Errorf("failed to append position %s to closed log", position.ID)
		}
	}

	// The order was accepted: the position must not close twice, so it
	// leaves the active map even when the log append failed.
	delete(pairState, position.ID)

	e.log.Infof("[CLOSE] %s: position %s closed at %s, pnl %s%%",
		pair.Name, position.ID, stop, position.PNL)
	e.notify("⛔ %s: position %s closed\nLimit %s at %s | P&L: %s%%",
		pair.Name, position.ID, position.Side, stop, position.PNL)

	return true
}

// allocationOK checks that executing the sell keeps the base asset's share
// of the pair's total value at or above the configured floor.
func (e *Engine) allocationOK(pair core.Pair, balance map[string]decimal.Decimal, price, volume decimal.Decimal) bool {
	minAlloc := e.params[pair.Name].MinAllocation
	if !minAlloc.IsPositive() {
		return true
	}

	baseAfter := balance[pair.Base].Sub(volume)
	quoteAfter := balance[pair.Quote].Add(volume.Mul(price))

	baseValue := baseAfter.Mul(price)
	total := baseValue.Add(quoteAfter)
	if total.IsZero() {
		return true
	}

	return baseValue.Div(total).GreaterThanOrEqual(minAlloc)
}

func (e *Engine) notify(format string, args ...any) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(fmt.Sprintf(format, args...))
}

// outsideBand reports whether the fresh ATR drifted out of the 20% band
// around the reference snapshot.
func outsideBand(atrNow, reference decimal.Decimal) bool {
	if !reference.IsPositive() {
		return atrNow.IsPositive()
	}
	return atrNow.LessThan(reference.Mul(atrBandLower)) ||
		atrNow.GreaterThan(reference.Mul(atrBandUpper))
}

// favorable reports whether a candidate stop improves on the current one:
// higher for sell, lower for buy.
func favorable(side core.SideType, candidate, current decimal.Decimal) bool {
	if side == core.SideTypeSell {
		return candidate.GreaterThan(current)
	}
	return candidate.LessThan(current)
}

func sortedFillIDs(fills map[string]core.Fill) []string {
	ids := lo.Keys(fills)
	sort.Strings(ids)
	return ids
}
