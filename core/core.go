// Package core holds the domain types and the contracts between the trailing
// engine and its collaborators: the exchange port, the state store, the
// strategy policies and the operator notifier.
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Exchange is the narrow port the engine requires from a spot exchange.
// Implementations must be safe for concurrent use by the trading loop and
// the control plane, and must bound every call with a timeout.
type Exchange interface {
	// Balance returns the free balance per asset code.
	Balance(ctx context.Context) (map[string]decimal.Decimal, error)

	// LastPrice returns the last traded price for the pair's primary symbol.
	LastPrice(ctx context.Context, primary string) (decimal.Decimal, error)

	// CurrentATR returns the current N-period ATR for the pair at the
	// configured intraday granularity. Any error means "ATR unavailable";
	// callers fall back to the strategy's ATR floor.
	CurrentATR(ctx context.Context, pair Pair) (decimal.Decimal, error)

	// ClosedOrdersBetween returns the fills closed inside [start, end],
	// keyed by fill id. Implementations may paginate internally.
	ClosedOrdersBetween(ctx context.Context, start, end time.Time) (map[string]Fill, error)

	// PlaceLimit submits a limit order and returns the exchange order id.
	PlaceLimit(ctx context.Context, pair Pair, side SideType, price, volume decimal.Decimal) (string, error)
}

// Strategy computes the activation and stop geometry of a trailing position.
// Implementations must be pure: same inputs, same outputs.
type Strategy interface {
	// Name identifies the strategy; it is frozen on each position as its mode.
	Name() string

	// OnFill derives the position side, the ATR snapshot and the activation
	// price from a freshly ingested fill. currentATR equal to zero means the
	// ATR feed was unavailable.
	OnFill(fillSide SideType, entryPrice, currentATR decimal.Decimal, pair Pair) (SideType, decimal.Decimal, decimal.Decimal)

	// ATRValue applies the strategy's ATR floor. A zero currentATR means
	// unavailable and yields the floor.
	ATRValue(entryPrice, currentATR decimal.Decimal, pair Pair) decimal.Decimal

	// ActivationDistance returns the distance from entry to activation.
	ActivationDistance(side SideType, atr, entryPrice decimal.Decimal, pair Pair) decimal.Decimal

	// StopPrice derives the stop from the trailing reference, clamped so it
	// never crosses the strategy's margin floor relative to entry.
	StopPrice(side SideType, entryPrice, trailingRef, atr decimal.Decimal, pair Pair) decimal.Decimal
}

// StateStore persists the trailing-state document.
type StateStore interface {
	// Load reads the persisted document. A missing or unreadable file yields
	// an empty state together with the read error; callers log and proceed.
	Load() (State, error)

	// Save atomically rewrites the document. After Save returns, a crash
	// does not lose positions.
	Save(State) error
}

// ClosedLog records closed positions, keyed by pair and position id.
type ClosedLog interface {
	// Append adds a closed position to the log.
	Append(pair string, position *TrailingPosition) error

	// Contains reports whether a fill id already participated in a closed
	// position of the pair. It guards re-ingestion of fills whose position
	// has already completed its cycle.
	Contains(pair, fillID string) (bool, error)

	Close() error
}

// Notifier pushes one-way messages to the operator.
type Notifier interface {
	Notify(text string)
}
