package core

import (
	"slices"

	"github.com/shopspring/decimal"
)

// TrailingPosition is the engine's unit of work: a virtual trailing order
// armed around a previously filled exchange order.
//
// The position is Armed while TrailingPrice is nil and Active afterwards.
// Side is the side the position will execute on close, the inverse of the
// originating fill. EntryPrice never changes for the life of the position.
type TrailingPosition struct {
	ID             string   `json:"id"`
	Mode           string   `json:"mode"`
	CreatedTime    string   `json:"created_time"`
	ActivationTime string   `json:"activation_time,omitempty"`
	ClosingTime    string   `json:"closing_time,omitempty"`
	OpeningOrder   []string `json:"opening_order"`

	Side       SideType        `json:"side"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Volume     decimal.Decimal `json:"volume"`
	Cost       decimal.Decimal `json:"cost"`

	ActivationATR   decimal.Decimal `json:"activation_atr"`
	ActivationPrice decimal.Decimal `json:"activation_price"`

	// Present only once the position is Active.
	TrailingPrice *decimal.Decimal `json:"trailing_price,omitempty"`
	StopPrice     *decimal.Decimal `json:"stop_price,omitempty"`
	StopATR       *decimal.Decimal `json:"stop_atr,omitempty"`

	// Recorded at close.
	ClosingOrder string          `json:"closing_order,omitempty"`
	PNL          decimal.Decimal `json:"pnl,omitempty"`
}

// Active reports whether the position has transitioned Armed -> Active.
func (p *TrailingPosition) Active() bool {
	return p.TrailingPrice != nil
}

// HasOpeningOrder reports whether the fill id was merged into this position.
func (p *TrailingPosition) HasOpeningOrder(fillID string) bool {
	return slices.Contains(p.OpeningOrder, fillID)
}

// LivePNL returns the profit percentage the position would realize at its
// current stop price. Zero for Armed positions.
func (p *TrailingPosition) LivePNL() decimal.Decimal {
	if !p.Active() || p.EntryPrice.IsZero() {
		return decimal.Zero
	}

	if p.Side == SideTypeSell {
		return p.StopPrice.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
	}
	return p.EntryPrice.Sub(*p.StopPrice).Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
}

// PairState maps position id to position for a single pair.
type PairState map[string]*TrailingPosition

// State is the persisted trailing-state document: pair -> id -> position.
type State map[string]PairState

// Pair returns the sub-map for the pair, creating it when absent.
func (s State) Pair(pair string) PairState {
	ps, ok := s[pair]
	if !ok {
		ps = make(PairState)
		s[pair] = ps
	}
	return ps
}

// IsProcessed reports whether any position of the pair already merged the
// fill id into its opening orders.
func (s State) IsProcessed(pair, fillID string) bool {
	for _, pos := range s[pair] {
		if pos.HasOpeningOrder(fillID) {
			return true
		}
	}
	return false
}

// Positions returns the number of positions across all pairs.
func (s State) Positions() int {
	var n int
	for _, ps := range s {
		n += len(ps)
	}
	return n
}
