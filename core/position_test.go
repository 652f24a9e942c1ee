package core

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPositionActive(t *testing.T) {
	pos := &TrailingPosition{Side: SideTypeSell}
	assert.False(t, pos.Active())

	trailing := decimal.NewFromInt(61400)
	pos.TrailingPrice = &trailing
	assert.True(t, pos.Active())
}

func TestLivePNL(t *testing.T) {
	stop := decimal.NewFromInt(60650)
	trailing := decimal.NewFromInt(61400)

	pos := &TrailingPosition{
		Side:          SideTypeSell,
		EntryPrice:    decimal.NewFromInt(60000),
		TrailingPrice: &trailing,
		StopPrice:     &stop,
	}

	// (60650 - 60000) / 60000 * 100
	assert.True(t, pos.LivePNL().Round(2).Equal(decimal.NewFromFloat(1.08)))

	pos.Side = SideTypeBuy
	assert.True(t, pos.LivePNL().IsNegative())

	armed := &TrailingPosition{Side: SideTypeSell, EntryPrice: decimal.NewFromInt(60000)}
	assert.True(t, armed.LivePNL().IsZero())
}

func TestStateIsProcessed(t *testing.T) {
	state := make(State)
	state.Pair("XBTEUR")["P1"] = &TrailingPosition{ID: "P1", OpeningOrder: []string{"F1", "F2"}}

	assert.True(t, state.IsProcessed("XBTEUR", "F1"))
	assert.True(t, state.IsProcessed("XBTEUR", "F2"))
	assert.False(t, state.IsProcessed("XBTEUR", "F3"))
	assert.False(t, state.IsProcessed("ETHEUR", "F1"))
}

func TestSideInverse(t *testing.T) {
	assert.Equal(t, SideTypeSell, SideTypeBuy.Inverse())
	assert.Equal(t, SideTypeBuy, SideTypeSell.Inverse())
	assert.True(t, SideTypeBuy.Valid())
	assert.False(t, SideType("margin").Valid())
}
