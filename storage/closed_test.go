package storage

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raykavin/trailbot/core"
)

func newTestClosedLog(t *testing.T) *BuntClosedLog {
	t.Helper()

	log, err := NewBuntClosedLog(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	return log
}

func closedPosition(id string, fills ...string) *core.TrailingPosition {
	return &core.TrailingPosition{
		ID:           id,
		Mode:         "multipliers",
		OpeningOrder: fills,
		Side:         core.SideTypeSell,
		EntryPrice:   decimal.NewFromInt(60000),
		Volume:       decimal.NewFromFloat(0.01),
		ClosingOrder: "TX-1",
		PNL:          decimal.NewFromFloat(1.08),
	}
}

func TestBuntClosedLogAppendAndContains(t *testing.T) {
	log := newTestClosedLog(t)

	require.NoError(t, log.Append("XBTEUR", closedPosition("F1", "F1", "F2")))

	for _, fill := range []string{"F1", "F2"} {
		seen, err := log.Contains("XBTEUR", fill)
		require.NoError(t, err)
		assert.True(t, seen, "fill %s must be marked", fill)
	}

	seen, err := log.Contains("XBTEUR", "F3")
	require.NoError(t, err)
	assert.False(t, seen)

	// Markers are scoped per pair.
	seen, err = log.Contains("ETHEUR", "F1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestBuntClosedLogClosed(t *testing.T) {
	log := newTestClosedLog(t)

	require.NoError(t, log.Append("XBTEUR", closedPosition("F1", "F1")))
	require.NoError(t, log.Append("XBTEUR", closedPosition("F5", "F5")))
	require.NoError(t, log.Append("ETHEUR", closedPosition("E1", "E1")))

	closed, err := log.Closed("XBTEUR")
	require.NoError(t, err)
	require.Len(t, closed, 2)

	pos := closed["F1"]
	require.NotNil(t, pos)
	assert.Equal(t, "TX-1", pos.ClosingOrder)
	assert.True(t, pos.PNL.Equal(decimal.NewFromFloat(1.08)))
}
