package kraken

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raykavin/trailbot/core"
)

// Reference vector from the Kraken API documentation.
func TestClientSign(t *testing.T) {
	secret := "kQH5HW/8p1uGOVjbgWA7FunAmGO8lsSUXNsu3eow76sz84Q18fWxnyRzBHCd3pd5nE9qa99HAZtuZuj6F1huXg=="
	client, err := NewClient("key", secret)
	require.NoError(t, err)

	signature := client.sign(
		"/0/private/AddOrder",
		"1616492376594",
		"nonce=1616492376594&ordertype=limit&pair=XBTUSD&price=37500&type=buy&volume=1.25",
	)

	assert.Equal(t, "4/dpxb3iT4tp/ZCVEwSnEsLxx0bqyhLpdfOpc6fn7OR8+UClSV5n9E6aSS8MPtnRfp32bAb0nmbRn6H8ndwLUQ==", signature)
}

func TestClientRejectsInvalidSecret(t *testing.T) {
	_, err := NewClient("key", "not base64 !!!")
	assert.Error(t, err)
}

func TestClientNonceIsStrictlyIncreasing(t *testing.T) {
	client, err := NewClient("key", "c2VjcmV0")
	require.NoError(t, err)

	last := client.nextNonce()
	for i := 0; i < 100; i++ {
		next := client.nextNonce()
		assert.Greater(t, next, last)
		last = next
	}
}

func TestAPIErrorRetryable(t *testing.T) {
	assert.True(t, apiError{"EAPI:Rate limit exceeded"}.retryable())
	assert.True(t, apiError{"EService:Unavailable"}.retryable())
	assert.False(t, apiError{"EOrder:Insufficient funds"}.retryable())
}

func TestResolvePairs(t *testing.T) {
	pairs, err := ResolvePairs([]string{"XBTEUR", "ETHEUR"})
	require.NoError(t, err)
	require.Len(t, pairs, 2)

	assert.Equal(t, "XXBTZEUR", pairs[0].Primary)
	assert.Equal(t, "XXBT", pairs[0].Base)
	assert.Equal(t, "ZEUR", pairs[0].Quote)

	_, err = ResolvePairs([]string{"DOGEMOON"})
	assert.ErrorIs(t, err, core.ErrUnknownPair)
}

func TestParseCandles(t *testing.T) {
	raw := `{
		"XXBTZEUR": [
			[1688671200, "60000.0", "60100.0", "59900.0", "60050.0", "60010.3", "1.5", 42],
			[1688672100, "60050.0", "60200.0", "60000.0", "60150.0", "60101.1", "0.7", 17]
		],
		"last": 1688672100
	}`

	var result map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &result))

	highs, lows, closes, err := parseCandles(result)
	require.NoError(t, err)

	assert.Equal(t, []float64{60100, 60200}, highs)
	assert.Equal(t, []float64{59900, 60000}, lows)
	assert.Equal(t, []float64{60050, 60150}, closes)
}

func TestToFillTranslatesPairAlias(t *testing.T) {
	pairs, err := ResolvePairs([]string{"XBTEUR"})
	require.NoError(t, err)

	exc := &Exchange{pairs: map[string]core.Pair{
		pairs[0].Name:    pairs[0],
		pairs[0].Primary: pairs[0],
	}}

	order := closedOrder{
		Status:  "closed",
		CloseTm: 1688671200.5,
		VolExec: "0.01",
		Cost:    "600.0",
		Price:   "60000.0",
	}
	order.Descr.Pair = "XBTEUR"
	order.Descr.Type = "buy"

	fill := exc.toFill("OABC-123", order)

	assert.Equal(t, "OABC-123", fill.ID)
	assert.Equal(t, "XBTEUR", fill.Pair)
	assert.Equal(t, core.SideTypeBuy, fill.Side)
	assert.Equal(t, core.OrderStatusTypeClosed, fill.Status)
	assert.True(t, fill.Price.Equal(decimal.NewFromInt(60000)))
	assert.True(t, fill.Volume.Equal(decimal.NewFromFloat(0.01)))
	assert.Equal(t, int64(1688671200), fill.CloseTime.Unix())
}

func TestToFillFallsBackToDescriptionPrice(t *testing.T) {
	exc := &Exchange{pairs: map[string]core.Pair{}}

	order := closedOrder{Status: "closed", VolExec: "0.01", Price: "0.00000"}
	order.Descr.Pair = "XBTEUR"
	order.Descr.Type = "sell"
	order.Descr.Price = "61000.0"

	fill := exc.toFill("OXYZ-456", order)
	assert.True(t, fill.Price.Equal(decimal.NewFromInt(61000)))
}
