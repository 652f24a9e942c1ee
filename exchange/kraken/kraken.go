// Package kraken implements the exchange port on the Kraken REST API.
package kraken

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"

	"github.com/raykavin/trailbot/core"
	"github.com/raykavin/trailbot/logger"
)

const (
	candleMinutes = 15
	atrPeriod     = 14
)

// Exchange implements core.Exchange against Kraken.
type Exchange struct {
	client  *Client
	pairs   map[string]core.Pair // altname -> pair, for order descriptions
	atrDays int
	log     logger.Logger
}

// NewExchange builds the port for the configured pairs. atrDays bounds the
// OHLC history requested for ATR computation.
func NewExchange(key, secret string, pairs []core.Pair, atrDays int, log logger.Logger) (*Exchange, error) {
	client, err := NewClient(key, secret)
	if err != nil {
		return nil, err
	}

	byAlt := make(map[string]core.Pair, len(pairs))
	for _, pair := range pairs {
		byAlt[pair.Name] = pair
		byAlt[pair.Primary] = pair
	}

	return &Exchange{
		client:  client,
		pairs:   byAlt,
		atrDays: atrDays,
		log:     log,
	}, nil
}

// Balance implements core.Exchange. Kraken reports every asset as a string
// amount keyed by its classic code (XXBT, ZEUR).
func (e *Exchange) Balance(ctx context.Context) (map[string]decimal.Decimal, error) {
	var result map[string]string
	if err := e.client.Private(ctx, "Balance", nil, &result); err != nil {
		return nil, fmt.Errorf("failed to fetch balance: %w", err)
	}

	balance := make(map[string]decimal.Decimal, len(result))
	for asset, amount := range result {
		value, err := decimal.NewFromString(amount)
		if err != nil {
			e.log.WithError(err).Warnf("unparseable balance for %s", asset)
			continue
		}
		balance[asset] = value
	}

	return balance, nil
}

// LastPrice implements core.Exchange using the Ticker endpoint. The result
// is keyed by the canonical pair name, so the single entry is taken as-is.
func (e *Exchange) LastPrice(ctx context.Context, primary string) (decimal.Decimal, error) {
	params := url.Values{"pair": {primary}}

	var result map[string]struct {
		Close []string `json:"c"`
	}
	if err := e.client.Public(ctx, "Ticker", params, &result); err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch ticker for %s: %w", primary, err)
	}

	for _, ticker := range result {
		if len(ticker.Close) == 0 {
			break
		}
		price, err := decimal.NewFromString(ticker.Close[0])
		if err != nil {
			return decimal.Zero, fmt.Errorf("unparseable last price for %s: %w", primary, err)
		}
		return price, nil
	}

	return decimal.Zero, fmt.Errorf("no ticker data for %s", primary)
}

// CurrentATR implements core.Exchange: the last value of a 14-period ATR
// over 15-minute candles.
func (e *Exchange) CurrentATR(ctx context.Context, pair core.Pair) (decimal.Decimal, error) {
	since := time.Now().AddDate(0, 0, -e.atrDays).Unix()
	params := url.Values{
		"pair":     {pair.Primary},
		"interval": {strconv.Itoa(candleMinutes)},
		"since":    {strconv.FormatInt(since, 10)},
	}

	var result map[string]json.RawMessage
	if err := e.client.Public(ctx, "OHLC", params, &result); err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch candles for %s: %w", pair.Name, err)
	}

	highs, lows, closes, err := parseCandles(result)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse candles for %s: %w", pair.Name, err)
	}

	if len(closes) <= atrPeriod {
		return decimal.Zero, fmt.Errorf("%w: %d candles for %s", core.ErrATRUnavailable, len(closes), pair.Name)
	}

	atr := talib.Atr(highs, lows, closes, atrPeriod)
	last := atr[len(atr)-1]
	if last <= 0 {
		return decimal.Zero, fmt.Errorf("%w: non-positive value for %s", core.ErrATRUnavailable, pair.Name)
	}

	return decimal.NewFromFloat(last), nil
}

// parseCandles extracts high/low/close series from the OHLC result. Candles
// arrive as [time, open, high, low, close, vwap, volume, count] arrays under
// the pair key; "last" is a pagination cursor and is skipped.
func parseCandles(result map[string]json.RawMessage) (highs, lows, closes []float64, err error) {
	for key, raw := range result {
		if key == "last" {
			continue
		}

		var rows [][]json.Number
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, nil, nil, err
		}

		for _, row := range rows {
			if len(row) < 5 {
				continue
			}
			high, err1 := row[2].Float64()
			low, err2 := row[3].Float64()
			cls, err3 := row[4].Float64()
			if err1 != nil || err2 != nil || err3 != nil {
				continue
			}
			highs = append(highs, high)
			lows = append(lows, low)
			closes = append(closes, cls)
		}
	}

	return highs, lows, closes, nil
}

// closedOrder is one entry of the ClosedOrders response.
type closedOrder struct {
	Status  string  `json:"status"`
	CloseTm float64 `json:"closetm"`
	VolExec string  `json:"vol_exec"`
	Cost    string  `json:"cost"`
	Price   string  `json:"price"`
	Descr   struct {
		Pair  string `json:"pair"`
		Type  string `json:"type"`
		Price string `json:"price"`
	} `json:"descr"`
}

// ClosedOrdersBetween implements core.Exchange, paginating through the
// ClosedOrders endpoint until the reported count is exhausted.
func (e *Exchange) ClosedOrdersBetween(ctx context.Context, start, end time.Time) (map[string]core.Fill, error) {
	fills := make(map[string]core.Fill)

	for offset := 0; ; {
		params := url.Values{
			"start": {strconv.FormatInt(start.Unix(), 10)},
			"end":   {strconv.FormatInt(end.Unix(), 10)},
			"ofs":   {strconv.Itoa(offset)},
		}

		var result struct {
			Closed map[string]closedOrder `json:"closed"`
			Count  int                    `json:"count"`
		}
		if err := e.client.Private(ctx, "ClosedOrders", params, &result); err != nil {
			return nil, fmt.Errorf("failed to fetch closed orders: %w", err)
		}

		for id, order := range result.Closed {
			fills[id] = e.toFill(id, order)
		}

		offset += len(result.Closed)
		if offset >= result.Count || len(result.Closed) == 0 {
			break
		}
	}

	return fills, nil
}

// toFill converts a Kraken closed order into the engine's fill shape. The
// order description carries the altname, which is translated back to the
// logical pair name when the pair is configured.
func (e *Exchange) toFill(id string, order closedOrder) core.Fill {
	pairName := order.Descr.Pair
	if pair, ok := e.pairs[pairName]; ok {
		pairName = pair.Name
	}

	price := parseDecimal(order.Price)
	if price.IsZero() {
		price = parseDecimal(order.Descr.Price)
	}

	sec, frac := int64(order.CloseTm), order.CloseTm-float64(int64(order.CloseTm))

	return core.Fill{
		ID:        id,
		Pair:      pairName,
		Side:      core.SideType(order.Descr.Type),
		Price:     price,
		Volume:    parseDecimal(order.VolExec),
		Cost:      parseDecimal(order.Cost),
		Status:    order.Status,
		CloseTime: time.Unix(sec, int64(frac*float64(time.Second))),
	}
}

// PlaceLimit implements core.Exchange. Price and volume are rounded to the
// instrument's precision before submission.
func (e *Exchange) PlaceLimit(ctx context.Context, pair core.Pair, side core.SideType, price, volume decimal.Decimal) (string, error) {
	params := url.Values{
		"pair":      {pair.Primary},
		"type":      {string(side)},
		"ordertype": {"limit"},
		"price":     {pair.RoundPrice(price).String()},
		"volume":    {pair.RoundVolume(volume).String()},
	}

	var result struct {
		Txid  []string `json:"txid"`
		Descr struct {
			Order string `json:"order"`
		} `json:"descr"`
	}
	if err := e.client.Private(ctx, "AddOrder", params, &result); err != nil {
		return "", &core.OrderError{Err: err, Pair: pair.Name, Side: side, Price: price, Volume: volume}
	}

	if len(result.Txid) == 0 {
		return "", &core.OrderError{
			Err:    fmt.Errorf("order accepted without transaction id"),
			Pair:   pair.Name,
			Side:   side,
			Price:  price,
			Volume: volume,
		}
	}

	e.log.Infof("order placed: %s (%s)", result.Txid[0], result.Descr.Order)
	return result.Txid[0], nil
}

// parseDecimal tolerates the empty strings Kraken emits for optional fields.
func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	value, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return value
}

var _ core.Exchange = (*Exchange)(nil)
