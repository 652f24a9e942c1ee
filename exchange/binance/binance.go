// Package binance implements the exchange port on the Binance spot API.
package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"

	"github.com/raykavin/trailbot/core"
	"github.com/raykavin/trailbot/logger"
)

const (
	candleInterval = "15m"
	atrPeriod      = 14
)

// Exchange implements core.Exchange against Binance spot.
type Exchange struct {
	client  *binance.Client
	pairs   []core.Pair
	atrDays int
	log     logger.Logger
}

// NewExchange builds the port for the configured pairs.
func NewExchange(key, secret string, pairs []core.Pair, atrDays int, log logger.Logger) *Exchange {
	return &Exchange{
		client:  binance.NewClient(key, secret),
		pairs:   pairs,
		atrDays: atrDays,
		log:     log,
	}
}

// Balance implements core.Exchange. Free and locked amounts are summed so
// open orders still count against inventory.
func (e *Exchange) Balance(ctx context.Context) (map[string]decimal.Decimal, error) {
	account, err := e.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account: %w", err)
	}

	balance := make(map[string]decimal.Decimal, len(account.Balances))
	for _, b := range account.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			continue
		}
		locked, err := decimal.NewFromString(b.Locked)
		if err != nil {
			continue
		}
		balance[b.Asset] = free.Add(locked)
	}

	return balance, nil
}

// LastPrice implements core.Exchange.
func (e *Exchange) LastPrice(ctx context.Context, primary string) (decimal.Decimal, error) {
	prices, err := e.client.NewListPricesService().Symbol(primary).Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch price for %s: %w", primary, err)
	}
	if len(prices) == 0 {
		return decimal.Zero, fmt.Errorf("no price data for %s", primary)
	}

	price, err := decimal.NewFromString(prices[0].Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unparseable price for %s: %w", primary, err)
	}
	return price, nil
}

// CurrentATR implements core.Exchange: the last value of a 14-period ATR
// over 15-minute candles.
func (e *Exchange) CurrentATR(ctx context.Context, pair core.Pair) (decimal.Decimal, error) {
	start := time.Now().AddDate(0, 0, -e.atrDays).UnixMilli()
	klines, err := e.client.NewKlinesService().
		Symbol(pair.Primary).
		Interval(candleInterval).
		StartTime(start).
		Limit(1000).
		Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch candles for %s: %w", pair.Name, err)
	}

	if len(klines) <= atrPeriod {
		return decimal.Zero, fmt.Errorf("%w: %d candles for %s", core.ErrATRUnavailable, len(klines), pair.Name)
	}

	highs := make([]float64, 0, len(klines))
	lows := make([]float64, 0, len(klines))
	closes := make([]float64, 0, len(klines))
	for _, k := range klines {
		high, err1 := strconv.ParseFloat(k.High, 64)
		low, err2 := strconv.ParseFloat(k.Low, 64)
		cls, err3 := strconv.ParseFloat(k.Close, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		highs = append(highs, high)
		lows = append(lows, low)
		closes = append(closes, cls)
	}

	if len(closes) <= atrPeriod {
		return decimal.Zero, fmt.Errorf("%w: unparseable candles for %s", core.ErrATRUnavailable, pair.Name)
	}

	atr := talib.Atr(highs, lows, closes, atrPeriod)
	last := atr[len(atr)-1]
	if last <= 0 {
		return decimal.Zero, fmt.Errorf("%w: non-positive value for %s", core.ErrATRUnavailable, pair.Name)
	}

	return decimal.NewFromFloat(last), nil
}

// ClosedOrdersBetween implements core.Exchange. Binance scopes the order
// history endpoint to one symbol, so every configured pair is queried.
func (e *Exchange) ClosedOrdersBetween(ctx context.Context, start, end time.Time) (map[string]core.Fill, error) {
	fills := make(map[string]core.Fill)

	for _, pair := range e.pairs {
		orders, err := e.client.NewListOrdersService().
			Symbol(pair.Primary).
			StartTime(start.UnixMilli()).
			EndTime(end.UnixMilli()).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch orders for %s: %w", pair.Name, err)
		}

		for _, order := range orders {
			if order.Status != binance.OrderStatusTypeFilled {
				continue
			}
			fill := toFill(pair, order)
			fills[fill.ID] = fill
		}
	}

	return fills, nil
}

// toFill converts a filled Binance order. The effective price is the
// average execution price, falling back to the limit price for zero fills.
func toFill(pair core.Pair, order *binance.Order) core.Fill {
	executed := parseDecimal(order.ExecutedQuantity)
	cost := parseDecimal(order.CummulativeQuoteQuantity)

	price := parseDecimal(order.Price)
	if executed.IsPositive() && cost.IsPositive() {
		price = cost.Div(executed)
	}

	return core.Fill{
		ID:        strconv.FormatInt(order.OrderID, 10),
		Pair:      pair.Name,
		Side:      core.SideType(strings.ToLower(string(order.Side))),
		Price:     price,
		Volume:    executed,
		Cost:      cost,
		Status:    core.OrderStatusTypeClosed,
		CloseTime: time.UnixMilli(order.UpdateTime),
	}
}

// PlaceLimit implements core.Exchange with a GTC limit order.
func (e *Exchange) PlaceLimit(ctx context.Context, pair core.Pair, side core.SideType, price, volume decimal.Decimal) (string, error) {
	order, err := e.client.NewCreateOrderService().
		Symbol(pair.Primary).
		Side(binance.SideType(strings.ToUpper(string(side)))).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Price(pair.RoundPrice(price).String()).
		Quantity(pair.RoundVolume(volume).String()).
		Do(ctx)
	if err != nil {
		return "", &core.OrderError{Err: err, Pair: pair.Name, Side: side, Price: price, Volume: volume}
	}

	e.log.Infof("order placed: %d", order.OrderID)
	return strconv.FormatInt(order.OrderID, 10), nil
}

func parseDecimal(s string) decimal.Decimal {
	value, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return value
}

var _ core.Exchange = (*Exchange)(nil)
