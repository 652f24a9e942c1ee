package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNoPairs            = errors.New("no pairs configured")
	ErrMissingCredentials = errors.New("missing exchange credentials")
	ErrUnknownMode        = errors.New("unknown strategy mode")
	ErrUnknownPair        = errors.New("unknown pair")
	ErrATRUnavailable     = errors.New("atr unavailable")
)

// OrderError wraps an order submission failure with its trading context so
// notifiers can render it without parsing the message.
type OrderError struct {
	Err    error
	Pair   string
	Side   SideType
	Price  decimal.Decimal
	Volume decimal.Decimal
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("order error: %v, pair: %s, side: %s, price: %s, volume: %s",
		e.Err, e.Pair, e.Side, e.Price, e.Volume)
}

func (e *OrderError) Unwrap() error { return e.Err }
