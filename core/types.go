package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// SideType is the direction of an order or position.
type SideType string

const (
	SideTypeBuy  SideType = "buy"
	SideTypeSell SideType = "sell"
)

// Inverse returns the opposite side.
func (s SideType) Inverse() SideType {
	if s == SideTypeBuy {
		return SideTypeSell
	}
	return SideTypeBuy
}

// Valid reports whether the side is buy or sell.
func (s SideType) Valid() bool {
	return s == SideTypeBuy || s == SideTypeSell
}

// Pair describes a configured market pair with its wire aliases. Immutable
// after startup; the engine uses Name everywhere and the exchange port owns
// the translation to Primary/Display symbols.
type Pair struct {
	Name    string // logical identifier, e.g. XBTEUR
	Primary string // symbol used for price and order endpoints, e.g. XXBTZEUR
	Display string // websocket/display symbol, e.g. XBT/EUR
	Base    string // base asset code, e.g. XXBT
	Quote   string // quote asset code, e.g. ZEUR

	// Instrument rounding used for order submission and display.
	PriceDecimals  int32
	VolumeDecimals int32
}

// RoundPrice rounds a price to the pair's quote precision.
func (p Pair) RoundPrice(v decimal.Decimal) decimal.Decimal {
	return v.Round(p.PriceDecimals)
}

// RoundVolume rounds a base quantity to the pair's lot precision.
func (p Pair) RoundVolume(v decimal.Decimal) decimal.Decimal {
	return v.Round(p.VolumeDecimals)
}

// OrderStatusTypeClosed is the only fill status the engine ingests.
const OrderStatusTypeClosed = "closed"

// Fill is a closed exchange order as reported by the exchange port.
type Fill struct {
	ID        string
	Pair      string
	Side      SideType
	Price     decimal.Decimal
	Volume    decimal.Decimal
	Cost      decimal.Decimal
	Status    string
	CloseTime time.Time
}

// TimeLayout is the human-readable timestamp layout recorded on positions.
const TimeLayout = "2006-01-02 15:04:05"
