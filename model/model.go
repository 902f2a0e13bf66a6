// Package model holds the terminal's data types: account information,
// positions, orders, symbol specifications, prices and history records
// (spec §3). Monetary and volume fields use decimal.Decimal to avoid
// float64 drift across the many additive updates applied in the terminal
// state mirror (see SPEC_FULL.md §3).
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionType is the direction of an open position.
type PositionType int

const (
	PositionBuy PositionType = iota
	PositionSell
)

// OrderType enumerates the pending-order instruction kinds.
type OrderType int

const (
	OrderBuyLimit OrderType = iota
	OrderSellLimit
	OrderBuyStop
	OrderSellStop
	OrderBuyStopLimit
	OrderSellStopLimit
)

// AccountInformation mirrors the remote terminal's account summary.
// Equity/margin/freeMargin/marginLevel are "derived" fields: they may be
// overwritten wholesale by price updates that carry an explicit override
// (§4.C). Equity is also recomputed from balance and position profit on
// every tick; margin, freeMargin and marginLevel change only via overrides
// or a new account information event.
type AccountInformation struct {
	Currency      string
	Balance       decimal.Decimal
	Equity        decimal.Decimal
	Margin        decimal.Decimal
	FreeMargin    decimal.Decimal
	MarginLevel   decimal.Decimal
	Leverage      int64
	MarginMode    string
	TradeAllowed  bool
	InvestorMode  bool
	Broker        string
	Server        string
	Platform      string
}

// Position is an open exposure held by the terminal account.
type Position struct {
	ID                string
	Symbol            string
	Type              PositionType
	Volume            decimal.Decimal
	OpenPrice         decimal.Decimal
	CurrentPrice      decimal.Decimal
	CurrentTickValue  decimal.Decimal
	StopLoss          *decimal.Decimal
	TakeProfit        *decimal.Decimal
	Profit            decimal.Decimal
	UnrealizedProfit  decimal.Decimal
	Swap              decimal.Decimal
	Commission        decimal.Decimal
	RealizedProfit    decimal.Decimal
	Time              time.Time
	UpdateTime        time.Time
	Magic             int64
	Comment           *string
	ClientID          *string
	Reason            string
	OriginalComment   *string
}

// Order is a pending instruction resting on the terminal.
type Order struct {
	ID              string
	Symbol          string
	Type            OrderType
	State           string
	Volume          decimal.Decimal
	CurrentVolume   decimal.Decimal
	OpenPrice       decimal.Decimal
	CurrentPrice    decimal.Decimal
	StopLoss        *decimal.Decimal
	TakeProfit      *decimal.Decimal
	ExpirationType  *string
	ExpirationTime  *time.Time
	FillingMode     *string
}

// Session is one daily window in which a symbol quotes or trades.
type Session struct {
	From time.Duration // offset from start of day
	To   time.Duration
}

// SymbolSpecification describes a tradeable instrument's static parameters.
// An update replaces the prior value in its entirety (§3).
type SymbolSpecification struct {
	Symbol          string
	TickSize        decimal.Decimal
	MinVolume       decimal.Decimal
	MaxVolume       decimal.Decimal
	VolumeStep      decimal.Decimal
	ContractSize    decimal.Decimal
	QuoteSessions   map[time.Weekday][]Session
	TradeSessions   map[time.Weekday][]Session
	Digits          int32
	MarginMode      string
}

// SymbolPrice is the latest quote for a symbol. Keyed by symbol, monotonically replaced.
type SymbolPrice struct {
	Symbol                      string
	Bid                         decimal.Decimal
	Ask                         decimal.Decimal
	ProfitTickValue             decimal.Decimal
	LossTickValue               decimal.Decimal
	AccountCurrencyExchangeRate *decimal.Decimal
	Time                        time.Time
	BrokerTime                  time.Time

	// Optional explicit account-derived overrides carried on the same
	// event (§4.C); nil means "not present, use derived value".
	Equity      *decimal.Decimal
	Margin      *decimal.Decimal
	FreeMargin  *decimal.Decimal
	MarginLevel *decimal.Decimal
}

// HistoryOrder and Deal are the two disjoint append-only history logs (§3).
type HistoryOrder struct {
	ID       string
	Symbol   string
	DoneTime time.Time
	Fields   map[string]any // remaining server-reported fields, opaque to the SDK
}

type Deal struct {
	ID       string
	Symbol   string
	DoneTime time.Time
	Fields   map[string]any
}
