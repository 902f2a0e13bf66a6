package terminalstate

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metarpc/terminal-sdk/model"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// S1: price tick updates profit and equity.
func TestPriceTickUpdatesProfitAndEquity(t *testing.T) {
	s := New(time.Minute, nil)

	s.OnAccountInformationUpdated(model.AccountInformation{Equity: dec("1000"), Balance: dec("800")})

	s.OnPositionsReplaced([]model.Position{
		{ID: "1", Symbol: "EURUSD", Type: model.PositionBuy, OpenPrice: dec("8"), CurrentPrice: dec("9"), CurrentTickValue: dec("0.5"), Profit: dec("100"), UnrealizedProfit: dec("100"), Volume: dec("2")},
	})
	s.OnPositionUpdated(model.Position{ID: "2", Symbol: "AUDUSD", Type: model.PositionBuy, CurrentPrice: dec("9"), CurrentTickValue: dec("0.5"), OpenPrice: dec("8"), Profit: dec("100"), Volume: dec("2")})

	s.OnSymbolSpecificationUpdated(model.SymbolSpecification{Symbol: "EURUSD", TickSize: dec("0.01")})
	s.OnSymbolSpecificationUpdated(model.SymbolSpecification{Symbol: "AUDUSD", TickSize: dec("0.01")})

	s.OnSymbolPricesUpdated([]model.SymbolPrice{
		{Symbol: "EURUSD", Bid: dec("10"), Ask: dec("11"), ProfitTickValue: dec("0.5"), LossTickValue: dec("0.5")},
		{Symbol: "AUDUSD", Bid: dec("10"), Ask: dec("11"), ProfitTickValue: dec("0.5"), LossTickValue: dec("0.5")},
	})

	p1, ok := s.Position("1")
	require.True(t, ok)
	assert.True(t, dec("200").Equal(p1.Profit), "position 1 profit: %s", p1.Profit)
	assert.True(t, dec("200").Equal(p1.UnrealizedProfit))
	assert.True(t, dec("10").Equal(p1.CurrentPrice))

	p2, ok := s.Position("2")
	require.True(t, ok)
	assert.True(t, dec("200").Equal(p2.Profit), "position 2 profit: %s", p2.Profit)

	info, ok := s.AccountInformation()
	require.True(t, ok)
	assert.True(t, dec("1200").Equal(info.Equity), "equity: %s", info.Equity)
}

// S2: explicit margin overrides.
func TestExplicitMarginOverrides(t *testing.T) {
	s := New(time.Minute, nil)
	s.OnAccountInformationUpdated(model.AccountInformation{Equity: dec("1000"), Balance: dec("800")})

	equity, margin, freeMargin, marginLevel := dec("100"), dec("200"), dec("400"), dec("40000")
	s.OnSymbolPricesUpdated([]model.SymbolPrice{
		{Symbol: "EURUSD", Equity: &equity, Margin: &margin, FreeMargin: &freeMargin, MarginLevel: &marginLevel},
	})

	info, ok := s.AccountInformation()
	require.True(t, ok)
	assert.True(t, equity.Equal(info.Equity))
	assert.True(t, margin.Equal(info.Margin))
	assert.True(t, freeMargin.Equal(info.FreeMargin))
	assert.True(t, marginLevel.Equal(info.MarginLevel))
}

// S3: order replacement + completion.
func TestOrderReplacementAndCompletion(t *testing.T) {
	s := New(time.Minute, nil)

	s.OnOrderUpdated(model.Order{ID: "1", OpenPrice: dec("10")})
	s.OnOrderUpdated(model.Order{ID: "2"})
	s.OnOrderUpdated(model.Order{ID: "1", OpenPrice: dec("11")})
	s.OnOrderCompleted("2")

	orders := s.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, "1", orders[0].ID)
	assert.True(t, dec("11").Equal(orders[0].OpenPrice))
}

// Testable property 3: removal finality.
func TestPositionRemovalFinality(t *testing.T) {
	s := New(time.Minute, nil)
	s.OnPositionUpdated(model.Position{ID: "1"})
	s.OnPositionRemoved("1")

	_, ok := s.Position("1")
	assert.False(t, ok)

	s.OnPositionUpdated(model.Position{ID: "1"})
	_, ok = s.Position("1")
	assert.False(t, ok, "an upsert alone must not resurrect a removed id before a replace")

	s.OnPositionsReplaced([]model.Position{{ID: "1"}})
	_, ok = s.Position("1")
	assert.True(t, ok)
}

// S5: broker status watchdog.
func TestBrokerStatusWatchdogExpires(t *testing.T) {
	s := New(200*time.Millisecond, nil)
	s.OnConnected()
	s.OnBrokerConnectionStatusChanged(true)

	assert.True(t, s.ConnectedToBroker())

	time.Sleep(500 * time.Millisecond)

	assert.False(t, s.ConnectedToBroker())
	assert.False(t, s.Connected())
}
