// Package terminalstate implements the terminal state mirror (spec §4.C):
// the in-memory snapshot of account information, positions, orders, symbol
// specifications and prices, including the price-tick-driven derivation of
// position profit and account equity.
//
// All mutations happen under a single lock held for the duration of one
// event application, so readers never observe a half-updated snapshot
// (spec §5): either the pre-tick or the post-tick view, never in between.
package terminalstate

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/metarpc/terminal-sdk/logging"
	"github.com/metarpc/terminal-sdk/model"
)

// State mirrors one account's remote terminal state.
type State struct {
	mu sync.RWMutex

	logger logging.Logger

	connected         bool
	connectedToBroker bool
	statusTimerTimeout time.Duration
	statusTimer       *time.Timer
	clock             func() time.Time

	accountInformation *model.AccountInformation
	positions          map[string]model.Position
	removedPositions   map[string]struct{}
	orders             map[string]model.Order
	completedOrders    map[string]struct{}
	specifications     map[string]model.SymbolSpecification
	prices             map[string]model.SymbolPrice
}

// New builds an empty State. statusTimerTimeout is the broker-status
// watchdog duration (spec §4.C, default 60s).
func New(statusTimerTimeout time.Duration, logger logging.Logger) *State {
	if logger == nil {
		logger = logging.NoOp()
	}
	return &State{
		logger:             logger,
		statusTimerTimeout: statusTimerTimeout,
		clock:              time.Now,
		positions:          make(map[string]model.Position),
		removedPositions:   make(map[string]struct{}),
		orders:             make(map[string]model.Order),
		completedOrders:    make(map[string]struct{}),
		specifications:     make(map[string]model.SymbolSpecification),
		prices:             make(map[string]model.SymbolPrice),
	}
}

// Connected / ConnectedToBroker report the watchdog-gated status booleans.
func (s *State) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *State) ConnectedToBroker() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectedToBroker
}

// OnConnected / OnDisconnected are driven by the transport lifecycle hooks
// via the synchronization engine.
func (s *State) OnConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
}

func (s *State) OnDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.connectedToBroker = false
	s.stopStatusTimerLocked()
}

// OnBrokerConnectionStatusChanged processes a `status` event: it sets
// connectedToBroker and (re)arms the watchdog that clears it if no further
// signal arrives within statusTimerTimeout.
func (s *State) OnBrokerConnectionStatusChanged(connectedToBroker bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectedToBroker = connectedToBroker
	s.stopStatusTimerLocked()
	if connectedToBroker {
		s.statusTimer = time.AfterFunc(s.statusTimerTimeout, s.onStatusTimerExpired)
	}
}

func (s *State) onStatusTimerExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectedToBroker = false
	s.connected = false
}

func (s *State) stopStatusTimerLocked() {
	if s.statusTimer != nil {
		s.statusTimer.Stop()
		s.statusTimer = nil
	}
}

// OnAccountInformationUpdated replaces accountInformation wholesale.
func (s *State) OnAccountInformationUpdated(info model.AccountInformation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accountInformation = &info
}

// AccountInformation returns a copy of the current account information, or
// false if none has arrived yet.
func (s *State) AccountInformation() (model.AccountInformation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.accountInformation == nil {
		return model.AccountInformation{}, false
	}
	return *s.accountInformation, true
}

// OnPositionsReplaced atomically substitutes the whole position map. It
// also clears every pending removal, since a replace is the only event
// that can reintroduce a removed id (spec §8, testable property 3).
func (s *State) OnPositionsReplaced(positions []model.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]model.Position, len(positions))
	for _, p := range positions {
		next[p.ID] = p
	}
	s.positions = next
	s.removedPositions = make(map[string]struct{})
}

// OnPositionUpdated upserts a single position, unless id was removed since
// the last OnPositionsReplaced: removal is final until the next replace
// (spec §8, testable property 3), so a stray update for an already-removed
// id is dropped rather than resurrecting it.
func (s *State) OnPositionUpdated(p model.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, removed := s.removedPositions[p.ID]; removed {
		return
	}
	s.positions[p.ID] = p
}

// OnPositionRemoved deletes a position. Removal is final: it is not visible
// again until a subsequent OnPositionsReplaced reintroduces the id.
func (s *State) OnPositionRemoved(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, id)
	s.removedPositions[id] = struct{}{}
}

// Positions returns a snapshot slice of all currently open positions.
func (s *State) Positions() []model.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out
}

// Position looks up a single position by id.
func (s *State) Position(id string) (model.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	return p, ok
}

// OnOrdersReplaced atomically substitutes the whole order map, clearing
// completion markers so a fresh order with a previously-completed id is
// accepted again (spec §3: "a new order with that id appears after a full
// resync").
func (s *State) OnOrdersReplaced(orders []model.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]model.Order, len(orders))
	for _, o := range orders {
		next[o.ID] = o
	}
	s.orders = next
	s.completedOrders = make(map[string]struct{})
}

// OnOrderUpdated upserts a pending order, unless id was already completed
// since the last OnOrdersReplaced (spec §3: completion is terminal).
func (s *State) OnOrderUpdated(o model.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, completed := s.completedOrders[o.ID]; completed {
		return
	}
	s.orders[o.ID] = o
}

// OnOrderCompleted deletes an order. Completion is terminal (spec §3):
// later updates for the same id are ignored until a full resync
// reintroduces it via OnOrdersReplaced.
func (s *State) OnOrderCompleted(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, id)
	s.completedOrders[id] = struct{}{}
}

// Orders returns a snapshot slice of all pending orders.
func (s *State) Orders() []model.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	return out
}

func (s *State) Order(id string) (model.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	return o, ok
}

// OnSymbolSpecificationUpdated upserts a symbol's static specification.
func (s *State) OnSymbolSpecificationUpdated(spec model.SymbolSpecification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specifications[spec.Symbol] = spec
}

func (s *State) SymbolSpecification(symbol string) (model.SymbolSpecification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, ok := s.specifications[symbol]
	return spec, ok
}

func (s *State) SymbolPrice(symbol string) (model.SymbolPrice, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[symbol]
	return p, ok
}

// OnSymbolPricesUpdated is the price-tick handler (spec §4.C): it upserts
// each price, then derives position profit/equity updates for every
// position whose symbol matches and whose spec is known, then applies any
// explicit equity/margin/freeMargin/marginLevel overrides carried on the
// same event, in that order (spec §9 open question: explicit overrides
// derived).
func (s *State) OnSymbolPricesUpdated(prices []model.SymbolPrice) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var overrideEquity, overrideMargin, overrideFreeMargin, overrideMarginLevel *decimal.Decimal

	for _, price := range prices {
		s.prices[price.Symbol] = price
		if price.Equity != nil {
			overrideEquity = price.Equity
		}
		if price.Margin != nil {
			overrideMargin = price.Margin
		}
		if price.FreeMargin != nil {
			overrideFreeMargin = price.FreeMargin
		}
		if price.MarginLevel != nil {
			overrideMarginLevel = price.MarginLevel
		}

		s.applyPriceToPositionsLocked(price)
		s.applyPriceToOrdersLocked(price)
	}

	s.recomputeEquityLocked()

	if s.accountInformation != nil {
		if overrideEquity != nil {
			s.accountInformation.Equity = *overrideEquity
		}
		if overrideMargin != nil {
			s.accountInformation.Margin = *overrideMargin
		}
		if overrideFreeMargin != nil {
			s.accountInformation.FreeMargin = *overrideFreeMargin
		}
		if overrideMarginLevel != nil {
			s.accountInformation.MarginLevel = *overrideMarginLevel
		}
	}
}

func (s *State) applyPriceToPositionsLocked(price model.SymbolPrice) {
	for id, pos := range s.positions {
		if pos.Symbol != price.Symbol {
			continue
		}
		spec, ok := s.specifications[pos.Symbol]
		if !ok {
			continue
		}

		var newCurrentPrice decimal.Decimal
		var sign int64
		if pos.Type == model.PositionBuy {
			newCurrentPrice = price.Bid
			sign = 1
		} else {
			newCurrentPrice = price.Ask
			sign = -1
		}

		priceChange := newCurrentPrice.Sub(pos.CurrentPrice)

		if spec.TickSize.IsZero() {
			pos.CurrentPrice = newCurrentPrice
			s.positions[id] = pos
			continue
		}

		ticks := priceChange.Div(spec.TickSize)

		var tickValue decimal.Decimal
		if priceChange.Sign() >= 0 {
			tickValue = price.ProfitTickValue
		} else {
			tickValue = price.LossTickValue
		}

		profitDelta := ticks.Mul(tickValue).Mul(pos.Volume).Mul(decimal.NewFromInt(sign))

		pos.CurrentPrice = newCurrentPrice
		pos.Profit = pos.Profit.Add(profitDelta)
		pos.UnrealizedProfit = pos.UnrealizedProfit.Add(profitDelta)
		s.positions[id] = pos
	}
}

func (s *State) applyPriceToOrdersLocked(price model.SymbolPrice) {
	for id, ord := range s.orders {
		if ord.Symbol != price.Symbol {
			continue
		}
		if _, ok := s.specifications[ord.Symbol]; !ok {
			continue
		}
		switch ord.Type {
		case model.OrderSellLimit, model.OrderSellStop, model.OrderSellStopLimit:
			ord.CurrentPrice = price.Bid
		default:
			ord.CurrentPrice = price.Ask
		}
		s.orders[id] = ord
	}
}

// recomputeEquityLocked derives equity = balance + sum(position.profit)
// (spec §4.C / testable property 2). It is a no-op if no account
// information has arrived yet.
func (s *State) recomputeEquityLocked() {
	if s.accountInformation == nil {
		return
	}
	total := decimal.Zero
	for _, p := range s.positions {
		total = total.Add(p.Profit)
	}
	s.accountInformation.Equity = s.accountInformation.Balance.Add(total)
}

// Close stops the status watchdog timer. Called once by the owning
// connection on teardown.
func (s *State) Close(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopStatusTimerLocked()
}
