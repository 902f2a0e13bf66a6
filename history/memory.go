package history

import (
	"context"
	"sort"
	"sync"

	"github.com/metarpc/terminal-sdk/model"
)

// MemoryStorage is the default in-memory Storage implementation.
type MemoryStorage struct {
	mu sync.RWMutex

	orders map[string]model.HistoryOrder
	deals  map[string]model.Deal

	lastHistoryOrderTime int64
	lastDealTime         int64
}

// NewMemoryStorage builds an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		orders: make(map[string]model.HistoryOrder),
		deals:  make(map[string]model.Deal),
	}
}

func (m *MemoryStorage) OnHistoryOrderAdded(_ context.Context, order model.HistoryOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = mergeHistoryOrder(m.orders[order.ID], order)
	if t := order.DoneTime.UnixNano(); t > m.lastHistoryOrderTime {
		m.lastHistoryOrderTime = t
	}
	return nil
}

func (m *MemoryStorage) OnDealAdded(_ context.Context, deal model.Deal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deals[deal.ID] = mergeDeal(m.deals[deal.ID], deal)
	if t := deal.DoneTime.UnixNano(); t > m.lastDealTime {
		m.lastDealTime = t
	}
	return nil
}

// mergeHistoryOrder implements the §3 merge-by-id rule: last write wins on
// mutable fields, earliest doneTime wins.
func mergeHistoryOrder(existing, incoming model.HistoryOrder) model.HistoryOrder {
	if existing.ID == "" {
		return incoming
	}
	merged := incoming
	if existing.DoneTime.Before(incoming.DoneTime) {
		merged.DoneTime = existing.DoneTime
	}
	return merged
}

func mergeDeal(existing, incoming model.Deal) model.Deal {
	if existing.ID == "" {
		return incoming
	}
	merged := incoming
	if existing.DoneTime.Before(incoming.DoneTime) {
		merged.DoneTime = existing.DoneTime
	}
	return merged
}

func (m *MemoryStorage) HistoryOrders(_ context.Context) ([]model.HistoryOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.HistoryOrder, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o)
	}
	sortHistoryOrders(out)
	return out, nil
}

func (m *MemoryStorage) Deals(_ context.Context) ([]model.Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Deal, 0, len(m.deals))
	for _, d := range m.deals {
		out = append(out, d)
	}
	sortDeals(out)
	return out, nil
}

func sortHistoryOrders(os []model.HistoryOrder) {
	sort.Slice(os, func(i, j int) bool {
		if !os[i].DoneTime.Equal(os[j].DoneTime) {
			return os[i].DoneTime.Before(os[j].DoneTime)
		}
		return os[i].ID < os[j].ID
	})
}

func sortDeals(ds []model.Deal) {
	sort.Slice(ds, func(i, j int) bool {
		if !ds[i].DoneTime.Equal(ds[j].DoneTime) {
			return ds[i].DoneTime.Before(ds[j].DoneTime)
		}
		return ds[i].ID < ds[j].ID
	})
}

func (m *MemoryStorage) LastHistoryOrderTime(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHistoryOrderTime, nil
}

func (m *MemoryStorage) LastDealTime(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastDealTime, nil
}

func (m *MemoryStorage) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = make(map[string]model.HistoryOrder)
	m.deals = make(map[string]model.Deal)
	m.lastHistoryOrderTime = 0
	m.lastDealTime = 0
	return nil
}

func (m *MemoryStorage) UpdateStorage(_ context.Context) error { return nil }

func (m *MemoryStorage) Close() error { return nil }
