// Package queryclient implements the query client (spec §4.I): thin
// request/response accessors bound to an accountId. Every method issues a
// single request and decodes the response payload; none retries or
// mutates local state beyond recording market-data subscriptions for
// reconnect re-application (spec §4.F step 5).
package queryclient

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/metarpc/terminal-sdk/model"
	"github.com/metarpc/terminal-sdk/terminalerrors"
	"github.com/metarpc/terminal-sdk/wire"
)

// requester is the subset of transport.Transport the query client needs.
type requester interface {
	Request(ctx context.Context, accountID, requestType string, payload any) (*wire.Envelope, error)
}

// Client answers read-only queries for one account and tracks the set of
// symbols subscribed to market data, so the synchronization engine can
// re-apply them after a reconnect.
type Client struct {
	transport requester
	accountID string

	mu            sync.Mutex
	subscriptions map[string]struct{}
}

// New builds a query Client bound to accountID.
func New(transport requester, accountID string) *Client {
	return &Client{transport: transport, accountID: accountID, subscriptions: make(map[string]struct{})}
}

// Subscriptions returns the symbols currently subscribed to market data.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subscriptions))
	for s := range c.subscriptions {
		out = append(out, s)
	}
	return out
}

func (c *Client) request(ctx context.Context, requestType string, payload any, out any) error {
	env, err := c.transport.Request(ctx, c.accountID, requestType, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &terminalerrors.ValidationError{Field: "response", Message: err.Error()}
	}
	return nil
}

func (c *Client) GetAccountInformation(ctx context.Context) (model.AccountInformation, error) {
	var out model.AccountInformation
	err := c.request(ctx, "getAccountInformation", map[string]any{}, &out)
	return out, err
}

func (c *Client) GetPositions(ctx context.Context) ([]model.Position, error) {
	var out []model.Position
	err := c.request(ctx, "getPositions", map[string]any{}, &out)
	return out, err
}

func (c *Client) GetPosition(ctx context.Context, id string) (model.Position, error) {
	var out model.Position
	err := c.request(ctx, "getPosition", map[string]any{"positionId": id}, &out)
	return out, err
}

func (c *Client) GetOrders(ctx context.Context) ([]model.Order, error) {
	var out []model.Order
	err := c.request(ctx, "getOrders", map[string]any{}, &out)
	return out, err
}

func (c *Client) GetOrder(ctx context.Context, id string) (model.Order, error) {
	var out model.Order
	err := c.request(ctx, "getOrder", map[string]any{"orderId": id}, &out)
	return out, err
}

func (c *Client) GetHistoryOrdersByTicket(ctx context.Context, ticket string) ([]model.HistoryOrder, error) {
	var out []model.HistoryOrder
	err := c.request(ctx, "getHistoryOrdersByTicket", map[string]any{"ticket": ticket}, &out)
	return out, err
}

func (c *Client) GetHistoryOrdersByPosition(ctx context.Context, positionID string) ([]model.HistoryOrder, error) {
	var out []model.HistoryOrder
	err := c.request(ctx, "getHistoryOrdersByPosition", map[string]any{"positionId": positionID}, &out)
	return out, err
}

func (c *Client) GetHistoryOrdersByTimeRange(ctx context.Context, startUnixNano, endUnixNano int64, offset, limit int) ([]model.HistoryOrder, error) {
	var out []model.HistoryOrder
	err := c.request(ctx, "getHistoryOrdersByTimeRange", map[string]any{
		"startTime": startUnixNano, "endTime": endUnixNano, "offset": offset, "limit": limit,
	}, &out)
	return out, err
}

func (c *Client) GetDealsByTicket(ctx context.Context, ticket string) ([]model.Deal, error) {
	var out []model.Deal
	err := c.request(ctx, "getDealsByTicket", map[string]any{"ticket": ticket}, &out)
	return out, err
}

func (c *Client) GetDealsByPosition(ctx context.Context, positionID string) ([]model.Deal, error) {
	var out []model.Deal
	err := c.request(ctx, "getDealsByPosition", map[string]any{"positionId": positionID}, &out)
	return out, err
}

func (c *Client) GetDealsByTimeRange(ctx context.Context, startUnixNano, endUnixNano int64, offset, limit int) ([]model.Deal, error) {
	var out []model.Deal
	err := c.request(ctx, "getDealsByTimeRange", map[string]any{
		"startTime": startUnixNano, "endTime": endUnixNano, "offset": offset, "limit": limit,
	}, &out)
	return out, err
}

// RemoveHistory requests the server clear history for the given
// application (or the connection's own application if empty).
func (c *Client) RemoveHistory(ctx context.Context, application string) error {
	return c.request(ctx, "removeHistory", map[string]any{"application": application}, nil)
}

func (c *Client) RemoveApplication(ctx context.Context) error {
	return c.request(ctx, "removeApplication", map[string]any{}, nil)
}

// SubscribeToMarketData subscribes to a symbol's quote stream and records
// it so the synchronization engine re-applies it after reconnect.
func (c *Client) SubscribeToMarketData(ctx context.Context, symbol string) error {
	if err := c.request(ctx, wire.RequestSubscribeToMarketData, map[string]any{"symbol": symbol}, nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.subscriptions[symbol] = struct{}{}
	c.mu.Unlock()
	return nil
}

func (c *Client) GetSymbolSpecification(ctx context.Context, symbol string) (model.SymbolSpecification, error) {
	var out model.SymbolSpecification
	err := c.request(ctx, "getSymbolSpecification", map[string]any{"symbol": symbol}, &out)
	return out, err
}

func (c *Client) GetSymbolPrice(ctx context.Context, symbol string) (model.SymbolPrice, error) {
	var out model.SymbolPrice
	err := c.request(ctx, "getSymbolPrice", map[string]any{"symbol": symbol}, &out)
	return out, err
}

// SaveUptime reports the health monitor's uptime ratios to the server.
func (c *Client) SaveUptime(ctx context.Context, uptime map[string]float64) error {
	return c.request(ctx, "saveUptime", map[string]any{"uptime": uptime}, nil)
}
