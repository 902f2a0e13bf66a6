// Package tradeclient implements the trade client (spec §4.H): typed
// trade request construction and response mapping. Option merging uses an
// explicit builder instead of reflection-based field copying (spec §9:
// "replace with an explicit builder: each option struct exposes a typed
// applyTo(TradeRequest) method; no runtime field discovery").
package tradeclient

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/metarpc/terminal-sdk/terminalerrors"
	"github.com/metarpc/terminal-sdk/wire"
)

// ActionType enumerates the trade instruction kinds (spec §4.H).
type ActionType string

const (
	ActionOrderBuy              ActionType = "ORDER_TYPE_BUY"
	ActionOrderSell             ActionType = "ORDER_TYPE_SELL"
	ActionOrderBuyLimit         ActionType = "ORDER_TYPE_BUY_LIMIT"
	ActionOrderSellLimit        ActionType = "ORDER_TYPE_SELL_LIMIT"
	ActionOrderBuyStop          ActionType = "ORDER_TYPE_BUY_STOP"
	ActionOrderSellStop         ActionType = "ORDER_TYPE_SELL_STOP"
	ActionOrderBuyStopLimit     ActionType = "ORDER_TYPE_BUY_STOP_LIMIT"
	ActionOrderSellStopLimit    ActionType = "ORDER_TYPE_SELL_STOP_LIMIT"
	ActionPositionModify        ActionType = "POSITION_MODIFY"
	ActionPositionPartial       ActionType = "POSITION_PARTIAL"
	ActionPositionCloseID       ActionType = "POSITION_CLOSE_ID"
	ActionPositionCloseBy       ActionType = "POSITION_CLOSE_BY"
	ActionPositionsCloseSymbol  ActionType = "POSITIONS_CLOSE_SYMBOL"
	ActionOrderModify           ActionType = "ORDER_MODIFY"
	ActionOrderCancel           ActionType = "ORDER_CANCEL"
)

// Request is the fully assembled trade request sent over the wire.
type Request struct {
	ActionType ActionType       `json:"actionType"`
	Symbol     string           `json:"symbol,omitempty"`
	Volume     *decimal.Decimal `json:"volume,omitempty"`
	PositionID string           `json:"positionId,omitempty"`
	OrderID    string           `json:"orderId,omitempty"`
	ByPositionID string         `json:"byPositionId,omitempty"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	StopLoss   *decimal.Decimal `json:"stopLoss,omitempty"`
	TakeProfit *decimal.Decimal `json:"takeProfit,omitempty"`

	Comment        string `json:"comment,omitempty"`
	ClientID       string `json:"clientId,omitempty"`
	Magic          *int64 `json:"magic,omitempty"`
	Slippage       *int32 `json:"slippage,omitempty"`
	FillingMode    string `json:"fillingMode,omitempty"`
	ExpirationType string `json:"expirationType,omitempty"`
	ExpirationTime *int64 `json:"expirationTime,omitempty"` // unix seconds
}

// Option is implemented by every recognized trade option (spec §4.H
// table). applyTo mutates req directly; there is no field-name matching.
type Option interface {
	applyTo(req *Request)
}

type commentOption string

func (o commentOption) applyTo(req *Request) { req.Comment = string(o) }

// WithComment sets a free-text tag returned with the trade response.
// Applies to market and pending orders.
func WithComment(comment string) Option { return commentOption(comment) }

type clientIDOption string

func (o clientIDOption) applyTo(req *Request) { req.ClientID = string(o) }

// WithClientID sets a tag echoed in future events for client correlation.
// Applies to market and pending orders.
func WithClientID(clientID string) Option { return clientIDOption(clientID) }

type magicOption int64

func (o magicOption) applyTo(req *Request) { v := int64(o); req.Magic = &v }

// WithMagic overrides the connection-level magic. Applies to market and
// pending orders.
func WithMagic(magic int64) Option { return magicOption(magic) }

type slippageOption int32

func (o slippageOption) applyTo(req *Request) { v := int32(o); req.Slippage = &v }

// WithSlippage sets the max allowed slippage in price points. Applies to
// market orders and position closes.
func WithSlippage(points int32) Option { return slippageOption(points) }

// FillingMode enumerates the recognized fill semantics.
type FillingMode string

const (
	FillingFOK    FillingMode = "FOK"
	FillingIOC    FillingMode = "IOC"
	FillingReturn FillingMode = "RETURN"
)

type fillingModeOption FillingMode

func (o fillingModeOption) applyTo(req *Request) { req.FillingMode = string(o) }

// WithFillingMode sets FOK/IOC/RETURN. Applies to market orders only.
func WithFillingMode(mode FillingMode) Option { return fillingModeOption(mode) }

// ExpirationType enumerates pending-order expiration kinds.
type ExpirationType string

const (
	ExpirationGTC          ExpirationType = "GTC"
	ExpirationDay          ExpirationType = "DAY"
	ExpirationSpecified    ExpirationType = "SPECIFIED"
	ExpirationSpecifiedDay ExpirationType = "SPECIFIED_DAY"
)

type expirationOption struct {
	typ  ExpirationType
	unix int64
}

func (o expirationOption) applyTo(req *Request) {
	req.ExpirationType = string(o.typ)
	v := o.unix
	req.ExpirationTime = &v
}

// WithExpiration sets expirationType and expirationTime. Applies to
// pending orders only.
func WithExpiration(typ ExpirationType, at int64) Option {
	return expirationOption{typ: typ, unix: at}
}

// Response is a trade result from the server.
type Response struct {
	NumericCode uint32 `json:"numericCode"`
	StringCode  string `json:"stringCode"`
	Message     string `json:"message"`
	OrderID     string `json:"orderId,omitempty"`
	PositionID  string `json:"positionId,omitempty"`
}

// successCodes mirrors the teacher's MT-style return-code taxonomy:
// TRADE_RETCODE_DONE and its partial/placed variants succeed, everything
// else is a failure surfaced as TradeError. No local retry is ever
// performed on trade calls (spec §4.H).
var successCodes = map[uint32]bool{
	10008: true, // TRADE_RETCODE_PLACED
	10009: true, // TRADE_RETCODE_DONE
	10010: true, // TRADE_RETCODE_DONE_PARTIAL
}

func isSuccess(code uint32) bool { return successCodes[code] }

// requester is the subset of transport.Transport the trade client needs.
type requester interface {
	Request(ctx context.Context, accountID, requestType string, payload any) (*wire.Envelope, error)
}

// Client builds and sends trade requests for one account.
type Client struct {
	transport requester
	accountID string
}

// New builds a trade Client bound to accountID.
func New(transport requester, accountID string) *Client {
	return &Client{transport: transport, accountID: accountID}
}

// Execute assembles a Request from action/symbol and opts, sends it, and
// maps the result: success codes return Response, failure codes return
// TradeError.
func (c *Client) Execute(ctx context.Context, action ActionType, symbol string, opts ...Option) (*Response, error) {
	req := Request{ActionType: action, Symbol: symbol}
	for _, opt := range opts {
		opt.applyTo(&req)
	}
	return c.send(ctx, req)
}

// Buy/Sell/PositionModify/etc. are thin conveniences over send for the
// most common actions; every action remains reachable directly via Execute
// for less common combinations.

func (c *Client) Buy(ctx context.Context, symbol string, volume decimal.Decimal, opts ...Option) (*Response, error) {
	req := Request{ActionType: ActionOrderBuy, Symbol: symbol, Volume: &volume}
	for _, opt := range opts {
		opt.applyTo(&req)
	}
	return c.send(ctx, req)
}

func (c *Client) Sell(ctx context.Context, symbol string, volume decimal.Decimal, opts ...Option) (*Response, error) {
	req := Request{ActionType: ActionOrderSell, Symbol: symbol, Volume: &volume}
	for _, opt := range opts {
		opt.applyTo(&req)
	}
	return c.send(ctx, req)
}

func (c *Client) PositionCloseID(ctx context.Context, positionID string, opts ...Option) (*Response, error) {
	req := Request{ActionType: ActionPositionCloseID, PositionID: positionID}
	for _, opt := range opts {
		opt.applyTo(&req)
	}
	return c.send(ctx, req)
}

func (c *Client) PositionModify(ctx context.Context, positionID string, stopLoss, takeProfit *decimal.Decimal, opts ...Option) (*Response, error) {
	req := Request{ActionType: ActionPositionModify, PositionID: positionID, StopLoss: stopLoss, TakeProfit: takeProfit}
	for _, opt := range opts {
		opt.applyTo(&req)
	}
	return c.send(ctx, req)
}

func (c *Client) OrderCancel(ctx context.Context, orderID string, opts ...Option) (*Response, error) {
	req := Request{ActionType: ActionOrderCancel, OrderID: orderID}
	for _, opt := range opts {
		opt.applyTo(&req)
	}
	return c.send(ctx, req)
}

func (c *Client) send(ctx context.Context, req Request) (*Response, error) {
	env, err := c.transport.Request(ctx, c.accountID, wire.RequestTrade, req)
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		return nil, &terminalerrors.ValidationError{Field: "response", Message: err.Error()}
	}
	if !isSuccess(resp.NumericCode) {
		return nil, &terminalerrors.TradeError{NumericCode: resp.NumericCode, StringCode: resp.StringCode, Message: resp.Message}
	}
	return &resp, nil
}
