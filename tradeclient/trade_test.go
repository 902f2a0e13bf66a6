package tradeclient

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metarpc/terminal-sdk/terminalerrors"
	"github.com/metarpc/terminal-sdk/wire"
)

type fakeRequester struct {
	lastRequestType string
	lastPayload     any
	respond         func(requestType string, payload any) (*wire.Envelope, error)
}

func (f *fakeRequester) Request(ctx context.Context, accountID, requestType string, payload any) (*wire.Envelope, error) {
	f.lastRequestType = requestType
	f.lastPayload = payload
	return f.respond(requestType, payload)
}

func envelopeWith(t *testing.T, resp Response) *wire.Envelope {
	t.Helper()
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	return &wire.Envelope{Data: data}
}

func TestExecuteAppliesOptionsToRequest(t *testing.T) {
	fr := &fakeRequester{respond: func(string, any) (*wire.Envelope, error) {
		return envelopeWith(t, Response{NumericCode: 10009})
	}}
	c := New(fr, "acct-1")

	_, err := c.Execute(context.Background(), ActionOrderBuyLimit, "EURUSD",
		WithComment("opening"), WithClientID("cid-1"), WithMagic(42), WithSlippage(5),
		WithFillingMode(FillingIOC), WithExpiration(ExpirationSpecified, 1700000000))
	require.NoError(t, err)

	req, ok := fr.lastPayload.(Request)
	require.True(t, ok)
	assert.Equal(t, ActionOrderBuyLimit, req.ActionType)
	assert.Equal(t, "EURUSD", req.Symbol)
	assert.Equal(t, "opening", req.Comment)
	assert.Equal(t, "cid-1", req.ClientID)
	require.NotNil(t, req.Magic)
	assert.Equal(t, int64(42), *req.Magic)
	require.NotNil(t, req.Slippage)
	assert.Equal(t, int32(5), *req.Slippage)
	assert.Equal(t, string(FillingIOC), req.FillingMode)
	assert.Equal(t, string(ExpirationSpecified), req.ExpirationType)
	require.NotNil(t, req.ExpirationTime)
	assert.Equal(t, int64(1700000000), *req.ExpirationTime)
	assert.Equal(t, wire.RequestTrade, fr.lastRequestType)
}

func TestBuySellSetVolumeAndActionType(t *testing.T) {
	fr := &fakeRequester{respond: func(string, any) (*wire.Envelope, error) {
		return envelopeWith(t, Response{NumericCode: 10009})
	}}
	c := New(fr, "acct-1")

	_, err := c.Buy(context.Background(), "EURUSD", decimal.NewFromFloat(1.5))
	require.NoError(t, err)
	req := fr.lastPayload.(Request)
	assert.Equal(t, ActionOrderBuy, req.ActionType)
	require.NotNil(t, req.Volume)
	assert.True(t, decimal.NewFromFloat(1.5).Equal(*req.Volume))

	_, err = c.Sell(context.Background(), "EURUSD", decimal.NewFromFloat(2))
	require.NoError(t, err)
	req = fr.lastPayload.(Request)
	assert.Equal(t, ActionOrderSell, req.ActionType)
}

func TestSendMapsSuccessCodesToResponse(t *testing.T) {
	for _, code := range []uint32{10008, 10009, 10010} {
		fr := &fakeRequester{respond: func(string, any) (*wire.Envelope, error) {
			return envelopeWith(t, Response{NumericCode: code, OrderID: "o1"})
		}}
		c := New(fr, "acct-1")
		resp, err := c.OrderCancel(context.Background(), "o1")
		require.NoError(t, err, "code %d must be treated as success", code)
		assert.Equal(t, "o1", resp.OrderID)
	}
}

func TestSendMapsFailureCodeToTradeError(t *testing.T) {
	fr := &fakeRequester{respond: func(string, any) (*wire.Envelope, error) {
		return envelopeWith(t, Response{NumericCode: 10006, StringCode: "TRADE_RETCODE_REJECT", Message: "rejected by dealer"})
	}}
	c := New(fr, "acct-1")

	_, err := c.PositionCloseID(context.Background(), "p1")
	require.Error(t, err)

	tradeErr, ok := terminalerrors.IsTrade(err)
	require.True(t, ok)
	assert.Equal(t, uint32(10006), tradeErr.NumericCode)
	assert.Equal(t, "TRADE_RETCODE_REJECT", tradeErr.StringCode)
}

func TestSendPropagatesTransportError(t *testing.T) {
	fr := &fakeRequester{respond: func(string, any) (*wire.Envelope, error) {
		return nil, &terminalerrors.NotConnectedError{AccountID: "acct-1"}
	}}
	c := New(fr, "acct-1")

	_, err := c.PositionModify(context.Background(), "p1", nil, nil)
	require.Error(t, err)
	var notConnected *terminalerrors.NotConnectedError
	assert.ErrorAs(t, err, &notConnected)
}
