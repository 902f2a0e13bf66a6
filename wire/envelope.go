// Package wire defines the concrete JSON frame shape exchanged over the
// transport's websocket connection, realizing spec §6's "JSON-framed
// messages over a persistent socket" contract.
package wire

import "encoding/json"

// Event/request type names consumed and emitted by the core (spec §6).
const (
	TypeAuthenticated                 = "authenticated"
	TypeDisconnected                  = "disconnected"
	TypeAccountInformation            = "accountInformation"
	TypePositions                     = "positions"
	TypeOrders                        = "orders"
	TypeUpdate                        = "update"
	TypePositionRemoved               = "positionRemoved"
	TypeOrderCompleted                = "orderCompleted"
	TypeDeals                         = "deals"
	TypeHistoryOrders                 = "historyOrders"
	TypeSymbolSpecifications          = "symbolSpecifications"
	TypePrices                        = "prices"
	TypeSynchronizationStarted        = "synchronizationStarted"
	TypeOrderSynchronizationFinished  = "orderSynchronizationFinished"
	TypeDealSynchronizationFinished   = "dealSynchronizationFinished"
	TypeStatus                        = "status"
	TypeServerHealthStatus            = "serverHealthStatus"

	RequestSynchronize           = "synchronize"
	RequestSubscribe             = "subscribe"
	RequestUnsubscribe           = "unsubscribe"
	RequestSubscribeToMarketData = "subscribeToMarketData"
	RequestTrade                 = "trade"
	RequestWaitSynchronized      = "waitSynchronized"
)

// Envelope is the wire shape for every frame exchanged over the socket.
// A Request carries RequestID and no SequenceNumber; a Response carries the
// same RequestID the request used; an Event carries AccountID and
// SequenceNumber and no RequestID.
type Envelope struct {
	Type           string          `json:"type"`
	AccountID      string          `json:"accountId,omitempty"`
	RequestID      string          `json:"requestId,omitempty"`
	SequenceNumber uint64          `json:"sequenceNumber,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	Error          *Error          `json:"error,omitempty"`
}

// Error is the server-reported business error payload carried on a response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}
