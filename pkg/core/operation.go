package core

// Operation represents a request that can be sent to BlinkTrade.
type Operation int

// Operation constants define every request the transports can issue.
const (
	// OpLogin authenticates a websocket session.
	OpLogin Operation = iota
	// OpLogout ends the authenticated session; the connection stays open.
	OpLogout
	// OpHeartbeat is a round-trip liveness probe.
	OpHeartbeat
	// OpBalance requests account balances.
	OpBalance
	// OpMyOrders lists open orders.
	OpMyOrders
	// OpSendOrder submits a new order.
	OpSendOrder
	// OpCancelOrder cancels an existing order.
	OpCancelOrder
	// OpListWithdraws lists withdraws filtered by status.
	OpListWithdraws
	// OpRequestWithdraw requests a fiat or crypto withdraw.
	OpRequestWithdraw
	// OpRequestDeposit requests a deposit or a new deposit address.
	OpRequestDeposit
	// OpRequestDepositMethods lists the broker's deposit methods.
	OpRequestDepositMethods
	// OpTradeHistory lists trades executed in the last 24 hours.
	OpTradeHistory
	// OpSubscribeTicker subscribes to security status updates.
	OpSubscribeTicker
	// OpSubscribeOrderbook subscribes to market data.
	OpSubscribeOrderbook
)

// String returns the string representation of the operation.
func (o Operation) String() string {
	return [...]string{
		"LOGIN",
		"LOGOUT",
		"HEARTBEAT",
		"BALANCE",
		"MY_ORDERS",
		"SEND_ORDER",
		"CANCEL_ORDER",
		"LIST_WITHDRAWS",
		"REQUEST_WITHDRAW",
		"REQUEST_DEPOSIT",
		"REQUEST_DEPOSIT_METHODS",
		"TRADE_HISTORY",
		"SUBSCRIBE_TICKER",
		"SUBSCRIBE_ORDERBOOK",
	}[o]
}

// Event names surfaced to consumers.
const (
	EventBalance            = "BALANCE"
	EventExecutionReport    = "EXECUTION_REPORT:*"
	EventExecutionNew       = "EXECUTION_REPORT:NEW"
	EventExecutionPartial   = "EXECUTION_REPORT:PARTIAL"
	EventExecutionExecution = "EXECUTION_REPORT:EXECUTION"
	EventExecutionCanceled  = "EXECUTION_REPORT:CANCELED"
	EventExecutionRejected  = "EXECUTION_REPORT:REJECTED"
	EventError              = "ERROR"
)

// TickerEvent returns the event name for ticker pushes of symbol.
func TickerEvent(symbol string) string {
	return "TICKER:" + symbol
}

// OrderbookEvent returns the event name for order book pushes of symbol.
func OrderbookEvent(symbol string) string {
	return "ORDERBOOK:" + symbol
}
