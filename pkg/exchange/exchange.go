// Package exchange defines the contract shared by the BlinkTrade transports.
package exchange

import (
	"context"

	"blinktrade/pkg/core"
	"blinktrade/pkg/event"
)

// BaseTransport is the trading surface offered by both the REST and the
// websocket transport. Every call returns immediately; the promise resolves
// with the server response and its emitter carries the events the call produces.
// ctx bounds the underlying request.
type BaseTransport interface {
	Balance(ctx context.Context) *event.Promise[core.Message]
	MyOrders(ctx context.Context, page core.Pagination) *event.Promise[core.Message]
	SendOrder(ctx context.Context, order core.Order) *event.Promise[core.Message]
	CancelOrder(ctx context.Context, order core.OrderClient) *event.Promise[core.Message]
	ListWithdraws(ctx context.Context, query core.ListWithdraws) *event.Promise[core.Message]
	RequestWithdraw(ctx context.Context, withdraw core.Withdraw) *event.Promise[core.Message]
	RequestDeposit(ctx context.Context, deposit core.Deposit) *event.Promise[core.Message]
	RequestDepositMethods(ctx context.Context) *event.Promise[core.Message]
	Close() error
}

// MarketData is the public, unauthenticated surface of the REST transport.
type MarketData interface {
	Ticker(ctx context.Context) *event.Promise[*core.Ticker]
	Trades(ctx context.Context, query core.TradesQuery) *event.Promise[[]core.Trade]
	OrderBook(ctx context.Context) *event.Promise[*core.OrderBook]
}
