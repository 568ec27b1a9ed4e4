// Package blinktrade implements the BlinkTrade exchange protocol over REST and
// WebSocket. Both transports return event.Promise values: the promise completes
// once with the call's response while its emitter keeps delivering the events
// the call produces, such as execution reports for an order.
//
// BlinkTrade API Documentation: https://blinktrade.com/docs
package blinktrade
