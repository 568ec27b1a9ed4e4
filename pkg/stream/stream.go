// Package stream turns websocket market data subscriptions into channels.
package stream

import (
	"context"
	"errors"
	"sync"

	"blinktrade/pkg/core"
	"blinktrade/pkg/exchange/blinktrade"
)

var (
	ErrStreamClosed      = errors.New("stream closed")
	ErrAlreadySubscribed = errors.New("symbol already subscribed")
)

// Source is the part of a connected transport a stream needs to watch for
// teardown. *blinktrade.WSTransport implements it.
type Source interface {
	Done() <-chan struct{}
	Err() error
}

type TickerSource interface {
	Source
	SubscribeTicker(ctx context.Context, symbols []string) *blinktrade.Subscription[*core.Ticker]
	UnsubscribeTicker(id int64) error
}

type OrderBookSource interface {
	Source
	SubscribeOrderbook(ctx context.Context, symbols []string) *blinktrade.Subscription[*core.OrderBook]
	UnsubscribeOrderbook(id int64) error
}

type BaseConfig struct {
	// BufferSize is the capacity of each data channel. When a consumer falls
	// behind the oldest buffered value is dropped.
	BufferSize int
}

func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		BufferSize: 100,
	}
}

func (c BaseConfig) bufferSize() int {
	if c.BufferSize <= 0 {
		return 1
	}
	return c.BufferSize
}

// sink is the channel pair handed to one subscriber. Sends never block and
// are safe against a concurrent close.
type sink[T any] struct {
	mu      sync.Mutex
	closed  bool
	dataCh  chan T
	errCh   chan error
	closeCh chan struct{}
}

func newSink[T any](size int) *sink[T] {
	return &sink[T]{
		dataCh:  make(chan T, size),
		errCh:   make(chan error, 1),
		closeCh: make(chan struct{}),
	}
}

// send reports whether an older value was dropped to make room.
func (s *sink[T]) send(v T) (dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	for {
		select {
		case s.dataCh <- v:
			return dropped
		default:
		}
		select {
		case <-s.dataCh:
			dropped = true
		default:
		}
	}
}

// close ends the subscription, reporting err first when it is not nil.
func (s *sink[T]) close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if err != nil {
		s.errCh <- err
	}
	close(s.closeCh)
	close(s.dataCh)
	close(s.errCh)
}
