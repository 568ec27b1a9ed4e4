package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"blinktrade/pkg/core"
	"blinktrade/pkg/event"
	"blinktrade/pkg/exchange/blinktrade"
)

type OrderBookStreamConfig struct {
	BaseConfig
	// ResyncOnGap resubscribes a symbol whose local book fell out of sync
	// instead of ending the subscription with ErrOutOfSync.
	ResyncOnGap bool
}

func DefaultOrderBookStreamConfig() OrderBookStreamConfig {
	return OrderBookStreamConfig{
		BaseConfig:  DefaultBaseConfig(),
		ResyncOnGap: true,
	}
}

// OrderBookStream keeps a local Book per symbol and publishes a copy of it on
// a channel after every snapshot and update.
type OrderBookStream struct {
	config OrderBookStreamConfig
	source OrderBookSource
	logger zerolog.Logger

	mu     sync.Mutex
	subs   map[string]*orderbookSubscription
	closed bool
	wg     sync.WaitGroup
}

type orderbookSubscription struct {
	symbol string
	book   *Book
	sink   *sink[*core.OrderBook]

	resyncing atomic.Bool

	mu       sync.Mutex
	handle   *blinktrade.Subscription[*core.OrderBook]
	listener event.ListenerID
}

func NewOrderBookStream(source OrderBookSource, config OrderBookStreamConfig) *OrderBookStream {
	return &OrderBookStream{
		config: config,
		source: source,
		subs:   make(map[string]*orderbookSubscription),
		logger: zerolog.Nop(),
	}
}

func (s *OrderBookStream) SetLogger(logger zerolog.Logger) {
	s.logger = logger
}

// Subscribe starts streaming symbol. Failures, including the transport
// going away, arrive on the error channel right before both channels close.
func (s *OrderBookStream) Subscribe(ctx context.Context, symbol string) (<-chan *core.OrderBook, <-chan error) {
	sub := &orderbookSubscription{
		symbol: symbol,
		book:   NewBook(symbol),
		sink:   newSink[*core.OrderBook](s.config.bufferSize()),
	}

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		sub.sink.close(ErrStreamClosed)
		return sub.sink.dataCh, sub.sink.errCh
	case s.subs[symbol] != nil:
		s.mu.Unlock()
		sub.sink.close(fmt.Errorf("%w: %s", ErrAlreadySubscribed, symbol))
		return sub.sink.dataCh, sub.sink.errCh
	}
	s.subs[symbol] = sub
	s.mu.Unlock()

	if err := s.start(ctx, sub); err != nil {
		s.remove(sub, err)
		return sub.sink.dataCh, sub.sink.errCh
	}
	if !s.active(sub) {
		// unsubscribed while waiting for the snapshot
		s.remove(sub, nil)
		return sub.sink.dataCh, sub.sink.errCh
	}

	s.wg.Add(1)
	go s.watch(sub)

	return sub.sink.dataCh, sub.sink.errCh
}

// start opens a transport subscription and waits for its snapshot.
func (s *OrderBookStream) start(ctx context.Context, sub *orderbookSubscription) error {
	handle := s.source.SubscribeOrderbook(ctx, []string{sub.symbol})
	listener := handle.Events().On(core.OrderbookEvent(sub.symbol), func(args ...any) {
		if len(args) == 0 {
			return
		}
		if ev, ok := args[0].(*core.OrderBookEvent); ok {
			s.onEvent(sub, ev)
		}
	})

	sub.mu.Lock()
	sub.handle = handle
	sub.listener = listener
	sub.mu.Unlock()

	if _, err := handle.Await(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", sub.symbol, err)
	}
	return nil
}

func (s *OrderBookStream) onEvent(sub *orderbookSubscription, ev *core.OrderBookEvent) {
	err := sub.book.Apply(ev)
	if err == nil {
		if sub.sink.send(sub.book.Snapshot()) {
			s.logger.Warn().Str("symbol", sub.symbol).Msg("order book consumer is slow, dropped a snapshot")
		}
		return
	}

	if !sub.resyncing.CompareAndSwap(false, true) {
		return
	}
	s.logger.Warn().Err(err).Str("symbol", sub.symbol).Msg("order book update failed")
	// listeners run on the transport's dispatch goroutine, which must not
	// wait on the resubscribe round trip.
	if !s.config.ResyncOnGap {
		go s.remove(sub, err)
		return
	}
	go s.resync(sub)
}

func (s *OrderBookStream) active(sub *orderbookSubscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[sub.symbol] == sub
}

// resync drops the stale transport subscription and asks for a new snapshot.
func (s *OrderBookStream) resync(sub *orderbookSubscription) {
	defer sub.resyncing.Store(false)

	sub.mu.Lock()
	handle := sub.handle
	sub.mu.Unlock()
	if handle == nil || handle.ID == 0 {
		return
	}

	s.detach(sub)
	if err := s.source.UnsubscribeOrderbook(handle.ID); err != nil {
		s.logger.Debug().Err(err).Int64("id", handle.ID).Msg("unsubscribe stale order book")
	}

	if !s.active(sub) {
		return
	}

	s.logger.Info().Str("symbol", sub.symbol).Msg("resubscribing order book")
	if err := s.start(context.Background(), sub); err != nil {
		s.remove(sub, err)
	}
}

func (s *OrderBookStream) watch(sub *orderbookSubscription) {
	defer s.wg.Done()
	select {
	case <-sub.sink.closeCh:
	case <-s.source.Done():
		err := s.source.Err()
		if err == nil {
			err = ErrStreamClosed
		}
		s.remove(sub, err)
	}
}

func (s *OrderBookStream) detach(sub *orderbookSubscription) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.handle != nil {
		sub.handle.Events().RemoveListener(core.OrderbookEvent(sub.symbol), sub.listener)
	}
}

// remove ends sub and releases its transport subscription.
func (s *OrderBookStream) remove(sub *orderbookSubscription, err error) {
	s.mu.Lock()
	if s.subs[sub.symbol] == sub {
		delete(s.subs, sub.symbol)
	}
	s.mu.Unlock()

	s.detach(sub)
	sub.mu.Lock()
	handle := sub.handle
	sub.mu.Unlock()
	if handle != nil && handle.ID != 0 {
		_ = s.source.UnsubscribeOrderbook(handle.ID)
	}
	sub.sink.close(err)
}

// Book returns the local book for symbol while it is subscribed.
func (s *OrderBookStream) Book(symbol string) (*Book, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[symbol]
	if !ok {
		return nil, false
	}
	return sub.book, true
}

func (s *OrderBookStream) Unsubscribe(symbol string) {
	s.mu.Lock()
	sub, ok := s.subs[symbol]
	s.mu.Unlock()
	if ok {
		s.remove(sub, nil)
	}
}

// Close ends every subscription. The transport itself stays open.
func (s *OrderBookStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := make([]*orderbookSubscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		s.remove(sub, nil)
	}
	s.wg.Wait()
	return nil
}
