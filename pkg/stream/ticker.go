package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"blinktrade/pkg/core"
	"blinktrade/pkg/event"
	"blinktrade/pkg/exchange/blinktrade"
)

type TickerStreamConfig struct {
	BaseConfig
}

func DefaultTickerStreamConfig() TickerStreamConfig {
	return TickerStreamConfig{
		BaseConfig: DefaultBaseConfig(),
	}
}

// TickerStream delivers security status updates for each subscribed symbol
// on its own channel.
type TickerStream struct {
	config TickerStreamConfig
	source TickerSource
	logger zerolog.Logger

	mu     sync.Mutex
	subs   map[string]*tickerSubscription
	closed bool
	wg     sync.WaitGroup
}

type tickerSubscription struct {
	symbol   string
	sink     *sink[*core.Ticker]
	handle   *blinktrade.Subscription[*core.Ticker]
	listener event.ListenerID
}

func NewTickerStream(source TickerSource, config TickerStreamConfig) *TickerStream {
	return &TickerStream{
		config: config,
		source: source,
		subs:   make(map[string]*tickerSubscription),
		logger: zerolog.Nop(),
	}
}

func (s *TickerStream) SetLogger(logger zerolog.Logger) {
	s.logger = logger
}

// Subscribe starts streaming symbol and returns once the first ticker has
// arrived or the subscription failed.
func (s *TickerStream) Subscribe(ctx context.Context, symbol string) (<-chan *core.Ticker, <-chan error) {
	sub := &tickerSubscription{
		symbol: symbol,
		sink:   newSink[*core.Ticker](s.config.bufferSize()),
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

	// registered under s.mu so remove always sees the handle
	sub.handle = s.source.SubscribeTicker(ctx, []string{symbol})
	sub.listener = sub.handle.Events().On(core.TickerEvent(symbol), func(args ...any) {
		if len(args) == 0 {
			return
		}
		if t, ok := args[0].(*core.Ticker); ok && sub.sink.send(t) {
			s.logger.Warn().Str("symbol", symbol).Msg("ticker consumer is slow, dropped an update")
		}
	})
	s.mu.Unlock()

	if _, err := sub.handle.Await(ctx); err != nil {
		s.remove(sub, fmt.Errorf("subscribe %s: %w", symbol, err))
		return sub.sink.dataCh, sub.sink.errCh
	}

	s.wg.Add(1)
	go s.watch(sub)

	return sub.sink.dataCh, sub.sink.errCh
}

func (s *TickerStream) watch(sub *tickerSubscription) {
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

func (s *TickerStream) remove(sub *tickerSubscription, err error) {
	s.mu.Lock()
	if s.subs[sub.symbol] == sub {
		delete(s.subs, sub.symbol)
	}
	s.mu.Unlock()

	sub.handle.Events().RemoveListener(core.TickerEvent(sub.symbol), sub.listener)
	if sub.handle.ID != 0 {
		_ = s.source.UnsubscribeTicker(sub.handle.ID)
	}
	sub.sink.close(err)
}

func (s *TickerStream) Unsubscribe(symbol string) {
	s.mu.Lock()
	sub, ok := s.subs[symbol]
	s.mu.Unlock()
	if ok {
		s.remove(sub, nil)
	}
}

// Close ends every subscription. The transport itself stays open.
func (s *TickerStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := make([]*tickerSubscription, 0, len(s.subs))
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
