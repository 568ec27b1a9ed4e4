package blinktrade

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"blinktrade/internal/circuitbreaker"
	"blinktrade/internal/ratelimit"
	"blinktrade/internal/signer"
	"blinktrade/internal/transport"
	"blinktrade/pkg/core"
	"blinktrade/pkg/event"
	"blinktrade/pkg/exchange"
)

var (
	_ exchange.BaseTransport = (*RestTransport)(nil)
	_ exchange.MarketData    = (*RestTransport)(nil)
)

// RestTransport talks to the public API and to the signed trade endpoint.
// Every call is an independent round trip; nothing is cached or retried.
type RestTransport struct {
	config      *core.Config
	httpClient  *transport.Client
	signer      *signer.Signer
	rateLimiter *ratelimit.RateLimiter
	breaker     *circuitbreaker.Breaker
	events      *event.Emitter
	logger      zerolog.Logger
	nextID      func() int64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// envelope is the body of every trade endpoint response.
type envelope struct {
	Status      int            `json:"Status"`
	Description string         `json:"Description"`
	Responses   []core.Message `json:"Responses"`
}

// NewRestTransport creates a REST transport. Credentials are optional; trade
// calls without them fail with core.ErrNoCredentials.
func NewRestTransport(config *core.Config, opts ...exchange.Option) (*RestTransport, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	config = config.Clone()

	options := exchange.ApplyOptions(opts...)
	logger := exchange.ConfiguredLogger(config, options.Logger).
		With().Str("transport", "rest").Logger()

	httpClient := transport.NewClient(config, logger)
	httpClient.SetBaseURL(RESTURL(config))

	t := &RestTransport{
		config:      config,
		httpClient:  httpClient,
		rateLimiter: ratelimit.New(config.RateLimitRequests, config.RateLimitPeriod),
		breaker: circuitbreaker.New(circuitbreaker.Config{
			FailThreshold: config.BreakerThreshold,
			Timeout:       config.BreakerTimeout,
		}),
		events: event.NewEmitter(),
		logger: logger,
		nextID: options.NextID,
	}
	if t.nextID == nil {
		t.nextID = newIDSource()
	}
	if creds := config.Credentials; creds != nil {
		t.signer = signer.New(creds.APIKey, creds.APISecret)
	}
	return t, nil
}

// Events returns the transport-wide emitter. It receives every event emitted
// on individual call promises.
func (t *RestTransport) Events() *event.Emitter {
	return t.events
}

// Close waits for in-flight calls and releases the HTTP client.
func (t *RestTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.wg.Wait()
	t.events.RemoveAllListeners()

	counts := t.breaker.Counts()
	limits := t.rateLimiter.Metrics()
	t.logger.Debug().
		Int64("requests", limits.TotalRequests).
		Int64("throttled", limits.DeniedRequests).
		Int64("failures", counts.Failures).
		Int64("refused", counts.Refused).
		Msg("transport closed")
	return t.httpClient.Close()
}

// run executes fn on its own goroutine and settles the returned promise with
// its outcome.
func run[T any](t *RestTransport, ctx context.Context, op string, fn func(context.Context, *event.Promise[T]) (T, error)) *event.Promise[T] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return event.Rejected[T](core.ErrClientClosed)
	}

	if !t.breaker.Allow() {
		return event.Rejected[T](core.ErrCircuitOpen)
	}

	p := event.NewPromise[T]()
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		v, err := fn(ctx, p)
		if t.breaker.Record(!breakerFailure(err)) {
			counts := t.breaker.Counts()
			t.logger.Warn().
				Stringer("state", t.breaker.State()).
				Int64("failures", counts.Failures).
				Int64("refused", counts.Refused).
				Msg("circuit breaker changed state")
		}
		if err != nil {
			t.logger.Debug().Err(err).Str("op", op).Msg("rest call failed")
			p.Reject(err)
			return
		}
		p.Resolve(v)
	}()
	return p
}

// breakerFailure reports whether err means the backend is unhealthy. Business
// errors and cancelled calls say nothing about its health.
func breakerFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var exErr *core.ExchangeError
	if errors.As(err, &exErr) {
		return exErr.Type == core.ErrorTypeServerError || exErr.Type == core.ErrorTypeNetwork
	}
	return !errors.Is(err, core.ErrNoCredentials)
}

func (t *RestTransport) mapStatusCodeToErrorType(statusCode int) core.ErrorType {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return core.ErrorTypeAuthentication
	case statusCode >= 500:
		return core.ErrorTypeServerError
	case statusCode >= 400:
		return core.ErrorTypeBadRequest
	default:
		return core.ErrorTypeUnknown
	}
}

func (t *RestTransport) httpError(resp *transport.Response) error {
	exErr := core.NewExchangeError(t.mapStatusCodeToErrorType(resp.StatusCode), resp.StatusCode,
		http.StatusText(resp.StatusCode))
	if raw, err := core.DecodeMessage(resp.Body); err == nil {
		exErr.WithRaw(raw)
		if desc := raw.String("Description"); desc != "" {
			exErr.Message = desc
		}
	}
	return exErr
}

func (t *RestTransport) public(ctx context.Context, resource string, query core.Params) ([]byte, error) {
	if err := t.rateLimiter.WaitBucket(ctx, ratelimit.BucketPublic); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	params := core.Params{"crypto_currency": t.config.CryptoCurrency}
	for k, v := range query {
		params[k] = v
	}

	resp, err := t.httpClient.Get(ctx, publicPath(t.config.Currency, resource), params)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", resource, err)
	}
	if !resp.IsSuccess() {
		return nil, t.httpError(resp)
	}
	return resp.Body, nil
}

// Ticker returns the 24h summary of the configured market.
func (t *RestTransport) Ticker(ctx context.Context) *event.Promise[*core.Ticker] {
	return run(t, ctx, "ticker", func(ctx context.Context, _ *event.Promise[*core.Ticker]) (*core.Ticker, error) {
		body, err := t.public(ctx, "ticker", nil)
		if err != nil {
			return nil, err
		}
		ticker, err := normalizeRestTicker(body, t.config.Currency)
		if err != nil {
			return nil, err
		}
		if ticker.Symbol == "" {
			ticker.Symbol = t.symbol()
		}
		return ticker, nil
	})
}

// Trades lists public trades. Zero query fields are left to the server defaults.
func (t *RestTransport) Trades(ctx context.Context, query core.TradesQuery) *event.Promise[[]core.Trade] {
	return run(t, ctx, "trades", func(ctx context.Context, _ *event.Promise[[]core.Trade]) ([]core.Trade, error) {
		params := core.Params{}
		if query.Limit > 0 {
			params["limit"] = query.Limit
		}
		if query.Since != "" {
			params["since"] = query.Since
		}
		body, err := t.public(ctx, "trades", params)
		if err != nil {
			return nil, err
		}
		return normalizeRestTrades(body, t.symbol())
	})
}

// OrderBook returns the full public book of the configured market.
func (t *RestTransport) OrderBook(ctx context.Context) *event.Promise[*core.OrderBook] {
	return run(t, ctx, "orderbook", func(ctx context.Context, _ *event.Promise[*core.OrderBook]) (*core.OrderBook, error) {
		body, err := t.public(ctx, "orderbook", nil)
		if err != nil {
			return nil, err
		}
		book, err := normalizeRestOrderBook(body)
		if err != nil {
			return nil, err
		}
		if book.Symbol == "" {
			book.Symbol = t.symbol()
		}
		return book, nil
	})
}

func (t *RestTransport) symbol() string {
	return t.config.CryptoCurrency + t.config.Currency
}

// trade posts msg to the trade endpoint and returns the first response of the
// expected type. Balance and execution report responses are emitted on the way.
func (t *RestTransport) trade(ctx context.Context, op core.Operation, msg core.Message, emitter *event.Emitter) (core.Message, error) {
	if t.signer == nil {
		return nil, core.ErrNoCredentials
	}
	if err := t.rateLimiter.WaitBucket(ctx, ratelimit.BucketTrade); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	req := core.NewRequest(http.MethodPost, TradePath).
		SetBody(msg).
		SetRequireAuth(true)
	for k, v := range t.signer.Headers() {
		req.SetHeader(k, v)
	}

	resp, err := t.httpClient.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !resp.IsSuccess() {
		return nil, t.httpError(resp)
	}

	var env envelope
	if err := resp.Unmarshal(&env); err != nil {
		return nil, core.NewExchangeError(core.ErrorTypeUnknown, resp.StatusCode, "decode envelope: "+err.Error()).
			WithCode(core.ErrCodeBadEnvelope)
	}
	if env.Status != http.StatusOK {
		return nil, core.NewExchangeError(t.mapStatusCodeToErrorType(env.Status), env.Status, env.Description).
			WithCode(core.ErrCodeServerError).
			WithRaw(core.Message{"Status": env.Status, "Description": env.Description, "Responses": env.Responses})
	}

	want := operations[op].Response
	var result core.Message
	for _, r := range env.Responses {
		switch r.MsgType() {
		case msgTypeError:
			return nil, exchangeErrorFromMessage(r, core.ErrorTypeBadRequest).WithCode(core.ErrCodeServerError)
		case msgTypeCancelReject:
			return nil, cancelRejectError(r)
		case "U3":
			t.emit(emitter, core.EventBalance, r)
		case msgTypeExecutionReport:
			report := core.ExecutionReportFromMessage(r)
			if name := report.ExecType.EventName(); name != "" {
				t.emit(emitter, name, report)
			}
		}
		if result == nil && r.MsgType() == want {
			result = r
		}
	}

	if result == nil {
		if len(env.Responses) == 0 {
			return nil, core.NewExchangeError(core.ErrorTypeUnknown, env.Status, "empty response").
				WithCode(core.ErrCodeBadEnvelope)
		}
		result = env.Responses[0]
	}

	if result.MsgType() == msgTypeExecutionReport && core.ExecType(result.String("ExecType")) == core.ExecRejected {
		return nil, core.NewExchangeError(core.ErrorTypeRejected, env.Status, rejectReason(result)).
			WithCode(core.ErrCodeOrderRejected).
			WithRaw(result)
	}
	return result, nil
}

func (t *RestTransport) emit(emitter *event.Emitter, name string, arg any) {
	emitter.Emit(name, arg)
	t.events.Emit(name, arg)
}

func rejectReason(report core.Message) string {
	if reason := report.String("OrdRejReason"); reason != "" {
		return "order rejected: " + reason
	}
	return "order rejected"
}

func (t *RestTransport) call(ctx context.Context, op core.Operation, build func(id int64) core.Message) *event.Promise[core.Message] {
	return run(t, ctx, op.String(), func(ctx context.Context, p *event.Promise[core.Message]) (core.Message, error) {
		return t.trade(ctx, op, build(t.nextID()), p.Events())
	})
}

// Balance requests the account balances and emits BALANCE with the response.
func (t *RestTransport) Balance(ctx context.Context) *event.Promise[core.Message] {
	return t.call(ctx, core.OpBalance, balanceMessage)
}

// MyOrders lists open orders.
func (t *RestTransport) MyOrders(ctx context.Context, page core.Pagination) *event.Promise[core.Message] {
	return t.call(ctx, core.OpMyOrders, func(id int64) core.Message {
		return myOrdersMessage(id, page)
	})
}

// SendOrder submits a limit order and resolves with its first execution report.
// A rejected order fails with an ErrorTypeRejected error.
func (t *RestTransport) SendOrder(ctx context.Context, order core.Order) *event.Promise[core.Message] {
	return t.call(ctx, core.OpSendOrder, func(id int64) core.Message {
		clOrdID := order.ClientID
		if clOrdID == 0 {
			clOrdID = id
		}
		return sendOrderMessage(clOrdID, t.config.BrokerID, order)
	})
}

// CancelOrder cancels an order and resolves with the cancel execution report.
func (t *RestTransport) CancelOrder(ctx context.Context, order core.OrderClient) *event.Promise[core.Message] {
	return t.call(ctx, core.OpCancelOrder, func(int64) core.Message {
		return cancelOrderMessage(order)
	})
}

// ListWithdraws lists withdraws with the given statuses.
func (t *RestTransport) ListWithdraws(ctx context.Context, query core.ListWithdraws) *event.Promise[core.Message] {
	return t.call(ctx, core.OpListWithdraws, func(id int64) core.Message {
		return listWithdrawsMessage(id, query)
	})
}

// RequestWithdraw requests a withdraw; method and currency default to bitcoin/BTC.
func (t *RestTransport) RequestWithdraw(ctx context.Context, withdraw core.Withdraw) *event.Promise[core.Message] {
	return t.call(ctx, core.OpRequestWithdraw, func(id int64) core.Message {
		return requestWithdrawMessage(id, withdraw)
	})
}

// RequestDeposit requests a deposit. The zero Deposit asks for a new bitcoin address.
func (t *RestTransport) RequestDeposit(ctx context.Context, deposit core.Deposit) *event.Promise[core.Message] {
	return t.call(ctx, core.OpRequestDeposit, func(id int64) core.Message {
		return requestDepositMessage(id, t.config.BrokerID, deposit)
	})
}

// RequestDepositMethods lists the broker's deposit methods.
func (t *RestTransport) RequestDepositMethods(ctx context.Context) *event.Promise[core.Message] {
	return t.call(ctx, core.OpRequestDepositMethods, depositMethodsMessage)
}
