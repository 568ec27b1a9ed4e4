package blinktrade

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"blinktrade/internal/ratelimit"
	"blinktrade/internal/transport"
	"blinktrade/pkg/core"
	"blinktrade/pkg/event"
	"blinktrade/pkg/exchange"
	"blinktrade/pkg/session"
)

var _ exchange.BaseTransport = (*WSTransport)(nil)

const routerName = "blinktrade"

// Subscription is the handle returned by the subscribe calls. The promise
// resolves with the first update; later updates are emitted on its events.
type Subscription[T any] struct {
	*event.Promise[T]
	// ID is the request id used to unsubscribe.
	ID int64
}

type pendingCall struct {
	id      int64
	op      core.Operation
	sentAt  time.Time
	promise *event.Promise[core.Message]
	stop    func() bool
	// route is the orders key of a SendOrder call.
	route string
	// queue is the cancels key of a CancelOrder call.
	queue string
}

type subscription struct {
	id      int64
	op      core.Operation
	symbols []string
	events  *event.Emitter
	ticker  *event.Promise[*core.Ticker]
	book    *event.Promise[*core.OrderBook]
	stop    func() bool
}

func (s *subscription) reject(err error) {
	if s.ticker != nil {
		s.ticker.Reject(err)
	}
	if s.book != nil {
		s.book.Reject(err)
	}
}

func (s *subscription) waiting() bool {
	if s.ticker != nil {
		return s.ticker.Pending()
	}
	return s.book != nil && s.book.Pending()
}

func (s *subscription) watches(symbol string) bool {
	return slices.Contains(s.symbols, symbol)
}

// WSTransport is a session-oriented BlinkTrade client over one websocket.
// Requests are correlated with their responses by request id, so concurrent
// calls complete independently in whatever order the server answers.
type WSTransport struct {
	config      *core.Config
	client      *transport.WSClient
	session     *session.Session
	rateLimiter *ratelimit.RateLimiter
	events      *event.Emitter
	logger      zerolog.Logger
	nextID      func() int64

	mu      sync.Mutex
	closed  bool
	pending map[int64]*pendingCall
	// cancels queues CancelOrder calls per target order, oldest first. The
	// server answers cancels for the same order in the order they were sent.
	cancels map[string][]*pendingCall
	// orders route execution reports to the emitter of the SendOrder call
	// until the order reaches a terminal state.
	orders   map[string]*event.Emitter
	orderIDs map[int64]*event.Emitter
	balance  *event.Emitter
	subs     map[int64]*subscription

	done    chan struct{}
	doneErr error
}

// NewWSTransport creates a websocket transport. Call Connect before any other
// method.
func NewWSTransport(config *core.Config, opts ...exchange.Option) (*WSTransport, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	config = config.Clone()

	wsURL, err := WSURL(config)
	if err != nil {
		return nil, err
	}

	options := exchange.ApplyOptions(opts...)
	logger := exchange.ConfiguredLogger(config, options.Logger).
		With().Str("transport", "websocket").Logger()

	client := transport.NewWSClient(transport.WSConfig{
		URL:              wsURL,
		HandshakeTimeout: config.Timeout,
		PingInterval:     config.PingInterval,
		PongWait:         config.PongWait,
		BufferSize:       config.BufferSize,
	})
	client.SetLogger(logger)

	t := &WSTransport{
		config:      config,
		client:      client,
		session:     session.New(logger),
		rateLimiter: ratelimit.New(config.RateLimitRequests, config.RateLimitPeriod),
		events:      event.NewEmitter(),
		logger:      logger,
		nextID:      options.NextID,
		pending:     make(map[int64]*pendingCall),
		cancels:     make(map[string][]*pendingCall),
		orders:      make(map[string]*event.Emitter),
		orderIDs:    make(map[int64]*event.Emitter),
		subs:        make(map[int64]*subscription),
		done:        make(chan struct{}),
	}
	if t.nextID == nil {
		t.nextID = newIDSource()
	}

	if err := client.Subscribe(routerName, t.route); err != nil {
		return nil, err
	}
	client.OnDisconnect(t.disconnected)
	return t, nil
}

// Connect opens the websocket. It returns once frames can be sent; the session
// is unauthenticated until Login succeeds. A transport connects at most once.
func (t *WSTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return core.ErrClientClosed
	}

	if err := t.client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := t.session.Open(); err != nil {
		return err
	}
	return nil
}

// Events returns the transport-wide emitter. It receives BALANCE,
// EXECUTION_REPORT:*, TICKER:*, ORDERBOOK:* and unmatched ERROR events.
func (t *WSTransport) Events() *event.Emitter {
	return t.events
}

// State returns the session state.
func (t *WSTransport) State() session.State {
	return t.session.State()
}

// Done is closed once the transport is torn down by Close or by the server.
func (t *WSTransport) Done() <-chan struct{} {
	return t.done
}

// Err returns the teardown cause after Done is closed.
func (t *WSTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.doneErr
}

// Close tears the connection down. Pending calls are rejected with
// core.ErrNotConnected and every listener and subscription is released.
func (t *WSTransport) Close() error {
	if !t.teardown(core.ErrClientClosed) {
		return nil
	}
	return t.client.Close()
}

func (t *WSTransport) disconnected(err error) {
	t.logger.Warn().Err(err).Msg("connection lost")
	if t.teardown(core.ErrNotConnected) {
		_ = t.client.Close()
	}
}

// teardown reports whether this call performed the teardown.
func (t *WSTransport) teardown(cause error) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	t.closed = true
	t.doneErr = cause
	pending := t.pending
	cancels := t.cancels
	subs := t.subs
	emitters := make([]*event.Emitter, 0, len(t.orders)+1)
	for _, em := range t.orders {
		emitters = append(emitters, em)
	}
	if t.balance != nil {
		emitters = append(emitters, t.balance)
	}
	t.pending = make(map[int64]*pendingCall)
	t.cancels = make(map[string][]*pendingCall)
	t.orders = make(map[string]*event.Emitter)
	t.orderIDs = make(map[int64]*event.Emitter)
	t.subs = make(map[int64]*subscription)
	t.balance = nil
	t.mu.Unlock()

	for _, call := range pending {
		call.stop()
		call.promise.Reject(core.ErrNotConnected)
		call.promise.Events().RemoveAllListeners()
	}
	queued := 0
	for _, queue := range cancels {
		for _, call := range queue {
			call.stop()
			call.promise.Reject(core.ErrNotConnected)
			call.promise.Events().RemoveAllListeners()
		}
		queued += len(queue)
	}
	for _, sub := range subs {
		sub.stop()
		sub.reject(core.ErrNotConnected)
		sub.events.RemoveAllListeners()
	}
	for _, em := range emitters {
		em.RemoveAllListeners()
	}

	idle := time.Since(t.session.LastUsed())
	t.session.Close()
	t.events.RemoveAllListeners()
	close(t.done)

	limits := t.rateLimiter.Metrics()
	t.logger.Debug().
		Err(cause).
		Int("pending", len(pending)+queued).
		Int("subscriptions", len(subs)).
		Dur("idle", idle).
		Dur("session_age", time.Since(t.session.CreatedAt())).
		Int64("throttled", limits.DeniedRequests).
		Msg("transport torn down")
	return true
}

func (t *WSTransport) send(ctx context.Context, op core.Operation, msg core.Message) error {
	var err error
	switch op {
	case core.OpLogin, core.OpLogout, core.OpHeartbeat:
		// session calls only count against the global bucket
		err = t.rateLimiter.Wait(ctx)
	default:
		err = t.rateLimiter.WaitBucket(ctx, ratelimit.BucketTrade)
	}
	if err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	if err := t.client.SendJSON(msg); err != nil {
		if errors.Is(err, transport.ErrWSNotConnected) {
			return core.ErrNotConnected
		}
		return fmt.Errorf("send %s: %w", msg.MsgType(), err)
	}
	return nil
}

// request registers a pending call under id, sends msg and returns the call's
// promise. A done ctx rejects the promise and forgets the call. register
// defaults to registerPending.
func (t *WSTransport) request(ctx context.Context, op core.Operation, id int64, msg core.Message, register func(*pendingCall) error) *event.Promise[core.Message] {
	p := event.NewPromise[core.Message]()
	call := &pendingCall{id: id, op: op, sentAt: time.Now(), promise: p}
	call.stop = context.AfterFunc(ctx, func() {
		t.abandon(call, context.Cause(ctx))
	})

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		call.stop()
		p.Reject(core.ErrNotConnected)
		return p
	}
	if register == nil {
		register = t.registerPending
	}
	if err := register(call); err != nil {
		t.mu.Unlock()
		call.stop()
		p.Reject(err)
		return p
	}
	t.mu.Unlock()

	if ctx.Err() != nil {
		// abandon may have run before the call was registered.
		call.stop()
		t.abandon(call, context.Cause(ctx))
		return p
	}

	t.logger.Debug().Stringer("op", op).Int64("id", id).Msg("sending request")
	if err := t.send(ctx, op, msg); err != nil {
		call.stop()
		t.abandon(call, err)
	}
	return p
}

// must be called with t.mu held.
func (t *WSTransport) registerPending(call *pendingCall) error {
	if _, ok := t.pending[call.id]; ok {
		return fmt.Errorf("%w: %d", core.ErrDuplicateRequest, call.id)
	}
	t.pending[call.id] = call
	return nil
}

// abandon forgets call and rejects it with err.
func (t *WSTransport) abandon(call *pendingCall, err error) {
	t.mu.Lock()
	t.forget(call)
	t.mu.Unlock()

	if call.op == core.OpLogin {
		t.session.FailLogin()
	}
	call.promise.Reject(err)
}

// forget removes every registration of call. It must be called with t.mu
// held.
func (t *WSTransport) forget(call *pendingCall) {
	if t.pending[call.id] == call {
		delete(t.pending, call.id)
	}
	if call.route != "" && t.orders[call.route] == call.promise.Events() {
		delete(t.orders, call.route)
	}
	if call.queue != "" {
		queue := slices.DeleteFunc(t.cancels[call.queue], func(c *pendingCall) bool { return c == call })
		if len(queue) == 0 {
			delete(t.cancels, call.queue)
		} else {
			t.cancels[call.queue] = queue
		}
	}
}

// cancelKeys returns the cancels keys that can match an order, by OrderID
// first.
func cancelKeys(orderID int64, clOrdID string) []string {
	var keys []string
	if orderID != 0 {
		keys = append(keys, "order:"+strconv.FormatInt(orderID, 10))
	}
	if clOrdID != "" && clOrdID != "0" {
		keys = append(keys, "client:"+clOrdID)
	}
	return keys
}

// takeCancel pops the oldest cancel waiting on orderID or clOrdID.
func (t *WSTransport) takeCancel(orderID int64, clOrdID string) *pendingCall {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, key := range cancelKeys(orderID, clOrdID) {
		queue := t.cancels[key]
		if len(queue) == 0 {
			continue
		}
		call := queue[0]
		if len(queue) == 1 {
			delete(t.cancels, key)
		} else {
			t.cancels[key] = queue[1:]
		}
		call.stop()
		return call
	}
	return nil
}

func (t *WSTransport) takePending(id int64) *pendingCall {
	t.mu.Lock()
	defer t.mu.Unlock()

	call, ok := t.pending[id]
	if !ok {
		return nil
	}
	delete(t.pending, id)
	call.stop()
	return call
}

func (t *WSTransport) emit(targets []*event.Emitter, name string, arg any) {
	for _, em := range targets {
		em.Emit(name, arg)
	}
	t.events.Emit(name, arg)
}

// route dispatches one inbound frame. It runs on the single dispatch goroutine,
// so frames are handled in wire order.
func (t *WSTransport) route(data []byte) error {
	msg, err := core.DecodeMessage(data)
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}

	switch msgType := msg.MsgType(); msgType {
	case msgTypeExecutionReport:
		t.handleExecutionReport(msg)
	case msgTypeCancelReject:
		t.handleCancelReject(msg)
	case msgTypeSecurityStatus:
		t.handleSecurityStatus(msg)
	case msgTypeFullRefresh:
		t.handleFullRefresh(msg)
	case msgTypeIncremental:
		t.handleIncremental(msg)
	case msgTypeError:
		t.handleError(msg)
	default:
		field, ok := responseIDFields[msgType]
		if !ok {
			t.logger.Debug().Str("msg_type", msgType).Msg("unhandled message")
			return nil
		}
		id, _ := msg.Int64(field)
		call := t.takePending(id)
		if call == nil {
			if msgType == "U3" {
				t.emitBalance(msg)
				return nil
			}
			t.logger.Debug().Str("msg_type", msgType).Int64("id", id).Msg("response without pending request")
			return nil
		}
		t.complete(call, msg)
	}
	return nil
}

func (t *WSTransport) complete(call *pendingCall, msg core.Message) {
	switch call.op {
	case core.OpLogin:
		status, _ := msg.Int64("UserStatus")
		if status != userStatusOK {
			t.session.FailLogin()
			call.promise.Reject(loginError(msg))
			return
		}
		t.session.CompleteLogin(msg)
	case core.OpLogout:
		_ = t.session.Logout()
	case core.OpHeartbeat:
		msg["Latency"] = heartbeatLatency(msg, call.sentAt)
	case core.OpBalance:
		t.emit([]*event.Emitter{call.promise.Events()}, core.EventBalance, msg)
		call.promise.Resolve(msg)
		return
	}
	call.promise.Resolve(msg)
}

// emitBalance delivers an unsolicited balance update to the latest Balance
// call and to the transport emitter.
func (t *WSTransport) emitBalance(msg core.Message) {
	t.mu.Lock()
	latest := t.balance
	t.mu.Unlock()

	var targets []*event.Emitter
	if latest != nil {
		targets = append(targets, latest)
	}
	t.emit(targets, core.EventBalance, msg)
}

func loginError(msg core.Message) error {
	exErr := exchangeErrorFromMessage(msg, core.ErrorTypeAuthentication)
	if msg.Bool("NeedSecondFactor") {
		exErr.NeedSecondFactor = true
		return exErr.WithCode(core.ErrCodeSecondFactor)
	}
	return exErr.WithCode(core.ErrCodeAuth)
}

// heartbeatLatency measures the round trip from the echoed SendTime, falling
// back to the local send time.
func heartbeatLatency(msg core.Message, sentAt time.Time) int64 {
	now := time.Now()
	if sent, ok := msg.Int64("SendTime"); ok && sent > 0 {
		return max(now.UnixMilli()-sent, 0)
	}
	return now.Sub(sentAt).Milliseconds()
}

func terminal(report *core.ExecutionReport) bool {
	switch report.ExecType {
	case core.ExecCanceled, core.ExecRejected:
		return true
	}
	// OrdStatus 2 is filled.
	return report.OrdStatus == "2"
}

func (t *WSTransport) handleExecutionReport(msg core.Message) {
	report := core.ExecutionReportFromMessage(msg)

	var calls []*pendingCall
	if report.ExecType == core.ExecCanceled {
		if c := t.takeCancel(report.OrderID, report.ClOrdID); c != nil {
			calls = append(calls, c)
		}
	}

	t.mu.Lock()
	if id, err := strconv.ParseInt(report.ClOrdID, 10, 64); err == nil {
		if c, ok := t.pending[id]; ok && c.op == core.OpSendOrder {
			calls = append(calls, c)
			delete(t.pending, id)
		}
	}

	order := t.orders[report.ClOrdID]
	if order == nil && report.OrderID != 0 {
		order = t.orderIDs[report.OrderID]
	}
	if order != nil && report.OrderID != 0 {
		t.orderIDs[report.OrderID] = order
	}
	if terminal(report) {
		delete(t.orders, report.ClOrdID)
		delete(t.orderIDs, report.OrderID)
	}
	t.mu.Unlock()

	var targets []*event.Emitter
	if order != nil {
		targets = append(targets, order)
	}
	for _, call := range calls {
		if call.promise.Events() != order {
			targets = append(targets, call.promise.Events())
		}
	}
	if name := report.ExecType.EventName(); name != "" {
		t.emit(targets, name, report)
	}

	for _, call := range calls {
		call.stop()
		if report.ExecType == core.ExecRejected {
			call.promise.Reject(core.NewExchangeError(core.ErrorTypeRejected, 0, rejectReason(msg)).
				WithCode(core.ErrCodeOrderRejected).
				WithRaw(msg))
			continue
		}
		call.promise.Resolve(msg)
	}
}

func (t *WSTransport) handleCancelReject(msg core.Message) {
	orderID, _ := msg.Int64("OrderID")
	call := t.takeCancel(orderID, msg.String("ClOrdID"))
	if call == nil {
		t.logger.Warn().Int64("order_id", orderID).Msg("cancel reject without pending cancel")
		return
	}
	call.promise.Reject(cancelRejectError(msg))
}

// handleError fails the request, subscription or cancel the ERROR refers to.
// Anything else is emitted as an ERROR event on the transport.
func (t *WSTransport) handleError(msg core.Message) {
	reqErr := func() *core.ExchangeError {
		return exchangeErrorFromMessage(msg, core.ErrorTypeBadRequest).WithCode(core.ErrCodeServerError)
	}

	for _, field := range errorIDFields {
		id, ok := msg.Int64(field)
		if !ok {
			continue
		}
		if call := t.takePending(id); call != nil {
			t.abandon(call, reqErr())
			return
		}
		if sub := t.takeSubscription(id); sub != nil {
			sub.reject(reqErr())
			sub.events.RemoveAllListeners()
			return
		}
	}

	orderID, _ := msg.Int64("OrderID")
	if call := t.takeCancel(orderID, msg.String("ClOrdID")); call != nil {
		call.promise.Reject(reqErr())
		return
	}

	exErr := exchangeErrorFromMessage(msg, core.ErrorTypeServerError).WithCode(core.ErrCodeServerError)
	t.logger.Warn().Err(exErr).Msg("server error")
	t.events.Emit(core.EventError, exErr)
}

// takeSubscription removes the subscription id while it still waits for its
// first update.
func (t *WSTransport) takeSubscription(id int64) *subscription {
	t.mu.Lock()
	defer t.mu.Unlock()

	sub, ok := t.subs[id]
	if !ok || !sub.waiting() {
		return nil
	}
	delete(t.subs, id)
	sub.stop()
	return sub
}

// subscribers returns the live subscriptions of kind op that should receive a
// push, preferring the request id and falling back to the symbol.
func (t *WSTransport) subscribers(op core.Operation, msg core.Message, symbol string) []*subscription {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := msg.Int64(operations[op].IDField); ok {
		if sub, ok := t.subs[id]; ok && sub.op == op {
			return []*subscription{sub}
		}
		return nil
	}

	var subs []*subscription
	for _, sub := range t.subs {
		if sub.op == op && sub.watches(symbol) {
			subs = append(subs, sub)
		}
	}
	return subs
}

func (t *WSTransport) handleSecurityStatus(msg core.Message) {
	ticker := normalizeSecurityStatus(msg)
	for _, sub := range t.subscribers(core.OpSubscribeTicker, msg, ticker.Symbol) {
		t.emit([]*event.Emitter{sub.events}, core.TickerEvent(ticker.Symbol), ticker)
		if sub.ticker.Resolve(ticker) {
			sub.stop()
		}
	}
}

func (t *WSTransport) handleFullRefresh(msg core.Message) {
	book := normalizeFullRefresh(msg)
	for _, sub := range t.subscribers(core.OpSubscribeOrderbook, msg, book.Symbol) {
		t.emit([]*event.Emitter{sub.events}, core.OrderbookEvent(book.Symbol), &core.OrderBookEvent{
			SubscriptionID: sub.id,
			Symbol:         book.Symbol,
			Snapshot:       book,
		})
		if sub.book.Resolve(book) {
			sub.stop()
		}
	}
}

func (t *WSTransport) handleIncremental(msg core.Message) {
	symbols, updates := normalizeIncremental(msg)
	for _, symbol := range symbols {
		for _, sub := range t.subscribers(core.OpSubscribeOrderbook, msg, symbol) {
			t.emit([]*event.Emitter{sub.events}, core.OrderbookEvent(symbol), &core.OrderBookEvent{
				SubscriptionID: sub.id,
				Symbol:         symbol,
				Updates:        updates[symbol],
			})
		}
	}
}

// Login authenticates the session. A rejected login fails with an
// authentication error; core.NeedsSecondFactor reports whether it should be
// retried with Login.SecondFactor.
func (t *WSTransport) Login(ctx context.Context, login core.Login) *event.Promise[core.Message] {
	if err := t.session.BeginLogin(login.Username); err != nil {
		return event.Rejected[core.Message](err)
	}
	id := t.nextID()
	return t.request(ctx, core.OpLogin, id, loginMessage(id, t.config.BrokerID, login), nil)
}

// Logout ends the authenticated session. The connection stays open.
func (t *WSTransport) Logout(ctx context.Context) *event.Promise[core.Message] {
	if err := t.session.RequireAuthenticated(); err != nil {
		return event.Rejected[core.Message](err)
	}
	id := t.nextID()
	return t.request(ctx, core.OpLogout, id, logoutMessage(id, t.config.BrokerID, t.session.Username()), nil)
}

// Heartbeat sends a test request and resolves with the reply extended with the
// measured Latency in milliseconds. It works in any connected state.
func (t *WSTransport) Heartbeat(ctx context.Context) *event.Promise[core.Message] {
	if err := t.session.RequireConnected(); err != nil {
		return event.Rejected[core.Message](err)
	}
	id := t.nextID()
	return t.request(ctx, core.OpHeartbeat, id, heartbeatMessage(id, time.Now()), nil)
}

// Profile resolves with the profile captured from the login response.
func (t *WSTransport) Profile() *event.Promise[core.Message] {
	if err := t.session.RequireAuthenticated(); err != nil {
		return event.Rejected[core.Message](err)
	}
	profile, ok := t.session.Profile()
	if !ok {
		return event.Rejected[core.Message](core.ErrNotAuthenticated)
	}
	p := event.NewPromise[core.Message]()
	p.Resolve(profile)
	return p
}

func (t *WSTransport) authenticated(ctx context.Context, op core.Operation, build func(id int64) core.Message) *event.Promise[core.Message] {
	if err := t.session.RequireAuthenticated(); err != nil {
		return event.Rejected[core.Message](err)
	}
	id := t.nextID()
	return t.request(ctx, op, id, build(id), nil)
}

// Balance requests the account balances. The promise keeps receiving BALANCE
// events for server-pushed balance updates until the next Balance call.
func (t *WSTransport) Balance(ctx context.Context) *event.Promise[core.Message] {
	if err := t.session.RequireAuthenticated(); err != nil {
		return event.Rejected[core.Message](err)
	}
	id := t.nextID()
	return t.request(ctx, core.OpBalance, id, balanceMessage(id), func(call *pendingCall) error {
		if err := t.registerPending(call); err != nil {
			return err
		}
		t.balance = call.promise.Events()
		return nil
	})
}

// MyOrders lists open orders.
func (t *WSTransport) MyOrders(ctx context.Context, page core.Pagination) *event.Promise[core.Message] {
	return t.authenticated(ctx, core.OpMyOrders, func(id int64) core.Message {
		return myOrdersMessage(id, page)
	})
}

// SendOrder submits a limit order and resolves with its first execution report.
// Later reports for the order keep arriving on the promise's events until the
// order is filled, cancelled or rejected. A ClientID that is still routing
// reports for an earlier order fails with core.ErrDuplicateRequest.
func (t *WSTransport) SendOrder(ctx context.Context, order core.Order) *event.Promise[core.Message] {
	if err := t.session.RequireAuthenticated(); err != nil {
		return event.Rejected[core.Message](err)
	}
	clOrdID := order.ClientID
	if clOrdID == 0 {
		clOrdID = t.nextID()
	}
	key := strconv.FormatInt(clOrdID, 10)
	return t.request(ctx, core.OpSendOrder, clOrdID, sendOrderMessage(clOrdID, t.config.BrokerID, order), func(call *pendingCall) error {
		if t.orders[key] != nil {
			return fmt.Errorf("%w: ClOrdID %s", core.ErrDuplicateRequest, key)
		}
		if err := t.registerPending(call); err != nil {
			return err
		}
		call.route = key
		t.orders[key] = call.promise.Events()
		return nil
	})
}

// CancelOrder cancels an order and resolves with the cancel execution report.
// A cancel reject fails the promise with an ErrorTypeRejected error. Several
// cancels of the same order settle in the order they were sent.
func (t *WSTransport) CancelOrder(ctx context.Context, order core.OrderClient) *event.Promise[core.Message] {
	if err := t.session.RequireAuthenticated(); err != nil {
		return event.Rejected[core.Message](err)
	}
	var clOrdID string
	if order.ClientID != 0 {
		clOrdID = strconv.FormatInt(order.ClientID, 10)
	}
	keys := cancelKeys(order.OrderID, clOrdID)
	if len(keys) == 0 {
		return event.Rejected[core.Message](fmt.Errorf("cancel order: OrderID or ClientID is required"))
	}
	return t.request(ctx, core.OpCancelOrder, t.nextID(), cancelOrderMessage(order), func(call *pendingCall) error {
		call.queue = keys[0]
		t.cancels[call.queue] = append(t.cancels[call.queue], call)
		return nil
	})
}

// ListWithdraws lists withdraws with the given statuses.
func (t *WSTransport) ListWithdraws(ctx context.Context, query core.ListWithdraws) *event.Promise[core.Message] {
	return t.authenticated(ctx, core.OpListWithdraws, func(id int64) core.Message {
		return listWithdrawsMessage(id, query)
	})
}

// RequestWithdraw requests a withdraw; method and currency default to bitcoin/BTC.
func (t *WSTransport) RequestWithdraw(ctx context.Context, withdraw core.Withdraw) *event.Promise[core.Message] {
	return t.authenticated(ctx, core.OpRequestWithdraw, func(id int64) core.Message {
		return requestWithdrawMessage(id, withdraw)
	})
}

// RequestDeposit requests a deposit. The zero Deposit asks for a new bitcoin address.
func (t *WSTransport) RequestDeposit(ctx context.Context, deposit core.Deposit) *event.Promise[core.Message] {
	return t.authenticated(ctx, core.OpRequestDeposit, func(id int64) core.Message {
		return requestDepositMessage(id, t.config.BrokerID, deposit)
	})
}

// RequestDepositMethods lists the broker's deposit methods.
func (t *WSTransport) RequestDepositMethods(ctx context.Context) *event.Promise[core.Message] {
	return t.authenticated(ctx, core.OpRequestDepositMethods, depositMethodsMessage)
}

// TradeHistory lists the trades of the last 24 hours.
func (t *WSTransport) TradeHistory(ctx context.Context, page core.Pagination) *event.Promise[core.Message] {
	return t.authenticated(ctx, core.OpTradeHistory, func(id int64) core.Message {
		return tradeHistoryMessage(id, page)
	})
}

// ExecutionReport registers fn for every execution report the session
// receives. The returned func removes the listener.
func (t *WSTransport) ExecutionReport(fn func(*core.ExecutionReport)) (remove func()) {
	id := t.events.On(core.EventExecutionReport, func(args ...any) {
		if report, ok := args[0].(*core.ExecutionReport); ok {
			fn(report)
		}
	})
	return func() {
		t.events.RemoveListener(core.EventExecutionReport, id)
	}
}

func (t *WSTransport) subscribe(ctx context.Context, sub *subscription, msg core.Message) error {
	sub.stop = context.AfterFunc(ctx, func() {
		t.dropSubscription(sub, context.Cause(ctx))
	})

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		sub.stop()
		return core.ErrNotConnected
	}
	t.subs[sub.id] = sub
	t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		// ctx ended before the subscription was registered.
		sub.stop()
		t.mu.Lock()
		delete(t.subs, sub.id)
		t.mu.Unlock()
		return err
	}

	t.logger.Debug().Stringer("op", sub.op).Int64("id", sub.id).Strs("symbols", sub.symbols).Msg("subscribing")
	if err := t.send(ctx, sub.op, msg); err != nil {
		sub.stop()
		t.mu.Lock()
		delete(t.subs, sub.id)
		t.mu.Unlock()
		return err
	}
	return nil
}

// dropSubscription forgets a subscription whose ctx ended before the first
// update and tells the server to stop sending it.
func (t *WSTransport) dropSubscription(sub *subscription, err error) {
	t.mu.Lock()
	live := t.subs[sub.id] == sub
	if live {
		delete(t.subs, sub.id)
	}
	t.mu.Unlock()
	if !live {
		return
	}

	sub.reject(err)
	sub.events.RemoveAllListeners()
	if sendErr := t.client.SendJSON(t.unsubscribeMessage(sub)); sendErr != nil {
		t.logger.Debug().Err(sendErr).Int64("id", sub.id).Msg("unsubscribe failed")
	}
}

func (t *WSTransport) unsubscribeMessage(sub *subscription) core.Message {
	if sub.op == core.OpSubscribeTicker {
		return tickerMessage(sub.id, sub.symbols, unsubscribe)
	}
	return orderbookMessage(sub.id, sub.symbols, unsubscribe)
}

// SubscribeTicker subscribes to security status updates for symbols. The
// handle resolves with the first ticker; every update is emitted as
// TICKER:<symbol> with a *core.Ticker.
func (t *WSTransport) SubscribeTicker(ctx context.Context, symbols []string) *Subscription[*core.Ticker] {
	if err := t.session.RequireAuthenticated(); err != nil {
		return &Subscription[*core.Ticker]{Promise: event.Rejected[*core.Ticker](err)}
	}

	p := event.NewPromise[*core.Ticker]()
	sub := &subscription{
		id:      t.nextID(),
		op:      core.OpSubscribeTicker,
		symbols: slices.Clone(symbols),
		events:  p.Events(),
		ticker:  p,
	}
	if err := t.subscribe(ctx, sub, tickerMessage(sub.id, sub.symbols, subscribe)); err != nil {
		p.Reject(err)
	}
	return &Subscription[*core.Ticker]{Promise: p, ID: sub.id}
}

// UnsubscribeTicker stops ticker delivery for id without waiting for the server.
func (t *WSTransport) UnsubscribeTicker(id int64) error {
	return t.unsubscribe(core.OpSubscribeTicker, id)
}

// SubscribeOrderbook subscribes to full-depth market data for symbols. The
// handle resolves with the first snapshot; snapshots and incremental updates
// are emitted as ORDERBOOK:<symbol> with a *core.OrderBookEvent.
func (t *WSTransport) SubscribeOrderbook(ctx context.Context, symbols []string) *Subscription[*core.OrderBook] {
	if err := t.session.RequireAuthenticated(); err != nil {
		return &Subscription[*core.OrderBook]{Promise: event.Rejected[*core.OrderBook](err)}
	}

	p := event.NewPromise[*core.OrderBook]()
	sub := &subscription{
		id:      t.nextID(),
		op:      core.OpSubscribeOrderbook,
		symbols: slices.Clone(symbols),
		events:  p.Events(),
		book:    p,
	}
	if err := t.subscribe(ctx, sub, orderbookMessage(sub.id, sub.symbols, subscribe)); err != nil {
		p.Reject(err)
	}
	return &Subscription[*core.OrderBook]{Promise: p, ID: sub.id}
}

// UnsubscribeOrderbook stops market data delivery for id without waiting for
// the server.
func (t *WSTransport) UnsubscribeOrderbook(id int64) error {
	return t.unsubscribe(core.OpSubscribeOrderbook, id)
}

func (t *WSTransport) unsubscribe(op core.Operation, id int64) error {
	t.mu.Lock()
	sub, ok := t.subs[id]
	if !ok || sub.op != op {
		t.mu.Unlock()
		return core.ErrUnknownSubscription
	}
	delete(t.subs, id)
	t.mu.Unlock()

	sub.stop()
	sub.reject(core.ErrUnsubscribed)
	sub.events.RemoveAllListeners()

	if err := t.client.SendJSON(t.unsubscribeMessage(sub)); err != nil {
		if errors.Is(err, transport.ErrWSNotConnected) {
			return core.ErrNotConnected
		}
		return fmt.Errorf("unsubscribe %d: %w", id, err)
	}
	return nil
}
