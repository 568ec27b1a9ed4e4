// Package mockexchange is an in-memory BlinkTrade backend for tests and
// examples. It speaks the REST trade envelope and the websocket session
// protocol, keeps orders and balances per broker, and pushes market data to
// subscribed connections.
package mockexchange

import (
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"blinktrade/pkg/core"
)

// User is an account that can log in over the websocket.
type User struct {
	ID           int64
	Username     string
	Password     string
	SecondFactor string
}

type order struct {
	id      int64
	clOrdID string
	userID  int64
	symbol  string
	side    string
	price   int64
	qty     int64
	cumQty  int64
	status  string
	execSeq int64
}

func (o *order) open() bool {
	return o.status == "0" || o.status == "1"
}

// Market is the state served for one symbol.
type Market struct {
	Symbol string
	// Prices and volumes are in satoshis.
	Bid, Ask, Last, High, Low int64
	Volume, QuoteVolume       int64
	Bids, Asks                [][2]int64

	// Halted markets answer subscriptions, new orders and cancels with ERROR.
	Halted bool
}

// Exchange holds accounts, orders and market state.
type Exchange struct {
	mu       sync.Mutex
	users    map[string]User
	apiKeys  map[string]apiKey
	orders   map[int64]*order
	nextID   int64
	balances map[int64]map[string]int64
	markets  map[string]*Market
	conns    map[*conn]struct{}
	brokerID int
	logger   zerolog.Logger
}

type apiKey struct {
	secret string
	userID int64
}

// Option configures an Exchange.
type Option func(*Exchange)

// WithLogger sets the logger for request and connection logs.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Exchange) {
		e.logger = logger
	}
}

// WithBroker sets the broker id reported in responses.
func WithBroker(id int) Option {
	return func(e *Exchange) {
		e.brokerID = id
	}
}

// New creates an exchange with a BTCUSD market and no accounts.
func New(opts ...Option) *Exchange {
	e := &Exchange{
		users:    make(map[string]User),
		apiKeys:  make(map[string]apiKey),
		orders:   make(map[int64]*order),
		nextID:   1000,
		balances: make(map[int64]map[string]int64),
		markets:  make(map[string]*Market),
		conns:    make(map[*conn]struct{}),
		brokerID: core.DefaultBrokerID,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.SetMarket(Market{
		Symbol:      "BTCUSD",
		Bid:         58_000_00000000,
		Ask:         58_100_00000000,
		Last:        58_050_00000000,
		High:        59_000_00000000,
		Low:         57_000_00000000,
		Volume:      12_50000000,
		QuoteVolume: 725_625_00000000,
		Bids:        [][2]int64{{58_000_00000000, 50000000}, {57_900_00000000, 1_00000000}},
		Asks:        [][2]int64{{58_100_00000000, 25000000}, {58_200_00000000, 2_00000000}},
	})
	return e
}

// AddUser registers a websocket account with a starting balance and an API
// key pair for the REST trade endpoint.
func (e *Exchange) AddUser(u User, key, secret string, balance map[string]int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.users[u.Username] = u
	if key != "" {
		e.apiKeys[key] = apiKey{secret: secret, userID: u.ID}
	}
	e.balances[u.ID] = maps.Clone(balance)
}

// SetMarket replaces the state of a market.
func (e *Exchange) SetMarket(m Market) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.markets[m.Symbol] = &m
}

// halted must be called with e.mu held.
func (e *Exchange) halted(symbol string) bool {
	m, ok := e.markets[symbol]
	return ok && m.Halted
}

func (e *Exchange) market(symbol string) (Market, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.markets[symbol]
	if !ok {
		return Market{}, false
	}
	return *m, true
}

func (e *Exchange) secret(key string) (apiKey, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k, ok := e.apiKeys[key]
	return k, ok
}

// account is the per-connection (or per-API-key) session state.
type account struct {
	userID int64
	user   string
}

// handle answers one request. Responses are returned in wire order.
func (e *Exchange) handle(acct *account, msg core.Message) []core.Message {
	msgType := msg.MsgType()
	e.logger.Debug().Str("msg_type", msgType).Msg("mock request")

	switch msgType {
	case "BE":
		return e.login(acct, msg)
	case "1":
		return []core.Message{{
			"MsgType":   "0",
			"TestReqID": msg["TestReqID"],
			"SendTime":  msg["SendTime"],
		}}
	}

	if acct.userID == 0 {
		return []core.Message{errorFor(msg, "Not authorized", "login required")}
	}

	switch msgType {
	case "U2":
		return []core.Message{e.balance(acct.userID, msg["BalanceReqID"])}
	case "U4":
		return []core.Message{e.myOrders(acct.userID, msg)}
	case "D":
		return e.newOrder(acct.userID, msg)
	case "F":
		return e.cancelOrder(acct.userID, msg)
	case "U26":
		return []core.Message{paged(msg, "U27", "WithdrawListReqID", "WithdrawListGrp", []any{})}
	case "U6":
		return []core.Message{e.withdraw(msg)}
	case "U18":
		return []core.Message{e.deposit(msg)}
	case "U20":
		return []core.Message{{
			"MsgType":            "U21",
			"DepositMethodReqID": msg["DepositMethodReqID"],
			"DepositMethods": []any{
				core.Message{"DepositMethodID": int64(501), "Description": "Bank transfer", "Currency": "USD"},
			},
		}}
	case "U32":
		return []core.Message{paged(msg, "U33", "TradeHistoryReqID", "TradeHistoryGrp", []any{})}
	}
	return []core.Message{errorFor(msg, "Invalid message", "unsupported MsgType "+msgType)}
}

// errorFor builds an ERROR that echoes every request id field of msg.
func errorFor(msg core.Message, description, detail string) core.Message {
	out := core.Message{
		"MsgType":     "ERROR",
		"Description": description,
		"Detail":      detail,
	}
	for k, v := range msg {
		if k == "ClOrdID" || k == "OrderID" || strings.HasSuffix(k, "ReqID") {
			out[k] = v
		}
	}
	return out
}

func (e *Exchange) login(acct *account, msg core.Message) []core.Message {
	reply := core.Message{
		"MsgType":   "BF",
		"UserReqID": msg["UserReqID"],
		"BrokerID":  e.brokerID,
		"Username":  msg.String("Username"),
	}

	if msg.String("UserReqTyp") == "2" {
		acct.userID = 0
		reply["UserStatus"] = int64(2)
		return []core.Message{reply}
	}

	e.mu.Lock()
	u, ok := e.users[msg.String("Username")]
	e.mu.Unlock()

	switch {
	case !ok || u.Password != msg.String("Password"):
		reply["UserStatus"] = int64(3)
		reply["UserStatusText"] = "Invalid username or password"
	case u.SecondFactor != "" && msg.String("SecondFactor") == "":
		reply["UserStatus"] = int64(3)
		reply["NeedSecondFactor"] = true
		reply["UserStatusText"] = "Second factor required"
	case u.SecondFactor != "" && msg.String("SecondFactor") != u.SecondFactor:
		reply["UserStatus"] = int64(3)
		reply["NeedSecondFactor"] = true
		reply["UserStatusText"] = "Invalid second factor"
	default:
		acct.userID = u.ID
		acct.user = u.Username
		reply["UserStatus"] = int64(1)
		reply["UserID"] = u.ID
		reply["Profile"] = core.Message{"Verified": int64(3), "TwoFactorEnabled": u.SecondFactor != ""}
	}
	return []core.Message{reply}
}

func (e *Exchange) balance(userID int64, reqID any) core.Message {
	e.mu.Lock()
	defer e.mu.Unlock()

	held := make(map[string]int64)
	for _, o := range e.orders {
		if o.userID != userID || !o.open() {
			continue
		}
		if o.side == "1" {
			held["USD_locked"] += o.price / 1e8 * (o.qty - o.cumQty)
		} else {
			held["BTC_locked"] += o.qty - o.cumQty
		}
	}

	funds := make(map[string]any, len(e.balances[userID])+len(held))
	for k, v := range e.balances[userID] {
		funds[k] = v
	}
	for k, v := range held {
		funds[k] = v
	}

	msg := core.Message{
		"MsgType":                "U3",
		"ClientID":               userID,
		strconv.Itoa(e.brokerID): funds,
	}
	if reqID != nil {
		msg["BalanceReqID"] = reqID
	}
	return msg
}

func paged(msg core.Message, msgType, idField, group string, rows []any) core.Message {
	page, ok := msg.Int64("Page")
	if !ok {
		page = 0
	}
	size, ok := msg.Int64("PageSize")
	if !ok {
		size = 20
	}
	return core.Message{
		"MsgType":  msgType,
		idField:    msg[idField],
		"Page":     page,
		"PageSize": size,
		group:      rows,
	}
}

func (e *Exchange) myOrders(userID int64, msg core.Message) core.Message {
	e.mu.Lock()
	ids := make([]int64, 0, len(e.orders))
	for id, o := range e.orders {
		if o.userID == userID && o.open() {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	rows := make([]any, len(ids))
	for i, id := range ids {
		o := e.orders[id]
		rows[i] = []any{o.clOrdID, o.id, o.cumQty, o.status, o.qty - o.cumQty, o.symbol, o.side, o.price, o.qty}
	}
	e.mu.Unlock()

	out := paged(msg, "U5", "OrdersReqID", "OrdListGrp", rows)
	out["Columns"] = []string{"ClOrdID", "OrderID", "CumQty", "OrdStatus", "LeavesQty", "Symbol", "Side", "Price", "OrderQty"}
	return out
}

func (e *Exchange) newOrder(userID int64, msg core.Message) []core.Message {
	price, _ := msg.Int64("Price")
	qty, _ := msg.Int64("OrderQty")
	symbol := msg.String("Symbol")

	e.mu.Lock()
	if e.halted(symbol) {
		e.mu.Unlock()
		return []core.Message{errorFor(msg, "Market halted", symbol)}
	}
	e.nextID++
	o := &order{
		id:      e.nextID,
		clOrdID: msg.String("ClOrdID"),
		userID:  userID,
		symbol:  symbol,
		side:    msg.String("Side"),
		price:   price,
		qty:     qty,
		status:  "0",
	}

	var report core.Message
	if price <= 0 || qty <= 0 {
		o.status = "8"
		report = o.report("8")
		report["OrdRejReason"] = "Invalid price or quantity"
	} else {
		e.orders[o.id] = o
		report = o.report("0")
	}
	e.mu.Unlock()

	return []core.Message{report, e.balance(userID, nil)}
}

func (e *Exchange) cancelOrder(userID int64, msg core.Message) []core.Message {
	orderID, _ := msg.Int64("OrderID")
	clOrdID := msg.String("ClOrdID")

	e.mu.Lock()
	o := e.orders[orderID]
	if o == nil && clOrdID != "" {
		for _, candidate := range e.orders {
			if candidate.clOrdID == clOrdID && candidate.userID == userID {
				o = candidate
				break
			}
		}
	}
	if o == nil || o.userID != userID || !o.open() {
		e.mu.Unlock()
		return []core.Message{{
			"MsgType":      "9",
			"OrderID":      orderID,
			"ClOrdID":      clOrdID,
			"OrdStatus":    "8",
			"CxlRejReason": "Unknown order",
		}}
	}
	if e.halted(o.symbol) {
		e.mu.Unlock()
		return []core.Message{errorFor(msg, "Market halted", o.symbol)}
	}
	o.status = "4"
	report := o.report("4")
	e.mu.Unlock()

	return []core.Message{report, e.balance(userID, nil)}
}

// report must be called with e.mu held.
func (o *order) report(execType string) core.Message {
	o.execSeq++
	avg := int64(0)
	if o.cumQty > 0 {
		avg = o.price
	}
	return core.Message{
		"MsgType":   "8",
		"OrderID":   o.id,
		"ClOrdID":   o.clOrdID,
		"ExecID":    o.id*100 + o.execSeq,
		"ExecType":  execType,
		"OrdStatus": o.status,
		"Symbol":    o.symbol,
		"Side":      o.side,
		"OrdType":   "2",
		"Price":     o.price,
		"OrderQty":  o.qty,
		"CumQty":    o.cumQty,
		"LeavesQty": o.qty - o.cumQty,
		"AvgPx":     avg,
	}
}

func (e *Exchange) withdraw(msg core.Message) core.Message {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.mu.Unlock()

	return core.Message{
		"MsgType":       "U7",
		"WithdrawReqID": msg["WithdrawReqID"],
		"WithdrawID":    id,
		"Method":        msg["Method"],
		"Currency":      msg["Currency"],
		"Amount":        msg["Amount"],
		"Data":          msg["Data"],
		"Status":        "1",
		"Created":       time.Now().UTC().Format(time.DateTime),
	}
}

func (e *Exchange) deposit(msg core.Message) core.Message {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.mu.Unlock()

	out := core.Message{
		"MsgType":      "U19",
		"DepositReqID": msg["DepositReqID"],
		"DepositID":    strconv.FormatInt(id, 16),
		"Currency":     msg["Currency"],
		"Status":       "0",
	}
	if msg.String("Currency") == "BTC" {
		out["Data"] = core.Message{"InputAddress": "mjjVMsEo9R6Jj6QnZ3KQmXyVBkdVNV5vDi"}
	} else {
		out["DepositMethodID"] = msg["DepositMethodID"]
		out["Value"] = msg["Value"]
	}
	return out
}

// Fill executes qty satoshis of an open order and pushes the execution report
// and a balance update to every connection of its owner.
func (e *Exchange) Fill(orderID, qty int64) bool {
	e.mu.Lock()
	o := e.orders[orderID]
	if o == nil || !o.open() {
		e.mu.Unlock()
		return false
	}
	o.cumQty = min(o.cumQty+qty, o.qty)
	execType := "1"
	o.status = "1"
	if o.cumQty == o.qty {
		execType = "2"
		o.status = "2"
	}
	report := o.report(execType)
	report["LastPx"] = o.price
	report["LastShares"] = qty
	userID := o.userID
	e.mu.Unlock()

	e.push(func(a *account) bool { return a.userID == userID }, report, e.balance(userID, nil))
	return true
}

// OpenOrders returns the ids of the open orders of a user.
func (e *Exchange) OpenOrders(userID int64) []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	var ids []int64
	for id, o := range e.orders {
		if o.userID == userID && o.open() {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func securityStatus(reqID any, m Market) core.Message {
	msg := core.Message{
		"MsgType":    "f",
		"Symbol":     m.Symbol,
		"Market":     "BLINK",
		"BestBid":    m.Bid,
		"BestAsk":    m.Ask,
		"LastPx":     m.Last,
		"HighPx":     m.High,
		"LowPx":      m.Low,
		"SellVolume": m.Volume,
		"BuyVolume":  m.QuoteVolume,
	}
	if reqID != nil {
		msg["SecurityStatusReqID"] = reqID
	}
	return msg
}

func fullRefresh(reqID any, m Market) core.Message {
	entries := make([]any, 0, len(m.Bids)+len(m.Asks))
	for i, lvl := range m.Bids {
		entries = append(entries, core.Message{
			"MDEntryType":       "0",
			"MDEntryPositionNo": int64(i + 1),
			"MDEntryPx":         lvl[0],
			"MDEntrySize":       lvl[1],
			"UserID":            int64(90000001),
		})
	}
	for i, lvl := range m.Asks {
		entries = append(entries, core.Message{
			"MDEntryType":       "1",
			"MDEntryPositionNo": int64(i + 1),
			"MDEntryPx":         lvl[0],
			"MDEntrySize":       lvl[1],
			"UserID":            int64(90000002),
		})
	}
	return core.Message{
		"MsgType":     "W",
		"MDReqID":     reqID,
		"Symbol":      m.Symbol,
		"MarketDepth": int64(0),
		"MDFullGrp":   entries,
	}
}

// PushTicker sends the current state of symbol to every ticker subscriber.
func (e *Exchange) PushTicker(symbol string) int {
	m, ok := e.market(symbol)
	if !ok {
		return 0
	}
	return e.pushSubscribers(tickerKind, symbol, func(reqID int64) core.Message {
		return securityStatus(reqID, m)
	})
}

// PushBookUpdate sends one incremental order book entry for symbol to every
// order book subscriber.
func (e *Exchange) PushBookUpdate(symbol string, action, entryType string, position, price, size int64) int {
	return e.pushSubscribers(bookKind, symbol, func(reqID int64) core.Message {
		return core.Message{
			"MsgType": "X",
			"MDReqID": reqID,
			"MDIncGrp": []any{core.Message{
				"Symbol":            symbol,
				"MDUpdateAction":    action,
				"MDEntryType":       entryType,
				"MDEntryPositionNo": position,
				"MDEntryPx":         price,
				"MDEntrySize":       size,
			}},
		}
	})
}
