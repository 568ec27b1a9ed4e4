package blinktrade

import (
	"cmp"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"blinktrade/pkg/core"
)

const (
	ProductionURL   = "https://api.blinktrade.com"
	SandboxURL      = "https://api.testnet.blinktrade.com"
	ProductionWSURL = "wss://ws.blinktrade.com/trade/"
	SandboxWSURL    = "wss://api.testnet.blinktrade.com/trade/"

	// TradePath receives every signed REST message.
	TradePath = "/tapi/v1/message"

	defaultCurrency       = "USD"
	defaultCrypto         = "BTC"
	defaultWithdrawMethod = "bitcoin"
)

// Wire message types.
const (
	msgTypeLogin            = "BE"
	msgTypeLoginResponse    = "BF"
	msgTypeHeartbeat        = "1"
	msgTypeHeartbeatReply   = "0"
	msgTypeNewOrder         = "D"
	msgTypeCancelOrder      = "F"
	msgTypeExecutionReport  = "8"
	msgTypeCancelReject     = "9"
	msgTypeSecurityStatusRq = "e"
	msgTypeSecurityStatus   = "f"
	msgTypeMarketDataRq     = "V"
	msgTypeFullRefresh      = "W"
	msgTypeIncremental      = "X"
	msgTypeError            = "ERROR"

	subscribe   = "1"
	unsubscribe = "2"

	userStatusOK = 1
)

// operationDef describes the wire form of one request/response pair.
type operationDef struct {
	Request  string
	Response string
	// IDField names the correlation id, present in both request and response.
	IDField string
}

var operations = map[core.Operation]operationDef{
	core.OpLogin:                 {Request: msgTypeLogin, Response: msgTypeLoginResponse, IDField: "UserReqID"},
	core.OpLogout:                {Request: msgTypeLogin, Response: msgTypeLoginResponse, IDField: "UserReqID"},
	core.OpHeartbeat:             {Request: msgTypeHeartbeat, Response: msgTypeHeartbeatReply, IDField: "TestReqID"},
	core.OpBalance:               {Request: "U2", Response: "U3", IDField: "BalanceReqID"},
	core.OpMyOrders:              {Request: "U4", Response: "U5", IDField: "OrdersReqID"},
	core.OpSendOrder:             {Request: msgTypeNewOrder, Response: msgTypeExecutionReport, IDField: "ClOrdID"},
	core.OpCancelOrder:           {Request: msgTypeCancelOrder, Response: msgTypeExecutionReport, IDField: "ClOrdID"},
	core.OpListWithdraws:         {Request: "U26", Response: "U27", IDField: "WithdrawListReqID"},
	core.OpRequestWithdraw:       {Request: "U6", Response: "U7", IDField: "WithdrawReqID"},
	core.OpRequestDeposit:        {Request: "U18", Response: "U19", IDField: "DepositReqID"},
	core.OpRequestDepositMethods: {Request: "U20", Response: "U21", IDField: "DepositMethodReqID"},
	core.OpTradeHistory:          {Request: "U32", Response: "U33", IDField: "TradeHistoryReqID"},
	core.OpSubscribeTicker:       {Request: msgTypeSecurityStatusRq, Response: msgTypeSecurityStatus, IDField: "SecurityStatusReqID"},
	core.OpSubscribeOrderbook:    {Request: msgTypeMarketDataRq, Response: msgTypeFullRefresh, IDField: "MDReqID"},
}

// responseIDFields maps a response MsgType to the field holding its request id.
var responseIDFields = func() map[string]string {
	m := make(map[string]string, len(operations))
	for _, def := range operations {
		if def.Response == msgTypeExecutionReport {
			continue
		}
		m[def.Response] = def.IDField
	}
	return m
}()

// errorIDFields lists the fields an ERROR message may use to reference the
// failed request.
var errorIDFields = func() []string {
	fields := []string{"ReqID"}
	seen := map[string]bool{"ReqID": true}
	for op := core.OpLogin; op <= core.OpSubscribeOrderbook; op++ {
		f := operations[op].IDField
		if !seen[f] {
			seen[f] = true
			fields = append(fields, f)
		}
	}
	return fields
}()

// RESTURL returns the REST base URL selected by cfg.
func RESTURL(cfg *core.Config) string {
	if cfg.URL != "" {
		return strings.TrimRight(cfg.URL, "/")
	}
	if cfg.Prod {
		return ProductionURL
	}
	return SandboxURL
}

// WSURL returns the websocket URL selected by cfg. A custom http(s) URL is
// mapped to ws(s); ws(s) URLs are used as given.
func WSURL(cfg *core.Config) (string, error) {
	if cfg.URL == "" {
		if cfg.Prod {
			return ProductionWSURL, nil
		}
		return SandboxWSURL, nil
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	return u.String(), nil
}

func publicPath(currency, resource string) string {
	if currency == "" {
		currency = defaultCurrency
	}
	return fmt.Sprintf("/api/v1/%s/%s", currency, resource)
}

func newMessage(op core.Operation, id int64) core.Message {
	def := operations[op]
	return core.Message{
		"MsgType":   def.Request,
		def.IDField: id,
	}
}

func setPagination(msg core.Message, page core.Pagination) {
	if page.Page != nil {
		msg["Page"] = *page.Page
	}
	if page.PageSize != nil {
		msg["PageSize"] = *page.PageSize
	}
}

func loginMessage(id int64, brokerID int, login core.Login) core.Message {
	msg := newMessage(core.OpLogin, id)
	msg["BrokerID"] = brokerID
	msg["Username"] = login.Username
	msg["Password"] = login.Password
	msg["UserReqTyp"] = "1"
	if login.SecondFactor != "" {
		msg["SecondFactor"] = login.SecondFactor
	}
	return msg
}

func logoutMessage(id int64, brokerID int, username string) core.Message {
	msg := newMessage(core.OpLogout, id)
	msg["BrokerID"] = brokerID
	msg["Username"] = username
	msg["UserReqTyp"] = "2"
	return msg
}

func heartbeatMessage(id int64, sent time.Time) core.Message {
	msg := newMessage(core.OpHeartbeat, id)
	msg["SendTime"] = sent.UnixMilli()
	return msg
}

func balanceMessage(id int64) core.Message {
	return newMessage(core.OpBalance, id)
}

func myOrdersMessage(id int64, page core.Pagination) core.Message {
	msg := newMessage(core.OpMyOrders, id)
	setPagination(msg, page)
	return msg
}

// sendOrderMessage builds a limit order. ClOrdID travels as a string.
func sendOrderMessage(clOrdID int64, brokerID int, order core.Order) core.Message {
	return core.Message{
		"MsgType":  msgTypeNewOrder,
		"ClOrdID":  strconv.FormatInt(clOrdID, 10),
		"Symbol":   order.Symbol,
		"Side":     string(order.Side),
		"OrdType":  "2",
		"Price":    int64(order.Price),
		"OrderQty": int64(order.Amount),
		"BrokerID": brokerID,
	}
}

func cancelOrderMessage(order core.OrderClient) core.Message {
	msg := core.Message{
		"MsgType": msgTypeCancelOrder,
		"OrderID": order.OrderID,
	}
	if order.ClientID != 0 {
		msg["ClOrdID"] = strconv.FormatInt(order.ClientID, 10)
	}
	return msg
}

func listWithdrawsMessage(id int64, query core.ListWithdraws) core.Message {
	msg := newMessage(core.OpListWithdraws, id)
	setPagination(msg, query.Pagination)
	statuses := make([]string, len(query.StatusList))
	for i, s := range query.StatusList {
		statuses[i] = strconv.Itoa(int(s))
	}
	msg["StatusList"] = statuses
	return msg
}

func requestWithdrawMessage(id int64, w core.Withdraw) core.Message {
	msg := newMessage(core.OpRequestWithdraw, id)
	msg["Method"] = cmp.Or(w.Method, defaultWithdrawMethod)
	msg["Currency"] = cmp.Or(w.Currency, defaultCrypto)
	msg["Amount"] = int64(w.Amount)
	data := w.Data
	if data == nil {
		data = map[string]any{}
	}
	msg["Data"] = data
	return msg
}

// requestDepositMessage asks for a crypto address by default; fiat deposits
// also carry the method and value.
func requestDepositMessage(id int64, brokerID int, d core.Deposit) core.Message {
	msg := newMessage(core.OpRequestDeposit, id)
	currency := cmp.Or(d.Currency, defaultCrypto)
	msg["Currency"] = currency
	msg["BrokerID"] = brokerID
	if currency != defaultCrypto {
		msg["DepositMethodID"] = d.DepositMethodID
		msg["Value"] = int64(d.Value)
	}
	return msg
}

func depositMethodsMessage(id int64) core.Message {
	return newMessage(core.OpRequestDepositMethods, id)
}

func tradeHistoryMessage(id int64, page core.Pagination) core.Message {
	msg := newMessage(core.OpTradeHistory, id)
	setPagination(msg, page)
	return msg
}

func tickerMessage(id int64, symbols []string, requestType string) core.Message {
	msg := newMessage(core.OpSubscribeTicker, id)
	msg["SubscriptionRequestType"] = requestType
	msg["Instruments"] = symbols
	return msg
}

func orderbookMessage(id int64, symbols []string, requestType string) core.Message {
	msg := newMessage(core.OpSubscribeOrderbook, id)
	msg["SubscriptionRequestType"] = requestType
	msg["MarketDepth"] = 0
	msg["MDUpdateType"] = "1"
	msg["MDEntryTypes"] = []string{string(core.EntryBid), string(core.EntryOffer), string(core.EntryTrade)}
	msg["Instruments"] = symbols
	return msg
}

// exchangeErrorFromMessage builds an error from an ERROR message or a failed
// login response, keeping the payload.
func exchangeErrorFromMessage(msg core.Message, errType core.ErrorType) *core.ExchangeError {
	text := msg.String("Description")
	if detail := msg.String("Detail"); detail != "" {
		text = strings.TrimSpace(text + ": " + detail)
	}
	if text == "" {
		text = msg.String("UserStatusText")
	}
	if text == "" {
		text = "request failed"
	}
	return core.NewExchangeError(errType, 0, text).WithRaw(msg)
}

func cancelRejectError(msg core.Message) *core.ExchangeError {
	reason := "cancel rejected"
	if r := msg.String("CxlRejReason"); r != "" {
		reason += ": " + r
	}
	return core.NewExchangeError(core.ErrorTypeRejected, 0, reason).
		WithCode(core.ErrCodeOrderRejected).
		WithRaw(msg)
}
