package blinktrade

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blinktrade/pkg/core"
)

func TestRESTURL(t *testing.T) {
	tests := []struct {
		name   string
		config *core.Config
		want   string
	}{
		{"sandbox", core.DefaultConfig(), SandboxURL},
		{"production", core.DefaultConfig().WithProd(true), ProductionURL},
		{"custom", core.DefaultConfig().WithURL("http://localhost:8080/"), "http://localhost:8080"},
		{"custom wins over prod", core.DefaultConfig().WithProd(true).WithURL("https://broker.example"), "https://broker.example"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RESTURL(tt.config))
		})
	}
}

func TestWSURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		prod    bool
		want    string
		wantErr bool
	}{
		{name: "sandbox", want: SandboxWSURL},
		{name: "production", prod: true, want: ProductionWSURL},
		{name: "http maps to ws", url: "http://127.0.0.1:9000/trade/", want: "ws://127.0.0.1:9000/trade/"},
		{name: "https maps to wss", url: "https://broker.example/trade/", want: "wss://broker.example/trade/"},
		{name: "ws kept", url: "ws://localhost/trade/", want: "ws://localhost/trade/"},
		{name: "unsupported scheme", url: "ftp://localhost", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &core.Config{URL: tt.url, Prod: tt.prod}
			got, err := WSURL(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOperations_CoverEveryOperation(t *testing.T) {
	for op := core.OpLogin; op <= core.OpSubscribeOrderbook; op++ {
		def, ok := operations[op]
		require.True(t, ok, op.String())
		assert.NotEmpty(t, def.Request, op.String())
		assert.NotEmpty(t, def.Response, op.String())
		assert.NotEmpty(t, def.IDField, op.String())
	}
}

func TestResponseIDFields(t *testing.T) {
	assert.Equal(t, "BalanceReqID", responseIDFields["U3"])
	assert.Equal(t, "UserReqID", responseIDFields["BF"])
	assert.Equal(t, "TestReqID", responseIDFields["0"])
	assert.Equal(t, "TradeHistoryReqID", responseIDFields["U33"])

	_, ok := responseIDFields[msgTypeExecutionReport]
	assert.False(t, ok, "execution reports are routed by ClOrdID")
}

func TestErrorIDFields(t *testing.T) {
	assert.Equal(t, "ReqID", errorIDFields[0])
	assert.Contains(t, errorIDFields, "ClOrdID")
	assert.Contains(t, errorIDFields, "MDReqID")

	seen := map[string]bool{}
	for _, f := range errorIDFields {
		assert.False(t, seen[f], "duplicate field %s", f)
		seen[f] = true
	}
}

func TestPublicPath(t *testing.T) {
	assert.Equal(t, "/api/v1/BRL/ticker", publicPath("BRL", "ticker"))
	assert.Equal(t, "/api/v1/USD/trades", publicPath("", "trades"))
}

func TestLoginMessage(t *testing.T) {
	msg := loginMessage(7, 5, core.Login{Username: "alice", Password: "pw"})

	assert.Equal(t, "BE", msg.MsgType())
	assert.Equal(t, int64(7), msg["UserReqID"])
	assert.Equal(t, 5, msg["BrokerID"])
	assert.Equal(t, "1", msg["UserReqTyp"])
	assert.NotContains(t, msg, "SecondFactor")

	msg = loginMessage(8, 5, core.Login{Username: "alice", Password: "pw", SecondFactor: "123456"})
	assert.Equal(t, "123456", msg["SecondFactor"])
}

func TestLogoutMessage(t *testing.T) {
	msg := logoutMessage(9, 5, "alice")
	assert.Equal(t, "BE", msg.MsgType())
	assert.Equal(t, "2", msg["UserReqTyp"])
	assert.Equal(t, "alice", msg["Username"])
}

func TestHeartbeatMessage(t *testing.T) {
	sent := time.UnixMilli(1_700_000_000_123)
	msg := heartbeatMessage(3, sent)

	assert.Equal(t, "1", msg.MsgType())
	assert.Equal(t, int64(3), msg["TestReqID"])
	assert.Equal(t, int64(1_700_000_000_123), msg["SendTime"])
}

func TestPagination(t *testing.T) {
	tests := []struct {
		name string
		page core.Pagination
		want core.Message
	}{
		{"omitted", core.Pagination{}, core.Message{}},
		{"both", core.Paginate(2, 50), core.Message{"Page": 2, "PageSize": 50}},
		{"zero page kept", core.Paginate(0, 0), core.Message{"Page": 0, "PageSize": 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := myOrdersMessage(1, tt.page)
			for k, v := range tt.want {
				assert.Equal(t, v, msg[k])
			}
			if len(tt.want) == 0 {
				assert.NotContains(t, msg, "Page")
				assert.NotContains(t, msg, "PageSize")
			}
		})
	}
}

func TestSendOrderMessage(t *testing.T) {
	msg := sendOrderMessage(123, 5, core.Order{
		Side:   core.SideBuy,
		Price:  core.Satoshi(1800 * 1e8),
		Amount: core.Satoshi(0.5 * 1e8),
		Symbol: "BTCUSD",
	})

	assert.Equal(t, "D", msg.MsgType())
	assert.Equal(t, "123", msg["ClOrdID"])
	assert.Equal(t, "1", msg["Side"])
	assert.Equal(t, "2", msg["OrdType"])
	assert.Equal(t, int64(180000000000), msg["Price"])
	assert.Equal(t, int64(50000000), msg["OrderQty"])
	assert.Equal(t, 5, msg["BrokerID"])
}

func TestCancelOrderMessage(t *testing.T) {
	msg := cancelOrderMessage(core.CancelByID(1459028830811))
	assert.Equal(t, "F", msg.MsgType())
	assert.Equal(t, int64(1459028830811), msg["OrderID"])
	assert.NotContains(t, msg, "ClOrdID")

	msg = cancelOrderMessage(core.OrderClient{OrderID: 1, ClientID: 77})
	assert.Equal(t, "77", msg["ClOrdID"])
}

func TestListWithdrawsMessage(t *testing.T) {
	msg := listWithdrawsMessage(4, core.ListWithdraws{
		StatusList: []core.WithdrawStatus{core.WithdrawPending, core.WithdrawCompleted},
	})

	assert.Equal(t, "U26", msg.MsgType())
	assert.Equal(t, int64(4), msg["WithdrawListReqID"])
	assert.Equal(t, []string{"1", "4"}, msg["StatusList"])
}

func TestRequestWithdrawMessage_Defaults(t *testing.T) {
	msg := requestWithdrawMessage(1, core.Withdraw{Amount: core.Satoshi(1e6)})

	assert.Equal(t, "U6", msg.MsgType())
	assert.Equal(t, "bitcoin", msg["Method"])
	assert.Equal(t, "BTC", msg["Currency"])
	assert.Equal(t, int64(1e6), msg["Amount"])
	assert.Equal(t, map[string]any{}, msg["Data"])
}

func TestRequestDepositMessage(t *testing.T) {
	crypto := requestDepositMessage(1, 5, core.Deposit{})
	assert.Equal(t, "U18", crypto.MsgType())
	assert.Equal(t, "BTC", crypto["Currency"])
	assert.NotContains(t, crypto, "DepositMethodID")
	assert.NotContains(t, crypto, "Value")

	fiat := requestDepositMessage(2, 5, core.Deposit{Currency: "USD", DepositMethodID: 501, Value: core.Satoshi(100 * 1e8)})
	assert.Equal(t, int64(501), fiat["DepositMethodID"])
	assert.Equal(t, int64(100*1e8), fiat["Value"])
}

func TestSubscriptionMessages(t *testing.T) {
	ticker := tickerMessage(10, []string{"BTCUSD"}, subscribe)
	assert.Equal(t, "e", ticker.MsgType())
	assert.Equal(t, int64(10), ticker["SecurityStatusReqID"])
	assert.Equal(t, "1", ticker["SubscriptionRequestType"])
	assert.Equal(t, []string{"BTCUSD"}, ticker["Instruments"])

	book := orderbookMessage(11, []string{"BTCUSD"}, unsubscribe)
	assert.Equal(t, "V", book.MsgType())
	assert.Equal(t, int64(11), book["MDReqID"])
	assert.Equal(t, "2", book["SubscriptionRequestType"])
	assert.Equal(t, 0, book["MarketDepth"])
	assert.Equal(t, []string{"0", "1", "2"}, book["MDEntryTypes"])
}

func TestExchangeErrorFromMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  core.Message
		want string
	}{
		{"description and detail", core.Message{"Description": "Invalid message", "Detail": "missing Price"}, "Invalid message: missing Price"},
		{"user status text", core.Message{"UserStatusText": "Invalid username or password"}, "Invalid username or password"},
		{"fallback", core.Message{}, "request failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := exchangeErrorFromMessage(tt.msg, core.ErrorTypeBadRequest)
			assert.Equal(t, tt.want, err.Message)
			assert.Equal(t, core.ErrorTypeBadRequest, err.Type)
			assert.Equal(t, tt.msg, err.Raw)
		})
	}
}
