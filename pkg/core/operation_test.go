package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOperation_String(t *testing.T) {
	tests := []struct {
		name string
		op   Operation
		want string
	}{
		{"login", OpLogin, "LOGIN"},
		{"heartbeat", OpHeartbeat, "HEARTBEAT"},
		{"balance", OpBalance, "BALANCE"},
		{"send_order", OpSendOrder, "SEND_ORDER"},
		{"cancel_order", OpCancelOrder, "CANCEL_ORDER"},
		{"list_withdraws", OpListWithdraws, "LIST_WITHDRAWS"},
		{"deposit_methods", OpRequestDepositMethods, "REQUEST_DEPOSIT_METHODS"},
		{"subscribe_orderbook", OpSubscribeOrderbook, "SUBSCRIBE_ORDERBOOK"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.op.String())
		})
	}
}

func TestEventNames(t *testing.T) {
	assert.Equal(t, "TICKER:BTCUSD", TickerEvent("BTCUSD"))
	assert.Equal(t, "ORDERBOOK:BTCBRL", OrderbookEvent("BTCBRL"))
	assert.Equal(t, EventExecutionCanceled, ExecCanceled.EventName())
	assert.Equal(t, EventExecutionPartial, ExecPartial.EventName())
	assert.Empty(t, ExecType("Z").EventName())
}
