package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSide_String(t *testing.T) {
	tests := []struct {
		name string
		side Side
		want string
	}{
		{"buy", SideBuy, "BUY"},
		{"sell", SideSell, "SELL"},
		{"unknown", Side("9"), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.side.String())
		})
	}
}

func TestWithdrawStatus(t *testing.T) {
	tests := []struct {
		status WithdrawStatus
		want   string
		wire   string
	}{
		{WithdrawPending, "PENDING", `"1"`},
		{WithdrawInProgress, "IN_PROGRESS", `"2"`},
		{WithdrawCompleted, "COMPLETED", `"4"`},
		{WithdrawCancelled, "CANCELLED", `"8"`},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
			assert.True(t, tt.status.Valid())

			data, err := tt.status.MarshalJSON()
			require.NoError(t, err)
			assert.Equal(t, tt.wire, string(data))
		})
	}

	assert.False(t, WithdrawStatus(3).Valid())
	assert.Equal(t, "UNKNOWN", WithdrawStatus(3).String())
}

func TestWithdrawStatus_UnmarshalJSON(t *testing.T) {
	var statuses []WithdrawStatus
	require.NoError(t, JSON.Unmarshal([]byte(`["1", 2, "8"]`), &statuses))
	assert.Equal(t, []WithdrawStatus{WithdrawPending, WithdrawInProgress, WithdrawCancelled}, statuses)

	var bad WithdrawStatus
	assert.Error(t, bad.UnmarshalJSON([]byte(`"x"`)))
}

func TestPaginate(t *testing.T) {
	p := Paginate(0, 20)
	require.NotNil(t, p.Page)
	require.NotNil(t, p.PageSize)
	assert.Equal(t, 0, *p.Page)
	assert.Equal(t, 20, *p.PageSize)

	var empty Pagination
	assert.Nil(t, empty.Page)
	assert.Nil(t, empty.PageSize)
}

func TestCancelByID(t *testing.T) {
	assert.Equal(t, OrderClient{OrderID: 42}, CancelByID(42))
}

func TestExecutionReportFromMessage(t *testing.T) {
	msg := Message{
		"MsgType":   "8",
		"OrderID":   int64(1459028830811),
		"ClOrdID":   "3251968",
		"ExecID":    int64(740),
		"ExecType":  "4",
		"OrdStatus": "4",
		"Symbol":    "BTCUSD",
		"Side":      "1",
		"Price":     int64(180000000000),
		"OrderQty":  int64(50000000),
		"CumQty":    int64(0),
		"LeavesQty": int64(0),
	}

	report := ExecutionReportFromMessage(msg)

	assert.Equal(t, int64(1459028830811), report.OrderID)
	assert.Equal(t, "3251968", report.ClOrdID)
	assert.Equal(t, ExecCanceled, report.ExecType)
	assert.Equal(t, SideBuy, report.Side)
	assert.Equal(t, Satoshi(1800*1e8), report.Price)
	assert.Equal(t, Satoshi(0.5*1e8), report.OrderQty)
	assert.Equal(t, EventExecutionCanceled, report.ExecType.EventName())
	assert.Equal(t, msg, report.Raw)
}
