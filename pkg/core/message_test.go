package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"MsgType":"U3","BalanceReqID":7,"5":{"BTC":150000000},"Ok":true,"Responses":[{"MsgType":"8"},1]}`))
	require.NoError(t, err)

	assert.Equal(t, "U3", msg.MsgType())

	id, ok := msg.Int64("BalanceReqID")
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)

	broker, ok := msg.Message("5")
	require.True(t, ok)
	assert.Equal(t, Satoshi(150000000), broker.Satoshi("BTC"))

	assert.True(t, msg.Bool("Ok"))
	assert.Len(t, msg.Messages("Responses"), 1)
}

func TestDecodeMessage_Invalid(t *testing.T) {
	_, err := DecodeMessage([]byte(`{"MsgType":`))
	assert.Error(t, err)
}

func TestMessage_Getters(t *testing.T) {
	msg := Message{
		"str":    "abc",
		"int":    int64(12),
		"float":  float64(3),
		"number": json.Number("99"),
		"numstr": "15",
		"bool":   "true",
	}

	assert.Equal(t, "abc", msg.String("str"))
	assert.Equal(t, "12", msg.String("int"))
	assert.Equal(t, "3", msg.String("float"))
	assert.Equal(t, "", msg.String("missing"))

	for key, want := range map[string]int64{"int": 12, "float": 3, "number": 99, "numstr": 15} {
		got, ok := msg.Int64(key)
		assert.True(t, ok, key)
		assert.Equal(t, want, got, key)
	}

	_, ok := msg.Int64("str")
	assert.False(t, ok)
	assert.True(t, msg.Bool("bool"))
	assert.False(t, msg.Bool("missing"))
}
