package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRequest(t *testing.T) {
	req := NewRequest("GET", "/api/v1/USD/ticker")

	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/api/v1/USD/ticker", req.Path)
	assert.NotNil(t, req.Query)
	assert.NotNil(t, req.Headers)
	assert.False(t, req.RequireAuth)
}

func TestRequest_Chaining(t *testing.T) {
	req := NewRequest("POST", "/tapi/v1/message").
		SetQuery("crypto_currency", "BTC").
		SetHeader("Nonce", "1").
		SetBody(Message{"MsgType": "U2"}).
		SetRequireAuth(true).
		SetQueryParams(Params{"limit": 10})

	assert.Equal(t, "BTC", req.Query["crypto_currency"])
	assert.Equal(t, 10, req.Query["limit"])
	assert.Equal(t, "1", req.Headers["Nonce"])
	assert.Equal(t, Message{"MsgType": "U2"}, req.Body)
	assert.True(t, req.RequireAuth)
}

func TestRequest_NilMaps(t *testing.T) {
	req := &Request{}
	req.SetQuery("a", 1).SetHeader("b", "2")

	assert.Equal(t, 1, req.Query["a"])
	assert.Equal(t, "2", req.Headers["b"])
}
