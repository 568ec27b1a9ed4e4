package core

import (
	"encoding/json"
	"strconv"

	"github.com/bytedance/sonic"
)

// JSON is the codec used for every BlinkTrade message. Integral numbers decode
// into int64 so that request ids and satoshi values survive a round trip.
var JSON = sonic.Config{
	UseInt64:         true,
	NoNullSliceOrMap: true,
}.Froze()

// Message is a free-form BlinkTrade JSON object, used for request bodies and
// for responses whose shape depends on the broker.
type Message map[string]any

// DecodeMessage parses a single JSON object.
func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := JSON.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// MsgType returns the message type discriminator.
func (m Message) MsgType() string {
	return m.String("MsgType")
}

// String returns the value at key rendered as a string, or "" when absent.
func (m Message) String(key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// Int64 returns the value at key as an integer. Numeric strings are accepted.
func (m Message) Int64(key string) (int64, bool) {
	return toInt64(m[key])
}

// Satoshi returns the value at key as a satoshi amount, or zero when absent.
func (m Message) Satoshi(key string) Satoshi {
	v, _ := m.Int64(key)
	return Satoshi(v)
}

// Bool returns the value at key as a boolean.
func (m Message) Bool(key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	case int64:
		return v != 0
	}
	return false
}

// Message returns the nested object at key.
func (m Message) Message(key string) (Message, bool) {
	switch v := m[key].(type) {
	case Message:
		return v, true
	case map[string]any:
		return Message(v), true
	}
	return nil, false
}

// Messages returns the array of objects at key, skipping non-object elements.
func (m Message) Messages(key string) []Message {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]Message, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case Message:
			out = append(out, v)
		case map[string]any:
			out = append(out, Message(v))
		}
	}
	return out
}

func toInt64(val any) (int64, bool) {
	switch v := val.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return i, true
	case string:
		i, err := strconv.ParseInt(v, 10, 64)
		return i, err == nil
	}
	return 0, false
}
