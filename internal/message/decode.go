package message

import (
	"encoding/json"
	"errors"
	"math"
	"time"
)

// DefaultSender is substituted for a stored record without a sender.
const DefaultSender = "Unknown"

var errNotObject = errors.New("record is not a JSON object")

// decodeWithDefaults parses one stored record. Missing or empty fields
// are filled in: sender becomes DefaultSender, message becomes "", and
// timestamp becomes now. A record without a usable timestamp therefore
// gets a fresh timestamp on every read and is redelivered to pollers
// whose cursor is older than the read.
func decodeWithDefaults(raw string, now time.Time) (*Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errNotObject
	}

	m := &Message{
		Sender:    DefaultSender,
		Timestamp: now.UnixMilli(),
	}
	if s, ok := stringField(fields["sender"]); ok && s != "" {
		m.Sender = s
	}
	if s, ok := stringField(fields["message"]); ok {
		m.Message = s
	}
	if ts, ok := timestampField(fields["timestamp"]); ok && ts != 0 {
		m.Timestamp = ts
	}
	return m, nil
}

func stringField(raw json.RawMessage) (string, bool) {
	if raw == nil {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func timestampField(raw json.RawMessage) (int64, bool) {
	if raw == nil {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	if i, err := n.Int64(); err == nil {
		return i, true
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// Decode parses a record published on a room channel, applying the same
// defaults as reads from the log.
func Decode(raw string) (*Message, error) {
	return decodeWithDefaults(raw, time.Now())
}
