// Package ingest turns bot log records into store events and feeds them
// to a Sink from HTTP bodies, tailed JSONL files or a mock generator.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"botwatch/internal/store"
)

// DefaultBotName is used when a record names no bot.
const DefaultBotName = "silverback"

// ErrInvalidEvent is returned for records that cannot become an event.
var ErrInvalidEvent = errors.New("invalid event")

// Sink receives parsed events.
type Sink interface {
	Accept(e store.Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e store.Event)

// Accept calls f(e).
func (f SinkFunc) Accept(e store.Event) { f(e) }

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparseable timestamp %q", ErrInvalidEvent, s)
}

// ParseEvent maps a decoded log record onto an Event.
//
// Recognised keys: timestamp|time (ISO-8601) or ts (unix seconds);
// bot_name|bot|name; latency_ms, or latency (seconds when below 1000,
// otherwise milliseconds); error|err|message; status; profit;
// tx_hash|hash|tx. Records without a timestamp are stamped with now.
func ParseEvent(obj map[string]any, now time.Time) (store.Event, error) {
	e := store.Event{Timestamp: now.UTC()}

	switch {
	case isString(obj["timestamp"]):
		t, err := parseTimestamp(obj["timestamp"].(string))
		if err != nil {
			return store.Event{}, err
		}
		e.Timestamp = t
	case isString(obj["time"]):
		t, err := parseTimestamp(obj["time"].(string))
		if err != nil {
			return store.Event{}, err
		}
		e.Timestamp = t
	default:
		if ts, ok := number(obj["ts"]); ok {
			sec := int64(ts)
			nsec := int64((ts - float64(sec)) * 1e9)
			e.Timestamp = time.Unix(sec, nsec).UTC()
		}
	}

	e.BotName = DefaultBotName
	if v := firstTruthy(obj, "bot_name", "bot", "name"); v != nil {
		e.BotName = stringify(v)
	}

	if v, ok := number(obj["latency_ms"]); ok {
		e.LatencyMs = int(v)
	} else if v, ok := number(obj["latency"]); ok {
		if v < 1000 {
			v *= 1000
		}
		e.LatencyMs = int(v)
	}
	if e.LatencyMs < 0 {
		return store.Event{}, fmt.Errorf("%w: negative latency %d", ErrInvalidEvent, e.LatencyMs)
	}

	if v := firstTruthy(obj, "error", "err", "message"); v != nil {
		e.Error = stringify(v)
	}

	if v := firstTruthy(obj, "status"); v != nil {
		e.Status = stringify(v)
	} else if e.Error == "" {
		e.Status = store.StatusOK
	} else {
		e.Status = store.StatusCritical
	}

	if v, ok := number(obj["profit"]); ok {
		e.Profit = &v
	}

	if v := firstTruthy(obj, "tx_hash", "hash", "tx"); v != nil {
		e.TxHash = ShortenTxHash(stringify(v))
	}

	return e, nil
}

// ShortenTxHash renders a hash as 0x12345678...abcdef. Values shorter than
// 12 characters are returned unchanged.
func ShortenTxHash(tx string) string {
	if len(tx) < 12 {
		return tx
	}
	if !strings.HasPrefix(tx, "0x") {
		tx = "0x" + tx
	}
	return tx[:10] + "..." + tx[len(tx)-6:]
}

// ParseBody decodes a request body holding either a JSON array of records
// or newline-delimited JSON records. Undecodable JSONL lines are skipped.
// A JSON value that is not an array yields no records.
func ParseBody(body []byte) ([]any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var whole any
	if err := json.Unmarshal(trimmed, &whole); err == nil {
		if arr, ok := whole.([]any); ok {
			return arr, nil
		}
		// A single object parses as JSON but is not a batch.
		return nil, nil
	}

	var records []any
	for _, line := range bytes.Split(trimmed, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var rec any
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// ParseRecords converts decoded records into events, skipping anything that
// is not an object or fails ParseEvent.
func ParseRecords(records []any, now time.Time) []store.Event {
	events := make([]store.Event, 0, len(records))
	for _, r := range records {
		obj, ok := r.(map[string]any)
		if !ok {
			continue
		}
		e, err := ParseEvent(obj, now)
		if err != nil {
			continue
		}
		events = append(events, e)
	}
	return events
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// firstTruthy returns the first value under keys that is present and not
// empty, zero or false.
func firstTruthy(obj map[string]any, keys ...string) any {
	for _, k := range keys {
		v, ok := obj[k]
		if !ok || v == nil {
			continue
		}
		switch x := v.(type) {
		case string:
			if x == "" {
				continue
			}
		case bool:
			if !x {
				continue
			}
		case float64:
			if x == 0 {
				continue
			}
		}
		return v
	}
	return nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	}
	return fmt.Sprint(v)
}
