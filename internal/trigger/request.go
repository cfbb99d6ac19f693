// Package trigger turns an inbound trigger body into a validated run request and
// executes it channel by channel.
package trigger

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/tinywideclouds/go-notification-worker/pkg/notification"
)

const (
	MinLimit     = 1
	MaxLimit     = 500
	DefaultLimit = 50
)

// ErrNoValidChannels is returned when an explicit channel list names no known channel.
var ErrNoValidChannels = errors.New("No valid channels provided")

// Request is a validated trigger.
type Request struct {
	Channels []notification.Channel
	Limit    int
	DryRun   bool
}

// DefaultRequest runs every channel with the given limit, for real.
func DefaultRequest(defaultLimit int) Request {
	return Request{
		Channels: append([]notification.Channel(nil), notification.AllChannels...),
		Limit:    ClampLimit(float64(defaultLimit)),
	}
}

// ParseRequest reads the optional fields channels, limit and dry_run with the lenient
// coercions trigger callers rely on. A body that is empty, unparsable or not a JSON
// object is treated as {}.
func ParseRequest(body []byte, defaultLimit int) (Request, error) {
	fields := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &fields); err != nil {
			fields = map[string]json.RawMessage{}
		}
	}

	channels, err := parseChannels(fields["channels"])
	if err != nil {
		return Request{}, err
	}

	limit := float64(defaultLimit)
	if raw, ok := fields["limit"]; ok && !isNull(raw) {
		limit = toNumber(raw)
	}

	return Request{
		Channels: channels,
		Limit:    ClampLimit(limit),
		DryRun:   truthy(fields["dry_run"]),
	}, nil
}

// ClampLimit bounds v to [MinLimit, MaxLimit]. Non-finite input maps to MinLimit and
// fractions are truncated.
func ClampLimit(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return MinLimit
	}
	v = math.Max(MinLimit, math.Min(MaxLimit, v))
	return int(v)
}

// parseChannels keeps recognised names in the given order, duplicates included.
// Anything other than an array selects every channel.
func parseChannels(raw json.RawMessage) ([]notification.Channel, error) {
	var items []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil || items == nil {
		return append([]notification.Channel(nil), notification.AllChannels...), nil
	}

	channels := make([]notification.Channel, 0, len(items))
	for _, item := range items {
		var name string
		if json.Unmarshal(item, &name) != nil {
			continue
		}
		if ch, ok := notification.ParseChannel(name); ok {
			channels = append(channels, ch)
		}
	}
	if len(channels) == 0 {
		return nil, ErrNoValidChannels
	}
	return channels, nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// toNumber converts a JSON value the way a loosely typed caller expects: booleans count
// as 0/1, strings are parsed, single-element arrays unwrap and everything else is NaN.
func toNumber(raw json.RawMessage) float64 {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return math.NaN()
	}

	switch trimmed[0] {
	case 'n':
		return 0
	case 't':
		return 1
	case 'f':
		return 0
	case '"':
		var s string
		if json.Unmarshal(trimmed, &s) != nil {
			return math.NaN()
		}
		return stringToNumber(s)
	case '[':
		var items []json.RawMessage
		if json.Unmarshal(trimmed, &items) != nil {
			return math.NaN()
		}
		switch len(items) {
		case 0:
			return 0
		case 1:
			return unwrapElement(items[0])
		default:
			return math.NaN()
		}
	case '{':
		return math.NaN()
	default:
		f, err := strconv.ParseFloat(string(trimmed), 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return math.NaN()
		}
		return f
	}
}

// unwrapElement applies string conversion to the sole element of an array first.
func unwrapElement(raw json.RawMessage) float64 {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return math.NaN()
	}
	switch trimmed[0] {
	case 'n':
		return 0
	case 't', 'f', '{':
		return math.NaN()
	default:
		return toNumber(trimmed)
	}
}

var decimalLiteral = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

func stringToNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	switch s {
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}

	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			n, err := strconv.ParseUint(s[2:], base, 64)
			if err != nil {
				return math.NaN()
			}
			return float64(n)
		}
	}

	if !decimalLiteral.MatchString(s) {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return math.NaN()
	}
	return f
}

// truthy reports JSON truthiness: false, 0, "" and null are false, as is an absent field.
func truthy(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}

	switch trimmed[0] {
	case 'n', 'f':
		return false
	case 't', '[', '{':
		return true
	case '"':
		var s string
		return json.Unmarshal(trimmed, &s) == nil && s != ""
	default:
		f, err := strconv.ParseFloat(string(trimmed), 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return false
		}
		return f != 0 && !math.IsNaN(f)
	}
}
