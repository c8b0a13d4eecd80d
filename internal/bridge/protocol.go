package bridge

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/SpartanDigitalDotNet/Livermore-sub007/internal/domain/candle"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/errors"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/timeframe"
)

// External channel classes.
const (
	classCandles = "candles"
	classSignals = "signals"
)

const (
	minChannelsPerFrame = 1
	maxChannelsPerFrame = 20
)

// Channel is a parsed external channel name: `candles:<SYMBOL>:<TF>` or
// `signals:<SYMBOL>:<TF>`. The external grammar deliberately omits the
// owner/exchange scope; the bridge serves exactly one scope.
type Channel struct {
	Class     string
	Symbol    string
	Timeframe string
}

func (c Channel) String() string {
	return c.Class + ":" + c.Symbol + ":" + c.Timeframe
}

// ParseChannel validates an external channel name against the grammar.
func ParseChannel(raw string) (Channel, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return Channel{}, errors.NewErrorDetails(
			fmt.Sprintf("channel %q does not match <class>:<symbol>:<timeframe>", raw),
			string(errors.BridgeProtocolError),
			"channel",
		)
	}

	ch := Channel{Class: parts[0], Symbol: parts[1], Timeframe: parts[2]}
	if ch.Class != classCandles && ch.Class != classSignals {
		return Channel{}, errors.NewErrorDetails(
			fmt.Sprintf("unknown channel class %q", ch.Class),
			string(errors.BridgeProtocolError),
			"channel",
		)
	}
	if ch.Symbol == "" || ch.Symbol != strings.ToUpper(ch.Symbol) {
		return Channel{}, errors.NewErrorDetails(
			fmt.Sprintf("channel symbol %q must be upper-case and non-empty", ch.Symbol),
			string(errors.BridgeProtocolError),
			"channel",
		)
	}
	if !timeframe.IsValid(ch.Timeframe) {
		return Channel{}, errors.NewErrorDetails(
			fmt.Sprintf("unknown timeframe %q", ch.Timeframe),
			string(errors.BridgeProtocolError),
			"channel",
		)
	}
	return ch, nil
}

// clientFrame is the inbound subscribe/unsubscribe message.
type clientFrame struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// parseClientFrame validates a frame as a unit: one bad channel rejects the
// whole frame and none of its channels take effect.
func parseClientFrame(raw []byte) (string, []Channel, error) {
	var frame clientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return "", nil, errors.NewErrorDetails("frame is not valid JSON", string(errors.BridgeProtocolError), "frame")
	}

	if frame.Action != "subscribe" && frame.Action != "unsubscribe" {
		return "", nil, errors.NewErrorDetails(
			fmt.Sprintf("unknown action %q", frame.Action),
			string(errors.BridgeProtocolError),
			"action",
		)
	}
	if len(frame.Channels) < minChannelsPerFrame || len(frame.Channels) > maxChannelsPerFrame {
		return "", nil, errors.NewErrorDetails(
			fmt.Sprintf("frame must carry between %d and %d channels, got %d",
				minChannelsPerFrame, maxChannelsPerFrame, len(frame.Channels)),
			string(errors.BridgeProtocolError),
			"channels",
		)
	}

	channels := make([]Channel, 0, len(frame.Channels))
	for _, raw := range frame.Channels {
		ch, err := ParseChannel(raw)
		if err != nil {
			return "", nil, err
		}
		channels = append(channels, ch)
	}
	return frame.Action, channels, nil
}

// envelope is the outbound wire frame.
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// publicCandle is the external candle record: ISO-8601 timestamp, decimals
// as strings. Internal fields never leave the process.
type publicCandle struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Timestamp string `json:"timestamp"`
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Close     string `json:"close"`
	Volume    string `json:"volume"`
}

func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// transformCandle builds the external channel name and serializes the wire
// frame once; the same bytes fan out to every matching connection.
func transformCandle(c candle.Candle) (string, []byte, error) {
	ch := Channel{Class: classCandles, Symbol: c.Symbol, Timeframe: c.Timeframe}
	payload, err := json.Marshal(envelope{
		Type: "candle",
		Data: publicCandle{
			Symbol:    c.Symbol,
			Timeframe: c.Timeframe,
			Timestamp: time.UnixMilli(c.Timestamp).UTC().Format(time.RFC3339),
			Open:      formatDecimal(c.Open),
			High:      formatDecimal(c.High),
			Low:       formatDecimal(c.Low),
			Close:     formatDecimal(c.Close),
			Volume:    formatDecimal(c.Volume),
		},
	})
	if err != nil {
		return "", nil, errors.NewTracer(string(errors.BridgeProtocolError)).Wrap(err)
	}
	return ch.String(), payload, nil
}

// transformSignal relays a signal event published by the alert engine. The
// payload is already external JSON; it is wrapped, not re-modeled.
func transformSignal(key candle.Key, raw string) (string, []byte, error) {
	ch := Channel{Class: classSignals, Symbol: key.Symbol, Timeframe: key.Timeframe}
	payload, err := json.Marshal(envelope{Type: "signal", Data: json.RawMessage(raw)})
	if err != nil {
		return "", nil, errors.NewTracer(string(errors.BridgeProtocolError)).Wrap(err)
	}
	return ch.String(), payload, nil
}

// parseSignalChannel recovers the series key from an internal signal
// channel name (`signals:<owner>:<exchange>:<symbol>:<tf>`).
func parseSignalChannel(channel string) (candle.Key, error) {
	parts := strings.Split(channel, ":")
	if len(parts) != 5 || parts[0] != classSignals {
		return candle.Key{}, errors.NewErrorDetails(
			fmt.Sprintf("malformed signal channel %q", channel),
			string(errors.BridgeProtocolError),
			"channel",
		)
	}
	return candle.Key{
		OwnerID:    parts[1],
		ExchangeID: parts[2],
		Symbol:     parts[3],
		Timeframe:  parts[4],
	}, nil
}

func errorFrame(message string) []byte {
	payload, _ := json.Marshal(envelope{
		Type: "error",
		Data: map[string]string{"message": message},
	})
	return payload
}
