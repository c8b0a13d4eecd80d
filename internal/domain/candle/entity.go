package candle

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/errors"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/timeframe"
)

// Candle represents a fixed-duration OHLCV summary of price activity,
// keyed by its period-start timestamp.
type Candle struct {
	Symbol    string  `json:"symbol"`
	Timeframe string  `json:"timeframe"`
	// Timestamp is the period start in milliseconds, UTC-aligned. It is
	// always an exact multiple of the timeframe duration.
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Scope identifies the owner and exchange a candle series belongs to.
// Every cache key and notification channel is namespaced by it.
type Scope struct {
	OwnerID    string
	ExchangeID string
}

// Key is the full identity key of a candle series.
type Key struct {
	OwnerID    string
	ExchangeID string
	Symbol     string
	Timeframe  string
}

// NewKey builds a series key within a scope.
func NewKey(scope Scope, symbol, tf string) Key {
	return Key{
		OwnerID:    scope.OwnerID,
		ExchangeID: scope.ExchangeID,
		Symbol:     symbol,
		Timeframe:  tf,
	}
}

// RedisKey returns the sorted-set key for this series.
func (k Key) RedisKey() string {
	return fmt.Sprintf("candles:%s:%s:%s:%s", k.OwnerID, k.ExchangeID, k.Symbol, k.Timeframe)
}

// Channel returns the closed-candle notification channel for this series.
// The store publishes on it after every accepted write.
func (k Key) Channel() string {
	return k.RedisKey()
}

// ChannelPattern returns the PSUBSCRIBE pattern matching every series
// channel within scope, optionally narrowed to one timeframe.
func ChannelPattern(scope Scope, tf string) string {
	if tf == "" {
		tf = "*"
	}
	return fmt.Sprintf("candles:%s:%s:*:%s", scope.OwnerID, scope.ExchangeID, tf)
}

// SignalChannelPattern returns the PSUBSCRIBE pattern matching every signal
// channel within scope. Signal events are produced by the alert engine and
// only forwarded here.
func SignalChannelPattern(scope Scope) string {
	return fmt.Sprintf("signals:%s:%s:*:*", scope.OwnerID, scope.ExchangeID)
}

// ParseChannel recovers the series key from a notification channel name.
func ParseChannel(channel string) (Key, error) {
	parts := strings.Split(channel, ":")
	if len(parts) != 5 || parts[0] != "candles" {
		return Key{}, errors.NewErrorDetails(
			fmt.Sprintf("malformed candle channel %q", channel),
			string(errors.CandleDecodeError),
			"channel",
		)
	}
	return Key{
		OwnerID:    parts[1],
		ExchangeID: parts[2],
		Symbol:     parts[3],
		Timeframe:  parts[4],
	}, nil
}

// Key returns the candle's full identity key within scope.
func (c Candle) Key(scope Scope) Key {
	return NewKey(scope, c.Symbol, c.Timeframe)
}

// Start returns the period start as a time.Time in UTC.
func (c Candle) Start() time.Time {
	return time.UnixMilli(c.Timestamp).UTC()
}

// Validate checks the invariants a candle must satisfy before it may enter
// the store.
func (c Candle) Validate() error {
	if c.Symbol == "" {
		return errors.NewErrorDetails("candle symbol is empty", string(errors.CandleInvalidError), "symbol")
	}

	tf, err := timeframe.Parse(c.Timeframe)
	if err != nil {
		return errors.NewErrorDetails(err.Error(), string(errors.CandleInvalidError), "timeframe")
	}

	if c.Timestamp < 0 {
		return errors.NewErrorDetails("candle timestamp is negative", string(errors.CandleInvalidError), "timestamp")
	}

	if !tf.IsBoundary(c.Timestamp) {
		return errors.NewErrorDetails(
			fmt.Sprintf("candle timestamp %d is not aligned to timeframe %s", c.Timestamp, c.Timeframe),
			string(errors.CandleInvalidError),
			"timestamp",
		)
	}

	if c.Volume < 0 {
		return errors.NewErrorDetails("candle volume is negative", string(errors.CandleInvalidError), "volume")
	}

	return nil
}

// Encode serializes the candle into its storage representation.
func (c Candle) Encode() (string, error) {
	buf, err := json.Marshal(c)
	if err != nil {
		return "", errors.NewErrorDetails(err.Error(), string(errors.CandleEncodeError), "candle")
	}
	return string(buf), nil
}

// Decode deserializes a stored candle payload.
func Decode(payload string) (Candle, error) {
	var c Candle
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return Candle{}, errors.NewErrorDetails(err.Error(), string(errors.CandleDecodeError), "payload")
	}
	return c, nil
}
