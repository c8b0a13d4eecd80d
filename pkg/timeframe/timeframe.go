package timeframe

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe represents a candle timeframe.
type Timeframe struct {
	Name     string
	Duration time.Duration
	// Granularity is the Coinbase REST granularity identifier for this timeframe.
	Granularity string
}

// Supported timeframes configuration
var (
	Timeframe1m  = Timeframe{Name: "1m", Duration: time.Minute, Granularity: "ONE_MINUTE"}
	Timeframe5m  = Timeframe{Name: "5m", Duration: 5 * time.Minute, Granularity: "FIVE_MINUTE"}
	Timeframe15m = Timeframe{Name: "15m", Duration: 15 * time.Minute, Granularity: "FIFTEEN_MINUTE"}
	Timeframe30m = Timeframe{Name: "30m", Duration: 30 * time.Minute, Granularity: "THIRTY_MINUTE"}
	Timeframe1h  = Timeframe{Name: "1h", Duration: time.Hour, Granularity: "ONE_HOUR"}
	Timeframe2h  = Timeframe{Name: "2h", Duration: 2 * time.Hour, Granularity: "TWO_HOUR"}
	Timeframe6h  = Timeframe{Name: "6h", Duration: 6 * time.Hour, Granularity: "SIX_HOUR"}
	Timeframe1d  = Timeframe{Name: "1d", Duration: 24 * time.Hour, Granularity: "ONE_DAY"}
)

// All lists every supported timeframe ordered smallest first.
var All = []Timeframe{
	Timeframe1m, Timeframe5m, Timeframe15m, Timeframe30m,
	Timeframe1h, Timeframe2h, Timeframe6h, Timeframe1d,
}

// Timeframe registry for lookup
var registry = make(map[string]Timeframe)

func init() {
	for _, tf := range All {
		registry[tf.Name] = tf
	}
}

// Parse returns a timeframe by name.
func Parse(name string) (Timeframe, error) {
	tf, exists := registry[name]
	if !exists {
		return Timeframe{}, fmt.Errorf("unsupported timeframe %q, supported: %s",
			name, strings.Join(Names(), ", "))
	}
	return tf, nil
}

// IsValid checks if a timeframe name is supported.
func IsValid(name string) bool {
	_, exists := registry[name]
	return exists
}

// DurationMs returns the timeframe duration in milliseconds.
func (tf Timeframe) DurationMs() int64 {
	return tf.Duration.Milliseconds()
}

// IsBoundary reports whether tsMs is an exact candle boundary for this
// timeframe. Pure arithmetic, no hidden state.
func (tf Timeframe) IsBoundary(tsMs int64) bool {
	return tsMs%tf.DurationMs() == 0
}

// Align truncates tsMs down to the start of its candle period.
func (tf Timeframe) Align(tsMs int64) int64 {
	return tsMs - tsMs%tf.DurationMs()
}

// BucketRange returns the inclusive period start and exclusive period end
// containing tsMs.
func (tf Timeframe) BucketRange(tsMs int64) (start, end int64) {
	start = tf.Align(tsMs)
	end = start + tf.DurationMs()
	return start, end
}

// HigherThan lists every supported timeframe strictly longer than tf,
// ordered smallest first.
func HigherThan(tf Timeframe) []Timeframe {
	var higher []Timeframe
	for _, candidate := range All {
		if candidate.Duration > tf.Duration {
			higher = append(higher, candidate)
		}
	}
	return higher
}

// Names returns all supported timeframe names ordered smallest first.
func Names() []string {
	names := make([]string, 0, len(All))
	for _, tf := range All {
		names = append(names, tf.Name)
	}
	return names
}
