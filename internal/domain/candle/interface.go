package candle

import "context"

// Store is the shared time-series cache for candles. It is the single point
// of truth for "this candle is now visible": every accepted write also
// publishes a closed-candle notification on the series channel.
//
//go:generate mockgen -source interface.go -destination=mock/store_mock.go -package=candle_mock
type Store interface {
	// Write applies a newer-wins conditional write. It reports whether the
	// candle was accepted; a stale or identical candle is a no-op.
	Write(ctx context.Context, c Candle) (bool, error)

	// WriteMany writes a batch of candles and returns the accepted count.
	// A failing candle aborts the batch and returns the error alongside
	// the count accepted so far.
	WriteMany(ctx context.Context, candles []Candle) (int, error)

	// ReadRange returns candles with timestamps in the inclusive
	// [fromMs, toMs] range, ascending, without duplicates.
	ReadRange(ctx context.Context, key Key, fromMs, toMs int64) ([]Candle, error)

	// ReadLatest returns the n newest candles, ascending.
	ReadLatest(ctx context.Context, key Key, n int) ([]Candle, error)
}
