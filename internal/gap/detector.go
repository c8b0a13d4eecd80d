package gap

import (
	"context"

	"github.com/SpartanDigitalDotNet/Livermore-sub007/internal/domain/candle"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/errors"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/timeframe"
)

// Range is a contiguous run of missing candle timestamps.
type Range struct {
	// Start is the first missing boundary timestamp, ms.
	Start int64
	// End is the last missing boundary timestamp, ms (inclusive).
	End int64
	// Count is the number of missing candles in the run.
	Count int64
}

// Detect compares the observed timestamps against the expected
// boundary-aligned sequence over the inclusive [fromMs, toMs] range and
// returns the contiguous missing sub-ranges. Pure function: no side effects,
// no I/O. An empty observed set yields the entire range as one gap.
func Detect(observed []int64, fromMs, toMs int64, tf timeframe.Timeframe) []Range {
	stride := tf.DurationMs()

	// first expected boundary at or after fromMs
	first, next := tf.BucketRange(fromMs)
	if first < fromMs {
		first = next
	}
	if first > toMs {
		return nil
	}

	seen := make(map[int64]struct{}, len(observed))
	for _, ts := range observed {
		seen[ts] = struct{}{}
	}

	var gaps []Range
	var open *Range
	for ts := first; ts <= toMs; ts += stride {
		if _, ok := seen[ts]; ok {
			if open != nil {
				gaps = append(gaps, *open)
				open = nil
			}
			continue
		}
		if open == nil {
			open = &Range{Start: ts, End: ts, Count: 1}
			continue
		}
		open.End = ts
		open.Count++
	}
	if open != nil {
		gaps = append(gaps, *open)
	}

	return gaps
}

// Scan snapshots one series from the store and runs Detect over it. Used for
// startup diagnostics and manual backfill decisions; it is not part of any
// automatic repair loop.
func Scan(ctx context.Context, store candle.Store, key candle.Key, fromMs, toMs int64) ([]Range, error) {
	tf, err := timeframe.Parse(key.Timeframe)
	if err != nil {
		return nil, errors.TracerFromError(err)
	}

	candles, err := store.ReadRange(ctx, key, fromMs, toMs)
	if err != nil {
		return nil, errors.TracerFromError(err)
	}

	observed := make([]int64, 0, len(candles))
	for _, c := range candles {
		observed = append(observed, c.Timestamp)
	}

	return Detect(observed, fromMs, toMs, tf), nil
}
