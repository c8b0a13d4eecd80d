package gap

import (
	"context"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SpartanDigitalDotNet/Livermore-sub007/internal/domain/candle"
	candleMock "github.com/SpartanDigitalDotNet/Livermore-sub007/internal/domain/candle/mock"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/timeframe"
)

func TestDetect(t *testing.T) {
	oneMinute := timeframe.Timeframe1m

	testCases := []struct {
		name     string
		observed []int64
		fromMs   int64
		toMs     int64
		tf       timeframe.Timeframe
		expected []Range
	}{
		{
			name:     "single missing candle",
			observed: []int64{0, 60_000, 180_000},
			fromMs:   0,
			toMs:     180_000,
			tf:       oneMinute,
			expected: []Range{{Start: 120_000, End: 120_000, Count: 1}},
		},
		{
			name:     "no gaps",
			observed: []int64{0, 60_000, 120_000},
			fromMs:   0,
			toMs:     120_000,
			tf:       oneMinute,
			expected: nil,
		},
		{
			name:     "empty observed set is one gap over the whole range",
			observed: nil,
			fromMs:   0,
			toMs:     180_000,
			tf:       oneMinute,
			expected: []Range{{Start: 0, End: 180_000, Count: 4}},
		},
		{
			name:     "two separate gaps",
			observed: []int64{60_000, 240_000},
			fromMs:   0,
			toMs:     300_000,
			tf:       oneMinute,
			expected: []Range{
				{Start: 0, End: 0, Count: 1},
				{Start: 120_000, End: 180_000, Count: 2},
				{Start: 300_000, End: 300_000, Count: 1},
			},
		},
		{
			name:     "gap at the tail",
			observed: []int64{0},
			fromMs:   0,
			toMs:     120_000,
			tf:       oneMinute,
			expected: []Range{{Start: 60_000, End: 120_000, Count: 2}},
		},
		{
			name:     "unaligned range start snaps to next boundary",
			observed: nil,
			fromMs:   30_000,
			toMs:     150_000,
			tf:       oneMinute,
			expected: []Range{{Start: 60_000, End: 120_000, Count: 2}},
		},
		{
			name:     "range with no expected boundaries",
			observed: nil,
			fromMs:   61_000,
			toMs:     119_000,
			tf:       oneMinute,
			expected: nil,
		},
		{
			name:     "observed timestamps outside the range are ignored",
			observed: []int64{-60_000, 240_000},
			fromMs:   0,
			toMs:     60_000,
			tf:       oneMinute,
			expected: []Range{{Start: 0, End: 60_000, Count: 2}},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			got := Detect(testCase.observed, testCase.fromMs, testCase.toMs, testCase.tf)
			assert.Equal(t, testCase.expected, got)
		})
	}
}

func TestScan(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := candleMock.NewMockStore(ctrl)
	key := candle.Key{OwnerID: "o", ExchangeID: "cb", Symbol: "BTC-USD", Timeframe: "1m"}

	store.EXPECT().ReadRange(gomock.Any(), key, int64(0), int64(180_000)).Return([]candle.Candle{
		{Symbol: "BTC-USD", Timeframe: "1m", Timestamp: 0},
		{Symbol: "BTC-USD", Timeframe: "1m", Timestamp: 60_000},
		{Symbol: "BTC-USD", Timeframe: "1m", Timestamp: 180_000},
	}, nil)

	gaps, err := Scan(context.Background(), store, key, 0, 180_000)

	require.NoError(t, err)
	assert.Equal(t, []Range{{Start: 120_000, End: 120_000, Count: 1}}, gaps)
}

func TestScan_UnknownTimeframe(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := candleMock.NewMockStore(ctrl)
	key := candle.Key{OwnerID: "o", ExchangeID: "cb", Symbol: "BTC-USD", Timeframe: "9m"}

	_, err := Scan(context.Background(), store, key, 0, 100)
	assert.Error(t, err)
}
