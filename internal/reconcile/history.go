package reconcile

import (
	"context"

	"github.com/SpartanDigitalDotNet/Livermore-sub007/internal/domain/candle"
)

// HistorySource pulls historical candles from the exchange REST API.
//
//go:generate mockgen -source history.go -destination=mock/history_mock.go -package=reconcile_mock
type HistorySource interface {
	// FetchRange returns the candles for [fromMs, toMs] ascending by
	// period start.
	FetchRange(ctx context.Context, symbol, timeframeName string, fromMs, toMs int64) ([]candle.Candle, error)
}
