package coinbase

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/SpartanDigitalDotNet/Livermore-sub007/internal/domain/candle"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/errors"
)

// subscribeFrame is the outbound control frame for the Advanced Trade
// WebSocket. One channel per frame.
type subscribeFrame struct {
	Type       string   `json:"type"`
	Channel    string   `json:"channel"`
	ProductIDs []string `json:"product_ids,omitempty"`
}

const (
	channelCandles = "candles"
	// channelHeartbeats keeps the connection alive; the exchange drops
	// silent connections after 60-90s.
	channelHeartbeats = "heartbeats"
)

// wsMessage is the inbound Advanced Trade message envelope.
type wsMessage struct {
	Channel string    `json:"channel"`
	Events  []wsEvent `json:"events"`
}

type wsEvent struct {
	Type    string     `json:"type"`
	Candles []wsCandle `json:"candles"`
}

// wsCandle carries the candle period start in the exchange's native time
// unit (seconds) and decimal fields as strings.
type wsCandle struct {
	Start     string `json:"start"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Open      string `json:"open"`
	Close     string `json:"close"`
	Volume    string `json:"volume"`
	ProductID string `json:"product_id"`
}

func parseMessage(raw []byte) (*wsMessage, error) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, errors.NewErrorDetails(err.Error(), string(errors.AdapterParseError), "message")
	}
	return &msg, nil
}

// normalize converts a wire candle into the canonical shape: period start in
// milliseconds UTC, numeric OHLCV.
func (w wsCandle) normalize(tfName string) (candle.Candle, error) {
	if w.ProductID == "" {
		return candle.Candle{}, errors.NewErrorDetails("candle product_id is empty", string(errors.AdapterParseError), "product_id")
	}

	startSec, err := strconv.ParseInt(w.Start, 10, 64)
	if err != nil {
		return candle.Candle{}, errors.NewErrorDetails(
			fmt.Sprintf("candle start %q is not a unix timestamp", w.Start),
			string(errors.AdapterParseError),
			"start",
		)
	}

	fields := [5]string{w.Open, w.High, w.Low, w.Close, w.Volume}
	var values [5]float64
	for i, field := range fields {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return candle.Candle{}, errors.NewErrorDetails(
				fmt.Sprintf("candle field %q is not numeric", field),
				string(errors.AdapterParseError),
				"ohlcv",
			)
		}
		values[i] = v
	}

	c := candle.Candle{
		Symbol:    w.ProductID,
		Timeframe: tfName,
		Timestamp: startSec * 1000,
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}
	if err := c.Validate(); err != nil {
		return candle.Candle{}, err
	}
	return c, nil
}
