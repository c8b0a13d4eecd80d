package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/SpartanDigitalDotNet/Livermore-sub007/internal/domain/candle"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/errors"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/logger"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/timeframe"
)

const candlesPath = "/api/v3/brokerage/market/products/%s/candles"

// HistoryClient pulls historical candles over the exchange REST API.
type HistoryClient struct {
	baseURL    string
	httpClient *http.Client
	logger     logger.Interface
}

// NewHistoryClient creates a history client with a per-request timeout.
func NewHistoryClient(config Config, log logger.Interface) *HistoryClient {
	return &HistoryClient{
		baseURL: config.RESTURL,
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
		},
		logger: log,
	}
}

type restCandlesResponse struct {
	Candles []restCandle `json:"candles"`
}

type restCandle struct {
	Start  string `json:"start"`
	Low    string `json:"low"`
	High   string `json:"high"`
	Open   string `json:"open"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

// FetchRange pulls candles for [fromMs, toMs] and returns them normalized
// and ascending by period start. Implements reconcile.HistorySource.
func (h *HistoryClient) FetchRange(ctx context.Context, symbol, tfName string, fromMs, toMs int64) ([]candle.Candle, error) {
	tf, err := timeframe.Parse(tfName)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("granularity", tf.Granularity)
	query.Set("start", strconv.FormatInt(fromMs/1000, 10))
	query.Set("end", strconv.FormatInt(toMs/1000, 10))

	endpoint := h.baseURL + fmt.Sprintf(candlesPath, url.PathEscape(symbol)) + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.NewTracer(string(errors.HistoryFetchError)).Wrap(err)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewTracer(string(errors.HistoryFetchError)).Wrap(err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewErrorDetails(
			fmt.Sprintf("candles request for %s returned status %d", symbol, resp.StatusCode),
			string(errors.HistoryFetchError),
			"status",
		)
	}

	var payload restCandlesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.NewTracer(string(errors.HistoryFetchError)).Wrap(err)
	}

	candles := make([]candle.Candle, 0, len(payload.Candles))
	for _, rc := range payload.Candles {
		c, err := rc.normalize(symbol, tfName)
		if err != nil {
			h.logger.Warn("dropping malformed historical candle",
				logger.Field{Key: "error", Value: err.Error()},
				logger.Field{Key: "symbol", Value: symbol},
			)
			continue
		}
		candles = append(candles, c)
	}

	// the exchange returns newest first
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timestamp < candles[j].Timestamp
	})
	return candles, nil
}

func (rc restCandle) normalize(symbol, tfName string) (candle.Candle, error) {
	start, err := strconv.ParseInt(rc.Start, 10, 64)
	if err != nil {
		return candle.Candle{}, errors.NewTracer(string(errors.AdapterParseError)).Wrap(err)
	}

	parse := func(field, raw string) (float64, error) {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, errors.NewErrorDetails(
				fmt.Sprintf("invalid %s value %q", field, raw),
				string(errors.AdapterParseError),
				field,
			)
		}
		return v, nil
	}

	c := candle.Candle{
		Symbol:    symbol,
		Timeframe: tfName,
		Timestamp: start * 1000,
	}
	if c.Open, err = parse("open", rc.Open); err != nil {
		return candle.Candle{}, err
	}
	if c.High, err = parse("high", rc.High); err != nil {
		return candle.Candle{}, err
	}
	if c.Low, err = parse("low", rc.Low); err != nil {
		return candle.Candle{}, err
	}
	if c.Close, err = parse("close", rc.Close); err != nil {
		return candle.Candle{}, err
	}
	if c.Volume, err = parse("volume", rc.Volume); err != nil {
		return candle.Candle{}, err
	}

	if err := c.Validate(); err != nil {
		return candle.Candle{}, err
	}
	return c, nil
}
