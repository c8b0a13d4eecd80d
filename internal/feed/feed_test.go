package feed

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SpartanDigitalDotNet/Livermore-sub007/internal/domain/candle"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/logger"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/redis"
)

var testScope = candle.Scope{OwnerID: "owner-1", ExchangeID: "coinbase"}

func newFeedHarness(t *testing.T) (*Feed, redis.Client) {
	mr := miniredis.RunT(t)

	log, err := logger.NewLogger()
	require.NoError(t, err)

	config := redis.DefaultConfig()
	config.Addrs = []string{mr.Addr()}

	client := redis.NewClient(log, config)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	return New(client, testScope, log), client
}

func testCandle() candle.Candle {
	return candle.Candle{
		Symbol:    "BTC-USD",
		Timeframe: "5m",
		Timestamp: 1_700_000_100_000,
		Open:      42000,
		High:      42100,
		Low:       41900,
		Close:     42050,
		Volume:    12.5,
	}
}

func TestFeed_CandlesDeliversDecodedEvents(t *testing.T) {
	f, client := newFeedHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := f.Candles(ctx, "5m")
	require.NoError(t, err)

	c := testCandle()
	payload, err := c.Encode()
	require.NoError(t, err)
	key := c.Key(testScope)

	_, err = client.Publish(ctx, key.Channel(), payload)
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, key, ev.Key)
		assert.Equal(t, c, ev.Candle)
		assert.Equal(t, payload, ev.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("published candle was not delivered")
	}

	// a malformed payload is skipped without breaking the stream
	_, err = client.Publish(ctx, key.Channel(), "{corrupt")
	require.NoError(t, err)
	_, err = client.Publish(ctx, key.Channel(), payload)
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, c, ev.Candle)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not survive a malformed payload")
	}

	cancel()
	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after cancellation")
	}
}

func TestFeed_CandlesFiltersOtherTimeframes(t *testing.T) {
	f, client := newFeedHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := f.Candles(ctx, "1h")
	require.NoError(t, err)

	c := testCandle()
	payload, err := c.Encode()
	require.NoError(t, err)

	_, err = client.Publish(ctx, c.Key(testScope).Channel(), payload)
	require.NoError(t, err)

	select {
	case ev := <-events:
		t.Fatalf("unexpected event for timeframe %s", ev.Candle.Timeframe)
	case <-time.After(200 * time.Millisecond):
	}
}
