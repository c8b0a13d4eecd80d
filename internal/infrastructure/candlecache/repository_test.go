package candlecache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SpartanDigitalDotNet/Livermore-sub007/internal/domain/candle"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/logger"
	loggerMock "github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/logger/mock"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/redis"
	redisMock "github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/redis/mock"
)

var testScope = candle.Scope{OwnerID: "owner-1", ExchangeID: "coinbase"}

func validCandle() candle.Candle {
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

func TestRepository_Write(t *testing.T) {
	testCases := []struct {
		name         string
		candle       func() candle.Candle
		mockFn       func(t *testing.T, c candle.Candle, redisClient *redisMock.MockClient, log *loggerMock.MockInterface)
		wantAccepted bool
		wantErr      bool
	}{
		{
			name:   "accepted write publishes and reports true",
			candle: validCandle,
			mockFn: func(t *testing.T, c candle.Candle, redisClient *redisMock.MockClient, log *loggerMock.MockInterface) {
				payload, err := c.Encode()
				require.NoError(t, err)
				redisClient.EXPECT().Eval(
					gomock.Any(),
					newerWinsScript,
					[]string{"candles:owner-1:coinbase:BTC-USD:5m", "candles:owner-1:coinbase:BTC-USD:5m"},
					c.Timestamp, payload,
				).Return(int64(1), nil)
				log.EXPECT().Debug(gomock.Any(), gomock.Any()).AnyTimes()
			},
			wantAccepted: true,
		},
		{
			name:   "stale write is a no-op",
			candle: validCandle,
			mockFn: func(t *testing.T, c candle.Candle, redisClient *redisMock.MockClient, log *loggerMock.MockInterface) {
				redisClient.EXPECT().Eval(gomock.Any(), newerWinsScript, gomock.Any(), gomock.Any(), gomock.Any()).
					Return(int64(0), nil)
			},
			wantAccepted: false,
		},
		{
			name: "invalid candle never reaches redis",
			candle: func() candle.Candle {
				c := validCandle()
				c.Timestamp++ // off boundary
				return c
			},
			mockFn:  func(t *testing.T, c candle.Candle, redisClient *redisMock.MockClient, log *loggerMock.MockInterface) {},
			wantErr: true,
		},
		{
			name:   "redis error propagates",
			candle: validCandle,
			mockFn: func(t *testing.T, c candle.Candle, redisClient *redisMock.MockClient, log *loggerMock.MockInterface) {
				redisClient.EXPECT().Eval(gomock.Any(), newerWinsScript, gomock.Any(), gomock.Any(), gomock.Any()).
					Return(nil, errors.New("connection refused"))
			},
			wantErr: true,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			redisClient := redisMock.NewMockClient(ctrl)
			log := loggerMock.NewMockInterface(ctrl)

			c := testCase.candle()
			testCase.mockFn(t, c, redisClient, log)

			repo := NewRepository(redisClient, testScope, log)
			accepted, err := repo.Write(context.Background(), c)

			if testCase.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testCase.wantAccepted, accepted)
		})
	}
}

func TestRepository_WriteMany(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	redisClient := redisMock.NewMockClient(ctrl)
	log := loggerMock.NewMockInterface(ctrl)
	log.EXPECT().Debug(gomock.Any(), gomock.Any()).AnyTimes()

	first := validCandle()
	second := validCandle()
	second.Timestamp += 300_000
	third := validCandle()
	third.Timestamp += 600_000

	// first and third accepted, second stale
	gomock.InOrder(
		redisClient.EXPECT().Eval(gomock.Any(), newerWinsScript, gomock.Any(), first.Timestamp, gomock.Any()).Return(int64(1), nil),
		redisClient.EXPECT().Eval(gomock.Any(), newerWinsScript, gomock.Any(), second.Timestamp, gomock.Any()).Return(int64(0), nil),
		redisClient.EXPECT().Eval(gomock.Any(), newerWinsScript, gomock.Any(), third.Timestamp, gomock.Any()).Return(int64(1), nil),
	)

	repo := NewRepository(redisClient, testScope, log)
	accepted, err := repo.WriteMany(context.Background(), []candle.Candle{first, second, third})

	require.NoError(t, err)
	assert.Equal(t, 2, accepted)
}

func TestRepository_ReadRange(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	redisClient := redisMock.NewMockClient(ctrl)
	log := loggerMock.NewMockInterface(ctrl)

	first := validCandle()
	second := validCandle()
	second.Timestamp += 300_000

	firstPayload, err := first.Encode()
	require.NoError(t, err)
	secondPayload, err := second.Encode()
	require.NoError(t, err)

	key := candle.NewKey(testScope, "BTC-USD", "5m")
	redisClient.EXPECT().ZRangeByScore(
		gomock.Any(),
		key.RedisKey(),
		"1700000100000",
		"1700000400000",
	).Return([]string{firstPayload, secondPayload}, nil)

	repo := NewRepository(redisClient, testScope, log)
	candles, err := repo.ReadRange(context.Background(), key, first.Timestamp, second.Timestamp)

	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, first, candles[0])
	assert.Equal(t, second, candles[1])
}

func TestRepository_ReadLatest(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	redisClient := redisMock.NewMockClient(ctrl)
	log := loggerMock.NewMockInterface(ctrl)

	older := validCandle()
	newer := validCandle()
	newer.Timestamp += 300_000

	olderPayload, err := older.Encode()
	require.NoError(t, err)
	newerPayload, err := newer.Encode()
	require.NoError(t, err)

	key := candle.NewKey(testScope, "BTC-USD", "5m")

	// redis returns newest first; ReadLatest must flip to ascending
	redisClient.EXPECT().ZRevRangeByScoreFirstN(gomock.Any(), key.RedisKey(), int64(2)).
		Return([]string{newerPayload, olderPayload}, nil)

	repo := NewRepository(redisClient, testScope, log)
	candles, err := repo.ReadLatest(context.Background(), key, 2)

	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, older, candles[0])
	assert.Equal(t, newer, candles[1])
}

func TestRepository_ReadRange_DecodeError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	redisClient := redisMock.NewMockClient(ctrl)
	log := loggerMock.NewMockInterface(ctrl)

	key := candle.NewKey(testScope, "BTC-USD", "5m")
	redisClient.EXPECT().ZRangeByScore(gomock.Any(), key.RedisKey(), gomock.Any(), gomock.Any()).
		Return([]string{"{corrupt"}, nil)

	repo := NewRepository(redisClient, testScope, log)
	_, err := repo.ReadRange(context.Background(), key, 0, 1)

	assert.Error(t, err)
}

// newStoreHarness backs the repository with an in-process redis so the
// conditional-write script runs for real, publications included.
func newStoreHarness(t *testing.T) (*Repository, redis.Client) {
	mr := miniredis.RunT(t)

	log, err := logger.NewLogger()
	require.NoError(t, err)

	config := redis.DefaultConfig()
	config.Addrs = []string{mr.Addr()}

	client := redis.NewClient(log, config)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	return NewRepository(client, testScope, log), client
}

func TestRepository_Write_ConditionalWriteAtTheStore(t *testing.T) {
	repo, client := newStoreHarness(t)
	ctx := context.Background()

	first := validCandle()
	key := first.Key(testScope)

	pubsub, err := client.PSubscribe(ctx, key.Channel())
	require.NoError(t, err)
	defer func() { _ = pubsub.Close() }()
	notifications := pubsub.Channel()

	expectPublished := func(t *testing.T, want candle.Candle) {
		select {
		case msg := <-notifications:
			got, err := candle.Decode(msg.Payload)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatal("accepted write was not published")
		}
	}
	expectSilence := func(t *testing.T) {
		select {
		case msg := <-notifications:
			t.Fatalf("rejected write was published: %s", msg.Payload)
		case <-time.After(100 * time.Millisecond):
		}
	}

	// fresh write is accepted and published
	accepted, err := repo.Write(ctx, first)
	require.NoError(t, err)
	assert.True(t, accepted)
	expectPublished(t, first)

	// byte-equal replay is a no-op
	accepted, err = repo.Write(ctx, first)
	require.NoError(t, err)
	assert.False(t, accepted)
	expectSilence(t)

	// a stale pull with less volume never downgrades the cache
	stale := first
	stale.Volume = 1.0
	stale.Close = 41000
	accepted, err = repo.Write(ctx, stale)
	require.NoError(t, err)
	assert.False(t, accepted)
	expectSilence(t)

	// a fresher update with more volume replaces in place
	fresher := first
	fresher.Volume = 20.5
	fresher.Close = 42500
	accepted, err = repo.Write(ctx, fresher)
	require.NoError(t, err)
	assert.True(t, accepted)
	expectPublished(t, fresher)

	stored, err := repo.ReadRange(ctx, key, first.Timestamp, first.Timestamp)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, fresher, stored[0])
}
