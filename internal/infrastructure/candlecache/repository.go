package candlecache

import (
	"context"
	"strconv"

	"github.com/SpartanDigitalDotNet/Livermore-sub007/internal/domain/candle"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/errors"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/logger"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/redis"
)

// newerWinsScript applies the conditional write as a single atomic unit at
// the store. Multiple writers (push stream, reconciliation pulls) race on
// the same keys from different processes, so the check-and-set cannot be an
// application-level lock.
//
// KEYS[1] = series sorted-set key, KEYS[2] = notification channel
// ARGV[1] = timestamp ms (score), ARGV[2] = serialized candle
//
// A candle is accepted iff no member exists at that score, or the incoming
// payload carries at least as much volume and differs from the cached one.
// Every accepted write publishes the closed-candle notification.
const newerWinsScript = `
local cur = redis.call('ZRANGEBYSCORE', KEYS[1], ARGV[1], ARGV[1])
if #cur > 0 then
  if cur[1] == ARGV[2] then
    return 0
  end
  local old = cjson.decode(cur[1])
  local new = cjson.decode(ARGV[2])
  if tonumber(new['volume']) < tonumber(old['volume']) then
    return 0
  end
  redis.call('ZREMRANGEBYSCORE', KEYS[1], ARGV[1], ARGV[1])
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
redis.call('PUBLISH', KEYS[2], ARGV[2])
return 1
`

// Repository is the Redis-backed candle store. One sorted set per series,
// score = period-start timestamp.
type Repository struct {
	scope       candle.Scope
	redisClient redis.Client
	logger      logger.Interface
}

// NewRepository creates a candle repository scoped to one owner and exchange.
func NewRepository(redisClient redis.Client, scope candle.Scope, logger logger.Interface) *Repository {
	return &Repository{
		scope:       scope,
		redisClient: redisClient,
		logger:      logger,
	}
}

// Write applies a newer-wins conditional write and reports acceptance.
func (r *Repository) Write(ctx context.Context, c candle.Candle) (bool, error) {
	if err := c.Validate(); err != nil {
		return false, errors.TracerFromError(err)
	}

	payload, err := c.Encode()
	if err != nil {
		return false, errors.TracerFromError(err)
	}

	key := c.Key(r.scope)
	res, err := r.redisClient.Eval(ctx,
		newerWinsScript,
		[]string{key.RedisKey(), key.Channel()},
		c.Timestamp, payload,
	)
	if err != nil {
		return false, errors.TracerFromError(err)
	}

	accepted, _ := res.(int64)
	if accepted == 1 {
		r.logger.Debug("candle stored",
			logger.Field{Key: "key", Value: key.RedisKey()},
			logger.Field{Key: "timestamp", Value: c.Timestamp},
		)
		return true, nil
	}
	return false, nil
}

// WriteMany writes candles one by one and returns the accepted count.
func (r *Repository) WriteMany(ctx context.Context, candles []candle.Candle) (int, error) {
	accepted := 0
	for _, c := range candles {
		ok, err := r.Write(ctx, c)
		if err != nil {
			return accepted, err
		}
		if ok {
			accepted++
		}
	}
	return accepted, nil
}

// ReadRange returns candles in the inclusive [fromMs, toMs] range, ascending.
func (r *Repository) ReadRange(ctx context.Context, key candle.Key, fromMs, toMs int64) ([]candle.Candle, error) {
	members, err := r.redisClient.ZRangeByScore(ctx, key.RedisKey(),
		strconv.FormatInt(fromMs, 10),
		strconv.FormatInt(toMs, 10),
	)
	if err != nil {
		return nil, errors.TracerFromError(err)
	}

	return decodeMembers(members)
}

// ReadLatest returns the n newest candles, ascending.
func (r *Repository) ReadLatest(ctx context.Context, key candle.Key, n int) ([]candle.Candle, error) {
	members, err := r.redisClient.ZRevRangeByScoreFirstN(ctx, key.RedisKey(), int64(n))
	if err != nil {
		return nil, errors.TracerFromError(err)
	}

	// reverse into ascending order
	for i, j := 0, len(members)-1; i < j; i, j = i+1, j-1 {
		members[i], members[j] = members[j], members[i]
	}

	return decodeMembers(members)
}

func decodeMembers(members []string) ([]candle.Candle, error) {
	candles := make([]candle.Candle, 0, len(members))
	for _, member := range members {
		c, err := candle.Decode(member)
		if err != nil {
			return nil, errors.TracerFromError(err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}
