package feed

import (
	"context"

	"github.com/SpartanDigitalDotNet/Livermore-sub007/internal/domain/candle"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/logger"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/redis"
)

// Event is one closed-candle notification received from the store's
// publication channel.
type Event struct {
	Key    candle.Key
	Candle candle.Candle
	// Payload is the raw stored encoding, kept so forwarders can relay
	// it without re-serializing.
	Payload string
}

// Feed turns the store's pattern-subscription into a typed event stream.
// One feed backs reconciliation, the streaming bridge, and the firehose.
type Feed struct {
	redisClient redis.Client
	logger      logger.Interface
	scope       candle.Scope
}

func New(redisClient redis.Client, scope candle.Scope, log logger.Interface) *Feed {
	return &Feed{
		redisClient: redisClient,
		logger:      log,
		scope:       scope,
	}
}

// Candles subscribes to every candle channel in scope, optionally narrowed
// to one timeframe, and streams decoded events until ctx is cancelled.
// Malformed payloads are logged and skipped.
func (f *Feed) Candles(ctx context.Context, tf string) (<-chan Event, error) {
	pattern := candle.ChannelPattern(f.scope, tf)
	pubsub, err := f.redisClient.PSubscribe(ctx, pattern)
	if err != nil {
		return nil, err
	}

	events := make(chan Event, 64)
	go func() {
		defer close(events)
		defer func() { _ = pubsub.Close() }()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					if ctx.Err() != nil {
						return
					}
					// the server dropped us mid-run; the stream only ends
					// once the client's own retry sequence gives up
					f.logger.Warn("candle subscription lost, reconnecting",
						logger.Field{Key: "pattern", Value: pattern},
					)
					if !f.redisClient.Reconnect(ctx) {
						f.logger.Warn("reconnect attempts exhausted, closing candle stream")
						return
					}
					next, err := f.redisClient.PSubscribe(ctx, pattern)
					if err != nil {
						f.logger.Warn("resubscribe failed, closing candle stream",
							logger.Field{Key: "error", Value: err.Error()},
						)
						return
					}
					_ = pubsub.Close()
					pubsub = next
					ch = pubsub.Channel()
					continue
				}

				key, err := candle.ParseChannel(msg.Channel)
				if err != nil {
					f.logger.Warn("skipping event on unrecognized channel",
						logger.Field{Key: "channel", Value: msg.Channel},
					)
					continue
				}

				c, err := candle.Decode(msg.Payload)
				if err != nil {
					f.logger.Warn("skipping undecodable candle event",
						logger.Field{Key: "channel", Value: msg.Channel},
						logger.Field{Key: "error", Value: err.Error()},
					)
					continue
				}

				select {
				case events <- Event{Key: key, Candle: c, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, nil
}
