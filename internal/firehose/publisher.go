package firehose

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/SpartanDigitalDotNet/Livermore-sub007/internal/feed"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/errors"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/logger"
)

// Config holds the firehose settings. Disabled by default; the pipeline is
// fully functional without it.
type Config struct {
	Enabled bool     `env:"ENABLED" envDefault:"false"`
	Brokers []string `env:"BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	Topic   string   `env:"TOPIC" envDefault:"candles.closed"`
}

// Publisher relays every closed-candle notification onto a Kafka topic for
// downstream consumers outside this process (analytics, archival).
// Best-effort: publish failures are logged and never block the pipeline.
type Publisher struct {
	kafkaWriter *kafka.Writer
	feed        *feed.Feed
	logger      logger.Interface
}

// NewPublisher creates a Kafka publisher for closed-candle events.
func NewPublisher(config Config, f *feed.Feed, log logger.Interface) *Publisher {
	kafkaWriter := kafka.NewWriter(kafka.WriterConfig{
		Brokers: config.Brokers,
		Topic:   config.Topic,
	})

	return &Publisher{
		kafkaWriter: kafkaWriter,
		feed:        f,
		logger:      log,
	}
}

// Run relays events until ctx is cancelled. It blocks; run it in its own
// goroutine.
func (p *Publisher) Run(ctx context.Context) error {
	events, err := p.feed.Candles(ctx, "")
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return p.kafkaWriter.Close()
		case event, ok := <-events:
			if !ok {
				return p.kafkaWriter.Close()
			}
			p.publish(ctx, event)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, event feed.Event) {
	msg := kafka.Message{
		Key:   []byte(event.Key.RedisKey()),
		Value: []byte(event.Payload),
	}

	if err := p.kafkaWriter.WriteMessages(ctx, msg); err != nil {
		tracer := errors.NewTracer(string(errors.FirehosePublishError)).Wrap(err)
		p.logger.Error(tracer,
			logger.Field{Key: "symbol", Value: event.Candle.Symbol},
			logger.Field{Key: "timeframe", Value: event.Candle.Timeframe},
		)
	}
}
