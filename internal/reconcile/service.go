package reconcile

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SpartanDigitalDotNet/Livermore-sub007/internal/domain/candle"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/internal/feed"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/errors"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/logger"
	"github.com/SpartanDigitalDotNet/Livermore-sub007/pkg/timeframe"
)

// Config holds the reconciliation settings.
type Config struct {
	Symbols []string `env:"SYMBOLS" envSeparator:"," envDefault:"BTC-USD"`
	// Timeframes are the higher timeframes kept consistent by pulling;
	// the exchange only pushes PushTimeframe.
	Timeframes    []string `env:"TIMEFRAMES" envSeparator:"," envDefault:"15m,30m,1h,2h,6h,1d"`
	PushTimeframe string   `env:"PUSH_TIMEFRAME" envDefault:"5m"`

	BatchSize   int           `env:"BATCH_SIZE" envDefault:"5"`
	BatchDelay  time.Duration `env:"BATCH_DELAY" envDefault:"1s"`
	PullTimeout time.Duration `env:"PULL_TIMEOUT" envDefault:"10s"`
	// PullDepth is how many periods each boundary-triggered pull covers.
	PullDepth int `env:"PULL_DEPTH" envDefault:"5"`
	// BackfillDepth is how many periods the startup backfill covers per
	// (symbol, timeframe).
	BackfillDepth int `env:"BACKFILL_DEPTH" envDefault:"300"`
}

// Task is one pending pull of a (symbol, timeframe) window. Tasks are
// ephemeral: discarded after completion or failure, never persisted.
type Task struct {
	Symbol    string
	Timeframe timeframe.Timeframe
	FromMs    int64
	ToMs      int64
}

// Service keeps higher-timeframe series consistent by pulling them when a
// pushed close lands on their boundary.
type Service struct {
	config Config
	store  candle.Store
	source HistorySource
	feed   *feed.Feed
	logger logger.Interface

	pushTF timeframe.Timeframe
	// higher is sorted ascending by duration so backfill fills the most
	// useful series first.
	higher []timeframe.Timeframe

	// lastTriggered records the last boundary that fired per timeframe;
	// with several symbols closing at the same instant only the first
	// close triggers the batch.
	lastTriggered map[string]int64
}

func New(config Config, store candle.Store, source HistorySource, f *feed.Feed, log logger.Interface) (*Service, error) {
	pushTF, err := timeframe.Parse(config.PushTimeframe)
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]struct{})
	for _, tf := range timeframe.HigherThan(pushTF) {
		allowed[tf.Name] = struct{}{}
	}

	higher := make([]timeframe.Timeframe, 0, len(config.Timeframes))
	for _, name := range config.Timeframes {
		tf, err := timeframe.Parse(name)
		if err != nil {
			return nil, err
		}
		if _, ok := allowed[tf.Name]; !ok {
			return nil, errors.NewErrorDetails(
				"reconciliation timeframes must be higher than the push timeframe",
				string(errors.CandleInvalidError),
				name,
			)
		}
		higher = append(higher, tf)
	}
	sort.Slice(higher, func(i, j int) bool {
		return higher[i].Duration < higher[j].Duration
	})

	return &Service{
		config:        config,
		store:         store,
		source:        source,
		feed:          f,
		logger:        log,
		pushTF:        pushTF,
		higher:        higher,
		lastTriggered: make(map[string]int64),
	}, nil
}

// Run consumes smallest-timeframe closed notifications until ctx is
// cancelled. It blocks; run it in its own goroutine.
func (s *Service) Run(ctx context.Context) error {
	events, err := s.feed.Candles(ctx, s.pushTF.Name)
	if err != nil {
		return err
	}

	s.logger.Info("reconciliation service started",
		logger.Field{Key: "symbols", Value: len(s.config.Symbols)},
		logger.Field{Key: "timeframes", Value: len(s.higher)},
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			tasks := s.boundaryTasks(event.Candle.Timestamp)
			if len(tasks) == 0 {
				continue
			}
			s.RunBatch(ctx, tasks)
		}
	}
}

// boundaryTasks returns the pull tasks triggered by a close at ts: the
// cross-product of tracked symbols and every higher timeframe whose boundary
// ts lands on, deduplicated so one boundary fires at most once.
func (s *Service) boundaryTasks(ts int64) []Task {
	var aligned []timeframe.Timeframe
	for _, tf := range s.higher {
		if !tf.IsBoundary(ts) {
			continue
		}
		if s.lastTriggered[tf.Name] >= ts {
			continue
		}
		s.lastTriggered[tf.Name] = ts
		aligned = append(aligned, tf)
	}
	if len(aligned) == 0 {
		return nil
	}

	var tasks []Task
	for _, tf := range aligned {
		for _, symbol := range s.config.Symbols {
			tasks = append(tasks, s.pullTask(symbol, tf, ts, s.config.PullDepth))
		}
	}
	return tasks
}

// pullTask builds the window covering the depth most recent completed
// periods of tf ending at the boundary before ts.
func (s *Service) pullTask(symbol string, tf timeframe.Timeframe, ts int64, depth int) Task {
	end := tf.Align(ts)
	if end == ts {
		// the period starting at ts is still open
		end = ts - tf.DurationMs()
	}
	return Task{
		Symbol:    symbol,
		Timeframe: tf,
		FromMs:    end - int64(depth-1)*tf.DurationMs(),
		ToMs:      end,
	}
}

// Backfill pulls recent history for all symbols across all timeframes,
// smallest first, through the same batch runner. Called once at startup.
func (s *Service) Backfill(ctx context.Context) error {
	now := time.Now().UnixMilli()

	all := append([]timeframe.Timeframe{s.pushTF}, s.higher...)
	var tasks []Task
	for _, tf := range all {
		for _, symbol := range s.config.Symbols {
			tasks = append(tasks, s.pullTask(symbol, tf, now, s.config.BackfillDepth))
		}
	}

	s.logger.Info("starting backfill",
		logger.Field{Key: "tasks", Value: len(tasks)},
		logger.Field{Key: "depth", Value: s.config.BackfillDepth},
	)
	result := s.RunBatch(ctx, tasks)
	if result.Failed == len(tasks) && len(tasks) > 0 {
		return errors.NewErrorDetails(
			"every backfill pull failed",
			string(errors.HistoryFetchError),
			"backfill",
		)
	}
	return nil
}

// BatchResult aggregates one batch run.
type BatchResult struct {
	Tasks   int
	Failed  int
	Written int
}

// RunBatch executes tasks in fixed-size concurrent batches with a fixed
// delay between batches. Fire-and-continue: an individual failure is logged
// and counted, never aborts the run. A failed pull is retried only by the
// next natural boundary trigger.
func (s *Service) RunBatch(ctx context.Context, tasks []Task) BatchResult {
	var failed, written int64

	for start := 0; start < len(tasks); start += s.config.BatchSize {
		end := start + s.config.BatchSize
		if end > len(tasks) {
			end = len(tasks)
		}

		var wg sync.WaitGroup
		for _, task := range tasks[start:end] {
			wg.Add(1)
			go func(task Task) {
				defer wg.Done()
				n, err := s.pull(ctx, task)
				if err != nil {
					atomic.AddInt64(&failed, 1)
					s.logger.Warn("pull failed",
						logger.Field{Key: "symbol", Value: task.Symbol},
						logger.Field{Key: "timeframe", Value: task.Timeframe.Name},
						logger.Field{Key: "error", Value: err.Error()},
					)
					return
				}
				atomic.AddInt64(&written, int64(n))
			}(task)
		}
		wg.Wait()

		if end < len(tasks) {
			select {
			case <-ctx.Done():
				return BatchResult{Tasks: len(tasks), Failed: int(failed), Written: int(written)}
			case <-time.After(s.config.BatchDelay):
			}
		}
	}

	result := BatchResult{Tasks: len(tasks), Failed: int(failed), Written: int(written)}
	s.logger.Info("batch run complete",
		logger.Field{Key: "tasks", Value: result.Tasks},
		logger.Field{Key: "failed", Value: result.Failed},
		logger.Field{Key: "written", Value: result.Written},
	)
	return result
}

func (s *Service) pull(ctx context.Context, task Task) (int, error) {
	pullCtx, cancel := context.WithTimeout(ctx, s.config.PullTimeout)
	defer cancel()

	candles, err := s.source.FetchRange(pullCtx, task.Symbol, task.Timeframe.Name, task.FromMs, task.ToMs)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, nil
	}
	return s.store.WriteMany(pullCtx, candles)
}
