package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/yuewen-li/speech2speech/internal/ports"
)

// Observer receives stage lifecycle notifications. The metrics registry
// implements it; tests pass nil.
type Observer interface {
	StageRetry(stage string)
	StageDegraded(stage string)
	StageProcessed(stage string, duration time.Duration)
}

// Stage runs one pipeline step over a bounded queue. It consumes items from
// its inbound channel strictly in order, applies its process function with
// the retry policy, and forwards each item downstream before touching the
// next one. While an item is being retried, later items wait in the inbound
// queue, which is how backpressure propagates toward the chunker.
type Stage[In any, Out any] struct {
	name    string
	policy  ports.RetryPolicy
	process func(ctx context.Context, item In) (Out, error)
	degrade func(item In, err error) Out

	in  <-chan In
	out chan Out

	logger   *slog.Logger
	observer Observer
}

// StageConfig carries the immutable parameters of a stage.
type StageConfig struct {
	Name          string
	QueueCapacity int
	Policy        ports.RetryPolicy
}

// NewStage creates a stage reading from in. The stage owns its outbound
// channel and closes it when the inbound channel closes, which cascades
// shutdown through a chain of stages during drain.
func NewStage[In any, Out any](
	cfg StageConfig,
	in <-chan In,
	process func(ctx context.Context, item In) (Out, error),
	degrade func(item In, err error) Out,
	logger *slog.Logger,
	observer Observer,
) *Stage[In, Out] {
	return &Stage[In, Out]{
		name:     cfg.Name,
		policy:   cfg.Policy,
		process:  process,
		degrade:  degrade,
		in:       in,
		out:      make(chan Out, cfg.QueueCapacity),
		logger:   logger,
		observer: observer,
	}
}

// Out returns the stage's outbound channel.
func (s *Stage[In, Out]) Out() <-chan Out {
	return s.out
}

// Run processes items until the inbound channel closes or the context is
// cancelled. It must be called exactly once, typically on its own
// goroutine. On cancellation the item in flight is abandoned without being
// forwarded.
func (s *Stage[In, Out]) Run(ctx context.Context) {
	defer close(s.out)

	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-s.in:
			if !ok {
				return
			}
			result, forward := s.handle(ctx, item)
			if !forward {
				return
			}
			select {
			case s.out <- result:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Stage[In, Out]) handle(ctx context.Context, item In) (Out, bool) {
	start := time.Now()

	attempt := 0
	var result Out
	err := s.policy.Do(ctx, func(callCtx context.Context) error {
		attempt++
		if attempt > 1 && s.observer != nil {
			s.observer.StageRetry(s.name)
		}
		r, perr := s.process(callCtx, item)
		if perr != nil {
			return perr
		}
		result = r
		return nil
	})

	if err != nil {
		if ctx.Err() != nil {
			// Session is shutting down; drop the in-flight item.
			var zero Out
			return zero, false
		}
		s.logger.Warn("stage processing failed, degrading result",
			slog.String("stage", s.name),
			slog.String("error", err.Error()))
		if s.observer != nil {
			s.observer.StageDegraded(s.name)
		}
		result = s.degrade(item, err)
	}

	if s.observer != nil {
		s.observer.StageProcessed(s.name, time.Since(start))
	}
	return result, true
}
