package sweeper

import (
	"context"
	"errors"
	"time"

	"smallbiznis-missions/pkg/config"
	"smallbiznis-missions/pkg/task"
	"smallbiznis-missions/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Scheduler struct {
	enqueuer task.Enqueuer
	interval time.Duration
}

func NewScheduler(enqueuer task.Enqueuer, cfg *config.Config) *Scheduler {
	interval := cfg.Sweeper.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{enqueuer: enqueuer, interval: interval}
}

// StartScheduler runs the enqueue loop for the lifetime of the app.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started expiry sweep scheduler", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.enqueue(ctx)
	for {
		select {
		case <-ticker.C:
			s.enqueue(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

// enqueue submits one sweep. asynq.Unique collapses enqueues that overlap
// a sweep still pending in the queue.
func (s *Scheduler) enqueue(ctx context.Context) {
	t := asynq.NewTask(taskname.ParticipationExpirySweep, nil)
	info, err := s.enqueuer.Enqueue(ctx, t,
		asynq.Queue(taskname.QueueCritical),
		asynq.Unique(s.interval),
		asynq.MaxRetry(0),
		asynq.Timeout(s.interval),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			zap.L().Debug("[Scheduler] sweep already queued")
			return
		}
		zap.L().Error("[Scheduler] failed to enqueue sweep", zap.Error(err))
		return
	}
	zap.L().Debug("[Scheduler] sweep enqueued", zap.String("task_id", info.ID))
}
