package sweeper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"smallbiznis-missions/pkg/config"
	"smallbiznis-missions/pkg/db/option"
	"smallbiznis-missions/pkg/lock"
	"smallbiznis-missions/services/participation"
	"smallbiznis-missions/services/quota"

	"github.com/bwmarrin/snowflake"
	"github.com/grafana/pyroscope-go"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const lockName = "sweeper"

var (
	expiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweeper_participations_expired_total",
		Help: "Participations moved to EXPIRED by the sweeper.",
	})
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweeper_runs_total",
		Help: "Sweep runs by final status.",
	}, []string{"status"})
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	rdb  redis.UniversalClient
	now  func() time.Time

	participations *participation.Service
	quota          *quota.Service
	lockTTL        time.Duration
	owner          string
}

type Params struct {
	fx.In
	DB             *gorm.DB
	Node           *snowflake.Node
	Redis          *redis.Client
	Config         *config.Config
	Participations *participation.Service
	Quota          *quota.Service
}

func NewService(p Params) *Service {
	return newService(p.DB, p.Node, p.Redis, p.Participations, p.Quota, p.Config.Sweeper.LockTTL)
}

func newService(db *gorm.DB, node *snowflake.Node, rdb redis.UniversalClient, participations *participation.Service, quotas *quota.Service, lockTTL time.Duration) *Service {
	if lockTTL <= 0 {
		lockTTL = time.Minute
	}
	host, _ := os.Hostname()
	return &Service{
		db:             db,
		node:           node,
		rdb:            rdb,
		now:            time.Now,
		participations: participations,
		quota:          quotas,
		lockTTL:        lockTTL,
		owner:          fmt.Sprintf("%s-%d", host, os.Getpid()),
	}
}

// ForceExpire moves every IN_PROGRESS participation whose deadline is at or
// before now to EXPIRED. Consumed quota slots are not returned.
func (s *Service) ForceExpire(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.participations.ExpireDue(ctx, now)
	if err != nil {
		return 0, err
	}
	expiredTotal.Add(float64(n))
	return n, nil
}

// Run performs one sweep under the cluster-wide lock and records it. A sweep
// that finds the lock taken is recorded as skipped.
func (s *Service) Run(ctx context.Context) (*SweepRun, error) {
	now := s.now().UTC()
	run := &SweepRun{
		ID:        s.node.Generate().String(),
		Owner:     s.owner,
		Status:    RunRunning,
		StartedAt: now,
	}
	log := zap.L().With(zap.String("run_id", run.ID))

	locker := lock.NewLocker(s.rdb, lockName, s.owner+"-"+run.ID)
	if err := locker.Lock(ctx, s.lockTTL); err != nil {
		if !errors.Is(err, lock.ErrLockHeld) {
			log.Error("failed to acquire sweeper lock", zap.Error(err))
			return nil, err
		}
		run.Status = RunSkipped
		log.Debug("sweep already running elsewhere")
		return run, s.finish(ctx, run)
	}
	defer func() {
		if err := locker.Unlock(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to release sweeper lock", zap.Error(err))
		}
	}()

	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}

	var errs []error
	expired, err := s.ForceExpire(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("expire participations: %w", err))
	}
	closed, err := s.quota.CloseElapsed(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("close mission days: %w", err))
	}

	run.Expired = expired
	run.DaysClosed = closed
	run.Status = RunSuccess
	sweepErr := errors.Join(errs...)
	if sweepErr != nil {
		run.Status = RunFailed
		run.ErrorMsg = sweepErr.Error()
		log.Error("sweep failed", zap.Error(sweepErr))
	} else {
		log.Info("sweep finished", zap.Int64("expired", expired), zap.Int64("days_closed", closed))
	}

	if err := s.finish(ctx, run); err != nil {
		return run, err
	}
	return run, sweepErr
}

func (s *Service) finish(ctx context.Context, run *SweepRun) error {
	completed := s.now().UTC()
	run.CompletedAt = &completed
	runsTotal.WithLabelValues(string(run.Status)).Inc()

	if run.Status == RunSkipped {
		return s.db.WithContext(ctx).Create(run).Error
	}
	return s.db.WithContext(ctx).
		Model(&SweepRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]any{
			"status":       run.Status,
			"expired":      run.Expired,
			"days_closed":  run.DaysClosed,
			"error_msg":    run.ErrorMsg,
			"completed_at": completed,
		}).Error
}

// HandleSweepTask is the asynq handler for the periodic sweep task. Profiles
// taken during the run carry the task type as a label.
func (s *Service) HandleSweepTask(ctx context.Context, t *asynq.Task) error {
	var err error
	pyroscope.TagWrapper(ctx, pyroscope.Labels("task", t.Type()), func(ctx context.Context) {
		_, err = s.Run(ctx)
	})
	return err
}

// LastRuns returns the most recent sweeps, newest first.
func (s *Service) LastRuns(ctx context.Context, limit int) ([]*SweepRun, error) {
	var runs []*SweepRun
	err := s.db.WithContext(ctx).
		Scopes(
			option.WithSortBy(option.QuerySortBy{SortBy: "started_at", OrderBy: "desc"}),
			option.WithLimit(limit),
		).
		Find(&runs).Error
	return runs, err
}
