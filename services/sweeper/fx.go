package sweeper

import (
	"smallbiznis-missions/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("sweeper.service",
	fx.Provide(NewService),
)

// Worker registers the sweep handler and drives the schedule. It expects
// task.Server and task.Client in the same app.
var Worker = fx.Module("sweeper.worker",
	fx.Provide(NewScheduler),
	fx.Invoke(RegisterHandlers),
	fx.Invoke(StartScheduler),
)

func RegisterHandlers(mux *asynq.ServeMux, s *Service) {
	mux.HandleFunc(taskname.ParticipationExpirySweep, s.HandleSweepTask)
}
