package taskname

const (
	ParticipationExpirySweep = "participation:expiry:sweep"
)

// Queues served by the worker, with their asynq priority weights.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
)

var QueueWeights = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
}
