package bus

import "time"

// Scheduler topics. Subscribing to "task." or "scheduler." selects a family.
const (
	TopicGoalQueued  = "goal.queued"
	TopicGoalDropped = "goal.dropped"

	TopicTaskStarted   = "task.started"
	TopicTaskCompleted = "task.completed"
	TopicTaskFailed    = "task.failed"
	TopicTaskTimeout   = "task.timeout"
	TopicTaskProgress  = "task.progress"

	TopicSchedulerReset   = "scheduler.reset"
	TopicSchedulerFault   = "scheduler.fault"
	TopicSchedulerThreat  = "scheduler.threat"
	TopicSchedulerStopped = "scheduler.stopped"

	TopicAnnounce = "agent.announce"
)

// GoalEvent accompanies goal.* topics.
type GoalEvent struct {
	GoalID string `json:"goal_id"`
	Type   string `json:"type"`
	Urgent bool   `json:"urgent"`
	Source string `json:"source"`
	Reason string `json:"reason"`
}

// TaskEvent accompanies task.* topics.
type TaskEvent struct {
	TaskID   string        `json:"task_id"`
	Type     string        `json:"type"`
	Summary  string        `json:"summary"`
	Reason   string        `json:"reason"`
	Message  string        `json:"message"`
	Duration time.Duration `json:"duration"`
}

// FaultEvent accompanies scheduler.fault and scheduler.reset.
type FaultEvent struct {
	Error       string        `json:"error"`
	Consecutive int           `json:"consecutive"`
	Backoff     time.Duration `json:"backoff"`
}

// ThreatEvent accompanies scheduler.threat.
type ThreatEvent struct {
	Kind     string  `json:"kind"`
	Distance float64 `json:"distance"`
	Health   float64 `json:"health"`
	Action   string  `json:"action"`
}
