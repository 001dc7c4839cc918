package task

import (
	"github.com/VictoriaMetrics/metrics"
)

var (
	tasksSubmitted   = metrics.NewCounter("ikv_tasks_submitted_total")
	tasksCompleted   = metrics.NewCounter("ikv_tasks_completed_total")
	completionPanics = metrics.NewCounter("ikv_completion_panics_total")
	bodyDuration     = metrics.NewHistogram("ikv_task_body_duration_seconds")
)
