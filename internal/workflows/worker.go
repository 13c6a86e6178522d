package workflows

import (
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// NewWorker returns a worker serving batch workflows on taskQueue.
func NewWorker(c client.Client, taskQueue string, acts *Activities) worker.Worker {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(UnitBatchWorkflow)
	w.RegisterActivity(acts)
	return w
}
