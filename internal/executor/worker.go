package executor

import (
	"context"

	"github.com/vk/flowgrid/internal/ctxlog"
)

// worker is the core processing loop for a single concurrent worker.
func (p *Pool) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker started.", "workerID", workerID)

	for {
		task, ok := p.queue.pop(ctx)
		if !ok {
			break
		}
		task.Run(ctx)
	}
	logger.Debug("Worker finished.", "workerID", workerID)
}
