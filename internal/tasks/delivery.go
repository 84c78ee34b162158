package tasks

import (
	"context"

	"go.uber.org/zap"
)

// Deliver hands the oldest queued report to the transport. At most one
// report leaves the queue per call; on failure the head stays in place and
// is retried on the next period.
func (e *Executor) Deliver(ctx context.Context) {
	rec, ok := e.queue.Peek()
	if !ok {
		return
	}

	if err := e.transport.SendReport(ctx, rec); err != nil {
		e.logger.Warn("Report delivery failed, will retry",
			zap.String("artifact", rec.FileName()),
			zap.Uint32("dest", rec.Destination()),
			zap.Int("queue_depth", e.queue.Len()),
			zap.Error(err))
		e.recordDeliveryFailure()
		return
	}

	e.queue.Drop()
	e.recordDelivery()

	e.logger.Info("Report delivered",
		zap.String("artifact", rec.FileName()),
		zap.Uint32("dest", rec.Destination()),
		zap.Int("queue_depth", e.queue.Len()))
}
