package tasks

import (
	"context"
	"fmt"

	"github.com/stone-age-io/fieldnode/internal/report"
	"github.com/stone-age-io/fieldnode/internal/wire"
	"go.uber.org/zap"
)

// Capture runs one capture cycle: acquire a frame, persist it under the next
// sequence number, commit the counter, classify, and queue a report when the
// confidence reaches the threshold. Every failure ends the cycle and the
// frame is always released.
func (e *Executor) Capture(ctx context.Context) {
	if e.counter == nil {
		e.logger.Warn("Capture skipped, storage not ready")
		return
	}

	e.recordCapture()

	if e.counter.Exhausted() {
		e.logger.Error("Sequence counter exhausted, no further pictures can be numbered",
			zap.Uint32("counter", e.counter.Value()))
		e.recordCaptureFailure()
		return
	}

	frame, err := e.camera.Acquire(ctx)
	if err != nil {
		e.logger.Warn("Camera capture failed", zap.String("camera", e.camera.Name()), zap.Error(err))
		e.recordCaptureFailure()
		return
	}
	defer e.camera.Release(frame)

	// The candidate lives only in this cycle; a failed write never leaks it
	candidate := e.counter.Next()
	name := report.PictureName(e.ShortID(), candidate)

	path, err := e.store.WritePicture(name, frame.Data)
	if err != nil {
		e.logger.Error("Failed to save picture",
			zap.String("name", name),
			zap.Uint32("seq", candidate),
			zap.Error(err))
		e.recordCaptureFailure()
		return
	}

	if err := e.counter.Advance(candidate); err != nil {
		e.logger.Error("Failed to commit sequence counter",
			zap.String("path", path),
			zap.Uint32("seq", candidate),
			zap.Error(err))
		e.recordCaptureFailure()
		return
	}
	e.recordPictureSaved(candidate)

	e.logger.Info("Picture saved",
		zap.String("path", path),
		zap.Int("bytes", len(frame.Data)),
		zap.Uint32("seq", candidate))

	confidence, err := e.classifier.Score(ctx, frame)
	if err != nil {
		e.logger.Warn("Classification failed, no report queued",
			zap.String("classifier", e.classifier.Name()),
			zap.String("name", name),
			zap.Error(err))
		e.recordCaptureFailure()
		return
	}

	if confidence < e.settings.Threshold {
		e.logger.Info("Confidence below threshold, report discarded",
			zap.String("name", name),
			zap.Float64("confidence", confidence),
			zap.Float64("threshold", e.settings.Threshold))
		e.recordDiscarded()
		return
	}

	rec, err := report.New(e.settings.NodeID, e.settings.Destination, candidate, confidence)
	if err != nil {
		e.logger.Error("Failed to build report", zap.String("name", name), zap.Error(err))
		e.recordCaptureFailure()
		return
	}

	e.enqueue(rec)
}

// enqueue pushes a report, evicting the oldest when the queue is full
func (e *Executor) enqueue(rec report.Record) {
	evicted, dropped := e.queue.Push(rec)
	e.recordEnqueued(dropped)

	e.logger.Info("Report queued",
		zap.String("artifact", rec.FileName()),
		zap.Float64("confidence", rec.Confidence()),
		zap.Int("queue_depth", e.queue.Len()))

	if !dropped {
		return
	}

	e.logger.Warn("Report queue full, oldest report dropped",
		zap.String("dropped", evicted.FileName()),
		zap.Int("capacity", e.queue.Cap()))

	if e.settings.SpillDropped {
		e.spill(evicted)
	}
}

// spill writes an evicted report next to the pictures so it can be
// recovered from the card
func (e *Executor) spill(rec report.Record) {
	data, err := wire.Encode(rec)
	if err != nil {
		e.logger.Error("Failed to encode dropped report", zap.String("artifact", rec.FileName()), zap.Error(err))
		return
	}

	name := fmt.Sprintf("%d_%d.json", rec.ShortID(), rec.Sequence())
	path, err := e.store.WriteReport(name, data)
	if err != nil {
		e.logger.Error("Failed to spill dropped report", zap.String("name", name), zap.Error(err))
		return
	}

	e.recordSpilled()
	e.logger.Info("Dropped report spilled to storage", zap.String("path", path))
}
