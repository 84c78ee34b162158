package tasks

import (
	"context"
	"fmt"

	"github.com/stone-age-io/fieldnode/internal/utils"
	"go.uber.org/zap"
)

// LogUptime appends the minutes since start to the uptime log
func (e *Executor) LogUptime(ctx context.Context) {
	if e.uptimeLog == "" {
		e.logger.Warn("Uptime log unavailable, entry skipped")
		e.recordUptime(false)
		return
	}

	line := fmt.Sprintf("%.2f min", utils.Minutes(e.clock.Since(e.startTime)))
	if err := e.store.AppendLine(e.uptimeLog, line); err != nil {
		e.logger.Warn("Failed to append uptime entry",
			zap.String("path", e.uptimeLog),
			zap.Error(err))
		e.recordUptime(false)
		return
	}

	e.recordUptime(true)
	e.logger.Debug("Uptime logged", zap.String("path", e.uptimeLog), zap.String("entry", line))
}
