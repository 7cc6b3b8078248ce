package util

import (
	"time"

	"go.uber.org/zap"
)

// Trace 记录一个步骤的耗时，用法: defer util.Trace(logger, "step")()
func Trace(logger *zap.Logger, msg string) func() {
	start := time.Now()
	logger.Debug("start", zap.String("step", msg))
	return func() {
		logger.Info("done", zap.String("step", msg), zap.Duration("cost", time.Since(start)))
	}
}
