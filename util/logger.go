package util

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger 按运行模式构建日志
// release 输出 JSON，其他模式输出带颜色的控制台日志
func NewLogger(mode string) (*zap.Logger, error) {
	var config zap.Config

	if mode == "release" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return config.Build()
}

// Sync 刷新日志缓冲
func Sync(logger *zap.Logger) {
	if logger != nil {
		_ = logger.Sync()
	}
}
