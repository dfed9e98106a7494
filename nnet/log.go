package nnet

import "go.uber.org/zap"

var logger = zap.NewNop()

// SetLogger sets the logger used for training progress, nil restores the default no-op logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

// Logger returns the current package logger.
func Logger() *zap.Logger {
	return logger
}
