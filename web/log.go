package web

import "go.uber.org/zap"

var logger = zap.NewNop()

// SetLogger sets the logger for the web server, nil restores the default no-op logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}
