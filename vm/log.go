package vm

import (
	"sync"

	"go.uber.org/zap"
)

// Package-level logger, wired the way wasm-runtime's engine package does
// it: silent by default, replaceable once by the embedding application.
var (
	logger     *zap.Logger
	loggerOnce sync.Once
	loggerMu   sync.Mutex
)

// Logger returns the package's logger, defaulting to a no-op logger so the
// VM never writes anything unless a caller opts in via SetLogger.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		loggerMu.Lock()
		defer loggerMu.Unlock()
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	loggerMu.Lock()
	defer loggerMu.Unlock()
	return logger
}

// SetLogger installs l as the package logger. Call once during process
// startup, before any VM is constructed.
func SetLogger(l *zap.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = l
}
