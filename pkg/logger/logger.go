package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu    sync.RWMutex
	log   *zap.Logger
	sugar *zap.SugaredLogger
)

// Init initializes the global logger.
// Environment can be "dev", "uat", or "prod"; "dev" and "local" get the
// colored console encoder.
func Init(service, env, level string) {
	logger, err := build(service, env, level)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	set(logger)

	logger.Sugar().Infow("logger initialized",
		"env", env,
		"level", level,
	)
}

func build(service, env, level string) (*zap.Logger, error) {
	var cfg zap.Config
	if env == "dev" || env == "local" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}

	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.InitialFields = map[string]any{"service": service}

	return cfg.Build(zap.AddCaller())
}

func set(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	log = l
	sugar = l.Sugar()
}

// Replace swaps the global logger, e.g. for zaptest or observer loggers in
// tests. It returns a func restoring the previous one.
func Replace(l *zap.Logger) func() {
	mu.RLock()
	prev := log
	mu.RUnlock()
	set(l)
	return func() {
		if prev != nil {
			set(prev)
		}
	}
}

// L returns the base structured Zap logger (for performance-sensitive paths).
func L() *zap.Logger {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l == nil {
		Init("unknown", "dev", "info")
		return L()
	}
	return l
}

// S returns the Sugared logger (for convenience).
func S() *zap.SugaredLogger {
	mu.RLock()
	s := sugar
	mu.RUnlock()
	if s == nil {
		Init("unknown", "dev", "info")
		return S()
	}
	return s
}

// Named returns the global logger tagged with a component name.
func Named(component string) *zap.Logger {
	return L().Named(component)
}

// Sync flushes any buffered logs (defer this in main()).
func Sync() {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l != nil {
		_ = l.Sync()
	}
}
