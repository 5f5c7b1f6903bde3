package telemetry

import (
	"context"

	"go.uber.org/zap"
)

// zapLogger wraps go.uber.org/zap for runtime logging. This mirrors the
// teacher's own choice of ambient logging library (its ClueLogger wraps
// goa.design/clue/log, which itself wraps zap); this runtime talks to zap
// directly since clue is specific to Goa-DSL services and is out of scope
// here (see DESIGN.md).
type zapLogger struct {
	l *zap.SugaredLogger
}

// NewZapLogger constructs a Logger backed by a production zap configuration.
// Debug-level lines are only emitted when debug is true, matching
// CC_LOGGER_ENABLE_DEBUG.
func NewZapLogger(debug bool) (Logger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &zapLogger{l: l.Sugar()}, nil
}

func (z *zapLogger) Debug(_ context.Context, msg string, kv ...any) { z.l.Debugw(msg, kv...) }
func (z *zapLogger) Info(_ context.Context, msg string, kv ...any)  { z.l.Infow(msg, kv...) }
func (z *zapLogger) Warn(_ context.Context, msg string, kv ...any)  { z.l.Warnw(msg, kv...) }
func (z *zapLogger) Error(_ context.Context, msg string, kv ...any) { z.l.Errorw(msg, kv...) }
