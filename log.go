// Package quic is a thin façade over the transport package: it builds the
// zap-backed *transport.Logger the teacher's own root package wired its
// connections to, so callers (including cmd/quince) don't need to reach
// into go.uber.org/zap directly just to get sane defaults (SPEC_FULL.md
// §2.1).
package quic

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quince-project/quince/transport"
)

// LogLevel selects the verbosity of NewZapLogger's default encoder,
// mirroring the teacher's off/error/info/debug/trace scale without
// resurrecting its hand-rolled level type.
type LogLevel int

const (
	LogLevelOff LogLevel = iota
	LogLevelError
	LogLevelInfo
	LogLevelDebug
)

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LogLevelError:
		return zapcore.ErrorLevel
	case LogLevelInfo:
		return zapcore.InfoLevel
	case LogLevelDebug:
		return zapcore.DebugLevel
	default:
		return zapcore.FatalLevel + 1 // above any real level: nothing logs
	}
}

// NewZapLogger builds a *transport.Logger writing qlog-shaped JSON lines to
// w at the given level, for callers that don't need to construct their own
// *zap.Logger (cmd/quince's default, SPEC_FULL.md §2.1).
func NewZapLogger(w io.Writer, level LogLevel) *transport.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "time"
	encoderCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.AddSync(w),
		level.zapLevel(),
	)
	return transport.NewLogger(zap.New(core))
}

// NewNopLogger returns a *transport.Logger that discards every event, the
// default a connection gets when constructed without one.
func NewNopLogger() *transport.Logger {
	return transport.NewNopLogger()
}

// NewMetrics builds a Prometheus-backed *transport.Metrics; pair it with
// (*transport.Logger).WithMetrics to have connection events update its
// counters as they're logged (SPEC_FULL.md §3 domain stack).
func NewMetrics() *transport.Metrics {
	return transport.NewMetrics()
}
