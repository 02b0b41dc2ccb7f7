package logger

import "go.uber.org/zap"

// ZapLogger adapts a zap.SugaredLogger.
type ZapLogger struct {
	l *zap.SugaredLogger
}

func NewZapLogger(l *zap.Logger) *ZapLogger {
	if l == nil {
		l, _ = zap.NewProduction()
	}
	return &ZapLogger{l: l.Sugar()}
}

func (z *ZapLogger) Debug(msg string, keyvals ...any) { z.l.Debugw(msg, keyvals...) }
func (z *ZapLogger) Info(msg string, keyvals ...any)  { z.l.Infow(msg, keyvals...) }
func (z *ZapLogger) Warn(msg string, keyvals ...any)  { z.l.Warnw(msg, keyvals...) }
func (z *ZapLogger) Error(msg string, keyvals ...any) { z.l.Errorw(msg, keyvals...) }
