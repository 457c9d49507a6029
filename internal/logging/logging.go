// Package logging adapts go.uber.org/zap into the orchestrator.Logger
// seam. Grounded on xpanvictor-xarvis's pkg/Logger (embeds
// *zap.SugaredLogger, a single BuildLogger(debug bool) constructor
// switching development/production zap.Config).
package logging

import "go.uber.org/zap"

// Logger embeds a zap.SugaredLogger and narrows it to the four
// Debug/Info/Warn/Error(msg string, args ...interface{}) methods
// orchestrator.Logger expects, routed through Sugared's *w
// (key/value) variants.
type Logger struct {
	*zap.SugaredLogger
}

// New builds a production or development zap logger depending on
// debug, mirroring xpanvictor-xarvis's encoder-key customization.
func New(debug bool) (*Logger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.CallerKey = "caller"

	zl, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, err
	}
	return &Logger{zl.Sugar()}, nil
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.Debugw(msg, args...) }
func (l *Logger) Info(msg string, args ...interface{})  { l.Infow(msg, args...) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.Warnw(msg, args...) }
func (l *Logger) Error(msg string, args ...interface{}) { l.Errorw(msg, args...) }
