package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/canonica-labs/groundsql/internal/config"
)

// Structured field names shared by every component.
const (
	FieldQuestionID = "question_id"
	FieldStep       = "step"
	FieldStage      = "stage"
	FieldTables     = "tables"
	FieldDurationMS = "duration_ms"
	FieldSource     = "source"
	FieldUser       = "user"
	FieldAttempt    = "attempt"
)

// NewLogger builds the process logger. Format "json" gives production JSON
// lines; anything else gives a console encoder for humans. Logs go to
// stderr so stdout stays clean for command output.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return nil, err
		}
	}

	if strings.EqualFold(cfg.Format, "json") {
		zc := zap.NewProductionConfig()
		zc.Level = level
		zc.OutputPaths = []string{"stderr"}
		zc.ErrorOutputPaths = []string{"stderr"}
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return zc.Build()
	}

	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(os.Stderr), level)
	return zap.New(core), nil
}

// Nop returns a discarding sugared logger for optional logger fields.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		return Nop()
	}
	return l
}
