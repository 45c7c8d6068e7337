package queue

import (
	"github.com/ThreeDotsLabs/watermill"

	"github.com/hupe1980/commercemesh/logging"
)

// loggerAdapter bridges watermill's logging contract onto logging.Logger so
// the pubsub internals log through the same sink as the rest of the pipeline.
type loggerAdapter struct {
	logger logging.Logger
	fields watermill.LogFields
}

func newLoggerAdapter(l logging.Logger) watermill.LoggerAdapter {
	return &loggerAdapter{logger: logging.NonNil(l)}
}

func (a *loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Error(msg, append(a.args(fields), "error", err)...)
}

func (a *loggerAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Info(msg, a.args(fields)...)
}

func (a *loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, a.args(fields)...)
}

func (a *loggerAdapter) Trace(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, a.args(fields)...)
}

func (a *loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &loggerAdapter{logger: a.logger, fields: a.fields.Add(fields)}
}

func (a *loggerAdapter) args(fields watermill.LogFields) []any {
	merged := a.fields.Add(fields)
	args := make([]any, 0, len(merged)*2)
	for k, v := range merged {
		args = append(args, k, v)
	}
	return args
}
