package provider

import (
	"fmt"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/loomforge/loomforge/common/logger"
)

type leveledLoggerWrapper struct {
	realLogger logger.Log
}

// newLeveledLogger adapts logger.Log onto retryablehttp.LeveledLogger, so HTTP-based adapters
// can hand their structured logger straight to a retryablehttp.Client. Retries themselves stay
// disabled on that client (RetryMax: 0) since Adapter.invoke is the single place retry/backoff
// policy lives; this wrapper exists purely to surface retryablehttp's own request/response
// tracing through the same logger every other component uses.
func newLeveledLogger(realLogger logger.Log) retryablehttp.LeveledLogger {
	return &leveledLoggerWrapper{realLogger: realLogger}
}

func (l *leveledLoggerWrapper) Error(msg string, keysAndValues ...interface{}) {
	l.realLogger.Error(l.convertMsg(msg, keysAndValues...))
}

func (l *leveledLoggerWrapper) Info(msg string, keysAndValues ...interface{}) {
	l.realLogger.Info(l.convertMsg(msg, keysAndValues...))
}

func (l *leveledLoggerWrapper) Debug(msg string, keysAndValues ...interface{}) {
	l.realLogger.Debug(l.convertMsg(msg, keysAndValues...))
}

func (l *leveledLoggerWrapper) Warn(msg string, keysAndValues ...interface{}) {
	l.realLogger.Warn(l.convertMsg(msg, keysAndValues...))
}

func (l *leveledLoggerWrapper) convertMsg(msg string, keysAndValues ...interface{}) string {
	return fmt.Sprintf("%s: %v", msg, keysAndValues)
}
