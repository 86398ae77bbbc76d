package interpose

import (
	"sync/atomic"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

// Loggers, one per component. Messages come out as "[interpose.<component>] ...".
var (
	hookLog     = commonlog.GetLogger("interpose.hook")
	subclassLog = commonlog.GetLogger("interpose.subclass")
	registryLog = commonlog.GetLogger("interpose.registry")
	waiterLog   = commonlog.GetLogger("interpose.waiter")
)

var loggingEnabled atomic.Bool

func init() {
	commonlog.SetMaxLevel(commonlog.None, "interpose")
}

// SetLoggingEnabled turns diagnostic logging for the whole package on or off.
// Logging is off by default.
func SetLoggingEnabled(enabled bool) {
	loggingEnabled.Store(enabled)
	if enabled {
		commonlog.SetMaxLevel(commonlog.Debug, "interpose")
	} else {
		commonlog.SetMaxLevel(commonlog.None, "interpose")
	}
}

// LoggingEnabled reports the current logging toggle.
func LoggingEnabled() bool {
	return loggingEnabled.Load()
}

// logf writes a debug line if logging is enabled.
func logf(log commonlog.Logger, format string, args ...any) {
	if loggingEnabled.Load() {
		log.Debugf(format, args...)
	}
}
