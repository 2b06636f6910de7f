package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var debugEnabled atomic.Bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDebug turns debug-level output on or off. Rejected GPS samples and
// flush confirmations are only reported at debug level.
func SetDebug(enabled bool) {
	debugEnabled.Store(enabled)
}

// DebugEnabled reports whether Debugf output is currently emitted.
func DebugEnabled() bool {
	return debugEnabled.Load()
}

// Debugf logs through Logf with a "[debug]" prefix when debug output is on.
func Debugf(format string, v ...interface{}) {
	if !debugEnabled.Load() {
		return
	}
	Logf("[debug] "+format, v...)
}
