package discovery

import (
	"github.com/btcsuite/btclog"
)

// log is the package-level logger used throughout discovery. It defaults to
// the disabled backend; callers wire in a real one via UseLogger.
var log btclog.Logger

func init() {
	DisableLog()
}

// DisableLog disables all library log output. Logging is disabled by
// default until UseLogger is called.
func DisableLog() {
	log = btclog.Disabled
}

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}
