package transport

import "github.com/btcsuite/btclog/v2"

// log is this package's subsystem logger. It performs no output until the
// embedding application calls UseLogger, matching the teacher's
// per-package logging convention.
var log btclog.Logger = btclog.Disabled

// DisableLog disables all library log output. Logging is disabled by
// default until UseLogger is called.
func DisableLog() {
	log = btclog.Disabled
}

// UseLogger sets the subsystem logger used by the transport package.
func UseLogger(logger btclog.Logger) {
	log = logger
}
