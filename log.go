package kyoto

import (
	"github.com/btcsuite/btclog/v2"

	"github.com/kyoto-spv/kyoto/addrbook"
	"github.com/kyoto-spv/kyoto/chain"
	"github.com/kyoto-spv/kyoto/peer"
	"github.com/kyoto-spv/kyoto/supervisor"
	"github.com/kyoto-spv/kyoto/transport"
)

// log is the node facade's subsystem logger. It performs no output until
// the embedding application calls UseLogger, matching the per-package
// logging convention used throughout this module.
var log btclog.Logger = btclog.Disabled

// DisableLog disables all library log output. Logging is disabled by
// default until UseLogger is called.
func DisableLog() {
	log = btclog.Disabled
}

// UseLogger sets the subsystem logger the node facade uses directly, and
// forwards it to every subsystem package so a single call wires logging
// for the whole node.
func UseLogger(logger btclog.Logger) {
	log = logger
	addrbook.UseLogger(logger)
	chain.UseLogger(logger)
	peer.UseLogger(logger)
	supervisor.UseLogger(logger)
	transport.UseLogger(logger)
}
