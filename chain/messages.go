package chain

import (
	btcwire "github.com/btcsuite/btcd/wire"

	"github.com/kyoto-spv/kyoto/actor"
	"github.com/kyoto-spv/kyoto/peer"
	"github.com/kyoto-spv/kyoto/supervisor"
)

// peerReadyMsg tells the engine a session has reached peer.Ready and is
// available for requests; the engine starts or continues header sync if
// this is (or becomes) the first data peer.
type peerReadyMsg struct {
	actor.BaseMessage
	session *peer.Session
	role    supervisor.Role
}

func (peerReadyMsg) MessageType() string { return "peerReady" }

// peerClosedMsg tells the engine a session it was using has gone away.
// Any requests the engine had outstanding against it need reassigning.
type peerClosedMsg struct {
	actor.BaseMessage
	session *peer.Session
}

func (peerClosedMsg) MessageType() string { return "peerClosed" }

// inboundMsg forwards one message read off a peer session's Inbound()
// channel into the engine's single-threaded processing loop.
type inboundMsg struct {
	actor.BaseMessage
	session *peer.Session
	msg     btcwire.Message
}

func (inboundMsg) MessageType() string { return "inbound" }

// addScriptMsg asks the engine to start watching script, possibly
// triggering a rescan if sinceHeight is below the watchlist's current
// floor.
type addScriptMsg struct {
	actor.BaseMessage
	script      []byte
	sinceHeight int32
}

func (addScriptMsg) MessageType() string { return "addScript" }

// shutdownMsg is accepted by receive and has no effect; the processing loop
// stops only through Engine.Stop.
type shutdownMsg struct {
	actor.BaseMessage
}

func (shutdownMsg) MessageType() string { return "shutdown" }
