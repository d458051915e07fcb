package wire

import (
	"fmt"
	"net"
	"time"

	btcwire "github.com/btcsuite/btcd/wire"
)

// loopback is the address Kyoto always reports as its own in the version
// message it sends, regardless of its real outbound address, so that it
// never reveals the host's network identity to a peer (spec §1).
var loopback = net.IPv4(127, 0, 0, 1)

// UserAgent returns the user agent string Kyoto announces, optionally
// extended with an embedder-supplied suffix, e.g. "/Kyoto:0.1.0/" or
// "/Kyoto:0.1.0/my-wallet:2.3/".
func UserAgent(suffix string) string {
	base := fmt.Sprintf("/%s:%s/", UserAgentName, UserAgentVersion)
	if suffix == "" {
		return base
	}

	return base + suffix + "/"
}

// BuildVersionMsg constructs the version message Kyoto sends on every
// connection. theirAddr is the remote endpoint as observed by the dialer;
// the sender address always encodes loopback, and nonce is sent as given;
// no caller compares a received nonce against it to detect self-connections.
func BuildVersionMsg(theirAddr *net.TCPAddr, services btcwire.ServiceFlag,
	bestHeight int32, nonce uint64, userAgentSuffix string) *btcwire.MsgVersion {

	theirNA := btcwire.NewNetAddressIPPort(
		theirAddr.IP, uint16(theirAddr.Port), 0,
	)
	ourNA := btcwire.NewNetAddressIPPort(loopback, 0, services)

	msg := btcwire.NewMsgVersion(ourNA, theirNA, nonce, bestHeight)
	msg.UserAgent = UserAgent(userAgentSuffix)
	msg.ProtocolVersion = int32(ProtocolVersion)
	msg.Services = services
	msg.Timestamp = time.Now()
	msg.DisableRelayTx = false

	return msg
}
