package supervisor

import "github.com/btcsuite/btcd/wire"

// Role distinguishes the two peer classes spec §4.5 names: a DataPeer
// advertises NODE_COMPACT_FILTERS and can serve headers/filters/blocks; a
// GossipPeer is any other valid peer, used for address relay and
// transaction broadcast.
type Role uint8

const (
	GossipPeer Role = iota
	DataPeer
)

func (r Role) String() string {
	if r == DataPeer {
		return "data"
	}
	return "gossip"
}

// classify assigns a Role from the services a peer advertised in its
// version message.
func classify(services wire.ServiceFlag) Role {
	if services&wire.SFNodeCF != 0 {
		return DataPeer
	}
	return GossipPeer
}
