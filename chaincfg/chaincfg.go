// Package chaincfg binds Kyoto's three supported networks to the parameter
// sets btcd/chaincfg already ships, and adds the pieces that package does
// not carry: Kyoto's own anchor checkpoint convention and a DNS seed list
// per network for address-book bootstrap (spec §6).
package chaincfg

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Network identifies one of the three networks Kyoto can connect to.
type Network uint8

const (
	Mainnet Network = iota
	Signet
	Regtest
)

func (n Network) String() string {
	switch n {
	case Mainnet:
		return "mainnet"
	case Signet:
		return "signet"
	case Regtest:
		return "regtest"
	default:
		return fmt.Sprintf("unknown-network-%d", uint8(n))
	}
}

// Params returns the btcd chain parameters for n: genesis hash, difficulty
// limits, checkpoints, and the wire magic used to frame messages on n.
func (n Network) Params() (*chaincfg.Params, error) {
	switch n {
	case Mainnet:
		return &chaincfg.MainNetParams, nil
	case Signet:
		return &chaincfg.SigNetParams, nil
	case Regtest:
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("chaincfg: unknown network %d", uint8(n))
	}
}

// DNSSeeds returns the DNS seed hostnames Kyoto resolves when both address
// book tables are empty (spec §6). Regtest has none: a local test network
// has no public seed infrastructure, and callers are expected to configure
// peers directly.
func (n Network) DNSSeeds() []chaincfg.DNSSeed {
	switch n {
	case Mainnet:
		return chaincfg.MainNetParams.DNSSeeds
	case Signet:
		return chaincfg.SigNetParams.DNSSeeds
	default:
		return nil
	}
}

// AnchorCheckpoint is the height/hash pair an embedder supplies to start
// header sync from, rather than genesis. Kyoto never derives one on its
// own: a header-only SPV core cannot know a safe anchor for a network it
// has never synced, so the embedder must supply it (spec §1, §6).
type AnchorCheckpoint struct {
	Height int32
	Hash   chainhash.Hash
}

// Genesis returns the anchor checkpoint at height zero, i.e. the network's
// genesis block. Useful for embedders that want to sync from the beginning
// rather than supply their own anchor.
func (n Network) Genesis() (AnchorCheckpoint, error) {
	params, err := n.Params()
	if err != nil {
		return AnchorCheckpoint{}, err
	}

	return AnchorCheckpoint{
		Height: 0,
		Hash:   *params.GenesisHash,
	}, nil
}

// DefaultPort returns the standard P2P listening port for n, used when a
// configured or seeded peer address omits one.
func (n Network) DefaultPort() (string, error) {
	params, err := n.Params()
	if err != nil {
		return "", err
	}

	return params.DefaultPort, nil
}
