package chaincfg_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kyoto-spv/kyoto/chaincfg"
)

func TestParamsPerNetwork(t *testing.T) {
	for _, net := range []chaincfg.Network{
		chaincfg.Mainnet, chaincfg.Signet, chaincfg.Regtest,
	} {
		params, err := net.Params()
		require.NoError(t, err)
		require.NotNil(t, params)
		require.NotEmpty(t, params.Name)
	}
}

func TestUnknownNetworkErrors(t *testing.T) {
	_, err := chaincfg.Network(99).Params()
	require.Error(t, err)
}

func TestRegtestHasNoDNSSeeds(t *testing.T) {
	require.Empty(t, chaincfg.Regtest.DNSSeeds())
}

func TestMainnetHasDNSSeeds(t *testing.T) {
	require.NotEmpty(t, chaincfg.Mainnet.DNSSeeds())
}

func TestGenesisMatchesParams(t *testing.T) {
	for _, net := range []chaincfg.Network{
		chaincfg.Mainnet, chaincfg.Signet, chaincfg.Regtest,
	} {
		params, err := net.Params()
		require.NoError(t, err)

		anchor, err := net.Genesis()
		require.NoError(t, err)
		require.Equal(t, int32(0), anchor.Height)
		require.Equal(t, *params.GenesisHash, anchor.Hash)
	}
}

func TestNetworkString(t *testing.T) {
	require.Equal(t, "mainnet", chaincfg.Mainnet.String())
	require.Equal(t, "signet", chaincfg.Signet.String())
	require.Equal(t, "regtest", chaincfg.Regtest.String())
}
