package kyoto

import (
	"testing"

	btcwire "github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func TestConfigConnectionTargetDefaultsToOne(t *testing.T) {
	var c Config
	require.Equal(t, uint16(1), c.connectionTarget())

	c.ConnectionTarget = 4
	require.Equal(t, uint16(4), c.connectionTarget())
}

func TestConfigRequiredServicesDefaultsToNodeCF(t *testing.T) {
	var c Config
	require.Equal(t, btcwire.SFNodeCF, c.requiredServices())

	c.RequiredServices = btcwire.SFNodeNetwork
	require.Equal(t, btcwire.SFNodeNetwork, c.requiredServices())
}

func TestDefaultTimeoutsAreAllPositive(t *testing.T) {
	dt := DefaultTimeouts()
	require.Positive(t, dt.Dial)
	require.Positive(t, dt.Handshake)
	require.Positive(t, dt.RequestHeaders)
	require.Positive(t, dt.RequestFilterHdrs)
	require.Positive(t, dt.RequestFilter)
	require.Positive(t, dt.RequestBlock)
	require.Positive(t, dt.Keepalive)
}
