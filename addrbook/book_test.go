package addrbook_test

import (
	"math/rand"
	"net"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/kyoto-spv/kyoto/addrbook"
)

func testAddr(ip string, port uint16) wire.NetAddress {
	return wire.NetAddress{IP: net.ParseIP(ip), Port: port}
}

func TestReAddingSameAddressKeepsOneEntry(t *testing.T) {
	b, err := addrbook.New(nil, 0)
	require.NoError(t, err)

	addr := testAddr("203.0.113.50", 8333)
	source := testAddr("198.51.100.1", 8333)

	b.AddNew(addr, source)
	require.Equal(t, 1, b.Len())

	// Re-adding the same pair must not create a second entry, since
	// the book keys records by address and a re-add refreshes the
	// existing record.
	b.AddNew(addr, source)
	require.Equal(t, 1, b.Len())
}

func TestPromoteEmptySlotSucceedsImmediately(t *testing.T) {
	b, err := addrbook.New(nil, 0)
	require.NoError(t, err)

	addr := testAddr("203.0.113.50", 8333)
	source := testAddr("198.51.100.1", 8333)
	b.AddNew(addr, source)

	incumbent, err := b.Promote(addr)
	require.NoError(t, err)
	require.Nil(t, incumbent)
}

func TestPromoteUnknownAddressErrors(t *testing.T) {
	b, err := addrbook.New(nil, 0)
	require.NoError(t, err)

	_, err = b.Promote(testAddr("203.0.113.99", 8333))
	require.ErrorIs(t, err, addrbook.ErrUnknownAddress)
}

func TestDemoteMovesTriedToNew(t *testing.T) {
	b, err := addrbook.New(nil, 0)
	require.NoError(t, err)

	addr := testAddr("203.0.113.50", 8333)
	source := testAddr("198.51.100.1", 8333)
	b.AddNew(addr, source)

	_, err = b.Promote(addr)
	require.NoError(t, err)

	b.Demote(addr)
	require.Equal(t, 1, b.Len())
}

func TestSelectReturnsErrEmptyOnEmptyBook(t *testing.T) {
	b, err := addrbook.New(nil, 0)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	_, _, err = b.Select(rng, nil)
	require.ErrorIs(t, err, addrbook.ErrEmpty)
}

func TestSelectExcludesGroup(t *testing.T) {
	b, err := addrbook.New(nil, 0)
	require.NoError(t, err)

	addr := testAddr("1.2.3.4", 8333)
	source := testAddr("5.6.7.8", 8333)
	b.AddNew(addr, source)

	rng := rand.New(rand.NewSource(1))
	exclude := map[string]bool{"1.2.0.0": true}

	_, _, err = b.Select(rng, exclude)
	require.ErrorIs(t, err, addrbook.ErrEmpty)
}

type memStore struct {
	records []addrbook.PeerRecord
}

func (m *memStore) Load() ([]addrbook.PeerRecord, error) { return m.records, nil }
func (m *memStore) Flush(records []addrbook.PeerRecord) error {
	m.records = records
	return nil
}

func TestFlushRoundTripsThroughStore(t *testing.T) {
	store := &memStore{}
	b, err := addrbook.New(store, 0)
	require.NoError(t, err)

	addr := testAddr("203.0.113.50", 8333)
	source := testAddr("198.51.100.1", 8333)
	b.AddNew(addr, source)

	require.NoError(t, b.Flush())
	require.Len(t, store.records, 1)

	reloaded, err := addrbook.New(store, 0)
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.Len())
}

func TestSelectReturnsSingleFreshAddressFromNew(t *testing.T) {
	// A book holding one freshly added address selects it from the new
	// table.
	b, err := addrbook.New(nil, 0)
	require.NoError(t, err)

	addr := testAddr("1.2.3.4", 8333)
	source := testAddr("5.6.7.8", 8333)
	b.AddNew(addr, source)

	rng := rand.New(rand.NewSource(42))
	rec, table, err := b.Select(rng, nil)
	require.NoError(t, err)
	require.Equal(t, addrbook.New, table)
	require.Equal(t, addr.IP.String(), rec.Addr.IP.String())
}
