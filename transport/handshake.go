package transport

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
)

// maxGarbageLen bounds the random padding Kyoto sends ahead of its
// ephemeral key, enough to blend into typical BIP-324 deployments without
// meaningfully slowing the handshake.
const maxGarbageLen = 64

// garbageLenPrefix is the size of the header written first, ahead of the
// garbage and the ephemeral public key, so the
// receiving side knows how much garbage to skip: a 2-byte big-endian
// garbage length, matching the general "self-describing prefix" shape
// BIP-324 deployments use to stay stream-synchronized without a fixed
// garbage size.
const garbageLenPrefix = 2

// doHandshakeInitiator runs the dialer's half of the opportunistic v2
// handshake: send garbage-length, garbage, and our ephemeral key, then wait
// up to timeout for the remote's own length/garbage/key reply. Any error
// here — timeout, malformed response — means the caller should fall back
// to v1, never that the dial itself failed.
func doHandshakeInitiator(rw io.ReadWriter, deadline func(time.Time) error,
	timeout time.Duration) (*session, error) {

	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}

	if err := sendHandshakeMessage(rw, priv); err != nil {
		return nil, ErrV2HandshakeFailed
	}

	if deadline != nil {
		_ = deadline(time.Now().Add(timeout))
	}

	remotePub, err := recvHandshakeMessage(rw)
	if err != nil {
		return nil, ErrV2HandshakeFailed
	}

	if deadline != nil {
		_ = deadline(time.Time{})
	}

	secret := sharedSecret(priv, remotePub)
	return deriveSession(secret, true)
}

// doHandshakeResponder mirrors doHandshakeInitiator for the accepting side.
// Kyoto never accepts inbound connections (spec §1's non-goal), so this
// exists only to keep the handshake testable against itself without a real
// remote peer.
func doHandshakeResponder(rw io.ReadWriter) (*session, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}

	remotePub, err := recvHandshakeMessage(rw)
	if err != nil {
		return nil, ErrV2HandshakeFailed
	}

	if err := sendHandshakeMessage(rw, priv); err != nil {
		return nil, ErrV2HandshakeFailed
	}

	secret := sharedSecret(priv, remotePub)
	return deriveSession(secret, false)
}

func sendHandshakeMessage(w io.Writer, priv *btcec.PrivateKey) error {
	garbageLen, err := randomGarbageLen()
	if err != nil {
		return err
	}

	garbage := make([]byte, garbageLen)
	if _, err := rand.Read(garbage); err != nil {
		return err
	}

	var lenPrefix [garbageLenPrefix]byte
	binary.BigEndian.PutUint16(lenPrefix[:], uint16(garbageLen))

	if _, err := w.Write(lenPrefix[:]); err != nil {
		return err
	}
	if _, err := w.Write(garbage); err != nil {
		return err
	}

	pub := priv.PubKey().SerializeCompressed()
	_, err = w.Write(pub)
	return err
}

func recvHandshakeMessage(r io.Reader) (*btcec.PublicKey, error) {
	var lenPrefix [garbageLenPrefix]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, err
	}
	garbageLen := binary.BigEndian.Uint16(lenPrefix[:])
	if garbageLen > maxGarbageLen {
		return nil, ErrV2HandshakeFailed
	}

	garbage := make([]byte, garbageLen)
	if _, err := io.ReadFull(r, garbage); err != nil {
		return nil, err
	}

	var rawPub [ephemeralKeySize]byte
	if _, err := io.ReadFull(r, rawPub[:]); err != nil {
		return nil, err
	}

	return btcec.ParsePubKey(rawPub[:])
}

func randomGarbageLen() (int, error) {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return int(b[0]) % (maxGarbageLen + 1), nil
}
