// Package transport implements Kyoto's two P2P framings: the plaintext v1
// envelope (handled entirely by the wire package, the transport here is a
// passthrough) and the BIP-324 v2 encrypted transport. It is grounded in
// shape on the teacher's brontide package: a Conn that wraps a raw
// net.Conn, performs a key exchange during Dial, and afterward looks like
// an ordinary net.Conn to callers, the handshake and record framing
// entirely hidden behind Read/Write.
package transport

import (
	"crypto/cipher"
	"errors"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"crypto/sha256"
)

// ErrV2HandshakeFailed is returned internally by the handshake state
// machine on any malformed or unexpected response, which Dial treats as a
// signal to fall back to v1 rather than propagating to the caller.
var ErrV2HandshakeFailed = errors.New("transport: v2 handshake failed")

// ephemeralKeySize is the length of the compressed-point encoding Kyoto
// exchanges as its ephemeral key material during the v2 handshake.
const ephemeralKeySize = 33

// session holds the per-connection v2 transport state once a handshake has
// completed: independent send and receive AEAD streams, each with its own
// monotonically increasing sequence number used as the nonce.
type session struct {
	sendAEAD cipher.AEAD
	recvAEAD cipher.AEAD

	sendSeq uint64
	recvSeq uint64
}

// deriveSession runs HKDF over the ECDH shared secret to produce
// independent send/recv keys, matching spec §4.2's "independent send/recv
// sequence numbers": reusing one key in both directions would let a
// reflected ciphertext decrypt under the wrong stream.
func deriveSession(sharedSecret []byte, initiator bool) (*session, error) {
	reader := hkdf.New(sha256.New, sharedSecret, nil, []byte("kyoto-bip324"))

	initToResp := make([]byte, chacha20poly1305.KeySize)
	respToInit := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, initToResp); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, respToInit); err != nil {
		return nil, err
	}

	sendKey, recvKey := initToResp, respToInit
	if !initiator {
		sendKey, recvKey = respToInit, initToResp
	}

	sendAEAD, err := chacha20poly1305.New(sendKey)
	if err != nil {
		return nil, err
	}
	recvAEAD, err := chacha20poly1305.New(recvKey)
	if err != nil {
		return nil, err
	}

	return &session{sendAEAD: sendAEAD, recvAEAD: recvAEAD}, nil
}

func (s *session) nonce(seq uint64) []byte {
	n := make([]byte, chacha20poly1305.NonceSize)
	for i := 0; i < 8; i++ {
		n[4+i] = byte(seq >> (8 * i))
	}
	return n
}

// sealNext encrypts plaintext under the send stream's current sequence
// number and advances it.
func (s *session) sealNext(plaintext []byte) []byte {
	ct := s.sendAEAD.Seal(nil, s.nonce(s.sendSeq), plaintext, nil)
	s.sendSeq++
	return ct
}

// openNext decrypts ciphertext under the recv stream's current sequence
// number and advances it.
func (s *session) openNext(ciphertext []byte) ([]byte, error) {
	pt, err := s.recvAEAD.Open(nil, s.nonce(s.recvSeq), ciphertext, nil)
	if err != nil {
		return nil, err
	}
	s.recvSeq++
	return pt, nil
}

// sharedSecret performs ECDH between a local ephemeral private key and a
// remote ephemeral public key.
func sharedSecret(priv *btcec.PrivateKey, remotePub *btcec.PublicKey) []byte {
	var point btcec.JacobianPoint
	remotePub.AsJacobian(&point)

	var result btcec.JacobianPoint
	btcec.ScalarMultNonConst(&priv.Key, &point, &result)
	result.ToAffine()
	result.X.Normalize()

	secret := result.X.Bytes()
	return secret[:]
}
