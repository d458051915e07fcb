package transport

import (
	"bytes"
	"errors"
	"net"
	"time"
)

// errV1NoFraming is returned by ReadMessage/WriteMessage/WriteDecoy on a
// connection that never negotiated v2: record-oriented framing does not
// apply, and callers must go through the wire package's v1 envelope
// reader/writer directly against Conn's net.Conn interface instead.
var errV1NoFraming = errors.New("transport: connection is not using v2 framing")

// Policy controls whether Dial attempts the BIP-324 v2 handshake at all.
type Policy uint8

const (
	// Prefer attempts v2 first and falls back to v1 on any handshake
	// failure (spec §4.2's default, opportunistic behavior).
	Prefer Policy = iota
	// Disable skips the v2 attempt and dials v1 plaintext directly.
	Disable
)

// Conn is a net.Conn that transparently speaks either the v1 plaintext
// framing or the BIP-324 v2 encrypted framing, chosen once during Dial.
// On a v2 connection callers read and write application messages through
// ReadMessage/WriteMessage; on a v1 connection those return an error, and
// the peer session (which checks V2Active) reads and writes the socket
// through Read/Write with wire.Read/wire.Write framing.
type Conn struct {
	conn net.Conn

	v2      *session
	readBuf bytes.Buffer
}

var _ net.Conn = (*Conn)(nil)

// V2Active reports whether this connection completed the BIP-324 v2
// handshake; false means it is speaking plain v1 framing.
func (c *Conn) V2Active() bool { return c.v2 != nil }

// Dial connects to addr and opportunistically negotiates the BIP-324 v2
// transport per spec §4.2: if policy is Prefer, Kyoto sends its v2
// handshake material and waits up to handshakeTimeout for a valid reply;
// any failure there causes a fresh plaintext connection rather than an
// error. dialer is used in place of net.Dial so SOCKS5 proxying (spec §6)
// composes transparently.
func Dial(dialer func() (net.Conn, error), policy Policy,
	handshakeTimeout time.Duration) (*Conn, error) {

	if policy == Disable {
		raw, err := dialer()
		if err != nil {
			return nil, err
		}
		return &Conn{conn: raw}, nil
	}

	raw, err := dialer()
	if err != nil {
		return nil, err
	}

	sess, err := doHandshakeInitiator(raw, raw.SetDeadline, handshakeTimeout)
	if err == nil {
		return &Conn{conn: raw, v2: sess}, nil
	}

	// v2 failed before any encrypted message was exchanged: reconnect
	// plaintext rather than trying to recover the stream in place, since
	// the remote may have written v2 handshake bytes we've already
	// partially consumed.
	_ = raw.Close()

	raw, err = dialer()
	if err != nil {
		return nil, err
	}

	return &Conn{conn: raw}, nil
}

// ReadMessage returns the next application payload, transparently
// decrypting and dropping decoy records if v2 is active. For a v1
// connection it returns an error; the wire package handles v1 framing
// directly.
func (c *Conn) ReadMessage() ([]byte, error) {
	if c.v2 == nil {
		return nil, errV1NoFraming
	}

	for {
		contentType, payload, err := readPacket(c.conn, c.v2)
		if err != nil {
			return nil, err
		}
		if contentType == contentDecoy {
			continue
		}
		return payload, nil
	}
}

// WriteMessage encrypts and sends payload as a single v2 record. Callers on
// a v1 connection should write directly to the socket via wire.Write
// instead.
func (c *Conn) WriteMessage(payload []byte) error {
	if c.v2 == nil {
		return errV1NoFraming
	}
	return writePacket(c.conn, c.v2, contentData, payload)
}

// WriteDecoy sends padding indistinguishable in framing from a real
// message. The peer session's writer does not call it.
func (c *Conn) WriteDecoy(padding []byte) error {
	if c.v2 == nil {
		return errV1NoFraming
	}
	return writeDecoy(c.conn, c.v2, padding)
}

func (c *Conn) Read(b []byte) (int, error) {
	if c.v2 == nil {
		return c.conn.Read(b)
	}

	if c.readBuf.Len() == 0 {
		payload, err := c.ReadMessage()
		if err != nil {
			return 0, err
		}
		c.readBuf.Write(payload)
	}
	return c.readBuf.Read(b)
}

func (c *Conn) Write(b []byte) (int, error) {
	if c.v2 == nil {
		return c.conn.Write(b)
	}
	if err := c.WriteMessage(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *Conn) Close() error                       { return c.conn.Close() }
func (c *Conn) LocalAddr() net.Addr                { return c.conn.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr               { return c.conn.RemoteAddr() }
func (c *Conn) SetDeadline(t time.Time) error       { return c.conn.SetDeadline(t) }
func (c *Conn) SetReadDeadline(t time.Time) error   { return c.conn.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error  { return c.conn.SetWriteDeadline(t) }
