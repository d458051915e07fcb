// Package wire frames and parses Bitcoin P2P messages on behalf of a peer
// session. It is a thin layer over github.com/btcsuite/btcd/wire, which
// already implements the reference serialization for every message type
// Kyoto needs; this package adds the envelope-size ceiling and the
// unknown-command discard rule spec §4.1 requires, plus the
// version-message construction rules.
package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg"
	btcwire "github.com/btcsuite/btcd/wire"
)

// MaxPayloadSize is the hard ceiling Kyoto enforces on any single message
// payload, matching spec §4.1: a declared length beyond this is rejected
// before the payload is read off the wire.
const MaxPayloadSize = 32 * 1024 * 1024

// ProtocolVersion is the version number Kyoto announces in its version
// message: btcd's FeeFilterVersion, 70013.
const ProtocolVersion = btcwire.FeeFilterVersion

// UserAgentName is the product name portion of the user agent string Kyoto
// announces to peers.
const UserAgentName = "Kyoto"

// UserAgentVersion is the semantic version announced alongside
// UserAgentName, e.g. "0.1.0".
const UserAgentVersion = "0.1.0"

// knownCommands is the set of message types spec §4.1 requires parsers
// for. Anything outside this set is drained and discarded rather than
// handed to btcd/wire's decoder, matching "unknown commands are logged and
// discarded".
var knownCommands = map[string]bool{
	btcwire.CmdVersion:      true,
	btcwire.CmdVerAck:       true,
	btcwire.CmdPing:         true,
	btcwire.CmdPong:         true,
	btcwire.CmdAddr:         true,
	btcwire.CmdAddrV2:       true,
	btcwire.CmdSendAddrV2:   true,
	btcwire.CmdGetHeaders:   true,
	btcwire.CmdHeaders:      true,
	btcwire.CmdGetCFHeaders: true,
	btcwire.CmdCFHeaders:    true,
	btcwire.CmdGetCFilters:  true,
	btcwire.CmdCFilter:      true,
	btcwire.CmdGetData:      true,
	btcwire.CmdBlock:        true,
	btcwire.CmdTx:           true,
	btcwire.CmdInv:          true,
	btcwire.CmdFeeFilter:    true,
	btcwire.CmdReject:       true,
	"sendcmpct":             true,
}

// header mirrors the 24-byte Bitcoin P2P message envelope:
// magic(4) || command(12) || length(4) || checksum(4).
type header struct {
	magic   btcwire.BitcoinNet
	command string
	length  uint32
	raw     [headerSize]byte
}

const headerSize = 4 + btcwire.CommandSize + 4 + 4

func readHeader(r io.Reader) (*header, error) {
	h := &header{}
	if _, err := io.ReadFull(r, h.raw[:]); err != nil {
		return nil, err
	}

	h.magic = btcwire.BitcoinNet(binary.LittleEndian.Uint32(h.raw[0:4]))

	cmdEnd := 4
	for cmdEnd < 4+btcwire.CommandSize && h.raw[cmdEnd] != 0 {
		cmdEnd++
	}
	h.command = string(h.raw[4:cmdEnd])
	h.length = binary.LittleEndian.Uint32(h.raw[16:20])

	return h, nil
}

// UnknownMessage implements btcwire.Message for a command this package
// does not parse, preserving the raw payload for logging in place of a
// decoded representation.
type UnknownMessage struct {
	Cmd string
	Raw []byte
}

// BtcDecode implements btcwire.Message; it is never invoked, since
// UnknownMessage is constructed directly by Read from already-consumed
// bytes.
func (m *UnknownMessage) BtcDecode(r io.Reader, _ uint32, _ btcwire.MessageEncoding) error {
	buf, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.Raw = buf
	return nil
}

// BtcEncode implements btcwire.Message by writing back the raw bytes that
// were originally read, so relaying an unknown message byte-for-byte
// (rather than acting on it) remains possible.
func (m *UnknownMessage) BtcEncode(w io.Writer, _ uint32, _ btcwire.MessageEncoding) error {
	_, err := w.Write(m.Raw)
	return err
}

// Command implements btcwire.Message.
func (m *UnknownMessage) Command() string { return m.Cmd }

// MaxPayloadLength implements btcwire.Message.
func (m *UnknownMessage) MaxPayloadLength(_ uint32) uint32 { return MaxPayloadSize }

var _ btcwire.Message = (*UnknownMessage)(nil)

// Read decodes a single Bitcoin P2P message from r. Messages declaring a
// payload larger than MaxPayloadSize are rejected without their body being
// read. A recognized command is parsed with btcd/wire, which also verifies
// the envelope checksum; an unrecognized command is drained from r and
// returned as *UnknownMessage rather than as an error.
func Read(r *bufio.Reader, pver uint32, net btcwire.BitcoinNet) (btcwire.Message, error) {
	hdr, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	if hdr.magic != net {
		return nil, fmt.Errorf(
			"network mismatch: got magic %08x, want %08x",
			uint32(hdr.magic), uint32(net),
		)
	}
	if err := ValidateLength(hdr.length); err != nil {
		return nil, err
	}

	payload := make([]byte, hdr.length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	if !knownCommands[hdr.command] {
		return &UnknownMessage{Cmd: hdr.command, Raw: payload}, nil
	}

	// Reassemble the full envelope so btcd/wire's decoder can verify the
	// checksum and parse the payload with the reference implementation,
	// rather than Kyoto duplicating that logic.
	envelope := bytes.NewBuffer(make([]byte, 0, len(hdr.raw)+len(payload)))
	envelope.Write(hdr.raw[:])
	envelope.Write(payload)

	_, msg, _, err := btcwire.ReadMessageWithEncodingN(
		envelope, pver, net, btcwire.LatestEncoding,
	)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", hdr.command, err)
	}

	return msg, nil
}

// Write encodes msg onto w using the given protocol version and network
// magic, via btcd/wire's reference serialization.
func Write(w io.Writer, msg btcwire.Message, pver uint32, net btcwire.BitcoinNet) error {
	_, err := btcwire.WriteMessageWithEncodingN(
		w, msg, pver, net, btcwire.LatestEncoding,
	)
	return err
}

// NetForChain maps a chaincfg.Params to the BitcoinNet magic btcd/wire uses
// to frame messages on that network.
func NetForChain(params *chaincfg.Params) btcwire.BitcoinNet {
	return params.Net
}

// ValidateLength returns an error if length exceeds MaxPayloadSize.
func ValidateLength(length uint32) error {
	if length > MaxPayloadSize {
		return fmt.Errorf(
			"declared payload length %d exceeds maximum %d",
			length, MaxPayloadSize,
		)
	}

	return nil
}
