package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Content type byte values routed by Conn.ReadMessage: contentData carries
// a wire-codec payload, contentDecoy is padding the sender wants silently
// dropped (spec §4.2's "decoy packets are silently dropped").
const (
	contentDecoy byte = 0x00
	contentData  byte = 0x01
)

// maxPacketPlaintext bounds a single v2 record's plaintext, independent of
// the wire package's own 32 MiB message cap: this is a transport-layer
// ceiling to stop a malicious peer from forcing an unbounded allocation
// before the wire codec ever sees the bytes.
const maxPacketPlaintext = 33 * 1024 * 1024

const lengthPrefixSize = 4

// writePacket seals payload (after prefixing it with a content type byte)
// and writes it to w as a length-prefixed ciphertext record.
func writePacket(w io.Writer, s *session, contentType byte, payload []byte) error {
	plaintext := make([]byte, 1+len(payload))
	plaintext[0] = contentType
	copy(plaintext[1:], payload)

	ciphertext := s.sealNext(plaintext)

	var lenPrefix [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(ciphertext)))

	if _, err := w.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err := w.Write(ciphertext)
	return err
}

// readPacket reads and opens the next record from r, returning its content
// type and plaintext payload (without the content type byte).
func readPacket(r io.Reader, s *session) (byte, []byte, error) {
	var lenPrefix [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return 0, nil, err
	}

	length := binary.BigEndian.Uint32(lenPrefix[:])
	if length > maxPacketPlaintext {
		return 0, nil, fmt.Errorf("transport: record of %d bytes exceeds cap", length)
	}

	ciphertext := make([]byte, length)
	if _, err := io.ReadFull(r, ciphertext); err != nil {
		return 0, nil, err
	}

	plaintext, err := s.openNext(ciphertext)
	if err != nil {
		return 0, nil, err
	}
	if len(plaintext) == 0 {
		return 0, nil, fmt.Errorf("transport: empty record")
	}

	return plaintext[0], plaintext[1:], nil
}

// writeDecoy sends a decoy record carrying padding, which the receiving
// side reads and drops.
func writeDecoy(w io.Writer, s *session, padding []byte) error {
	return writePacket(w, s, contentDecoy, padding)
}
