package buffer

// WriteSize is the size of the plaintext chunk buffer recycled by the v2
// transport's write path. BIP-324 packets are not length-capped by the
// protocol itself, but chunking large payloads (e.g. a block) into pieces
// of this size keeps a single pooled buffer small enough to be cheap to
// recycle on a memory-constrained host.
const WriteSize = 16384

// Write is a static byte array sized to WriteSize. The AEAD tag is applied
// after encryption and is not included in this buffer.
type Write [WriteSize]byte

// Recycle zeroes the Write, making it fresh for another use.
func (b *Write) Recycle() {
	RecycleSlice(b[:])
}
