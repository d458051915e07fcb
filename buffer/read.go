package buffer

// ReadSize is the size of the ciphertext chunk buffer recycled by the v2
// transport's read path: WriteSize plus the 16-byte Poly1305 tag.
const ReadSize = WriteSize + 16

// Read is a static byte array sized to ReadSize, holding ciphertext while
// the transport decrypts a packet in place.
type Read [ReadSize]byte

// Recycle zeroes the Read, making it fresh for another use.
func (b *Read) Recycle() {
	RecycleSlice(b[:])
}
