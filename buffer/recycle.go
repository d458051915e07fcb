package buffer

// RecycleSlice zeroes every byte of b in place, so a pooled buffer never
// leaks the previous occupant's plaintext to its next borrower.
func RecycleSlice(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
