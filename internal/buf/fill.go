package buf

// Fill sets every byte of b to v.
func Fill(b []byte, v byte) {
	if len(b) == 0 {
		return
	}
	b[0] = v
	for n := 1; n < len(b); n *= 2 {
		copy(b[n:], b[:n])
	}
}

// FirstMismatch returns the index of the first byte in b that is not v,
// or -1 when every byte matches.
func FirstMismatch(b []byte, v byte) int {
	for i, c := range b {
		if c != v {
			return i
		}
	}
	return -1
}
