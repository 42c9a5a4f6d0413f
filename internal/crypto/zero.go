package crypto

// Zero overwrites a byte slice in memory with zeros.
func Zero(b []byte) {
	clear(b)
}

// ZeroAll zeroes every buffer, e.g. a password copy and a key together.
func ZeroAll(bufs ...[]byte) {
	for _, b := range bufs {
		Zero(b)
	}
}
