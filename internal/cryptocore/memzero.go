package cryptocore

// Zero overwrites b with zero bytes in place. It does not prevent the Go
// runtime from having copied the bytes elsewhere, but it bounds the
// lifetime of the most obvious copy.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
