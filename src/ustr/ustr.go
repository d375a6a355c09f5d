// Package ustr implements the small helper used to copy argument strings
// between kernel and user memory.
package ustr

// CString returns the exact byte sequence the loader must copy onto the
// initial stack for this argument: the string's bytes followed by a single
// NUL terminator, len(s)+1 bytes in all.
func CString(s string) []byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	b[len(s)] = 0
	return b
}
