// Package util contains small generic helpers shared across the virtual
// memory subsystem.
package util

import "unsafe"

// Int is satisfied by all built-in integer types.
type Int interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Min returns the smaller of a and b.
func Min[T Int](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// Rounddown aligns v down to the nearest multiple of b.
func Rounddown[T Int](v, b T) T {
	return v - (v % b)
}

// Roundup aligns v up to the nearest multiple of b.
func Roundup[T Int](v, b T) T {
	return Rounddown(v+b-1, b)
}

// Writen writes val using sz bytes into a starting at off. Used by the
// loader to lay down argc/argv words when building the initial user stack
// frame. Panics if the destination is out of bounds or the size is
// unsupported.
func Writen(a []uint8, sz int, off int, val uintptr) {
	if off < 0 || off+sz > len(a) {
		panic("Writen out of bounds")
	}
	p := unsafe.Pointer(&a[off])
	switch sz {
	case 8:
		*(*uintptr)(p) = val
	case 4:
		*(*uint32)(p) = uint32(val)
	default:
		panic("unsupported size")
	}
}
