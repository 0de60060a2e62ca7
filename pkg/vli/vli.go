// Package vli implements the variable-length integer encoding used
// throughout the fp5 format for field references and record identifiers.
//
// The encoding is big-endian and self-delimiting: the leading byte's value
// range determines the total length of the encoded integer.
package vli

import "fmt"

// MaxEncodable is the largest value encode can represent.
const MaxEncodable = 0x81020407F

// class describes one of the five VLI length classes.
type class struct {
	loMarker, hiMarker byte
	length             int
	bias               uint64
}

// classes is ordered by increasing marker range; decode picks the first
// class whose marker range contains the leading byte.
var classes = []class{
	{0x00, 0x7F, 1, 0x00},
	{0x80, 0xBF, 2, 0x80},
	{0xC0, 0xDF, 3, 0x4080},
	{0xE0, 0xEF, 4, 0x204080},
	{0xF0, 0xF7, 5, 0x10204080},
}

func classFor(lead byte) (class, bool) {
	for _, c := range classes {
		if lead >= c.loMarker && lead <= c.hiMarker {
			return c, true
		}
	}
	return class{}, false
}

// Len returns the number of bytes the VLI starting at b's first byte
// occupies, or 0 if b[0] does not begin a valid VLI.
func Len(b []byte) int {
	if len(b) == 0 {
		return 0
	}
	c, ok := classFor(b[0])
	if !ok {
		return 0
	}
	return c.length
}

// Decode reads the VLI at the start of b and returns its value together
// with the number of bytes consumed. When subtract64 is true the result
// has 0x40 subtracted, which is the discipline used by the short
// field-reference token form so that leading byte 0x40 maps to field
// reference 0. Decode reports ok=false when b is empty, too short for the
// indicated class, or the leading byte is not a valid VLI marker.
func Decode(b []byte, subtract64 bool) (value uint64, consumed int, ok bool) {
	if len(b) == 0 {
		return 0, 0, false
	}
	c, found := classFor(b[0])
	if !found {
		return 0, 0, false
	}
	if len(b) < c.length {
		return 0, 0, false
	}

	var v uint64
	if c.length == 1 {
		v = uint64(b[0])
	} else {
		v = maskedValue(b, c)
	}

	if subtract64 {
		if v < 0x40 {
			return 0, 0, false
		}
		v -= 0x40
	}
	return v, c.length, true
}

// maskedValue computes the big-endian value of b[:c.length] with the
// lead byte's class-marker high bits cleared, plus the class bias.
func maskedValue(b []byte, c class) uint64 {
	maskBits := classMaskBits(c)
	lead := b[0] & maskBits
	v := uint64(lead)
	for i := 1; i < c.length; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v + c.bias
}

// classMaskBits returns the bitmask that isolates the data bits of the
// lead byte for a given class (the complement of the fixed marker
// prefix bits for that class).
func classMaskBits(c class) byte {
	switch c.length {
	case 2:
		return 0x3F // 2 marker bits: 10xx xxxx
	case 3:
		return 0x1F // 3 marker bits: 110x xxxx
	case 4:
		return 0x0F // 4 marker bits: 1110 xxxx
	case 5:
		return 0x07 // 5 marker bits: 1111 0xxx
	default:
		return 0xFF
	}
}

// Split separates a combined field-reference byte string into its primary
// reference and any remaining sub-reference bytes, per spec.md §4.1's
// field-ref/sub-ref discipline. The primary reference is exactly the bytes
// consumed by one VLI; everything after that is the sub-reference.
func Split(b []byte) (head, tail []byte) {
	n := Len(b)
	if n == 0 || n >= len(b) {
		return b, nil
	}
	return b[:n], b[n:]
}

// Encode produces the shortest VLI encoding of n, or an error if n exceeds
// MaxEncodable.
func Encode(n uint64) ([]byte, error) {
	switch {
	case n <= 0x7F:
		return []byte{byte(n)}, nil
	case n <= 0x407F:
		n -= 0x80
		return []byte{0x80 | byte(n>>8), byte(n)}, nil
	case n <= 0x20407F:
		n -= 0x4080
		return []byte{0xC0 | byte(n>>16), byte(n >> 8), byte(n)}, nil
	case n <= 0x1020407F:
		n -= 0x204080
		return []byte{0xE0 | byte(n>>24), byte(n >> 16), byte(n >> 8), byte(n)}, nil
	case n <= MaxEncodable:
		n -= 0x10204080
		return []byte{0xF0 | byte(n>>32), byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}, nil
	default:
		return nil, fmt.Errorf("vli: value %d exceeds maximum encodable value %d", n, uint64(MaxEncodable))
	}
}
