package vli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeBoundaries(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want uint64
		n    int
	}{
		{"min-1-byte", []byte{0x00}, 0, 1},
		{"max-1-byte", []byte{0x7F}, 0x7F, 1},
		{"min-2-byte", []byte{0x80, 0x00}, 0x80, 2},
		{"max-2-byte", []byte{0xBF, 0xFF}, 0x407F, 2},
		{"min-3-byte", []byte{0xC0, 0x00, 0x00}, 0x4080, 3},
		{"min-4-byte", []byte{0xE0, 0x00, 0x00, 0x00}, 0x204080, 4},
		{"min-5-byte", []byte{0xF0, 0x00, 0x00, 0x00, 0x00}, 0x10204080, 5},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			v, n, ok := Decode(c.in, false)
			require.True(t, ok)
			assert.Equal(t, c.want, v)
			assert.Equal(t, c.n, n)
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 0x7F, 0x80, 0x407F, 0x4080, 0x20407F, 0x204080, 0x1020407F, MaxEncodable}
	for _, v := range values {
		enc, err := Encode(v)
		require.NoError(t, err)
		got, n, ok := Decode(enc, false)
		require.True(t, ok)
		assert.Equal(t, v, got)
		assert.Equal(t, len(enc), n)
	}
}

func TestEncodeMonotonicLength(t *testing.T) {
	prevLen := 0
	for _, v := range []uint64{0, 0x7F, 0x80, 0x407F, 0x4080, 0x20407F, 0x204080, 0x1020407F, 0x10204080, MaxEncodable} {
		enc, err := Encode(v)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(enc), prevLen)
		prevLen = len(enc)
	}
}

func TestEncodeOverflow(t *testing.T) {
	_, err := Encode(MaxEncodable + 1)
	assert.Error(t, err)
}

func TestDecodeSubtract64(t *testing.T) {
	v, n, ok := Decode([]byte{0x41}, true)
	require.True(t, ok)
	assert.Equal(t, uint64(1), v)
	assert.Equal(t, 1, n)

	_, _, ok = Decode([]byte{0x00}, true)
	assert.False(t, ok, "values below 0x40 cannot be subtracted")
}

func TestSplit(t *testing.T) {
	head, tail := Split([]byte{0x41, 0x02, 0x99})
	assert.Equal(t, []byte{0x41}, head)
	assert.Equal(t, []byte{0x02, 0x99}, tail)

	head, tail = Split([]byte{0x41})
	assert.Equal(t, []byte{0x41}, head)
	assert.Nil(t, tail)
}

func TestDecodeInvalid(t *testing.T) {
	_, _, ok := Decode(nil, false)
	assert.False(t, ok)

	_, _, ok = Decode([]byte{0xF8}, false)
	assert.False(t, ok, "0xF8 is not a valid VLI leading byte")

	_, _, ok = Decode([]byte{0xBF}, false)
	assert.False(t, ok, "truncated 2-byte VLI")
}
