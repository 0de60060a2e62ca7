package token

import (
	"testing"

	"github.com/bgrewell/fp5kit/pkg/vli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushAndPopPath(t *testing.T) {
	payload := []byte{0xC3, 'a', 'b', 'c', 0xC0}

	tok, err := Next(payload, 0)
	require.NoError(t, err)
	assert.Equal(t, KindPushPath, tok.Kind)
	assert.Equal(t, []byte("abc"), tok.Segment)
	assert.Equal(t, 4, tok.Size)

	tok, err = Next(payload, 4)
	require.NoError(t, err)
	assert.Equal(t, KindPopPath, tok.Kind)
	assert.Equal(t, 1, tok.Size)
}

func TestImplicitRef0ShortData(t *testing.T) {
	payload := []byte{0x00, 0x03, 'x', 'y', 'z'}
	tok, err := Next(payload, 0)
	require.NoError(t, err)
	assert.Equal(t, KindFieldValue, tok.Kind)
	assert.Equal(t, []byte{0x00}, tok.FieldRef)
	assert.Equal(t, []byte("xyz"), tok.Value)
	assert.Equal(t, 5, tok.Size)
}

func TestShortFieldRefShortData(t *testing.T) {
	// Scenario from spec.md §8: "41 03 61 62 63" -> field-ref 1, value "abc".
	payload := []byte{0x41, 0x03, 0x61, 0x62, 0x63}
	tok, err := Next(payload, 0)
	require.NoError(t, err)
	assert.Equal(t, KindFieldValue, tok.Kind)
	refVal, _, ok := vli.Decode(tok.FieldRef, false)
	require.True(t, ok)
	assert.EqualValues(t, 1, refVal)
	assert.Equal(t, []byte("abc"), tok.Value)
	assert.Equal(t, 5, tok.Size)
}

func TestLongFieldRefShortData(t *testing.T) {
	ref, err := vli.Encode(200)
	require.NoError(t, err)
	combined := append(append([]byte{}, ref...))
	payload := append([]byte{byte(len(combined))}, combined...)
	payload = append(payload, 0x02, 'h', 'i')

	tok, err := Next(payload, 0)
	require.NoError(t, err)
	assert.Equal(t, KindFieldValue, tok.Kind)
	refVal, _, ok := vli.Decode(tok.FieldRef, false)
	require.True(t, ok)
	assert.EqualValues(t, 200, refVal)
	assert.Equal(t, []byte("hi"), tok.Value)
	assert.Empty(t, tok.SubRef)
}

func TestLengthCheckToken(t *testing.T) {
	// "01 FF 05 00 00 00 00 05" from spec.md §8.
	payload := []byte{0x01, 0xFF, 0x05, 0x00, 0x00, 0x00, 0x00, 0x05}
	tok, err := Next(payload, 0)
	require.NoError(t, err)
	assert.Equal(t, KindLengthCheck, tok.Kind)
	assert.EqualValues(t, 5, tok.LengthCheckValue)
	assert.Equal(t, 8, tok.Size)
}

func TestInlineArrayChunk(t *testing.T) {
	payload := []byte{0x83, 0x01, 0x02, 0x03}
	tok, err := Next(payload, 0)
	require.NoError(t, err)
	assert.Equal(t, KindArrayChunk, tok.Kind)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, tok.Value)
	assert.Equal(t, 4, tok.Size)
}

func TestLongFormLongDataReassembly(t *testing.T) {
	// "FF 01 01 00 05 A A A A A" from spec.md §8's long-data scenario:
	// counter 1, 5-byte value "AAAAA".
	payload := []byte{0xFF, 0x01, 0x01, 0x00, 0x05, 'A', 'A', 'A', 'A', 'A'}
	tok, err := Next(payload, 0)
	require.NoError(t, err)
	assert.Equal(t, KindFieldValue, tok.Kind)
	assert.True(t, tok.IsLongForm)
	refVal, _, ok := vli.Decode(tok.FieldRef, false)
	require.True(t, ok)
	assert.EqualValues(t, 1, refVal)
	assert.Equal(t, []byte("AAAAA"), tok.Value)
	assert.Equal(t, 10, tok.Size)
}

func TestLongFormShortRefLongData(t *testing.T) {
	payload := []byte{0xFF, 0x41, 0x00, 0x02, 'h', 'i'}
	tok, err := Next(payload, 0)
	require.NoError(t, err)
	assert.Equal(t, KindFieldValue, tok.Kind)
	assert.True(t, tok.IsLongForm)
	refVal, _, ok := vli.Decode(tok.FieldRef, false)
	require.True(t, ok)
	assert.EqualValues(t, 1, refVal)
	assert.Equal(t, []byte("hi"), tok.Value)
}

func TestTruncatedTokenReturnsErrTruncated(t *testing.T) {
	payload := []byte{0x41, 0x05, 'a', 'b'}
	_, err := Next(payload, 0)
	require.ErrorIs(t, err, ErrTruncated)
}

func TestUnknownLeadingByte(t *testing.T) {
	payload := []byte{0x80}
	_, err := Next(payload, 0)
	require.ErrorIs(t, err, ErrUnknownToken)
}

func TestPositionPastEndIsTruncated(t *testing.T) {
	payload := []byte{0x00}
	_, err := Next(payload, 5)
	require.ErrorIs(t, err, ErrTruncated)
}
