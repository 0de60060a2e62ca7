package copyformat

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/bgrewell/fp5kit/pkg/export"
	"github.com/bgrewell/fp5kit/pkg/locale"
	"github.com/stretchr/testify/require"
)

func TestNewWriterEmitsSignature(t *testing.T) {
	var dest bytes.Buffer
	w, err := NewWriter(&dest, []export.ColumnType{export.ColumnText})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	out := dest.Bytes()
	require.True(t, bytes.HasPrefix(out, signature))
	// flags (4) + header ext len (4) + trailer (-1 as int16, 2 bytes)
	require.Equal(t, len(signature)+4+4+2, len(out))
}

func TestWriteRowScalarColumns(t *testing.T) {
	var dest bytes.Buffer
	columns := []export.ColumnType{export.ColumnText, export.ColumnInteger, export.ColumnBoolean}
	w, err := NewWriter(&dest, columns)
	require.NoError(t, err)

	row := &export.Row{
		RecordID: 1,
		Values: []export.CoercedValue{
			{Kind: export.KindText, Text: "hi"},
			{Kind: export.KindNull},
			{Kind: export.KindBoolean, Bool: true},
		},
	}
	require.NoError(t, w.WriteRow(row))
	require.NoError(t, w.Close())

	out := dest.Bytes()
	pos := len(signature) + 8

	fieldCount := binary.BigEndian.Uint16(out[pos : pos+2])
	require.EqualValues(t, 3, fieldCount)
	pos += 2

	textLen := int32(binary.BigEndian.Uint32(out[pos : pos+4]))
	pos += 4
	require.EqualValues(t, 2, textLen)
	require.Equal(t, "hi", string(out[pos:pos+int(textLen)]))
	pos += int(textLen)

	nullLen := int32(binary.BigEndian.Uint32(out[pos : pos+4]))
	pos += 4
	require.EqualValues(t, -1, nullLen)

	boolLen := int32(binary.BigEndian.Uint32(out[pos : pos+4]))
	pos += 4
	require.EqualValues(t, 1, boolLen)
	require.Equal(t, byte(1), out[pos])
	pos += 1

	// trailer
	trailer := int16(binary.BigEndian.Uint16(out[pos : pos+2]))
	require.EqualValues(t, -1, trailer)
}

func TestWriteRowArrayColumn(t *testing.T) {
	var dest bytes.Buffer
	columns := []export.ColumnType{export.ColumnText}
	w, err := NewWriter(&dest, columns)
	require.NoError(t, err)

	row := &export.Row{
		Values: []export.CoercedValue{
			{Kind: export.KindArray, Array: []export.CoercedValue{
				{Kind: export.KindText, Text: "a"},
				{Kind: export.KindNull},
			}},
		},
	}
	require.NoError(t, w.WriteRow(row))
	require.NoError(t, w.Close())

	out := dest.Bytes()
	pos := len(signature) + 8 + 2 // past header + field count

	arrLen := int32(binary.BigEndian.Uint32(out[pos : pos+4]))
	pos += 4
	arrBody := out[pos : pos+int(arrLen)]

	ndim := binary.BigEndian.Uint32(arrBody[0:4])
	require.EqualValues(t, 1, ndim)
	hasNulls := binary.BigEndian.Uint32(arrBody[4:8])
	require.EqualValues(t, 1, hasNulls)
	dimLen := binary.BigEndian.Uint32(arrBody[12:16])
	require.EqualValues(t, 2, dimLen)
}

func TestEncodeNumericMatchesWorkedExample(t *testing.T) {
	d, ok := locale.ParseDecimal([]byte("1,234.50"), '.', ',')
	require.True(t, ok)

	enc := EncodeNumeric(d)
	ndigits := int16(binary.BigEndian.Uint16(enc[0:2]))
	weight := int16(binary.BigEndian.Uint16(enc[2:4]))
	sign := binary.BigEndian.Uint16(enc[4:6])
	dscale := binary.BigEndian.Uint16(enc[6:8])

	require.EqualValues(t, 2, ndigits)
	require.EqualValues(t, 1, weight)
	require.EqualValues(t, 0x0000, sign)
	require.EqualValues(t, 2, dscale)

	g1 := binary.BigEndian.Uint16(enc[8:10])
	g2 := binary.BigEndian.Uint16(enc[10:12])
	require.EqualValues(t, 1234, g1)
	require.EqualValues(t, 5000, g2)
}

func TestEncodeNumericNegative(t *testing.T) {
	d, ok := locale.ParseDecimal([]byte("-42"), '.', ',')
	require.True(t, ok)
	enc := EncodeNumeric(d)
	sign := binary.BigEndian.Uint16(enc[4:6])
	require.EqualValues(t, 0x4000, sign)
}

func TestDateEncodingUsesPGEpoch(t *testing.T) {
	d := time.Date(2000, 1, 2, 0, 0, 0, 0, time.UTC)
	payload := encodeScalar(export.CoercedValue{Kind: export.KindDate, Date: d})
	require.Len(t, payload, 4)
	require.EqualValues(t, 1, int32(binary.BigEndian.Uint32(payload)))
}
