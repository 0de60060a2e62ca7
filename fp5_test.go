package fp5

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/bgrewell/fp5kit/pkg/consts"
	"github.com/bgrewell/fp5kit/pkg/export"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
)

func writeBlock(buf []byte, offset int64, level uint8, prevID, nextID uint32, payload []byte) {
	h := make([]byte, consts.BlockHeaderSize)
	h[1] = level
	binary.BigEndian.PutUint32(h[2:6], prevID)
	binary.BigEndian.PutUint32(h[6:10], nextID)
	binary.BigEndian.PutUint16(h[12:14], uint16(len(payload)))
	copy(buf[offset:], h)
	copy(buf[offset+consts.BlockHeaderSize:], payload)
}

// buildArchivePayload lays out a single root/data block (level 0) with
// one field definition (id 2, label "Age", type number, order 1), one
// record id under 0D, and that record's single field value "42" under
// 05 — enough to exercise Open, Catalog, RecordIDs and Records together.
func buildArchivePayload() []byte {
	idBytes := []byte{0xFE, 0x02} // marker byte + field id 2

	var p []byte
	p = append(p, 0xC1, 0x03) // push "03" (1-byte segment)

	// 03/01: names
	p = append(p, 0xC1, 0x01)             // push "01"
	p = append(p, 0xC3, 'A', 'g', 'e')    // push "Age" (3-byte segment, lead 0xC0+3)
	p = append(p, 0x00, 0x02)             // implicit-ref0 short data, length 2
	p = append(p, idBytes...)
	p = append(p, 0xC0) // pop "Age"
	p = append(p, 0xC0) // pop "01"

	// 03/02: types
	p = append(p, 0xC1, 0x02)                        // push "02"
	p = append(p, 0xC1, byte(consts.FieldTypeNumber)) // push type-code segment (1 byte)
	p = append(p, 0x42, 0x01, 'x')                    // field-ref 2 membership
	p = append(p, 0xC0)
	p = append(p, 0xC0) // pop "02"

	// 03/03: order (field 2 -> order 1)
	p = append(p, 0xC1, 0x03)          // push "03"
	p = append(p, 0xC4, 0, 0, 0, 1)    // push order segment (4-byte segment, lead 0xC0+4)
	p = append(p, 0x00, 0x02)
	p = append(p, idBytes...)
	p = append(p, 0xC0)
	p = append(p, 0xC0) // pop "03"

	p = append(p, 0xC0) // pop "03" (top-level)

	// 0D: record index, one record id {1}
	p = append(p, 0xC1, 0x0D)
	p = append(p, 0x81, 0x01)
	p = append(p, 0xC0)

	// 05: records, record 1's field 2 = "42"
	p = append(p, 0xC1, 0x05) // push "05"
	p = append(p, 0xC1, 0x01) // push record id segment {0x01}
	p = append(p, 0x42, 0x02, '4', '2')
	p = append(p, 0xC0) // pop record 1
	p = append(p, 0xC0) // pop "05"

	return p
}

func buildArchiveFile() []byte {
	buf := make([]byte, consts.BlockSize*3)
	copy(buf[:15], consts.HeaderMagic[:])
	copy(buf[16:], []byte(consts.VersionPro5))
	writeBlock(buf, consts.RootBlockOffset, 0, 0, 0, buildArchivePayload())
	return buf
}

func TestOpenBuildsCatalogAndRecords(t *testing.T) {
	buf := buildArchiveFile()
	a, err := Open(bytes.NewReader(buf), int64(len(buf)), WithLogger(logr.Discard()), WithSourceEncoding("ascii"))
	require.NoError(t, err)

	fields := a.Catalog().Fields()
	require.Len(t, fields, 1)
	require.Equal(t, "Age", fields[0].Label)
	require.EqualValues(t, 2, fields[0].ID)

	ids, err := a.RecordIDs()
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, ids)

	it, err := a.Records()
	require.NoError(t, err)
	rec, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1, rec.ID)
	require.Equal(t, []byte("42"), rec.Fields[2].Scalar)

	coercer := a.NewCoercer()
	def := &export.FieldExportDefinition{FieldID: 2, Field: "Age", DeclaredType: export.ColumnInteger}
	row := export.CoerceRecord(rec, []*export.FieldExportDefinition{def}, coercer)
	require.EqualValues(t, 42, row.Values[0].Int64)
}

func TestOpenRejectsBadMagic(t *testing.T) {
	buf := buildArchiveFile()
	buf[0] = 0xFF
	_, err := Open(bytes.NewReader(buf), int64(len(buf)))
	require.Error(t, err)
}

func TestDumpBlocksAndLevelCounts(t *testing.T) {
	buf := buildArchiveFile()
	a, err := Open(bytes.NewReader(buf), int64(len(buf)))
	require.NoError(t, err)

	counts := a.LevelCounts()
	require.Equal(t, 1, counts[0])

	blocks := a.DumpBlocks()
	require.Len(t, blocks[0], 1)
	require.EqualValues(t, consts.RootBlockOffset, blocks[0][0].Offset)
}

func TestProgressCallback(t *testing.T) {
	buf := buildArchiveFile()
	var got [2]uint64
	a, err := Open(bytes.NewReader(buf), int64(len(buf)), WithProgress(func(current, total uint64) {
		got[0] = current
		got[1] = total
	}))
	require.NoError(t, err)
	a.Progress(1, 1)
	require.EqualValues(t, [2]uint64{1, 1}, got)
}
