package record

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/bgrewell/fp5kit/pkg/block"
	"github.com/bgrewell/fp5kit/pkg/blockchain"
	"github.com/bgrewell/fp5kit/pkg/consts"
	"github.com/bgrewell/fp5kit/pkg/pathindex"
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

// buildRecordsPayload builds 0D (two record ids) plus a 05 sub-tree
// with two records:
//
//	record 1: scalar field ref 2 = "abc", mod-id (0xFC) = 7,
//	          a repeating field ref 3 (repetitions=2) with two
//	          subscripted values "s1" (subscript 1) and "s2" (subscript 2).
//	record 2: only the mod-id field, value 9.
func buildRecordsPayload() []byte {
	var p []byte

	// 0D: record index
	p = append(p, 0xC1, 0x0D)
	p = append(p, 0x81, 0x01)
	p = append(p, 0x81, 0x02)
	p = append(p, 0xC0)

	// 05: records
	p = append(p, 0xC1, 0x05)

	p = append(p, 0xC1, 0x01) // push record id {0x01}
	p = append(p, 0x42, 0x03, 'a', 'b', 'c') // field ref 2 = "abc"
	// mod-id sub-token: long-ref-short-data form with a literal 1-byte
	// ref slice 0xFC (not itself a valid VLI lead byte, so vli.Split
	// passes it through unchanged as the token's FieldRef).
	p = append(p, 0x01, 0xFC, 0x01, 0x07) // field ref 0xFC (mod-id) = 7
	// field ref 3, subscript 1, value "s1": long-ref short-data form,
	// ref bytes = vli(3) ++ vli(1) = 03 01.
	p = append(p, 0x02, 0x03, 0x01, 0x02, 's', '1')
	// field ref 3, subscript 2, value "s2".
	p = append(p, 0x02, 0x03, 0x02, 0x02, 's', '2')
	p = append(p, 0xC0) // pop record 1

	p = append(p, 0xC1, 0x02)              // push record id {0x02}
	p = append(p, 0x01, 0xFC, 0x01, 0x09) // field ref 0xFC (mod-id) = 9
	p = append(p, 0xC0)                    // pop record 2

	p = append(p, 0xC0) // pop "05"

	return p
}

func buildRecordsFile(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, consts.BlockSize*3)
	copy(buf[:15], consts.HeaderMagic[:])
	copy(buf[16:], []byte(consts.VersionPro5))
	writeBlock(buf, consts.RootBlockOffset, 0, 0, 0, buildRecordsPayload())
	return buf
}

func openRecordSources(t *testing.T) (*block.Reader, *blockchain.Chains, *pathindex.Navigator) {
	t.Helper()
	buf := buildRecordsFile(t)
	r, err := block.NewReader(bytes.NewReader(buf), int64(len(buf)), logr.Discard())
	require.NoError(t, err)
	chains, err := blockchain.Build(r, logr.Discard())
	require.NoError(t, err)
	nav := pathindex.New(r, chains, logr.Discard())
	return r, chains, nav
}

func reps(fieldID uint64) (int, bool) {
	if fieldID == 3 {
		return 2, true
	}
	return 1, true
}

func TestIteratorYieldsRecordsWithRoutedFields(t *testing.T) {
	r, chains, nav := openRecordSources(t)
	it, err := NewIterator(r, chains, nav, logr.Discard(), nil, nil, reps)
	require.NoError(t, err)

	rec1, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1, rec1.ID)
	require.EqualValues(t, 7, rec1.ModID)
	require.Equal(t, []byte("abc"), rec1.Fields[2].Scalar)
	require.True(t, rec1.Fields[3].IsRepeating())
	require.Equal(t, []byte("s1"), rec1.Fields[3].Slots[0])
	require.Equal(t, []byte("s2"), rec1.Fields[3].Slots[1])

	rec2, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 2, rec2.ID)
	require.EqualValues(t, 9, rec2.ModID)
	require.Empty(t, rec2.Fields)

	_, ok, err = it.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRecordIDs(t *testing.T) {
	r, chains, nav := openRecordSources(t)
	ids, err := RecordIDs(r, chains, nav, logr.Discard())
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2}, ids)
}
