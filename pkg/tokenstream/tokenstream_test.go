package tokenstream

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/bgrewell/fp5kit/pkg/block"
	"github.com/bgrewell/fp5kit/pkg/blockchain"
	"github.com/bgrewell/fp5kit/pkg/consts"
	"github.com/bgrewell/fp5kit/pkg/pathindex"
	"github.com/bgrewell/fp5kit/pkg/vli"
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

// buildRecordsPayload builds a single root/data block (level 0, root
// chain only) under path 0x05 with two records:
//
//	record 0x01: field ref1="abc", field ref2="xy"
//	record 0x02: field ref1 reassembled from a long-form chunk + a
//	             length-check, field ref3="Z"
func buildRecordsPayload() []byte {
	var p []byte
	p = append(p, 0xC1, 0x05) // push "05"

	p = append(p, 0xC1, 0x01) // push record id {0x01}
	p = append(p, 0x41, 0x03, 'a', 'b', 'c')
	p = append(p, 0x42, 0x02, 'x', 'y')
	p = append(p, 0xC0) // pop record 1

	p = append(p, 0xC1, 0x02) // push record id {0x02}
	p = append(p, 0xFF, 0x01, 0x01, 0x00, 0x05, 'A', 'A', 'A', 'A', 'A')
	p = append(p, 0x01, 0xFF, 0x05, 0x00, 0x00, 0x00, 0x00, 0x05) // length-check = 5
	p = append(p, 0x43, 0x01, 'Z')
	p = append(p, 0xC0) // pop record 2

	p = append(p, 0xC0) // pop "05"
	return p
}

func buildSyntheticFile(t *testing.T, payload []byte) []byte {
	t.Helper()
	buf := make([]byte, consts.BlockSize*3)
	copy(buf[:15], consts.HeaderMagic[:])
	copy(buf[16:], []byte(consts.VersionPro5))
	writeBlock(buf, consts.RootBlockOffset, 0, 0, 0, payload)
	return buf
}

func openCursor(t *testing.T, payload, filter []byte) *Cursor {
	t.Helper()
	buf := buildSyntheticFile(t, payload)
	r, err := block.NewReader(bytes.NewReader(buf), int64(len(buf)), logr.Discard())
	require.NoError(t, err)
	chains, err := blockchain.Build(r, logr.Discard())
	require.NoError(t, err)
	nav := pathindex.New(r, chains, logr.Discard())

	var ids [][]byte
	if filter != nil {
		ids = [][]byte{filter}
	}
	c, err := NewCursor(r, chains, nav, logr.Discard(), []byte{0x05}, true, nil, ids)
	require.NoError(t, err)
	return c
}

func drain(t *testing.T, c *Cursor) []Entry {
	t.Helper()
	var out []Entry
	for {
		key, v, ok, err := c.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		out = append(out, Entry{Key: key, Value: v})
	}
	return out
}

func TestYieldsBothRecordsWithNoFilter(t *testing.T) {
	c := openCursor(t, buildRecordsPayload(), nil)
	entries := drain(t, c)
	require.Len(t, entries, 2)

	require.Equal(t, []byte{0x01}, entries[0].Key)
	require.Equal(t, KindNode, entries[0].Value.Kind)
	ref1, _ := vli.Encode(1)
	ref2, _ := vli.Encode(2)
	v1, ok := entries[0].Value.Node.Get(ref1)
	require.True(t, ok)
	require.Equal(t, []byte("abc"), v1.Scalar)
	v2, ok := entries[0].Value.Node.Get(ref2)
	require.True(t, ok)
	require.Equal(t, []byte("xy"), v2.Scalar)

	require.Equal(t, []byte{0x02}, entries[1].Key)
	ref3, _ := vli.Encode(3)
	reassembled, ok := entries[1].Value.Node.Get(ref1)
	require.True(t, ok)
	require.Equal(t, []byte("AAAAA"), reassembled.Scalar)
	z, ok := entries[1].Value.Node.Get(ref3)
	require.True(t, ok)
	require.Equal(t, []byte("Z"), z.Scalar)
}

func TestFilterPrunesUnwantedFields(t *testing.T) {
	ref1, _ := vli.Encode(1)
	c := openCursor(t, buildRecordsPayload(), ref1)
	entries := drain(t, c)
	require.Len(t, entries, 2)

	ref2, _ := vli.Encode(2)
	ref3, _ := vli.Encode(3)

	_, ok := entries[0].Value.Node.Get(ref2)
	require.False(t, ok, "field ref2 should have been pruned by the filter")
	v1, ok := entries[0].Value.Node.Get(ref1)
	require.True(t, ok)
	require.Equal(t, []byte("abc"), v1.Scalar)

	_, ok = entries[1].Value.Node.Get(ref3)
	require.False(t, ok, "field ref3 should have been pruned by the filter")
	reassembled, ok := entries[1].Value.Node.Get(ref1)
	require.True(t, ok)
	require.Equal(t, []byte("AAAAA"), reassembled.Scalar)
}

func TestYieldChildrenFalseReturnsSingleContainerNode(t *testing.T) {
	buf := buildSyntheticFile(t, buildRecordsPayload())
	r, err := block.NewReader(bytes.NewReader(buf), int64(len(buf)), logr.Discard())
	require.NoError(t, err)
	chains, err := blockchain.Build(r, logr.Discard())
	require.NoError(t, err)
	nav := pathindex.New(r, chains, logr.Discard())

	c, err := NewCursor(r, chains, nav, logr.Discard(), []byte{0x05}, false, nil, nil)
	require.NoError(t, err)

	key, v, ok, err := c.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{0x05}, key)
	require.Equal(t, KindNode, v.Kind)
	require.Len(t, v.Node.Entries(), 2)

	_, _, ok, err = c.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLengthCheckMismatchDropsRecord(t *testing.T) {
	var p []byte
	p = append(p, 0xC1, 0x05)
	p = append(p, 0xC1, 0x01)
	p = append(p, 0xFF, 0x01, 0x01, 0x00, 0x03, 'A', 'A', 'A')
	p = append(p, 0x01, 0xFF, 0x05, 0x00, 0x00, 0x00, 0x00, 0x09) // declares 9, actual 3
	p = append(p, 0xC0)
	p = append(p, 0xC1, 0x02)
	p = append(p, 0x41, 0x02, 'h', 'i')
	p = append(p, 0xC0)
	p = append(p, 0xC0)

	c := openCursor(t, p, nil)
	entries := drain(t, c)
	require.Len(t, entries, 1)
	require.Equal(t, []byte{0x02}, entries[0].Key)
}

// TestLongValueReassemblesAcrossMultipleChunks covers spec.md §8 law 5:
// a value too large for one long-form token spans several 0xFF chunks.
// The second chunk's reference slot carries the reassembly counter (2),
// not a field identity, so the final value must still land under the
// field reference the first chunk introduced.
func TestLongValueReassemblesAcrossMultipleChunks(t *testing.T) {
	var p []byte
	p = append(p, 0xC1, 0x05)
	p = append(p, 0xC1, 0x01)
	p = append(p, 0xFF, 0x01, 0x01, 0x00, 0x05, 'A', 'A', 'A', 'A', 'A')
	p = append(p, 0xFF, 0x01, 0x02, 0x00, 0x03, 'B', 'B', 'B')
	p = append(p, 0x01, 0xFF, 0x05, 0x00, 0x00, 0x00, 0x00, 0x08) // length-check = 8
	p = append(p, 0xC0)
	p = append(p, 0xC0)

	c := openCursor(t, p, nil)
	entries := drain(t, c)
	require.Len(t, entries, 1)

	ref1, _ := vli.Encode(1)
	reassembled, ok := entries[0].Value.Node.Get(ref1)
	require.True(t, ok)
	require.Equal(t, []byte("AAAAABBB"), reassembled.Scalar)
}
