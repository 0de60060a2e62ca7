// Package pathindex implements the B+tree navigator of spec.md §4.4: given
// a query path, it descends the multi-level index block-chains to locate
// the first data block whose first token's path is greater than or equal
// to the query.
package pathindex

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/bgrewell/fp5kit/pkg/block"
	"github.com/bgrewell/fp5kit/pkg/blockchain"
	"github.com/bgrewell/fp5kit/pkg/logging"
	"github.com/bgrewell/fp5kit/pkg/token"
	"github.com/go-logr/logr"
)

// Navigator descends the reconstructed block chains to answer path
// queries. It holds no mutable state between calls.
type Navigator struct {
	reader *block.Reader
	chains *blockchain.Chains
	logger logr.Logger
}

// New builds a Navigator over an already-reconstructed set of chains.
func New(reader *block.Reader, chains *blockchain.Chains, logger logr.Logger) *Navigator {
	return &Navigator{reader: reader, chains: chains, logger: logger}
}

// entry is one separator candidate encountered while scanning an index
// block's tokens: the path bytes in effect at the time it was emitted,
// plus the field reference and the decoded child block id it points at.
type entry struct {
	key     []byte // path ++ fieldRef, the comparable separator key
	childID uint32
}

// sentinelFE and sentinelFF are the raw field-reference byte strings that
// mark the end-of-range separator in an index block, per spec.md §4.4.
var (
	sentinelFE = []byte{0xFF, 0xFE}
	sentinelFF = []byte{0xFF, 0xFF}
)

// FindDataBlock descends from the root index level to level 0 and returns
// the file offset of the first data block whose first token's path is
// greater than or equal to query.
func (n *Navigator) FindDataBlock(query []byte) (offset int64, ok bool, err error) {
	rootLevel := n.chains.RootLevel()
	offsets, has := n.chains.Level(rootLevel)
	if !has || len(offsets) == 0 {
		return 0, false, fmt.Errorf("fp5: no root level chain")
	}
	currentOffset := offsets[0]

	for level := int(rootLevel); level >= 1; level-- {
		childID, derr := n.descendOneLevel(uint8(level), currentOffset, query)
		if derr != nil {
			return 0, false, derr
		}
		childOffset, found := n.chains.OffsetForID(uint8(level-1), childID)
		if !found {
			n.logger.Error(nil, "descended to a child id with no matching block", "level", level-1, "childID", childID)
			return 0, false, nil
		}
		currentOffset = childOffset
	}

	n.logger.V(logging.DEBUG).Info("resolved query path to data block", "offset", currentOffset)
	return currentOffset, true, nil
}

// descendOneLevel scans the index block chain starting at blockOffset
// (level `level`) for the first separator entry whose key is >= query, and
// returns the child block id to descend into, preferring the previous
// sibling entry when the match is the first entry of a block (spec.md
// §4.4's "query falls between two index separators" case).
func (n *Navigator) descendOneLevel(level uint8, blockOffset int64, query []byte) (uint32, error) {
	offsets, _ := n.chains.Level(level)
	idx := indexOfOffset(offsets, blockOffset)
	if idx < 0 {
		return 0, fmt.Errorf("fp5: level %d offset 0x%X is not part of its chain", level, blockOffset)
	}

	for {
		entries, lastChild, herr := n.scanBlockEntries(offsets[idx])
		if herr != nil {
			return 0, herr
		}
		if len(entries) == 0 {
			if idx == 0 {
				return 0, fmt.Errorf("fp5: level %d has no index entries and no predecessor", level)
			}
			idx--
			continue
		}

		if compareKey(entries[0].key, query) > 0 {
			// The whole block's first entry already exceeds the query; back
			// up one block in the chain and retry (spec.md §4.4 edge case).
			if idx == 0 {
				n.logger.V(logging.DEBUG).Info("query path precedes first index entry, no predecessor", "level", level)
				return entries[0].childID, nil
			}
			idx--
			continue
		}

		for i, e := range entries {
			if compareKey(e.key, query) >= 0 || isSentinel(e.key) {
				if i == 0 && idx > 0 {
					// Prefer the previous sibling's last child so the walk
					// never misses a key that falls exactly on a separator
					// boundary shared between two blocks.
					prevEntries, _, perr := n.scanBlockEntries(offsets[idx-1])
					if perr == nil && len(prevEntries) > 0 {
						return prevEntries[len(prevEntries)-1].childID, nil
					}
				}
				return e.childID, nil
			}
		}
		return lastChild, nil
	}
}

// scanBlockEntries walks every token in the single index block at offset
// (its whole payload, skip_bytes not applied, no continuation into later
// blocks) and returns the separator entries it observes plus the last
// child id seen, for use when no entry in the block matches the query.
func (n *Navigator) scanBlockEntries(offset int64) ([]entry, uint32, error) {
	h, err := n.reader.ReadHeader(offset)
	if err != nil {
		return nil, 0, fmt.Errorf("fp5: reading index block header at 0x%X: %w", offset, err)
	}
	payload, err := n.reader.ReadPayload(offset, h, false)
	if err != nil {
		return nil, 0, fmt.Errorf("fp5: reading index block payload at 0x%X: %w", offset, err)
	}

	var entries []entry
	var lastChild uint32
	var path []byte
	var segLens []int
	pos := 0

	for pos < len(payload) {
		tok, terr := token.Next(payload, pos)
		if terr != nil {
			n.logger.Error(terr, "abandoning index block on malformed token", "offset", offset, "pos", pos)
			break
		}
		switch tok.Kind {
		case token.KindPushPath:
			path = append(path, tok.Segment...)
			segLens = append(segLens, len(tok.Segment))
		case token.KindPopPath:
			if len(segLens) > 0 {
				last := segLens[len(segLens)-1]
				path = path[:len(path)-last]
				segLens = segLens[:len(segLens)-1]
			}
		case token.KindFieldValue:
			if len(tok.Value) == 4 {
				childID := binary.BigEndian.Uint32(tok.Value)
				key := append(append([]byte{}, path...), tok.FieldRef...)
				entries = append(entries, entry{key: key, childID: childID})
				lastChild = childID
			}
		}
		pos += tok.Size
	}

	return entries, lastChild, nil
}

func compareKey(a, b []byte) int {
	return bytes.Compare(a, b)
}

func isSentinel(key []byte) bool {
	return bytes.HasSuffix(key, sentinelFE) || bytes.HasSuffix(key, sentinelFF)
}

func indexOfOffset(offsets []int64, target int64) int {
	for i, o := range offsets {
		if o == target {
			return i
		}
	}
	return -1
}
