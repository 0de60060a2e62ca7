// Package blockchain reconstructs the per-level linked lists of blocks
// that make up an fp5 file's logical B+tree, per spec.md §4.3.
//
// Block headers carry only a predecessor and successor reference, never
// their own identity — a block's id is learned only by observing how its
// neighbours (or, for the first block of a chain, the parent level's
// child pointer) refer to it. Reconstruction therefore proceeds top-down,
// one level at a time, starting at the single root block.
package blockchain

import (
	"encoding/binary"
	"fmt"

	"github.com/bgrewell/fp5kit/pkg/block"
	"github.com/bgrewell/fp5kit/pkg/consts"
	"github.com/bgrewell/fp5kit/pkg/logging"
	"github.com/go-logr/logr"
)

// BlockError reports that a block reached via chain navigation could not
// be used: it was deleted, truncated, or its chain was broken. It is
// always recoverable — the caller skips the block and continues.
type BlockError struct {
	Offset int64
	Reason string
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("fp5: block error at offset 0x%X: %s", e.Offset, e.Reason)
}

// levelChain is the ordered reconstruction of one chain level.
type levelChain struct {
	offsets []int64
	ids     []uint32
	idIndex map[uint32]int
}

// Chains holds the reconstructed block-chains of one open fp5 file: one
// ordered chain per level, from the data chain (level 0) up to the
// single-block root chain (level L).
type Chains struct {
	reader *block.Reader
	logger logr.Logger
	levels []levelChain // indexed by level, 0..RootLevel
}

// RootLevel returns the level number L of the root index block.
func (c *Chains) RootLevel() uint8 {
	return uint8(len(c.levels) - 1)
}

// Level returns the ordered block offsets of the chain at the given
// level, in traversal order (leaf-first within the chain, i.e. following
// next_id from the block with prev_id == 0).
func (c *Chains) Level(level uint8) ([]int64, bool) {
	if int(level) >= len(c.levels) {
		return nil, false
	}
	return c.levels[level].offsets, true
}

// DataChain returns the ordered list of level-0 (data) block offsets.
func (c *Chains) DataChain() []int64 {
	offsets, _ := c.Level(0)
	return offsets
}

// OffsetForID returns the file offset of the block with the given id at
// the given level, enabling O(1) resumption of a scan from a known
// block-id (spec.md §4.3's BlockChainIter seek).
func (c *Chains) OffsetForID(level uint8, id uint32) (int64, bool) {
	if int(level) >= len(c.levels) {
		return 0, false
	}
	idx, ok := c.levels[level].idIndex[id]
	if !ok {
		return 0, false
	}
	return c.levels[level].offsets[idx], true
}

// LevelCounts returns the number of reconstructed (non-deleted) blocks at
// each level, for the dump-blocks diagnostic action.
func (c *Chains) LevelCounts() map[uint8]int {
	out := make(map[uint8]int, len(c.levels))
	for lvl, lc := range c.levels {
		out[uint8(lvl)] = len(lc.offsets)
	}
	return out
}

type scannedBlock struct {
	offset int64
	header block.Header
}

// Build performs the single linear scan of the file described in
// spec.md §4.3 and reconstructs every level's chain ordering.
func Build(r *block.Reader, logger logr.Logger) (*Chains, error) {
	rootHeader, err := r.ReadHeader(consts.RootBlockOffset)
	if err != nil {
		return nil, fmt.Errorf("fp5: reading root block header: %w", err)
	}
	rootLevel := rootHeader.Level
	maxID := rootHeader.NextID

	logger.V(logging.DEBUG).Info("reconstructing block chains", "rootLevel", rootLevel, "maxBlockID", maxID)

	buckets := make([][]scannedBlock, rootLevel+1)
	for offset := int64(consts.RootBlockOffset); offset < r.Size(); offset += consts.BlockSize {
		h, err := r.ReadHeader(offset)
		if err != nil {
			logger.Error(err, "skipping unreadable block", "offset", offset)
			continue
		}
		if h.Deleted {
			continue
		}
		if int(h.Level) > int(rootLevel) {
			logger.Error(nil, "block reports level beyond root, skipping", "offset", offset, "level", h.Level)
			continue
		}
		buckets[h.Level] = append(buckets[h.Level], scannedBlock{offset: offset, header: h})
	}

	levels := make([]levelChain, rootLevel+1)
	levels[rootLevel] = levelChain{
		offsets: []int64{consts.RootBlockOffset},
		ids:     []uint32{0},
		idIndex: map[uint32]int{0: 0},
	}

	for lvl := int(rootLevel) - 1; lvl >= 0; lvl-- {
		parentOffset := levels[lvl+1].offsets[0]
		parentHeader, err := r.ReadHeader(parentOffset)
		if err != nil {
			return nil, fmt.Errorf("fp5: re-reading parent block at level %d: %w", lvl+1, err)
		}
		parentPayload, err := r.ReadPayload(parentOffset, parentHeader, false)
		if err != nil {
			return nil, fmt.Errorf("fp5: reading parent payload at level %d: %w", lvl+1, err)
		}
		childID, haveChildID := firstChildBlockID(parentPayload)

		prevIDToOffset := make(map[uint32]int64, len(buckets[lvl]))
		headerByOffset := make(map[int64]block.Header, len(buckets[lvl]))
		for _, sb := range buckets[lvl] {
			headerByOffset[sb.offset] = sb.header
			if existing, dup := prevIDToOffset[sb.header.PrevID]; dup {
				logger.Error(nil, "duplicate block_id encountered while indexing chain, keeping first offset",
					"level", lvl, "prevID", sb.header.PrevID, "keptOffset", existing, "droppedOffset", sb.offset)
				continue
			}
			prevIDToOffset[sb.header.PrevID] = sb.offset
		}

		headOffset, ok := prevIDToOffset[0]
		if !ok {
			return nil, fmt.Errorf("fp5: level %d has no block with prev_id == 0", lvl)
		}
		if haveChildID {
			logger.V(logging.TRACE).Info("resolved chain head", "level", lvl, "parentChildID", childID, "headOffset", headOffset)
		}

		var offsets []int64
		var ids []uint32
		idIndex := map[uint32]int{}
		visited := map[int64]bool{}

		currentOffset := headOffset
		currentID := childID
		for {
			if visited[currentOffset] {
				logger.Error(nil, "cycle detected while walking chain, truncating", "level", lvl, "offset", currentOffset)
				break
			}
			visited[currentOffset] = true

			h, ok := headerByOffset[currentOffset]
			if !ok {
				return nil, fmt.Errorf("fp5: chain walk at level %d reached unindexed offset 0x%X", lvl, currentOffset)
			}

			offsets = append(offsets, currentOffset)
			ids = append(ids, currentID)
			idIndex[currentID] = len(offsets) - 1

			if h.NextID == 0 {
				break
			}
			nextOffset, ok := prevIDToOffset[h.NextID]
			if !ok {
				logger.Error(&BlockError{Offset: currentOffset, Reason: "next_id has no matching block, chain truncated"},
					"broken chain", "level", lvl, "nextID", h.NextID)
				break
			}
			currentOffset = nextOffset
			currentID = h.NextID
		}

		levels[lvl] = levelChain{offsets: offsets, ids: ids, idIndex: idIndex}
		logger.V(logging.DEBUG).Info("reconstructed chain", "level", lvl, "blocks", len(offsets))
	}

	return &Chains{reader: r, logger: logger, levels: levels}, nil
}

// childPointerSentinel is the 2-byte marker that precedes an index
// block's first child-block pointer in its payload.
var childPointerSentinel = [2]byte{0x00, 0x04}

// firstChildBlockID scans an index block's payload for the sentinel
// "00 04" prefix and decodes the big-endian 4-byte block-id that follows
// it, per spec.md §4.3 step 2.
func firstChildBlockID(payload []byte) (uint32, bool) {
	for i := 0; i+6 <= len(payload); i++ {
		if payload[i] == childPointerSentinel[0] && payload[i+1] == childPointerSentinel[1] {
			return binary.BigEndian.Uint32(payload[i+2 : i+6]), true
		}
	}
	return 0, false
}
