// Package tokenstream implements the core node-tree traversal of
// spec.md §4.5: a pull iterator ("Cursor") that walks the token sequence
// of a block chain, maintaining the path stack, the stack of
// partially-built node values, a long-value accumulator, and a skip
// flag, and yields (key, value) pairs for every immediate child of a
// query path.
//
// Per spec.md §9's design note, this is modeled as a plain pull iterator
// with no coroutines: callers repeatedly call Next until it reports
// end-of-sequence.
package tokenstream

import (
	"bytes"
	"fmt"

	"github.com/bgrewell/fp5kit/pkg/block"
	"github.com/bgrewell/fp5kit/pkg/blockchain"
	"github.com/bgrewell/fp5kit/pkg/pathindex"
	"github.com/bgrewell/fp5kit/pkg/token"
	"github.com/bgrewell/fp5kit/pkg/vli"
	"github.com/go-logr/logr"
)

// ParseError reports a length-check token whose declared total does not
// match the reassembled long value. It is logged, never returned: the node
// being built is discarded and scanning continues after its closing pop.
// A malformed token (a declared length past the payload end, or an
// unrecognized leading byte) is logged with pkg/token's own error instead;
// the record being built is discarded and the scan resumes at the next
// block boundary.
type ParseError struct {
	Offset int64
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("fp5: parse error at block offset 0x%X: %s", e.Offset, e.Reason)
}

// nodeBuilder accumulates an ordered set of keyed entries (a record's
// field map, or a structural sub-node) and/or a flat list of inline array
// chunks (the record-index's list of ids under path 0x0D). It finalizes
// as an array only when it received chunks and no keyed entries; once it
// holds any keyed entry, its array chunks are dropped at finalize. Each
// builder also carries its own
// long-value accumulator, since a multi-block value never straddles a
// push or pop: it is always reassembled entirely within the node that
// introduced it.
type nodeBuilder struct {
	key     []byte // the path segment or field-ref this builder was opened for
	entries []Entry
	array   []ArrayElem
	longVal *longValueAcc
}

func (b *nodeBuilder) addEntry(key []byte, v Value) {
	b.entries = append(b.entries, Entry{Key: append([]byte{}, key...), Value: v})
}

func (b *nodeBuilder) addArrayChunk(chunk []byte) {
	b.array = append(b.array, ArrayElem{Bytes: append([]byte{}, chunk...), Present: true})
}

func (b *nodeBuilder) finalize() Value {
	if len(b.array) > 0 && len(b.entries) == 0 {
		return Value{Kind: KindArray, Array: b.array}
	}
	// A node consisting of exactly one implicit-ref0 field is the common
	// "name maps directly to a scalar" leaf shape (e.g. 03/01's
	// name -> field-id entries): unwrap it instead of forcing callers
	// through an extra single-entry Node layer.
	if len(b.entries) == 1 && bytes.Equal(b.entries[0].Key, []byte{0x00}) {
		return b.entries[0].Value
	}
	return Value{Kind: KindNode, Node: &Node{entries: b.entries}}
}

// longValueAcc is the AwaitingLongTail state of spec.md §4.7: a field
// reference whose value spans more than one long-form token, closed by a
// length-check token. The chunk counter travels in the field-reference
// slot of every extension token after the first, so it is only useful
// for validating chunk order; the value is always emitted under
// fieldRef, the reference carried by the token that opened the
// accumulator.
type longValueAcc struct {
	fieldRef []byte
	chunks   [][]byte
}

func (a *longValueAcc) total() int {
	n := 0
	for _, c := range a.chunks {
		n += len(c)
	}
	return n
}

func (a *longValueAcc) concat() []byte {
	out := make([]byte, 0, a.total())
	for _, c := range a.chunks {
		out = append(out, c...)
	}
	return out
}

// Cursor is the pull iterator over one query path's immediate children
// (or, when yieldChildren is false, over the single node at the query
// path itself).
type Cursor struct {
	reader *block.Reader
	chains *blockchain.Chains
	logger logr.Logger

	searchPath       []byte
	yieldChildren    bool
	tokenIDsToReturn map[string]bool // nil disables filtering

	offsets  []int64
	chainPos int

	payload []byte
	pos     int

	curPath []byte
	segLens []int

	builders []*nodeBuilder
	entered  bool
	done     bool

	skipDepth int

	pending []pendingEntry
}

type pendingEntry struct {
	key   []byte
	value Value
}

// NewCursor builds a Cursor over the data chain (level 0), starting at
// the block located by pathindex for startPath (start_node_path when
// resuming a scan, or searchPath itself otherwise).
func NewCursor(
	reader *block.Reader,
	chains *blockchain.Chains,
	nav *pathindex.Navigator,
	logger logr.Logger,
	searchPath []byte,
	yieldChildren bool,
	startPath []byte,
	tokenIDsToReturn [][]byte,
) (*Cursor, error) {
	seek := searchPath
	if startPath != nil {
		seek = startPath
	}

	startOffset, ok, err := nav.FindDataBlock(seek)
	if err != nil {
		return nil, fmt.Errorf("fp5: locating start block: %w", err)
	}

	offsets := chains.DataChain()
	startIdx := 0
	if ok {
		for i, o := range offsets {
			if o == startOffset {
				startIdx = i
				break
			}
		}
	}

	var filter map[string]bool
	if tokenIDsToReturn != nil {
		filter = make(map[string]bool, len(tokenIDsToReturn))
		for _, id := range tokenIDsToReturn {
			filter[string(id)] = true
		}
	}

	c := &Cursor{
		reader:           reader,
		chains:           chains,
		logger:           logger,
		searchPath:       append([]byte{}, searchPath...),
		yieldChildren:    yieldChildren,
		tokenIDsToReturn: filter,
		offsets:          offsets,
		chainPos:         startIdx,
	}
	if err := c.loadBlock(startIdx == 0); err != nil {
		return nil, err
	}
	return c, nil
}

// loadBlock reads the payload of the current chain position. first is
// true only for the head block of the data chain; every other block,
// including a mid-chain block where a scan starts, has skip_bytes applied
// to land past a straddling long-value tail (spec.md §4.5).
func (c *Cursor) loadBlock(first bool) error {
	if c.chainPos >= len(c.offsets) {
		c.payload = nil
		c.pos = 0
		return nil
	}
	offset := c.offsets[c.chainPos]
	h, err := c.reader.ReadHeader(offset)
	if err != nil {
		return fmt.Errorf("fp5: reading block header at 0x%X: %w", offset, err)
	}
	payload, err := c.reader.ReadPayload(offset, h, !first)
	if err != nil {
		return fmt.Errorf("fp5: reading block payload at 0x%X: %w", offset, err)
	}
	c.payload = payload
	c.pos = 0
	return nil
}

// Next advances the scan and returns the next (key, value) pair. ok is
// false once the scan has exhausted every sorted key at or under
// searchPath, or the data chain itself is exhausted.
func (c *Cursor) Next() (key []byte, value Value, ok bool, err error) {
	for {
		if len(c.pending) > 0 {
			p := c.pending[0]
			c.pending = c.pending[1:]
			return p.key, p.value, true, nil
		}
		if c.done {
			return nil, Value{}, false, nil
		}
		advanced, err := c.step()
		if err != nil {
			return nil, Value{}, false, err
		}
		if !advanced {
			c.done = true
		}
	}
}

// step consumes one token, or advances to the next block in the chain
// when the current payload is exhausted. It returns false when the data
// chain itself is exhausted (true end of stream).
func (c *Cursor) step() (bool, error) {
	if c.pos >= len(c.payload) {
		c.chainPos++
		if c.chainPos >= len(c.offsets) {
			return false, nil
		}
		if err := c.loadBlock(false); err != nil {
			return false, err
		}
		return true, nil
	}

	offset := c.offsets[c.chainPos]
	tok, terr := token.Next(c.payload, c.pos)
	if terr != nil {
		c.logger.Error(terr, "abandoning block on malformed token", "offset", offset, "pos", c.pos)
		c.pos = len(c.payload)
		if c.entered && len(c.builders) > 1 {
			// Discard the partially built record and swallow the pops that
			// would have closed its open builders.
			c.skipDepth += len(c.builders) - 1
			c.builders = c.builders[:1]
		}
		return true, nil
	}
	c.pos += tok.Size

	switch tok.Kind {
	case token.KindPushPath:
		c.handlePush(tok.Segment)
	case token.KindPopPath:
		if done := c.handlePop(); done {
			return false, nil
		}
	case token.KindFieldValue:
		c.handleFieldValue(offset, tok)
	case token.KindArrayChunk:
		c.handleArrayChunk(tok.Value)
	case token.KindLengthCheck:
		c.handleLengthCheck(offset, tok.LengthCheckValue)
	}
	return true, nil
}

func (c *Cursor) handlePush(segment []byte) {
	c.curPath = append(c.curPath, segment...)
	c.segLens = append(c.segLens, len(segment))

	if c.skipDepth > 0 {
		c.skipDepth++
		return
	}

	if !c.entered {
		if bytes.Equal(c.curPath, c.searchPath) {
			c.entered = true
			c.builders = []*nodeBuilder{{key: append([]byte{}, c.searchPath...)}}
		}
		return
	}

	// We are already inside searchPath's subtree: a new push opens a
	// child builder, pruned by tokenIDsToReturn at the depth of a
	// record's own fields (depth 2 beneath the container: container,
	// then the yielded record, then its field sub-nodes).
	if len(c.builders) == 2 && c.tokenIDsToReturn != nil && !c.tokenIDsToReturn[string(segment)] {
		c.skipDepth = 1
		return
	}
	c.builders = append(c.builders, &nodeBuilder{key: append([]byte{}, segment...)})
}

// handlePop returns true when the scan has fully exited searchPath's
// subtree and no further matches are possible (sorted data guarantee).
func (c *Cursor) handlePop() bool {
	if len(c.segLens) > 0 {
		last := c.segLens[len(c.segLens)-1]
		c.curPath = c.curPath[:len(c.curPath)-last]
		c.segLens = c.segLens[:len(c.segLens)-1]
	}

	if c.skipDepth > 0 {
		c.skipDepth--
		return false
	}
	if !c.entered {
		return false
	}

	depth := len(c.builders)
	top := c.builders[len(c.builders)-1]
	finalized := top.finalize()
	c.builders = c.builders[:len(c.builders)-1]

	switch {
	case depth == 1:
		// Closed the container itself: searchPath's own subtree is done.
		if !c.yieldChildren {
			c.pending = append(c.pending, pendingEntry{key: append([]byte{}, c.searchPath...), value: finalized})
		}
		c.entered = false
		return true
	case depth == 2:
		if c.yieldChildren {
			c.pending = append(c.pending, pendingEntry{key: top.key, value: finalized})
		} else {
			c.builders[len(c.builders)-1].addEntry(top.key, finalized)
		}
	default:
		c.builders[len(c.builders)-1].addEntry(top.key, finalized)
	}
	return false
}

func (c *Cursor) handleFieldValue(offset int64, tok token.Token) {
	if c.skipDepth > 0 {
		return
	}
	if !c.entered || len(c.builders) == 0 {
		return
	}

	combinedRef := append(append([]byte{}, tok.FieldRef...), tok.SubRef...)

	if c.tokenIDsToReturn != nil && len(c.builders) == 2 && !c.tokenIDsToReturn[string(combinedRef)] {
		return
	}

	if tok.IsLongForm {
		c.handleLongFormChunk(offset, combinedRef, tok.Value)
		return
	}

	c.builders[len(c.builders)-1].addEntry(combinedRef, Value{Kind: KindScalar, Scalar: append([]byte{}, tok.Value...)})
}

// handleLongFormChunk implements the AwaitingLongTail transitions of
// spec.md §4.7: the first long-form token a node sees opens that node's
// accumulator under its own field reference; every later long-form token
// in the same node, whatever reference bytes it carries, is a
// continuation chunk of that same value. The reference slot of a
// continuation token carries the reassembly counter, not an identity, so
// it is decoded only to check chunk ordering and otherwise discarded.
func (c *Cursor) handleLongFormChunk(offset int64, combinedRef, chunk []byte) {
	b := c.builders[len(c.builders)-1]

	if b.longVal == nil {
		b.longVal = &longValueAcc{fieldRef: append([]byte{}, combinedRef...)}
		b.longVal.chunks = append(b.longVal.chunks, append([]byte{}, chunk...))
		return
	}

	if counter, _, ok := vli.Decode(combinedRef, false); ok {
		if want := uint64(len(b.longVal.chunks) + 1); counter != want {
			c.logger.Error(nil, "long-value chunk counter out of order", "offset", offset, "want", want, "got", counter)
		}
	}
	b.longVal.chunks = append(b.longVal.chunks, append([]byte{}, chunk...))
}

func (c *Cursor) handleLengthCheck(offset int64, declared uint64) {
	if len(c.builders) == 0 {
		return
	}
	b := c.builders[len(c.builders)-1]
	if b.longVal == nil {
		c.logger.Error(nil, "length-check token with no open long-value accumulator, ignoring", "offset", offset)
		return
	}
	acc := b.longVal
	b.longVal = nil

	if uint64(acc.total()) != declared {
		c.logger.Error(&ParseError{Offset: offset, Reason: "length-check mismatch, discarding node"},
			"length-check failed", "declared", declared, "actual", acc.total())
		if len(c.builders) > 0 {
			c.skipDepth = 1
			c.builders = c.builders[:len(c.builders)-1]
		}
		return
	}

	if c.skipDepth > 0 {
		return
	}
	b.addEntry(acc.fieldRef, Value{Kind: KindScalar, Scalar: acc.concat()})
}

func (c *Cursor) handleArrayChunk(chunk []byte) {
	if c.skipDepth > 0 {
		return
	}
	if !c.entered || len(c.builders) == 0 {
		return
	}
	c.builders[len(c.builders)-1].addArrayChunk(chunk)
}

// DecodeFieldRef decodes a combined field-reference byte string into its
// primary field id and any sub-reference (repetition subscript or
// reassembly counter), per spec.md §4.1 and §4.6.
func DecodeFieldRef(combined []byte) (fieldID uint64, subRef []byte, err error) {
	head, tail := vli.Split(combined)
	v, _, ok := vli.Decode(head, false)
	if !ok {
		return 0, nil, fmt.Errorf("fp5: malformed field reference %x", combined)
	}
	return v, tail, nil
}
