// Package record implements spec.md §4.6's "Record index" and "Record
// iteration" steps: decoding the full record-id list under 0D, and
// pulling one Record at a time from the 05 sub-tree with repetition-slot
// routing applied to each field's raw value.
package record

import (
	"bytes"
	"fmt"

	"github.com/bgrewell/fp5kit/pkg/block"
	"github.com/bgrewell/fp5kit/pkg/blockchain"
	"github.com/bgrewell/fp5kit/pkg/consts"
	"github.com/bgrewell/fp5kit/pkg/logging"
	"github.com/bgrewell/fp5kit/pkg/pathindex"
	"github.com/bgrewell/fp5kit/pkg/tokenstream"
	"github.com/bgrewell/fp5kit/pkg/vli"
	"github.com/go-logr/logr"
)

// FieldValue is one field's raw, still source-encoded value as routed
// by spec.md §4.6's repetition rules: Scalar holds a non-repeating
// field's single value; Slots holds a repeating field's per-subscript
// values (a nil slot is one that was never written).
type FieldValue struct {
	Scalar []byte
	Slots  [][]byte
}

// IsRepeating reports whether this value was routed as a repetition
// array rather than a scalar.
func (v FieldValue) IsRepeating() bool {
	return v.Slots != nil
}

// Record is one decoded record: its id, its mod-id (or 0 if absent),
// and its fields keyed by decoded field id.
type Record struct {
	ID     uint64
	ModID  int64
	Fields map[uint64]FieldValue
}

// RepetitionsOf reports the declared repetition count for a field id,
// supplied by the caller (normally backed by a catalog.Catalog), so
// this package stays ignorant of the catalog build process.
type RepetitionsOf func(fieldID uint64) (repetitions int, ok bool)

// Iterator pulls Records one at a time from the 05 sub-tree.
type Iterator struct {
	cur           *tokenstream.Cursor
	repetitionsOf RepetitionsOf
	logger        logr.Logger
}

// NewIterator opens a record iterator starting at startNodePath (or at
// the very first record when nil), restricted to tokenIDsToReturn when
// non-nil (the export definition's set of wanted field ids, pre-encoded
// as combined field-reference byte strings).
func NewIterator(
	reader *block.Reader,
	chains *blockchain.Chains,
	nav *pathindex.Navigator,
	logger logr.Logger,
	startNodePath []byte,
	tokenIDsToReturn [][]byte,
	repetitionsOf RepetitionsOf,
) (*Iterator, error) {
	cur, err := tokenstream.NewCursor(reader, chains, nav, logger, consts.PathRecords, true, startNodePath, tokenIDsToReturn)
	if err != nil {
		return nil, fmt.Errorf("fp5: opening record cursor: %w", err)
	}
	return &Iterator{cur: cur, repetitionsOf: repetitionsOf, logger: logger}, nil
}

// Next returns the next Record, or ok=false once the 05 sub-tree is
// exhausted.
func (it *Iterator) Next() (*Record, bool, error) {
	recordIDBytes, fields, ok, err := it.cur.Next()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	recordID, _, decOK := vli.Decode(recordIDBytes, false)
	if !decOK {
		it.logger.Error(nil, "record id bytes failed VLI decode, using 0", "bytes", recordIDBytes)
	}

	rec := &Record{ID: recordID, Fields: map[uint64]FieldValue{}}
	if fields.Kind != tokenstream.KindNode {
		return rec, true, nil
	}

	for _, e := range fields.Node.Entries() {
		// The mod-id sub-token's key is the literal byte 0xFC, which is
		// not itself a decodable VLI (it falls outside every length
		// class's marker range); match it by raw key equality before
		// attempting the normal field-ref/sub-ref split.
		if bytes.Equal(e.Key, consts.FieldRefModID) {
			if e.Value.Kind == tokenstream.KindScalar {
				rec.ModID = int64(beUint(e.Value.Scalar))
			}
			continue
		}

		fieldRefBytes, subRefBytes := vli.Split(e.Key)
		fieldID, _, decOK := vli.Decode(fieldRefBytes, false)
		if !decOK {
			it.logger.V(logging.DEBUG).Info("skipping field entry with malformed field reference", "key", e.Key)
			continue
		}

		if e.Value.Kind != tokenstream.KindScalar {
			continue
		}
		it.routeField(rec, fieldID, subRefBytes, e.Value.Scalar)
	}

	return rec, true, nil
}

func (it *Iterator) routeField(rec *Record, fieldID uint64, subRefBytes, raw []byte) {
	reps := 1
	if it.repetitionsOf != nil {
		if r, ok := it.repetitionsOf(fieldID); ok && r > 0 {
			reps = r
		}
	}

	if reps <= 1 {
		existing := rec.Fields[fieldID]
		existing.Scalar = append([]byte{}, raw...)
		rec.Fields[fieldID] = existing
		return
	}

	if len(subRefBytes) == 0 {
		it.logger.V(logging.DEBUG).Info("repeating field value has no subscript, skipping", "fieldID", fieldID)
		return
	}
	subscript, _, decOK := vli.Decode(subRefBytes, false)
	if !decOK || subscript < 1 {
		it.logger.V(logging.DEBUG).Info("repeating field subscript failed to decode, skipping", "fieldID", fieldID)
		return
	}
	idx := int(subscript) - 1
	if idx >= reps {
		it.logger.V(logging.DEBUG).Info("repeating field subscript exceeds declared repetitions, skipping", "fieldID", fieldID, "idx", idx, "repetitions", reps)
		return
	}

	existing := rec.Fields[fieldID]
	if existing.Slots == nil {
		existing.Slots = make([][]byte, reps)
	}
	existing.Slots[idx] = append([]byte{}, raw...)
	rec.Fields[fieldID] = existing
}

// beUint decodes an arbitrary-length big-endian unsigned integer, per
// spec.md §4.6's "mod_id = be_uint(fields[b'\xFC'])".
func beUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// RecordIDs decodes the full ordered list of record ids stored under
// 0D, for callers needing only the id list (progress totals,
// resume-point lookup).
func RecordIDs(reader *block.Reader, chains *blockchain.Chains, nav *pathindex.Navigator, logger logr.Logger) ([]uint64, error) {
	cur, err := tokenstream.NewCursor(reader, chains, nav, logger, consts.PathRecordIndex, false, nil, nil)
	if err != nil {
		return nil, err
	}
	_, v, ok, err := cur.Next()
	if err != nil {
		return nil, err
	}
	if !ok || v.Kind != tokenstream.KindArray {
		return nil, nil
	}
	ids := make([]uint64, 0, len(v.Array))
	for _, elem := range v.Array {
		if !elem.Present {
			continue
		}
		id, _, decOK := vli.Decode(elem.Bytes, false)
		if !decOK {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
