// Package catalog builds the field catalog of spec.md §4.6's "Field
// catalog build" steps: the set of DataField definitions reconstructed
// from the well-known paths 03/01 (names), 03/02 (types), 03/03
// (display order) and 03/05 (options). The record-id list under 0D is
// decoded by pkg/record, not here.
package catalog

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/bgrewell/fp5kit/pkg/block"
	"github.com/bgrewell/fp5kit/pkg/blockchain"
	"github.com/bgrewell/fp5kit/pkg/consts"
	"github.com/bgrewell/fp5kit/pkg/logging"
	"github.com/bgrewell/fp5kit/pkg/pathindex"
	"github.com/bgrewell/fp5kit/pkg/tokenstream"
	"github.com/bgrewell/fp5kit/pkg/vli"
	"github.com/go-logr/logr"
)

// TextDecoder converts raw source-encoded bytes (cp1252, macroman, ...)
// to a Go string. Supplied by the caller so this package stays ignorant
// of any particular code page table.
type TextDecoder func([]byte) (string, error)

// DataField is one reconstructed field definition.
type DataField struct {
	ID          uint64
	IDBytes     []byte
	Label       string
	Type        int
	Order       uint32
	Stored      bool
	Indexed     bool
	Repetitions byte
}

// Catalog is the full set of reconstructed field definitions, in
// display order.
type Catalog struct {
	fields []*DataField
	byID   map[uint64]*DataField
}

// Fields returns every field, ordered by DataField.Order.
func (c *Catalog) Fields() []*DataField {
	return c.fields
}

// ByID looks up a field by its decoded field id.
func (c *Catalog) ByID(id uint64) (*DataField, bool) {
	f, ok := c.byID[id]
	return f, ok
}

func (c *Catalog) getOrCreate(id uint64) *DataField {
	if f, ok := c.byID[id]; ok {
		return f
	}
	f := &DataField{ID: id, Stored: true, Repetitions: 1}
	c.byID[id] = f
	c.fields = append(c.fields, f)
	return f
}

// sources bundles the inputs every well-known-path scan needs, so the
// four loaders below don't each repeat the same parameter list.
type sources struct {
	reader  *block.Reader
	chains  *blockchain.Chains
	nav     *pathindex.Navigator
	logger  logr.Logger
	decoder TextDecoder
}

// Build reconstructs the full field catalog per spec.md §4.6 steps 1-4.
func Build(reader *block.Reader, chains *blockchain.Chains, nav *pathindex.Navigator, logger logr.Logger, decoder TextDecoder) (*Catalog, error) {
	src := sources{reader: reader, chains: chains, nav: nav, logger: logger, decoder: decoder}

	cat := &Catalog{byID: map[uint64]*DataField{}}
	if err := cat.loadNames(src); err != nil {
		return nil, fmt.Errorf("fp5: loading field names: %w", err)
	}
	if err := cat.loadTypes(src); err != nil {
		return nil, fmt.Errorf("fp5: loading field types: %w", err)
	}
	if err := cat.loadOrder(src); err != nil {
		return nil, fmt.Errorf("fp5: loading field order: %w", err)
	}
	if err := cat.loadOptions(src); err != nil {
		return nil, fmt.Errorf("fp5: loading field options: %w", err)
	}

	sort.SliceStable(cat.fields, func(i, j int) bool {
		return cat.fields[i].Order < cat.fields[j].Order
	})
	return cat, nil
}

func newPathCursor(src sources, path []byte) (*tokenstream.Cursor, error) {
	return tokenstream.NewCursor(src.reader, src.chains, src.nav, src.logger, path, true, nil, nil)
}

// loadNames walks 03/01: each child is (name, id_bytes); id_bytes[1:] is
// the VLI-encoded field id.
func (c *Catalog) loadNames(src sources) error {
	cur, err := newPathCursor(src, consts.PathFieldNames)
	if err != nil {
		return err
	}
	for {
		name, v, ok, err := cur.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if v.Kind != tokenstream.KindScalar {
			src.logger.V(logging.DEBUG).Info("03/01 entry is not a scalar id, skipping", "name", name)
			continue
		}
		idBytes := v.Scalar
		if len(idBytes) < 2 {
			src.logger.Error(nil, "03/01 id_bytes too short to carry a marker byte and a VLI", "name", name)
			continue
		}
		fieldID, _, decOK := vli.Decode(idBytes[1:], false)
		if !decOK {
			src.logger.Error(nil, "03/01 id_bytes VLI decode failed", "name", name)
			continue
		}
		label, err := src.decoder(name)
		if err != nil {
			label = string(name)
		}
		f := c.getOrCreate(fieldID)
		f.IDBytes = append([]byte{}, idBytes...)
		f.Label = label
	}
}

// loadTypes walks 03/02: each child is (type_code_bytes, children_map);
// type_code_bytes[0] is the type, applied to every field id present as a
// key of children_map.
func (c *Catalog) loadTypes(src sources) error {
	cur, err := newPathCursor(src, consts.PathFieldTypes)
	if err != nil {
		return err
	}
	for {
		typeCode, v, ok, err := cur.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if len(typeCode) == 0 {
			continue
		}
		t := int(typeCode[0])
		if v.Kind != tokenstream.KindNode {
			continue
		}
		for _, e := range v.Node.Entries() {
			fieldID, _, decOK := vli.Decode(e.Key, false)
			if !decOK {
				src.logger.V(logging.DEBUG).Info("03/02 child key is not a VLI field id, skipping", "type", t)
				continue
			}
			c.getOrCreate(fieldID).Type = t
		}
	}
}

// loadOrder walks 03/03: each child is (order_bytes, id_bytes);
// order_bytes is the display order as a big-endian integer, id_bytes
// names the field the same way 03/01 does.
func (c *Catalog) loadOrder(src sources) error {
	cur, err := newPathCursor(src, consts.PathFieldOrder)
	if err != nil {
		return err
	}
	for {
		orderBytes, v, ok, err := cur.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if v.Kind != tokenstream.KindScalar || len(v.Scalar) < 2 {
			continue
		}
		fieldID, _, decOK := vli.Decode(v.Scalar[1:], false)
		if !decOK {
			continue
		}
		c.getOrCreate(fieldID).Order = beUint32Padded(orderBytes)
	}
}

// loadOptions walks 03/05: each child is (field_id_bytes, options);
// field_id_bytes is itself the VLI-encoded field id (no marker byte
// this time), and options is a node keyed by the one-byte option code of
// spec.md §4.6 step 4.
func (c *Catalog) loadOptions(src sources) error {
	cur, err := newPathCursor(src, consts.PathFieldOptions)
	if err != nil {
		return err
	}
	for {
		fieldIDBytes, v, ok, err := cur.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		fieldID, _, decOK := vli.Decode(fieldIDBytes, false)
		if !decOK {
			continue
		}
		if v.Kind != tokenstream.KindNode {
			continue
		}
		f := c.getOrCreate(fieldID)
		for _, e := range v.Node.Entries() {
			if len(e.Key) == 0 {
				continue
			}
			switch e.Key[0] {
			case consts.FieldOptionLabel:
				if e.Value.Kind == tokenstream.KindScalar {
					if label, derr := src.decoder(e.Value.Scalar); derr == nil {
						f.Label = label
					}
				}
			case consts.FieldOptionFlags:
				if e.Value.Kind == tokenstream.KindScalar {
					applyOptionFlags(f, e.Value.Scalar)
				}
			}
		}
	}
}

func applyOptionFlags(f *DataField, flags []byte) {
	if len(flags) > 0 {
		f.Stored = flags[0] <= 2
	}
	if len(flags) > 2 {
		f.Indexed = flags[2] == 1
	}
	if len(flags) > 11 && flags[11] > 0 {
		f.Repetitions = flags[11]
	}
}

func beUint32Padded(b []byte) uint32 {
	var buf [4]byte
	if len(b) >= 4 {
		return binary.BigEndian.Uint32(b[len(b)-4:])
	}
	copy(buf[4-len(b):], b)
	return binary.BigEndian.Uint32(buf[:])
}
