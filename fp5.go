// Package fp5 is the top-level entry point: Open reconstructs an fp5
// file's block chains and field catalog, mirroring the teacher's
// Options/Option/Open sequence in iso.go and pkg/iso9660/iso9660.go, but
// over fp5's data model instead of ISO9660's.
package fp5

import (
	"io"

	"github.com/bgrewell/fp5kit/pkg/block"
	"github.com/bgrewell/fp5kit/pkg/blockchain"
	"github.com/bgrewell/fp5kit/pkg/catalog"
	"github.com/bgrewell/fp5kit/pkg/export"
	"github.com/bgrewell/fp5kit/pkg/logging"
	"github.com/bgrewell/fp5kit/pkg/option"
	"github.com/bgrewell/fp5kit/pkg/pathindex"
	"github.com/bgrewell/fp5kit/pkg/record"
	"github.com/pkg/errors"
)

// Option is re-exported from pkg/option so callers never need to import
// it directly, matching the teacher's root-package Option re-export.
type Option = option.Option

var (
	WithLogger          = option.WithLogger
	WithSourceEncoding  = option.WithSourceEncoding
	WithLocale          = option.WithLocale
	WithProgress        = option.WithProgress
	WithUpdateMode      = option.WithUpdateMode
	WithStartRecordPath = option.WithStartRecordPath
)

// Archive is one opened fp5 file: its reconstructed block chains, B+tree
// navigator, and field catalog, per spec.md §4.2-§4.6.
type Archive struct {
	reader  *block.Reader
	chains  *blockchain.Chains
	nav     *pathindex.Navigator
	catalog *catalog.Catalog
	opts    option.Options
}

// Open validates the file header, reconstructs every level's block
// chain, builds the path-index navigator, and loads the field catalog,
// in that order. size is the file's total byte length (stat'd by the
// caller, since an io.ReaderAt carries no length of its own).
func Open(r io.ReaderAt, size int64, opts ...Option) (*Archive, error) {
	o := option.Defaults()
	for _, fn := range opts {
		fn(&o)
	}

	// Step 1: validate the header magic, version, and block alignment.
	reader, err := block.NewReader(r, size, o.Logger)
	if err != nil {
		return nil, errors.Wrap(err, "fp5: opening file")
	}

	// Step 2: reconstruct every level's block chain from the root down.
	chains, err := blockchain.Build(reader, o.Logger)
	if err != nil {
		return nil, errors.Wrap(err, "fp5: reconstructing block chains")
	}

	// Step 3: build the B+tree navigator over the reconstructed chains.
	nav := pathindex.New(reader, chains, o.Logger)

	// Step 4: build the field catalog from the well-known 03/* paths.
	decoder := func(raw []byte) (string, error) {
		return export.DecodeSourceBytes(o.SourceEncoding, raw)
	}
	cat, err := catalog.Build(reader, chains, nav, o.Logger, decoder)
	if err != nil {
		return nil, errors.Wrap(err, "fp5: building field catalog")
	}

	o.Logger.V(logging.DEBUG).Info("opened fp5 archive", "fields", len(cat.Fields()), "rootLevel", chains.RootLevel())

	return &Archive{reader: reader, chains: chains, nav: nav, catalog: cat, opts: o}, nil
}

// Catalog returns the reconstructed field catalog.
func (a *Archive) Catalog() *catalog.Catalog {
	return a.catalog
}

// RecordIDs decodes the full ordered record-id list stored under 0D,
// for progress totals and the count-records action.
func (a *Archive) RecordIDs() ([]uint64, error) {
	return record.RecordIDs(a.reader, a.chains, a.nav, a.opts.Logger)
}

// NewCoercer builds a Coercer configured from the Options this Archive
// was opened with (source encoding, decimal locale).
func (a *Archive) NewCoercer() *export.Coercer {
	return export.NewCoercer(a.opts.SourceEncoding, a.opts.DecimalParser, a.opts.DateTimeParser, a.opts.DecimalPoint, a.opts.ThousandsSep)
}

// Records opens a record iterator over the 05 sub-tree, resuming at
// WithStartRecordPath's path when set (spec.md §6.4's update-mode
// resume). Repetition counts are looked up from the field catalog.
func (a *Archive) Records() (*record.Iterator, error) {
	repsOf := func(fieldID uint64) (int, bool) {
		f, ok := a.catalog.ByID(fieldID)
		if !ok || f.Repetitions == 0 {
			return 0, false
		}
		return int(f.Repetitions), true
	}
	return record.NewIterator(a.reader, a.chains, a.nav, a.opts.Logger, a.opts.StartRecordPath, nil, repsOf)
}

// Progress reports current against the known total, via WithProgress's
// callback, when one was supplied.
func (a *Archive) Progress(current, total uint64) {
	if a.opts.Progress != nil {
		a.opts.Progress(current, total)
	}
}

// BlockInfo is one reconstructed block's chain position, for the
// supplemented dump-blocks diagnostic action.
type BlockInfo struct {
	Offset int64
	Level  uint8
	ID     uint32
}

// DumpBlocks returns every reconstructed block's offset, grouped by
// level, in chain-traversal order.
func (a *Archive) DumpBlocks() map[uint8][]BlockInfo {
	out := make(map[uint8][]BlockInfo, int(a.chains.RootLevel())+1)
	for lvl := uint8(0); lvl <= a.chains.RootLevel(); lvl++ {
		offsets, _ := a.chains.Level(lvl)
		infos := make([]BlockInfo, len(offsets))
		for i, off := range offsets {
			infos[i] = BlockInfo{Offset: off, Level: lvl}
		}
		out[lvl] = infos
	}
	return out
}

// LevelCounts returns the number of reconstructed blocks at each level.
func (a *Archive) LevelCounts() map[uint8]int {
	return a.chains.LevelCounts()
}
