// Package option implements the functional-options pattern the teacher
// repo uses twice over (root `Option`/`iso.go` and the nested
// `pkg/option` package for `pkg/iso9660`) — consolidated here into the
// one `Options`/`Option` surface `fp5.Open` takes, per SPEC_FULL.md's
// ambient-stack "Functional options" section.
package option

import (
	"github.com/bgrewell/fp5kit/pkg/locale"
	"github.com/go-logr/logr"
)

// ProgressCallback reports export progress against the known total
// record count, mirroring the teacher's file-transfer progress callback
// shape but narrowed to the one quantity spec.md §6.3's `--progress`
// flag needs.
type ProgressCallback func(current, total uint64)

// Options holds every knob spec.md leaves to the caller: the logger, the
// source code page, the two locale collaborators of spec.md §9, the
// progress callback, and update-mode's record-id-list seek point.
type Options struct {
	Logger          logr.Logger
	SourceEncoding  string
	DecimalPoint    byte
	ThousandsSep    byte
	DecimalParser   locale.DecimalParser
	DateTimeParser  locale.DateTimeParser
	Progress        ProgressCallback
	UpdateMode      bool
	StartRecordPath []byte
}

// Option mutates an Options during Open.
type Option func(*Options)

// Defaults returns the Options in effect when the caller supplies none:
// a discarding logger, cp1252 source encoding (spec.md §4.6's most
// common legacy code page), and a '.'/',' decimal locale.
func Defaults() Options {
	return Options{
		Logger:         logr.Discard(),
		SourceEncoding: "cp1252",
		DecimalPoint:   '.',
		ThousandsSep:   ',',
		DecimalParser:  locale.ParseDecimal,
	}
}

// WithLogger sets the logr.Logger every parser-level component logs
// through.
func WithLogger(logger logr.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithSourceEncoding selects one of the four legacy 8-bit source
// encodings of spec.md §4.6 (`ascii`, `cp1252`, `latin_1`, `macroman`).
func WithSourceEncoding(encoding string) Option {
	return func(o *Options) {
		o.SourceEncoding = encoding
	}
}

// WithLocale installs the decimal-point/thousands-separator bytes and
// the two locale collaborator functions of spec.md §9. A nil
// decimalParser leaves locale.ParseDecimal in place; a nil dateTimeParser
// disables date coercion entirely (every `ColumnDate` field then fails to
// coerce per spec.md §4.6's "Coercion failure" rule).
func WithLocale(decimalPoint, thousandsSep byte, decimalParser locale.DecimalParser, dateTimeParser locale.DateTimeParser) Option {
	return func(o *Options) {
		o.DecimalPoint = decimalPoint
		o.ThousandsSep = thousandsSep
		if decimalParser != nil {
			o.DecimalParser = decimalParser
		}
		o.DateTimeParser = dateTimeParser
	}
}

// WithProgress installs a callback invoked as records are consumed
// during export, driven by the record index's known total count.
func WithProgress(callback ProgressCallback) Option {
	return func(o *Options) {
		o.Progress = callback
	}
}

// WithUpdateMode marks the export run as an update (vs. initial insert):
// callers typically pair this with WithStartRecordPath to resume from a
// previously stored `fm_id`, per spec.md §6.4's persisted-state note.
func WithUpdateMode(enabled bool) Option {
	return func(o *Options) {
		o.UpdateMode = enabled
	}
}

// WithStartRecordPath resumes record iteration at a specific record's
// path key instead of the start of the 05 sub-tree, letting an update run
// pick up from the last `fm_id` the destination database has stored.
func WithStartRecordPath(path []byte) Option {
	return func(o *Options) {
		o.StartRecordPath = append([]byte{}, path...)
	}
}
