// Package export implements spec.md §4.6's typed coercion and the
// FieldExportDefinition lifecycle: a user-supplied, typed view of the
// field catalog that drives conversion from a record's raw source-encoded
// bytes to one of the closed set of destination column types.
package export

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bgrewell/fp5kit/pkg/locale"
	"github.com/bgrewell/fp5kit/pkg/record"
	"golang.org/x/text/encoding/charmap"
)

// ColumnType is the closed set of destination column types named in
// spec.md §4.6's typed-coercion table. Per spec.md §9's "Dynamic dispatch
// by string type" note, this replaces any ad-hoc string comparison of
// type names with a single enumerated variant every consumer switches on
// explicitly.
type ColumnType int

const (
	ColumnText ColumnType = iota
	ColumnInteger
	ColumnNumeric
	ColumnDate
	ColumnTime
	ColumnBoolean
	ColumnUUID
	ColumnEnum
)

func (t ColumnType) String() string {
	switch t {
	case ColumnText:
		return "text"
	case ColumnInteger:
		return "integer"
	case ColumnNumeric:
		return "numeric"
	case ColumnDate:
		return "date"
	case ColumnTime:
		return "time"
	case ColumnBoolean:
		return "boolean"
	case ColumnUUID:
		return "uuid"
	case ColumnEnum:
		return "enum"
	default:
		return "unknown"
	}
}

// EnumDefinition is one field's enum_map of spec.md §4.6: a set of
// canonical values, each with its own list of matched synonyms, plus an
// optional wildcard default for values that match nothing.
type EnumDefinition struct {
	// Values maps a canonical output value (upper-cased key "NULL" is
	// special: a match there coerces to SQL NULL rather than the string
	// "NULL") to the list of synonym strings that resolve to it.
	Values map[string][]string
	// Default is the canonical value returned for a value that matches
	// no synonym set, corresponding to the "*" wildcard key. Empty means
	// no fallback: an unmatched value is a coercion failure.
	Default string
}

// Lookup resolves raw (case-insensitively, per spec.md §4.6) against the
// enum's synonym sets, falling back to Default. ok is false only when
// nothing matches and there is no Default.
func (e *EnumDefinition) Lookup(raw string) (value string, isNull bool, ok bool) {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	for canon, synonyms := range e.Values {
		for _, syn := range synonyms {
			if strings.ToUpper(syn) == upper {
				if strings.EqualFold(canon, "NULL") {
					return "", true, true
				}
				return canon, false, true
			}
		}
	}
	if e.Default != "" {
		if strings.EqualFold(e.Default, "NULL") {
			return "", true, true
		}
		return e.Default, false, true
	}
	return "", false, false
}

// ParseEnumFlag parses the CLI `-enum` repeatable flag's value grammar,
// `name=VALUE:syn1,syn2;VALUE2:syn3;*:default`, per SPEC_FULL.md's
// supplemented "Enum declaration parsing helper" feature. It returns the
// field name the enum applies to and the parsed definition.
func ParseEnumFlag(spec string) (field string, def *EnumDefinition, err error) {
	eq := strings.IndexByte(spec, '=')
	if eq < 0 {
		return "", nil, fmt.Errorf("fp5: malformed -enum value %q: missing '='", spec)
	}
	field = spec[:eq]
	def = &EnumDefinition{Values: map[string][]string{}}

	for _, clause := range strings.Split(spec[eq+1:], ";") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		colon := strings.IndexByte(clause, ':')
		if colon < 0 {
			return "", nil, fmt.Errorf("fp5: malformed -enum clause %q: missing ':'", clause)
		}
		key := clause[:colon]
		rest := clause[colon+1:]
		if key == "*" {
			def.Default = rest
			continue
		}
		var synonyms []string
		for _, syn := range strings.Split(rest, ",") {
			if syn != "" {
				synonyms = append(synonyms, syn)
			}
		}
		def.Values[key] = synonyms
	}
	return field, def, nil
}

// FieldExportDefinition is one user-declared destination column, per
// spec.md §3's FieldExportDefinition entity.
type FieldExportDefinition struct {
	FieldID      uint64
	Field        string
	DeclaredType ColumnType
	StorageType  string // destination SQL storage type, e.g. "varchar(255)"
	IsArray      bool
	SplitLines   bool
	Subscript    *uint32
	IsEnum       bool
	Enum         *EnumDefinition
	Ordinal      uint32
}

// DecodeSourceBytes converts raw bytes from one of the four legacy
// 8-bit source encodings named in spec.md §4.6 to a Go string.
func DecodeSourceBytes(encoding string, raw []byte) (string, error) {
	switch strings.ToLower(encoding) {
	case "ascii":
		return decodeASCII(raw), nil
	case "cp1252":
		return decodeCharmap(charmap.Windows1252, raw)
	case "latin_1":
		return decodeCharmap(charmap.ISO8859_1, raw)
	case "macroman":
		return decodeCharmap(charmap.Macintosh, raw)
	default:
		return "", fmt.Errorf("fp5: unknown source encoding %q", encoding)
	}
}

func decodeASCII(raw []byte) string {
	out := make([]rune, len(raw))
	for i, b := range raw {
		if b < 0x80 {
			out[i] = rune(b)
		} else {
			out[i] = '?'
		}
	}
	return string(out)
}

func decodeCharmap(cm *charmap.Charmap, raw []byte) (string, error) {
	out, err := cm.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("fp5: decoding source bytes: %w", err)
	}
	return string(out), nil
}

// ErrorSample is one recorded coercion failure: the field, record, and
// raw bytes that failed to coerce, per spec.md §7's CoerceError
// disposition.
type ErrorSample struct {
	FieldID  uint64
	RecordID uint64
	Raw      []byte
}

// maxErrorSamplesPerField is spec.md §4.6's "bounded per-field error
// buffer (cap 100 samples)".
const maxErrorSamplesPerField = 100

// Coercer converts a field's raw source-encoded bytes to a CoercedValue
// per the declared ColumnType, accumulating a bounded sample of failures
// per field. It is stateful only in that error buffer; it is otherwise a
// pure function of (definition, raw bytes), matching spec.md §5's
// single-threaded, synchronous concurrency model (no locking).
type Coercer struct {
	SourceEncoding string
	DecimalParser  locale.DecimalParser
	DateTimeParser locale.DateTimeParser
	DecimalPoint   byte
	ThousandsSep   byte

	errors map[uint64][]ErrorSample
}

// NewCoercer builds a Coercer. decimalParser and dateTimeParser are the
// two locale collaborators of spec.md §9; a nil decimalParser defaults to
// locale.ParseDecimal.
func NewCoercer(sourceEncoding string, decimalParser locale.DecimalParser, dateTimeParser locale.DateTimeParser, decimalPoint, thousandsSep byte) *Coercer {
	if decimalParser == nil {
		decimalParser = locale.ParseDecimal
	}
	return &Coercer{
		SourceEncoding: sourceEncoding,
		DecimalParser:  decimalParser,
		DateTimeParser: dateTimeParser,
		DecimalPoint:   decimalPoint,
		ThousandsSep:   thousandsSep,
		errors:         map[uint64][]ErrorSample{},
	}
}

// Errors returns the bounded failure samples recorded for fieldID.
func (c *Coercer) Errors(fieldID uint64) []ErrorSample {
	return c.errors[fieldID]
}

func (c *Coercer) recordFailure(fieldID, recordID uint64, raw []byte) {
	samples := c.errors[fieldID]
	if len(samples) >= maxErrorSamplesPerField {
		return
	}
	c.errors[fieldID] = append(samples, ErrorSample{FieldID: fieldID, RecordID: recordID, Raw: append([]byte{}, raw...)})
}

var timeRe = regexp.MustCompile(`^\s*(\d{1,2}):(\d{1,2})(?::(\d{1,2}))?\s*$`)
var uuidRe = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

var trueWords = map[string]bool{"ja": true, "yes": true, "true": true, "1": true, "ok": true}
var falseWords = map[string]bool{"nein": true, "no": true, "false": true, "0": true, "": true}

// Coerce converts one field's raw bytes per def.DeclaredType. ok is
// false when the value could not be coerced; the caller must emit NULL
// for the cell and rewrite the record's mod_id to -1, per spec.md §4.6's
// "Coercion failure" rule. recordID is used only to tag the error
// sample.
func (c *Coercer) Coerce(def *FieldExportDefinition, recordID uint64, raw []byte) (CoercedValue, bool) {
	v, ok := c.coerce(def, raw)
	if !ok {
		c.recordFailure(def.FieldID, recordID, raw)
		return CoercedValue{Kind: KindNull}, false
	}
	return v, true
}

func (c *Coercer) coerce(def *FieldExportDefinition, raw []byte) (CoercedValue, bool) {
	switch def.DeclaredType {
	case ColumnText:
		return c.coerceText(raw)
	case ColumnInteger:
		return c.coerceInteger(raw)
	case ColumnNumeric:
		return c.coerceNumeric(raw)
	case ColumnDate:
		return c.coerceDate(raw)
	case ColumnTime:
		return c.coerceTime(raw)
	case ColumnBoolean:
		return c.coerceBoolean(raw)
	case ColumnUUID:
		return c.coerceUUID(raw)
	case ColumnEnum:
		return c.coerceEnum(def, raw)
	default:
		return CoercedValue{}, false
	}
}

func (c *Coercer) coerceText(raw []byte) (CoercedValue, bool) {
	s, err := DecodeSourceBytes(c.SourceEncoding, raw)
	if err != nil {
		return CoercedValue{}, false
	}
	s = strings.ReplaceAll(s, "\x00", "")
	return CoercedValue{Kind: KindText, Text: s}, true
}

func (c *Coercer) coerceInteger(raw []byte) (CoercedValue, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return CoercedValue{}, false
	}
	return CoercedValue{Kind: KindInteger, Int64: n}, true
}

func (c *Coercer) coerceNumeric(raw []byte) (CoercedValue, bool) {
	d, ok := c.DecimalParser(raw, c.DecimalPoint, c.ThousandsSep)
	if !ok {
		return CoercedValue{}, false
	}
	return CoercedValue{Kind: KindNumeric, Numeric: d}, true
}

func (c *Coercer) coerceDate(raw []byte) (CoercedValue, bool) {
	if c.DateTimeParser == nil {
		return CoercedValue{}, false
	}
	t, ok := c.DateTimeParser(raw)
	if !ok {
		return CoercedValue{}, false
	}
	return CoercedValue{Kind: KindDate, Date: t}, true
}

func (c *Coercer) coerceTime(raw []byte) (CoercedValue, bool) {
	m := timeRe.FindStringSubmatch(string(raw))
	if m == nil {
		return CoercedValue{}, false
	}
	h, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	sec := 0
	if m[3] != "" {
		sec, _ = strconv.Atoi(m[3])
	}
	if h > 23 || minute > 59 || sec > 59 {
		return CoercedValue{}, false
	}
	micros := int64(h*3600+minute*60+sec) * 1_000_000
	return CoercedValue{Kind: KindTime, TimeMicros: micros}, true
}

func (c *Coercer) coerceBoolean(raw []byte) (CoercedValue, bool) {
	s := strings.ToLower(strings.TrimSpace(string(raw)))
	if trueWords[s] {
		return CoercedValue{Kind: KindBoolean, Bool: true}, true
	}
	if falseWords[s] {
		return CoercedValue{Kind: KindBoolean, Bool: false}, true
	}
	return CoercedValue{}, false
}

func (c *Coercer) coerceUUID(raw []byte) (CoercedValue, bool) {
	s := strings.TrimSpace(string(raw))
	if !uuidRe.MatchString(s) {
		return CoercedValue{}, false
	}
	return CoercedValue{Kind: KindUUID, Text: strings.ToLower(s)}, true
}

func (c *Coercer) coerceEnum(def *FieldExportDefinition, raw []byte) (CoercedValue, bool) {
	if def.Enum == nil {
		return CoercedValue{}, false
	}
	s, err := DecodeSourceBytes(c.SourceEncoding, raw)
	if err != nil {
		return CoercedValue{}, false
	}
	value, isNull, ok := def.Enum.Lookup(s)
	if !ok {
		return CoercedValue{}, false
	}
	if isNull {
		return CoercedValue{Kind: KindNull}, true
	}
	return CoercedValue{Kind: KindEnum, Text: value}, true
}

// CoercedValueKind is the tagged-variant discriminator of spec.md §9's
// "Duck-typed value" note generalized to coerced output values.
type CoercedValueKind int

const (
	KindNull CoercedValueKind = iota
	KindText
	KindInteger
	KindNumeric
	KindDate
	KindTime
	KindBoolean
	KindUUID
	KindEnum
	KindArray
)

// CoercedValue is one destination cell's typed value.
type CoercedValue struct {
	Kind       CoercedValueKind
	Text       string
	Int64      int64
	Numeric    locale.Decimal
	Date       time.Time
	TimeMicros int64
	Bool       bool
	Array      []CoercedValue
}

// Row is one record's coerced cells, in FieldExportDefinition order.
type Row struct {
	RecordID uint64
	ModID    int64
	Values   []CoercedValue
}

// CoerceRecord applies defs, in order, to rec's fields, building a Row.
// A repeating field (def.IsArray) coerces each populated slot
// independently into a KindArray value; split_lines fields split their
// scalar value on LF first. Any coercion failure (per field, per slot)
// rewrites the row's ModID to -1, per spec.md §4.6's "Coercion failure"
// rule, while the row is still produced and written.
func CoerceRecord(rec *record.Record, defs []*FieldExportDefinition, c *Coercer) *Row {
	row := &Row{RecordID: rec.ID, ModID: rec.ModID}
	for _, def := range defs {
		fv, present := rec.Fields[def.FieldID]
		switch {
		case !present:
			row.Values = append(row.Values, CoercedValue{Kind: KindNull})
		case def.IsArray && fv.IsRepeating():
			row.Values = append(row.Values, coerceSlots(rec, def, fv, c, row))
		case def.SplitLines:
			row.Values = append(row.Values, coerceSplitLines(rec, def, fv, c, row))
		default:
			v, ok := c.Coerce(def, rec.ID, fv.Scalar)
			if !ok {
				row.ModID = -1
			}
			row.Values = append(row.Values, v)
		}
	}
	return row
}

func coerceSlots(rec *record.Record, def *FieldExportDefinition, fv record.FieldValue, c *Coercer, row *Row) CoercedValue {
	elems := make([]CoercedValue, len(fv.Slots))
	for i, slot := range fv.Slots {
		if slot == nil {
			elems[i] = CoercedValue{Kind: KindNull}
			continue
		}
		v, ok := c.Coerce(def, rec.ID, slot)
		if !ok {
			row.ModID = -1
		}
		elems[i] = v
	}
	return CoercedValue{Kind: KindArray, Array: elems}
}

func coerceSplitLines(rec *record.Record, def *FieldExportDefinition, fv record.FieldValue, c *Coercer, row *Row) CoercedValue {
	lines := strings.Split(string(fv.Scalar), "\n")
	elems := make([]CoercedValue, len(lines))
	for i, line := range lines {
		v, ok := c.Coerce(def, rec.ID, []byte(line))
		if !ok {
			row.ModID = -1
		}
		elems[i] = v
	}
	return CoercedValue{Kind: KindArray, Array: elems}
}
