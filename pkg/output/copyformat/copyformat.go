// Package copyformat implements spec.md §4.6's "Binary COPY emitter":
// the PostgreSQL v3 binary COPY wire format described in §6.2, buffered
// and flushed to a destination writer every 10 MiB per §5's resource
// model.
package copyformat

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/bgrewell/fp5kit/pkg/export"
	"github.com/bgrewell/fp5kit/pkg/locale"
	"github.com/lib/pq/oid"
	"github.com/pkg/errors"
)

// signature is the 11-byte PGCOPY binary format marker of spec.md §6.2.
var signature = []byte("PGCOPY\n\xff\r\n\x00")

// FlushThreshold is the buffered-bytes watermark at which Writer flushes
// to its destination, per spec.md §4.6.
const FlushThreshold = 10 * 1024 * 1024

// epoch is PostgreSQL's date epoch, 2000-01-01, used for date encoding.
var epoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// OIDFor maps a destination column type to the PostgreSQL type OID used
// by array-element framing, per spec.md §6.2's OID table.
func OIDFor(t export.ColumnType) oid.Oid {
	switch t {
	case export.ColumnInteger:
		return oid.T_int8
	case export.ColumnNumeric:
		return oid.T_numeric
	case export.ColumnDate:
		return oid.T_date
	case export.ColumnTime:
		return oid.T_time
	case export.ColumnUUID:
		return oid.T_uuid
	case export.ColumnBoolean:
		return oid.T_bool
	default:
		return oid.T_text
	}
}

// Writer streams rows as PostgreSQL binary COPY frames to dest, buffering
// internally and flushing whenever the buffer reaches FlushThreshold.
type Writer struct {
	dest    io.Writer
	buf     []byte
	columns []export.ColumnType
	closed  bool
}

// NewWriter opens a Writer and buffers the COPY signature and the two
// reserved zero fields (flags, header extension length); like every other
// frame, they reach dest at the next flush.
func NewWriter(dest io.Writer, columns []export.ColumnType) (*Writer, error) {
	w := &Writer{dest: dest, columns: columns}
	w.buf = append(w.buf, signature...)
	w.buf = appendUint32(w.buf, 0) // flags field
	w.buf = appendUint32(w.buf, 0) // header extension length
	if err := w.flushIfNeeded(); err != nil {
		return nil, err
	}
	return w, nil
}

// WriteRow appends one row's binary tuple to the buffer.
func (w *Writer) WriteRow(row *export.Row) error {
	if len(row.Values) != len(w.columns) {
		return errors.Errorf("fp5: row has %d values, writer configured for %d columns", len(row.Values), len(w.columns))
	}
	w.buf = appendUint16(w.buf, uint16(len(row.Values)))
	for i, v := range row.Values {
		w.appendColumn(v, w.columns[i])
	}
	return w.flushIfNeeded()
}

// Close writes the COPY trailer (the 2-byte -1 sentinel) and flushes any
// remaining buffered bytes.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.buf = appendInt16(w.buf, -1)
	return w.flush()
}

func (w *Writer) flushIfNeeded() error {
	if len(w.buf) >= FlushThreshold {
		return w.flush()
	}
	return nil
}

func (w *Writer) flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	bw := bufio.NewWriter(w.dest)
	if _, err := bw.Write(w.buf); err != nil {
		return errors.Wrap(err, "fp5: flushing COPY buffer to destination")
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, "fp5: flushing COPY buffer to destination")
	}
	w.buf = w.buf[:0]
	return nil
}

func (w *Writer) appendColumn(v export.CoercedValue, colType export.ColumnType) {
	if v.Kind == export.KindNull {
		w.buf = appendInt32(w.buf, -1)
		return
	}
	if v.Kind == export.KindArray {
		w.buf = appendArray(w.buf, v.Array, OIDFor(colType))
		return
	}
	w.buf = appendScalar(w.buf, v)
}

// appendScalar frames one non-array, non-null column value with its
// 4-byte length prefix, per spec.md §6.2.
func appendScalar(buf []byte, v export.CoercedValue) []byte {
	payload := encodeScalar(v)
	buf = appendInt32(buf, int32(len(payload)))
	return append(buf, payload...)
}

func encodeScalar(v export.CoercedValue) []byte {
	switch v.Kind {
	case export.KindText, export.KindEnum:
		return []byte(v.Text)
	case export.KindInteger:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(v.Int64))
		return b
	case export.KindNumeric:
		return EncodeNumeric(v.Numeric)
	case export.KindDate:
		days := int32(v.Date.Sub(epoch).Hours() / 24)
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(days))
		return b
	case export.KindTime:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(v.TimeMicros))
		return b
	case export.KindBoolean:
		if v.Bool {
			return []byte{1}
		}
		return []byte{0}
	case export.KindUUID:
		raw, err := hex.DecodeString(strings.ReplaceAll(v.Text, "-", ""))
		if err != nil {
			return nil
		}
		return raw
	default:
		return nil
	}
}

// appendArray frames a repeating/split-line value per spec.md §6.2's
// array layout: total length, ndim=1, hasnulls, element OID, dim_len,
// lower bound 1, then each element length-prefixed (or -1 for NULL).
func appendArray(buf []byte, elems []export.CoercedValue, elementOID oid.Oid) []byte {
	var body []byte
	body = appendUint32(body, 1) // ndim
	hasNulls := uint32(0)
	for _, e := range elems {
		if e.Kind == export.KindNull {
			hasNulls = 1
			break
		}
	}
	body = appendUint32(body, hasNulls)
	body = appendUint32(body, uint32(elementOID))
	body = appendUint32(body, uint32(len(elems)))
	body = appendUint32(body, 1) // lower bound
	for _, e := range elems {
		if e.Kind == export.KindNull {
			body = appendInt32(body, -1)
			continue
		}
		payload := encodeScalar(e)
		body = appendInt32(body, int32(len(payload)))
		body = append(body, payload...)
	}

	buf = appendInt32(buf, int32(len(body)))
	return append(buf, body...)
}

// EncodeNumeric renders a locale.Decimal into PostgreSQL's binary numeric
// layout: `<i16 ndigits><i16 weight><u16 sign><u16 dscale>` followed by
// ndigits base-10000 digit groups, per spec.md §6.2 and the worked
// example in §8 scenario 5.
func EncodeNumeric(d locale.Decimal) []byte {
	intPart := strings.TrimLeft(d.IntDigits, "0")
	intGroups := chunkIntDigits(intPart)
	fracGroups := chunkFracDigits(d.FracDigits)

	ndigits := len(intGroups) + len(fracGroups)
	weight := int16(len(intGroups))
	sign := uint16(0x0000)
	if d.Negative && ndigits > 0 {
		sign = 0x4000
	}
	dscale := uint16(len(d.FracDigits))

	buf := make([]byte, 0, 8+ndigits*2)
	buf = appendInt16(buf, int16(ndigits))
	buf = appendInt16(buf, weight)
	buf = appendUint16(buf, sign)
	buf = appendUint16(buf, dscale)
	for _, g := range intGroups {
		buf = appendUint16(buf, groupValue(g))
	}
	for _, g := range fracGroups {
		buf = appendUint16(buf, groupValue(g))
	}
	return buf
}

func groupValue(g string) uint16 {
	v, _ := strconv.Atoi(g)
	return uint16(v)
}

// chunkIntDigits splits an integer-part digit string into base-10000
// groups, most-significant first; the first group holds 1..4 digits and
// every following group holds exactly 4.
func chunkIntDigits(s string) []string {
	if s == "" {
		return nil
	}
	first := len(s) % 4
	if first == 0 {
		first = 4
	}
	groups := []string{s[:first]}
	rest := s[first:]
	for i := 0; i < len(rest); i += 4 {
		groups = append(groups, rest[i:i+4])
	}
	return groups
}

// chunkFracDigits splits a fractional-part digit string into base-10000
// groups from the left, padding the final group with trailing zeros.
func chunkFracDigits(s string) []string {
	if s == "" {
		return nil
	}
	var groups []string
	for i := 0; i < len(s); i += 4 {
		end := i + 4
		if end > len(s) {
			groups = append(groups, s[i:]+strings.Repeat("0", end-len(s)))
		} else {
			groups = append(groups, s[i:end])
		}
	}
	return groups
}

func appendUint16(buf []byte, v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return append(buf, b...)
}

func appendInt16(buf []byte, v int16) []byte {
	return appendUint16(buf, uint16(v))
}

func appendUint32(buf []byte, v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return append(buf, b...)
}

func appendInt32(buf []byte, v int32) []byte {
	return appendUint32(buf, uint32(v))
}
