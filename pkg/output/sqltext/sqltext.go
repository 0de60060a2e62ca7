// Package sqltext implements spec.md §4.6's "Text-SQL emitter": a
// destination-agnostic PostgreSQL text script (DROP TABLE, CREATE TYPE
// ... AS ENUM, CREATE TABLE, batched INSERT). The writer does not truncate
// its destination; at-most-once output (spec.md §5) depends on the caller
// passing a freshly truncated writer.
package sqltext

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bgrewell/fp5kit/pkg/export"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// BatchSize is spec.md §4.6's "batched INSERT INTO ... VALUES (...), (...)
// statements in chunks of 1000 rows".
const BatchSize = 1000

// ColumnSpec describes one destination column for CREATE TABLE and the
// INSERT column list.
type ColumnSpec struct {
	Name        string
	StorageType string // e.g. "text", "numeric(12,2)"
	Type        export.ColumnType
}

// TableSpec names a destination table and its columns, in the same
// order the caller will present export.Row.Values.
type TableSpec struct {
	Name    string
	Columns []ColumnSpec
}

// Writer renders rows to dest as PostgreSQL text-SQL statements,
// optionally zstd-compressed per SPEC_FULL.md's `--gzip`-style flag
// analog.
type Writer struct {
	dest   io.Writer
	zw     *zstd.Encoder
	bw     *bufio.Writer
	table  TableSpec
	batch  []*export.Row
	closed bool
}

// NewWriter opens a Writer over dest, truncating any prior content is the
// caller's responsibility (dest is expected to already be a freshly
// opened, empty file). compress wraps the stream in a zstd encoder.
func NewWriter(dest io.Writer, table TableSpec, compress bool) (*Writer, error) {
	w := &Writer{dest: dest, table: table}
	if compress {
		zw, err := zstd.NewWriter(dest)
		if err != nil {
			return nil, errors.Wrap(err, "fp5: opening zstd encoder")
		}
		w.zw = zw
		w.bw = bufio.NewWriter(zw)
	} else {
		w.bw = bufio.NewWriter(dest)
	}
	return w, nil
}

func (w *Writer) writeLine(format string, args ...interface{}) error {
	if _, err := fmt.Fprintf(w.bw, format+"\n", args...); err != nil {
		return errors.Wrap(err, "fp5: writing text-SQL statement")
	}
	return nil
}

// WriteDropTable emits `DROP TABLE IF EXISTS "<name>";`.
func (w *Writer) WriteDropTable() error {
	return w.writeLine(`DROP TABLE IF EXISTS %s;`, quoteIdent(w.table.Name))
}

// WriteCreateEnum emits the CREATE TYPE / ALTER TYPE ADD VALUE pair of
// spec.md §6.2 for one enum type.
func (w *Writer) WriteCreateEnum(typeName string, values []string) error {
	if err := w.writeLine(`CREATE TYPE %s AS ENUM();`, quoteIdent(typeName)); err != nil {
		return err
	}
	for _, v := range values {
		if err := w.writeLine(`ALTER TYPE %s ADD VALUE IF NOT EXISTS %s;`, quoteIdent(typeName), quoteLiteral(v)); err != nil {
			return err
		}
	}
	return nil
}

// WriteCreateTable emits `CREATE TABLE "<name>" (...)` using each
// column's declared storage type verbatim.
func (w *Writer) WriteCreateTable() error {
	cols := make([]string, len(w.table.Columns))
	for i, c := range w.table.Columns {
		cols[i] = fmt.Sprintf("%s %s", quoteIdent(c.Name), c.StorageType)
	}
	return w.writeLine("CREATE TABLE %s (\n  %s\n);", quoteIdent(w.table.Name), strings.Join(cols, ",\n  "))
}

// WriteRow buffers row for batched insertion, flushing automatically
// every BatchSize rows.
func (w *Writer) WriteRow(row *export.Row) error {
	w.batch = append(w.batch, row)
	if len(w.batch) >= BatchSize {
		return w.Flush()
	}
	return nil
}

// Flush emits one batched INSERT statement for any buffered rows.
func (w *Writer) Flush() error {
	if len(w.batch) == 0 {
		return nil
	}
	colNames := make([]string, len(w.table.Columns))
	for i, c := range w.table.Columns {
		colNames[i] = quoteIdent(c.Name)
	}

	if _, err := fmt.Fprintf(w.bw, "INSERT INTO %s (%s) VALUES\n", quoteIdent(w.table.Name), strings.Join(colNames, ", ")); err != nil {
		return errors.Wrap(err, "fp5: writing INSERT statement")
	}
	for i, row := range w.batch {
		literals := make([]string, len(row.Values))
		for j, v := range row.Values {
			literals[j] = renderLiteral(v)
		}
		sep := ","
		if i == len(w.batch)-1 {
			sep = ";"
		}
		if _, err := fmt.Fprintf(w.bw, "  (%s)%s\n", strings.Join(literals, ", "), sep); err != nil {
			return errors.Wrap(err, "fp5: writing INSERT row")
		}
	}
	w.batch = w.batch[:0]
	return nil
}

// Close flushes any buffered rows and the underlying writers.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.Flush(); err != nil {
		return err
	}
	if err := w.bw.Flush(); err != nil {
		return errors.Wrap(err, "fp5: flushing text-SQL output")
	}
	if w.zw != nil {
		if err := w.zw.Close(); err != nil {
			return errors.Wrap(err, "fp5: closing zstd encoder")
		}
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteLiteral renders a plain (non-E-escaped) single-quoted literal,
// used for enum labels which carry no control characters.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// escapeReplacer is spec.md §4.6's E'...' escape table.
var escapeReplacer = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	"\b", `\b`,
	"\f", `\f`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
	"\x00", "",
)

func renderLiteral(v export.CoercedValue) string {
	switch v.Kind {
	case export.KindNull:
		return "NULL"
	case export.KindText, export.KindEnum:
		return "E'" + escapeReplacer.Replace(v.Text) + "'"
	case export.KindInteger:
		return strconv.FormatInt(v.Int64, 10)
	case export.KindNumeric:
		return renderNumeric(v)
	case export.KindDate:
		return "DATE '" + v.Date.Format("2006-01-02") + "'"
	case export.KindTime:
		return "TIME '" + renderTime(v.TimeMicros) + "'"
	case export.KindBoolean:
		if v.Bool {
			return "TRUE"
		}
		return "FALSE"
	case export.KindUUID:
		return "'" + v.Text + "'"
	case export.KindArray:
		elems := make([]string, len(v.Array))
		for i, e := range v.Array {
			elems[i] = renderLiteral(e)
		}
		return "ARRAY[" + strings.Join(elems, ", ") + "]"
	default:
		return "NULL"
	}
}

func renderNumeric(v export.CoercedValue) string {
	d := v.Numeric
	s := d.IntDigits
	if d.FracDigits != "" {
		s += "." + d.FracDigits
	}
	if d.Negative {
		s = "-" + s
	}
	return s
}

func renderTime(micros int64) string {
	total := micros / 1_000_000
	frac := micros % 1_000_000
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if frac == 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d:%02d.%06d", h, m, s, frac)
}
