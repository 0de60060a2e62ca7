package main

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bgrewell/fp5kit"
	"github.com/bgrewell/fp5kit/pkg/export"
	"github.com/bgrewell/fp5kit/pkg/logging"
	"github.com/bgrewell/fp5kit/pkg/output/copyformat"
	"github.com/bgrewell/fp5kit/pkg/output/sqltext"
	"github.com/bgrewell/fp5kit/pkg/version"
	"github.com/bgrewell/fp5kit/pkg/vli"
	"github.com/bgrewell/usage"
	"github.com/theckman/yacspin"
	"golang.org/x/term"
)

// buildFilter parses the comma separated include/ignore name lists and
// the include/ignore regular expressions into an export.FieldFilter, per
// spec.md §6.3's filter list. The -enum value is handled by applyEnums.
func buildFilter(include, ignore, ignoreRegex, includeRegex string) (export.FieldFilter, error) {
	f := export.FieldFilter{
		IncludeNames: map[string]bool{},
		IgnoreNames:  map[string]bool{},
		IgnoreTypes:  map[int]bool{},
	}
	for _, name := range splitNonEmpty(include) {
		f.IncludeNames[name] = true
	}
	for _, name := range splitNonEmpty(ignore) {
		f.IgnoreNames[name] = true
	}
	if includeRegex != "" {
		re, err := regexp.Compile(includeRegex)
		if err != nil {
			return f, fmt.Errorf("fp5export: compiling include-regex: %w", err)
		}
		f.IncludeRegex = re
	}
	if ignoreRegex != "" {
		re, err := regexp.Compile(ignoreRegex)
		if err != nil {
			return f, fmt.Errorf("fp5export: compiling ignore-regex: %w", err)
		}
		f.IgnoreRegex = re
	}
	return f, nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// applyEnums parses the pipe-separated -enum value
// (`name=VALUE:syn1,syn2;VALUE2:syn3;*:default|name2=...`) and tags the
// matching definitions, per SPEC_FULL.md's ParseEnumFlag helper.
func applyEnums(defs []*export.FieldExportDefinition, spec string) error {
	if spec == "" {
		return nil
	}
	byName := make(map[string]*export.FieldExportDefinition, len(defs))
	for _, d := range defs {
		byName[d.Field] = d
	}
	for _, clause := range strings.Split(spec, "|") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		field, def, err := export.ParseEnumFlag(clause)
		if err != nil {
			return err
		}
		target, ok := byName[field]
		if !ok {
			return fmt.Errorf("fp5export: -enum names unknown field %q", field)
		}
		target.IsEnum = true
		target.Enum = def
		target.DeclaredType = export.ColumnEnum
	}
	return nil
}

// columnSpecsFor renders sqltext.ColumnSpec values from defs, using each
// field's own name as both the SQL column name and (absent a
// declaration file) its storage type, per spec.md §6.3's note that the
// declaration grammar itself is an external collaborator.
func columnSpecsFor(defs []*export.FieldExportDefinition) []sqltext.ColumnSpec {
	cols := make([]sqltext.ColumnSpec, len(defs))
	for i, d := range defs {
		storage := d.StorageType
		switch {
		case storage != "":
			// keep the declaration-supplied storage type
		case d.IsEnum:
			storage = d.Field + "_enum"
		default:
			storage = defaultStorageType(d.DeclaredType)
		}
		cols[i] = sqltext.ColumnSpec{Name: d.Field, StorageType: storage, Type: d.DeclaredType}
	}
	return cols
}

func defaultStorageType(t export.ColumnType) string {
	switch t {
	case export.ColumnInteger:
		return "bigint"
	case export.ColumnNumeric:
		return "numeric"
	case export.ColumnDate:
		return "date"
	case export.ColumnTime:
		return "time"
	case export.ColumnBoolean:
		return "boolean"
	case export.ColumnUUID:
		return "uuid"
	default:
		return "text"
	}
}

func columnTypesFor(defs []*export.FieldExportDefinition) []export.ColumnType {
	types := make([]export.ColumnType, len(defs))
	for i, d := range defs {
		types[i] = d.DeclaredType
	}
	return types
}

// newSpinner builds a yacspin.Spinner for the --progress flag, only
// when stdout is an interactive terminal, mirroring the teacher's
// term.IsTerminal gate on colorized log output.
func newSpinner() (*yacspin.Spinner, error) {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return nil, nil
	}
	cfg := yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[59],
		Suffix:          " exporting records",
		SuffixAutoColon: true,
		Message:         "starting",
		StopCharacter:   "✓",
		StopColors:      []string{"fgGreen"},
		StopMessage:     "done",
	}
	return yacspin.New(cfg)
}

func main() {
	u := usage.NewUsage(
		usage.WithApplicationVersion(version.Version()),
		usage.WithApplicationBranch(version.Branch()),
		usage.WithApplicationBuildDate(version.Date()),
		usage.WithApplicationCommitHash(version.Revision()),
		usage.WithApplicationName("fp5export"),
		usage.WithApplicationDescription("fp5export is a command-line tool for exporting FileMaker Pro 3/5/6 (.fp5) database records as PostgreSQL text-SQL statements or binary COPY streams."),
	)

	help := u.AddBooleanOption("h", "help", false, "Show this help message", "optional", nil)
	verbose := u.AddBooleanOption("v", "verbose", false, "Enable debug logging", "", nil)
	trace := u.AddBooleanOption("vv", "trace", false, "Enable trace logging", "", nil)
	binary := u.AddBooleanOption("b", "binary", false, "Emit PostgreSQL binary COPY format instead of text SQL", "", nil)
	compress := u.AddBooleanOption("z", "compress", false, "zstd-compress the text-SQL output (ignored with -binary)", "", nil)
	progress := u.AddBooleanOption("p", "progress", false, "Show a progress spinner while exporting", "", nil)
	update := u.AddBooleanOption("u", "update", false, "Resume from --start-record-id instead of exporting from the first record", "", nil)

	path := u.AddArgument(1, "fp5-path", "Path to the .fp5 file to export", "")
	action := u.AddArgument(2, "action", "One of: dump-records, insert-records, update-records", "dump-records")
	output := u.AddArgument(3, "output", "Output file path, or '-' for stdout", "-")
	table := u.AddArgument(4, "table", "Destination table name", "records")
	encoding := u.AddArgument(5, "encoding", "Source encoding: ascii, cp1252, latin_1, macroman", "cp1252")
	include := u.AddArgument(6, "include", "Comma-separated list of field names to include (default: all)", "")
	ignore := u.AddArgument(7, "ignore", "Comma-separated list of field names to ignore", "")
	includeRegex := u.AddArgument(8, "include-regex", "Regular expression of field names to include", "")
	ignoreRegex := u.AddArgument(9, "ignore-regex", "Regular expression of field names to ignore", "")
	enums := u.AddArgument(10, "enum", "Pipe-separated enum declarations: name=VALUE:syn1,syn2;*:default|name2=...", "")
	startRecordID := u.AddArgument(11, "start-record-id", "Record id to resume from in update mode", "0")

	parsed := u.Parse()
	if !parsed {
		u.PrintError(fmt.Errorf("failed to parse arguments"))
		os.Exit(1)
	}
	if *help {
		u.PrintUsage()
		os.Exit(0)
	}
	if path == nil || *path == "" {
		u.PrintError(fmt.Errorf("path to the .fp5 file must be provided"))
		os.Exit(1)
	}

	level := "info"
	if *trace {
		level = "trace"
	} else if *verbose {
		level = "debug"
	}
	logger := logging.InitLogger(&level)

	f, err := os.Open(*path)
	if err != nil {
		u.PrintError(err)
		os.Exit(1)
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		u.PrintError(err)
		os.Exit(1)
	}

	var spinner *yacspin.Spinner
	opts := []fp5.Option{fp5.WithLogger(logger), fp5.WithSourceEncoding(*encoding)}
	if *progress {
		spinner, err = newSpinner()
		if err != nil {
			u.PrintError(err)
			os.Exit(1)
		}
		if spinner != nil {
			opts = append(opts, fp5.WithProgress(func(current, total uint64) {
				spinner.Message(fmt.Sprintf("%d/%d records", current, total))
			}))
		}
	}
	isUpdate := *update || *action == "update-records"
	if isUpdate {
		opts = append(opts, fp5.WithUpdateMode(true))
		if id, err := strconv.ParseUint(*startRecordID, 10, 64); err == nil && id > 0 {
			if startPath, err := vli.Encode(id); err == nil {
				opts = append(opts, fp5.WithStartRecordPath(startPath))
			}
		}
	}

	a, err := fp5.Open(f, stat.Size(), opts...)
	if err != nil {
		u.PrintError(err)
		os.Exit(1)
	}

	filter, err := buildFilter(*include, *ignore, *ignoreRegex, *includeRegex)
	if err != nil {
		u.PrintError(err)
		os.Exit(1)
	}
	defs := export.Filter(a.Catalog(), filter)
	if err := applyEnums(defs, *enums); err != nil {
		u.PrintError(err)
		os.Exit(1)
	}

	dest := os.Stdout
	if *output != "-" {
		dest, err = os.Create(*output)
		if err != nil {
			u.PrintError(err)
			os.Exit(1)
		}
		defer dest.Close()
	}

	if spinner != nil {
		if err := spinner.Start(); err != nil {
			u.PrintError(err)
			os.Exit(1)
		}
	}

	if *binary {
		if err := exportBinary(a, defs, dest); err != nil {
			u.PrintError(err)
			os.Exit(1)
		}
	} else {
		if err := exportText(a, defs, dest, *table, *compress); err != nil {
			u.PrintError(err)
			os.Exit(1)
		}
	}

	if spinner != nil {
		_ = spinner.Stop()
	}

	fmt.Fprintf(os.Stderr, "Export completed successfully (%s).\n", *action)
}

func exportText(a *fp5.Archive, defs []*export.FieldExportDefinition, dest *os.File, table string, compress bool) error {
	spec := sqltext.TableSpec{Name: table, Columns: columnSpecsFor(defs)}
	w, err := sqltext.NewWriter(dest, spec, compress)
	if err != nil {
		return err
	}
	if err := w.WriteDropTable(); err != nil {
		return err
	}
	for _, d := range defs {
		if d.IsEnum && d.Enum != nil {
			values := make([]string, 0, len(d.Enum.Values))
			for v := range d.Enum.Values {
				values = append(values, v)
			}
			if err := w.WriteCreateEnum(d.Field+"_enum", values); err != nil {
				return err
			}
		}
	}
	if err := w.WriteCreateTable(); err != nil {
		return err
	}

	coercer := a.NewCoercer()
	ids, err := a.RecordIDs()
	if err != nil {
		return err
	}
	it, err := a.Records()
	if err != nil {
		return err
	}
	var n uint64
	for {
		rec, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		row := export.CoerceRecord(rec, defs, coercer)
		if err := w.WriteRow(row); err != nil {
			return err
		}
		n++
		a.Progress(n, uint64(len(ids)))
	}
	return w.Close()
}

func exportBinary(a *fp5.Archive, defs []*export.FieldExportDefinition, dest *os.File) error {
	w, err := copyformat.NewWriter(dest, columnTypesFor(defs))
	if err != nil {
		return err
	}
	coercer := a.NewCoercer()
	ids, err := a.RecordIDs()
	if err != nil {
		return err
	}
	it, err := a.Records()
	if err != nil {
		return err
	}
	var n uint64
	for {
		rec, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		row := export.CoerceRecord(rec, defs, coercer)
		if err := w.WriteRow(row); err != nil {
			return err
		}
		n++
		a.Progress(n, uint64(len(ids)))
	}
	return w.Close()
}
