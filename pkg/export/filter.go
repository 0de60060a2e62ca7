package export

import (
	"regexp"

	"github.com/bgrewell/fp5kit/pkg/catalog"
	"github.com/bgrewell/fp5kit/pkg/consts"
)

// FieldFilter selects a subset of a field catalog's DataFields, per
// spec.md §6.3's "filters (include by exact name, include by regex,
// ignore by exact name, ignore by regex, ignore by type code)" list. A
// zero-value FieldFilter matches every field.
type FieldFilter struct {
	IncludeNames map[string]bool
	IncludeRegex *regexp.Regexp
	IgnoreNames  map[string]bool
	IgnoreRegex  *regexp.Regexp
	IgnoreTypes  map[int]bool
}

func (f *FieldFilter) included(label string) bool {
	if len(f.IncludeNames) == 0 && f.IncludeRegex == nil {
		return true
	}
	if f.IncludeNames[label] {
		return true
	}
	if f.IncludeRegex != nil && f.IncludeRegex.MatchString(label) {
		return true
	}
	return false
}

func (f *FieldFilter) ignored(label string, typ int) bool {
	if f.IgnoreNames[label] {
		return true
	}
	if f.IgnoreRegex != nil && f.IgnoreRegex.MatchString(label) {
		return true
	}
	if f.IgnoreTypes[typ] {
		return true
	}
	return false
}

// defaultColumnType maps an fp5 field type code to the ColumnType a
// definition gets when no declaration file overrides it, per spec.md
// §4.6's typed-coercion table.
func defaultColumnType(fieldType int) ColumnType {
	switch fieldType {
	case consts.FieldTypeNumber:
		return ColumnNumeric
	case consts.FieldTypeDate:
		return ColumnDate
	case consts.FieldTypeTime:
		return ColumnTime
	default:
		return ColumnText
	}
}

// Filter is the public entry point cmd/fp5export calls: it walks cat's
// fields in display order, keeps those f both includes and does not
// ignore, and assigns each surviving definition a sequential Ordinal.
func Filter(cat *catalog.Catalog, f FieldFilter) []*FieldExportDefinition {
	var defs []*FieldExportDefinition
	var ordinal uint32
	for _, field := range cat.Fields() {
		if !f.included(field.Label) || f.ignored(field.Label, field.Type) {
			continue
		}
		defs = append(defs, &FieldExportDefinition{
			FieldID:      field.ID,
			Field:        field.Label,
			DeclaredType: defaultColumnType(field.Type),
			IsArray:      field.Repetitions > 1,
			Ordinal:      ordinal,
		})
		ordinal++
	}
	return defs
}
