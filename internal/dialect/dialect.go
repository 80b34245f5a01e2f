// Package dialect implements the zero-allocation-in-inner-loop text
// encoders that turn database rows into dump file bytes, in one of five
// dialects (default, csv, csv_unix, tsv, json).
//
// Grounded on original_source/modules/util/dump/dialect_dump_writer.h:
// each dialect is a small parameter struct (lines_terminated_by,
// fields_terminated_by, fields_enclosed_by, fields_escaped_by,
// fields_optionally_enclosed). A single Writer type (writer.go) serves all
// five dialects: NewWriter copies the chosen dialect's parameters into the
// Writer once, and WriteRow branches on those copied fields per field and
// per byte. There is no separate writer implementation per
// {escape present, enclosure present} combination.
package dialect

// Params is one dialect's five defining parameters, matching
// original_source's dialect_traits structs exactly.
type Params struct {
	LinesTerminatedBy string
	FieldsTerminatedBy string
	FieldsEnclosedBy   byte // 0 means "no enclosure"
	HasEnclosure       bool
	FieldsEscapedBy    byte // 0 means "no escaping"
	HasEscape          bool
	OptionallyEnclosed bool
}

// Name identifies one of the five dialects.
type Name string

const (
	Default Name = "default"
	CSV     Name = "csv"
	CSVUnix Name = "csv_unix"
	TSV     Name = "tsv"
	JSON    Name = "json"
)

// Table holds the five-parameter definition for each dialect, copied
// verbatim from the spec's dialect table / original_source's trait structs.
var Table = map[Name]Params{
	Default: {
		LinesTerminatedBy:  "\n",
		FieldsTerminatedBy: "\t",
		HasEnclosure:       false,
		FieldsEscapedBy:    '\\',
		HasEscape:          true,
		OptionallyEnclosed: false,
	},
	CSV: {
		LinesTerminatedBy:  "\r\n",
		FieldsTerminatedBy: ",",
		FieldsEnclosedBy:   '"',
		HasEnclosure:       true,
		FieldsEscapedBy:    '\\',
		HasEscape:          true,
		OptionallyEnclosed: true,
	},
	CSVUnix: {
		LinesTerminatedBy:  "\n",
		FieldsTerminatedBy: ",",
		FieldsEnclosedBy:   '"',
		HasEnclosure:       true,
		FieldsEscapedBy:    '\\',
		HasEscape:          true,
		OptionallyEnclosed: false,
	},
	TSV: {
		LinesTerminatedBy:  "\r\n",
		FieldsTerminatedBy: "\t",
		FieldsEnclosedBy:   '"',
		HasEnclosure:       true,
		FieldsEscapedBy:    '\\',
		HasEscape:          true,
		OptionallyEnclosed: true,
	},
	JSON: {
		LinesTerminatedBy:  "\n",
		FieldsTerminatedBy: "\n",
		HasEnclosure:       false,
		HasEscape:          false,
		OptionallyEnclosed: false,
	},
}
