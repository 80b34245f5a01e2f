// Package model holds the data types shared across the dump pipeline:
// schema/table/chunk tasks, key ranges, and the run-level manifest record.
package model

import "github.com/google/uuid"

// Priority orders tasks pulled from the work queue.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

// ColumnInfo describes one column of a table as captured from its DDL.
type ColumnInfo struct {
	Name      string
	Offset    int
	SQLType   string // lowercase MySQL type name, e.g. "int", "varchar", "blob"
	IsNumeric bool
	IsInteger bool // TINYINT/SMALLINT/MEDIUMINT/INT/BIGINT/YEAR: eligible for the Chunker's integer binary-search path
	Unsigned  bool
	IsUnique  bool // part of a PRIMARY KEY or UNIQUE index
	CSVUnsafe bool // BLOB/BIT/GEOMETRY-family columns that must be TO_BASE64/HEX-wrapped
	Nullable  bool
}

// IndexInfo names a candidate chunking index: the table's primary key or,
// failing that, its best unique index.
type IndexInfo struct {
	Name      string
	Primary   bool
	ColumnIdx []int // offsets into TableInfo.Columns, in index order
}

// TableInfo is the column/index metadata the Chunker and Worker need to
// build SELECT statements and choose a chunking strategy.
type TableInfo struct {
	Schema     string
	Name       string
	Basename   string // assigned once during planning, read-only thereafter
	CreateSQL  string
	Columns    []ColumnInfo
	Index      *IndexInfo // nil when no usable index exists
	AvgRowLen  int64      // from information_schema / ANALYZE, used for chunk sizing
	EstRows    int64
}

// Range is a closed [Begin, End] key range over the chunking index; the
// worker selects it with BETWEEN Begin AND End. Begin == nil means "from
// the start of the table"; End == nil means "through the end of the
// table".
type Range struct {
	Begin   any
	End     any
	Last    bool // true for the final chunk of a table
	HasNull bool // true when NULLs in the index must be folded into this chunk
}

// SchemaTask dumps one schema's DDL (CREATE SCHEMA, views, routines, grants).
type SchemaTask struct {
	Priority Priority
	Schema   string
}

// TableTask dumps one table's DDL and triggers its chunking.
type TableTask struct {
	Priority Priority
	Table    *TableInfo
}

// ChunkTask streams one key range of one table into an output file.
type ChunkTask struct {
	Priority Priority
	Table    *TableInfo
	Range    Range
	ChunkID  int
}

// DumpWriteResult is returned by a worker after it finishes a ChunkTask.
type DumpWriteResult struct {
	ChunkID    int
	Rows       int64
	Bytes      int64
	BasePath   string // path without dialect/compression extension
	Err        error
}

// DumpInfo is the run-level record the controller fills in during a run.
// It is not serialized itself: "@.json" and "@.done.json" are written from
// manifest.DumpStart and manifest.DumpEnd, which copy fields from it.
type DumpInfo struct {
	RunID            uuid.UUID `json:"runId"`
	Origin           string    `json:"origin"`
	Consistent       bool      `json:"consistent"`
	CompatibilityOpt []string  `json:"compatibilityOptions,omitempty"`
	Schemas          []string  `json:"schemas"`
	BeginTime        string    `json:"beginTime"`
	EndTime          string    `json:"endTime,omitempty"`
	TotalRows        int64     `json:"rows"`
	TotalBytes       int64     `json:"bytes"`
	DataBytes        int64     `json:"dataBytes"`
}
