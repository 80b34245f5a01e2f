// Package schema captures table DDL from a live server and classifies its
// columns for the chunker and dialect writer.
//
// Grounded on dataWriter's src/spec/spec.go: getTableInfoBySQL parses a
// CREATE TABLE statement with the TiDB parser and builds a *model.TableInfo
// via ddl.BuildTableInfoWithStmt, exactly as here; GetSpecFromSQL's
// PKIsHandle/Indices walk is the direct source for ChooseIndex below.
package schema

import (
	"github.com/pingcap/errors"
	"github.com/pingcap/tidb/pkg/ddl"
	tidbmodel "github.com/pingcap/tidb/pkg/meta/model"
	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/mysql"
	"github.com/pingcap/tidb/pkg/types"
	"github.com/pingcap/tidb/pkg/util/mock"

	"dumpcore/internal/model"
)

// csvUnsafeTypes are column types that cannot round-trip through a text
// dialect unescaped and are requested from the server pre-wrapped in
// TO_BASE64(...) or HEX(...) (spec §4.2's "Binary-unsafe columns").
var csvUnsafeTypes = map[byte]bool{
	mysql.TypeTinyBlob:   true,
	mysql.TypeBlob:       true,
	mysql.TypeMediumBlob: true,
	mysql.TypeLongBlob:   true,
	mysql.TypeBit:        true,
	mysql.TypeGeometry:   true,
}

// integerTypes are eligible for the Chunker's MIN/MAX binary-search
// algorithm (spec §4.5's "Integer" branch); every other ordered type
// falls back to LIMIT-offset pagination.
var integerTypes = map[byte]bool{
	mysql.TypeTiny:     true,
	mysql.TypeShort:    true,
	mysql.TypeInt24:    true,
	mysql.TypeLong:     true,
	mysql.TypeLonglong: true,
	mysql.TypeYear:     true,
}

// ParseCreateTable parses one CREATE TABLE statement (as returned by
// SHOW CREATE TABLE) into a TableInfo with classified columns and a
// chosen chunking index.
func ParseCreateTable(schemaName, tableName, createSQL string) (*model.TableInfo, error) {
	tbInfo, err := parseTableInfo(createSQL)
	if err != nil {
		return nil, errors.Annotatef(err, "parsing DDL for %s.%s", schemaName, tableName)
	}

	info := &model.TableInfo{
		Schema:    schemaName,
		Name:      tableName,
		CreateSQL: createSQL,
		Columns:   make([]model.ColumnInfo, 0, len(tbInfo.Columns)),
	}

	for _, col := range tbInfo.Columns {
		info.Columns = append(info.Columns, model.ColumnInfo{
			Name:      col.Name.O,
			Offset:    col.Offset,
			SQLType:   col.GetTypeDesc(),
			IsNumeric: types.IsTypeNumeric(col.GetType()),
			IsInteger: integerTypes[col.GetType()],
			Unsigned:  mysql.HasUnsignedFlag(col.GetFlag()),
			CSVUnsafe: csvUnsafeTypes[col.GetType()],
			Nullable:  !mysql.HasNotNullFlag(col.GetFlag()),
		})
	}

	markUniqueColumns(tbInfo, info.Columns)
	info.Index = chooseIndex(tbInfo, info.Columns)

	return info, nil
}

func parseTableInfo(createTableSQL string) (*tidbmodel.TableInfo, error) {
	p := parser.New()
	p.SetSQLMode(mysql.ModeANSIQuotes)

	stmt, err := p.ParseOneStmt(createTableSQL, "", "")
	if err != nil {
		return nil, errors.Trace(err)
	}

	s, ok := stmt.(*ast.CreateTableStmt)
	if !ok {
		return nil, errors.New("not a CREATE TABLE statement")
	}

	metaBuildCtx := ddl.NewMetaBuildContextWithSctx(mock.NewContext())
	return ddl.BuildTableInfoWithStmt(metaBuildCtx, s, mysql.DefaultCharset, "", nil)
}

// markUniqueColumns flags every column that participates in the table's
// primary key (whether it's the implicit row handle or an explicit PK
// index) or any UNIQUE index, the same two-step walk GetSpecFromSQL does:
// first PKIsHandle (single-column integer PK stored as the row's handle),
// then every index marked Primary or Unique.
func markUniqueColumns(tbInfo *tidbmodel.TableInfo, cols []model.ColumnInfo) {
	if tbInfo.PKIsHandle {
		for _, col := range tbInfo.Columns {
			if mysql.HasPriKeyFlag(col.GetFlag()) {
				cols[col.Offset].IsUnique = true
				break
			}
		}
	}

	for _, index := range tbInfo.Indices {
		if !index.Primary && !index.Unique {
			continue
		}
		for _, col := range index.Columns {
			if col.Offset >= 0 && col.Offset < len(cols) {
				cols[col.Offset].IsUnique = true
			}
		}
	}
}

// chooseIndex picks the best chunking index: the PK-as-handle column if
// present, else the table's PRIMARY index, else its first UNIQUE index,
// else nil (no usable index — the Chunker falls back to a single chunk).
func chooseIndex(tbInfo *tidbmodel.TableInfo, cols []model.ColumnInfo) *model.IndexInfo {
	if tbInfo.PKIsHandle {
		for _, col := range tbInfo.Columns {
			if mysql.HasPriKeyFlag(col.GetFlag()) {
				return &model.IndexInfo{Name: "PRIMARY", Primary: true, ColumnIdx: []int{col.Offset}}
			}
		}
	}

	var bestUnique *model.IndexInfo
	for _, index := range tbInfo.Indices {
		if index.Primary {
			return indexInfoFrom(index, true)
		}
		if index.Unique && bestUnique == nil {
			bestUnique = indexInfoFrom(index, false)
		}
	}
	return bestUnique
}

func indexInfoFrom(index *tidbmodel.IndexInfo, primary bool) *model.IndexInfo {
	idx := &model.IndexInfo{Name: index.Name.O, Primary: primary}
	for _, col := range index.Columns {
		idx.ColumnIdx = append(idx.ColumnIdx, col.Offset)
	}
	return idx
}
