package worker

import (
	"strings"
	"testing"

	"dumpcore/internal/dialect"
	"dumpcore/internal/model"
)

func TestTableByteCounterAccumulatesPerTable(t *testing.T) {
	c := NewTableByteCounter()
	c.Add("s1", "t1", 100)
	c.Add("s1", "t1", 50)
	c.Add("s1", "t2", 10)
	c.Add("s2", "t1", 5)

	got := c.Snapshot()
	if got["s1"]["t1"] != 150 {
		t.Fatalf("s1.t1 = %d, want 150", got["s1"]["t1"])
	}
	if got["s1"]["t2"] != 10 {
		t.Fatalf("s1.t2 = %d, want 10", got["s1"]["t2"])
	}
	if got["s2"]["t1"] != 5 {
		t.Fatalf("s2.t1 = %d, want 5", got["s2"]["t1"])
	}
}

func TestTableByteCounterSnapshotIsACopy(t *testing.T) {
	c := NewTableByteCounter()
	c.Add("s1", "t1", 1)
	snap := c.Snapshot()
	snap["s1"]["t1"] = 999
	if got := c.Snapshot()["s1"]["t1"]; got != 1 {
		t.Fatalf("mutating a snapshot leaked into the counter: got %d", got)
	}
}

func TestExtensionFor(t *testing.T) {
	cases := map[dialect.Name]string{
		dialect.CSV:     ".csv",
		dialect.CSVUnix: ".csv",
		dialect.TSV:      ".tsv",
		dialect.JSON:     ".json",
		dialect.Default:  ".txt",
	}
	for d, want := range cases {
		if got := extensionFor(d); got != want {
			t.Fatalf("extensionFor(%v) = %q, want %q", d, got, want)
		}
	}
}

func table() *model.TableInfo {
	return &model.TableInfo{
		Schema: "s1",
		Name:   "t1",
		Columns: []model.ColumnInfo{
			{Name: "id", IsInteger: true, IsUnique: true},
			{Name: "data", CSVUnsafe: true},
		},
		Index: &model.IndexInfo{Name: "PRIMARY", Primary: true, ColumnIdx: []int{0}},
	}
}

func TestIsSingleRangeChunk(t *testing.T) {
	single := &model.ChunkTask{ChunkID: 0, Range: model.Range{Last: true}}
	if !isSingleRangeChunk(single) {
		t.Fatal("expected the sole {ChunkID: 0, Last: true} range to be a single-range chunk")
	}

	firstOfMany := &model.ChunkTask{ChunkID: 0, Range: model.Range{Last: false}}
	if isSingleRangeChunk(firstOfMany) {
		t.Fatal("a non-final first chunk must not be treated as single-range")
	}

	lastOfMany := &model.ChunkTask{ChunkID: 3, Range: model.Range{Last: true}}
	if isSingleRangeChunk(lastOfMany) {
		t.Fatal("a final chunk past ChunkID 0 must not be treated as single-range")
	}
}

func TestWhereClauseForUnbounded(t *testing.T) {
	ct := &model.ChunkTask{Table: table(), Range: model.Range{}}
	got := whereClauseFor(ct)
	if got != " WHERE 1=1" {
		t.Fatalf("whereClauseFor(unbounded) = %q", got)
	}
}

func TestWhereClauseForBetween(t *testing.T) {
	ct := &model.ChunkTask{Table: table(), Range: model.Range{Begin: 1, End: 100}}
	got := whereClauseFor(ct)
	if got != " WHERE `id` BETWEEN 1 AND 100" {
		t.Fatalf("whereClauseFor(between) = %q", got)
	}
}

func TestWhereClauseForUpperBoundOnly(t *testing.T) {
	ct := &model.ChunkTask{Table: table(), Range: model.Range{End: 50}}
	got := whereClauseFor(ct)
	if got != " WHERE `id` <= 50" {
		t.Fatalf("whereClauseFor(upper bound) = %q", got)
	}
}

func TestWhereClauseForHasNullFoldsInNullCheck(t *testing.T) {
	ct := &model.ChunkTask{Table: table(), Range: model.Range{End: 50, HasNull: true}}
	got := whereClauseFor(ct)
	if got != " WHERE (`id` <= 50 OR `id` IS NULL)" {
		t.Fatalf("whereClauseFor(has null) = %q", got)
	}
}

func TestWhereClauseForNoIndex(t *testing.T) {
	tbl := table()
	tbl.Index = nil
	ct := &model.ChunkTask{Table: tbl, Range: model.Range{Begin: 1, End: 100}}
	if got := whereClauseFor(ct); got != "" {
		t.Fatalf("whereClauseFor(no index) = %q, want empty", got)
	}
}

func TestBuildSelectWrapsCSVUnsafeColumns(t *testing.T) {
	ct := &model.ChunkTask{Table: table(), Range: model.Range{Begin: 1, End: 100}, ChunkID: 3}

	base64Query := buildSelect(ct, true)
	if !strings.Contains(base64Query, "TO_BASE64(`data`)") {
		t.Fatalf("expected TO_BASE64 wrapping, got %q", base64Query)
	}
	if !strings.Contains(base64Query, "`id`") {
		t.Fatalf("expected plain id column, got %q", base64Query)
	}
	if !strings.Contains(base64Query, "chunk ID: 3") {
		t.Fatalf("expected chunk id in tracing comment, got %q", base64Query)
	}

	hexQuery := buildSelect(ct, false)
	if !strings.Contains(hexQuery, "HEX(`data`)") {
		t.Fatalf("expected HEX wrapping, got %q", hexQuery)
	}
}

func TestSQLLiteralQuotesStrings(t *testing.T) {
	if got := sqlLiteral("abc"); got != "'abc'" {
		t.Fatalf("sqlLiteral(string) = %q", got)
	}
	if got := sqlLiteral(42); got != "42" {
		t.Fatalf("sqlLiteral(int) = %q", got)
	}
}

func TestJoinComma(t *testing.T) {
	if got := joinComma([]string{"a", "b", "c"}); got != "a, b, c" {
		t.Fatalf("joinComma = %q", got)
	}
	if got := joinComma(nil); got != "" {
		t.Fatalf("joinComma(nil) = %q, want empty", got)
	}
}

type fakeRow struct {
	data [][]byte
	null []bool
}

func (r fakeRow) NumFields() int                { return len(r.data) }
func (r fakeRow) IsNull(i int) bool             { return r.null[i] }
func (r fakeRow) GetRawData(i int) []byte       { return r.data[i] }
func (r fakeRow) GetAsString(i int) string      { return string(r.data[i]) }
func (r fakeRow) GetInt(i int) (int64, error)   { return 0, nil }
func (r fakeRow) GetUint(i int) (uint64, error) { return 0, nil }

func TestRowBytesCopiesValuesAndNullFlags(t *testing.T) {
	row := fakeRow{
		data: [][]byte{[]byte("1"), nil},
		null: []bool{false, true},
	}
	values, isNull := rowBytes(row, 2)
	if isNull[0] || !isNull[1] {
		t.Fatalf("isNull = %v, want [false true]", isNull)
	}
	if string(values[0]) != "1" {
		t.Fatalf("values[0] = %q, want \"1\"", values[0])
	}
	if values[1] != nil {
		t.Fatalf("values[1] = %v, want nil", values[1])
	}
}
