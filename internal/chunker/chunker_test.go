package chunker

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"testing"

	"dumpcore/internal/model"
	"dumpcore/internal/session"
)

// fakeRow implements session.Row over a slice of string columns.
type fakeRow struct {
	cols   []string
	isNull []bool
}

func (r *fakeRow) NumFields() int          { return len(r.cols) }
func (r *fakeRow) IsNull(i int) bool       { return r.isNull[i] }
func (r *fakeRow) GetRawData(i int) []byte { return []byte(r.cols[i]) }
func (r *fakeRow) GetAsString(i int) string { return r.cols[i] }
func (r *fakeRow) GetInt(i int) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(r.cols[i]), 10, 64)
}
func (r *fakeRow) GetUint(i int) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(r.cols[i]), 10, 64)
}

// fakeResult yields one pre-built fakeRow per call of the query matcher.
type fakeResult struct {
	rows []*fakeRow
	pos  int
}

func (r *fakeResult) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}
func (r *fakeResult) Row() session.Row { return r.rows[r.pos-1] }
func (r *fakeResult) Err() error       { return nil }
func (r *fakeResult) Close() error     { return nil }

// fakeSession dispatches Query calls to a handler so each test can script
// the exact MIN/MAX/EXPLAIN/LIMIT sequence it expects.
type fakeSession struct {
	handle func(query string) *fakeResult
}

func (s *fakeSession) Execute(ctx context.Context, query string) (sql.Result, error) {
	return nil, nil
}
func (s *fakeSession) Query(ctx context.Context, query string) (session.Result, error) {
	return s.handle(query), nil
}
func (s *fakeSession) GetConnectionID() uint64 { return 1 }
func (s *fakeSession) GetServerVersion(ctx context.Context) (string, error) {
	return "8.0.0", nil
}
func (s *fakeSession) Close() error { return nil }

func row(vals ...string) *fakeRow {
	isNull := make([]bool, len(vals))
	for i, v := range vals {
		if v == "" {
			isNull[i] = true
		}
	}
	return &fakeRow{cols: vals, isNull: isNull}
}

func intTable() *model.TableInfo {
	return &model.TableInfo{
		Schema:    "s",
		Name:      "t",
		AvgRowLen: 100,
		Columns: []model.ColumnInfo{
			{Name: "id", Offset: 0, IsInteger: true, IsUnique: true},
		},
		Index: &model.IndexInfo{Name: "PRIMARY", Primary: true, ColumnIdx: []int{0}},
	}
}

func TestPlanIntegerFixedStep(t *testing.T) {
	sess := &fakeSession{handle: func(q string) *fakeResult {
		if strings.Contains(q, "MIN(") {
			return &fakeResult{rows: []*fakeRow{row("1", "1000", "1000")}}
		}
		t.Fatalf("unexpected query: %s", q)
		return nil
	}}

	ranges, err := Plan(context.Background(), sess, intTable(), 50_000)
	if err != nil {
		t.Fatal(err)
	}
	if len(ranges) == 0 {
		t.Fatal("expected at least one range")
	}
	if !ranges[len(ranges)-1].Last {
		t.Fatal("last range must be marked Last")
	}
	if !ranges[0].HasNull {
		t.Fatal("first range must include NULLs")
	}
	for _, r := range ranges[1:] {
		if r.HasNull {
			t.Fatal("only the first range should include NULLs")
		}
	}
}

func TestPlanNoIndexSingleChunk(t *testing.T) {
	table := intTable()
	table.Index = nil
	sess := &fakeSession{handle: func(q string) *fakeResult {
		t.Fatalf("no query expected when there is no usable index: %s", q)
		return nil
	}}
	ranges, err := Plan(context.Background(), sess, table, 50_000)
	if err != nil {
		t.Fatal(err)
	}
	if len(ranges) != 1 || !ranges[0].Last {
		t.Fatalf("expected a single terminal range, got %+v", ranges)
	}
}

func TestPlanIntegerEmptyTable(t *testing.T) {
	sess := &fakeSession{handle: func(q string) *fakeResult {
		return &fakeResult{rows: []*fakeRow{row("", "", "0")}}
	}}
	ranges, err := Plan(context.Background(), sess, intTable(), 50_000)
	if err != nil {
		t.Fatal(err)
	}
	if len(ranges) != 1 || !ranges[0].Last {
		t.Fatalf("expected a single terminal range for an empty table, got %+v", ranges)
	}
}

func TestPlanOrderedPagination(t *testing.T) {
	table := &model.TableInfo{
		Schema:    "s",
		Name:      "t",
		AvgRowLen: 100,
		Columns: []model.ColumnInfo{
			{Name: "k", Offset: 0, IsInteger: false, IsUnique: true},
		},
		Index: &model.IndexInfo{Name: "uk", ColumnIdx: []int{0}},
	}

	calls := 0
	sess := &fakeSession{handle: func(q string) *fakeResult {
		if strings.Contains(q, "MAX(") {
			return &fakeResult{rows: []*fakeRow{row("zzz")}}
		}
		calls++
		switch calls {
		case 1:
			return &fakeResult{rows: []*fakeRow{row("ccc")}}
		default:
			return &fakeResult{rows: []*fakeRow{row("zzz")}}
		}
	}}

	ranges, err := Plan(context.Background(), sess, table, 50_000)
	if err != nil {
		t.Fatal(err)
	}
	if len(ranges) != 2 {
		t.Fatalf("expected 2 ranges, got %+v", ranges)
	}
	if !ranges[1].Last {
		t.Fatal("second range must be Last")
	}
}
