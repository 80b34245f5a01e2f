// Package session wraps database/sql with the narrow contract the dumper
// needs from a MySQL connection (spec §6 EXTERNAL INTERFACES' Session/Row
// contract), backed by github.com/go-sql-driver/mysql.
//
// The interface shape lets a record/replay layer (out of scope here, see
// SPEC_FULL §6.2) wrap a Session transparently: callers never reach a
// concrete *sql.DB/*sql.Rows directly.
package session

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pingcap/errors"
)

// Row is one result row, with MySQL-text-protocol-shaped accessors
// mirroring mysqlshdk::db::IRow.
type Row interface {
	NumFields() int
	IsNull(i int) bool
	GetRawData(i int) []byte
	GetAsString(i int) string
	GetInt(i int) (int64, error)
	GetUint(i int) (uint64, error)
}

// Result is a streaming result set; call Next until it returns false, then
// check Err.
type Result interface {
	Next() bool
	Row() Row
	Err() error
	Close() error
}

// Session is a live connection to one MySQL server.
type Session interface {
	Execute(ctx context.Context, sql string) (sql.Result, error)
	Query(ctx context.Context, query string) (Result, error)
	GetConnectionID() uint64
	GetServerVersion(ctx context.Context) (string, error)
	Close() error
}

type mysqlSession struct {
	db   *sql.DB
	conn *sql.Conn
	id   uint64
}

// Open establishes one MySQL connection for dsn and pins it (a worker
// owns one dedicated *sql.Conn for its whole lifetime, matching
// original_source's Table_worker::open_session, which starts a
// transaction on its own connection and never shares it).
func Open(ctx context.Context, dsn string) (Session, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Trace(err)
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, errors.Trace(err)
	}

	s := &mysqlSession{db: db, conn: conn}
	row := conn.QueryRowContext(ctx, "SELECT CONNECTION_ID()")
	if err := row.Scan(&s.id); err != nil {
		conn.Close()
		db.Close()
		return nil, errors.Trace(err)
	}
	return s, nil
}

func (s *mysqlSession) Execute(ctx context.Context, query string) (sql.Result, error) {
	res, err := s.conn.ExecContext(ctx, query)
	return res, errors.Trace(err)
}

func (s *mysqlSession) Query(ctx context.Context, query string) (Result, error) {
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Trace(err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, errors.Trace(err)
	}
	return &sqlResult{rows: rows, numCols: len(cols)}, nil
}

func (s *mysqlSession) GetConnectionID() uint64 { return s.id }

func (s *mysqlSession) GetServerVersion(ctx context.Context) (string, error) {
	var version string
	row := s.conn.QueryRowContext(ctx, "SELECT VERSION()")
	if err := row.Scan(&version); err != nil {
		return "", errors.Trace(err)
	}
	return version, nil
}

func (s *mysqlSession) Close() error {
	s.conn.Close()
	return s.db.Close()
}

// sqlResult adapts database/sql's []sql.RawBytes scanning to the Row
// contract, scanning every column as raw bytes so the dialect writer
// controls its own numeric/NULL formatting rather than database/sql's.
type sqlResult struct {
	rows    *sql.Rows
	numCols int
	current *sqlRow
	err     error
}

func (r *sqlResult) Next() bool {
	if !r.rows.Next() {
		return false
	}
	raw := make([]sql.RawBytes, r.numCols)
	dest := make([]any, r.numCols)
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := r.rows.Scan(dest...); err != nil {
		r.err = errors.Trace(err)
		return false
	}
	isNull := make([]bool, r.numCols)
	data := make([][]byte, r.numCols)
	for i, rb := range raw {
		isNull[i] = rb == nil
		if !isNull[i] {
			data[i] = append([]byte(nil), rb...)
		}
	}
	r.current = &sqlRow{data: data, isNull: isNull}
	return true
}

func (r *sqlResult) Row() Row    { return r.current }
func (r *sqlResult) Err() error  { return r.err }
func (r *sqlResult) Close() error { return r.rows.Close() }

type sqlRow struct {
	data   [][]byte
	isNull []bool
}

func (r *sqlRow) NumFields() int         { return len(r.data) }
func (r *sqlRow) IsNull(i int) bool      { return r.isNull[i] }
func (r *sqlRow) GetRawData(i int) []byte { return r.data[i] }
func (r *sqlRow) GetAsString(i int) string {
	if r.isNull[i] {
		return ""
	}
	return string(r.data[i])
}
func (r *sqlRow) GetInt(i int) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(r.GetAsString(i)), 10, 64)
}
func (r *sqlRow) GetUint(i int) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(r.GetAsString(i)), 10, 64)
}
