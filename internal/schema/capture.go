package schema

import (
	"context"
	"fmt"

	"github.com/pingcap/errors"

	"dumpcore/internal/session"
)

// ListTables returns the base tables (not views) of schemaName, in
// information_schema order.
func ListTables(ctx context.Context, sess session.Session, schemaName string) ([]string, error) {
	return listNames(ctx, sess, fmt.Sprintf(
		"SELECT TABLE_NAME FROM information_schema.TABLES WHERE TABLE_SCHEMA = %s AND TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_NAME",
		quoteLiteral(schemaName)))
}

// ListViews returns schemaName's views.
func ListViews(ctx context.Context, sess session.Session, schemaName string) ([]string, error) {
	return listNames(ctx, sess, fmt.Sprintf(
		"SELECT TABLE_NAME FROM information_schema.TABLES WHERE TABLE_SCHEMA = %s AND TABLE_TYPE = 'VIEW' ORDER BY TABLE_NAME",
		quoteLiteral(schemaName)))
}

// ListTriggers returns the names of triggers defined on schemaName.tableName.
func ListTriggers(ctx context.Context, sess session.Session, schemaName, tableName string) ([]string, error) {
	return listNames(ctx, sess, fmt.Sprintf(
		"SELECT TRIGGER_NAME FROM information_schema.TRIGGERS WHERE TRIGGER_SCHEMA = %s AND EVENT_OBJECT_TABLE = %s ORDER BY TRIGGER_NAME",
		quoteLiteral(schemaName), quoteLiteral(tableName)))
}

// ListRoutines returns the stored procedures and functions of schemaName.
func ListRoutines(ctx context.Context, sess session.Session, schemaName string) ([]string, error) {
	return listNames(ctx, sess, fmt.Sprintf(
		"SELECT ROUTINE_NAME FROM information_schema.ROUTINES WHERE ROUTINE_SCHEMA = %s ORDER BY ROUTINE_NAME",
		quoteLiteral(schemaName)))
}

// ListEvents returns the scheduled events of schemaName.
func ListEvents(ctx context.Context, sess session.Session, schemaName string) ([]string, error) {
	return listNames(ctx, sess, fmt.Sprintf(
		"SELECT EVENT_NAME FROM information_schema.EVENTS WHERE EVENT_SCHEMA = %s ORDER BY EVENT_NAME",
		quoteLiteral(schemaName)))
}

func listNames(ctx context.Context, sess session.Session, query string) ([]string, error) {
	res, err := sess.Query(ctx, query)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer res.Close()

	var names []string
	for res.Next() {
		names = append(names, res.Row().GetAsString(0))
	}
	return names, errors.Trace(res.Err())
}

// ListViewColumns returns the column names of schemaName.viewName, in
// ordinal position, for building the two-pass placeholder table (spec
// §4.4).
func ListViewColumns(ctx context.Context, sess session.Session, schemaName, viewName string) ([]string, error) {
	return listNames(ctx, sess, fmt.Sprintf(
		"SELECT COLUMN_NAME FROM information_schema.COLUMNS WHERE TABLE_SCHEMA = %s AND TABLE_NAME = %s ORDER BY ORDINAL_POSITION",
		quoteLiteral(schemaName), quoteLiteral(viewName)))
}

// ShowCreateTable returns the literal CREATE TABLE statement for
// schemaName.tableName, via SHOW CREATE TABLE.
func ShowCreateTable(ctx context.Context, sess session.Session, schemaName, tableName string) (string, error) {
	return showCreate(ctx, sess, fmt.Sprintf("SHOW CREATE TABLE %s.%s", quoteIdent(schemaName), quoteIdent(tableName)), 1)
}

// ShowCreateView returns the literal CREATE VIEW statement.
func ShowCreateView(ctx context.Context, sess session.Session, schemaName, viewName string) (string, error) {
	return showCreate(ctx, sess, fmt.Sprintf("SHOW CREATE VIEW %s.%s", quoteIdent(schemaName), quoteIdent(viewName)), 1)
}

// ShowCreateTrigger returns the literal CREATE TRIGGER statement.
func ShowCreateTrigger(ctx context.Context, sess session.Session, schemaName, triggerName string) (string, error) {
	return showCreate(ctx, sess, fmt.Sprintf("SHOW CREATE TRIGGER %s.%s", quoteIdent(schemaName), quoteIdent(triggerName)), 2)
}

// ShowCreateEvent returns the literal CREATE EVENT statement.
func ShowCreateEvent(ctx context.Context, sess session.Session, schemaName, eventName string) (string, error) {
	return showCreate(ctx, sess, fmt.Sprintf("SHOW CREATE EVENT %s.%s", quoteIdent(schemaName), quoteIdent(eventName)), 3)
}

// ShowCreateRoutine returns the literal CREATE PROCEDURE/FUNCTION
// statement; kind is "PROCEDURE" or "FUNCTION".
func ShowCreateRoutine(ctx context.Context, sess session.Session, kind, schemaName, routineName string) (string, error) {
	return showCreate(ctx, sess, fmt.Sprintf("SHOW CREATE %s %s.%s", kind, quoteIdent(schemaName), quoteIdent(routineName)), 2)
}

// showCreate runs a SHOW CREATE ... statement and returns the DDL text,
// which sits at a fixed column offset varying by object kind (SHOW CREATE
// TABLE/VIEW put it at column 1; TRIGGER/FUNCTION/PROCEDURE at column 2;
// EVENT at column 3 — each kind's result-set shape per the MySQL manual).
func showCreate(ctx context.Context, sess session.Session, query string, ddlColumn int) (string, error) {
	res, err := sess.Query(ctx, query)
	if err != nil {
		return "", errors.Trace(err)
	}
	defer res.Close()

	if !res.Next() {
		if err := res.Err(); err != nil {
			return "", errors.Trace(err)
		}
		return "", errors.Errorf("no rows returned for %q", query)
	}
	row := res.Row()
	if ddlColumn >= row.NumFields() {
		return "", errors.Errorf("unexpected result shape for %q", query)
	}
	return row.GetAsString(ddlColumn), nil
}

// ListUsers returns every account visible to the current session as an
// unquoted "user@host" string, excluding MySQL's built-in system accounts.
func ListUsers(ctx context.Context, sess session.Session) ([]string, error) {
	res, err := sess.Query(ctx, "SELECT User, Host FROM mysql.user WHERE User NOT IN ('mysql.sys','mysql.session','mysql.infoschema')")
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer res.Close()

	var accounts []string
	for res.Next() {
		row := res.Row()
		accounts = append(accounts, fmt.Sprintf("%s@%s", row.GetAsString(0), row.GetAsString(1)))
	}
	return accounts, errors.Trace(res.Err())
}

// ShowGrants returns every GRANT statement for one account ("user@host").
func ShowGrants(ctx context.Context, sess session.Session, account string) ([]string, error) {
	res, err := sess.Query(ctx, fmt.Sprintf("SHOW GRANTS FOR %s", account))
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer res.Close()

	var grants []string
	for res.Next() {
		grants = append(grants, res.Row().GetAsString(0))
	}
	return grants, errors.Trace(res.Err())
}

func quoteIdent(name string) string { return "`" + name + "`" }

func quoteLiteral(s string) string {
	return "'" + escapeSingleQuotes(s) + "'"
}

func escapeSingleQuotes(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, s[i])
	}
	return string(out)
}
