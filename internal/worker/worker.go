// Package worker runs the per-thread dump loop: pop a task, check the
// interrupt flag, execute it, check the interrupt flag again (spec §4.7,
// §5's "Suspension points").
//
// Grounded on original_source/modules/util/dump/dump_instance_task.h's
// Table_worker (its own session, its own transaction, its own rate-limit
// bucket) and dataWriter's per-goroutine writer_wrapper.go pattern (one
// generator goroutine pulling from a shared channel and writing through
// an ExternalFileWriter it alone owns).
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pingcap/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dumpcore/internal/basename"
	"dumpcore/internal/chunker"
	"dumpcore/internal/dialect"
	"dumpcore/internal/model"
	"dumpcore/internal/progress"
	"dumpcore/internal/queue"
	"dumpcore/internal/ratelimit"
	"dumpcore/internal/schema"
	"dumpcore/internal/session"
	"dumpcore/internal/sink"
)

// counterFlushRows is the row cadence at which the streaming loop reports
// its byte count to the rate limiter and global counters (spec §4.7:
// "every 2000 rows call the rate limiter ... and update global
// counters").
const counterFlushRows = 2000

// Options configures every Worker a Dumper spawns.
type Options struct {
	DSN           string
	Charset       string // SET NAMES <charset>
	TimeZoneUTC   bool
	Consistent    bool
	Dialect       dialect.Name
	Codec         sink.Codec
	UseBase64     bool // TO_BASE64 vs HEX for csv_unsafe columns
	Compat        schema.CompatibilityOptions
	MaxRateBytes  int64
	BytesPerChunk int64
	OutputDir     string
	Basenames     *basename.Registry
	Sink          *sink.Sink
	Reporter      *progress.Reporter
	TableDataBytes *TableByteCounter
	OnChunkDone   func(model.DumpWriteResult)
	// Enqueue, when set, routes a task produced mid-run (chunking fans
	// out per-range streaming tasks) through the controller's pending-work
	// counter instead of pushing directly onto the shared queue.
	Enqueue func(model.Priority, queue.Task)
	// OnTaskDone is called once per successfully completed task popped
	// from the queue (not for sentinels or failed tasks), letting the
	// controller decide when every HIGH/MEDIUM/LOW task — including ones
	// chunking produced after planning — has finished (spec §4.8's Drain
	// state).
	OnTaskDone func()
	Logger     *zap.Logger
}

// TableByteCounter is the spec §5 "table_data_bytes{schema→table→bytes}"
// map guarded by one mutex, updated once per counterFlushRows rows.
type TableByteCounter struct {
	mu     sync.Mutex
	bytes  map[string]map[string]int64
}

// NewTableByteCounter builds an empty counter.
func NewTableByteCounter() *TableByteCounter {
	return &TableByteCounter{bytes: make(map[string]map[string]int64)}
}

// Add accumulates n bytes for schema.table.
func (c *TableByteCounter) Add(schemaName, tableName string, n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.bytes[schemaName]
	if !ok {
		m = make(map[string]int64)
		c.bytes[schemaName] = m
	}
	m[tableName] += n
}

// Snapshot returns a copy of the accumulated map, for the manifest.
func (c *TableByteCounter) Snapshot() map[string]map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]map[string]int64, len(c.bytes))
	for s, tbls := range c.bytes {
		cp := make(map[string]int64, len(tbls))
		for t, b := range tbls {
			cp[t] = b
		}
		out[s] = cp
	}
	return out
}

// Worker owns one database session and drains tasks from a shared queue
// until it pops a shutdown sentinel or observes the interrupt flag.
type Worker struct {
	id        int
	opts      Options
	sess      session.Session
	limiter   *ratelimit.Limiter
	queue     *queue.Queue
	interrupt *atomic.Bool

	txnStarted chan struct{} // closed once the consistent-snapshot transaction begins

	mu      sync.Mutex
	lastErr error
}

// New opens worker id's dedicated session and configures it per spec
// §4.7 steps 4-5, but does not yet start its transaction: callers that
// want a consistent snapshot call StartConsistentTxn before releasing the
// global read lock.
func New(ctx context.Context, id int, q *queue.Queue, interrupt *atomic.Bool, opts Options) (*Worker, error) {
	sess, err := session.Open(ctx, opts.DSN)
	if err != nil {
		return nil, errors.Annotatef(err, "worker %d: opening session", id)
	}

	w := &Worker{
		id:         id,
		opts:       opts,
		sess:       sess,
		limiter:    ratelimit.New(opts.MaxRateBytes),
		queue:      q,
		interrupt:  interrupt,
		txnStarted: make(chan struct{}),
	}

	if err := w.configureSession(ctx); err != nil {
		sess.Close()
		return nil, err
	}
	return w, nil
}

// configureSession applies the session-wide settings spec §4.7 step 4
// requires before any work runs.
func (w *Worker) configureSession(ctx context.Context) error {
	stmts := []string{
		"SET SQL_MODE=''",
		fmt.Sprintf("SET NAMES %s", w.opts.Charset),
		"SET net_write_timeout=1800",
		"SET wait_timeout=31536000",
	}
	if w.opts.TimeZoneUTC {
		stmts = append(stmts, "SET TIME_ZONE='+00:00'")
	}
	for _, stmt := range stmts {
		if _, err := w.sess.Execute(ctx, stmt); err != nil {
			return errors.Annotatef(err, "worker %d: configuring session", w.id)
		}
	}
	return nil
}

// StartConsistentTxn issues the REPEATABLE READ + WITH CONSISTENT
// SNAPSHOT pair and signals the controller's barrier (spec §4.7 step 2,
// §5 "Workers start their transactions BEFORE the global read lock is
// released"). No-op, and immediately ready, when Consistent is false.
func (w *Worker) StartConsistentTxn(ctx context.Context, barrier *sync.WaitGroup) error {
	defer barrier.Done()
	if !w.opts.Consistent {
		close(w.txnStarted)
		return nil
	}
	if _, err := w.sess.Execute(ctx, "SET SESSION TRANSACTION ISOLATION LEVEL REPEATABLE READ"); err != nil {
		return errors.Annotatef(err, "worker %d: setting isolation level", w.id)
	}
	if _, err := w.sess.Execute(ctx, "START TRANSACTION WITH CONSISTENT SNAPSHOT"); err != nil {
		return errors.Annotatef(err, "worker %d: starting consistent transaction", w.id)
	}
	close(w.txnStarted)
	return nil
}

// ConnectionID returns the worker's session's connection id, used by the
// controller's emergency shutdown to issue a fresh-session KILL QUERY.
func (w *Worker) ConnectionID() uint64 { return w.sess.GetConnectionID() }

// LastErr returns the first error this worker observed, or nil. Mirrors
// spec §7's "per-worker result slot" inspected by the controller after
// join.
func (w *Worker) LastErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

func (w *Worker) setErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lastErr == nil {
		w.lastErr = err
	}
}

// Close releases the worker's database session.
func (w *Worker) Close() error { return w.sess.Close() }

// Run drains tasks until it pops a shutdown sentinel, observes the
// interrupt flag, or hits a fatal error (spec §4.7 step 5, §7's "sets the
// interrupt flag ... and exits its loop").
func (w *Worker) Run(ctx context.Context) {
	for {
		if w.interrupt.Load() {
			return
		}
		task := w.queue.Pop()
		if w.interrupt.Load() {
			return
		}
		if queue.IsSentinel(task) {
			return
		}

		if err := w.runTask(ctx, task); err != nil {
			w.logf(zapcore.ErrorLevel, "task failed", zap.Error(err))
			w.setErr(err)
			w.interrupt.Store(true)
			return
		}
		if w.opts.OnTaskDone != nil {
			w.opts.OnTaskDone()
		}
	}
}

func (w *Worker) runTask(ctx context.Context, task queue.Task) error {
	switch {
	case task.Schema != nil:
		return w.runSchemaDDL(ctx, task.Schema)
	case task.Table != nil && task.Priority == model.PriorityHigh:
		return w.runTableDDL(ctx, task.Table)
	case task.Table != nil && task.Priority == model.PriorityMedium:
		return w.runChunking(ctx, task.Table)
	case task.Chunk != nil:
		return w.runChunk(ctx, task.Chunk)
	default:
		return errors.New("worker: empty task")
	}
}

func (w *Worker) logf(lvl zapcore.Level, msg string, fields ...zap.Field) {
	if w.opts.Logger == nil {
		return
	}
	fields = append(fields, zap.Int("worker", w.id))
	switch lvl {
	case zapcore.ErrorLevel:
		w.opts.Logger.Error(msg, fields...)
	case zapcore.WarnLevel:
		w.opts.Logger.Warn(msg, fields...)
	default:
		w.opts.Logger.Info(msg, fields...)
	}
}

// runSchemaDDL captures and writes one schema's CREATE SCHEMA statement
// plus its views/routines/events, applying the configured compatibility
// rewrites (spec §4.4).
func (w *Worker) runSchemaDDL(ctx context.Context, st *model.SchemaTask) error {
	w.opts.Reporter.SetState(w.id, progress.StateDDL)

	basenameForSchema := w.opts.Basenames.Reserve(st.Schema)
	var sb []byte
	sb = append(sb, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`;\n", st.Schema)...)

	rewritten, issues := schema.RewriteDDL(string(sb), w.opts.Compat)
	for _, issue := range issues {
		w.logf(zapcore.InfoLevel, "compatibility fix applied", zap.String("rewrite", issue.Rewrite), zap.String("schema", st.Schema))
	}

	if err := writeText(ctx, w.opts.Sink, basenameForSchema+".sql", rewritten); err != nil {
		return err
	}

	views, err := schema.ListViews(ctx, w.sess, st.Schema)
	if err != nil {
		return errors.Annotatef(err, "listing views of %s", st.Schema)
	}
	for _, v := range views {
		if err := w.captureView(ctx, st.Schema, v, basenameForSchema); err != nil {
			return err
		}
	}

	routines, err := schema.ListRoutines(ctx, w.sess, st.Schema)
	if err != nil {
		return errors.Annotatef(err, "listing routines of %s", st.Schema)
	}
	if len(routines) > 0 {
		w.logf(zapcore.InfoLevel, "captured routines", zap.Int("count", len(routines)), zap.String("schema", st.Schema))
	}

	events, err := schema.ListEvents(ctx, w.sess, st.Schema)
	if err != nil {
		return errors.Annotatef(err, "listing events of %s", st.Schema)
	}
	if len(events) > 0 {
		w.logf(zapcore.InfoLevel, "captured events", zap.Int("count", len(events)), zap.String("schema", st.Schema))
	}

	return nil
}

// captureView implements spec §4.4's two-pass view handling: a
// placeholder base table written to "<basename>.pre.sql" (so dependent
// objects can load first), and the real CREATE VIEW written to
// "<basename>.sql" for the restore tool's post pass.
func (w *Worker) captureView(ctx context.Context, schemaName, viewName, schemaBasename string) error {
	createSQL, err := schema.ShowCreateView(ctx, w.sess, schemaName, viewName)
	if err != nil {
		return errors.Annotatef(err, "SHOW CREATE VIEW %s.%s", schemaName, viewName)
	}
	viewBasename := w.opts.Basenames.Reserve(schemaName + "@" + viewName)

	columns, err := schema.ListViewColumns(ctx, w.sess, schemaName, viewName)
	if err != nil {
		return errors.Annotatef(err, "listing columns of view %s.%s", schemaName, viewName)
	}
	placeholder := schema.ViewPlaceholder(schemaName, viewName, columns)
	if err := writeText(ctx, w.opts.Sink, viewBasename+".pre.sql", placeholder); err != nil {
		return err
	}

	rewritten, issues := schema.RewriteDDL(createSQL, w.opts.Compat)
	for _, issue := range issues {
		w.logf(zapcore.InfoLevel, "compatibility fix applied", zap.String("rewrite", issue.Rewrite), zap.String("view", viewName))
	}
	return writeText(ctx, w.opts.Sink, viewBasename+".sql", rewritten)
}

// runTableDDL captures one table's CREATE TABLE DDL and any triggers,
// applying compatibility rewrites (spec §4.4), then stores the parsed
// TableInfo back on the task so the chunking stage doesn't reparse it.
func (w *Worker) runTableDDL(ctx context.Context, tt *model.TableTask) error {
	w.opts.Reporter.SetState(w.id, progress.StateDDL)

	table := tt.Table
	createSQL, err := schema.ShowCreateTable(ctx, w.sess, table.Schema, table.Name)
	if err != nil {
		return errors.Annotatef(err, "SHOW CREATE TABLE %s.%s", table.Schema, table.Name)
	}

	parsed, err := schema.ParseCreateTable(table.Schema, table.Name, createSQL)
	if err != nil {
		return err
	}
	table.Columns = parsed.Columns
	table.Index = parsed.Index
	table.CreateSQL = createSQL

	rewritten, issues := schema.RewriteDDL(createSQL, w.opts.Compat)
	for _, issue := range issues {
		w.logf(zapcore.InfoLevel, "compatibility fix applied", zap.String("rewrite", issue.Rewrite), zap.String("table", table.Name))
	}

	tableBasename := w.opts.Basenames.Reserve(table.Schema + "@" + table.Name)
	table.Basename = tableBasename
	if err := writeText(ctx, w.opts.Sink, tableBasename+".sql", rewritten); err != nil {
		return err
	}

	triggers, err := schema.ListTriggers(ctx, w.sess, table.Schema, table.Name)
	if err != nil {
		return errors.Annotatef(err, "listing triggers of %s.%s", table.Schema, table.Name)
	}
	if len(triggers) > 0 {
		var sb []byte
		for _, trig := range triggers {
			trigSQL, err := schema.ShowCreateTrigger(ctx, w.sess, table.Schema, trig)
			if err != nil {
				return errors.Annotatef(err, "SHOW CREATE TRIGGER %s.%s", table.Schema, trig)
			}
			sb = append(sb, trigSQL...)
			sb = append(sb, ";\n"...)
		}
		if err := writeText(ctx, w.opts.Sink, tableBasename+".triggers.sql", string(sb)); err != nil {
			return err
		}
	}

	return nil
}

// runChunking plans tt.Table's key ranges and pushes one LOW-priority
// ChunkTask per range, the synchronous step spec §4.5/§4.6 describe:
// "Chunking tasks synchronously produce per-chunk streaming tasks (LOW)."
func (w *Worker) runChunking(ctx context.Context, tt *model.TableTask) error {
	w.opts.Reporter.SetState(w.id, progress.StateChunking)

	ranges, err := chunker.Plan(ctx, w.sess, tt.Table, w.opts.BytesPerChunk)
	if err != nil {
		return errors.Annotatef(err, "chunking %s.%s", tt.Table.Schema, tt.Table.Name)
	}

	for i, r := range ranges {
		w.enqueue(model.PriorityLow, queue.Task{
			Chunk: &model.ChunkTask{Table: tt.Table, Range: r, ChunkID: i},
		})
	}
	return nil
}

// enqueue routes a newly-produced task through the controller's pending-
// work counter when one is wired (opts.Enqueue), falling back to a plain
// queue push for callers (tests) that don't track completion.
func (w *Worker) enqueue(p model.Priority, t queue.Task) {
	if w.opts.Enqueue != nil {
		w.opts.Enqueue(p, t)
		return
	}
	w.queue.Push(p, t)
}

// runChunk streams one key range into its output file (spec §4.7's
// "Streaming a data chunk").
func (w *Worker) runChunk(ctx context.Context, ct *model.ChunkTask) error {
	w.opts.Reporter.SetState(w.id, progress.StateStreaming)

	dw, err := dialect.NewWriter(w.opts.Dialect)
	if err != nil {
		return err
	}

	query := buildSelect(ct, w.opts.UseBase64)
	res, err := w.sess.Query(ctx, query)
	if err != nil {
		return errors.Annotatef(err, "streaming %s.%s chunk %d", ct.Table.Schema, ct.Table.Name, ct.ChunkID)
	}
	defer res.Close()

	fileBase := w.opts.Basenames.Reserve(ct.Table.Schema + "@" + ct.Table.Name)
	if !isSingleRangeChunk(ct) {
		fileBase += basename.ChunkSuffix(ct.ChunkID, ct.Range.Last)
	}
	file, err := w.opts.Sink.Create(ctx, fileBase+extensionFor(w.opts.Dialect), true)
	if err != nil {
		return errors.Trace(err)
	}

	// pendingBytes tracks pre-compression bytes since the last flush: the
	// rate limiter and table_data_bytes counter both throttle/measure the
	// worker's own write volume (spec §4.7's "every 2000 rows call the
	// rate limiter with the bytes written"), not the codec's output,
	// which the sink only knows for certain once it flushes (see
	// sink.File.reportCompressedDelta).
	var rows, pendingBytes int64
	for res.Next() {
		if w.interrupt.Load() {
			return errors.New("interrupted")
		}

		row := res.Row()
		values, isNull := rowBytes(row, len(ct.Table.Columns))
		n := dw.WriteRow(ct.Table.Columns, values, isNull)
		if err := file.WriteRow(ctx, dw.Buffer().Bytes()[dw.Buffer().Len()-n:]); err != nil {
			return errors.Trace(err)
		}
		dw.Reset()

		rows++
		pendingBytes += int64(n)
		if rows%counterFlushRows == 0 {
			if err := w.limiter.WaitN(ctx, int(pendingBytes)); err != nil {
				return errors.Trace(err)
			}
			w.opts.Reporter.AddRows(counterFlushRows)
			w.opts.Reporter.AddDataBytes(pendingBytes)
			w.opts.TableDataBytes.Add(ct.Table.Schema, ct.Table.Name, pendingBytes)
			pendingBytes = 0
		}

		if w.interrupt.Load() {
			return errors.New("interrupted")
		}
	}
	if err := res.Err(); err != nil {
		return errors.Trace(err)
	}

	if remainder := rows % counterFlushRows; remainder != 0 || pendingBytes > 0 {
		w.opts.Reporter.AddRows(remainder)
		w.opts.Reporter.AddDataBytes(pendingBytes)
		w.opts.TableDataBytes.Add(ct.Table.Schema, ct.Table.Name, pendingBytes)
	}

	if err := file.Close(ctx); err != nil {
		return errors.Trace(err)
	}

	// bytes_written (post-compression) is only known for certain once the
	// file is fully flushed; folded in as one final DumpWriteResult (spec
	// §3: "additive").
	result := model.DumpWriteResult{
		ChunkID:  ct.ChunkID,
		Rows:     file.Rows(),
		Bytes:    file.CompressedBytes(),
		BasePath: fileBase,
	}
	w.opts.Reporter.AddBytes(result.Bytes)
	if w.opts.OnChunkDone != nil {
		w.opts.OnChunkDone(result)
	}
	return nil
}

func extensionFor(d dialect.Name) string {
	switch d {
	case dialect.CSV, dialect.CSVUnix:
		return ".csv"
	case dialect.TSV:
		return ".tsv"
	case dialect.JSON:
		return ".json"
	default:
		return ".txt"
	}
}

// rowBytes copies out a row's raw field bytes and null flags so the
// dialect writer can consume them after the underlying driver row buffer
// is reused by the next Next() call.
func rowBytes(row session.Row, n int) ([][]byte, []bool) {
	values := make([][]byte, n)
	isNull := make([]bool, n)
	for i := 0; i < n; i++ {
		isNull[i] = row.IsNull(i)
		if !isNull[i] {
			values[i] = append([]byte(nil), row.GetRawData(i)...)
		}
	}
	return values, isNull
}

// buildSelect constructs the SELECT for ct, wrapping csv_unsafe columns
// in TO_BASE64/HEX, restricting to the chunk's key range, and appending
// the tracing comment spec §4.5 requires for observability and replay
// matching.
func buildSelect(ct *model.ChunkTask, useBase64 bool) string {
	cols := ct.Table.Columns
	projections := make([]string, len(cols))
	for i, c := range cols {
		ident := "`" + c.Name + "`"
		if c.CSVUnsafe {
			if useBase64 {
				projections[i] = fmt.Sprintf("TO_BASE64(%s)", ident)
			} else {
				projections[i] = fmt.Sprintf("HEX(%s)", ident)
			}
		} else {
			projections[i] = ident
		}
	}

	table := fmt.Sprintf("`%s`.`%s`", ct.Table.Schema, ct.Table.Name)
	where := whereClauseFor(ct)
	orderBy := ""
	if ct.Table.Index != nil {
		orderBy = fmt.Sprintf(" ORDER BY `%s`", ct.Table.Columns[ct.Table.Index.ColumnIdx[0]].Name)
	}

	comment := fmt.Sprintf("/* mysqlsh dumpInstance, chunking table `%s`.`%s`, chunk ID: %d */",
		ct.Table.Schema, ct.Table.Name, ct.ChunkID)

	return fmt.Sprintf("SELECT %s %s FROM %s%s%s", comment, joinComma(projections), table, where, orderBy)
}

// isSingleRangeChunk reports whether ct is the only chunk chunker.Plan
// produced for its table: chunking never ran (no usable index, an empty
// table) or the plan came out as one range, in either case yielding one
// {Last: true} range at ChunkID 0. Such a table's data file gets the bare basename, not a
// "@0"/"@@0" ordinal (spec §6: ordinal suffixes mark genuinely chunked
// tables only).
func isSingleRangeChunk(ct *model.ChunkTask) bool {
	return ct.ChunkID == 0 && ct.Range.Last
}

func whereClauseFor(ct *model.ChunkTask) string {
	if ct.Table.Index == nil {
		return ""
	}
	col := "`" + ct.Table.Columns[ct.Table.Index.ColumnIdx[0]].Name + "`"

	var clause string
	switch {
	case ct.Range.Begin != nil && ct.Range.End != nil:
		clause = fmt.Sprintf("%s BETWEEN %v AND %v", col, sqlLiteral(ct.Range.Begin), sqlLiteral(ct.Range.End))
	case ct.Range.End != nil:
		clause = fmt.Sprintf("%s <= %v", col, sqlLiteral(ct.Range.End))
	default:
		clause = "1=1"
	}
	if ct.Range.HasNull {
		clause = fmt.Sprintf("(%s OR %s IS NULL)", clause, col)
	}
	return " WHERE " + clause
}

func sqlLiteral(v any) string {
	switch t := v.(type) {
	case string:
		return "'" + t + "'"
	default:
		return fmt.Sprintf("%v", t)
	}
}

func joinComma(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}

func writeText(ctx context.Context, s *sink.Sink, name, text string) error {
	return s.WriteDDL(ctx, name, text)
}
