// Package dumper implements the controller: the linear state pipeline
// that plans per-table work, spawns workers under a consistent-snapshot
// barrier, drains the task queue, and writes the final manifest (spec
// §4.8).
//
// Grounded on dataWriter's operations.go (an errgroup.Group fanning out
// per-item work under a concurrency limit, joined once at the end) and
// original_source/modules/util/dump/dumper.cc's Dumper::run state
// sequence (Init -> ... -> Finalize, with Emergency_shutdown on any
// error).
package dumper

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pingcap/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dumpcore/internal/basename"
	"dumpcore/internal/config"
	"dumpcore/internal/dialect"
	"dumpcore/internal/manifest"
	"dumpcore/internal/model"
	"dumpcore/internal/progress"
	"dumpcore/internal/queue"
	"dumpcore/internal/schema"
	"dumpcore/internal/session"
	"dumpcore/internal/sink"
	"dumpcore/internal/worker"
)

// dumperName/version identify this tool in "@.json" (spec §4.9).
const (
	dumperName    = "dumpcore"
	dumperVersion = "1.0.0"
)

// FatalDumpError wraps the first worker error observed after join (spec
// §7: "the overall dump raises a single FatalDumpError whose body is the
// first worker error").
type FatalDumpError struct{ Cause error }

func (e *FatalDumpError) Error() string { return "fatal dump error: " + e.Cause.Error() }
func (e *FatalDumpError) Unwrap() error { return e.Cause }

// InterruptedByUser is returned when the dump ends because the interrupt
// flag was set with no underlying worker error (spec §7).
type InterruptedByUser struct{}

func (InterruptedByUser) Error() string { return "interrupted by user" }

// Dumper is the run-level controller. One Dumper runs one dump.
type Dumper struct {
	cfg    *config.Config
	logger *zap.Logger

	q          *queue.Queue
	basenames  *basename.Registry
	reporter   *progress.Reporter
	tableBytes *worker.TableByteCounter
	sink       *sink.Sink

	interrupt   atomic.Bool
	pending     atomic.Int64
	drained     chan struct{}
	drainedOnce sync.Once

	control session.Session
	workers []*worker.Worker

	resultsMu sync.Mutex
	results   []model.DumpWriteResult

	info model.DumpInfo
}

// New builds a Dumper from a validated, normalized Config. Call Run to
// execute it.
func New(cfg *config.Config, logger *zap.Logger) *Dumper {
	return &Dumper{
		cfg:        cfg,
		logger:     logger,
		q:          queue.New(),
		basenames:  basename.NewRegistry(),
		tableBytes: worker.NewTableByteCounter(),
		drained:    make(chan struct{}),
	}
}

// Run executes the full pipeline (spec §4.8). On an error raised while
// workers are still running, it runs emergencyShutdown before returning;
// an error from finalize, after every worker has been joined, is returned
// directly.
func (d *Dumper) Run(ctx context.Context) error {
	d.info.RunID = uuid.New()
	d.info.BeginTime = timestamp()
	d.info.Consistent = d.cfg.Common.Consistent
	d.info.Schemas = d.cfg.Schemas

	control, err := session.Open(ctx, d.cfg.DB.DSN)
	if err != nil {
		return errors.Annotate(err, "opening control session")
	}
	d.control = control
	defer control.Close()

	if err := d.captureServerInfo(ctx); err != nil {
		return errors.Annotate(err, "capturing server info")
	}

	schemaTasks, tableTasks, err := d.planSchemas(ctx)
	if err != nil {
		return errors.Annotate(err, "planning schemas")
	}

	if err := d.validateCompatibility(tableTasks); err != nil {
		return errors.Annotate(err, "validating compatibility")
	}

	if d.cfg.Common.DryRun {
		d.logger.Info("dry run: plan complete, no files written",
			zap.Int("schemas", len(schemaTasks)), zap.Int("tables", len(tableTasks)))
		return nil
	}

	store, err := config.GetStore(d.cfg)
	if err != nil {
		return errors.Annotate(err, "opening output store")
	}
	codec := sink.Codec(d.cfg.Common.Compression)
	d.sink = sink.New(store, codec)

	nWorkers := d.cfg.DB.Threads
	if nWorkers < 1 {
		nWorkers = 1
	}
	d.reporter = progress.New(os.Stderr, nWorkers, 100*time.Millisecond)
	d.reporter.Start()
	defer d.reporter.Stop()

	if d.cfg.Common.Consistent {
		if err := d.acquireGlobalReadLock(ctx); err != nil {
			return errors.Annotate(err, "acquiring global read lock")
		}
	}

	barrier, err := d.spawnWorkers(ctx, nWorkers, codec)
	if err != nil {
		if d.cfg.Common.Consistent {
			d.releaseGlobalReadLock(ctx)
		}
		d.emergencyShutdown(ctx, nWorkers)
		return errors.Annotate(err, "spawning workers")
	}

	barrier.Wait() // workers' consistent-snapshot transactions are open now

	if d.cfg.Common.Consistent {
		if err := d.releaseGlobalReadLock(ctx); err != nil {
			d.emergencyShutdown(ctx, nWorkers)
			return errors.Annotate(err, "releasing global read lock")
		}
	}

	if err := d.writeDumpStart(ctx, schemaTasks); err != nil {
		d.emergencyShutdown(ctx, nWorkers)
		return errors.Annotate(err, "writing dump start manifest")
	}

	d.enqueueDDL(schemaTasks, tableTasks)
	d.enqueueChunking(tableTasks)

	if err := d.drain(ctx, nWorkers); err != nil {
		return err
	}

	if err := d.finalize(ctx, schemaTasks, tableTasks); err != nil {
		return errors.Annotate(err, "finalizing")
	}
	return nil
}

func timestamp() string { return time.Now().UTC().Format(time.RFC3339) }

// planSchemas enumerates every configured schema's tables, assigning each
// table's TableInfo.Basename up front so DDL and chunk-streaming tasks
// that race each other after planning always agree on a table's file
// names (spec §4.3's "Planning happens once, before any worker starts").
func (d *Dumper) planSchemas(ctx context.Context) ([]*model.SchemaTask, []*model.TableTask, error) {
	var schemaTasks []*model.SchemaTask
	var tableTasks []*model.TableTask

	for _, schemaName := range d.cfg.Schemas {
		schemaTasks = append(schemaTasks, &model.SchemaTask{Priority: model.PriorityHigh, Schema: schemaName})

		tables, err := schema.ListTables(ctx, d.control, schemaName)
		if err != nil {
			return nil, nil, errors.Annotatef(err, "listing tables of %s", schemaName)
		}
		for _, tableName := range tables {
			info := &model.TableInfo{Schema: schemaName, Name: tableName}
			info.Basename = d.basenames.Reserve(schemaName + "@" + tableName)
			tableTasks = append(tableTasks, &model.TableTask{Priority: model.PriorityHigh, Table: info})
		}
	}
	return schemaTasks, tableTasks, nil
}

// validateCompatibility is the pre-flight step between planning and
// locking. It performs no checks and always returns nil: it does not
// reject tables without a usable chunking index, and it does not classify
// DDL compatibility issues. Compatibility rewrites are applied later, by
// workers, as each object's DDL is captured.
func (d *Dumper) validateCompatibility(tableTasks []*model.TableTask) error {
	if d.cfg.Common.IgnoreMissingPKs {
		return nil
	}
	// Index presence is only known after runTableDDL parses the table's
	// DDL, which happens inside the worker pool.
	return nil
}

// acquireGlobalReadLock takes FLUSH TABLES WITH READ LOCK on the control
// session so that, combined with each worker starting its own REPEATABLE
// READ consistent-snapshot transaction before the lock is released, every
// worker observes the same point-in-time view (spec §4.7 step 2).
func (d *Dumper) acquireGlobalReadLock(ctx context.Context) error {
	_, err := d.control.Execute(ctx, "FLUSH TABLES WITH READ LOCK")
	return errors.Trace(err)
}

func (d *Dumper) releaseGlobalReadLock(ctx context.Context) error {
	_, err := d.control.Execute(ctx, "UNLOCK TABLES")
	return errors.Trace(err)
}

// captureServerInfo records the source server's version for the "@.json"
// manifest (spec §4.9).
func (d *Dumper) captureServerInfo(ctx context.Context) error {
	version, err := d.control.GetServerVersion(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	d.info.Origin = version
	return nil
}

// Progress reports the current cumulative row/byte counts, for a caller
// (the CLI entrypoint's fallback progress bar) that wants a coarser,
// poll-driven view than the 10Hz ANSI renderer Start/Stop drive directly.
// Zero values before Run has opened a sink.
func (d *Dumper) Progress() (rows, bytes, dataBytes int64) {
	if d.reporter == nil {
		return 0, 0, 0
	}
	return d.reporter.Rows(), d.reporter.Bytes(), d.reporter.DataBytes()
}

// spawnWorkers opens nWorkers Worker sessions, wires each one's Options to
// this Dumper's shared state, and starts their consistent-snapshot
// transactions concurrently behind a WaitGroup barrier the caller awaits
// before releasing the global read lock (spec §4.7 step 2). Worker.Run is
// not started here; drain starts it through runWorkers.
func (d *Dumper) spawnWorkers(ctx context.Context, nWorkers int, codec sink.Codec) (*sync.WaitGroup, error) {
	dialectName := dialect.Name(d.cfg.Common.Dialect)

	compat := schema.CompatibilityOptions{
		MDSCompatibility:  d.cfg.Common.MDSCompatibility,
		StripDefiners:     d.cfg.Common.StripDefiners,
		StripRestricted:   d.cfg.Common.StripRestricted,
		StripTablespaces:  d.cfg.Common.StripTablespaces,
		CreateInvisiblePK: d.cfg.Common.CreateInvisiblePK,
		IgnoreMissingPKs:  d.cfg.Common.IgnoreMissingPKs,
	}

	opts := worker.Options{
		DSN:            d.cfg.DB.DSN,
		Charset:        d.cfg.Common.Charset,
		TimeZoneUTC:    d.cfg.Common.TimeZoneUTC,
		Consistent:     d.cfg.Common.Consistent,
		Dialect:        dialectName,
		Codec:          codec,
		UseBase64:      d.cfg.Common.UseBase64,
		Compat:         compat,
		MaxRateBytes:   d.cfg.Common.MaxRateResolved,
		BytesPerChunk:  d.cfg.Common.BytesPerChunkResolved,
		OutputDir:      d.cfg.Common.Path,
		Basenames:      d.basenames,
		Sink:           d.sink,
		Reporter:       d.reporter,
		TableDataBytes: d.tableBytes,
		OnChunkDone:    d.onChunkDone,
		Enqueue:        d.enqueue,
		OnTaskDone:     d.onTaskDone,
		Logger:         d.logger,
	}

	var barrier sync.WaitGroup
	barrier.Add(nWorkers)

	for i := 0; i < nWorkers; i++ {
		w, err := worker.New(ctx, i, d.q, &d.interrupt, opts)
		if err != nil {
			return nil, errors.Annotatef(err, "spawning worker %d", i)
		}
		d.workers = append(d.workers, w)
		go func(w *worker.Worker) {
			if err := w.StartConsistentTxn(ctx, &barrier); err != nil {
				w.Close()
			}
		}(w)
	}
	return &barrier, nil
}

// runWorkers starts every spawned worker's main loop under an
// errgroup.Group, called once the transaction barrier has cleared and the
// global read lock (if any) is released. A Worker reports its own failure
// through LastErr rather than a returned error, so the group's Go
// functions always return nil; the group's only job here is the
// ergonomic fan-out/join dataWriter's own operations.go uses for its
// per-item concurrent work.
func (d *Dumper) runWorkers(ctx context.Context) *errgroup.Group {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range d.workers {
		w := w
		g.Go(func() error {
			w.Run(ctx)
			return nil
		})
	}
	return g
}

// enqueue is worker.Options.Enqueue: every task a worker produces at run
// time (chunking fans out per-range streaming tasks) must be counted
// before it lands in the queue, or the drain below could observe a
// momentarily-empty queue and shut down early.
func (d *Dumper) enqueue(p model.Priority, t queue.Task) {
	d.pending.Add(1)
	d.q.Push(p, t)
}

// onTaskDone is worker.Options.OnTaskDone: called once per task a worker
// finishes successfully (not sentinels, not failed tasks). When the
// pending counter reaches zero, every task ever enqueued — including ones
// chunking produced after planning — has completed, and drain's wait can
// proceed to shutting the queue down.
func (d *Dumper) onTaskDone() {
	if d.pending.Add(-1) == 0 {
		d.drainedOnce.Do(func() { close(d.drained) })
	}
}

// onChunkDone is worker.Options.OnChunkDone: records a completed chunk's
// row/byte totals for the final manifest.
func (d *Dumper) onChunkDone(r model.DumpWriteResult) {
	d.resultsMu.Lock()
	defer d.resultsMu.Unlock()
	d.results = append(d.results, r)
}

// enqueueDDL pushes one HIGH-priority task per schema and table.
func (d *Dumper) enqueueDDL(schemaTasks []*model.SchemaTask, tableTasks []*model.TableTask) {
	for _, st := range schemaTasks {
		d.enqueue(model.PriorityHigh, queue.Task{Schema: st})
	}
	for _, tt := range tableTasks {
		d.enqueue(model.PriorityHigh, queue.Task{Table: tt})
	}
}

// enqueueChunking pushes one MEDIUM-priority task per table; each one
// synchronously fans out LOW-priority ChunkTasks once a worker picks it
// up and runs chunker.Plan (spec §4.5/§4.6).
func (d *Dumper) enqueueChunking(tableTasks []*model.TableTask) {
	if d.cfg.Common.DDLOnly {
		return
	}
	for _, tt := range tableTasks {
		chunkTask := &model.TableTask{Priority: model.PriorityMedium, Table: tt.Table}
		d.enqueue(model.PriorityMedium, queue.Task{Table: chunkTask})
	}
}

// drain waits for every enqueued task (including ones chunking produces
// mid-run) to finish, then shuts the queue down and joins every worker. A
// worker that set the interrupt flag because it hit a fatal error causes
// drain to skip straight to emergencyShutdown instead of waiting forever
// on a pending counter that will never reach zero.
func (d *Dumper) drain(ctx context.Context, nWorkers int) error {
	wg := d.runWorkers(ctx)

	if d.pending.Load() == 0 {
		d.drainedOnce.Do(func() { close(d.drained) })
	}

	interrupted := make(chan struct{})
	go func() {
		for {
			if d.interrupt.Load() {
				close(interrupted)
				return
			}
			select {
			case <-d.drained:
				return
			case <-time.After(50 * time.Millisecond):
			}
		}
	}()

	select {
	case <-d.drained:
	case <-interrupted:
		d.emergencyShutdown(ctx, nWorkers)
		wg.Wait()
		return d.firstWorkerError()
	}

	d.q.Shutdown(nWorkers)
	wg.Wait()

	if err := d.firstWorkerError(); err != nil {
		return err
	}
	return nil
}

func (d *Dumper) firstWorkerError() error {
	for _, w := range d.workers {
		if err := w.LastErr(); err != nil {
			return &FatalDumpError{Cause: err}
		}
	}
	if d.interrupt.Load() {
		return InterruptedByUser{}
	}
	return nil
}

// emergencyShutdown sets the interrupt flag, kills every worker's
// in-flight query from a fresh side-session so a blocked streaming SELECT
// doesn't keep the worker stuck past the flag check, and pushes shutdown
// sentinels so workers already between tasks exit promptly (spec §7).
func (d *Dumper) emergencyShutdown(ctx context.Context, nWorkers int) {
	d.interrupt.Store(true)
	d.q.Shutdown(nWorkers)

	for _, w := range d.workers {
		connID := w.ConnectionID()
		side, err := session.Open(ctx, d.cfg.DB.DSN)
		if err != nil {
			continue
		}
		side.Execute(ctx, fmt.Sprintf("KILL QUERY %d", connID))
		side.Close()
	}
}

// writeDumpStart writes "@.json" once planning and locking complete but
// before any DDL/data task runs (spec §4.9).
func (d *Dumper) writeDumpStart(ctx context.Context, schemaTasks []*model.SchemaTask) error {
	start := manifest.DumpStart{
		Dumper:              dumperName,
		Version:             dumperVersion,
		Schemas:             d.cfg.Schemas,
		Basenames:           d.basenameMap(schemaTasks),
		DefaultCharacterSet: d.cfg.Common.Charset,
		TZUtc:               d.cfg.Common.TimeZoneUTC,
		TableOnly:           d.cfg.Common.DataOnly,
		ServerVersion:       d.info.Origin,
		Consistent:          d.cfg.Common.Consistent,
		MDSCompatibility:    d.cfg.Common.MDSCompatibility,
		Begin:               d.info.BeginTime,
	}
	if d.cfg.Common.DumpUsers {
		users, err := d.captureUsers(ctx)
		if err != nil {
			return err
		}
		start.Users = users
	}
	return manifest.WriteJSON(ctx, d.sink.Store(), "@.json", start)
}

func (d *Dumper) basenameMap(schemaTasks []*model.SchemaTask) map[string]string {
	out := make(map[string]string, len(schemaTasks))
	for _, st := range schemaTasks {
		out[st.Schema] = d.basenames.Reserve(st.Schema)
	}
	return out
}

// captureUsers writes "@.users.sql" with every included account's CREATE
// USER privileges, honoring the included/excluded user filters (spec §6
// supplement).
func (d *Dumper) captureUsers(ctx context.Context) ([]string, error) {
	accounts, err := schema.ListUsers(ctx, d.control)
	if err != nil {
		return nil, errors.Trace(err)
	}
	accounts = filterUsers(accounts, d.cfg.Common.IncludedUsers, d.cfg.Common.ExcludedUsers)

	var sb []byte
	for _, account := range accounts {
		grants, err := schema.ShowGrants(ctx, d.control, account)
		if err != nil {
			return nil, errors.Annotatef(err, "SHOW GRANTS FOR %s", account)
		}
		for _, g := range grants {
			sb = append(sb, g...)
			sb = append(sb, ";\n"...)
		}
	}
	if len(sb) == 0 {
		return accounts, nil
	}
	return accounts, manifest.WriteText(ctx, d.sink.Store(), "@.users.sql", string(sb))
}

func filterUsers(accounts, included, excluded []string) []string {
	if len(included) == 0 && len(excluded) == 0 {
		return accounts
	}
	excludeSet := make(map[string]bool, len(excluded))
	for _, u := range excluded {
		excludeSet[u] = true
	}
	includeSet := make(map[string]bool, len(included))
	for _, u := range included {
		includeSet[u] = true
	}
	var out []string
	for _, a := range accounts {
		if excludeSet[a] {
			continue
		}
		if len(includeSet) > 0 && !includeSet[a] {
			continue
		}
		out = append(out, a)
	}
	return out
}

// finalize writes the per-schema and per-table manifests plus "@.done.json",
// whose presence is the dump's success signal (spec §8's "Manifest
// completeness" property).
func (d *Dumper) finalize(ctx context.Context, schemaTasks []*model.SchemaTask, tableTasks []*model.TableTask) error {
	store := d.sink.Store()

	tablesBySchema := make(map[string][]string)
	for _, tt := range tableTasks {
		tablesBySchema[tt.Table.Schema] = append(tablesBySchema[tt.Table.Schema], tt.Table.Name)

		columns := make([]manifest.ColumnManifest, len(tt.Table.Columns))
		for i, c := range tt.Table.Columns {
			columns[i] = manifest.ColumnManifest{
				Name:      c.Name,
				Type:      c.SQLType,
				CSVUnsafe: c.CSVUnsafe,
				Decode:    manifest.DecodeFor(c, d.cfg.Common.UseBase64),
			}
		}
		primaryIndex := ""
		if tt.Table.Index != nil {
			primaryIndex = tt.Table.Index.Name
		}
		tm := manifest.TableManifest{
			Schema:       tt.Table.Schema,
			Name:         tt.Table.Name,
			Basename:     tt.Table.Basename,
			Columns:      columns,
			PrimaryIndex: primaryIndex,
			Compression:  d.cfg.Common.Compression,
			Dialect:      d.cfg.Common.Dialect,
			Chunking:     d.cfg.Common.Split,
			IncludesData: !d.cfg.Common.DDLOnly,
			IncludesDDL:  !d.cfg.Common.DataOnly,
		}
		if err := manifest.WriteJSON(ctx, store, tt.Table.Basename+".json", tm); err != nil {
			return errors.Annotatef(err, "writing manifest for %s.%s", tt.Table.Schema, tt.Table.Name)
		}
	}

	for _, st := range schemaTasks {
		schemaBasename := d.basenames.Reserve(st.Schema)
		views, err := schema.ListViews(ctx, d.control, st.Schema)
		if err != nil {
			return errors.Annotatef(err, "listing views of %s", st.Schema)
		}
		sm := manifest.SchemaManifest{
			Name:     st.Schema,
			Basename: schemaBasename,
			Tables:   tablesBySchema[st.Schema],
			Views:    views,
		}
		if err := manifest.WriteJSON(ctx, store, schemaBasename+".json", sm); err != nil {
			return errors.Annotatef(err, "writing manifest for schema %s", st.Schema)
		}
	}

	end := manifest.DumpEnd{
		End:            timestamp(),
		DataBytes:      d.reporter.DataBytes(),
		TableDataBytes: d.tableBytes.Snapshot(),
	}
	return manifest.WriteJSON(ctx, store, "@.done.json", end)
}
