// Package assetdb provides a hardened embedded SQLite layer for asset
// catalogs: pooled connections, single-writer arbitration, scoped
// transactions, busy retries, schema self-healing, and automatic
// corruption recovery behind a uniform Result API that never panics.
//
// # Overview
//
// assetdb wraps a single database file with the machinery a
// long-running asset manager needs to survive lock storms, partial
// writes, schema drift, and outright file corruption without operator
// intervention. It provides:
//
//   - A bounded connection pool over modernc.org/sqlite (pure Go, no cgo)
//   - A write arbiter so writers never contend inside the engine
//   - Scoped IMMEDIATE/DEFERRED/EXCLUSIVE transactions with tokens
//   - Exponential busy-retry with jitter on locked errors
//   - Schema self-healing (missing columns and tables repaired in place)
//   - Online corruption recovery (checkpoint, integrity check, index rebuild)
//   - Hard reset as a last resort: quarantine the file, rebuild from scratch
//   - Per-asset locks with TTL and LRU eviction for indexer coordination
//   - Tagged Ok/Err results with stable error codes instead of panics
//   - Full observability (Prometheus metrics + structured logging)
//
// # Quick Start
//
// Basic usage:
//
//	mgr, err := assetdb.NewManager("./data/assets.db")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer mgr.Close(context.Background())
//
//	ctx := context.Background()
//
//	// Write
//	res := mgr.Execute(ctx, "INSERT INTO assets (id, path, name) VALUES (?, ?, ?)",
//		assetdb.NewID(), "loras/style.safetensors", "style.safetensors")
//	if !res.OK {
//		log.Printf("insert failed: %s: %s", res.Err.Code, res.Err.Message)
//	}
//
//	// Read
//	res = mgr.Query(ctx, "SELECT * FROM assets WHERE kind = ?", "image")
//	rows := res.Data.([]map[string]interface{})
//
// Production setup with logging and metrics:
//
//	logger, _ := assetdb.NewProductionZapLogger()
//	metrics := assetdb.NewPrometheusMetrics(prometheus.DefaultRegisterer)
//	mgr, err := assetdb.NewManagerWithObservability("./data/assets.db", logger, metrics)
//
//	// Periodic WAL maintenance
//	mgr.StartAutoCheckpoint()
//	defer mgr.Close(context.Background())
//
// # Core Concepts
//
// Manager: the store façade. Every operation returns a Result tagged
// OK or not; failures carry a stable code (TIMEOUT, DB_ERROR,
// INVALID_INPUT, RESET_FAILED) plus a message and structured context.
// The API never panics and never surfaces raw driver errors.
//
// EventLoopBridge: runs each operation as a unit on a worker goroutine
// with a bounded overall deadline, so a caller is never stranded on a
// wedged statement. Calling back into the store from inside a unit is
// detected and rejected rather than deadlocking.
//
// Pool and WriteArbiter: reads fan out across pooled connections;
// writes serialize through a single arbiter slot before touching the
// engine, which keeps SQLITE_BUSY storms out of the hot path entirely.
//
// Transactions: WithTransaction groups statements on one pinned
// connection under one arbiter hold. The callback receives a context
// that must be threaded into every nested store call; commit happens
// on a clean return, rollback on error or panic.
//
// Self-healing: statements failing with "no such column" or "no such
// table" trigger an in-place schema repair (ALTER TABLE ADD COLUMN or
// schema re-apply) followed by a single retry, throttled per target.
//
// Recovery ladder: "database disk image is malformed" first attempts
// online recovery (WAL checkpoint, integrity check, search index
// rebuild). If that fails and auto-reset is enabled, the store drains,
// quarantines the damaged file, and rebuilds the schema from scratch.
//
// # Transactions
//
// Multi-statement work goes through WithTransaction:
//
//	res := mgr.WithTransaction(ctx, assetdb.TxImmediate, func(txCtx context.Context) error {
//		if r := mgr.Execute(txCtx, "INSERT INTO tags (name) VALUES (?)", "portrait"); !r.OK {
//			return errors.New(r.Err.Message)
//		}
//		if r := mgr.Execute(txCtx,
//			"INSERT INTO asset_tags (asset_id, tag_id) SELECT ?, id FROM tags WHERE name = ?",
//			assetID, "portrait"); !r.OK {
//			return errors.New(r.Err.Message)
//		}
//		return nil
//	})
//
// Statements inside the callback MUST use txCtx. Statements carrying
// the transaction context run directly on the pinned connection in
// submission order; bare BEGIN/COMMIT/ROLLBACK text is rejected so
// transaction state can never desynchronize from the coordinator.
//
// # Typed Asset Records
//
// The repository layer wraps the raw statement API with typed CRUD:
//
//	assets := mgr.Assets()
//
//	rec := &assetdb.AssetRecord{
//		Path: "checkpoints/dreamshaper.safetensors",
//		Kind: assetdb.KindModel,
//		Size: 2147483648,
//		Tags: []string{"sdxl", "checkpoint"},
//	}
//	if err := assets.UpsertAsset(ctx, rec); err != nil {
//		log.Fatal(err)
//	}
//
//	// Filtered listing with validated sort column
//	recs, err := assets.ListAssets(ctx, assetdb.ListOptions{
//		Kinds:  []string{assetdb.KindModel, assetdb.KindImage},
//		SortBy: "mtime",
//		Desc:   true,
//		Limit:  50,
//	})
//
//	// Ranked full-text search over name, path, and notes
//	hits, err := assets.SearchAssets(ctx, "dreamshaper", 20)
//
// # Per-Asset Locks
//
// Indexers and metadata extractors racing on the same file coordinate
// through the lock registry:
//
//	lock := mgr.AssetLock("loras/style.safetensors")
//	if err := lock.Lock(ctx); err != nil {
//		return err
//	}
//	defer lock.Unlock()
//
// Locks are evicted LRU past the configured capacity and pruned after
// a TTL of disuse; a held lock is never evicted.
//
// # Critical Gotchas
//
// 1. Thread the transaction context. A nested store call inside
// WithTransaction that uses the outer ctx instead of txCtx will try to
// schedule a fresh unit and be rejected by the re-entrancy guard.
//
// 2. Results, not errors. Statement operations return Result; check
// res.OK before touching res.Data. Repository methods return ordinary
// Go errors instead.
//
// 3. Reset is destructive. Reset deletes the database file and every
// sidecar (-wal, -shm, -journal) and rebuilds an empty schema. Rows
// are gone; only use it when corruption outruns online recovery, or
// let auto-reset make that call.
//
// 4. One process per file. The write arbiter serializes writers within
// this process only. Other processes writing the same file still hit
// the engine's own locking; busy retries cover that case.
//
// # Configuration
//
// Defaults are production-safe. Overrides load from an optional JSON
// file next to the database (assetdb.config.json, or the file named by
// ASSETDB_CONFIG_PATH):
//
//	{"timeout": 30, "maxConnections": 5, "queryTimeout": 0}
//
// and from environment variables:
//
//	ASSETDB_RUN_TIMEOUT_SECONDS   overall per-operation deadline
//	ASSETDB_AUTO_RESET            enable/disable the reset escalation
//	ASSETDB_LOCK_CAPACITY         asset lock registry size
//	ASSETDB_LOCK_TTL_SECONDS      asset lock idle lifetime
//	ASSETDB_LOCK_PRUNE_SECONDS    registry sweep interval
//	ASSETDB_CONFIG_PATH           JSON override file location
//
// # Observability
//
// Metrics (Prometheus):
//
//	metrics := assetdb.NewPrometheusMetrics(prometheus.DefaultRegisterer)
//	mgr, _ := assetdb.NewManagerWithObservability(path, logger, metrics)
//
// Logging (Zap structured logging):
//
//	logger, _ := assetdb.NewProductionZapLogger()
//	mgr, _ := assetdb.NewManagerWithLogger(path, logger)
//
// Health introspection:
//
//	status := mgr.Status()               // pool, bridge, txn occupancy
//	diag := mgr.DiagnosticsSnapshot()    // recent locked/malformed events, recovery counters
//	res := mgr.IntegrityCheck(ctx)       // engine-level file check
//
// # Command Line
//
// The assetdb command wraps the maintenance surface for scripts and
// debugging:
//
//	assetdb -db ./data/assets.db status
//	assetdb -db ./data/assets.db integrity
//	assetdb -db ./data/assets.db checkpoint -mode TRUNCATE
//	assetdb -db ./data/assets.db reset -yes
//
// # When to Use assetdb
//
// Perfect for:
//   - Asset catalogs and media libraries (the original use case)
//   - Local-first tools that must survive crashes and power loss
//   - Long-running daemons with many concurrent readers, few writers
//   - Embedded stores where an operator cannot repair corruption by hand
//
// Not suitable for:
//   - Multi-node write scaling (it is one SQLite file)
//   - Hot multi-process write contention (arbiter is per-process)
//   - Workloads needing server-grade isolation levels
package assetdb
