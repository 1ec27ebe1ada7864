// assetdb - maintenance CLI for the asset store
//
// Inspect health, run integrity checks and WAL checkpoints, search the
// catalog, and perform a hard reset when a file is beyond repair.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/MajoorWaldi/assetdb"
)

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "status":
		runStatus(os.Args[2:])
	case "init":
		runInit(os.Args[2:])
	case "integrity":
		runIntegrity(os.Args[2:])
	case "checkpoint":
		runCheckpoint(os.Args[2:])
	case "search":
		runSearch(os.Args[2:])
	case "reset":
		runReset(os.Args[2:])
	case "help", "--help", "-h":
		printHelp()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printHelp()
		os.Exit(2)
	}
}

func printHelp() {
	fmt.Println(`assetdb - asset store maintenance

Usage:
  assetdb status     [flags]         Show pool, bridge, and diagnostics state
  assetdb init       [flags]         Create the store and schema eagerly
  assetdb integrity  [flags]         Run PRAGMA integrity_check
  assetdb checkpoint [flags]         Run a WAL checkpoint
  assetdb search     [flags] QUERY   Full-text search over the catalog
  assetdb reset      [flags]         Destroy and recreate the store

Common flags:
  --db string       Database file (default "./assets.db")
  --timeout dur     Operation deadline (default 60s)

Command flags:
  status:     --json              Emit machine-readable output
  checkpoint: --mode string       PASSIVE|FULL|RESTART|TRUNCATE (default TRUNCATE)
  search:     --limit int         Result cap (default 20)
  reset:      --yes               Skip the confirmation prompt`)
}

func open(dbPath string, timeout time.Duration) (*assetdb.Manager, context.Context, context.CancelFunc) {
	mgr, err := assetdb.NewManager(dbPath)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return mgr, ctx, cancel
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	dbPath := fs.String("db", "./assets.db", "Database file")
	timeout := fs.Duration("timeout", 60*time.Second, "Operation deadline")
	asJSON := fs.Bool("json", false, "Emit machine-readable output")
	fs.Parse(args)

	mgr, ctx, cancel := open(*dbPath, *timeout)
	defer cancel()
	defer mgr.Close(context.Background())

	if err := mgr.Initialize(ctx); err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}

	st := mgr.Status()
	diag := mgr.DiagnosticsSnapshot()

	if *asJSON {
		out, err := json.MarshalIndent(map[string]interface{}{
			"status":      st,
			"diagnostics": diag,
		}, "", "  ")
		if err != nil {
			log.Fatalf("Failed to encode status: %v", err)
		}
		fmt.Println(string(out))
		return
	}

	fmt.Printf("Path:             %s\n", st.Path)
	fmt.Printf("Initialized:      %v\n", st.Initialized)
	fmt.Printf("Resetting:        %v\n", st.Resetting)
	fmt.Printf("Connections:      %d active, %d idle, %d max\n", st.ActiveConns, st.IdleConns, st.MaxConns)
	fmt.Printf("Inflight units:   %d\n", st.InflightUnits)
	fmt.Printf("Active txns:      %d\n", st.ActiveTxns)
	fmt.Printf("Tracked locks:    %d\n", st.TrackedLocks)
	fmt.Printf("Locked recently:  %v\n", diag.LockedRecently)
	fmt.Printf("Malformed recent: %v\n", diag.MalformedRecently)
	fmt.Printf("Recoveries:       %d ok, %d failed\n", diag.RecoverySuccesses, diag.RecoveryFailures)
	fmt.Printf("Resets:           %d ok, %d failed\n", diag.ResetSuccesses, diag.ResetFailures)
}

func runInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	dbPath := fs.String("db", "./assets.db", "Database file")
	timeout := fs.Duration("timeout", 60*time.Second, "Operation deadline")
	fs.Parse(args)

	mgr, ctx, cancel := open(*dbPath, *timeout)
	defer cancel()
	defer mgr.Close(context.Background())

	if err := mgr.Initialize(ctx); err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	fmt.Printf("Store ready at %s\n", *dbPath)
}

func runIntegrity(args []string) {
	fs := flag.NewFlagSet("integrity", flag.ExitOnError)
	dbPath := fs.String("db", "./assets.db", "Database file")
	timeout := fs.Duration("timeout", 60*time.Second, "Operation deadline")
	fs.Parse(args)

	mgr, ctx, cancel := open(*dbPath, *timeout)
	defer cancel()
	defer mgr.Close(context.Background())

	res := mgr.IntegrityCheck(ctx)
	if !res.OK {
		log.Fatalf("Integrity check failed to run: %s: %s", res.Err.Code, res.Err.Message)
	}

	report := res.Data.(map[string]interface{})
	messages, _ := report["messages"].([]string)
	for _, msg := range messages {
		fmt.Println(msg)
	}
	if ok, _ := report["ok"].(bool); !ok {
		os.Exit(1)
	}
}

func runCheckpoint(args []string) {
	fs := flag.NewFlagSet("checkpoint", flag.ExitOnError)
	dbPath := fs.String("db", "./assets.db", "Database file")
	timeout := fs.Duration("timeout", 60*time.Second, "Operation deadline")
	mode := fs.String("mode", "TRUNCATE", "PASSIVE|FULL|RESTART|TRUNCATE")
	fs.Parse(args)

	mgr, ctx, cancel := open(*dbPath, *timeout)
	defer cancel()
	defer mgr.Close(context.Background())

	res := mgr.WalCheckpoint(ctx, *mode)
	if !res.OK {
		log.Fatalf("Checkpoint failed: %s: %s", res.Err.Code, res.Err.Message)
	}
	if row, ok := res.Data.(map[string]interface{}); ok {
		fmt.Printf("busy=%v log=%v checkpointed=%v\n", row["busy"], row["log"], row["checkpointed"])
	}
}

func runSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	dbPath := fs.String("db", "./assets.db", "Database file")
	timeout := fs.Duration("timeout", 60*time.Second, "Operation deadline")
	limit := fs.Int("limit", 20, "Result cap")
	fs.Parse(args)

	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		log.Fatalf("search needs a query, e.g.: assetdb search --db ./assets.db dreamshaper")
	}

	mgr, ctx, cancel := open(*dbPath, *timeout)
	defer cancel()
	defer mgr.Close(context.Background())

	recs, err := mgr.Assets().SearchAssets(ctx, query, *limit)
	if err != nil {
		log.Fatalf("Search failed: %v", err)
	}
	if len(recs) == 0 {
		fmt.Println("no matches")
		return
	}
	for _, rec := range recs {
		tags := ""
		if len(rec.Tags) > 0 {
			tags = "  [" + strings.Join(rec.Tags, ", ") + "]"
		}
		fmt.Printf("%-8s  %s%s\n", rec.Kind, rec.Path, tags)
	}
}

func runReset(args []string) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	dbPath := fs.String("db", "./assets.db", "Database file")
	timeout := fs.Duration("timeout", 60*time.Second, "Operation deadline")
	yes := fs.Bool("yes", false, "Skip the confirmation prompt")
	fs.Parse(args)

	if !*yes && !confirm(fmt.Sprintf("This DELETES %s and all sidecar files. Continue? [y/N] ", *dbPath)) {
		fmt.Println("aborted")
		return
	}

	mgr, ctx, cancel := open(*dbPath, *timeout)
	defer cancel()
	defer mgr.Close(context.Background())

	if err := mgr.Reset(ctx); err != nil {
		log.Fatalf("Reset failed: %v", err)
	}
	fmt.Printf("Store reset, fresh schema at %s\n", *dbPath)
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
