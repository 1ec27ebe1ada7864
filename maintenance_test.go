package assetdb

import (
	"context"
	"testing"
	"time"
)

func TestWalCheckpoint(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	if res := m.Execute(ctx,
		"INSERT INTO assets (id, path, name) VALUES ('a1', '/img/1.png', '1.png')"); !res.OK {
		t.Fatalf("Execute failed: %+v", res.Err)
	}

	res := m.WalCheckpoint(ctx, "")
	if !res.OK {
		t.Fatalf("WalCheckpoint failed: %+v", res.Err)
	}
	row, ok := res.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected checkpoint counters, got %T", res.Data)
	}
	if busy, _ := row["busy"].(int64); busy != 0 {
		t.Errorf("Expected an unblocked checkpoint, got busy=%v", row["busy"])
	}

	if res := m.WalCheckpoint(ctx, "passive"); !res.OK {
		t.Errorf("Expected lowercase mode to be accepted, got %+v", res.Err)
	}

	res = m.WalCheckpoint(ctx, "AGGRESSIVE")
	if res.OK || res.Code() != CodeInvalidInput {
		t.Errorf("Expected INVALID_INPUT for an unknown mode, got %+v", res)
	}
}

func TestIntegrityCheck(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	res := m.IntegrityCheck(ctx)
	if !res.OK {
		t.Fatalf("IntegrityCheck failed: %+v", res.Err)
	}
	report, ok := res.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected a report map, got %T", res.Data)
	}
	if healthy, _ := report["ok"].(bool); !healthy {
		t.Errorf("Expected a healthy fresh store, got %+v", report)
	}
	msgs, _ := report["messages"].([]string)
	if len(msgs) != 1 {
		t.Errorf("Expected a single ok message, got %v", msgs)
	}
}

func TestRebuildSearchIndex(t *testing.T) {
	m := newTestManager(t, nil)
	repo := m.Assets()
	ctx := context.Background()

	seedAsset(t, repo, "/library/sunset.png", KindImage)

	if res := m.RebuildSearchIndex(ctx); !res.OK {
		t.Fatalf("RebuildSearchIndex failed: %+v", res.Err)
	}

	recs, err := repo.SearchAssets(ctx, "sunset", 10)
	if err != nil {
		t.Fatalf("SearchAssets failed: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("Expected the index to still find the record, got %d hits", len(recs))
	}
}

func TestOptimizeAndVacuum(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	if res := m.Execute(ctx,
		"INSERT INTO assets (id, path, name) VALUES ('a1', '/img/1.png', '1.png')"); !res.OK {
		t.Fatalf("Execute failed: %+v", res.Err)
	}
	if res := m.Execute(ctx, "DELETE FROM assets"); !res.OK {
		t.Fatalf("Execute failed: %+v", res.Err)
	}

	if res := m.Optimize(ctx); !res.OK {
		t.Errorf("Optimize failed: %+v", res.Err)
	}
	if res := m.Vacuum(ctx); !res.OK {
		t.Errorf("Vacuum failed: %+v", res.Err)
	}
}

func TestAutoCheckpoint(t *testing.T) {
	m := newTestManager(t, func(cfg *Config) {
		cfg.CheckpointInterval = 10 * time.Millisecond
	})
	ctx := context.Background()

	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	m.StartAutoCheckpoint()
	m.StartAutoCheckpoint() // second start is a no-op

	metrics := m.metrics.(*InMemoryMetrics)
	deadline := time.Now().Add(2 * time.Second)
	for metrics.Counter(MetricCheckpoint) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Expected at least one periodic checkpoint")
		}
		time.Sleep(5 * time.Millisecond)
	}

	m.StopAutoCheckpoint()
	m.StopAutoCheckpoint() // second stop is a no-op
}

func TestAutoCheckpoint_DisabledWithoutInterval(t *testing.T) {
	m := newTestManager(t, func(cfg *Config) {
		cfg.CheckpointInterval = 0
	})

	m.StartAutoCheckpoint()
	m.cpMu.Lock()
	running := m.cpRunning
	m.cpMu.Unlock()
	if running {
		t.Error("Expected no checkpoint loop without an interval")
	}
}
