package assetdb

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// walCheckpointModes are the modes PRAGMA wal_checkpoint accepts
var walCheckpointModes = map[string]struct{}{
	"PASSIVE":  {},
	"FULL":     {},
	"RESTART":  {},
	"TRUNCATE": {},
}

// WalCheckpoint runs PRAGMA wal_checkpoint and returns the engine's
// busy/log/checkpointed counters. Empty mode means TRUNCATE.
func (m *Manager) WalCheckpoint(ctx context.Context, mode string) Result {
	if mode == "" {
		mode = "TRUNCATE"
	}
	mode = strings.ToUpper(strings.TrimSpace(mode))
	if _, ok := walCheckpointModes[mode]; !ok {
		return resultFromError(WithContext(ErrInvalidInput, map[string]interface{}{
			"field":  "mode",
			"value":  mode,
			"reason": "unknown checkpoint mode",
		}))
	}

	res := m.QueryOne(ctx, "PRAGMA wal_checkpoint("+mode+")")
	if res.OK {
		m.metrics.Increment(MetricCheckpoint)
	}
	return res
}

// IntegrityCheck runs PRAGMA integrity_check and reports whether the
// file is healthy along with the engine's findings.
func (m *Manager) IntegrityCheck(ctx context.Context) Result {
	res := m.Query(ctx, "PRAGMA integrity_check")
	if !res.OK {
		return res
	}

	rows, _ := res.Data.([]map[string]interface{})
	messages := make([]string, 0, len(rows))
	for _, row := range rows {
		if s, ok := row["integrity_check"].(string); ok {
			messages = append(messages, s)
		}
	}
	healthy := len(messages) == 1 && strings.EqualFold(messages[0], "ok")
	return Ok(map[string]interface{}{
		"ok":       healthy,
		"messages": messages,
	})
}

// RebuildSearchIndex rebuilds the search index from the assets table
func (m *Manager) RebuildSearchIndex(ctx context.Context) Result {
	return m.Execute(ctx, fmt.Sprintf("INSERT INTO %s(%s) VALUES('rebuild')", FTSTableName, FTSTableName))
}

// Optimize runs the engine's query-planner maintenance
func (m *Manager) Optimize(ctx context.Context) Result {
	return m.Execute(ctx, "PRAGMA optimize")
}

// Vacuum rewrites the database file to reclaim free pages
func (m *Manager) Vacuum(ctx context.Context) Result {
	return m.Execute(ctx, "VACUUM")
}

// StartAutoCheckpoint begins periodic passive WAL checkpointing on the
// configured interval. No-op when already running or the interval is
// zero.
func (m *Manager) StartAutoCheckpoint() {
	if m.cfg.CheckpointInterval <= 0 {
		return
	}

	m.cpMu.Lock()
	defer m.cpMu.Unlock()
	if m.cpRunning {
		return
	}
	m.cpRunning = true
	m.cpStop = make(chan struct{})
	go m.checkpointLoop(m.cpStop)
	m.logger.Infow("auto checkpoint started", "interval", m.cfg.CheckpointInterval)
}

// StopAutoCheckpoint halts periodic checkpointing
func (m *Manager) StopAutoCheckpoint() {
	m.cpMu.Lock()
	defer m.cpMu.Unlock()
	if !m.cpRunning {
		return
	}
	close(m.cpStop)
	m.cpRunning = false
}

func (m *Manager) checkpointLoop(stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RunTimeout)
			res := m.WalCheckpoint(ctx, "PASSIVE")
			cancel()
			if !res.OK && res.Err != nil {
				m.logger.Warnw("auto checkpoint failed",
					"code", res.Err.Code,
					"error", res.Err.Message)
			}
		}
	}
}
