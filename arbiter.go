package assetdb

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// WriteArbiter serializes writes process-wide. The engine allows one
// writer per database file; funneling writers through here turns
// engine-level busy errors into an orderly FIFO queue.
type WriteArbiter struct {
	sem     *semaphore.Weighted
	metrics Metrics
}

func NewWriteArbiter(metrics Metrics) *WriteArbiter {
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	return &WriteArbiter{
		sem:     semaphore.NewWeighted(1),
		metrics: metrics,
	}
}

// Acquire claims the writer slot, waiting in FIFO order behind earlier
// claimants. The returned release func is safe to call more than once;
// only the first call releases the slot.
func (a *WriteArbiter) Acquire(ctx context.Context) (func(), error) {
	start := time.Now()
	if err := a.sem.Acquire(ctx, 1); err != nil {
		a.metrics.Increment(MetricWriteTimeout)
		return nil, err
	}
	a.metrics.Timing(MetricWriteWait, time.Since(start))

	var once sync.Once
	return func() {
		once.Do(func() { a.sem.Release(1) })
	}, nil
}

// readOnlyLeads are the statement-leading keywords that never write
var readOnlyLeads = map[string]struct{}{
	"SELECT":  {},
	"PRAGMA":  {},
	"EXPLAIN": {},
	"WITH":    {},
}

// isWriteStatement reports whether sql needs the writer slot. Detection
// is by leading keyword and governs arbitration only, never validity: a
// misjudged statement still runs, it just queues differently.
func isWriteStatement(sqlText string) bool {
	lead := leadingKeyword(sqlText)
	if lead == "" {
		return true
	}
	_, readonly := readOnlyLeads[lead]
	return !readonly
}

// leadingKeyword returns the first bare word of a statement, uppercased,
// skipping whitespace and SQL comments.
func leadingKeyword(sqlText string) string {
	s := strings.TrimSpace(sqlText)
	for {
		switch {
		case strings.HasPrefix(s, "--"):
			nl := strings.IndexByte(s, '\n')
			if nl < 0 {
				return ""
			}
			s = strings.TrimSpace(s[nl+1:])
		case strings.HasPrefix(s, "/*"):
			end := strings.Index(s, "*/")
			if end < 0 {
				return ""
			}
			s = strings.TrimSpace(s[end+2:])
		default:
			end := 0
			for end < len(s) {
				ch := s[end]
				if (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_' {
					end++
					continue
				}
				break
			}
			return strings.ToUpper(s[:end])
		}
	}
}
