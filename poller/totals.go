package poller

import (
	"sync"
	"time"
)

// Totals accumulates outcomes across cycles for the status surface.
// Counters are monotonic.
type Totals struct {
	mu           sync.Mutex
	processed    uint64
	skipped      uint64
	errors       uint64
	casesCreated uint64
	startedAt    time.Time
	lastCycleAt  time.Time
	lastCaseAt   time.Time
}

// TotalsSnapshot is a point-in-time copy of Totals.
type TotalsSnapshot struct {
	TotalProcessed  uint64    `json:"total_processed"`
	TotalSkipped    uint64    `json:"total_skipped"`
	TotalErrors     uint64    `json:"total_errors"`
	CasesCreated    uint64    `json:"cases_created"`
	StartedAt       time.Time `json:"processing_start_time,omitzero"`
	LastCycleAt     time.Time `json:"last_processing_time,omitzero"`
	LastCaseCreated time.Time `json:"last_case_created,omitzero"`
}

func (t *Totals) start(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startedAt.IsZero() {
		t.startedAt = at
	}
}

func (t *Totals) recordCycle(result CycleResult, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed += uint64(result.Processed)
	t.skipped += uint64(result.Skipped)
	t.errors += uint64(result.Errors)
	t.lastCycleAt = at
}

func (t *Totals) recordCaseCreated(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.casesCreated++
	t.lastCaseAt = at
}

// Snapshot returns a copy of the running totals.
func (t *Totals) Snapshot() TotalsSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TotalsSnapshot{
		TotalProcessed:  t.processed,
		TotalSkipped:    t.skipped,
		TotalErrors:     t.errors,
		CasesCreated:    t.casesCreated,
		StartedAt:       t.startedAt,
		LastCycleAt:     t.lastCycleAt,
		LastCaseCreated: t.lastCaseAt,
	}
}
