/*
scheduler.go - Background housekeeping scheduler

PURPOSE:
  Periodically resolves stale Scheduled sessions (the attendance
  auto-marker) and recomputes the current month's sibling discounts, so
  tuition projections stay current without an operator pressing buttons.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Auto-marker: any Scheduled session dated before today transitions to
    Held, with every enrolled student marked Present unless a row exists.
    Staff decisions (Held, Canceled, Holiday) are never overwritten.
  - Sibling recompute: overwrites the (family, month) state rows; the
    policy is idempotent, so re-running is safe.
  - Each run is independent; a failed run logs and the next tick retries.

CONFIGURATION:
  - CheckInterval: How often to run (default: 1 hour)
  - Enabled: Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - tuition/sibling.go: RecomputeAll
  - core/store.go: PendingPastSessions, ResolveSession
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/atlas/tuition-engine/core"
)

// Scheduler handles the attendance auto-marker and sibling recompute.
type Scheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	// Now is injectable for tests.
	Now func() time.Time

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewScheduler creates a new scheduler.
func NewScheduler(handler *Handler) *Scheduler {
	return &Scheduler{
		Handler:       handler,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Now:           time.Now,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (sc *Scheduler) Start() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if !sc.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	sc.ticker = time.NewTicker(sc.CheckInterval)
	sc.wg.Add(1)
	go sc.run()

	log.Printf("[Scheduler] Started with check interval: %v", sc.CheckInterval)
}

// Stop stops the scheduler and waits for the current run to finish.
func (sc *Scheduler) Stop() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.ticker != nil {
		sc.ticker.Stop()
		close(sc.stop)
		sc.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (sc *Scheduler) run() {
	defer sc.wg.Done()

	// Run once on startup so a restarted server catches up immediately.
	sc.RunOnce(context.Background())

	for {
		select {
		case <-sc.ticker.C:
			sc.RunOnce(context.Background())
		case <-sc.stop:
			return
		}
	}
}

// RunOnce executes one housekeeping pass. Exported for manual triggering
// and tests.
func (sc *Scheduler) RunOnce(ctx context.Context) {
	now := sc.Now().UTC()

	if err := sc.autoMarkAttendance(ctx, now); err != nil {
		log.Printf("[Scheduler] attendance auto-marker failed: %v", err)
	}

	month := core.MonthOf(now)
	report, err := sc.Handler.Sibling.RecomputeAll(ctx, month, now)
	if err != nil {
		log.Printf("[Scheduler] sibling recompute %s failed: %v", month, err)
		return
	}
	log.Printf("[Scheduler] sibling recompute %s: %d families processed", month, report.Processed)
}

// autoMarkAttendance transitions every Scheduled session dated before
// today to Held, defaulting the enrolled students to Present. Existing
// attendance rows are kept.
func (sc *Scheduler) autoMarkAttendance(ctx context.Context, now time.Time) error {
	today := core.DateOnly(now)
	sessions, err := sc.Handler.Store.PendingPastSessions(ctx, today)
	if err != nil {
		return err
	}

	resolved := 0
	for _, session := range sessions {
		studentIDs, err := sc.Handler.Store.EnrolledStudents(ctx, session.ClassID, session.Date)
		if err != nil {
			log.Printf("[Scheduler] skipping session %s: %v", session.ID, err)
			continue
		}

		marks := make([]core.Attendance, 0, len(studentIDs))
		for _, sid := range studentIDs {
			marks = append(marks, core.Attendance{
				SessionID: session.ID,
				StudentID: sid,
				Status:    core.AttendancePresent,
				MarkedAt:  now,
				MarkedBy:  "auto-marker",
			})
		}

		if err := sc.Handler.Store.ResolveSession(ctx, session.ID, core.SessionHeld, marks); err != nil {
			log.Printf("[Scheduler] failed to resolve session %s: %v", session.ID, err)
			continue
		}
		resolved++
	}

	if resolved > 0 {
		log.Printf("[Scheduler] auto-marked %d past sessions as held", resolved)
	}
	return nil
}
