package job

import (
	"os"

	"github.com/sander/suq/internal/log"
)

// logger logs scheduler pass events (job start/finish lines), matching
// spec.md §4.E.
var logger = log.New(os.Stdout, "job")

// Starter spawns a job's child process. It is satisfied by Start in this
// package; tests substitute a fake to avoid forking real processes.
type Starter interface {
	Start(j *Job, runOrder uint64) error
}

// Pass runs one scheduler pass over l per spec.md §4.E:
//
//  1. Promote any StateStarted job (observed since the prior pass) to
//     StateRunning, logging a start record; remove any StateDone job,
//     logging a finish record. Accumulate n_running across {running,
//     started}, counting a blocking job as the full budget.
//  2. Walk the waiting jobs in priority order. A job that fits starts
//     (transitioning to StateStarted); whether it fits or not, its task
//     cost is credited against n_running so lower-priority jobs behind it
//     in the list cannot leapfrog it (non-backfilling). A job whose own
//     NTask exceeds the whole budget moves to StateResourceError.
func Pass(l *List, budget int, starter Starter) {
	nRunning := 0

	for _, j := range append([]*Job(nil), l.jobs...) {
		switch j.State {
		case StateStarted:
			logger.Infof("job %d (%s) started with pid %d", j.ID, j.Name, j.Pid)
			j.State = StateRunning
			l.Reposition(j)
		case StateDone:
			logger.Infof("job %d (%s) finished", j.ID, j.Name)
			l.Remove(j)
			continue
		}
		if j.State == StateRunning || j.State == StateStarted {
			nRunning += j.TaskCost(budget)
		}
	}

	for _, j := range append([]*Job(nil), l.jobs...) {
		if j.State != StateWaiting {
			continue
		}

		cost := j.TaskCost(budget)
		if nRunning+cost <= budget {
			if err := starter.Start(j, l.NextRunOrder()); err != nil {
				if err == ErrTransient {
					// EAGAIN-style transient failure: leave it waiting and
					// try again on the next pass.
				} else {
					j.State = StateRunError
					j.Error = err.Error()
					l.Reposition(j)
				}
			} else {
				l.Reposition(j)
			}
		}
		nRunning += cost

		if j.State == StateWaiting && j.NTask > budget {
			j.State = StateResourceError
			j.Error = ResourceErrorMessage
			l.Reposition(j)
		}
	}
}

// CheckBudget re-evaluates every waiting or resource-errored job against
// a newly-set budget, per job.c's joblist_check_ntask: a waiting job
// whose own NTask now exceeds budget moves to StateResourceError, and a
// resource-errored job whose NTask now fits moves back to StateWaiting.
// Pass's own waiting-job loop never reconsiders a job already in
// StateResourceError, so the "ntask" verb calls this first — the
// resulting StateWaiting jobs are then started by the Pass call that
// follows, the same two-step the original source performs
// (joblist_check_ntask, then the next job_schedule).
func CheckBudget(l *List, budget int) {
	for _, j := range append([]*Job(nil), l.jobs...) {
		switch {
		case j.State == StateWaiting && j.NTask > budget:
			j.State = StateResourceError
			j.Error = ResourceErrorMessage
			l.Reposition(j)
		case j.State == StateResourceError && j.NTask <= budget:
			j.State = StateWaiting
			j.Error = ""
			l.Reposition(j)
		}
	}
}
