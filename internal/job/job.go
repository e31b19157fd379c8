// Package job implements the suq job model: the Job type, its state
// machine, the ordered job list with its non-backfilling scheduler pass,
// and the fork/exec child-process lifecycle described in spec.md §3–§4.E.
//
// Grounded on github.com/tjper/teleport's internal/jobworker/job.Job (a
// struct carrying its own child's pid, output file and state), generalized
// from a single running process per Job to the priority-queue-plus-scheduler
// model spec.md requires, and from a uuid.UUID identity to the spec's
// small recycled integer id (internal/config.Store.AllocateID).
package job

import "time"

// State is one of the states a Job may be in. The declared order matters:
// the comparator in list.go sorts descending on this axis, so states
// declared later sort ahead of states declared earlier.
type State int

const (
	// StateRunError indicates the job failed to start (chdir/open/fork/exec
	// failure before exec succeeded).
	StateRunError State = iota
	// StateResourceError indicates the job's requested task count exceeds
	// the configured budget.
	StateResourceError
	// StateWaiting indicates the job is queued, waiting for scheduling.
	StateWaiting
	// StateStarted is a transient state observed once between spawn and the
	// next scheduler pass.
	StateStarted
	// StateRunning indicates the job's child process is executing.
	StateRunning
	// StateDone indicates the job's child process exited.
	StateDone
	// StateCanceled indicates the job was canceled via "del" of a running
	// job. Transient: job_cancel sends SIGTERM but the actual transition to
	// removal happens once the reaper observes the exit.
	StateCanceled
)

// String renders the state the way "ls"/"info" print it.
func (s State) String() string {
	switch s {
	case StateRunError:
		return "Error"
	case StateResourceError:
		return "Error"
	case StateWaiting:
		return "Wait"
	case StateStarted:
		return "Started"
	case StateRunning:
		return "Running"
	case StateDone:
		return "Done"
	case StateCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

// Blocking is the sentinel NTask value meaning "run alone, consuming the
// whole task budget."
const Blocking = -1

// ResourceErrorMessage is the fixed error string spec.md §4.E assigns to a
// job whose requested task count exceeds the budget.
const ResourceErrorMessage = "Requested ntask bigger than the total number available"

// Job is a single submitted command.
type Job struct {
	ID       uint
	Priority int
	NTask    int // positive count, or Blocking for "whole machine"
	Name     string
	WorkDir  string
	Cmd      string
	Argv     []string
	Envp     []string
	Output   string // output filename, relative to WorkDir

	State    State
	Error    string
	Pid      int
	RunOrder uint64

	SubmitTime time.Time
	StartTime  time.Time
	EndTime    time.Time

	proc *process // nil until Start succeeds
}

// TaskCost returns how many task-budget units this job consumes while
// running or started. A blocking job consumes the full passed budget.
func (j *Job) TaskCost(budget int) int {
	if j.NTask <= 0 {
		return budget
	}
	return j.NTask
}

// IsBlocking reports whether the job was submitted with -b.
func (j *Job) IsBlocking() bool {
	return j.NTask <= 0
}
