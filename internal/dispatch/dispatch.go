// Package dispatch implements the verb dispatcher of spec.md §4.D: it
// takes an already-decoded request and routes it by its first argv token to one
// of suq's commands, mutating internal/job and internal/config state and
// producing the textual reply spec.md §4.D–§4.F describe.
//
// Grounded on github.com/tjper/teleport/internal/jobworker/grpc's
// request-validation-then-dispatch shape (validate inputs, call into a
// service, translate the result to a wire reply), adapted from gRPC
// method handlers returning protobuf messages to plain verb functions
// returning reply strings, and from github.com/tjper/teleport/internal/validator
// for the flag/argument validation style.
package dispatch

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sander/suq/internal/config"
	"github.com/sander/suq/internal/job"
	"github.com/sander/suq/internal/protocol"
	"github.com/sander/suq/internal/validator"
	"github.com/sander/suq/internal/wait"
)

// UsageString is the canonical usage text the "help" verb and the
// unknown-command error reply both include, per spec.md §4.D.
const UsageString = `usage: suq <command> [args...]
commands:
  run|sub [-d dir] [-n ntask] [-p prio] [-b] cmd [args...]   submit a job
  del all|ID                                                  cancel/remove job(s)
  pri all|ID PRIO                                             change priority
  info all|ID                                                 show job detail
  ls|list                                                      list jobs
  ntask|nproc N                                                set task budget
  wait [all|ID]                                                wait for completion
  echo [args...]                                               echo arguments back
  help                                                         show this text
`

// Starter is satisfied by job.Runner; kept as an interface so tests can
// substitute a fake that never forks or kills real processes.
type Starter interface {
	Start(j *job.Job, runOrder uint64) error
	Cancel(j *job.Job) error
}

// Dispatcher holds the daemon-wide state a verb handler needs: the job
// list, the configuration store (task budget and id allocation), the wait
// registry, and the child-process starter.
type Dispatcher struct {
	Jobs    *job.List
	Config  *config.Store
	Waits   *wait.List
	Starter Starter
}

// Result is what a dispatched request produces: the reply text to write
// to the connection, and whether the connection should be kept open
// (set for a "wait" whose predicate has not yet been satisfied).
type Result struct {
	Reply     string
	KeepAlive bool
}

// Dispatch routes the decoded req to the matching verb handler. conn
// is the Conn-shaped value (satisfying wait.Conn) that a "wait" verb
// should register against if its predicate isn't already satisfied.
func (d *Dispatcher) Dispatch(req protocol.Request, conn wait.Conn) Result {
	if len(req.Argv) == 0 {
		return Result{Reply: protocol.ErrPrefix + ": wrong command\n" + UsageString}
	}

	verb := req.Argv[0]
	args := req.Argv[1:]

	switch verb {
	case "run", "sub":
		return d.submit(req, args)
	case "del":
		return d.del(args)
	case "pri":
		return d.pri(args)
	case "info":
		return d.info(args)
	case "ls", "list":
		return d.list()
	case "ntask", "nproc":
		return d.ntask(args)
	case "wait":
		return d.wait(args, conn)
	case "help":
		return Result{Reply: UsageString}
	case "echo":
		return Result{Reply: strings.Join(args, " ") + "\n"}
	default:
		return Result{Reply: protocol.ErrPrefix + ": wrong command\n" + UsageString}
	}
}

func errorf(format string, a ...interface{}) Result {
	return Result{Reply: protocol.ErrPrefix + ": " + fmt.Sprintf(format, a...) + "\n"}
}

// submit implements the "run|sub" verb of spec.md §4.D.
func (d *Dispatcher) submit(req protocol.Request, args []string) Result {
	workDir := req.Cwd
	ntask := 1
	priority := 0
	blocking := false

	i := 0
	for i < len(args) {
		switch args[i] {
		case "-d":
			if i+1 >= len(args) {
				return errorf("-d requires a directory")
			}
			workDir = args[i+1]
			if !filepath.IsAbs(workDir) {
				workDir = filepath.Join(req.Cwd, workDir)
			}
			i += 2
		case "-n":
			if i+1 >= len(args) {
				return errorf("-n requires a number")
			}
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				return errorf("-n requires a number")
			}
			ntask = n
			i += 2
		case "-p":
			if i+1 >= len(args) {
				return errorf("-p requires a number")
			}
			p, err := strconv.Atoi(args[i+1])
			if err != nil {
				return errorf("-p requires a number")
			}
			priority = p
			i += 2
		case "-b":
			blocking = true
			i++
		default:
			goto command
		}
	}
command:
	valid := validator.New()
	valid.Assert(i < len(args), "missing command")
	valid.Assert(blocking || ntask >= 1, "-n must be at least 1")
	if err := valid.Err(); err != nil {
		return errorf("%s", err)
	}

	cmd := args[i]
	argv := append([]string{cmd}, args[i+1:]...)

	id := d.Config.AllocateID()
	j := &job.Job{
		ID:         id,
		Priority:   priority,
		NTask:      ntask,
		Name:       filepath.Base(cmd),
		WorkDir:    workDir,
		Cmd:        cmd,
		Argv:       argv,
		Envp:       append([]string(nil), req.Envp...),
		Output:     fmt.Sprintf("job.%d.out", id),
		State:      job.StateWaiting,
		SubmitTime: time.Now(),
	}
	if blocking {
		j.NTask = job.Blocking
	}

	d.Jobs.Add(j)
	job.Pass(d.Jobs, d.Config.NTask, d.Starter)

	reply := fmt.Sprintf("Submitted job id %d: '%s'. ", j.ID, j.Name)
	switch j.State {
	case job.StateRunning, job.StateStarted:
		reply += "Job is running.\n"
	case job.StateWaiting:
		reply += "Job is waiting to run.\n"
	case job.StateResourceError, job.StateRunError:
		reply += fmt.Sprintf("\nJob ERROR: '%s'.\n", j.Error)
	}
	return Result{Reply: reply}
}

// del implements the "del all|ID" verb.
func (d *Dispatcher) del(args []string) Result {
	if len(args) != 1 {
		return errorf("del requires 'all' or a job id")
	}

	var matches []*job.Job
	if args[0] == "all" {
		matches = append(matches, d.Jobs.All()...)
	} else {
		id, err := parseID(args[0])
		if err != nil {
			return errorf("%v", err)
		}
		j, ok := d.Jobs.FindByID(id)
		if !ok {
			return errorf("Job not found")
		}
		matches = append(matches, j)
	}

	var lines []string
	for _, j := range matches {
		if j.State == job.StateRunning {
			if err := d.Starter.Cancel(j); err != nil {
				lines = append(lines, fmt.Sprintf("couldn't kill job id %d: %v", j.ID, err))
				continue
			}
			j.State = job.StateCanceled
			d.Jobs.Reposition(j)
			lines = append(lines, fmt.Sprintf("Killed job id %d.", j.ID))
		} else {
			d.Jobs.Remove(j)
			lines = append(lines, fmt.Sprintf("Removed job id %d.", j.ID))
		}
	}
	if len(lines) == 0 {
		return errorf("Job not found")
	}
	return Result{Reply: strings.Join(lines, "\n") + "\n"}
}

// pri implements the "pri all|ID PRIO" verb.
func (d *Dispatcher) pri(args []string) Result {
	if len(args) != 2 {
		return errorf("pri requires a target and a priority")
	}
	prio, err := strconv.Atoi(args[1])
	if err != nil {
		return errorf("priority must be a number")
	}

	var matches []*job.Job
	if args[0] == "all" {
		matches = append(matches, d.Jobs.All()...)
	} else {
		id, err := parseID(args[0])
		if err != nil {
			return errorf("%v", err)
		}
		j, ok := d.Jobs.FindByID(id)
		if !ok {
			return errorf("Job not found")
		}
		matches = append(matches, j)
	}

	var lines []string
	for _, j := range matches {
		if j.Priority != prio {
			j.Priority = prio
			d.Jobs.Reposition(j)
		}
		lines = append(lines, fmt.Sprintf("Job id %d priority now %d.", j.ID, j.Priority))
	}
	return Result{Reply: strings.Join(lines, "\n") + "\n"}
}

// info implements the "info all|ID" verb.
func (d *Dispatcher) info(args []string) Result {
	if len(args) != 1 {
		return errorf("info requires 'all' or a job id")
	}

	var matches []*job.Job
	if args[0] == "all" {
		matches = append(matches, d.Jobs.All()...)
	} else {
		id, err := parseID(args[0])
		if err != nil {
			return errorf("%v", err)
		}
		j, ok := d.Jobs.FindByID(id)
		if !ok {
			return errorf("Job not found")
		}
		matches = append(matches, j)
	}

	var b strings.Builder
	for _, j := range matches {
		fmt.Fprintf(&b, "id: %d\n", j.ID)
		fmt.Fprintf(&b, "name: %s\n", j.Name)
		fmt.Fprintf(&b, "priority: %d\n", j.Priority)
		fmt.Fprintf(&b, "state: %s\n", j.State)
		fmt.Fprintf(&b, "submitted: %s\n", j.SubmitTime.Format(time.RFC3339))
		if !j.StartTime.IsZero() {
			fmt.Fprintf(&b, "started: %s\n", j.StartTime.Format(time.RFC3339))
		}
		if !j.EndTime.IsZero() {
			fmt.Fprintf(&b, "ended: %s\n", j.EndTime.Format(time.RFC3339))
		}
		if j.State == job.StateStarted || j.State == job.StateRunning {
			fmt.Fprintf(&b, "pid: %s\n", job.FormatPid(j))
		}
		if j.Error != "" {
			fmt.Fprintf(&b, "error: %s\n", j.Error)
		}
		if j.IsBlocking() {
			fmt.Fprintf(&b, "ntask: block\n")
		} else {
			fmt.Fprintf(&b, "ntask: %d\n", j.NTask)
		}
		fmt.Fprintf(&b, "command: %s\n", strings.Join(j.Argv, " "))
		fmt.Fprintf(&b, "argc: %d\n", len(j.Argv))
		fmt.Fprintf(&b, "envc: %d\n", len(j.Envp))
		fmt.Fprintf(&b, "workdir: %s\n", j.WorkDir)
		b.WriteString("\n")
	}
	return Result{Reply: b.String()}
}

// list implements the "ls|list" verb. Rows are printed by walking
// d.Jobs.All() in the job list's own order — the comparator order of
// internal/job/list.go's greater, which is what makes spec.md §8
// scenario S2's "job 3 sorted ahead of the other waiters by priority"
// observable in the reply — matching request_process.c:435's comment
// "walk the list, so earlier jobs are printed first" rather than
// re-sorting by id.
func (d *Dispatcher) list() Result {
	all := d.Jobs.All()

	running := 0
	for _, j := range all {
		if j.State == job.StateRunning || j.State == job.StateStarted {
			running += j.TaskCost(d.Config.NTask)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "running tasks: %4d\n", running)
	fmt.Fprintf(&b, "max tasks:     %4d\n", d.Config.NTask)
	fmt.Fprintf(&b, "%4s %4s %7s %5s %s\n", "ID", "PRIO", "STATE", "NTASK", "NAME")

	for _, j := range all {
		ntaskCol := "block"
		if !j.IsBlocking() {
			ntaskCol = strconv.Itoa(j.NTask)
		}
		fmt.Fprintf(&b, "%4d %4d %7s %5s '%s'\n", j.ID, j.Priority, j.State, ntaskCol, j.Name)
	}
	if len(all) == 0 {
		b.WriteString("   No jobs.\n")
	}
	return Result{Reply: b.String()}
}

// ntask implements the "ntask|nproc N" verb.
func (d *Dispatcher) ntask(args []string) Result {
	if len(args) != 1 {
		return errorf("ntask requires a number")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return errorf("ntask must be a positive integer")
	}
	d.Config.SetNTask(n)
	job.CheckBudget(d.Jobs, d.Config.NTask)
	job.Pass(d.Jobs, d.Config.NTask, d.Starter)
	return Result{Reply: fmt.Sprintf("ntask now %d.\n", d.Config.NTask)}
}

// wait implements the "wait [all|ID]" verb.
func (d *Dispatcher) wait(args []string, conn wait.Conn) Result {
	if len(args) == 0 {
		cutoff := time.Now().UnixNano()
		if d.submittedBeforeSatisfied(cutoff) {
			return Result{Reply: "Finished all pending jobs.\n"}
		}
		d.Waits.SubmittedBefore(conn, cutoff)
		return Result{Reply: "Waiting for all pending jobs...\n", KeepAlive: true}
	}
	if args[0] == "all" {
		if d.Jobs.Len() == 0 {
			return Result{Reply: "Finished all jobs.\n"}
		}
		d.Waits.All(conn)
		return Result{Reply: "Waiting for all jobs...\n", KeepAlive: true}
	}

	id, err := parseID(args[0])
	if err != nil {
		return errorf("%v", err)
	}
	if _, ok := d.Jobs.FindByID(id); !ok {
		return Result{Reply: fmt.Sprintf("Finished job id %d.\n", id)}
	}
	d.Waits.ByID(conn, id)
	return Result{Reply: fmt.Sprintf("Waiting for job id %d...\n", id), KeepAlive: true}
}

func (d *Dispatcher) submittedBeforeSatisfied(cutoff int64) bool {
	for _, j := range d.Jobs.All() {
		if j.SubmitTime.UnixNano() < cutoff {
			return false
		}
	}
	return true
}

func parseID(s string) (uint, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid job id: %q", s)
	}
	return uint(n), nil
}
