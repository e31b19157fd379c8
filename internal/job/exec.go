package job

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// ErrTransient indicates a job failed to start for a reason the scheduler
// should treat as transient (fork resource exhaustion): the job is left in
// StateWaiting and retried on the next pass, per spec.md §7.
var ErrTransient = errors.New("transient start failure")

// ErrJobNotFound indicates no job in a List matched a lookup or a del/pri
// request's selector.
var ErrJobNotFound = errors.New("job not found")

// defaultPath is used for command search when a job's envp carries no PATH
// variable, mirroring the original source's use of the system's
// _PATH_DEFPATH.
const defaultPath = "/usr/bin:/bin"

// process tracks the OS-level state of a started job's child.
type process struct {
	out *os.File
}

// Runner spawns and reaps job child processes. It is the concrete Starter
// used by the daemon; its methods fork+exec via os.StartProcess rather
// than os/exec.Cmd, because the daemon reaps children itself via explicit
// waitpid(-1, WNOHANG) calls driven by the self-pipe (internal/selfpipe),
// not via the blocking Cmd.Wait the standard library's higher-level
// wrapper expects callers to use.
type Runner struct {
	// The parent never chdirs back to "/" after a spawn: os.StartProcess
	// never chdirs the calling process itself (only the child, via
	// ProcAttr.Dir), so there is nothing to restore. This blank field is
	// a documented no-op so the Go-vs-C difference is explicit rather
	// than silently absent.
	_ struct{}
}

// Start spawns j's child process: opens the per-job output file and
// /dev/null for stdin, resolves the command against the job's own envp
// PATH, and forks+execs with the child as its own process group leader.
// On success j.State becomes StateStarted, j.Pid, j.StartTime and
// j.RunOrder are set, and the scheduler will promote it to StateRunning on
// its next pass.
func (Runner) Start(j *Job, runOrder uint64) error {
	outPath := filepath.Join(j.WorkDir, j.Output)
	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return fmt.Errorf("couldn't open stdout: %w", err)
	}
	defer out.Close()

	devnull, err := os.OpenFile(os.DevNull, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("couldn't open /dev/null for stdin: %w", err)
	}
	defer devnull.Close()

	path, err := searchPath(j.Cmd, j.Envp)
	if err != nil {
		return fmt.Errorf("couldn't find %s: %w", j.Cmd, err)
	}

	proc, err := os.StartProcess(path, j.Argv, &os.ProcAttr{
		Dir:   j.WorkDir,
		Env:   j.Envp,
		Files: []*os.File{devnull, out, out},
		Sys:   &syscall.SysProcAttr{Setpgid: true},
	})
	if err != nil {
		if errors.Is(err, syscall.EAGAIN) {
			return ErrTransient
		}
		return fmt.Errorf("fork: %w", err)
	}

	j.Pid = proc.Pid
	j.State = StateStarted
	j.RunOrder = runOrder
	j.StartTime = time.Now()
	j.proc = &process{}
	return nil
}

// Cancel sends SIGTERM to j's process group. It does not reap the child;
// Finish handles that once the reaper observes the exit, per spec.md §4.E
// "Cancel" and §5.
func (Runner) Cancel(j *Job) error {
	if j.Pid == 0 {
		return nil
	}
	if err := unix.Kill(-j.Pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("killpg: %w", err)
	}
	return nil
}

// Finish records a reaped child's exit in j: end time, duration-implying
// timestamps, and the terminal state (StateDone regardless of whether the
// exit was graceful or via signal — spec.md's "Finish" does not
// distinguish a canceled job's eventual reap from a natural one beyond the
// state it was already in).
func Finish(j *Job, ws unix.WaitStatus) {
	j.EndTime = time.Now()
	j.State = StateDone
	switch {
	case ws.Exited():
		j.Error = ""
	case ws.Signaled():
		j.Error = fmt.Sprintf("terminated by signal %s", ws.Signal())
	}
}

// searchPath resolves cmd to an executable path. If cmd contains a slash
// it is used verbatim (the spec leaves verifying its existence to exec
// failing naturally). Otherwise, the colon-separated PATH found in envp
// is searched component by component; this intentionally does not use
// exec.LookPath, which only ever consults the daemon's own os.Environ(),
// not an arbitrary job's envp.
func searchPath(cmd string, envp []string) (string, error) {
	if strings.ContainsRune(cmd, '/') {
		return cmd, nil
	}

	path := defaultPath
	for _, kv := range envp {
		if rest, ok := strings.CutPrefix(kv, "PATH="); ok {
			path = rest
		}
	}

	for _, dir := range strings.Split(path, ":") {
		candidate := filepath.Join(dir, cmd)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s: not found in PATH", cmd)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}

// ExitCode returns a WaitStatus's exit status, falling back to -1
// (matching the original source's "no exit" sentinel) for a
// signal-terminated process.
func ExitCode(ws unix.WaitStatus) int {
	if ws.Exited() {
		return ws.ExitStatus()
	}
	return -1
}

// FormatPid renders j.Pid for "info" output, or "-" if the job never
// started.
func FormatPid(j *Job) string {
	if j.Pid == 0 {
		return "-"
	}
	return strconv.Itoa(j.Pid)
}
