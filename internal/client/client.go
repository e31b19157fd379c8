// Package client implements the client spawner of spec.md §4.I: flag
// stripping, the attached/detached connection decision, request framing
// and reply handling.
//
// Grounded on github.com/tjper/teleport/internal/jobworker/cli.Run's
// flag-then-subcommand dispatch shape, and on its reexec package's
// pipe-handoff-via-ExtraFiles convention — generalized here from "hand a
// job's argv to a grandchild" to "hand the daemon's bootstrap connection
// to a re-executed copy of this same binary," since suq's daemon has no
// separate installed binary the way jobworker's server and reexec
// entrypoints share one executable but different subcommands.
package client

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sander/suq/internal/config"
	"github.com/sander/suq/internal/log"
	"github.com/sander/suq/internal/protocol"
)

var logger = log.New(os.Stderr, "suq")

// BootstrapArg is the hidden subcommand argument a re-executed copy of
// the client binary recognizes as "become the daemon, using fd 3 and fd
// 4 as the bootstrap connection's read and write ends" — the Go
// equivalent of the original C client's in-process double fork, since a
// multi-threaded Go runtime cannot safely continue running Go code in a
// forked child and must instead fork+exec.
const BootstrapArg = "__suqd_bootstrap"

// Version is the client's reported version string (spec.md §6's -v flag;
// original_source/src/main.c prints PACKAGE_STRING here).
const Version = "suq-go 1.0"

// Exit codes mirror spec.md §6: 0 success, 1 client-visible or fatal
// error.
const (
	ExitSuccess = 0
	ExitError   = 1
)

// Run is the client entrypoint: it strips the small set of client-only
// flags, connects to (or spawns) the daemon, sends the request, and
// prints the reply. It returns the process exit status.
func Run(args []string) int {
	flags, verbArgs := parseFlags(args)

	if flags.help {
		fmt.Fprint(os.Stdout, helpText)
		return ExitSuccess
	}
	if flags.version {
		fmt.Fprintln(os.Stdout, Version)
		return ExitSuccess
	}
	if len(verbArgs) > 0 && verbArgs[0] == "help" {
		fmt.Fprint(os.Stdout, helpText)
		return ExitSuccess
	}

	if flags.debug {
		log.SetLevel(2)
	}

	cfgPath := flags.configPath
	if cfgPath == "" {
		cfgPath = config.DefaultPath()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Errorf("load config: %v", err)
		return ExitError
	}

	cwd, err := os.Getwd()
	if err != nil {
		logger.Errorf("getwd: %v", err)
		return ExitError
	}
	req := protocol.Encode(cwd, verbArgs, os.Environ())

	reply, err := sendAttached(cfg.SocketFile, req)
	if err != nil {
		reply, err = sendDetached(cfgPath, cfg.SocketFile, req, flags.debug)
	}
	if err != nil {
		logger.Errorf("%v", err)
		return ExitError
	}

	return printReply(reply)
}

type flags struct {
	debug      bool
	help       bool
	version    bool
	configPath string
}

// parseFlags strips the client-only flags spec.md §4.I/§6 names from
// argv, returning what remains as the verb and its arguments (the "shift
// argv left" spec.md describes).
func parseFlags(args []string) (flags, []string) {
	var f flags
	i := 0
	for i < len(args) {
		switch args[i] {
		case "-d", "--debug":
			f.debug = true
			i++
		case "-c":
			f.debug = true
			i++
		case "-h":
			f.help = true
			i++
		case "-v":
			f.version = true
			i++
		case "--config":
			if i+1 < len(args) {
				f.configPath = args[i+1]
				i += 2
			} else {
				i++
			}
		default:
			return f, args[i:]
		}
	}
	return f, args[i:]
}

// sendAttached tries to connect to an already-running daemon.
func sendAttached(socketFile string, req []byte) ([]byte, error) {
	c, err := net.DialTimeout("unix", socketFile, 500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if _, err := c.Write(req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	return io.ReadAll(c)
}

// sendDetached implements spec.md §4.I's detached bootstrap: it creates
// the pipe pair the daemon will use as its first connection, re-execs
// this same binary into daemon mode with Setsid to orphan it from the
// client's session, sends the first request down the write end, and
// reads the reply from the read end.
func sendDetached(cfgPath, socketFile string, req []byte, debug bool) ([]byte, error) {
	toDaemonR, toDaemonW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create request pipe: %w", err)
	}
	fromDaemonR, fromDaemonW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create reply pipe: %w", err)
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("find own executable: %w", err)
	}

	daemonArgs := []string{BootstrapArg}
	if cfgPath != "" {
		daemonArgs = append(daemonArgs, "--config", cfgPath)
	}
	if debug {
		daemonArgs = append(daemonArgs, "-d")
	}

	cmd := exec.Command(exe, daemonArgs...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.ExtraFiles = []*os.File{toDaemonR, fromDaemonW}
	cmd.Dir = "/"

	logDir := filepath.Dir(socketFile)
	logFile, err := os.OpenFile(filepath.Join(logDir, "suqd.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err == nil {
		cmd.Stdout = logFile
		cmd.Stderr = logFile
		defer logFile.Close()
	} else {
		cmd.Stdout = nil
		cmd.Stderr = nil
	}
	devnull, err := os.OpenFile(os.DevNull, os.O_RDONLY, 0)
	if err == nil {
		cmd.Stdin = devnull
		defer devnull.Close()
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn daemon: %w", err)
	}
	toDaemonR.Close()
	fromDaemonW.Close()
	go cmd.Wait() // reap the spawner's view of the child; the daemon itself detaches via Setsid

	if _, err := toDaemonW.Write(req); err != nil {
		return nil, fmt.Errorf("write first request: %w", err)
	}
	toDaemonW.Close()

	return io.ReadAll(fromDaemonR)
}

// printReply writes reply to stdout or stderr per its ERROR prefix and
// returns the matching exit status.
func printReply(reply []byte) int {
	text := strings.TrimSuffix(string(reply), "\x00")
	if protocol.IsError(reply) {
		fmt.Fprint(os.Stderr, text)
		return ExitError
	}
	fmt.Fprint(os.Stdout, text)
	return ExitSuccess
}

const helpText = `usage: suq [-d|--debug] [-c] [--config PATH] [-h] [-v] <command> [args...]

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
