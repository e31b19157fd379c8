// Package daemon implements the event loop of spec.md §4.H: it binds the
// listening socket, runs the poll-based readiness loop, drains the
// self-pipe, reaps children, accepts connections, dispatches requests and
// sweeps completed waits and dead connections.
//
// Grounded on github.com/tjper/teleport/internal/jobworker/cli.runServe
// for the top-level "construct services, build the listener, run until
// terminated" shape, adapted from a blocking grpc.Server.Serve call to an
// explicit golang.org/x/sys/unix.Poll readiness loop — the teacher's own
// golang.org/x/sys dependency, reused here for the low-level socket and
// signal plumbing a gRPC server normally hides.
package daemon

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/sander/suq/internal/config"
	"github.com/sander/suq/internal/conn"
	"github.com/sander/suq/internal/dispatch"
	"github.com/sander/suq/internal/job"
	"github.com/sander/suq/internal/log"
	"github.com/sander/suq/internal/protocol"
	"github.com/sander/suq/internal/selfpipe"
	"github.com/sander/suq/internal/wait"
)

var logger = log.New(os.Stdout, "daemon")

// selfPipeDrainSize is the "N small" of spec.md §4.H step 5: the self-pipe
// only ever carries opaque wake-up bytes, never a payload.
const selfPipeDrainSize = 64

// Daemon owns every piece of state the event loop touches: the listening
// socket, the connection and job lists, the wait registry, the
// configuration store, and the self-pipe. It has exactly one instance per
// process and is never accessed from more than one goroutine, per
// spec.md §5's single-threaded cooperative model.
type Daemon struct {
	Config *config.Store

	listenFD int
	pipe     *selfpipe.Pipe
	conns    *conn.List
	jobs     *job.List
	waits    *wait.List
	disp     *dispatch.Dispatcher

	// keepAlive is true when the daemon was started in the foreground
	// (non-detached) mode of spec.md §4.H step 9, in which case the loop
	// never terminates merely because both lists emptied out.
	keepAlive bool
}

// New constructs a Daemon bound to cfg's socket file. keepAlive selects
// the foreground mode in which the loop does not exit once both lists are
// empty. New only listens on the socket; AddBootstrapConn seeds the event
// loop with a bootstrap pipe-pair connection.
func New(cfg *config.Store, keepAlive bool) (*Daemon, error) {
	pipe, err := selfpipe.New()
	if err != nil {
		return nil, fmt.Errorf("create self-pipe: %w", err)
	}

	fd, err := listen(cfg.SocketFile)
	if err != nil {
		pipe.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.SocketFile, err)
	}

	jobs := job.NewList()
	waits := wait.NewList()
	d := &Daemon{
		Config:    cfg,
		listenFD:  fd,
		pipe:      pipe,
		conns:     conn.NewList(),
		jobs:      jobs,
		waits:     waits,
		keepAlive: keepAlive,
		disp: &dispatch.Dispatcher{
			Jobs:    jobs,
			Config:  cfg,
			Waits:   waits,
			Starter: job.Runner{},
		},
	}
	return d, nil
}

// listen creates and binds a Unix domain stream socket at path, removing
// any stale socket file left behind by a prior, now-dead daemon.
func listen(path string) (int, error) {
	os.Remove(path)

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := os.Chmod(path, 0600); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, 16); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// BootstrapFDs are the fixed descriptor numbers a client's re-executed
// daemon process inherits its first connection's read and write ends on,
// via os/exec's ExtraFiles convention (fd 0-2 are stdio, so ExtraFiles
// start at fd 3), mirroring the teacher's reexec package's hard-coded fd
// 3/4 command and continue pipes.
const (
	BootstrapReadFD  = 3
	BootstrapWriteFD = 4
)

// RunBootstrapped constructs a Daemon from cfg, wires fd 3/4 as its first
// connection (the client's detached-bootstrap pipe pair, spec.md §4.I),
// and runs the event loop to completion. It does not keep the daemon
// alive once the job and connection lists are both empty, since a
// bootstrapped daemon was never given an explicit "stay in foreground"
// request.
func RunBootstrapped(cfg *config.Store) error {
	d, err := New(cfg, false)
	if err != nil {
		return errors.WithStack(err)
	}

	read := os.NewFile(uintptr(BootstrapReadFD), "bootstrap-read")
	write := os.NewFile(uintptr(BootstrapWriteFD), "bootstrap-write")
	if read == nil || write == nil {
		return errors.New("bootstrap file descriptors not inherited")
	}
	if err := d.AddBootstrapConn(read, write); err != nil {
		return errors.WithStack(err)
	}

	return d.Run()
}

// AddBootstrapConn registers the pipe-pair connection handed off by the
// client's double-fork bootstrap (spec.md §4.I) as the daemon's first
// connection, so the very first request (typically the job that
// triggered the bootstrap) is served without waiting for an accept.
func (d *Daemon) AddBootstrapConn(read, write *os.File) error {
	c, err := conn.NewPipe(d.conns.NextID(), read, write)
	if err != nil {
		return err
	}
	d.conns.Add(c)
	return nil
}

// Run executes the event loop until termination, per spec.md §4.H.
func (d *Daemon) Run() error {
	defer unix.Close(d.listenFD)
	defer d.pipe.Close()

	for {
		d.conns.Sweep()

		job.Pass(d.jobs, d.Config.NTask, d.disp.Starter)
		d.waits.Sweep(d.jobs, d.removeWaitConn)

		if d.shouldTerminate() {
			return nil
		}

		if err := d.pollOnce(); err != nil {
			return err
		}
	}
}

// removeWaitConn is the wait.List.Sweep removal callback: it drops a
// completed wait's connection from d.conns synchronously, in the same
// event-loop iteration the wait completes in, per spec.md §4.F. Without
// this, a closed connection (fd -1 after Go's Close) survives in
// d.conns until the next conns.Sweep, and unix.Poll silently ignores
// negative fds — so shouldTerminate, called right after this in Run,
// could see a stale non-empty conns list and block in Poll forever.
func (d *Daemon) removeWaitConn(c wait.Conn) {
	if cc, ok := c.(*conn.Conn); ok {
		d.conns.Delete(cc)
	}
}

func (d *Daemon) shouldTerminate() bool {
	if d.keepAlive {
		return false
	}
	return d.conns.Len() == 0 && d.jobs.Len() == 0
}

// pollOnce blocks for one readiness primitive call and handles whatever
// became ready: self-pipe drain + reap, new connections, and readable
// connections, per spec.md §4.H steps 1–7.
func (d *Daemon) pollOnce() error {
	conns := d.conns.All()

	fds := make([]unix.PollFd, 0, len(conns)+2)
	fds = append(fds, unix.PollFd{Fd: int32(d.listenFD), Events: unix.POLLIN})
	fds = append(fds, unix.PollFd{Fd: int32(d.pipe.ReadFD()), Events: unix.POLLIN})
	for _, c := range conns {
		fds = append(fds, unix.PollFd{Fd: int32(c.ReadFD()), Events: unix.POLLIN})
	}

	if _, err := unix.Poll(fds, -1); err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("poll: %w", err)
	}

	if fds[1].Revents&unix.POLLIN != 0 {
		d.pipe.Drain(selfPipeDrainSize)
		d.reapChildren()
	}

	if fds[0].Revents&unix.POLLIN != 0 {
		d.acceptOnce()
	}

	for i, c := range conns {
		if fds[i+2].Revents&unix.POLLIN == 0 {
			continue
		}
		d.serviceConn(c)
	}

	return nil
}

// reapChildren iterates waitpid(-1, WNOHANG) until no more children are
// immediately reapable, matching each pid to its job and finishing it,
// per spec.md §4.H step 5.
func (d *Daemon) reapChildren() {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
		for _, j := range d.jobs.All() {
			if j.Pid == pid {
				job.Finish(j, ws)
				break
			}
		}
	}
}

// acceptOnce accepts a single pending connection on the listening socket
// and wraps it, per spec.md §4.H step 6.
func (d *Daemon) acceptOnce() {
	nfd, _, err := unix.Accept(d.listenFD)
	if err != nil {
		if err != unix.EAGAIN {
			logger.Errorf("accept: %v", err)
		}
		return
	}
	f := os.NewFile(uintptr(nfd), "conn")
	c, err := conn.New(d.conns.NextID(), f)
	if err != nil {
		logger.Errorf("wrap accepted connection: %v", err)
		f.Close()
		return
	}
	logger.Debugf(2, "accepted connection %s (handle %d)", c.UUID, c.ID)
	d.conns.Add(c)
}

// serviceConn reads whatever is available on c, dispatches every complete
// request found, and applies the EOF/keep-alive bookkeeping of spec.md
// §4.H step 7.
func (d *Daemon) serviceConn(c *conn.Conn) {
	for {
		end, ok := c.Read()
		if !ok {
			break
		}
		req, err := protocol.Decode(c.Buf()[:end])
		c.Consume(end)
		if err != nil {
			c.WriteReply(protocol.ErrPrefix + ": malformed request\n")
			continue
		}

		res := d.disp.Dispatch(req, c)
		c.WriteReply(res.Reply)
		c.KeepAlive = res.KeepAlive
		if !res.KeepAlive {
			c.CloseWrite()
		}
	}

	if !c.ReadOpen {
		if c.KeepAlive {
			d.waits.RemoveConn(c)
		}
		if !c.KeepAlive {
			d.conns.RemoveConn(c)
		}
	}
}
