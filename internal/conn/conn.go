// Package conn implements the connection abstraction of spec.md §4.C: a
// bidirectional byte channel with a growable read buffer, a request
// terminator scan, and close/keep-alive state.
//
// Grounded on github.com/tjper/teleport's internal/jobworker/job.Job pipe
// handling (os.Pipe-backed io.ReadWriteCloser pairs with explicit close
// bookkeeping across reexec's cmdIn/cmdOut/continueIn/continueOut), and on
// golang.org/x/sys/unix for the FD_CLOEXEC and non-blocking-read plumbing
// the original C source performs directly with fcntl.
package conn

import (
	"errors"
	"io"
	"os"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/sander/suq/internal/protocol"
)

// initialBufSize and growthChunk mirror spec.md §4.C's "growing by a
// chunk when full" buffer policy.
const (
	initialBufSize = 4096
	growthChunk    = 4096
)

// Conn is a single client connection: either a Unix-socket fd used for
// both directions, or (for the bootstrap connection described in spec.md
// §4.I) a pair of pipe fds, one per direction.
type Conn struct {
	ID int // handle used by List for O(1) remove

	// UUID is a connection-scoped identifier, logged together with ID
	// when the daemon accepts the connection.
	UUID uuid.UUID

	read  *os.File
	write *os.File

	buf []byte
	n   int // bytes currently valid in buf

	ReadOpen  bool
	WriteOpen bool
	KeepAlive bool
}

// New wraps fd for both read and write halves (the common case: an
// accepted Unix-socket connection).
func New(id int, fd *os.File) (*Conn, error) {
	return NewPipe(id, fd, fd)
}

// NewPipe wraps a separate read and write fd pair, used for the
// double-fork bootstrap connection of spec.md §4.I.
func NewPipe(id int, read, write *os.File) (*Conn, error) {
	for _, f := range []*os.File{read, write} {
		if err := unix.SetNonblock(int(f.Fd()), true); err != nil {
			return nil, err
		}
		flags, err := unix.FcntlInt(f.Fd(), unix.F_GETFD, 0)
		if err != nil {
			return nil, err
		}
		if _, err := unix.FcntlInt(f.Fd(), unix.F_SETFD, flags|unix.FD_CLOEXEC); err != nil {
			return nil, err
		}
	}
	return &Conn{
		ID:        id,
		UUID:      uuid.New(),
		read:      read,
		write:     write,
		buf:       make([]byte, initialBufSize),
		ReadOpen:  true,
		WriteOpen: true,
		KeepAlive: true,
	}, nil
}

// ReadFD returns the descriptor the event loop should poll for
// readability.
func (c *Conn) ReadFD() int {
	return int(c.read.Fd())
}

// Read drains all bytes currently available on the read side into c's
// buffer, growing it by growthChunk whenever it fills. It returns the
// offset of a complete request's end if one is now present (per
// protocol.Scan), and sets c.ReadOpen to false on EOF.
func (c *Conn) Read() (reqEnd int, ok bool) {
	for {
		if c.n == len(c.buf) {
			c.buf = append(c.buf, make([]byte, growthChunk)...)
		}
		got, err := c.read.Read(c.buf[c.n:])
		if got > 0 {
			c.n += got
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.ReadOpen = false
			} else if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EWOULDBLOCK) {
				c.ReadOpen = false
			}
			break
		}
		if got == 0 {
			break
		}
	}

	end, found := protocol.Scan(c.buf, c.n)
	if !found {
		return 0, false
	}
	return end, true
}

// Buf returns the connection's read buffer, valid for c.Len() bytes.
// Callers decoding a request must do so before the next call to Read or
// Consume, which may grow or shift the underlying array.
func (c *Conn) Buf() []byte {
	return c.buf
}

// Len reports how many bytes of c.Buf() are currently valid.
func (c *Conn) Len() int {
	return c.n
}

// Consume discards the first reqEnd bytes of c's buffer — the request
// just dispatched — shifting any residual (pipelined) bytes down to
// offset 0, per spec.md §4.C's "if keep_alive is still true after
// dispatch, shifts the residual bytes down."
func (c *Conn) Consume(reqEnd int) {
	remaining := c.n - reqEnd
	copy(c.buf, c.buf[reqEnd:c.n])
	c.n = remaining
}

// WriteReply writes text to the connection's write side. Errors are not
// surfaced to the caller: per spec.md §4.C a write failure simply leaves
// the connection to be swept on the next readiness check.
func (c *Conn) WriteReply(text string) {
	if !c.WriteOpen {
		return
	}
	if _, err := c.write.Write(protocol.EncodeReply(text)); err != nil {
		c.WriteOpen = false
	}
}

// CloseWrite half-closes the write side without destroying the
// connection.
func (c *Conn) CloseWrite() {
	if c.write != nil {
		c.write.Close()
	}
	c.WriteOpen = false
}

// Close idempotently closes both halves of c and frees its buffer. It
// satisfies the wait.Conn interface alongside WriteReply.
func (c *Conn) Close() {
	if c.read != nil {
		c.read.Close()
	}
	if c.write != nil && c.write != c.read {
		c.write.Close()
	}
	c.ReadOpen = false
	c.WriteOpen = false
	c.buf = nil
}

// ShouldSweep reports whether c should be destroyed per spec.md §4.C's
// sweep predicate: write side closed, or read side closed with
// keep_alive false.
func (c *Conn) ShouldSweep() bool {
	if !c.WriteOpen {
		return true
	}
	return !c.ReadOpen && !c.KeepAlive
}
