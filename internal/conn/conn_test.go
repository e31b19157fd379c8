package conn

import (
	"os"
	"testing"

	"github.com/sander/suq/internal/protocol"
)

func TestReadAssemblesCompleteRequest(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer w.Close()

	c, err := New(1, r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	req := protocol.Encode("/tmp", []string{"echo", "hi"}, []string{"PATH=/bin"})
	if _, err := w.Write(req); err != nil {
		t.Fatalf("write: %v", err)
	}

	end, ok := waitForRequest(t, c)
	if !ok {
		t.Fatalf("expected a complete request to be scanned")
	}

	decoded, err := protocol.Decode(c.buf[:end])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Cwd != "/tmp" || len(decoded.Argv) != 2 {
		t.Fatalf("unexpected decode result: %+v", decoded)
	}
}

func TestConsumeShiftsResidualBytes(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer w.Close()

	c, err := New(1, r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	first := protocol.Encode("/a", []string{"x"}, nil)
	second := protocol.Encode("/b", []string{"y"}, nil)
	if _, err := w.Write(append(first, second...)); err != nil {
		t.Fatalf("write: %v", err)
	}

	end, ok := waitForRequest(t, c)
	if !ok {
		t.Fatalf("expected first request to be scanned")
	}
	c.Consume(end)

	end2, ok2 := protocol.Scan(c.buf, c.n)
	if !ok2 {
		t.Fatalf("expected second pipelined request to already be present after consume")
	}
	decoded, err := protocol.Decode(c.buf[:end2])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Cwd != "/b" {
		t.Fatalf("expected second request's cwd /b, got %q", decoded.Cwd)
	}
}

func TestShouldSweepOnWriteClosed(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer w.Close()
	c, err := New(1, r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.WriteOpen = false
	if !c.ShouldSweep() {
		t.Fatalf("expected ShouldSweep true once write side closed")
	}
}

func TestShouldSweepKeepAlivePreventsSweep(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer w.Close()
	c, err := New(1, r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.ReadOpen = false
	c.KeepAlive = true
	if c.ShouldSweep() {
		t.Fatalf("expected ShouldSweep false while keep_alive holds")
	}
}

// waitForRequest retries Read a bounded number of times: the connection's
// read fd is non-blocking, so the pipe write above may not have landed
// before the first attempt.
func waitForRequest(t *testing.T, c *Conn) (int, bool) {
	t.Helper()
	for i := 0; i < 100; i++ {
		if end, ok := c.Read(); ok {
			return end, true
		}
	}
	return 0, false
}
