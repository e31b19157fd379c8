// Package protocol implements the suq wire framing defined in spec.md §4.D:
// a request is cwd\0argv...\0\0envp...\0\0, and a reply is a single
// zero-terminated text blob whose ERROR prefix selects the client's exit
// status and output stream.
package protocol

import (
	"bytes"
	"fmt"
)

// ErrPrefix marks a reply as an error: the client writes it to stderr and
// exits non-zero.
const ErrPrefix = "ERROR"

// Request is a decoded client request.
type Request struct {
	Cwd  string
	Argv []string
	Envp []string
}

// Encode serializes cwd, argv and envp into the wire request format.
func Encode(cwd string, argv, envp []string) []byte {
	var b bytes.Buffer
	b.WriteString(cwd)
	b.WriteByte(0)
	for _, a := range argv {
		b.WriteString(a)
		b.WriteByte(0)
	}
	b.WriteByte(0) // argv group terminator (empty string)
	for _, e := range envp {
		b.WriteString(e)
		b.WriteByte(0)
	}
	b.WriteByte(0) // envp group terminator (empty string)
	return b.Bytes()
}

// Scan reports whether buf[:n] contains a complete request, and if so the
// offset one past its end. A request is complete once the cwd string, the
// argv group and the envp group have each been fully read — i.e. each
// group's closing empty-string marker has arrived. In the common case
// where envp is non-empty, that boundary is the two NULs of the envp
// group's own terminator; spec.md §4.C describes the terminator as "three
// consecutive NULs", which is what's observed specifically when envp is
// empty (the argv and envp group terminators land back to back). Scanning
// grammar-aware rather than for a literal three-byte pattern keeps both
// cases — and pipelined follow-up requests arriving in the same read —
// framed correctly.
func Scan(buf []byte, n int) (int, bool) {
	b := buf[:n]

	_, pos, ok := readString(b, 0) // cwd
	if !ok {
		return 0, false
	}
	for { // argv group
		s, next, ok := readString(b, pos)
		if !ok {
			return 0, false
		}
		pos = next
		if s == "" {
			break
		}
	}
	for { // envp group
		s, next, ok := readString(b, pos)
		if !ok {
			return 0, false
		}
		pos = next
		if s == "" {
			break
		}
	}
	return pos, true
}

// Decode decodes a request out of buf[:end], where end is the offset
// returned by Scan. The returned Request's strings are copies, so the
// Request stays valid after buf is reused.
func Decode(buf []byte) (Request, error) {
	cwd, pos, ok := readString(buf, 0)
	if !ok {
		return Request{}, fmt.Errorf("malformed request: missing cwd")
	}

	var argv []string
	for {
		s, next, ok := readString(buf, pos)
		if !ok {
			return Request{}, fmt.Errorf("malformed request: unterminated argv group")
		}
		pos = next
		if s == "" {
			break
		}
		argv = append(argv, s)
	}

	var envp []string
	for {
		s, next, ok := readString(buf, pos)
		if !ok {
			return Request{}, fmt.Errorf("malformed request: unterminated envp group")
		}
		pos = next
		if s == "" {
			break
		}
		envp = append(envp, s)
	}

	return Request{Cwd: cwd, Argv: argv, Envp: envp}, nil
}

// readString reads a single NUL-terminated string from buf starting at
// pos, returning the string, the offset just past its terminating NUL,
// and whether a terminator was found at all.
func readString(buf []byte, pos int) (string, int, bool) {
	if pos > len(buf) {
		return "", pos, false
	}
	idx := bytes.IndexByte(buf[pos:], 0)
	if idx < 0 {
		return "", pos, false
	}
	return string(buf[pos : pos+idx]), pos + idx + 1, true
}

// EncodeReply appends the reply's terminating NUL.
func EncodeReply(text string) []byte {
	b := make([]byte, len(text)+1)
	copy(b, text)
	return b
}

// IsError reports whether a reply begins with the ERROR prefix.
func IsError(reply []byte) bool {
	return bytes.HasPrefix(reply, []byte(ErrPrefix))
}
