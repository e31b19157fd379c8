// Package wait implements the suq "wait" subsystem of spec.md §4.F: client
// connections parked until a predicate over the job list becomes true.
//
// Grounded on github.com/tjper/teleport's internal/jobworker/job.Job
// listener map (a map of id -> channel notified on an event), generalized
// from "notify on output-file activity" to "notify on a predicate over the
// whole job set becoming true," and from a channel-based rendezvous to an
// explicit sweep driven by the daemon event loop's poll cycle (spec.md
// §4.H step 8), since there is exactly one event loop goroutine and no
// concurrent notification to synchronize.
package wait

import (
	"strconv"

	"github.com/sander/suq/internal/job"
)

// Kind identifies which predicate a Wait evaluates.
type Kind int

const (
	// ByID completes once the referenced job id is no longer present in
	// the job list (i.e. it reached a terminal state and was removed).
	ByID Kind = iota
	// SubmittedBefore completes once every job with SubmitTime strictly
	// before the recorded cutoff is no longer present.
	SubmittedBefore
	// All completes once the job list is empty.
	All
)

// Conn is the minimal connection surface the wait subsystem needs: a way
// to deliver the terminal reply line and close/keep-alive it. It is
// satisfied by *internal/conn.Conn; kept as an interface here so this
// package doesn't import conn (conn does not need to know about wait).
type Conn interface {
	WriteReply(text string)
	Close()
}

// Wait is a single registered wait: a predicate plus the connection that
// will receive its terminal reply.
type Wait struct {
	kind   Kind
	id     uint
	cutoff int64 // UnixNano, only meaningful for SubmittedBefore
	conn   Conn
}

// List is the set of currently-registered waits, swept once per event
// loop iteration after the scheduler pass, per spec.md §4.F.
type List struct {
	waits []*Wait
}

// NewList creates an empty wait List.
func NewList() *List {
	return &List{}
}

// ByID registers a wait that completes when job id is no longer present
// in l.
func (l *List) ByID(conn Conn, id uint) {
	l.waits = append(l.waits, &Wait{kind: ByID, id: id, conn: conn})
}

// SubmittedBefore registers a wait that completes when every job
// submitted strictly before cutoffUnixNano has left the job list.
func (l *List) SubmittedBefore(conn Conn, cutoffUnixNano int64) {
	l.waits = append(l.waits, &Wait{kind: SubmittedBefore, cutoff: cutoffUnixNano, conn: conn})
}

// All registers a wait that completes when the job list is empty.
func (l *List) All(conn Conn) {
	l.waits = append(l.waits, &Wait{kind: All, conn: conn})
}

// RemoveConn drops any wait referencing conn; called when a connection
// closes out from under a still-pending wait (spec.md §4.F, last
// sentence).
func (l *List) RemoveConn(conn Conn) {
	kept := l.waits[:0]
	for _, w := range l.waits {
		if w.conn != conn {
			kept = append(kept, w)
		}
	}
	l.waits = kept
}

// Sweep evaluates every registered wait against jobs. A wait whose
// predicate now holds has its terminal reply written to its connection,
// the connection is removed via remove and closed, and the wait is
// discarded, per spec.md §4.F: "write the reply, remove the connection
// from the connection list, and destroy the wait." remove is called
// synchronously, before Close, so the connection is gone from the
// daemon's connection list in the same event-loop iteration its wait
// completes in — otherwise a closed connection (fd -1) can survive in
// that list, silently ignored by poll(), and keep the daemon from ever
// noticing the list is empty. Sweep should be called once per event-loop
// iteration, after the scheduler pass.
func (l *List) Sweep(jobs *job.List, remove func(Conn)) {
	kept := l.waits[:0]
	for _, w := range l.waits {
		if !w.satisfied(jobs) {
			kept = append(kept, w)
			continue
		}
		w.conn.WriteReply(w.message())
		remove(w.conn)
		w.conn.Close()
	}
	l.waits = kept
}

func (w *Wait) satisfied(jobs *job.List) bool {
	switch w.kind {
	case ByID:
		_, found := jobs.FindByID(w.id)
		return !found
	case SubmittedBefore:
		for _, j := range jobs.All() {
			if j.SubmitTime.UnixNano() < w.cutoff {
				return false
			}
		}
		return true
	case All:
		return jobs.Len() == 0
	default:
		return false
	}
}

func (w *Wait) message() string {
	switch w.kind {
	case ByID:
		return "Finished job id " + strconv.FormatUint(uint64(w.id), 10) + ".\n"
	case SubmittedBefore:
		return "Finished all pending jobs.\n"
	case All:
		return "Finished all jobs.\n"
	default:
		return "\n"
	}
}
