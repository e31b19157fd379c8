package dispatch

import (
	"strings"
	"testing"

	"github.com/sander/suq/internal/config"
	"github.com/sander/suq/internal/job"
	"github.com/sander/suq/internal/protocol"
	"github.com/sander/suq/internal/wait"
)

type fakeStarter struct {
	startErr  error
	canceled  []uint
	startedID []uint
}

func (f *fakeStarter) Start(j *job.Job, runOrder uint64) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.startedID = append(f.startedID, j.ID)
	j.State = job.StateStarted
	j.RunOrder = runOrder
	return nil
}

func (f *fakeStarter) Cancel(j *job.Job) error {
	f.canceled = append(f.canceled, j.ID)
	return nil
}

type fakeConn struct {
	replies []string
	closed  bool
}

func (c *fakeConn) WriteReply(text string) { c.replies = append(c.replies, text) }
func (c *fakeConn) Close()                 { c.closed = true }

func newDispatcher(t *testing.T) (*Dispatcher, *fakeStarter) {
	t.Helper()
	store := &config.Store{NTask: 4}
	starter := &fakeStarter{}
	return &Dispatcher{
		Jobs:    job.NewList(),
		Config:  store,
		Waits:   wait.NewList(),
		Starter: starter,
	}, starter
}

func TestSubmitStartsJobWithinBudget(t *testing.T) {
	d, starter := newDispatcher(t)
	req := protocol.Request{Cwd: "/tmp", Argv: []string{"sub", "/bin/true"}}

	res := d.Dispatch(req, nil)
	if !strings.HasPrefix(res.Reply, "Submitted job id 1") || !strings.Contains(res.Reply, "Job is running.") {
		t.Fatalf("unexpected reply: %q", res.Reply)
	}
	if len(starter.startedID) != 1 {
		t.Fatalf("expected job to be started immediately, got %v", starter.startedID)
	}
}

func TestSubmitMissingCommandIsError(t *testing.T) {
	d, _ := newDispatcher(t)
	req := protocol.Request{Cwd: "/tmp", Argv: []string{"sub", "-n", "2"}}

	res := d.Dispatch(req, nil)
	if !protocol.IsError([]byte(res.Reply)) {
		t.Fatalf("expected error reply, got %q", res.Reply)
	}
}

func TestSubmitNBelowOneIsError(t *testing.T) {
	d, _ := newDispatcher(t)
	req := protocol.Request{Cwd: "/tmp", Argv: []string{"sub", "-n", "0", "/bin/true"}}

	res := d.Dispatch(req, nil)
	if !protocol.IsError([]byte(res.Reply)) {
		t.Fatalf("expected error reply, got %q", res.Reply)
	}
}

func TestSubmitBlockingIgnoresNBelowOne(t *testing.T) {
	d, _ := newDispatcher(t)
	req := protocol.Request{Cwd: "/tmp", Argv: []string{"sub", "-b", "-n", "0", "/bin/true"}}

	res := d.Dispatch(req, nil)
	if protocol.IsError([]byte(res.Reply)) {
		t.Fatalf("unexpected error reply: %q", res.Reply)
	}
}

func TestNtaskResourceError(t *testing.T) {
	d, _ := newDispatcher(t)
	d.Dispatch(protocol.Request{Argv: []string{"ntask", "2"}}, nil)

	res := d.Dispatch(protocol.Request{Cwd: "/", Argv: []string{"sub", "-n", "4", "/bin/true"}}, nil)
	if !strings.Contains(res.Reply, "Job ERROR: 'Requested ntask bigger than the total number available'.") {
		t.Fatalf("expected immediate resource-error reply, got %q", res.Reply)
	}
}

func TestDelUnknownJobIsError(t *testing.T) {
	d, _ := newDispatcher(t)
	res := d.Dispatch(protocol.Request{Argv: []string{"del", "99"}}, nil)
	if !protocol.IsError([]byte(res.Reply)) {
		t.Fatalf("expected error reply, got %q", res.Reply)
	}
}

func TestDelRunningJobCancels(t *testing.T) {
	d, starter := newDispatcher(t)
	j := &job.Job{ID: 1, State: job.StateRunning}
	d.Jobs.Add(j)

	res := d.Dispatch(protocol.Request{Argv: []string{"del", "1"}}, nil)
	if !strings.Contains(res.Reply, "Killed job id 1") {
		t.Fatalf("unexpected reply: %q", res.Reply)
	}
	if len(starter.canceled) != 1 || starter.canceled[0] != 1 {
		t.Fatalf("expected Cancel to be called for job 1, got %v", starter.canceled)
	}
}

func TestPriReprioritizesAndRepositions(t *testing.T) {
	d, _ := newDispatcher(t)
	j := &job.Job{ID: 1, Priority: 0, State: job.StateWaiting}
	d.Jobs.Add(j)

	res := d.Dispatch(protocol.Request{Argv: []string{"pri", "1", "7"}}, nil)
	if !strings.Contains(res.Reply, "priority now 7") {
		t.Fatalf("unexpected reply: %q", res.Reply)
	}
	if j.Priority != 7 {
		t.Fatalf("expected priority 7, got %d", j.Priority)
	}
}

// TestListOrdersByPriorityNotID exercises spec.md §8 scenario S2: after
// the highest-id waiter is reprioritized above two equal-priority,
// lower-id waiters, "ls" must print it first, in job-list order, not in
// ascending-id order.
func TestListOrdersByPriorityNotID(t *testing.T) {
	d, _ := newDispatcher(t)
	d.Config.NTask = 0 // keep every job in StateWaiting so none starts

	d.Jobs.Add(&job.Job{ID: 1, Priority: 0, NTask: 1, State: job.StateWaiting, Name: "one"})
	d.Jobs.Add(&job.Job{ID: 2, Priority: 0, NTask: 1, State: job.StateWaiting, Name: "two"})
	j3 := &job.Job{ID: 3, Priority: 0, NTask: 1, State: job.StateWaiting, Name: "three"}
	d.Jobs.Add(j3)

	d.Dispatch(protocol.Request{Argv: []string{"pri", "3", "10"}}, nil)

	res := d.Dispatch(protocol.Request{Argv: []string{"ls"}}, nil)
	idx3 := strings.Index(res.Reply, "'three'")
	idx1 := strings.Index(res.Reply, "'one'")
	idx2 := strings.Index(res.Reply, "'two'")
	if idx3 < 0 || idx1 < 0 || idx2 < 0 {
		t.Fatalf("expected all three jobs listed, got %q", res.Reply)
	}
	if !(idx3 < idx1 && idx3 < idx2) {
		t.Fatalf("expected reprioritized job 3 to print first, got %q", res.Reply)
	}
}

func TestListEmptyQueue(t *testing.T) {
	d, _ := newDispatcher(t)
	res := d.Dispatch(protocol.Request{Argv: []string{"ls"}}, nil)
	if !strings.Contains(res.Reply, "No jobs.") {
		t.Fatalf("expected empty-list message, got %q", res.Reply)
	}
}

func TestWaitAllCompletesImmediatelyWhenEmpty(t *testing.T) {
	d, _ := newDispatcher(t)
	res := d.Dispatch(protocol.Request{Argv: []string{"wait", "all"}}, nil)
	if res.KeepAlive {
		t.Fatalf("expected wait on empty queue to complete immediately")
	}
	if res.Reply != "Finished all jobs.\n" {
		t.Fatalf("unexpected reply: %q", res.Reply)
	}
}

func TestWaitAllRegistersWhenJobsRemain(t *testing.T) {
	d, _ := newDispatcher(t)
	d.Jobs.Add(&job.Job{ID: 1, State: job.StateRunning})

	conn := &fakeConn{}
	res := d.Dispatch(protocol.Request{Argv: []string{"wait", "all"}}, conn)
	if !res.KeepAlive {
		t.Fatalf("expected wait to register and keep the connection alive")
	}
}

func TestUnknownVerb(t *testing.T) {
	d, _ := newDispatcher(t)
	res := d.Dispatch(protocol.Request{Argv: []string{"bogus"}}, nil)
	if !protocol.IsError([]byte(res.Reply)) {
		t.Fatalf("expected error reply for unknown verb, got %q", res.Reply)
	}
}

func TestEcho(t *testing.T) {
	d, _ := newDispatcher(t)
	res := d.Dispatch(protocol.Request{Argv: []string{"echo", "a", "b"}}, nil)
	if res.Reply != "a b\n" {
		t.Fatalf("unexpected reply: %q", res.Reply)
	}
}
