package job

import (
	"testing"
	"time"
)

func newWaiting(id uint, priority int, submit time.Time) *Job {
	return &Job{
		ID:         id,
		Priority:   priority,
		State:      StateWaiting,
		SubmitTime: submit,
	}
}

func TestListOrdersByPriorityThenSubmitTime(t *testing.T) {
	l := NewList()
	t0 := time.Unix(1000, 0)

	low := newWaiting(1, 1, t0)
	high := newWaiting(2, 10, t0.Add(time.Second))
	mid := newWaiting(3, 5, t0)

	l.Add(low)
	l.Add(high)
	l.Add(mid)

	got := idsOf(l.All())
	want := []uint{2, 3, 1}
	assertIDs(t, got, want)
}

func TestListOlderSubmitWinsTiebreak(t *testing.T) {
	l := NewList()
	t0 := time.Unix(2000, 0)

	older := newWaiting(1, 5, t0)
	newer := newWaiting(2, 5, t0.Add(time.Minute))

	l.Add(newer)
	l.Add(older)

	assertIDs(t, idsOf(l.All()), []uint{1, 2})
}

func TestListRunningSortsByRunOrderAscending(t *testing.T) {
	l := NewList()
	a := &Job{ID: 1, State: StateRunning, RunOrder: 5}
	b := &Job{ID: 2, State: StateRunning, RunOrder: 2}
	c := &Job{ID: 3, State: StateRunning, RunOrder: 9}

	l.Add(a)
	l.Add(b)
	l.Add(c)

	assertIDs(t, idsOf(l.All()), []uint{2, 1, 3})
}

func TestListRunningSortsAheadOfWaiting(t *testing.T) {
	l := NewList()
	waiting := newWaiting(1, 100, time.Unix(1, 0))
	running := &Job{ID: 2, State: StateRunning, RunOrder: 1}

	l.Add(waiting)
	l.Add(running)

	assertIDs(t, idsOf(l.All()), []uint{2, 1})
}

func TestReposition(t *testing.T) {
	l := NewList()
	j := newWaiting(1, 1, time.Unix(1, 0))
	other := newWaiting(2, 5, time.Unix(1, 0))
	l.Add(j)
	l.Add(other)

	assertIDs(t, idsOf(l.All()), []uint{2, 1})

	j.Priority = 10
	l.Reposition(j)

	assertIDs(t, idsOf(l.All()), []uint{1, 2})
}

func TestNextRunOrderMonotonic(t *testing.T) {
	l := NewList()
	first := l.NextRunOrder()
	second := l.NextRunOrder()
	if second != first+1 {
		t.Fatalf("NextRunOrder not monotonic: %d then %d", first, second)
	}
}

func TestFindByID(t *testing.T) {
	l := NewList()
	j := newWaiting(42, 1, time.Unix(1, 0))
	l.Add(j)

	got, ok := l.FindByID(42)
	if !ok || got != j {
		t.Fatalf("FindByID(42) = %v, %v; want %v, true", got, ok, j)
	}

	if _, ok := l.FindByID(99); ok {
		t.Fatalf("FindByID(99) unexpectedly found a job")
	}
}

func idsOf(jobs []*Job) []uint {
	ids := make([]uint, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	return ids
}

func assertIDs(t *testing.T, got, want []uint) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
