package job

// List is the ordered sequence of jobs described in spec.md §3. It keeps
// itself sorted eagerly per Compare: any mutation of a job's sort key
// (state, priority, run order, ...) is followed by a call to Reposition.
//
// Unlike the original C source's intrusive doubly-linked list, List is
// backed by a plain slice. A *Job pointer is itself a stable handle here —
// Go's garbage collector, unlike C's realloc, never moves or invalidates
// a live pointer — which is the handle-based representation spec.md §9's
// Design Notes recommend in place of raw list-node pointers.
type List struct {
	jobs  []*Job
	runID uint64
}

// NewList creates an empty List.
func NewList() *List {
	return &List{}
}

// Len returns the number of jobs currently in the list.
func (l *List) Len() int {
	return len(l.jobs)
}

// All returns the jobs in front-to-back order. The returned slice is owned
// by List and must not be retained across a mutating call.
func (l *List) All() []*Job {
	return l.jobs
}

// FindByID returns the job with the given id, if present.
func (l *List) FindByID(id uint) (*Job, bool) {
	for _, j := range l.jobs {
		if j.ID == id {
			return j, true
		}
	}
	return nil, false
}

// Add inserts j into the list at its sorted position.
func (l *List) Add(j *Job) {
	idx := l.searchInsertPos(j)
	l.jobs = append(l.jobs, nil)
	copy(l.jobs[idx+1:], l.jobs[idx:])
	l.jobs[idx] = j
}

// Remove deletes j from the list. Remove is a no-op if j is not present.
func (l *List) Remove(j *Job) {
	for i, cur := range l.jobs {
		if cur == j {
			l.jobs = append(l.jobs[:i], l.jobs[i+1:]...)
			return
		}
	}
}

// Reposition removes and reinserts j, restoring sort order after an
// external mutation of one of j's sort-key fields (state, priority, ...).
func (l *List) Reposition(j *Job) {
	l.Remove(j)
	l.Add(j)
}

// NextRunOrder returns the next run_order value and advances the counter.
// run_order is strictly monotonic for the lifetime of the List (and thus
// of the daemon process, since a fresh List is created per daemon run).
func (l *List) NextRunOrder() uint64 {
	v := l.runID
	l.runID++
	return v
}

// searchInsertPos finds the index at which j should be inserted to keep
// l.jobs sorted front-to-back in non-increasing Compare order.
func (l *List) searchInsertPos(j *Job) int {
	i := 0
	for i < len(l.jobs) && greater(l.jobs[i], j) {
		i++
	}
	return i
}

// greater reports whether a sorts strictly ahead of b under the
// comparator of spec.md §4.E: lexicographic over
// (state, key(state), sub_time, id), descending on the state axis.
//
// The original C comparator has a branch that returns "greater" for both
// a.RunOrder > b.RunOrder and a.RunOrder < b.RunOrder when both jobs are
// running — almost certainly a bug, since the evident intent (older
// running jobs stay ahead of newer ones) only requires the first branch.
// Per spec.md §9's Design Note, that bug is not reproduced here: a running
// job with a strictly smaller RunOrder sorts ahead of one with a larger
// RunOrder.
func greater(a, b *Job) bool {
	if a.State != b.State {
		return a.State > b.State
	}

	if a.State == StateRunning {
		if a.RunOrder != b.RunOrder {
			return a.RunOrder < b.RunOrder
		}
	} else if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}

	if !a.SubmitTime.Equal(b.SubmitTime) {
		return a.SubmitTime.Before(b.SubmitTime)
	}
	return a.ID < b.ID
}
