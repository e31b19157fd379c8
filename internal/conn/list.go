package conn

// List holds the set of live connections. spec.md §4.C calls for a
// circular doubly-linked list with O(1) remove-by-handle; a map keyed by
// Conn.ID gives the same complexity without the original's intrusive
// pointer bookkeeping, per spec.md §9's handle-based-arena design note.
type List struct {
	conns  map[int]*Conn
	nextID int
}

// NewList creates an empty connection List.
func NewList() *List {
	return &List{conns: make(map[int]*Conn)}
}

// NextID allocates a fresh connection handle.
func (l *List) NextID() int {
	id := l.nextID
	l.nextID++
	return id
}

// Add registers c in the list.
func (l *List) Add(c *Conn) {
	l.conns[c.ID] = c
}

// Remove destroys and removes the connection with the given id, if
// present.
func (l *List) Remove(id int) {
	if c, ok := l.conns[id]; ok {
		c.Close()
		delete(l.conns, id)
	}
}

// RemoveConn destroys and removes c.
func (l *List) RemoveConn(c *Conn) {
	l.Remove(c.ID)
}

// Delete removes c from the list without closing it, for callers that
// have already closed (or are about to close) c themselves — e.g.
// wait.List.Sweep, which writes a reply and closes the connection only
// after its caller has removed it from the daemon's connection list.
func (l *List) Delete(c *Conn) {
	delete(l.conns, c.ID)
}

// All returns every live connection, in no particular order.
func (l *List) All() []*Conn {
	out := make([]*Conn, 0, len(l.conns))
	for _, c := range l.conns {
		out = append(out, c)
	}
	return out
}

// Len reports how many connections are currently live.
func (l *List) Len() int {
	return len(l.conns)
}

// Sweep destroys and removes every connection for which ShouldSweep
// reports true, per spec.md §4.C.
func (l *List) Sweep() {
	for id, c := range l.conns {
		if c.ShouldSweep() {
			c.Close()
			delete(l.conns, id)
		}
	}
}
