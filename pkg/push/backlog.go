package push

// backlog is a bounded ring of events for one request. Cursors start at 1
// and increase by one per append; when the ring is full the oldest event is
// overwritten. Callers hold the owning entry's lock.
type backlog struct {
	events []*Event
	head   int    // index of the oldest retained event
	size   int    // number of retained events
	next   uint64 // cursor assigned to the next append
}

func newBacklog(capacity int) *backlog {
	if capacity < 1 {
		capacity = 1
	}
	return &backlog{events: make([]*Event, capacity), next: 1}
}

// append assigns the event its cursor and stores it, evicting the oldest
// event when full. Returns the assigned cursor.
func (b *backlog) append(e *Event) uint64 {
	e.Cursor = b.next
	b.next++

	if b.size < len(b.events) {
		b.events[(b.head+b.size)%len(b.events)] = e
		b.size++
	} else {
		b.events[b.head] = e
		b.head = (b.head + 1) % len(b.events)
	}
	return e.Cursor
}

// since returns retained events with cursor > after, oldest first.
func (b *backlog) since(after uint64) []*Event {
	out := make([]*Event, 0, b.size)
	for i := 0; i < b.size; i++ {
		e := b.events[(b.head+i)%len(b.events)]
		if e.Cursor > after {
			out = append(out, e)
		}
	}
	return out
}

// lastCursor is the cursor of the newest retained event, 0 when empty.
func (b *backlog) lastCursor() uint64 {
	return b.next - 1
}
