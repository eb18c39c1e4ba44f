package netevent

// slot indexes an entry in the arena.
type slot int32

const nilSlot slot = -1

type entry struct {
	ev    Event
	class uint32
	seq   uint32
	sent  bool
	next  slot
}

// arena owns every event a connection has not yet finished with. Queues and
// notify records refer to entries by slot only.
type arena struct {
	entries []entry
	free    []slot
	live    int
}

func (a *arena) alloc(ev Event, class uint32) slot {
	var s slot
	if n := len(a.free); n > 0 {
		s = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.entries = append(a.entries, entry{})
		s = slot(len(a.entries) - 1)
	}
	a.entries[s] = entry{ev: ev, class: class, next: nilSlot}
	a.live++
	return s
}

func (a *arena) at(s slot) *entry { return &a.entries[s] }

func (a *arena) release(s slot) {
	a.entries[s] = entry{next: nilSlot}
	a.free = append(a.free, s)
	a.live--
}

func (a *arena) reset() {
	a.entries = nil
	a.free = nil
	a.live = 0
}

// queue is a singly-linked list threaded through arena entries.
type queue struct {
	head, tail slot
	n          int
}

func newQueue() queue { return queue{head: nilSlot, tail: nilSlot} }

func (q *queue) empty() bool { return q.head == nilSlot }

func (q *queue) pushBack(a *arena, s slot) {
	a.at(s).next = nilSlot
	if q.tail == nilSlot {
		q.head = s
	} else {
		a.at(q.tail).next = s
	}
	q.tail = s
	q.n++
}

func (q *queue) pushFront(a *arena, s slot) {
	a.at(s).next = q.head
	q.head = s
	if q.tail == nilSlot {
		q.tail = s
	}
	q.n++
}

func (q *queue) popFront(a *arena) slot {
	s := q.head
	if s == nilSlot {
		return nilSlot
	}
	e := a.at(s)
	q.head = e.next
	e.next = nilSlot
	if q.head == nilSlot {
		q.tail = nilSlot
	}
	q.n--
	return s
}

// insertBefore places s ahead of the first entry for which before returns
// true, or at the back when there is none.
func (q *queue) insertBefore(a *arena, s slot, before func(other *entry) bool) {
	prev := nilSlot
	for cur := q.head; cur != nilSlot; cur = a.at(cur).next {
		if before(a.at(cur)) {
			a.at(s).next = cur
			if prev == nilSlot {
				q.head = s
			} else {
				a.at(prev).next = s
			}
			q.n++
			return
		}
		prev = cur
	}
	q.pushBack(a, s)
}
