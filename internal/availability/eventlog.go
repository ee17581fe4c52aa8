package availability

import (
	"sync"
)

// DefaultCapacity is the number of events kept for resync.
const DefaultCapacity = 300

// EventLog is a fixed-capacity ring buffer of events. Sequence numbers start
// at 1 and are gap-free; the oldest event is evicted when the buffer is full.
// The log also owns the current record set so readers always see a state
// consistent with a sequence number.
type EventLog struct {
	mu      sync.RWMutex
	buf     []Event
	start   int // index of the oldest event
	count   int
	seq     uint64
	current []Record
}

// NewEventLog creates a log holding up to capacity events, seeded with the
// initial record set at sequence 0.
func NewEventLog(capacity int, initial []Record) *EventLog {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &EventLog{
		buf:     make([]Event, capacity),
		current: CloneRecords(initial),
	}
}

// Append assigns the next sequence number to records and stores the event.
func (l *EventLog) Append(records []Record) Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(records)
}

// Mutate applies fn to a copy of the current records and appends the result
// under the same lock, so concurrent writers never interleave read and append.
func (l *EventLog) Mutate(fn func(records []Record) []Record) Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(fn(CloneRecords(l.current)))
}

func (l *EventLog) appendLocked(records []Record) Event {
	l.seq++
	ev := Event{Seq: l.seq, Records: CloneRecords(records)}

	if l.count < len(l.buf) {
		l.buf[(l.start+l.count)%len(l.buf)] = ev
		l.count++
	} else {
		// Full: overwrite the oldest slot and advance.
		l.buf[l.start] = ev
		l.start = (l.start + 1) % len(l.buf)
	}
	l.current = CloneRecords(records)

	return cloneEvent(ev)
}

// FindAfter returns the oldest buffered event with a sequence number greater
// than seq. The second return is false when nothing buffered is newer.
func (l *EventLog) FindAfter(seq uint64) (Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.count == 0 || seq >= l.seq {
		return Event{}, false
	}

	oldest := l.buf[l.start].Seq
	offset := 0
	if seq+1 > oldest {
		// Sequence numbers are contiguous, so the position is arithmetic.
		offset = int(seq + 1 - oldest)
	}
	return cloneEvent(l.buf[(l.start+offset)%len(l.buf)]), true
}

// Current returns the latest record set and its sequence number.
func (l *EventLog) Current() Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Event{Seq: l.seq, Records: CloneRecords(l.current)}
}

// Seq returns the latest assigned sequence number.
func (l *EventLog) Seq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}

// Len returns the number of buffered events.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Capacity returns the ring size.
func (l *EventLog) Capacity() int {
	return len(l.buf)
}

func cloneEvent(ev Event) Event {
	return Event{Seq: ev.Seq, Records: CloneRecords(ev.Records)}
}
