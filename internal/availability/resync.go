package availability

// ResyncOutcome tells whether a resync answer came from the buffered history
// or fell back to the current state.
type ResyncOutcome string

const (
	ResyncFromLog ResyncOutcome = "event"
	ResyncCurrent ResyncOutcome = "current"
)

// Resync returns the oldest buffered event newer than after. When nothing
// buffered is newer it returns the current state at the current sequence.
func (l *EventLog) Resync(after uint64) (Event, ResyncOutcome) {
	if ev, ok := l.FindAfter(after); ok {
		return ev, ResyncFromLog
	}
	return l.Current(), ResyncCurrent
}
