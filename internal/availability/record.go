// Package availability holds the advisor availability model and the
// sequence-numbered event log that backs the realtime feed.
package availability

import "fmt"

// MaxSlots is the ceiling for a single advisor's capacity.
const MaxSlots = 8

// Record is one advisor's current capacity.
type Record struct {
	ID             string `json:"id" mapstructure:"id"`
	Name           string `json:"name" mapstructure:"name"`
	AvailableSlots int    `json:"availableSlots" mapstructure:"available_slots"`
}

// Validate checks the record against the capacity bounds.
func (r Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("record id is empty")
	}
	if r.AvailableSlots < 0 || r.AvailableSlots > MaxSlots {
		return fmt.Errorf("record %s: slots %d outside [0, %d]", r.ID, r.AvailableSlots, MaxSlots)
	}
	return nil
}

// Event is an immutable full record set tagged with its sequence number.
type Event struct {
	Seq     uint64   `json:"seq"`
	Records []Record `json:"advisors"`
}

// Clamp bounds n to [0, MaxSlots].
func Clamp(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxSlots {
		return MaxSlots
	}
	return n
}

// CloneRecords returns a copy of records so callers can't mutate shared state.
func CloneRecords(records []Record) []Record {
	if records == nil {
		return nil
	}
	out := make([]Record, len(records))
	copy(out, records)
	return out
}

// DefaultRecords is the seed roster used when none is configured.
func DefaultRecords() []Record {
	return []Record{
		{ID: "adv-001", Name: "Jordan Lee", AvailableSlots: 3},
		{ID: "adv-002", Name: "Alex Ramirez", AvailableSlots: 5},
		{ID: "adv-003", Name: "Samir Patel", AvailableSlots: 2},
	}
}
