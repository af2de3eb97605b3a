package backup

import (
	"time"
)

// UnitRecord describes how one unit was captured.
type UnitRecord struct {
	Kind      Kind
	Source    string
	Output    string
	Skipped   bool
	StartedAt time.Time
	Duration  time.Duration
	SizeBytes int64
}

// Metadata summarises one collection pass.
type Metadata struct {
	RunAt time.Time
	Units []UnitRecord
}

// Captured counts the units that produced output.
func (m *Metadata) Captured() int {
	n := 0
	for _, u := range m.Units {
		if !u.Skipped {
			n++
		}
	}
	return n
}

// Skipped counts the units whose source was absent.
func (m *Metadata) Skipped() int {
	return len(m.Units) - m.Captured()
}

// TotalBytes sums the size of everything captured.
func (m *Metadata) TotalBytes() int64 {
	var total int64
	for _, u := range m.Units {
		total += u.SizeBytes
	}
	return total
}
