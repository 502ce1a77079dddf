package poll

import "strings"

// MessageLog is a bounded log of progress messages. The oldest entry is
// evicted once capacity is reached, and a message equal to the most recent
// entry is dropped. A message may reappear later once something else has been
// logged in between.
//
// MessageLog is not safe for concurrent use.
type MessageLog struct {
	capacity int
	entries  []string
	total    uint64
}

// DefaultLogCapacity is the number of entries kept when no capacity is given.
const DefaultLogCapacity = 10

// NewMessageLog creates an empty log holding at most capacity entries.
func NewMessageLog(capacity int) *MessageLog {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &MessageLog{capacity: capacity, entries: make([]string, 0, capacity)}
}

// Append records msg and reports whether it was stored.
func (l *MessageLog) Append(msg string) bool {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return false
	}
	if n := len(l.entries); n > 0 && l.entries[n-1] == msg {
		return false
	}
	if len(l.entries) == l.capacity {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:l.capacity-1]
	}
	l.entries = append(l.entries, msg)
	l.total++
	return true
}

// Last returns the most recent entry, or "" when empty.
func (l *MessageLog) Last() string {
	if len(l.entries) == 0 {
		return ""
	}
	return l.entries[len(l.entries)-1]
}

// Len returns the number of stored entries.
func (l *MessageLog) Len() int { return len(l.entries) }

// Capacity returns the maximum number of entries.
func (l *MessageLog) Capacity() int { return l.capacity }

// Total returns how many entries have ever been stored. It never decreases,
// so the newest Len() entries are numbered Total()-Len()+1 through Total().
func (l *MessageLog) Total() uint64 { return l.total }

// Entries returns a copy of the log, oldest first.
func (l *MessageLog) Entries() []string {
	return append([]string(nil), l.entries...)
}

// Reset clears the log. Total is unchanged.
func (l *MessageLog) Reset() {
	l.entries = l.entries[:0]
}
