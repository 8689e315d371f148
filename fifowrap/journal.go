package fifowrap

// Journaler describes an event logger. Implementations must be safe to call
// from multiple goroutines.
type Journaler interface {
	Write(Event) error
}

// JournalFunc is a function that implements Journaler.
type JournalFunc func(Event) error

// Write calls f(ev).
func (f JournalFunc) Write(ev Event) error { return f(ev) }

// discardJournal drops every event.
var discardJournal = JournalFunc(func(Event) error { return nil })
