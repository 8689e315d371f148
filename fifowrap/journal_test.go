package fifowrap

import (
	"reflect"
	"sync"
	"testing"
	"time"
)

// mockJournal is an in-memory storage of journals, primarily used for testing.
// A zero-value instance is a valid instance.
type mockJournal struct {
	mutex    sync.Mutex
	journals []Event
}

var _ Journaler = (*mockJournal)(nil)

// Write appends a journal event into the internal store.
func (m *mockJournal) Write(ev Event) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.journals = append(m.journals, ev)
	return nil
}

// Journals returns a copy of the journal slice.
func (m *mockJournal) Journals() []Event {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return append([]Event(nil), m.journals...)
}

// Filter returns all events of the same type as the given sample.
func (m *mockJournal) Filter(sample Event) []Event {
	var out []Event
	for _, ev := range m.Journals() {
		if ev.Type() == sample.Type() {
			out = append(out, ev)
		}
	}
	return out
}

// Has returns true if an event equal to ev has been written.
func (m *mockJournal) Has(ev Event) bool {
	for _, got := range m.Journals() {
		if reflect.DeepEqual(got, ev) {
			return true
		}
	}
	return false
}

// WaitFor blocks until an event equal to ev is written or the timeout passes.
func (m *mockJournal) WaitFor(t *testing.T, ev Event, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for !m.Has(ev) {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %#v; got %s", ev, m)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Verify verifies that the given events appear in the journal in the given
// order, ignoring any other events in between.
func (m *mockJournal) Verify(t *testing.T, journals []Event) {
	t.Helper()

	got := m.Journals()
	i := 0

	for _, ev := range got {
		if i < len(journals) && reflect.DeepEqual(ev, journals[i]) {
			i++
		}
	}

	if i != len(journals) {
		t.Errorf("journal event %d %#v not found in order; got %s", i, journals[i], m)
	}
}

func (m *mockJournal) String() string {
	var s string
	for _, ev := range m.Journals() {
		s += "\n\t" + ev.Type() + ": " + ev.String()
	}
	return s
}
