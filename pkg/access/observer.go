package access

// EventOp is the kind of change carried by an Event.
type EventOp int

const (
	EventPut EventOp = iota + 1
	EventDelete
)

// Event describes one committed change of a single record. Old is nil for an
// insert and New is nil for a delete. Remaining holds every value stored under
// Key once the whole operation has been applied, New included.
type Event struct {
	Op        EventOp
	Key       []byte
	Old       []byte
	New       []byte
	Remaining [][]byte
}

// Observer is notified of every committed change of a Database, after the
// change is applied and outside of the Database lock. An Observer error is
// returned to the caller wrapped in ErrIndexMaintenance; the change itself
// is not undone.
type Observer interface {
	Observe(Event) error
}

// ObserverFunc adapts a function to an Observer.
type ObserverFunc func(Event) error

func (f ObserverFunc) Observe(ev Event) error { return f(ev) }
