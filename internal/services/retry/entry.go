package retry

import (
	"context"
	"time"

	"github.com/looplab/fsm"
)

// Operation re-executes the original failed call.
type Operation func(ctx context.Context) error

// Состояния записи и события переходов между ними.
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateDropped   = "dropped"

	EventDispatch = "dispatch"
	EventSucceed  = "succeed"
	EventRequeue  = "requeue"
	EventDrop     = "drop"
)

// Entry is one outstanding retry obligation. Fields are only touched while
// the owning Manager holds its lock.
type Entry struct {
	ID            string
	LastError     error
	EnqueuedAt    time.Time
	Attempt       int
	NextAttemptAt time.Time

	op  Operation
	fsm *fsm.FSM
}

func newEntry(id string, op Operation, lastErr error, now time.Time) *Entry {
	return &Entry{
		ID:         id,
		LastError:  lastErr,
		EnqueuedAt: now,
		Attempt:    1,
		op:         op,
		fsm: fsm.NewFSM(
			StatePending,
			fsm.Events{
				{Name: EventDispatch, Src: []string{StatePending}, Dst: StateRunning},
				{Name: EventSucceed, Src: []string{StateRunning}, Dst: StateSucceeded},
				{Name: EventRequeue, Src: []string{StateRunning}, Dst: StatePending},
				{Name: EventDrop, Src: []string{StateRunning}, Dst: StateDropped},
			},
			fsm.Callbacks{},
		),
	}
}

func (e *Entry) State() string { return e.fsm.Current() }

func (e *Entry) transition(ctx context.Context, event string) error {
	return e.fsm.Event(ctx, event)
}

// EntryView is a read-only snapshot exposed over the admin API.
type EntryView struct {
	ID            string    `json:"id"`
	State         string    `json:"state"`
	Attempt       int       `json:"attempt"`
	EnqueuedAt    time.Time `json:"enqueuedAt"`
	NextAttemptAt time.Time `json:"nextAttemptAt"`
	LastError     string    `json:"lastError,omitempty"`
}

func (e *Entry) view() EntryView {
	v := EntryView{
		ID:            e.ID,
		State:         e.State(),
		Attempt:       e.Attempt,
		EnqueuedAt:    e.EnqueuedAt,
		NextAttemptAt: e.NextAttemptAt,
	}
	if e.LastError != nil {
		v.LastError = e.LastError.Error()
	}
	return v
}
