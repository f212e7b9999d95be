package retry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/SentryBox/internal/metrics"
	"github.com/pkg/errors"
)

// DroppedEntry describes an entry that ran out of attempts.
type DroppedEntry struct {
	ID        string
	Attempts  int
	LastError error
}

type Manager struct {
	planner     *Planner
	interval    time.Duration
	maxAttempts int
	concurrency int
	now         func() time.Time
	onDrop      func(DroppedEntry)

	mu      sync.Mutex
	entries map[string]*Entry
	// id, по которым попытка уже выполняется (в том числе у заменённой записи)
	busy map[string]struct{}

	sem       chan struct{}
	inFlight  sync.WaitGroup
	triggerCh chan struct{}

	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalEnqueued       atomic.Int64
	totalSucceeded      atomic.Int64
	totalFailed         atomic.Int64
	totalDropped        atomic.Int64
	running             atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New() *Manager {
	return &Manager{
		planner:           NewPlanner(DefaultPlannerConfig()),
		interval:          30 * time.Second,
		maxAttempts:       3,
		concurrency:       10,
		now:               func() time.Time { return time.Now().UTC() },
		entries:           make(map[string]*Entry),
		busy:              make(map[string]struct{}),
		sem:               make(chan struct{}, 10),
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

// WithSettings overrides tick interval, attempt cap and dispatch concurrency.
// Non-positive values keep the defaults. Call before Run.
func (m *Manager) WithSettings(interval time.Duration, maxAttempts, concurrency int) *Manager {
	if interval > 0 {
		m.interval = interval
	}
	if maxAttempts > 0 {
		m.maxAttempts = maxAttempts
	}
	if concurrency > 0 {
		m.concurrency = concurrency
		m.sem = make(chan struct{}, concurrency)
	}
	return m
}

func (m *Manager) WithPlanner(cfg PlannerConfig) *Manager {
	m.planner = NewPlanner(cfg)
	return m
}

// WithDropHandler registers a callback invoked (outside the lock) for every
// entry dropped after exhausting its attempts.
func (m *Manager) WithDropHandler(fn func(DroppedEntry)) *Manager {
	m.onDrop = fn
	return m
}

// AddToRetry inserts or replaces the pending entry for id. The operation is
// not executed here: the next tick at or after the first backoff step does it.
// A replacement for an id whose attempt is in flight waits for that attempt.
func (m *Manager) AddToRetry(op Operation, lastErr error, id string) {
	now := m.now()
	e := newEntry(id, op, lastErr, now)
	e.NextAttemptAt = now.Add(m.planner.BackoffDelay(e.Attempt))

	m.mu.Lock()
	_, replaced := m.entries[id]
	m.entries[id] = e
	n := len(m.entries)
	m.mu.Unlock()

	m.totalEnqueued.Add(1)
	metrics.RetryPending.Set(float64(n))
	slog.Info("retry enqueued", "id", id, "replaced", replaced, "next_attempt_at", e.NextAttemptAt, "error", errString(lastErr))
}

// Trigger forces an immediate retry cycle (best-effort, non-blocking).
func (m *Manager) Trigger() {
	m.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case m.triggerCh <- struct{}{}:
	default:
	}
}

// Run drives the schedule until ctx is cancelled, then waits for attempts
// still in flight.
func (m *Manager) Run(ctx context.Context) error {
	t := time.NewTicker(m.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			m.inFlight.Wait()
			return ctx.Err()
		case <-t.C:
			m.runOnce(ctx)
		case <-m.triggerCh:
			m.runOnce(ctx)
		}
	}
}

// Start runs the schedule in the background; Stop cancels it.
func (m *Manager) Start(ctx context.Context) {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		_ = m.Run(runCtx)
	}()
}

// Stop cancels the schedule and blocks until the loop and in-flight
// attempts have returned. Safe to call more than once.
func (m *Manager) Stop() {
	m.lifeMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.lifeMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	slog.Info("retry manager stopped", "pending", m.Len())
}

func (m *Manager) runOnce(ctx context.Context) {
	now := m.now()
	m.lastCycleUnixNano.Store(now.UnixNano())

	m.mu.Lock()
	due := make([]*Entry, 0)
	for _, e := range m.entries {
		if e.State() != StatePending || e.NextAttemptAt.After(now) {
			continue
		}
		// замена, пришедшая во время попытки, ждёт её завершения
		if _, ok := m.busy[e.ID]; ok {
			continue
		}
		// нет свободного слота — запись остаётся pending до следующего тика
		select {
		case m.sem <- struct{}{}:
		default:
			continue
		}
		if err := e.transition(ctx, EventDispatch); err != nil {
			<-m.sem
			slog.Error("retry dispatch transition", "id", e.ID, "error", err.Error())
			continue
		}
		m.busy[e.ID] = struct{}{}
		due = append(due, e)
	}
	m.mu.Unlock()

	for _, e := range due {
		m.inFlight.Add(1)
		m.running.Add(1)
		go func(e *Entry) {
			defer func() {
				m.running.Add(-1)
				<-m.sem
				m.inFlight.Done()
			}()
			m.attempt(ctx, e)
		}(e)
	}
}

func (m *Manager) attempt(ctx context.Context, e *Entry) {
	err := safeCall(ctx, e.op)

	var dropped *DroppedEntry

	m.mu.Lock()
	delete(m.busy, e.ID)
	current := m.entries[e.ID] == e
	switch {
	case err == nil:
		_ = e.transition(ctx, EventSucceed)
		if current {
			delete(m.entries, e.ID)
		}
		m.totalSucceeded.Add(1)
	default:
		e.Attempt++
		e.LastError = err
		m.totalFailed.Add(1)
		if e.Attempt > m.maxAttempts {
			_ = e.transition(ctx, EventDrop)
			if current {
				delete(m.entries, e.ID)
				m.totalDropped.Add(1)
				dropped = &DroppedEntry{ID: e.ID, Attempts: e.Attempt - 1, LastError: err}
			}
		} else {
			e.NextAttemptAt = m.now().Add(m.planner.BackoffDelay(e.Attempt))
			_ = e.transition(ctx, EventRequeue)
		}
	}
	n := len(m.entries)
	m.mu.Unlock()

	metrics.RetryPending.Set(float64(n))

	switch {
	case err == nil:
		slog.Info("retry succeeded", "id", e.ID, "attempt", e.Attempt, "replaced", !current)
	case dropped != nil:
		m.setLastError(err)
		slog.Warn("retry attempts exhausted, alert dropped", "id", e.ID, "attempts", dropped.Attempts, "error", err.Error())
		if m.onDrop != nil {
			m.onDrop(*dropped)
		}
	default:
		m.setLastError(err)
		slog.Warn("retry attempt failed", "id", e.ID, "attempt", e.Attempt, "error", err.Error())
	}
}

// safeCall keeps one panicking operation from taking the scheduler down.
func safeCall(ctx context.Context, op Operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("retry operation panicked: %v", r)
		}
	}()
	if op == nil {
		return errors.New("retry operation is nil")
	}
	return op(ctx)
}

func (m *Manager) setLastError(err error) {
	m.lastErrorMu.Lock()
	m.lastError = err.Error()
	m.lastErrorMu.Unlock()
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Pending returns a snapshot of live entries ordered by id.
func (m *Manager) Pending() []EntryView {
	m.mu.Lock()
	out := make([]EntryView, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.view())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	Pending        int        `json:"pending"`
	Running        int64      `json:"running"`
	TotalEnqueued  int64      `json:"totalEnqueued"`
	TotalSucceeded int64      `json:"totalSucceeded"`
	TotalFailed    int64      `json:"totalFailed"`
	TotalDropped   int64      `json:"totalDropped"`
	LastError      string     `json:"lastError,omitempty"`
}

func (m *Manager) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, m.startedAtUnixNano).UTC(),
		Pending:        m.Len(),
		Running:        m.running.Load(),
		TotalEnqueued:  m.totalEnqueued.Load(),
		TotalSucceeded: m.totalSucceeded.Load(),
		TotalFailed:    m.totalFailed.Load(),
		TotalDropped:   m.totalDropped.Load(),
	}
	if n := m.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := m.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	m.lastErrorMu.Lock()
	st.LastError = m.lastError
	m.lastErrorMu.Unlock()
	return st
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
