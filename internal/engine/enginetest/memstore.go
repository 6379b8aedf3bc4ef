// Package enginetest provides an in-memory store for exercising the
// registration engine and the lifecycle scheduler without Postgres. It
// mirrors the repository's semantics: per-event mutual exclusion with a
// bounded wait, snapshot isolation with full rollback on error, uniqueness
// of (event, participant), and monotonic registration timestamps.
package enginetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"raidbot/internal/engine"
	"raidbot/internal/model"
)

type MemStore struct {
	mu     sync.Mutex
	events map[int64]model.Event
	regs   map[int64]model.Registration
	locks  map[int64]chan struct{}

	nextEventID int64
	nextRegID   int64
	seq         int64
	base        time.Time

	insertErr error

	// LockTimeout bounds how long WithEventLock waits for a busy event.
	LockTimeout time.Duration
}

func NewMemStore() *MemStore {
	return &MemStore{
		events:      make(map[int64]model.Event),
		regs:        make(map[int64]model.Registration),
		locks:       make(map[int64]chan struct{}),
		base:        time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		LockTimeout: 2 * time.Second,
	}
}

// AddEvent stores an event, assigning its id. Status defaults to open.
func (m *MemStore) AddEvent(ev model.Event) model.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextEventID++
	ev.ID = m.nextEventID
	if ev.Status == "" {
		ev.Status = model.EventOpen
	}
	ev.CreatedAt = m.base
	ev.UpdatedAt = m.base
	m.events[ev.ID] = ev
	m.locks[ev.ID] = make(chan struct{}, 1)
	return ev
}

// Event returns the current persisted state of an event.
func (m *MemStore) Event(id int64) (model.Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	return ev, ok
}

// Registrations returns the event's rows ordered by signup time.
func (m *MemStore) Registrations(eventID int64) []model.Registration {
	m.mu.Lock()
	defer m.mu.Unlock()

	var regs []model.Registration
	for _, reg := range m.regs {
		if reg.EventID == eventID {
			regs = append(regs, reg)
		}
	}
	sort.Slice(regs, func(i, j int) bool {
		if !regs[i].RegisteredAt.Equal(regs[j].RegisteredAt) {
			return regs[i].RegisteredAt.Before(regs[j].RegisteredAt)
		}
		return regs[i].ID < regs[j].ID
	})
	return regs
}

// FailNextInsert makes the next InsertRegistration return err, simulating a
// store failure mid-transaction.
func (m *MemStore) FailNextInsert(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertErr = err
}

// ListOpenEvents implements the scheduler's event feed.
func (m *MemStore) ListOpenEvents(ctx context.Context) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var events []model.Event
	for _, ev := range m.events {
		if ev.Status == model.EventOpen {
			events = append(events, ev)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].StartTime.Before(events[j].StartTime) })
	return events, nil
}

// WithEventLock implements engine.Locker. fn runs against a snapshot of the
// event and its registrations; the snapshot replaces the persisted state
// only when fn returns nil.
func (m *MemStore) WithEventLock(ctx context.Context, eventID int64, fn func(ctx context.Context, tx engine.Tx, ev *model.Event) error) error {
	m.mu.Lock()
	lock, ok := m.locks[eventID]
	m.mu.Unlock()
	if !ok {
		return engine.ErrEventNotFound
	}

	select {
	case lock <- struct{}{}:
	case <-time.After(m.LockTimeout):
		return fmt.Errorf("%w: timed out waiting for event lock", engine.ErrTransactionFailed)
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", engine.ErrTransactionFailed, ctx.Err())
	}
	defer func() { <-lock }()

	m.mu.Lock()
	ev := m.events[eventID]
	tx := &memTx{store: m, ev: ev, regs: make(map[int64]model.Registration)}
	for id, reg := range m.regs {
		if reg.EventID == eventID {
			tx.regs[id] = reg
		}
	}
	m.mu.Unlock()

	if err := fn(ctx, tx, &tx.ev); err != nil {
		return err
	}

	m.mu.Lock()
	for id, reg := range m.regs {
		if reg.EventID == eventID {
			delete(m.regs, id)
		}
	}
	for id, reg := range tx.regs {
		m.regs[id] = reg
	}
	m.events[eventID] = tx.ev
	m.mu.Unlock()
	return nil
}

// memTx is the uncommitted view of one event's state.
type memTx struct {
	store *MemStore
	ev    model.Event
	regs  map[int64]model.Registration
}

func (t *memTx) CountOccupancy(ctx context.Context, eventID int64) (map[model.Role]int, error) {
	counts := make(map[model.Role]int)
	for _, reg := range t.regs {
		if reg.Status.Occupies() {
			counts[reg.Role]++
		}
	}
	return counts, nil
}

func (t *memTx) GetRegistration(ctx context.Context, eventID int64, participantID string) (*model.Registration, error) {
	for _, reg := range t.regs {
		if reg.ParticipantID == participantID {
			out := reg
			return &out, nil
		}
	}
	return nil, nil
}

func (t *memTx) InsertRegistration(ctx context.Context, reg *model.Registration) error {
	t.store.mu.Lock()
	if err := t.store.insertErr; err != nil {
		t.store.insertErr = nil
		t.store.mu.Unlock()
		return err
	}
	t.store.nextRegID++
	t.store.seq++
	id := t.store.nextRegID
	registeredAt := t.store.base.Add(time.Duration(t.store.seq) * time.Second)
	t.store.mu.Unlock()

	for _, existing := range t.regs {
		if existing.ParticipantID == reg.ParticipantID {
			return engine.ErrAlreadyRegistered
		}
	}

	reg.ID = id
	reg.RegisteredAt = registeredAt
	t.regs[id] = *reg
	return nil
}

func (t *memTx) UpdateRegistrationStatus(ctx context.Context, regID int64, status model.Status) error {
	reg, ok := t.regs[regID]
	if !ok {
		return fmt.Errorf("registration %d not found", regID)
	}
	reg.Status = status
	t.regs[regID] = reg
	return nil
}

func (t *memTx) DeleteRegistration(ctx context.Context, eventID int64, participantID string) error {
	for id, reg := range t.regs {
		if reg.ParticipantID == participantID {
			delete(t.regs, id)
			return nil
		}
	}
	return engine.ErrNotRegistered
}

func (t *memTx) LowestPriorityHolder(ctx context.Context, eventID int64, role model.Role) (*model.Registration, error) {
	var holders []model.Registration
	for _, reg := range t.regs {
		if reg.Role == role && reg.Status.Occupies() {
			holders = append(holders, reg)
		}
	}
	if len(holders) == 0 {
		return nil, nil
	}
	sort.Slice(holders, func(i, j int) bool {
		si, sj := holders[i].Status, holders[j].Status
		if si != sj {
			return si == model.StatusAssist
		}
		if !holders[i].RegisteredAt.Equal(holders[j].RegisteredAt) {
			return holders[i].RegisteredAt.After(holders[j].RegisteredAt)
		}
		return holders[i].ID > holders[j].ID
	})
	out := holders[0]
	return &out, nil
}

func (t *memTx) EarliestWaitlisted(ctx context.Context, eventID int64, role model.Role) (*model.Registration, error) {
	var waiting []model.Registration
	for _, reg := range t.regs {
		if reg.Role == role && reg.Status == model.StatusWaitlist {
			waiting = append(waiting, reg)
		}
	}
	if len(waiting) == 0 {
		return nil, nil
	}
	sort.Slice(waiting, func(i, j int) bool {
		if !waiting[i].RegisteredAt.Equal(waiting[j].RegisteredAt) {
			return waiting[i].RegisteredAt.Before(waiting[j].RegisteredAt)
		}
		return waiting[i].ID < waiting[j].ID
	})
	out := waiting[0]
	return &out, nil
}

func (t *memTx) UpdateEventStatus(ctx context.Context, eventID int64, status model.EventStatus) error {
	t.ev.Status = status
	return nil
}

func (t *memTx) SetEventLocked(ctx context.Context, eventID int64, locked bool) error {
	t.ev.Locked = locked
	return nil
}

func (t *memTx) MarkEventReminded(ctx context.Context, eventID int64) error {
	t.ev.Reminded = true
	return nil
}
