package engine

import (
	"context"

	"raidbot/internal/model"
)

// Tx is the view of the store available while holding an event's lock.
// Registration rows for an event are mutated only through a Tx obtained
// from that event's lock; nothing else may touch them.
type Tx interface {
	// CountOccupancy returns the number of slot-holding (active or assist)
	// registrations per role, read fresh from the store.
	CountOccupancy(ctx context.Context, eventID int64) (map[model.Role]int, error)
	// GetRegistration returns the participant's registration or nil.
	GetRegistration(ctx context.Context, eventID int64, participantID string) (*model.Registration, error)
	// InsertRegistration persists a new registration and fills in its
	// generated ID and RegisteredAt.
	InsertRegistration(ctx context.Context, reg *model.Registration) error
	UpdateRegistrationStatus(ctx context.Context, regID int64, status model.Status) error
	DeleteRegistration(ctx context.Context, eventID int64, participantID string) error
	// LowestPriorityHolder returns the slot holder of the role that loses its
	// place first when the role is full: assist-status entries before
	// active-status ones, newest registration first within the same status.
	// Returns nil when the role has no slot holders.
	LowestPriorityHolder(ctx context.Context, eventID int64, role model.Role) (*model.Registration, error)
	// EarliestWaitlisted returns the oldest waitlisted registration for the
	// role, or nil when the waitlist is empty.
	EarliestWaitlisted(ctx context.Context, eventID int64, role model.Role) (*model.Registration, error)

	UpdateEventStatus(ctx context.Context, eventID int64, status model.EventStatus) error
	SetEventLocked(ctx context.Context, eventID int64, locked bool) error
	MarkEventReminded(ctx context.Context, eventID int64) error
}

// Locker provides per-event mutual exclusion over the store. fn runs with the
// event row exclusively locked and sees it as currently persisted; returning
// an error rolls back everything fn did. Locks on different events never
// block each other.
type Locker interface {
	WithEventLock(ctx context.Context, eventID int64, fn func(ctx context.Context, tx Tx, ev *model.Event) error) error
}
