package model

import "time"

// Role is a raid role with its own capacity pool.
type Role string

const (
	RoleTank    Role = "tank"
	RoleSupport Role = "support"
	RoleDPS     Role = "dps"
)

// Roles lists all roles in display order.
var Roles = []Role{RoleTank, RoleSupport, RoleDPS}

func (r Role) Valid() bool {
	return r == RoleTank || r == RoleSupport || r == RoleDPS
}

// Kind is the participant's declared intent. It never changes after signup.
type Kind string

const (
	KindRegister Kind = "register"
	KindAssist   Kind = "assist"
)

func (k Kind) Valid() bool {
	return k == KindRegister || k == KindAssist
}

// Placement returns the slot-holding status a registration of this kind
// receives when it fits into its role.
func (k Kind) Placement() Status {
	if k == KindAssist {
		return StatusAssist
	}
	return StatusActive
}

// Status is the current effective placement of a registration.
type Status string

const (
	StatusActive   Status = "active"
	StatusAssist   Status = "assist"
	StatusWaitlist Status = "waitlist"
)

// Occupies reports whether a registration in this status holds a role slot.
// Assist entries count against capacity the same as active ones.
func (s Status) Occupies() bool {
	return s == StatusActive || s == StatusAssist
}

// EventStatus is the lifecycle state of an event. Transitions are monotone:
// open -> completed or open -> cancelled, nothing else.
type EventStatus string

const (
	EventOpen      EventStatus = "open"
	EventCompleted EventStatus = "completed"
	EventCancelled EventStatus = "cancelled"
)

type Event struct {
	ID           int64       `db:"id" json:"id"`
	Name         string      `db:"name" json:"name"`
	StartTime    time.Time   `db:"start_time" json:"start_time"`
	TankSlots    int         `db:"tank_slots" json:"tank_slots"`
	SupportSlots int         `db:"support_slots" json:"support_slots"`
	DPSSlots     int         `db:"dps_slots" json:"dps_slots"`
	Status       EventStatus `db:"status" json:"status"`
	Locked       bool        `db:"locked" json:"locked"`
	Published    bool        `db:"published" json:"published"`
	Reminded     bool        `db:"reminded" json:"reminded"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`
}

// SlotsFor returns the configured capacity for a role.
func (e *Event) SlotsFor(role Role) int {
	switch role {
	case RoleTank:
		return e.TankSlots
	case RoleSupport:
		return e.SupportSlots
	case RoleDPS:
		return e.DPSSlots
	}
	return 0
}

// AcceptsSignups reports whether new register/assist signups are allowed.
// Locked events still accept removals, just no new joins.
func (e *Event) AcceptsSignups() bool {
	return e.Status == EventOpen && !e.Locked
}

type Registration struct {
	ID            int64     `db:"id" json:"id"`
	EventID       int64     `db:"event_id" json:"event_id"`
	ParticipantID string    `db:"participant_id" json:"participant_id"`
	Role          Role      `db:"role" json:"role"`
	Kind          Kind      `db:"kind" json:"kind"`
	Status        Status    `db:"status" json:"status"`
	CharacterName string    `db:"character_name,omitempty" json:"character_name,omitempty"`
	Build         string    `db:"build,omitempty" json:"build,omitempty"`
	RegisteredAt  time.Time `db:"registered_at" json:"registered_at"`
}
