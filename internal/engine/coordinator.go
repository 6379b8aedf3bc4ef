package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"raidbot/internal/model"
)

// Coordinator commits registration mutations against the store. Every
// mutating operation runs inside the target event's lock, so concurrent
// attempts against the same event serialize and each produces exactly one
// durable outcome. The coordinator performs no external side effects; the
// caller delivers notifications and role grants from the returned outcome.
type Coordinator struct {
	store Locker
	log   *zerolog.Logger
}

func NewCoordinator(store Locker, log *zerolog.Logger) *Coordinator {
	return &Coordinator{store: store, log: log}
}

// RegisterRequest is one participant's attempt to claim a role in an event.
type RegisterRequest struct {
	EventID       int64
	ParticipantID string
	Role          model.Role
	Kind          model.Kind
	CharacterName string
	Build         string
}

// RegisterOutcome reports where the registrant landed and who, if anyone,
// was bumped to the waitlist to make room.
type RegisterOutcome struct {
	Registration *model.Registration
	Demoted      *model.Registration
}

// UnregisterOutcome reports the removed registration and who, if anyone,
// was promoted into the vacated slot.
type UnregisterOutcome struct {
	Removed  *model.Registration
	Promoted *model.Registration
}

// Register places a participant into an event role. Under the event lock it
// re-checks that the event still accepts signups, that the participant has
// no registration yet, and recounts occupancy from the store. A full role
// with capacity > 0 admits the newcomer by demoting the lowest-priority
// incumbent; a zero-capacity role waitlists directly.
func (c *Coordinator) Register(ctx context.Context, req RegisterRequest) (*RegisterOutcome, error) {
	var out RegisterOutcome
	err := c.store.WithEventLock(ctx, req.EventID, func(ctx context.Context, tx Tx, ev *model.Event) error {
		if !ev.AcceptsSignups() {
			return ErrEventNotOpen
		}

		existing, err := tx.GetRegistration(ctx, req.EventID, req.ParticipantID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrAlreadyRegistered
		}

		occupied, err := tx.CountOccupancy(ctx, req.EventID)
		if err != nil {
			return err
		}

		slots := slotsByRole(ev)
		reg := &model.Registration{
			EventID:       req.EventID,
			ParticipantID: req.ParticipantID,
			Role:          req.Role,
			Kind:          req.Kind,
			Status:        ResolvePlacement(occupied, slots, req.Role, req.Kind),
			CharacterName: req.CharacterName,
			Build:         req.Build,
		}

		if reg.Status == model.StatusWaitlist && slots[req.Role] > 0 {
			// Role is full: the newest low-priority slot holder yields its
			// place and the newcomer takes its kind-derived status.
			victim, err := tx.LowestPriorityHolder(ctx, req.EventID, req.Role)
			if err != nil {
				return err
			}
			if victim == nil {
				return fmt.Errorf("%w: role %q reported full with no slot holders", ErrTransactionFailed, req.Role)
			}
			if err := tx.UpdateRegistrationStatus(ctx, victim.ID, model.StatusWaitlist); err != nil {
				return err
			}
			victim.Status = model.StatusWaitlist
			out.Demoted = victim
			reg.Status = req.Kind.Placement()
		}

		if err := tx.InsertRegistration(ctx, reg); err != nil {
			return err
		}
		out.Registration = reg
		return nil
	})
	if err != nil {
		return nil, err
	}

	evt := c.log.Info().
		Int64("event_id", req.EventID).
		Str("participant_id", req.ParticipantID).
		Str("role", string(req.Role)).
		Str("status", string(out.Registration.Status))
	if out.Demoted != nil {
		evt = evt.Str("demoted_participant", out.Demoted.ParticipantID)
	}
	evt.Msg("registration committed")
	return &out, nil
}

// Unregister removes a participant from an event. Removal is allowed on
// locked events. When the departed registration held a slot, the earliest
// waitlisted registration of the same role is promoted within the same
// transaction; leaving from the waitlist never promotes anyone.
func (c *Coordinator) Unregister(ctx context.Context, eventID int64, participantID string) (*UnregisterOutcome, error) {
	var out UnregisterOutcome
	err := c.store.WithEventLock(ctx, eventID, func(ctx context.Context, tx Tx, ev *model.Event) error {
		reg, err := tx.GetRegistration(ctx, eventID, participantID)
		if err != nil {
			return err
		}
		if reg == nil {
			return ErrNotRegistered
		}
		if err := tx.DeleteRegistration(ctx, eventID, participantID); err != nil {
			return err
		}
		out.Removed = reg

		if reg.Status.Occupies() {
			promoted, err := PromoteNext(ctx, tx, eventID, reg.Role)
			if err != nil {
				return err
			}
			out.Promoted = promoted
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	evt := c.log.Info().
		Int64("event_id", eventID).
		Str("participant_id", participantID).
		Str("was", string(out.Removed.Status))
	if out.Promoted != nil {
		evt = evt.Str("promoted_participant", out.Promoted.ParticipantID)
	}
	evt.Msg("registration removed")
	return &out, nil
}

// SetLocked freezes or unfreezes signups for an open event. Locking an
// already-locked event (or unlocking an unlocked one) is a no-op.
func (c *Coordinator) SetLocked(ctx context.Context, eventID int64, locked bool) (*model.Event, error) {
	var out *model.Event
	err := c.store.WithEventLock(ctx, eventID, func(ctx context.Context, tx Tx, ev *model.Event) error {
		if ev.Status != model.EventOpen {
			return ErrEventNotOpen
		}
		if ev.Locked != locked {
			if err := tx.SetEventLocked(ctx, eventID, locked); err != nil {
				return err
			}
			ev.Locked = locked
		}
		out = ev
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Complete transitions an open event to completed.
func (c *Coordinator) Complete(ctx context.Context, eventID int64) (*model.Event, error) {
	return c.transition(ctx, eventID, model.EventCompleted)
}

// Cancel transitions an open event to cancelled.
func (c *Coordinator) Cancel(ctx context.Context, eventID int64) (*model.Event, error) {
	return c.transition(ctx, eventID, model.EventCancelled)
}

func (c *Coordinator) transition(ctx context.Context, eventID int64, to model.EventStatus) (*model.Event, error) {
	var out *model.Event
	err := c.store.WithEventLock(ctx, eventID, func(ctx context.Context, tx Tx, ev *model.Event) error {
		if ev.Status != model.EventOpen {
			return ErrEventNotOpen
		}
		if err := tx.UpdateEventStatus(ctx, eventID, to); err != nil {
			return err
		}
		ev.Status = to
		out = ev
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.log.Info().Int64("event_id", eventID).Str("status", string(to)).Msg("event transitioned")
	return out, nil
}
