package engine_test

import (
	"context"
	"testing"

	"raidbot/internal/engine"
	"raidbot/internal/engine/enginetest"
	"raidbot/internal/model"
)

func TestPromotionIsFIFO(t *testing.T) {
	store := enginetest.NewMemStore()
	ev := store.AddEvent(model.Event{Name: "weekly raid", SupportSlots: 0})
	c := newCoordinator(store)

	// Zero capacity: everyone waitlists in signup order.
	mustRegister(t, c, ev.ID, "alice", model.RoleSupport, model.KindRegister)
	mustRegister(t, c, ev.ID, "bob", model.RoleSupport, model.KindRegister)
	mustRegister(t, c, ev.ID, "carol", model.RoleSupport, model.KindRegister)

	err := store.WithEventLock(context.Background(), ev.ID, func(ctx context.Context, tx engine.Tx, e *model.Event) error {
		promoted, err := engine.PromoteNext(ctx, tx, ev.ID, model.RoleSupport)
		if err != nil {
			return err
		}
		if promoted == nil || promoted.ParticipantID != "alice" {
			t.Fatalf("promoted %+v, want alice", promoted)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("with event lock: %v", err)
	}

	// Next vacancy goes to bob, not carol.
	err = store.WithEventLock(context.Background(), ev.ID, func(ctx context.Context, tx engine.Tx, e *model.Event) error {
		promoted, err := engine.PromoteNext(ctx, tx, ev.ID, model.RoleSupport)
		if err != nil {
			return err
		}
		if promoted == nil || promoted.ParticipantID != "bob" {
			t.Fatalf("promoted %+v, want bob", promoted)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("with event lock: %v", err)
	}
}

func TestPromotionPreservesOriginalKind(t *testing.T) {
	store := enginetest.NewMemStore()
	ev := store.AddEvent(model.Event{Name: "weekly raid", DPSSlots: 1})
	c := newCoordinator(store)

	// Each newcomer bumps the current holder: the waitlist ends up with
	// alice (kind register) first, then bob (kind assist).
	mustRegister(t, c, ev.ID, "alice", model.RoleDPS, model.KindRegister)
	mustRegister(t, c, ev.ID, "bob", model.RoleDPS, model.KindAssist)
	outCarol := mustRegister(t, c, ev.ID, "carol", model.RoleDPS, model.KindAssist)
	if outCarol.Demoted == nil {
		t.Fatalf("expected carol to displace an incumbent")
	}

	out, err := c.Unregister(context.Background(), ev.ID, "carol")
	if err != nil {
		t.Fatalf("unregister carol: %v", err)
	}
	if out.Promoted == nil || out.Promoted.ParticipantID != "alice" {
		t.Fatalf("promoted %+v, want alice", out.Promoted)
	}
	if out.Promoted.Status != model.StatusActive {
		t.Fatalf("alice promoted to %q, want active (her original kind is register)", out.Promoted.Status)
	}

	out, err = c.Unregister(context.Background(), ev.ID, "alice")
	if err != nil {
		t.Fatalf("unregister alice: %v", err)
	}
	if out.Promoted == nil || out.Promoted.ParticipantID != "bob" {
		t.Fatalf("promoted %+v, want bob", out.Promoted)
	}
	if out.Promoted.Status != model.StatusAssist {
		t.Fatalf("bob promoted to %q, want assist (his original kind is assist)", out.Promoted.Status)
	}
}

func TestWaitlistDepartureDoesNotPromote(t *testing.T) {
	store := enginetest.NewMemStore()
	ev := store.AddEvent(model.Event{Name: "weekly raid", TankSlots: 1})
	c := newCoordinator(store)

	mustRegister(t, c, ev.ID, "alice", model.RoleTank, model.KindRegister)
	mustRegister(t, c, ev.ID, "bob", model.RoleTank, model.KindRegister)   // alice bumped
	mustRegister(t, c, ev.ID, "carol", model.RoleTank, model.KindRegister) // bob bumped

	// alice leaves from the waitlist: no slot opened, nobody moves.
	out, err := c.Unregister(context.Background(), ev.ID, "alice")
	if err != nil {
		t.Fatalf("unregister alice: %v", err)
	}
	if out.Removed.Status != model.StatusWaitlist {
		t.Fatalf("alice left with status %q, want waitlist", out.Removed.Status)
	}
	if out.Promoted != nil {
		t.Fatalf("unexpected promotion %+v on waitlist departure", out.Promoted)
	}

	want := map[string]model.Status{
		"bob":   model.StatusWaitlist,
		"carol": model.StatusActive,
	}
	for _, reg := range store.Registrations(ev.ID) {
		if reg.Status != want[reg.ParticipantID] {
			t.Errorf("%s: status %q, want %q", reg.ParticipantID, reg.Status, want[reg.ParticipantID])
		}
	}
}

func TestAssistDepartureTriggersPromotion(t *testing.T) {
	store := enginetest.NewMemStore()
	ev := store.AddEvent(model.Event{Name: "weekly raid", DPSSlots: 1})
	c := newCoordinator(store)

	mustRegister(t, c, ev.ID, "alice", model.RoleDPS, model.KindAssist)
	mustRegister(t, c, ev.ID, "bob", model.RoleDPS, model.KindRegister) // alice bumped

	// bob holds the slot; alice waits. bob leaves, alice comes back in.
	out, err := c.Unregister(context.Background(), ev.ID, "bob")
	if err != nil {
		t.Fatalf("unregister bob: %v", err)
	}
	if out.Promoted == nil || out.Promoted.ParticipantID != "alice" {
		t.Fatalf("promoted %+v, want alice", out.Promoted)
	}
	if out.Promoted.Status != model.StatusAssist {
		t.Fatalf("alice promoted to %q, want assist (her original kind)", out.Promoted.Status)
	}
}

func TestPromoteNextWithEmptyWaitlist(t *testing.T) {
	store := enginetest.NewMemStore()
	ev := store.AddEvent(model.Event{Name: "weekly raid", TankSlots: 2})
	c := newCoordinator(store)

	mustRegister(t, c, ev.ID, "alice", model.RoleTank, model.KindRegister)

	out, err := c.Unregister(context.Background(), ev.ID, "alice")
	if err != nil {
		t.Fatalf("unregister alice: %v", err)
	}
	if out.Promoted != nil {
		t.Fatalf("unexpected promotion %+v with empty waitlist", out.Promoted)
	}
}
