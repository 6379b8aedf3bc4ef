package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"raidbot/internal/engine"
	"raidbot/internal/engine/enginetest"
	"raidbot/internal/model"
)

func newCoordinator(store engine.Locker) *engine.Coordinator {
	log := zerolog.Nop()
	return engine.NewCoordinator(store, &log)
}

func mustRegister(t *testing.T, c *engine.Coordinator, eventID int64, participant string, role model.Role, kind model.Kind) *engine.RegisterOutcome {
	t.Helper()
	out, err := c.Register(context.Background(), engine.RegisterRequest{
		EventID:       eventID,
		ParticipantID: participant,
		Role:          role,
		Kind:          kind,
	})
	if err != nil {
		t.Fatalf("register %s: %v", participant, err)
	}
	return out
}

func TestRegisterFillsSlotsThenDisplaces(t *testing.T) {
	store := enginetest.NewMemStore()
	ev := store.AddEvent(model.Event{Name: "weekly raid", TankSlots: 2, SupportSlots: 2, DPSSlots: 4})
	c := newCoordinator(store)

	outA := mustRegister(t, c, ev.ID, "alice", model.RoleTank, model.KindRegister)
	if outA.Registration.Status != model.StatusActive || outA.Demoted != nil {
		t.Fatalf("alice: got status %q, demoted %v", outA.Registration.Status, outA.Demoted)
	}

	outB := mustRegister(t, c, ev.ID, "bob", model.RoleTank, model.KindRegister)
	if outB.Registration.Status != model.StatusActive || outB.Demoted != nil {
		t.Fatalf("bob: got status %q, demoted %v", outB.Registration.Status, outB.Demoted)
	}

	// Tank is full: carol displaces the most recent holder, bob.
	outC := mustRegister(t, c, ev.ID, "carol", model.RoleTank, model.KindRegister)
	if outC.Registration.Status != model.StatusActive {
		t.Fatalf("carol: got status %q, want active", outC.Registration.Status)
	}
	if outC.Demoted == nil || outC.Demoted.ParticipantID != "bob" {
		t.Fatalf("carol: demoted %+v, want bob", outC.Demoted)
	}
	if outC.Demoted.Status != model.StatusWaitlist {
		t.Fatalf("demoted bob has status %q, want waitlist", outC.Demoted.Status)
	}

	want := map[string]model.Status{
		"alice": model.StatusActive,
		"bob":   model.StatusWaitlist,
		"carol": model.StatusActive,
	}
	for _, reg := range store.Registrations(ev.ID) {
		if reg.Status != want[reg.ParticipantID] {
			t.Errorf("%s: status %q, want %q", reg.ParticipantID, reg.Status, want[reg.ParticipantID])
		}
	}
}

func TestUnregisterPromotesEarliestWaitlisted(t *testing.T) {
	store := enginetest.NewMemStore()
	ev := store.AddEvent(model.Event{Name: "weekly raid", TankSlots: 2})
	c := newCoordinator(store)

	mustRegister(t, c, ev.ID, "alice", model.RoleTank, model.KindRegister)
	mustRegister(t, c, ev.ID, "bob", model.RoleTank, model.KindRegister)
	mustRegister(t, c, ev.ID, "carol", model.RoleTank, model.KindRegister) // bumps bob

	out, err := c.Unregister(context.Background(), ev.ID, "alice")
	if err != nil {
		t.Fatalf("unregister alice: %v", err)
	}
	if out.Removed.ParticipantID != "alice" {
		t.Fatalf("removed %q, want alice", out.Removed.ParticipantID)
	}
	if out.Promoted == nil || out.Promoted.ParticipantID != "bob" {
		t.Fatalf("promoted %+v, want bob", out.Promoted)
	}
	if out.Promoted.Status != model.StatusActive {
		t.Fatalf("bob promoted to %q, want active", out.Promoted.Status)
	}

	regs := store.Registrations(ev.ID)
	if len(regs) != 2 {
		t.Fatalf("got %d registrations, want 2", len(regs))
	}
	for _, reg := range regs {
		if reg.Status != model.StatusActive {
			t.Errorf("%s: status %q, want active", reg.ParticipantID, reg.Status)
		}
	}
}

func TestAssistEvictedBeforeActive(t *testing.T) {
	store := enginetest.NewMemStore()
	ev := store.AddEvent(model.Event{Name: "weekly raid", DPSSlots: 1})
	c := newCoordinator(store)

	outA := mustRegister(t, c, ev.ID, "alice", model.RoleDPS, model.KindAssist)
	if outA.Registration.Status != model.StatusAssist {
		t.Fatalf("alice: status %q, want assist", outA.Registration.Status)
	}

	// Assist occupies the slot, so the role is full; the assist holder is
	// evicted before any active one would be.
	outB := mustRegister(t, c, ev.ID, "bob", model.RoleDPS, model.KindRegister)
	if outB.Registration.Status != model.StatusActive {
		t.Fatalf("bob: status %q, want active", outB.Registration.Status)
	}
	if outB.Demoted == nil || outB.Demoted.ParticipantID != "alice" {
		t.Fatalf("demoted %+v, want alice", outB.Demoted)
	}
}

func TestAssistEvictedBeforeOlderActive(t *testing.T) {
	store := enginetest.NewMemStore()
	ev := store.AddEvent(model.Event{Name: "weekly raid", DPSSlots: 2})
	c := newCoordinator(store)

	mustRegister(t, c, ev.ID, "alice", model.RoleDPS, model.KindRegister)
	mustRegister(t, c, ev.ID, "bob", model.RoleDPS, model.KindAssist)

	// bob (assist) yields before alice (active) even though alice is older.
	out := mustRegister(t, c, ev.ID, "carol", model.RoleDPS, model.KindRegister)
	if out.Demoted == nil || out.Demoted.ParticipantID != "bob" {
		t.Fatalf("demoted %+v, want bob", out.Demoted)
	}
}

func TestDuplicateRegistrationRejected(t *testing.T) {
	store := enginetest.NewMemStore()
	ev := store.AddEvent(model.Event{Name: "weekly raid", TankSlots: 2, DPSSlots: 4})
	c := newCoordinator(store)

	mustRegister(t, c, ev.ID, "alice", model.RoleTank, model.KindRegister)

	_, err := c.Register(context.Background(), engine.RegisterRequest{
		EventID:       ev.ID,
		ParticipantID: "alice",
		Role:          model.RoleDPS,
		Kind:          model.KindRegister,
	})
	if !errors.Is(err, engine.ErrAlreadyRegistered) {
		t.Fatalf("got %v, want ErrAlreadyRegistered", err)
	}
	if got := len(store.Registrations(ev.ID)); got != 1 {
		t.Fatalf("got %d registrations, want 1", got)
	}
}

func TestConcurrentDuplicateRegistration(t *testing.T) {
	store := enginetest.NewMemStore()
	ev := store.AddEvent(model.Event{Name: "weekly raid", TankSlots: 4})
	c := newCoordinator(store)

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Register(context.Background(), engine.RegisterRequest{
				EventID:       ev.ID,
				ParticipantID: "alice",
				Role:          model.RoleTank,
				Kind:          model.KindRegister,
			})
		}(i)
	}
	wg.Wait()

	var successes, duplicates int
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, engine.ErrAlreadyRegistered):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || duplicates != attempts-1 {
		t.Fatalf("got %d successes and %d duplicates, want 1 and %d", successes, duplicates, attempts-1)
	}
	if got := len(store.Registrations(ev.ID)); got != 1 {
		t.Fatalf("got %d registrations, want 1", got)
	}
}

func TestConcurrentRegistrationsRespectCapacity(t *testing.T) {
	store := enginetest.NewMemStore()
	ev := store.AddEvent(model.Event{Name: "weekly raid", TankSlots: 2})
	c := newCoordinator(store)

	participants := []string{"p1", "p2", "p3", "p4", "p5", "p6", "p7", "p8"}
	var wg sync.WaitGroup
	for _, p := range participants {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			_, err := c.Register(context.Background(), engine.RegisterRequest{
				EventID:       ev.ID,
				ParticipantID: p,
				Role:          model.RoleTank,
				Kind:          model.KindRegister,
			})
			if err != nil {
				t.Errorf("register %s: %v", p, err)
			}
		}(p)
	}
	wg.Wait()

	var holders int
	for _, reg := range store.Registrations(ev.ID) {
		if reg.Status.Occupies() {
			holders++
		}
	}
	if holders != 2 {
		t.Fatalf("got %d slot holders, want 2", holders)
	}
	if got := len(store.Registrations(ev.ID)); got != len(participants) {
		t.Fatalf("got %d registrations, want %d", got, len(participants))
	}
}

func TestLockedEventRejectsNewSignupsButAllowsDepartures(t *testing.T) {
	store := enginetest.NewMemStore()
	ev := store.AddEvent(model.Event{Name: "weekly raid", TankSlots: 1})
	c := newCoordinator(store)

	mustRegister(t, c, ev.ID, "alice", model.RoleTank, model.KindRegister)
	mustRegister(t, c, ev.ID, "bob", model.RoleTank, model.KindRegister) // alice bumped

	if _, err := c.SetLocked(context.Background(), ev.ID, true); err != nil {
		t.Fatalf("lock: %v", err)
	}

	_, err := c.Register(context.Background(), engine.RegisterRequest{
		EventID:       ev.ID,
		ParticipantID: "carol",
		Role:          model.RoleTank,
		Kind:          model.KindRegister,
	})
	if !errors.Is(err, engine.ErrEventNotOpen) {
		t.Fatalf("register on locked event: got %v, want ErrEventNotOpen", err)
	}

	// Departures and the resulting promotions still work while locked.
	out, err := c.Unregister(context.Background(), ev.ID, "bob")
	if err != nil {
		t.Fatalf("unregister on locked event: %v", err)
	}
	if out.Promoted == nil || out.Promoted.ParticipantID != "alice" {
		t.Fatalf("promoted %+v, want alice", out.Promoted)
	}
}

func TestZeroCapacityRoleWaitlistsDirectly(t *testing.T) {
	store := enginetest.NewMemStore()
	ev := store.AddEvent(model.Event{Name: "weekly raid", TankSlots: 0, DPSSlots: 4})
	c := newCoordinator(store)

	out := mustRegister(t, c, ev.ID, "alice", model.RoleTank, model.KindRegister)
	if out.Registration.Status != model.StatusWaitlist {
		t.Fatalf("status %q, want waitlist", out.Registration.Status)
	}
	if out.Demoted != nil {
		t.Fatalf("unexpected demotion %+v for zero-capacity role", out.Demoted)
	}
}

func TestRegisterFailureRollsBackDisplacement(t *testing.T) {
	store := enginetest.NewMemStore()
	ev := store.AddEvent(model.Event{Name: "weekly raid", TankSlots: 1})
	c := newCoordinator(store)

	mustRegister(t, c, ev.ID, "alice", model.RoleTank, model.KindRegister)

	// The insert fails after the displacement write; nothing may stick.
	store.FailNextInsert(errors.New("connection reset"))
	_, err := c.Register(context.Background(), engine.RegisterRequest{
		EventID:       ev.ID,
		ParticipantID: "bob",
		Role:          model.RoleTank,
		Kind:          model.KindRegister,
	})
	if err == nil {
		t.Fatal("expected register to fail")
	}

	regs := store.Registrations(ev.ID)
	if len(regs) != 1 {
		t.Fatalf("got %d registrations, want 1", len(regs))
	}
	if regs[0].ParticipantID != "alice" || regs[0].Status != model.StatusActive {
		t.Fatalf("alice not restored: %+v", regs[0])
	}
}

func TestRegisterUnknownEvent(t *testing.T) {
	store := enginetest.NewMemStore()
	c := newCoordinator(store)

	_, err := c.Register(context.Background(), engine.RegisterRequest{
		EventID:       42,
		ParticipantID: "alice",
		Role:          model.RoleTank,
		Kind:          model.KindRegister,
	})
	if !errors.Is(err, engine.ErrEventNotFound) {
		t.Fatalf("got %v, want ErrEventNotFound", err)
	}
}

func TestUnregisterWithoutRegistration(t *testing.T) {
	store := enginetest.NewMemStore()
	ev := store.AddEvent(model.Event{Name: "weekly raid", TankSlots: 1})
	c := newCoordinator(store)

	_, err := c.Unregister(context.Background(), ev.ID, "nobody")
	if !errors.Is(err, engine.ErrNotRegistered) {
		t.Fatalf("got %v, want ErrNotRegistered", err)
	}
}

func TestLifecycleTransitionsAreMonotone(t *testing.T) {
	store := enginetest.NewMemStore()
	ev := store.AddEvent(model.Event{Name: "weekly raid", TankSlots: 1})
	c := newCoordinator(store)

	if _, err := c.Complete(context.Background(), ev.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := c.Cancel(context.Background(), ev.ID); !errors.Is(err, engine.ErrEventNotOpen) {
		t.Fatalf("cancel after complete: got %v, want ErrEventNotOpen", err)
	}
	if _, err := c.Complete(context.Background(), ev.ID); !errors.Is(err, engine.ErrEventNotOpen) {
		t.Fatalf("double complete: got %v, want ErrEventNotOpen", err)
	}
	_, err := c.Register(context.Background(), engine.RegisterRequest{
		EventID:       ev.ID,
		ParticipantID: "alice",
		Role:          model.RoleTank,
		Kind:          model.KindRegister,
	})
	if !errors.Is(err, engine.ErrEventNotOpen) {
		t.Fatalf("register on completed event: got %v, want ErrEventNotOpen", err)
	}
}

func TestLockAcquisitionTimesOut(t *testing.T) {
	store := enginetest.NewMemStore()
	store.LockTimeout = 50 * time.Millisecond
	ev := store.AddEvent(model.Event{Name: "weekly raid", TankSlots: 1})
	c := newCoordinator(store)

	hold := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = store.WithEventLock(context.Background(), ev.ID, func(ctx context.Context, tx engine.Tx, e *model.Event) error {
			close(held)
			<-hold
			return nil
		})
	}()
	<-held
	defer close(hold)

	_, err := c.Register(context.Background(), engine.RegisterRequest{
		EventID:       ev.ID,
		ParticipantID: "alice",
		Role:          model.RoleTank,
		Kind:          model.KindRegister,
	})
	if !errors.Is(err, engine.ErrTransactionFailed) {
		t.Fatalf("got %v, want ErrTransactionFailed", err)
	}
}
