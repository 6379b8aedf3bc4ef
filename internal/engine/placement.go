package engine

import "raidbot/internal/model"

// ResolvePlacement decides where a new registrant lands given the current
// slot occupancy and per-role capacity. Under capacity the registrant takes
// the status derived from its kind (register -> active, assist -> assist);
// at or over capacity it lands on the waitlist. The coordinator may instead
// free a slot by demoting an incumbent, but that decision is not made here.
// Total over its inputs, no side effects.
func ResolvePlacement(occupied, slots map[model.Role]int, role model.Role, kind model.Kind) model.Status {
	if occupied[role] < slots[role] {
		return kind.Placement()
	}
	return model.StatusWaitlist
}

// slotsByRole flattens an event's capacity columns into the map form the
// resolver consumes.
func slotsByRole(ev *model.Event) map[model.Role]int {
	slots := make(map[model.Role]int, len(model.Roles))
	for _, role := range model.Roles {
		slots[role] = ev.SlotsFor(role)
	}
	return slots
}
