package engine

import (
	"context"

	"raidbot/internal/model"
)

// PromoteNext fills a slot vacated in role by promoting the waitlisted
// registration with the earliest signup time, strict FIFO. The promoted
// registration takes the status derived from its original kind; promotion
// never rewrites intent. Returns nil when the waitlist for the role is
// empty. Must be called under the same event lock as the removal that
// opened the slot.
func PromoteNext(ctx context.Context, tx Tx, eventID int64, role model.Role) (*model.Registration, error) {
	next, err := tx.EarliestWaitlisted(ctx, eventID, role)
	if err != nil || next == nil {
		return nil, err
	}
	status := next.Kind.Placement()
	if err := tx.UpdateRegistrationStatus(ctx, next.ID, status); err != nil {
		return nil, err
	}
	next.Status = status
	return next, nil
}
