package scheduler

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"raidbot/internal/dto"
	"raidbot/internal/engine"
	"raidbot/internal/model"
	"raidbot/internal/rabbit"
)

type Config struct {
	// TickInterval is the evaluation cadence.
	TickInterval time.Duration
	// AutoLockThreshold locks published events this close to start. 0 disables.
	AutoLockThreshold time.Duration
	// CompleteGrace marks events completed this long after their start time.
	CompleteGrace time.Duration
	// ReminderWindowMin/Max bound the time-to-start window in which the
	// one-shot reminder fires. The window absorbs tick jitter; an event first
	// seen below the minimum has missed its window and is silently marked
	// reminded so a stale notice never goes out.
	ReminderWindowMin time.Duration
	ReminderWindowMax time.Duration
}

// EventLister feeds the scheduler the events that may need a transition.
type EventLister interface {
	ListOpenEvents(ctx context.Context) ([]model.Event, error)
}

// Scheduler drives time-based event transitions: auto-lock before start,
// auto-complete past the grace window, and one-shot reminders. It owns no
// capacity logic; every mutation happens under the same per-event lock the
// registration coordinator uses, so a tick never races an in-flight signup.
type Scheduler struct {
	store   engine.Locker
	events  EventLister
	pub     rabbit.Publisher
	cfg     Config
	log     *zerolog.Logger
	healthy atomic.Bool
}

func New(store engine.Locker, events EventLister, pub rabbit.Publisher, cfg Config, log *zerolog.Logger) *Scheduler {
	s := &Scheduler{
		store:  store,
		events: events,
		pub:    pub,
		cfg:    cfg,
		log:    log,
	}
	s.healthy.Store(true)
	return s
}

// Healthy reports whether the last pass could reach the store.
func (s *Scheduler) Healthy() bool {
	return s.healthy.Load()
}

// Run performs one immediate pass, then ticks until the context ends. The
// immediate pass is the restart catch-up: locks and reminders still inside
// their windows fire right away instead of waiting a full interval.
func (s *Scheduler) Run(ctx context.Context) {
	s.OnTick(ctx, time.Now())

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("lifecycle scheduler stopped")
			return
		case now := <-ticker.C:
			s.OnTick(ctx, now)
		}
	}
}

// OnTick evaluates every open event against now. Idempotent and tolerant of
// clock drift; per-event failures are logged and do not abort the batch.
func (s *Scheduler) OnTick(ctx context.Context, now time.Time) {
	events, err := s.events.ListOpenEvents(ctx)
	if err != nil {
		s.healthy.Store(false)
		s.log.Error().Err(err).Msg("scheduler cannot list open events")
		return
	}
	s.healthy.Store(true)

	for _, ev := range events {
		if err := s.processEvent(ctx, ev.ID, now); err != nil {
			s.log.Error().Err(err).Int64("event_id", ev.ID).Msg("scheduler failed to process event")
		}
	}
}

func (s *Scheduler) processEvent(ctx context.Context, eventID int64, now time.Time) error {
	var notices []dto.RaidNoticeMessage

	err := s.store.WithEventLock(ctx, eventID, func(ctx context.Context, tx engine.Tx, ev *model.Event) error {
		// Re-checked under the lock: the row may have changed since listing.
		if ev.Status != model.EventOpen {
			return nil
		}

		if now.After(ev.StartTime.Add(s.cfg.CompleteGrace)) {
			if err := tx.UpdateEventStatus(ctx, eventID, model.EventCompleted); err != nil {
				return err
			}
			notices = append(notices, dto.RaidNoticeMessage{
				Type:    dto.NoticeEventCompleted,
				EventID: eventID,
			})
			return nil
		}

		untilStart := ev.StartTime.Sub(now)

		if !ev.Reminded {
			switch {
			case untilStart <= s.cfg.ReminderWindowMax && untilStart >= s.cfg.ReminderWindowMin:
				if err := tx.MarkEventReminded(ctx, eventID); err != nil {
					return err
				}
				notices = append(notices, dto.RaidNoticeMessage{
					Type:    dto.NoticeReminderDue,
					EventID: eventID,
				})
			case untilStart < s.cfg.ReminderWindowMin:
				// Window already elapsed, e.g. the process was down. Mark
				// without sending so the flag settles and no stale reminder
				// goes out on a later tick.
				if err := tx.MarkEventReminded(ctx, eventID); err != nil {
					return err
				}
				s.log.Info().Int64("event_id", eventID).Msg("reminder window missed, marked without sending")
			}
		}

		if s.cfg.AutoLockThreshold > 0 && ev.Published && !ev.Locked && untilStart <= s.cfg.AutoLockThreshold {
			if err := tx.SetEventLocked(ctx, eventID, true); err != nil {
				return err
			}
			notices = append(notices, dto.RaidNoticeMessage{
				Type:    dto.NoticeEventLocked,
				EventID: eventID,
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Transitions are committed; notice delivery is best effort.
	for _, notice := range notices {
		payload, err := json.Marshal(notice)
		if err != nil {
			s.log.Error().Err(err).Msg("failed to marshal scheduler notice")
			continue
		}
		if err := s.pub.Publish(payload, 0); err != nil {
			s.log.Warn().Err(err).Str("type", notice.Type).Int64("event_id", notice.EventID).
				Msg("failed to publish scheduler notice")
		}
	}
	return nil
}
