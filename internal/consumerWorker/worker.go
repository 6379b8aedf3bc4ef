package consumerWorker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wb-go/wbf/zlog"

	"raidbot/internal/dto"
	"raidbot/internal/model"
	"raidbot/internal/notifier"
	"raidbot/internal/rabbit"
	"raidbot/internal/repo"
)

// Reader drains the raid-notice queue and performs the external side
// effects the core deliberately leaves to its callers: user-facing
// notifications. Core state is committed before a notice is ever queued,
// so nothing here can roll back a registration.
type Reader struct {
	RMQ    *rabbit.Client
	repo   repo.Repository
	notif  *notifier.Notifier
	done   chan struct{}
	cancel context.CancelFunc
}

func NewReader(rmq *rabbit.Client, repo repo.Repository, notif *notifier.Notifier) *Reader {
	return &Reader{
		RMQ:   rmq,
		repo:  repo,
		notif: notif,
		done:  make(chan struct{}),
	}
}

func (r *Reader) Start(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	zlog.Logger.Info().Msg("raid notice reader started")

	go func() {
		defer close(r.done)

		handler := func(body []byte) error {
			var msg dto.RaidNoticeMessage
			if err := json.Unmarshal(body, &msg); err != nil {
				zlog.Logger.Error().
					Err(err).
					Msgf("Failed to unmarshal message: %s", string(body))
				return err
			}

			zlog.Logger.Info().
				Str("type", msg.Type).
				Int64("event_id", msg.EventID).
				Msg("received raid notice")

			event, err := r.repo.GetEventByID(cctx, msg.EventID)
			if err != nil {
				zlog.Logger.Error().
					Err(err).
					Int64("event_id", msg.EventID).
					Msg("Failed to get event from DB in worker")
				return nil
			}

			content, err := r.render(cctx, event, msg)
			if err != nil {
				zlog.Logger.Error().Err(err).Msg("Failed to render notice")
				return nil
			}

			if err := r.notif.Send(content); err != nil {
				zlog.Logger.Warn().
					Err(err).
					Str("type", msg.Type).
					Msg("Failed to deliver raid notice")
			}
			return nil
		}

		if err := r.RMQ.Consume(handler); err != nil {
			zlog.Logger.Error().Err(err).Msg("Failed to start consuming")
			return
		}

		<-cctx.Done()
		zlog.Logger.Info().Msg("raid notice reader stopped by context")
	}()
}

func (r *Reader) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

func (r *Reader) render(ctx context.Context, event *model.Event, msg dto.RaidNoticeMessage) (string, error) {
	switch msg.Type {
	case dto.NoticeReminderDue:
		roster, err := r.repo.GetRegistrationsByEventID(ctx, event.ID)
		if err != nil {
			return "", fmt.Errorf("load roster: %w", err)
		}
		var mentions []string
		for _, reg := range roster {
			if reg.Status.Occupies() {
				mentions = append(mentions, "<@"+reg.ParticipantID+">")
			}
		}
		return fmt.Sprintf("⏰ Raid «%s» starts at %s. Get ready! %s",
			event.Name, event.StartTime.Format("15:04 MST"), strings.Join(mentions, " ")), nil
	case dto.NoticeEventLocked:
		return fmt.Sprintf("🔒 Signups for «%s» are now locked. Roster is final.", event.Name), nil
	case dto.NoticeEventCompleted:
		return fmt.Sprintf("✅ Raid «%s» is completed. Thanks for playing!", event.Name), nil
	case dto.NoticeParticipantDemoted:
		return fmt.Sprintf("<@%s> you were moved to the waitlist for «%s» (%s).",
			msg.ParticipantID, event.Name, msg.Role), nil
	case dto.NoticeParticipantPromoted:
		return fmt.Sprintf("<@%s> a %s slot opened up in «%s», you are in!",
			msg.ParticipantID, msg.Role, event.Name), nil
	}
	return "", fmt.Errorf("unknown notice type %q", msg.Type)
}
