package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/ginext"

	"raidbot/internal/dto"
	"raidbot/internal/engine"
	"raidbot/internal/model"
	"raidbot/internal/rabbit"
	"raidbot/internal/repo"
	"raidbot/pkg/validator"
)

// HealthChecker reports background scheduler health for the health endpoint.
type HealthChecker interface {
	Healthy() bool
}

type Service interface {
	CreateEvent(ctx *ginext.Context)
	GetAllEvents(ctx *ginext.Context)
	GetInfo(ctx *ginext.Context)
	Register(ctx *ginext.Context)
	Unregister(ctx *ginext.Context)
	PublishEvent(ctx *ginext.Context)
	Lock(ctx *ginext.Context)
	Unlock(ctx *ginext.Context)
	Complete(ctx *ginext.Context)
	Cancel(ctx *ginext.Context)
	Health(ctx *ginext.Context)
}

type service struct {
	repo          repo.Repository
	coord         *engine.Coordinator
	pub           rabbit.Publisher
	health        HealthChecker
	log           *zerolog.Logger
	maxOpenEvents int
}

func NewService(repo repo.Repository, coord *engine.Coordinator, pub rabbit.Publisher, health HealthChecker, log *zerolog.Logger, maxOpenEvents int) Service {
	return &service{
		repo:          repo,
		coord:         coord,
		pub:           pub,
		health:        health,
		log:           log,
		maxOpenEvents: maxOpenEvents,
	}
}

func (s *service) CreateEvent(ctx *ginext.Context) {
	var req dto.CreateEventRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		s.log.Error().Err(err).Msg("failed to parse create event request")
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}

	if verr := validator.Validate(ctx, req); verr != nil {
		s.log.Error().Msgf("validation failed: %v", verr)
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	openCount, err := s.repo.CountOpenEvents(ctx.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("failed to count open events")
		dto.InternalServerError(ctx)
		return
	}
	if openCount >= s.maxOpenEvents {
		dto.BadResponseError(ctx, dto.TooManyOpenEvents,
			fmt.Sprintf("At most %d events may be open at once", s.maxOpenEvents))
		return
	}

	event := &model.Event{
		Name:         req.Name,
		StartTime:    req.StartTime,
		TankSlots:    req.TankSlots,
		SupportSlots: req.SupportSlots,
		DPSSlots:     req.DPSSlots,
		Status:       model.EventOpen,
	}

	id, err := s.repo.CreateEvent(ctx.Request.Context(), event)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to create event in DB")
		dto.InternalServerError(ctx)
		return
	}

	event.ID = id
	event.CreatedAt = time.Now()
	s.log.Info().Int64("event_id", id).Msg("event created successfully")

	dto.SuccessCreatedResponse(ctx, dto.NewEventResponse(event))
}

func (s *service) GetAllEvents(ctx *ginext.Context) {
	events, err := s.repo.GetAllEvents(ctx.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("failed to get events")
		dto.InternalServerError(ctx)
		return
	}

	resp := make([]dto.EventResponse, 0, len(events))
	for i := range events {
		resp = append(resp, dto.NewEventResponse(&events[i]))
	}
	dto.SuccessResponse(ctx, resp)
}

func (s *service) GetInfo(ctx *ginext.Context) {
	eventID, ok := eventIDParam(ctx)
	if !ok {
		return
	}
	isAdmin := ctx.Query("admin") == "true"

	event, err := s.repo.GetEventByID(ctx.Request.Context(), eventID)
	if err != nil {
		dto.EventNotFoundError(ctx)
		return
	}

	regs, err := s.repo.GetRegistrationsByEventID(ctx.Request.Context(), eventID)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to get registrations")
		dto.InternalServerError(ctx)
		return
	}

	occupancy := make(map[string]int, len(model.Roles))
	for _, role := range model.Roles {
		occupancy[string(role)] = 0
	}
	for _, reg := range regs {
		if reg.Status.Occupies() {
			occupancy[string(reg.Role)]++
		}
	}

	resp := dto.EventInfoResponse{
		EventResponse: dto.NewEventResponse(event),
		Occupancy:     occupancy,
		UpdatedAt:     event.UpdatedAt,
	}
	if isAdmin {
		for i := range regs {
			resp.Registrations = append(resp.Registrations, *dto.NewRegistrationResponse(&regs[i]))
		}
	}

	dto.SuccessResponse(ctx, resp)
}

func (s *service) Register(ctx *ginext.Context) {
	eventID, ok := eventIDParam(ctx)
	if !ok {
		return
	}

	var req dto.RegisterRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}

	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	outcome, err := s.coord.Register(ctx.Request.Context(), engine.RegisterRequest{
		EventID:       eventID,
		ParticipantID: req.ParticipantID,
		Role:          model.Role(req.Role),
		Kind:          model.Kind(req.Kind),
		CharacterName: req.CharacterName,
		Build:         req.Build,
	})
	if err != nil {
		s.respondEngineError(ctx, err)
		return
	}

	if outcome.Demoted != nil {
		s.publishNotice(dto.RaidNoticeMessage{
			Type:          dto.NoticeParticipantDemoted,
			EventID:       eventID,
			ParticipantID: outcome.Demoted.ParticipantID,
			Role:          string(outcome.Demoted.Role),
		})
	}

	dto.SuccessCreatedResponse(ctx, dto.RegisterResponse{
		Registration: dto.NewRegistrationResponse(outcome.Registration),
		Demoted:      dto.NewRegistrationResponse(outcome.Demoted),
	})
}

func (s *service) Unregister(ctx *ginext.Context) {
	eventID, ok := eventIDParam(ctx)
	if !ok {
		return
	}

	var req dto.UnregisterRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}

	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	outcome, err := s.coord.Unregister(ctx.Request.Context(), eventID, req.ParticipantID)
	if err != nil {
		s.respondEngineError(ctx, err)
		return
	}

	if outcome.Promoted != nil {
		s.publishNotice(dto.RaidNoticeMessage{
			Type:          dto.NoticeParticipantPromoted,
			EventID:       eventID,
			ParticipantID: outcome.Promoted.ParticipantID,
			Role:          string(outcome.Promoted.Role),
		})
	}

	dto.SuccessResponse(ctx, dto.UnregisterResponse{
		Removed:  dto.NewRegistrationResponse(outcome.Removed),
		Promoted: dto.NewRegistrationResponse(outcome.Promoted),
	})
}

func (s *service) PublishEvent(ctx *ginext.Context) {
	eventID, ok := eventIDParam(ctx)
	if !ok {
		return
	}

	if err := s.repo.SetEventPublished(ctx.Request.Context(), eventID, true); err != nil {
		s.respondEngineError(ctx, err)
		return
	}

	s.log.Info().Int64("event_id", eventID).Msg("event published")
	dto.SuccessResponse(ctx, map[string]any{"id": eventID, "published": true})
}

func (s *service) Lock(ctx *ginext.Context) {
	s.setLocked(ctx, true)
}

func (s *service) Unlock(ctx *ginext.Context) {
	s.setLocked(ctx, false)
}

func (s *service) setLocked(ctx *ginext.Context, locked bool) {
	eventID, ok := eventIDParam(ctx)
	if !ok {
		return
	}

	event, err := s.coord.SetLocked(ctx.Request.Context(), eventID, locked)
	if err != nil {
		s.respondEngineError(ctx, err)
		return
	}

	if locked {
		s.publishNotice(dto.RaidNoticeMessage{Type: dto.NoticeEventLocked, EventID: eventID})
	}
	dto.SuccessResponse(ctx, dto.NewEventResponse(event))
}

func (s *service) Complete(ctx *ginext.Context) {
	eventID, ok := eventIDParam(ctx)
	if !ok {
		return
	}

	event, err := s.coord.Complete(ctx.Request.Context(), eventID)
	if err != nil {
		s.respondEngineError(ctx, err)
		return
	}

	s.publishNotice(dto.RaidNoticeMessage{Type: dto.NoticeEventCompleted, EventID: eventID})
	dto.SuccessResponse(ctx, dto.NewEventResponse(event))
}

func (s *service) Cancel(ctx *ginext.Context) {
	eventID, ok := eventIDParam(ctx)
	if !ok {
		return
	}

	event, err := s.coord.Cancel(ctx.Request.Context(), eventID)
	if err != nil {
		s.respondEngineError(ctx, err)
		return
	}
	dto.SuccessResponse(ctx, dto.NewEventResponse(event))
}

func (s *service) Health(ctx *ginext.Context) {
	if err := s.repo.Ping(); err != nil {
		ctx.JSON(503, map[string]any{"status": "down", "db": err.Error()})
		return
	}
	if !s.health.Healthy() {
		ctx.JSON(503, map[string]any{"status": "degraded", "scheduler": "store unreachable"})
		return
	}
	ctx.JSON(200, map[string]any{"status": "ok"})
}

// respondEngineError maps core errors onto short user-facing codes.
// Transaction failures and anything unexpected collapse into a generic
// retry-suggested message so internals never leak.
func (s *service) respondEngineError(ctx *ginext.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrEventNotFound):
		dto.EventNotFoundError(ctx)
	case errors.Is(err, engine.ErrAlreadyRegistered):
		dto.RegistrationDuplicateError(ctx)
	case errors.Is(err, engine.ErrEventNotOpen):
		dto.EventNotOpenError(ctx)
	case errors.Is(err, engine.ErrNotRegistered):
		dto.RegistrationNotFoundError(ctx)
	default:
		s.log.Error().Err(err).Msg("registration operation failed")
		dto.InternalServerError(ctx)
	}
}

// publishNotice hands a committed outcome to the notification pipeline.
// The core result already stands; a publish failure is logged and dropped.
func (s *service) publishNotice(msg dto.RaidNoticeMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal raid notice")
		return
	}
	if err := s.pub.Publish(payload, 0); err != nil {
		s.log.Warn().Err(err).Str("type", msg.Type).Int64("event_id", msg.EventID).
			Msg("failed to publish raid notice")
	}
}

func eventIDParam(ctx *ginext.Context) (int64, bool) {
	eventID, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid event ID")
		return 0, false
	}
	return eventID, true
}
