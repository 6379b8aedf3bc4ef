package dto

import (
	"time"

	"github.com/wb-go/wbf/ginext"

	"raidbot/internal/model"
)

const (
	FieldBadFormat     = "FIELD_BADFORMAT"
	FieldIncorrect     = "FIELD_INCORRECT"
	ServiceUnavailable = "SERVICE_UNAVAILABLE"
	InternalError      = "Service is currently unavailable. Please try again later."

	EventNotFound         = "EVENT_NOT_FOUND"
	EventNotOpen          = "EVENT_NOT_OPEN"
	RegistrationNotFound  = "REGISTRATION_NOT_FOUND"
	RegistrationDuplicate = "REGISTRATION_DUPLICATE"
	TooManyOpenEvents     = "TOO_MANY_OPEN_EVENTS"
)

type CreateEventRequest struct {
	Name         string    `json:"name" validate:"required,max=255"`
	StartTime    time.Time `json:"start_time" validate:"required,future"`
	TankSlots    int       `json:"tank_slots" validate:"gte=0"`
	SupportSlots int       `json:"support_slots" validate:"gte=0"`
	DPSSlots     int       `json:"dps_slots" validate:"gte=0"`
}

type RegisterRequest struct {
	ParticipantID string `json:"participant_id" validate:"required,max=64"`
	Role          string `json:"role" validate:"required,role"`
	Kind          string `json:"kind" validate:"required,kind"`
	CharacterName string `json:"character_name" validate:"max=255"`
	Build         string `json:"build" validate:"max=255"`
}

type UnregisterRequest struct {
	ParticipantID string `json:"participant_id" validate:"required,max=64"`
}

type RegistrationResponse struct {
	ID            int64     `json:"id"`
	EventID       int64     `json:"event_id"`
	ParticipantID string    `json:"participant_id"`
	Role          string    `json:"role"`
	Kind          string    `json:"kind"`
	Status        string    `json:"status"`
	CharacterName string    `json:"character_name,omitempty"`
	Build         string    `json:"build,omitempty"`
	RegisteredAt  time.Time `json:"registered_at"`
}

// NewRegistrationResponse converts a model row; nil passes through so
// optional demoted/promoted parties stay absent from the JSON.
func NewRegistrationResponse(reg *model.Registration) *RegistrationResponse {
	if reg == nil {
		return nil
	}
	return &RegistrationResponse{
		ID:            reg.ID,
		EventID:       reg.EventID,
		ParticipantID: reg.ParticipantID,
		Role:          string(reg.Role),
		Kind:          string(reg.Kind),
		Status:        string(reg.Status),
		CharacterName: reg.CharacterName,
		Build:         reg.Build,
		RegisteredAt:  reg.RegisteredAt,
	}
}

type RegisterResponse struct {
	Registration *RegistrationResponse `json:"registration"`
	Demoted      *RegistrationResponse `json:"demoted,omitempty"`
}

type UnregisterResponse struct {
	Removed  *RegistrationResponse `json:"removed"`
	Promoted *RegistrationResponse `json:"promoted,omitempty"`
}

type EventResponse struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	StartTime    time.Time `json:"start_time"`
	TankSlots    int       `json:"tank_slots"`
	SupportSlots int       `json:"support_slots"`
	DPSSlots     int       `json:"dps_slots"`
	Status       string    `json:"status"`
	Locked       bool      `json:"locked"`
	Published    bool      `json:"published"`
	CreatedAt    time.Time `json:"created_at"`
}

type EventInfoResponse struct {
	EventResponse
	Occupancy     map[string]int         `json:"occupancy"`
	UpdatedAt     time.Time              `json:"updated_at"`
	Registrations []RegistrationResponse `json:"registrations,omitempty"`
}

func NewEventResponse(e *model.Event) EventResponse {
	return EventResponse{
		ID:           e.ID,
		Name:         e.Name,
		StartTime:    e.StartTime,
		TankSlots:    e.TankSlots,
		SupportSlots: e.SupportSlots,
		DPSSlots:     e.DPSSlots,
		Status:       string(e.Status),
		Locked:       e.Locked,
		Published:    e.Published,
		CreatedAt:    e.CreatedAt,
	}
}

// Notice types carried over the queue to the notification worker.
const (
	NoticeReminderDue         = "reminder_due"
	NoticeEventLocked         = "event_locked"
	NoticeEventCompleted      = "event_completed"
	NoticeParticipantDemoted  = "participant_demoted"
	NoticeParticipantPromoted = "participant_promoted"
)

// RaidNoticeMessage is the queue payload for one notification-worthy
// outcome. ParticipantID and Role are set only for participant notices.
type RaidNoticeMessage struct {
	Type          string `json:"type"`
	EventID       int64  `json:"event_id"`
	ParticipantID string `json:"participant_id,omitempty"`
	Role          string `json:"role,omitempty"`
}

type Response struct {
	Status string `json:"status"`
	Error  *Error `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

type Error struct {
	Code string `json:"code"`
	Desc string `json:"desc"`
}

func BadResponseError(c *ginext.Context, code, desc string) {
	c.JSON(400, Response{
		Status: "error",
		Error: &Error{
			Code: code,
			Desc: desc,
		},
	})
}

func InternalServerError(c *ginext.Context) {
	c.JSON(500, Response{
		Status: "error",
		Error: &Error{
			Code: ServiceUnavailable,
			Desc: InternalError,
		},
	})
}

func EventNotFoundError(c *ginext.Context) {
	BadResponseError(c, EventNotFound, "Event not found")
}

func EventNotOpenError(c *ginext.Context) {
	BadResponseError(c, EventNotOpen, "Event is not open for registration")
}

func RegistrationNotFoundError(c *ginext.Context) {
	BadResponseError(c, RegistrationNotFound, "Registration not found")
}

func RegistrationDuplicateError(c *ginext.Context) {
	BadResponseError(c, RegistrationDuplicate, "You have already registered for this event")
}

func SuccessResponse(c *ginext.Context, data any) {
	c.JSON(200, Response{
		Status: "ok",
		Data:   data,
	})
}

func SuccessCreatedResponse(c *ginext.Context, data any) {
	c.JSON(201, Response{
		Status: "ok",
		Data:   data,
	})
}
