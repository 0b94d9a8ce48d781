package models

import "time"

// DefaultAckDeadline is the window the platform gives for the first response.
const DefaultAckDeadline = 3000 * time.Millisecond

// AckState is the acknowledgment lifecycle of an inbound interaction.
type AckState int

const (
	AckPending AckState = iota
	AckDeferred
	AckReplied
	AckExpired
	AckFailed
)

func (s AckState) String() string {
	switch s {
	case AckPending:
		return "pending"
	case AckDeferred:
		return "deferred"
	case AckReplied:
		return "replied"
	case AckExpired:
		return "expired"
	case AckFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further acknowledgment transition is allowed.
// Deferred may still move to Replied.
func (s AckState) Terminal() bool {
	return s == AckReplied || s == AckExpired || s == AckFailed
}

// Succeeded reports whether the interaction was acknowledged.
func (s AckState) Succeeded() bool {
	return s == AckDeferred || s == AckReplied
}

// CanTransition enforces monotonic transitions:
// Pending -> {Deferred, Expired, Failed}, Deferred -> Replied.
func (s AckState) CanTransition(to AckState) bool {
	switch s {
	case AckPending:
		return to == AckDeferred || to == AckExpired || to == AckFailed
	case AckDeferred:
		return to == AckReplied
	default:
		return false
	}
}

// InboundInteraction is one time-boxed command request.
type InboundInteraction struct {
	ID          string            `json:"id"`
	Token       string            `json:"token"`
	CreatedAt   time.Time         `json:"created_at"`
	Deadline    time.Time         `json:"deadline"`
	CommandName string            `json:"command_name"`
	Params      map[string]string `json:"params,omitempty"`
	UserID      string            `json:"user_id,omitempty"`
	ChannelID   string            `json:"channel_id,omitempty"`
}

// NewInboundInteraction fills the deadline from createdAt.
func NewInboundInteraction(id, token string, createdAt time.Time, command string, params map[string]string) InboundInteraction {
	return InboundInteraction{
		ID:          id,
		Token:       token,
		CreatedAt:   createdAt,
		Deadline:    createdAt.Add(DefaultAckDeadline),
		CommandName: command,
		Params:      params,
	}
}

// Remaining returns the time left before the acknowledgment deadline.
func (i InboundInteraction) Remaining(now time.Time) time.Duration {
	return i.Deadline.Sub(now)
}

// Age returns how long ago the interaction was created.
func (i InboundInteraction) Age(now time.Time) time.Duration {
	return now.Sub(i.CreatedAt)
}

// ErrorClass is the classification of a platform response.
type ErrorClass string

const (
	ClassSuccess             ErrorClass = "success"
	ClassAlreadyAcknowledged ErrorClass = "already_acknowledged"
	ClassExpired             ErrorClass = "expired"
	ClassTransient           ErrorClass = "transient"
	ClassValidation          ErrorClass = "validation"
	ClassUnavailable         ErrorClass = "downstream_unavailable"
	ClassUnknown             ErrorClass = "unknown"
)
