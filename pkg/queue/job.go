package queue

import "context"

// Job handles every message of one type.
type Job interface {
	Name() string
	Type() string

	// Handle receives the payload as json.RawMessage. Returning an error
	// schedules a retry unless it is wrapped with Permanent.
	Handle(ctx context.Context, payload interface{}) error
}
