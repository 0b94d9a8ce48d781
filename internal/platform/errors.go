package platform

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"FxAlert/internal/domain/models"
)

// Platform error codes the acknowledger cares about.
const (
	CodeUnknownInteraction  = 10062
	CodeAlreadyAcknowledged = 40060
)

// Error is a non-2xx answer from the platform API.
type Error struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("platform: status %d code %d: %s", e.Status, e.Code, e.Message)
}

// Classify maps an Ack or EditFinalReply error onto the error taxonomy.
func Classify(err error) models.ErrorClass {
	if err == nil {
		return models.ClassSuccess
	}
	var pe *Error
	if errors.As(err, &pe) {
		switch {
		case pe.Code == CodeAlreadyAcknowledged:
			return models.ClassAlreadyAcknowledged
		case pe.Code == CodeUnknownInteraction, pe.Status == http.StatusNotFound:
			return models.ClassExpired
		case pe.Status >= 500, pe.Status == http.StatusTooManyRequests:
			return models.ClassTransient
		case pe.Status == http.StatusBadRequest:
			return models.ClassValidation
		default:
			return models.ClassUnknown
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ClassTransient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return models.ClassTransient
	}
	return models.ClassUnknown
}
