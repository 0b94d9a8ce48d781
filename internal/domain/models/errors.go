package models

import "errors"

var (
	ErrStateConflict  = errors.New("signal state: version conflict")
	ErrNotFound       = errors.New("not found")
	ErrAlreadyReplied = errors.New("interaction: final reply already sent")
	ErrNotDeferred    = errors.New("interaction: not deferred")
	ErrReplyWindow    = errors.New("interaction: follow-up window elapsed")
	ErrUnknownCommand = errors.New("command: unknown")
	ErrInvalidParams  = errors.New("command: invalid params")
	ErrUnavailable    = errors.New("downstream unavailable")
)

// UserMessageKind selects one of the fixed outward-facing strings.
type UserMessageKind int

const (
	UserMsgGeneric UserMessageKind = iota
	UserMsgInvalidInput
	UserMsgUnavailable
	UserMsgUnknownCommand
	UserMsgNoData
)

// UserMessage returns the user-safe text for kind. Internal error detail never leaks here.
func UserMessage(kind UserMessageKind) string {
	switch kind {
	case UserMsgInvalidInput:
		return "Invalid command parameters. Check the command usage and try again."
	case UserMsgUnavailable:
		return "The signal service is temporarily unavailable. Please try again shortly."
	case UserMsgUnknownCommand:
		return "Unknown command. Use /help to see available commands."
	case UserMsgNoData:
		return "No signal recorded yet for this pair and timeframe."
	default:
		return "Something went wrong. Please try again later."
	}
}

// UserMessageFor maps an internal error onto a user-safe string.
func UserMessageFor(err error) string {
	switch {
	case errors.Is(err, ErrInvalidParams):
		return UserMessage(UserMsgInvalidInput)
	case errors.Is(err, ErrUnknownCommand):
		return UserMessage(UserMsgUnknownCommand)
	case errors.Is(err, ErrUnavailable):
		return UserMessage(UserMsgUnavailable)
	case errors.Is(err, ErrNotFound):
		return UserMessage(UserMsgNoData)
	default:
		return UserMessage(UserMsgGeneric)
	}
}
