package domain

import "errors"

// Domain error taxonomy. Handlers map these to the outbound error frame's
// stable `code` values (see internal/protocol).
var (
	ErrChatNotFound    = errors.New("chat not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotOwner        = errors.New("chat not owned by requester")
	ErrVersionConflict = errors.New("version conflict")
	ErrUpstream        = errors.New("upstream collaborator unavailable")
	ErrProtocol        = errors.New("malformed or unknown frame")
	ErrStepUpRequired  = errors.New("device fingerprint requires step-up verification")
	ErrQueueOverflow   = errors.New("outbound queue overflow")
	ErrInvalidComponent = errors.New("invalid version component")
)
