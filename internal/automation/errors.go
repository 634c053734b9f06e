package automation

import "errors"

// Sentinel errors for automations.
var (
	ErrAutomationNotFound = errors.New("automation not found")
	ErrRunNotFound        = errors.New("automation run not found")
	ErrLeadNotFound       = errors.New("lead not found")
	ErrTemplateNotFound   = errors.New("email template not found")
	ErrUnknownActionType  = errors.New("unknown action type")
	ErrInvalidConfig      = errors.New("invalid action config")
)
