package services

import "errors"

var (
	ErrValidation          = errors.New("validation failed")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrWorkflowNotFound    = errors.New("capa workflow not found")
	ErrActionNotFound      = errors.New("capa action not found")
	ErrMilestoneNotFound   = errors.New("milestone not found")
	ErrTemplateNotFound    = errors.New("email template not found")
	ErrEventNotFound       = errors.New("email event not found")
	ErrTaskNotFound        = errors.New("scheduled task not found")
	ErrAttachmentsDisabled = errors.New("attachment storage is not configured")

	// ErrGenerationDisabled is returned by DisabledGenerator so callers take their fallback path.
	ErrGenerationDisabled = errors.New("text generation is not configured")
)
