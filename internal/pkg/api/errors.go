package api

import "github.com/pkg/errors"

var (
	// ErrDeviceBusy - device already owns an active session
	ErrDeviceBusy = errors.New("device busy")
	// ErrDeviceUnknown - device not found in the registry
	ErrDeviceUnknown = errors.New("device unknown")
	// ErrUnauthorized - operator not allowed for the device organization
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUnknownSession - no live session for the id
	ErrUnknownSession = errors.New("unknown session")
	// ErrNotActive - segment delivered to a session that is not streaming
	ErrNotActive = errors.New("session not active")
	// ErrInvalidTransition - pause/resume not allowed from the current state
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrConnectionFailed - stream channel could not be opened
	ErrConnectionFailed = errors.New("connection failed")
)
