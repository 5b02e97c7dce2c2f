package factory

import (
	"errors"
	"fmt"
)

// LaunchErrorKind classifies a failed launch.
type LaunchErrorKind string

const (
	ConfigInvalid         LaunchErrorKind = "config_invalid"
	BindFailed            LaunchErrorKind = "bind_failed"
	DependencyUnavailable LaunchErrorKind = "dependency_unavailable"
)

// Sentinels matching each kind with errors.Is.
var (
	ErrConfigInvalid         = errors.New("agent config invalid")
	ErrBindFailed            = errors.New("agent bind failed")
	ErrDependencyUnavailable = errors.New("agent dependency unavailable")
)

// LaunchError is returned by LaunchAgent. It only concerns the one agent.
type LaunchError struct {
	Kind  LaunchErrorKind
	Agent string
	Err   error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %s: %v", e.Agent, e.Kind, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Is matches the sentinel for e's kind.
func (e *LaunchError) Is(target error) bool {
	switch target {
	case ErrConfigInvalid:
		return e.Kind == ConfigInvalid
	case ErrBindFailed:
		return e.Kind == BindFailed
	case ErrDependencyUnavailable:
		return e.Kind == DependencyUnavailable
	}
	return false
}

func launchErr(kind LaunchErrorKind, agentID string, err error) *LaunchError {
	return &LaunchError{Kind: kind, Agent: agentID, Err: err}
}
