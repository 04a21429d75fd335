package services

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// AgentFailure wraps a collaborator error with its retry classification.
// Transient failures (timeout, rate limit, momentary unavailability) are
// retried; permanent failures (contract violations, deterministic errors)
// short-circuit to the workflow ERROR state.
type AgentFailure struct {
	Agent     string
	Transient bool
	Err       error
}

func (e *AgentFailure) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("agent %s: %s failure: %v", e.Agent, kind, e.Err)
}

func (e *AgentFailure) Unwrap() error {
	return e.Err
}

// TransientFailure marks an error as retryable.
func TransientFailure(agent string, err error) *AgentFailure {
	return &AgentFailure{Agent: agent, Transient: true, Err: err}
}

// PermanentFailure marks an error as not worth retrying.
func PermanentFailure(agent string, err error) *AgentFailure {
	return &AgentFailure{Agent: agent, Transient: false, Err: err}
}

// IsTransient reports whether err should be retried. Unclassified network
// and deadline errors count as transient; anything else is permanent.
func IsTransient(err error) bool {
	var failure *AgentFailure
	if errors.As(err, &failure) {
		return failure.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
