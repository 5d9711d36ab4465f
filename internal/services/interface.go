package services

import (
	"errors"

	"stepgate/backend/internal/planner"
)

// ErrPlannerUnavailable is returned by the free-text path when no planner
// is configured.
var ErrPlannerUnavailable = errors.New("planner is not configured")

// Planner synthesises workflow steps from free text.
type Planner = planner.Planner

// Logger is the logging interface used by the services.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any) {}
func (nopLogger) Warn(string, ...any) {}
