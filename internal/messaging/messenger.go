// Package messaging delivers workflow events to the humans supervising a
// session and carries their control requests back.
package messaging

import (
	"context"

	"stepgate/backend/pkg/models"
)

// Messenger delivers an event to the listeners of a session.
type Messenger interface {
	SendEvent(ctx context.Context, sessionID string, event models.Event)
}

// ControlHandler applies a control request and reports whether it was
// dispatched.
type ControlHandler func(ctx context.Context, req models.ControlRequest) (bool, error)

// Logger is the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Fanout sends every event to each of its messengers in order.
type Fanout []Messenger

// SendEvent implements Messenger.
func (f Fanout) SendEvent(ctx context.Context, sessionID string, event models.Event) {
	for _, m := range f {
		if m != nil {
			m.SendEvent(ctx, sessionID, event)
		}
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
