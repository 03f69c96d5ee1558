package chat

import (
	"context"
	"sync/atomic"
)

// Turn is one send: a user message and the model reply streaming into it.
type Turn struct {
	SessionID      string
	UserMessageID  string
	ModelMessageID string

	cancel  context.CancelFunc
	stopped atomic.Bool
	settled chan struct{}
	done    chan struct{}
	err     error
}

func newTurn(sessionID, userID, modelID string, cancel context.CancelFunc) *Turn {
	return &Turn{
		SessionID:      sessionID,
		UserMessageID:  userID,
		ModelMessageID: modelID,
		cancel:         cancel,
		settled:        make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Settled is closed once the reply stopped growing, before any title is
// generated.
func (t *Turn) Settled() <-chan struct{} {
	return t.settled
}

// Done is closed after Settled once any title was applied.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Err returns the generation failure of the turn once Settled is closed.
// Stopped turns report nil.
func (t *Turn) Err() error {
	select {
	case <-t.settled:
		return t.err
	default:
		return nil
	}
}

// Stopped reports whether the turn was cancelled by the user or by
// deleting its session.
func (t *Turn) Stopped() bool {
	return t.stopped.Load()
}

func (t *Turn) stop() {
	t.stopped.Store(true)
	t.cancel()
}
