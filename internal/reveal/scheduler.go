// Package reveal paces how much of a growing message is shown, independent
// of how fast its text arrives.
//
// Each frame the displayed cursor closes 18% of the remaining gap (at least
// one character), so it moves quickly when far behind the live edge and
// slows as it catches up. The cursor never passes the end of the content
// and snaps back when the content shrinks.
package reveal

import (
	"context"
	"errors"
	"math"
	"time"
)

const (
	// DefaultFrame is one display frame at roughly 60fps.
	DefaultFrame = 16 * time.Millisecond

	catchUpRate = 0.18
)

// ErrSourceGone is returned by Run when the revealed message disappears.
var ErrSourceGone = errors.New("reveal source no longer exists")

// Step returns the cursor position after one frame.
func Step(displayed, full int) int {
	if displayed >= full {
		return full
	}
	gap := full - displayed
	inc := int(math.Ceil(float64(gap) * catchUpRate))
	if inc > gap {
		inc = gap
	}
	if inc < 1 {
		inc = 1
	}
	return displayed + inc
}

// Scheduler holds the displayed cursor of one message, counted in runes.
type Scheduler struct {
	shown int
}

// Cursor returns the number of characters currently displayed.
func (s *Scheduler) Cursor() int {
	return s.shown
}

// Next advances one frame and returns the text to display. When the
// message is no longer streaming the whole content is shown at once.
func (s *Scheduler) Next(content string, streaming bool) string {
	runes := []rune(content)
	if !streaming || s.shown >= len(runes) {
		s.shown = len(runes)
		return content
	}
	s.shown = Step(s.shown, len(runes))
	return string(runes[:s.shown])
}

// Source reports the full content of the revealed message and whether it
// is still streaming. ok is false once the message no longer exists.
type Source func() (content string, streaming bool, ok bool)

// EmitFunc receives the displayed text whenever it changes.
type EmitFunc func(text string) error

// Run drives a Scheduler from ticks until the source stops streaming and
// its full content has been emitted, or ctx is cancelled.
func Run(ctx context.Context, ticks <-chan time.Time, src Source, emit EmitFunc) error {
	var (
		sch     Scheduler
		last    string
		emitted bool
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticks:
		}
		content, streaming, ok := src()
		if !ok {
			return ErrSourceGone
		}
		text := sch.Next(content, streaming)
		if !emitted || text != last {
			if err := emit(text); err != nil {
				return err
			}
			last, emitted = text, true
		}
		if !streaming {
			return nil
		}
	}
}

// Handle controls a running reveal loop.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Start runs the reveal loop on a frame ticker in its own goroutine.
func Start(ctx context.Context, frame time.Duration, src Source, emit EmitFunc) *Handle {
	if frame <= 0 {
		frame = DefaultFrame
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	ticker := time.NewTicker(frame)
	go func() {
		defer close(h.done)
		defer ticker.Stop()
		h.err = Run(ctx, ticker.C, src, emit)
	}()
	return h
}

// Stop cancels the loop and waits for it to exit.
func (h *Handle) Stop() {
	h.cancel()
	<-h.done
}

// Done is closed when the loop exits.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns why the loop exited. Only valid after Done is closed.
func (h *Handle) Err() error {
	return h.err
}
