// Package chat owns the session store and runs one streamed reply at a time.
package chat

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jomidokhol/nur-ai/internal/models"
	"github.com/jomidokhol/nur-ai/internal/persistence"
	"github.com/jomidokhol/nur-ai/internal/service/ai"
	"github.com/jomidokhol/nur-ai/internal/store"
)

// SourceInfo is attached to every model reply.
const SourceInfo = "Guest Session: Optimized multi-lingual reasoning."

const (
	defaultSaveTimeout  = 2 * time.Second
	defaultTitleTimeout = 15 * time.Second
)

type Options struct {
	SaveTimeout  time.Duration
	TitleTimeout time.Duration
}

// Controller is the only writer of the session store. Every mutation runs
// under mu and is saved before the lock is released.
type Controller struct {
	mu       sync.Mutex
	store    *store.Store
	persist  persistence.Store
	gen      ai.Generator
	settings models.Settings
	state    State
	active   *Turn

	saveTimeout  time.Duration
	titleTimeout time.Duration
	now          func() time.Time
	newID        func() string
	wg           sync.WaitGroup
}

// New wires a controller. persist may be nil, in which case nothing is saved.
func New(st *store.Store, persist persistence.Store, gen ai.Generator, opts Options) *Controller {
	if st == nil {
		st = store.New()
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = defaultSaveTimeout
	}
	if opts.TitleTimeout <= 0 {
		opts.TitleTimeout = defaultTitleTimeout
	}
	return &Controller{
		store:        st,
		persist:      persist,
		gen:          gen,
		settings:     models.DefaultSettings(),
		saveTimeout:  opts.SaveTimeout,
		titleTimeout: opts.TitleTimeout,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        uuid.NewString,
	}
}

// Load restores the saved sessions and theme. Missing or unreadable data
// leaves the store empty.
func (c *Controller) Load(ctx context.Context) {
	if c.persist == nil {
		return
	}
	sessions, err := c.persist.Load(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case err == nil:
		c.store.Restore(sessions)
		log.Printf("restored %d sessions", c.store.Len())
	case errors.Is(err, persistence.ErrNoSnapshot):
		debugLog("no saved sessions, starting empty")
	default:
		log.Printf("load sessions failed, starting empty: %v", err)
	}

	theme, err := c.persist.LoadTheme(ctx)
	switch {
	case err == nil:
		c.settings.Theme = theme
	case errors.Is(err, persistence.ErrNoSnapshot):
	default:
		log.Printf("load theme failed: %v", err)
	}
}

// Close stops the active reply and waits for background work to finish.
func (c *Controller) Close() {
	c.StopStreaming()
	c.wg.Wait()
}

func (c *Controller) CreateSession() models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	se := c.createLocked()
	c.saveLocked()
	return se
}

func (c *Controller) createLocked() models.Session {
	se := models.Session{
		ID:        c.newID(),
		Title:     models.PlaceholderTitle,
		Messages:  []models.Message{},
		CreatedAt: c.now(),
	}
	c.store.Prepend(se)
	c.store.SetCurrent(se.ID)
	return se
}

func (c *Controller) SelectSession(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == "" || !c.store.SetCurrent(id) {
		return ErrSessionNotFound
	}
	c.saveLocked()
	return nil
}

// DeleteSession removes a session; unknown ids are ignored. A reply
// streaming into the session is stopped.
func (c *Controller) DeleteSession(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil && c.active.SessionID == id {
		c.stopLocked()
	}
	if c.store.Remove(id) {
		c.saveLocked()
	}
}

// SendMessage appends the user message and an empty reply, then streams the
// reply in the background. While another reply streams the call is rejected
// with ErrStreamActive and nothing changes.
func (c *Controller) SendMessage(ctx context.Context, text string, files []models.FileAttachment) (*Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked(ctx, text, files)
}

// UpdateMessage drops the message and everything after it from the current
// session, then sends newText as a fresh message.
func (c *Controller) UpdateMessage(ctx context.Context, messageID, newText string) (*Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if strings.TrimSpace(newText) == "" {
		return nil, ErrEmptyMessage
	}
	if c.state == Streaming {
		return nil, ErrStreamActive
	}
	sessionID := c.store.CurrentID()
	if _, _, ok := c.store.FindMessage(sessionID, messageID); !ok {
		return nil, ErrMessageNotFound
	}
	c.store.TruncateFrom(sessionID, messageID)
	return c.sendLocked(ctx, newText, nil)
}

func (c *Controller) sendLocked(ctx context.Context, text string, files []models.FileAttachment) (*Turn, error) {
	if strings.TrimSpace(text) == "" && len(files) == 0 {
		return nil, ErrEmptyMessage
	}
	if c.state == Streaming {
		debugLog("send dropped: reply still streaming in %s", c.active.SessionID)
		return nil, ErrStreamActive
	}

	sessionID := c.store.CurrentID()
	if sessionID == "" {
		sessionID = c.createLocked().ID
	}
	session, _ := c.store.Session(sessionID)
	needsTitle := session.Title == models.PlaceholderTitle

	now := c.now()
	userMsg := models.Message{
		ID:        c.newID(),
		Role:      models.RoleUser,
		Content:   text,
		Timestamp: now,
		Files:     files,
	}
	modelMsg := models.Message{
		ID:         c.newID(),
		Role:       models.RoleModel,
		Timestamp:  now,
		SourceInfo: SourceInfo,
	}
	c.store.AppendMessage(sessionID, userMsg)
	c.store.AppendMessage(sessionID, modelMsg)

	req := ai.Request{
		SessionID: sessionID,
		Prompt:    BuildPrompt(text, c.settings),
		History:   buildHistory(session.Messages),
		Mode:      c.settings.Mode,
		Files:     files,
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	turn := newTurn(sessionID, userMsg.ID, modelMsg.ID, cancel)
	c.state = Streaming
	c.active = turn
	c.saveLocked()

	c.wg.Add(1)
	go c.run(streamCtx, turn, req, needsTitle, text)
	return turn, nil
}

// StopStreaming cancels the active reply. Content already received stays.
func (c *Controller) StopStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Streaming {
		return false
	}
	c.stopLocked()
	return true
}

func (c *Controller) stopLocked() {
	if c.active != nil {
		c.active.stop()
	}
	c.active = nil
	c.state = Idle
}

func (c *Controller) TogglePin(messageID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var pinned bool
	ok := c.store.UpdateMessage(c.store.CurrentID(), messageID, func(m *models.Message) {
		m.IsPinned = !m.IsPinned
		pinned = m.IsPinned
	})
	if !ok {
		return false, ErrMessageNotFound
	}
	c.saveLocked()
	return pinned, nil
}

func (c *Controller) run(ctx context.Context, t *Turn, req ai.Request, needsTitle bool, seed string) {
	defer c.wg.Done()
	defer close(t.done)

	err := c.consume(ctx, t, req)
	failed := err != nil && !t.Stopped()
	if failed {
		c.fail(t, err)
	}
	close(t.settled)
	if !failed && needsTitle {
		c.applyTitle(t.SessionID, seed)
	}
}

// consume streams fragments into the reply. The state returns to Idle when
// it ends, whatever the outcome.
func (c *Controller) consume(ctx context.Context, t *Turn, req ai.Request) error {
	defer c.release(t)

	stream, err := c.gen.StreamGenerate(ctx, req)
	if err != nil {
		return err
	}
	defer stream.Close()

	acc := accumulator{sessionID: t.SessionID, messageID: t.ModelMessageID}
	for {
		if t.Stopped() {
			return nil
		}
		frag, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if !c.apply(t, acc, frag.Text) {
			return nil
		}
	}
}

// apply reports false once the turn was stopped or its message is gone.
func (c *Controller) apply(t *Turn, acc accumulator, fragment string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Stopped() {
		return false
	}
	if fragment == "" {
		return true
	}
	if !acc.apply(c.store, fragment) {
		debugLog("reply target %s gone, ending stream", t.ModelMessageID)
		return false
	}
	c.saveLocked()
	return true
}

func (c *Controller) release(t *Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t.cancel()
	if c.active == t {
		c.active = nil
		c.state = Idle
	}
}

func (c *Controller) fail(t *Turn, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Stopped() {
		return
	}
	t.err = err
	log.Printf("generation failed in session %s: %v", t.SessionID, err)
	notice := NoticeFor(err)
	if c.store.UpdateMessage(t.SessionID, t.ModelMessageID, func(m *models.Message) {
		m.Content = notice
	}) {
		c.saveLocked()
	}
}

// applyTitle names a session after its first message. Failures keep the
// placeholder.
func (c *Controller) applyTitle(sessionID, seed string) {
	c.mu.Lock()
	_, ok := c.store.Session(sessionID)
	c.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.titleTimeout)
	defer cancel()
	title := strings.TrimSpace(c.gen.GenerateTitle(ctx, seed))
	if title == "" {
		title = models.PlaceholderTitle
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store.SetTitle(sessionID, title) {
		c.saveLocked()
	}
}

func (c *Controller) saveLocked() {
	if c.persist == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.saveTimeout)
	defer cancel()
	if err := c.persist.Save(ctx, c.store.Snapshot()); err != nil {
		log.Printf("save sessions failed: %v", err)
	}
}

func (c *Controller) Sessions() []models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Sessions()
}

func (c *Controller) Session(id string) (models.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Session(id)
}

func (c *Controller) CurrentSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.CurrentID()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) IsStreaming() bool {
	return c.State() == Streaming
}

// MessageContent returns a message's content and whether it is the reply
// currently streaming. It is the source read by the reveal scheduler.
func (c *Controller) MessageContent(sessionID, messageID string) (string, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, _, ok := c.store.FindMessage(sessionID, messageID)
	if !ok {
		return "", false, false
	}
	streaming := c.state == Streaming && c.active != nil &&
		c.active.SessionID == sessionID && c.active.ModelMessageID == messageID
	return msg.Content, streaming, true
}
