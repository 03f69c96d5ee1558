package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jomidokhol/nur-ai/internal/attachment"
	"github.com/jomidokhol/nur-ai/internal/models"
	"github.com/jomidokhol/nur-ai/internal/reveal"
	"github.com/jomidokhol/nur-ai/internal/service/chat"
)

// ChatService is the controller surface the HTTP layer drives.
type ChatService interface {
	Sessions() []models.Session
	Session(id string) (models.Session, bool)
	CurrentSessionID() string
	IsStreaming() bool
	CreateSession() models.Session
	SelectSession(id string) error
	DeleteSession(id string)
	SendMessage(ctx context.Context, text string, files []models.FileAttachment) (*chat.Turn, error)
	UpdateMessage(ctx context.Context, messageID, text string) (*chat.Turn, error)
	TogglePin(messageID string) (bool, error)
	StopStreaming() bool
	MessageContent(sessionID, messageID string) (string, bool, bool)
	Settings() models.Settings
	SetMode(mode models.Mode) error
	SetMultiLanguage(enabled bool)
	SetLanguages(langs []string) error
	SetTheme(theme models.Theme) error
	ToggleTheme() models.Theme
}

// UploadStager holds composer attachments until they are sent.
type UploadStager interface {
	Stage(name, mimeType string, size int64, r io.Reader) models.StagedUpload
	Wait(ctx context.Context, id string) (models.StagedUpload, error)
	List() []models.StagedUpload
	Remove(id string) bool
	Collect(ids []string) ([]models.FileAttachment, []string, error)
	Commit(ids []string)
}

// Handler wires HTTP routes to the chat controller and the upload stager.
type Handler struct {
	chat    ChatService
	uploads UploadStager
	frame   time.Duration
}

// NewHandler constructs a Handler. frame paces streamed SSE updates.
func NewHandler(chatService ChatService, uploads UploadStager, frame time.Duration) *Handler {
	if frame <= 0 {
		frame = reveal.DefaultFrame
	}
	return &Handler{chat: chatService, uploads: uploads, frame: frame}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/sessions", h.listSessions)
	api.POST("/sessions", h.createSession)
	api.PUT("/sessions/current", h.selectSession)
	api.DELETE("/sessions/:session_id", h.deleteSession)
	api.GET("/sessions/:session_id/messages", h.getSessionMessages)
	api.POST("/messages", h.sendMessage)
	api.PUT("/messages/:message_id", h.updateMessage)
	api.POST("/messages/:message_id/pin", h.togglePin)
	api.POST("/stream/stop", h.stopStreaming)
	api.GET("/settings", h.getSettings)
	api.PUT("/settings", h.updateSettings)
	api.POST("/settings/theme/toggle", h.toggleTheme)
	api.POST("/uploads", h.filesUpload)
	api.GET("/uploads", h.listUploads)
	api.DELETE("/uploads/:upload_id", h.deleteUpload)
}

type sessionSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	MessageCount int       `json:"message_count"`
}

func (h *Handler) listSessions(c *gin.Context) {
	sessions := h.chat.Sessions()
	list := make([]sessionSummary, 0, len(sessions))
	for _, se := range sessions {
		list = append(list, sessionSummary{ID: se.ID, Title: se.Title, CreatedAt: se.CreatedAt, MessageCount: len(se.Messages)})
	}
	c.JSON(http.StatusOK, gin.H{
		"session_list":       list,
		"current_session_id": h.chat.CurrentSessionID(),
		"streaming":          h.chat.IsStreaming(),
	})
}

func (h *Handler) createSession(c *gin.Context) {
	c.JSON(http.StatusCreated, h.chat.CreateSession())
}

func (h *Handler) selectSession(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.chat.SelectSession(strings.TrimSpace(req.SessionID)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteSession(c *gin.Context) {
	h.chat.DeleteSession(c.Param("session_id"))
	c.Status(http.StatusNoContent)
}

func (h *Handler) getSessionMessages(c *gin.Context) {
	session, ok := h.chat.Session(c.Param("session_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":  session,
		"messages": session.Messages,
	})
}

type sendRequest struct {
	Text      string   `json:"text"`
	UploadIDs []string `json:"upload_ids"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Text) == "" && len(req.UploadIDs) == 0 {
		writeError(c, chat.ErrEmptyMessage)
		return
	}
	if h.chat.IsStreaming() {
		writeError(c, chat.ErrStreamActive)
		return
	}
	// uploads stay staged until the controller accepts the send
	files, notices, err := h.uploads.Collect(req.UploadIDs)
	if err != nil {
		writeError(c, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" && len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no attachment could be processed", "notices": notices})
		return
	}
	turn, err := h.chat.SendMessage(c.Request.Context(), req.Text, files)
	if err != nil {
		writeError(c, err)
		return
	}
	h.uploads.Commit(req.UploadIDs)
	h.streamTurn(c, turn, notices)
}

func (h *Handler) updateMessage(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	turn, err := h.chat.UpdateMessage(c.Request.Context(), c.Param("message_id"), req.Text)
	if err != nil {
		writeError(c, err)
		return
	}
	h.streamTurn(c, turn, nil)
}

// streamTurn relays a turn over SSE: ack, notices and paced stream frames,
// then done or error once the reply settled. A title event follows done when
// the session title is final.
func (h *Handler) streamTurn(c *gin.Context, turn *chat.Turn, notices []string) {
	sse, err := startSSE(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	userText, _, _ := h.chat.MessageContent(turn.SessionID, turn.UserMessageID)
	if err := sse.send("ack", gin.H{
		"session_id":       turn.SessionID,
		"user_message_id":  turn.UserMessageID,
		"model_message_id": turn.ModelMessageID,
		"message": gin.H{
			"id":      turn.UserMessageID,
			"role":    models.RoleUser,
			"content": userText,
		},
	}); err != nil {
		return
	}
	for _, n := range notices {
		if err := sse.send("notice", gin.H{"message": n}); err != nil {
			return
		}
	}

	ctx := c.Request.Context()
	src := func() (string, bool, bool) {
		return h.chat.MessageContent(turn.SessionID, turn.ModelMessageID)
	}
	handle := reveal.Start(ctx, h.frame, src, func(text string) error {
		return sse.send("stream", gin.H{"content": text})
	})
	<-handle.Done()
	if err := handle.Err(); err != nil {
		// client went away or the session was deleted
		if errors.Is(err, reveal.ErrSourceGone) {
			_ = sse.send("error", gin.H{"message": "session was deleted"})
		}
		return
	}

	select {
	case <-turn.Settled():
	case <-ctx.Done():
		return
	}
	content, _, _ := h.chat.MessageContent(turn.SessionID, turn.ModelMessageID)
	if turn.Err() != nil {
		_ = sse.send("error", gin.H{"message": content})
		return
	}
	session, _ := h.chat.Session(turn.SessionID)
	if err := sse.send("done", gin.H{
		"session_id": turn.SessionID,
		"title":      session.Title,
		"stopped":    turn.Stopped(),
		"ai_message": gin.H{
			"id":      turn.ModelMessageID,
			"role":    models.RoleModel,
			"content": content,
		},
	}); err != nil {
		return
	}

	select {
	case <-turn.Done():
	case <-ctx.Done():
		return
	}
	session, ok := h.chat.Session(turn.SessionID)
	if !ok {
		return
	}
	_ = sse.send("title", gin.H{"session_id": turn.SessionID, "title": session.Title})
}

func (h *Handler) togglePin(c *gin.Context) {
	pinned, err := h.chat.TogglePin(c.Param("message_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("message_id"), "isPinned": pinned})
}

func (h *Handler) stopStreaming(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stopped": h.chat.StopStreaming()})
}

func (h *Handler) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"settings":            h.chat.Settings(),
		"available_languages": models.AvailableLanguages,
	})
}

type settingsRequest struct {
	Mode          *string   `json:"mode"`
	MultiLanguage *bool     `json:"multi_language"`
	Languages     *[]string `json:"languages"`
	Theme         *string   `json:"theme"`
}

func (h *Handler) updateSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Mode != nil && !models.Mode(*req.Mode).Valid() {
		writeError(c, chat.ErrInvalidMode)
		return
	}
	if req.Theme != nil && !models.Theme(*req.Theme).Valid() {
		writeError(c, chat.ErrInvalidTheme)
		return
	}
	if req.Languages != nil {
		if err := h.chat.SetLanguages(*req.Languages); err != nil {
			writeError(c, err)
			return
		}
	}
	if req.Mode != nil {
		_ = h.chat.SetMode(models.Mode(*req.Mode))
	}
	if req.MultiLanguage != nil {
		h.chat.SetMultiLanguage(*req.MultiLanguage)
	}
	if req.Theme != nil {
		_ = h.chat.SetTheme(models.Theme(*req.Theme))
	}
	c.JSON(http.StatusOK, gin.H{"settings": h.chat.Settings()})
}

func (h *Handler) toggleTheme(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"theme": h.chat.ToggleTheme()})
}

func (h *Handler) filesUpload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if file.Size > attachment.MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": attachment.ErrTooLarge.Error()})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return
	}
	// the multipart temp file is gone once the handler returns
	data, err := io.ReadAll(io.LimitReader(f, attachment.MaxUploadSize+1))
	_ = f.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read file failed"})
		return
	}

	up := h.uploads.Stage(filepath.Base(file.Filename), file.Header.Get("Content-Type"), int64(len(data)), bytes.NewReader(data))
	if c.Query("wait") == "true" {
		if settled, err := h.uploads.Wait(c.Request.Context(), up.ID); err == nil {
			up = settled
		}
	}
	c.JSON(http.StatusCreated, up)
}

func (h *Handler) listUploads(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"uploads": h.uploads.List()})
}

func (h *Handler) deleteUpload(c *gin.Context) {
	if !h.uploads.Remove(c.Param("upload_id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "upload not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrInvalidMode),
		errors.Is(err, chat.ErrInvalidTheme),
		errors.Is(err, chat.ErrUnknownLanguage):
		status = http.StatusBadRequest
	case errors.Is(err, chat.ErrStreamActive),
		errors.Is(err, attachment.ErrUploadsPending):
		status = http.StatusConflict
	case errors.Is(err, chat.ErrSessionNotFound),
		errors.Is(err, chat.ErrMessageNotFound),
		errors.Is(err, attachment.ErrUploadNotFound):
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
