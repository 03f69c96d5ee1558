package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jomidokhol/nur-ai/internal/attachment"
	"github.com/jomidokhol/nur-ai/internal/config"
	"github.com/jomidokhol/nur-ai/internal/models"
	"github.com/jomidokhol/nur-ai/internal/persistence"
	"github.com/jomidokhol/nur-ai/internal/service/ai"
	"github.com/jomidokhol/nur-ai/internal/service/chat"
	"github.com/jomidokhol/nur-ai/internal/store"
)

type testServer struct {
	router  *gin.Engine
	chat    *chat.Controller
	gen     *mockGenerator
	persist persistence.Store
	uploads *attachment.Stager
}

func TestSendMessageStreamsReply(t *testing.T) {
	srv := newTestServer(t)
	srv.gen.chunks = []string{"Hello", ", remember", " Bob."}
	srv.gen.title = "Greeting Bob"

	resp := postSSE(t, srv.router, "/api/messages", map[string]any{"text": "Hello, remember my name is Bob."}, nil)
	assertStatus(t, resp, http.StatusOK)
	if ct := resp.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	events := parseSSE(t, resp.Body.String())
	if len(events) < 3 {
		t.Fatalf("expected ack, stream and done events, got %#v", events)
	}
	if events[0].Name != "ack" {
		t.Fatalf("expected first SSE event to be ack, got %s", events[0].Name)
	}
	var ack struct {
		SessionID      string `json:"session_id"`
		ModelMessageID string `json:"model_message_id"`
		Message        struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	decodeJSON(t, []byte(events[0].Data), &ack)
	if ack.Message.Content != "Hello, remember my name is Bob." {
		t.Fatalf("ack payload mismatch, got %q", ack.Message.Content)
	}

	if n := len(events); events[n-1].Name != "title" || events[n-2].Name != "done" {
		t.Fatalf("expected done then title to close the stream, got %#v", events)
	}
	last := events[len(events)-2]
	var done struct {
		SessionID string `json:"session_id"`
		Title     string `json:"title"`
		AI        struct {
			ID      string `json:"id"`
			Content string `json:"content"`
		} `json:"ai_message"`
	}
	decodeJSON(t, []byte(last.Data), &done)
	if done.AI.Content != "Hello, remember Bob." || done.AI.ID != ack.ModelMessageID {
		t.Fatalf("unexpected done payload %+v", done)
	}
	if done.SessionID != ack.SessionID {
		t.Fatalf("unexpected done session %+v", done)
	}
	var titled struct {
		SessionID string `json:"session_id"`
		Title     string `json:"title"`
	}
	decodeJSON(t, []byte(events[len(events)-1].Data), &titled)
	if titled.Title != "Greeting Bob" || titled.SessionID != ack.SessionID {
		t.Fatalf("unexpected title event %+v", titled)
	}

	var prev string
	for _, evt := range events[1 : len(events)-2] {
		if evt.Name != "stream" {
			t.Fatalf("unexpected event %s between ack and done", evt.Name)
		}
		var frame struct {
			Content string `json:"content"`
		}
		decodeJSON(t, []byte(evt.Data), &frame)
		if !strings.HasPrefix(frame.Content, prev) {
			t.Fatalf("stream frames must grow monotonically: %q then %q", prev, frame.Content)
		}
		prev = frame.Content
	}
	if prev != "Hello, remember Bob." {
		t.Fatalf("last stream frame should show the full reply, got %q", prev)
	}

	saved, err := srv.persist.Load(context.Background())
	if err != nil {
		t.Fatalf("load saved sessions: %v", err)
	}
	if len(saved) != 1 || len(saved[0].Messages) != 2 || saved[0].Title != "Greeting Bob" {
		t.Fatalf("unexpected saved sessions %+v", saved)
	}
}

func TestSendMessageValidation(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSONRequest(t, srv.router, http.MethodPost, "/api/messages", map[string]any{"text": "   "}, nil)
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doJSONRequest(t, srv.router, http.MethodPost, "/api/messages", map[string]any{"text": "hi", "upload_ids": []string{"missing"}}, nil)
	assertStatus(t, resp, http.StatusNotFound)

	resp = doJSONRequest(t, srv.router, http.MethodPost, "/api/messages", "not an object", nil)
	assertStatus(t, resp, http.StatusBadRequest)

	if n := len(srv.chat.Sessions()); n != 0 {
		t.Fatalf("rejected sends must not create sessions, got %d", n)
	}
}

func TestSendMessageWhileStreamingAndStop(t *testing.T) {
	srv := newTestServer(t)
	srv.gen.live = make(chan string)

	var (
		wg    sync.WaitGroup
		first *httptest.ResponseRecorder
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = postSSE(t, srv.router, "/api/messages", map[string]any{"text": "tell me a story"}, nil)
	}()

	waitFor(t, srv.chat.IsStreaming)
	srv.gen.live <- "Once upon"
	waitFor(t, func() bool {
		sessions := srv.chat.Sessions()
		return len(sessions) == 1 && sessions[0].Messages[1].Content == "Once upon"
	})

	busy := doJSONRequest(t, srv.router, http.MethodPost, "/api/messages", map[string]any{"text": "second"}, nil)
	assertStatus(t, busy, http.StatusConflict)
	if !strings.Contains(busy.Body.String(), chat.ErrStreamActive.Error()) {
		t.Fatalf("expected busy error, got %s", busy.Body.String())
	}

	stop := doJSONRequest(t, srv.router, http.MethodPost, "/api/stream/stop", nil, nil)
	assertStatus(t, stop, http.StatusOK)
	var stopBody struct {
		Stopped bool `json:"stopped"`
	}
	decodeJSON(t, stop.Body.Bytes(), &stopBody)
	if !stopBody.Stopped {
		t.Fatalf("expected stop to report an active stream")
	}
	wg.Wait()

	events := parseSSE(t, first.Body.String())
	last := findEvent(t, events, "done")
	var done struct {
		Stopped bool `json:"stopped"`
		AI      struct {
			Content string `json:"content"`
		} `json:"ai_message"`
	}
	decodeJSON(t, []byte(last.Data), &done)
	if !done.Stopped || done.AI.Content != "Once upon" {
		t.Fatalf("stopped reply should keep partial content, got %+v", done)
	}

	stop = doJSONRequest(t, srv.router, http.MethodPost, "/api/stream/stop", nil, nil)
	decodeJSON(t, stop.Body.Bytes(), &stopBody)
	if stopBody.Stopped {
		t.Fatalf("stop while idle should be a no-op")
	}
	sessions := srv.chat.Sessions()
	if len(sessions) != 1 || len(sessions[0].Messages) != 2 {
		t.Fatalf("busy send must not touch the store: %+v", sessions)
	}
}

func TestSendMessageGenerationError(t *testing.T) {
	srv := newTestServer(t)
	srv.gen.startErr = errors.New("mock failure")

	resp := postSSE(t, srv.router, "/api/messages", map[string]any{"text": "hello"}, nil)
	assertStatus(t, resp, http.StatusOK)
	events := parseSSE(t, resp.Body.String())
	if events[0].Name != "ack" || events[len(events)-1].Name != "error" {
		t.Fatalf("unexpected SSE sequence: %#v", events)
	}
	var payload struct {
		Message string `json:"message"`
	}
	decodeJSON(t, []byte(events[len(events)-1].Data), &payload)
	if payload.Message != chat.GenericNotice {
		t.Fatalf("expected generic notice, got %q", payload.Message)
	}
	if srv.chat.IsStreaming() {
		t.Fatalf("controller should be idle after a failure")
	}
	if seeds := srv.gen.titleSeeds(); len(seeds) != 0 {
		t.Fatalf("failed reply must not be titled, got %v", seeds)
	}
}

func TestSendMessageRateLimited(t *testing.T) {
	srv := newTestServer(t)
	srv.gen.startErr = &ai.GenerationError{Kind: ai.KindRateLimited, Err: errors.New("429")}

	resp := postSSE(t, srv.router, "/api/messages", map[string]any{"text": "hello"}, nil)
	events := parseSSE(t, resp.Body.String())
	var payload struct {
		Message string `json:"message"`
	}
	decodeJSON(t, []byte(events[len(events)-1].Data), &payload)
	if payload.Message != chat.QuotaNotice {
		t.Fatalf("expected quota notice, got %q", payload.Message)
	}
}

func TestUploadAndSendWithAttachment(t *testing.T) {
	srv := newTestServer(t)
	srv.gen.chunks = []string{"Nice picture"}

	resp := postFile(t, srv.router, "/api/uploads?wait=true", "notes.txt", "text/plain", []byte("hello upload"))
	assertStatus(t, resp, http.StatusCreated)
	var up models.StagedUpload
	decodeJSON(t, resp.Body.Bytes(), &up)
	if up.ID == "" || up.Status != models.UploadDone || up.Progress != 100 {
		t.Fatalf("unexpected upload %+v", up)
	}

	list := doJSONRequest(t, srv.router, http.MethodGet, "/api/uploads", nil, nil)
	assertStatus(t, list, http.StatusOK)
	if !strings.Contains(list.Body.String(), up.ID) {
		t.Fatalf("upload missing from list: %s", list.Body.String())
	}

	sendResp := postSSE(t, srv.router, "/api/messages", map[string]any{"upload_ids": []string{up.ID}}, nil)
	assertStatus(t, sendResp, http.StatusOK)
	findEvent(t, parseSSE(t, sendResp.Body.String()), "done")

	req := srv.gen.lastRequest()
	if len(req.Files) != 1 || req.Files[0].Name != "notes.txt" {
		t.Fatalf("attachment not forwarded: %+v", req.Files)
	}
	if len(srv.uploads.List()) != 0 {
		t.Fatalf("sent uploads should leave the staging area")
	}
}

// raceLostChat looks idle to the handler but loses the race for the
// controller, as when another send slips in between the two calls.
type raceLostChat struct {
	*chat.Controller
}

func (raceLostChat) IsStreaming() bool { return false }

func (raceLostChat) SendMessage(ctx context.Context, text string, files []models.FileAttachment) (*chat.Turn, error) {
	return nil, chat.ErrStreamActive
}

func TestRejectedSendKeepsUploadsStaged(t *testing.T) {
	srv := newTestServer(t)
	router := gin.New()
	NewHandler(raceLostChat{srv.chat}, srv.uploads, time.Millisecond).RegisterRoutes(router)

	resp := postFile(t, router, "/api/uploads?wait=true", "notes.txt", "text/plain", []byte("keep me"))
	assertStatus(t, resp, http.StatusCreated)
	var up models.StagedUpload
	decodeJSON(t, resp.Body.Bytes(), &up)

	busy := doJSONRequest(t, router, http.MethodPost, "/api/messages", map[string]any{"text": "hi", "upload_ids": []string{up.ID}}, nil)
	assertStatus(t, busy, http.StatusConflict)
	if _, ok := srv.uploads.Get(up.ID); !ok {
		t.Fatalf("a send that lost the race must keep its upload staged")
	}

	// the same upload goes out once the controller accepts the send
	srv.gen.chunks = []string{"got it"}
	sent := postSSE(t, srv.router, "/api/messages", map[string]any{"text": "hi", "upload_ids": []string{up.ID}}, nil)
	assertStatus(t, sent, http.StatusOK)
	findEvent(t, parseSSE(t, sent.Body.String()), "done")
	if req := srv.gen.lastRequest(); len(req.Files) != 1 || req.Files[0].Name != "notes.txt" {
		t.Fatalf("retained upload not forwarded: %+v", req.Files)
	}
	if _, ok := srv.uploads.Get(up.ID); ok {
		t.Fatalf("accepted send should commit its uploads")
	}
}

func TestDoneArrivesBeforeTitle(t *testing.T) {
	srv := newTestServer(t)
	srv.gen.live = make(chan string)
	srv.gen.title = "Late Title"
	srv.gen.gate = make(chan struct{})
	ts := httptest.NewServer(srv.router)
	defer ts.Close()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(ts.URL+"/api/messages", "application/json", strings.NewReader(`{"text":"tell me a story"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	events := bufio.NewReader(resp.Body)

	if evt := readEvent(t, events); evt.Name != "ack" {
		t.Fatalf("expected ack first, got %+v", evt)
	}
	srv.gen.live <- "Once upon"
	waitFor(t, func() bool {
		sessions := srv.chat.Sessions()
		return len(sessions) == 1 && sessions[0].Messages[1].Content == "Once upon"
	})
	srv.chat.StopStreaming()

	// the title generator is still blocked here
	evt := readEvent(t, events)
	for evt.Name == "stream" {
		evt = readEvent(t, events)
	}
	if evt.Name != "done" {
		t.Fatalf("expected done while the title was pending, got %+v", evt)
	}
	var done struct {
		Title   string `json:"title"`
		Stopped bool   `json:"stopped"`
	}
	decodeJSON(t, []byte(evt.Data), &done)
	if !done.Stopped || done.Title != models.PlaceholderTitle {
		t.Fatalf("unexpected done payload %+v", done)
	}

	close(srv.gen.gate)
	evt = readEvent(t, events)
	if evt.Name != "title" {
		t.Fatalf("expected title after done, got %+v", evt)
	}
	var titled struct {
		Title string `json:"title"`
	}
	decodeJSON(t, []byte(evt.Data), &titled)
	if titled.Title != "Late Title" {
		t.Fatalf("unexpected title %q", titled.Title)
	}
}

// readEvent reads one SSE event off a live response body.
func readEvent(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var evt sseEvent
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read SSE line: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if evt.Name != "" || evt.Data != "" {
				return evt
			}
		case strings.HasPrefix(line, "event:"):
			evt.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			evt.Data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
}

func TestUploadRoutes(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSONRequest(t, srv.router, http.MethodPost, "/api/uploads", nil, nil)
	assertStatus(t, resp, http.StatusBadRequest)

	resp = postFile(t, srv.router, "/api/uploads?wait=true", "a.txt", "text/plain", []byte("abc"))
	assertStatus(t, resp, http.StatusCreated)
	var up models.StagedUpload
	decodeJSON(t, resp.Body.Bytes(), &up)

	del := doJSONRequest(t, srv.router, http.MethodDelete, "/api/uploads/"+up.ID, nil, nil)
	assertStatus(t, del, http.StatusNoContent)
	del = doJSONRequest(t, srv.router, http.MethodDelete, "/api/uploads/"+up.ID, nil, nil)
	assertStatus(t, del, http.StatusNotFound)
}

func TestSendBlockedByPendingUpload(t *testing.T) {
	srv := newTestServer(t)
	pr, pw := io.Pipe()
	up := srv.uploads.Stage("slow.bin", "application/octet-stream", 4, pr)

	resp := doJSONRequest(t, srv.router, http.MethodPost, "/api/messages", map[string]any{"text": "hi", "upload_ids": []string{up.ID}}, nil)
	assertStatus(t, resp, http.StatusConflict)

	_, _ = pw.Write([]byte("data"))
	_ = pw.Close()
	if _, err := srv.uploads.Wait(context.Background(), up.ID); err != nil {
		t.Fatalf("wait upload: %v", err)
	}
	if _, ok := srv.uploads.Get(up.ID); !ok {
		t.Fatalf("a blocked send must keep the upload staged")
	}
}

func TestUpdateMessageResends(t *testing.T) {
	srv := newTestServer(t)
	srv.gen.chunks = []string{"first answer"}
	resp := postSSE(t, srv.router, "/api/messages", map[string]any{"text": "first question"}, nil)
	var ack struct {
		SessionID     string `json:"session_id"`
		UserMessageID string `json:"user_message_id"`
	}
	decodeJSON(t, []byte(parseSSE(t, resp.Body.String())[0].Data), &ack)

	srv.gen.chunks = []string{"second answer"}
	resp = doJSONRequest(t, srv.router, http.MethodPut, "/api/messages/"+ack.UserMessageID, map[string]any{"text": "edited question"}, nil)
	assertStatus(t, resp, http.StatusOK)
	findEvent(t, parseSSE(t, resp.Body.String()), "done")

	msgs := doJSONRequest(t, srv.router, http.MethodGet, "/api/sessions/"+ack.SessionID+"/messages", nil, nil)
	assertStatus(t, msgs, http.StatusOK)
	var body struct {
		Messages []models.Message `json:"messages"`
	}
	decodeJSON(t, msgs.Body.Bytes(), &body)
	if len(body.Messages) != 2 || body.Messages[0].Content != "edited question" || body.Messages[1].Content != "second answer" {
		t.Fatalf("edit should replace the tail of the transcript: %+v", body.Messages)
	}

	resp = doJSONRequest(t, srv.router, http.MethodPut, "/api/messages/unknown", map[string]any{"text": "x"}, nil)
	assertStatus(t, resp, http.StatusNotFound)
	resp = doJSONRequest(t, srv.router, http.MethodPut, "/api/messages/"+body.Messages[0].ID, map[string]any{"text": " "}, nil)
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestTogglePin(t *testing.T) {
	srv := newTestServer(t)
	srv.gen.chunks = []string{"answer"}
	resp := postSSE(t, srv.router, "/api/messages", map[string]any{"text": "question"}, nil)
	var ack struct {
		ModelMessageID string `json:"model_message_id"`
	}
	decodeJSON(t, []byte(parseSSE(t, resp.Body.String())[0].Data), &ack)

	pin := doJSONRequest(t, srv.router, http.MethodPost, "/api/messages/"+ack.ModelMessageID+"/pin", nil, nil)
	assertStatus(t, pin, http.StatusOK)
	var body struct {
		IsPinned bool `json:"isPinned"`
	}
	decodeJSON(t, pin.Body.Bytes(), &body)
	if !body.IsPinned {
		t.Fatalf("expected message to be pinned")
	}
	pin = doJSONRequest(t, srv.router, http.MethodPost, "/api/messages/"+ack.ModelMessageID+"/pin", nil, nil)
	decodeJSON(t, pin.Body.Bytes(), &body)
	if body.IsPinned {
		t.Fatalf("second toggle should unpin")
	}

	pin = doJSONRequest(t, srv.router, http.MethodPost, "/api/messages/nope/pin", nil, nil)
	assertStatus(t, pin, http.StatusNotFound)
}

func TestSessionRoutes(t *testing.T) {
	srv := newTestServer(t)

	createResp := doJSONRequest(t, srv.router, http.MethodPost, "/api/sessions", nil, nil)
	assertStatus(t, createResp, http.StatusCreated)
	var first models.Session
	decodeJSON(t, createResp.Body.Bytes(), &first)
	if first.ID == "" || first.Title != models.PlaceholderTitle {
		t.Fatalf("unexpected new session %+v", first)
	}
	createResp = doJSONRequest(t, srv.router, http.MethodPost, "/api/sessions", nil, nil)
	var second models.Session
	decodeJSON(t, createResp.Body.Bytes(), &second)
	if first.ID == second.ID {
		t.Fatalf("expected distinct sessions")
	}

	listResp := doJSONRequest(t, srv.router, http.MethodGet, "/api/sessions", nil, nil)
	assertStatus(t, listResp, http.StatusOK)
	var list struct {
		Sessions []sessionSummary `json:"session_list"`
		Current  string           `json:"current_session_id"`
	}
	decodeJSON(t, listResp.Body.Bytes(), &list)
	if len(list.Sessions) != 2 || list.Sessions[0].ID != second.ID || list.Current != second.ID {
		t.Fatalf("newest session should lead and be current: %+v", list)
	}

	sel := doJSONRequest(t, srv.router, http.MethodPut, "/api/sessions/current", map[string]string{"session_id": "missing"}, nil)
	assertStatus(t, sel, http.StatusNotFound)
	sel = doJSONRequest(t, srv.router, http.MethodPut, "/api/sessions/current", map[string]string{"session_id": first.ID}, nil)
	assertStatus(t, sel, http.StatusNoContent)
	if srv.chat.CurrentSessionID() != first.ID {
		t.Fatalf("select did not switch the current session")
	}

	del := doJSONRequest(t, srv.router, http.MethodDelete, "/api/sessions/"+first.ID, nil, nil)
	assertStatus(t, del, http.StatusNoContent)
	if srv.chat.CurrentSessionID() != second.ID {
		t.Fatalf("deleting the current session should select the next one")
	}
	msgs := doJSONRequest(t, srv.router, http.MethodGet, "/api/sessions/"+first.ID+"/messages", nil, nil)
	assertStatus(t, msgs, http.StatusNotFound)
}

func TestSettingsRoutes(t *testing.T) {
	srv := newTestServer(t)

	getResp := doJSONRequest(t, srv.router, http.MethodGet, "/api/settings", nil, nil)
	assertStatus(t, getResp, http.StatusOK)
	var got struct {
		Settings  models.Settings `json:"settings"`
		Available []string        `json:"available_languages"`
	}
	decodeJSON(t, getResp.Body.Bytes(), &got)
	if got.Settings.Mode != models.ModeFast || got.Settings.Theme != models.ThemeDark || len(got.Available) != len(models.AvailableLanguages) {
		t.Fatalf("unexpected default settings %+v", got)
	}

	putResp := doJSONRequest(t, srv.router, http.MethodPut, "/api/settings", map[string]any{
		"mode":           "study",
		"multi_language": true,
		"languages":      []string{"English", "Bengali"},
	}, nil)
	assertStatus(t, putResp, http.StatusOK)
	settings := srv.chat.Settings()
	if settings.Mode != models.ModeStudy || !settings.MultiLanguage || len(settings.Languages) != 2 {
		t.Fatalf("settings not applied: %+v", settings)
	}

	bad := doJSONRequest(t, srv.router, http.MethodPut, "/api/settings", map[string]any{"mode": "turbo", "multi_language": false}, nil)
	assertStatus(t, bad, http.StatusBadRequest)
	bad = doJSONRequest(t, srv.router, http.MethodPut, "/api/settings", map[string]any{"languages": []string{"Klingon"}}, nil)
	assertStatus(t, bad, http.StatusBadRequest)
	bad = doJSONRequest(t, srv.router, http.MethodPut, "/api/settings", map[string]any{"theme": "sepia"}, nil)
	assertStatus(t, bad, http.StatusBadRequest)
	if s := srv.chat.Settings(); !s.MultiLanguage || s.Mode != models.ModeStudy {
		t.Fatalf("rejected updates must not change settings: %+v", s)
	}

	toggle := doJSONRequest(t, srv.router, http.MethodPost, "/api/settings/theme/toggle", nil, nil)
	assertStatus(t, toggle, http.StatusOK)
	var theme struct {
		Theme models.Theme `json:"theme"`
	}
	decodeJSON(t, toggle.Body.Bytes(), &theme)
	if theme.Theme != models.ThemeLight {
		t.Fatalf("expected light theme, got %s", theme.Theme)
	}
	saved, err := srv.persist.LoadTheme(context.Background())
	if err != nil || saved != models.ThemeLight {
		t.Fatalf("theme not persisted: %v %v", saved, err)
	}
}

type sseEvent struct {
	Name string
	Data string
}

func parseSSE(t *testing.T, payload string) []sseEvent {
	t.Helper()
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}
	chunks := strings.Split(payload, "\n\n")
	var events []sseEvent
	for _, chunk := range chunks {
		lines := strings.Split(strings.TrimSpace(chunk), "\n")
		if len(lines) == 0 {
			continue
		}
		var evt sseEvent
		for _, line := range lines {
			switch {
			case strings.HasPrefix(line, "event:"):
				evt.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if evt.Data == "" {
					evt.Data = data
				} else {
					evt.Data += "\n" + data
				}
			}
		}
		events = append(events, evt)
	}
	if len(events) == 0 {
		t.Fatalf("no SSE events in %q", payload)
	}
	return events
}

// findEvent returns the last event with the given name.
func findEvent(t *testing.T, events []sseEvent, name string) sseEvent {
	t.Helper()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Name == name {
			return events[i]
		}
	}
	t.Fatalf("no %s event in %#v", name, events)
	return sseEvent{}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		BasicConfig: config.BasicConfig{Store: "sqlite3"},
		Databases:   map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}},
	}
	cfg.ApplyDefaults()
	persist, err := persistence.Open(cfg)
	if err != nil {
		t.Fatalf("open persistence: %v", err)
	}
	t.Cleanup(func() { persist.Close() })

	gen := &mockGenerator{}
	controller := chat.New(store.New(), persist, gen, chat.Options{TitleTimeout: time.Second})
	controller.Load(context.Background())
	t.Cleanup(controller.Close)

	uploads := attachment.NewStager(time.Hour)
	handler := NewHandler(controller, uploads, time.Millisecond)

	router := gin.New()
	handler.RegisterRoutes(router)
	return &testServer{router: router, chat: controller, gen: gen, persist: persist, uploads: uploads}
}

// mockGenerator replays chunks, or reads them from live until it is closed
// or the stream is cancelled.
type mockGenerator struct {
	mu       sync.Mutex
	chunks   []string
	live     chan string
	startErr error
	title    string
	gate     chan struct{}
	requests []ai.Request
	seeds    []string
}

func (g *mockGenerator) StreamGenerate(ctx context.Context, req ai.Request) (ai.Stream, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if err := g.startErr; err != nil {
		return nil, err
	}
	src := g.live
	if src == nil {
		ch := make(chan string, len(g.chunks))
		for _, c := range g.chunks {
			ch <- c
		}
		close(ch)
		src = ch
	}
	return &mockStream{ctx: ctx, src: src}, nil
}

func (g *mockGenerator) GenerateTitle(ctx context.Context, seed string) string {
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return models.PlaceholderTitle
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seeds = append(g.seeds, seed)
	if g.title == "" {
		return models.PlaceholderTitle
	}
	return g.title
}

func (g *mockGenerator) lastRequest() ai.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[len(g.requests)-1]
}

func (g *mockGenerator) titleSeeds() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.seeds...)
}

type mockStream struct {
	ctx context.Context
	src <-chan string
}

func (s *mockStream) Recv() (ai.Fragment, error) {
	select {
	case text, ok := <-s.src:
		if !ok {
			return ai.Fragment{}, io.EOF
		}
		return ai.Fragment{Text: text}, nil
	case <-s.ctx.Done():
		return ai.Fragment{}, s.ctx.Err()
	}
}

func (s *mockStream) Close() error { return nil }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func postSSE(t *testing.T, router *gin.Engine, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	return doJSONRequest(t, router, http.MethodPost, path, body, headers)
}

func postFile(t *testing.T, router *gin.Engine, path, name, mimeType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(map[string][]string)
	header["Content-Disposition"] = []string{`form-data; name="file"; filename="` + name + `"`}
	header["Content-Type"] = []string{mimeType}
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status: want %d got %d body=%s", want, rec.Code, rec.Body.String())
	}
}
