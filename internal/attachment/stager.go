// Package attachment stages composer uploads until they are sent.
package attachment

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jomidokhol/nur-ai/internal/models"
)

const (
	MaxUploadSize          = 10 << 20
	DefaultUploadTTL       = time.Hour
	DefaultCleanupInterval = 10 * time.Minute

	// multiple of 3 so encoded chunks concatenate cleanly
	chunkSize = 3 * 16 << 10
)

var (
	ErrUploadsPending = errors.New("attachments are still uploading")
	ErrUploadNotFound = errors.New("upload not found")
	ErrTooLarge       = fmt.Errorf("file exceeds the %d MB limit", MaxUploadSize>>20)
)

type entry struct {
	upload models.StagedUpload
	done   chan struct{}
}

// Stager encodes uploads in the background and hands them to a send once
// every one of them has settled.
type Stager struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string
	ttl     time.Duration
	now     func() time.Time
	newID   func() string
}

func NewStager(ttl time.Duration) *Stager {
	if ttl <= 0 {
		ttl = DefaultUploadTTL
	}
	return &Stager{
		entries: make(map[string]*entry),
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// Stage registers an upload and encodes r to base64 in the background.
// The returned snapshot is still uploading unless it failed up front.
func (s *Stager) Stage(name, mimeType string, size int64, r io.Reader) models.StagedUpload {
	e := &entry{
		upload: models.StagedUpload{
			ID:        s.newID(),
			Name:      name,
			MimeType:  mimeType,
			Size:      size,
			Status:    models.UploadUploading,
			CreatedAt: s.now(),
		},
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.entries[e.upload.ID] = e
	s.order = append(s.order, e.upload.ID)
	s.mu.Unlock()

	if size > MaxUploadSize {
		s.finish(e, nil, ErrTooLarge)
	} else {
		go s.encode(e, r)
	}
	return s.snapshot(e)
}

func (s *Stager) encode(e *entry, r io.Reader) {
	var (
		buf     = make([]byte, chunkSize)
		encoded []byte
		sniff   []byte
		read    int64
	)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			read += int64(n)
			if read > MaxUploadSize {
				s.finish(e, nil, ErrTooLarge)
				return
			}
			if sniff == nil {
				sniff = append([]byte(nil), buf[:n]...)
			}
			encoded = base64.StdEncoding.AppendEncode(encoded, buf[:n])
			s.progress(e, read)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			s.finish(e, nil, fmt.Errorf("read upload: %w", err))
			return
		}
	}

	s.mu.Lock()
	mimeType := e.upload.MimeType
	s.mu.Unlock()
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(sniff)
	}
	s.finish(e, &models.FileAttachment{
		MimeType: mimeType,
		Data:     string(encoded),
		Name:     e.upload.Name,
	}, nil)
}

func (s *Stager) progress(e *entry, read int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.upload.Size > 0 {
		p := int(read * 100 / e.upload.Size)
		if p > 99 {
			p = 99
		}
		e.upload.Progress = p
	}
}

func (s *Stager) finish(e *entry, file *models.FileAttachment, err error) {
	s.mu.Lock()
	if err != nil {
		e.upload.Status = models.UploadError
		e.upload.Error = err.Error()
		log.Printf("upload %s (%s) failed: %v", e.upload.ID, e.upload.Name, err)
	} else {
		e.upload.Status = models.UploadDone
		e.upload.Progress = 100
		e.upload.MimeType = file.MimeType
		e.upload.File = file
	}
	s.mu.Unlock()
	close(e.done)
}

func (s *Stager) snapshot(e *entry) models.StagedUpload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.upload
}

// Get returns the current state of an upload.
func (s *Stager) Get(id string) (models.StagedUpload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return models.StagedUpload{}, false
	}
	return e.upload, true
}

// Wait blocks until the upload settles or ctx ends.
func (s *Stager) Wait(ctx context.Context, id string) (models.StagedUpload, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return models.StagedUpload{}, ErrUploadNotFound
	}
	select {
	case <-e.done:
		return s.snapshot(e), nil
	case <-ctx.Done():
		return s.snapshot(e), ctx.Err()
	}
}

// List returns staged uploads in staging order.
func (s *Stager) List() []models.StagedUpload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.StagedUpload, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id].upload)
	}
	return out
}

func (s *Stager) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

func (s *Stager) removeLocked(id string) bool {
	if _, ok := s.entries[id]; !ok {
		return false
	}
	delete(s.entries, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Collect gathers the attachments for a send without touching the staging
// area. While any upload is still uploading it returns ErrUploadsPending.
// Failed uploads turn into notices. Call Commit once the send is accepted.
func (s *Stager) Collect(ids []string) ([]models.FileAttachment, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		e, ok := s.entries[id]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrUploadNotFound, id)
		}
		if e.upload.Status == models.UploadUploading {
			return nil, nil, ErrUploadsPending
		}
	}

	var (
		files   []models.FileAttachment
		notices []string
		seen    = make(map[string]struct{}, len(ids))
	)
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		e := s.entries[id]
		if e.upload.Status == models.UploadDone && e.upload.File != nil {
			files = append(files, *e.upload.File)
		} else {
			notices = append(notices, fmt.Sprintf("⚠️ Could not attach %s: %s", e.upload.Name, e.upload.Error))
		}
	}
	return files, notices, nil
}

// Commit drops uploads that went out with an accepted send. Unknown ids are
// ignored.
func (s *Stager) Commit(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.removeLocked(id)
	}
}

func (s *Stager) StartCleaner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	go s.cleanupLoop(ctx, interval)
}

func (s *Stager) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.cleanupExpired(); n > 0 {
				log.Printf("dropped %d expired uploads", n)
			}
		}
	}
}

func (s *Stager) cleanupExpired() int {
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []string
	for _, id := range s.order {
		if !s.entries[id].upload.CreatedAt.After(cutoff) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		s.removeLocked(id)
	}
	return len(expired)
}
