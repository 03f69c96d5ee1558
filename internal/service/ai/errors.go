package ai

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// ErrorKind classifies generation failures for user-facing notices.
type ErrorKind int

const (
	KindGeneric ErrorKind = iota
	KindRateLimited
	KindAttachment
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindAttachment:
		return "attachment"
	default:
		return "generic"
	}
}

// GenerationError wraps a provider failure with its kind.
type GenerationError struct {
	Kind ErrorKind
	// File names the attachment at fault for KindAttachment.
	File string
	Err  error
}

func (e *GenerationError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s error (%s): %v", e.Kind, e.File, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// KindOf reports the kind of err, KindGeneric when it is unclassified.
func KindOf(err error) ErrorKind {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindGeneric
}

// classify maps a provider error onto a GenerationError. files are the
// attachment names of the request, used to blame rejected uploads.
func classify(err error, files []string) error {
	if err == nil {
		return nil
	}
	var ge *GenerationError
	if errors.As(err, &ge) {
		return err
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED":
			return &GenerationError{Kind: KindRateLimited, Err: err}
		case apiErr.Code == http.StatusBadRequest && len(files) > 0 && mentionsAttachment(apiErr.Message):
			return &GenerationError{Kind: KindAttachment, File: strings.Join(files, ", "), Err: err}
		}
		return &GenerationError{Kind: KindGeneric, Err: err}
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit") {
		return &GenerationError{Kind: KindRateLimited, Err: err}
	}
	return &GenerationError{Kind: KindGeneric, Err: err}
}

func mentionsAttachment(msg string) bool {
	msg = strings.ToLower(msg)
	for _, hint := range []string{"mime", "inline_data", "unsupported file", "image"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

func attachmentNames(req Request) []string {
	names := make([]string, 0, len(req.Files))
	for i, f := range req.Files {
		name := f.Name
		if name == "" {
			name = fmt.Sprintf("attachment %d", i+1)
		}
		names = append(names, name)
	}
	return names
}
