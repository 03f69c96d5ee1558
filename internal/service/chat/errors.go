package chat

import (
	"errors"
	"fmt"

	"github.com/jomidokhol/nur-ai/internal/service/ai"
)

var (
	ErrEmptyMessage    = errors.New("message text or attachments required")
	ErrStreamActive    = errors.New("a reply is still streaming")
	ErrSessionNotFound = errors.New("session not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrInvalidMode     = errors.New("invalid mode")
	ErrInvalidTheme    = errors.New("invalid theme")
	ErrUnknownLanguage = errors.New("unknown language")
)

const (
	// QuotaNotice replaces a reply that failed on the provider's rate limit.
	QuotaNotice = "⚠️ Quota Exceeded: You have reached the Nur AI API rate limit. Please wait a moment or check your billing/quota plan at ai.google.dev."
	// GenericNotice replaces a reply that failed for any other reason.
	GenericNotice = "Sorry, I encountered an error. Please check your connection and try again."
)

// AttachmentNotice reports a file the model could not accept.
func AttachmentNotice(name string) string {
	if name == "" {
		name = "an attachment"
	}
	return fmt.Sprintf("⚠️ Could not process %s. Please remove it or try a different file.", name)
}

// NoticeFor maps a generation failure onto the text shown in its place.
func NoticeFor(err error) string {
	var ge *ai.GenerationError
	if errors.As(err, &ge) {
		switch ge.Kind {
		case ai.KindRateLimited:
			return QuotaNotice
		case ai.KindAttachment:
			return AttachmentNotice(ge.File)
		}
	}
	return GenericNotice
}
