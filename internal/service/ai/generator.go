package ai

import (
	"context"
	"fmt"
	"log"

	"github.com/jomidokhol/nur-ai/internal/config"
	"github.com/jomidokhol/nur-ai/internal/models"
)

// TitlePrompt asks for a short title for a conversation seed.
const TitlePrompt = "Generate a short, concise title (max 5 words) for a conversation that starts with: \"%s\". Return ONLY the title text."

// HistoryEntry is a prior turn sent as context.
type HistoryEntry struct {
	Role models.Role
	Text string
}

// Request is one generation call.
type Request struct {
	SessionID string
	Prompt    string
	History   []HistoryEntry
	Mode      models.Mode
	Files     []models.FileAttachment
}

// Fragment is a piece of generated text, appended in arrival order.
type Fragment struct {
	Text string
}

// Stream yields fragments until Recv returns io.EOF.
type Stream interface {
	Recv() (Fragment, error)
	Close() error
}

// Generator produces streamed replies and conversation titles.
type Generator interface {
	StreamGenerate(ctx context.Context, req Request) (Stream, error)
	// GenerateTitle never fails; it falls back to the placeholder title.
	GenerateTitle(ctx context.Context, seed string) string
}

// NewGenerator builds the generator for the configured provider. Gemini
// without tools talks to genai directly; everything else goes through eino.
func NewGenerator(ctx context.Context, cfg *config.Config) (Generator, error) {
	switch cfg.Generation.Provider {
	case "gemini":
		if !cfg.Generation.WebSearch {
			return newGeminiGenerator(ctx, cfg)
		}
		return newEinoGenerator(ctx, cfg)
	case "openai", "claude":
		return newEinoGenerator(ctx, cfg)
	default:
		return nil, fmt.Errorf("invalid provider: %s", cfg.Generation.Provider)
	}
}

func titleOrPlaceholder(title string, err error) string {
	if err != nil {
		log.Printf("generate title failed: %v", err)
		return models.PlaceholderTitle
	}
	if title == "" {
		return models.PlaceholderTitle
	}
	return title
}
