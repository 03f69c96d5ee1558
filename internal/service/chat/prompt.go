package chat

import (
	"fmt"
	"strings"

	"github.com/jomidokhol/nur-ai/internal/models"
	"github.com/jomidokhol/nur-ai/internal/service/ai"
)

// DefaultLanguages is used when multi-language mode is on and nothing is selected.
const DefaultLanguages = "Bengali, English, Hindi, Urdu, and Persian"

const multiLanguagePrompt = "REPLY IN THE FOLLOWING LANGUAGES: %s. Structure the response clearly with headings for each language.\n\nUser Question: %s"

// BuildPrompt returns the text sent to the generator for a user message.
func BuildPrompt(text string, settings models.Settings) string {
	if !settings.MultiLanguage {
		return text
	}
	langs := DefaultLanguages
	if len(settings.Languages) > 0 {
		langs = strings.Join(settings.Languages, ", ")
	}
	return fmt.Sprintf(multiLanguagePrompt, langs, text)
}

func buildHistory(messages []models.Message) []ai.HistoryEntry {
	history := make([]ai.HistoryEntry, 0, len(messages))
	for _, m := range messages {
		history = append(history, ai.HistoryEntry{Role: m.Role, Text: m.Content})
	}
	return history
}
