package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"

	"github.com/jomidokhol/nur-ai/internal/models"
)

// DocumentTextLimit caps the characters of a document inlined into a prompt.
const DocumentTextLimit = 32000

// documentText turns a text-like attachment into plain text for providers
// that only accept images inline.
type documentText interface {
	Text(ctx context.Context, f models.FileAttachment) (string, error)
}

type documentLoader struct {
	loader *file.FileLoader
}

func newDocumentLoader(ctx context.Context) *documentLoader {
	parserExt, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		log.Printf("document loader disabled: %v", err)
		return nil
	}
	loader, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      parserExt,
	})
	if err != nil {
		log.Printf("document loader disabled: %v", err)
		return nil
	}
	return &documentLoader{loader: loader}
}

// Text stages the attachment in a temp file and loads it back as documents.
func (d *documentLoader) Text(ctx context.Context, f models.FileAttachment) (string, error) {
	data, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		return "", fmt.Errorf("decode attachment: %w", err)
	}
	tmp, err := os.CreateTemp("", "nur-ai-*"+filepath.Ext(f.Name))
	if err != nil {
		return "", fmt.Errorf("stage attachment: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("stage attachment: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("stage attachment: %w", err)
	}

	docs, err := d.loader.Load(ctx, document.Source{URI: tmp.Name()})
	if err != nil {
		return "", fmt.Errorf("load file: %w", err)
	}
	var builder strings.Builder
	for _, doc := range docs {
		content := strings.TrimSpace(doc.Content)
		if content == "" {
			continue
		}
		builder.WriteString(content)
		builder.WriteString("\n\n")
	}
	text := strings.TrimSpace(builder.String())
	if text == "" {
		return "", errors.New("file has no readable text content")
	}
	if runes := []rune(text); len(runes) > DocumentTextLimit {
		text = string(runes[:DocumentTextLimit]) + "\n[truncated]"
	}
	return text, nil
}

func isTextual(mimeType string) bool {
	mimeType = strings.ToLower(mimeType)
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if strings.HasPrefix(mimeType, "text/") {
		return true
	}
	switch mimeType {
	case "application/json", "application/xml", "application/x-yaml", "application/yaml", "application/javascript":
		return true
	}
	return false
}
