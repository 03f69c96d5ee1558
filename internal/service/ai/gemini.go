package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"iter"
	"strings"

	"google.golang.org/genai"

	"github.com/jomidokhol/nur-ai/internal/config"
	"github.com/jomidokhol/nur-ai/internal/models"
)

// modelsAPI is the part of genai.Models the generator calls.
type modelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

type geminiGenerator struct {
	models modelsAPI
	cfg    *config.Config
}

func newGeminiGenerator(ctx context.Context, cfg *config.Config) (*geminiGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.Provider().APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("new gemini client: %w", err)
	}
	return &geminiGenerator{models: client.Models, cfg: cfg}, nil
}

func (g *geminiGenerator) StreamGenerate(ctx context.Context, req Request) (Stream, error) {
	contents, err := geminiContents(req)
	if err != nil {
		return nil, err
	}
	mode := g.cfg.Mode(string(req.Mode))
	seq := g.models.GenerateContentStream(ctx, mode.Model, contents, g.contentConfig(mode))
	next, stop := iter.Pull2(seq)
	return &geminiStream{next: next, stop: stop, files: attachmentNames(req)}, nil
}

func (g *geminiGenerator) GenerateTitle(ctx context.Context, seed string) string {
	resp, err := g.models.GenerateContent(ctx, g.cfg.Generation.TitleModel, genai.Text(fmt.Sprintf(TitlePrompt, seed)), nil)
	if err != nil {
		return titleOrPlaceholder("", err)
	}
	return titleOrPlaceholder(strings.TrimSpace(responseText(resp)), nil)
}

func (g *geminiGenerator) contentConfig(mode config.ModeConfig) *genai.GenerateContentConfig {
	gen := g.cfg.Generation
	cc := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(gen.Temperature),
		TopK:        genai.Ptr(gen.TopK),
		TopP:        genai.Ptr(gen.TopP),
	}
	if mode.SystemInstruction != "" {
		cc.SystemInstruction = genai.NewContentFromText(mode.SystemInstruction, genai.RoleUser)
	}
	if mode.ThinkingBudget > 0 {
		cc.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(mode.ThinkingBudget)}
	}
	return cc
}

func geminiContents(req Request) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, h := range req.History {
		role := genai.Role(genai.RoleUser)
		if h.Role == models.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(h.Text, role))
	}

	parts := []*genai.Part{{Text: req.Prompt}}
	for _, f := range req.Files {
		data, err := base64.StdEncoding.DecodeString(f.Data)
		if err != nil {
			return nil, &GenerationError{Kind: KindAttachment, File: f.Name, Err: fmt.Errorf("decode attachment: %w", err)}
		}
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: f.MimeType, Data: data}})
	}
	return append(contents, &genai.Content{Role: genai.RoleUser, Parts: parts}), nil
}

// responseText joins the text parts of the first candidate, skipping thoughts.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p == nil || p.Thought {
			continue
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

type geminiStream struct {
	next  func() (*genai.GenerateContentResponse, error, bool)
	stop  func()
	files []string
}

func (s *geminiStream) Recv() (Fragment, error) {
	resp, err, ok := s.next()
	if !ok {
		return Fragment{}, io.EOF
	}
	if err != nil {
		return Fragment{}, classify(err, s.files)
	}
	return Fragment{Text: responseText(resp)}, nil
}

func (s *geminiStream) Close() error {
	s.stop()
	return nil
}
