package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/jomidokhol/nur-ai/internal/config"
	"github.com/jomidokhol/nur-ai/internal/models"
)

type streamFunc func(ctx context.Context, msgs []*schema.Message) (*schema.StreamReader[*schema.Message], error)

// einoGenerator drives openai, claude or gemini chat models through eino,
// optionally wrapped in a react agent that can call web_search.
type einoGenerator struct {
	cfg      *config.Config
	tools    []tool.BaseTool
	newModel func(ctx context.Context, mode config.ModeConfig) (model.ToolCallingChatModel, error)
	docs     documentText

	mu      sync.Mutex
	runners map[string]streamFunc
	chat    map[string]model.ToolCallingChatModel
}

func newEinoGenerator(ctx context.Context, cfg *config.Config) (*einoGenerator, error) {
	g := &einoGenerator{
		cfg:     cfg,
		runners: make(map[string]streamFunc),
		chat:    make(map[string]model.ToolCallingChatModel),
	}
	if cfg.Generation.WebSearch {
		g.tools = InitToolsChain(ctx)
	}
	if loader := newDocumentLoader(ctx); loader != nil {
		g.docs = loader
	}
	var genaiClient *genai.Client
	g.newModel = func(ctx context.Context, mode config.ModeConfig) (model.ToolCallingChatModel, error) {
		if cfg.Generation.Provider == "gemini" && genaiClient == nil {
			client, err := genai.NewClient(ctx, &genai.ClientConfig{
				APIKey:  cfg.Provider().APIKey,
				Backend: genai.BackendGeminiAPI,
			})
			if err != nil {
				return nil, fmt.Errorf("new gemini client: %w", err)
			}
			genaiClient = client
		}
		return newChatModel(ctx, cfg.Generation.Provider, cfg.Provider(), mode, genaiClient)
	}
	return g, nil
}

func newChatModel(ctx context.Context, provider string, provCfg config.ProviderConfig, mode config.ModeConfig, client *genai.Client) (model.ToolCallingChatModel, error) {
	switch provider {
	case "openai":
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   mode.Model,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		gc := &gemini.Config{
			Client: client,
			Model:  mode.Model,
		}
		if mode.ThinkingBudget > 0 {
			gc.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(mode.ThinkingBudget)}
		}
		return gemini.NewChatModel(ctx, gc)
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     mode.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
}

// chatModel returns the cached chat model for a model name.
func (g *einoGenerator) chatModel(ctx context.Context, mode config.ModeConfig) (model.ToolCallingChatModel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if m, ok := g.chat[mode.Model]; ok {
		return m, nil
	}
	m, err := g.newModel(ctx, mode)
	if err != nil {
		return nil, fmt.Errorf("init chat model %s: %w", mode.Model, err)
	}
	g.chat[mode.Model] = m
	return m, nil
}

func (g *einoGenerator) runner(ctx context.Context, modeName string) (streamFunc, config.ModeConfig, error) {
	mode := g.cfg.Mode(modeName)
	g.mu.Lock()
	run, ok := g.runners[modeName]
	g.mu.Unlock()
	if ok {
		return run, mode, nil
	}

	chatModel, err := g.chatModel(ctx, mode)
	if err != nil {
		return nil, mode, err
	}
	run = func(ctx context.Context, msgs []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
		return chatModel.Stream(ctx, msgs)
	}
	if len(g.tools) > 0 {
		agent, err := react.NewAgent(ctx, &react.AgentConfig{
			ToolCallingModel: chatModel,
			ToolsConfig: compose.ToolsNodeConfig{
				Tools: g.tools,
			},
		})
		if err != nil {
			return nil, mode, fmt.Errorf("init react agent: %w", err)
		}
		run = func(ctx context.Context, msgs []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
			return agent.Stream(ctx, msgs)
		}
	}

	g.mu.Lock()
	g.runners[modeName] = run
	g.mu.Unlock()
	return run, mode, nil
}

func (g *einoGenerator) StreamGenerate(ctx context.Context, req Request) (Stream, error) {
	run, mode, err := g.runner(ctx, string(req.Mode))
	if err != nil {
		return nil, classify(err, nil)
	}
	msgs, err := einoMessages(ctx, req, mode.SystemInstruction, g.docs)
	if err != nil {
		return nil, err
	}
	files := attachmentNames(req)
	sr, err := run(WithToolSession(ctx, req.SessionID), msgs)
	if err != nil {
		return nil, classify(fmt.Errorf("generate stream: %w", err), files)
	}
	return &einoStream{reader: sr, files: files}, nil
}

func (g *einoGenerator) GenerateTitle(ctx context.Context, seed string) string {
	mode := g.cfg.Mode(string(models.ModeFast))
	if g.cfg.Generation.TitleModel != "" {
		mode = config.ModeConfig{Model: g.cfg.Generation.TitleModel}
	}
	chatModel, err := g.chatModel(ctx, mode)
	if err != nil {
		return titleOrPlaceholder("", err)
	}
	resp, err := chatModel.Generate(ctx, []*schema.Message{
		schema.UserMessage(fmt.Sprintf(TitlePrompt, seed)),
	})
	if err != nil {
		return titleOrPlaceholder("", err)
	}
	return titleOrPlaceholder(strings.TrimSpace(resp.Content), nil)
}

// einoMessages maps a request onto eino messages. Images travel as data
// URLs; text-like files are inlined as text when docs is set.
func einoMessages(ctx context.Context, req Request, systemInstruction string, docs documentText) ([]*schema.Message, error) {
	msgs := make([]*schema.Message, 0, len(req.History)+2)
	if systemInstruction != "" {
		msgs = append(msgs, schema.SystemMessage(systemInstruction))
	}
	for _, h := range req.History {
		role := schema.User
		if h.Role == models.RoleModel {
			role = schema.Assistant
		}
		msgs = append(msgs, &schema.Message{Role: role, Content: h.Text})
	}

	user := &schema.Message{Role: schema.User, Content: req.Prompt}
	if len(req.Files) > 0 {
		parts := []schema.ChatMessagePart{{Type: schema.ChatMessagePartTypeText, Text: req.Prompt}}
		for _, f := range req.Files {
			if docs != nil && isTextual(f.MimeType) {
				text, err := docs.Text(ctx, f)
				if err != nil {
					return nil, &GenerationError{Kind: KindAttachment, File: f.Name, Err: err}
				}
				parts = append(parts, schema.ChatMessagePart{
					Type: schema.ChatMessagePartTypeText,
					Text: fmt.Sprintf("Attached file %s:\n%s", f.Name, text),
				})
				continue
			}
			if _, err := base64.StdEncoding.DecodeString(f.Data); err != nil {
				return nil, &GenerationError{Kind: KindAttachment, File: f.Name, Err: fmt.Errorf("decode attachment: %w", err)}
			}
			parts = append(parts, schema.ChatMessagePart{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL:      "data:" + f.MimeType + ";base64," + f.Data,
					MIMEType: f.MimeType,
				},
			})
		}
		user.Content = ""
		user.MultiContent = parts
	}
	return append(msgs, user), nil
}

type einoStream struct {
	reader *schema.StreamReader[*schema.Message]
	files  []string
}

func (s *einoStream) Recv() (Fragment, error) {
	chunk, err := s.reader.Recv()
	if err == io.EOF {
		return Fragment{}, io.EOF
	}
	if err != nil {
		return Fragment{}, classify(err, s.files)
	}
	if chunk == nil {
		return Fragment{}, nil
	}
	return Fragment{Text: chunk.Content}, nil
}

func (s *einoStream) Close() error {
	s.reader.Close()
	return nil
}
