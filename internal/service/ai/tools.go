package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

var webSearchLimiter = newSessionLimiter(WebSearchRateLimit, WebSearchRateWindow)

// InitToolsChain returns the tools the react agent may call.
func InitToolsChain(ctx context.Context) []tool.BaseTool {
	var tools []tool.BaseTool
	if ws := InitWebSearch(ctx); ws != nil {
		tools = append(tools, ws)
	}
	return tools
}

// InitWebSearch builds the web_search tool over every search backend that
// could be configured, in preference order.
func InitWebSearch(ctx context.Context) tool.InvokableTool {
	providers := searchProviders(ctx)
	if len(providers) == 0 {
		log.Printf("web search tool disabled: no search providers available")
		return nil
	}
	ws := &webSearchTool{
		providers: providers,
		pages:     newPageFetcher(nil),
		limiter:   webSearchLimiter,
	}
	return ws.asTool()
}

func (w *webSearchTool) asTool() tool.InvokableTool {
	info := &schema.ToolInfo{
		Name: "web_search",
		Desc: "Search the web for up-to-date information. " +
			"Falls back to another provider when one fails. " +
			"Pass a URL to read that page directly.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc:     "Natural language query or URL to search",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
	return utils.NewTool(info, w.run)
}

type searcher interface {
	InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error)
}

type searchProvider struct {
	name string
	searcher
}

func searchProviders(ctx context.Context) []searchProvider {
	var out []searchProvider
	if g := newGoogleSearch(ctx); g != nil {
		out = append(out, searchProvider{name: "google", searcher: g})
	}
	if d := newDuckDuckGoSearch(ctx); d != nil {
		out = append(out, searchProvider{name: "duckduckgo", searcher: d})
	}
	return out
}

type webSearchTool struct {
	providers []searchProvider
	pages     *pageFetcher
	limiter   *sessionLimiter
}

type webSearchParams struct {
	Query string `json:"query"`
}

func (w *webSearchTool) run(ctx context.Context, params *webSearchParams) (string, error) {
	if params == nil {
		return "", errors.New("missing search parameters")
	}
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return "", errors.New("query must not be empty")
	}
	if w.limiter != nil {
		if wait, ok := w.limiter.allow(ctx); !ok {
			return "", fmt.Errorf("%w for this chat, retry in %s", errRateLimited, wait.Round(time.Second))
		}
	}

	if w.pages != nil && looksLikeURL(query) {
		content, err := w.pages.fetch(ctx, query)
		if err == nil {
			return content, nil
		}
		log.Printf("web search: fetch %s failed: %v", query, err)
	}

	payload, err := json.Marshal(webSearchParams{Query: query})
	if err != nil {
		return "", fmt.Errorf("marshal search params: %w", err)
	}
	var errs []error
	for _, p := range w.providers {
		result, err := p.InvokableRun(ctx, string(payload))
		if err == nil {
			return result, nil
		}
		log.Printf("web search: %s failed: %v", p.name, err)
		errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
	}
	if len(errs) == 0 {
		return "", errors.New("no search provider configured")
	}
	return "", fmt.Errorf("no search provider succeeded: %w", errors.Join(errs...))
}

func newDuckDuckGoSearch(ctx context.Context) tool.InvokableTool {
	duckTool, err := duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
		ToolName:   "web_search_ddg",
		ToolDesc:   "DuckDuckGo text search",
		MaxResults: 3,
		Region:     duckduckgo.RegionWT,
		Timeout:    WebSearchHTTPTimeout,
	})
	if err != nil {
		log.Printf("duckduckgo search disabled: %v", err)
		return nil
	}
	return duckTool
}

// newGoogleSearch needs GOOGLE_API_KEY and GOOGLE_SEARCH_ENGINE_ID.
func newGoogleSearch(ctx context.Context) tool.InvokableTool {
	apiKey := os.Getenv("GOOGLE_API_KEY")
	engineID := os.Getenv("GOOGLE_SEARCH_ENGINE_ID")
	if apiKey == "" || engineID == "" {
		log.Printf("google search disabled: missing GOOGLE_API_KEY or GOOGLE_SEARCH_ENGINE_ID")
		return nil
	}
	googleTool, err := googlesearch.NewTool(ctx, &googlesearch.Config{
		ToolName:       "web_search_google",
		ToolDesc:       "Google custom search",
		APIKey:         apiKey,
		SearchEngineID: engineID,
		Lang:           "en",
		Num:            5,
	})
	if err != nil {
		log.Printf("google search disabled: %v", err)
		return nil
	}
	return googleTool
}
