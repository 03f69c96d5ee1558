package chat

import (
	"context"
	"io"
	"sync"

	"github.com/jomidokhol/nur-ai/internal/models"
	"github.com/jomidokhol/nur-ai/internal/persistence"
	"github.com/jomidokhol/nur-ai/internal/service/ai"
)

type step struct {
	text string
	err  error
}

type fakeStream struct {
	ctx   context.Context
	steps <-chan step
}

func (s *fakeStream) Recv() (ai.Fragment, error) {
	select {
	case st, ok := <-s.steps:
		if !ok {
			return ai.Fragment{}, io.EOF
		}
		if st.err != nil {
			return ai.Fragment{}, st.err
		}
		return ai.Fragment{Text: st.text}, nil
	case <-s.ctx.Done():
		return ai.Fragment{}, s.ctx.Err()
	}
}

func (s *fakeStream) Close() error { return nil }

// fakeGenerator replays scripted steps, or reads them from live when set.
type fakeGenerator struct {
	mu         sync.Mutex
	steps      []step
	live       chan step
	startErr   error
	title      string
	titleGate  chan struct{}
	requests   []ai.Request
	titleSeeds []string
}

func (g *fakeGenerator) StreamGenerate(ctx context.Context, req ai.Request) (ai.Stream, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.startErr != nil {
		return nil, g.startErr
	}
	if g.live != nil {
		return &fakeStream{ctx: ctx, steps: g.live}, nil
	}
	ch := make(chan step, len(g.steps))
	for _, s := range g.steps {
		ch <- s
	}
	close(ch)
	return &fakeStream{ctx: ctx, steps: ch}, nil
}

func (g *fakeGenerator) GenerateTitle(ctx context.Context, seed string) string {
	if g.titleGate != nil {
		select {
		case <-g.titleGate:
		case <-ctx.Done():
			return models.PlaceholderTitle
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.titleSeeds = append(g.titleSeeds, seed)
	if g.title == "" {
		return models.PlaceholderTitle
	}
	return g.title
}

func (g *fakeGenerator) lastRequest() ai.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[len(g.requests)-1]
}

func (g *fakeGenerator) titleCalls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.titleSeeds...)
}

type memPersist struct {
	mu       sync.Mutex
	sessions []models.Session
	theme    models.Theme
	saves    int
	loadErr  error
}

func (p *memPersist) Save(ctx context.Context, sessions []models.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves++
	p.sessions = make([]models.Session, len(sessions))
	for i, s := range sessions {
		p.sessions[i] = s.Clone()
	}
	return nil
}

func (p *memPersist) Load(ctx context.Context) ([]models.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	if p.sessions == nil {
		return nil, persistence.ErrNoSnapshot
	}
	return p.sessions, nil
}

func (p *memPersist) SaveTheme(ctx context.Context, theme models.Theme) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.theme = theme
	return nil
}

func (p *memPersist) LoadTheme(ctx context.Context) (models.Theme, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.theme == "" {
		return "", persistence.ErrNoSnapshot
	}
	return p.theme, nil
}

func (p *memPersist) Close() error { return nil }

func (p *memPersist) saveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves
}
