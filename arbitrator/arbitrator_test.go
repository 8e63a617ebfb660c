package arbitrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "fault-matcher/errors"
	"fault-matcher/match"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

type fakeModel struct {
	mu       sync.Mutex
	content  string
	err      error
	delay    time.Duration
	messages []llms.MessageContent
	opts     llms.CallOptions
	calls    int
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.mu.Lock()
	f.calls++
	f.messages = messages
	for _, opt := range options {
		opt(&f.opts)
	}
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.content}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func newTestClient(t *testing.T, model *fakeModel, cfg Config) *Client {
	t.Helper()
	pool := NewPool(func(baseURL, apiKey string) (llms.Model, error) {
		return model, nil
	})
	if cfg.BaseURL == "" && cfg.APIKey == "" && cfg.Model == "" {
		cfg.BaseURL, cfg.APIKey, cfg.Model = "http://llm.local", "secret", "test-model"
	}
	return NewClient(cfg, pool, zap.NewNop())
}

var choices = []match.Choice{
	{ID: "A", Text: "刹车异响"},
	{ID: "B", Text: "怠速抖动"},
}

func TestPickNotConfigured(t *testing.T) {
	model := &fakeModel{content: `{"chosen_id":"A","confidence":1}`}
	client := NewClient(Config{BaseURL: "http://llm.local", Model: "m"}, NewPool(func(string, string) (llms.Model, error) {
		return model, nil
	}), nil)

	got := client.Pick(context.Background(), "q", choices)

	assert.Equal(t, match.Arbitration{ChosenID: match.NoSelection, Confidence: 0, Reason: "not configured"}, got)
	assert.Zero(t, model.calls, "no network attempt without credentials")
}

func TestPickValidatesAnswer(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantID   string
		wantConf float64
		wantWhy  string
	}{
		{name: "offered id", content: `{"chosen_id":"B","confidence":0.8,"why":"抖动一致"}`, wantID: "B", wantConf: 0.8, wantWhy: "抖动一致"},
		{name: "unknown", content: `{"chosen_id":"UNKNOWN","confidence":0.3}`, wantID: match.NoSelection, wantConf: 0.3},
		{name: "id outside offer", content: `{"chosen_id":"Z","confidence":0.9}`, wantID: match.NoSelection, wantConf: 0},
		{name: "confidence clamped", content: `{"chosen_id":"A","confidence":7}`, wantID: "A", wantConf: 1},
		{name: "negative confidence", content: `{"chosen_id":"A","confidence":-2}`, wantID: "A", wantConf: 0},
		{name: "string confidence", content: `{"chosen_id":"A","confidence":"0.4","reason":"r"}`, wantID: "A", wantConf: 0.4, wantWhy: "r"},
		{name: "missing fields", content: `{}`, wantID: match.NoSelection, wantConf: 0},
		{name: "fenced json", content: "```json\n{\"chosen_id\":\"A\",\"confidence\":0.6}\n```", wantID: "A", wantConf: 0.6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, &fakeModel{content: tt.content}, Config{})

			got := client.Pick(context.Background(), "刹车响", choices)

			assert.Equal(t, tt.wantID, got.ChosenID)
			assert.InDelta(t, tt.wantConf, got.Confidence, 1e-12)
			assert.Equal(t, tt.wantWhy, got.Reason)
		})
	}
}

func TestValidateReportsContractViolation(t *testing.T) {
	offered := []match.Choice{{ID: "A", Text: "a"}, {ID: "B", Text: "b"}}

	got, err := validate(match.Arbitration{ChosenID: "Z", Confidence: 0.9}, offered)
	assert.True(t, apperrors.IsContractViolation(err))
	assert.Equal(t, match.NoSelection, got.ChosenID)
	assert.Zero(t, got.Confidence)

	got, err = validate(match.Arbitration{ChosenID: "B", Confidence: 1.5}, offered)
	assert.NoError(t, err)
	assert.Equal(t, "B", got.ChosenID)
	assert.Equal(t, 1.0, got.Confidence)

	_, err = validate(match.Arbitration{ChosenID: match.NoSelection}, offered)
	assert.NoError(t, err)
}

func TestPickNumericIDs(t *testing.T) {
	client := newTestClient(t, &fakeModel{content: `{"chosen_id":42,"confidence":0.7}`}, Config{})

	got := client.Pick(context.Background(), "q", []match.Choice{{ID: "42", Text: "x"}})

	assert.Equal(t, "42", got.ChosenID)
}

func TestPickErrorsMapToNoSelection(t *testing.T) {
	tests := []struct {
		name  string
		model *fakeModel
	}{
		{name: "transport error", model: &fakeModel{err: errors.New("connection refused")}},
		{name: "malformed output", model: &fakeModel{content: "I think it's A"}},
		{name: "timeout", model: &fakeModel{content: `{"chosen_id":"A"}`, delay: time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.model, Config{
				BaseURL: "http://llm.local",
				APIKey:  "k",
				Model:   "m",
				Timeout: 20 * time.Millisecond,
			})

			got := client.Pick(context.Background(), "q", choices)

			assert.Equal(t, match.Arbitration{ChosenID: match.NoSelection, Confidence: 0, Reason: "error"}, got)
		})
	}
}

func TestPickSanitizesInput(t *testing.T) {
	model := &fakeModel{content: `{"chosen_id":"6","confidence":0.9}`}
	client := newTestClient(t, model, Config{})

	many := make([]match.Choice, 0, 8)
	for i := 0; i < 8; i++ {
		many = append(many, match.Choice{ID: string(rune('0' + i)), Text: strings.Repeat("文", 500)})
	}
	got := client.Pick(context.Background(), strings.Repeat("问", 500), many)

	assert.Equal(t, match.NoSelection, got.ChosenID, "id 6 was cut by the candidate cap")

	require.Len(t, model.messages, 2)
	prompt := model.messages[1].Parts[0].(llms.TextContent).Text
	assert.Contains(t, prompt, strings.Repeat("问", 200))
	assert.NotContains(t, prompt, strings.Repeat("问", 201))
	assert.NotContains(t, prompt, strings.Repeat("文", 201))
	assert.Contains(t, prompt, `id:"4"`)
	assert.NotContains(t, prompt, `id:"5"`)

	assert.Equal(t, "test-model", model.opts.Model)
	assert.Zero(t, model.opts.Temperature)
	assert.True(t, model.opts.JSONMode)
}

func TestPoolReusesClients(t *testing.T) {
	created := 0
	pool := NewPool(func(baseURL, apiKey string) (llms.Model, error) {
		created++
		return &fakeModel{}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.Get("http://a", "k1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	_, err := pool.Get("http://a", "k2")
	require.NoError(t, err)
	_, err = pool.Get("http://b", "k1")
	require.NoError(t, err)

	assert.Equal(t, 3, created)
}

func TestPoolFactoryError(t *testing.T) {
	calls := 0
	pool := NewPool(func(string, string) (llms.Model, error) {
		calls++
		return nil, errors.New("bad url")
	})
	_, err := pool.Get("x", "y")
	assert.Error(t, err)

	// failures are not cached
	_, err = pool.Get("x", "y")
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestAPIBase(t *testing.T) {
	assert.Equal(t, "https://api.example.com/v1", apiBase("https://api.example.com"))
	assert.Equal(t, "https://api.example.com/v1", apiBase("https://api.example.com/v1/"))
}
