package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/music-arena/music-arena/internal/arena"
)

// MockProvider implements Provider for testing
type MockProvider struct {
	completeFunc func(ctx context.Context, request *CompletionRequest) (*CompletionResponse, error)
	calls        int
}

func (m *MockProvider) Complete(ctx context.Context, request *CompletionRequest) (*CompletionResponse, error) {
	m.calls++
	if m.completeFunc != nil {
		return m.completeFunc(ctx, request)
	}
	return &CompletionResponse{Text: "{}"}, nil
}

func (m *MockProvider) Name() string {
	return "mock"
}

func routedVocalPrompt() *arena.DetailedPrompt {
	return &arena.DetailedPrompt{
		OverallPrompt: "a sad country song",
		Duration:      30,
		LyricsTheme:   "heartbreak",
		LyricsStyle:   "country",
	}
}

func testPipeline(provider Provider) *Pipeline {
	return NewPipeline(provider, Config{Tag: "4o-v00", Provider: "openai", Model: "gpt-4o"}, Prompts{
		ModerateSystem: "moderate",
		RouteSystem:    "route",
		RouteExamples:  `[{"prompt": "sad song", "instrumental": false}]`,
		LyricsSystem:   "lyrics",
	})
}

func TestPipelineModerate(t *testing.T) {
	t.Run("safe verdict", func(t *testing.T) {
		mock := &MockProvider{completeFunc: func(_ context.Context, req *CompletionRequest) (*CompletionResponse, error) {
			assert.Equal(t, "gpt-4o", req.Model)
			assert.Equal(t, int64(moderateMaxTokens), req.MaxOutputTokens)
			require.NotNil(t, req.OutputSchema)
			assert.Equal(t, "moderation_verdict", req.OutputSchema.Name)
			return &CompletionResponse{Text: `{"safe": true, "reason": ""}`}, nil
		}}

		result, err := testPipeline(mock).Moderate(context.Background(), "upbeat jazz")
		require.NoError(t, err)
		assert.True(t, result.Safe)
	})

	t.Run("unsafe verdict", func(t *testing.T) {
		mock := &MockProvider{completeFunc: func(context.Context, *CompletionRequest) (*CompletionResponse, error) {
			return &CompletionResponse{Text: `{"safe": false, "reason": "harmful content"}`}, nil
		}}

		result, err := testPipeline(mock).Moderate(context.Background(), "something nasty")
		require.NoError(t, err)
		assert.False(t, result.Safe)
		assert.Equal(t, "harmful content", result.Reason)
	})

	t.Run("cached by text and tag", func(t *testing.T) {
		mock := &MockProvider{completeFunc: func(context.Context, *CompletionRequest) (*CompletionResponse, error) {
			return &CompletionResponse{Text: `{"safe": true, "reason": ""}`}, nil
		}}
		pipeline := testPipeline(mock)

		_, err := pipeline.Moderate(context.Background(), "upbeat jazz")
		require.NoError(t, err)
		_, err = pipeline.Moderate(context.Background(), "upbeat jazz")
		require.NoError(t, err)
		assert.Equal(t, 1, mock.calls)

		_, err = pipeline.Moderate(context.Background(), "different prompt")
		require.NoError(t, err)
		assert.Equal(t, 2, mock.calls)
	})

	t.Run("provider failure propagates", func(t *testing.T) {
		mock := &MockProvider{completeFunc: func(context.Context, *CompletionRequest) (*CompletionResponse, error) {
			return nil, errors.New("api down")
		}}

		_, err := testPipeline(mock).Moderate(context.Background(), "anything")
		assert.ErrorContains(t, err, "api down")
	})

	t.Run("garbage output rejected", func(t *testing.T) {
		mock := &MockProvider{completeFunc: func(context.Context, *CompletionRequest) (*CompletionResponse, error) {
			return &CompletionResponse{Text: "definitely not json"}, nil
		}}

		_, err := testPipeline(mock).Moderate(context.Background(), "anything")
		assert.Error(t, err)
	})
}

func TestPipelineRoute(t *testing.T) {
	t.Run("vocal prompt keeps lyric hints", func(t *testing.T) {
		mock := &MockProvider{completeFunc: func(_ context.Context, req *CompletionRequest) (*CompletionResponse, error) {
			require.NotNil(t, req.OutputSchema)
			assert.Equal(t, "route_decision", req.OutputSchema.Name)
			return &CompletionResponse{Text: `{"duration": 30, "instrumental": false, "lyrics_theme": "heartbreak", "lyrics_style": "country"}`}, nil
		}}

		detailed, err := testPipeline(mock).Route(context.Background(), "a sad country song")
		require.NoError(t, err)
		assert.Equal(t, "a sad country song", detailed.OverallPrompt)
		assert.Equal(t, 30.0, detailed.Duration)
		assert.False(t, detailed.Instrumental)
		assert.Equal(t, "heartbreak", detailed.LyricsTheme)
		assert.Equal(t, "country", detailed.LyricsStyle)
	})

	t.Run("instrumental prompt drops lyric hints", func(t *testing.T) {
		mock := &MockProvider{completeFunc: func(context.Context, *CompletionRequest) (*CompletionResponse, error) {
			return &CompletionResponse{Text: `{"duration": 20, "instrumental": true, "lyrics_theme": "ignored", "lyrics_style": "ignored"}`}, nil
		}}

		detailed, err := testPipeline(mock).Route(context.Background(), "piano only")
		require.NoError(t, err)
		assert.True(t, detailed.Instrumental)
		assert.Empty(t, detailed.LyricsTheme)
		assert.Empty(t, detailed.LyricsStyle)
		assert.NoError(t, detailed.Validate())
	})

	t.Run("duration clamped", func(t *testing.T) {
		mock := &MockProvider{completeFunc: func(context.Context, *CompletionRequest) (*CompletionResponse, error) {
			return &CompletionResponse{Text: `{"duration": 9000, "instrumental": true, "lyrics_theme": "", "lyrics_style": ""}`}, nil
		}}

		detailed, err := testPipeline(mock).Route(context.Background(), "an opera")
		require.NoError(t, err)
		assert.Equal(t, 300.0, detailed.Duration)

		mock.completeFunc = func(context.Context, *CompletionRequest) (*CompletionResponse, error) {
			return &CompletionResponse{Text: `{"duration": 0, "instrumental": true, "lyrics_theme": "", "lyrics_style": ""}`}, nil
		}
		detailed, err = testPipeline(mock).Route(context.Background(), "a blip")
		require.NoError(t, err)
		assert.Equal(t, 10.0, detailed.Duration)
	})

	t.Run("callers get isolated clones", func(t *testing.T) {
		mock := &MockProvider{completeFunc: func(context.Context, *CompletionRequest) (*CompletionResponse, error) {
			return &CompletionResponse{Text: `{"duration": 15, "instrumental": false, "lyrics_theme": "summer", "lyrics_style": "pop"}`}, nil
		}}
		pipeline := testPipeline(mock)

		first, err := pipeline.Route(context.Background(), "pop anthem")
		require.NoError(t, err)
		seed := uint32(99)
		first.Seed = &seed
		first.Lyrics = "scribbled on"

		second, err := pipeline.Route(context.Background(), "pop anthem")
		require.NoError(t, err)
		assert.Nil(t, second.Seed)
		assert.Empty(t, second.Lyrics)
		assert.Equal(t, 1, mock.calls)
	})
}

func TestPipelineGenerateLyrics(t *testing.T) {
	t.Run("trims and caches", func(t *testing.T) {
		mock := &MockProvider{completeFunc: func(_ context.Context, req *CompletionRequest) (*CompletionResponse, error) {
			assert.Nil(t, req.OutputSchema)
			assert.Contains(t, req.Messages[0].Content, "Theme: heartbreak")
			return &CompletionResponse{Text: "\n\nVerse one\nChorus\n"}, nil
		}}
		pipeline := testPipeline(mock)

		detailed := routedVocalPrompt()
		lyrics, err := pipeline.GenerateLyrics(context.Background(), detailed)
		require.NoError(t, err)
		assert.Equal(t, "Verse one\nChorus", lyrics)

		_, err = pipeline.GenerateLyrics(context.Background(), detailed)
		require.NoError(t, err)
		assert.Equal(t, 1, mock.calls)
	})

	t.Run("empty output is an error", func(t *testing.T) {
		mock := &MockProvider{completeFunc: func(context.Context, *CompletionRequest) (*CompletionResponse, error) {
			return &CompletionResponse{Text: "   "}, nil
		}}

		_, err := testPipeline(mock).GenerateLyrics(context.Background(), routedVocalPrompt())
		assert.Error(t, err)
	})
}

func TestProviderFactory(t *testing.T) {
	ctx := context.Background()

	t.Run("openai by model prefix", func(t *testing.T) {
		factory := NewProviderFactory("sk-test", "")
		provider, err := factory.GetProvider(ctx, "gpt-4o", "")
		require.NoError(t, err)
		assert.Equal(t, "openai", provider.Name())
	})

	t.Run("missing key", func(t *testing.T) {
		factory := NewProviderFactory("", "")
		_, err := factory.GetProvider(ctx, "gpt-4o", "")
		assert.ErrorContains(t, err, "OPENAI_API_KEY")
	})

	t.Run("unknown model", func(t *testing.T) {
		factory := NewProviderFactory("sk-test", "k")
		_, err := factory.GetProvider(ctx, "mystery-model", "")
		assert.Error(t, err)
	})

	t.Run("explicit provider name wins", func(t *testing.T) {
		factory := NewProviderFactory("sk-test", "")
		provider, err := factory.GetProvider(ctx, "mystery-model", "openai")
		require.NoError(t, err)
		assert.Equal(t, "openai", provider.Name())
	})
}

func TestConfigForTag(t *testing.T) {
	cfg, err := ConfigForTag("4o-v00")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, "openai", cfg.Provider)

	cfg, err = ConfigForTag("flash-v00")
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.Provider)

	_, err = ConfigForTag("nonsense")
	assert.Error(t, err)
}

func TestCleanTextOutput(t *testing.T) {
	assert.Equal(t, `{"safe": true}`, cleanTextOutput("```json\n{\"safe\": true}\n```"))
	assert.Equal(t, `{"safe": true}`, cleanTextOutput("```\n{\"safe\": true}\n```"))
	assert.Equal(t, `{"safe": true}`, cleanTextOutput(`{"safe": true}`))
}
