package battle

import (
	"context"
	"encoding/json"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/music-arena/music-arena/internal/arena"
	"github.com/music-arena/music-arena/internal/chat"
	"github.com/music-arena/music-arena/internal/matchup"
	"github.com/music-arena/music-arena/internal/registry"
	"github.com/music-arena/music-arena/internal/store"
	"github.com/music-arena/music-arena/internal/sysclient"
)

const testCatalog = `
alpha:
  display_name: Alpha
  organization: Alpha Lab
  access: OPEN
  supports_lyrics: true
  variants:
    base: {}
beta:
  display_name: Beta
  organization: Beta Inc
  access: OPEN
  supports_lyrics: false
  variants:
    base: {}
gamma:
  display_name: Gamma
  organization: Gamma Co
  access: PROPRIETARY
  supports_lyrics: true
  variants:
    base: {}
`

type stubPipeline struct {
	moderateFn func(ctx context.Context, text string) (*chat.ModerationResult, error)
	routeFn    func(ctx context.Context, text string) (*arena.DetailedPrompt, error)
	lyricsFn   func(ctx context.Context, prompt *arena.DetailedPrompt) (string, error)
}

func (p *stubPipeline) Moderate(ctx context.Context, text string) (*chat.ModerationResult, error) {
	if p.moderateFn != nil {
		return p.moderateFn(ctx, text)
	}
	return &chat.ModerationResult{Safe: true}, nil
}

func (p *stubPipeline) Route(ctx context.Context, text string) (*arena.DetailedPrompt, error) {
	if p.routeFn != nil {
		return p.routeFn(ctx, text)
	}
	return &arena.DetailedPrompt{OverallPrompt: text, Duration: 10, Instrumental: true}, nil
}

func (p *stubPipeline) GenerateLyrics(ctx context.Context, prompt *arena.DetailedPrompt) (string, error) {
	if p.lyricsFn != nil {
		return p.lyricsFn(ctx, prompt)
	}
	return "la la la", nil
}

type stubClient struct {
	mu         sync.Mutex
	calls      int
	prompts    []*arena.DetailedPrompt
	generateFn func(ctx context.Context, prompt *arena.DetailedPrompt) (*sysclient.GenerateResult, error)
	supportFn  func(ctx context.Context, prompt *arena.DetailedPrompt) (arena.PromptSupport, error)
}

func (c *stubClient) Generate(ctx context.Context, prompt *arena.DetailedPrompt) (*sysclient.GenerateResult, error) {
	c.mu.Lock()
	c.calls++
	c.prompts = append(c.prompts, prompt.Clone())
	c.mu.Unlock()

	if c.generateFn != nil {
		return c.generateFn(ctx, prompt)
	}
	return &sysclient.GenerateResult{
		Audio:      []byte("RIFF" + prompt.OverallPrompt),
		Format:     "wav",
		SampleRate: 44100,
		Lyrics:     prompt.Lyrics,
		Meta:       arena.GenerateMetadata{BatchSize: 1, GenerateMs: 42, ModelWarm: true},
	}, nil
}

func (c *stubClient) PromptSupport(ctx context.Context, prompt *arena.DetailedPrompt) (arena.PromptSupport, error) {
	if c.supportFn != nil {
		return c.supportFn(ctx, prompt)
	}
	return arena.PromptSupported, nil
}

func (c *stubClient) Health(context.Context) error { return nil }

func (c *stubClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *stubClient) seenPrompts() []*arena.DetailedPrompt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*arena.DetailedPrompt(nil), c.prompts...)
}

type fixture struct {
	svc      *Service
	pipeline *stubPipeline
	clients  map[string]*stubClient
	blobs    *store.MemoryBlobStore
	docs     *store.MemoryDocStore
}

func newFixture(t *testing.T, mutate func(deps *Deps)) *fixture {
	t.Helper()

	reg, err := registry.Parse([]byte(testCatalog),
		registry.WithSecretResolver(func(string) bool { return true }))
	require.NoError(t, err)

	f := &fixture{
		pipeline: &stubPipeline{},
		clients:  make(map[string]*stubClient),
		blobs:    store.NewMemoryBlobStore(),
		docs:     store.NewMemoryDocStore(),
	}

	deps := Deps{
		Registry: reg,
		Pipeline: f.pipeline,
		Clients:  make(map[string]GeneratorClient),
		Blobs:    f.blobs,
		Docs:     f.docs,
		UserSalt: "test-salt",
		Rand:     rand.New(rand.NewSource(1)),
	}
	for _, entry := range reg.Entries() {
		client := &stubClient{}
		f.clients[entry.Key.String()] = client
		deps.Clients[entry.Key.String()] = client
	}
	if mutate != nil {
		mutate(&deps)
	}

	f.svc = NewService(deps)
	return f
}

func (f *fixture) storedBattle(t *testing.T, id string) *arena.Battle {
	t.Helper()
	doc, _, err := f.svc.deps.Docs.Get(context.Background(), battlesCollection, id)
	require.NoError(t, err)
	var battle arena.Battle
	require.NoError(t, json.Unmarshal(doc, &battle))
	return &battle
}

func testSession() arena.Session {
	return arena.Session{
		UUID:       uuid.New().String(),
		CreateTime: time.Now().UTC(),
		AckTOS:     true,
	}
}

func simpleRequest(prompt string) *arena.BattleRequest {
	return &arena.BattleRequest{
		Session: testSession(),
		User:    arena.User{SaltedIP: "ip-hash", SaltedFingerprint: "fp-hash"},
		Prompt:  arena.SimplePrompt{Prompt: prompt},
	}
}

func mustKey(t *testing.T, s string) arena.SystemKey {
	t.Helper()
	key, err := arena.ParseSystemKey(s)
	require.NoError(t, err)
	return key
}

func TestGenerateBattleHappyPath(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := f.svc.GenerateBattle(context.Background(), simpleRequest("gentle morning jazz"))
	require.NoError(t, err)

	_, err = uuid.Parse(resp.UUID)
	require.NoError(t, err)

	assert.Equal(t, arena.AnonymizedTag, resp.AMetadata.SystemTag)
	assert.Equal(t, arena.AnonymizedTag, resp.AMetadata.VariantTag)
	assert.Equal(t, arena.AnonymizedTag, resp.BMetadata.SystemTag)
	assert.Equal(t, arena.AnonymizedTag, resp.BMetadata.VariantTag)
	assert.True(t, strings.HasPrefix(resp.AAudioURL, "/audio/"+resp.UUID+"/a."), resp.AAudioURL)
	assert.True(t, strings.HasPrefix(resp.BAudioURL, "/audio/"+resp.UUID+"/b."), resp.BAudioURL)
	require.NotNil(t, resp.PromptDetailed)
	assert.NotNil(t, resp.PromptDetailed.Seed)
	assert.False(t, resp.PromptPrebaked)

	battle := f.storedBattle(t, resp.UUID)
	assert.NotEqual(t, battle.ASystemKey, battle.BSystemKey)
	assert.Nil(t, battle.Vote)
	assert.NotEmpty(t, battle.AAudioChecksum)
	assert.NotEmpty(t, battle.AMetadata.DisplayName)
	assert.NotEmpty(t, battle.BMetadata.DisplayName)
	require.NotNil(t, battle.AGenerateMetadata)
	assert.True(t, battle.AGenerateMetadata.ModelWarm)

	// Raw identifiers never reach storage.
	assert.NotEqual(t, "ip-hash", battle.User.SaltedIP)
	assert.NotEqual(t, "fp-hash", battle.User.SaltedFingerprint)

	// Both clips landed in the blob store.
	_, err = f.blobs.Get(context.Background(), resp.UUID+"/a.wav")
	require.NoError(t, err)
	_, err = f.blobs.Get(context.Background(), resp.UUID+"/b.wav")
	require.NoError(t, err)

	// Exactly two systems generated, and they shared one seed.
	var seeds []uint32
	for _, client := range f.clients {
		for _, p := range client.seenPrompts() {
			require.NotNil(t, p.Seed)
			seeds = append(seeds, *p.Seed)
		}
	}
	require.Len(t, seeds, 2)
	assert.Equal(t, seeds[0], seeds[1])
}

func TestGenerateBattleGatewayURL(t *testing.T) {
	f := newFixture(t, func(deps *Deps) {
		deps.GatewayURL = "https://arena.example/"
	})

	resp, err := f.svc.GenerateBattle(context.Background(), simpleRequest("wobbly dub bass"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.AAudioURL, "https://arena.example/audio/"), resp.AAudioURL)
}

func TestGenerateBattleValidation(t *testing.T) {
	f := newFixture(t, nil)

	t.Run("empty prompt", func(t *testing.T) {
		req := simpleRequest("")
		_, err := f.svc.GenerateBattle(context.Background(), req)
		assert.True(t, arena.IsCode(err, arena.CodeValidation), err)
	})

	t.Run("missing tos ack", func(t *testing.T) {
		req := simpleRequest("synthwave")
		req.Session.AckTOS = false
		_, err := f.svc.GenerateBattle(context.Background(), req)
		assert.True(t, arena.IsCode(err, arena.CodeValidation), err)
	})

	t.Run("detailed prompt over duration cap", func(t *testing.T) {
		req := simpleRequest("synthwave")
		req.PromptDetailed = &arena.DetailedPrompt{
			OverallPrompt: "synthwave",
			Duration:      arena.MaxDurationSeconds + 1,
			Instrumental:  true,
		}
		_, err := f.svc.GenerateBattle(context.Background(), req)
		assert.True(t, arena.IsCode(err, arena.CodeValidation), err)
	})
}

func TestGenerateBattleModerationRejected(t *testing.T) {
	f := newFixture(t, nil)
	f.pipeline.moderateFn = func(context.Context, string) (*chat.ModerationResult, error) {
		return &chat.ModerationResult{Safe: false, Reason: "asks for a copyrighted melody"}, nil
	}

	_, err := f.svc.GenerateBattle(context.Background(), simpleRequest("play me exact song X"))
	require.True(t, arena.IsCode(err, arena.CodePromptRejected), err)
	assert.Contains(t, arena.AsError(err).Detail, "copyrighted")

	for key, client := range f.clients {
		assert.Zero(t, client.callCount(), "client %s should not have generated", key)
	}
}

func TestGenerateBattlePassthroughSkipsRouting(t *testing.T) {
	f := newFixture(t, nil)
	f.pipeline.routeFn = func(context.Context, string) (*arena.DetailedPrompt, error) {
		t.Error("detailed prompts must not be routed")
		return nil, nil
	}

	seed := uint32(99)
	req := simpleRequest("ignored")
	req.PromptDetailed = &arena.DetailedPrompt{
		OverallPrompt: "minimal techno with a detuned lead",
		Duration:      30,
		Instrumental:  true,
		Seed:          &seed,
	}

	resp, err := f.svc.GenerateBattle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "minimal techno with a detuned lead", resp.PromptDetailed.OverallPrompt)

	for _, client := range f.clients {
		for _, p := range client.seenPrompts() {
			require.NotNil(t, p.Seed)
			assert.Equal(t, seed, *p.Seed)
		}
	}

	// The caller's prompt is cloned, not mutated.
	assert.Equal(t, seed, *req.PromptDetailed.Seed)
}

func TestGenerateBattlePrebakedDetection(t *testing.T) {
	prompt := &arena.DetailedPrompt{OverallPrompt: "prebaked lofi beats", Duration: 30, Instrumental: true}
	f := newFixture(t, func(deps *Deps) {
		deps.Prebaked = map[string]*arena.DetailedPrompt{prompt.SeedlessChecksum(): prompt}
	})

	req := simpleRequest("ignored")
	req.PromptDetailed = prompt.Clone()
	resp, err := f.svc.GenerateBattle(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.PromptPrebaked)
	assert.True(t, f.storedBattle(t, resp.UUID).PromptPrebaked)

	other, err := f.svc.GenerateBattle(context.Background(), simpleRequest("anything else"))
	require.NoError(t, err)
	assert.False(t, other.PromptPrebaked)
}

func TestGenerateBattleSimplePromptOverrides(t *testing.T) {
	f := newFixture(t, nil)
	f.pipeline.routeFn = func(_ context.Context, text string) (*arena.DetailedPrompt, error) {
		return &arena.DetailedPrompt{
			OverallPrompt: text,
			Duration:      10,
			Instrumental:  false,
			LyricsTheme:   "heartbreak",
		}, nil
	}
	f.pipeline.lyricsFn = func(context.Context, *arena.DetailedPrompt) (string, error) {
		t.Error("instrumental battles must not generate lyrics")
		return "", nil
	}

	duration := 42.0
	instrumental := true
	req := simpleRequest("sad song about rain")
	req.Prompt.Duration = &duration
	req.Prompt.Instrumental = &instrumental

	resp, err := f.svc.GenerateBattle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 42.0, resp.PromptDetailed.Duration)
	assert.True(t, resp.PromptDetailed.Instrumental)
	assert.Empty(t, resp.PromptDetailed.Lyrics)
	assert.Empty(t, resp.PromptDetailed.LyricsTheme)
}

func TestGenerateBattleVocalFlow(t *testing.T) {
	f := newFixture(t, nil)
	f.pipeline.routeFn = func(_ context.Context, text string) (*arena.DetailedPrompt, error) {
		return &arena.DetailedPrompt{
			OverallPrompt: text,
			Duration:      20,
			Instrumental:  false,
			LyricsTheme:   "summer nights",
		}, nil
	}
	f.pipeline.lyricsFn = func(_ context.Context, prompt *arena.DetailedPrompt) (string, error) {
		assert.Equal(t, "summer nights", prompt.LyricsTheme)
		return "verse one\nchorus", nil
	}

	resp, err := f.svc.GenerateBattle(context.Background(), simpleRequest("upbeat pop anthem"))
	require.NoError(t, err)

	battle := f.storedBattle(t, resp.UUID)
	// beta cannot sing, so it never competes for vocal prompts.
	assert.NotEqual(t, "beta", battle.ASystemKey.SystemTag)
	assert.NotEqual(t, "beta", battle.BSystemKey.SystemTag)
	assert.Zero(t, f.clients["beta:base"].callCount())

	assert.Equal(t, "verse one\nchorus", battle.PromptDetailed.Lyrics)
	assert.Equal(t, "verse one\nchorus", resp.AMetadata.Lyrics)
	assert.Equal(t, "verse one\nchorus", resp.BMetadata.Lyrics)
}

func TestGenerateBattleProbeFiltersUnsupported(t *testing.T) {
	f := newFixture(t, func(deps *Deps) {
		deps.ProbeSupport = true
	})
	// An unreachable probe keeps the candidate; a negative answer drops it.
	f.clients["alpha:base"].supportFn = func(context.Context, *arena.DetailedPrompt) (arena.PromptSupport, error) {
		return "", arena.NewUnreachable("probe refused")
	}
	f.clients["gamma:base"].supportFn = func(context.Context, *arena.DetailedPrompt) (arena.PromptSupport, error) {
		return arena.PromptUnsupportedDuration, nil
	}

	resp, err := f.svc.GenerateBattle(context.Background(), simpleRequest("eight minute drone"))
	require.NoError(t, err)

	battle := f.storedBattle(t, resp.UUID)
	for _, key := range []arena.SystemKey{battle.ASystemKey, battle.BSystemKey} {
		assert.NotEqual(t, "gamma", key.SystemTag)
	}
	assert.Zero(t, f.clients["gamma:base"].callCount())
}

func TestGenerateBattleNoEligibleSystems(t *testing.T) {
	f := newFixture(t, func(deps *Deps) {
		deps.ProbeSupport = true
	})
	for _, client := range f.clients {
		client.supportFn = func(context.Context, *arena.DetailedPrompt) (arena.PromptSupport, error) {
			return arena.PromptUnsupported, nil
		}
	}

	_, err := f.svc.GenerateBattle(context.Background(), simpleRequest("impossible ask"))
	assert.True(t, arena.IsCode(err, arena.CodeNoEligibleSystems), err)
}

func TestGenerateBattleResamplesFailedSide(t *testing.T) {
	f := newFixture(t, func(deps *Deps) {
		deps.Weights = matchup.Weights{"alpha:base/beta:base": 1}
	})
	f.clients["beta:base"].generateFn = func(context.Context, *arena.DetailedPrompt) (*sysclient.GenerateResult, error) {
		return nil, arena.NewBusy("generation queue is full")
	}

	resp, err := f.svc.GenerateBattle(context.Background(), simpleRequest("late night lofi"))
	require.NoError(t, err)

	battle := f.storedBattle(t, resp.UUID)
	assert.Equal(t, mustKey(t, "alpha:base"), battle.ASystemKey)
	assert.Equal(t, mustKey(t, "gamma:base"), battle.BSystemKey)

	assert.Equal(t, 1, f.clients["alpha:base"].callCount())
	assert.Equal(t, 1, f.clients["beta:base"].callCount())
	assert.Equal(t, 1, f.clients["gamma:base"].callCount())
}

func TestGenerateBattleBothSidesFail(t *testing.T) {
	f := newFixture(t, func(deps *Deps) {
		deps.Weights = matchup.Weights{"alpha:base/beta:base": 1}
	})
	fail := func(context.Context, *arena.DetailedPrompt) (*sysclient.GenerateResult, error) {
		return nil, arena.NewGenerateFailed("model crashed")
	}
	f.clients["alpha:base"].generateFn = fail
	f.clients["beta:base"].generateFn = fail

	_, err := f.svc.GenerateBattle(context.Background(), simpleRequest("anything"))
	require.True(t, arena.IsCode(err, arena.CodeGenerateFailed), err)

	// The failure must not reveal which systems had been sampled.
	assert.NotContains(t, arena.AsError(err).Detail, "alpha:base")
	assert.NotContains(t, arena.AsError(err).Detail, "beta:base")

	// With both sides down there is nothing to resample.
	assert.Zero(t, f.clients["gamma:base"].callCount())
}

func TestGenerateBattleResampleExhausted(t *testing.T) {
	f := newFixture(t, func(deps *Deps) {
		deps.Weights = matchup.Weights{"alpha:base/gamma:base": 1}
	})
	// Vocal prompts shrink the pool to alpha and gamma, so gamma's failure
	// leaves no replacement.
	f.pipeline.routeFn = func(_ context.Context, text string) (*arena.DetailedPrompt, error) {
		return &arena.DetailedPrompt{OverallPrompt: text, Duration: 15, Instrumental: false}, nil
	}
	f.clients["gamma:base"].generateFn = func(context.Context, *arena.DetailedPrompt) (*sysclient.GenerateResult, error) {
		return nil, arena.NewGenerateFailed("gpu on fire")
	}

	_, err := f.svc.GenerateBattle(context.Background(), simpleRequest("power ballad"))
	require.True(t, arena.IsCode(err, arena.CodeGenerateFailed), err)
	assert.Contains(t, arena.AsError(err).Detail, "gpu on fire")
}
