// Package battle implements the core arena flow: route a prompt, sample two
// systems, generate both clips, persist the record, and later attach the
// listener's vote.
package battle

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/music-arena/music-arena/internal/arena"
	"github.com/music-arena/music-arena/internal/chat"
	"github.com/music-arena/music-arena/internal/logger"
	"github.com/music-arena/music-arena/internal/matchup"
	"github.com/music-arena/music-arena/internal/metrics"
	"github.com/music-arena/music-arena/internal/registry"
	"github.com/music-arena/music-arena/internal/store"
	"github.com/music-arena/music-arena/internal/sysclient"
)

const (
	battlesCollection = "battles"

	// generateBudget bounds one side's generation, retries included.
	generateBudget = sysclient.DefaultTotalTimeout

	// probeTimeout bounds one prompt-support probe during candidate
	// filtering.
	probeTimeout = 5 * time.Second
)

// Global metrics instance
var sentryMetrics = metrics.NewSentryMetrics()

// GeneratorClient is the slice of the system client the service depends on.
type GeneratorClient interface {
	Generate(ctx context.Context, prompt *arena.DetailedPrompt) (*sysclient.GenerateResult, error)
	PromptSupport(ctx context.Context, prompt *arena.DetailedPrompt) (arena.PromptSupport, error)
	Health(ctx context.Context) error
}

// PromptPipeline is the slice of the chat pipeline the service depends on.
type PromptPipeline interface {
	Moderate(ctx context.Context, text string) (*chat.ModerationResult, error)
	Route(ctx context.Context, text string) (*arena.DetailedPrompt, error)
	GenerateLyrics(ctx context.Context, prompt *arena.DetailedPrompt) (string, error)
}

// Deps carries everything the battle service is wired with.
type Deps struct {
	Registry *registry.Registry
	Pipeline PromptPipeline
	// Clients maps SystemKey strings to their system server clients.
	Clients map[string]GeneratorClient
	Blobs   store.BlobStore
	Docs    store.DocStore
	Weights matchup.Weights
	// Prebaked maps seedless prompt checksums to curated prompts.
	Prebaked map[string]*arena.DetailedPrompt
	Metrics  *metrics.Client

	// MinimumListenTime is how many seconds of each clip a listener must
	// have played before a vote counts.
	MinimumListenTime float64
	// GatewayURL prefixes gateway-relative audio URIs in responses.
	GatewayURL string
	// UserSalt salts listener identifiers before anything is stored.
	UserSalt string
	// ProbeSupport asks each candidate system whether it supports the
	// prompt before sampling. Probe failures keep the candidate in play.
	ProbeSupport bool

	// Rand drives pair sampling and resampling. Defaults to a time-seeded
	// source.
	Rand *rand.Rand
}

// Service runs battles.
type Service struct {
	deps Deps
	mu   sync.Mutex // guards deps.Rand
}

// NewService wires a battle service.
func NewService(deps Deps) *Service {
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Service{deps: deps}
}

type sideResult struct {
	res *sysclient.GenerateResult
	dur time.Duration
	err error
}

// GenerateBattle runs the whole battle flow for one request and returns the
// anonymized response the frontend renders.
func (s *Service) GenerateBattle(ctx context.Context, req *arena.BattleRequest) (*arena.BattleResponse, error) {
	start := time.Now()
	timings := arena.Timings{}.Mark("received")

	if err := req.Validate(); err != nil {
		return nil, arena.NewValidationError(err.Error())
	}

	detailed, err := s.resolvePrompt(ctx, req)
	if err != nil {
		s.recordBattleMetrics(ctx, req, false, time.Since(start))
		return nil, err
	}
	timings = timings.Mark("routed")

	prebaked := false
	if _, ok := s.deps.Prebaked[detailed.SeedlessChecksum()]; ok {
		prebaked = true
	}

	if detailed.Seed == nil {
		seed, err := arena.RandomSeed()
		if err != nil {
			return nil, arena.NewInternalError(err.Error())
		}
		detailed.Seed = &seed
	}

	candidates := s.eligibleSystems(ctx, detailed)

	pair, err := s.samplePair(candidates)
	if err != nil {
		s.recordBattleMetrics(ctx, req, false, time.Since(start))
		return nil, err
	}
	timings = timings.Mark("sampled")

	if !detailed.Instrumental && detailed.Lyrics == "" {
		lyrics, err := s.deps.Pipeline.GenerateLyrics(ctx, detailed)
		if err != nil {
			return nil, arena.NewInternalError(fmt.Sprintf("generate lyrics: %v", err))
		}
		detailed.Lyrics = lyrics
		timings = timings.Mark("lyrics")
	}

	pair, aSide, bSide, err := s.generatePair(ctx, pair, candidates, detailed)
	if err != nil {
		s.recordBattleMetrics(ctx, req, false, time.Since(start))
		return nil, err
	}
	timings = timings.Mark("generated")

	battle, err := s.persistBattle(ctx, req, detailed, prebaked, pair, aSide, bSide, timings)
	if err != nil {
		s.recordBattleMetrics(ctx, req, false, time.Since(start))
		return nil, err
	}

	logger.Info("Battle generated", logger.Fields{
		"battle_uuid": battle.UUID,
		"session_id":  req.Session.UUID,
		"a_system":    battle.ASystemKey.String(),
		"b_system":    battle.BSystemKey.String(),
		"prebaked":    prebaked,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	s.recordBattleMetrics(ctx, req, true, time.Since(start))

	return &arena.BattleResponse{
		UUID:           battle.UUID,
		AAudioURL:      s.publicURL(battle.AAudioURI),
		BAudioURL:      s.publicURL(battle.BAudioURI),
		AMetadata:      battle.ASide().Anonymize(),
		BMetadata:      battle.BSide().Anonymize(),
		PromptDetailed: battle.PromptDetailed,
		PromptPrebaked: prebaked,
	}, nil
}

// resolvePrompt moderates the user's text and produces the detailed prompt,
// either by passing the supplied one through or by routing the free-text
// prompt. The returned prompt is always a private copy.
func (s *Service) resolvePrompt(ctx context.Context, req *arena.BattleRequest) (*arena.DetailedPrompt, error) {
	text := req.Prompt.Prompt
	if req.PromptDetailed != nil {
		text = req.PromptDetailed.OverallPrompt
	}

	mod, err := s.deps.Pipeline.Moderate(ctx, text)
	if err != nil {
		return nil, arena.NewInternalError(fmt.Sprintf("moderate prompt: %v", err))
	}
	if !mod.Safe {
		reason := mod.Reason
		if reason == "" {
			reason = "prompt rejected by moderation"
		}
		return nil, arena.NewPromptRejected(reason)
	}

	if req.PromptDetailed != nil {
		return req.PromptDetailed.Clone(), nil
	}

	detailed, err := s.deps.Pipeline.Route(ctx, text)
	if err != nil {
		return nil, arena.NewInternalError(fmt.Sprintf("route prompt: %v", err))
	}

	// Explicit frontend knobs beat whatever routing inferred.
	if req.Prompt.Duration != nil {
		detailed.Duration = *req.Prompt.Duration
	}
	if req.Prompt.Instrumental != nil {
		detailed.Instrumental = *req.Prompt.Instrumental
		if detailed.Instrumental {
			detailed.Lyrics = ""
			detailed.LyricsTheme = ""
			detailed.LyricsStyle = ""
		}
	}
	if err := detailed.Validate(); err != nil {
		return nil, arena.NewInternalError(fmt.Sprintf("routed prompt invalid: %v", err))
	}
	return detailed, nil
}

// eligibleSystems filters the enabled catalog down to systems that can
// plausibly serve the prompt. Vocal prompts require lyrics support; with
// probing enabled each remaining candidate is asked directly.
func (s *Service) eligibleSystems(ctx context.Context, prompt *arena.DetailedPrompt) []arena.SystemKey {
	var keys []arena.SystemKey
	for _, entry := range s.deps.Registry.EnabledEntries() {
		if !prompt.Instrumental && !entry.Metadata.SupportsLyrics {
			continue
		}
		if s.deps.ProbeSupport {
			if client, ok := s.deps.Clients[entry.Key.String()]; ok {
				probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
				support, err := client.PromptSupport(probeCtx, prompt)
				cancel()
				// An unreachable probe is not proof of anything; keep
				// the candidate and let generation decide.
				if err == nil && support != arena.PromptSupported {
					continue
				}
			}
		}
		keys = append(keys, entry.Key)
	}
	return keys
}

func (s *Service) samplePair(candidates []arena.SystemKey) (matchup.Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return matchup.SamplePair(candidates, s.deps.Weights, s.deps.Rand)
}

// generatePair renders both sides in parallel. When exactly one side fails,
// that side is resampled once from the remaining candidates; when both fail
// the battle fails. Returned errors never name the sampled systems; the pair
// stays anonymous until the vote is recorded.
func (s *Service) generatePair(ctx context.Context, pair matchup.Pair, candidates []arena.SystemKey, prompt *arena.DetailedPrompt) (matchup.Pair, *sideResult, *sideResult, error) {
	var a, b *sideResult
	var g errgroup.Group
	g.Go(func() error {
		a = s.generateSide(ctx, pair.A, prompt)
		return nil
	})
	g.Go(func() error {
		b = s.generateSide(ctx, pair.B, prompt)
		return nil
	})
	g.Wait()

	if a.err != nil && b.err != nil {
		logger.Error("Both sides failed to generate", fmt.Errorf("%s: %v; %s: %v", pair.A, a.err, pair.B, b.err), logger.Fields{
			"a_system": pair.A.String(),
			"b_system": pair.B.String(),
		})
		return pair, nil, nil, arena.NewGenerateFailed("generation failed on both sides")
	}

	if a.err == nil && b.err == nil {
		return pair, a, b, nil
	}

	// One side failed. With the request deadline gone there is no point
	// retrying anyone.
	if ctx.Err() != nil {
		if a.err != nil {
			return pair, nil, nil, a.err
		}
		return pair, nil, nil, b.err
	}

	failedKey, failedErr := pair.A, a.err
	if b.err != nil {
		failedKey, failedErr = pair.B, b.err
	}

	replacement, ok := s.drawReplacement(candidates, pair)
	if !ok {
		return pair, nil, nil, failedErr
	}

	logger.Warn("Resampling failed side", logger.Fields{
		"failed":      failedKey.String(),
		"replacement": replacement.String(),
		"error":       failedErr.Error(),
	})

	retry := s.generateSide(ctx, replacement, prompt)
	if retry.err != nil {
		return pair, nil, nil, retry.err
	}

	if a.err != nil {
		pair.A = replacement
		a = retry
	} else {
		pair.B = replacement
		b = retry
	}
	return pair, a, b, nil
}

// drawReplacement picks a uniform candidate outside the already tried pair.
func (s *Service) drawReplacement(candidates []arena.SystemKey, tried matchup.Pair) (arena.SystemKey, bool) {
	var rest []arena.SystemKey
	for _, key := range candidates {
		if key == tried.A || key == tried.B {
			continue
		}
		rest = append(rest, key)
	}
	if len(rest) == 0 {
		return arena.SystemKey{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return rest[s.deps.Rand.Intn(len(rest))], true
}

func (s *Service) generateSide(ctx context.Context, key arena.SystemKey, prompt *arena.DetailedPrompt) *sideResult {
	client, ok := s.deps.Clients[key.String()]
	if !ok {
		err := arena.NewUnreachable("no client configured for sampled system")
		logger.Error("No client for sampled system", err, logger.Fields{"system": key.String()})
		return &sideResult{err: err}
	}

	cctx, cancel := context.WithTimeout(ctx, generateBudget)
	defer cancel()

	start := time.Now()
	res, err := client.Generate(cctx, prompt)
	dur := time.Since(start)

	warm := false
	if res != nil {
		warm = res.Meta.ModelWarm
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordGenerate(key.String(), err == nil, warm, dur)
	}
	sentryMetrics.RecordGenerate(ctx, key.String(), dur, warm)

	if err != nil {
		logger.Warn("Side generation failed", logger.Fields{
			"system":      key.String(),
			"duration_ms": dur.Milliseconds(),
			"error":       err.Error(),
		})
		return &sideResult{err: err, dur: dur}
	}
	return &sideResult{res: res, dur: dur}
}

// persistBattle stores both clips and the battle record.
func (s *Service) persistBattle(ctx context.Context, req *arena.BattleRequest, detailed *arena.DetailedPrompt, prebaked bool, pair matchup.Pair, a, b *sideResult, timings arena.Timings) (*arena.Battle, error) {
	aEntry, err := s.deps.Registry.Lookup(pair.A)
	if err != nil {
		return nil, arena.NewInternalError(err.Error())
	}
	bEntry, err := s.deps.Registry.Lookup(pair.B)
	if err != nil {
		return nil, arena.NewInternalError(err.Error())
	}

	battleUUID := uuid.New().String()

	aURI, err := s.deps.Blobs.Put(ctx, battleUUID+"/a."+a.res.Format, a.res.Audio, contentTypeFor(a.res.Format))
	if err != nil {
		return nil, arena.NewInternalError(fmt.Sprintf("store audio: %v", err))
	}
	bURI, err := s.deps.Blobs.Put(ctx, battleUUID+"/b."+b.res.Format, b.res.Audio, contentTypeFor(b.res.Format))
	if err != nil {
		return nil, arena.NewInternalError(fmt.Sprintf("store audio: %v", err))
	}

	battle := &arena.Battle{
		UUID:       battleUUID,
		CreateTime: time.Now().UTC(),
		Session:    req.Session,
		User:       req.User.Salted(s.deps.UserSalt),

		Prompt:         req.Prompt,
		PromptDetailed: detailed,
		PromptPrebaked: prebaked,

		ASystemKey: pair.A,
		BSystemKey: pair.B,
		AMetadata:  aEntry.Metadata,
		BMetadata:  bEntry.Metadata,

		AAudioURI:      aURI,
		BAudioURI:      bURI,
		AAudioChecksum: arena.Checksum(a.res.Audio),
		BAudioChecksum: arena.Checksum(b.res.Audio),
		ALyrics:        a.res.Lyrics,
		BLyrics:        b.res.Lyrics,
		AGenMs:         a.res.Meta.GenerateMs,
		BGenMs:         b.res.Meta.GenerateMs,

		AGenerateMetadata: &a.res.Meta,
		BGenerateMetadata: &b.res.Meta,

		Timings: timings.Mark("stored"),
	}

	doc, err := json.Marshal(battle)
	if err != nil {
		return nil, arena.NewInternalError(fmt.Sprintf("encode battle: %v", err))
	}
	if err := s.deps.Docs.Create(ctx, battlesCollection, battleUUID, doc); err != nil {
		return nil, arena.NewInternalError(fmt.Sprintf("store battle: %v", err))
	}
	return battle, nil
}

func (s *Service) recordBattleMetrics(ctx context.Context, req *arena.BattleRequest, success bool, dur time.Duration) {
	source := "user"
	if req.PromptDetailed != nil {
		source = "detailed"
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordBattle(source, success, dur)
	}
	sentryMetrics.RecordBattle(ctx, dur, success)
}

// publicURL turns gateway-relative audio URIs into absolute ones.
func (s *Service) publicURL(uri string) string {
	if strings.HasPrefix(uri, "/") && s.deps.GatewayURL != "" {
		return strings.TrimRight(s.deps.GatewayURL, "/") + uri
	}
	return uri
}

func contentTypeFor(format string) string {
	switch format {
	case "wav":
		return "audio/wav"
	case "mp3":
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}
