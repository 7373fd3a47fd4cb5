package battle

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/music-arena/music-arena/internal/arena"
)

// HealthBattle runs one synthetic battle end to end so the deep health check
// exercises the same path real listeners do: moderation, sampling, both
// system servers and storage. Returns the generated battle's UUID.
func (s *Service) HealthBattle(ctx context.Context) (string, error) {
	req := &arena.BattleRequest{
		Session: arena.Session{
			UUID:            uuid.New().String(),
			CreateTime:      time.Now().UTC(),
			FrontendGitHash: "health-check",
			AckTOS:          true,
		},
		User: arena.User{
			SaltedIP:          "health-check",
			SaltedFingerprint: "health-check",
		},
		PromptDetailed: s.healthPrompt(),
	}

	resp, err := s.GenerateBattle(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.UUID, nil
}

// healthPrompt picks a prebaked prompt when the catalog has one, falling
// back to a short instrumental default.
func (s *Service) healthPrompt() *arena.DetailedPrompt {
	var checksums []string
	for sum := range s.deps.Prebaked {
		checksums = append(checksums, sum)
	}
	if len(checksums) > 0 {
		sort.Strings(checksums)
		s.mu.Lock()
		pick := checksums[s.deps.Rand.Intn(len(checksums))]
		s.mu.Unlock()
		return s.deps.Prebaked[pick].Clone()
	}

	return &arena.DetailedPrompt{
		OverallPrompt: "calm ambient pads over a slow heartbeat pulse",
		Duration:      10,
		Instrumental:  true,
	}
}
