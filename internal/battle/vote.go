package battle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/music-arena/music-arena/internal/arena"
	"github.com/music-arena/music-arena/internal/logger"
	"github.com/music-arena/music-arena/internal/store"
)

// RecordVote attaches a listener's vote to a stored battle and reveals both
// identities. Votes that fail the listen-time gate leave the battle
// untouched. Replaying a vote overwrites the previous one with a warning.
func (s *Service) RecordVote(ctx context.Context, req *arena.VoteRequest) (*arena.VoteResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, arena.NewValidationError(err.Error())
	}

	battle, version, err := s.getBattle(ctx, req.BattleUUID)
	if err != nil {
		return nil, err
	}

	if min := s.deps.MinimumListenTime; min > 0 {
		aListen := arena.SumListenTime(req.Vote.AListenData, req.Vote.PreferenceTime)
		bListen := arena.SumListenTime(req.Vote.BListenData, req.Vote.PreferenceTime)
		if aListen < min || bListen < min {
			return nil, arena.NewInsufficientListenTime(fmt.Sprintf(
				"listen to both clips for at least %gs before voting (a=%.1fs, b=%.1fs)",
				min, aListen, bListen))
		}
	}

	var warnings []string
	if battle.Session.UUID != req.Session.UUID {
		warnings = append(warnings, "vote session does not match battle session")
	}
	if battle.User != req.User.Salted(s.deps.UserSalt) {
		warnings = append(warnings, "vote user does not match battle user")
	}
	warnedOverwrite := false
	if battle.Vote != nil {
		warnings = append(warnings, "overwriting existing vote")
		warnedOverwrite = true
	}

	// One CAS, one retry after reload, then last write wins.
	for attempt := 1; ; attempt++ {
		now := time.Now().UTC()
		battle.Vote = &req.Vote
		battle.VoteTime = &now

		doc, merr := json.Marshal(battle)
		if merr != nil {
			return nil, arena.NewInternalError(fmt.Sprintf("encode battle: %v", merr))
		}

		expected := version
		if attempt >= 3 {
			expected = 0
			warnings = append(warnings, "concurrent vote updates, last write wins")
		}

		uerr := s.deps.Docs.Update(ctx, battlesCollection, battle.UUID, doc, expected)
		if uerr == nil {
			break
		}
		if errors.Is(uerr, store.ErrNotFound) {
			return nil, arena.NewNotFound(fmt.Sprintf("battle %s not found", req.BattleUUID))
		}
		if !errors.Is(uerr, store.ErrConflict) {
			return nil, arena.NewInternalError(fmt.Sprintf("store vote: %v", uerr))
		}

		battle, version, err = s.getBattle(ctx, req.BattleUUID)
		if err != nil {
			return nil, err
		}
		if battle.Vote != nil && !warnedOverwrite {
			warnings = append(warnings, "overwriting existing vote")
			warnedOverwrite = true
		}
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordVote(string(req.Vote.Preference))
	}
	sentryMetrics.RecordVote(ctx, string(req.Vote.Preference))

	logger.Info("Vote recorded", logger.Fields{
		"battle_uuid": battle.UUID,
		"session_id":  req.Session.UUID,
		"preference":  string(req.Vote.Preference),
		"warnings":    len(warnings),
	})

	return &arena.VoteResponse{
		Acknowledged: true,
		BattleUUID:   battle.UUID,
		ASystemKey:   battle.ASystemKey,
		BSystemKey:   battle.BSystemKey,
		AMetadata:    battle.AMetadata,
		BMetadata:    battle.BMetadata,
		Winner:       req.Vote.Winner(battle.ASystemKey, battle.BSystemKey),
		Warnings:     warnings,
	}, nil
}

func (s *Service) getBattle(ctx context.Context, id string) (*arena.Battle, int64, error) {
	doc, version, err := s.deps.Docs.Get(ctx, battlesCollection, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, 0, arena.NewNotFound(fmt.Sprintf("battle %s not found", id))
	}
	if err != nil {
		return nil, 0, arena.NewInternalError(fmt.Sprintf("load battle: %v", err))
	}

	var battle arena.Battle
	if err := json.Unmarshal(doc, &battle); err != nil {
		return nil, 0, arena.NewInternalError(fmt.Sprintf("decode battle: %v", err))
	}
	return &battle, version, nil
}
