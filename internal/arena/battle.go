package arena

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Battle is the stored record of one head-to-head generation. The real
// system keys live here from the start; they only reach the frontend after
// the vote lands.
type Battle struct {
	UUID       string    `json:"uuid"`
	CreateTime time.Time `json:"create_time"`
	Session    Session   `json:"session"`
	User       User      `json:"user"`

	Prompt         SimplePrompt    `json:"prompt"`
	PromptDetailed *DetailedPrompt `json:"prompt_detailed"`
	PromptPrebaked bool            `json:"prompt_prebaked"`

	ASystemKey SystemKey      `json:"a_system_key"`
	BSystemKey SystemKey      `json:"b_system_key"`
	AMetadata  SystemMetadata `json:"a_metadata"`
	BMetadata  SystemMetadata `json:"b_metadata"`

	AAudioURI      string  `json:"a_audio_uri"`
	BAudioURI      string  `json:"b_audio_uri"`
	AAudioChecksum string  `json:"a_audio_checksum,omitempty"`
	BAudioChecksum string  `json:"b_audio_checksum,omitempty"`
	ALyrics        string  `json:"a_lyrics,omitempty"`
	BLyrics        string  `json:"b_lyrics,omitempty"`
	AGenMs         float64 `json:"a_gen_ms"`
	BGenMs         float64 `json:"b_gen_ms"`

	AGenerateMetadata *GenerateMetadata `json:"a_generate_metadata,omitempty"`
	BGenerateMetadata *GenerateMetadata `json:"b_generate_metadata,omitempty"`

	Timings Timings `json:"timings,omitempty"`

	Vote     *Vote      `json:"vote,omitempty"`
	VoteTime *time.Time `json:"vote_time,omitempty"`
}

// ASide builds the per-side payload for side A with the real identity.
func (b *Battle) ASide() SideMetadata {
	return SideMetadata{
		SystemTag:     b.ASystemKey.SystemTag,
		VariantTag:    b.ASystemKey.VariantTag,
		Lyrics:        b.ALyrics,
		AudioChecksum: b.AAudioChecksum,
	}
}

// BSide builds the per-side payload for side B with the real identity.
func (b *Battle) BSide() SideMetadata {
	return SideMetadata{
		SystemTag:     b.BSystemKey.SystemTag,
		VariantTag:    b.BSystemKey.VariantTag,
		Lyrics:        b.BLyrics,
		AudioChecksum: b.BAudioChecksum,
	}
}

// BattleRequest is the POST /generate_battle payload.
type BattleRequest struct {
	Session        Session         `json:"session"`
	User           User            `json:"user"`
	Prompt         SimplePrompt    `json:"prompt"`
	PromptDetailed *DetailedPrompt `json:"prompt_detailed,omitempty"`
}

// Validate checks the session and whichever prompt form was supplied.
func (r *BattleRequest) Validate() error {
	if err := r.Session.Validate(); err != nil {
		return err
	}
	if r.PromptDetailed != nil {
		return r.PromptDetailed.Validate()
	}
	return r.Prompt.Validate()
}

// BattleResponse is what the frontend gets back from generate_battle.
// Both side payloads are anonymized; identities stay hidden until the vote.
type BattleResponse struct {
	UUID           string          `json:"uuid"`
	AAudioURL      string          `json:"a_audio_url"`
	BAudioURL      string          `json:"b_audio_url"`
	AMetadata      SideMetadata    `json:"a_metadata"`
	BMetadata      SideMetadata    `json:"b_metadata"`
	PromptDetailed *DetailedPrompt `json:"prompt_detailed"`
	PromptPrebaked bool            `json:"prompt_prebaked"`
}

// VoteRequest is the POST /record_vote payload.
type VoteRequest struct {
	Session    Session `json:"session"`
	User       User    `json:"user"`
	BattleUUID string  `json:"battle_uuid"`
	Vote       Vote    `json:"vote"`
}

// Validate checks the battle reference and the vote itself.
func (r *VoteRequest) Validate() error {
	if _, err := uuid.Parse(r.BattleUUID); err != nil {
		return fmt.Errorf("invalid battle uuid %q: %w", r.BattleUUID, err)
	}
	return r.Vote.Validate()
}

// VoteResponse acknowledges a recorded vote and reveals both identities.
type VoteResponse struct {
	Acknowledged bool           `json:"acknowledged"`
	BattleUUID   string         `json:"battle_uuid"`
	ASystemKey   SystemKey      `json:"a_system_key"`
	BSystemKey   SystemKey      `json:"b_system_key"`
	AMetadata    SystemMetadata `json:"a_metadata"`
	BMetadata    SystemMetadata `json:"b_metadata"`
	Winner       *SystemKey     `json:"winner,omitempty"`
	Warnings     []string       `json:"warnings,omitempty"`
}
