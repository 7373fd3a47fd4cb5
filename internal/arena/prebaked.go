package arena

import (
	"encoding/json"
	"fmt"
)

// ParsePrebakedPrompts loads the curated prompt list and keys each entry by
// its seedless checksum. The gateway uses the same checksum on routed
// prompts to flag battles that hit a prebaked prompt.
func ParsePrebakedPrompts(data []byte) (map[string]*DetailedPrompt, error) {
	var prompts []*DetailedPrompt
	if err := json.Unmarshal(data, &prompts); err != nil {
		return nil, fmt.Errorf("parse prebaked prompts: %w", err)
	}
	out := make(map[string]*DetailedPrompt, len(prompts))
	for i, p := range prompts {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("prebaked prompt %d: %w", i, err)
		}
		out[p.SeedlessChecksum()] = p
	}
	return out, nil
}
