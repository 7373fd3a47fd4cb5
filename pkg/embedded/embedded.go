// Package embedded bundles the data the arena ships with: chat pipeline
// prompts, the default system catalog, matchup weights and the curated
// prompt list. Deployments can override all of these with files on disk.
package embedded

import (
	_ "embed"
)

// Chat pipeline system prompts
//
//go:embed data/chat/moderate_system.txt
var ModerateSystemTxt []byte

//go:embed data/chat/route_system.txt
var RouteSystemTxt []byte

//go:embed data/chat/route_examples.txt
var RouteExamplesTxt []byte

//go:embed data/chat/lyrics_system.txt
var LyricsSystemTxt []byte

// Default system catalog and matchup weights
//
//go:embed data/registry/systems.yaml
var SystemsYAML []byte

//go:embed data/registry/weights.json
var WeightsJSON []byte

// Curated prompts offered by the frontend
//
//go:embed data/prebaked/prompts.json
var PrebakedJSON []byte
