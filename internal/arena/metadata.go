package arena

// Access classifies who can run a system.
type Access string

const (
	AccessOpen        Access = "OPEN"
	AccessProprietary Access = "PROPRIETARY"
)

// TrainingData summarizes what a system was trained on.
type TrainingData struct {
	Type      string   `json:"type,omitempty" yaml:"type"`
	Sources   []string `json:"sources,omitempty" yaml:"sources"`
	NumTracks int      `json:"num_tracks,omitempty" yaml:"num_tracks"`
	NumHours  float64  `json:"num_hours,omitempty" yaml:"num_hours"`
}

// Links collects the public URLs for a system.
type Links struct {
	Home  string `json:"home,omitempty" yaml:"home"`
	Paper string `json:"paper,omitempty" yaml:"paper"`
	Code  string `json:"code,omitempty" yaml:"code"`
}

// SystemMetadata is everything the arena publishes about a system variant
// once a vote reveals it.
type SystemMetadata struct {
	Key                  SystemKey     `json:"key"`
	DisplayName          string        `json:"display_name" yaml:"display_name"`
	Description          string        `json:"description,omitempty" yaml:"description"`
	Organization         string        `json:"organization,omitempty" yaml:"organization"`
	Access               Access        `json:"access" yaml:"access"`
	SupportsLyrics       bool          `json:"supports_lyrics" yaml:"supports_lyrics"`
	RequiresGPU          bool          `json:"requires_gpu" yaml:"requires_gpu"`
	ModelType            string        `json:"model_type,omitempty" yaml:"model_type"`
	TrainingData         *TrainingData `json:"training_data,omitempty" yaml:"training_data"`
	Citation             string        `json:"citation,omitempty" yaml:"citation"`
	Links                *Links        `json:"links,omitempty" yaml:"links"`
	ReleaseAudioPublicly bool          `json:"release_audio_publicly" yaml:"release_audio_publicly"`
}

// GenerateMetadata describes how one generation request was served.
type GenerateMetadata struct {
	BatchSize   int     `json:"batch_size"`
	QueueWaitMs float64 `json:"queue_wait_ms"`
	GenerateMs  float64 `json:"generate_ms"`
	ModelWarm   bool    `json:"model_warm"`
}

// SideMetadata is the per-side battle payload shown to listeners. Before a
// vote both tags read AnonymizedTag; after a vote the real key is filled in.
type SideMetadata struct {
	SystemTag     string `json:"system_tag"`
	VariantTag    string `json:"variant_tag"`
	Lyrics        string `json:"lyrics,omitempty"`
	AudioChecksum string `json:"audio_checksum,omitempty"`
}

// Anonymize strips everything that could identify the system, keeping only
// what the listening UI needs.
func (m SideMetadata) Anonymize() SideMetadata {
	return SideMetadata{
		SystemTag:     AnonymizedTag,
		VariantTag:    AnonymizedTag,
		Lyrics:        m.Lyrics,
		AudioChecksum: m.AudioChecksum,
	}
}
