// Package registry loads the declarative catalog of generation systems and
// assigns each variant its deterministic service port.
package registry

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/music-arena/music-arena/internal/arena"
)

// Ports are derived from the system key so every deployment agrees on the
// mapping without coordination.
const (
	portBase  = 15000
	portRange = 10000
)

// ErrNotFound is returned by Lookup for keys absent from the catalog.
var ErrNotFound = errors.New("system not found in registry")

// SecretError reports a variant whose declared secret cannot be resolved at
// startup. The launcher maps it to its own exit code.
type SecretError struct {
	Key    arena.SystemKey
	Secret string
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("system %s requires secret %q which is not resolvable", e.Key, e.Secret)
}

// VariantSpec is the deployment half of a catalog entry: how to instantiate
// the model behind a variant.
type VariantSpec struct {
	ModuleName  string                 `yaml:"module_name" json:"module_name"`
	ClassName   string                 `yaml:"class_name" json:"class_name"`
	Description string                 `yaml:"description" json:"description,omitempty"`
	Secrets     []string               `yaml:"secrets" json:"secrets,omitempty"`
	InitKwargs  map[string]interface{} `yaml:"init_kwargs" json:"init_kwargs,omitempty"`
	Enabled     *bool                  `yaml:"enabled" json:"-"`
}

// systemSpec is the YAML shape of one system block in the catalog file.
type systemSpec struct {
	DisplayName          string                  `yaml:"display_name"`
	Description          string                  `yaml:"description"`
	Organization         string                  `yaml:"organization"`
	Access               arena.Access            `yaml:"access"`
	SupportsLyrics       bool                    `yaml:"supports_lyrics"`
	RequiresGPU          bool                    `yaml:"requires_gpu"`
	ModelType            string                  `yaml:"model_type"`
	TrainingData         *arena.TrainingData     `yaml:"training_data"`
	Citation             string                  `yaml:"citation"`
	Links                *arena.Links            `yaml:"links"`
	ReleaseAudioPublicly bool                    `yaml:"release_audio_publicly"`
	Enabled              *bool                   `yaml:"enabled"`
	Variants             map[string]*VariantSpec `yaml:"variants"`
}

// Entry is one resolved system variant: public metadata, deployment spec
// and the port its server listens on.
type Entry struct {
	Key      arena.SystemKey
	Metadata arena.SystemMetadata
	Variant  VariantSpec
	Enabled  bool
	Port     int
}

// Registry is the immutable, validated catalog.
type Registry struct {
	entries map[string]*Entry
	order   []arena.SystemKey
}

// SecretResolver reports whether a named secret can be resolved in this
// deployment.
type SecretResolver func(name string) bool

// Option customizes catalog loading.
type Option func(*loadOptions)

type loadOptions struct {
	resolveSecret SecretResolver
}

// WithSecretResolver overrides how declared secrets are checked at load
// time. Tests use this to avoid touching the process environment.
func WithSecretResolver(r SecretResolver) Option {
	return func(o *loadOptions) {
		o.resolveSecret = r
	}
}

// ResolveSecret is the default secret resolver: the environment first, then
// files under ARENA_SECRETS_DIR. System servers also call it directly to
// check only their own variant's secrets.
func ResolveSecret(name string) bool {
	env := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	if os.Getenv(env) != "" {
		return true
	}
	if dir := os.Getenv("ARENA_SECRETS_DIR"); dir != "" {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// Load reads and parses the catalog file at path. A missing file surfaces
// as fs.ErrNotExist so launchers can distinguish it from a malformed one.
func Load(path string, opts ...Option) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry %s: %w", path, err)
	}
	return Parse(data, opts...)
}

// Parse validates the catalog bytes: tag syntax, access classes, secret
// resolvability and port uniqueness all fail loudly here rather than at
// request time.
func Parse(data []byte, opts ...Option) (*Registry, error) {
	options := loadOptions{resolveSecret: ResolveSecret}
	for _, opt := range opts {
		opt(&options)
	}

	var specs map[string]*systemSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("parse registry yaml: %w", err)
	}

	reg := &Registry{entries: make(map[string]*Entry)}
	portOwners := make(map[int]arena.SystemKey)

	for systemTag, spec := range specs {
		if spec == nil {
			return nil, fmt.Errorf("system %q has no body", systemTag)
		}
		switch spec.Access {
		case arena.AccessOpen, arena.AccessProprietary:
		default:
			return nil, fmt.Errorf("system %q has invalid access %q", systemTag, spec.Access)
		}
		if len(spec.Variants) == 0 {
			return nil, fmt.Errorf("system %q declares no variants", systemTag)
		}

		for variantTag, variant := range spec.Variants {
			if variant == nil {
				variant = &VariantSpec{}
			}
			key, err := arena.NewSystemKey(systemTag, variantTag)
			if err != nil {
				return nil, err
			}

			for _, secret := range variant.Secrets {
				if !options.resolveSecret(secret) {
					return nil, &SecretError{Key: key, Secret: secret}
				}
			}

			port := Port(key)
			if owner, taken := portOwners[port]; taken {
				return nil, fmt.Errorf("port collision: %s and %s both map to %d", owner, key, port)
			}
			portOwners[port] = key

			meta := arena.SystemMetadata{
				Key:                  key,
				DisplayName:          spec.DisplayName,
				Description:          mergeDescriptions(spec.Description, variant.Description),
				Organization:         spec.Organization,
				Access:               spec.Access,
				SupportsLyrics:       spec.SupportsLyrics,
				RequiresGPU:          spec.RequiresGPU,
				ModelType:            spec.ModelType,
				TrainingData:         spec.TrainingData,
				Citation:             spec.Citation,
				Links:                spec.Links,
				ReleaseAudioPublicly: spec.ReleaseAudioPublicly,
			}

			reg.entries[key.String()] = &Entry{
				Key:      key,
				Metadata: meta,
				Variant:  *variant,
				Enabled:  enabled(spec.Enabled) && enabled(variant.Enabled),
				Port:     port,
			}
			reg.order = append(reg.order, key)
		}
	}

	sort.Slice(reg.order, func(i, j int) bool {
		return reg.order[i].Less(reg.order[j])
	})
	return reg, nil
}

func enabled(flag *bool) bool {
	return flag == nil || *flag
}

// mergeDescriptions joins the system and variant descriptions when both are
// present.
func mergeDescriptions(system, variant string) string {
	switch {
	case system == "":
		return variant
	case variant == "":
		return system
	default:
		return system + " " + variant
	}
}

// Lookup resolves a key to its catalog entry.
func (r *Registry) Lookup(key arena.SystemKey) (*Entry, error) {
	entry, ok := r.entries[key.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return entry, nil
}

// All returns every key in lexicographic order.
func (r *Registry) All() []arena.SystemKey {
	out := make([]arena.SystemKey, len(r.order))
	copy(out, r.order)
	return out
}

// Entries returns every entry in key order.
func (r *Registry) Entries() []*Entry {
	out := make([]*Entry, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.entries[key.String()])
	}
	return out
}

// EnabledEntries returns the entries eligible to serve battles, in key
// order.
func (r *Registry) EnabledEntries() []*Entry {
	out := make([]*Entry, 0, len(r.order))
	for _, key := range r.order {
		if entry := r.entries[key.String()]; entry.Enabled {
			out = append(out, entry)
		}
	}
	return out
}

// Port derives the deterministic service port for a key from a hash of
// "system_tag.variant_tag".
func Port(key arena.SystemKey) int {
	sum := sha256.Sum256([]byte(key.SystemTag + "." + key.VariantTag))
	return portBase + int(binary.BigEndian.Uint64(sum[:8])%portRange)
}
