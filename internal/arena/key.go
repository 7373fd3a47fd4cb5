package arena

import (
	"fmt"
	"regexp"
	"strings"
)

// AnonymizedTag replaces both halves of a system key whenever battle
// metadata is shown to a user who has not voted yet.
const AnonymizedTag = "anonymized"

var tagPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// SystemKey identifies one deployable variant of a music generation system.
// The string form is "system_tag:variant_tag".
type SystemKey struct {
	SystemTag  string `json:"system_tag" yaml:"system_tag"`
	VariantTag string `json:"variant_tag" yaml:"variant_tag"`
}

// NewSystemKey validates both tags against the allowed character set.
func NewSystemKey(systemTag, variantTag string) (SystemKey, error) {
	k := SystemKey{SystemTag: systemTag, VariantTag: variantTag}
	if err := k.Validate(); err != nil {
		return SystemKey{}, err
	}
	return k, nil
}

// ParseSystemKey parses the "system_tag:variant_tag" string form.
func ParseSystemKey(s string) (SystemKey, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return SystemKey{}, fmt.Errorf("invalid system key %q: expected system_tag:variant_tag", s)
	}
	return NewSystemKey(parts[0], parts[1])
}

// Validate checks that both tags are non-empty and lowercase alphanumeric
// with dashes.
func (k SystemKey) Validate() error {
	if !tagPattern.MatchString(k.SystemTag) {
		return fmt.Errorf("invalid system tag %q: must match [a-z0-9-]+", k.SystemTag)
	}
	if !tagPattern.MatchString(k.VariantTag) {
		return fmt.Errorf("invalid variant tag %q: must match [a-z0-9-]+", k.VariantTag)
	}
	return nil
}

func (k SystemKey) String() string {
	return k.SystemTag + ":" + k.VariantTag
}

// Less orders keys by system tag, then variant tag.
func (k SystemKey) Less(other SystemKey) bool {
	if k.SystemTag != other.SystemTag {
		return k.SystemTag < other.SystemTag
	}
	return k.VariantTag < other.VariantTag
}

// MarshalText renders the key in its string form so it can be used as a
// JSON map key or compact field value.
func (k SystemKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses the string form.
func (k *SystemKey) UnmarshalText(data []byte) error {
	parsed, err := ParseSystemKey(string(data))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
