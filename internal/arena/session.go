package arena

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session identifies one frontend session. The frontend mints the UUID and
// reuses it across every battle in the session.
type Session struct {
	UUID            string    `json:"uuid"`
	CreateTime      time.Time `json:"create_time"`
	FrontendGitHash string    `json:"frontend_git_hash,omitempty"`
	AckTOS          bool      `json:"ack_tos"`
}

// Validate requires a well-formed session UUID and an acknowledged TOS.
func (s Session) Validate() error {
	if _, err := uuid.Parse(s.UUID); err != nil {
		return fmt.Errorf("invalid session uuid %q: %w", s.UUID, err)
	}
	if !s.AckTOS {
		return fmt.Errorf("session has not acknowledged the terms of service")
	}
	return nil
}

// User carries the salted identifiers for an arena visitor. Raw values are
// salted at ingress; nothing downstream ever sees an unsalted IP or browser
// fingerprint.
type User struct {
	SaltedIP          string `json:"salted_ip"`
	SaltedFingerprint string `json:"salted_fingerprint"`
}

// Salted returns a copy with both identifiers passed through SaltedChecksum.
func (u User) Salted(salt string) User {
	return User{
		SaltedIP:          SaltedChecksum(salt, u.SaltedIP),
		SaltedFingerprint: SaltedChecksum(salt, u.SaltedFingerprint),
	}
}
