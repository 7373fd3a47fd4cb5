package arena

import (
	"crypto/md5"
	"encoding/hex"
)

// Checksum returns the md5 hex digest of data. Checksums here fingerprint
// prompts and audio for dedup and cache keys, not for integrity against an
// adversary.
func Checksum(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// TextChecksum is Checksum over the UTF-8 bytes of s.
func TextChecksum(s string) string {
	return Checksum([]byte(s))
}

// SaltedChecksum fingerprints a user identifier with a deployment salt so
// raw IPs and fingerprints never reach storage.
func SaltedChecksum(salt, value string) string {
	return Checksum([]byte(salt + value))
}
