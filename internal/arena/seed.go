package arena

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// RandomSeed draws a 32-bit generation seed from the OS entropy pool. Both
// sides of a battle share one seed so systems with seeded samplers stay
// comparable.
func RandomSeed() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}
