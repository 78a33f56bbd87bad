package license

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
)

const (
	keySegments    = 4
	keySegmentSize = 5
	keyAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// KeyPattern matches XXXXX-XXXXX-XXXXX-XXXXX
var KeyPattern = regexp.MustCompile(`^[A-Z0-9]{5}-[A-Z0-9]{5}-[A-Z0-9]{5}-[A-Z0-9]{5}$`)

// GenerateKey returns a new random license key.
// Characters are drawn from crypto/rand with rejection sampling so every
// symbol of the alphabet is equally likely.
func GenerateKey() (string, error) {
	// largest multiple of len(keyAlphabet) that fits in a byte
	limit := byte(256 - 256%len(keyAlphabet))

	segments := make([]string, keySegments)
	buf := make([]byte, 1)
	for i := range segments {
		seg := make([]byte, 0, keySegmentSize)
		for len(seg) < keySegmentSize {
			if _, err := rand.Read(buf); err != nil {
				return "", fmt.Errorf("%w: %v", ErrKeyGenerationFailed, err)
			}
			if buf[0] >= limit {
				continue
			}
			seg = append(seg, keyAlphabet[int(buf[0])%len(keyAlphabet)])
		}
		segments[i] = string(seg)
	}
	return strings.Join(segments, "-"), nil
}

// NormalizeKey trims whitespace and upper-cases a key typed by a human
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}
