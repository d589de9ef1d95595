package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SourceHashPolicy computes the stable hash that makes indexing idempotent:
// re-submitting an article whose normalized title and body are unchanged must
// produce the same hash and therefore no new version.
type SourceHashPolicy interface {
	Compute(title, body string) string
}

type sourceHashPolicy struct{}

// NewSourceHashPolicy returns the default hashing policy.
func NewSourceHashPolicy() SourceHashPolicy {
	return &sourceHashPolicy{}
}

// Compute hashes the trimmed title and body. A NUL separator keeps the
// component boundary unambiguous ("AB"+"C" must not collide with "A"+"BC").
func (p *sourceHashPolicy) Compute(title, body string) string {
	content := strings.TrimSpace(title) + "\x00" + strings.TrimSpace(body)
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
