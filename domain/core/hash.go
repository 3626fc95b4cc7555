package core

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hash is a hex encoded SHA-256 digest
type Hash string

// NewHash digests data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// Short returns the first n hex characters
func (h Hash) Short(n int) string {
	if n <= 0 || n >= len(h) {
		return string(h)
	}
	return string(h[:n])
}

// ContentRuleID derives the id of a rule that was stored without one from its
// statement and predicate. Whitespace and case are folded first.
func ContentRuleID(parts ...string) RuleID {
	normalized := make([]string, len(parts))
	for i, p := range parts {
		normalized[i] = strings.Join(strings.Fields(strings.ToLower(p)), " ")
	}
	return RuleID("rule_" + NewHash([]byte(strings.Join(normalized, "\x1f"))).Short(12))
}
