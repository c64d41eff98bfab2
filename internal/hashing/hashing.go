// Package hashing produces the fixed-width digests used to detect
// drift between repo content and its mirrored forum rendering.
package hashing

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// EmptyDigest is the digest of empty input. Distinguishable at a
// glance in stored records, and it cannot collide with a compound
// digest, which always hashes at least the field separator.
const EmptyDigest = "0000000000000000"

// Sum digests an arbitrary string into 16 hex characters. Empty input
// maps to EmptyDigest rather than the hash of "".
func Sum(s string) string {
	if s == "" {
		return EmptyDigest
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(s))
}

// Content digests the title and body together. Both fields are
// normalized with TrimSpace first so whitespace-only edits never
// register as changes.
func Content(title, body string) string {
	return Sum(strings.TrimSpace(title) + "\x00" + strings.TrimSpace(body))
}

// Comment digests a single comment body together with its author, so
// an authorship change re-renders the message.
func Comment(author, body string) string {
	return Sum(author + "\x00" + strings.TrimSpace(body))
}

// State digests the fields that drive status tags. Labels must be
// passed pre-sorted by the caller for a stable digest.
func State(state string, draft bool, labels []string) string {
	var b strings.Builder
	b.WriteString(state)
	b.WriteString("\x00")
	if draft {
		b.WriteString("draft")
	}
	for _, l := range labels {
		b.WriteString("\x00")
		b.WriteString(l)
	}
	return Sum(b.String())
}
