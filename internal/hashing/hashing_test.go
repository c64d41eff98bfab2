package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSumIsStableAndFixedWidth(t *testing.T) {
	a := Sum("hello")
	b := Sum("hello")
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
	assert.NotEqual(t, a, Sum("hello "))
}

func TestContentIgnoresSurroundingWhitespace(t *testing.T) {
	assert.Equal(t, Content("Fix crash", "body"), Content("  Fix crash  ", "body\n"))
	assert.NotEqual(t, Content("Fix crash", "body"), Content("Fix crash", "other"))
}

func TestContentSeparatesTitleFromBody(t *testing.T) {
	// Moving characters across the field boundary must change the digest.
	assert.NotEqual(t, Content("ab", "c"), Content("a", "bc"))
}

func TestStateOrderSensitivity(t *testing.T) {
	cases := []struct {
		name     string
		a, b     string
		aDraft   bool
		bDraft   bool
		aLabels  []string
		bLabels  []string
		wantSame bool
	}{
		{"identical", "open", "open", false, false, []string{"bug"}, []string{"bug"}, true},
		{"state differs", "open", "closed", false, false, nil, nil, false},
		{"draft differs", "open", "open", true, false, nil, nil, false},
		{"labels differ", "open", "open", false, false, []string{"bug"}, []string{"feature"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := State(tc.a, tc.aDraft, tc.aLabels) == State(tc.b, tc.bDraft, tc.bLabels)
			assert.Equal(t, tc.wantSame, got)
		})
	}
}

func TestEmptyInputMapsToEmptyDigest(t *testing.T) {
	assert.Equal(t, EmptyDigest, Sum(""))
	assert.NotEqual(t, EmptyDigest, Sum("x"))
}

func TestEmptyDigestNeverMatchesRealContent(t *testing.T) {
	// Compound digests always hash at least the separator, so even
	// all-empty fields produce a real digest.
	assert.NotEqual(t, EmptyDigest, Content("", ""))
	assert.NotEqual(t, EmptyDigest, Comment("", ""))
}
