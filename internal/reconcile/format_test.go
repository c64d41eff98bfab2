package reconcile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forumsync/pkg/models"
)

func TestCleanText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"crlf normalized", "a\r\nb", "a\nb"},
		{"control chars stripped", "a\x00b\x07c", "abc"},
		{"blank runs collapsed", "a\n\n\n\n\nb", "a\n\nb"},
		{"empty placeholder", "   \n  ", "(empty)"},
		{"plain text untouched", "hello world", "hello world"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CleanText(tc.in))
		})
	}
}

func TestThreadTitleKeepsNumberPrefix(t *testing.T) {
	got := ThreadTitle(42, "Fix crash", 100)
	assert.Equal(t, "#42: Fix crash", got)

	long := ThreadTitle(42, strings.Repeat("x", 200), 100)
	assert.Len(t, []rune(long), 100)
	assert.True(t, strings.HasPrefix(long, "#42: "))
	assert.True(t, strings.HasSuffix(long, "..."))
}

func TestThreadBodyCarriesSourceFooter(t *testing.T) {
	e := models.Entity{
		Key:  models.EntityKey{Kind: models.KindIssue, Number: 42},
		Body: "It crashes",
		URL:  "https://github.com/acme/widget/issues/42",
	}
	body := ThreadBody(e, 2000)
	assert.Contains(t, body, "It crashes")
	assert.Contains(t, body, "From GitHub: https://github.com/acme/widget/issues/42")

	// A huge body still fits the limit, footer intact.
	e.Body = strings.Repeat("y", 5000)
	body = ThreadBody(e, 2000)
	assert.LessOrEqual(t, len([]rune(body)), 2000)
	assert.Contains(t, body, "From GitHub: ")
}

func TestParseEntityURL(t *testing.T) {
	key, ok := ParseEntityURL("see https://github.com/acme/widget/issues/42 please")
	require.True(t, ok)
	assert.Equal(t, models.EntityKey{Kind: models.KindIssue, Number: 42}, key)

	key, ok = ParseEntityURL("https://github.com/acme/widget/pull/7")
	require.True(t, ok)
	assert.Equal(t, models.KindPR, key.Kind)

	_, ok = ParseEntityURL("https://example.com/issues/42")
	assert.False(t, ok)
}

func TestParseThreadNumber(t *testing.T) {
	num, ok := ParseThreadNumber("#42: Fix crash")
	require.True(t, ok)
	assert.Equal(t, 42, num)

	_, ok = ParseThreadNumber("Fix crash")
	assert.False(t, ok)
	_, ok = ParseThreadNumber("meeting notes #42")
	assert.False(t, ok)
}

func TestSummaryEmbedForPR(t *testing.T) {
	e := models.Entity{
		Key:       models.EntityKey{Kind: models.KindPR, Number: 7},
		Title:     "Add cache",
		Author:    "carol",
		State:     "open",
		BaseRef:   "main",
		HeadRef:   "feat/cache",
		Additions: 100,
		Deletions: 3,
		Draft:     true,
		URL:       "https://github.com/acme/widget/pull/7",
	}
	em := SummaryEmbed(e, 4096)
	assert.Equal(t, "#7: Add cache", em.Title)
	assert.Contains(t, em.Description, "carol")
	assert.Contains(t, em.Description, "main")
	assert.Contains(t, em.Description, "Draft")
	assert.Equal(t, e.URL, em.URL)
}

func TestCommentEmbedTypes(t *testing.T) {
	plain := CommentEmbed(models.Comment{Author: "bob", Body: "hi", Type: models.CommentPlain}, 4096)
	assert.Equal(t, "Comment from bob", plain.Title)

	review := CommentEmbed(models.Comment{Author: "carol", Body: "ok", Type: models.CommentReview, State: "APPROVED"}, 4096)
	assert.Equal(t, "Review (APPROVED) from carol", review.Title)

	line := CommentEmbed(models.Comment{Author: "dave", Body: "nit", Type: models.CommentReviewComment, Path: "main.go"}, 4096)
	assert.Contains(t, line.Title, "main.go")
}

func TestStatusTags(t *testing.T) {
	assert.ElementsMatch(t, []string{"open", "closed", "not resolved"}, StatusTags(models.KindIssue))
	assert.ElementsMatch(t, []string{"open", "closed", "merged"}, StatusTags(models.KindPR))
	assert.True(t, IsStatusTag("Open"))
	assert.True(t, IsStatusTag("merged"))
	assert.False(t, IsStatusTag("bug"))
}

func TestMutatingSetIsCounted(t *testing.T) {
	s := NewMutatingSet()
	s.Add("t1")
	s.Add("t1")
	s.Remove("t1")
	assert.True(t, s.Contains("t1"), "still held by one mutator")
	s.Remove("t1")
	assert.False(t, s.Contains("t1"))
}
