package reconcile

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/forumsync/internal/discord"
	"github.com/forumsync/pkg/models"
)

// sourceFooter prefixes the canonical GitHub URL at the end of every
// thread body. Besides attribution it is the secondary orphan marker:
// a thread can be re-linked from it even if the title was edited.
const sourceFooter = "From GitHub: "

var (
	controlChars    = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	excessBlankRuns = regexp.MustCompile(`\n{3,}`)
	githubEntityURL = regexp.MustCompile(`https://github\.com/[\w.-]+/[\w.-]+/(issues|pull)/(\d+)`)
)

// CleanText normalizes repo-side text for posting: CRLF to LF,
// control characters stripped, blank runs collapsed, and a visible
// placeholder for empty content.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = controlChars.ReplaceAllString(s, "")
	s = excessBlankRuns.ReplaceAllString(s, "\n\n")
	s = strings.TrimSpace(s)
	if s == "" {
		return "(empty)"
	}
	return s
}

// Truncate cuts s to at most max runes, ending with an ellipsis when
// something was dropped.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

// ThreadTitle renders the canonical "#<number>: <title>" form within
// the host's title limit. The numeric prefix is what orphan repair
// searches for, so it is never truncated away.
func ThreadTitle(number int, title string, maxLen int) string {
	return Truncate(fmt.Sprintf("#%d: %s", number, strings.TrimSpace(title)), maxLen)
}

// ThreadBody renders the starter message: cleaned body plus the
// source footer, fit under the message limit.
func ThreadBody(e models.Entity, maxLen int) string {
	footer := "\n\n" + sourceFooter + e.URL
	body := CleanText(e.Body)
	budget := maxLen - len([]rune(footer))
	return Truncate(body, budget) + footer
}

// ParseEntityURL extracts the kind and number from a GitHub issue or
// PR link, for thread auto-linking and orphan repair.
func ParseEntityURL(text string) (models.EntityKey, bool) {
	m := githubEntityURL.FindStringSubmatch(text)
	if m == nil {
		return models.EntityKey{}, false
	}
	var num int
	fmt.Sscanf(m[2], "%d", &num)
	kind := models.KindIssue
	if m[1] == "pull" {
		kind = models.KindPR
	}
	return models.EntityKey{Kind: kind, Number: num}, true
}

// ParseThreadNumber extracts the entity number from a thread title of
// the canonical form.
func ParseThreadNumber(title string) (int, bool) {
	var num int
	if n, err := fmt.Sscanf(title, "#%d:", &num); err != nil || n != 1 {
		return 0, false
	}
	return num, true
}

// SummaryEmbed renders the rich status message posted right after a
// thread is created and kept current by phase 3.
func SummaryEmbed(e models.Entity, maxLen int) *discord.Embed {
	var b strings.Builder
	fmt.Fprintf(&b, "**Author:** %s\n", e.Author)
	fmt.Fprintf(&b, "**State:** %s\n", e.State)
	if len(e.Labels) > 0 {
		fmt.Fprintf(&b, "**Labels:** %s\n", strings.Join(e.Labels, ", "))
	}
	if len(e.Assignees) > 0 {
		fmt.Fprintf(&b, "**Assignees:** %s\n", strings.Join(e.Assignees, ", "))
	}
	if e.Milestone != "" {
		fmt.Fprintf(&b, "**Milestone:** %s\n", e.Milestone)
	}
	if e.Key.Kind == models.KindPR {
		fmt.Fprintf(&b, "**Branch:** %s ← %s\n", e.BaseRef, e.HeadRef)
		fmt.Fprintf(&b, "**Changes:** +%d −%d in %d files\n", e.Additions, e.Deletions, e.FilesCount)
		if e.Draft {
			b.WriteString("**Draft**\n")
		}
	}
	return &discord.Embed{
		Title:       ThreadTitle(e.Key.Number, e.Title, 100),
		Description: Truncate(b.String(), maxLen),
		URL:         e.URL,
		Color:       embedColor(e),
		Footer:      sourceFooter + e.URL,
	}
}

// CommentEmbed renders one repo-side comment for posting under the
// entity's thread. Review comments carry their file context.
func CommentEmbed(c models.Comment, maxLen int) *discord.Embed {
	var title string
	switch c.Type {
	case models.CommentReview:
		title = fmt.Sprintf("Review (%s) from %s", c.State, c.Author)
	case models.CommentReviewComment:
		title = fmt.Sprintf("Review comment on %s from %s", c.Path, c.Author)
	default:
		title = "Comment from " + c.Author
	}
	return &discord.Embed{
		Title:       Truncate(title, 100),
		Description: Truncate(CleanText(c.Body), maxLen),
		URL:         c.URL,
		Color:       0x2b3137,
		Footer:      sourceFooter + c.URL,
	}
}

func embedColor(e models.Entity) int {
	if e.Key.Kind == models.KindPR {
		if e.Draft {
			return 0x6e7681
		}
		return 0x238636
	}
	return 0x1f6feb
}

// Status tags per kind. The sync only applies "open" itself, but the
// full set is created so operator-driven status edits have tags to
// use. These names are reserved: never created as repo labels and
// never label-synced.
var statusTagsByKind = map[models.Kind][]string{
	models.KindIssue: {"open", "closed", "not resolved"},
	models.KindPR:    {"open", "closed", "merged"},
}

func StatusTags(kind models.Kind) []string {
	return statusTagsByKind[kind]
}

func IsStatusTag(name string) bool {
	for _, tags := range statusTagsByKind {
		for _, t := range tags {
			if strings.EqualFold(t, name) {
				return true
			}
		}
	}
	return false
}
