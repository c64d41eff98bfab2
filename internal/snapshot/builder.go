// Package snapshot builds the per-cycle view of open entities and
// decides which of them changed since the last cycle.
package snapshot

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/forumsync/internal/github"
	"github.com/forumsync/pkg/models"
)

// discordMessageLink matches links to mirrored chat messages. GitHub
// comments carrying one are chat content echoed back by the sync and
// are dropped from snapshots so phase 4 never re-mirrors them.
var discordMessageLink = regexp.MustCompile(`https://discord\.com/channels/\d+/\d+/\d+`)

// maxPages caps runaway pagination on very large repositories. At 100
// entities per page this allows 5000 open items per kind.
const maxPages = 50

// Builder assembles snapshots by draining the client's page cursors.
type Builder struct {
	client github.Client
}

func NewBuilder(client github.Client) *Builder {
	return &Builder{client: client}
}

// Build fetches every open issue and PR. A page failure ends that
// kind's pagination but keeps what was already accumulated; the error
// return is non-nil only when no page of either kind succeeded, since
// reconciling a partial snapshot is strictly safer than none.
func (b *Builder) Build(ctx context.Context) (*models.Snapshot, error) {
	snap := models.NewSnapshot()
	snap.Meta.FetchedAt = time.Now().UTC()

	issuePages, issueErr := b.drain(ctx, snap, b.client.FetchOpenIssuesPage)
	snap.Meta.IssuePagesFetched = issuePages
	if issueErr != nil {
		snap.Meta.Partial = true
		log.Warn().Err(issueErr).Int("pages", issuePages).Msg("issue fetch incomplete")
	}

	prPages, prErr := b.drain(ctx, snap, b.client.FetchOpenPRsPage)
	snap.Meta.PRPagesFetched = prPages
	if prErr != nil {
		snap.Meta.Partial = true
		log.Warn().Err(prErr).Int("pages", prPages).Msg("pr fetch incomplete")
	}

	if issuePages == 0 && prPages == 0 && (issueErr != nil || prErr != nil) {
		err := issueErr
		if err == nil {
			err = prErr
		}
		return nil, fmt.Errorf("snapshot fetch returned no data: %w", err)
	}
	return snap, nil
}

type pageFetch func(ctx context.Context, cursor string) (github.Page, error)

func (b *Builder) drain(ctx context.Context, snap *models.Snapshot, fetch pageFetch) (int, error) {
	cursor := ""
	pages := 0
	for pages < maxPages {
		page, err := fetch(ctx, cursor)
		if err != nil {
			return pages, err
		}
		pages++
		for _, e := range page.Entities {
			e.Comments = filterMirroredComments(e.Comments)
			snap.Items[e.Key] = e
		}
		if !page.HasMore {
			return pages, nil
		}
		cursor = page.NextCursor
	}
	log.Warn().Int("pages", pages).Msg("page cap reached, snapshot marked partial")
	snap.Meta.Partial = true
	return pages, nil
}

func filterMirroredComments(comments []models.Comment) []models.Comment {
	out := comments[:0]
	for _, c := range comments {
		if discordMessageLink.MatchString(c.Body) {
			continue
		}
		out = append(out, c)
	}
	return out
}
