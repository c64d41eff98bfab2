// Package github implements the repository side of the sync: paged
// snapshot queries over GraphQL and single-item mutations over REST.
package github

import (
	"context"
	"time"

	"github.com/forumsync/pkg/models"
)

// Page is one page of open entities plus the cursor to continue from.
type Page struct {
	Entities   []models.Entity
	NextCursor string
	HasMore    bool
}

// Client is the repository capability the reconciler consumes. Page
// sizes are 100 at both the entity and nested-comment level; smaller
// server limits only cost extra round trips.
type Client interface {
	FetchOpenIssuesPage(ctx context.Context, cursor string) (Page, error)
	FetchOpenPRsPage(ctx context.Context, cursor string) (Page, error)
	FetchClosedSince(ctx context.Context, since time.Time) ([]models.Entity, error)

	CreateIssue(ctx context.Context, title, body string, labels []string) (models.Entity, error)
	CreateLabel(ctx context.Context, name string) error
	EditIssue(ctx context.Context, number int, title, body string) error
	EditState(ctx context.Context, number int, state string) error
	SetLabels(ctx context.Context, number int, labels []string) error
	CreateComment(ctx context.Context, number int, body string) (models.Comment, error)
	EditComment(ctx context.Context, commentID string, body string) error
	DeleteComment(ctx context.Context, commentID string) error
	Lock(ctx context.Context, number int) error
	Unlock(ctx context.Context, number int) error
}
