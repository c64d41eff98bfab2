package snapshot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forumsync/internal/github"
	"github.com/forumsync/pkg/models"
)

func TestBuildCollectsBothKinds(t *testing.T) {
	gh := github.NewFake()
	k1 := models.EntityKey{Kind: models.KindIssue, Number: 1}
	k2 := models.EntityKey{Kind: models.KindPR, Number: 2}
	gh.Open[k1] = models.Entity{Key: k1, Title: "issue one", State: "open"}
	gh.Open[k2] = models.Entity{Key: k2, Title: "pr two", State: "open"}

	snap, err := NewBuilder(gh).Build(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Items, 2)
	assert.False(t, snap.Meta.Partial)
	assert.Equal(t, 1, snap.Meta.IssuePagesFetched)
}

func TestBuildPartialOnOneSideFailing(t *testing.T) {
	gh := github.NewFake()
	k := models.EntityKey{Kind: models.KindIssue, Number: 1}
	gh.Open[k] = models.Entity{Key: k, Title: "issue one", State: "open"}
	gh.FailOn["fetch_prs"] = errors.New("503 service unavailable")

	snap, err := NewBuilder(gh).Build(context.Background())
	require.NoError(t, err, "partial data is returned, not an error")
	assert.True(t, snap.Meta.Partial)
	assert.Len(t, snap.Items, 1)
}

func TestBuildFailsOnlyWhenNothingFetched(t *testing.T) {
	gh := github.NewFake()
	gh.FailOn["fetch_issues"] = errors.New("503 service unavailable")
	gh.FailOn["fetch_prs"] = errors.New("503 service unavailable")

	_, err := NewBuilder(gh).Build(context.Background())
	assert.Error(t, err)
}

func TestBuildFiltersMirroredComments(t *testing.T) {
	gh := github.NewFake()
	k := models.EntityKey{Kind: models.KindIssue, Number: 3}
	gh.Open[k] = models.Entity{Key: k, Title: "t", State: "open", Comments: []models.Comment{
		{ID: "c1", Body: "real comment"},
		{ID: "c2", Body: "mirrored: https://discord.com/channels/1/2/3"},
	}}

	snap, err := NewBuilder(gh).Build(context.Background())
	require.NoError(t, err)
	e, ok := snap.Get(k)
	require.True(t, ok)
	require.Len(t, e.Comments, 1)
	assert.Equal(t, "c1", e.Comments[0].ID)
}
