package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forumsync/internal/discord"
	"github.com/forumsync/internal/github"
	"github.com/forumsync/internal/store"
	"github.com/forumsync/pkg/models"
)

func newSweeperHarness(t *testing.T) (*Sweeper, *github.Fake, *discord.Fake, *SyncContext) {
	t.Helper()
	h := newHarness(t)
	sc := NewSyncContext(h.ws, h.gh, h.dc, h.kv, discord.DefaultLimits(), NewMutatingSet())
	return NewSweeper(sc, NewLimiters()), h.gh, h.dc, sc
}

func seedTracked(t *testing.T, sc *SyncContext, dc *discord.Fake, key models.EntityKey) discord.Thread {
	t.Helper()
	th, err := dc.CreateThread(context.Background(), "f-issues", "#42: Fix crash", "body", nil)
	require.NoError(t, err)
	require.NoError(t, sc.Tracking.PutThreadLink(models.ThreadLink{Key: key, ThreadID: th.ID, ForumID: th.ForumID}))
	require.NoError(t, sc.Tracking.PutOrigin(models.Origin{Key: key, Side: models.OriginRepo}))
	require.NoError(t, sc.Tracking.PutContentHash(key, models.ContentHash{TitleHash: "t", BodyHash: "b"}))
	return th
}

func TestRecentlyClosedPass(t *testing.T) {
	sw, gh, dc, sc := newSweeperHarness(t)
	key := models.EntityKey{Kind: models.KindIssue, Number: 42}
	th := seedTracked(t, sc, dc, key)

	gh.Closed = []models.Entity{{Key: key, State: "closed", UpdatedAt: time.Now()}}

	swept := sw.Run(context.Background(), models.NewSnapshot())
	assert.Equal(t, 1, swept)
	assert.NotContains(t, dc.Threads, th.ID)
	_, err := sc.Tracking.ThreadLink(key)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestOrphanPassCatchesMissedClosure(t *testing.T) {
	sw, _, dc, sc := newSweeperHarness(t)
	key := models.EntityKey{Kind: models.KindIssue, Number: 42}
	th := seedTracked(t, sc, dc, key)

	// Closed long ago, outside the trailing window: only the orphan
	// pass can find it.
	swept := sw.Run(context.Background(), models.NewSnapshot())
	assert.Equal(t, 1, swept)
	assert.NotContains(t, dc.Threads, th.ID)
}

func TestOrphanPassSkippedOnPartialSnapshot(t *testing.T) {
	sw, _, dc, sc := newSweeperHarness(t)
	key := models.EntityKey{Kind: models.KindIssue, Number: 42}
	th := seedTracked(t, sc, dc, key)

	snap := models.NewSnapshot()
	snap.Meta.Partial = true

	swept := sw.Run(context.Background(), snap)
	assert.Zero(t, swept, "absence from a partial snapshot proves nothing")
	assert.Contains(t, dc.Threads, th.ID)
	_, err := sc.Tracking.ThreadLink(key)
	assert.NoError(t, err)
}

func TestSweepIsIdempotent(t *testing.T) {
	sw, _, dc, sc := newSweeperHarness(t)
	key := models.EntityKey{Kind: models.KindIssue, Number: 42}
	seedTracked(t, sc, dc, key)

	assert.Equal(t, 1, sw.Run(context.Background(), models.NewSnapshot()))
	assert.Zero(t, sw.Run(context.Background(), models.NewSnapshot()))
}

func TestSweepSurvivesAlreadyDeletedThread(t *testing.T) {
	sw, _, dc, sc := newSweeperHarness(t)
	key := models.EntityKey{Kind: models.KindIssue, Number: 42}
	th := seedTracked(t, sc, dc, key)

	// A moderator deleted the thread by hand.
	require.NoError(t, dc.DeleteThread(context.Background(), th.ID))

	swept := sw.Run(context.Background(), models.NewSnapshot())
	assert.Equal(t, 1, swept)
	_, err := sc.Tracking.ThreadLink(key)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
