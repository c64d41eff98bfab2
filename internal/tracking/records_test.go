package tracking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forumsync/internal/store"
	"github.com/forumsync/pkg/models"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	return NewRepository(store.NewMemoryStore(), "myrepo")
}

func TestThreadLinkRoundTrip(t *testing.T) {
	r := newRepo(t)
	key := models.EntityKey{Kind: models.KindIssue, Number: 42}

	_, err := r.ThreadLink(key)
	assert.ErrorIs(t, err, store.ErrNotFound)

	tl := models.ThreadLink{Key: key, ThreadID: "111", ForumID: "222", CreatedAt: time.Now().UTC()}
	require.NoError(t, r.PutThreadLink(tl))

	got, err := r.ThreadLink(key)
	require.NoError(t, err)
	assert.Equal(t, "111", got.ThreadID)

	links, err := r.ThreadLinks()
	require.NoError(t, err)
	assert.Len(t, links, 1)
}

func TestOriginIsWriteOnce(t *testing.T) {
	r := newRepo(t)
	key := models.EntityKey{Kind: models.KindIssue, Number: 7}

	require.NoError(t, r.PutOrigin(models.Origin{Key: key, Side: models.OriginChat}))
	// A later repo-side write must not flip the recorded side.
	require.NoError(t, r.PutOrigin(models.Origin{Key: key, Side: models.OriginRepo}))

	got, err := r.Origin(key)
	require.NoError(t, err)
	assert.Equal(t, models.OriginChat, got.Side)
}

func TestWorkspacesAreIsolated(t *testing.T) {
	kv := store.NewMemoryStore()
	a := NewRepository(kv, "repo-a")
	b := NewRepository(kv, "repo-b")
	key := models.EntityKey{Kind: models.KindPR, Number: 1}

	require.NoError(t, a.PutThreadLink(models.ThreadLink{Key: key, ThreadID: "1"}))

	_, err := b.ThreadLink(key)
	assert.ErrorIs(t, err, store.ErrNotFound)

	links, err := b.ThreadLinks()
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestDeleteAllRemovesEveryRecord(t *testing.T) {
	r := newRepo(t)
	key := models.EntityKey{Kind: models.KindIssue, Number: 3}

	require.NoError(t, r.PutThreadLink(models.ThreadLink{Key: key, ThreadID: "t"}))
	require.NoError(t, r.PutContentHash(key, models.ContentHash{TitleHash: "a", BodyHash: "b"}))
	require.NoError(t, r.PutStateHash(key, models.StateHash{Hash: "s"}))
	require.NoError(t, r.PutMessages(key, models.MessageTracking{ThreadID: "t"}))
	require.NoError(t, r.PutOrigin(models.Origin{Key: key, Side: models.OriginRepo}))
	require.NoError(t, r.PutCommentOrigin(models.CommentOrigin{Key: key, CommentID: "c1", MessageID: "m1", Side: models.OriginChat}))

	// A comment origin of another entity must survive the delete.
	other := models.EntityKey{Kind: models.KindIssue, Number: 4}
	require.NoError(t, r.PutCommentOrigin(models.CommentOrigin{Key: other, CommentID: "c2", MessageID: "m2", Side: models.OriginChat}))

	require.NoError(t, r.DeleteAll(key))

	_, err := r.ThreadLink(key)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = r.ContentHash(key)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = r.Origin(key)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = r.CommentOriginByMessage("m1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = r.CommentOriginByMessage("m2")
	assert.NoError(t, err)
}

func TestClearHashesKeepsLinks(t *testing.T) {
	r := newRepo(t)
	key := models.EntityKey{Kind: models.KindPR, Number: 9}
	require.NoError(t, r.PutThreadLink(models.ThreadLink{Key: key, ThreadID: "t"}))
	require.NoError(t, r.PutContentHash(key, models.ContentHash{TitleHash: "a"}))
	require.NoError(t, r.PutStateHash(key, models.StateHash{Hash: "s"}))

	require.NoError(t, r.Clear("hashes"))

	_, err := r.ContentHash(key)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = r.StateHash(key)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = r.ThreadLink(key)
	assert.NoError(t, err)
}

func TestSnapshotRoundTrip(t *testing.T) {
	r := newRepo(t)
	_, err := r.Snapshot()
	assert.ErrorIs(t, err, store.ErrNotFound)

	snap := models.NewSnapshot()
	key := models.EntityKey{Kind: models.KindIssue, Number: 42}
	snap.Items[key] = models.Entity{Key: key, Title: "Fix crash"}
	require.NoError(t, r.PutSnapshot(snap))

	got, err := r.Snapshot()
	require.NoError(t, err)
	e, ok := got.Get(key)
	require.True(t, ok)
	assert.Equal(t, "Fix crash", e.Title)
}

func TestCommentOriginByMessage(t *testing.T) {
	r := newRepo(t)
	key := models.EntityKey{Kind: models.KindIssue, Number: 5}
	co := models.CommentOrigin{Key: key, MessageID: "m1", Side: models.OriginChat}
	require.NoError(t, r.PutCommentOrigin(co))
	// Write-once like entity origins.
	require.NoError(t, r.PutCommentOrigin(models.CommentOrigin{Key: key, MessageID: "m1", Side: models.OriginRepo}))

	got, err := r.CommentOriginByMessage("m1")
	require.NoError(t, err)
	assert.Equal(t, models.OriginChat, got.Side)
}
