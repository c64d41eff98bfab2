package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forumsync/internal/config"
	"github.com/forumsync/internal/discord"
	"github.com/forumsync/internal/github"
	"github.com/forumsync/internal/store"
	"github.com/forumsync/internal/tracking"
	"github.com/forumsync/pkg/models"
)

type harness struct {
	svc *Service
	gh  *github.Fake
	dc  *discord.Fake
	kv  *store.MemoryStore
	ws  config.Workspace
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &config.Config{}
	cfg.Discord.Token = "tok"
	cfg.Discord.GuildID = "g1"
	ws := config.Workspace{
		Name: "myrepo", Owner: "acme", Repo: "widget", Token: "gh",
		IssuesForumID: "f-issues", PRsForumID: "f-prs", PollEnabled: true,
	}
	cfg.Workspaces = []config.Workspace{ws}

	gh := github.NewFake()
	dc := discord.NewFakeClient()
	kv := store.NewMemoryStore()
	svc := NewService(cfg, kv, dc)
	svc.SetGitHubFactory(func(config.Workspace) github.Client { return gh })
	return &harness{svc: svc, gh: gh, dc: dc, kv: kv, ws: ws}
}

func (h *harness) tracking() *tracking.Repository {
	return tracking.NewRepository(h.kv, h.ws.Name)
}

func (h *harness) sync(t *testing.T) {
	t.Helper()
	require.NoError(t, h.svc.SyncWorkspace(context.Background(), h.ws))
}

func openIssue(num int, title, body string) models.Entity {
	return models.Entity{
		Key:       models.EntityKey{Kind: models.KindIssue, Number: num},
		Title:     title,
		Body:      body,
		Author:    "alice",
		URL:       "https://github.com/acme/widget/issues/42",
		State:     "open",
		CreatedAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestNewIssueCreatesThread(t *testing.T) {
	h := newHarness(t)
	e := openIssue(42, "Fix crash", "It crashes on startup")
	h.gh.Open[e.Key] = e

	h.sync(t)

	require.Equal(t, 1, h.dc.CallCount("create_thread"))
	var created discord.Thread
	for _, th := range h.dc.Threads {
		created = *th
	}
	assert.Equal(t, "#42: Fix crash", created.Name)
	assert.Equal(t, "f-issues", created.ForumID)

	repo := h.tracking()
	link, err := repo.ThreadLink(e.Key)
	require.NoError(t, err)
	assert.Equal(t, created.ID, link.ThreadID)

	origin, err := repo.Origin(e.Key)
	require.NoError(t, err)
	assert.Equal(t, models.OriginRepo, origin.Side)
}

func TestSecondRunIsIdempotent(t *testing.T) {
	h := newHarness(t)
	e := openIssue(42, "Fix crash", "body")
	h.gh.Open[e.Key] = e

	h.sync(t)
	creates := h.dc.CallCount("create_thread")
	sends := h.dc.CallCount("send_message")
	edits := h.dc.CallCount("edit_thread")

	h.sync(t)

	assert.Equal(t, creates, h.dc.CallCount("create_thread"), "no second thread creation")
	assert.Equal(t, sends, h.dc.CallCount("send_message"), "no repeated messages")
	assert.Equal(t, edits, h.dc.CallCount("edit_thread"), "no repeated edits")
}

func TestTitleEditTouchesOnlyPhaseThree(t *testing.T) {
	h := newHarness(t)
	e := openIssue(42, "Fix crash", "body")
	h.gh.Open[e.Key] = e
	h.sync(t)

	sendsBefore := h.dc.CallCount("send_message")
	editsBefore := h.dc.CallCount("edit_thread")

	e.Title = "Fix crash on startup"
	e.UpdatedAt = e.UpdatedAt.Add(time.Minute)
	h.gh.Open[e.Key] = e
	h.sync(t)

	assert.Equal(t, 1, h.dc.CallCount("create_thread"), "phase 2 idle")
	assert.Equal(t, editsBefore+1, h.dc.CallCount("edit_thread"), "one retitle")
	assert.Equal(t, sendsBefore, h.dc.CallCount("send_message"), "summary edited in place, not re-sent")
	assert.Equal(t, 1, h.dc.CallCount("edit_message"), "summary refreshed once")

	link, err := h.tracking().ThreadLink(e.Key)
	require.NoError(t, err)
	assert.Equal(t, "#42: Fix crash on startup", h.dc.Threads[link.ThreadID].Name)
}

func TestClosedIssueIsSwept(t *testing.T) {
	h := newHarness(t)
	e := openIssue(42, "Fix crash", "body")
	h.gh.Open[e.Key] = e
	h.sync(t)

	repo := h.tracking()
	link, err := repo.ThreadLink(e.Key)
	require.NoError(t, err)

	delete(h.gh.Open, e.Key)
	h.sync(t)

	_, err = repo.ThreadLink(e.Key)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = repo.ContentHash(e.Key)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = repo.Origin(e.Key)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NotContains(t, h.dc.Threads, link.ThreadID, "forum thread deleted")
}

func TestChatOriginEntityIsNotMirrored(t *testing.T) {
	h := newHarness(t)
	e := openIssue(42, "From the forum", "created via thread")
	h.gh.Open[e.Key] = e

	// The inbound handler recorded this entity as chat-born.
	require.NoError(t, h.tracking().PutOrigin(models.Origin{Key: e.Key, Side: models.OriginChat}))

	h.sync(t)

	assert.Zero(t, h.dc.CallCount("create_thread"), "chat-born entity must not get a mirror thread")
}

func TestFailedCommentIsRetriedNextCycle(t *testing.T) {
	h := newHarness(t)
	e := openIssue(42, "Fix crash", "body")
	h.gh.Open[e.Key] = e
	h.sync(t)

	link, err := h.tracking().ThreadLink(e.Key)
	require.NoError(t, err)

	e.Comments = []models.Comment{{ID: "c1", Author: "bob", Body: "me too", CreatedAt: time.Now()}}
	h.gh.Open[e.Key] = e
	h.dc.FailOn["send_message_"+link.ThreadID] = errors.New("503 service unavailable")
	h.sync(t)

	ch, err := h.tracking().ContentHash(e.Key)
	require.NoError(t, err)
	assert.Empty(t, ch.CommentHashes["c1"], "failed post must not be marked synced")

	h.sync(t)

	ch, err = h.tracking().ContentHash(e.Key)
	require.NoError(t, err)
	assert.NotEmpty(t, ch.CommentHashes["c1"], "retried and recorded")
	assert.Len(t, h.dc.Messages[link.ThreadID], 2, "starter plus one comment message")
}

func TestCommentSyncPostsInOrder(t *testing.T) {
	h := newHarness(t)
	e := openIssue(42, "Fix crash", "body")
	base := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)
	e.Comments = []models.Comment{
		{ID: "c2", Author: "bob", Body: "second", CreatedAt: base.Add(time.Hour)},
		{ID: "c1", Author: "alice", Body: "first", CreatedAt: base},
	}
	h.gh.Open[e.Key] = e
	h.sync(t)

	repo := h.tracking()
	msgs, err := repo.Messages(e.Key)
	require.NoError(t, err)
	assert.Len(t, msgs.CommentMessageIDs, 2)

	ch, err := repo.ContentHash(e.Key)
	require.NoError(t, err)
	assert.Len(t, ch.CommentHashes, 2)
}

func TestOrphanThreadIsRelinkedNotDuplicated(t *testing.T) {
	h := newHarness(t)
	e := openIssue(42, "Fix crash", "body")
	h.gh.Open[e.Key] = e

	// A thread for #42 already exists but tracking was lost.
	_, err := h.dc.CreateThread(context.Background(), "f-issues", "#42: Fix crash", "old body", nil)
	require.NoError(t, err)
	preexisting := h.dc.CallCount("create_thread")

	h.sync(t)

	assert.Equal(t, preexisting, h.dc.CallCount("create_thread"), "no duplicate thread")
	link, err := h.tracking().ThreadLink(e.Key)
	require.NoError(t, err)
	assert.Contains(t, h.dc.Threads, link.ThreadID)
}

func TestStatusTagsCreatedPerKind(t *testing.T) {
	h := newHarness(t)
	e := openIssue(42, "Fix crash", "body")
	h.gh.Open[e.Key] = e
	h.sync(t)

	issueTags, err := h.dc.ForumTags(context.Background(), "f-issues")
	require.NoError(t, err)
	names := map[string]bool{}
	for _, tg := range issueTags {
		names[tg.Name] = true
	}
	assert.True(t, names["open"] && names["closed"] && names["not resolved"])

	prTags, err := h.dc.ForumTags(context.Background(), "f-prs")
	require.NoError(t, err)
	names = map[string]bool{}
	for _, tg := range prTags {
		names[tg.Name] = true
	}
	assert.True(t, names["open"] && names["closed"] && names["merged"])
}

func TestLabelBecomesForumTag(t *testing.T) {
	h := newHarness(t)
	e := openIssue(42, "Fix crash", "body")
	e.Labels = []string{"bug"}
	h.gh.Open[e.Key] = e
	h.sync(t)

	tags, err := h.dc.ForumTags(context.Background(), "f-issues")
	require.NoError(t, err)
	var bugID string
	for _, tg := range tags {
		if tg.Name == "bug" {
			bugID = tg.ID
		}
	}
	require.NotEmpty(t, bugID, "label mirrored as forum tag")

	link, err := h.tracking().ThreadLink(e.Key)
	require.NoError(t, err)
	assert.Contains(t, h.dc.Threads[link.ThreadID].TagIDs, bugID)
}

func TestUnconfiguredWorkspaceIsSkippedNotFatal(t *testing.T) {
	h := newHarness(t)
	ws := h.ws
	ws.Token = ""
	require.NoError(t, h.svc.SyncWorkspace(context.Background(), ws))
	assert.Zero(t, h.gh.CallCount("fetch_issues"), "no host calls for unconfigured workspace")
}
