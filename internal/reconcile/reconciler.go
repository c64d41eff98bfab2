package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/forumsync/internal/discord"
	"github.com/forumsync/internal/hashing"
	"github.com/forumsync/internal/snapshot"
	"github.com/forumsync/internal/store"
	"github.com/forumsync/pkg/models"
)

// Reconciler drives the five phases for one forum: tag parity, create
// missing posts, edit changed posts, sync comments, update status.
// Phases run strictly in order and each is skipped outright when its
// candidate set is empty, which is the steady state.
type Reconciler struct {
	sc  *SyncContext
	lim *Limiters

	// Failed items per phase. The saved snapshot is adjusted from
	// these so the pre-screens re-fire for failed work next cycle;
	// without it a failure would be invisible once cur becomes prev.
	mu             sync.Mutex
	createFailed   map[models.EntityKey]struct{}
	editFailed     map[models.EntityKey]struct{}
	commentsFailed map[models.EntityKey]struct{}
}

func NewReconciler(sc *SyncContext, lim *Limiters) *Reconciler {
	return &Reconciler{
		sc:             sc,
		lim:            lim,
		createFailed:   make(map[models.EntityKey]struct{}),
		editFailed:     make(map[models.EntityKey]struct{}),
		commentsFailed: make(map[models.EntityKey]struct{}),
	}
}

func (r *Reconciler) note(set map[models.EntityKey]struct{}, key models.EntityKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set[key] = struct{}{}
}

// AdjustSnapshot derives the snapshot to persist as prev: failed
// creates are dropped so phase 2 re-sees them, failed edits get a
// zeroed updatedAt so the content pre-screen fires, failed comment
// batches lose their comments so the comment pre-screen fires.
func (r *Reconciler) AdjustSnapshot(cur *models.Snapshot) *models.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.createFailed) == 0 && len(r.editFailed) == 0 && len(r.commentsFailed) == 0 {
		return cur
	}
	out := models.NewSnapshot()
	out.Meta = cur.Meta
	for k, e := range cur.Items {
		if _, failed := r.createFailed[k]; failed {
			continue
		}
		if _, failed := r.editFailed[k]; failed {
			e.UpdatedAt = time.Time{}
		}
		if _, failed := r.commentsFailed[k]; failed {
			e.Comments = nil
		}
		out.Items[k] = e
	}
	return out
}

// Run reconciles one kind's forum against the snapshot pair.
func (r *Reconciler) Run(ctx context.Context, kind models.Kind, prev, cur *models.Snapshot) error {
	forumID := r.sc.ForumFor(kind)
	if forumID == "" {
		log.Debug().Str("kind", string(kind)).Msg("kind has no forum mapping, skipping")
		return nil
	}

	tags, err := r.phaseTagParity(ctx, kind, forumID, cur)
	if err != nil {
		// Tag trouble degrades rendering but never blocks content sync.
		log.Warn().Err(err).Str("forum", forumID).Msg("tag parity incomplete")
		if tags == nil {
			tags = map[string]string{}
		}
	}

	created := r.phaseCreateMissing(ctx, kind, forumID, prev, cur, tags)
	edited := r.phaseEditChanged(ctx, kind, prev, cur)
	commented := r.phaseSyncComments(ctx, kind, prev, cur)
	statused := r.phaseUpdateStatus(ctx, kind, cur, tags)

	log.Info().Str("workspace", r.sc.Workspace.Name).Str("kind", string(kind)).
		Int("created", created).Int("edited", edited).
		Int("comments", commented).Int("status", statused).
		Msg("forum reconciled")
	return nil
}

// phaseTagParity ensures the per-kind status tags exist, then
// reconciles repo labels and forum tags bidirectionally, skipping the
// reserved status names. Returns the forum's tag name to id map.
func (r *Reconciler) phaseTagParity(ctx context.Context, kind models.Kind, forumID string, cur *models.Snapshot) (map[string]string, error) {
	existing, err := r.sc.Discord.ForumTags(ctx, forumID)
	if err != nil {
		return nil, fmt.Errorf("fetch forum tags: %w", err)
	}
	tags := make(map[string]string, len(existing))
	for _, t := range existing {
		tags[strings.ToLower(t.Name)] = t.ID
	}

	ensure := func(name string) {
		if _, ok := tags[strings.ToLower(name)]; ok {
			return
		}
		if len(tags) >= r.sc.Limits.MaxTagsPerForum {
			log.Warn().Str("tag", name).Str("forum", forumID).Msg("forum tag limit reached, tag skipped")
			return
		}
		t, err := r.sc.Discord.CreateTag(ctx, forumID, name)
		if err != nil {
			log.Warn().Err(err).Str("tag", name).Msg("tag creation failed")
			return
		}
		tags[strings.ToLower(t.Name)] = t.ID
	}

	// Status tags first so they win the forum limit.
	for _, name := range StatusTags(kind) {
		ensure(name)
	}

	labels := map[string]bool{}
	for _, e := range cur.Entities(kind) {
		for _, l := range e.Labels {
			if !IsStatusTag(l) {
				labels[l] = true
			}
		}
	}
	for l := range labels {
		ensure(l)
	}

	// Forum tags with no matching repo label become labels, so tag
	// edits made by moderators stay expressible on the repo side.
	for name := range tags {
		if IsStatusTag(name) || labels[name] {
			continue
		}
		if err := r.sc.GitHub.CreateLabel(ctx, name); err != nil {
			log.Warn().Err(err).Str("label", name).Msg("label creation failed")
		}
	}
	return tags, nil
}

// phaseCreateMissing creates forum threads for entities new in this
// snapshot, oldest first. Both tracking state and the forum itself
// are consulted before creating, so a crash between thread creation
// and tracking write, or lost tracking state, never duplicates a
// thread.
func (r *Reconciler) phaseCreateMissing(ctx context.Context, kind models.Kind, forumID string, prev, cur *models.Snapshot, tags map[string]string) int {
	prevKeys := prev.Keys()
	var candidates []models.Entity
	for _, e := range cur.Entities(kind) {
		if _, existed := prevKeys[e.Key]; existed {
			continue
		}
		if _, err := r.sc.Tracking.ThreadLink(e.Key); err == nil {
			continue
		}
		if origin, err := r.sc.Tracking.Origin(e.Key); err == nil && origin.Side == models.OriginChat {
			// Chat-born entity: its thread is the source, not a mirror.
			continue
		}
		candidates = append(candidates, e)
	}
	if len(candidates) == 0 {
		return 0
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	// One forum listing serves orphan repair for the whole batch.
	orphans := r.forumThreadsByNumber(ctx, forumID)

	return runBatches(ctx, r.lim.Chat, "create", candidates, func(ctx context.Context, e models.Entity) error {
		var err error
		if th, ok := orphans[e.Key.Number]; ok {
			err = r.linkExistingThread(e, th)
		} else {
			err = r.createThread(ctx, e, forumID, tags)
		}
		if err != nil {
			r.note(r.createFailed, e.Key)
		}
		return err
	})
}

func (r *Reconciler) forumThreadsByNumber(ctx context.Context, forumID string) map[int]discord.Thread {
	out := map[int]discord.Thread{}
	threads, err := r.sc.Discord.ListThreads(ctx, forumID)
	if err != nil {
		log.Warn().Err(err).Str("forum", forumID).Msg("thread listing failed, orphan repair unavailable")
		return out
	}
	for _, th := range threads {
		if num, ok := ParseThreadNumber(th.Name); ok {
			out[num] = th
		}
	}
	return out
}

// linkExistingThread converts a create into a re-link when the forum
// already holds a thread for the entity.
func (r *Reconciler) linkExistingThread(e models.Entity, th discord.Thread) error {
	log.Info().Str("key", e.Key.String()).Str("thread", th.ID).Msg("orphan thread found, linking instead of creating")
	if err := r.sc.Tracking.PutThreadLink(models.ThreadLink{
		Key: e.Key, ThreadID: th.ID, ForumID: th.ForumID,
		Locked: th.Locked, StatusTag: e.State, CreatedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}
	return r.sc.Tracking.PutOrigin(models.Origin{Key: e.Key, Side: models.OriginRepo})
}

func (r *Reconciler) createThread(ctx context.Context, e models.Entity, forumID string, tags map[string]string) error {
	title := ThreadTitle(e.Key.Number, e.Title, r.sc.Limits.MaxTitleLen)
	body := ThreadBody(e, r.sc.Limits.MaxMessageLen)
	tagIDs := r.threadTagIDs(e, tags)

	th, err := r.sc.Discord.CreateThread(ctx, forumID, title, body, tagIDs)
	if err != nil {
		return fmt.Errorf("create thread for %s: %w", e.Key, err)
	}
	r.sc.Mutating.Add(th.ID)
	defer r.sc.Mutating.Remove(th.ID)

	if err := r.sc.Tracking.PutThreadLink(models.ThreadLink{
		Key: e.Key, ThreadID: th.ID, ForumID: forumID,
		StatusTag: e.State, CreatedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}
	if err := r.sc.Tracking.PutOrigin(models.Origin{Key: e.Key, Side: models.OriginRepo}); err != nil {
		return err
	}
	titleHash, bodyHash := snapshot.ContentDigest(e)
	// Comment hashes stay empty; phase 4 owns them.
	if err := r.sc.Tracking.PutContentHash(e.Key, models.ContentHash{TitleHash: titleHash, BodyHash: bodyHash}); err != nil {
		return err
	}

	msg, err := r.sc.Discord.SendMessage(ctx, th.ID, "", SummaryEmbed(e, r.sc.Limits.MaxEmbedLen))
	if err != nil {
		// Thread exists and is tracked; the summary is re-posted by
		// phase 3 next cycle.
		log.Warn().Err(err).Str("key", e.Key.String()).Msg("summary message failed")
		return r.sc.Tracking.PutMessages(e.Key, models.MessageTracking{ThreadID: th.ID})
	}
	return r.sc.Tracking.PutMessages(e.Key, models.MessageTracking{ThreadID: th.ID, SummaryMessageID: msg.ID})
}

// threadTagIDs resolves the entity's desired tags, status first, cut
// to the per-thread limit.
func (r *Reconciler) threadTagIDs(e models.Entity, tags map[string]string) []string {
	names := []string{e.State}
	for _, l := range e.Labels {
		if !IsStatusTag(l) {
			names = append(names, l)
		}
	}
	var ids []string
	for _, n := range names {
		if id, ok := tags[strings.ToLower(n)]; ok {
			ids = append(ids, id)
			if len(ids) >= r.sc.Limits.MaxTagsPerThread {
				break
			}
		}
	}
	return ids
}

// phaseEditChanged re-renders title and summary for entities whose
// content drifted. Pre-screen against the previous snapshot first,
// stored-hash confirmation second, so updatedAt-only bumps cost one
// store read and no host calls.
func (r *Reconciler) phaseEditChanged(ctx context.Context, kind models.Kind, prev, cur *models.Snapshot) int {
	var candidates []models.Entity
	for _, e := range cur.Entities(kind) {
		var prevEnt *models.Entity
		if p, ok := prev.Get(e.Key); ok {
			prevEnt = &p
		} else {
			// Absent from prev means phase 2 just created it current.
			continue
		}
		if !snapshot.ContentChanged(e, prevEnt) {
			continue
		}
		changed, err := snapshot.ConfirmContentChanged(r.sc.Tracking, e)
		if err != nil {
			log.Warn().Err(err).Str("key", e.Key.String()).Msg("content hash read failed")
			continue
		}
		if changed {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return 0
	}

	return runBatches(ctx, r.lim.Chat, "edit", candidates, func(ctx context.Context, e models.Entity) error {
		if err := r.editThread(ctx, e); err != nil {
			r.note(r.editFailed, e.Key)
			return err
		}
		return nil
	})
}

func (r *Reconciler) editThread(ctx context.Context, e models.Entity) error {
	link, err := r.sc.Tracking.ThreadLink(e.Key)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	r.sc.Mutating.Add(link.ThreadID)
	defer r.sc.Mutating.Remove(link.ThreadID)

	title := ThreadTitle(e.Key.Number, e.Title, r.sc.Limits.MaxTitleLen)
	if err := r.sc.Discord.EditThread(ctx, link.ThreadID, discord.ThreadEdit{Name: &title}); err != nil {
		return fmt.Errorf("retitle thread for %s: %w", e.Key, err)
	}

	msgs, err := r.sc.Tracking.Messages(e.Key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	embed := SummaryEmbed(e, r.sc.Limits.MaxEmbedLen)
	if msgs.SummaryMessageID != "" {
		err = r.sc.Discord.EditMessage(ctx, link.ThreadID, msgs.SummaryMessageID, "", embed)
	}
	if msgs.SummaryMessageID == "" || err != nil {
		// Summary lost or deleted; post a fresh one.
		m, sendErr := r.sc.Discord.SendMessage(ctx, link.ThreadID, "", embed)
		if sendErr != nil {
			return fmt.Errorf("refresh summary for %s: %w", e.Key, sendErr)
		}
		msgs.ThreadID = link.ThreadID
		msgs.SummaryMessageID = m.ID
		if err := r.sc.Tracking.PutMessages(e.Key, msgs); err != nil {
			return err
		}
	}

	stored, err := r.sc.Tracking.ContentHash(e.Key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	titleHash, bodyHash := snapshot.ContentDigest(e)
	stored.TitleHash = titleHash
	stored.BodyHash = bodyHash
	// Comment hashes survive untouched.
	return r.sc.Tracking.PutContentHash(e.Key, stored)
}

// phaseSyncComments posts comments that have no stored hash yet. A
// comment's hash is written only after its message is confirmed, so a
// failed post repeats next cycle.
func (r *Reconciler) phaseSyncComments(ctx context.Context, kind models.Kind, prev, cur *models.Snapshot) int {
	var candidates []models.Entity
	for _, e := range cur.Entities(kind) {
		if e.CommentsTruncated {
			continue
		}
		var prevEnt *models.Entity
		if p, ok := prev.Get(e.Key); ok {
			prevEnt = &p
		}
		if snapshot.CommentsChanged(e, prevEnt) {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return 0
	}

	return runBatches(ctx, r.lim.Chat, "comments", candidates, func(ctx context.Context, e models.Entity) error {
		if err := r.syncEntityComments(ctx, e); err != nil {
			r.note(r.commentsFailed, e.Key)
			return err
		}
		return nil
	})
}

func (r *Reconciler) syncEntityComments(ctx context.Context, e models.Entity) error {
	link, err := r.sc.Tracking.ThreadLink(e.Key)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	pending, err := snapshot.UnsyncedComments(r.sc.Tracking, e)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	r.sc.Mutating.Add(link.ThreadID)
	defer r.sc.Mutating.Remove(link.ThreadID)

	stored, err := r.sc.Tracking.ContentHash(e.Key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if stored.CommentHashes == nil {
		stored.CommentHashes = map[string]string{}
	}
	msgs, err := r.sc.Tracking.Messages(e.Key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if msgs.CommentMessageIDs == nil {
		msgs.CommentMessageIDs = map[string]string{}
	}
	msgs.ThreadID = link.ThreadID

	var firstErr error
	for _, c := range pending {
		if existingID, ok := msgs.CommentMessageIDs[c.ID]; ok {
			// Known message with a stale hash: the comment was edited.
			if err := r.sc.Discord.EditMessage(ctx, link.ThreadID, existingID, "", CommentEmbed(c, r.sc.Limits.MaxEmbedLen)); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
		} else {
			m, err := r.sc.Discord.SendMessage(ctx, link.ThreadID, "", CommentEmbed(c, r.sc.Limits.MaxEmbedLen))
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			msgs.CommentMessageIDs[c.ID] = m.ID
		}
		stored.CommentHashes[c.ID] = hashing.Comment(c.Author, c.Body)
	}

	if err := r.sc.Tracking.PutContentHash(e.Key, stored); err != nil {
		return err
	}
	if err := r.sc.Tracking.PutMessages(e.Key, msgs); err != nil {
		return err
	}
	return firstErr
}

// phaseUpdateStatus corrects archived/locked/tag drift. In steady
// state desired archived and locked are both false; the phase mostly
// repairs threads left in a bad state by prior partial failures and
// applies label-driven tag changes.
func (r *Reconciler) phaseUpdateStatus(ctx context.Context, kind models.Kind, cur *models.Snapshot, tags map[string]string) int {
	var candidates []models.Entity
	for _, e := range cur.Entities(kind) {
		changed, err := snapshot.ConfirmStateChanged(r.sc.Tracking, e)
		if err != nil {
			log.Warn().Err(err).Str("key", e.Key.String()).Msg("state hash read failed")
			continue
		}
		if changed {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return 0
	}

	falseVal := false
	return runBatches(ctx, r.lim.Chat, "status", candidates, func(ctx context.Context, e models.Entity) error {
		link, err := r.sc.Tracking.ThreadLink(e.Key)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		r.sc.Mutating.Add(link.ThreadID)
		defer r.sc.Mutating.Remove(link.ThreadID)

		tagIDs := r.threadTagIDs(e, tags)
		edit := discord.ThreadEdit{Archived: &falseVal, Locked: &falseVal, TagIDs: &tagIDs}
		if err := r.sc.Discord.EditThread(ctx, link.ThreadID, edit); err != nil {
			return fmt.Errorf("status update for %s: %w", e.Key, err)
		}
		if link.Locked || link.StatusTag != e.State {
			link.Locked = false
			link.StatusTag = e.State
			if err := r.sc.Tracking.PutThreadLink(link); err != nil {
				return err
			}
		}
		return r.sc.Tracking.PutStateHash(e.Key, models.StateHash{
			Hash:      snapshot.StateDigest(e),
			UpdatedAt: time.Now().UTC(),
		})
	})
}
