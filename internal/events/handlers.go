// Package events implements the chat-to-repo direction: gateway
// events filtered through origin guards and propagated as single
// repository mutations. Low frequency, so writes go straight to the
// store without batching.
package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/forumsync/internal/config"
	"github.com/forumsync/internal/discord"
	"github.com/forumsync/internal/github"
	"github.com/forumsync/internal/reconcile"
	"github.com/forumsync/internal/store"
	"github.com/forumsync/internal/tracking"
	"github.com/forumsync/pkg/models"
)

// Handler routes inbound Discord events. It implements
// discord.EventHandler.
type Handler struct {
	cfg       *config.Config
	kv        store.KV
	discord   discord.Client
	mutating  *reconcile.MutatingSet
	newGitHub func(ws config.Workspace) github.Client
}

func NewHandler(cfg *config.Config, kv store.KV, dc discord.Client, mutating *reconcile.MutatingSet) *Handler {
	return &Handler{
		cfg:      cfg,
		kv:       kv,
		discord:  dc,
		mutating: mutating,
		newGitHub: func(ws config.Workspace) github.Client {
			return github.NewHTTPClient(ws.Owner, ws.Repo, ws.Token)
		},
	}
}

// SetGitHubFactory overrides per-workspace client construction.
func (h *Handler) SetGitHubFactory(f func(ws config.Workspace) github.Client) {
	h.newGitHub = f
}

// resolve maps a forum channel to its workspace context. Unknown
// forums (any non-mirrored channel in the guild) are simply ignored.
func (h *Handler) resolve(forumID string) (config.Workspace, models.Kind, *tracking.Repository, bool) {
	ws, kindStr, ok := h.cfg.WorkspaceForForum(forumID)
	if !ok {
		return config.Workspace{}, "", nil, false
	}
	kind := models.KindIssue
	if kindStr == "pr" {
		kind = models.KindPR
	}
	return ws, kind, tracking.NewRepository(h.kv, ws.Name), true
}

// HandleThreadCreate links a human-created thread to the entity its
// first message references, or, for the issues forum with chat-to-repo
// enabled, creates a new repository issue from the thread.
func (h *Handler) HandleThreadCreate(ctx context.Context, thread discord.Thread) {
	if h.mutating.Contains(thread.ID) {
		return
	}
	ws, kind, repo, ok := h.resolve(thread.ForumID)
	if !ok {
		return
	}

	first, err := h.discord.FirstMessage(ctx, thread.ID)
	if err != nil {
		log.Warn().Err(err).Str("thread", thread.ID).Msg("starter message unavailable")
		return
	}
	if first.Bot {
		return
	}

	if key, found := reconcile.ParseEntityURL(first.Content); found {
		// A link to existing repo content: this thread mirrors it.
		if _, err := repo.FindByThread(thread.ID); err == nil {
			return
		}
		if existing, err := repo.ThreadLink(key); err == nil {
			// The entity already has a mirror; a second thread quoting
			// its URL must not steal the link.
			log.Info().Str("key", key.String()).Str("thread", thread.ID).
				Str("existing", existing.ThreadID).Msg("entity already linked, thread ignored")
			return
		}
		if err := repo.PutThreadLink(models.ThreadLink{Key: key, ThreadID: thread.ID, ForumID: thread.ForumID}); err != nil {
			log.Error().Err(err).Str("thread", thread.ID).Msg("thread link write failed")
			return
		}
		repo.PutOrigin(models.Origin{Key: key, Side: models.OriginRepo})
		log.Info().Str("key", key.String()).Str("thread", thread.ID).Msg("thread auto-linked to existing entity")
		return
	}

	if !ws.ChatToRepo || kind != models.KindIssue {
		return
	}

	gh := h.newGitHub(ws)
	body := fmt.Sprintf("*Created from a forum thread by <@%s>*\n\n%s", first.AuthorID, first.Content)
	labels := h.nonStatusTagNames(ctx, thread)
	entity, err := gh.CreateIssue(ctx, thread.Name, body, labels)
	if err != nil {
		log.Error().Err(err).Str("thread", thread.ID).Msg("issue creation from thread failed")
		return
	}
	if err := repo.PutThreadLink(models.ThreadLink{Key: entity.Key, ThreadID: thread.ID, ForumID: thread.ForumID}); err != nil {
		log.Error().Err(err).Str("thread", thread.ID).Msg("thread link write failed")
		return
	}
	repo.PutOrigin(models.Origin{Key: entity.Key, Side: models.OriginChat})
	repo.PutCommentOrigin(models.CommentOrigin{Key: entity.Key, MessageID: first.ID, Side: models.OriginChat})
	log.Info().Str("key", entity.Key.String()).Str("thread", thread.ID).Msg("issue created from thread")
}

// nonStatusTagNames resolves a thread's applied tag ids to names,
// dropping reserved status names.
func (h *Handler) nonStatusTagNames(ctx context.Context, thread discord.Thread) []string {
	if len(thread.TagIDs) == 0 {
		return nil
	}
	tags, err := h.discord.ForumTags(ctx, thread.ForumID)
	if err != nil {
		log.Warn().Err(err).Str("forum", thread.ForumID).Msg("tag lookup failed")
		return nil
	}
	byID := make(map[string]string, len(tags))
	for _, t := range tags {
		byID[t.ID] = t.Name
	}
	var out []string
	for _, id := range thread.TagIDs {
		name := byID[id]
		if name != "" && !reconcile.IsStatusTag(name) {
			out = append(out, name)
		}
	}
	return out
}

// HandleThreadUpdate propagates thread edits under the origin rules:
// renames and label-tag changes only for chat-born entities, status
// tags and lock state regardless of origin. The chat-to-repo toggle
// gates the whole handler; nothing propagates when it is off.
func (h *Handler) HandleThreadUpdate(ctx context.Context, thread discord.Thread) {
	if h.mutating.Contains(thread.ID) {
		return
	}
	ws, _, repo, ok := h.resolve(thread.ForumID)
	if !ok || !ws.ChatToRepo {
		return
	}
	link, err := repo.FindByThread(thread.ID)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		log.Error().Err(err).Str("thread", thread.ID).Msg("link lookup failed")
		return
	}
	origin, err := repo.Origin(link.Key)
	if err != nil {
		log.Warn().Err(err).Str("key", link.Key.String()).Msg("origin lookup failed, update ignored")
		return
	}
	gh := h.newGitHub(ws)

	changed := h.propagateStatusTags(ctx, gh, &link, thread)
	changed = h.propagateLockState(ctx, gh, &link, thread) || changed
	if changed {
		if err := repo.PutThreadLink(link); err != nil {
			log.Error().Err(err).Str("key", link.Key.String()).Msg("thread link update failed")
		}
	}

	if origin.Side != models.OriginChat {
		return
	}
	if title, found := strings.CutPrefix(thread.Name, fmt.Sprintf("#%d: ", link.Key.Number)); found {
		thread.Name = title
	}
	if err := gh.EditIssue(ctx, link.Key.Number, thread.Name, ""); err != nil {
		log.Error().Err(err).Str("key", link.Key.String()).Msg("rename propagation failed")
	}
	if labels := h.nonStatusTagNames(ctx, thread); labels != nil {
		if err := gh.SetLabels(ctx, link.Key.Number, labels); err != nil {
			log.Error().Err(err).Str("key", link.Key.String()).Msg("label propagation failed")
		}
	}
}

// propagateStatusTags maps an applied status tag to a repo state
// change, regardless of origin: opening or closing via tag is an
// explicit operator action. Only transitions away from the last
// recorded status count; a rename or label event re-delivering the
// steady-state tag set must not re-fire the mutation. "merged" cannot
// be performed from here and is only logged. Reports whether link was
// modified.
func (h *Handler) propagateStatusTags(ctx context.Context, gh github.Client, link *models.ThreadLink, thread discord.Thread) bool {
	names := h.statusTagNames(ctx, thread)
	var desired string
	switch {
	case names["closed"] || names["not resolved"]:
		desired = "closed"
	case names["merged"]:
		desired = "merged"
	case names["open"]:
		desired = "open"
	default:
		return false
	}
	if desired == link.StatusTag {
		return false
	}
	switch desired {
	case "merged":
		log.Info().Str("key", link.Key.String()).Msg("merged tag applied on forum; merging is repo-side only")
	default:
		if err := gh.EditState(ctx, link.Key.Number, desired); err != nil {
			log.Error().Err(err).Str("key", link.Key.String()).Str("state", desired).Msg("state propagation failed")
			return false
		}
	}
	link.StatusTag = desired
	return true
}

func (h *Handler) statusTagNames(ctx context.Context, thread discord.Thread) map[string]bool {
	if len(thread.TagIDs) == 0 {
		return nil
	}
	tags, err := h.discord.ForumTags(ctx, thread.ForumID)
	if err != nil {
		return nil
	}
	byID := make(map[string]string, len(tags))
	for _, t := range tags {
		byID[t.ID] = strings.ToLower(t.Name)
	}
	out := map[string]bool{}
	for _, id := range thread.TagIDs {
		if name := byID[id]; reconcile.IsStatusTag(name) {
			out[name] = true
		}
	}
	return out
}

// propagateLockState mirrors a lock or unlock to the repo, but only
// on a transition from the last recorded state. Reports whether link
// was modified.
func (h *Handler) propagateLockState(ctx context.Context, gh github.Client, link *models.ThreadLink, thread discord.Thread) bool {
	if thread.Locked == link.Locked {
		return false
	}
	var err error
	if thread.Locked {
		err = gh.Lock(ctx, link.Key.Number)
	} else {
		err = gh.Unlock(ctx, link.Key.Number)
	}
	if err != nil {
		log.Warn().Err(err).Str("key", link.Key.String()).Msg("lock state propagation failed")
		return false
	}
	link.Locked = thread.Locked
	return true
}

// HandleThreadDelete closes a chat-born issue when its thread goes
// away. Repo-born entities and pull requests are left alone.
func (h *Handler) HandleThreadDelete(ctx context.Context, threadID string) {
	if h.mutating.Contains(threadID) {
		return
	}
	for _, ws := range h.cfg.Workspaces {
		repo := tracking.NewRepository(h.kv, ws.Name)
		link, err := repo.FindByThread(threadID)
		if err != nil {
			continue
		}
		if !ws.ChatToRepo {
			return
		}
		origin, err := repo.Origin(link.Key)
		if err != nil || origin.Side != models.OriginChat {
			return
		}
		if link.Key.Kind == models.KindPR {
			log.Info().Str("key", link.Key.String()).Msg("thread for pull request deleted; PRs cannot be closed from chat")
			return
		}
		if err := h.newGitHub(ws).EditState(ctx, link.Key.Number, "closed"); err != nil {
			log.Error().Err(err).Str("key", link.Key.String()).Msg("close on thread delete failed")
			return
		}
		repo.DeleteAll(link.Key)
		return
	}
}

// HandleMessageCreate mirrors a human message in a linked thread as a
// repository comment when chat-to-repo is enabled.
func (h *Handler) HandleMessageCreate(ctx context.Context, msg discord.Message) {
	if msg.Bot || h.mutating.Contains(msg.ThreadID) {
		return
	}
	ws, repo, link, ok := h.findWorkspaceByThread(msg.ThreadID)
	if !ok || !ws.ChatToRepo {
		return
	}
	gh := h.newGitHub(ws)
	body := fmt.Sprintf("*From Discord (<@%s>):*\n\n%s", msg.AuthorID, msg.Content)
	comment, err := gh.CreateComment(ctx, link.Key.Number, body)
	if err != nil {
		log.Error().Err(err).Str("key", link.Key.String()).Msg("comment propagation failed")
		return
	}
	repo.PutCommentOrigin(models.CommentOrigin{
		Key: link.Key, CommentID: comment.ID, MessageID: msg.ID, Side: models.OriginChat,
	})
}

// HandleMessageUpdate propagates an edit only when the comment was
// chat-born; mirrored repo comments tweaked by a moderator stay a
// chat-side cosmetic change.
func (h *Handler) HandleMessageUpdate(ctx context.Context, msg discord.Message) {
	if msg.Bot || h.mutating.Contains(msg.ThreadID) {
		return
	}
	ws, repo, link, ok := h.findWorkspaceByThread(msg.ThreadID)
	if !ok || !ws.ChatToRepo {
		return
	}
	co, err := repo.CommentOriginByMessage(msg.ID)
	if err != nil || co.Side != models.OriginChat || co.CommentID == "" {
		return
	}
	body := fmt.Sprintf("*From Discord (<@%s>):*\n\n%s", msg.AuthorID, msg.Content)
	if err := h.newGitHub(ws).EditComment(ctx, co.CommentID, body); err != nil {
		log.Error().Err(err).Str("key", link.Key.String()).Msg("comment edit propagation failed")
	}
}

// HandleMessageDelete deletes the mirrored repo comment for a deleted
// chat-born message.
func (h *Handler) HandleMessageDelete(ctx context.Context, threadID, messageID string) {
	if h.mutating.Contains(threadID) {
		return
	}
	ws, repo, link, ok := h.findWorkspaceByThread(threadID)
	if !ok || !ws.ChatToRepo {
		return
	}
	co, err := repo.CommentOriginByMessage(messageID)
	if err != nil || co.Side != models.OriginChat || co.CommentID == "" {
		return
	}
	if err := h.newGitHub(ws).DeleteComment(ctx, co.CommentID); err != nil {
		log.Error().Err(err).Str("key", link.Key.String()).Msg("comment delete propagation failed")
	}
}

func (h *Handler) findWorkspaceByThread(threadID string) (config.Workspace, *tracking.Repository, models.ThreadLink, bool) {
	for _, ws := range h.cfg.Workspaces {
		repo := tracking.NewRepository(h.kv, ws.Name)
		if link, err := repo.FindByThread(threadID); err == nil {
			return ws, repo, link, true
		}
	}
	return config.Workspace{}, nil, models.ThreadLink{}, false
}
