// Package tracking persists the per-entity records that make sync
// cycles idempotent: thread links, content and state digests, message
// maps, and origin markers.
package tracking

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/forumsync/internal/store"
	"github.com/forumsync/pkg/models"
)

const (
	nsThreadLinks    = "thread_links"
	nsContentHashes  = "content_hashes"
	nsStateHashes    = "state_hashes"
	nsMessages       = "messages"
	nsOrigins        = "origins"
	nsCommentOrigins = "comment_origins"
	nsSnapshots      = "snapshots"
)

// Repository is the typed layer over the raw KV. When constructed
// over a store.Batch, all writes are deferred to the batch commit.
type Repository struct {
	kv store.KV
	// workspace scopes every key, so several forum pairs can share
	// one database.
	workspace string
}

func NewRepository(kv store.KV, workspace string) *Repository {
	return &Repository{kv: kv, workspace: workspace}
}

func (r *Repository) key(ns string, key models.EntityKey) string {
	return fmt.Sprintf("%s/%s/%s", ns, r.workspace, key)
}

func (r *Repository) getJSON(k string, out any) error {
	raw, err := r.kv.Get(k)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (r *Repository) setJSON(k string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.kv.Set(k, raw)
}

func (r *Repository) ThreadLink(key models.EntityKey) (models.ThreadLink, error) {
	var tl models.ThreadLink
	err := r.getJSON(r.key(nsThreadLinks, key), &tl)
	return tl, err
}

func (r *Repository) PutThreadLink(tl models.ThreadLink) error {
	return r.setJSON(r.key(nsThreadLinks, tl.Key), tl)
}

// ThreadLinks returns every stored link for the workspace.
func (r *Repository) ThreadLinks() ([]models.ThreadLink, error) {
	raw, err := r.kv.List(nsThreadLinks + "/" + r.workspace + "/")
	if err != nil {
		return nil, err
	}
	out := make([]models.ThreadLink, 0, len(raw))
	for _, v := range raw {
		var tl models.ThreadLink
		if err := json.Unmarshal(v, &tl); err != nil {
			return nil, err
		}
		out = append(out, tl)
	}
	return out, nil
}

// FindByThread resolves a thread back to its entity link. Inbound
// events arrive with thread ids, not entity keys, so this scans the
// workspace's links.
func (r *Repository) FindByThread(threadID string) (models.ThreadLink, error) {
	links, err := r.ThreadLinks()
	if err != nil {
		return models.ThreadLink{}, err
	}
	for _, l := range links {
		if l.ThreadID == threadID {
			return l, nil
		}
	}
	return models.ThreadLink{}, store.ErrNotFound
}

func (r *Repository) ContentHash(key models.EntityKey) (models.ContentHash, error) {
	var ch models.ContentHash
	err := r.getJSON(r.key(nsContentHashes, key), &ch)
	return ch, err
}

func (r *Repository) PutContentHash(key models.EntityKey, ch models.ContentHash) error {
	return r.setJSON(r.key(nsContentHashes, key), ch)
}

func (r *Repository) StateHash(key models.EntityKey) (models.StateHash, error) {
	var sh models.StateHash
	err := r.getJSON(r.key(nsStateHashes, key), &sh)
	return sh, err
}

func (r *Repository) PutStateHash(key models.EntityKey, sh models.StateHash) error {
	return r.setJSON(r.key(nsStateHashes, key), sh)
}

func (r *Repository) DeleteStateHash(key models.EntityKey) error {
	return r.kv.Delete(r.key(nsStateHashes, key))
}

func (r *Repository) Messages(key models.EntityKey) (models.MessageTracking, error) {
	var mt models.MessageTracking
	err := r.getJSON(r.key(nsMessages, key), &mt)
	return mt, err
}

func (r *Repository) PutMessages(key models.EntityKey, mt models.MessageTracking) error {
	return r.setJSON(r.key(nsMessages, key), mt)
}

func (r *Repository) Origin(key models.EntityKey) (models.Origin, error) {
	var o models.Origin
	err := r.getJSON(r.key(nsOrigins, key), &o)
	return o, err
}

// PutOrigin records which side created an entity. The record is
// write-once: a second call for the same key is a silent no-op, so
// later cycles can never flip an origin.
func (r *Repository) PutOrigin(o models.Origin) error {
	k := r.key(nsOrigins, o.Key)
	var existing models.Origin
	err := r.getJSON(k, &existing)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	return r.setJSON(k, o)
}

func (r *Repository) commentOriginKey(messageID string) string {
	return fmt.Sprintf("%s/%s/%s", nsCommentOrigins, r.workspace, messageID)
}

func (r *Repository) PutCommentOrigin(co models.CommentOrigin) error {
	k := r.commentOriginKey(co.MessageID)
	var existing models.CommentOrigin
	if err := r.getJSON(k, &existing); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return r.setJSON(k, co)
}

// CommentOriginByMessage resolves the origin of the comment rendered
// by a chat message, if any is tracked.
func (r *Repository) CommentOriginByMessage(messageID string) (models.CommentOrigin, error) {
	var co models.CommentOrigin
	err := r.getJSON(r.commentOriginKey(messageID), &co)
	return co, err
}

// Snapshot round-trips the previous cycle's snapshot so closure
// detection survives restarts.
func (r *Repository) Snapshot() (*models.Snapshot, error) {
	snap := models.NewSnapshot()
	err := r.getJSON(nsSnapshots+"/"+r.workspace, snap)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (r *Repository) PutSnapshot(snap *models.Snapshot) error {
	return r.setJSON(nsSnapshots+"/"+r.workspace, snap)
}

// DeleteAll removes every record for one entity, comment origins
// included. Used by the cleanup sweeper after a thread is archived or
// found orphaned; no tracking record may outlive the thread link.
func (r *Repository) DeleteAll(key models.EntityKey) error {
	for _, ns := range []string{nsThreadLinks, nsContentHashes, nsStateHashes, nsMessages, nsOrigins} {
		if err := r.kv.Delete(r.key(ns, key)); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	// Comment origins are keyed by message id, so matching ones are
	// found by scanning the workspace's namespace.
	entries, err := r.kv.List(nsCommentOrigins + "/" + r.workspace + "/")
	if err != nil {
		return err
	}
	for k, v := range entries {
		var co models.CommentOrigin
		if err := json.Unmarshal(v, &co); err != nil || co.Key != key {
			continue
		}
		if err := r.kv.Delete(k); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	return nil
}

// Clear wipes a whole namespace for the workspace ("hashes" clears
// both digest namespaces). Backing the sync --clear flag.
func (r *Repository) Clear(what string) error {
	var prefixes []string
	switch what {
	case "snapshot":
		prefixes = []string{nsSnapshots + "/" + r.workspace}
	case "hashes":
		prefixes = []string{
			nsContentHashes + "/" + r.workspace + "/",
			nsStateHashes + "/" + r.workspace + "/",
		}
	case "all":
		for _, ns := range []string{nsThreadLinks, nsContentHashes, nsStateHashes, nsMessages, nsOrigins, nsCommentOrigins} {
			prefixes = append(prefixes, ns+"/"+r.workspace+"/")
		}
		prefixes = append(prefixes, nsSnapshots+"/"+r.workspace)
	default:
		return fmt.Errorf("tracking: unknown clear target %q", what)
	}
	for _, p := range prefixes {
		keys, err := r.kv.List(p)
		if err != nil {
			return err
		}
		for k := range keys {
			if err := r.kv.Delete(k); err != nil {
				return err
			}
		}
	}
	return nil
}
