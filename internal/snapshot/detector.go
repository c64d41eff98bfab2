package snapshot

import (
	"errors"
	"sort"

	"github.com/forumsync/internal/hashing"
	"github.com/forumsync/internal/store"
	"github.com/forumsync/internal/tracking"
	"github.com/forumsync/pkg/models"
)

// The detector is two-tier: cheap in-memory pre-screens over the two
// snapshots first, then hash confirmation against stored records for
// the entities that passed. The pre-screen may report false positives
// (an updatedAt bump with no semantic change) but never a false
// negative, so skipping an entity it clears is always safe.

// ContentChanged is the pre-screen for title or body drift.
func ContentChanged(cur models.Entity, prev *models.Entity) bool {
	if prev == nil {
		return true
	}
	return cur.Title != prev.Title || cur.Body != prev.Body || !cur.UpdatedAt.Equal(prev.UpdatedAt)
}

// CommentsChanged is the pre-screen for comment drift.
func CommentsChanged(cur models.Entity, prev *models.Entity) bool {
	if prev == nil {
		return len(cur.Comments) > 0
	}
	if len(cur.Comments) != len(prev.Comments) {
		return true
	}
	prevIDs := make(map[string]string, len(prev.Comments))
	for _, c := range prev.Comments {
		prevIDs[c.ID] = hashing.Comment(c.Author, c.Body)
	}
	for _, c := range cur.Comments {
		h, ok := prevIDs[c.ID]
		if !ok || h != hashing.Comment(c.Author, c.Body) {
			return true
		}
	}
	return false
}

// StateChanged is the pre-screen for status drift.
func StateChanged(cur models.Entity, prev *models.Entity) bool {
	if prev == nil {
		return true
	}
	return StateDigest(cur) != StateDigest(*prev)
}

// ContentDigest computes the entity's current title+body digest.
func ContentDigest(e models.Entity) (titleHash, bodyHash string) {
	return hashing.Sum(e.Title), hashing.Sum(e.Body)
}

// StateDigest computes the entity's status digest over state, draft
// flag, and sorted labels.
func StateDigest(e models.Entity) string {
	labels := append([]string(nil), e.Labels...)
	sort.Strings(labels)
	return hashing.State(e.State, e.Draft, labels)
}

// ConfirmContentChanged checks the stored ContentHash record. A
// missing record counts as changed.
func ConfirmContentChanged(repo *tracking.Repository, e models.Entity) (bool, error) {
	stored, err := repo.ContentHash(e.Key)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	titleHash, bodyHash := ContentDigest(e)
	return stored.TitleHash != titleHash || stored.BodyHash != bodyHash, nil
}

// ConfirmStateChanged checks the stored StateHash record.
func ConfirmStateChanged(repo *tracking.Repository, e models.Entity) (bool, error) {
	stored, err := repo.StateHash(e.Key)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return stored.Hash != StateDigest(e), nil
}

// UnsyncedComments returns the comments whose stored hash is absent
// or stale, in creation order. Only successfully posted comments get
// their hash written, so failures are retried next cycle.
func UnsyncedComments(repo *tracking.Repository, e models.Entity) ([]models.Comment, error) {
	stored, err := repo.ContentHash(e.Key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	var out []models.Comment
	for _, c := range e.Comments {
		h := hashing.Comment(c.Author, c.Body)
		if stored.CommentHashes[c.ID] != h {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
