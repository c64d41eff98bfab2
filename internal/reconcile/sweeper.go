package reconcile

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/forumsync/internal/store"
	"github.com/forumsync/pkg/models"
)

// closedWindow is the trailing window of the recently-closed pass,
// wider than any sane polling interval so missed cycles are covered.
const closedWindow = 7 * 24 * time.Hour

// Sweeper removes threads and tracking state for entities that left
// the open set. Two idempotent passes: recently-closed entities
// reported by the repository, then any remaining tracked link whose
// entity is absent from the current snapshot.
type Sweeper struct {
	sc  *SyncContext
	lim *Limiters
}

func NewSweeper(sc *SyncContext, lim *Limiters) *Sweeper {
	return &Sweeper{sc: sc, lim: lim}
}

// Run executes both passes against the current snapshot and returns
// how many entities were swept.
func (s *Sweeper) Run(ctx context.Context, cur *models.Snapshot) int {
	swept := s.recentlyClosedPass(ctx)
	swept += s.orphanPass(ctx, cur)
	return swept
}

func (s *Sweeper) recentlyClosedPass(ctx context.Context) int {
	closed, err := s.sc.GitHub.FetchClosedSince(ctx, time.Now().Add(-closedWindow))
	if err != nil {
		log.Warn().Err(err).Msg("recently-closed fetch failed, pass skipped")
		return 0
	}
	var keys []models.EntityKey
	for _, e := range closed {
		if _, err := s.sc.Tracking.ThreadLink(e.Key); err == nil {
			keys = append(keys, e.Key)
		}
	}
	if len(keys) == 0 {
		return 0
	}
	return runBatches(ctx, s.lim.Chat, "sweep-closed", keys, func(ctx context.Context, k models.EntityKey) error {
		return s.removeEntity(ctx, k)
	})
}

// orphanPass catches closures outside the trailing window, e.g. while
// the process was down. A partial snapshot disables it: absence from
// an incomplete open set proves nothing.
func (s *Sweeper) orphanPass(ctx context.Context, cur *models.Snapshot) int {
	if cur.Meta.Partial {
		log.Warn().Msg("snapshot partial, orphan pass skipped")
		return 0
	}
	links, err := s.sc.Tracking.ThreadLinks()
	if err != nil {
		log.Warn().Err(err).Msg("thread link listing failed, orphan pass skipped")
		return 0
	}
	var keys []models.EntityKey
	for _, l := range links {
		if _, open := cur.Get(l.Key); !open {
			keys = append(keys, l.Key)
		}
	}
	if len(keys) == 0 {
		return 0
	}
	return runBatches(ctx, s.lim.Chat, "sweep-orphans", keys, func(ctx context.Context, k models.EntityKey) error {
		return s.removeEntity(ctx, k)
	})
}

// removeEntity deletes the forum thread and every tracking record. An
// already-deleted thread is fine; the records still go.
func (s *Sweeper) removeEntity(ctx context.Context, key models.EntityKey) error {
	link, err := s.sc.Tracking.ThreadLink(key)
	if errors.Is(err, store.ErrNotFound) {
		return s.sc.Tracking.DeleteAll(key)
	}
	if err != nil {
		return err
	}
	s.sc.Mutating.Add(link.ThreadID)
	defer s.sc.Mutating.Remove(link.ThreadID)

	if err := s.sc.Discord.DeleteThread(ctx, link.ThreadID); err != nil && !isNotFound(err) {
		return err
	}
	log.Info().Str("key", key.String()).Str("thread", link.ThreadID).Msg("closed entity swept")
	return s.sc.Tracking.DeleteAll(key)
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "404")
}
