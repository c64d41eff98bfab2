package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/forumsync/internal/config"
	"github.com/forumsync/internal/discord"
	"github.com/forumsync/internal/github"
	"github.com/forumsync/internal/snapshot"
	"github.com/forumsync/internal/store"
	"github.com/forumsync/pkg/models"
)

// Service runs whole workspace cycles. One instance serves the whole
// process; workspaces synced in the same tick run concurrently, each
// under the shared host-call semaphores.
type Service struct {
	cfg      *config.Config
	kv       store.KV
	discord  discord.Client
	lim      *Limiters
	Mutating *MutatingSet

	// newGitHub builds a repository client per workspace; tests swap
	// in fakes here.
	newGitHub func(ws config.Workspace) github.Client
}

func NewService(cfg *config.Config, kv store.KV, dc discord.Client) *Service {
	return &Service{
		cfg:      cfg,
		kv:       kv,
		discord:  dc,
		lim:      NewLimiters(),
		Mutating: NewMutatingSet(),
		newGitHub: func(ws config.Workspace) github.Client {
			return github.NewHTTPClient(ws.Owner, ws.Repo, ws.Token)
		},
	}
}

// SetGitHubFactory overrides per-workspace client construction.
func (s *Service) SetGitHubFactory(f func(ws config.Workspace) github.Client) {
	s.newGitHub = f
}

func (s *Service) limits() discord.Limits {
	l := discord.DefaultLimits()
	if s.cfg.Limits.MaxTitleLen > 0 {
		l.MaxTitleLen = s.cfg.Limits.MaxTitleLen
	}
	if s.cfg.Limits.MaxMessageLen > 0 {
		l.MaxMessageLen = s.cfg.Limits.MaxMessageLen
	}
	if s.cfg.Limits.MaxEmbedLen > 0 {
		l.MaxEmbedLen = s.cfg.Limits.MaxEmbedLen
	}
	if s.cfg.Limits.MaxTagsPerThread > 0 {
		l.MaxTagsPerThread = s.cfg.Limits.MaxTagsPerThread
	}
	if s.cfg.Limits.MaxTagsPerForum > 0 {
		l.MaxTagsPerForum = s.cfg.Limits.MaxTagsPerForum
	}
	return l
}

// SyncWorkspace runs one full cycle for one workspace: snapshot,
// sweep, the five phases per forum, then snapshot save. The write
// batch commits in a defer so records for completed operations
// survive a mid-cycle failure.
func (s *Service) SyncWorkspace(ctx context.Context, ws config.Workspace) error {
	if err := config.ValidateWorkspace(ws); err != nil {
		if errors.Is(err, config.ErrNotConfigured) {
			log.Warn().Str("workspace", ws.Name).Err(err).Msg("workspace skipped")
			return nil
		}
		return err
	}

	gh := s.newGitHub(ws)
	sc := NewSyncContext(ws, gh, s.discord, s.kv, s.limits(), s.Mutating)
	defer func() {
		if err := sc.Batch.Commit(); err != nil {
			log.Error().Err(err).Str("workspace", ws.Name).Msg("state commit failed")
		}
	}()

	prev, err := sc.Tracking.Snapshot()
	if errors.Is(err, store.ErrNotFound) {
		prev = models.NewSnapshot()
	} else if err != nil {
		return fmt.Errorf("load previous snapshot: %w", err)
	}

	cur, err := snapshot.NewBuilder(gh).Build(ctx)
	if err != nil {
		// The one error that aborts a cycle: nothing usable fetched.
		return fmt.Errorf("workspace %s: %w", ws.Name, err)
	}

	swept := NewSweeper(sc, s.lim).Run(ctx, cur)
	if swept > 0 {
		log.Info().Str("workspace", ws.Name).Int("swept", swept).Msg("cleanup done")
	}

	rec := NewReconciler(sc, s.lim)
	for _, kind := range []models.Kind{models.KindIssue, models.KindPR} {
		if err := rec.Run(ctx, kind, prev, cur); err != nil {
			log.Error().Err(err).Str("workspace", ws.Name).Str("kind", string(kind)).Msg("forum reconcile failed")
		}
	}

	return sc.Tracking.PutSnapshot(rec.AdjustSnapshot(cur))
}

// SyncAll fans out over every poll-enabled workspace concurrently.
// When force is set the poll-enabled flag is ignored.
func (s *Service) SyncAll(ctx context.Context, force bool) {
	var wg sync.WaitGroup
	for _, ws := range s.cfg.Workspaces {
		if !ws.PollEnabled && !force {
			continue
		}
		wg.Add(1)
		go func(ws config.Workspace) {
			defer wg.Done()
			if err := s.SyncWorkspace(ctx, ws); err != nil {
				log.Error().Err(err).Str("workspace", ws.Name).Msg("sync cycle failed")
			}
		}(ws)
	}
	wg.Wait()
}

// RepairTags re-applies status and label tags to every tracked thread
// of a workspace, for the sync --repair-tags maintenance flag.
func (s *Service) RepairTags(ctx context.Context, ws config.Workspace) error {
	if err := config.ValidateWorkspace(ws); err != nil {
		return err
	}
	gh := s.newGitHub(ws)
	sc := NewSyncContext(ws, gh, s.discord, s.kv, s.limits(), s.Mutating)
	defer sc.Batch.Commit()

	cur, err := snapshot.NewBuilder(gh).Build(ctx)
	if err != nil {
		return err
	}
	rec := NewReconciler(sc, s.lim)
	for _, kind := range []models.Kind{models.KindIssue, models.KindPR} {
		forumID := sc.ForumFor(kind)
		if forumID == "" {
			continue
		}
		tags, err := rec.phaseTagParity(ctx, kind, forumID, cur)
		if err != nil {
			log.Warn().Err(err).Str("forum", forumID).Msg("tag parity incomplete")
			continue
		}
		// Force every thread through the status phase by clearing
		// stored state hashes first.
		for _, e := range cur.Entities(kind) {
			if err := sc.Tracking.DeleteStateHash(e.Key); err != nil {
				return err
			}
		}
		rec.phaseUpdateStatus(ctx, kind, cur, tags)
	}
	return nil
}
