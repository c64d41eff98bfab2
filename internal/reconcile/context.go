package reconcile

import (
	"sync"

	"github.com/forumsync/internal/config"
	"github.com/forumsync/internal/discord"
	"github.com/forumsync/internal/github"
	"github.com/forumsync/internal/store"
	"github.com/forumsync/internal/tracking"
	"github.com/forumsync/pkg/models"
)

// MutatingSet records thread ids the bot is currently mutating, so
// the inbound handlers can recognize the resulting platform events as
// echoes of our own writes and drop them. It outlives cycles because
// gateway events arrive on their own goroutine.
type MutatingSet struct {
	mu sync.Mutex
	m  map[string]int
}

func NewMutatingSet() *MutatingSet {
	return &MutatingSet{m: make(map[string]int)}
}

// Add marks a thread as bot-mutated. Counted, since concurrent batch
// items may touch the same thread.
func (s *MutatingSet) Add(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[threadID]++
}

func (s *MutatingSet) Remove(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m[threadID] <= 1 {
		delete(s.m, threadID)
	} else {
		s.m[threadID]--
	}
}

func (s *MutatingSet) Contains(threadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[threadID] > 0
}

// SyncContext carries everything one workspace cycle needs: the two
// host clients, the tracking repository over the open write batch,
// and the shared bot-mutating set.
type SyncContext struct {
	Workspace config.Workspace
	GitHub    github.Client
	Discord   discord.Client
	Tracking  *tracking.Repository
	Batch     *store.Batch
	Limits    discord.Limits
	Mutating  *MutatingSet
}

// NewSyncContext opens a write batch over kv and builds the tracking
// repository on top of it. The caller commits the batch in a defer so
// partial progress persists even when the cycle errors.
func NewSyncContext(ws config.Workspace, gh github.Client, dc discord.Client, kv store.KV, limits discord.Limits, mutating *MutatingSet) *SyncContext {
	batch := store.NewBatch(kv)
	return &SyncContext{
		Workspace: ws,
		GitHub:    gh,
		Discord:   dc,
		Tracking:  tracking.NewRepository(batch, ws.Name),
		Batch:     batch,
		Limits:    limits,
		Mutating:  mutating,
	}
}

// ForumFor maps an entity kind to the workspace's forum channel. The
// empty string means the kind is not mirrored for this workspace.
func (sc *SyncContext) ForumFor(kind models.Kind) string {
	if kind == models.KindPR {
		return sc.Workspace.PRsForumID
	}
	return sc.Workspace.IssuesForumID
}
