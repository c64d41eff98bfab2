package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind distinguishes the two mirrored entity families.
type Kind string

const (
	KindIssue Kind = "issue"
	KindPR    Kind = "pr"
)

// EntityKey is the stable identity of a mirrored entity. Threads are
// always resolved through this key, never the other way around.
type EntityKey struct {
	Kind   Kind `json:"kind"`
	Number int  `json:"number"`
}

func (k EntityKey) String() string {
	return fmt.Sprintf("%s-%d", k.Kind, k.Number)
}

// MarshalText lets EntityKey serve as a JSON map key, which snapshot
// persistence depends on.
func (k EntityKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *EntityKey) UnmarshalText(text []byte) error {
	kind, num, ok := strings.Cut(string(text), "-")
	if !ok {
		return fmt.Errorf("malformed entity key %q", text)
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return fmt.Errorf("malformed entity key %q: %w", text, err)
	}
	switch Kind(kind) {
	case KindIssue, KindPR:
	default:
		return fmt.Errorf("unknown entity kind %q", kind)
	}
	k.Kind = Kind(kind)
	k.Number = n
	return nil
}

// CommentType tells apart plain comments from review-derived ones so
// the forum rendering can label them.
type CommentType string

const (
	CommentPlain         CommentType = "comment"
	CommentReview        CommentType = "review"
	CommentReviewComment CommentType = "review_comment"
)

// Comment is a single repo-side comment on an issue or pull request.
type Comment struct {
	ID        string      `json:"id"`
	Author    string      `json:"author"`
	Body      string      `json:"body"`
	Type      CommentType `json:"type"`
	State     string      `json:"state,omitempty"` // review verdict, e.g. APPROVED
	Path      string      `json:"path,omitempty"`  // file path for review comments
	URL       string      `json:"url,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Entity is one open issue or pull request as fetched in a snapshot.
type Entity struct {
	Key       EntityKey `json:"key"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Author    string    `json:"author"`
	URL       string    `json:"url"`
	Labels    []string  `json:"labels,omitempty"`
	Assignees []string  `json:"assignees,omitempty"`
	Milestone string    `json:"milestone,omitempty"`
	State     string    `json:"state"` // open, closed, merged
	Comments  []Comment `json:"comments,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Pull request only.
	Draft      bool   `json:"draft,omitempty"`
	BaseRef    string `json:"base_ref,omitempty"`
	HeadRef    string `json:"head_ref,omitempty"`
	Additions  int    `json:"additions,omitempty"`
	Deletions  int    `json:"deletions,omitempty"`
	FilesCount int    `json:"files_count,omitempty"`

	// CommentsTruncated marks an entity whose nested comment page was
	// capped by the fetch. Comment sync is skipped for it this cycle.
	CommentsTruncated bool `json:"comments_truncated,omitempty"`
}

// FetchMetadata records how complete a snapshot fetch was.
type FetchMetadata struct {
	IssuePagesFetched int       `json:"issue_pages_fetched"`
	PRPagesFetched    int       `json:"pr_pages_fetched"`
	Partial           bool      `json:"partial"`
	FetchedAt         time.Time `json:"fetched_at"`
}

// Snapshot is an immutable view of every open entity at one instant.
// An entity present in the previous snapshot but absent here has been
// closed (or merged) since.
type Snapshot struct {
	Items map[EntityKey]Entity `json:"items"`
	Meta  FetchMetadata        `json:"meta"`
}

func NewSnapshot() *Snapshot {
	return &Snapshot{Items: make(map[EntityKey]Entity)}
}

// Get returns the entity for key, if present.
func (s *Snapshot) Get(key EntityKey) (Entity, bool) {
	e, ok := s.Items[key]
	return e, ok
}

// Entities returns all entities of one kind, in unspecified order.
func (s *Snapshot) Entities(kind Kind) []Entity {
	var out []Entity
	for k, e := range s.Items {
		if k.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Keys returns the identity set of the snapshot.
func (s *Snapshot) Keys() map[EntityKey]struct{} {
	out := make(map[EntityKey]struct{}, len(s.Items))
	for k := range s.Items {
		out[k] = struct{}{}
	}
	return out
}

// ThreadLink binds an entity to the forum thread that mirrors it.
// Locked and StatusTag hold the last state this process applied or
// observed, so inbound thread updates propagate only real transitions.
type ThreadLink struct {
	Key       EntityKey `json:"key"`
	ThreadID  string    `json:"thread_id"`
	ForumID   string    `json:"forum_id"`
	Locked    bool      `json:"locked,omitempty"`
	StatusTag string    `json:"status_tag,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ContentHash stores the last-synced digests for change detection.
// CommentHashes is keyed by comment ID.
type ContentHash struct {
	TitleHash     string            `json:"title_hash"`
	BodyHash      string            `json:"body_hash"`
	CommentHashes map[string]string `json:"comment_hashes,omitempty"`
}

// StateHash is the digest of the fields that drive status tags.
type StateHash struct {
	Hash      string    `json:"hash"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageTracking maps repo-side content to the chat messages that
// render it, so edits land on the right message instead of appending.
type MessageTracking struct {
	ThreadID          string            `json:"thread_id"`
	SummaryMessageID  string            `json:"summary_message_id,omitempty"`
	CommentMessageIDs map[string]string `json:"comment_message_ids,omitempty"`
}

// OriginSide says which side authored a piece of content first.
type OriginSide string

const (
	OriginRepo OriginSide = "repo"
	OriginChat OriginSide = "chat"
)

// Origin records where an entity was born. Written once at creation
// and never overwritten; it is what breaks propagation loops.
type Origin struct {
	Key       EntityKey  `json:"key"`
	Side      OriginSide `json:"side"`
	CreatedAt time.Time  `json:"created_at"`
}

// CommentOrigin records the authoring side of a single comment,
// keyed by the chat message that carries it.
type CommentOrigin struct {
	Key       EntityKey  `json:"key"`
	CommentID string     `json:"comment_id,omitempty"`
	MessageID string     `json:"message_id"`
	Side      OriginSide `json:"side"`
}
