// Package discord implements the forum host side of the sync: a REST
// v10 client for thread and message operations, a gateway listener
// for inbound events, and the platform limits the reconciler obeys.
package discord

import "context"

// Limits are the platform constraints rendering must respect. They
// are configuration, not business logic; the formatter takes them as
// input so a platform change or a test can tighten them.
type Limits struct {
	MaxTitleLen      int `json:"max_title_len"`
	MaxMessageLen    int `json:"max_message_len"`
	MaxEmbedLen      int `json:"max_embed_len"`
	MaxTagsPerThread int `json:"max_tags_per_thread"`
	MaxTagsPerForum  int `json:"max_tags_per_forum"`
}

// DefaultLimits mirrors the platform values current as of API v10.
func DefaultLimits() Limits {
	return Limits{
		MaxTitleLen:      100,
		MaxMessageLen:    2000,
		MaxEmbedLen:      4096,
		MaxTagsPerThread: 5,
		MaxTagsPerForum:  20,
	}
}

// Tag is a forum tag available for threads.
type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Thread is a forum post.
type Thread struct {
	ID       string   `json:"id"`
	ForumID  string   `json:"forum_id"`
	Name     string   `json:"name"`
	TagIDs   []string `json:"tag_ids,omitempty"`
	Archived bool     `json:"archived"`
	Locked   bool     `json:"locked"`
}

// Message is a message inside a thread.
type Message struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	Content  string `json:"content"`
	AuthorID string `json:"author_id,omitempty"`
	Bot      bool   `json:"bot,omitempty"`
}

// Embed is the rich rendering used for mirrored comments. Only the
// fields the sync writes are modeled.
type Embed struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	Color       int    `json:"color,omitempty"`
	Footer      string `json:"footer,omitempty"`
}

// ThreadEdit carries the optional fields of an edit. Nil means leave
// the field alone.
type ThreadEdit struct {
	Name     *string
	Archived *bool
	Locked   *bool
	TagIDs   *[]string
}

// Client is the forum host capability the reconciler consumes.
type Client interface {
	CreateThread(ctx context.Context, forumID, title, body string, tagIDs []string) (Thread, error)
	EditThread(ctx context.Context, threadID string, edit ThreadEdit) error
	DeleteThread(ctx context.Context, threadID string) error
	ListThreads(ctx context.Context, forumID string) ([]Thread, error)

	SendMessage(ctx context.Context, threadID, content string, embed *Embed) (Message, error)
	EditMessage(ctx context.Context, threadID, messageID, content string, embed *Embed) error
	FirstMessage(ctx context.Context, threadID string) (Message, error)

	ForumTags(ctx context.Context, forumID string) ([]Tag, error)
	CreateTag(ctx context.Context, forumID, name string) (Tag, error)
}
