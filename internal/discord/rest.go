package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/forumsync/internal/retry"
)

const apiBase = "https://discord.com/api/v10"

// RESTClient talks to the Discord HTTP API. Requests are paced at
// 5/s client-side and retried once honoring retry_after on 429.
type RESTClient struct {
	token   string
	guildID string
	http    *http.Client
	limiter *rate.Limiter
}

func NewRESTClient(token, guildID string) *RESTClient {
	return &RESTClient{
		token:   token,
		guildID: guildID,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Second/5), 5),
	}
}

func (c *RESTClient) do(ctx context.Context, method, path string, payload any, out any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}
	return retry.Do(ctx, retry.HostCallConfig(), method+" "+path, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, method, apiBase+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bot "+c.token)
		req.Header.Set("User-Agent", "forumsync")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if err := checkStatus(resp); err != nil {
			return err
		}
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
}

// checkStatus maps 429 responses to RateLimitError using the JSON
// retry_after field (seconds, fractional).
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode == http.StatusTooManyRequests {
		var rl struct {
			RetryAfter float64 `json:"retry_after"`
		}
		if err := json.Unmarshal(raw, &rl); err == nil && rl.RetryAfter > 0 {
			return &retry.RateLimitError{RetryAfter: time.Duration(rl.RetryAfter * float64(time.Second))}
		}
		return &retry.RateLimitError{RetryAfter: 5 * time.Second}
	}
	return fmt.Errorf("discord api status %d: %s", resp.StatusCode, string(raw))
}

type restChannel struct {
	ID            string    `json:"id"`
	ParentID      string    `json:"parent_id"`
	Name          string    `json:"name"`
	AppliedTags   []string  `json:"applied_tags"`
	AvailableTags []restTag `json:"available_tags"`
	ThreadMeta    *struct {
		Archived bool `json:"archived"`
		Locked   bool `json:"locked"`
	} `json:"thread_metadata"`
}

type restTag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (ch restChannel) toThread() Thread {
	t := Thread{ID: ch.ID, ForumID: ch.ParentID, Name: ch.Name, TagIDs: ch.AppliedTags}
	if ch.ThreadMeta != nil {
		t.Archived = ch.ThreadMeta.Archived
		t.Locked = ch.ThreadMeta.Locked
	}
	return t
}

func (c *RESTClient) CreateThread(ctx context.Context, forumID, title, body string, tagIDs []string) (Thread, error) {
	payload := map[string]any{
		"name":    title,
		"message": map[string]any{"content": body},
	}
	if len(tagIDs) > 0 {
		payload["applied_tags"] = tagIDs
	}
	var ch restChannel
	if err := c.do(ctx, http.MethodPost, "/channels/"+forumID+"/threads", payload, &ch); err != nil {
		return Thread{}, fmt.Errorf("create thread in %s: %w", forumID, err)
	}
	return ch.toThread(), nil
}

func (c *RESTClient) EditThread(ctx context.Context, threadID string, edit ThreadEdit) error {
	payload := map[string]any{}
	if edit.Name != nil {
		payload["name"] = *edit.Name
	}
	if edit.Archived != nil {
		payload["archived"] = *edit.Archived
	}
	if edit.Locked != nil {
		payload["locked"] = *edit.Locked
	}
	if edit.TagIDs != nil {
		payload["applied_tags"] = *edit.TagIDs
	}
	if len(payload) == 0 {
		return nil
	}
	if err := c.do(ctx, http.MethodPatch, "/channels/"+threadID, payload, nil); err != nil {
		return fmt.Errorf("edit thread %s: %w", threadID, err)
	}
	return nil
}

func (c *RESTClient) DeleteThread(ctx context.Context, threadID string) error {
	if err := c.do(ctx, http.MethodDelete, "/channels/"+threadID, nil, nil); err != nil {
		return fmt.Errorf("delete thread %s: %w", threadID, err)
	}
	return nil
}

// ListThreads returns the forum's threads, active and archived, for
// orphan repair. Active threads come from the guild-wide listing
// filtered by parent.
func (c *RESTClient) ListThreads(ctx context.Context, forumID string) ([]Thread, error) {
	var active struct {
		Threads []restChannel `json:"threads"`
	}
	if err := c.do(ctx, http.MethodGet, "/guilds/"+c.guildID+"/threads/active", nil, &active); err != nil {
		return nil, fmt.Errorf("list active threads: %w", err)
	}
	var out []Thread
	for _, ch := range active.Threads {
		if ch.ParentID == forumID {
			out = append(out, ch.toThread())
		}
	}

	var archived struct {
		Threads []restChannel `json:"threads"`
	}
	if err := c.do(ctx, http.MethodGet, "/channels/"+forumID+"/threads/archived/public?limit=100", nil, &archived); err != nil {
		return nil, fmt.Errorf("list archived threads: %w", err)
	}
	for _, ch := range archived.Threads {
		out = append(out, ch.toThread())
	}
	return out, nil
}

type restMessage struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	Author    struct {
		ID  string `json:"id"`
		Bot bool   `json:"bot"`
	} `json:"author"`
}

func (m restMessage) toMessage() Message {
	return Message{ID: m.ID, ThreadID: m.ChannelID, Content: m.Content, AuthorID: m.Author.ID, Bot: m.Author.Bot}
}

func (c *RESTClient) SendMessage(ctx context.Context, threadID, content string, embed *Embed) (Message, error) {
	payload := map[string]any{}
	if content != "" {
		payload["content"] = content
	}
	if embed != nil {
		payload["embeds"] = []map[string]any{embedPayload(embed)}
	}
	var msg restMessage
	if err := c.do(ctx, http.MethodPost, "/channels/"+threadID+"/messages", payload, &msg); err != nil {
		return Message{}, fmt.Errorf("send message to %s: %w", threadID, err)
	}
	return msg.toMessage(), nil
}

func (c *RESTClient) EditMessage(ctx context.Context, threadID, messageID, content string, embed *Embed) error {
	payload := map[string]any{}
	if content != "" {
		payload["content"] = content
	}
	if embed != nil {
		payload["embeds"] = []map[string]any{embedPayload(embed)}
	}
	path := "/channels/" + threadID + "/messages/" + messageID
	if err := c.do(ctx, http.MethodPatch, path, payload, nil); err != nil {
		return fmt.Errorf("edit message %s: %w", messageID, err)
	}
	return nil
}

// FirstMessage fetches a forum post's starter message, which shares
// the thread's ID.
func (c *RESTClient) FirstMessage(ctx context.Context, threadID string) (Message, error) {
	var msg restMessage
	path := "/channels/" + threadID + "/messages/" + threadID
	if err := c.do(ctx, http.MethodGet, path, nil, &msg); err != nil {
		return Message{}, fmt.Errorf("fetch starter message of %s: %w", threadID, err)
	}
	return msg.toMessage(), nil
}

func (c *RESTClient) ForumTags(ctx context.Context, forumID string) ([]Tag, error) {
	var ch restChannel
	if err := c.do(ctx, http.MethodGet, "/channels/"+forumID, nil, &ch); err != nil {
		return nil, fmt.Errorf("fetch forum %s: %w", forumID, err)
	}
	out := make([]Tag, 0, len(ch.AvailableTags))
	for _, t := range ch.AvailableTags {
		out = append(out, Tag{ID: t.ID, Name: t.Name})
	}
	return out, nil
}

// CreateTag adds a tag to the forum's available set. Tags are created
// by rewriting the channel's available_tags list.
func (c *RESTClient) CreateTag(ctx context.Context, forumID, name string) (Tag, error) {
	var ch restChannel
	if err := c.do(ctx, http.MethodGet, "/channels/"+forumID, nil, &ch); err != nil {
		return Tag{}, fmt.Errorf("fetch forum %s: %w", forumID, err)
	}
	tags := make([]map[string]any, 0, len(ch.AvailableTags)+1)
	for _, t := range ch.AvailableTags {
		if t.Name == name {
			return Tag{ID: t.ID, Name: t.Name}, nil
		}
		tags = append(tags, map[string]any{"id": t.ID, "name": t.Name})
	}
	tags = append(tags, map[string]any{"name": name})

	var updated restChannel
	err := c.do(ctx, http.MethodPatch, "/channels/"+forumID, map[string]any{"available_tags": tags}, &updated)
	if err != nil {
		return Tag{}, fmt.Errorf("create tag %q in %s: %w", name, forumID, err)
	}
	for _, t := range updated.AvailableTags {
		if t.Name == name {
			return Tag{ID: t.ID, Name: t.Name}, nil
		}
	}
	return Tag{}, fmt.Errorf("tag %q missing after create in %s", name, forumID)
}

func embedPayload(e *Embed) map[string]any {
	out := map[string]any{}
	if e.Title != "" {
		out["title"] = e.Title
	}
	if e.Description != "" {
		out["description"] = e.Description
	}
	if e.URL != "" {
		out["url"] = e.URL
	}
	if e.Color != 0 {
		out["color"] = e.Color
	}
	if e.Footer != "" {
		out["footer"] = map[string]any{"text": e.Footer}
	}
	return out
}
