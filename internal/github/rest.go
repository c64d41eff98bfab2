package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/forumsync/internal/retry"
	"github.com/forumsync/pkg/models"
)

// Mutations go through the REST v3 API. Each call is paced by the
// shared limiter and retried once on transient failure.

func (c *HTTPClient) restURL(parts ...string) string {
	return restEndpoint + "/repos/" + c.owner + "/" + c.repo + "/" + strings.Join(parts, "/")
}

func (c *HTTPClient) do(ctx context.Context, method, url string, payload any, out any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}
	return retry.Do(ctx, retry.HostCallConfig(), method+" "+url, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "token "+c.token)
		req.Header.Set("Accept", "application/vnd.github.v3+json")
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

type restIssue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	HTMLURL   string    `json:"html_url"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	User      struct {
		Login string `json:"login"`
	} `json:"user"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	PullRequest *struct{} `json:"pull_request"`
}

func (i restIssue) toEntity() models.Entity {
	kind := models.KindIssue
	if i.PullRequest != nil {
		kind = models.KindPR
	}
	e := models.Entity{
		Key:       models.EntityKey{Kind: kind, Number: i.Number},
		Title:     i.Title,
		Body:      i.Body,
		Author:    i.User.Login,
		URL:       i.HTMLURL,
		State:     i.State,
		CreatedAt: i.CreatedAt,
		UpdatedAt: i.UpdatedAt,
	}
	for _, l := range i.Labels {
		e.Labels = append(e.Labels, l.Name)
	}
	return e
}

func (c *HTTPClient) CreateIssue(ctx context.Context, title, body string, labels []string) (models.Entity, error) {
	payload := map[string]any{"title": title, "body": body}
	if len(labels) > 0 {
		payload["labels"] = labels
	}
	var out restIssue
	if err := c.do(ctx, http.MethodPost, c.restURL("issues"), payload, &out); err != nil {
		return models.Entity{}, fmt.Errorf("create issue: %w", err)
	}
	return out.toEntity(), nil
}

// CreateLabel adds a repository label. An already-exists response is
// treated as success.
func (c *HTTPClient) CreateLabel(ctx context.Context, name string) error {
	url := c.restURL("labels")
	err := c.do(ctx, http.MethodPost, url, map[string]any{"name": name, "color": "ededed"}, nil)
	if err != nil && strings.Contains(err.Error(), "422") {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create label %q: %w", name, err)
	}
	return nil
}

func (c *HTTPClient) EditIssue(ctx context.Context, number int, title, body string) error {
	payload := map[string]any{}
	if title != "" {
		payload["title"] = title
	}
	if body != "" {
		payload["body"] = body
	}
	if len(payload) == 0 {
		return nil
	}
	url := c.restURL("issues", fmt.Sprint(number))
	if err := c.do(ctx, http.MethodPatch, url, payload, nil); err != nil {
		return fmt.Errorf("edit issue #%d: %w", number, err)
	}
	return nil
}

func (c *HTTPClient) EditState(ctx context.Context, number int, state string) error {
	url := c.restURL("issues", fmt.Sprint(number))
	if err := c.do(ctx, http.MethodPatch, url, map[string]any{"state": state}, nil); err != nil {
		return fmt.Errorf("set state of #%d: %w", number, err)
	}
	return nil
}

func (c *HTTPClient) SetLabels(ctx context.Context, number int, labels []string) error {
	url := c.restURL("issues", fmt.Sprint(number), "labels")
	if err := c.do(ctx, http.MethodPut, url, map[string]any{"labels": labels}, nil); err != nil {
		return fmt.Errorf("set labels of #%d: %w", number, err)
	}
	return nil
}

type restComment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	HTMLURL   string    `json:"html_url"`
	CreatedAt time.Time `json:"created_at"`
	User      struct {
		Login string `json:"login"`
	} `json:"user"`
}

func (c *HTTPClient) CreateComment(ctx context.Context, number int, body string) (models.Comment, error) {
	url := c.restURL("issues", fmt.Sprint(number), "comments")
	var out restComment
	if err := c.do(ctx, http.MethodPost, url, map[string]any{"body": body}, &out); err != nil {
		return models.Comment{}, fmt.Errorf("comment on #%d: %w", number, err)
	}
	return models.Comment{
		ID:        fmt.Sprint(out.ID),
		Author:    out.User.Login,
		Body:      out.Body,
		Type:      models.CommentPlain,
		URL:       out.HTMLURL,
		CreatedAt: out.CreatedAt,
	}, nil
}

func (c *HTTPClient) EditComment(ctx context.Context, commentID string, body string) error {
	url := c.restURL("issues", "comments", commentID)
	if err := c.do(ctx, http.MethodPatch, url, map[string]any{"body": body}, nil); err != nil {
		return fmt.Errorf("edit comment %s: %w", commentID, err)
	}
	return nil
}

func (c *HTTPClient) DeleteComment(ctx context.Context, commentID string) error {
	url := c.restURL("issues", "comments", commentID)
	if err := c.do(ctx, http.MethodDelete, url, nil, nil); err != nil {
		return fmt.Errorf("delete comment %s: %w", commentID, err)
	}
	return nil
}

func (c *HTTPClient) Lock(ctx context.Context, number int) error {
	url := c.restURL("issues", fmt.Sprint(number), "lock")
	if err := c.do(ctx, http.MethodPut, url, map[string]any{"lock_reason": "resolved"}, nil); err != nil {
		return fmt.Errorf("lock #%d: %w", number, err)
	}
	return nil
}

func (c *HTTPClient) Unlock(ctx context.Context, number int) error {
	url := c.restURL("issues", fmt.Sprint(number), "lock")
	if err := c.do(ctx, http.MethodDelete, url, nil, nil); err != nil {
		return fmt.Errorf("unlock #%d: %w", number, err)
	}
	return nil
}

// FetchClosedSince lists issues and PRs closed after the given time,
// for the sweeper's recently-closed pass.
func (c *HTTPClient) FetchClosedSince(ctx context.Context, since time.Time) ([]models.Entity, error) {
	url := fmt.Sprintf("%s?state=closed&since=%s&per_page=100&sort=updated&direction=desc",
		c.restURL("issues"), since.UTC().Format(time.RFC3339))
	var raw []restIssue
	if err := c.do(ctx, http.MethodGet, url, nil, &raw); err != nil {
		return nil, fmt.Errorf("fetch closed since %s: %w", since.Format(time.RFC3339), err)
	}
	out := make([]models.Entity, 0, len(raw))
	for _, i := range raw {
		out = append(out, i.toEntity())
	}
	return out, nil
}
