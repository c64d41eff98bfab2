package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/forumsync/internal/retry"
	"github.com/forumsync/pkg/models"
)

const (
	graphqlEndpoint = "https://api.github.com/graphql"
	restEndpoint    = "https://api.github.com"
)

// HTTPClient talks to the GitHub v4 (GraphQL) and v3 (REST) APIs.
// Requests are paced client-side at 3/s and retried once on transient
// failure, honoring Retry-After on secondary rate limits.
type HTTPClient struct {
	owner   string
	repo    string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

func NewHTTPClient(owner, repo, token string) *HTTPClient {
	return &HTTPClient{
		owner:   owner,
		repo:    repo,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Second/3), 3),
	}
}

const issuesPageQuery = `
query($owner: String!, $repo: String!, $cursor: String) {
  repository(owner: $owner, name: $repo) {
    issues(first: 100, states: [OPEN], after: $cursor, orderBy: {field: CREATED_AT, direction: ASC}) {
      pageInfo { hasNextPage endCursor }
      nodes {
        number title body url createdAt updatedAt
        author { login }
        assignees(first: 10) { nodes { login } }
        milestone { title }
        labels(first: 20) { nodes { name } }
        comments(first: 100) {
          totalCount
          nodes { id author { login } body url createdAt }
        }
      }
    }
  }
}`

const prsPageQuery = `
query($owner: String!, $repo: String!, $cursor: String) {
  repository(owner: $owner, name: $repo) {
    pullRequests(first: 100, states: [OPEN], after: $cursor, orderBy: {field: CREATED_AT, direction: ASC}) {
      pageInfo { hasNextPage endCursor }
      nodes {
        number title body url createdAt updatedAt isDraft
        baseRefName headRefName additions deletions changedFiles
        author { login }
        assignees(first: 10) { nodes { login } }
        milestone { title }
        labels(first: 20) { nodes { name } }
        comments(first: 100) {
          totalCount
          nodes { id author { login } body url createdAt }
        }
        reviews(first: 50) {
          totalCount
          nodes {
            id author { login } body state url createdAt
            comments(first: 50) {
              nodes { id author { login } body path url createdAt }
            }
          }
        }
      }
    }
  }
}`

type gqlActor struct {
	Login string `json:"login"`
}

type gqlComment struct {
	ID        string    `json:"id"`
	Author    *gqlActor `json:"author"`
	Body      string    `json:"body"`
	Path      string    `json:"path"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
}

type gqlReview struct {
	ID        string    `json:"id"`
	Author    *gqlActor `json:"author"`
	Body      string    `json:"body"`
	State     string    `json:"state"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
	Comments  struct {
		Nodes []gqlComment `json:"nodes"`
	} `json:"comments"`
}

type gqlEntity struct {
	Number       int       `json:"number"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	URL          string    `json:"url"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	IsDraft      bool      `json:"isDraft"`
	BaseRefName  string    `json:"baseRefName"`
	HeadRefName  string    `json:"headRefName"`
	Additions    int       `json:"additions"`
	Deletions    int       `json:"deletions"`
	ChangedFiles int       `json:"changedFiles"`
	Author       *gqlActor `json:"author"`
	Assignees    struct {
		Nodes []gqlActor `json:"nodes"`
	} `json:"assignees"`
	Milestone *struct {
		Title string `json:"title"`
	} `json:"milestone"`
	Labels struct {
		Nodes []struct {
			Name string `json:"name"`
		} `json:"nodes"`
	} `json:"labels"`
	Comments struct {
		TotalCount int          `json:"totalCount"`
		Nodes      []gqlComment `json:"nodes"`
	} `json:"comments"`
	Reviews struct {
		TotalCount int         `json:"totalCount"`
		Nodes      []gqlReview `json:"nodes"`
	} `json:"reviews"`
}

type gqlPage struct {
	PageInfo struct {
		HasNextPage bool   `json:"hasNextPage"`
		EndCursor   string `json:"endCursor"`
	} `json:"pageInfo"`
	Nodes []gqlEntity `json:"nodes"`
}

type gqlResponse struct {
	Data struct {
		Repository struct {
			Issues       *gqlPage `json:"issues"`
			PullRequests *gqlPage `json:"pullRequests"`
		} `json:"repository"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *HTTPClient) FetchOpenIssuesPage(ctx context.Context, cursor string) (Page, error) {
	resp, err := c.queryPage(ctx, issuesPageQuery, cursor)
	if err != nil {
		return Page{}, err
	}
	if resp.Data.Repository.Issues == nil {
		return Page{}, fmt.Errorf("issues page missing from response")
	}
	return buildPage(resp.Data.Repository.Issues, models.KindIssue), nil
}

func (c *HTTPClient) FetchOpenPRsPage(ctx context.Context, cursor string) (Page, error) {
	resp, err := c.queryPage(ctx, prsPageQuery, cursor)
	if err != nil {
		return Page{}, err
	}
	if resp.Data.Repository.PullRequests == nil {
		return Page{}, fmt.Errorf("pull requests page missing from response")
	}
	return buildPage(resp.Data.Repository.PullRequests, models.KindPR), nil
}

func (c *HTTPClient) queryPage(ctx context.Context, query, cursor string) (*gqlResponse, error) {
	vars := map[string]any{"owner": c.owner, "repo": c.repo}
	if cursor != "" {
		vars["cursor"] = cursor
	}
	body, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	if err != nil {
		return nil, err
	}

	var out gqlResponse
	err = retry.Do(ctx, retry.HostCallConfig(), "github.graphql", func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, graphqlEndpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "forumsync")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if err := checkStatus(resp); err != nil {
			return err
		}
		out = gqlResponse{}
		return json.NewDecoder(resp.Body).Decode(&out)
	})
	if err != nil {
		return nil, err
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("graphql: %s", out.Errors[0].Message)
	}
	return &out, nil
}

func buildPage(p *gqlPage, kind models.Kind) Page {
	page := Page{
		NextCursor: p.PageInfo.EndCursor,
		HasMore:    p.PageInfo.HasNextPage,
	}
	for _, n := range p.Nodes {
		page.Entities = append(page.Entities, convertEntity(n, kind))
	}
	return page
}

func convertEntity(n gqlEntity, kind models.Kind) models.Entity {
	e := models.Entity{
		Key:       models.EntityKey{Kind: kind, Number: n.Number},
		Title:     n.Title,
		Body:      n.Body,
		Author:    actorLogin(n.Author),
		URL:       n.URL,
		State:     "open",
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
	for _, l := range n.Labels.Nodes {
		e.Labels = append(e.Labels, l.Name)
	}
	for _, a := range n.Assignees.Nodes {
		e.Assignees = append(e.Assignees, a.Login)
	}
	if n.Milestone != nil {
		e.Milestone = n.Milestone.Title
	}
	for _, cm := range n.Comments.Nodes {
		e.Comments = append(e.Comments, models.Comment{
			ID:        cm.ID,
			Author:    actorLogin(cm.Author),
			Body:      cm.Body,
			Type:      models.CommentPlain,
			URL:       cm.URL,
			CreatedAt: cm.CreatedAt,
		})
	}
	if n.Comments.TotalCount > len(n.Comments.Nodes) {
		e.CommentsTruncated = true
		log.Warn().Str("key", e.Key.String()).Int("total", n.Comments.TotalCount).
			Int("fetched", len(n.Comments.Nodes)).Msg("comment page truncated")
	}
	if kind == models.KindPR {
		e.Draft = n.IsDraft
		e.BaseRef = n.BaseRefName
		e.HeadRef = n.HeadRefName
		e.Additions = n.Additions
		e.Deletions = n.Deletions
		e.FilesCount = n.ChangedFiles
		for _, rv := range n.Reviews.Nodes {
			if rv.Body != "" || rv.State != "COMMENTED" {
				e.Comments = append(e.Comments, models.Comment{
					ID:        rv.ID,
					Author:    actorLogin(rv.Author),
					Body:      rv.Body,
					Type:      models.CommentReview,
					State:     rv.State,
					URL:       rv.URL,
					CreatedAt: rv.CreatedAt,
				})
			}
			for _, rc := range rv.Comments.Nodes {
				e.Comments = append(e.Comments, models.Comment{
					ID:        rc.ID,
					Author:    actorLogin(rc.Author),
					Body:      rc.Body,
					Type:      models.CommentReviewComment,
					Path:      rc.Path,
					URL:       rc.URL,
					CreatedAt: rc.CreatedAt,
				})
			}
		}
		if n.Reviews.TotalCount > len(n.Reviews.Nodes) {
			e.CommentsTruncated = true
		}
	}
	return e
}

func actorLogin(a *gqlActor) string {
	if a == nil {
		// Deleted accounts come back as a null author.
		return "ghost"
	}
	return a.Login
}

// checkStatus converts HTTP failures into errors the retry layer
// understands, reading Retry-After on rate limit responses.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				return &retry.RateLimitError{RetryAfter: time.Duration(secs) * time.Second}
			}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return &retry.RateLimitError{RetryAfter: 30 * time.Second}
		}
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("github api status %d: %s", resp.StatusCode, string(msg))
}
