package github

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/forumsync/pkg/models"
)

// Fake is an in-memory Client for tests. Mutations are recorded in
// Calls so tests can assert exactly which operations ran.
type Fake struct {
	mu       sync.Mutex
	Open     map[models.EntityKey]models.Entity
	Closed   []models.Entity
	Calls    []string
	FailOn   map[string]error // op name -> error to return, decremented per hit
	nextNum  int
	nextComm int
}

func NewFake() *Fake {
	return &Fake{
		Open:    make(map[models.EntityKey]models.Entity),
		FailOn:  make(map[string]error),
		nextNum: 1000,
	}
}

func (f *Fake) record(op string) error {
	f.Calls = append(f.Calls, op)
	if err, ok := f.FailOn[op]; ok {
		delete(f.FailOn, op)
		return err
	}
	return nil
}

func (f *Fake) page(kind models.Kind) Page {
	var ents []models.Entity
	for k, e := range f.Open {
		if k.Kind == kind {
			ents = append(ents, e)
		}
	}
	sort.Slice(ents, func(i, j int) bool { return ents[i].Key.Number < ents[j].Key.Number })
	return Page{Entities: ents}
}

func (f *Fake) FetchOpenIssuesPage(ctx context.Context, cursor string) (Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("fetch_issues"); err != nil {
		return Page{}, err
	}
	return f.page(models.KindIssue), nil
}

func (f *Fake) FetchOpenPRsPage(ctx context.Context, cursor string) (Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("fetch_prs"); err != nil {
		return Page{}, err
	}
	return f.page(models.KindPR), nil
}

func (f *Fake) FetchClosedSince(ctx context.Context, since time.Time) ([]models.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("fetch_closed"); err != nil {
		return nil, err
	}
	return append([]models.Entity(nil), f.Closed...), nil
}

func (f *Fake) CreateIssue(ctx context.Context, title, body string, labels []string) (models.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("create_issue"); err != nil {
		return models.Entity{}, err
	}
	f.nextNum++
	e := models.Entity{
		Key:       models.EntityKey{Kind: models.KindIssue, Number: f.nextNum},
		Title:     title,
		Body:      body,
		Labels:    labels,
		State:     "open",
		URL:       fmt.Sprintf("https://example.test/issues/%d", f.nextNum),
		CreatedAt: time.Now().UTC(),
	}
	f.Open[e.Key] = e
	return e, nil
}

func (f *Fake) CreateLabel(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("create_label_" + name)
}

func (f *Fake) EditIssue(ctx context.Context, number int, title, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(fmt.Sprintf("edit_issue_%d", number)); err != nil {
		return err
	}
	for k, e := range f.Open {
		if k.Number == number {
			if title != "" {
				e.Title = title
			}
			if body != "" {
				e.Body = body
			}
			f.Open[k] = e
		}
	}
	return nil
}

func (f *Fake) EditState(ctx context.Context, number int, state string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(fmt.Sprintf("edit_state_%d_%s", number, state))
}

func (f *Fake) SetLabels(ctx context.Context, number int, labels []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(fmt.Sprintf("set_labels_%d", number))
}

func (f *Fake) CreateComment(ctx context.Context, number int, body string) (models.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(fmt.Sprintf("create_comment_%d", number)); err != nil {
		return models.Comment{}, err
	}
	f.nextComm++
	return models.Comment{
		ID:        fmt.Sprintf("c%d", f.nextComm),
		Body:      body,
		Type:      models.CommentPlain,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (f *Fake) EditComment(ctx context.Context, commentID string, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("edit_comment_" + commentID)
}

func (f *Fake) DeleteComment(ctx context.Context, commentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("delete_comment_" + commentID)
}

func (f *Fake) Lock(ctx context.Context, number int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(fmt.Sprintf("lock_%d", number))
}

func (f *Fake) Unlock(ctx context.Context, number int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(fmt.Sprintf("unlock_%d", number))
}

// CallCount returns how many recorded calls start with prefix.
func (f *Fake) CallCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}
