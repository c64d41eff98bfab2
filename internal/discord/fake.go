package discord

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Client for tests.
type Fake struct {
	mu       sync.Mutex
	Threads  map[string]*Thread
	Messages map[string][]Message // threadID -> ordered messages
	Tags     map[string][]Tag     // forumID -> available tags
	Calls    []string
	FailOn   map[string]error
	nextID   int
}

func NewFakeClient() *Fake {
	return &Fake{
		Threads:  make(map[string]*Thread),
		Messages: make(map[string][]Message),
		Tags:     make(map[string][]Tag),
		FailOn:   make(map[string]error),
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

func (f *Fake) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s%d", prefix, f.nextID)
}

func (f *Fake) CreateThread(ctx context.Context, forumID, title, body string, tagIDs []string) (Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("create_thread"); err != nil {
		return Thread{}, err
	}
	t := Thread{ID: f.id("t"), ForumID: forumID, Name: title, TagIDs: tagIDs}
	f.Threads[t.ID] = &t
	// Forum starter message shares the thread's ID.
	f.Messages[t.ID] = []Message{{ID: t.ID, ThreadID: t.ID, Content: body, Bot: true}}
	return t, nil
}

func (f *Fake) EditThread(ctx context.Context, threadID string, edit ThreadEdit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("edit_thread_" + threadID); err != nil {
		return err
	}
	t, ok := f.Threads[threadID]
	if !ok {
		return fmt.Errorf("discord api status 404: unknown channel %s", threadID)
	}
	if edit.Name != nil {
		t.Name = *edit.Name
	}
	if edit.Archived != nil {
		t.Archived = *edit.Archived
	}
	if edit.Locked != nil {
		t.Locked = *edit.Locked
	}
	if edit.TagIDs != nil {
		t.TagIDs = *edit.TagIDs
	}
	return nil
}

func (f *Fake) DeleteThread(ctx context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("delete_thread_" + threadID); err != nil {
		return err
	}
	delete(f.Threads, threadID)
	delete(f.Messages, threadID)
	return nil
}

func (f *Fake) ListThreads(ctx context.Context, forumID string) ([]Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("list_threads"); err != nil {
		return nil, err
	}
	var out []Thread
	for _, t := range f.Threads {
		if t.ForumID == forumID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *Fake) SendMessage(ctx context.Context, threadID, content string, embed *Embed) (Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("send_message_" + threadID); err != nil {
		return Message{}, err
	}
	m := Message{ID: f.id("m"), ThreadID: threadID, Content: content, Bot: true}
	f.Messages[threadID] = append(f.Messages[threadID], m)
	return m, nil
}

func (f *Fake) EditMessage(ctx context.Context, threadID, messageID, content string, embed *Embed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("edit_message_" + messageID); err != nil {
		return err
	}
	msgs := f.Messages[threadID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			msgs[i].Content = content
			return nil
		}
	}
	return fmt.Errorf("discord api status 404: unknown message %s", messageID)
}

func (f *Fake) FirstMessage(ctx context.Context, threadID string) (Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("first_message_" + threadID); err != nil {
		return Message{}, err
	}
	msgs := f.Messages[threadID]
	if len(msgs) == 0 {
		return Message{}, fmt.Errorf("discord api status 404: no starter message in %s", threadID)
	}
	return msgs[0], nil
}

func (f *Fake) ForumTags(ctx context.Context, forumID string) ([]Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("forum_tags"); err != nil {
		return nil, err
	}
	return append([]Tag(nil), f.Tags[forumID]...), nil
}

func (f *Fake) CreateTag(ctx context.Context, forumID, name string) (Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("create_tag_" + name); err != nil {
		return Tag{}, err
	}
	for _, t := range f.Tags[forumID] {
		if t.Name == name {
			return t, nil
		}
	}
	t := Tag{ID: f.id("tag"), Name: name}
	f.Tags[forumID] = append(f.Tags[forumID], t)
	return t, nil
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
