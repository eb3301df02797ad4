package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/iconidentify/xstitch/internal/domain"
	"github.com/iconidentify/xstitch/pkg/twitter"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeQuery serves a fixed root lookup and a fixed sequence of reply pages.
// Entries in failures are returned, in order, before the next page is served.
type fakeQuery struct {
	mu        sync.Mutex
	lookup    *twitter.PostLookup
	lookupErr error
	pages     []*twitter.ReplyPage
	failures  []error
	served    int
	lookups   int
	queries   []twitter.ReplyQuery
}

func (f *fakeQuery) LookupPost(ctx context.Context, id domain.PostID) (*twitter.PostLookup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.lookup, nil
}

func (f *fakeQuery) SearchReplies(ctx context.Context, rq twitter.ReplyQuery) (*twitter.ReplyPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, rq)
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return nil, err
	}
	if f.served >= len(f.pages) {
		return nil, fmt.Errorf("unexpected query %d", len(f.queries))
	}
	page := f.pages[f.served]
	f.served++
	return page, nil
}

// endlessQuery always claims there is another page.
type endlessQuery struct {
	fakeQuery
}

func (e *endlessQuery) SearchReplies(ctx context.Context, rq twitter.ReplyQuery) (*twitter.ReplyPage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queries = append(e.queries, rq)
	return &twitter.ReplyPage{NextToken: fmt.Sprintf("tok-%d", len(e.queries))}, nil
}

func rootLookup(media ...domain.Attachment) *twitter.PostLookup {
	return &twitter.PostLookup{
		Post: domain.Post{
			ID:             "1700000000000000001",
			AuthorID:       "42",
			ConversationID: "1700000000000000001",
			CreatedAt:      baseTime,
		},
		Author: domain.Author{ID: "42", Username: "threadowner", Name: "Thread Owner"},
		Media:  media,
	}
}

// fakeDownloader records calls and writes nothing.
type fakeDownloader struct {
	mu    sync.Mutex
	calls map[string]string // url -> dest
	fail  map[string]error
	delay func(url string)
}

func (d *fakeDownloader) Download(ctx context.Context, url, destPath string) (int64, error) {
	if d.delay != nil {
		d.delay(url)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.calls == nil {
		d.calls = make(map[string]string)
	}
	d.calls[url] = destPath
	if err, ok := d.fail[url]; ok {
		return 0, err
	}
	return int64(len(url)), nil
}

// memRecorder keeps saved runs in memory.
type memRecorder struct {
	mu   sync.Mutex
	runs []domain.Run
}

func (m *memRecorder) Save(ctx context.Context, run *domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, *run)
	return nil
}
