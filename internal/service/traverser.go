package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/iconidentify/xstitch/internal/domain"
	"github.com/iconidentify/xstitch/internal/downloader"
	"github.com/iconidentify/xstitch/pkg/twitter"
)

const (
	defaultPageSize = 50
	defaultMaxPages = 10000
)

// QueryService is the subset of the X API the traverser needs.
type QueryService interface {
	LookupPost(ctx context.Context, id domain.PostID) (*twitter.PostLookup, error)
	SearchReplies(ctx context.Context, rq twitter.ReplyQuery) (*twitter.ReplyPage, error)
}

// TraverserConfig configures a ThreadTraverser.
type TraverserConfig struct {
	PageSize int
	MaxPages int
	Retry    downloader.RetryConfig // Per query; one attempt by default
}

// ThreadTraverser walks a conversation: it resolves the root post, then pages
// through the owner's media replies.
type ThreadTraverser struct {
	query  QueryService
	cfg    TraverserConfig
	logger *slog.Logger
}

// NewThreadTraverser creates a new thread traverser.
func NewThreadTraverser(query QueryService, cfg TraverserConfig, logger *slog.Logger) *ThreadTraverser {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = downloader.DefaultRetryConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := &ThreadTraverser{
		query:  query,
		cfg:    cfg,
		logger: logger,
	}
	if t.cfg.Retry.OnRetry == nil {
		t.cfg.Retry.OnRetry = t.logRetry
	}
	return t
}

// Resolve fetches the root post and returns a thread holding its
// conversation, owner and media. Replies are filled in by Paginate.
func (t *ThreadTraverser) Resolve(ctx context.Context, rootID domain.PostID) (*domain.Thread, error) {
	t.logger.Info("resolving root post", "post_id", rootID)

	lookup, err := downloader.RetryWithCheck(ctx, t.cfg.Retry, func() (*twitter.PostLookup, error) {
		return t.query.LookupPost(ctx, rootID)
	}, twitter.IsRetryable)
	if err != nil {
		return nil, err
	}

	if lookup.Author.Username == "" {
		return nil, fmt.Errorf("%w: cannot resolve owner of post %s", domain.ErrAuthResolution, rootID)
	}

	conversationID := lookup.Post.ConversationID
	if conversationID == "" {
		// A root post is its own conversation.
		conversationID = lookup.Post.ID.String()
	}

	t.logger.Info("resolved root post",
		"post_id", rootID,
		"conversation_id", conversationID,
		"username", lookup.Author.Username,
		"root_media", len(lookup.Media),
	)

	return &domain.Thread{
		ConversationID: conversationID,
		Author:         lookup.Author,
		Root:           lookup.Post,
		RootMedia:      lookup.Media,
	}, nil
}

// Paginate requests pages of the owner's media replies until a page carries
// no next token, appending media to thread.Replies in the order received.
// Each page is requested only after the previous one has been consumed.
func (t *ThreadTraverser) Paginate(ctx context.Context, thread *domain.Thread) error {
	rq := twitter.ReplyQuery{
		ConversationID: thread.ConversationID,
		Username:       thread.Author.Username,
		MaxResults:     t.cfg.PageSize,
	}

	for {
		if thread.Pages >= t.cfg.MaxPages {
			return fmt.Errorf("%w: more than %d pages for conversation %s",
				domain.ErrPaginationOverrun, t.cfg.MaxPages, thread.ConversationID)
		}

		page, err := downloader.RetryWithCheck(ctx, t.cfg.Retry, func() (*twitter.ReplyPage, error) {
			return t.query.SearchReplies(ctx, rq)
		}, twitter.IsRetryable)
		if err != nil {
			return fmt.Errorf("page %d: %w", thread.Pages+1, err)
		}
		thread.Pages++
		thread.Replies = append(thread.Replies, page.Media...)

		t.logger.Debug("fetched reply page",
			"page", thread.Pages,
			"media", len(page.Media),
			"has_next", page.NextToken != "",
		)

		if page.NextToken == "" {
			break
		}
		rq.NextToken = page.NextToken
	}

	t.logger.Info("finished acquiring replies",
		"conversation_id", thread.ConversationID,
		"pages", thread.Pages,
		"reply_media", len(thread.Replies),
	)
	return nil
}

// Traverse resolves the root post and collects every reply page.
func (t *ThreadTraverser) Traverse(ctx context.Context, rootID domain.PostID) (*domain.Thread, error) {
	thread, err := t.Resolve(ctx, rootID)
	if err != nil {
		return nil, domain.NewStageError(domain.StageResolve, rootID.String(), err)
	}
	if err := t.Paginate(ctx, thread); err != nil {
		return nil, domain.NewStageError(domain.StagePaginate, rootID.String(), err)
	}
	return thread, nil
}

func (t *ThreadTraverser) logRetry(attempt int, err error, delay time.Duration) {
	t.logger.Warn("query failed, retrying",
		"attempt", attempt,
		"error", err,
		"delay", delay,
	)
}
