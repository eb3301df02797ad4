package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/iconidentify/xstitch/internal/domain"
)

// Field sets requested on every lookup and search so that posts carry their
// conversation, author and timestamp, and media carry their variants.
const (
	expansions  = "attachments.media_keys,author_id,in_reply_to_user_id,referenced_tweets.id"
	tweetFields = "author_id,conversation_id,created_at,in_reply_to_user_id,referenced_tweets"
	mediaFields = "variants,type"
	userFields  = "name,username"
)

// RateLimitError indicates the request hit a rate limit and includes a reset time if known.
type RateLimitError struct {
	Reset time.Time
}

func (e *RateLimitError) Error() string {
	if !e.Reset.IsZero() {
		return fmt.Sprintf("rate limited until %s", e.Reset.Format(time.RFC3339))
	}
	return "rate limited"
}

// Unwrap lets callers match domain.ErrRateLimited.
func (e *RateLimitError) Unwrap() error {
	return domain.ErrRateLimited
}

// Client queries X API v2 for posts and conversation replies.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
	userAgent  string
	logger     *slog.Logger
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL   string
	Tokens    TokenSource
	Timeout   time.Duration
	UserAgent string
}

// NewClient creates a new X API v2 client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.x.com/2"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "xstitch/1.0"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:   strings.TrimRight(base, "/"),
		tokens:    cfg.Tokens,
		userAgent: ua,
		logger:    logger,
	}
}

// PostLookup is a resolved root post with its author and media.
type PostLookup struct {
	Post   domain.Post
	Author domain.Author
	Media  []domain.Attachment
}

// ReplyQuery selects one page of a conversation's media replies.
type ReplyQuery struct {
	ConversationID string
	Username       string
	MaxResults     int
	NextToken      string
}

// ReplyPage is one page of search results.
type ReplyPage struct {
	Media     []domain.Attachment
	NextToken string // Empty on the last page
}

// v2 response shapes; only the fields we ask for.
type apiTweet struct {
	ID             string    `json:"id"`
	AuthorID       string    `json:"author_id"`
	ConversationID string    `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
	Attachments    struct {
		MediaKeys []string `json:"media_keys"`
	} `json:"attachments"`
	ReferencedTweets []struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"referenced_tweets"`
}

type apiMedia struct {
	MediaKey string `json:"media_key"`
	Type     string `json:"type"`
	Variants []struct {
		BitRate     *int   `json:"bit_rate"`
		ContentType string `json:"content_type"`
		URL         string `json:"url"`
	} `json:"variants"`
}

type apiUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Type   string `json:"type"`
}

type tweetsResponse struct {
	Data     []apiTweet `json:"data"`
	Includes struct {
		Media []apiMedia `json:"media"`
		Users []apiUser  `json:"users"`
	} `json:"includes"`
	Meta struct {
		ResultCount int    `json:"result_count"`
		NextToken   string `json:"next_token"`
	} `json:"meta"`
	Errors []apiError `json:"errors"`
}

// LookupPost resolves a post with its conversation ID, author and media.
func (c *Client) LookupPost(ctx context.Context, id domain.PostID) (*PostLookup, error) {
	if id == "" {
		return nil, domain.ErrInvalidTweetRef
	}

	q := url.Values{}
	q.Set("ids", id.String())
	setFields(q)

	var parsed tweetsResponse
	if err := c.get(ctx, "/tweets", q, &parsed); err != nil {
		return nil, err
	}

	if len(parsed.Data) == 0 {
		detail := ""
		if len(parsed.Errors) > 0 {
			detail = parsed.Errors[0].Detail
		}
		if detail != "" {
			return nil, fmt.Errorf("%w: %s", domain.ErrPostNotFound, detail)
		}
		return nil, domain.ErrPostNotFound
	}

	tw := parsed.Data[0]
	post := toPost(tw)

	author := domain.Author{ID: tw.AuthorID}
	for _, u := range parsed.Includes.Users {
		if u.ID == tw.AuthorID {
			author.Username = u.Username
			author.Name = u.Name
			break
		}
	}
	if author.Username == "" && len(parsed.Includes.Users) > 0 {
		u := parsed.Includes.Users[0]
		author = domain.Author{ID: u.ID, Username: u.Username, Name: u.Name}
	}
	if author.Username == "" {
		return nil, fmt.Errorf("%w: author of %s not included in response", domain.ErrAuthResolution, id)
	}

	return &PostLookup{
		Post:   post,
		Author: author,
		Media:  toAttachments(parsed.Data, parsed.Includes.Media),
	}, nil
}

// SearchReplies returns one page of the thread owner's media replies in a conversation.
// Results come back in the search endpoint's order, typically newest first.
func (c *Client) SearchReplies(ctx context.Context, rq ReplyQuery) (*ReplyPage, error) {
	if rq.ConversationID == "" || rq.Username == "" {
		return nil, fmt.Errorf("conversation ID and username are required")
	}
	if rq.MaxResults <= 0 {
		rq.MaxResults = 50
	}
	if rq.MaxResults > 100 {
		rq.MaxResults = 100
	}

	q := url.Values{}
	q.Set("query", ReplyQueryString(rq.ConversationID, rq.Username))
	q.Set("max_results", strconv.Itoa(rq.MaxResults))
	if rq.NextToken != "" {
		q.Set("next_token", rq.NextToken)
	}
	setFields(q)

	var parsed tweetsResponse
	if err := c.get(ctx, "/tweets/search/recent", q, &parsed); err != nil {
		return nil, err
	}

	return &ReplyPage{
		Media:     toAttachments(parsed.Data, parsed.Includes.Media),
		NextToken: parsed.Meta.NextToken,
	}, nil
}

// ReplyQueryString builds the search query for the owner's media replies.
func ReplyQueryString(conversationID, username string) string {
	return fmt.Sprintf("conversation_id:%s is:reply from:%s has:media", conversationID, username)
}

func setFields(q url.Values) {
	q.Set("expansions", expansions)
	q.Set("tweet.fields", tweetFields)
	q.Set("media.fields", mediaFields)
	q.Set("user.fields", userFields)
}

// get performs an authenticated GET, refreshing the token once on 401.
func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	if c.tokens == nil {
		return fmt.Errorf("%w: no token source configured", domain.ErrAuthResolution)
	}

	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	u.RawQuery = q.Encode()

	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrAuthResolution, err)
		}

		resp, err := c.do(ctx, u.String(), token)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			resp.Body.Close()
			c.logger.Warn("x api rejected token, refreshing", "path", path)
			if err := c.tokens.ForceRefresh(ctx); err != nil {
				return fmt.Errorf("%w: refresh token: %v", domain.ErrAuthResolution, err)
			}
			continue
		}

		err = decodeResponse(resp, out)
		resp.Body.Close()
		return err
	}

	return domain.ErrAuthResolution
}

func (c *Client) do(ctx context.Context, rawURL, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	return resp, nil
}

func decodeResponse(resp *http.Response, out any) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		rl := &RateLimitError{}
		if reset := resp.Header.Get("x-rate-limit-reset"); reset != "" {
			if sec, err := strconv.ParseInt(reset, 10, 64); err == nil {
				rl.Reset = time.Unix(sec, 0)
			}
		}
		return rl
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrAuthResolution, resp.Status)
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrPostNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		// Avoid huge reads; keep a short excerpt for diagnosis.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("x api error (%s): %s", resp.Status, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func toPost(tw apiTweet) domain.Post {
	post := domain.Post{
		ID:             domain.PostID(tw.ID),
		AuthorID:       tw.AuthorID,
		ConversationID: tw.ConversationID,
		CreatedAt:      tw.CreatedAt,
	}
	for _, ref := range tw.ReferencedTweets {
		if ref.Type == "replied_to" {
			replyTo := domain.PostID(ref.ID)
			post.ReplyTo = &replyTo
			break
		}
	}
	return post
}

// toAttachments converts included media in response order, linking each
// media key back to the post that lists it when the response says so.
func toAttachments(tweets []apiTweet, media []apiMedia) []domain.Attachment {
	owners := make(map[string]apiTweet, len(media))
	for _, tw := range tweets {
		for _, key := range tw.Attachments.MediaKeys {
			if _, ok := owners[key]; !ok {
				owners[key] = tw
			}
		}
	}

	out := make([]domain.Attachment, 0, len(media))
	for _, m := range media {
		a := domain.Attachment{
			Key:      m.MediaKey,
			Type:     domain.MediaType(m.Type),
			Variants: make([]domain.Variant, 0, len(m.Variants)),
		}
		for _, v := range m.Variants {
			a.Variants = append(a.Variants, domain.Variant{
				URL:         v.URL,
				BitRate:     v.BitRate,
				ContentType: v.ContentType,
			})
		}
		if tw, ok := owners[m.MediaKey]; ok {
			a.PostID = domain.PostID(tw.ID)
			a.PostedAt = tw.CreatedAt
		}
		out = append(out, a)
	}
	return out
}

// IsRetryable reports whether a query error is worth retrying.
func IsRetryable(err error) bool {
	if errors.Is(err, domain.ErrRateLimited) {
		return true
	}
	if errors.Is(err, domain.ErrPostNotFound) || errors.Is(err, domain.ErrAuthResolution) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
