package twitter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/iconidentify/xstitch/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// staticTokens always hands out the same bearer token.
type staticTokens string

func (s staticTokens) Token(ctx context.Context) (string, error) { return string(s), nil }

func (s staticTokens) ForceRefresh(ctx context.Context) error { return nil }

func newTestClient(baseURL string, tokens TokenSource) *Client {
	return NewClient(ClientConfig{
		BaseURL: baseURL,
		Tokens:  tokens,
		Timeout: 2 * time.Second,
	}, testLogger())
}

const lookupFixture = `{
  "data": [{
    "id": "100",
    "author_id": "7",
    "conversation_id": "100",
    "created_at": "2024-03-01T10:00:00.000Z",
    "attachments": {"media_keys": ["7_100"]}
  }],
  "includes": {
    "media": [{
      "media_key": "7_100",
      "type": "video",
      "variants": [
        {"content_type": "application/x-mpegURL", "url": "https://video.twimg.com/pl.m3u8"},
        {"bit_rate": 832000, "content_type": "video/mp4", "url": "https://video.twimg.com/480.mp4"},
        {"bit_rate": 2176000, "content_type": "video/mp4", "url": "https://video.twimg.com/720.mp4"}
      ]
    }],
    "users": [{"id": "7", "name": "Thread Owner", "username": "owner"}]
  }
}`

// =============================================================================
// Unit Tests - Tweet references
// =============================================================================

func TestExtractTweetID(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected string
	}{
		{
			name:     "x.com standard URL",
			url:      "https://x.com/elonmusk/status/1234567890123456789",
			expected: "1234567890123456789",
		},
		{
			name:     "twitter.com standard URL",
			url:      "https://twitter.com/user/status/9876543210",
			expected: "9876543210",
		},
		{
			name:     "x.com with query params",
			url:      "https://x.com/user/status/1234567890?s=20",
			expected: "1234567890",
		},
		{
			name:     "invalid URL",
			url:      "https://example.com/not-a-tweet",
			expected: "",
		},
		{
			name:     "empty URL",
			url:      "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExtractTweetID(tt.url)
			if result != tt.expected {
				t.Errorf("ExtractTweetID(%q) = %q, want %q", tt.url, result, tt.expected)
			}
		})
	}
}

func TestParseTweetRef(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		want    domain.PostID
		wantErr bool
	}{
		{"bare ID", "1234567890", "1234567890", false},
		{"bare ID with spaces", "  42 ", "42", false},
		{"x.com URL", "https://x.com/user/status/555?s=20", "555", false},
		{"mobile twitter URL", "https://mobile.twitter.com/user/status/777", "777", false},
		{"other host numeric tail", "https://nitter.net/user/status/888?x=1", "888", false},
		{"empty", "", "", true},
		{"not a tweet", "https://example.com/about", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTweetRef(tt.ref)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTweetRef(%q) error = %v, wantErr %v", tt.ref, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrInvalidTweetRef) {
				t.Errorf("error should wrap ErrInvalidTweetRef, got %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseTweetRef(%q) = %q, want %q", tt.ref, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Unit Tests - Lookup and search (mock server)
// =============================================================================

func TestClient_LookupPost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tweets" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer testtoken" {
			t.Fatalf("expected auth header, got %q", r.Header.Get("Authorization"))
		}
		q := r.URL.Query()
		if q.Get("ids") != "100" {
			t.Errorf("ids = %q, want 100", q.Get("ids"))
		}
		if q.Get("expansions") != expansions {
			t.Errorf("expansions = %q", q.Get("expansions"))
		}
		if q.Get("media.fields") != mediaFields {
			t.Errorf("media.fields = %q", q.Get("media.fields"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(lookupFixture))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, staticTokens("testtoken"))

	got, err := c.LookupPost(context.Background(), "100")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Post.ConversationID != "100" {
		t.Errorf("ConversationID = %q, want 100", got.Post.ConversationID)
	}
	if got.Author.Username != "owner" {
		t.Errorf("Username = %q, want owner", got.Author.Username)
	}
	wantTime := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if !got.Post.CreatedAt.Equal(wantTime) {
		t.Errorf("CreatedAt = %v, want %v", got.Post.CreatedAt, wantTime)
	}
	if len(got.Media) != 1 {
		t.Fatalf("expected 1 media, got %d", len(got.Media))
	}
	m := got.Media[0]
	if m.Key != "7_100" || m.Type != domain.MediaTypeVideo {
		t.Errorf("unexpected media: %+v", m)
	}
	if len(m.Variants) != 3 {
		t.Fatalf("expected 3 variants, got %d", len(m.Variants))
	}
	if m.Variants[0].HasBitRate() {
		t.Error("playlist variant should have no bit-rate")
	}
	if m.Variants[2].BitRate == nil || *m.Variants[2].BitRate != 2176000 {
		t.Errorf("unexpected bit-rate: %v", m.Variants[2].BitRate)
	}
	if m.PostID != "100" || !m.PostedAt.Equal(wantTime) {
		t.Errorf("media should be linked to its post, got %q %v", m.PostID, m.PostedAt)
	}
}

func TestClient_LookupPost_NotFound(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "errors without data",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"errors":[{"title":"Not Found Error","detail":"Could not find tweet with ids: [100]."}]}`))
			},
		},
		{
			name: "http 404",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := newTestClient(srv.URL, staticTokens("t"))
			_, err := c.LookupPost(context.Background(), "100")
			if !errors.Is(err, domain.ErrPostNotFound) {
				t.Fatalf("expected ErrPostNotFound, got %v", err)
			}
		})
	}
}

func TestClient_SearchReplies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tweets/search/recent" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		q := r.URL.Query()
		if want := "conversation_id:100 is:reply from:owner has:media"; q.Get("query") != want {
			t.Errorf("query = %q, want %q", q.Get("query"), want)
		}
		if q.Get("max_results") != "50" {
			t.Errorf("max_results = %q, want 50", q.Get("max_results"))
		}
		if q.Get("next_token") != "cursor-1" {
			t.Errorf("next_token = %q, want cursor-1", q.Get("next_token"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
		  "data": [
		    {"id": "102", "created_at": "2024-03-01T10:02:00.000Z", "attachments": {"media_keys": ["7_102"]}},
		    {"id": "101", "created_at": "2024-03-01T10:01:00.000Z", "attachments": {"media_keys": ["7_101"]}}
		  ],
		  "includes": {"media": [
		    {"media_key": "7_102", "type": "video", "variants": [{"bit_rate": 1, "content_type": "video/mp4", "url": "https://v/102.mp4"}]},
		    {"media_key": "7_101", "type": "video", "variants": [{"bit_rate": 1, "content_type": "video/mp4", "url": "https://v/101.mp4"}]}
		  ]},
		  "meta": {"result_count": 2, "next_token": "cursor-2"}
		}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, staticTokens("t"))
	page, err := c.SearchReplies(context.Background(), ReplyQuery{
		ConversationID: "100",
		Username:       "owner",
		MaxResults:     50,
		NextToken:      "cursor-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if page.NextToken != "cursor-2" {
		t.Errorf("NextToken = %q, want cursor-2", page.NextToken)
	}
	if len(page.Media) != 2 || page.Media[0].Key != "7_102" || page.Media[1].Key != "7_101" {
		t.Fatalf("unexpected media order: %+v", page.Media)
	}
	if !page.Media[0].PostedAt.After(page.Media[1].PostedAt) {
		t.Error("expected newest-first timestamps to be carried through")
	}
}

func TestClient_SearchReplies_LastPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("next_token") {
			t.Errorf("first page should not send next_token")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"meta":{"result_count":0}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, staticTokens("t"))
	page, err := c.SearchReplies(context.Background(), ReplyQuery{ConversationID: "1", Username: "u"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.NextToken != "" || len(page.Media) != 0 {
		t.Fatalf("unexpected page: %+v", page)
	}
}

type flipTokenSource struct {
	tok string
}

func (f *flipTokenSource) Token(ctx context.Context) (string, error) { return f.tok, nil }
func (f *flipTokenSource) ForceRefresh(ctx context.Context) error {
	f.tok = "good"
	return nil
}

func TestClient_RetryOn401(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("Authorization") == "Bearer bad" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(lookupFixture))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, &flipTokenSource{tok: "bad"})
	if _, err := c.LookupPost(context.Background(), "100"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected retry, calls=%d", calls)
	}
}

func TestClient_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, staticTokens("t"))
	_, err := c.LookupPost(context.Background(), "100")
	if !errors.Is(err, domain.ErrAuthResolution) {
		t.Fatalf("expected ErrAuthResolution, got %v", err)
	}
}

func TestClient_RateLimited(t *testing.T) {
	reset := time.Now().Add(60 * time.Second).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-rate-limit-reset", strconv.FormatInt(reset, 10))
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, staticTokens("t"))
	_, err := c.SearchReplies(context.Background(), ReplyQuery{ConversationID: "1", Username: "u"})
	if err == nil {
		t.Fatalf("expected error")
	}
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %T: %v", err, err)
	}
	if rl.Reset.IsZero() {
		t.Fatalf("expected reset")
	}
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("RateLimitError should match ErrRateLimited")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &RateLimitError{}, true},
		{"transport", errors.New("send request: connection reset"), true},
		{"not found", domain.ErrPostNotFound, false},
		{"auth", domain.ErrAuthResolution, false},
		{"canceled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
