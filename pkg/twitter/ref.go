package twitter

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/iconidentify/xstitch/internal/domain"
)

var (
	statusURLPattern = regexp.MustCompile(`(?:twitter\.com|x\.com)/\w+/status(?:es)?/(\d+)`)
	numericID        = regexp.MustCompile(`^\d+$`)
)

// ExtractTweetID extracts the tweet ID from various URL formats.
func ExtractTweetID(rawURL string) string {
	// Match patterns like:
	// https://x.com/user/status/1234567890
	// https://twitter.com/user/status/1234567890
	// https://x.com/user/status/1234567890?s=20
	matches := statusURLPattern.FindStringSubmatch(rawURL)
	if len(matches) > 1 {
		return matches[1]
	}
	return ""
}

// ParseTweetRef accepts a status URL or a bare numeric ID and returns the post ID.
// Unknown hosts still work when the last path segment is numeric.
func ParseTweetRef(ref string) (domain.PostID, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", domain.ErrInvalidTweetRef
	}
	if numericID.MatchString(ref) {
		return domain.PostID(ref), nil
	}
	if id := ExtractTweetID(ref); id != "" {
		return domain.PostID(id), nil
	}

	u, err := url.Parse(ref)
	if err == nil {
		last := u.Path[strings.LastIndex(u.Path, "/")+1:]
		if numericID.MatchString(last) {
			return domain.PostID(last), nil
		}
	}
	return "", fmt.Errorf("%w: %q", domain.ErrInvalidTweetRef, ref)
}
