package domain

import (
	"time"
)

// PostID is a unique identifier for a tweet.
type PostID string

// String returns the string representation of the PostID.
func (id PostID) String() string {
	return string(id)
}

// Post is the subset of a tweet needed to walk a thread. Posts are read-only.
type Post struct {
	ID             PostID
	AuthorID       string
	ConversationID string
	CreatedAt      time.Time
	ReplyTo        *PostID // Previous post in the reply chain, if any
}

// Author represents the thread owner.
type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
}

// MediaType represents the type of media attachment.
type MediaType string

const (
	MediaTypePhoto MediaType = "photo"
	MediaTypeVideo MediaType = "video"
	MediaTypeGIF   MediaType = "animated_gif"
)

// Variant is one encoded rendition of a media attachment.
// BitRate is nil for playlist renditions (HLS), which cannot be concatenated.
type Variant struct {
	URL         string `json:"url"`
	BitRate     *int   `json:"bit_rate,omitempty"`
	ContentType string `json:"content_type"`
}

// HasBitRate reports whether the variant declares a bit-rate.
func (v Variant) HasBitRate() bool {
	return v.BitRate != nil
}

// Attachment is a media item attached to a post.
type Attachment struct {
	Key      string
	Type     MediaType
	Variants []Variant

	// PostID and PostedAt are zero when the page did not link the media key
	// back to a post.
	PostID   PostID
	PostedAt time.Time
}

// HasPostTime reports whether the owning post's timestamp is known.
func (a Attachment) HasPostTime() bool {
	return !a.PostedAt.IsZero()
}

// Thread is the result of walking a conversation.
type Thread struct {
	ConversationID string
	Author         Author
	Root           Post
	RootMedia      []Attachment
	Replies        []Attachment // In page-received order, typically newest first
	Pages          int
}
