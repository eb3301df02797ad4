package domain

import "time"

// SegmentKind distinguishes the thread's root clip from reply clips.
type SegmentKind int

const (
	SegmentRoot SegmentKind = iota
	SegmentReply
)

func (k SegmentKind) String() string {
	switch k {
	case SegmentRoot:
		return "root"
	case SegmentReply:
		return "reply"
	default:
		return "unknown"
	}
}

// Segment is one clip of the final video.
type Segment struct {
	Kind       SegmentKind
	Attachment Attachment
	PostedAt   time.Time // Zero when unknown
	Position   int

	Variant   *Variant // Set once selected
	LocalPath string   // Set once downloaded
}

// RootSegment creates a segment for one of the root post's attachments.
func RootSegment(a Attachment) Segment {
	return Segment{Kind: SegmentRoot, Attachment: a, PostedAt: a.PostedAt}
}

// ReplySegment creates a segment for a reply attachment.
func ReplySegment(a Attachment, postedAt time.Time) Segment {
	return Segment{Kind: SegmentReply, Attachment: a, PostedAt: postedAt}
}

// Before reports whether s belongs strictly before o in the final video.
// Root segments precede replies; replies compare by post time.
func (s Segment) Before(o Segment) bool {
	if s.Kind != o.Kind {
		return s.Kind == SegmentRoot
	}
	if s.PostedAt.IsZero() || o.PostedAt.IsZero() {
		return false
	}
	return s.PostedAt.Before(o.PostedAt)
}

// SegmentSet is the ordered work-in-progress list of segments.
type SegmentSet []Segment

// URLs returns the selected variant URL of each segment, in order.
// Segments without a selection yield an empty string.
func (s SegmentSet) URLs() []string {
	urls := make([]string, len(s))
	for i, seg := range s {
		if seg.Variant != nil {
			urls[i] = seg.Variant.URL
		}
	}
	return urls
}

// Paths returns the local path of each segment, in order.
func (s SegmentSet) Paths() []string {
	paths := make([]string, len(s))
	for i, seg := range s {
		paths[i] = seg.LocalPath
	}
	return paths
}

// Chronological reports whether every pair of segments with known timestamps
// appears in non-decreasing time order.
func (s SegmentSet) Chronological() bool {
	var last time.Time
	for _, seg := range s {
		if seg.PostedAt.IsZero() {
			continue
		}
		if !last.IsZero() && seg.PostedAt.Before(last) {
			return false
		}
		last = seg.PostedAt
	}
	return true
}
