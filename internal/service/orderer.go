package service

import (
	"sort"

	"github.com/iconidentify/xstitch/internal/config"
	"github.com/iconidentify/xstitch/internal/domain"
)

// OrderSegments builds the final clip sequence. The root post's media come
// first in their given order. Search results arrive newest first, so in page
// mode the reply accumulator is simply reversed. In timestamp mode replies
// with a known post time are stably sorted among the slots they occupy;
// replies without one stay where page order put them.
func OrderSegments(root, paged []domain.Attachment, mode string) domain.SegmentSet {
	segs := make(domain.SegmentSet, 0, len(root)+len(paged))
	for _, a := range root {
		segs = append(segs, domain.RootSegment(a))
	}
	for i := len(paged) - 1; i >= 0; i-- {
		segs = append(segs, domain.ReplySegment(paged[i], paged[i].PostedAt))
	}

	if mode == config.OrderTimestamp {
		sortTimedReplies(segs)
	}

	for i := range segs {
		segs[i].Position = i
	}
	return segs
}

func sortTimedReplies(segs domain.SegmentSet) {
	var slots []int
	var timed domain.SegmentSet
	for i, seg := range segs {
		if seg.Kind == domain.SegmentReply && seg.Attachment.HasPostTime() {
			slots = append(slots, i)
			timed = append(timed, seg)
		}
	}
	sort.SliceStable(timed, func(i, j int) bool {
		return timed[i].Before(timed[j])
	})
	for k, i := range slots {
		segs[i] = timed[k]
	}
}
