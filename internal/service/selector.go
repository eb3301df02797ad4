package service

import (
	"fmt"

	"github.com/iconidentify/xstitch/internal/domain"
)

// SelectVariant returns the variant with the highest declared bit-rate.
// Variants without a bit-rate are playlists and never selected. Ties keep
// the first variant seen.
func SelectVariant(variants []domain.Variant) (domain.Variant, error) {
	best := -1
	for i, v := range variants {
		if !v.HasBitRate() {
			continue
		}
		if best < 0 || *v.BitRate > *variants[best].BitRate {
			best = i
		}
	}
	if best < 0 {
		return domain.Variant{}, fmt.Errorf("%w: none of %d variants declares a bit-rate",
			domain.ErrNoDownloadableVariant, len(variants))
	}
	return variants[best], nil
}

// SelectVariants picks a variant for every segment. It fails on the first
// segment with nothing to download, leaving segs untouched.
func SelectVariants(segs domain.SegmentSet) (domain.SegmentSet, error) {
	out := make(domain.SegmentSet, len(segs))
	for i, seg := range segs {
		v, err := SelectVariant(seg.Attachment.Variants)
		if err != nil {
			return nil, fmt.Errorf("segment %d (media %s): %w", i, seg.Attachment.Key, err)
		}
		seg.Variant = &v
		out[i] = seg
	}
	return out, nil
}
