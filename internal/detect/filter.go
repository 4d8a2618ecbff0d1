package detect

import (
	"math"
	"sort"

	"github.com/spherical/comic-extractor/internal/domain"
)

// Filter turns raw backend output into the objects returned to callers:
// boxes are clamped to [0,1], degenerate or low-confidence boxes dropped,
// objects whose probability lies outside [0,1] discarded as malformed,
// overlapping same-class boxes suppressed, and the result ordered top to
// bottom, left to right.
func Filter(raw []domain.PageObject, m Manifest) []domain.PageObject {
	kept := make([]domain.PageObject, 0, len(raw))
	for _, obj := range raw {
		if obj.Class == "" || math.IsNaN(obj.Probability) || obj.Probability < 0 || obj.Probability > 1 {
			continue
		}
		if obj.Probability < m.Threshold(obj.Class) {
			continue
		}
		obj.Box = obj.Box.Clamp()
		if obj.Box.Width() < m.MinSide || obj.Box.Height() < m.MinSide {
			continue
		}
		kept = append(kept, obj)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Probability > kept[j].Probability
	})
	if m.NMSIoU > 0 {
		kept = suppress(kept, m.NMSIoU)
	}
	if len(kept) > m.MaxObjects {
		kept = kept[:m.MaxObjects]
	}

	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i].Box, kept[j].Box
		if a.YMin != b.YMin {
			return a.YMin < b.YMin
		}
		return a.XMin < b.XMin
	})
	return kept
}

// suppress expects objs sorted by descending probability.
func suppress(objs []domain.PageObject, iou float64) []domain.PageObject {
	out := objs[:0:0]
	for _, cand := range objs {
		overlaps := false
		for _, k := range out {
			if k.Class == cand.Class && k.Box.IoU(cand.Box) > iou {
				overlaps = true
				break
			}
		}
		if !overlaps {
			out = append(out, cand)
		}
	}
	return out
}
