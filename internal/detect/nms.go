package detect

import "sort"

// IoU returns the intersection-over-union of two boxes using inclusive
// pixel areas.
func IoU(a, b BBox) float64 {
	xx1 := max(a.X1, b.X1)
	yy1 := max(a.Y1, b.Y1)
	xx2 := min(a.X2, b.X2)
	yy2 := min(a.Y2, b.Y2)

	w := max(0, xx2-xx1+1)
	h := max(0, yy2-yy1+1)
	inter := float64(w * h)

	union := float64(a.Area()+b.Area()) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// NMS performs greedy non-maximum suppression. Candidates are visited in
// descending confidence (stable, so equal scores keep input order) and a box
// is suppressed only when its IoU with a kept box is strictly greater than
// threshold. The input slice is not modified.
func NMS(dets []Detection, threshold float64, classAware bool) []Detection {
	if len(dets) == 0 {
		return []Detection{}
	}

	sorted := make([]Detection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	suppressed := make([]bool, len(sorted))
	kept := make([]Detection, 0, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])

		for j := i + 1; j < len(sorted); j++ {
			if suppressed[j] {
				continue
			}
			if classAware && sorted[i].ClassID != sorted[j].ClassID {
				continue
			}
			if IoU(sorted[i].BBox, sorted[j].BBox) > threshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}
