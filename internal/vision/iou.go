package vision

// IoU returns the intersection-over-union of two bounding boxes, the
// standard overlap metric used as the detection-to-track association cost
// (cost = 1 - IoU). Returns 0 when either box is degenerate or the boxes
// do not overlap.
func IoU(a, b BBox) float64 {
	if a.IsDegenerate() || b.IsDegenerate() {
		return 0
	}

	ix1 := max(a.X1, b.X1)
	iy1 := max(a.Y1, b.Y1)
	ix2 := min(a.X2, b.X2)
	iy2 := min(a.Y2, b.Y2)

	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}

	inter := iw * ih
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
