package scroll

import "math/rand"

// pointPair is one correspondence used to fit a homography: a point in
// the "from" frame and the point it moved to in the "to" frame.
type pointPair struct {
	fromX, fromY float64
	toX, toY     float64
}

// homography is a 3x3 projective transform stored row-major with h[8]
// normalized to 1, matching OpenCV's convention.
type homography [9]float64

// apply maps (x,y) through h.
func (h homography) apply(x, y float64) (float64, float64) {
	w := h[6]*x + h[7]*y + h[8]
	return (h[0]*x + h[1]*y + h[2]) / w, (h[3]*x + h[4]*y + h[5]) / w
}

// solveExact fits the unique homography mapping four correspondences
// exactly, via the standard 8-unknown linear system (h[8] fixed to 1).
// Returns false if the system is singular (e.g. three collinear points).
func solveExact(pairs [4]pointPair) (homography, bool) {
	var a [8][8]float64
	var b [8]float64

	for i, p := range pairs {
		x, y, xp, yp := p.fromX, p.fromY, p.toX, p.toY
		a[2*i] = [8]float64{x, y, 1, 0, 0, 0, -x * xp, -y * xp}
		b[2*i] = xp
		a[2*i+1] = [8]float64{0, 0, 0, x, y, 1, -x * yp, -y * yp}
		b[2*i+1] = yp
	}

	h, ok := solveLinear8(a, b)
	if !ok {
		return homography{}, false
	}
	return homography{h[0], h[1], h[2], h[3], h[4], h[5], h[6], h[7], 1}, true
}

// solveLinear8 solves an 8x8 linear system via Gaussian elimination with
// partial pivoting.
func solveLinear8(a [8][8]float64, b [8]float64) ([8]float64, bool) {
	const n = 8
	const eps = 1e-9

	for col := 0; col < n; col++ {
		pivot := col
		best := abs(a[col][col])
		for r := col + 1; r < n; r++ {
			if v := abs(a[r][col]); v > best {
				best, pivot = v, r
			}
		}
		if best < eps {
			return [8]float64{}, false
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for r := col + 1; r < n; r++ {
			f := a[r][col] / a[col][col]
			for c := col; c < n; c++ {
				a[r][c] -= f * a[col][c]
			}
			b[r] -= f * b[col]
		}
	}

	var x [8]float64
	for row := n - 1; row >= 0; row-- {
		sum := b[row]
		for c := row + 1; c < n; c++ {
			sum -= a[row][c] * x[c]
		}
		x[row] = sum / a[row][row]
	}
	return x, true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// ransacHomography samples four correspondences at a time, fits the exact
// homography through them, and keeps the fit with the most inliers
// (reprojection error within reprojThreshold pixels). Requires at least 4
// pairs; returns ok=false otherwise or if no sample yields a solvable fit.
func ransacHomography(pairs []pointPair, rng *rand.Rand, iterations int, reprojThreshold float64) (homography, int, bool) {
	if len(pairs) < 4 {
		return homography{}, 0, false
	}

	var best homography
	bestInliers := -1
	idx := make([]int, len(pairs))
	for i := range idx {
		idx[i] = i
	}

	for iter := 0; iter < iterations; iter++ {
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		var sample [4]pointPair
		for i := 0; i < 4; i++ {
			sample[i] = pairs[idx[i]]
		}

		h, ok := solveExact(sample)
		if !ok {
			continue
		}

		inliers := 0
		for _, p := range pairs {
			px, py := h.apply(p.fromX, p.fromY)
			dx, dy := px-p.toX, py-p.toY
			if dx*dx+dy*dy <= reprojThreshold*reprojThreshold {
				inliers++
			}
		}
		if inliers > bestInliers {
			bestInliers, best = inliers, h
		}
	}

	if bestInliers < 4 {
		return homography{}, 0, false
	}
	return best, bestInliers, true
}
