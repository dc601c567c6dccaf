package scroll

import "gocv.io/x/gocv"

// descriptorRow copies one row of a binary descriptor Mat (AKAZE's MLDB
// descriptors are packed bits, one row per keypoint) into a byte slice.
func descriptorRow(m gocv.Mat, row int) []byte {
	cols := m.Cols()
	out := make([]byte, cols)
	for c := 0; c < cols; c++ {
		out[c] = m.GetUCharAt(row, c)
	}
	return out
}

func hammingDistance(a, b []byte) int {
	dist := 0
	for i := range a {
		x := a[i] ^ b[i]
		for x != 0 {
			dist++
			x &= x - 1
		}
	}
	return dist
}

// match is one accepted correspondence between a query keypoint (in the
// "from" frame) and a train keypoint (in the "to" frame).
type match struct {
	queryIdx, trainIdx int
	distance           int
}

// knnMatch performs brute-force k=2 nearest-neighbor matching of query
// against train descriptors (one row per keypoint) and keeps a match only
// when the closest neighbor is convincingly closer than the second
// closest: d0 < trustRatio * d1. This is the standard Lowe ratio test,
// adapted to Hamming distance for binary descriptors.
func knnMatch(query, train gocv.Mat, trustRatio float64) []match {
	qRows := query.Rows()
	tRows := train.Rows()
	if qRows == 0 || tRows < 2 {
		return nil
	}

	trainRows := make([][]byte, tRows)
	for i := 0; i < tRows; i++ {
		trainRows[i] = descriptorRow(train, i)
	}

	var out []match
	for q := 0; q < qRows; q++ {
		qRow := descriptorRow(query, q)

		best, second := -1, -1
		bestDist, secondDist := 1<<30, 1<<30
		for t := 0; t < tRows; t++ {
			d := hammingDistance(qRow, trainRows[t])
			if d < bestDist {
				second, secondDist = best, bestDist
				best, bestDist = t, d
			} else if d < secondDist {
				second, secondDist = t, d
			}
		}
		if best < 0 || second < 0 {
			continue
		}
		if float64(bestDist) < trustRatio*float64(secondDist) {
			out = append(out, match{queryIdx: q, trainIdx: best, distance: bestDist})
		}
	}
	return out
}
