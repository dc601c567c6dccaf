// Package replay implements the CLI video-file replay mode described in
// SPEC_FULL.md's SUPPLEMENTED FEATURES: an injected FrameSource that feeds
// the orchestrator from a directory of pre-extracted PNG frames, standing
// in for the out-of-scope native video decode step.
package replay

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"gocv.io/x/gocv"

	"github.com/umasagashi/capture-core/internal/logging"
)

var log = logging.L("replay")

// FrameSource yields frames in capture order until exhausted.
type FrameSource interface {
	// Next returns the next frame's pixels (BGR8, row-contiguous), its
	// dimensions, and its timestamp in milliseconds. ok is false once the
	// source is exhausted.
	Next() (pixels []byte, width, height int, timestampMs int64, ok bool, err error)
}

// timestampPattern matches an embedded millisecond timestamp in a frame
// filename, e.g. "frame_00001_t1690000000000.png".
var timestampPattern = regexp.MustCompile(`t(\d+)`)

// DirSource reads every PNG in a directory, sorted by filename, as one
// replay sequence. If a filename carries a "t<millis>" timestamp it is
// used directly; otherwise frames are assigned a synthetic 16ms cadence
// starting at 0, approximating a 60fps capture source.
type DirSource struct {
	paths      []string
	timestamps []int64
	index      int
}

// NewDirSource globs dir for *.png files and prepares them for sequential
// replay.
func NewDirSource(dir string) (*DirSource, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.png"))
	if err != nil {
		return nil, fmt.Errorf("replay: glob %s: %w", dir, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("replay: no PNG frames found in %s", dir)
	}
	sort.Strings(matches)

	timestamps := make([]int64, len(matches))
	var synthetic int64
	for i, path := range matches {
		if m := timestampPattern.FindStringSubmatch(filepath.Base(path)); m != nil {
			if ts, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				timestamps[i] = ts
				continue
			}
		}
		timestamps[i] = synthetic
		synthetic += 16
	}

	log.Info("replay source prepared", "dir", dir, "frames", len(matches))
	return &DirSource{paths: matches, timestamps: timestamps}, nil
}

// Next decodes the next PNG in the sequence.
func (d *DirSource) Next() (pixels []byte, width, height int, timestampMs int64, ok bool, err error) {
	if d.index >= len(d.paths) {
		return nil, 0, 0, 0, false, nil
	}

	path := d.paths[d.index]
	ts := d.timestamps[d.index]
	d.index++

	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		return nil, 0, 0, 0, false, fmt.Errorf("replay: decode %s failed", path)
	}
	defer mat.Close()

	buf := mat.ToBytes()
	pixels = make([]byte, len(buf))
	copy(pixels, buf)

	return pixels, mat.Cols(), mat.Rows(), ts, true, nil
}

// Len reports the total number of frames in the sequence.
func (d *DirSource) Len() int { return len(d.paths) }
