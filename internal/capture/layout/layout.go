// Package layout centralizes the on-disk path conventions for a scrape
// session, mirroring the original chara_detail_config.h PathEntry/
// path_config pattern of keeping every filesystem path in one place rather
// than scattering filepath.Join calls across the scrape engine and
// stitcher.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
)

// Tab names one of the three scrollable tabs on the character detail
// screen. Values match the wire "index" field (0,1,2) used in
// onScrollReady/onScrollUpdated/onPageReady notifications.
type Tab int

const (
	TabSkill Tab = iota
	TabFactor
	TabCampaign
)

// Tabs lists every tab in index order.
var Tabs = []Tab{TabSkill, TabFactor, TabCampaign}

// Dir returns the tab's on-disk directory name.
func (t Tab) Dir() string {
	switch t {
	case TabSkill:
		return "skill"
	case TabFactor:
		return "factor"
	case TabCampaign:
		return "campaign"
	default:
		return fmt.Sprintf("tab_%d", int(t))
	}
}

func (t Tab) String() string { return t.Dir() }

// Paths resolves every artifact path for one session, given the
// configured scraping (in-progress fragments) and storage (final stitched
// output) directories.
type Paths struct {
	ScrapingDir string
	StorageDir  string
}

// SessionDir is the in-progress working directory for a session.
func (p Paths) SessionDir(sessionID string) string {
	return filepath.Join(p.ScrapingDir, sessionID)
}

// BasePNG is the stable base-frame capture for a session.
func (p Paths) BasePNG(sessionID string) string {
	return filepath.Join(p.SessionDir(sessionID), "base.png")
}

// TabDir is a tab's subdirectory within a session's working directory.
func (p Paths) TabDir(sessionID string, tab Tab) string {
	return filepath.Join(p.SessionDir(sessionID), tab.Dir())
}

// TabButtonPNG is the cropped tab-button capture for one tab.
func (p Paths) TabButtonPNG(sessionID string, tab Tab) string {
	return filepath.Join(p.TabDir(sessionID, tab), "tab_button.png")
}

// FragmentPNG is the path of the index'th scroll-area fragment for a tab.
// Filenames are zero-padded to width 5 so they sort lexicographically in
// capture order.
func (p Paths) FragmentPNG(sessionID string, tab Tab, index int) string {
	return filepath.Join(p.TabDir(sessionID, tab), fmt.Sprintf("scroll_area_%05d.png", index))
}

// OutputDir is where the stitcher writes a session's final tab images.
func (p Paths) OutputDir(sessionID string) string {
	return filepath.Join(p.StorageDir, sessionID)
}

// OutputPNG is the final stitched image for one tab.
func (p Paths) OutputPNG(sessionID string, tab Tab) string {
	return filepath.Join(p.OutputDir(sessionID), tab.Dir()+".png")
}

// EnsureSessionDirs creates the session's working directory and every tab
// subdirectory, ready to receive fragment writes.
func (p Paths) EnsureSessionDirs(sessionID string) error {
	if err := os.MkdirAll(p.SessionDir(sessionID), 0o755); err != nil {
		return fmt.Errorf("layout: create session dir: %w", err)
	}
	for _, tab := range Tabs {
		if err := os.MkdirAll(p.TabDir(sessionID, tab), 0o755); err != nil {
			return fmt.Errorf("layout: create tab dir: %w", err)
		}
	}
	return nil
}

// EnsureOutputDir creates the storage directory a session's stitched
// output is written to.
func (p Paths) EnsureOutputDir(sessionID string) error {
	if err := os.MkdirAll(p.OutputDir(sessionID), 0o755); err != nil {
		return fmt.Errorf("layout: create output dir: %w", err)
	}
	return nil
}

// RemoveSession deletes a session's in-progress working directory. The
// scrape engine itself never calls this on abandonment (spec: "partial
// fragments on disk, if any, may be deleted by the host") — it exists for
// the host/CLI to invoke explicitly after a closed_before_completed event.
func (p Paths) RemoveSession(sessionID string) error {
	return os.RemoveAll(p.SessionDir(sessionID))
}
