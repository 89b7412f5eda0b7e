package render

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"

	"gameshelf/internal/report"
	"gameshelf/pkg/models"

	"github.com/dchest/safefile"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// SiteStats describes what WriteSite did to the output directory
type SiteStats struct {
	IndexPath    string
	PageBytes    int
	IndexChanged bool
	CoversCopied int
	CoversKept   int
	FilesRemoved int
}

// WriteSite renders the collection into outDir. Files whose content is
// already current are left alone so their modification times stay stable
// for the differential sync.
func (r *Renderer) WriteSite(view models.CollectionView, outDir string) (report.Result[SiteStats], error) {
	res := report.Result[SiteStats]{}
	stats := &res.Value

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return res, fmt.Errorf("failed to create output directory: %w", err)
	}

	var covers map[models.GameKey]cover
	keep := make(map[string]bool)
	if r.cfg.EmbedCovers {
		covers = r.resolveCovers(view, &res.Warnings)
	} else {
		covers = r.copyCovers(view, outDir, keep, stats, &res.Warnings)
	}

	removed, err := removeStale(filepath.Join(outDir, CoversDir), keep)
	if err != nil {
		r.logger.WithError(err).Warn("Failed to prune stale covers")
	}
	stats.FilesRemoved = removed

	html := r.execute(view, covers, &res.Warnings)
	if html == nil {
		return res, fmt.Errorf("failed to render page")
	}
	stats.IndexPath = filepath.Join(outDir, IndexFile)
	stats.PageBytes = len(html)

	changed, err := writeIfChanged(stats.IndexPath, html)
	if err != nil {
		return res, fmt.Errorf("failed to write %s: %w", IndexFile, err)
	}
	stats.IndexChanged = changed

	r.logger.WithFields(logrus.Fields{
		"index":         stats.IndexPath,
		"size":          humanize.Bytes(uint64(stats.PageBytes)),
		"index_changed": stats.IndexChanged,
		"covers_copied": stats.CoversCopied,
		"covers_kept":   stats.CoversKept,
		"removed":       stats.FilesRemoved,
	}).Info("Wrote collection page")

	return res, nil
}

// copyCovers mirrors every cover into outDir/covers/<system>/ and returns the
// URLs of the ones that made it. A cover that cannot be copied falls back to
// the placeholder tile.
func (r *Renderer) copyCovers(view models.CollectionView, outDir string, keep map[string]bool, stats *SiteStats, warns *[]report.Warning) map[models.GameKey]cover {
	slugs := r.slugs(view)
	covers := make(map[models.GameKey]cover)

	for _, g := range view.Games() {
		if !g.HasCover() {
			continue
		}
		slug := slugs[g.System]
		name := coverFileName(g)
		dst := filepath.Join(outDir, CoversDir, slug, name)

		copied, err := syncFile(g.CoverPath, dst)
		if err != nil {
			*warns = append(*warns, report.Warning{Kind: report.RenderDegraded, Subject: g.CoverPath, Err: err})
			continue
		}
		keep[dst] = true
		if copied {
			stats.CoversCopied++
		} else {
			stats.CoversKept++
		}

		covers[g.Key()] = cover{
			URL:         template.URL(coverURL(slug, name)),
			Placeholder: r.placeholder(g, warns),
		}
	}
	return covers
}

// syncFile copies src to dst unless dst already has the same size and
// modification time. The copy keeps the source modification time.
func syncFile(src, dst string) (bool, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return false, err
	}
	if dstInfo, err := os.Stat(dst); err == nil &&
		dstInfo.Size() == srcInfo.Size() &&
		dstInfo.ModTime().Unix() == srcInfo.ModTime().Unix() {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return false, err
	}

	in, err := os.Open(src)
	if err != nil {
		return false, err
	}
	defer in.Close()

	out, err := safefile.Create(dst, 0644)
	if err != nil {
		return false, err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return false, err
	}
	if err := out.Commit(); err != nil {
		return false, err
	}

	mtime := srcInfo.ModTime()
	if err := os.Chtimes(dst, mtime, mtime); err != nil {
		return true, err
	}
	return true, nil
}

// writeIfChanged atomically replaces path with data unless it already holds it
func writeIfChanged(path string, data []byte) (bool, error) {
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, data) {
		return false, nil
	}

	f, err := safefile.Create(path, 0644)
	if err != nil {
		return false, err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return false, err
	}
	if err := f.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// removeStale deletes files under dir that are not in keep, then any
// directories left empty
func removeStale(dir string, keep map[string]bool) (int, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return 0, nil
	}

	removed := 0
	var dirs []string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir {
				dirs = append(dirs, p)
			}
			return nil
		}
		if !keep[p] {
			if err := os.Remove(p); err != nil {
				return err
			}
			removed++
		}
		return nil
	})

	// Deepest first so parents empty out after their children.
	for i := len(dirs) - 1; i >= 0; i-- {
		if entries, rerr := os.ReadDir(dirs[i]); rerr == nil && len(entries) == 0 {
			_ = os.Remove(dirs[i])
		}
	}
	return removed, err
}
