// Package catalogue locates box-art images laid out as <root>/<System>/box/<game_id>.<ext>.
package catalogue

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gameshelf/internal/report"
	"gameshelf/pkg/models"

	"github.com/sirupsen/logrus"
)

// Assets maps a game key to its box art
type Assets map[models.GameKey]models.CoverAsset

// ignoredNames are files left behind by other operating systems on the SD card
var ignoredNames = []string{
	".DS_Store",
	"._*",
	"Thumbs.db",
	"desktop.ini",
}

// Scanner walks a catalogue tree
type Scanner struct {
	imageFormats []string
	boxSubdir    string
	logger       *logrus.Logger
}

// NewScanner creates a scanner matching the given extensions (".png" style)
func NewScanner(imageFormats []string, boxSubdir string, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	if boxSubdir == "" {
		boxSubdir = "box"
	}
	return &Scanner{
		imageFormats: imageFormats,
		boxSubdir:    boxSubdir,
		logger:       logger,
	}
}

// Scan returns one asset per (system, game_id). Directory entries are read in
// sorted order, so when two files share a stem the first one by name wins.
func (s *Scanner) Scan(root string) report.Result[Assets] {
	res := report.Result[Assets]{Value: Assets{}}

	systems, err := os.ReadDir(root)
	if err != nil {
		res.Warn(report.AssetUnavailable, root, err)
		return res
	}

	for _, entry := range systems {
		if isHidden(entry.Name()) || !isDir(root, entry) {
			continue
		}
		system := entry.Name()
		boxDir := filepath.Join(root, system, s.boxSubdir)

		files, err := os.ReadDir(boxDir)
		if err != nil {
			res.Warn(report.AssetUnavailable, boxDir, err)
			continue
		}

		found := 0
		for _, file := range files {
			if file.IsDir() || s.isIgnored(file.Name()) {
				continue
			}
			name := file.Name()
			ext := filepath.Ext(name)
			if !s.IsImageFile(name) {
				continue
			}
			gameID := strings.TrimSuffix(name, ext)
			if gameID == "" {
				continue
			}

			key := models.GameKey{System: system, GameID: gameID}
			if existing, ok := res.Value[key]; ok {
				s.logger.WithFields(logrus.Fields{
					"system":  system,
					"game_id": gameID,
					"kept":    filepath.Base(existing.FilePath),
					"ignored": name,
				}).Debug("Duplicate box art, keeping first match")
				continue
			}
			res.Value[key] = models.CoverAsset{
				System:   system,
				GameID:   gameID,
				FilePath: filepath.Join(boxDir, name),
			}
			found++
		}

		s.logger.WithFields(logrus.Fields{
			"system": system,
			"covers": found,
		}).Debug("Scanned box art")
	}

	s.logger.WithField("root", root).Debug(Describe(res.Value))
	return res
}

// IsImageFile checks if a file has one of the configured image extensions
func (s *Scanner) IsImageFile(filePath string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	for _, format := range s.imageFormats {
		if ext == strings.ToLower(format) {
			return true
		}
	}
	return false
}

func (s *Scanner) isIgnored(name string) bool {
	if isHidden(name) {
		return true
	}
	for _, pattern := range ignoredNames {
		if match, _ := filepath.Match(pattern, name); match {
			return true
		}
	}
	return false
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// isDir follows symlinks, which are common when catalogues live on a second card
func isDir(root string, entry os.DirEntry) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&os.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(root, entry.Name()))
	return err == nil && info.IsDir()
}

// MimeType returns the MIME type for an image file, sniffing the content
// when the extension is not recognised
func MimeType(filePath string, data []byte) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return DetectMimeType(data)
	}
}

// DetectMimeType guesses the MIME type from image magic bytes
func DetectMimeType(data []byte) string {
	if len(data) < 4 {
		return "application/octet-stream"
	}

	if data[0] == 0xFF && data[1] == 0xD8 {
		return "image/jpeg"
	}
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	if data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 {
		return "image/gif"
	}
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP" {
		return "image/webp"
	}

	return "application/octet-stream"
}

// Describe summarises a scan result for logs
func Describe(assets Assets) string {
	systems := make(map[string]struct{})
	for key := range assets {
		systems[key.System] = struct{}{}
	}
	return fmt.Sprintf("%d covers across %d systems", len(assets), len(systems))
}
