package catalogue

import (
	"os"
	"path/filepath"
	"testing"

	"gameshelf/internal/report"
	"gameshelf/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScanner() *Scanner {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewScanner([]string{".png", ".jpg", ".jpeg", ".webp"}, "box", logger)
}

func touch(t *testing.T, root string, parts ...string) string {
	t.Helper()
	p := filepath.Join(append([]string{root}, parts...)...)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte("img"), 0644))
	return p
}

func TestScanner_Scan(t *testing.T) {
	root := t.TempDir()
	mario := touch(t, root, "NES", "box", "mario.png")
	touch(t, root, "NES", "box", "zelda.JPG")
	touch(t, root, "NES", "box", "notes.txt")
	touch(t, root, "NES", "box", ".hidden.png")
	touch(t, root, "NES", "box", "._mario.png")
	touch(t, root, "Sega Mega Drive - Genesis", "box", "Sonic The Hedgehog (USA, Europe).webp")
	touch(t, root, "Sega Mega Drive - Genesis", "preview", "Sonic.png")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Empty System"), 0755))

	res := newTestScanner().Scan(root)

	assert.Len(t, res.Value, 3)
	assert.Equal(t, models.CoverAsset{System: "NES", GameID: "mario", FilePath: mario},
		res.Value[models.GameKey{System: "NES", GameID: "mario"}])
	assert.Contains(t, res.Value, models.GameKey{System: "NES", GameID: "zelda"})
	assert.Contains(t, res.Value, models.GameKey{System: "Sega Mega Drive - Genesis", GameID: "Sonic The Hedgehog (USA, Europe)"})

	require.Len(t, res.Warnings, 1, "the system without a box dir is reported")
	assert.Equal(t, report.AssetUnavailable, res.Warnings[0].Kind)
}

func TestScanner_FirstMatchWins(t *testing.T) {
	root := t.TempDir()
	jpg := touch(t, root, "SNES", "box", "metroid.jpg")
	touch(t, root, "SNES", "box", "metroid.png")

	res := newTestScanner().Scan(root)
	require.Len(t, res.Value, 1)
	assert.Equal(t, jpg, res.Value[models.GameKey{System: "SNES", GameID: "metroid"}].FilePath)
}

func TestScanner_ExactStemMatch(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "NES", "box", "Mario.png")

	res := newTestScanner().Scan(root)
	assert.Contains(t, res.Value, models.GameKey{System: "NES", GameID: "Mario"})
	assert.NotContains(t, res.Value, models.GameKey{System: "NES", GameID: "mario"})
}

func TestScanner_MissingRoot(t *testing.T) {
	res := newTestScanner().Scan(filepath.Join(t.TempDir(), "missing"))
	assert.Empty(t, res.Value)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, report.AssetUnavailable, res.Warnings[0].Kind)
}

func TestScanner_IsImageFile(t *testing.T) {
	s := newTestScanner()
	testCases := []struct {
		filename string
		expected bool
	}{
		{"cover.png", true},
		{"cover.PNG", true},
		{"cover.Jpeg", true},
		{"cover.webp", true},
		{"cover.gif", false},
		{"cover.txt", false},
		{"cover", false},
		{"", false},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, s.IsImageFile(tc.filename), tc.filename)
	}
}

func TestDetectMimeType(t *testing.T) {
	testCases := []struct {
		name     string
		data     []byte
		expected string
	}{
		{"JPEG", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "image/jpeg"},
		{"PNG", []byte{0x89, 0x50, 0x4E, 0x47}, "image/png"},
		{"GIF", []byte{0x47, 0x49, 0x46, 0x38}, "image/gif"},
		{"WEBP", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "image/webp"},
		{"Unknown", []byte{0x00, 0x00, 0x00, 0x00}, "application/octet-stream"},
		{"Too short", []byte{0xFF}, "application/octet-stream"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, DetectMimeType(tc.data))
		})
	}

	assert.Equal(t, "image/png", MimeType("a/b/c.PNG", nil))
	assert.Equal(t, "image/gif", MimeType("cover.bin", []byte("GIF89a")))
}
