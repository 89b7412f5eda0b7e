package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"gameshelf/internal/config"
	"gameshelf/internal/history"
	"gameshelf/internal/publish"
	"gameshelf/internal/report"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Paths.PlaytimeFile = filepath.Join(root, "track", "playtime_data.json")
	cfg.Paths.CatalogueDir = filepath.Join(root, "catalogue")
	cfg.Paths.OutputDir = filepath.Join(root, "out")
	cfg.Publish.BasePath = filepath.Join(root, "www")
	cfg.Render.Blurhash = false
	return cfg
}

func writePlaytime(t *testing.T, cfg *config.Config, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.Paths.PlaytimeFile), 0755))
	require.NoError(t, os.WriteFile(cfg.Paths.PlaytimeFile, []byte(content), 0644))
}

func writeCover(t *testing.T, cfg *config.Config, system, id string) {
	t.Helper()
	path := filepath.Join(cfg.Paths.CatalogueDir, system, cfg.Catalogue.BoxSubdir, id+".png")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestRun_BuildsPage(t *testing.T) {
	cfg := testConfig(t)
	writePlaytime(t, cfg, `{"NES": {"mario": {"launch_count": 10, "total_seconds": 3600}}}`)
	writeCover(t, cfg, "NES", "mario")

	sum, err := Run(context.Background(), cfg, Options{Logger: quietLogger()})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Games)
	assert.Equal(t, 1, sum.Systems)
	assert.Empty(t, sum.Warnings)
	assert.NotEmpty(t, sum.RunID)
	assert.True(t, sum.IndexChanged)
	assert.Nil(t, sum.Publish)

	page, err := os.ReadFile(filepath.Join(cfg.Paths.OutputDir, "index.html"))
	require.NoError(t, err)
	assert.Len(t, page, sum.PageBytes)
	assert.Contains(t, string(page), "covers/nes/mario.png")
	assert.Contains(t, string(page), "6m")
	assert.FileExists(t, filepath.Join(cfg.Paths.OutputDir, "covers", "nes", "mario.png"))
}

func TestRun_DegradesWithoutInputs(t *testing.T) {
	cfg := testConfig(t)

	sum, err := Run(context.Background(), cfg, Options{Logger: quietLogger()})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Count(sum.Warnings, report.DataUnavailable))
	assert.Equal(t, 1, report.Count(sum.Warnings, report.AssetUnavailable))
	assert.FileExists(t, filepath.Join(cfg.Paths.OutputDir, "index.html"))
}

func TestRun_CoversWithoutPlaytime(t *testing.T) {
	cfg := testConfig(t)
	writeCover(t, cfg, "SNES", "kirby")

	sum, err := Run(context.Background(), cfg, Options{Logger: quietLogger()})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Games)
	assert.Equal(t, 1, report.Count(sum.Warnings, report.DataUnavailable))
}

func TestRun_DeterministicAcrossKeyOrder(t *testing.T) {
	a := testConfig(t)
	b := testConfig(t)
	writePlaytime(t, a, `{"NES": {"mario": {"launch_count": 1, "total_seconds": 60}, "zelda": {"launch_count": 2, "total_seconds": 60}}, "GBA": {"advance": {"total_seconds": 5}}}`)
	writePlaytime(t, b, `{"GBA": {"advance": {"total_seconds": 5}}, "NES": {"zelda": {"total_seconds": 60, "launch_count": 2}, "mario": {"total_seconds": 60, "launch_count": 1}}}`)

	_, err := Run(context.Background(), a, Options{Logger: quietLogger()})
	require.NoError(t, err)
	_, err = Run(context.Background(), b, Options{Logger: quietLogger()})
	require.NoError(t, err)

	pageA, err := os.ReadFile(filepath.Join(a.Paths.OutputDir, "index.html"))
	require.NoError(t, err)
	pageB, err := os.ReadFile(filepath.Join(b.Paths.OutputDir, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, string(pageA), string(pageB))
}

func TestRun_DuplicateEntriesRenderStable(t *testing.T) {
	cfg := testConfig(t)
	writePlaytime(t, cfg, `{
		"/mnt/mmc/ROMS/NES/mario.nes": {"name": "Super Mario Bros", "total_time": 900, "launches": 4},
		"/mnt/sdcard/ROMS/NES/hacks/mario.zip": {"name": "Mario Hack", "total_time": 300, "launches": 9}
	}`)

	first, err := Run(context.Background(), cfg, Options{Logger: quietLogger()})
	require.NoError(t, err)
	require.True(t, first.IndexChanged)
	page, err := os.ReadFile(filepath.Join(cfg.Paths.OutputDir, "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(page), "Super Mario Bros")

	for i := 0; i < 20; i++ {
		sum, err := Run(context.Background(), cfg, Options{Logger: quietLogger()})
		require.NoError(t, err)
		assert.False(t, sum.IndexChanged, "run %d rewrote an unchanged page", i)

		again, err := os.ReadFile(filepath.Join(cfg.Paths.OutputDir, "index.html"))
		require.NoError(t, err)
		assert.Equal(t, string(page), string(again))
	}
}

func TestRun_UnwritableOutput(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))
	cfg.Paths.OutputDir = filepath.Join(blocker, "out")

	_, err := Run(context.Background(), cfg, Options{Logger: quietLogger()})
	assert.Error(t, err)
}

func TestRun_CancelledContext(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, cfg, Options{Logger: quietLogger()})
	assert.ErrorIs(t, err, context.Canceled)
}

type failingRunner struct{}

func (failingRunner) Run(context.Context, string, []string) ([]byte, []byte, error) {
	return nil, []byte("connection refused"), errors.New("exit status 255")
}

func TestRun_TransferFailureIsRecorded(t *testing.T) {
	cfg := testConfig(t)
	writePlaytime(t, cfg, `{"NES": {"mario": {"launch_count": 1, "total_seconds": 60}}}`)

	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"), quietLogger())
	require.NoError(t, err)
	defer store.Close()

	sum, err := Run(context.Background(), cfg, Options{
		Publish:        true,
		Logger:         quietLogger(),
		History:        store,
		PublishOptions: []publish.Option{
			publish.WithRunner(failingRunner{}),
			publish.WithLookPath(func(name string) (string, error) { return "/usr/bin/" + name, nil }),
		},
	})
	require.Error(t, err)

	var terr *publish.TransferError
	assert.True(t, errors.As(err, &terr))
	assert.Equal(t, 1, report.Count(sum.Warnings, report.TransferFailed))
	assert.FileExists(t, filepath.Join(cfg.Paths.OutputDir, "index.html"))

	runs, err := store.Recent(5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, sum.RunID, runs[0].ID)
	assert.False(t, runs[0].Published)
	assert.Contains(t, runs[0].Error, "connection refused")
}

func TestRun_PublishIsIdempotent(t *testing.T) {
	if _, err := exec.LookPath("rsync"); err != nil {
		t.Skip("rsync not installed")
	}
	cfg := testConfig(t)
	writePlaytime(t, cfg, `{"NES": {"mario": {"launch_count": 10, "total_seconds": 3600}}}`)
	writeCover(t, cfg, "NES", "mario")

	first, err := Run(context.Background(), cfg, Options{Publish: true, Logger: quietLogger()})
	require.NoError(t, err)
	require.NotNil(t, first.Publish)
	assert.Len(t, first.Publish.Transferred, 2)

	second, err := Run(context.Background(), cfg, Options{Publish: true, Logger: quietLogger()})
	require.NoError(t, err)
	assert.False(t, second.IndexChanged)
	assert.Empty(t, second.Publish.Transferred)
	assert.FileExists(t, filepath.Join(cfg.Publish.BasePath, "index.html"))
}

func TestPublish_ExistingOutput(t *testing.T) {
	if _, err := exec.LookPath("rsync"); err != nil {
		t.Skip("rsync not installed")
	}
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Paths.OutputDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Paths.OutputDir, "index.html"), []byte("hi"), 0644))

	sum, err := Publish(context.Background(), cfg, Options{Logger: quietLogger()})
	require.NoError(t, err)
	assert.Equal(t, []string{"index.html"}, sum.Publish.Transferred)
}
