// Package render turns a collection view into a static HTML page.
package render

import (
	"bytes"
	"embed"
	"encoding/base64"
	"fmt"
	"html/template"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"gameshelf/internal/cache"
	"gameshelf/internal/catalogue"
	"gameshelf/internal/collection"
	"gameshelf/internal/config"
	"gameshelf/internal/report"
	"gameshelf/pkg/models"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

//go:embed templates/collection.html.tmpl
var templateFS embed.FS

const (
	defaultTemplate = "templates/collection.html.tmpl"
	// CoversDir is the output subdirectory holding linked box art.
	CoversDir = "covers"
	// IndexFile is the page entry point.
	IndexFile = "index.html"
	// lastPlayedLayout is used for last-played dates on the page.
	lastPlayedLayout = "2 Jan 2006"
)

// Renderer renders collection pages
type Renderer struct {
	cfg       config.RenderConfig
	systems   config.SystemsConfig
	logger    *logrus.Logger
	tmpl      *template.Template
	initWarns []report.Warning
	now       func() time.Time

	placeholders *cache.MemoryCache[string]
}

// NewRenderer parses the page template. A custom template that fails to load
// falls back to the built-in one and is reported on every render.
func NewRenderer(cfg config.RenderConfig, systems config.SystemsConfig, logger *logrus.Logger) (*Renderer, error) {
	if logger == nil {
		logger = logrus.New()
	}
	r := &Renderer{
		cfg:     cfg,
		systems: systems,
		logger:  logger,
		now:     time.Now,
	}

	if cfg.TemplatePath != "" {
		tmpl, err := template.ParseFiles(cfg.TemplatePath)
		if err == nil {
			r.tmpl = tmpl
			return r, nil
		}
		r.initWarns = append(r.initWarns, report.Warning{
			Kind:    report.RenderDegraded,
			Subject: cfg.TemplatePath,
			Err:     fmt.Errorf("custom template unusable, using built-in: %w", err),
		})
	}

	tmpl, err := template.ParseFS(templateFS, defaultTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse built-in template: %w", err)
	}
	r.tmpl = tmpl
	return r, nil
}

// SetPlaceholderCache lets placeholders survive between renders. Entries are
// keyed by path, size and modification time so edited covers are recomputed.
func (r *Renderer) SetPlaceholderCache(c *cache.MemoryCache[string]) {
	r.placeholders = c
}

// cover is how a game's box art appears on the page
type cover struct {
	URL         template.URL
	Placeholder string
}

// page is the template model
type page struct {
	Title       string
	Stats       heroStats
	NowPlaying  *card
	Filters     []filter
	Systems     []section
	GeneratedAt string
}

type heroStats struct {
	Games     string
	Playtime  string
	Launches  string
	TopSystem string
}

type filter struct {
	Slug        string
	Label       string
	Count       int
	ButtonStyle template.CSS
}

type section struct {
	Name     string
	Slug     string
	Playtime string
	Launches string
	Cards    []card
}

type card struct {
	GameID           string
	Name             string
	Initial          string
	SystemShort      string
	BadgeStyle       template.CSS
	CoverURL         template.URL
	PlaceholderStyle template.CSS
	Played           string
	Launches         string
	Average          string
	LastPlayed       string
	TotalSeconds     int64
	Devices          []device
}

type device struct {
	Name  string
	Count int
}

// Render produces the page for a collection. Identical views give identical
// bytes unless the generated-at footer is enabled.
func (r *Renderer) Render(view models.CollectionView) report.Result[[]byte] {
	res := report.Result[[]byte]{}
	covers := r.resolveCovers(view, &res.Warnings)
	res.Value = r.execute(view, covers, &res.Warnings)
	return res
}

// execute runs the template with already resolved covers
func (r *Renderer) execute(view models.CollectionView, covers map[models.GameKey]cover, warns *[]report.Warning) []byte {
	*warns = append(*warns, r.initWarns...)

	p := r.buildPage(view, covers, warns)
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, p); err != nil {
		// A broken custom template still leaves the built-in one.
		*warns = append(*warns, report.Warning{Kind: report.RenderDegraded, Subject: "template", Err: err})
		fallback, perr := template.ParseFS(templateFS, defaultTemplate)
		buf.Reset()
		if perr != nil || fallback.Execute(&buf, p) != nil {
			return nil
		}
	}
	return buf.Bytes()
}

func (r *Renderer) buildPage(view models.CollectionView, covers map[models.GameKey]cover, warns *[]report.Warning) page {
	slugs := r.slugs(view)

	p := page{
		Title: r.cfg.Title,
		Stats: heroStats{
			Games:     humanize.Comma(int64(view.TotalGames)),
			Playtime:  collection.FormatDurationLong(view.TotalSeconds),
			Launches:  humanize.Comma(int64(view.TotalLaunches)),
			TopSystem: r.shortName(view.TopSystem),
		},
	}
	if p.Title == "" {
		p.Title = "Game Collection"
	}

	for _, group := range collection.SystemsByPlaytime(view) {
		p.Filters = append(p.Filters, filter{
			Slug:        slugs[group.Name],
			Label:       r.shortName(group.Name),
			Count:       len(group.Games),
			ButtonStyle: template.CSS("--btn-color:" + systemColor(r.systems.Colors, group.Name)),
		})
	}

	for _, group := range view.Systems {
		s := section{
			Name:     group.Name,
			Slug:     slugs[group.Name],
			Playtime: collection.FormatDuration(group.TotalSeconds),
			Launches: humanize.Comma(int64(group.LaunchCount)),
		}
		for _, g := range group.Games {
			s.Cards = append(s.Cards, r.buildCard(g, covers[g.Key()], warns))
		}
		p.Systems = append(p.Systems, s)
	}

	if view.NowPlaying != nil {
		// The featured card repeats a game already listed; its warnings are not counted twice.
		var ignored []report.Warning
		c := r.buildCard(*view.NowPlaying, covers[view.NowPlaying.Key()], &ignored)
		p.NowPlaying = &c
	}

	if r.cfg.ShowGeneratedAt {
		p.GeneratedAt = r.now().UTC().Format("2006-01-02 15:04 MST")
	}
	return p
}

func (r *Renderer) buildCard(g models.GameView, cv cover, warns *[]report.Warning) card {
	name := strings.TrimSpace(g.DisplayName)
	if name == "" {
		name = g.GameID
		if name == "" {
			name = "?"
		}
		*warns = append(*warns, report.Warning{
			Kind:    report.RenderDegraded,
			Subject: g.System + "/" + g.GameID,
			Err:     fmt.Errorf("missing display name"),
		})
	}

	c := card{
		GameID:       g.GameID,
		Name:         name,
		Initial:      initial(name),
		SystemShort:  r.shortName(g.System),
		BadgeStyle:   template.CSS("background:" + systemColor(r.systems.Colors, g.System)),
		CoverURL:     cv.URL,
		Played:       collection.FormatDuration(g.TotalSeconds),
		Launches:     humanize.Comma(int64(g.LaunchCount)),
		Average:      collection.FormatDuration(g.AverageSessionSeconds),
		TotalSeconds: g.TotalSeconds,
	}
	if cv.Placeholder != "" {
		c.PlaceholderStyle = template.CSS("background-image:url(" + cv.Placeholder + ")")
	}
	if g.LastPlayed != nil {
		c.LastPlayed = g.LastPlayed.UTC().Format(lastPlayedLayout)
	}

	devices := make([]string, 0, len(g.DeviceLaunches))
	for dev := range g.DeviceLaunches {
		devices = append(devices, dev)
	}
	sort.Strings(devices)
	for _, dev := range devices {
		label := dev
		if short, ok := r.cfg.DeviceNames[dev]; ok && short != "" {
			label = short
		}
		c.Devices = append(c.Devices, device{Name: label, Count: g.DeviceLaunches[dev]})
	}
	return c
}

// resolveCovers decides the page URL of every cover. Linked covers are
// referenced by their future location under CoversDir; embedded covers are
// read and inlined.
func (r *Renderer) resolveCovers(view models.CollectionView, warns *[]report.Warning) map[models.GameKey]cover {
	slugs := r.slugs(view)
	covers := make(map[models.GameKey]cover)

	for _, g := range view.Games() {
		if !g.HasCover() {
			continue
		}
		key := g.Key()
		var cv cover

		if r.cfg.EmbedCovers {
			data, err := os.ReadFile(g.CoverPath)
			if err != nil {
				*warns = append(*warns, report.Warning{Kind: report.RenderDegraded, Subject: g.CoverPath, Err: err})
				continue
			}
			mime := catalogue.MimeType(g.CoverPath, data)
			cv.URL = template.URL("data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data))
		} else {
			cv.URL = template.URL(coverURL(slugs[g.System], coverFileName(g)))
		}

		cv.Placeholder = r.placeholder(g, warns)
		covers[key] = cv
	}
	return covers
}

func (r *Renderer) placeholder(g models.GameView, warns *[]report.Warning) string {
	if !r.cfg.Blurhash {
		return ""
	}

	var key string
	if r.placeholders != nil {
		if info, err := os.Stat(g.CoverPath); err == nil {
			key = fmt.Sprintf("%s|%d|%d", g.CoverPath, info.Size(), info.ModTime().UnixNano())
			if uri, ok := r.placeholders.Get(key); ok {
				return uri
			}
		}
	}

	hash, err := ComputeBlurHash(g.CoverPath)
	if err == nil {
		var uri string
		if uri, err = PlaceholderDataURI(hash); err == nil {
			if key != "" {
				r.placeholders.Set(key, uri)
			}
			return uri
		}
	}
	*warns = append(*warns, report.Warning{
		Kind:    report.RenderDegraded,
		Subject: g.CoverPath,
		Err:     fmt.Errorf("no blurhash placeholder: %w", err),
	})
	return ""
}

func (r *Renderer) slugs(view models.CollectionView) map[string]string {
	names := make([]string, 0, len(view.Systems))
	for _, group := range view.Systems {
		names = append(names, group.Name)
	}
	return slugTable(names)
}

func (r *Renderer) shortName(system string) string {
	if short, ok := r.systems.ShortNames[system]; ok && short != "" {
		return short
	}
	return system
}

// coverFileName keeps the catalogue file name so stems stay recognisable
func coverFileName(g models.GameView) string {
	return g.GameID + strings.ToLower(filepath.Ext(g.CoverPath))
}

// coverURL is the page-relative URL of a linked cover
func coverURL(systemSlug, fileName string) string {
	return path.Join(CoversDir, systemSlug, url.PathEscape(fileName))
}

func initial(name string) string {
	r, _ := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return "?"
	}
	return string(unicode.ToUpper(r))
}
