// Package playtime loads the per-game statistics written by the console's
// playtime tracker.
package playtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"os"
	"path"
	"slices"
	"strings"
	"time"

	"gameshelf/internal/report"
	"gameshelf/pkg/models"

	"github.com/sirupsen/logrus"
)

// romsMarker separates the SD card prefix from <System>/<file> in tracker keys
const romsMarker = "/ROMS/"

// Field aliases, the first one holding a usable value wins. The first name is
// the documented one, the rest are what the muOS tracker writes.
var (
	launchFields     = []string{"launch_count", "launches"}
	secondsFields    = []string{"total_seconds", "total_time"}
	lastPlayedFields = []string{"last_played", "start_time"}
)

// Records maps a game key to its playtime
type Records map[models.GameKey]models.PlaytimeRecord

// Reader parses playtime documents
type Reader struct {
	aliases map[string]string
	logger  *logrus.Logger
}

// NewReader creates a reader that renames tracker systems through aliases
func NewReader(aliases map[string]string, logger *logrus.Logger) *Reader {
	if logger == nil {
		logger = logrus.New()
	}
	return &Reader{
		aliases: aliases,
		logger:  logger,
	}
}

// Read loads the playtime file. A missing or corrupt file yields an empty
// map plus a DataUnavailable warning so the page can still be built from box
// art alone.
func (r *Reader) Read(filePath string) report.Result[Records] {
	res := report.Result[Records]{Value: Records{}}

	data, err := os.ReadFile(filePath)
	if err != nil {
		res.Warn(report.DataUnavailable, filePath, err)
		return res
	}

	parsed := r.Parse(data)
	res.Value = parsed.Value
	for _, w := range parsed.Warnings {
		if w.Subject == "" {
			w.Subject = filePath
		}
		res.Warnings = append(res.Warnings, w)
	}

	r.logger.WithFields(logrus.Fields{
		"file_path": filePath,
		"records":   len(res.Value),
		"skipped":   len(res.Warnings),
	}).Debug("Loaded playtime data")

	return res
}

// Parse decodes a playtime document held in memory. Keys are visited in
// sorted order and duplicates merge independently of that order, so the same
// document always yields the same records.
func (r *Reader) Parse(data []byte) report.Result[Records] {
	res := report.Result[Records]{Value: Records{}}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		res.Warn(report.DataUnavailable, "", fmt.Errorf("failed to parse playtime data: %w", err))
		return res
	}

	m := newMerger(res.Value)
	for _, key := range slices.Sorted(maps.Keys(top)) {
		raw := top[key]
		if strings.Contains(key, romsMarker) {
			r.addTrackerEntry(&res, m, key, raw)
			continue
		}

		var games map[string]json.RawMessage
		if err := json.Unmarshal(raw, &games); err != nil {
			res.Warn(report.DataUnavailable, key, fmt.Errorf("system entry is not an object: %w", err))
			continue
		}
		system := r.systemName(key)
		for _, gameID := range slices.Sorted(maps.Keys(games)) {
			if gameID == "" {
				res.Warn(report.DataUnavailable, key, fmt.Errorf("empty game identifier"))
				continue
			}
			record, err := decodeRecord(games[gameID])
			if err != nil {
				res.Warn(report.DataUnavailable, key+"/"+gameID, err)
				continue
			}
			record.System = system
			record.GameID = gameID
			m.add(record, key+"/"+gameID)
		}
	}

	return res
}

// addTrackerEntry handles keys like /mnt/mmc/ROMS/<System>/<sub>/<game>.<ext>
func (r *Reader) addTrackerEntry(res *report.Result[Records], m *merger, key string, raw json.RawMessage) {
	rest := key[strings.Index(key, romsMarker)+len(romsMarker):]
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" {
		res.Warn(report.DataUnavailable, key, fmt.Errorf("rom path has no system directory"))
		return
	}

	file := parts[len(parts)-1]
	gameID := strings.TrimSuffix(file, path.Ext(file))
	if gameID == "" {
		res.Warn(report.DataUnavailable, key, fmt.Errorf("rom path has no file name"))
		return
	}

	record, err := decodeRecord(raw)
	if err != nil {
		res.Warn(report.DataUnavailable, key, err)
		return
	}
	record.System = r.systemName(parts[0])
	record.GameID = gameID
	m.add(record, key)
}

func (r *Reader) systemName(name string) string {
	if alias, ok := r.aliases[name]; ok && alias != "" {
		return alias
	}
	return name
}

// nameSource remembers which entry a merged record took its name from
type nameSource struct {
	seconds  int64
	launches int
	key      string
}

// beats orders name candidates: most playtime, then most launches, then the
// smallest source key.
func (n nameSource) beats(other nameSource) bool {
	if n.seconds != other.seconds {
		return n.seconds > other.seconds
	}
	if n.launches != other.launches {
		return n.launches > other.launches
	}
	return n.key < other.key
}

// merger folds duplicate entries of the same game into one record
type merger struct {
	records Records
	names   map[models.GameKey]nameSource
}

func newMerger(records Records) *merger {
	return &merger{records: records, names: make(map[models.GameKey]nameSource)}
}

func (m *merger) add(rec models.PlaytimeRecord, source string) {
	key := rec.Key()
	candidate := nameSource{seconds: rec.TotalSeconds, launches: rec.LaunchCount, key: source}

	existing, ok := m.records[key]
	if !ok {
		m.records[key] = rec
		if rec.Name != "" {
			m.names[key] = candidate
		}
		return
	}

	existing.LaunchCount = addInt(existing.LaunchCount, rec.LaunchCount)
	existing.TotalSeconds = addInt64(existing.TotalSeconds, rec.TotalSeconds)
	if rec.Name != "" {
		if current, named := m.names[key]; !named || candidate.beats(current) {
			existing.Name = rec.Name
			m.names[key] = candidate
		}
	}
	if rec.LastPlayed != nil && (existing.LastPlayed == nil || rec.LastPlayed.After(*existing.LastPlayed)) {
		existing.LastPlayed = rec.LastPlayed
	}
	if len(rec.DeviceLaunches) > 0 {
		combined := make(map[string]int, len(existing.DeviceLaunches)+len(rec.DeviceLaunches))
		for dev, n := range existing.DeviceLaunches {
			combined[dev] = n
		}
		for dev, n := range rec.DeviceLaunches {
			combined[dev] = addInt(combined[dev], n)
		}
		existing.DeviceLaunches = combined
	}
	m.records[key] = existing
}

// addInt64 adds two non-negative values, saturating at math.MaxInt64
func addInt64(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

func addInt(a, b int) int {
	if a > math.MaxInt-b {
		return math.MaxInt
	}
	return a + b
}

func decodeRecord(raw json.RawMessage) (models.PlaytimeRecord, error) {
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return models.PlaytimeRecord{}, fmt.Errorf("record is not an object: %w", err)
	}
	if fields == nil {
		return models.PlaytimeRecord{}, fmt.Errorf("record is null")
	}

	rec := models.PlaytimeRecord{
		LaunchCount:  int(lookupInt(fields, launchFields)),
		TotalSeconds: lookupInt(fields, secondsFields),
		LastPlayed:   lookupTime(fields, lastPlayedFields),
	}
	if name, ok := fields["name"].(string); ok {
		rec.Name = strings.TrimSpace(name)
	}
	if devices, ok := fields["device_launches"].(map[string]any); ok {
		rec.DeviceLaunches = make(map[string]int, len(devices))
		for dev, v := range devices {
			if n := toInt(v); n > 0 {
				rec.DeviceLaunches[dev] = int(n)
			}
		}
	}
	return rec, nil
}

// lookupInt returns the first field holding a number, clamped at zero.
// Fields that are present but not numeric are skipped.
func lookupInt(fields map[string]any, names []string) int64 {
	for _, name := range names {
		if n, ok := parseInt(fields[name]); ok {
			return n
		}
	}
	return 0
}

func toInt(v any) int64 {
	n, _ := parseInt(v)
	return n
}

func parseInt(v any) (int64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	if i, err := n.Int64(); err == nil {
		return max(i, 0), true
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	switch {
	case f <= 0:
		return 0, true
	case f >= math.MaxInt64:
		return math.MaxInt64, true
	}
	return int64(f), true
}

// lookupTime accepts unix seconds or an RFC 3339 string from the first field
// that holds a usable value. Zero means never.
func lookupTime(fields map[string]any, names []string) *time.Time {
	for _, name := range names {
		switch v := fields[name].(type) {
		case json.Number:
			secs, ok := parseInt(v)
			if !ok || secs == 0 {
				continue
			}
			t := time.Unix(secs, 0).UTC()
			return &t
		case string:
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				continue
			}
			t = t.UTC()
			return &t
		}
	}
	return nil
}
