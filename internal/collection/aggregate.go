// Package collection joins playtime records with box art into the view the
// page is rendered from.
package collection

import (
	"sort"

	"gameshelf/internal/catalogue"
	"gameshelf/internal/playtime"
	"gameshelf/pkg/models"
)

// Build produces one GameView for every key present in either input.
//
// Systems are ordered by name and games by descending playtime with the game
// ID as tie-break, so identical inputs always give identical views.
func Build(records playtime.Records, assets catalogue.Assets) models.CollectionView {
	keys := make(map[models.GameKey]struct{}, len(records)+len(assets))
	for key := range records {
		keys[key] = struct{}{}
	}
	for key := range assets {
		keys[key] = struct{}{}
	}

	bySystem := make(map[string][]models.GameView)
	for key := range keys {
		view := newGameView(key, records[key], assets[key])
		bySystem[key.System] = append(bySystem[key.System], view)
	}

	var col models.CollectionView
	for name, games := range bySystem {
		sortGames(games)
		group := models.SystemGroup{Name: name, Games: games}
		for _, g := range games {
			group.TotalSeconds += g.TotalSeconds
			group.LaunchCount += g.LaunchCount
		}
		col.Systems = append(col.Systems, group)
		col.TotalGames += len(games)
		col.TotalSeconds += group.TotalSeconds
		col.TotalLaunches += group.LaunchCount
	}
	sort.Slice(col.Systems, func(i, j int) bool {
		return col.Systems[i].Name < col.Systems[j].Name
	})

	col.TopSystem = topSystem(col.Systems)
	col.NowPlaying = nowPlaying(col.Systems)
	return col
}

func newGameView(key models.GameKey, rec models.PlaytimeRecord, asset models.CoverAsset) models.GameView {
	name := rec.Name
	if name == "" {
		name = key.GameID
	}
	return models.GameView{
		GameID:                key.GameID,
		System:                key.System,
		DisplayName:           name,
		LaunchCount:           rec.LaunchCount,
		TotalSeconds:          rec.TotalSeconds,
		AverageSessionSeconds: AverageSession(rec.TotalSeconds, rec.LaunchCount),
		CoverPath:             asset.FilePath,
		LastPlayed:            rec.LastPlayed,
		DeviceLaunches:        rec.DeviceLaunches,
	}
}

// AverageSession is total/launches in whole seconds, 0 when never launched
func AverageSession(totalSeconds int64, launches int) int64 {
	if launches <= 0 {
		return 0
	}
	return totalSeconds / int64(launches)
}

func sortGames(games []models.GameView) {
	sort.Slice(games, func(i, j int) bool {
		if games[i].TotalSeconds != games[j].TotalSeconds {
			return games[i].TotalSeconds > games[j].TotalSeconds
		}
		return games[i].GameID < games[j].GameID
	})
}

// topSystem is the system with the most playtime; ties go to the first by name
func topSystem(systems []models.SystemGroup) string {
	top := ""
	var best int64 = -1
	for _, group := range systems {
		if group.TotalSeconds > best {
			top = group.Name
			best = group.TotalSeconds
		}
	}
	return top
}

// nowPlaying picks the most recently played game. Systems are already in
// page order, so the first game seen wins a tie.
func nowPlaying(systems []models.SystemGroup) *models.GameView {
	var latest *models.GameView
	for i := range systems {
		for j := range systems[i].Games {
			g := &systems[i].Games[j]
			if g.LastPlayed == nil {
				continue
			}
			if latest == nil || g.LastPlayed.After(*latest.LastPlayed) {
				latest = g
			}
		}
	}
	if latest == nil {
		return nil
	}
	featured := *latest
	return &featured
}

// SystemsByPlaytime returns system names ordered by playtime, most played
// first, for the page's filter bar
func SystemsByPlaytime(col models.CollectionView) []models.SystemGroup {
	ordered := make([]models.SystemGroup, len(col.Systems))
	copy(ordered, col.Systems)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].TotalSeconds > ordered[j].TotalSeconds
	})
	return ordered
}
