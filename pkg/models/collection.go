package models

import "time"

// GameKey identifies a game across the playtime source and the catalogue
type GameKey struct {
	System string `json:"system"`
	GameID string `json:"gameId"`
}

// PlaytimeRecord is the per-game statistic tuple loaded from the tracker
type PlaytimeRecord struct {
	System         string         `json:"system"`
	GameID         string         `json:"gameId"`
	Name           string         `json:"name,omitempty"`
	LaunchCount    int            `json:"launchCount"`
	TotalSeconds   int64          `json:"totalSeconds"` // in seconds
	LastPlayed     *time.Time     `json:"lastPlayed,omitempty"`
	DeviceLaunches map[string]int `json:"deviceLaunches,omitempty"`
}

// Key returns the join key of the record
func (r PlaytimeRecord) Key() GameKey {
	return GameKey{System: r.System, GameID: r.GameID}
}

// CoverAsset is a box-art image located in the catalogue
type CoverAsset struct {
	System   string `json:"system"`
	GameID   string `json:"gameId"`
	FilePath string `json:"-"`
}

// GameView is the joined, render-ready view of a single game
type GameView struct {
	GameID                string         `json:"gameId"`
	System                string         `json:"system"`
	DisplayName           string         `json:"displayName"`
	LaunchCount           int            `json:"launchCount"`
	TotalSeconds          int64          `json:"totalSeconds"`
	AverageSessionSeconds int64          `json:"averageSessionSeconds"`
	CoverPath             string         `json:"-"` // empty means placeholder
	LastPlayed            *time.Time     `json:"lastPlayed,omitempty"`
	DeviceLaunches        map[string]int `json:"deviceLaunches,omitempty"`
}

// Key returns the join key of the view
func (g GameView) Key() GameKey {
	return GameKey{System: g.System, GameID: g.GameID}
}

// HasCover reports whether a box-art file was found for the game
func (g GameView) HasCover() bool {
	return g.CoverPath != ""
}

// SystemGroup holds the ordered games of one system
type SystemGroup struct {
	Name         string     `json:"name"`
	Games        []GameView `json:"games"`
	TotalSeconds int64      `json:"totalSeconds"`
	LaunchCount  int        `json:"launchCount"`
}

// CollectionView is everything the page renderer needs
type CollectionView struct {
	Systems       []SystemGroup `json:"systems"`
	NowPlaying    *GameView     `json:"nowPlaying,omitempty"`
	TotalGames    int           `json:"totalGames"`
	TotalSeconds  int64         `json:"totalSeconds"`
	TotalLaunches int           `json:"totalLaunches"`
	TopSystem     string        `json:"topSystem,omitempty"`
}

// Games returns every game of the collection in page order
func (c CollectionView) Games() []GameView {
	games := make([]GameView, 0, c.TotalGames)
	for _, group := range c.Systems {
		games = append(games, group.Games...)
	}
	return games
}
