package collection

import (
	"testing"
	"time"

	"gameshelf/internal/catalogue"
	"gameshelf/internal/playtime"
	"gameshelf/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(system, id string) models.GameKey {
	return models.GameKey{System: system, GameID: id}
}

func at(unix int64) *time.Time {
	t := time.Unix(unix, 0).UTC()
	return &t
}

func TestBuild_SingleGameWithCover(t *testing.T) {
	records := playtime.Records{
		key("NES", "mario"): {System: "NES", GameID: "mario", LaunchCount: 10, TotalSeconds: 3600},
	}
	assets := catalogue.Assets{
		key("NES", "mario"): {System: "NES", GameID: "mario", FilePath: "/covers/NES/box/mario.png"},
	}

	col := Build(records, assets)

	require.Len(t, col.Systems, 1)
	require.Len(t, col.Systems[0].Games, 1)
	game := col.Systems[0].Games[0]
	assert.Equal(t, int64(360), game.AverageSessionSeconds)
	assert.Equal(t, "/covers/NES/box/mario.png", game.CoverPath)
	assert.Equal(t, "mario", game.DisplayName)
	assert.Nil(t, col.NowPlaying, "no last_played means no now playing section")
}

func TestBuild_JoinCompleteness(t *testing.T) {
	records := playtime.Records{
		key("NES", "mario"):   {System: "NES", GameID: "mario", LaunchCount: 1, TotalSeconds: 10},
		key("NES", "zelda"):   {System: "NES", GameID: "zelda", LaunchCount: 2, TotalSeconds: 20},
		key("GBA", "advance"): {System: "GBA", GameID: "advance"},
	}
	assets := catalogue.Assets{
		key("NES", "mario"):  {System: "NES", GameID: "mario", FilePath: "m.png"},
		key("SNES", "kirby"): {System: "SNES", GameID: "kirby", FilePath: "k.png"},
	}

	col := Build(records, assets)

	seen := map[models.GameKey]int{}
	for _, g := range col.Games() {
		seen[g.Key()]++
	}
	assert.Len(t, seen, 4)
	for k, n := range seen {
		assert.Equal(t, 1, n, "exactly one view for %v", k)
	}
	assert.Equal(t, 4, col.TotalGames)

	kirby := col.Systems[2].Games[0]
	assert.Equal(t, "SNES", kirby.System)
	assert.Zero(t, kirby.LaunchCount)
	assert.Zero(t, kirby.TotalSeconds)
	assert.Zero(t, kirby.AverageSessionSeconds)
	assert.True(t, kirby.HasCover())
}

func TestBuild_Ordering(t *testing.T) {
	records := playtime.Records{
		key("b", "x"): {System: "b", GameID: "x", TotalSeconds: 5},
		key("b", "y"): {System: "b", GameID: "y", TotalSeconds: 50},
		key("b", "a"): {System: "b", GameID: "a", TotalSeconds: 5},
		key("a", "z"): {System: "a", GameID: "z", TotalSeconds: 1},
	}

	col := Build(records, nil)

	require.Len(t, col.Systems, 2)
	assert.Equal(t, "a", col.Systems[0].Name)
	assert.Equal(t, "b", col.Systems[1].Name)

	var ids []string
	for _, g := range col.Systems[1].Games {
		ids = append(ids, g.GameID)
	}
	assert.Equal(t, []string{"y", "a", "x"}, ids)
	assert.Equal(t, int64(60), col.Systems[1].TotalSeconds)
	assert.Equal(t, "b", col.TopSystem)
	assert.Equal(t, int64(61), col.TotalSeconds)
}

func TestBuild_NowPlaying(t *testing.T) {
	records := playtime.Records{
		key("NES", "old"):   {System: "NES", GameID: "old", LastPlayed: at(100)},
		key("SNES", "new"):  {System: "SNES", GameID: "new", LastPlayed: at(300), Name: "Newest"},
		key("SNES", "none"): {System: "SNES", GameID: "none"},
	}

	col := Build(records, nil)
	require.NotNil(t, col.NowPlaying)
	assert.Equal(t, "new", col.NowPlaying.GameID)
	assert.Equal(t, "Newest", col.NowPlaying.DisplayName)
}

func TestBuild_Empty(t *testing.T) {
	col := Build(nil, nil)
	assert.Empty(t, col.Systems)
	assert.Nil(t, col.NowPlaying)
	assert.Equal(t, "", col.TopSystem)
}

func TestAverageSession(t *testing.T) {
	assert.Equal(t, int64(0), AverageSession(3600, 0))
	assert.Equal(t, int64(0), AverageSession(0, 0))
	assert.Equal(t, int64(360), AverageSession(3600, 10))
	assert.Equal(t, int64(3), AverageSession(10, 3))
}

func TestSystemsByPlaytime(t *testing.T) {
	col := models.CollectionView{Systems: []models.SystemGroup{
		{Name: "a", TotalSeconds: 1},
		{Name: "b", TotalSeconds: 9},
		{Name: "c", TotalSeconds: 1},
	}}
	ordered := SystemsByPlaytime(col)
	assert.Equal(t, "b", ordered[0].Name)
	assert.Equal(t, "a", ordered[1].Name)
	assert.Equal(t, "c", ordered[2].Name)
	assert.Equal(t, "a", col.Systems[0].Name, "input is left untouched")
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds int64
		short   string
		long    string
	}{
		{0, "0s", "0 min"},
		{42, "42s", "0 min"},
		{60, "1m", "1 min"},
		{3599, "59m", "59 min"},
		{3600, "1h 0m", "1 hr 0 min"},
		{3900, "1h 5m", "1 hr 5 min"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.short, FormatDuration(tc.seconds))
		assert.Equal(t, tc.long, FormatDurationLong(tc.seconds))
	}
}
