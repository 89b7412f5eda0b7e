package history

import (
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

// WriteTable prints runs as a table, newest first
func WriteTable(w io.Writer, runs []Run, now time.Time) {
	failed := color.New(color.FgRed).SprintFunc()
	degraded := color.New(color.FgYellow).SprintFunc()
	ok := color.New(color.FgGreen).SprintFunc()

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Run", "Started", "Took", "Games", "Systems", "Warnings", "Published", "Status"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)

	for _, r := range runs {
		status := ok("ok")
		switch {
		case r.Error != "":
			status = failed(r.Error)
		case r.Warnings > 0:
			status = degraded("degraded")
		}

		published := "-"
		if r.Published {
			published = strconv.Itoa(r.Transferred) + " sent"
		}

		id := r.ID
		if len(id) > 8 {
			id = id[:8]
		}

		table.Append([]string{
			id,
			humanize.RelTime(r.StartedAt, now, "ago", "from now"),
			r.Duration().Round(time.Millisecond).String(),
			strconv.Itoa(r.Games),
			strconv.Itoa(r.Systems),
			strconv.Itoa(r.Warnings),
			published,
			status,
		})
	}
	table.Render()
}
